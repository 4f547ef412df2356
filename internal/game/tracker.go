// Package game tracks the lifecycle of a single game attempt, from start to a one-time
// finish that settles rewards.
package game

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/pencilparty/pencilparty/internal/database"
	"github.com/pencilparty/pencilparty/internal/models"
	"github.com/pencilparty/pencilparty/internal/reward"
	"github.com/sirupsen/logrus"
)

// StartRequest opens a new attempt.
type StartRequest struct {
	UserID     uuid.UUID
	GameType   string
	RoomID     *string
	DeviceInfo string
}

// FinishRequest closes an attempt. Zero values are the defaults: score 0, duration 0,
// accuracy 0, combo 0, and an empty Result means a loss.
type FinishRequest struct {
	GameID   uuid.UUID
	UserID   uuid.UUID
	Score    int64
	Duration int64
	Result   models.Result
	Accuracy float64
	ComboMax int
	Details  models.Details
}

// Upper bounds on submitted finish values. Rewards scale with score, so these also cap
// what a single settlement can credit.
const (
	MaxScore    = 100_000_000
	MaxDuration = 7 * 24 * 60 * 60
	MaxCombo    = 1_000_000
)

// Tracker owns the playing -> finished transition of game records.
type Tracker struct {
	store  database.Store
	engine *Engine
	log    *logrus.Logger
	now    func() time.Time
}

func NewTracker(store database.Store, engine *Engine, logger *logrus.Logger) *Tracker {
	return &Tracker{store: store, engine: engine, log: logger, now: time.Now}
}

// Start creates a record in the playing state. Nothing is credited until Finish.
func (t *Tracker) Start(ctx context.Context, req StartRequest) (*models.GameRecord, error) {
	if _, err := t.store.GetActiveGameType(ctx, req.GameType); err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return nil, ErrInvalidGameType
		}
		return nil, fmt.Errorf("lookup game type: %w", err)
	}

	rec := &models.GameRecord{
		UserID:   req.UserID,
		GameType: req.GameType,
		RoomID:   req.RoomID,
		Result:   models.ResultPlaying,
		Details: models.Details{
			"started_at":  t.now().UTC().Format(time.RFC3339),
			"device_info": req.DeviceInfo,
		},
	}
	if err := t.store.CreateGameRecord(ctx, rec); err != nil {
		return nil, fmt.Errorf("create game record: %w", err)
	}

	t.log.WithFields(logrus.Fields{
		"game_id":   rec.ID,
		"user_id":   rec.UserID,
		"game_type": rec.GameType,
	}).Debug("game started")
	return rec, nil
}

// Finish validates req, checks ownership and state, computes rewards and settles.
func (t *Tracker) Finish(ctx context.Context, req FinishRequest) (*Summary, error) {
	if err := normalize(&req); err != nil {
		return nil, err
	}

	rec, err := t.store.GetGameRecord(ctx, req.GameID)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return nil, ErrRecordNotFound
		}
		return nil, fmt.Errorf("load game record: %w", err)
	}
	if rec.UserID != req.UserID {
		return nil, ErrPermissionDenied
	}
	if rec.Result != models.ResultPlaying {
		return nil, ErrAlreadyFinished
	}

	gained := reward.For(reward.Outcome{Score: req.Score, Result: req.Result, Accuracy: req.Accuracy})
	details := rec.Details.Merge(req.Details).Merge(models.Details{
		"finished_at": t.now().UTC().Format(time.RFC3339),
	})

	return t.engine.Settle(ctx, rec, database.FinishUpdate{
		ID:               rec.ID,
		Score:            req.Score,
		Duration:         req.Duration,
		Result:           req.Result,
		Accuracy:         req.Accuracy,
		ComboMax:         req.ComboMax,
		ExperienceGained: gained.Experience,
		CoinsGained:      gained.Coins,
		Details:          details,
	})
}

// normalize applies defaults and rejects values a settlement must never see.
func normalize(req *FinishRequest) error {
	if req.GameID == uuid.Nil {
		return fmt.Errorf("%w: game_id is required", ErrInvalidInput)
	}
	if req.Result == "" {
		req.Result = models.ResultLose
	}
	if !req.Result.Finished() {
		return fmt.Errorf("%w: result must be win, lose or draw", ErrInvalidInput)
	}
	if req.Score < 0 || req.Duration < 0 || req.ComboMax < 0 {
		return fmt.Errorf("%w: score, duration and combo_max must not be negative", ErrInvalidInput)
	}
	if req.Score > MaxScore {
		return fmt.Errorf("%w: score must not exceed %d", ErrInvalidInput, MaxScore)
	}
	if req.Duration > MaxDuration {
		return fmt.Errorf("%w: duration must not exceed %d seconds", ErrInvalidInput, MaxDuration)
	}
	if req.ComboMax > MaxCombo {
		return fmt.Errorf("%w: combo_max must not exceed %d", ErrInvalidInput, MaxCombo)
	}
	switch {
	case math.IsNaN(req.Accuracy) || req.Accuracy < 0:
		req.Accuracy = 0
	case req.Accuracy > 1:
		req.Accuracy = 1
	}
	return nil
}
