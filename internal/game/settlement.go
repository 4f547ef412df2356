package game

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/pencilparty/pencilparty/internal/database"
	"github.com/pencilparty/pencilparty/internal/models"
	"github.com/sirupsen/logrus"
)

// Summary is what a successful finish reports back to the player.
type Summary struct {
	GameID           uuid.UUID     `json:"game_id"`
	Score            int64         `json:"score"`
	Result           models.Result `json:"result"`
	ExperienceGained int64         `json:"experience_gained"`
	CoinsGained      int64         `json:"coins_gained"`
	NewLevel         int           `json:"new_level"`
	TotalExperience  int64         `json:"total_experience"`
	TotalCoins       int64         `json:"total_coins"`
}

// SettledFunc observes a settlement after it has committed.
type SettledFunc func(ctx context.Context, ev models.SettlementEvent)

// Engine applies a finished game's rewards. The record update, the user credit and the
// leaderboard upsert share one transaction.
type Engine struct {
	store database.Store
	log   *logrus.Logger
	now   func() time.Time

	onSettled []SettledFunc
}

func NewEngine(store database.Store, logger *logrus.Logger) *Engine {
	return &Engine{store: store, log: logger, now: time.Now}
}

// OnSettled registers fn to run after every committed settlement. Hooks run in
// registration order, after commit, and cannot undo the settlement.
func (e *Engine) OnSettled(fn SettledFunc) {
	e.onSettled = append(e.onSettled, fn)
}

// Settle finishes rec with u. It returns ErrAlreadyFinished when another settlement got
// there first and ErrSettlementFailed for anything else that aborted the transaction.
func (e *Engine) Settle(ctx context.Context, rec *models.GameRecord, u database.FinishUpdate) (*Summary, error) {
	now := e.now()

	var bal database.Balance
	err := e.store.WithTx(ctx, func(tx database.Tx) error {
		finished, err := tx.FinishGameRecord(ctx, u)
		if err != nil {
			return fmt.Errorf("update game record: %w", err)
		}
		if !finished {
			return ErrAlreadyFinished
		}

		bal, err = tx.CreditUser(ctx, rec.UserID, u.ExperienceGained, u.CoinsGained)
		if err != nil {
			return fmt.Errorf("credit user: %w", err)
		}

		err = tx.UpsertLeaderboard(ctx, models.LeaderboardEntry{
			UserID:     rec.UserID,
			GameType:   rec.GameType,
			RankType:   models.RankAllTime,
			PeriodDate: models.PeriodOf(now),
			Score:      u.Score,
			Duration:   u.Duration,
			Accuracy:   u.Accuracy,
		})
		if err != nil {
			return fmt.Errorf("upsert leaderboard: %w", err)
		}
		return nil
	})
	if errors.Is(err, ErrAlreadyFinished) {
		return nil, err
	}
	if err != nil {
		e.log.WithFields(logrus.Fields{
			"game_id": rec.ID,
			"user_id": rec.UserID,
		}).WithError(err).Error("settlement rolled back")
		return nil, fmt.Errorf("%w: %w", ErrSettlementFailed, err)
	}

	ev := models.SettlementEvent{
		GameID:           rec.ID,
		UserID:           rec.UserID,
		GameType:         rec.GameType,
		Score:            u.Score,
		Result:           u.Result,
		ExperienceGained: u.ExperienceGained,
		CoinsGained:      u.CoinsGained,
		TotalExperience:  bal.Experience,
		TotalCoins:       bal.Coins,
		NewLevel:         bal.Level,
		SettledAt:        now,
	}
	e.log.WithFields(logrus.Fields{
		"game_id":    ev.GameID,
		"user_id":    ev.UserID,
		"game_type":  ev.GameType,
		"score":      ev.Score,
		"experience": ev.ExperienceGained,
		"coins":      ev.CoinsGained,
	}).Info("game settled")

	hookCtx := context.WithoutCancel(ctx)
	for _, fn := range e.onSettled {
		fn(hookCtx, ev)
	}

	return &Summary{
		GameID:           rec.ID,
		Score:            u.Score,
		Result:           u.Result,
		ExperienceGained: u.ExperienceGained,
		CoinsGained:      u.CoinsGained,
		NewLevel:         bal.Level,
		TotalExperience:  bal.Experience,
		TotalCoins:       bal.Coins,
	}, nil
}
