// Package leaderboard serves best-score rankings: top-N reads with a read-through cache,
// rank lookups, and a live feed pushed after settlements.
package leaderboard

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/pencilparty/pencilparty/internal/cache"
	"github.com/pencilparty/pencilparty/internal/database"
	"github.com/pencilparty/pencilparty/internal/models"
	"github.com/sirupsen/logrus"
)

const (
	DefaultLimit = 50
	MaxLimit     = 100
)

// ClampLimit maps a requested page size into [1, MaxLimit], using DefaultLimit for n <= 0.
func ClampLimit(n int) int {
	switch {
	case n <= 0:
		return DefaultLimit
	case n > MaxLimit:
		return MaxLimit
	}
	return n
}

// Cache is the subset of the Redis cache the service reads through.
type Cache interface {
	GetJSON(ctx context.Context, key string, dst interface{}) error
	SetJSON(ctx context.Context, key string, v interface{}, ttl time.Duration) error
	LeaderboardGeneration(ctx context.Context, gameType string) (int64, error)
}

type Service struct {
	store database.Store
	cache Cache
	ttl   time.Duration
	log   *logrus.Logger
}

// NewService builds a Service. c may be nil, in which case every read goes to the store.
func NewService(store database.Store, c Cache, ttl time.Duration, logger *logrus.Logger) *Service {
	return &Service{store: store, cache: c, ttl: ttl, log: logger}
}

// Top returns the highest entries for gameType ("" for every game) under rankType.
// Cache failures fall back to the store.
func (s *Service) Top(ctx context.Context, gameType, rankType string, limit int) ([]models.LeaderboardEntry, error) {
	if rankType == "" {
		rankType = models.RankAllTime
	}
	limit = ClampLimit(limit)

	useCache := s.cache != nil
	var key string
	if useCache {
		gen, err := s.cache.LeaderboardGeneration(ctx, gameType)
		if err != nil {
			s.log.WithError(err).Warn("leaderboard cache generation read failed")
			useCache = false
		}
		key = cache.LeaderboardKey(gameType, rankType, gen, limit)
	}
	if useCache {
		var cached []models.LeaderboardEntry
		err := s.cache.GetJSON(ctx, key, &cached)
		if err == nil {
			return cached, nil
		}
		if !errors.Is(err, cache.ErrMiss) {
			s.log.WithError(err).Warn("leaderboard cache read failed")
		}
	}

	entries, err := s.load(ctx, gameType, rankType, limit)
	if err != nil {
		return nil, err
	}
	if useCache {
		if err := s.cache.SetJSON(ctx, key, entries, s.ttl); err != nil {
			s.log.WithError(err).Warn("leaderboard cache write failed")
		}
	}
	return entries, nil
}

func (s *Service) load(ctx context.Context, gameType, rankType string, limit int) ([]models.LeaderboardEntry, error) {
	return s.store.TopLeaderboard(ctx, database.LeaderboardQuery{GameType: gameType, RankType: rankType, Limit: limit})
}

// RankOf is 1 + the number of entries with a strictly greater score, or nil when the user has
// no entry. It always reads the store.
func (s *Service) RankOf(ctx context.Context, userID uuid.UUID, gameType, rankType string) (*int, error) {
	if rankType == "" {
		rankType = models.RankAllTime
	}
	return s.store.RankOf(ctx, userID, gameType, rankType)
}
