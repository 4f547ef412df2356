package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/pencilparty/pencilparty/internal/cache"
	"github.com/pencilparty/pencilparty/internal/models"
)

// PopularWindow is how far back popular-game counts look.
const PopularWindow = 7 * 24 * time.Hour

// PopularLimit is how many games the warmer caches; readers slice what they need.
const PopularLimit = 20

type PopularSource interface {
	PopularGames(ctx context.Context, since time.Time, limit int) ([]models.PopularGame, error)
}

type PopularCache interface {
	SetJSON(ctx context.Context, key string, v interface{}, ttl time.Duration) error
}

// PopularWarmer recomputes the popular-games list and stores it under cache.PopularGamesKey.
type PopularWarmer struct {
	Source PopularSource
	Cache  PopularCache
	// TTL should outlive the refresh interval so readers never see a gap.
	TTL time.Duration
	Now func() time.Time
}

func (w *PopularWarmer) Run(ctx context.Context) error {
	now := time.Now
	if w.Now != nil {
		now = w.Now
	}
	games, err := w.Source.PopularGames(ctx, now().Add(-PopularWindow), PopularLimit)
	if err != nil {
		return fmt.Errorf("load popular games: %w", err)
	}
	return w.Cache.SetJSON(ctx, cache.PopularGamesKey, games, w.TTL)
}
