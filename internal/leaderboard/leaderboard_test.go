package leaderboard

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/pencilparty/pencilparty/internal/cache"
	"github.com/pencilparty/pencilparty/internal/database"
	"github.com/pencilparty/pencilparty/internal/database/memory"
	"github.com/pencilparty/pencilparty/internal/models"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func seed(t *testing.T, s *memory.Store, gameType string, scores ...int64) []uuid.UUID {
	t.Helper()
	ctx := context.Background()
	ids := make([]uuid.UUID, 0, len(scores))
	for _, score := range scores {
		u := &models.User{OpenID: uuid.NewString(), Nickname: "p"}
		require.NoError(t, s.CreateUser(ctx, u))
		require.NoError(t, s.WithTx(ctx, func(tx database.Tx) error {
			return tx.UpsertLeaderboard(ctx, models.LeaderboardEntry{
				UserID: u.ID, GameType: gameType, RankType: models.RankAllTime, PeriodDate: time.Now(), Score: score,
			})
		}))
		ids = append(ids, u.ID)
	}
	return ids
}

func TestClampLimit(t *testing.T) {
	assert.Equal(t, DefaultLimit, ClampLimit(0))
	assert.Equal(t, DefaultLimit, ClampLimit(-3))
	assert.Equal(t, 7, ClampLimit(7))
	assert.Equal(t, MaxLimit, ClampLimit(1000))
}

func TestTopReadsThroughCache(t *testing.T) {
	mr := miniredis.RunT(t)
	rc := cache.New(redis.NewClient(&redis.Options{Addr: mr.Addr()}), "")
	store := memory.New(database.DefaultGameTypes...)
	seed(t, store, "gomoku", 10, 30, 20)

	svc := NewService(store, rc, time.Minute, quietLogger())
	ctx := context.Background()

	top, err := svc.Top(ctx, "gomoku", "", 2)
	require.NoError(t, err)
	require.Len(t, top, 2)
	assert.EqualValues(t, 30, top[0].Score)
	assert.True(t, mr.Exists(cache.LeaderboardKey("gomoku", models.RankAllTime, 0, 2)))

	// a new high score is invisible until the cached page is invalidated
	seed(t, store, "gomoku", 99)
	top, err = svc.Top(ctx, "gomoku", models.RankAllTime, 2)
	require.NoError(t, err)
	assert.EqualValues(t, 30, top[0].Score)

	require.NoError(t, rc.InvalidateLeaderboard(ctx, "gomoku"))
	top, err = svc.Top(ctx, "gomoku", models.RankAllTime, 2)
	require.NoError(t, err)
	assert.EqualValues(t, 99, top[0].Score)
}

// gatedStore holds the first TopLeaderboard call until released.
type gatedStore struct {
	*memory.Store
	once    sync.Once
	entered chan struct{}
	release chan struct{}
}

func (g *gatedStore) TopLeaderboard(ctx context.Context, lq database.LeaderboardQuery) ([]models.LeaderboardEntry, error) {
	entries, err := g.Store.TopLeaderboard(ctx, lq)
	g.once.Do(func() {
		close(g.entered)
		<-g.release
	})
	return entries, err
}

func TestLateCacheWriteIsNotServed(t *testing.T) {
	mr := miniredis.RunT(t)
	rc := cache.New(redis.NewClient(&redis.Options{Addr: mr.Addr()}), "")
	store := &gatedStore{
		Store:   memory.New(database.DefaultGameTypes...),
		entered: make(chan struct{}),
		release: make(chan struct{}),
	}
	seed(t, store.Store, "gomoku", 30)
	svc := NewService(store, rc, time.Minute, quietLogger())
	ctx := context.Background()

	// a read loads the board, then a settlement commits and invalidates before the read
	// writes its page
	slow := make(chan []models.LeaderboardEntry, 1)
	go func() {
		top, err := svc.Top(ctx, "gomoku", "", 5)
		assert.NoError(t, err)
		slow <- top
	}()
	<-store.entered
	seed(t, store.Store, "gomoku", 99)
	require.NoError(t, rc.InvalidateLeaderboard(ctx, "gomoku"))
	close(store.release)
	assert.EqualValues(t, 30, (<-slow)[0].Score)

	top, err := svc.Top(ctx, "gomoku", "", 5)
	require.NoError(t, err)
	require.Len(t, top, 2)
	assert.EqualValues(t, 99, top[0].Score)
}

func TestTopSurvivesCacheOutage(t *testing.T) {
	mr := miniredis.RunT(t)
	rc := cache.New(redis.NewClient(&redis.Options{Addr: mr.Addr()}), "")
	store := memory.New(database.DefaultGameTypes...)
	seed(t, store, "sudoku", 5)
	mr.Close()

	svc := NewService(store, rc, time.Minute, quietLogger())
	top, err := svc.Top(context.Background(), "sudoku", "", 0)
	require.NoError(t, err)
	assert.Len(t, top, 1)
}

func TestRankOf(t *testing.T) {
	store := memory.New(database.DefaultGameTypes...)
	ids := seed(t, store, "gomoku", 50, 70, 50, 90)
	svc := NewService(store, nil, 0, quietLogger())

	r, err := svc.RankOf(context.Background(), ids[0], "gomoku", "")
	require.NoError(t, err)
	require.NotNil(t, r)
	assert.Equal(t, 3, *r)

	r, err = svc.RankOf(context.Background(), uuid.New(), "gomoku", "")
	require.NoError(t, err)
	assert.Nil(t, r)
}

func TestHubPushesToWatchers(t *testing.T) {
	store := memory.New(database.DefaultGameTypes...)
	hub := NewHub(NewService(store, nil, 0, quietLogger()), 10, quietLogger())

	gomoku := hub.Subscribe("gomoku")
	all := hub.Subscribe("")
	sudoku := hub.Subscribe("sudoku")
	assert.Equal(t, 3, hub.Subscribers())

	seed(t, store, "gomoku", 42)
	hub.Notify(context.Background(), "gomoku")

	for _, sub := range []*Subscriber{gomoku, all} {
		select {
		case upd := <-sub.C:
			assert.Equal(t, "leaderboard", upd.Type)
			assert.Equal(t, sub.GameType, upd.GameType)
			require.Len(t, upd.Entries, 1)
			assert.EqualValues(t, 42, upd.Entries[0].Score)
		default:
			t.Fatalf("no update for %q", sub.GameType)
		}
	}
	select {
	case <-sudoku.C:
		t.Fatal("sudoku watcher should not be notified")
	default:
	}

	hub.Unsubscribe(sudoku)
	_, open := <-sudoku.C
	assert.False(t, open)
	hub.Unsubscribe(sudoku)
	assert.Equal(t, 2, hub.Subscribers())
}

func TestHubDropsSlowSubscriber(t *testing.T) {
	store := memory.New(database.DefaultGameTypes...)
	hub := NewHub(NewService(store, nil, 0, quietLogger()), 10, quietLogger())
	sub := hub.Subscribe("gomoku")

	for i := 0; i < cap(sub.c)+1; i++ {
		hub.Notify(context.Background(), "gomoku")
	}
	assert.Equal(t, 0, hub.Subscribers())

	n := 0
	for range sub.C {
		n++
	}
	assert.Equal(t, cap(sub.c), n, "buffered updates are still delivered before close")
}
