package client_test

import (
	"context"
	"io"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/pencilparty/pencilparty/internal/api"
	"github.com/pencilparty/pencilparty/internal/auth"
	"github.com/pencilparty/pencilparty/internal/client"
	"github.com/pencilparty/pencilparty/internal/database"
	"github.com/pencilparty/pencilparty/internal/database/memory"
	"github.com/pencilparty/pencilparty/internal/game"
	"github.com/pencilparty/pencilparty/internal/handlers"
	"github.com/pencilparty/pencilparty/internal/leaderboard"
	"github.com/pencilparty/pencilparty/internal/models"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func startServer(t *testing.T) (string, *clock) {
	t.Helper()
	logger := logrus.New()
	logger.SetOutput(io.Discard)

	clk := &clock{t: time.Now()}
	issuer, err := auth.NewHMACIssuer([]byte("client-test-secret"), time.Hour, 24*time.Hour)
	require.NoError(t, err)
	issuer.WithClock(clk.now)

	mem := memory.New(database.DefaultGameTypes...)
	engine := game.NewEngine(mem, logger)
	srv := &handlers.Server{
		Store:   mem,
		Issuer:  issuer,
		Tracker: game.NewTracker(mem, engine, logger),
		Board:   leaderboard.NewService(mem, nil, time.Minute, logger),
		Log:     logger,
	}
	ts := httptest.NewServer(srv.Routes())
	t.Cleanup(ts.Close)
	return ts.URL + "/api", clk
}

func TestClientAgainstServer(t *testing.T) {
	base, clk := startServer(t)
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	tokens := client.NewMemoryTokens()
	c := client.New(client.Options{BaseURL: base, Tokens: tokens, Logger: logger, Platform: "test"})
	ctx := context.Background()

	u, err := c.Login(ctx, client.LoginRequest{OpenID: "wx-client", Nickname: "Cli"})
	require.NoError(t, err)
	assert.Equal(t, "Cli", u.Nickname)
	assert.True(t, c.LoggedIn())

	types, err := c.GameTypes(ctx)
	require.NoError(t, err)
	assert.Len(t, types, len(database.DefaultGameTypes))

	started, err := c.StartGame(ctx, "gomoku", nil)
	require.NoError(t, err)
	sum, err := c.FinishGame(ctx, client.FinishRequest{GameID: started.GameID, Score: 150, Duration: 90, Result: models.ResultWin, Accuracy: 0.95})
	require.NoError(t, err)
	assert.EqualValues(t, 75, sum.ExperienceGained)
	assert.EqualValues(t, 33, sum.CoinsGained)

	_, err = c.FinishGame(ctx, client.FinishRequest{GameID: started.GameID, Result: models.ResultWin})
	assert.True(t, client.HasCode(err, api.CodeGameAlreadyFinished))

	before, err := tokens.Load()
	require.NoError(t, err)

	// the access token lapses; the next call refreshes transparently
	clk.advance(2 * time.Hour)
	me, err := c.Me(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 75, me.Experience)
	after, err := tokens.Load()
	require.NoError(t, err)
	assert.NotEqual(t, before.AccessToken, after.AccessToken)
	require.NotNil(t, after.User)
	assert.EqualValues(t, 75, after.User.Experience)

	stats, err := c.Stats(ctx, "gomoku")
	require.NoError(t, err)
	require.Len(t, stats.Games, 1)
	assert.Equal(t, 1, stats.Overall.TotalWins)

	board, err := c.Leaderboard(ctx, client.LeaderboardQuery{GameType: "gomoku"})
	require.NoError(t, err)
	require.Len(t, board.Entries, 1)
	require.NotNil(t, board.UserRank)
	assert.Equal(t, 1, *board.UserRank)

	page, err := c.Records(ctx, "", 10, 0)
	require.NoError(t, err)
	assert.Len(t, page.Records, 1)

	require.NoError(t, c.Logout(ctx))
	assert.False(t, c.LoggedIn())

	_, err = c.StartGame(ctx, "gomoku", nil)
	assert.True(t, client.HasCode(err, api.CodeTokenMissing))
}

func TestClientSessionExpiresAfterRefreshWindow(t *testing.T) {
	base, clk := startServer(t)
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	c := client.New(client.Options{BaseURL: base, Logger: logger})
	ctx := context.Background()

	_, err := c.Login(ctx, client.LoginRequest{OpenID: "wx-late"})
	require.NoError(t, err)

	clk.advance(48 * time.Hour)
	_, err = c.Me(ctx)
	assert.ErrorIs(t, err, client.ErrSessionExpired)
	assert.False(t, c.LoggedIn())
}
