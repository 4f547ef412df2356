package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/pencilparty/pencilparty/internal/auth"
	"github.com/pencilparty/pencilparty/internal/client"
	"github.com/pencilparty/pencilparty/internal/database"
	"github.com/pencilparty/pencilparty/internal/database/memory"
	"github.com/pencilparty/pencilparty/internal/game"
	"github.com/pencilparty/pencilparty/internal/handlers"
	"github.com/pencilparty/pencilparty/internal/leaderboard"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDispatch(t *testing.T) {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	issuer, err := auth.NewEphemeralIssuer(time.Hour, time.Hour)
	require.NoError(t, err)
	mem := memory.New(database.DefaultGameTypes...)
	srv := &handlers.Server{
		Store:   mem,
		Issuer:  issuer,
		Tracker: game.NewTracker(mem, game.NewEngine(mem, logger), logger),
		Board:   leaderboard.NewService(mem, nil, time.Minute, logger),
		Log:     logger,
	}
	ts := httptest.NewServer(srv.Routes())
	defer ts.Close()

	c := client.New(client.Options{BaseURL: ts.URL + "/api", Logger: logger})
	ctx := context.Background()
	run := func(args ...string) []byte {
		t.Helper()
		var out bytes.Buffer
		require.NoError(t, dispatch(ctx, c, args[0], args[1:], &out))
		return out.Bytes()
	}

	run("login", "-openid", "wx-cli", "-nickname", "Cli")

	var settled client.Settlement
	require.NoError(t, json.Unmarshal(run("play", "-game", "sudoku", "-score", "150", "-result", "win", "-accuracy", "0.95"), &settled))
	assert.EqualValues(t, 75, settled.ExperienceGained)

	var board client.Leaderboard
	require.NoError(t, json.Unmarshal(run("leaderboard", "-game", "sudoku"), &board))
	require.Len(t, board.Entries, 1)
	assert.EqualValues(t, 150, board.Entries[0].Score)

	assert.Error(t, dispatch(ctx, c, "login", nil, io.Discard), "openid is required")
	assert.Error(t, dispatch(ctx, c, "finish", []string{"-id", "nope"}, io.Discard))
	assert.Error(t, dispatch(ctx, c, "dance", nil, io.Discard))
}
