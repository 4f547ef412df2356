package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/google/uuid"
	"github.com/pencilparty/pencilparty/internal/api"
	"github.com/pencilparty/pencilparty/internal/auth"
	"github.com/pencilparty/pencilparty/internal/cache"
	"github.com/pencilparty/pencilparty/internal/database"
	"github.com/pencilparty/pencilparty/internal/database/memory"
	"github.com/pencilparty/pencilparty/internal/game"
	"github.com/pencilparty/pencilparty/internal/leaderboard"
	"github.com/pencilparty/pencilparty/internal/middleware"
	"github.com/pencilparty/pencilparty/internal/models"
	"github.com/redis/go-redis/v9"
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

type testServer struct {
	*httptest.Server
	store *memory.Store
	clock *clock
	srv   *Server
}

type option func(*Server)

func newTestServer(t *testing.T, opts ...option) *testServer {
	t.Helper()
	logger := logrus.New()
	logger.SetOutput(io.Discard)

	clk := &clock{t: time.Now()}
	issuer, err := auth.NewHMACIssuer([]byte("handler-test-secret"), time.Hour, 7*24*time.Hour)
	require.NoError(t, err)
	issuer.WithClock(clk.now)

	mem := memory.New(database.DefaultGameTypes...)
	engine := game.NewEngine(mem, logger)
	board := leaderboard.NewService(mem, nil, time.Minute, logger)
	hub := leaderboard.NewHub(board, 10, logger)
	engine.OnSettled(func(ctx context.Context, ev models.SettlementEvent) {
		hub.Notify(ctx, ev.GameType)
	})

	srv := &Server{
		Store:      mem,
		Issuer:     issuer,
		Tracker:    game.NewTracker(mem, engine, logger),
		Board:      board,
		Hub:        hub,
		CatalogTTL: time.Minute,
		Version:    "test",
		Log:        logger,
	}
	for _, o := range opts {
		o(srv)
	}

	ts := httptest.NewServer(srv.Routes())
	t.Cleanup(ts.Close)
	return &testServer{Server: ts, store: mem, clock: clk, srv: srv}
}

func (ts *testServer) do(t *testing.T, method, path, token string, body interface{}) (int, api.Envelope) {
	t.Helper()
	var rd io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		rd = strings.NewReader(b)
	case []byte:
		rd = bytes.NewReader(b)
	default:
		raw, err := json.Marshal(b)
		require.NoError(t, err)
		rd = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, ts.URL+path, rd)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := ts.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var env api.Envelope
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&env))
	return resp.StatusCode, env
}

type session struct {
	AccessToken  string      `json:"accessToken"`
	RefreshToken string      `json:"refreshToken"`
	User         models.User `json:"user"`
}

func (ts *testServer) login(t *testing.T, openID, nickname string) session {
	t.Helper()
	status, env := ts.do(t, http.MethodPost, "/api/auth/login", "", map[string]string{"openid": openID, "nickname": nickname})
	require.Equal(t, http.StatusOK, status, env.Code)
	var s session
	require.NoError(t, json.Unmarshal(env.Data, &s))
	return s
}

func (ts *testServer) startGame(t *testing.T, token, gameType string) uuid.UUID {
	t.Helper()
	status, env := ts.do(t, http.MethodPost, "/api/games/start", token, map[string]string{"game_type": gameType})
	require.Equal(t, http.StatusOK, status, env.Code)
	var out startResponse
	require.NoError(t, json.Unmarshal(env.Data, &out))
	return out.GameID
}

func (ts *testServer) finish(t *testing.T, token string, id uuid.UUID, score int64, result string) (int, api.Envelope) {
	t.Helper()
	return ts.do(t, http.MethodPost, "/api/games/finish", token, map[string]interface{}{
		"game_id": id, "score": score, "duration": 60, "result": result, "accuracy": 0.95, "combo_max": 3,
	})
}

func TestLoginRegistersAndUpdates(t *testing.T) {
	ts := newTestServer(t)

	first := ts.login(t, "wx-1", "Ann")
	assert.NotEmpty(t, first.AccessToken)
	assert.NotEmpty(t, first.RefreshToken)
	assert.Equal(t, "Ann", first.User.Nickname)
	assert.Equal(t, defaultAvatar, first.User.Avatar)
	assert.Equal(t, 1, first.User.Level)

	second := ts.login(t, "wx-1", "Annie")
	assert.Equal(t, first.User.ID, second.User.ID)
	assert.Equal(t, "Annie", second.User.Nickname)
	assert.NotNil(t, second.User.LastLoginAt)

	anon := ts.login(t, "wx-2", "")
	assert.Equal(t, defaultNickname, anon.User.Nickname)

	status, env := ts.do(t, http.MethodPost, "/api/auth/login", "", map[string]string{"openid": "  "})
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, api.CodeOpenIDMissing, env.Code)
}

func TestRefresh(t *testing.T) {
	ts := newTestServer(t)
	s := ts.login(t, "wx-r", "Rae")

	status, env := ts.do(t, http.MethodPost, "/api/auth/refresh", "", map[string]string{"refreshToken": s.RefreshToken})
	require.Equal(t, http.StatusOK, status)
	var rotated struct {
		AccessToken  string         `json:"accessToken"`
		RefreshToken string         `json:"refreshToken"`
		User         models.Summary `json:"user"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &rotated))
	assert.Equal(t, s.User.ID, rotated.User.ID)

	status, _ = ts.do(t, http.MethodGet, "/api/auth/me", rotated.AccessToken, nil)
	assert.Equal(t, http.StatusOK, status)

	status, env = ts.do(t, http.MethodPost, "/api/auth/refresh", "", map[string]string{"refreshToken": s.AccessToken})
	assert.Equal(t, http.StatusForbidden, status)
	assert.Equal(t, api.CodeInvalidRefreshToken, env.Code)

	status, env = ts.do(t, http.MethodPost, "/api/auth/refresh", "", map[string]string{})
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, api.CodeRefreshTokenMissing, env.Code)

	ts.clock.advance(8 * 24 * time.Hour)
	status, env = ts.do(t, http.MethodPost, "/api/auth/refresh", "", map[string]string{"refreshToken": rotated.RefreshToken})
	assert.Equal(t, http.StatusUnauthorized, status)
	assert.Equal(t, api.CodeRefreshTokenExpired, env.Code)
}

func TestAccessTokenExpires(t *testing.T) {
	ts := newTestServer(t)
	s := ts.login(t, "wx-e", "Eve")

	ts.clock.advance(2 * time.Hour)
	status, env := ts.do(t, http.MethodGet, "/api/auth/me", s.AccessToken, nil)
	assert.Equal(t, http.StatusUnauthorized, status)
	assert.Equal(t, api.CodeTokenExpired, env.Code)
}

func TestUpdateProfile(t *testing.T) {
	ts := newTestServer(t)
	s := ts.login(t, "wx-p", "Pat")

	for name, body := range map[string]map[string]interface{}{
		"blank nickname": {"nickname": "   "},
		"long nickname":  {"nickname": strings.Repeat("x", 51)},
		"bad gender":     {"gender": "other"},
		"long signature": {"signature": strings.Repeat("s", 201)},
		"bad birthday":   {"birthday": "yesterday"},
	} {
		t.Run(name, func(t *testing.T) {
			status, env := ts.do(t, http.MethodPut, "/api/auth/profile", s.AccessToken, body)
			assert.Equal(t, http.StatusBadRequest, status)
			assert.Equal(t, api.CodeValidation, env.Code)
		})
	}

	status, env := ts.do(t, http.MethodPut, "/api/auth/profile", s.AccessToken, map[string]interface{}{
		"nickname":  " Patsy ",
		"gender":    "female",
		"birthday":  "1999-04-01",
		"signature": "hi",
		"preferences": map[string]interface{}{
			"favorite_games": []string{"gomoku"},
			"sound_enabled":  false,
		},
	})
	require.Equal(t, http.StatusOK, status, env.Code)
	var out struct {
		User models.User `json:"user"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &out))
	assert.Equal(t, "Patsy", out.User.Nickname)
	assert.Equal(t, "female", out.User.Gender)
	require.NotNil(t, out.User.Birthday)
	assert.Equal(t, 1999, out.User.Birthday.Year())
	assert.Equal(t, []string{"gomoku"}, out.User.Preferences.FavoriteGames)
	assert.False(t, out.User.Preferences.SoundEnabled)
	assert.True(t, out.User.Preferences.VibrationEnabled)
}

func TestDeleteAccountLocksOut(t *testing.T) {
	ts := newTestServer(t)
	s := ts.login(t, "wx-d", "Dee")

	status, _ := ts.do(t, http.MethodDelete, "/api/auth/account", s.AccessToken, nil)
	require.Equal(t, http.StatusOK, status)

	status, env := ts.do(t, http.MethodGet, "/api/auth/me", s.AccessToken, nil)
	assert.Equal(t, http.StatusUnauthorized, status)
	assert.Equal(t, api.CodeUserBanned, env.Code)

	status, env = ts.do(t, http.MethodPost, "/api/auth/login", "", map[string]string{"openid": "wx-d"})
	assert.Equal(t, http.StatusUnauthorized, status)
	assert.Equal(t, api.CodeUserBanned, env.Code)

	status, env = ts.do(t, http.MethodPost, "/api/auth/refresh", "", map[string]string{"refreshToken": s.RefreshToken})
	assert.Equal(t, http.StatusUnauthorized, status)
	assert.Equal(t, api.CodeUserBanned, env.Code)
}

func TestLogoutNeedsNoToken(t *testing.T) {
	ts := newTestServer(t)
	status, env := ts.do(t, http.MethodPost, "/api/auth/logout", "", nil)
	assert.Equal(t, http.StatusOK, status)
	assert.True(t, env.Success)
}

func TestGameLifecycle(t *testing.T) {
	ts := newTestServer(t)
	s := ts.login(t, "wx-g", "Gus")

	status, env := ts.do(t, http.MethodPost, "/api/games/start", s.AccessToken, map[string]string{})
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, api.CodeGameTypeMissing, env.Code)

	status, env = ts.do(t, http.MethodPost, "/api/games/start", s.AccessToken, map[string]string{"game_type": "chess"})
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, api.CodeInvalidGameType, env.Code)

	status, env = ts.do(t, http.MethodPost, "/api/games/start", "", map[string]string{"game_type": "gomoku"})
	assert.Equal(t, http.StatusUnauthorized, status)
	assert.Equal(t, api.CodeTokenMissing, env.Code)

	id := ts.startGame(t, s.AccessToken, "gomoku")

	status, env = ts.finish(t, s.AccessToken, id, 150, "win")
	require.Equal(t, http.StatusOK, status, env.Message)
	var sum game.Summary
	require.NoError(t, json.Unmarshal(env.Data, &sum))
	assert.Equal(t, id, sum.GameID)
	assert.EqualValues(t, 75, sum.ExperienceGained)
	assert.EqualValues(t, 33, sum.CoinsGained)
	assert.Equal(t, 1, sum.NewLevel)

	status, env = ts.finish(t, s.AccessToken, id, 999, "win")
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, api.CodeGameAlreadyFinished, env.Code)

	u, err := ts.store.GetUserByID(context.Background(), s.User.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 75, u.Experience, "second finish credits nothing")
}

func TestFinishRejections(t *testing.T) {
	ts := newTestServer(t)
	owner := ts.login(t, "wx-o", "Owner")
	other := ts.login(t, "wx-x", "Other")
	id := ts.startGame(t, owner.AccessToken, "sudoku")

	status, env := ts.finish(t, other.AccessToken, id, 10, "win")
	assert.Equal(t, http.StatusForbidden, status)
	assert.Equal(t, api.CodePermissionDenied, env.Code)

	status, env = ts.finish(t, owner.AccessToken, uuid.New(), 10, "win")
	assert.Equal(t, http.StatusForbidden, status)
	assert.Equal(t, api.CodePermissionDenied, env.Code)

	status, env = ts.finish(t, owner.AccessToken, id, 10, "playing")
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, api.CodeValidation, env.Code)

	status, env = ts.finish(t, owner.AccessToken, id, -5, "win")
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, api.CodeValidation, env.Code)

	status, env = ts.finish(t, owner.AccessToken, id, game.MaxScore+1, "win")
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, api.CodeValidation, env.Code)

	status, env = ts.do(t, http.MethodPost, "/api/games/finish", owner.AccessToken, map[string]string{})
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, api.CodeGameIDMissing, env.Code)

	status, env = ts.do(t, http.MethodPost, "/api/games/finish", owner.AccessToken, map[string]string{"game_id": "nope"})
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, api.CodeValidation, env.Code)

	rec, err := ts.store.GetGameRecord(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, models.ResultPlaying, rec.Result, "rejected finishes leave the record open")
}

func TestRecordsAndStats(t *testing.T) {
	ts := newTestServer(t)
	s := ts.login(t, "wx-s", "Sam")

	for i := 0; i < 3; i++ {
		id := ts.startGame(t, s.AccessToken, "gomoku")
		status, _ := ts.finish(t, s.AccessToken, id, int64(100+i*50), "win")
		require.Equal(t, http.StatusOK, status)
	}
	id := ts.startGame(t, s.AccessToken, "hangman")
	status, _ := ts.finish(t, s.AccessToken, id, 20, "lose")
	require.Equal(t, http.StatusOK, status)

	status, env := ts.do(t, http.MethodGet, "/api/games/records?limit=2", s.AccessToken, nil)
	require.Equal(t, http.StatusOK, status)
	var page struct {
		Records    []models.GameRecord `json:"records"`
		Pagination pagination          `json:"pagination"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &page))
	assert.Len(t, page.Records, 2)
	assert.True(t, page.Pagination.HasMore)

	status, env = ts.do(t, http.MethodGet, "/api/games/records?game_type=gomoku&offset=2", s.AccessToken, nil)
	require.Equal(t, http.StatusOK, status)
	require.NoError(t, json.Unmarshal(env.Data, &page))
	assert.Len(t, page.Records, 1)
	assert.False(t, page.Pagination.HasMore)
	assert.Equal(t, defaultRecordsLimit, page.Pagination.Limit)

	status, env = ts.do(t, http.MethodGet, "/api/games/records?limit=-1", s.AccessToken, nil)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, api.CodeValidation, env.Code)

	status, env = ts.do(t, http.MethodGet, "/api/games/stats?game_type=gomoku", s.AccessToken, nil)
	require.Equal(t, http.StatusOK, status)
	var one struct {
		GameStats    *models.GameStats   `json:"game_stats"`
		OverallStats models.OverallStats `json:"overall_stats"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &one))
	require.NotNil(t, one.GameStats)
	assert.Equal(t, 3, one.GameStats.TotalGames)
	assert.EqualValues(t, 200, one.GameStats.BestScore)
	assert.Equal(t, 3, one.GameStats.Wins)
	assert.Equal(t, 4, one.OverallStats.TotalGames)
	assert.Equal(t, 3, one.OverallStats.TotalWins)

	status, env = ts.do(t, http.MethodGet, "/api/games/stats?game_type=sudoku", s.AccessToken, nil)
	require.Equal(t, http.StatusOK, status)
	one.GameStats = nil
	require.NoError(t, json.Unmarshal(env.Data, &one))
	assert.Nil(t, one.GameStats)
}

func TestLeaderboardEndpoint(t *testing.T) {
	ts := newTestServer(t)
	a := ts.login(t, "wx-a", "Ace")
	b := ts.login(t, "wx-b", "Bo")

	for _, p := range []struct {
		s     session
		score int64
	}{{a, 300}, {b, 500}, {a, 100}} {
		id := ts.startGame(t, p.s.AccessToken, "gomoku")
		status, _ := ts.finish(t, p.s.AccessToken, id, p.score, "win")
		require.Equal(t, http.StatusOK, status)
	}

	type board struct {
		Leaderboard []models.LeaderboardEntry `json:"leaderboard"`
		UserRank    *int                      `json:"user_rank"`
		Filters     leaderboardFilters        `json:"filters"`
	}

	status, env := ts.do(t, http.MethodGet, "/api/games/leaderboard?game_type=gomoku", a.AccessToken, nil)
	require.Equal(t, http.StatusOK, status)
	var got board
	require.NoError(t, json.Unmarshal(env.Data, &got))
	require.Len(t, got.Leaderboard, 2)
	assert.Equal(t, b.User.ID, got.Leaderboard[0].UserID)
	assert.EqualValues(t, 300, got.Leaderboard[1].Score, "best score is kept")
	assert.Equal(t, "Ace", got.Leaderboard[1].Nickname)
	require.NotNil(t, got.UserRank)
	assert.Equal(t, 2, *got.UserRank)
	assert.Equal(t, leaderboardFilters{GameType: "gomoku", RankType: models.RankAllTime, Limit: leaderboard.DefaultLimit}, got.Filters)

	status, env = ts.do(t, http.MethodGet, "/api/games/leaderboard?game_type=all&limit=500", "", nil)
	require.Equal(t, http.StatusOK, status)
	got = board{}
	require.NoError(t, json.Unmarshal(env.Data, &got))
	assert.Nil(t, got.UserRank, "anonymous callers get no rank")
	assert.Equal(t, "all", got.Filters.GameType)
	assert.Equal(t, leaderboard.MaxLimit, got.Filters.Limit)
	assert.Len(t, got.Leaderboard, 2)

	status, env = ts.do(t, http.MethodGet, "/api/games/leaderboard?game_type=sudoku", "garbage-token", nil)
	require.Equal(t, http.StatusOK, status, "optional auth ignores a bad token")
	got = board{}
	require.NoError(t, json.Unmarshal(env.Data, &got))
	assert.Empty(t, got.Leaderboard)
}

func TestCatalogEndpoints(t *testing.T) {
	mr := miniredis.RunT(t)
	rc := cache.New(redis.NewClient(&redis.Options{Addr: mr.Addr()}), "settlements_test")
	ts := newTestServer(t, func(s *Server) { s.Cache = rc })

	status, env := ts.do(t, http.MethodGet, "/api/games/types", "", nil)
	require.Equal(t, http.StatusOK, status)
	var types []models.GameType
	require.NoError(t, json.Unmarshal(env.Data, &types))
	require.Len(t, types, len(database.DefaultGameTypes))
	assert.Equal(t, "draw_guess", types[0].Code)
	assert.True(t, mr.Exists(cache.GameTypesKey), "catalog is cached")

	s := ts.login(t, "wx-c", "Cal")
	for _, gt := range []string{"sudoku", "gomoku", "gomoku"} {
		id := ts.startGame(t, s.AccessToken, gt)
		status, _ := ts.finish(t, s.AccessToken, id, 10, "draw")
		require.Equal(t, http.StatusOK, status)
	}

	status, env = ts.do(t, http.MethodGet, "/api/games/popular?limit=5", "", nil)
	require.Equal(t, http.StatusOK, status)
	var popular []models.PopularGame
	require.NoError(t, json.Unmarshal(env.Data, &popular))
	require.Len(t, popular, 2)
	assert.Equal(t, "gomoku", popular[0].Code)
	assert.Equal(t, 2, popular[0].TotalGames)

	cached := []models.PopularGame{{Code: "hangman", TotalGames: 99}}
	require.NoError(t, rc.SetJSON(context.Background(), cache.PopularGamesKey, cached, time.Minute))
	status, env = ts.do(t, http.MethodGet, "/api/games/popular", "", nil)
	require.Equal(t, http.StatusOK, status)
	require.NoError(t, json.Unmarshal(env.Data, &popular))
	assert.Equal(t, cached, popular, "warm cache wins")
}

func TestRequestErrors(t *testing.T) {
	ts := newTestServer(t)

	status, env := ts.do(t, http.MethodGet, "/api/nothing-here", "", nil)
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, api.CodeNotFound, env.Code)

	status, env = ts.do(t, http.MethodGet, "/api/auth/login", "", nil)
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, api.CodeNotFound, env.Code)

	status, env = ts.do(t, http.MethodPost, "/api/auth/login", "", `{"openid":`)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, api.CodeInvalidJSON, env.Code)

	// served in-process so the client never races the server closing a half-read upload
	huge := fmt.Sprintf(`{"openid":"%s"}`, strings.Repeat("a", MaxBodyBytes+1))
	req := httptest.NewRequest(http.MethodPost, "/api/auth/login", strings.NewReader(huge))
	rec := httptest.NewRecorder()
	ts.srv.Routes().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&env))
	assert.Equal(t, api.CodePayloadTooLarge, env.Code)
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t)
	resp, err := ts.Client().Get(ts.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get(middleware.RequestIDHeader))
	var body struct {
		Success   bool   `json:"success"`
		Timestamp string `json:"timestamp"`
		Version   string `json:"version"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.True(t, body.Success)
	assert.Equal(t, "test", body.Version)
	_, err = time.Parse(time.RFC3339, body.Timestamp)
	assert.NoError(t, err)
}

func TestRateLimitedRouter(t *testing.T) {
	ts := newTestServer(t, func(s *Server) { s.Limiter = middleware.NewRateLimiter(2, time.Minute) })

	for i := 0; i < 2; i++ {
		status, _ := ts.do(t, http.MethodGet, "/api/games/types", "", nil)
		require.Equal(t, http.StatusOK, status)
	}
	status, env := ts.do(t, http.MethodGet, "/api/games/types", "", nil)
	assert.Equal(t, http.StatusTooManyRequests, status)
	assert.Equal(t, api.CodeRateLimit, env.Code)
}

func TestRateLimitIgnoresForwardedHeaders(t *testing.T) {
	ts := newTestServer(t, func(s *Server) { s.Limiter = middleware.NewRateLimiter(2, time.Minute) })

	statuses := make([]int, 0, 6)
	for i := 0; i < 6; i++ {
		req, err := http.NewRequest(http.MethodGet, ts.URL+"/api/games/types", nil)
		require.NoError(t, err)
		req.Header.Set("X-Forwarded-For", fmt.Sprintf("10.0.0.%d", i))
		req.Header.Set("X-Real-IP", fmt.Sprintf("10.9.0.%d", i))
		resp, err := ts.Client().Do(req)
		require.NoError(t, err)
		resp.Body.Close()
		statuses = append(statuses, resp.StatusCode)
	}
	assert.Equal(t, []int{200, 200, 429, 429, 429, 429}, statuses)
}

func TestLiveLeaderboard(t *testing.T) {
	ts := newTestServer(t)
	s := ts.login(t, "wx-l", "Liv")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/games/leaderboard/live?game_type=gomoku"
	c, _, err := websocket.Dial(ctx, url, nil)
	require.NoError(t, err)
	defer c.Close(websocket.StatusNormalClosure, "")

	var snap leaderboard.Update
	require.NoError(t, wsjson.Read(ctx, c, &snap))
	assert.Equal(t, "gomoku", snap.GameType)
	assert.Empty(t, snap.Entries)

	id := ts.startGame(t, s.AccessToken, "gomoku")
	status, _ := ts.finish(t, s.AccessToken, id, 420, "win")
	require.Equal(t, http.StatusOK, status)

	var upd leaderboard.Update
	require.NoError(t, wsjson.Read(ctx, c, &upd))
	require.Len(t, upd.Entries, 1)
	assert.EqualValues(t, 420, upd.Entries[0].Score)
	assert.Equal(t, s.User.ID, upd.Entries[0].UserID)

	require.NoError(t, c.Close(websocket.StatusNormalClosure, ""))
	assert.Eventually(t, func() bool { return ts.srv.Hub.Subscribers() == 0 }, 2*time.Second, 10*time.Millisecond)
}
