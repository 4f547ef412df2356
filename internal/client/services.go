package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/pencilparty/pencilparty/internal/models"
)

type LoginRequest struct {
	OpenID   string `json:"openid"`
	Nickname string `json:"nickname,omitempty"`
	Avatar   string `json:"avatar,omitempty"`
	Platform string `json:"platform,omitempty"`
}

// Login signs in (registering on first use) and persists the session.
func (c *Client) Login(ctx context.Context, req LoginRequest) (*models.User, error) {
	if req.Platform == "" {
		req.Platform = c.platform
	}
	var sess Session
	if err := c.Do(ctx, http.MethodPost, "/auth/login", req, &sess); err != nil {
		return nil, err
	}
	if err := c.tokens.Save(sess); err != nil {
		return nil, err
	}
	return sess.User, nil
}

// Logout tells the server when a session exists and always clears local credentials.
func (c *Client) Logout(ctx context.Context) error {
	sess, err := c.tokens.Load()
	if err == nil && sess.AccessToken != "" {
		if err := c.Do(ctx, http.MethodPost, "/auth/logout", struct{}{}, nil); err != nil {
			c.log.WithError(err).Debug("server logout failed")
		}
	}
	return c.tokens.Clear()
}

// LoggedIn reports whether a session is stored.
func (c *Client) LoggedIn() bool {
	sess, err := c.tokens.Load()
	return err == nil && sess.AccessToken != ""
}

// CurrentUser returns the stored user, fetching it from the server when none is stored.
func (c *Client) CurrentUser(ctx context.Context) (*models.User, error) {
	sess, err := c.tokens.Load()
	if err != nil {
		return nil, err
	}
	if sess.User != nil {
		return sess.User, nil
	}
	return c.Me(ctx)
}

type userEnvelope struct {
	User *models.User `json:"user"`
}

// Me fetches the signed-in user and updates the stored copy.
func (c *Client) Me(ctx context.Context) (*models.User, error) {
	var out userEnvelope
	if err := c.Do(ctx, http.MethodGet, "/auth/me", nil, &out); err != nil {
		return nil, err
	}
	return out.User, c.rememberUser(out.User)
}

type ProfileUpdate struct {
	Nickname    *string                  `json:"nickname,omitempty"`
	Avatar      *string                  `json:"avatar,omitempty"`
	Gender      *string                  `json:"gender,omitempty"`
	Birthday    *string                  `json:"birthday,omitempty"`
	Signature   *string                  `json:"signature,omitempty"`
	Preferences *models.PreferencesPatch `json:"preferences,omitempty"`
}

func (c *Client) UpdateProfile(ctx context.Context, p ProfileUpdate) (*models.User, error) {
	var out userEnvelope
	if err := c.Do(ctx, http.MethodPut, "/auth/profile", p, &out); err != nil {
		return nil, err
	}
	return out.User, c.rememberUser(out.User)
}

// DeleteAccount deactivates the account and clears the local session.
func (c *Client) DeleteAccount(ctx context.Context) error {
	if err := c.Do(ctx, http.MethodDelete, "/auth/account", nil, nil); err != nil {
		return err
	}
	return c.tokens.Clear()
}

// rememberUser touches only the user so a concurrent refresh keeps its rotated tokens.
func (c *Client) rememberUser(u *models.User) error {
	return c.tokens.Update(func(s *Session) bool {
		if s.AccessToken == "" {
			return false
		}
		s.User = u
		return true
	})
}

// GameTypes returns the game catalog, served from a local copy while it is fresh.
func (c *Client) GameTypes(ctx context.Context) ([]models.GameType, error) {
	c.catalogMu.Lock()
	defer c.catalogMu.Unlock()
	if c.catalog != nil && c.now().Sub(c.catalogAt) < c.catalogTTL {
		return c.catalog, nil
	}

	var types []models.GameType
	if err := c.Do(ctx, http.MethodGet, "/games/types", nil, &types); err != nil {
		return nil, err
	}
	c.catalog, c.catalogAt = types, c.now()
	return types, nil
}

// InvalidateCatalog drops the local game catalog.
func (c *Client) InvalidateCatalog() {
	c.catalogMu.Lock()
	c.catalog = nil
	c.catalogMu.Unlock()
}

func (c *Client) PopularGames(ctx context.Context, limit int) ([]models.PopularGame, error) {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	var games []models.PopularGame
	if err := c.Do(ctx, http.MethodGet, withQuery("/games/popular", q), nil, &games); err != nil {
		return nil, err
	}
	return games, nil
}

type StartedGame struct {
	GameID    uuid.UUID `json:"game_id"`
	GameType  string    `json:"game_type"`
	StartedAt time.Time `json:"started_at"`
}

func (c *Client) StartGame(ctx context.Context, gameType string, roomID *string) (*StartedGame, error) {
	body := map[string]interface{}{"game_type": gameType}
	if roomID != nil {
		body["room_id"] = *roomID
	}
	var out StartedGame
	if err := c.Do(ctx, http.MethodPost, "/games/start", body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

type FinishRequest struct {
	GameID   uuid.UUID      `json:"game_id"`
	Score    int64          `json:"score"`
	Duration int64          `json:"duration"`
	Result   models.Result  `json:"result"`
	Accuracy float64        `json:"accuracy"`
	ComboMax int            `json:"combo_max"`
	Details  models.Details `json:"details,omitempty"`
}

// Settlement is the reward summary returned when a game is finished.
type Settlement struct {
	GameID           uuid.UUID     `json:"game_id"`
	Score            int64         `json:"score"`
	Result           models.Result `json:"result"`
	ExperienceGained int64         `json:"experience_gained"`
	CoinsGained      int64         `json:"coins_gained"`
	NewLevel         int           `json:"new_level"`
	TotalExperience  int64         `json:"total_experience"`
	TotalCoins       int64         `json:"total_coins"`
}

// FinishGame settles a game. A replay after a lost response fails with GAME_ALREADY_FINISHED
// rather than crediting twice.
func (c *Client) FinishGame(ctx context.Context, req FinishRequest) (*Settlement, error) {
	var out Settlement
	if err := c.Do(ctx, http.MethodPost, "/games/finish", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

type Pagination struct {
	Limit   int  `json:"limit"`
	Offset  int  `json:"offset"`
	HasMore bool `json:"has_more"`
}

type RecordsPage struct {
	Records    []models.GameRecord `json:"records"`
	Pagination Pagination          `json:"pagination"`
}

func (c *Client) Records(ctx context.Context, gameType string, limit, offset int) (*RecordsPage, error) {
	q := url.Values{}
	if gameType != "" {
		q.Set("game_type", gameType)
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	if offset > 0 {
		q.Set("offset", strconv.Itoa(offset))
	}
	var out RecordsPage
	if err := c.Do(ctx, http.MethodGet, withQuery("/games/records", q), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

type Stats struct {
	Games   []models.GameStats
	Overall models.OverallStats
}

// Stats returns per-game aggregates, narrowed to gameType when it is set.
func (c *Client) Stats(ctx context.Context, gameType string) (*Stats, error) {
	q := url.Values{}
	if gameType != "" {
		q.Set("game_type", gameType)
	}
	var raw struct {
		GameStats    json.RawMessage     `json:"game_stats"`
		OverallStats models.OverallStats `json:"overall_stats"`
	}
	if err := c.Do(ctx, http.MethodGet, withQuery("/games/stats", q), nil, &raw); err != nil {
		return nil, err
	}

	out := &Stats{Overall: raw.OverallStats, Games: []models.GameStats{}}
	if gameType == "" {
		if err := json.Unmarshal(raw.GameStats, &out.Games); err != nil {
			return nil, err
		}
		return out, nil
	}
	var one *models.GameStats
	if err := json.Unmarshal(raw.GameStats, &one); err != nil {
		return nil, err
	}
	if one != nil {
		out.Games = append(out.Games, *one)
	}
	return out, nil
}

type LeaderboardQuery struct {
	GameType string
	RankType string
	Limit    int
}

type Leaderboard struct {
	Entries  []models.LeaderboardEntry `json:"leaderboard"`
	UserRank *int                      `json:"user_rank"`
	Filters  struct {
		GameType string `json:"game_type"`
		RankType string `json:"rank_type"`
		Limit    int    `json:"limit"`
	} `json:"filters"`
}

func (c *Client) Leaderboard(ctx context.Context, lq LeaderboardQuery) (*Leaderboard, error) {
	q := url.Values{}
	if lq.GameType != "" {
		q.Set("game_type", lq.GameType)
	}
	if lq.RankType != "" {
		q.Set("rank_type", lq.RankType)
	}
	if lq.Limit > 0 {
		q.Set("limit", strconv.Itoa(lq.Limit))
	}
	var out Leaderboard
	if err := c.Do(ctx, http.MethodGet, withQuery("/games/leaderboard", q), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func withQuery(path string, q url.Values) string {
	if len(q) == 0 {
		return path
	}
	return path + "?" + q.Encode()
}
