// internal/handlers/games.go
package handlers

import (
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pencilparty/pencilparty/internal/api"
	"github.com/pencilparty/pencilparty/internal/cache"
	"github.com/pencilparty/pencilparty/internal/game"
	"github.com/pencilparty/pencilparty/internal/jobs"
	"github.com/pencilparty/pencilparty/internal/leaderboard"
	"github.com/pencilparty/pencilparty/internal/middleware"
	"github.com/pencilparty/pencilparty/internal/models"
)

const (
	defaultPopularLimit = 10
	defaultRecordsLimit = 20
	maxPageLimit        = 100
)

// gameTypes lists active game types, read through the cache when one is configured.
func (s *Server) gameTypes(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var types []models.GameType
	if s.Cache != nil && s.Cache.GetJSON(ctx, cache.GameTypesKey, &types) == nil {
		api.WriteJSON(w, http.StatusOK, "", types)
		return
	}

	types, err := s.Store.ListGameTypes(ctx)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if s.Cache != nil {
		if err := s.Cache.SetJSON(ctx, cache.GameTypesKey, types, s.CatalogTTL); err != nil {
			s.Log.WithError(err).Warn("cache game types")
		}
	}
	api.WriteJSON(w, http.StatusOK, "", types)
}

// popularGames prefers the list the background warmer caches and falls back to the store.
func (s *Server) popularGames(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit", defaultPopularLimit)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if limit == 0 || limit > maxPageLimit {
		limit = defaultPopularLimit
	}

	ctx := r.Context()
	var games []models.PopularGame
	if s.Cache != nil && limit <= jobs.PopularLimit && s.Cache.GetJSON(ctx, cache.PopularGamesKey, &games) == nil {
		if len(games) > limit {
			games = games[:limit]
		}
		api.WriteJSON(w, http.StatusOK, "", games)
		return
	}

	games, err = s.Store.PopularGames(ctx, time.Now().Add(-jobs.PopularWindow), limit)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	api.WriteJSON(w, http.StatusOK, "", games)
}

type startRequest struct {
	GameType string  `json:"game_type"`
	RoomID   *string `json:"room_id"`
}

type startResponse struct {
	GameID    uuid.UUID `json:"game_id"`
	GameType  string    `json:"game_type"`
	StartedAt time.Time `json:"started_at"`
}

func (s *Server) startGame(w http.ResponseWriter, r *http.Request) {
	u, _ := middleware.UserFrom(r.Context())

	var req startRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	if req.GameType == "" {
		s.fail(w, r, api.BadRequest(api.CodeGameTypeMissing, "game_type is required"))
		return
	}

	device := r.UserAgent()
	if device == "" {
		device = "unknown"
	}
	rec, err := s.Tracker.Start(r.Context(), game.StartRequest{
		UserID:     u.ID,
		GameType:   req.GameType,
		RoomID:     req.RoomID,
		DeviceInfo: device,
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	api.WriteJSON(w, http.StatusOK, "game started", startResponse{
		GameID:    rec.ID,
		GameType:  rec.GameType,
		StartedAt: rec.StartedAt,
	})
}

type finishRequest struct {
	GameID   string         `json:"game_id"`
	Score    int64          `json:"score"`
	Duration int64          `json:"duration"`
	Result   models.Result  `json:"result"`
	Accuracy float64        `json:"accuracy"`
	ComboMax int            `json:"combo_max"`
	Details  models.Details `json:"details"`
}

func (s *Server) finishGame(w http.ResponseWriter, r *http.Request) {
	u, _ := middleware.UserFrom(r.Context())

	var req finishRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	if req.GameID == "" {
		s.fail(w, r, api.BadRequest(api.CodeGameIDMissing, "game_id is required"))
		return
	}
	gameID, err := uuid.Parse(req.GameID)
	if err != nil {
		s.fail(w, r, api.BadRequest(api.CodeValidation, "game_id is not a valid id"))
		return
	}

	sum, err := s.Tracker.Finish(r.Context(), game.FinishRequest{
		GameID:   gameID,
		UserID:   u.ID,
		Score:    req.Score,
		Duration: req.Duration,
		Result:   req.Result,
		Accuracy: req.Accuracy,
		ComboMax: req.ComboMax,
		Details:  req.Details,
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	api.WriteJSON(w, http.StatusOK, "game finished", sum)
}

type pagination struct {
	Limit   int  `json:"limit"`
	Offset  int  `json:"offset"`
	HasMore bool `json:"has_more"`
}

func (s *Server) records(w http.ResponseWriter, r *http.Request) {
	u, _ := middleware.UserFrom(r.Context())

	limit, err := queryInt(r, "limit", defaultRecordsLimit)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if limit == 0 || limit > maxPageLimit {
		limit = defaultRecordsLimit
	}
	offset, err := queryInt(r, "offset", 0)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	recs, err := s.Store.ListGameRecords(r.Context(), u.ID, r.URL.Query().Get("game_type"), limit, offset)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	api.WriteJSON(w, http.StatusOK, "", map[string]interface{}{
		"records":    recs,
		"pagination": pagination{Limit: limit, Offset: offset, HasMore: len(recs) == limit},
	})
}

// stats returns per-game aggregates, narrowed to one game type when game_type is given
// (null when the user never finished that game), plus the overall totals.
func (s *Server) stats(w http.ResponseWriter, r *http.Request) {
	u, _ := middleware.UserFrom(r.Context())
	ctx := r.Context()

	all, err := s.Store.GameStats(ctx, u.ID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	overall, err := s.Store.UserStats(ctx, u.ID)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	var gameStats interface{} = all
	if gt := r.URL.Query().Get("game_type"); gt != "" {
		var one *models.GameStats
		for i := range all {
			if all[i].GameType == gt {
				one = &all[i]
				break
			}
		}
		gameStats = one
	}
	api.WriteJSON(w, http.StatusOK, "", map[string]interface{}{
		"game_stats":    gameStats,
		"overall_stats": overall,
	})
}

type leaderboardFilters struct {
	GameType string `json:"game_type"`
	RankType string `json:"rank_type"`
	Limit    int    `json:"limit"`
}

// leaderboard returns the top entries and, for a signed-in caller, their rank.
func (s *Server) leaderboard(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	gameType := normalizeGameType(q.Get("game_type"))
	rankType := q.Get("rank_type")
	if rankType == "" {
		rankType = models.RankAllTime
	}
	limit, err := queryInt(r, "limit", leaderboard.DefaultLimit)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	limit = leaderboard.ClampLimit(limit)

	ctx := r.Context()
	entries, err := s.Board.Top(ctx, gameType, rankType, limit)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	var rank *int
	if u, ok := middleware.UserFrom(ctx); ok {
		if rank, err = s.Board.RankOf(ctx, u.ID, gameType, rankType); err != nil {
			s.fail(w, r, err)
			return
		}
	}

	filterType := gameType
	if filterType == "" {
		filterType = "all"
	}
	api.WriteJSON(w, http.StatusOK, "", map[string]interface{}{
		"leaderboard": entries,
		"user_rank":   rank,
		"filters":     leaderboardFilters{GameType: filterType, RankType: rankType, Limit: limit},
	})
}

// normalizeGameType maps the "all" alias to the cross-game filter.
func normalizeGameType(gt string) string {
	gt = strings.TrimSpace(gt)
	if strings.EqualFold(gt, "all") {
		return ""
	}
	return gt
}
