package models

import (
	"time"

	"github.com/google/uuid"
)

// Result is the state of a game record.
type Result string

const (
	ResultPlaying Result = "playing"
	ResultWin     Result = "win"
	ResultLose    Result = "lose"
	ResultDraw    Result = "draw"
)

// Finished reports whether r is one of the terminal results.
func (r Result) Finished() bool {
	switch r {
	case ResultWin, ResultLose, ResultDraw:
		return true
	}
	return false
}

type GameType struct {
	Code        string `json:"code"`
	Name        string `json:"name"`
	Icon        string `json:"icon"`
	Description string `json:"description"`
	MinPlayers  int    `json:"min_players"`
	MaxPlayers  int    `json:"max_players"`
	AvgDuration int    `json:"avg_duration"`
	Difficulty  string `json:"difficulty"`
	SortOrder   int    `json:"sort_order"`
	Status      string `json:"-"`
}

type GameRecord struct {
	ID       uuid.UUID `json:"id"`
	UserID   uuid.UUID `json:"user_id"`
	GameType string    `json:"game_type"`
	GameName string    `json:"game_name,omitempty"`
	GameIcon string    `json:"game_icon,omitempty"`
	RoomID   *string   `json:"room_id"`

	Score            int64   `json:"score"`
	Duration         int64   `json:"duration"`
	Result           Result  `json:"result"`
	Accuracy         float64 `json:"accuracy"`
	ComboMax         int     `json:"combo_max"`
	ExperienceGained int64   `json:"experience_gained"`
	CoinsGained      int64   `json:"coins_gained"`
	Details          Details `json:"details"`

	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

// GameStats aggregates a user's finished records for one game type.
type GameStats struct {
	GameType        string  `json:"game_type"`
	TotalGames      int     `json:"total_games"`
	BestScore       int64   `json:"best_score"`
	AvgScore        float64 `json:"avg_score"`
	Wins            int     `json:"wins"`
	Losses          int     `json:"losses"`
	Draws           int     `json:"draws"`
	TotalDuration   int64   `json:"total_duration"`
	AvgAccuracy     float64 `json:"avg_accuracy"`
	BestCombo       int     `json:"best_combo"`
	TotalExperience int64   `json:"total_experience"`
	TotalCoins      int64   `json:"total_coins"`
}

// PopularGame is a game type ranked by recent play volume.
type PopularGame struct {
	Code          string  `json:"code"`
	Name          string  `json:"name"`
	Icon          string  `json:"icon"`
	TotalGames    int     `json:"total_games"`
	UniquePlayers int     `json:"unique_players"`
	AvgScore      float64 `json:"avg_score"`
	AvgDuration   float64 `json:"avg_duration"`
}

// SettlementEvent is published after a settlement commits, for consumers outside the request path.
type SettlementEvent struct {
	GameID           uuid.UUID `json:"game_id"`
	UserID           uuid.UUID `json:"user_id"`
	GameType         string    `json:"game_type"`
	Score            int64     `json:"score"`
	Result           Result    `json:"result"`
	ExperienceGained int64     `json:"experience_gained"`
	CoinsGained      int64     `json:"coins_gained"`
	TotalExperience  int64     `json:"total_experience"`
	TotalCoins       int64     `json:"total_coins"`
	NewLevel         int       `json:"new_level"`
	SettledAt        time.Time `json:"settled_at"`
}
