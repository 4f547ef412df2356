package models

import (
	"time"

	"github.com/google/uuid"
)

// RankAllTime is the only rank type written by settlement.
const RankAllTime = "alltime"

// LeaderboardEntry is keyed by (UserID, GameType, RankType, PeriodDate).
type LeaderboardEntry struct {
	UserID     uuid.UUID `json:"user_id"`
	GameType   string    `json:"game_type"`
	RankType   string    `json:"rank_type"`
	PeriodDate time.Time `json:"period_date"`
	Score      int64     `json:"score"`
	Duration   int64     `json:"duration"`
	Accuracy   float64   `json:"accuracy"`

	// AchievedAt is when Score was first reached; it orders ties.
	AchievedAt time.Time `json:"achieved_at"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`

	Nickname string `json:"nickname,omitempty"`
	Avatar   string `json:"avatar,omitempty"`
	Level    int    `json:"level,omitempty"`
}

// PeriodOf truncates t to its calendar day in UTC.
func PeriodOf(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
