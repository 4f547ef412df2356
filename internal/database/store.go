// Package database holds the persistence contract shared by the Postgres and in-memory stores.
package database

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/pencilparty/pencilparty/internal/models"
)

var (
	// ErrNotFound is returned when a lookup by key matches no row.
	ErrNotFound = errors.New("not found")
	// ErrConflict is returned when an insert collides with a unique key.
	ErrConflict = errors.New("conflict")
)

// Balance is a user's progression after a credit.
type Balance struct {
	Experience int64
	Coins      int64
	Level      int
}

// FinishUpdate is everything a settlement writes onto a game record.
type FinishUpdate struct {
	ID               uuid.UUID
	Score            int64
	Duration         int64
	Result           models.Result
	Accuracy         float64
	ComboMax         int
	ExperienceGained int64
	CoinsGained      int64
	Details          models.Details
}

// LeaderboardQuery filters leaderboard reads. An empty GameType spans every game.
type LeaderboardQuery struct {
	GameType string
	RankType string
	Limit    int
}

// Tx is the set of writes that run inside one settlement transaction.
type Tx interface {
	// FinishGameRecord applies u only if the record is still playing. It reports false,
	// without error, when the record had already been finished.
	FinishGameRecord(ctx context.Context, u FinishUpdate) (bool, error)
	// CreditUser adds experience and coins and recomputes level from the new experience total.
	CreditUser(ctx context.Context, userID uuid.UUID, experience, coins int64) (Balance, error)
	// UpsertLeaderboard keeps the greater score per key and overwrites duration and accuracy.
	UpsertLeaderboard(ctx context.Context, e models.LeaderboardEntry) error
}

// Store is the relational store behind the API.
type Store interface {
	// WithTx runs fn in a transaction; any error returned by fn rolls everything back.
	WithTx(ctx context.Context, fn func(tx Tx) error) error

	CreateUser(ctx context.Context, u *models.User) error
	GetUserByID(ctx context.Context, id uuid.UUID) (*models.User, error)
	GetUserByOpenID(ctx context.Context, openID string) (*models.User, error)
	UpdateProfile(ctx context.Context, id uuid.UUID, patch models.ProfilePatch) error
	TouchLastLogin(ctx context.Context, id uuid.UUID) error
	SavePreferences(ctx context.Context, id uuid.UUID, p models.Preferences) error
	SoftDeleteUser(ctx context.Context, id uuid.UUID) error
	UserStats(ctx context.Context, id uuid.UUID) (*models.OverallStats, error)

	ListGameTypes(ctx context.Context) ([]models.GameType, error)
	GetActiveGameType(ctx context.Context, code string) (*models.GameType, error)
	PopularGames(ctx context.Context, since time.Time, limit int) ([]models.PopularGame, error)

	// CreateGameRecord inserts rec and fills in its server-assigned id and timestamps.
	CreateGameRecord(ctx context.Context, rec *models.GameRecord) error
	GetGameRecord(ctx context.Context, id uuid.UUID) (*models.GameRecord, error)
	ListGameRecords(ctx context.Context, userID uuid.UUID, gameType string, limit, offset int) ([]models.GameRecord, error)
	GameStats(ctx context.Context, userID uuid.UUID) ([]models.GameStats, error)

	TopLeaderboard(ctx context.Context, q LeaderboardQuery) ([]models.LeaderboardEntry, error)
	// RankOf returns nil when the user has no entry under the filter.
	RankOf(ctx context.Context, userID uuid.UUID, gameType, rankType string) (*int, error)
}

// DefaultGameTypes seeds a fresh store.
var DefaultGameTypes = []models.GameType{
	{Code: "draw_guess", Name: "Draw & Guess", Icon: "/static/games/draw_guess.png", Description: "Sketch the word, let the others guess it.", MinPlayers: 2, MaxPlayers: 8, AvgDuration: 600, Difficulty: "easy", SortOrder: 1, Status: models.StatusActive},
	{Code: "gomoku", Name: "Gomoku", Icon: "/static/games/gomoku.png", Description: "Five in a row on a 15x15 board.", MinPlayers: 2, MaxPlayers: 2, AvgDuration: 420, Difficulty: "medium", SortOrder: 2, Status: models.StatusActive},
	{Code: "dots_boxes", Name: "Dots and Boxes", Icon: "/static/games/dots_boxes.png", Description: "Close the most boxes.", MinPlayers: 2, MaxPlayers: 4, AvgDuration: 300, Difficulty: "easy", SortOrder: 3, Status: models.StatusActive},
	{Code: "hangman", Name: "Hangman", Icon: "/static/games/hangman.png", Description: "Guess the word one letter at a time.", MinPlayers: 1, MaxPlayers: 1, AvgDuration: 180, Difficulty: "easy", SortOrder: 4, Status: models.StatusActive},
	{Code: "sudoku", Name: "Sudoku", Icon: "/static/games/sudoku.png", Description: "Classic 9x9 number placement.", MinPlayers: 1, MaxPlayers: 1, AvgDuration: 900, Difficulty: "hard", SortOrder: 5, Status: models.StatusActive},
}
