// internal/database/game.go
package database

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/pencilparty/pencilparty/internal/models"
)

func (p *Postgres) ListGameTypes(ctx context.Context) ([]models.GameType, error) {
	q := `
		SELECT code, name, icon, description, min_players, max_players,
		       avg_duration, difficulty, sort_order, status
		FROM game_types
		WHERE status = 'active'
		ORDER BY sort_order ASC, name ASC
	`
	rows, err := p.pool.Query(ctx, q)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	types := []models.GameType{}
	for rows.Next() {
		var gt models.GameType
		if err := rows.Scan(&gt.Code, &gt.Name, &gt.Icon, &gt.Description, &gt.MinPlayers, &gt.MaxPlayers,
			&gt.AvgDuration, &gt.Difficulty, &gt.SortOrder, &gt.Status); err != nil {
			return nil, err
		}
		types = append(types, gt)
	}
	return types, rows.Err()
}

// GetActiveGameType returns ErrNotFound for unknown and disabled codes alike.
func (p *Postgres) GetActiveGameType(ctx context.Context, code string) (*models.GameType, error) {
	q := `
		SELECT code, name, icon, description, min_players, max_players,
		       avg_duration, difficulty, sort_order, status
		FROM game_types
		WHERE code = $1 AND status = 'active'
	`
	var gt models.GameType
	err := p.pool.QueryRow(ctx, q, code).Scan(&gt.Code, &gt.Name, &gt.Icon, &gt.Description, &gt.MinPlayers,
		&gt.MaxPlayers, &gt.AvgDuration, &gt.Difficulty, &gt.SortOrder, &gt.Status)
	if err != nil {
		return nil, notFound(err)
	}
	return &gt, nil
}

func (p *Postgres) PopularGames(ctx context.Context, since time.Time, limit int) ([]models.PopularGame, error) {
	q := `
		SELECT gt.code, gt.name, gt.icon,
		       COUNT(gr.id)::int AS total_games,
		       COUNT(DISTINCT gr.user_id)::int AS unique_players,
		       COALESCE(AVG(gr.score), 0)::float8,
		       COALESCE(AVG(gr.duration), 0)::float8
		FROM game_types gt
		LEFT JOIN game_records gr ON gr.game_type = gt.code AND gr.created_at >= $1
		WHERE gt.status = 'active'
		GROUP BY gt.code, gt.name, gt.icon
		ORDER BY total_games DESC, unique_players DESC, gt.code ASC
		LIMIT $2
	`
	rows, err := p.pool.Query(ctx, q, since, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	games := []models.PopularGame{}
	for rows.Next() {
		var g models.PopularGame
		if err := rows.Scan(&g.Code, &g.Name, &g.Icon, &g.TotalGames, &g.UniquePlayers, &g.AvgScore, &g.AvgDuration); err != nil {
			return nil, err
		}
		games = append(games, g)
	}
	return games, rows.Err()
}

// CreateGameRecord inserts rec and returns the server-assigned fields through rec itself,
// so callers need no re-read.
func (p *Postgres) CreateGameRecord(ctx context.Context, rec *models.GameRecord) error {
	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}
	if rec.Result == "" {
		rec.Result = models.ResultPlaying
	}
	details, err := json.Marshal(rec.Details)
	if err != nil {
		return fmt.Errorf("failed to marshal details: %w", err)
	}

	q := `
		INSERT INTO game_records (id, user_id, game_type, room_id, result, details)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING started_at, created_at, updated_at
	`
	err = pgx.BeginTxFunc(ctx, p.pool, pgx.TxOptions{}, func(tx pgx.Tx) error {
		return tx.QueryRow(ctx, q, rec.ID, rec.UserID, rec.GameType, rec.RoomID, rec.Result, details).
			Scan(&rec.StartedAt, &rec.CreatedAt, &rec.UpdatedAt)
	})
	if err != nil {
		return fmt.Errorf("insert game record: %w", err)
	}
	return nil
}

const recordColumns = `
	gr.id, gr.user_id, gr.game_type, COALESCE(gt.name, ''), COALESCE(gt.icon, ''), gr.room_id,
	gr.score, gr.duration, gr.result, gr.accuracy, gr.combo_max,
	gr.experience_gained, gr.coins_gained, gr.details,
	gr.started_at, gr.finished_at, gr.created_at, gr.updated_at
`

func scanRecord(row pgx.Row) (*models.GameRecord, error) {
	var (
		rec     models.GameRecord
		details []byte
	)
	err := row.Scan(
		&rec.ID, &rec.UserID, &rec.GameType, &rec.GameName, &rec.GameIcon, &rec.RoomID,
		&rec.Score, &rec.Duration, &rec.Result, &rec.Accuracy, &rec.ComboMax,
		&rec.ExperienceGained, &rec.CoinsGained, &details,
		&rec.StartedAt, &rec.FinishedAt, &rec.CreatedAt, &rec.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if err := rec.Details.Scan(details); err != nil {
		return nil, err
	}
	return &rec, nil
}

func (p *Postgres) GetGameRecord(ctx context.Context, id uuid.UUID) (*models.GameRecord, error) {
	q := `SELECT ` + recordColumns + `
		FROM game_records gr
		LEFT JOIN game_types gt ON gt.code = gr.game_type
		WHERE gr.id = $1`
	rec, err := scanRecord(p.pool.QueryRow(ctx, q, id))
	if err != nil {
		return nil, notFound(err)
	}
	return rec, nil
}

// ListGameRecords pages through a user's records, newest first. An empty gameType lists all.
func (p *Postgres) ListGameRecords(ctx context.Context, userID uuid.UUID, gameType string, limit, offset int) ([]models.GameRecord, error) {
	q := `SELECT ` + recordColumns + `
		FROM game_records gr
		LEFT JOIN game_types gt ON gt.code = gr.game_type
		WHERE gr.user_id = $1 AND ($2 = '' OR gr.game_type = $2)
		ORDER BY gr.created_at DESC, gr.id
		LIMIT $3 OFFSET $4`
	rows, err := p.pool.Query(ctx, q, userID, gameType, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	records := []models.GameRecord{}
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, *rec)
	}
	return records, rows.Err()
}

// GameStats aggregates finished records per game type.
func (p *Postgres) GameStats(ctx context.Context, userID uuid.UUID) ([]models.GameStats, error) {
	q := `
		SELECT game_type,
		       COUNT(*)::int,
		       MAX(score),
		       AVG(score)::float8,
		       SUM(CASE WHEN result = 'win' THEN 1 ELSE 0 END)::int,
		       SUM(CASE WHEN result = 'lose' THEN 1 ELSE 0 END)::int,
		       SUM(CASE WHEN result = 'draw' THEN 1 ELSE 0 END)::int,
		       SUM(duration)::bigint,
		       AVG(accuracy)::float8,
		       MAX(combo_max),
		       SUM(experience_gained)::bigint,
		       SUM(coins_gained)::bigint
		FROM game_records
		WHERE user_id = $1 AND result IN ('win', 'lose', 'draw')
		GROUP BY game_type
		ORDER BY game_type
	`
	rows, err := p.pool.Query(ctx, q, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	stats := []models.GameStats{}
	for rows.Next() {
		var s models.GameStats
		if err := rows.Scan(&s.GameType, &s.TotalGames, &s.BestScore, &s.AvgScore, &s.Wins, &s.Losses, &s.Draws,
			&s.TotalDuration, &s.AvgAccuracy, &s.BestCombo, &s.TotalExperience, &s.TotalCoins); err != nil {
			return nil, err
		}
		stats = append(stats, s)
	}
	return stats, rows.Err()
}

// FinishGameRecord is the guard of a settlement: the WHERE clause on result makes the
// first committed finish win and every later one match zero rows.
func (t *pgTx) FinishGameRecord(ctx context.Context, u FinishUpdate) (bool, error) {
	details, err := json.Marshal(u.Details)
	if err != nil {
		return false, fmt.Errorf("failed to marshal details: %w", err)
	}
	q := `
		UPDATE game_records
		SET score = $2, duration = $3, result = $4, accuracy = $5, combo_max = $6,
		    experience_gained = $7, coins_gained = $8, details = $9,
		    finished_at = NOW(), updated_at = NOW()
		WHERE id = $1 AND result = 'playing'
	`
	ct, err := t.tx.Exec(ctx, q, u.ID, u.Score, u.Duration, u.Result, u.Accuracy, u.ComboMax,
		u.ExperienceGained, u.CoinsGained, details)
	if err != nil {
		return false, fmt.Errorf("finish game record %s: %w", u.ID, err)
	}
	return ct.RowsAffected() == 1, nil
}
