package database

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/pencilparty/pencilparty/internal/models"
)

// UpsertLeaderboard is a single INSERT ... ON CONFLICT, so concurrent settlements for the same
// key cannot lose a higher score to a read-then-write race.
func (t *pgTx) UpsertLeaderboard(ctx context.Context, e models.LeaderboardEntry) error {
	q := `
		INSERT INTO leaderboards (user_id, game_type, rank_type, period_date, score, duration, accuracy,
		                          achieved_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NOW(), NOW(), NOW())
		ON CONFLICT (user_id, game_type, rank_type, period_date) DO UPDATE SET
			achieved_at = CASE WHEN EXCLUDED.score > leaderboards.score
			                   THEN EXCLUDED.achieved_at ELSE leaderboards.achieved_at END,
			score       = GREATEST(leaderboards.score, EXCLUDED.score),
			duration    = EXCLUDED.duration,
			accuracy    = EXCLUDED.accuracy,
			updated_at  = NOW()
	`
	_, err := t.tx.Exec(ctx, q, e.UserID, e.GameType, e.RankType, e.PeriodDate, e.Score, e.Duration, e.Accuracy)
	if err != nil {
		return fmt.Errorf("upsert leaderboard: %w", err)
	}
	return nil
}

// TopLeaderboard orders by score, then by who reached that score first.
func (p *Postgres) TopLeaderboard(ctx context.Context, lq LeaderboardQuery) ([]models.LeaderboardEntry, error) {
	q := `
		SELECT l.user_id, l.game_type, l.rank_type, l.period_date, l.score, l.duration, l.accuracy,
		       l.achieved_at, l.created_at, l.updated_at,
		       u.nickname, u.avatar, u.level
		FROM leaderboards l
		INNER JOIN users u ON u.id = l.user_id
		WHERE u.status = 'active'
		  AND l.rank_type = $1
		  AND ($2 = '' OR l.game_type = $2)
		ORDER BY l.score DESC, l.achieved_at ASC, l.user_id
		LIMIT $3
	`
	rows, err := p.pool.Query(ctx, q, lq.RankType, lq.GameType, lq.Limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries := []models.LeaderboardEntry{}
	for rows.Next() {
		var e models.LeaderboardEntry
		if err := rows.Scan(&e.UserID, &e.GameType, &e.RankType, &e.PeriodDate, &e.Score, &e.Duration, &e.Accuracy,
			&e.AchievedAt, &e.CreatedAt, &e.UpdatedAt, &e.Nickname, &e.Avatar, &e.Level); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// RankOf is 1 + the number of entries with a strictly greater score than the user's best.
func (p *Postgres) RankOf(ctx context.Context, userID uuid.UUID, gameType, rankType string) (*int, error) {
	q := `
		WITH mine AS (
			SELECT MAX(score) AS score
			FROM leaderboards
			WHERE user_id = $1 AND rank_type = $2 AND ($3 = '' OR game_type = $3)
		)
		SELECT (SELECT COUNT(*) FROM leaderboards l
		        INNER JOIN users u ON u.id = l.user_id
		        WHERE u.status = 'active'
		          AND l.rank_type = $2 AND ($3 = '' OR l.game_type = $3)
		          AND l.score > mine.score)::int + 1
		FROM mine
		WHERE mine.score IS NOT NULL
	`
	var rank int
	err := p.pool.QueryRow(ctx, q, userID, rankType, gameType).Scan(&rank)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &rank, nil
}
