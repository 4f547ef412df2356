package database

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/pencilparty/pencilparty/internal/models"
)

// RecordSettlements persists a batch of settlement events. Replays of an event already
// recorded are ignored.
func (p *Postgres) RecordSettlements(ctx context.Context, events []models.SettlementEvent) error {
	if len(events) == 0 {
		return nil
	}
	q := `
		INSERT INTO settlement_log (game_id, user_id, game_type, score, result, experience_gained,
		                            coins_gained, total_experience, total_coins, new_level, settled_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (game_id) DO NOTHING
	`
	return pgx.BeginTxFunc(ctx, p.pool, pgx.TxOptions{}, func(tx pgx.Tx) error {
		batch := &pgx.Batch{}
		for _, ev := range events {
			batch.Queue(q, ev.GameID, ev.UserID, ev.GameType, ev.Score, ev.Result, ev.ExperienceGained,
				ev.CoinsGained, ev.TotalExperience, ev.TotalCoins, ev.NewLevel, ev.SettledAt)
		}
		return tx.SendBatch(ctx, batch).Close()
	})
}
