// internal/database/postgres.go
package database

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sirupsen/logrus"
)

//go:embed schema.sql
var schemaSQL string

// Postgres implements Store on a pgx connection pool.
type Postgres struct {
	pool *pgxpool.Pool
	log  *logrus.Logger
}

var _ Store = (*Postgres)(nil)

// Connect opens a pool for connStr and pings it.
func Connect(ctx context.Context, connStr string, logger *logrus.Logger) (*Postgres, error) {
	config, err := pgxpool.ParseConfig(connStr)
	if err != nil {
		return nil, fmt.Errorf("unable to parse pgx config: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("unable to create pgx pool: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("db ping error: %w", err)
	}

	logger.WithField("host", config.ConnConfig.Host).Info("connected to database")
	return &Postgres{pool: pool, log: logger}, nil
}

func (p *Postgres) Close() {
	p.pool.Close()
}

// Migrate creates missing tables and seeds the default game catalog.
func (p *Postgres) Migrate(ctx context.Context) error {
	if _, err := p.pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	q := `
		INSERT INTO game_types (code, name, icon, description, min_players, max_players,
		                        avg_duration, difficulty, sort_order, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (code) DO NOTHING
	`
	return pgx.BeginTxFunc(ctx, p.pool, pgx.TxOptions{}, func(tx pgx.Tx) error {
		for _, gt := range DefaultGameTypes {
			if _, err := tx.Exec(ctx, q,
				gt.Code, gt.Name, gt.Icon, gt.Description, gt.MinPlayers, gt.MaxPlayers,
				gt.AvgDuration, gt.Difficulty, gt.SortOrder, gt.Status,
			); err != nil {
				return fmt.Errorf("seed game type %s: %w", gt.Code, err)
			}
		}
		return nil
	})
}

// WithTx runs fn inside a read-committed transaction. Finishing a record is a conditional
// update on result='playing', so a concurrent finish of the same record blocks on the row
// lock and then matches nothing.
func (p *Postgres) WithTx(ctx context.Context, fn func(tx Tx) error) error {
	return pgx.BeginTxFunc(ctx, p.pool, pgx.TxOptions{}, func(tx pgx.Tx) error {
		return fn(&pgTx{tx: tx})
	})
}

type pgTx struct {
	tx pgx.Tx
}

// isUniqueViolation reports whether err is a Postgres unique_violation.
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

// notFound maps pgx.ErrNoRows onto ErrNotFound.
func notFound(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	return err
}
