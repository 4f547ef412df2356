package database

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/pencilparty/pencilparty/internal/models"
)

const userColumns = `
	u.id, u.openid, u.nickname, u.avatar, u.gender, u.birthday, u.signature,
	u.level, u.experience, u.coins, u.status, u.last_login_at, u.created_at, u.updated_at,
	up.favorite_games, up.skill_level, up.privacy,
	up.notification_enabled, up.sound_enabled, up.vibration_enabled
`

// CreateUser inserts u, assigning an id when none is set. A duplicate openid yields ErrConflict.
func (p *Postgres) CreateUser(ctx context.Context, u *models.User) error {
	if u.ID == uuid.Nil {
		id, err := uuid.NewRandom()
		if err != nil {
			return fmt.Errorf("failed to generate user id: %w", err)
		}
		u.ID = id
	}
	if u.Status == "" {
		u.Status = models.StatusActive
	}

	q := `
		INSERT INTO users (id, openid, nickname, avatar, gender, birthday, signature, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING level, experience, coins, created_at, updated_at
	`
	err := pgx.BeginTxFunc(ctx, p.pool, pgx.TxOptions{}, func(tx pgx.Tx) error {
		return tx.QueryRow(ctx, q,
			u.ID, u.OpenID, u.Nickname, u.Avatar, u.Gender, u.Birthday, u.Signature, u.Status,
		).Scan(&u.Level, &u.Experience, &u.Coins, &u.CreatedAt, &u.UpdatedAt)
	})
	if err != nil {
		if isUniqueViolation(err) {
			return ErrConflict
		}
		return fmt.Errorf("failed to insert user: %w", err)
	}
	u.Preferences = models.DefaultPreferences()
	return nil
}

func (p *Postgres) GetUserByID(ctx context.Context, id uuid.UUID) (*models.User, error) {
	q := `SELECT ` + userColumns + `
		FROM users u
		LEFT JOIN user_preferences up ON up.user_id = u.id
		WHERE u.id = $1`
	return scanUser(p.pool.QueryRow(ctx, q, id))
}

func (p *Postgres) GetUserByOpenID(ctx context.Context, openID string) (*models.User, error) {
	q := `SELECT ` + userColumns + `
		FROM users u
		LEFT JOIN user_preferences up ON up.user_id = u.id
		WHERE u.openid = $1`
	return scanUser(p.pool.QueryRow(ctx, q, openID))
}

func scanUser(row pgx.Row) (*models.User, error) {
	var (
		u                      models.User
		favorite               []byte
		skill, privacy         *string
		notify, sound, vibrate *bool
	)
	err := row.Scan(
		&u.ID, &u.OpenID, &u.Nickname, &u.Avatar, &u.Gender, &u.Birthday, &u.Signature,
		&u.Level, &u.Experience, &u.Coins, &u.Status, &u.LastLoginAt, &u.CreatedAt, &u.UpdatedAt,
		&favorite, &skill, &privacy, &notify, &sound, &vibrate,
	)
	if err != nil {
		return nil, notFound(err)
	}

	// no preference row yet means defaults
	u.Preferences = models.DefaultPreferences()
	if len(favorite) > 0 {
		if err := json.Unmarshal(favorite, &u.Preferences.FavoriteGames); err != nil {
			return nil, fmt.Errorf("decode favorite_games: %w", err)
		}
	}
	if skill != nil {
		u.Preferences.SkillLevel = *skill
	}
	if privacy != nil {
		u.Preferences.Privacy = *privacy
	}
	if notify != nil {
		u.Preferences.NotificationEnabled = *notify
	}
	if sound != nil {
		u.Preferences.SoundEnabled = *sound
	}
	if vibrate != nil {
		u.Preferences.VibrationEnabled = *vibrate
	}
	return &u, nil
}

// UpdateProfile writes the non-nil fields of patch onto an active user.
func (p *Postgres) UpdateProfile(ctx context.Context, id uuid.UUID, patch models.ProfilePatch) error {
	q := `
		UPDATE users
		SET nickname  = COALESCE($2, nickname),
		    avatar    = COALESCE($3, avatar),
		    gender    = COALESCE($4, gender),
		    birthday  = COALESCE($5, birthday),
		    signature = COALESCE($6, signature),
		    updated_at = NOW()
		WHERE id = $1 AND status = 'active'
	`
	return pgx.BeginTxFunc(ctx, p.pool, pgx.TxOptions{}, func(tx pgx.Tx) error {
		ct, err := tx.Exec(ctx, q, id, patch.Nickname, patch.Avatar, patch.Gender, patch.Birthday, patch.Signature)
		if err != nil {
			return err
		}
		if ct.RowsAffected() == 0 {
			return ErrNotFound
		}
		return nil
	})
}

func (p *Postgres) TouchLastLogin(ctx context.Context, id uuid.UUID) error {
	_, err := p.pool.Exec(ctx, `UPDATE users SET last_login_at = NOW() WHERE id = $1`, id)
	return err
}

// SavePreferences replaces the user's preference row.
func (p *Postgres) SavePreferences(ctx context.Context, id uuid.UUID, prefs models.Preferences) error {
	favorite, err := json.Marshal(prefs.FavoriteGames)
	if err != nil {
		return fmt.Errorf("encode favorite_games: %w", err)
	}
	q := `
		INSERT INTO user_preferences (user_id, favorite_games, skill_level, privacy,
		                              notification_enabled, sound_enabled, vibration_enabled)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (user_id) DO UPDATE SET
			favorite_games       = EXCLUDED.favorite_games,
			skill_level          = EXCLUDED.skill_level,
			privacy              = EXCLUDED.privacy,
			notification_enabled = EXCLUDED.notification_enabled,
			sound_enabled        = EXCLUDED.sound_enabled,
			vibration_enabled    = EXCLUDED.vibration_enabled,
			updated_at           = NOW()
	`
	return pgx.BeginTxFunc(ctx, p.pool, pgx.TxOptions{}, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, q, id, favorite, prefs.SkillLevel, prefs.Privacy,
			prefs.NotificationEnabled, prefs.SoundEnabled, prefs.VibrationEnabled)
		return err
	})
}

// SoftDeleteUser flips status to inactive; the row and its history are kept.
func (p *Postgres) SoftDeleteUser(ctx context.Context, id uuid.UUID) error {
	ct, err := p.pool.Exec(ctx, `UPDATE users SET status = 'inactive', updated_at = NOW() WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *Postgres) UserStats(ctx context.Context, id uuid.UUID) (*models.OverallStats, error) {
	q := `
		SELECT u.id, u.level, u.experience, u.coins,
		       COUNT(gr.id)::int,
		       COALESCE(SUM(CASE WHEN gr.result = 'win' THEN 1 ELSE 0 END), 0)::int
		FROM users u
		LEFT JOIN game_records gr ON gr.user_id = u.id AND gr.result <> 'playing'
		WHERE u.id = $1
		GROUP BY u.id
	`
	var s models.OverallStats
	err := p.pool.QueryRow(ctx, q, id).Scan(&s.UserID, &s.Level, &s.Experience, &s.Coins, &s.TotalGames, &s.TotalWins)
	if err != nil {
		return nil, notFound(err)
	}
	return &s, nil
}

// CreditUser runs inside a settlement. Level is computed from the incremented experience in
// the same statement, so it can never drift from experience.
func (t *pgTx) CreditUser(ctx context.Context, userID uuid.UUID, experience, coins int64) (Balance, error) {
	q := `
		UPDATE users
		SET experience = experience + $2,
		    coins      = coins + $3,
		    level      = (experience + $2) / 1000 + 1,
		    updated_at = NOW()
		WHERE id = $1
		RETURNING experience, coins, level
	`
	var b Balance
	if err := t.tx.QueryRow(ctx, q, userID, experience, coins).Scan(&b.Experience, &b.Coins, &b.Level); err != nil {
		return Balance{}, fmt.Errorf("credit user %s: %w", userID, notFound(err))
	}
	return b, nil
}
