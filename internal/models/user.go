package models

import (
	"time"

	"github.com/google/uuid"
)

const (
	StatusActive   = "active"
	StatusInactive = "inactive"
)

// ExperiencePerLevel is how much experience separates two consecutive levels.
const ExperiencePerLevel = 1000

// LevelFor derives a level from total experience. Level is never tracked on its own.
func LevelFor(experience int64) int {
	if experience < 0 {
		experience = 0
	}
	return int(experience/ExperiencePerLevel) + 1
}

type User struct {
	ID        uuid.UUID  `json:"id"`
	OpenID    string     `json:"-"`
	Nickname  string     `json:"nickname"`
	Avatar    string     `json:"avatar"`
	Gender    string     `json:"gender"`
	Birthday  *time.Time `json:"birthday"`
	Signature string     `json:"signature"`

	Level      int   `json:"level"`
	Experience int64 `json:"experience"`
	Coins      int64 `json:"coins"`

	Status      string     `json:"status"`
	LastLoginAt *time.Time `json:"last_login_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`

	Preferences Preferences `json:"preferences"`
}

// Active reports whether the user may authenticate.
func (u *User) Active() bool {
	return u.Status == StatusActive
}

// Summary is the trimmed user shape returned by token refresh.
type Summary struct {
	ID         uuid.UUID `json:"id"`
	Nickname   string    `json:"nickname"`
	Avatar     string    `json:"avatar"`
	Level      int       `json:"level"`
	Experience int64     `json:"experience"`
	Coins      int64     `json:"coins"`
}

func (u *User) Summary() Summary {
	return Summary{
		ID:         u.ID,
		Nickname:   u.Nickname,
		Avatar:     u.Avatar,
		Level:      u.Level,
		Experience: u.Experience,
		Coins:      u.Coins,
	}
}

type Preferences struct {
	FavoriteGames       []string `json:"favorite_games"`
	SkillLevel          string   `json:"skill_level"`
	Privacy             string   `json:"privacy"`
	NotificationEnabled bool     `json:"notification_enabled"`
	SoundEnabled        bool     `json:"sound_enabled"`
	VibrationEnabled    bool     `json:"vibration_enabled"`
}

// DefaultPreferences is what a user without a stored preference row sees.
func DefaultPreferences() Preferences {
	return Preferences{
		FavoriteGames:       []string{},
		SkillLevel:          "beginner",
		Privacy:             "public",
		NotificationEnabled: true,
		SoundEnabled:        true,
		VibrationEnabled:    true,
	}
}

// PreferencesPatch carries optional preference changes; nil fields are left alone.
type PreferencesPatch struct {
	FavoriteGames       *[]string `json:"favorite_games,omitempty"`
	SkillLevel          *string   `json:"skill_level,omitempty"`
	Privacy             *string   `json:"privacy,omitempty"`
	NotificationEnabled *bool     `json:"notification_enabled,omitempty"`
	SoundEnabled        *bool     `json:"sound_enabled,omitempty"`
	VibrationEnabled    *bool     `json:"vibration_enabled,omitempty"`
}

// Apply returns p with every non-nil field of the patch written over it.
func (pp PreferencesPatch) Apply(p Preferences) Preferences {
	if pp.FavoriteGames != nil {
		p.FavoriteGames = *pp.FavoriteGames
	}
	if pp.SkillLevel != nil {
		p.SkillLevel = *pp.SkillLevel
	}
	if pp.Privacy != nil {
		p.Privacy = *pp.Privacy
	}
	if pp.NotificationEnabled != nil {
		p.NotificationEnabled = *pp.NotificationEnabled
	}
	if pp.SoundEnabled != nil {
		p.SoundEnabled = *pp.SoundEnabled
	}
	if pp.VibrationEnabled != nil {
		p.VibrationEnabled = *pp.VibrationEnabled
	}
	if p.FavoriteGames == nil {
		p.FavoriteGames = []string{}
	}
	return p
}

// ProfilePatch carries optional profile changes; nil fields are left alone.
type ProfilePatch struct {
	Nickname  *string    `json:"nickname,omitempty"`
	Avatar    *string    `json:"avatar,omitempty"`
	Gender    *string    `json:"gender,omitempty"`
	Birthday  *time.Time `json:"birthday,omitempty"`
	Signature *string    `json:"signature,omitempty"`
}

func (pp ProfilePatch) Empty() bool {
	return pp.Nickname == nil && pp.Avatar == nil && pp.Gender == nil && pp.Birthday == nil && pp.Signature == nil
}

// OverallStats aggregates a user's lifetime progress across every game type.
type OverallStats struct {
	UserID     uuid.UUID `json:"user_id"`
	Level      int       `json:"level"`
	Experience int64     `json:"experience"`
	Coins      int64     `json:"coins"`
	TotalGames int       `json:"total_games"`
	TotalWins  int       `json:"total_wins"`
}
