package client

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/pencilparty/pencilparty/internal/models"
)

// Session is what the client persists between runs.
type Session struct {
	AccessToken  string       `json:"accessToken"`
	RefreshToken string       `json:"refreshToken"`
	User         *models.User `json:"user,omitempty"`
}

// TokenStore persists the session. Load on an empty store returns a zero Session.
// Update applies fn to the stored session under the store's lock and saves the result
// only when fn returns true.
type TokenStore interface {
	Load() (Session, error)
	Save(Session) error
	Update(fn func(*Session) bool) error
	Clear() error
}

// MemoryTokens keeps the session for the life of the process.
type MemoryTokens struct {
	mu sync.Mutex
	s  Session
}

func NewMemoryTokens() *MemoryTokens {
	return &MemoryTokens{}
}

func (m *MemoryTokens) Load() (Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.s, nil
}

func (m *MemoryTokens) Save(s Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.s = s
	return nil
}

func (m *MemoryTokens) Update(fn func(*Session) bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.s
	if fn(&s) {
		m.s = s
	}
	return nil
}

func (m *MemoryTokens) Clear() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.s = Session{}
	return nil
}

// FileTokens stores the session as JSON in a user-private file.
type FileTokens struct {
	path string
	mu   sync.Mutex
}

func NewFileTokens(path string) *FileTokens {
	return &FileTokens{path: path}
}

func (f *FileTokens) Load() (Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.load()
}

// Save writes through a temp file and rename so a crash never leaves a torn file.
func (f *FileTokens) Save(s Session) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.save(s)
}

func (f *FileTokens) Update(fn func(*Session) bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, err := f.load()
	if err != nil {
		return err
	}
	if !fn(&s) {
		return nil
	}
	return f.save(s)
}

func (f *FileTokens) load() (Session, error) {
	var s Session
	raw, err := os.ReadFile(f.path)
	if errors.Is(err, fs.ErrNotExist) {
		return s, nil
	}
	if err != nil {
		return s, fmt.Errorf("read token file: %w", err)
	}
	if err := json.Unmarshal(raw, &s); err != nil {
		return Session{}, fmt.Errorf("decode token file %s: %w", f.path, err)
	}
	return s, nil
}

func (f *FileTokens) save(s Session) error {
	raw, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(f.path), 0o700); err != nil {
		return fmt.Errorf("create token dir: %w", err)
	}
	tmp := f.path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o600); err != nil {
		return fmt.Errorf("write token file: %w", err)
	}
	return os.Rename(tmp, f.path)
}

func (f *FileTokens) Clear() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := os.Remove(f.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove token file: %w", err)
	}
	return nil
}
