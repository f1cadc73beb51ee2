package session

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/valkey-io/valkey-go"
)

const (
	sessionKeyPrefix = "cellforge:mcp:session:"
	sessionTTL       = 30 * time.Minute
	maxRecentRuns    = 10
)

// Session is an agent's working context across MCP tool calls: the workbook
// it is editing and the backend it prefers. Stored in Valkey with a
// 30-minute TTL, keyed by cellforge:mcp:session:{session_id}.
type Session struct {
	ID         string    `json:"id"`
	Workbook   string    `json:"workbook,omitempty"`
	Backend    string    `json:"backend,omitempty"`
	Model      string    `json:"model,omitempty"`
	RecentRuns []string  `json:"recent_runs,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Manager handles loading and saving sessions to Valkey.
type Manager struct {
	client valkey.Client
}

func NewManager(client valkey.Client) *Manager {
	return &Manager{client: client}
}

// Load retrieves a session from Valkey. If the session doesn't exist, a new one is created.
func (m *Manager) Load(ctx context.Context, sessionID string) (*Session, error) {
	if sessionID == "" {
		sessionID = uuid.New().String()
	}

	key := sessionKeyPrefix + sessionID
	data, err := m.client.Do(ctx, m.client.B().Get().Key(key).Build()).AsBytes()
	if err != nil {
		if valkey.IsValkeyNil(err) {
			return New(sessionID), nil
		}
		return nil, fmt.Errorf("load session %s: %w", sessionID, err)
	}

	var s Session
	if err := json.Unmarshal(data, &s); err != nil {
		return New(sessionID), nil
	}
	return &s, nil
}

// Save persists a session and restarts its TTL.
func (m *Manager) Save(ctx context.Context, s *Session) error {
	s.UpdatedAt = time.Now()
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}

	key := sessionKeyPrefix + s.ID
	if err := m.client.Do(ctx, m.client.B().Set().Key(key).Value(string(data)).Ex(sessionTTL).Build()).Error(); err != nil {
		return fmt.Errorf("save session %s: %w", s.ID, err)
	}
	return nil
}

func New(id string) *Session {
	now := time.Now()
	return &Session{ID: id, CreatedAt: now, UpdatedAt: now}
}

// UseWorkbook makes key the session's default source.
func (s *Session) UseWorkbook(key string) {
	s.Workbook = key
}

// UseBackend records the preferred backend and model. Empty values keep
// the current preference.
func (s *Session) UseBackend(backend, model string) {
	if backend != "" && backend != s.Backend {
		s.Backend = backend
		s.Model = ""
	}
	if model != "" {
		s.Model = model
	}
}

// AddRun remembers a started run, keeping the last maxRecentRuns.
func (s *Session) AddRun(id uuid.UUID) {
	s.RecentRuns = append(s.RecentRuns, id.String())
	if len(s.RecentRuns) > maxRecentRuns {
		s.RecentRuns = s.RecentRuns[len(s.RecentRuns)-maxRecentRuns:]
	}
}

// LastRun returns the most recently started run.
func (s *Session) LastRun() (uuid.UUID, bool) {
	for i := len(s.RecentRuns) - 1; i >= 0; i-- {
		if id, err := uuid.Parse(s.RecentRuns[i]); err == nil {
			return id, true
		}
	}
	return uuid.Nil, false
}

// Source resolves an explicit source against the session's workbook.
func (s *Session) Source(explicit string) string {
	if explicit != "" {
		return explicit
	}
	return s.Workbook
}
