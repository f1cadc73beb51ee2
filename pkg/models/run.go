package models

import (
	"time"

	"github.com/google/uuid"
)

type RunState string

const (
	RunStateIdle      RunState = "idle"
	RunStateQueued    RunState = "queued"
	RunStateRunning   RunState = "running"
	RunStateCompleted RunState = "completed"
	RunStateCancelled RunState = "cancelled"
	RunStateFailed    RunState = "failed"
)

// Terminal reports whether no further transitions can happen.
func (s RunState) Terminal() bool {
	return s == RunStateCompleted || s == RunStateCancelled || s == RunStateFailed
}

// Progress is one status report emitted by a running batch.
type Progress struct {
	RunID     uuid.UUID `json:"run_id"`
	Processed int       `json:"processed"`
	Succeeded int       `json:"succeeded"`
	Failed    int       `json:"failed"`
	Total     int       `json:"total"`
	Status    string    `json:"status"`
	At        time.Time `json:"at"`
}

// Completion is delivered exactly once per run, whatever the outcome.
type Completion struct {
	RunID     uuid.UUID    `json:"run_id"`
	State     RunState     `json:"state"`
	Results   []CellResult `json:"results"`
	Succeeded int          `json:"succeeded"`
	Failed    int          `json:"failed"`
	Err       string       `json:"error,omitempty"`
}

// Run is the persisted record of a batch run.
type Run struct {
	ID             uuid.UUID  `json:"id"`
	Status         RunState   `json:"status"`
	Source         string     `json:"source"`
	Columns        []string   `json:"columns"`
	ContextColumns []string   `json:"context_columns,omitempty"`
	StartRow       int        `json:"start_row"`
	EndRow         int        `json:"end_row"`
	Filter         string     `json:"filter,omitempty"`
	SystemPrompt   string     `json:"system_prompt"`
	UserPrompt     string     `json:"user_prompt"`
	Backend        string     `json:"backend"`
	Model          string     `json:"model"`
	BatchSize      int        `json:"batch_size"`
	Temperature    float64    `json:"temperature"`
	MaxTokens      int        `json:"max_tokens"`
	AutoSave       bool       `json:"auto_save"`
	Total          int        `json:"total"`
	Succeeded      int        `json:"succeeded"`
	Failed         int        `json:"failed"`
	Applied        int        `json:"applied"`
	ErrorMessage   *string    `json:"error_message,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	StartedAt      *time.Time `json:"started_at,omitempty"`
	FinishedAt     *time.Time `json:"finished_at,omitempty"`
}
