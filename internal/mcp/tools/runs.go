package tools

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/maraichr/cellforge/internal/config"
	"github.com/maraichr/cellforge/internal/jobs"
	"github.com/maraichr/cellforge/internal/logging"
	"github.com/maraichr/cellforge/internal/mcp"
	"github.com/maraichr/cellforge/internal/mcp/session"
	"github.com/maraichr/cellforge/internal/store/postgres"
	"github.com/maraichr/cellforge/internal/table"
	"github.com/maraichr/cellforge/pkg/models"
)

// RunStore is the run history the run tools need.
type RunStore interface {
	CreateRun(ctx context.Context, r *models.Run) error
	GetRun(ctx context.Context, id uuid.UUID) (models.Run, error)
	ListCellResults(ctx context.Context, arg postgres.ListCellResultsParams) ([]models.CellResult, error)
	UpdateRunStatus(ctx context.Context, id uuid.UUID, status models.RunState, errMsg *string) error
}

type Enqueuer interface {
	Enqueue(ctx context.Context, msg jobs.RunMessage) (string, error)
}

type RunSignals interface {
	RequestCancel(ctx context.Context, runID uuid.UUID) error
	Progress(ctx context.Context, runID uuid.UUID) (models.Progress, error)
}

// --- start_run ---

type StartRunParams struct {
	SessionID      string   `json:"session_id,omitempty"`
	Source         string   `json:"source,omitempty"`
	Columns        []string `json:"columns"`
	ContextColumns []string `json:"context_columns,omitempty"`
	StartRow       int      `json:"start_row,omitempty"`
	EndRow         int      `json:"end_row,omitempty"`
	Filter         string   `json:"filter,omitempty"`
	Instruction    string   `json:"instruction,omitempty"`
	Prompt         string   `json:"prompt,omitempty"`
	SystemPrompt   string   `json:"system_prompt,omitempty"`
	Backend        string   `json:"backend,omitempty"`
	Model          string   `json:"model,omitempty"`
	BatchSize      int      `json:"batch_size,omitempty"`
	Temperature    *float64 `json:"temperature,omitempty"`
	MaxTokens      int      `json:"max_tokens,omitempty"`
	AutoSave       *bool    `json:"auto_save,omitempty"`
}

// StartRunHandler implements the start_run MCP tool.
type StartRunHandler struct {
	runs     RunStore
	queue    Enqueuer
	backends Backends
	objects  table.Objects
	sessions Sessions
	defaults config.ProcessingConfig
	logger   *slog.Logger
}

func NewStartRunHandler(runs RunStore, queue Enqueuer, backends Backends, objects table.Objects, sessions Sessions, defaults config.ProcessingConfig, logger *slog.Logger) *StartRunHandler {
	return &StartRunHandler{
		runs:     runs,
		queue:    queue,
		backends: backends,
		objects:  objects,
		sessions: sessions,
		defaults: defaults,
		logger:   logging.OrNop(logger),
	}
}

// Handle queues a batch run over the range. Workers pick it up; follow it
// with get_run.
func (h *StartRunHandler) Handle(ctx context.Context, params StartRunParams) (string, error) {
	if err := requireWrite(ctx); err != nil {
		return "", err
	}
	if h.runs == nil || h.queue == nil {
		return "", fmt.Errorf("batch runs are not available on this server")
	}
	instr, err := instruction(params.Instruction, params.Prompt)
	if err != nil {
		return "", err
	}
	if params.BatchSize < 0 {
		return "", fmt.Errorf("batch_size must be positive")
	}

	sess := loadSession(ctx, h.sessions, params.SessionID, h.logger)
	source := params.Source
	if sess != nil {
		source = sess.Source(source)
	}
	target, err := resolveTarget(h.backends, params.Backend, params.Model, sess)
	if err != nil {
		return "", err
	}
	tasks, end, err := readRange(ctx, h.objects, rangeSpec{
		Source:         source,
		Columns:        params.Columns,
		ContextColumns: params.ContextColumns,
		StartRow:       params.StartRow,
		EndRow:         params.EndRow,
		Filter:         params.Filter,
	})
	if err != nil {
		return "", err
	}

	req := cellRequest(h.defaults, params.SystemPrompt, instr, params.Temperature, params.MaxTokens)
	run := models.Run{
		ID:             uuid.New(),
		Status:         models.RunStateQueued,
		Source:         source,
		Columns:        params.Columns,
		ContextColumns: params.ContextColumns,
		StartRow:       params.StartRow,
		EndRow:         end,
		Filter:         params.Filter,
		SystemPrompt:   req.SystemPrompt,
		UserPrompt:     req.UserPrompt,
		Backend:        string(target.Backend()),
		Model:          target.Model(),
		BatchSize:      h.defaults.BatchSize,
		Temperature:    req.Temperature,
		MaxTokens:      req.MaxTokens,
		AutoSave:       h.defaults.AutoSave,
		Total:          len(tasks),
	}
	if params.BatchSize > 0 {
		run.BatchSize = params.BatchSize
	}
	if params.AutoSave != nil {
		run.AutoSave = *params.AutoSave
	}

	if err := h.runs.CreateRun(ctx, &run); err != nil {
		return "", fmt.Errorf("create run: %w", err)
	}
	if _, err := h.queue.Enqueue(ctx, jobs.RunMessage{RunID: run.ID, Trigger: "mcp", EnqueuedAt: time.Now().UTC()}); err != nil {
		msg := "enqueue failed: " + err.Error()
		if uerr := h.runs.UpdateRunStatus(context.WithoutCancel(ctx), run.ID, models.RunStateFailed, &msg); uerr != nil {
			h.logger.Error("mark run failed", slog.String("run_id", run.ID.String()), slog.String("error", uerr.Error()))
		}
		return "", fmt.Errorf("queue run: %w", err)
	}
	h.logger.Info("run queued via mcp", slog.String("run_id", run.ID.String()), slog.Int("cells", run.Total))

	if sess != nil {
		sess.AddRun(run.ID)
		sess.UseBackend(run.Backend, run.Model)
		saveSession(ctx, h.sessions, sess, h.logger)
	}

	rb := mcp.NewResponseBuilder(0)
	rb.AddRawText(mcp.FormatRun(run, nil))
	return rb.FinalizeWithHints(0, 0, mcp.SuggestNextSteps("start_run", sess)), nil
}

// --- get_run ---

type GetRunParams struct {
	SessionID         string `json:"session_id,omitempty"`
	RunID             string `json:"run_id,omitempty"`
	IncludeResults    bool   `json:"include_results,omitempty"`
	FailedOnly        bool   `json:"failed_only,omitempty"`
	Limit             int32  `json:"limit,omitempty"`
	Offset            int32  `json:"offset,omitempty"`
	MaxResponseTokens int    `json:"max_response_tokens,omitempty"`
}

// GetRunHandler implements the get_run MCP tool.
type GetRunHandler struct {
	runs     RunStore
	signals  RunSignals
	sessions Sessions
	logger   *slog.Logger
}

func NewGetRunHandler(runs RunStore, signals RunSignals, sessions Sessions, logger *slog.Logger) *GetRunHandler {
	return &GetRunHandler{runs: runs, signals: signals, sessions: sessions, logger: logging.OrNop(logger)}
}

func (h *GetRunHandler) Handle(ctx context.Context, params GetRunParams) (string, error) {
	if h.runs == nil {
		return "", fmt.Errorf("batch runs are not available on this server")
	}
	sess := loadSession(ctx, h.sessions, params.SessionID, h.logger)
	id, err := runIDFor(params.RunID, sess)
	if err != nil {
		return "", err
	}
	run, err := h.runs.GetRun(ctx, id)
	if err != nil {
		return "", WrapRunError(err)
	}

	var progress *models.Progress
	if h.signals != nil && !run.Status.Terminal() {
		p, err := h.signals.Progress(ctx, id)
		switch {
		case err == nil:
			progress = &p
		case !errors.Is(err, jobs.ErrNoProgress):
			h.logger.Warn("load run progress", slog.String("run_id", id.String()), slog.String("error", err.Error()))
		}
	}

	rb := mcp.NewResponseBuilder(params.MaxResponseTokens)
	rb.AddRawText(mcp.FormatRun(run, progress))
	if !params.IncludeResults {
		return rb.FinalizeWithHints(0, 0, mcp.SuggestNextSteps("get_run", sess)), nil
	}

	if params.Limit <= 0 || params.Limit > 500 {
		params.Limit = 50
	}
	results, err := h.runs.ListCellResults(ctx, postgres.ListCellResultsParams{
		RunID:      id,
		FailedOnly: params.FailedOnly,
		Limit:      params.Limit,
		Offset:     max(params.Offset, 0),
	})
	if err != nil {
		return "", fmt.Errorf("list results: %w", err)
	}
	rb.AddRawText("\n")
	rb.AddHeader(fmt.Sprintf("**Results** (%d)", len(results)))
	returned := 0
	for _, r := range results {
		if !rb.AddResult(r) {
			break
		}
		returned++
	}
	return rb.FinalizeWithHints(len(results), returned, mcp.SuggestNextSteps("get_run", sess)), nil
}

// --- cancel_run ---

type CancelRunParams struct {
	SessionID string `json:"session_id,omitempty"`
	RunID     string `json:"run_id,omitempty"`
}

// CancelRunHandler implements the cancel_run MCP tool.
type CancelRunHandler struct {
	runs     RunStore
	signals  RunSignals
	sessions Sessions
	logger   *slog.Logger
}

func NewCancelRunHandler(runs RunStore, signals RunSignals, sessions Sessions, logger *slog.Logger) *CancelRunHandler {
	return &CancelRunHandler{runs: runs, signals: signals, sessions: sessions, logger: logging.OrNop(logger)}
}

func (h *CancelRunHandler) Handle(ctx context.Context, params CancelRunParams) (string, error) {
	if err := requireWrite(ctx); err != nil {
		return "", err
	}
	if h.runs == nil || h.signals == nil {
		return "", fmt.Errorf("batch runs are not available on this server")
	}
	id, err := runIDFor(params.RunID, loadSession(ctx, h.sessions, params.SessionID, h.logger))
	if err != nil {
		return "", err
	}
	run, err := h.runs.GetRun(ctx, id)
	if err != nil {
		return "", WrapRunError(err)
	}
	if run.Status.Terminal() {
		return "", fmt.Errorf("run %s is already %s", id, run.Status)
	}
	if err := h.signals.RequestCancel(ctx, id); err != nil {
		return "", fmt.Errorf("cancel run: %w", err)
	}
	if run.Status == models.RunStateQueued {
		if err := h.runs.UpdateRunStatus(ctx, id, models.RunStateCancelled, nil); err != nil {
			return "", fmt.Errorf("cancel run: %w", err)
		}
		return fmt.Sprintf("Run `%s` cancelled before it started.", id), nil
	}
	return fmt.Sprintf("Cancel requested for run `%s`; it stops after the cell in progress.", id), nil
}

func runIDFor(raw string, sess *session.Session) (uuid.UUID, error) {
	if raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			return uuid.Nil, fmt.Errorf("invalid run_id %q", raw)
		}
		return id, nil
	}
	if sess != nil {
		if id, ok := sess.LastRun(); ok {
			return id, nil
		}
	}
	return uuid.Nil, fmt.Errorf("run_id is required")
}
