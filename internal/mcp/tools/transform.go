package tools

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/maraichr/cellforge/internal/config"
	"github.com/maraichr/cellforge/internal/llm"
	"github.com/maraichr/cellforge/internal/logging"
	"github.com/maraichr/cellforge/internal/mcp"
	"github.com/maraichr/cellforge/internal/preview"
	"github.com/maraichr/cellforge/internal/table"
)

const maxPreviewCells = 20

// --- list_prompts ---

type ListPromptsParams struct{}

// ListPromptsHandler implements the list_prompts MCP tool.
type ListPromptsHandler struct{}

func (ListPromptsHandler) Handle(_ context.Context, _ ListPromptsParams) (string, error) {
	prompts := config.Prompts()
	rb := mcp.NewResponseBuilder(0)
	rb.AddHeader(fmt.Sprintf("**Predefined prompts** (%d)", len(prompts)))
	for _, p := range prompts {
		rb.AddLine(fmt.Sprintf("- **%s**: %s", p.Name, p.Instruction))
	}
	return rb.FinalizeWithHints(len(prompts), len(prompts), mcp.SuggestNextSteps("list_prompts", nil)), nil
}

// --- list_models ---

type ListModelsParams struct {
	Backend string `json:"backend,omitempty"`
}

// ListModelsHandler implements the list_models MCP tool.
type ListModelsHandler struct {
	backends Backends
	logger   *slog.Logger
}

func NewListModelsHandler(backends Backends, logger *slog.Logger) *ListModelsHandler {
	return &ListModelsHandler{backends: backends, logger: logging.OrNop(logger)}
}

func (h *ListModelsHandler) Handle(ctx context.Context, params ListModelsParams) (string, error) {
	target, err := resolveTarget(h.backends, params.Backend, "", nil)
	if err != nil {
		return "", err
	}
	models, err := target.ListModels(ctx)
	if err != nil {
		return "", err
	}

	rb := mcp.NewResponseBuilder(0)
	rb.AddHeader(fmt.Sprintf("**%s models** (%d, configured backends: %v)", target.Backend(), len(models), h.backends.Configured()))
	returned := 0
	for _, m := range models {
		marker := ""
		if m.ID == target.Model() {
			marker = " *(default)*"
		}
		if !rb.AddLine(fmt.Sprintf("- `%s`%s", m.ID, marker)) {
			break
		}
		returned++
	}
	return rb.Finalize(len(models), returned), nil
}

// --- test_connection ---

type TestConnectionParams struct {
	Backend string `json:"backend,omitempty"`
	Model   string `json:"model,omitempty"`
}

// TestConnectionHandler implements the test_connection MCP tool.
type TestConnectionHandler struct {
	backends Backends
}

func NewTestConnectionHandler(backends Backends) *TestConnectionHandler {
	return &TestConnectionHandler{backends: backends}
}

func (h *TestConnectionHandler) Handle(ctx context.Context, params TestConnectionParams) (string, error) {
	target, err := resolveTarget(h.backends, params.Backend, params.Model, nil)
	if err != nil {
		return "", err
	}
	ok, msg := target.TestConnection(ctx)
	status := "OK"
	if !ok {
		status = "FAILED"
	}
	return fmt.Sprintf("**%s** `%s`: %s. %s", target.Backend(), target.Model(), status, msg), nil
}

// --- transform_text ---

type TransformTextParams struct {
	SessionID    string         `json:"session_id,omitempty"`
	Text         string         `json:"text"`
	Instruction  string         `json:"instruction,omitempty"`
	Prompt       string         `json:"prompt,omitempty"`
	SystemPrompt string         `json:"system_prompt,omitempty"`
	Context      map[string]any `json:"context,omitempty"`
	Backend      string         `json:"backend,omitempty"`
	Model        string         `json:"model,omitempty"`
	Temperature  *float64       `json:"temperature,omitempty"`
	MaxTokens    int            `json:"max_tokens,omitempty"`
}

// TransformTextHandler implements the transform_text MCP tool: one cell's
// worth of transformation on free text.
type TransformTextHandler struct {
	backends Backends
	sessions Sessions
	defaults config.ProcessingConfig
	logger   *slog.Logger
}

func NewTransformTextHandler(backends Backends, sessions Sessions, defaults config.ProcessingConfig, logger *slog.Logger) *TransformTextHandler {
	return &TransformTextHandler{backends: backends, sessions: sessions, defaults: defaults, logger: logging.OrNop(logger)}
}

func (h *TransformTextHandler) Handle(ctx context.Context, params TransformTextParams) (string, error) {
	instr, err := instruction(params.Instruction, params.Prompt)
	if err != nil {
		return "", err
	}
	sess := loadSession(ctx, h.sessions, params.SessionID, h.logger)
	target, err := resolveTarget(h.backends, params.Backend, params.Model, sess)
	if err != nil {
		return "", err
	}
	req := cellRequest(h.defaults, params.SystemPrompt, instr, params.Temperature, params.MaxTokens)
	req.Content = params.Text
	req.Context = params.Context

	out := target.ProcessCell(ctx, req)
	if !out.Success {
		return "", fmt.Errorf("%s", out.Error)
	}
	if sess != nil {
		sess.UseBackend(string(target.Backend()), params.Model)
		saveSession(ctx, h.sessions, sess, h.logger)
	}
	return out.Value, nil
}

// cellRequest applies processing defaults to per-call tuning.
func cellRequest(d config.ProcessingConfig, system, user string, temperature *float64, maxTokens int) llm.CellRequest {
	req := llm.CellRequest{
		SystemPrompt: system,
		UserPrompt:   user,
		Temperature:  d.Temperature,
		MaxTokens:    d.MaxTokens,
	}
	if req.SystemPrompt == "" {
		req.SystemPrompt = d.SystemPrompt
	}
	if temperature != nil {
		req.Temperature = min(max(*temperature, 0), 1)
	}
	if maxTokens > 0 {
		req.MaxTokens = maxTokens
	}
	return req
}

// --- preview_range ---

type PreviewRangeParams struct {
	SessionID         string   `json:"session_id,omitempty"`
	Source            string   `json:"source,omitempty"`
	Columns           []string `json:"columns"`
	ContextColumns    []string `json:"context_columns,omitempty"`
	StartRow          int      `json:"start_row,omitempty"`
	EndRow            int      `json:"end_row,omitempty"`
	Filter            string   `json:"filter,omitempty"`
	Instruction       string   `json:"instruction,omitempty"`
	Prompt            string   `json:"prompt,omitempty"`
	SystemPrompt      string   `json:"system_prompt,omitempty"`
	Backend           string   `json:"backend,omitempty"`
	Model             string   `json:"model,omitempty"`
	Temperature       *float64 `json:"temperature,omitempty"`
	MaxTokens         int      `json:"max_tokens,omitempty"`
	Limit             int      `json:"limit,omitempty"`
	Verbosity         string   `json:"verbosity,omitempty"`
	MaxResponseTokens int      `json:"max_response_tokens,omitempty"`
}

// PreviewRangeHandler implements the preview_range MCP tool.
type PreviewRangeHandler struct {
	backends Backends
	objects  table.Objects
	sessions Sessions
	defaults config.ProcessingConfig
	logger   *slog.Logger
}

func NewPreviewRangeHandler(backends Backends, objects table.Objects, sessions Sessions, defaults config.ProcessingConfig, logger *slog.Logger) *PreviewRangeHandler {
	return &PreviewRangeHandler{backends: backends, objects: objects, sessions: sessions, defaults: defaults, logger: logging.OrNop(logger)}
}

// Handle transforms the first few matching cells without writing anything.
func (h *PreviewRangeHandler) Handle(ctx context.Context, params PreviewRangeParams) (string, error) {
	instr, err := instruction(params.Instruction, params.Prompt)
	if err != nil {
		return "", err
	}
	if params.Limit <= 0 {
		params.Limit = h.defaults.PreviewCells
	}
	params.Limit = min(params.Limit, maxPreviewCells)

	sess := loadSession(ctx, h.sessions, params.SessionID, h.logger)
	source := params.Source
	if sess != nil {
		source = sess.Source(source)
	}
	target, err := resolveTarget(h.backends, params.Backend, params.Model, sess)
	if err != nil {
		return "", err
	}
	tasks, _, err := readRange(ctx, h.objects, rangeSpec{
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
	if len(tasks) == 0 {
		return "No cells match the range.", nil
	}

	req := cellRequest(h.defaults, params.SystemPrompt, instr, params.Temperature, params.MaxTokens)
	cells := preview.Run(ctx, target, tasks, preview.Params{
		SystemPrompt: req.SystemPrompt,
		UserPrompt:   req.UserPrompt,
		Temperature:  req.Temperature,
		MaxTokens:    req.MaxTokens,
		Limit:        params.Limit,
	})

	changed, failed := 0, 0
	for _, c := range cells {
		switch {
		case !c.Success:
			failed++
		case c.Changed:
			changed++
		}
	}

	verbosity := mcp.ParseVerbosity(params.Verbosity)
	rb := mcp.NewResponseBuilder(params.MaxResponseTokens)
	rb.AddHeader(fmt.Sprintf("**Preview** of `%s` with %s `%s`: %d cells, %d changed, %d failed (%d match the range)",
		source, target.Backend(), target.Model(), len(cells), changed, failed, len(tasks)))
	returned := 0
	for _, c := range cells {
		if !rb.AddCellCard(c, verbosity) {
			break
		}
		returned++
	}
	if sess != nil {
		sess.UseBackend(string(target.Backend()), params.Model)
		saveSession(ctx, h.sessions, sess, h.logger)
	}
	return rb.FinalizeWithHints(len(cells), returned, mcp.SuggestNextSteps("preview_range", sess)), nil
}
