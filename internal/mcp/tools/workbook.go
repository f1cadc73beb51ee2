package tools

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"github.com/maraichr/cellforge/internal/logging"
	"github.com/maraichr/cellforge/internal/mcp"
	"github.com/maraichr/cellforge/internal/mcp/session"
	"github.com/maraichr/cellforge/internal/table"
	"github.com/maraichr/cellforge/pkg/models"
)

// rangeSpec selects cells of a workbook. EndRow 0 means the last row.
type rangeSpec struct {
	Source         string
	Columns        []string
	ContextColumns []string
	StartRow       int
	EndRow         int
	Filter         string
}

func openSheet(ctx context.Context, objects table.Objects, source string) (*table.Store, error) {
	if objects == nil {
		return nil, fmt.Errorf("workbook storage is not configured")
	}
	if source == "" {
		return nil, fmt.Errorf("source is required (or call use_workbook first)")
	}
	sheet := table.NewStore(nil)
	if err := sheet.OpenObject(ctx, objects, source); err != nil {
		return nil, WrapWorkbookError(source, err)
	}
	return sheet, nil
}

// readRange opens the workbook and extracts the selected cells. It returns
// the resolved end row along with the tasks.
func readRange(ctx context.Context, objects table.Objects, r rangeSpec) ([]models.CellTask, int, error) {
	if len(r.Columns) == 0 {
		return nil, 0, fmt.Errorf("at least one column is required")
	}
	if r.StartRow < 0 || (r.EndRow != 0 && r.EndRow <= r.StartRow) {
		return nil, 0, fmt.Errorf("invalid range: start_row must be >= 0 and end_row greater than start_row")
	}
	sheet, err := openSheet(ctx, objects, r.Source)
	if err != nil {
		return nil, 0, err
	}
	meta := sheet.Meta()
	for _, col := range append(append([]string{}, r.Columns...), r.ContextColumns...) {
		if !slices.Contains(meta.ColumnNames, col) {
			return nil, 0, fmt.Errorf("column %q does not exist; available: %s", col, strings.Join(meta.ColumnNames, ", "))
		}
	}
	end := r.EndRow
	if end == 0 {
		end = meta.Rows
	}
	tasks, err := sheet.ReadRangeWhere(r.StartRow, end, r.Columns, r.ContextColumns, r.Filter)
	if err != nil {
		return nil, 0, fmt.Errorf("invalid filter: %w", err)
	}
	return tasks, end, nil
}

// --- use_workbook ---

type UseWorkbookParams struct {
	SessionID string `json:"session_id"`
	Source    string `json:"source"`
}

// UseWorkbookHandler implements the use_workbook MCP tool.
type UseWorkbookHandler struct {
	objects  table.Objects
	sessions Sessions
	logger   *slog.Logger
}

func NewUseWorkbookHandler(objects table.Objects, sessions Sessions, logger *slog.Logger) *UseWorkbookHandler {
	return &UseWorkbookHandler{objects: objects, sessions: sessions, logger: logging.OrNop(logger)}
}

// Handle checks that the workbook opens and makes it the session default.
func (h *UseWorkbookHandler) Handle(ctx context.Context, params UseWorkbookParams) (string, error) {
	if h.sessions == nil {
		return "", fmt.Errorf("sessions are not available on this server; pass source to each tool instead")
	}
	if params.SessionID == "" {
		return "", fmt.Errorf("session_id is required")
	}
	sheet, err := openSheet(ctx, h.objects, params.Source)
	if err != nil {
		return "", err
	}
	sess := loadSession(ctx, h.sessions, params.SessionID, h.logger)
	if sess == nil {
		sess = session.New(params.SessionID)
	}
	sess.UseWorkbook(params.Source)
	saveSession(ctx, h.sessions, sess, h.logger)

	meta := sheet.Meta()
	rb := mcp.NewResponseBuilder(0)
	rb.AddHeader(fmt.Sprintf("**Working on** `%s` (%d rows, %d columns)", params.Source, meta.Rows, meta.Columns))
	rb.AddLine("Columns: " + strings.Join(meta.ColumnNames, ", "))
	return rb.FinalizeWithHints(0, 0, mcp.SuggestNextSteps("use_workbook", sess)), nil
}

// --- describe_workbook ---

type DescribeWorkbookParams struct {
	SessionID string `json:"session_id,omitempty"`
	Source    string `json:"source,omitempty"`
	Column    string `json:"column,omitempty"`
}

// DescribeWorkbookHandler implements the describe_workbook MCP tool.
type DescribeWorkbookHandler struct {
	objects  table.Objects
	sessions Sessions
	logger   *slog.Logger
}

func NewDescribeWorkbookHandler(objects table.Objects, sessions Sessions, logger *slog.Logger) *DescribeWorkbookHandler {
	return &DescribeWorkbookHandler{objects: objects, sessions: sessions, logger: logging.OrNop(logger)}
}

// Handle summarizes the whole workbook, or one column in depth.
func (h *DescribeWorkbookHandler) Handle(ctx context.Context, params DescribeWorkbookParams) (string, error) {
	sess := loadSession(ctx, h.sessions, params.SessionID, h.logger)
	source := params.Source
	if sess != nil {
		source = sess.Source(source)
	}
	sheet, err := openSheet(ctx, h.objects, source)
	if err != nil {
		return "", err
	}
	t := sheet.Snapshot()
	rb := mcp.NewResponseBuilder(0)

	if params.Column != "" {
		a, err := t.AnalyzeColumn(params.Column)
		if err != nil {
			return "", err
		}
		rb.AddHeader(fmt.Sprintf("**Column** `%s` in `%s`", a.Name, source))
		rb.AddLine(fmt.Sprintf("- Type: %s", a.Type))
		rb.AddLine(fmt.Sprintf("- Values: %d, missing %d, unique %d", a.Count, a.Missing, a.Unique))
		if a.Min != nil && a.Max != nil && a.Mean != nil {
			rb.AddLine(fmt.Sprintf("- Range: %g to %g, mean %.3g", *a.Min, *a.Max, *a.Mean))
		}
		for _, v := range a.TopValues {
			if !rb.AddLine(fmt.Sprintf("  - %q × %d", v.Value, v.Count)) {
				break
			}
		}
		return rb.FinalizeWithHints(0, 0, mcp.SuggestNextSteps("describe_workbook", sess)), nil
	}

	s := t.Summary()
	rb.AddHeader(fmt.Sprintf("**Workbook** `%s` (%d rows, %d columns)", source, s.Rows, s.Columns))
	returned := 0
	for _, col := range t.Columns() {
		if !rb.AddLine(fmt.Sprintf("- `%s`: %s, %d missing", col, s.ColumnTypes[col], s.Missing[col])) {
			break
		}
		returned++
	}
	return rb.FinalizeWithHints(s.Columns, returned, mcp.SuggestNextSteps("describe_workbook", sess)), nil
}

// --- read_range ---

type ReadRangeParams struct {
	SessionID         string   `json:"session_id,omitempty"`
	Source            string   `json:"source,omitempty"`
	Columns           []string `json:"columns"`
	ContextColumns    []string `json:"context_columns,omitempty"`
	StartRow          int      `json:"start_row,omitempty"`
	EndRow            int      `json:"end_row,omitempty"`
	Filter            string   `json:"filter,omitempty"`
	MaxResponseTokens int      `json:"max_response_tokens,omitempty"`
}

// ReadRangeHandler implements the read_range MCP tool.
type ReadRangeHandler struct {
	objects  table.Objects
	sessions Sessions
	logger   *slog.Logger
}

func NewReadRangeHandler(objects table.Objects, sessions Sessions, logger *slog.Logger) *ReadRangeHandler {
	return &ReadRangeHandler{objects: objects, sessions: sessions, logger: logging.OrNop(logger)}
}

func (h *ReadRangeHandler) Handle(ctx context.Context, params ReadRangeParams) (string, error) {
	sess := loadSession(ctx, h.sessions, params.SessionID, h.logger)
	source := params.Source
	if sess != nil {
		source = sess.Source(source)
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
	if len(tasks) == 0 {
		return fmt.Sprintf("No cells in rows %d–%d of `%s`.", params.StartRow, end, source), nil
	}

	rb := mcp.NewResponseBuilder(params.MaxResponseTokens)
	rb.AddHeader(fmt.Sprintf("**Cells** of `%s`, rows %d–%d (%d cells)", source, params.StartRow, end, len(tasks)))
	returned := 0
	for _, t := range tasks {
		line := fmt.Sprintf("- row %d `%s`: %s", t.Row, t.Column, t.Text())
		if len(t.Context) > 0 {
			line += fmt.Sprintf(" (context: %s)", formatContext(t.Context))
		}
		if !rb.AddLine(line) {
			break
		}
		returned++
	}
	return rb.FinalizeWithHints(len(tasks), returned, mcp.SuggestNextSteps("read_range", sess)), nil
}

func formatContext(ctx map[string]any) string {
	parts := make([]string, 0, len(ctx))
	for k, v := range ctx {
		parts = append(parts, fmt.Sprintf("%s=%s", k, models.Stringify(v)))
	}
	slices.Sort(parts)
	return strings.Join(parts, ", ")
}
