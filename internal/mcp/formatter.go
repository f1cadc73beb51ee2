package mcp

import (
	"fmt"
	"strings"

	"github.com/maraichr/cellforge/internal/preview"
	"github.com/maraichr/cellforge/pkg/models"
)

const defaultMaxTokens = 4000

// Verbosity controls how much detail is included in cell cards.
type Verbosity string

const (
	VerbositySummary  Verbosity = "summary"
	VerbosityStandard Verbosity = "standard"
	VerbosityFull     Verbosity = "full"
)

// ParseVerbosity returns a Verbosity from a string, defaulting to standard.
func ParseVerbosity(s string) Verbosity {
	switch strings.ToLower(s) {
	case "summary":
		return VerbositySummary
	case "full":
		return VerbosityFull
	default:
		return VerbosityStandard
	}
}

// ResponseBuilder constructs token-budgeted Markdown responses for MCP tools.
type ResponseBuilder struct {
	buf           strings.Builder
	tokenEstimate int
	maxTokens     int
	truncated     bool
	itemCount     int
}

// NewResponseBuilder creates a builder with the given token budget.
// If maxTokens <= 0, defaultMaxTokens is used.
func NewResponseBuilder(maxTokens int) *ResponseBuilder {
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}
	return &ResponseBuilder{maxTokens: maxTokens}
}

func (rb *ResponseBuilder) AddHeader(text string) {
	line := text + "\n\n"
	rb.buf.WriteString(line)
	rb.tokenEstimate += len(line) / 4
}

// AddLine writes a single line to the response, returning false if budget exceeded.
func (rb *ResponseBuilder) AddLine(text string) bool {
	return rb.add(text+"\n", false)
}

// AddCellCard renders a previewed cell. Returns false if the card would
// exceed the token budget.
func (rb *ResponseBuilder) AddCellCard(c preview.Cell, verbosity Verbosity) bool {
	return rb.add(formatCellCard(c, verbosity), true)
}

// AddResult renders one stored cell outcome as a single line.
func (rb *ResponseBuilder) AddResult(r models.CellResult) bool {
	if r.Success {
		return rb.add(fmt.Sprintf("- row %d `%s`: %s\n", r.Row, r.Column, oneLine(r.Value)), true)
	}
	return rb.add(fmt.Sprintf("- row %d `%s`: **failed** %s\n", r.Row, r.Column, r.Error), true)
}

func (rb *ResponseBuilder) AddSection(heading string, content string) bool {
	return rb.add(fmt.Sprintf("### %s\n%s\n\n", heading, content), false)
}

// AddRawText writes raw text, respecting the budget.
func (rb *ResponseBuilder) AddRawText(text string) bool {
	return rb.add(text, false)
}

func (rb *ResponseBuilder) add(text string, item bool) bool {
	cost := len(text) / 4
	if rb.tokenEstimate+cost > rb.maxTokens {
		rb.truncated = true
		return false
	}
	rb.buf.WriteString(text)
	rb.tokenEstimate += cost
	if item {
		rb.itemCount++
	}
	return true
}

// Finalize appends truncation notice and returns the final response text.
func (rb *ResponseBuilder) Finalize(totalCount, returnedCount int) string {
	if rb.truncated || returnedCount < totalCount {
		rb.buf.WriteString(fmt.Sprintf(
			"\n---\n*Showing %d of %d results (truncated to ~%d tokens). Use `offset` to paginate or increase `max_response_tokens`.*\n",
			returnedCount, totalCount, rb.maxTokens))
	}
	return rb.buf.String()
}

// FinalizeWithHints appends navigation hints and truncation notice.
func (rb *ResponseBuilder) FinalizeWithHints(totalCount, returnedCount int, hints *NavigationHints) string {
	if rb.truncated || returnedCount < totalCount {
		rb.buf.WriteString(fmt.Sprintf(
			"\n---\n*Showing %d of %d results (~%d tokens).*\n",
			returnedCount, totalCount, rb.tokenEstimate))
	}

	if hints != nil && len(hints.Steps) > 0 {
		rb.buf.WriteString("\n---\n**Next steps:**\n")
		for _, step := range hints.Steps {
			rb.buf.WriteString(fmt.Sprintf("- %s → `%s`\n", step.Description, step.Tool))
		}
	}

	return rb.buf.String()
}

func (rb *ResponseBuilder) TokenEstimate() int {
	return rb.tokenEstimate
}

func (rb *ResponseBuilder) IsTruncated() bool {
	return rb.truncated
}

func (rb *ResponseBuilder) ItemCount() int {
	return rb.itemCount
}

// FormatRun renders a run record, with its live progress when known.
func FormatRun(run models.Run, progress *models.Progress) string {
	var b strings.Builder
	b.WriteString(fmt.Sprintf("**Run** `%s`: %s\n\n", run.ID, run.Status))
	b.WriteString(fmt.Sprintf("- Source: `%s` rows %d–%d, columns %s\n", run.Source, run.StartRow, run.EndRow, strings.Join(run.Columns, ", ")))
	if run.Filter != "" {
		b.WriteString(fmt.Sprintf("- Filter: `%s`\n", run.Filter))
	}
	model := run.Model
	if model == "" {
		model = "default"
	}
	b.WriteString(fmt.Sprintf("- Backend: %s (%s)\n", run.Backend, model))
	if progress != nil && !run.Status.Terminal() {
		b.WriteString(fmt.Sprintf("- Progress: %d/%d cells, %d succeeded, %d failed\n",
			progress.Processed, progress.Total, progress.Succeeded, progress.Failed))
		b.WriteString(fmt.Sprintf("- Status: %s\n", progress.Status))
	} else {
		b.WriteString(fmt.Sprintf("- Cells: %d total, %d succeeded, %d failed, %d written back\n",
			run.Total, run.Succeeded, run.Failed, run.Applied))
	}
	if run.ErrorMessage != nil {
		b.WriteString(fmt.Sprintf("- Error: %s\n", *run.ErrorMessage))
	}
	return b.String()
}

// formatCellCard renders a previewed cell as a Markdown card at the given verbosity.
func formatCellCard(c preview.Cell, verbosity Verbosity) string {
	var b strings.Builder
	b.WriteString(fmt.Sprintf("**Row %d** `%s`", c.Row, c.Column))
	if !c.Success {
		b.WriteString(fmt.Sprintf(": failed, %s\n\n", c.Error))
		return b.String()
	}
	if !c.Changed {
		b.WriteString(" *(unchanged)*")
	}
	b.WriteString("\n")

	switch verbosity {
	case VerbositySummary:
		b.WriteString(fmt.Sprintf("  %s → %s\n\n", oneLine(c.Before), oneLine(c.After)))

	case VerbosityFull:
		b.WriteString("```diff\n")
		for _, l := range c.Diff {
			switch l.Type {
			case preview.LineAdded:
				b.WriteString("+ " + l.Text + "\n")
			case preview.LineRemoved:
				b.WriteString("- " + l.Text + "\n")
			default:
				b.WriteString("  " + l.Text + "\n")
			}
		}
		b.WriteString("```\n\n")

	default:
		b.WriteString(fmt.Sprintf("  Before: %s\n", oneLine(c.Before)))
		b.WriteString(fmt.Sprintf("  After: %s\n\n", oneLine(c.After)))
	}
	return b.String()
}

func oneLine(s string) string {
	s = strings.ReplaceAll(s, "\n", " ⏎ ")
	if len(s) > 200 {
		s = s[:200] + "…"
	}
	return s
}
