// Package preview shows what a transformation would do to a handful of
// cells before anything is written back.
package preview

import (
	"context"
	"strings"

	"github.com/sergi/go-diff/diffmatchpatch"

	"github.com/maraichr/cellforge/internal/llm"
	"github.com/maraichr/cellforge/pkg/models"
)

const (
	LineContext = "context"
	LineAdded   = "added"
	LineRemoved = "removed"
)

// DefaultCells is how many cells a preview samples when no limit is given.
const DefaultCells = 5

type Line struct {
	Type    string `json:"type"`
	Text    string `json:"text"`
	OldLine int    `json:"old_line,omitempty"`
	NewLine int    `json:"new_line,omitempty"`
}

// Cell is one previewed cell. Diff is empty when the cell failed.
type Cell struct {
	Row     int    `json:"row"`
	Column  string `json:"column"`
	Before  string `json:"before"`
	After   string `json:"after,omitempty"`
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
	Changed bool   `json:"changed"`
	Diff    []Line `json:"diff,omitempty"`
}

// Processor is the single-cell contract a preview runs against.
type Processor interface {
	ProcessCell(ctx context.Context, req llm.CellRequest) llm.Outcome
}

// Params carries prompts and tuning for a preview.
type Params struct {
	SystemPrompt string
	UserPrompt   string
	Temperature  float64
	MaxTokens    int
	Limit        int
}

// Run processes at most p.Limit tasks sequentially and pairs each with its
// result. Stops early if ctx ends.
func Run(ctx context.Context, proc Processor, tasks []models.CellTask, p Params) []Cell {
	limit := p.Limit
	if limit <= 0 {
		limit = DefaultCells
	}
	tasks = tasks[:min(limit, len(tasks))]

	results := make([]models.CellResult, 0, len(tasks))
	for _, t := range tasks {
		if ctx.Err() != nil {
			break
		}
		out := proc.ProcessCell(ctx, llm.CellRequest{
			Content:      t.Text(),
			SystemPrompt: p.SystemPrompt,
			UserPrompt:   p.UserPrompt,
			Temperature:  p.Temperature,
			MaxTokens:    p.MaxTokens,
			Context:      t.Context,
		})
		if out.Success {
			results = append(results, models.Succeeded(t, out.Value))
		} else {
			results = append(results, models.Failed(t, out.Error))
		}
	}
	return Build(tasks[:len(results)], results)
}

// Build pairs tasks with results by position. Extra entries on either side
// are ignored.
func Build(tasks []models.CellTask, results []models.CellResult) []Cell {
	n := min(len(tasks), len(results))
	out := make([]Cell, 0, n)
	for i := range n {
		t, r := tasks[i], results[i]
		c := Cell{
			Row:     t.Row,
			Column:  t.Column,
			Before:  t.Text(),
			Success: r.Success,
			Error:   r.Error,
		}
		if r.Success {
			c.After = r.Value
			c.Changed = c.Before != c.After
			c.Diff = Lines(c.Before, c.After)
		}
		out = append(out, c)
	}
	return out
}

// Lines returns a line-level diff of before and after.
func Lines(before, after string) []Line {
	dmp := diffmatchpatch.New()
	a, b, lineArray := dmp.DiffLinesToChars(before, after)
	diffs := dmp.DiffCharsToLines(dmp.DiffMain(a, b, false), lineArray)

	var lines []Line
	oldLine, newLine := 1, 1
	for _, d := range diffs {
		chunk := strings.Split(d.Text, "\n")
		if len(chunk) > 0 && chunk[len(chunk)-1] == "" {
			chunk = chunk[:len(chunk)-1]
		}
		for _, text := range chunk {
			switch d.Type {
			case diffmatchpatch.DiffEqual:
				lines = append(lines, Line{Type: LineContext, Text: text, OldLine: oldLine, NewLine: newLine})
				oldLine++
				newLine++
			case diffmatchpatch.DiffDelete:
				lines = append(lines, Line{Type: LineRemoved, Text: text, OldLine: oldLine})
				oldLine++
			case diffmatchpatch.DiffInsert:
				lines = append(lines, Line{Type: LineAdded, Text: text, NewLine: newLine})
				newLine++
			}
		}
	}
	return lines
}
