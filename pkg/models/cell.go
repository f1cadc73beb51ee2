package models

import (
	"fmt"
	"strconv"
	"time"
)

// HeadersKey is the synthetic context entry mapping every processed and
// context column name to itself.
const HeadersKey = "headers"

// CellTask is one pending unit of work: a single cell and the per-row
// context gathered from auxiliary columns.
type CellTask struct {
	Row     int            `json:"row"`
	Column  string         `json:"column"`
	Content any            `json:"content"`
	Context map[string]any `json:"context,omitempty"`
}

// Text returns the cell content coerced to text.
func (t CellTask) Text() string {
	return Stringify(t.Content)
}

// CellResult is the outcome of processing one CellTask. Value is set iff
// Success; Error is set iff not.
type CellResult struct {
	Row     int    `json:"row"`
	Column  string `json:"column"`
	Success bool   `json:"success"`
	Value   string `json:"value,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Succeeded builds a successful result for task.
func Succeeded(t CellTask, value string) CellResult {
	return CellResult{Row: t.Row, Column: t.Column, Success: true, Value: value}
}

// Failed builds a failed result for task.
func Failed(t CellTask, msg string) CellResult {
	return CellResult{Row: t.Row, Column: t.Column, Error: msg}
}

// Stringify renders a cell value the way it is shown to the model.
func Stringify(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(x), 'f', -1, 32)
	case int:
		return strconv.Itoa(x)
	case int64:
		return strconv.FormatInt(x, 10)
	case bool:
		return strconv.FormatBool(x)
	case time.Time:
		return x.Format(time.RFC3339)
	case fmt.Stringer:
		return x.String()
	default:
		return fmt.Sprint(x)
	}
}
