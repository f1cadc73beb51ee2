// Package table holds the in-memory worksheet the transformation runs read
// cells from and write results back into.
package table

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

var (
	ErrNoData            = errors.New("file contains no data")
	ErrUnsupportedFormat = errors.New("unsupported file format")
	ErrNotLoaded         = errors.New("no table loaded")
)

// Table is a rectangular grid with named columns. Cell values are nil,
// string, int64, float64 or bool.
type Table struct {
	columns []string
	index   map[string]int
	rows    [][]any
}

// New builds a table. Column names are trimmed; rows shorter than the
// header are padded with nil and longer rows are truncated.
func New(columns []string, rows [][]any) (*Table, error) {
	t := &Table{
		columns: make([]string, len(columns)),
		index:   make(map[string]int, len(columns)),
	}
	for i, c := range columns {
		name := strings.TrimSpace(c)
		if name == "" {
			name = fmt.Sprintf("Unnamed: %d", i)
		}
		if _, dup := t.index[name]; dup {
			return nil, fmt.Errorf("duplicate column %q", name)
		}
		t.columns[i] = name
		t.index[name] = i
	}
	t.rows = make([][]any, len(rows))
	for i, r := range rows {
		row := make([]any, len(columns))
		copy(row, r)
		t.rows[i] = row
	}
	return t, nil
}

// Columns returns the column names in sheet order.
func (t *Table) Columns() []string {
	out := make([]string, len(t.columns))
	copy(out, t.columns)
	return out
}

// Len is the number of data rows.
func (t *Table) Len() int { return len(t.rows) }

// HasColumn reports whether name is a column of t.
func (t *Table) HasColumn(name string) bool {
	_, ok := t.index[name]
	return ok
}

// Value returns the cell at (row, column).
func (t *Table) Value(row int, column string) (any, bool) {
	ci, ok := t.index[column]
	if !ok || row < 0 || row >= len(t.rows) {
		return nil, false
	}
	return t.rows[row][ci], true
}

// Set overwrites the cell at (row, column).
func (t *Table) Set(row int, column string, v any) bool {
	ci, ok := t.index[column]
	if !ok || row < 0 || row >= len(t.rows) {
		return false
	}
	t.rows[row][ci] = v
	return true
}

// Row returns a column-name keyed copy of one row.
func (t *Table) Row(row int) map[string]any {
	if row < 0 || row >= len(t.rows) {
		return nil
	}
	m := make(map[string]any, len(t.columns))
	for i, c := range t.columns {
		m[c] = t.rows[row][i]
	}
	return m
}

// Clone deep-copies the grid.
func (t *Table) Clone() *Table {
	c, _ := New(t.columns, t.rows)
	return c
}

// Column returns every value of one column.
func (t *Table) Column(name string) ([]any, bool) {
	ci, ok := t.index[name]
	if !ok {
		return nil, false
	}
	out := make([]any, len(t.rows))
	for i, r := range t.rows {
		out[i] = r[ci]
	}
	return out, true
}

// ParseValue coerces raw sheet text into the narrowest cell value.
func ParseValue(s string) any {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	if i, err := strconv.ParseInt(s, 10, 64); err == nil {
		return i
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		if math.IsNaN(f) {
			return nil
		}
		if !math.IsInf(f, 0) {
			return f
		}
	}
	switch s {
	case "TRUE", "True", "true":
		return true
	case "FALSE", "False", "false":
		return false
	}
	return s
}
