package table

import (
	"context"
	"fmt"
	"log/slog"
	"path"
	"sync"

	"github.com/maraichr/cellforge/internal/logging"
	"github.com/maraichr/cellforge/pkg/models"
)

// Meta describes the loaded table.
type Meta struct {
	Loaded      bool     `json:"loaded"`
	Path        string   `json:"file_path,omitempty"`
	Name        string   `json:"file_name,omitempty"`
	Format      Format   `json:"file_type,omitempty"`
	Rows        int      `json:"rows"`
	Columns     int      `json:"columns"`
	ColumnNames []string `json:"column_names,omitempty"`
	Modified    bool     `json:"modified"`
}

// Store owns one table and tracks unsaved changes. All methods are safe for
// concurrent use.
type Store struct {
	mu        sync.RWMutex
	table     *Table
	source    string
	format    Format
	persister Persister
	dirty     bool
	filter    *Filter
	logger    *slog.Logger
}

func NewStore(logger *slog.Logger) *Store {
	return &Store{filter: NewFilter(), logger: logging.OrNop(logger)}
}

// Open replaces the current table. p may be nil, in which case auto-persist
// is a no-op.
func (s *Store) Open(t *Table, source string, format Format, p Persister) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.table = t
	s.source = source
	s.format = format
	s.persister = p
	s.dirty = false
}

// OpenFile loads a workbook from disk and persists back to the same path.
func (s *Store) OpenFile(filePath string) error {
	t, format, err := LoadFile(filePath)
	if err != nil {
		return err
	}
	s.Open(t, filePath, format, LocalPersister{Path: filePath})
	s.logger.Info("table loaded",
		slog.String("path", filePath),
		slog.Int("rows", t.Len()),
		slog.Int("columns", len(t.columns)))
	return nil
}

// ReadRange extracts cell tasks for rows [start, end) in row-major order.
// Bounds are clamped, unknown columns dropped, and an empty valid column set
// yields no tasks. Context columns that are unknown or also processed are
// ignored; when any remain, each task carries their row values plus the
// headers entry.
func (s *Store) ReadRange(start, end int, columns, contextColumns []string) []models.CellTask {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.readRange(start, end, columns, contextColumns, nil)
}

// ReadRangeWhere is ReadRange restricted to rows matching filter. Rows keep
// their original index. An empty filter matches every row; rows on which
// the filter fails to evaluate are skipped.
func (s *Store) ReadRangeWhere(start, end int, columns, contextColumns []string, filter string) ([]models.CellTask, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if filter == "" || s.table == nil {
		return s.readRange(start, end, columns, contextColumns, nil), nil
	}
	if err := s.filter.Compile(filter); err != nil {
		return nil, err
	}
	keep := func(row int) bool {
		ok, err := s.filter.Match(filter, s.table.Row(row))
		if err != nil {
			s.logger.Debug("filter skipped row", slog.Int("row", row), slog.String("error", err.Error()))
			return false
		}
		return ok
	}
	return s.readRange(start, end, columns, contextColumns, keep), nil
}

func (s *Store) readRange(start, end int, columns, contextColumns []string, keep func(int) bool) []models.CellTask {
	t := s.table
	if t == nil {
		return nil
	}
	start = max(start, 0)
	end = min(end, t.Len())

	valid := make([]string, 0, len(columns))
	for _, c := range columns {
		if t.HasColumn(c) {
			valid = append(valid, c)
		}
	}
	if len(valid) == 0 {
		return []models.CellTask{}
	}

	processed := make(map[string]bool, len(valid))
	for _, c := range valid {
		processed[c] = true
	}
	var ctxCols []string
	for _, c := range contextColumns {
		if t.HasColumn(c) && !processed[c] {
			ctxCols = append(ctxCols, c)
		}
	}

	var headers map[string]string
	if len(ctxCols) > 0 {
		headers = make(map[string]string, len(valid)+len(ctxCols))
		for _, c := range valid {
			headers[c] = c
		}
		for _, c := range ctxCols {
			headers[c] = c
		}
	}

	tasks := make([]models.CellTask, 0, max(end-start, 0)*len(valid))
	for row := start; row < end; row++ {
		if keep != nil && !keep(row) {
			continue
		}
		var rowCtx map[string]any
		if len(ctxCols) > 0 {
			rowCtx = make(map[string]any, len(ctxCols)+1)
			for _, c := range ctxCols {
				rowCtx[c], _ = t.Value(row, c)
			}
			h := make(map[string]string, len(headers))
			for k, v := range headers {
				h[k] = v
			}
			rowCtx[models.HeadersKey] = h
		}
		for _, c := range valid {
			v, _ := t.Value(row, c)
			tasks = append(tasks, models.CellTask{Row: row, Column: c, Content: v, Context: rowCtx})
		}
	}
	return tasks
}

// WriteRange applies successful results in bounds and counts everything else
// as failed. When autoPersist is set and something was applied, the table is
// saved immediately; a save failure is logged and does not change the
// counts or revert the applied values.
func (s *Store) WriteRange(ctx context.Context, results []models.CellResult, autoPersist bool) (applied, failed int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.table == nil {
		return 0, len(results)
	}

	for _, r := range results {
		if !r.Success {
			failed++
			continue
		}
		if s.table.Set(r.Row, r.Column, r.Value) {
			applied++
		} else {
			failed++
		}
	}
	if applied == 0 {
		return applied, failed
	}
	s.dirty = true

	if autoPersist && s.persister != nil {
		s.logger.Info("auto-saving table", slog.String("location", s.persister.Location()))
		if err := s.persister.Persist(ctx, s.table); err != nil {
			s.logger.Error("auto-save failed",
				slog.String("location", s.persister.Location()),
				slog.String("error", err.Error()))
		} else {
			s.dirty = false
		}
	}
	return applied, failed
}

// Cell returns one value; ok is false when the table is not loaded or the
// address is out of range.
func (s *Store) Cell(row int, column string) (any, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.table == nil {
		return nil, false
	}
	return s.table.Value(row, column)
}

// UpdateCell overwrites one value and marks the table modified.
func (s *Store) UpdateCell(row int, column string, v any) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.table == nil || !s.table.Set(row, column, v) {
		return false
	}
	s.dirty = true
	return true
}

// Save persists the table through its persister.
func (s *Store) Save(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.table == nil {
		return ErrNotLoaded
	}
	if s.persister == nil {
		return fmt.Errorf("no save location for %q", s.source)
	}
	if err := s.persister.Persist(ctx, s.table); err != nil {
		return err
	}
	s.dirty = false
	return nil
}

// SaveAs writes the table to filePath and makes it the new save location.
func (s *Store) SaveAs(filePath string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.table == nil {
		return "", ErrNotLoaded
	}
	written, err := s.table.SaveFile(filePath)
	if err != nil {
		return "", err
	}
	format, _ := FormatFromPath(written)
	s.source, s.format = written, format
	s.persister = LocalPersister{Path: written}
	s.dirty = false
	return written, nil
}

// Meta reports what is loaded.
func (s *Store) Meta() Meta {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.table == nil {
		return Meta{}
	}
	return Meta{
		Loaded:      true,
		Path:        s.source,
		Name:        path.Base(s.source),
		Format:      s.format,
		Rows:        s.table.Len(),
		Columns:     len(s.table.columns),
		ColumnNames: s.table.Columns(),
		Modified:    s.dirty,
	}
}

// Snapshot returns a copy of the current table, or nil.
func (s *Store) Snapshot() *Table {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.table == nil {
		return nil
	}
	return s.table.Clone()
}

// OpenObject loads a workbook from an object store and persists back to the
// same key.
func (s *Store) OpenObject(ctx context.Context, objects Objects, key string) error {
	t, format, err := LoadObject(ctx, objects, key)
	if err != nil {
		return err
	}
	s.Open(t, key, format, ObjectPersister{Objects: objects, Key: key, Format: format})
	s.logger.Info("table loaded",
		slog.String("key", key),
		slog.Int("rows", t.Len()),
		slog.Int("columns", len(t.columns)))
	return nil
}
