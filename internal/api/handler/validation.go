package handler

import (
	"context"
	"errors"
	"slices"
	"strings"

	"github.com/maraichr/cellforge/internal/config"
	"github.com/maraichr/cellforge/internal/llm"
	"github.com/maraichr/cellforge/internal/objstore"
	"github.com/maraichr/cellforge/internal/table"
	"github.com/maraichr/cellforge/pkg/apierr"
	"github.com/maraichr/cellforge/pkg/models"
)

// transformParams is the request body shared by run creation and preview.
// Unset fields take the server's processing defaults.
type transformParams struct {
	Source         string   `json:"source"`
	Columns        []string `json:"columns"`
	ContextColumns []string `json:"context_columns"`
	StartRow       int      `json:"start_row"`
	EndRow         *int     `json:"end_row"`
	Filter         string   `json:"filter"`
	SystemPrompt   string   `json:"system_prompt"`
	UserPrompt     string   `json:"user_prompt"`
	Prompt         string   `json:"prompt"`
	Backend        string   `json:"backend"`
	Model          string   `json:"model"`
	BatchSize      int      `json:"batch_size"`
	Temperature    *float64 `json:"temperature"`
	MaxTokens      int      `json:"max_tokens"`
	AutoSave       *bool    `json:"auto_save"`
	Limit          int      `json:"limit"`
}

func (p *transformParams) withDefaults(d config.ProcessingConfig) {
	p.Source = strings.TrimSpace(p.Source)
	if p.Backend == "" {
		p.Backend = d.Backend
	}
	if p.BatchSize == 0 {
		p.BatchSize = d.BatchSize
	}
	if p.Temperature == nil {
		t := d.Temperature
		p.Temperature = &t
	}
	if p.MaxTokens == 0 {
		p.MaxTokens = d.MaxTokens
	}
	if p.AutoSave == nil {
		a := d.AutoSave
		p.AutoSave = &a
	}
	if p.SystemPrompt == "" {
		p.SystemPrompt = d.SystemPrompt
	}
	if p.UserPrompt == "" && p.Prompt != "" {
		if instr, ok := config.LookupPrompt(p.Prompt); ok {
			p.UserPrompt = instr
		}
	}
	if p.Limit <= 0 {
		p.Limit = d.PreviewCells
	}
}

// validate checks everything that does not need the workbook.
func (p *transformParams) validate() *apierr.Error {
	if p.Source == "" {
		return apierr.SourceRequired()
	}
	if len(p.Columns) == 0 {
		return apierr.ColumnsRequired()
	}
	if p.StartRow < 0 {
		return apierr.InvalidRange("start_row", p.StartRow)
	}
	if p.EndRow != nil && *p.EndRow <= p.StartRow {
		return apierr.InvalidRange("end_row", *p.EndRow)
	}
	if p.BatchSize <= 0 {
		return apierr.InvalidBatchSize(p.BatchSize)
	}
	if t := *p.Temperature; t < 0 || t > 1 {
		return apierr.InvalidTemperature(t)
	}
	if p.MaxTokens <= 0 {
		return apierr.InvalidMaxTokens(p.MaxTokens)
	}
	if _, err := llm.ParseKind(p.Backend); err != nil {
		return apierr.UnknownBackend(p.Backend)
	}
	if strings.TrimSpace(p.UserPrompt) == "" {
		return apierr.PromptRequired()
	}
	return nil
}

// endRow resolves an open range to the end of the table.
func (p *transformParams) endRow(rows int) int {
	if p.EndRow == nil {
		return rows
	}
	return *p.EndRow
}

// readTasks loads the source workbook and extracts the requested cells.
func (p *transformParams) readTasks(ctx context.Context, objects table.Objects) (*table.Store, []models.CellTask, *apierr.Error) {
	sheet, e := openWorkbook(ctx, objects, p.Source)
	if e != nil {
		return nil, nil, e
	}
	meta := sheet.Meta()
	if e := checkColumns(meta.ColumnNames, p.Columns, p.ContextColumns); e != nil {
		return nil, nil, e
	}
	tasks, err := sheet.ReadRangeWhere(p.StartRow, p.endRow(meta.Rows), p.Columns, p.ContextColumns, p.Filter)
	if err != nil {
		return nil, nil, apierr.InvalidFilter(p.Filter, err)
	}
	return sheet, tasks, nil
}

func openWorkbook(ctx context.Context, objects table.Objects, key string) (*table.Store, *apierr.Error) {
	if objects == nil {
		return nil, apierr.StorageUnavailable()
	}
	sheet := table.NewStore(nil)
	if err := sheet.OpenObject(ctx, objects, key); err != nil {
		switch {
		case errors.Is(err, objstore.ErrNotFound):
			return nil, apierr.WorkbookNotFound()
		case errors.Is(err, table.ErrUnsupportedFormat):
			return nil, apierr.UnsupportedFormat()
		default:
			return nil, apierr.WorkbookUnreadable(err)
		}
	}
	return sheet, nil
}

// checkColumns reports the first processed or context column missing from
// have.
func checkColumns(have, columns, contextColumns []string) *apierr.Error {
	for _, col := range columns {
		if !slices.Contains(have, col) {
			return apierr.UnknownColumn("columns", col)
		}
	}
	for _, col := range contextColumns {
		if !slices.Contains(have, col) {
			return apierr.UnknownColumn("context_columns", col)
		}
	}
	return nil
}
