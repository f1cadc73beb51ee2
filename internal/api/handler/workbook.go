package handler

import (
	"bytes"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"path"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/maraichr/cellforge/internal/logging"
	"github.com/maraichr/cellforge/internal/objstore"
	"github.com/maraichr/cellforge/internal/table"
	"github.com/maraichr/cellforge/pkg/apierr"
)

const (
	maxUploadBytes = 50 << 20
	uploadPrefix   = "uploads/"
)

type WorkbookHandler struct {
	logger  *slog.Logger
	objects objstore.Store
}

func NewWorkbookHandler(logger *slog.Logger, objects objstore.Store) *WorkbookHandler {
	return &WorkbookHandler{logger: logging.OrNop(logger), objects: objects}
}

// Upload stores a workbook under uploads/<id>/<name> after checking that it
// parses. The returned key is what runs and previews reference as source.
func (h *WorkbookHandler) Upload(w http.ResponseWriter, r *http.Request) {
	if h.objects == nil {
		writeAPIError(w, h.logger, apierr.StorageUnavailable())
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)

	file, header, err := r.FormFile("file")
	if err != nil {
		writeAPIError(w, h.logger, apierr.FileRequired())
		return
	}
	defer file.Close()

	name := path.Base(strings.ReplaceAll(header.Filename, "\\", "/"))
	format, err := table.FormatFromPath(name)
	if err != nil {
		writeAPIError(w, h.logger, apierr.UnsupportedFormat())
		return
	}
	data, err := io.ReadAll(file)
	if err != nil {
		writeAPIError(w, h.logger, apierr.UploadFailed(err))
		return
	}
	t, err := table.Load(bytes.NewReader(data), format)
	if err != nil {
		writeAPIError(w, h.logger, apierr.WorkbookUnreadable(err))
		return
	}

	key := fmt.Sprintf("%s%s/%s", uploadPrefix, uuid.New(), name)
	if err := h.objects.Put(r.Context(), key, bytes.NewReader(data), int64(len(data)), format.ContentType()); err != nil {
		writeAPIError(w, h.logger, apierr.UploadFailed(err))
		return
	}

	h.logger.Info("workbook uploaded", slog.String("key", key), slog.Int("rows", t.Len()))
	writeJSON(w, http.StatusCreated, map[string]any{
		"key":     key,
		"format":  format,
		"rows":    t.Len(),
		"columns": t.Columns(),
	})
}

// List returns stored workbooks under ?prefix= (default: uploads/).
func (h *WorkbookHandler) List(w http.ResponseWriter, r *http.Request) {
	if h.objects == nil {
		writeAPIError(w, h.logger, apierr.StorageUnavailable())
		return
	}
	prefix := r.URL.Query().Get("prefix")
	if prefix == "" {
		prefix = uploadPrefix
	}
	objects, err := h.objects.List(r.Context(), prefix)
	if err != nil {
		writeAPIError(w, h.logger, apierr.InternalError(err))
		return
	}
	if objects == nil {
		objects = []objstore.Object{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"bucket":    h.objects.Bucket(),
		"workbooks": objects,
		"total":     len(objects),
	})
}

// Summary describes the workbook at ?key=: column types, missing values and
// per-column statistics.
func (h *WorkbookHandler) Summary(w http.ResponseWriter, r *http.Request) {
	sheet, ok := h.open(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"meta":    sheet.Meta(),
		"summary": sheet.Snapshot().Summary(),
	})
}

// Cells returns the text of ?columns= (comma separated) over
// [?start_row, ?end_row), with ?context= columns attached to each cell.
func (h *WorkbookHandler) Cells(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	columns := splitList(q.Get("columns"))
	if len(columns) == 0 {
		writeAPIError(w, h.logger, apierr.ColumnsRequired())
		return
	}
	start := 0
	if s := q.Get("start_row"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 0 {
			writeAPIError(w, h.logger, apierr.InvalidRange("start_row", s))
			return
		}
		start = n
	}
	sheet, ok := h.open(w, r)
	if !ok {
		return
	}
	meta := sheet.Meta()
	end := meta.Rows
	if s := q.Get("end_row"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n <= start {
			writeAPIError(w, h.logger, apierr.InvalidRange("end_row", s))
			return
		}
		end = n
	}
	contextCols := splitList(q.Get("context"))
	if e := checkColumns(meta.ColumnNames, columns, contextCols); e != nil {
		writeAPIError(w, h.logger, e)
		return
	}

	filter := q.Get("filter")
	cells, err := sheet.ReadRangeWhere(start, end, columns, contextCols, filter)
	if err != nil {
		writeAPIError(w, h.logger, apierr.InvalidFilter(filter, err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"cells": cells,
		"total": len(cells),
	})
}

func (h *WorkbookHandler) open(w http.ResponseWriter, r *http.Request) (*table.Store, bool) {
	key := r.URL.Query().Get("key")
	if key == "" {
		writeAPIError(w, h.logger, apierr.SourceRequired())
		return nil, false
	}
	var objects table.Objects
	if h.objects != nil {
		objects = h.objects
	}
	sheet, e := openWorkbook(r.Context(), objects, key)
	if e != nil {
		writeAPIError(w, h.logger, e)
		return nil, false
	}
	return sheet, true
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
