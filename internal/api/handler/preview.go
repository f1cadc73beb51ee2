package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/maraichr/cellforge/internal/config"
	"github.com/maraichr/cellforge/internal/logging"
	"github.com/maraichr/cellforge/internal/preview"
	"github.com/maraichr/cellforge/internal/table"
	"github.com/maraichr/cellforge/pkg/apierr"
)

const maxPreviewCells = 50

type PreviewHandler struct {
	logger   *slog.Logger
	objects  table.Objects
	backends Backends
	defaults config.ProcessingConfig
}

func NewPreviewHandler(logger *slog.Logger, objects table.Objects, backends Backends, defaults config.ProcessingConfig) *PreviewHandler {
	return &PreviewHandler{logger: logging.OrNop(logger), objects: objects, backends: backends, defaults: defaults}
}

// Preview runs the transformation on the first few matching cells and
// returns before/after pairs with a diff. Nothing is written back.
func (h *PreviewHandler) Preview(w http.ResponseWriter, r *http.Request) {
	var req transformParams
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeAPIError(w, h.logger, apierr.InvalidRequestBody())
		return
	}
	req.withDefaults(h.defaults)
	if e := req.validate(); e != nil {
		writeAPIError(w, h.logger, e)
		return
	}
	limit := min(req.Limit, maxPreviewCells)
	if limit <= 0 {
		limit = preview.DefaultCells
	}

	target, e := targetFor(h.backends, req.Backend, req.Model)
	if e != nil {
		writeAPIError(w, h.logger, e)
		return
	}
	_, tasks, e := req.readTasks(r.Context(), h.objects)
	if e != nil {
		writeAPIError(w, h.logger, e)
		return
	}

	cells := preview.Run(r.Context(), target, tasks, preview.Params{
		SystemPrompt: req.SystemPrompt,
		UserPrompt:   req.UserPrompt,
		Temperature:  *req.Temperature,
		MaxTokens:    req.MaxTokens,
		Limit:        limit,
	})

	writeJSON(w, http.StatusOK, map[string]any{
		"backend": target.Backend(),
		"model":   target.Model(),
		"matched": len(tasks),
		"cells":   cells,
	})
}
