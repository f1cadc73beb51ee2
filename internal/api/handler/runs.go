package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/maraichr/cellforge/internal/auth"
	"github.com/maraichr/cellforge/internal/config"
	"github.com/maraichr/cellforge/internal/jobs"
	"github.com/maraichr/cellforge/internal/logging"
	"github.com/maraichr/cellforge/internal/store/postgres"
	"github.com/maraichr/cellforge/internal/table"
	"github.com/maraichr/cellforge/pkg/apierr"
	"github.com/maraichr/cellforge/pkg/models"
)

// RunStore is the run history the API reads and writes.
type RunStore interface {
	CreateRun(ctx context.Context, r *models.Run) error
	GetRun(ctx context.Context, id uuid.UUID) (models.Run, error)
	ListRuns(ctx context.Context, arg postgres.ListRunsParams) ([]models.Run, error)
	ListCellResults(ctx context.Context, arg postgres.ListCellResultsParams) ([]models.CellResult, error)
	UpdateRunStatus(ctx context.Context, id uuid.UUID, status models.RunState, errMsg *string) error
}

type Enqueuer interface {
	Enqueue(ctx context.Context, msg jobs.RunMessage) (string, error)
}

// RunSignals relays cancel requests to workers and reads what they publish.
type RunSignals interface {
	RequestCancel(ctx context.Context, runID uuid.UUID) error
	Progress(ctx context.Context, runID uuid.UUID) (models.Progress, error)
	Events(ctx context.Context, runID uuid.UUID, after string, count int64) ([]jobs.Event, error)
}

type RunHandler struct {
	logger   *slog.Logger
	runs     RunStore
	objects  table.Objects
	queue    Enqueuer
	signals  RunSignals
	defaults config.ProcessingConfig
}

func NewRunHandler(logger *slog.Logger, runs RunStore, objects table.Objects, queue Enqueuer, signals RunSignals, defaults config.ProcessingConfig) *RunHandler {
	return &RunHandler{logger: logging.OrNop(logger), runs: runs, objects: objects, queue: queue, signals: signals, defaults: defaults}
}

// Create validates a transformation request against its workbook, records it
// as queued and hands it to the workers.
func (h *RunHandler) Create(w http.ResponseWriter, r *http.Request) {
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
	if h.queue == nil {
		writeAPIError(w, h.logger, apierr.QueueUnavailable())
		return
	}

	sheet, tasks, e := req.readTasks(r.Context(), h.objects)
	if e != nil {
		writeAPIError(w, h.logger, e)
		return
	}

	run := models.Run{
		ID:             uuid.New(),
		Status:         models.RunStateQueued,
		Source:         req.Source,
		Columns:        req.Columns,
		ContextColumns: req.ContextColumns,
		StartRow:       req.StartRow,
		EndRow:         req.endRow(sheet.Meta().Rows),
		Filter:         req.Filter,
		SystemPrompt:   req.SystemPrompt,
		UserPrompt:     req.UserPrompt,
		Backend:        req.Backend,
		Model:          req.Model,
		BatchSize:      req.BatchSize,
		Temperature:    *req.Temperature,
		MaxTokens:      req.MaxTokens,
		AutoSave:       *req.AutoSave,
		Total:          len(tasks),
	}
	if err := h.runs.CreateRun(r.Context(), &run); err != nil {
		writeAPIError(w, h.logger, apierr.RunCreateFailed(err))
		return
	}

	trigger := "api"
	if p, ok := auth.PrincipalFrom(r.Context()); ok {
		trigger = "api:" + p.Actor()
	}
	if _, err := h.queue.Enqueue(r.Context(), jobs.RunMessage{
		RunID:      run.ID,
		Trigger:    trigger,
		EnqueuedAt: time.Now().UTC(),
	}); err != nil {
		h.logger.Error("enqueue run", slog.String("run_id", run.ID.String()), slog.String("error", err.Error()))
		msg := "enqueue failed: " + err.Error()
		if uerr := h.runs.UpdateRunStatus(context.WithoutCancel(r.Context()), run.ID, models.RunStateFailed, &msg); uerr != nil {
			h.logger.Error("mark run failed", slog.String("run_id", run.ID.String()), slog.String("error", uerr.Error()))
		}
		writeAPIError(w, h.logger, apierr.QueueUnavailable())
		return
	}

	h.logger.Info("run queued",
		slog.String("run_id", run.ID.String()),
		slog.String("source", run.Source),
		slog.Int("cells", run.Total))
	writeJSON(w, http.StatusAccepted, run)
}

func (h *RunHandler) List(w http.ResponseWriter, r *http.Request) {
	limit, offset := pagination(r, 20, 100)
	status := models.RunState(r.URL.Query().Get("status"))

	runs, err := h.runs.ListRuns(r.Context(), postgres.ListRunsParams{
		Status: status,
		Limit:  int32(limit),
		Offset: int32(offset),
	})
	if err != nil {
		writeAPIError(w, h.logger, apierr.RunListFailed(err))
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"runs":  runs,
		"total": len(runs),
	})
}

func (h *RunHandler) Get(w http.ResponseWriter, r *http.Request) {
	run, ok := h.runOr404(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, run)
}

// Results lists a run's per-cell outcomes in processing order.
func (h *RunHandler) Results(w http.ResponseWriter, r *http.Request) {
	run, ok := h.runOr404(w, r)
	if !ok {
		return
	}
	limit, offset := pagination(r, 100, 1000)
	failedOnly, _ := strconv.ParseBool(r.URL.Query().Get("failed"))

	results, err := h.runs.ListCellResults(r.Context(), postgres.ListCellResultsParams{
		RunID:      run.ID,
		FailedOnly: failedOnly,
		Limit:      int32(limit),
		Offset:     int32(offset),
	})
	if err != nil {
		writeAPIError(w, h.logger, apierr.ResultsListFailed(err))
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"run_id":  run.ID,
		"status":  run.Status,
		"results": results,
		"total":   len(results),
	})
}

// Cancel flags a run for its worker. A run still waiting in the queue is
// cancelled on the spot.
func (h *RunHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	run, ok := h.runOr404(w, r)
	if !ok {
		return
	}
	if run.Status.Terminal() {
		writeAPIError(w, h.logger, apierr.RunNotCancellable(string(run.Status)))
		return
	}
	if h.signals == nil {
		writeAPIError(w, h.logger, apierr.QueueUnavailable())
		return
	}
	if err := h.signals.RequestCancel(r.Context(), run.ID); err != nil {
		writeAPIError(w, h.logger, apierr.CancelFailed(err))
		return
	}

	status := models.RunStateRunning
	if run.Status == models.RunStateQueued {
		if err := h.runs.UpdateRunStatus(r.Context(), run.ID, models.RunStateCancelled, nil); err != nil {
			writeAPIError(w, h.logger, apierr.CancelFailed(err))
			return
		}
		status = models.RunStateCancelled
	}

	h.logger.Info("run cancel requested", slog.String("run_id", run.ID.String()), slog.String("status", string(status)))
	writeJSON(w, http.StatusAccepted, map[string]any{
		"run_id":           run.ID,
		"status":           status,
		"cancel_requested": true,
	})
}

// Progress returns the latest snapshot a worker published for the run.
func (h *RunHandler) Progress(w http.ResponseWriter, r *http.Request) {
	id, ok := h.runID(w, r)
	if !ok {
		return
	}
	if h.signals == nil {
		writeAPIError(w, h.logger, apierr.QueueUnavailable())
		return
	}
	p, err := h.signals.Progress(r.Context(), id)
	if err != nil {
		if errors.Is(err, jobs.ErrNoProgress) {
			writeAPIError(w, h.logger, apierr.NoProgress())
		} else {
			writeAPIError(w, h.logger, apierr.InternalError(err))
		}
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// Events pages through the run's progress stream. Pass the last seen event
// ID as ?after= to continue.
func (h *RunHandler) Events(w http.ResponseWriter, r *http.Request) {
	id, ok := h.runID(w, r)
	if !ok {
		return
	}
	if h.signals == nil {
		writeAPIError(w, h.logger, apierr.QueueUnavailable())
		return
	}
	count, _ := strconv.ParseInt(r.URL.Query().Get("count"), 10, 64)
	if count <= 0 || count > 500 {
		count = 100
	}
	events, err := h.signals.Events(r.Context(), id, r.URL.Query().Get("after"), count)
	if err != nil {
		writeAPIError(w, h.logger, apierr.InternalError(err))
		return
	}
	if events == nil {
		events = []jobs.Event{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"run_id": id,
		"events": events,
	})
}

func (h *RunHandler) runID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "runID"))
	if err != nil {
		writeAPIError(w, h.logger, apierr.InvalidRunID())
		return uuid.Nil, false
	}
	return id, true
}

func (h *RunHandler) runOr404(w http.ResponseWriter, r *http.Request) (models.Run, bool) {
	id, ok := h.runID(w, r)
	if !ok {
		return models.Run{}, false
	}
	run, err := h.runs.GetRun(r.Context(), id)
	if err != nil {
		if apierr.IsRunNotFound(err) {
			writeAPIError(w, h.logger, apierr.RunNotFound())
		} else {
			writeAPIError(w, h.logger, apierr.InternalError(err))
		}
		return models.Run{}, false
	}
	return run, true
}
