// Package runner executes queued runs: it opens the workbook, extracts the
// cell range, drives the batch engine and writes the outcome back.
package runner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/maraichr/cellforge/internal/batch"
	"github.com/maraichr/cellforge/internal/jobs"
	"github.com/maraichr/cellforge/internal/llm"
	"github.com/maraichr/cellforge/internal/logging"
	"github.com/maraichr/cellforge/internal/store"
	"github.com/maraichr/cellforge/internal/table"
	"github.com/maraichr/cellforge/pkg/models"
)

const shutdownMessage = "interrupted by worker shutdown"

// RunStore is the slice of run history the runner touches.
type RunStore interface {
	GetRun(ctx context.Context, id uuid.UUID) (models.Run, error)
	MarkRunStarted(ctx context.Context, id uuid.UUID, total int) error
	UpdateRunStatus(ctx context.Context, id uuid.UUID, status models.RunState, errMsg *string) error
	FinishRun(ctx context.Context, c models.Completion, applied int) error
}

// Signals connects a run to its observers and to cancel requests.
type Signals interface {
	Sink(ctx context.Context, runID uuid.UUID) batch.Sink
	WatchCancel(ctx context.Context, runID uuid.UUID, onCancel func())
	Clear(ctx context.Context, runID uuid.UUID)
}

// ProcessorFor resolves a run's backend and model to a cell processor.
type ProcessorFor func(backend, model string) (batch.CellProcessor, error)

// ClientProcessors pins runs to variants of c.
func ClientProcessors(c *llm.Client) ProcessorFor {
	return func(backend, model string) (batch.CellProcessor, error) {
		kind, err := llm.ParseKind(backend)
		if err != nil {
			return nil, err
		}
		t, err := c.Target(kind, model)
		if err != nil {
			return nil, err
		}
		return t, nil
	}
}

type Runner struct {
	runs         RunStore
	objects      table.Objects
	signals      Signals
	processorFor ProcessorFor
	opts         []batch.Option
	logger       *slog.Logger
}

func New(runs RunStore, objects table.Objects, signals Signals, processorFor ProcessorFor, logger *slog.Logger, opts ...batch.Option) *Runner {
	logger = logging.OrNop(logger)
	return &Runner{
		runs:         runs,
		objects:      objects,
		signals:      signals,
		processorFor: processorFor,
		opts:         append([]batch.Option{batch.WithLogger(logger)}, opts...),
		logger:       logger,
	}
}

// Handle executes one queued run. A nil return acknowledges the message,
// including for runs that were already finished or failed to prepare.
func (r *Runner) Handle(ctx context.Context, msg jobs.RunMessage) error {
	log := r.logger.With(slog.String("run_id", msg.RunID.String()))

	run, err := r.runs.GetRun(ctx, msg.RunID)
	if errors.Is(err, store.ErrNotFound) {
		log.Warn("run not found, dropping message")
		return nil
	}
	if err != nil {
		return fmt.Errorf("load run: %w", err)
	}

	switch {
	case run.Status.Terminal():
		log.Info("run already finished", slog.String("status", string(run.Status)))
		return nil
	case run.Status == models.RunStateRunning:
		// delivered again after a worker died mid-run
		r.fail(ctx, run.ID, errors.New("interrupted by worker restart"))
		return nil
	}

	sheet := table.NewStore(log)
	if err := sheet.OpenObject(ctx, r.objects, run.Source); err != nil {
		r.fail(ctx, run.ID, fmt.Errorf("open %s: %w", run.Source, err))
		return nil
	}
	tasks, err := sheet.ReadRangeWhere(run.StartRow, run.EndRow, run.Columns, run.ContextColumns, run.Filter)
	if err != nil {
		r.fail(ctx, run.ID, fmt.Errorf("filter: %w", err))
		return nil
	}
	proc, err := r.processorFor(run.Backend, run.Model)
	if err != nil {
		r.fail(ctx, run.ID, err)
		return nil
	}

	if err := r.runs.MarkRunStarted(ctx, run.ID, len(tasks)); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			log.Info("run no longer queued")
			return nil
		}
		return fmt.Errorf("mark started: %w", err)
	}
	log.Info("run starting", slog.Int("cells", len(tasks)), slog.String("backend", run.Backend))

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	engine := batch.NewEngine(proc, r.opts...)
	br, err := engine.Submit(runCtx, batch.Request{
		RunID:        run.ID,
		Tasks:        tasks,
		SystemPrompt: run.SystemPrompt,
		UserPrompt:   run.UserPrompt,
		BatchSize:    run.BatchSize,
		Temperature:  run.Temperature,
		MaxTokens:    run.MaxTokens,
	}, batch.MultiSink(r.signals.Sink(ctx, run.ID), batch.SinkFuncs{
		OnProgress: func(p models.Progress) {
			log.Debug("run progress",
				slog.Int("processed", p.Processed),
				slog.Int("total", p.Total),
				slog.String("status", p.Status))
		},
	}))
	if err != nil {
		r.fail(ctx, run.ID, err)
		return nil
	}
	var requested atomic.Bool
	go r.signals.WatchCancel(runCtx, run.ID, func() {
		requested.Store(true)
		br.Cancel()
	})

	// runCtx ends with ctx, so the run always reaches its completion.
	finishCtx := context.WithoutCancel(ctx)
	completion, err := br.Wait(finishCtx)
	if err != nil {
		return err
	}
	if completion.State == models.RunStateCancelled && !requested.Load() && ctx.Err() != nil {
		log.Warn("run interrupted by shutdown", slog.Int("processed", len(completion.Results)))
		completion.State = models.RunStateFailed
		completion.Err = shutdownMessage
	}

	applied := 0
	if run.AutoSave && completion.Succeeded > 0 {
		applied, _ = sheet.WriteRange(finishCtx, completion.Results, true)
	}

	if err := r.runs.FinishRun(finishCtx, completion, applied); err != nil {
		return fmt.Errorf("finish run: %w", err)
	}
	r.signals.Clear(finishCtx, run.ID)

	log.Info("run stored",
		slog.String("state", string(completion.State)),
		slog.Int("succeeded", completion.Succeeded),
		slog.Int("failed", completion.Failed),
		slog.Int("applied", applied))
	return nil
}

func (r *Runner) fail(ctx context.Context, id uuid.UUID, cause error) {
	msg := cause.Error()
	r.logger.Error("run failed", slog.String("run_id", id.String()), slog.String("error", msg))
	if err := r.runs.UpdateRunStatus(context.WithoutCancel(ctx), id, models.RunStateFailed, &msg); err != nil {
		r.logger.Error("record run failure", slog.String("run_id", id.String()), slog.String("error", err.Error()))
	}
}
