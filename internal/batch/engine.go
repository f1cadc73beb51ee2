// Package batch drives cell transformations in paced, cancellable batches.
package batch

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/maraichr/cellforge/internal/llm"
	"github.com/maraichr/cellforge/internal/logging"
	"github.com/maraichr/cellforge/pkg/models"
)

// CellProcessor transforms one cell. *llm.Client implements it.
type CellProcessor interface {
	ProcessCell(ctx context.Context, req llm.CellRequest) llm.Outcome
}

// Pacing delays between cells and between batches.
type Pacing struct {
	CellDelay  time.Duration
	BatchDelay time.Duration
}

var DefaultPacing = Pacing{CellDelay: 200 * time.Millisecond, BatchDelay: 500 * time.Millisecond}

// Request is everything a run needs besides its sink.
type Request struct {
	RunID        uuid.UUID
	Tasks        []models.CellTask
	SystemPrompt string
	UserPrompt   string
	BatchSize    int
	Temperature  float64
	MaxTokens    int
}

func (r Request) Validate() error {
	if r.BatchSize <= 0 {
		return fmt.Errorf("batch size must be positive, got %d", r.BatchSize)
	}
	if r.Temperature < 0 || r.Temperature > 1 {
		return fmt.Errorf("temperature must be within [0,1], got %v", r.Temperature)
	}
	if r.MaxTokens <= 0 {
		return fmt.Errorf("max tokens must be positive, got %d", r.MaxTokens)
	}
	return nil
}

// Engine runs batches of cell tasks against a CellProcessor. One engine can
// host many concurrent runs; it does not arbitrate between them.
type Engine struct {
	processor CellProcessor
	sched     Scheduler
	pacing    Pacing
	logger    *slog.Logger
	now       func() time.Time
}

type Option func(*Engine)

func WithPacing(p Pacing) Option { return func(e *Engine) { e.pacing = p } }

func WithScheduler(s Scheduler) Option { return func(e *Engine) { e.sched = s } }

func WithLogger(l *slog.Logger) Option { return func(e *Engine) { e.logger = l } }

func NewEngine(p CellProcessor, opts ...Option) *Engine {
	e := &Engine{
		processor: p,
		sched:     GoScheduler{},
		pacing:    DefaultPacing,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = logging.OrNop(e.logger)
	return e
}

// Submit validates req and schedules a fresh run. Cancelling ctx cancels
// the run and also reaches any in-flight cell call; Run.Cancel only stops
// the loop at the next boundary. The sink gets exactly one Complete.
func (e *Engine) Submit(ctx context.Context, req Request, sink Sink) (*Run, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	if req.RunID == uuid.Nil {
		req.RunID = uuid.New()
	}
	if sink == nil {
		sink = SinkFuncs{}
	}
	runCtx, cancel := context.WithCancel(ctx)
	run := newRun(req.RunID, cancel)
	e.sched.Go(func() { e.execute(ctx, runCtx, run, req, sink) })
	return run, nil
}

// loop holds the accumulated state of one run so a recovered fault can
// still deliver everything produced so far.
type loop struct {
	e         *Engine
	run       *Run
	sink      Sink
	total     int
	results   []models.CellResult
	succeeded int
	failed    int
}

func (e *Engine) execute(callCtx, runCtx context.Context, run *Run, req Request, sink Sink) {
	l := &loop{
		e:       e,
		run:     run,
		sink:    sink,
		total:   len(req.Tasks),
		results: make([]models.CellResult, 0, len(req.Tasks)),
	}
	run.setState(models.RunStateRunning)
	start := e.now()
	e.logger.Info("run started",
		slog.String("run_id", run.id.String()),
		slog.Int("cells", l.total),
		slog.Int("batch_size", req.BatchSize))

	state, errMsg := l.drive(callCtx, runCtx, req)

	switch state {
	case models.RunStateCompleted:
		l.progress("Processing completed")
	case models.RunStateCancelled:
		l.progress("Processing cancelled")
	case models.RunStateFailed:
		l.progress("Error: " + errMsg)
	}

	c := models.Completion{
		RunID:     run.id,
		State:     state,
		Results:   l.results,
		Succeeded: l.succeeded,
		Failed:    l.failed,
		Err:       errMsg,
	}
	e.logger.Info("run finished",
		slog.String("run_id", run.id.String()),
		slog.String("state", string(state)),
		slog.Int("succeeded", l.succeeded),
		slog.Int("failed", l.failed),
		slog.Duration("elapsed", e.now().Sub(start)))

	l.complete(c)
	run.finish(c)
}

// drive runs the batch loop and converts a panic escaping it into a Failed
// state.
func (l *loop) drive(callCtx, runCtx context.Context, req Request) (state models.RunState, errMsg string) {
	defer func() {
		if r := recover(); r != nil {
			l.e.logger.Error("run fault",
				slog.String("run_id", l.run.id.String()),
				slog.Any("panic", r))
			state, errMsg = models.RunStateFailed, fmt.Sprint(r)
		}
	}()

	stopped := func() bool { return l.run.Cancelled() || runCtx.Err() != nil }
	batches := partition(req.Tasks, req.BatchSize)
	n := len(batches)

	for k, batch := range batches {
		if stopped() {
			return models.RunStateCancelled, ""
		}
		l.progress(fmt.Sprintf("Processing batch %d of %d...", k+1, n))

		for i, task := range batch {
			if stopped() {
				return models.RunStateCancelled, ""
			}
			cellReq := llm.CellRequest{
				Content:      task.Text(),
				SystemPrompt: req.SystemPrompt,
				UserPrompt:   req.UserPrompt,
				Temperature:  req.Temperature,
				MaxTokens:    req.MaxTokens,
				Context:      task.Context,
			}
			out := l.processCell(callCtx, cellReq)

			if out.Success {
				l.results = append(l.results, models.Succeeded(task, out.Value))
				l.succeeded++
			} else {
				l.results = append(l.results, models.Failed(task, out.Error))
				l.failed++
			}
			l.progress(fmt.Sprintf("Processing batch %d of %d: %d/%d cells", k+1, n, i+1, len(batch)))

			_ = sleepCtx(runCtx, l.e.pacing.CellDelay)
		}

		l.progress(fmt.Sprintf("Completed batch %d of %d", k+1, n))
		if k < n-1 {
			_ = sleepCtx(runCtx, l.e.pacing.BatchDelay)
		}
	}
	if stopped() && len(l.results) < l.total {
		return models.RunStateCancelled, ""
	}
	return models.RunStateCompleted, ""
}

// processCell isolates the processor call: a panic there becomes a failed
// cell, not a failed run.
func (l *loop) processCell(ctx context.Context, req llm.CellRequest) (out llm.Outcome) {
	defer func() {
		if r := recover(); r != nil {
			out = llm.Outcome{Error: fmt.Sprintf("Error: %v", r), Kind: llm.FailureUnknown}
		}
	}()
	return l.e.processor.ProcessCell(ctx, req)
}

func (l *loop) progress(status string) {
	p := models.Progress{
		RunID:     l.run.id,
		Processed: len(l.results),
		Succeeded: l.succeeded,
		Failed:    l.failed,
		Total:     l.total,
		Status:    status,
		At:        l.e.now(),
	}
	defer func() {
		if r := recover(); r != nil {
			l.e.logger.Warn("progress sink panicked",
				slog.String("run_id", l.run.id.String()),
				slog.Any("panic", r))
		}
	}()
	l.sink.Progress(p)
}

func (l *loop) complete(c models.Completion) {
	defer func() {
		if r := recover(); r != nil {
			l.e.logger.Error("completion sink panicked",
				slog.String("run_id", l.run.id.String()),
				slog.Any("panic", r))
		}
	}()
	l.sink.Complete(c)
}

func partition(tasks []models.CellTask, size int) [][]models.CellTask {
	var out [][]models.CellTask
	for i := 0; i < len(tasks); i += size {
		out = append(out, tasks[i:min(i+size, len(tasks))])
	}
	return out
}
