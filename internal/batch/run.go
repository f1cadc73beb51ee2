package batch

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/maraichr/cellforge/pkg/models"
)

// Run is one submitted batch job. Its methods are safe for concurrent use.
type Run struct {
	id        uuid.UUID
	cancelled atomic.Bool
	cancel    context.CancelFunc
	done      chan struct{}

	mu         sync.Mutex
	state      models.RunState
	completion models.Completion
}

func newRun(id uuid.UUID, cancel context.CancelFunc) *Run {
	return &Run{
		id:     id,
		cancel: cancel,
		done:   make(chan struct{}),
		state:  models.RunStateIdle,
	}
}

func (r *Run) ID() uuid.UUID { return r.id }

// Cancel requests a stop. The loop observes it at the next cell or batch
// boundary; a cell call already in flight is allowed to finish. Pending
// pacing delays are interrupted.
func (r *Run) Cancel() {
	r.cancelled.Store(true)
	r.cancel()
}

// Cancelled reports whether Cancel has been called.
func (r *Run) Cancelled() bool { return r.cancelled.Load() }

func (r *Run) State() models.RunState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

func (r *Run) setState(s models.RunState) {
	r.mu.Lock()
	r.state = s
	r.mu.Unlock()
}

// Done is closed once the completion has been delivered.
func (r *Run) Done() <-chan struct{} { return r.done }

// Wait blocks until the run finishes or ctx ends.
func (r *Run) Wait(ctx context.Context) (models.Completion, error) {
	select {
	case <-r.done:
		r.mu.Lock()
		defer r.mu.Unlock()
		return r.completion, nil
	case <-ctx.Done():
		return models.Completion{}, ctx.Err()
	}
}

func (r *Run) finish(c models.Completion) {
	r.mu.Lock()
	r.state = c.State
	r.completion = c
	r.mu.Unlock()
	r.cancel()
	close(r.done)
}
