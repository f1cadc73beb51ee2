package batch

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"
)

// Scheduler runs one run loop per call to Go.
type Scheduler interface {
	Go(fn func())
}

// GoScheduler starts a goroutine per run.
type GoScheduler struct{}

func (GoScheduler) Go(fn func()) { go fn() }

// Pool bounds how many runs advance at once. Go blocks while the pool is
// full, which gives queue consumers natural backpressure.
type Pool struct {
	g errgroup.Group
}

// NewPool allows up to limit concurrent runs; limit <= 0 means unbounded.
func NewPool(limit int) *Pool {
	p := &Pool{}
	if limit > 0 {
		p.g.SetLimit(limit)
	}
	return p
}

func (p *Pool) Go(fn func()) {
	p.g.Go(func() error {
		fn()
		return nil
	})
}

// Wait blocks until every scheduled run has returned.
func (p *Pool) Wait() {
	_ = p.g.Wait()
}

// sleepCtx waits for d in steps of at most 200ms so cancellation is
// observed promptly.
func sleepCtx(ctx context.Context, d time.Duration) error {
	const step = 200 * time.Millisecond
	for d > 0 {
		s := min(d, step)
		t := time.NewTimer(s)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
		d -= s
	}
	return ctx.Err()
}
