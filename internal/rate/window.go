// Package rate holds the per-backend request window used by the
// transformation client.
package rate

import (
	"sync"
	"time"
)

// WindowLength is the span of one rolling window.
const WindowLength = 60 * time.Second

// Window counts requests observed since Start. It is reset lazily: the next
// check after WindowLength has elapsed zeroes the count and moves Start to
// the time of that check. There is no background timer.
type Window struct {
	Count int
	Start time.Time
	Max   int
}

// NewWindow opens a window at now allowing max requests per minute.
// A non-positive max disables the limit.
func NewWindow(max int, now time.Time) Window {
	return Window{Start: now, Max: max}
}

func (w Window) roll(now time.Time) Window {
	if now.Sub(w.Start) > WindowLength {
		w.Count = 0
		w.Start = now
	}
	return w
}

// Check reports whether another request may be sent at now, returning the
// (possibly rolled) window.
func (w Window) Check(now time.Time) (Window, bool) {
	w = w.roll(now)
	if w.Max <= 0 {
		return w, true
	}
	return w, w.Count < w.Max
}

// Record counts one completed request at now.
func (w Window) Record(now time.Time) Window {
	w = w.roll(now)
	w.Count++
	return w
}

// Limiter guards a Window with a mutex and an injectable clock.
//
// Allow and Record are separate steps: two callers sharing one Limiter can
// both pass Allow before either records, so the ceiling is only exact for a
// single sequential caller.
type Limiter struct {
	mu  sync.Mutex
	clk func() time.Time
	w   Window
}

// NewLimiter builds a limiter; clk nil means time.Now.
func NewLimiter(max int, clk func() time.Time) *Limiter {
	if clk == nil {
		clk = time.Now
	}
	return &Limiter{clk: clk, w: NewWindow(max, clk())}
}

// Allow runs the pre-request check.
func (l *Limiter) Allow() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	var ok bool
	l.w, ok = l.w.Check(l.clk())
	return ok
}

// Record counts a successful request.
func (l *Limiter) Record() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.w = l.w.Record(l.clk())
}

// SetMax changes the ceiling without touching the current count.
func (l *Limiter) SetMax(max int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.w.Max = max
}

// Snapshot returns a copy of the current window (diagnostics and tests).
func (l *Limiter) Snapshot() Window {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.w
}
