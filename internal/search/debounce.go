// internal/search/debounce.go
package search

import (
	"sync"
	"time"

	"github.com/raulk/clock"
)

// Debouncer runs the latest scheduled function once its quiet period passes
// without a newer schedule. Every schedule or bump starts a new generation;
// work tagged with an older generation is stale.
type Debouncer struct {
	clock clock.Clock
	quiet time.Duration

	mu      sync.Mutex
	gen     uint64
	pending *clock.Timer
	stopped bool
}

func NewDebouncer(clk clock.Clock, quiet time.Duration) *Debouncer {
	if clk == nil {
		clk = clock.New()
	}
	return &Debouncer{clock: clk, quiet: quiet}
}

// Schedule cancels any pending run and calls fn with the new generation after
// the quiet period.
func (d *Debouncer) Schedule(fn func(gen uint64)) uint64 {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.cancelLocked()
	d.gen++
	if d.stopped {
		return d.gen
	}
	gen := d.gen
	d.pending = d.clock.AfterFunc(d.quiet, func() {
		d.mu.Lock()
		if d.gen != gen || d.stopped {
			d.mu.Unlock()
			return
		}
		d.pending = nil
		d.mu.Unlock()
		fn(gen)
	})
	return gen
}

// Bump cancels any pending run and returns a generation for work the caller
// runs right away.
func (d *Debouncer) Bump() uint64 {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.cancelLocked()
	d.gen++
	return d.gen
}

// Current reports whether gen is the latest generation.
func (d *Debouncer) Current(gen uint64) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return !d.stopped && d.gen == gen
}

func (d *Debouncer) Pending() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.pending != nil
}

func (d *Debouncer) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.cancelLocked()
	d.stopped = true
}

func (d *Debouncer) cancelLocked() {
	if d.pending != nil {
		d.pending.Stop()
		d.pending = nil
	}
}
