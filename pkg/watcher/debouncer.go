package watcher

import (
	"sync"
	"time"

	"github.com/vanderheijden86/beadnav/pkg/clock"
	"github.com/vanderheijden86/beadnav/pkg/coalesce"
)

// DefaultDebounceDuration is the default quiet period before a change is
// reported.
const DefaultDebounceDuration = 200 * time.Millisecond

// Debouncer runs the most recently triggered function once triggers stop
// arriving for the configured duration.
type Debouncer struct {
	duration time.Duration
	c        *coalesce.Coalescer[struct{}]

	mu sync.Mutex
	fn func()
}

// NewDebouncer returns a debouncer with duration d, or
// DefaultDebounceDuration when d is not positive.
func NewDebouncer(d time.Duration) *Debouncer {
	return newDebouncer(d, clock.Real())
}

func newDebouncer(d time.Duration, clk clock.Clock) *Debouncer {
	if d <= 0 {
		d = DefaultDebounceDuration
	}
	db := &Debouncer{duration: d}
	db.c = coalesce.New(func(struct{}) { db.run() },
		coalesce.WithDelay(d), coalesce.WithClock(clk), coalesce.WithName("watcher"))
	return db
}

// Trigger schedules fn, replacing any function from an earlier trigger that
// has not run yet.
func (d *Debouncer) Trigger(fn func()) {
	d.mu.Lock()
	d.fn = fn
	d.mu.Unlock()
	d.c.Request(struct{}{})
}

// Cancel drops the pending function.
func (d *Debouncer) Cancel() {
	d.c.Cancel(struct{}{})
	d.mu.Lock()
	d.fn = nil
	d.mu.Unlock()
}

// Duration returns the debounce period.
func (d *Debouncer) Duration() time.Duration {
	return d.duration
}

func (d *Debouncer) run() {
	d.mu.Lock()
	fn := d.fn
	d.fn = nil
	d.mu.Unlock()
	if fn != nil {
		fn()
	}
}
