// Package coalesce merges bursts of requests for the same key into a single
// delayed execution.
//
// Two flavors are supported. A trailing coalescer runs a key once no request
// for it has arrived for Delay. A bounded coalescer (WithMaxDelay) runs it at
// the latest MaxDelay after the first request of the burst, so a steady
// stream of requests cannot postpone execution forever.
package coalesce

import (
	"sync"
	"time"

	"github.com/vanderheijden86/beadnav/pkg/clock"
	"github.com/vanderheijden86/beadnav/pkg/metrics"
)

// DefaultDelay is used when no delay is configured.
const DefaultDelay = 100 * time.Millisecond

// Option configures a Coalescer.
type Option func(*options)

type options struct {
	delay    time.Duration
	maxDelay time.Duration
	clock    clock.Clock
	executor func(func())
	name     string
}

// WithDelay sets the trailing delay.
func WithDelay(d time.Duration) Option {
	return func(o *options) { o.delay = d }
}

// WithMaxDelay bounds the time between the first request of a burst and
// its execution.
func WithMaxDelay(d time.Duration) Option {
	return func(o *options) { o.maxDelay = d }
}

// WithClock sets the time source. Tests use a fake clock.
func WithClock(c clock.Clock) Option {
	return func(o *options) { o.clock = c }
}

// WithExecutor routes executions through run, e.g. to post them onto the
// goroutine that owns the data they touch. By default execute runs on the
// timer goroutine.
func WithExecutor(run func(func())) Option {
	return func(o *options) { o.executor = run }
}

// WithName labels the coalescer in metrics.
func WithName(name string) Option {
	return func(o *options) { o.name = name }
}

type entry struct {
	first    time.Time
	deadline time.Time
	timer    clock.Timer
	gen      uint64
}

// Coalescer holds at most one pending execution per key.
type Coalescer[K comparable] struct {
	opts    options
	execute func(K)

	mu      sync.Mutex
	gen     uint64
	pending map[K]*entry
}

// New returns a coalescer calling execute for each key that comes due.
func New[K comparable](execute func(K), opts ...Option) *Coalescer[K] {
	o := options{delay: DefaultDelay, clock: clock.Real(), name: "unnamed"}
	for _, opt := range opts {
		opt(&o)
	}
	if o.delay <= 0 {
		o.delay = DefaultDelay
	}
	if o.maxDelay > 0 && o.maxDelay < o.delay {
		o.maxDelay = o.delay
	}
	if o.executor == nil {
		o.executor = func(fn func()) { fn() }
	}
	return &Coalescer[K]{
		opts:    o,
		execute: execute,
		pending: make(map[K]*entry),
	}
}

// Request schedules execute(key). A request for a key that is already
// pending collapses into it and pushes its deadline back, within the
// MaxDelay bound.
func (c *Coalescer[K]) Request(key K) {
	c.request(key, c.opts.delay)
}

// RequestDelayed is Request with a one-off delay.
func (c *Coalescer[K]) RequestDelayed(key K, d time.Duration) {
	if d <= 0 {
		d = c.opts.delay
	}
	c.request(key, d)
}

func (c *Coalescer[K]) request(key K, delay time.Duration) {
	now := c.opts.clock.Now()
	c.mu.Lock()
	defer c.mu.Unlock()

	metrics.CoalesceRequests.WithLabelValues(c.opts.name).Inc()
	if e, ok := c.pending[key]; ok {
		deadline := now.Add(delay)
		if c.opts.maxDelay > 0 {
			if limit := e.first.Add(c.opts.maxDelay); deadline.After(limit) {
				deadline = limit
			}
		}
		if deadline.After(e.deadline) {
			e.deadline = deadline
		}
		metrics.CoalesceCollapsed.WithLabelValues(c.opts.name).Inc()
		return
	}

	c.gen++
	e := &entry{first: now, deadline: now.Add(delay), gen: c.gen}
	c.pending[key] = e
	c.arm(key, e, delay)
}

// arm starts the timer for e. Must be called with c.mu held.
func (c *Coalescer[K]) arm(key K, e *entry, d time.Duration) {
	gen := e.gen
	e.timer = c.opts.clock.AfterFunc(d, func() { c.fire(key, gen) })
}

func (c *Coalescer[K]) fire(key K, gen uint64) {
	now := c.opts.clock.Now()
	c.mu.Lock()
	e, ok := c.pending[key]
	if !ok || e.gen != gen {
		c.mu.Unlock()
		return
	}
	if remaining := e.deadline.Sub(now); remaining > 0 {
		c.arm(key, e, remaining)
		c.mu.Unlock()
		return
	}
	delete(c.pending, key)
	c.mu.Unlock()

	metrics.CoalesceExecutions.WithLabelValues(c.opts.name).Inc()
	c.opts.executor(func() { c.execute(key) })
}

// Cancel drops the pending execution for key without running it.
func (c *Coalescer[K]) Cancel(key K) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.pending[key]
	if !ok {
		return false
	}
	delete(c.pending, key)
	if e.timer != nil {
		e.timer.Stop()
	}
	return true
}

// CancelAll drops every pending execution.
func (c *Coalescer[K]) CancelAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for key, e := range c.pending {
		if e.timer != nil {
			e.timer.Stop()
		}
		delete(c.pending, key)
	}
}

// Pending reports whether key has a scheduled execution.
func (c *Coalescer[K]) Pending(key K) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.pending[key]
	return ok
}

// Len returns the number of pending keys.
func (c *Coalescer[K]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

// Delay returns the configured trailing delay.
func (c *Coalescer[K]) Delay() time.Duration {
	return c.opts.delay
}

// MaxDelay returns the configured bound, or 0 for a trailing coalescer.
func (c *Coalescer[K]) MaxDelay() time.Duration {
	return c.opts.maxDelay
}
