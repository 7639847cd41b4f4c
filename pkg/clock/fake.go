package clock

import (
	"sort"
	"sync"
	"time"
)

// Fake is a Clock that only moves when Advance is called. AfterFunc
// callbacks run synchronously inside Advance, in deadline order.
type Fake struct {
	mu      sync.Mutex
	now     time.Time
	seq     int
	waiters []*fakeWaiter
}

type fakeWaiter struct {
	deadline time.Time
	seq      int
	fn       func()
	ch       chan time.Time
	interval time.Duration
	stopped  bool
	fired    bool
}

// NewFake returns a fake clock set to start.
func NewFake(start time.Time) *Fake {
	return &Fake{now: start}
}

// Now returns the fake time.
func (c *Fake) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// AfterFunc registers f to run once the clock passes now+d. A non-positive d
// runs f before AfterFunc returns.
func (c *Fake) AfterFunc(d time.Duration, f func()) Timer {
	if d <= 0 {
		f()
		return &fakeTimer{c: c, w: &fakeWaiter{fired: true}}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seq++
	w := &fakeWaiter{deadline: c.now.Add(d), seq: c.seq, fn: f}
	c.waiters = append(c.waiters, w)
	return &fakeTimer{c: c, w: w}
}

// NewTicker returns a ticker that fires once per elapsed interval during
// Advance. Ticks are dropped when the channel is full.
func (c *Fake) NewTicker(d time.Duration) Ticker {
	if d <= 0 {
		panic("clock: non-positive interval for NewTicker")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seq++
	w := &fakeWaiter{deadline: c.now.Add(d), seq: c.seq, ch: make(chan time.Time, 1), interval: d}
	c.waiters = append(c.waiters, w)
	return &fakeTicker{c: c, w: w}
}

// Advance moves the clock forward by d and fires every waiter whose
// deadline has been reached. Callbacks registered while firing are picked
// up in the same call if they fall inside the window.
func (c *Fake) Advance(d time.Duration) {
	c.mu.Lock()
	target := c.now.Add(d)
	c.mu.Unlock()

	for {
		w := c.nextExpired(target)
		if w == nil {
			break
		}
		if w.fn != nil {
			w.fn()
		} else if w.ch != nil {
			select {
			case w.ch <- w.deadline:
			default:
			}
		}
	}

	c.mu.Lock()
	c.now = target
	c.mu.Unlock()
}

// nextExpired pops the earliest waiter due at or before target and moves
// the clock to its deadline.
func (c *Fake) nextExpired(target time.Time) *fakeWaiter {
	c.mu.Lock()
	defer c.mu.Unlock()

	live := c.waiters[:0]
	for _, w := range c.waiters {
		if !w.stopped && !w.fired {
			live = append(live, w)
		}
	}
	c.waiters = live
	if len(c.waiters) == 0 {
		return nil
	}
	sort.Slice(c.waiters, func(i, j int) bool {
		a, b := c.waiters[i], c.waiters[j]
		if a.deadline.Equal(b.deadline) {
			return a.seq < b.seq
		}
		return a.deadline.Before(b.deadline)
	})
	w := c.waiters[0]
	if w.deadline.After(target) {
		return nil
	}
	c.now = w.deadline
	if w.interval > 0 {
		next := *w
		c.seq++
		w.deadline = w.deadline.Add(w.interval)
		w.seq = c.seq
		return &next
	}
	w.fired = true
	return w
}

// Pending returns the number of registered callbacks and tickers that have
// not fired or been stopped.
func (c *Fake) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, w := range c.waiters {
		if !w.stopped && !w.fired {
			n++
		}
	}
	return n
}

type fakeTimer struct {
	c *Fake
	w *fakeWaiter
}

func (t *fakeTimer) Stop() bool {
	t.c.mu.Lock()
	defer t.c.mu.Unlock()
	if t.w.stopped || t.w.fired {
		return false
	}
	t.w.stopped = true
	return true
}

type fakeTicker struct {
	c *Fake
	w *fakeWaiter
}

func (t *fakeTicker) C() <-chan time.Time { return t.w.ch }

func (t *fakeTicker) Stop() {
	t.c.mu.Lock()
	t.w.stopped = true
	t.c.mu.Unlock()
}
