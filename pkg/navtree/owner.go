package navtree

import (
	"context"
	"sync"
)

// Owner is the loop that owns a tree. Every mutation of nodes and caches
// runs in a function posted to it.
type Owner struct {
	mu     sync.Mutex
	queue  []func()
	signal chan struct{}
	done   chan struct{}
}

// NewOwner returns an owner loop. Run must be called to process posts.
func NewOwner() *Owner {
	return &Owner{
		signal: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
}

// Post queues f. It never blocks, so it is safe to call from the loop
// itself and from timer callbacks.
func (o *Owner) Post(f func()) {
	o.mu.Lock()
	o.queue = append(o.queue, f)
	o.mu.Unlock()
	select {
	case o.signal <- struct{}{}:
	default:
	}
}

// Call runs f on the loop and waits for it. It must not be called from the
// loop.
func (o *Owner) Call(ctx context.Context, f func()) error {
	finished := make(chan struct{})
	o.Post(func() {
		defer close(finished)
		f()
	})
	select {
	case <-finished:
		return nil
	case <-o.done:
		return context.Canceled
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run processes posted functions until ctx is done.
func (o *Owner) Run(ctx context.Context) {
	defer close(o.done)
	for {
		for {
			f := o.pop()
			if f == nil {
				break
			}
			f()
		}
		select {
		case <-ctx.Done():
			return
		case <-o.signal:
		}
	}
}

// Len returns the number of queued functions.
func (o *Owner) Len() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.queue)
}

func (o *Owner) pop() func() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if len(o.queue) == 0 {
		return nil
	}
	f := o.queue[0]
	o.queue[0] = nil
	o.queue = o.queue[1:]
	return f
}

// ManualExecutor queues posted functions until Drain runs them on the
// caller's goroutine. It drives the tree deterministically in tests and
// one-shot commands.
type ManualExecutor struct {
	mu    sync.Mutex
	queue []func()
}

// Post queues f.
func (m *ManualExecutor) Post(f func()) {
	m.mu.Lock()
	m.queue = append(m.queue, f)
	m.mu.Unlock()
}

// Drain runs queued functions, including ones posted while draining, and
// returns how many ran.
func (m *ManualExecutor) Drain() int {
	n := 0
	for {
		m.mu.Lock()
		if len(m.queue) == 0 {
			m.mu.Unlock()
			return n
		}
		f := m.queue[0]
		m.queue = m.queue[1:]
		m.mu.Unlock()
		f()
		n++
	}
}

// Len returns the number of queued functions.
func (m *ManualExecutor) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.queue)
}
