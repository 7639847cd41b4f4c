package resolver

import (
	"context"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/vanderheijden86/beadnav/pkg/model"
)

type poolKey struct {
	conn string
	attr model.AttrID
}

// Pool hands out one Model per connection and attribute.
type Pool struct {
	mu      sync.Mutex
	sources map[string]Source
	models  map[poolKey]*Model
	opts    []Option
}

// NewPool returns an empty pool whose models are built with opts.
func NewPool(opts ...Option) *Pool {
	return &Pool{
		sources: make(map[string]Source),
		models:  make(map[poolKey]*Model),
		opts:    opts,
	}
}

// AddSource registers the database of a connection.
func (p *Pool) AddSource(conn string, src Source) {
	p.mu.Lock()
	p.sources[conn] = src
	p.mu.Unlock()
}

// Model returns the model of attr for conn, creating it on first use. The
// second result is false when the model was just created and has not been
// refreshed yet.
func (p *Pool) Model(conn string, attr *model.Attribute) (*Model, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	k := poolKey{conn, attr.ID}
	if m, ok := p.models[k]; ok {
		return m, true
	}
	m := New(attr, p.sources[conn], p.opts...)
	p.models[k] = m
	return m, false
}

// Refresh refreshes every model of conn in parallel.
func (p *Pool) Refresh(ctx context.Context, conn string) error {
	p.mu.Lock()
	var ms []*Model
	for k, m := range p.models {
		if k.conn == conn {
			ms = append(ms, m)
		}
	}
	p.mu.Unlock()

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for _, m := range ms {
		g.Go(func() error { return m.Refresh(ctx) })
	}
	return g.Wait()
}
