// Package resolver keeps live, ordered enumerations of the distinct values
// of an attribute. A Model is refreshed from the database and reports the
// difference to its listeners as insert, update and remove events.
package resolver

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/vanderheijden86/beadnav/internal/datasource"
	"github.com/vanderheijden86/beadnav/pkg/eventlog"
	"github.com/vanderheijden86/beadnav/pkg/metrics"
	"github.com/vanderheijden86/beadnav/pkg/model"
)

// Listener receives changes of a Model. Indexes refer to the model as seen
// at the time of the call: Removing runs before the values disappear,
// Inserted after they appear.
type Listener interface {
	Inserted(index, n int)
	Updated(from, to int)
	Removing(index, n int)
}

// Source reads the database the values come from.
type Source interface {
	Read(ctx context.Context, fn func(datasource.Reader) error) error
}

// Option configures a Model.
type Option func(*Model)

// WithExecutor runs model updates through run, usually the tree's owner
// loop. By default updates run on the goroutine calling Refresh.
func WithExecutor(run func(func())) Option {
	return func(m *Model) { m.exec = run }
}

// Model is the ordered list of distinct values of one attribute.
type Model struct {
	attr *model.Attribute
	src  Source
	exec func(func())

	mu    sync.RWMutex
	items []model.ItemKey

	lmu       sync.Mutex
	listeners map[int]Listener
	nextID    int

	log *eventlog.Logger
}

// New returns an empty model of attr fed from src. src may be nil for
// models filled with Set.
func New(attr *model.Attribute, src Source, opts ...Option) *Model {
	m := &Model{
		attr:      attr,
		src:       src,
		exec:      func(f func()) { f() },
		listeners: make(map[int]Listener),
		log:       eventlog.For("resolver"),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Attribute returns the enumerated attribute.
func (m *Model) Attribute() *model.Attribute { return m.attr }

// Len returns the number of values.
func (m *Model) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.items)
}

// At returns the value at index i.
func (m *Model) At(i int) model.ItemKey {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.items[i]
}

// Index returns the position of v, or -1.
func (m *Model) Index(v model.Value) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for i, k := range m.items {
		if k.Value == v {
			return i
		}
	}
	return -1
}

// Items returns a copy of the values.
func (m *Model) Items() []model.ItemKey {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]model.ItemKey, len(m.items))
	copy(out, m.items)
	return out
}

// Subscribe registers l and returns a function removing it.
func (m *Model) Subscribe(l Listener) func() {
	m.lmu.Lock()
	id := m.nextID
	m.nextID++
	m.listeners[id] = l
	m.lmu.Unlock()
	return func() {
		m.lmu.Lock()
		delete(m.listeners, id)
		m.lmu.Unlock()
	}
}

// Refresh reads the current values and applies the difference through the
// executor.
func (m *Model) Refresh(ctx context.Context) error {
	if m.src == nil {
		return nil
	}
	defer metrics.Timer(metrics.ResolverRefresh)()

	var keys []model.ItemKey
	err := m.src.Read(ctx, func(r datasource.Reader) error {
		var err error
		keys, err = r.Values(ctx, m.attr.ID)
		return err
	})
	if err != nil {
		return fmt.Errorf("refresh %s: %w", m.attr.ID, err)
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}

	start := time.Now()
	m.exec(func() {
		m.Set(keys)
		m.log.Trace("refreshed", eventlog.Fields{
			"attr":   string(m.attr.ID),
			"values": len(keys),
			"ms":     time.Since(start).Milliseconds(),
		})
	})
	return nil
}

// Set replaces the values with keys, emitting one event per difference.
// Listeners run synchronously, so Set must run where listeners expect it.
func (m *Model) Set(keys []model.ItemKey) {
	next := make([]model.ItemKey, 0, len(keys))
	seen := make(map[model.Value]bool, len(keys))
	for _, k := range keys {
		if seen[k.Value] {
			continue
		}
		seen[k.Value] = true
		next = append(next, k)
	}
	sort.SliceStable(next, func(i, j int) bool { return m.less(next[i], next[j]) })

	i, j := 0, 0
	for j < len(next) || i < m.Len() {
		switch {
		case j >= len(next):
			m.remove(i)
		case i >= m.Len():
			m.insert(i, next[j])
			i++
			j++
		default:
			cur := m.At(i)
			switch {
			case cur.Value == next[j].Value:
				if cur != next[j] {
					m.replace(i, next[j])
				}
				i++
				j++
			case m.less(cur, next[j]):
				m.remove(i)
			default:
				m.insert(i, next[j])
				i++
				j++
			}
		}
	}
}

// less orders values by the attribute's declared order, then by name.
func (m *Model) less(a, b model.ItemKey) bool {
	if m.attr != nil {
		ai, bi := m.attr.OrderIndex(a.Name), m.attr.OrderIndex(b.Name)
		if ai != bi {
			return ai < bi
		}
	}
	al, bl := strings.ToLower(a.Name), strings.ToLower(b.Name)
	if al != bl {
		return al < bl
	}
	if a.Name != b.Name {
		return a.Name < b.Name
	}
	return a.Value < b.Value
}

func (m *Model) insert(i int, k model.ItemKey) {
	m.mu.Lock()
	m.items = append(m.items, model.ItemKey{})
	copy(m.items[i+1:], m.items[i:])
	m.items[i] = k
	m.mu.Unlock()
	for _, l := range m.snapshot() {
		l.Inserted(i, 1)
	}
}

func (m *Model) remove(i int) {
	for _, l := range m.snapshot() {
		l.Removing(i, 1)
	}
	m.mu.Lock()
	m.items = append(m.items[:i], m.items[i+1:]...)
	m.mu.Unlock()
}

func (m *Model) replace(i int, k model.ItemKey) {
	m.mu.Lock()
	m.items[i] = k
	m.mu.Unlock()
	for _, l := range m.snapshot() {
		l.Updated(i, i)
	}
}

func (m *Model) snapshot() []Listener {
	m.lmu.Lock()
	defer m.lmu.Unlock()
	ids := make([]int, 0, len(m.listeners))
	for id := range m.listeners {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	out := make([]Listener, len(ids))
	for n, id := range ids {
		out[n] = m.listeners[id]
	}
	return out
}
