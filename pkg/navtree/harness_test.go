package navtree

import (
	"bytes"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/vanderheijden86/beadnav/internal/datasource"
	"github.com/vanderheijden86/beadnav/internal/resolver"
	"github.com/vanderheijden86/beadnav/internal/syncreg"
	"github.com/vanderheijden86/beadnav/pkg/clock"
	"github.com/vanderheijden86/beadnav/pkg/eventlog"
	"github.com/vanderheijden86/beadnav/pkg/hypercube"
	"github.com/vanderheijden86/beadnav/pkg/model"
	"github.com/vanderheijden86/beadnav/pkg/scheduler"
)

var epoch = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

// sampleIssues holds six live issues:
//
//	status:  open 2, closed 2, in_progress 1, deferred 1
//	label:   ui 3, backend 2, none 2
//	tag:     mine 1
func sampleIssues() []datasource.FixtureIssue {
	return []datasource.FixtureIssue{
		{ID: "bd-1", Title: "Login button", Status: "open", Priority: 1, Type: "task", Labels: []string{"ui"}},
		{ID: "bd-2", Title: "Crash on save", Status: "open", Priority: 2, Type: "bug", Labels: []string{"backend", "ui"}},
		{ID: "bd-3", Title: "Schema docs", Status: "closed", Priority: 1, Type: "task", Labels: []string{"backend"}},
		{ID: "bd-4", Title: "Export", Status: "in_progress", Priority: 0, Type: "feature"},
		{ID: "bd-5", Title: "Cleanup", Status: "deferred", Priority: 3, Type: "chore"},
		{ID: "bd-6", Title: "Dark mode", Status: "closed", Priority: 2, Type: "bug", Labels: []string{"ui", "tag:mine"}},
		{ID: "bd-7", Title: "Gone", Status: "open", Priority: 1, Type: "task", Deleted: true},
	}
}

// countingScheduler records every accepted Schedule call per owner.
type countingScheduler struct {
	*scheduler.Scheduler
	mu        sync.Mutex
	scheduled map[string]int
}

func newCountingScheduler() *countingScheduler {
	return &countingScheduler{Scheduler: scheduler.New(), scheduled: make(map[string]int)}
}

func (s *countingScheduler) Schedule(owner string, job scheduler.Job, cancelExisting bool) bool {
	ok := s.Scheduler.Schedule(owner, job, cancelExisting)
	if ok {
		s.mu.Lock()
		s.scheduled[owner]++
		s.mu.Unlock()
	}
	return ok
}

func (s *countingScheduler) count(owner string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.scheduled[owner]
}

func (s *countingScheduler) reset() {
	s.mu.Lock()
	s.scheduled = make(map[string]int)
	s.mu.Unlock()
}

// countingRegistry counts registry lookups.
type countingRegistry struct {
	*syncreg.Registry
	mu      sync.Mutex
	lookups int
	failErr error
}

func (r *countingRegistry) SyncFlag(conn, node string) bool {
	r.mu.Lock()
	r.lookups++
	r.mu.Unlock()
	return r.Registry.SyncFlag(conn, node)
}

func (r *countingRegistry) IsCubeSynced(c *hypercube.Cube) bool {
	r.mu.Lock()
	r.lookups++
	r.mu.Unlock()
	return r.Registry.IsCubeSynced(c)
}

func (r *countingRegistry) Unlock() error {
	err := r.Registry.Unlock()
	if r.failErr != nil {
		return r.failErr
	}
	return err
}

func (r *countingRegistry) lookupCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lookups
}

func (r *countingRegistry) resetLookups() {
	r.mu.Lock()
	r.lookups = 0
	r.mu.Unlock()
}

type harness struct {
	t     *testing.T
	clock *clock.Fake
	exec  *ManualExecutor
	sched *countingScheduler
	reg   *countingRegistry
	tree  *Tree
	store *datasource.Store
	conn  *Node
	dir   string
	logs  *bytes.Buffer
}

type harnessOption func(*harnessConfig)

type harnessConfig struct {
	issues    []datasource.FixtureIssue
	statePath bool
}

func withIssues(issues []datasource.FixtureIssue) harnessOption {
	return func(c *harnessConfig) { c.issues = issues }
}

func withState() harnessOption {
	return func(c *harnessConfig) { c.statePath = true }
}

func newHarness(t *testing.T, opts ...harnessOption) *harness {
	t.Helper()
	cfg := harnessConfig{issues: sampleIssues()}
	for _, opt := range opts {
		opt(&cfg)
	}

	dir := t.TempDir()
	path := filepath.Join(dir, datasource.DatabaseName)
	if err := datasource.WriteFixture(path, cfg.issues); err != nil {
		t.Fatalf("WriteFixture: %v", err)
	}
	conn := model.NewConnection("main", dir)
	store, err := datasource.Open(conn, path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	h := &harness{
		t:     t,
		clock: clock.NewFake(epoch),
		exec:  &ManualExecutor{},
		sched: newCountingScheduler(),
		reg:   &countingRegistry{Registry: syncreg.NewMemory()},
		store: store,
		dir:   dir,
		logs:  &bytes.Buffer{},
	}
	logger := eventlog.NewSink(h.logs, eventlog.LevelWarn).For("navtree")
	treeOpts := []Option{WithClock(h.clock), WithScheduler(h.sched), WithRegistry(h.reg), WithLogger(logger)}
	if cfg.statePath {
		treeOpts = append(treeOpts, WithStatePath(TreeStatePath(dir)))
	}
	h.tree = New(h.exec, treeOpts...)
	t.Cleanup(func() {
		h.tree.Close()
		h.sched.Close()
		store.Close()
	})

	h.conn = h.tree.AddConnection(conn, store)
	h.conn.SetExpanded(true)
	return h
}

// settle runs posted work, finished jobs and due timers until nothing is
// left.
func (h *harness) settle() {
	h.t.Helper()
	for i := 0; i < 100; i++ {
		h.exec.Drain()
		h.sched.Wait()
		if h.exec.Len() > 0 {
			continue
		}
		if h.clock.Pending() == 0 {
			return
		}
		h.clock.Advance(2 * time.Second)
	}
	h.t.Fatal("tree did not settle")
}

// advance moves the clock by d and runs what came due, without waiting for
// jobs.
func (h *harness) advance(d time.Duration) {
	h.clock.Advance(d)
	h.exec.Drain()
}

// syncAll marks the connection synchronized and settles.
func (h *harness) syncAll() {
	h.t.Helper()
	h.conn.SetSyncFlag(true, false)
	h.settle()
}

func (h *harness) query(parent *Node, name, text string) *Node {
	h.t.Helper()
	n, err := h.tree.AddQuery(parent, name, text)
	if err != nil {
		h.t.Fatalf("AddQuery(%q): %v", text, err)
	}
	return n
}

type eventLog struct {
	events []Event
}

func (h *harness) record() *eventLog {
	l := &eventLog{}
	h.t.Cleanup(h.tree.Subscribe(func(e Event) { l.events = append(l.events, e) }))
	return l
}

func (l *eventLog) count(kind EventKind, node *Node) int {
	n := 0
	for _, e := range l.events {
		if e.Kind == kind && (node == nil || e.Node == node) {
			n++
		}
	}
	return n
}

func (l *eventLog) reset() { l.events = nil }

func key(attr model.AttrID, name string) model.ItemKey {
	return model.ItemKey{Attr: attr, Value: model.KeyOf(attr, name), Name: name}
}

func keys(attr model.AttrID, names ...string) []model.ItemKey {
	out := make([]model.ItemKey, len(names))
	for i, n := range names {
		out[i] = key(attr, n)
	}
	return out
}

func valueModel(attr model.AttrID, names ...string) *resolver.Model {
	m := resolver.New(model.MustLookup(attr), nil)
	m.Set(keys(attr, names...))
	return m
}

func childNamed(n *Node, name string) *Node {
	for _, c := range n.children {
		if c.name == name {
			return c
		}
	}
	return nil
}

func names(n *Node) []string {
	out := make([]string, len(n.children))
	for i, c := range n.children {
		out[i] = c.name
	}
	return out
}

var errUnlock = errors.New("registry disk full")

func writeFixture(h *harness, issues []datasource.FixtureIssue) error {
	return datasource.WriteFixture(filepath.Join(h.dir, datasource.DatabaseName), issues)
}
