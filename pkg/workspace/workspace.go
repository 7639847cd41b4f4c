package workspace

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/vanderheijden86/beadnav/internal/datasource"
	"github.com/vanderheijden86/beadnav/internal/resolver"
	"github.com/vanderheijden86/beadnav/internal/syncreg"
	"github.com/vanderheijden86/beadnav/pkg/clock"
	"github.com/vanderheijden86/beadnav/pkg/config"
	"github.com/vanderheijden86/beadnav/pkg/eventlog"
	"github.com/vanderheijden86/beadnav/pkg/model"
	"github.com/vanderheijden86/beadnav/pkg/navtree"
	"github.com/vanderheijden86/beadnav/pkg/scheduler"
	"github.com/vanderheijden86/beadnav/pkg/watcher"
)

// ErrNoConnections is returned by Open when the config lists none.
var ErrNoConnections = errors.New("workspace: no connections configured")

// Options configures Open.
type Options struct {
	// RegistryPath is the sync registry database; empty keeps the registry
	// in memory.
	RegistryPath string
	// StatePath is the tree state file; empty means DefaultStatePath.
	StatePath string
	// Watch starts a database watcher per connection.
	Watch bool
	// Open overrides how connection databases are opened.
	Open   OpenFunc
	Clock  clock.Clock
	Logger *eventlog.Logger
}

// Workspace owns the navigation tree and everything feeding it: the owner
// loop, the scheduler, the sync registry, the value models and the
// database watchers.
type Workspace struct {
	cfg      config.Config
	owner    *navtree.Owner
	tree     *navtree.Tree
	sched    *scheduler.Scheduler
	registry *syncreg.Registry
	pool     *resolver.Pool
	results  []LoadResult
	watchers []*watcher.Watcher
	log      *eventlog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	loopWG sync.WaitGroup
	bgWG   sync.WaitGroup
	once   sync.Once

	refreshing atomic.Int64
}

// Open opens the connections of cfg in parallel and builds the tree. A
// connection that fails to open is shown as not ready; Open fails only
// when nothing is configured or the registry cannot be opened.
func Open(ctx context.Context, cfg config.Config, opts Options) (*Workspace, error) {
	if len(cfg.Connections) == 0 {
		return nil, ErrNoConnections
	}
	if opts.Open == nil {
		opts.Open = datasource.OpenConnection
	}
	if opts.Logger == nil {
		opts.Logger = eventlog.For("workspace")
	}

	registry := syncreg.NewMemory()
	if opts.RegistryPath != "" {
		if err := os.MkdirAll(filepath.Dir(opts.RegistryPath), 0o755); err != nil {
			return nil, fmt.Errorf("creating registry directory: %w", err)
		}
		r, err := syncreg.Open(opts.RegistryPath)
		if err != nil {
			return nil, err
		}
		registry = r
	}

	results, err := openConnections(ctx, cfg.Connections, opts.Open)
	if err != nil {
		closeStores(results)
		registry.Close()
		return nil, err
	}

	w := &Workspace{
		cfg:      cfg,
		owner:    navtree.NewOwner(),
		registry: registry,
		results:  results,
		log:      opts.Logger,
	}
	w.ctx, w.cancel = context.WithCancel(context.Background())
	w.sched = scheduler.New(
		scheduler.WithWorkers(cfg.Workers()),
		scheduler.WithRateLimit(cfg.Scheduler.MaxStartsPerSecond, cfg.Scheduler.Burst),
		scheduler.WithErrorHandler(func(e *scheduler.JobError) {
			w.log.Warn("job_failed", eventlog.Fields{"owner": e.Owner, "phase": e.Phase, "error": e.Cause})
		}),
	)
	w.pool = resolver.NewPool(resolver.WithExecutor(w.owner.Post))

	statePath := opts.StatePath
	if statePath == "" {
		statePath = DefaultStatePath(cfg)
	}
	treeOpts := []navtree.Option{
		navtree.WithScheduler(w.sched),
		navtree.WithRegistry(registry),
		navtree.WithDelays(cfg.Delays()),
		navtree.WithStatePath(statePath),
		navtree.WithLogger(eventlog.For("navtree")),
	}
	if opts.Clock != nil {
		treeOpts = append(treeOpts, navtree.WithClock(opts.Clock))
	}

	w.loopWG.Add(1)
	go func() {
		defer w.loopWG.Done()
		w.owner.Run(w.ctx)
	}()

	var buildErr error
	err = w.owner.Call(ctx, func() {
		w.tree = navtree.New(w.owner, treeOpts...)
		buildErr = w.build()
	})
	if err == nil {
		err = buildErr
	}
	if err != nil {
		w.Close()
		return nil, err
	}

	for _, r := range results {
		if r.Store == nil {
			w.log.Warn("connection_unavailable", eventlog.Fields{"connection": r.Name, "error": r.Error})
			continue
		}
		w.refresh(r.Name)
		if opts.Watch {
			w.watch(r)
		}
	}
	return w, nil
}

// build creates the connection nodes and their configured subtrees. It runs
// on the owner loop.
func (w *Workspace) build() error {
	for i, c := range w.cfg.Connections {
		r := w.results[i]
		var db navtree.Database
		if r.Store != nil {
			db = r.Store
			w.pool.AddSource(c.Name, r.Store)
		}
		node := w.tree.AddConnection(model.NewConnection(c.Name, c.BeadsDir), db)
		if c.IsSynced() && r.Store != nil && !node.SyncFlag() {
			node.SetSyncFlag(true, false)
		}
		for _, nc := range w.cfg.TreeFor(c.Name) {
			if err := w.addNode(node, c.Name, nc); err != nil {
				return fmt.Errorf("connection %s: %w", c.Name, err)
			}
		}
		w.autoExpand(node, 0)
	}
	return nil
}

func (w *Workspace) addNode(parent *navtree.Node, conn string, nc config.Node) error {
	var (
		n   *navtree.Node
		err error
	)
	switch nc.Kind() {
	case navtree.KindDistributionFolder:
		attr, ok := model.Lookup(string(nc.Params.Attribute))
		if !ok {
			return fmt.Errorf("%s: unknown attribute %q", nc.Name(), nc.Params.Attribute)
		}
		vm, _ := w.pool.Model(conn, attr)
		n, err = w.tree.AddDistribution(parent, nc.Name(), *nc.Params, vm)
	case navtree.KindQuery:
		n, err = w.tree.AddQuery(parent, nc.Name(), nc.Filter)
	default:
		n, err = w.tree.AddFolder(parent, nc.Name())
	}
	if err != nil {
		return fmt.Errorf("%s: %w", nc.Name(), err)
	}
	if nc.HideEmpty || w.cfg.UI.HideEmpty {
		n.SetHideEmptyChildren(true)
	}
	if nc.Synced && !n.SyncFlag() {
		n.SetSyncFlag(true, false)
	}
	for _, child := range nc.Children {
		if err := w.addNode(n, conn, child); err != nil {
			return err
		}
	}
	return nil
}

// autoExpand expands n and its descendants down to the configured depth,
// leaving nodes with a saved state alone.
func (w *Workspace) autoExpand(n *navtree.Node, depth int) {
	if depth >= w.cfg.UI.AutoExpandTo {
		return
	}
	if !n.HasSavedExpanded() {
		n.SetExpanded(true)
	}
	for _, c := range n.Children() {
		w.autoExpand(c, depth+1)
	}
}

// refresh reloads the value models of conn in the background.
func (w *Workspace) refresh(conn string) {
	w.bgWG.Add(1)
	w.refreshing.Add(1)
	go func() {
		defer w.bgWG.Done()
		defer w.refreshing.Add(-1)
		if err := w.pool.Refresh(w.ctx, conn); err != nil && w.ctx.Err() == nil {
			w.log.Warn("values_refresh_failed", eventlog.Fields{"connection": conn, "error": err})
		}
	}()
}

func (w *Workspace) watch(r LoadResult) {
	name := r.Name
	fw, err := watcher.Watch(w.ctx, r.Store.Path(),
		watcher.WithDebounce(w.cfg.WatcherDebounce()),
		watcher.WithOnChange(func() { w.DatabaseChanged(name) }),
		watcher.WithOnError(func(err error) {
			w.log.Warn("watch_error", eventlog.Fields{"connection": name, "error": err})
		}),
	)
	if err != nil {
		w.log.Warn("watch_failed", eventlog.Fields{"connection": name, "path": r.Store.Path(), "error": err})
		return
	}
	w.watchers = append(w.watchers, fw)
}

// DatabaseChanged recounts the named connection and refreshes its values.
// It is safe to call from any goroutine.
func (w *Workspace) DatabaseChanged(conn string) {
	w.owner.Post(func() { w.tree.DatabaseChanged(conn) })
	w.refresh(conn)
}

// settlePoll is how often Settle looks at the tree.
const settlePoll = 10 * time.Millisecond

// Settle waits until no value refresh is running and the tree has no
// outstanding counts or coalesced work. visit, if not nil, runs on the owner
// loop before each check, so counts it requests are waited for too.
func (w *Workspace) Settle(ctx context.Context, visit func(*navtree.Tree)) error {
	ticker := time.NewTicker(settlePoll)
	defer ticker.Stop()
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		idle := false
		err := w.Do(ctx, func(t *navtree.Tree) {
			if visit != nil {
				visit(t)
			}
			idle = w.refreshing.Load() == 0 && !t.Busy() && w.owner.Len() == 0
		})
		if err != nil {
			return err
		}
		if idle {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Tree returns the navigation tree. It must only be used on the owner loop.
func (w *Workspace) Tree() *navtree.Tree { return w.tree }

// Owner returns the loop owning the tree.
func (w *Workspace) Owner() *navtree.Owner { return w.owner }

// Registry returns the sync registry.
func (w *Workspace) Registry() *syncreg.Registry { return w.registry }

// Results returns the outcome of opening each connection.
func (w *Workspace) Results() []LoadResult { return w.results }

// Do runs f on the owner loop and waits for it.
func (w *Workspace) Do(ctx context.Context, f func(*navtree.Tree)) error {
	return w.owner.Call(ctx, func() { f(w.tree) })
}

// Close stops watchers, cancels outstanding work, flushes the tree state
// and closes the databases.
func (w *Workspace) Close() error {
	var err error
	w.once.Do(func() {
		for _, fw := range w.watchers {
			fw.Stop()
		}
		if w.tree != nil {
			_ = w.owner.Call(context.Background(), w.tree.Close)
		}
		w.cancel()
		w.loopWG.Wait()
		w.bgWG.Wait()
		w.sched.Close()
		closeStores(w.results)
		err = w.registry.Close()
	})
	return err
}

func closeStores(results []LoadResult) {
	for _, r := range results {
		if r.Store != nil {
			r.Store.Close()
		}
	}
}

// DefaultStatePath returns the tree state file for cfg: inside the beads
// directory of a single connection, otherwise in the XDG state directory.
func DefaultStatePath(cfg config.Config) string {
	if len(cfg.Connections) == 1 {
		return navtree.TreeStatePath(cfg.Connections[0].BeadsDir)
	}
	if dir := config.StateDir(); dir != "" {
		return filepath.Join(dir, navtree.TreeStateFile)
	}
	return ""
}
