// Package navtree is the navigation tree engine: it decides per node
// whether the node's items are fully present locally, computes item counts
// in cancellable background jobs, and materializes distribution folders
// holding one child per distinct value of an attribute.
//
// All nodes belong to one owner loop (see Owner). Public methods of Tree
// and Node must run on it; background jobs hand their results back through
// the tree's Executor.
package navtree

import (
	"errors"
	"slices"
	"strconv"
	"sync"
	"time"

	"github.com/vanderheijden86/beadnav/internal/syncreg"
	"github.com/vanderheijden86/beadnav/pkg/clock"
	"github.com/vanderheijden86/beadnav/pkg/coalesce"
	"github.com/vanderheijden86/beadnav/pkg/eventlog"
	"github.com/vanderheijden86/beadnav/pkg/filter"
	"github.com/vanderheijden86/beadnav/pkg/model"
	"github.com/vanderheijden86/beadnav/pkg/scheduler"
)

var (
	// ErrNotAllowed is returned when a node cannot take the requested child
	// or change.
	ErrNotAllowed = errors.New("navtree: operation not allowed on this node")
	// ErrDetached is returned for operations on nodes no longer in the tree.
	ErrDetached = errors.New("navtree: node is detached")
)

// EventKind classifies tree notifications.
type EventKind int

const (
	// NodeChanged reports a changed name or pinned state.
	NodeChanged EventKind = iota
	ChildrenInserted
	ChildrenRemoved
	// ChildrenChanged reports new counts for the children at Indexes.
	ChildrenChanged
	ChildrenReordered
	SyncChanged
	PreviewChanged
)

func (k EventKind) String() string {
	switch k {
	case NodeChanged:
		return "node-changed"
	case ChildrenInserted:
		return "children-inserted"
	case ChildrenRemoved:
		return "children-removed"
	case ChildrenChanged:
		return "children-changed"
	case ChildrenReordered:
		return "children-reordered"
	case SyncChanged:
		return "sync-changed"
	case PreviewChanged:
		return "preview-changed"
	}
	return "unknown"
}

// Event is a tree notification. Indexes are child positions of Node.
type Event struct {
	Kind    EventKind
	Node    *Node
	Indexes []int
}

// Listener receives tree events on the owner loop.
type Listener func(Event)

// Delays configures the coalescers of the tree.
type Delays struct {
	PreviewMin, PreviewMax           time.Duration
	PresentationMin, PresentationMax time.Duration
	PendingMin, PendingMax           time.Duration
	SortMin, SortMax                 time.Duration
	Groups                           time.Duration
	Registry                         time.Duration
	Recount                          time.Duration
	StateSave                        time.Duration
}

// DefaultDelays returns the delays used without WithDelays.
func DefaultDelays() Delays {
	return Delays{
		PreviewMin:      300 * time.Millisecond,
		PreviewMax:      1500 * time.Millisecond,
		PresentationMin: 100 * time.Millisecond,
		PresentationMax: 500 * time.Millisecond,
		PendingMin:      500 * time.Millisecond,
		PendingMax:      1500 * time.Millisecond,
		SortMin:         100 * time.Millisecond,
		SortMax:         1500 * time.Millisecond,
		Groups:          500 * time.Millisecond,
		Registry:        500 * time.Millisecond,
		Recount:         50 * time.Millisecond,
		StateSave:       1500 * time.Millisecond,
	}
}

// Option configures a Tree.
type Option func(*Tree)

// WithClock sets the time source of all coalescers.
func WithClock(c clock.Clock) Option {
	return func(t *Tree) { t.clock = c }
}

// WithScheduler sets the scheduler running count jobs.
func WithScheduler(s Scheduler) Option {
	return func(t *Tree) { t.sched = s }
}

// WithRegistry sets the sync registry.
func WithRegistry(r SyncRegistry) Option {
	return func(t *Tree) { t.registry = r }
}

// WithDelays overrides the coalescer delays.
func WithDelays(d Delays) Option {
	return func(t *Tree) { t.delays = d }
}

// WithStatePath persists expanded state in the given file.
func WithStatePath(path string) Option {
	return func(t *Tree) { t.statePath = path }
}

// WithLogger sets the logger of the tree.
func WithLogger(l *eventlog.Logger) Option {
	return func(t *Tree) { t.log = l }
}

// Tree is the navigation tree.
type Tree struct {
	root      *Node
	exec      Executor
	clock     clock.Clock
	sched     Scheduler
	registry  SyncRegistry
	delays    Delays
	statePath string
	state     *TreeState

	versions uint64

	listeners    map[int]Listener
	nextListener int

	presentation *coalesce.Coalescer[*Node]
	reeval       *coalesce.Coalescer[*Node]
	pending      *coalesce.Coalescer[*Node]
	groups       *coalesce.Coalescer[*Node]
	sorter       *coalesce.Coalescer[*Node]
	registryC    *coalesce.Coalescer[struct{}]
	recount      *coalesce.Coalescer[string]
	save         *coalesce.Coalescer[struct{}]

	regMu   sync.Mutex
	regMore bool
	regLess bool
	unreg   func()

	log *eventlog.Logger
}

// New returns a tree whose mutations run through exec.
func New(exec Executor, opts ...Option) *Tree {
	t := &Tree{
		exec:      exec,
		clock:     clock.Real(),
		delays:    DefaultDelays(),
		listeners: make(map[int]Listener),
		log:       eventlog.For("navtree"),
	}
	for _, opt := range opts {
		opt(t)
	}
	if t.sched == nil {
		t.sched = scheduler.New()
	}
	if t.registry == nil {
		t.registry = syncreg.NewMemory()
	}
	t.state = DefaultTreeState()
	if t.statePath != "" {
		t.state = LoadState(t.statePath)
	}

	d := t.delays
	t.presentation = t.newCoalescer("presentation", d.PresentationMin, d.PresentationMax, t.presentPreview)
	t.reeval = t.newCoalescer("preview", d.PreviewMin, d.PreviewMax, func(n *Node) {
		if n.attached {
			n.MaybeSchedulePreview()
		}
	})
	t.pending = t.newCoalescer("distribution-pending", d.PendingMin, d.PendingMax, func(n *Node) {
		if n.attached && n.dist != nil {
			n.dist.drain()
		}
	})
	t.groups = t.newCoalescer("distribution-groups", d.Groups, 0, func(n *Node) {
		if n.attached && n.dist != nil {
			n.dist.updateAllGroups()
		}
	})
	t.sorter = t.newCoalescer("sort", d.SortMin, d.SortMax, func(n *Node) {
		if n.attached {
			n.sortChildren()
		}
	})
	t.registryC = coalesce.New(func(struct{}) { t.registryChanged() },
		coalesce.WithDelay(d.Registry), coalesce.WithClock(t.clock),
		coalesce.WithExecutor(exec.Post), coalesce.WithName("registry"))
	t.recount = coalesce.New(t.recountConnection,
		coalesce.WithDelay(d.Recount), coalesce.WithClock(t.clock),
		coalesce.WithExecutor(exec.Post), coalesce.WithName("recount"))
	t.save = coalesce.New(func(struct{}) { t.saveState() },
		coalesce.WithDelay(d.StateSave), coalesce.WithClock(t.clock),
		coalesce.WithExecutor(exec.Post), coalesce.WithName("state"))

	t.root = t.newNode(KindRoot, nodeNamespace.String(), "")
	t.root.attached = true
	t.root.expanded = true

	t.unreg = t.registry.Subscribe(func(more, less bool) {
		t.regMu.Lock()
		t.regMore = t.regMore || more
		t.regLess = t.regLess || less
		t.regMu.Unlock()
		t.registryC.Request(struct{}{})
	})
	return t
}

func (t *Tree) newCoalescer(name string, delay, max time.Duration, fn func(*Node)) *coalesce.Coalescer[*Node] {
	opts := []coalesce.Option{
		coalesce.WithDelay(delay),
		coalesce.WithClock(t.clock),
		coalesce.WithExecutor(t.exec.Post),
		coalesce.WithName(name),
	}
	if max > 0 {
		opts = append(opts, coalesce.WithMaxDelay(max))
	}
	return coalesce.New(fn, opts...)
}

// Close stops listening to the registry and drops pending work. It does
// not close the scheduler or registry.
func (t *Tree) Close() {
	if t.unreg != nil {
		t.unreg()
		t.unreg = nil
	}
	for _, c := range []*coalesce.Coalescer[*Node]{t.presentation, t.reeval, t.pending, t.groups, t.sorter} {
		c.CancelAll()
	}
	t.registryC.CancelAll()
	t.recount.CancelAll()
	if t.save.Pending(struct{}{}) {
		t.save.CancelAll()
		t.saveState()
	}
	t.root.Walk(nil, func(n *Node) {
		if n.dist != nil {
			n.dist.close()
		}
	})
}

// Root returns the root node.
func (t *Tree) Root() *Node { return t.root }

// Subscribe registers l and returns a function removing it.
func (t *Tree) Subscribe(l Listener) func() {
	id := t.nextListener
	t.nextListener++
	t.listeners[id] = l
	return func() { delete(t.listeners, id) }
}

func (t *Tree) fire(e Event) {
	if len(t.listeners) == 0 {
		return
	}
	ids := make([]int, 0, len(t.listeners))
	for id := range t.listeners {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	for _, id := range ids {
		if l, ok := t.listeners[id]; ok {
			l(e)
		}
	}
}

func (t *Tree) nextVersion() uint64 {
	t.versions++
	return t.versions
}

// Busy reports whether coalesced work or counts are outstanding.
func (t *Tree) Busy() bool {
	for _, c := range []*coalesce.Coalescer[*Node]{t.presentation, t.reeval, t.pending, t.groups, t.sorter} {
		if c.Len() > 0 {
			return true
		}
	}
	if t.registryC.Len() > 0 || t.recount.Len() > 0 {
		return true
	}
	busy := false
	t.root.Walk(func(*Node) bool { return !busy }, func(n *Node) {
		if n.preview != nil && n.preview.pending {
			busy = true
		}
	})
	return busy
}

// Connections returns the connection nodes.
func (t *Tree) Connections() []*Node {
	var out []*Node
	for _, c := range t.root.children {
		if c.kind == KindConnection {
			out = append(out, c)
		}
	}
	return out
}

// ConnectionNode returns the node of the named connection.
func (t *Tree) ConnectionNode(name string) *Node {
	for _, c := range t.Connections() {
		if c.conn != nil && c.conn.conn.Name == name {
			return c
		}
	}
	return nil
}

// AddConnection appends a connection node. A nil db marks the connection
// not ready until SetDatabase is called.
func (t *Tree) AddConnection(conn model.Connection, db Database) *Node {
	n := t.newNode(KindConnection, childID(nodeNamespace.String(), "connection:"+conn.Name), conn.Name)
	n.conn = &connState{conn: conn, db: db, ready: db != nil}
	t.insertChild(t.root, len(t.root.children), n)
	return n
}

// AddFolder appends a folder below parent.
func (t *Tree) AddFolder(parent *Node, name string) (*Node, error) {
	if err := t.checkUserParent(parent); err != nil {
		return nil, err
	}
	n := t.newNode(KindFolder, t.uniqueChildID(parent, "folder:"+name), name)
	t.insertChild(parent, len(parent.children), n)
	return n, nil
}

// AddQuery appends a query node filtering by filterText. A filter that does
// not parse is kept and reported by FilterError; such a node has no precise
// hypercube and no count.
func (t *Tree) AddQuery(parent *Node, name, filterText string) (*Node, error) {
	if err := t.checkUserParent(parent); err != nil {
		return nil, err
	}
	n := t.newNode(KindQuery, t.uniqueChildID(parent, "query:"+name), name)
	n.setFilterText(filterText)
	t.insertChild(parent, len(parent.children), n)
	return n, nil
}

// Remove deletes a user-created node and its subtree.
func (t *Tree) Remove(n *Node) error {
	if n == t.root || n.parent == nil {
		return ErrNotAllowed
	}
	if n.kind == KindDistributionGroup || (n.kind == KindDistributionQuery && n.dq.pinned) {
		return ErrNotAllowed
	}
	t.deleteNode(n)
	return nil
}

func (t *Tree) checkUserParent(parent *Node) error {
	if parent == nil {
		return ErrNotAllowed
	}
	if !parent.attached {
		return ErrDetached
	}
	info, ok := parent.kind.info()
	if !ok || !info.userChildren {
		return ErrNotAllowed
	}
	return nil
}

func (t *Tree) uniqueChildID(parent *Node, part string) string {
	id := childID(parent.id, part)
	for i := 2; parent.hasChildID(id); i++ {
		id = childID(parent.id, part+"#"+strconv.Itoa(i))
	}
	return id
}

func (n *Node) hasChildID(id string) bool {
	for _, c := range n.children {
		if c.id == id {
			return true
		}
	}
	return false
}

// SetFilter replaces the filter of a query node. The node loses its sync
// flag; counts below it are recomputed.
func (n *Node) SetFilter(text string) error {
	if n.kind != KindQuery {
		return ErrNotAllowed
	}
	if text == n.filterText {
		return nil
	}
	n.setFilterText(text)
	n.bumpVersion()
	n.SetSyncFlag(false, false)
	n.tree.fire(Event{Kind: NodeChanged, Node: n})
	return nil
}

func (n *Node) setFilterText(text string) {
	n.filterText = text
	n.filter, n.filterErr = nil, nil
	if text == "" {
		return
	}
	c, err := filter.Parse(text)
	if err != nil {
		n.filterErr = err
		n.tree.log.Warn("filter_parse_failed", eventlog.Fields{"node": n.id, "filter": text, "error": err})
		return
	}
	n.filter = c
}

// Rename changes the presentation text of a user-created node.
func (n *Node) Rename(name string) error {
	switch n.kind {
	case KindFolder, KindQuery, KindDistributionFolder:
	default:
		return ErrNotAllowed
	}
	if n.name == name {
		return nil
	}
	n.name = name
	n.tree.fire(Event{Kind: NodeChanged, Node: n})
	if n.parent != nil {
		n.tree.sorter.Request(n.parent)
	}
	return nil
}

// SetExpanded shows or hides the children of n. Expanding makes the
// children eligible for counting.
func (n *Node) SetExpanded(expanded bool) {
	if n.expanded == expanded {
		return
	}
	n.expanded = expanded
	n.tree.state.Expanded[n.id] = expanded
	n.tree.save.Request(struct{}{})
	n.tree.fire(Event{Kind: NodeChanged, Node: n})
	if expanded {
		for _, c := range n.children {
			n.tree.reeval.Request(c)
		}
	}
}

// parentShowable reports whether every ancestor of n is expanded. The root
// always counts as shown.
func (n *Node) parentShowable() bool {
	for p := n.parent; p != nil; p = p.parent {
		if p.parent != nil && !p.expanded {
			return false
		}
	}
	return true
}

func (t *Tree) insertChild(parent *Node, index int, child *Node) {
	if index < 0 || index > len(parent.children) {
		index = len(parent.children)
	}
	child.parent = parent
	parent.children = slices.Insert(parent.children, index, child)
	parent.hiddenValid = false
	child.Walk(nil, func(m *Node) {
		m.version = t.nextVersion()
		m.sync = syncEntry{}
		m.attached = parent.attached
		if v, ok := t.state.Expanded[m.id]; ok {
			m.expanded = v
		}
	})
	t.childrenChanged(parent, child)
	t.fire(Event{Kind: ChildrenInserted, Node: parent, Indexes: []int{index}})
	if parent.attached {
		child.Walk(nil, func(m *Node) { t.reeval.Request(m) })
	}
}

// detach removes child from its parent, cancelling the work of its
// subtree. The subtree stays intact so it can be inserted elsewhere.
func (t *Tree) detach(child *Node) {
	parent := child.parent
	if parent == nil {
		return
	}
	index := parent.IndexOf(child)
	if index < 0 {
		return
	}
	parent.children = slices.Delete(parent.children, index, index+1)
	child.parent = nil
	child.Walk(nil, func(m *Node) {
		m.attached = false
		t.sched.Cancel(m.id)
		if m.dist != nil {
			t.sched.Cancel(m.id + distJobSuffix)
		}
		if m.preview != nil {
			m.preview.valid = false
			m.preview = nil
		}
		t.presentation.Cancel(m)
		t.reeval.Cancel(m)
		m.hiddenValid = false
	})
	if parent.hidden == child {
		parent.hiddenValid = false
	}
	t.childrenChanged(parent, child)
	t.fire(Event{Kind: ChildrenRemoved, Node: parent, Indexes: []int{index}})

	// A demoted value node exists only for its children.
	if parent.kind == KindDistributionQuery && !parent.dq.pinned && len(parent.children) == 0 {
		t.deleteNode(parent)
	}
}

// deleteNode detaches n for good.
func (t *Tree) deleteNode(n *Node) {
	n.Walk(nil, func(m *Node) {
		if m.dist != nil {
			m.dist.close()
		}
		t.pending.Cancel(m)
		t.groups.Cancel(m)
		t.sorter.Cancel(m)
	})
	if n.dq != nil {
		if f := n.distFolderNode(); f != nil && f.dist.byValue[n.dq.key.Value] == n {
			delete(f.dist.byValue, n.dq.key.Value)
		}
	}
	if n.group != nil {
		if f := n.distFolderNode(); f != nil && f.dist.groups[n.group.key] == n {
			delete(f.dist.groups, n.group.key)
		}
	}
	parent := n.parent
	t.detach(n)
	if parent != nil && parent.kind == KindDistributionGroup && len(parent.children) == 0 {
		if f := parent.distFolderNode(); f != nil {
			t.groups.Request(f)
		}
	}
}

// childrenChanged keeps the state derived from the child list current.
func (t *Tree) childrenChanged(parent, child *Node) {
	if parent.kind != KindDistributionGroup {
		return
	}
	// The region of a group is the union of its values.
	parent.bumpVersion()
	parent.CheckSyncState(true, true)
	if parent.attached {
		parent.invalidateOne()
	}
}

func (t *Tree) presentPreview(n *Node) {
	if n.attached {
		t.fire(Event{Kind: PreviewChanged, Node: n})
	}
}

func (t *Tree) registryChanged() {
	t.regMu.Lock()
	more, less := t.regMore, t.regLess
	t.regMore, t.regLess = false, false
	t.regMu.Unlock()
	t.root.CheckSyncState(more, less)
}

// DatabaseChanged schedules a recount of the named connection, or of every
// connection when conn is empty.
func (t *Tree) DatabaseChanged(conn string) {
	t.recount.Request(conn)
}

func (t *Tree) recountConnection(conn string) {
	if conn == "" {
		t.root.InvalidatePreview()
		return
	}
	if n := t.ConnectionNode(conn); n != nil {
		n.InvalidatePreview()
	}
}
