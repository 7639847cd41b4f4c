package navtree

import (
	"fmt"
	"strconv"

	"github.com/google/uuid"

	"github.com/vanderheijden86/beadnav/pkg/filter"
	"github.com/vanderheijden86/beadnav/pkg/model"
)

// Kind is the closed set of node kinds.
type Kind int

const (
	KindRoot Kind = iota
	KindConnection
	KindFolder
	KindQuery
	KindDistributionFolder
	KindDistributionGroup
	KindDistributionQuery
	kindCount
)

type previewMode int

const (
	// previewOwn nodes count their own view in a job of their own.
	previewOwn previewMode = iota
	// previewInherit nodes show the count of their parent.
	previewInherit
	// previewScan nodes are counted by the scan of their distribution folder.
	previewScan
)

type kindInfo struct {
	name string
	// narrowing nodes restrict the item set of their parent.
	narrowing bool
	preview   previewMode
	// userChildren reports whether folders and queries may be added below.
	userChildren bool
	// compare orders the children of a node of this kind; nil keeps
	// insertion order.
	compare func(parent, a, b *Node) int
}

var kinds = [kindCount]kindInfo{
	KindRoot:               {name: "root", narrowing: true, preview: previewOwn},
	KindConnection:         {name: "connection", narrowing: true, preview: previewOwn, userChildren: true},
	KindFolder:             {name: "folder", preview: previewInherit, userChildren: true},
	KindQuery:              {name: "query", narrowing: true, preview: previewOwn, userChildren: true},
	KindDistributionFolder: {name: "distribution", preview: previewInherit, compare: compareDistributionChildren},
	KindDistributionGroup:  {name: "group", narrowing: true, preview: previewScan, compare: compareDistributionQueries},
	KindDistributionQuery:  {name: "value", narrowing: true, preview: previewScan, userChildren: true},
}

func (k Kind) info() (kindInfo, bool) {
	if k < 0 || k >= kindCount {
		return kindInfo{}, false
	}
	return kinds[k], true
}

func (k Kind) String() string {
	if info, ok := k.info(); ok {
		return info.name
	}
	return "kind(" + strconv.Itoa(int(k)) + ")"
}

// nodeNamespace derives stable node ids, so registry flags keyed by node id
// survive restarts.
var nodeNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("https://github.com/vanderheijden86/beadnav/node"))

func childID(parent, part string) string {
	ns, err := uuid.Parse(parent)
	if err != nil {
		ns = nodeNamespace
	}
	return uuid.NewSHA1(ns, []byte(part)).String()
}

// Node is one entry of the navigation tree. Nodes are owned by the tree's
// owner loop; none of their methods may be called from other goroutines.
type Node struct {
	tree     *Tree
	id       string
	kind     Kind
	parent   *Node
	children []*Node
	name     string
	attached bool
	expanded bool

	filterText string
	filter     filter.Constraint
	filterErr  error
	// version stamps cached hypercubes; it changes whenever the filter of
	// the node or of an ancestor changes, or the node is re-inserted.
	version uint64

	conn *connState

	cubes     [2]cubeEntry
	sync      syncEntry
	preview   *Preview
	lastCount int

	// memo of the first hidden or uncounted child, see HasHiddenOrNotCounted
	hidden      *Node
	hiddenValid bool

	dist  *distFolder
	dq    *distValue
	group *distGroup
}

func (t *Tree) newNode(kind Kind, id, name string) *Node {
	return &Node{
		tree:      t,
		id:        id,
		kind:      kind,
		name:      name,
		lastCount: -1,
		version:   t.nextVersion(),
	}
}

// ID returns the stable identity of the node.
func (n *Node) ID() string { return n.id }

// Kind returns the node kind.
func (n *Node) Kind() Kind { return n.kind }

// Name returns the presentation text of the node.
func (n *Node) Name() string { return n.name }

// Parent returns the parent node, or nil for the root and detached nodes.
func (n *Node) Parent() *Node { return n.parent }

// Children returns a copy of the child list.
func (n *Node) Children() []*Node {
	out := make([]*Node, len(n.children))
	copy(out, n.children)
	return out
}

// ChildCount returns the number of children.
func (n *Node) ChildCount() int { return len(n.children) }

// Child returns the child at index i.
func (n *Node) Child(i int) *Node { return n.children[i] }

// IndexOf returns the position of child, or -1.
func (n *Node) IndexOf(child *Node) int {
	for i, c := range n.children {
		if c == child {
			return i
		}
	}
	return -1
}

// IsAttached reports whether the node is part of the tree.
func (n *Node) IsAttached() bool { return n.attached }

// IsExpanded reports whether the node shows its children.
func (n *Node) IsExpanded() bool { return n.expanded }

// IsNarrowing reports whether the node restricts the items of its parent.
func (n *Node) IsNarrowing() bool {
	info, ok := n.kind.info()
	return ok && info.narrowing
}

// FilterText returns the filter source of a query node.
func (n *Node) FilterText() string { return n.filterText }

// FilterError returns the parse error of the filter, if any.
func (n *Node) FilterError() error { return n.filterErr }

// IsPinned reports whether a distribution value node is pinned.
func (n *Node) IsPinned() bool { return n.dq != nil && n.dq.pinned }

// Value returns the value a distribution value node stands for.
func (n *Node) Value() (model.ItemKey, bool) {
	if n.dq == nil {
		return model.ItemKey{}, false
	}
	return n.dq.key, true
}

// Distribution returns the parameters of a distribution folder.
func (n *Node) Distribution() (DistributionParams, bool) {
	if n.dist == nil {
		return DistributionParams{}, false
	}
	return n.dist.params, true
}

// Path returns the names from the first level below the root down to n.
func (n *Node) Path() []string {
	var out []string
	for m := n; m != nil && m.parent != nil; m = m.parent {
		out = append(out, m.name)
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out
}

func (n *Node) String() string {
	return fmt.Sprintf("%s %q", n.kind, n.name)
}

// connectionNode returns the nearest connection node at or above n.
func (n *Node) connectionNode() *Node {
	for m := n; m != nil; m = m.parent {
		if m.kind == KindConnection {
			return m
		}
	}
	return nil
}

// Connection returns the connection n reads items from.
func (n *Node) Connection() (model.Connection, bool) {
	c := n.connectionNode()
	if c == nil || c.conn == nil {
		return model.Connection{}, false
	}
	return c.conn.conn, true
}

// distFolderNode returns the distribution folder owning a group or value
// node.
func (n *Node) distFolderNode() *Node {
	for m := n; m != nil; m = m.parent {
		if m.kind == KindDistributionFolder {
			return m
		}
	}
	return nil
}

// ownConstraint returns the restriction n adds to its parent. ok is false
// when the node's filter does not parse.
func (n *Node) ownConstraint() (c filter.Constraint, ok bool) {
	switch n.kind {
	case KindConnection:
		if n.conn == nil {
			return nil, true
		}
		return filter.Equals{Attr: model.AttrConnection, Name: n.conn.conn.Name, Value: n.conn.conn.Key}, true
	case KindQuery:
		if n.filterErr != nil {
			return nil, false
		}
		return n.filter, true
	case KindDistributionQuery:
		return valueConstraint(n.dq.key), true
	case KindDistributionGroup:
		var cs []filter.Constraint
		for _, c := range n.children {
			if c.dq != nil {
				cs = append(cs, valueConstraint(c.dq.key))
			}
		}
		if len(cs) == 0 {
			return filter.Not{Child: filter.True{}}, true
		}
		return filter.AnyOf(cs...), true
	}
	return nil, true
}

func valueConstraint(k model.ItemKey) filter.Constraint {
	if k.IsMissing() {
		return filter.Equals{Attr: k.Attr, Value: model.NullValue}
	}
	return filter.Equals{Attr: k.Attr, Name: k.Name, Value: k.Value}
}

// bumpVersion restamps n and its descendants, dropping their cached
// hypercubes.
func (n *Node) bumpVersion() {
	n.tree.walkAll(n, func(m *Node) {
		m.version = n.tree.nextVersion()
	})
}
