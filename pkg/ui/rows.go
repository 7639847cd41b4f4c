package ui

import (
	"context"
	"strings"

	"github.com/vanderheijden86/beadnav/pkg/navtree"
)

// Driver runs functions on the loop owning the tree.
type Driver interface {
	Do(ctx context.Context, f func(*navtree.Tree)) error
}

// Row is an immutable copy of a visible node, taken on the owner loop so
// the view can render without touching the tree.
type Row struct {
	node *navtree.Node

	ID   string
	Name string
	// Path joins the names from the connection down to the node with "/".
	Path        string
	Kind        string
	Depth       int
	Expanded    bool
	HasChildren bool
	// Count is -1 while unknown.
	Count     int
	Pending   bool
	Ready     bool
	Synced    bool
	Flagged   bool
	Removed   bool
	FilterErr string
	// Branches holds, per ancestor level below the root, whether a later
	// sibling follows on that level. The last entry is the row itself.
	Branches []bool
}

// Snapshot flattens the shown part of the tree. It requests counts for
// every listed node, so it must run on the owner loop.
func Snapshot(t *navtree.Tree) []Row {
	var rows []Row
	var visit func(n *navtree.Node, branches []bool, path string)
	visit = func(n *navtree.Node, branches []bool, path string) {
		var shown []*navtree.Node
		for _, c := range n.Children() {
			if c.IsNodeShown() {
				shown = append(shown, c)
			}
		}
		for i, c := range shown {
			b := append(append([]bool(nil), branches...), i < len(shown)-1)
			p := c.Name()
			if path != "" {
				p = path + "/" + p
			}
			r := rowOf(c, b)
			r.Path = p
			rows = append(rows, r)
			if c.IsExpanded() {
				visit(c, b, p)
			}
		}
	}
	visit(t.Root(), nil, "")
	return rows
}

func rowOf(n *navtree.Node, branches []bool) Row {
	count := n.PreviewCount(true)
	pending := n.Preview().Pending()
	if count < 0 {
		count = n.CushionedPreviewCount()
	}
	r := Row{
		node:        n,
		ID:          n.ID(),
		Name:        n.Name(),
		Kind:        n.Kind().String(),
		Depth:       len(branches) - 1,
		Expanded:    n.IsExpanded(),
		HasChildren: n.ChildCount() > 0,
		Count:       count,
		Pending:     pending,
		Ready:       n.IsReady(),
		Synced:      n.IsSynchronized(),
		Flagged:     n.SyncFlag(),
		Removed:     strings.HasPrefix(n.Name(), navtree.RemovedPrefix),
		Branches:    branches,
	}
	if err := n.FilterError(); err != nil {
		r.FilterErr = err.Error()
	}
	return r
}

// indexOf returns the position of the row with id, or -1.
func indexOf(rows []Row, id string) int {
	for i, r := range rows {
		if r.ID == id {
			return i
		}
	}
	return -1
}

// parentIndex returns the position of the closest row above i with a
// smaller depth, or -1.
func parentIndex(rows []Row, i int) int {
	for j := i - 1; j >= 0; j-- {
		if rows[j].Depth < rows[i].Depth {
			return j
		}
	}
	return -1
}
