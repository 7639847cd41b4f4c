package navtree

import (
	"cmp"
	"slices"
	"strings"

	"github.com/vanderheijden86/beadnav/pkg/model"
)

// compareNames orders case-insensitively, then case-sensitively.
func compareNames(a, b string) int {
	if c := strings.Compare(strings.ToLower(a), strings.ToLower(b)); c != 0 {
		return c
	}
	return strings.Compare(a, b)
}

func compareText(a, b *Node) int {
	return compareNames(a.name, b.name)
}

// compareDistributionQueries orders value nodes: pinned first, then by the
// attribute's declared order with the missing value last, then by text.
// Nodes it cannot classify are ordered by text.
func compareDistributionQueries(_, a, b *Node) int {
	if a.dq == nil || b.dq == nil {
		return compareText(a, b)
	}
	if a.dq.pinned != b.dq.pinned {
		if a.dq.pinned {
			return -1
		}
		return 1
	}
	attr, ok := model.Lookup(string(a.dq.key.Attr))
	if !ok || a.dq.key.Attr != b.dq.key.Attr {
		return compareText(a, b)
	}
	am, bm := a.dq.key.IsMissing(), b.dq.key.IsMissing()
	if am != bm {
		if am {
			return 1
		}
		return -1
	}
	if c := cmp.Compare(attr.OrderIndex(a.dq.key.Name), attr.OrderIndex(b.dq.key.Name)); c != 0 {
		return c
	}
	return compareNames(a.dq.key.Name, b.dq.key.Name)
}

// compareDistributionChildren orders the children of a distribution
// folder: groups by the folder's grouping with the empty group last, then
// values.
func compareDistributionChildren(parent, a, b *Node) int {
	ag, bg := a.group != nil, b.group != nil
	switch {
	case ag && bg:
		return compareGroups(parent, a, b)
	case ag:
		return -1
	case bg:
		return 1
	}
	return compareDistributionQueries(parent, a, b)
}

func compareGroups(folder, a, b *Node) int {
	ak, bk := a.group.key, b.group.key
	if (ak == "") != (bk == "") {
		if ak == "" {
			return 1
		}
		return -1
	}
	if folder != nil && folder.dist != nil && folder.dist.grouping != nil && ak != "" {
		if c := folder.dist.grouping.Compare(ak, bk); c != 0 {
			return c
		}
	}
	return compareNames(ak, bk)
}

func (n *Node) comparator() func(parent, a, b *Node) int {
	info, ok := n.kind.info()
	if !ok {
		return nil
	}
	return info.compare
}

// placeUnder returns the index at which node belongs among the children of
// parent. It scans backward from hint, or from the end when hint is out of
// range, until a sibling sorts at or before node.
func placeUnder(parent, node *Node, hint int) int {
	compare := parent.comparator()
	end := len(parent.children)
	if compare == nil {
		return end
	}
	i := end
	if hint >= 0 && hint < end {
		i = hint
	}
	for i > 0 && compare(parent, parent.children[i-1], node) > 0 {
		i--
	}
	return i
}

// sortChildren restores the order of n's children, and of the groups of a
// distribution folder, firing ChildrenReordered where it changed.
func (n *Node) sortChildren() {
	nodes := []*Node{n}
	if n.dist != nil {
		for _, c := range n.children {
			if c.group != nil {
				nodes = append(nodes, c)
			}
		}
	}
	for _, p := range nodes {
		compare := p.comparator()
		if compare == nil {
			continue
		}
		less := func(a, b *Node) int { return compare(p, a, b) }
		if slices.IsSortedFunc(p.children, less) {
			continue
		}
		slices.SortStableFunc(p.children, less)
		p.hiddenValid = false
		n.tree.fire(Event{Kind: ChildrenReordered, Node: p})
	}
}

// reposition moves n to its sorted place among its siblings.
func (n *Node) reposition() {
	p := n.parent
	if p == nil || p.comparator() == nil {
		return
	}
	from := p.IndexOf(n)
	p.children = slices.Delete(p.children, from, from+1)
	to := placeUnder(p, n, -1)
	p.children = slices.Insert(p.children, to, n)
	p.hiddenValid = false
	if to != from {
		n.tree.fire(Event{Kind: ChildrenReordered, Node: p})
	}
}
