package navtree

// SetHideEmptyChildren toggles hiding of distribution values without
// items. It does not rebuild the children.
func (n *Node) SetHideEmptyChildren(hide bool) {
	f := n.dist
	if f == nil {
		return
	}
	f.params.HideEmpty = hide
	n.hiddenValid = false
	for _, g := range f.groups {
		g.hiddenValid = false
	}
	n.tree.fire(Event{Kind: NodeChanged, Node: n})
}

func (n *Node) hideEmpty() bool {
	f := n.distFolderNode()
	return f != nil && f.dist.params.HideEmpty
}

// shownLocally reports whether n passes the hide-empty rule of its own
// distribution folder.
func (n *Node) shownLocally() bool {
	switch n.kind {
	case KindDistributionQuery:
		if !n.hideEmpty() || len(n.children) > 0 {
			return true
		}
		return n.CushionedPreviewCount() > 0
	case KindDistributionGroup:
		if !n.hideEmpty() {
			return true
		}
		for _, c := range n.children {
			if c.shownLocally() {
				return true
			}
		}
		return false
	}
	return true
}

// IsNodeShown reports whether n is visible: no node on its path is hidden
// as an empty distribution value or group.
func (n *Node) IsNodeShown() bool {
	for m := n; m != nil; m = m.parent {
		if !m.shownLocally() {
			return false
		}
	}
	return true
}

// HasHiddenOrNotCounted reports whether some child of n is hidden or has
// no count yet. The first such child is remembered until its count changes
// or it is detached.
func (n *Node) HasHiddenOrNotCounted() bool {
	if n.hiddenValid {
		if n.hidden == nil {
			return false
		}
		if n.hidden.parent == n && !n.hidden.countedAndShown() {
			return true
		}
	}
	n.hidden, n.hiddenValid = nil, true
	for _, c := range n.children {
		if !c.countedAndShown() {
			n.hidden = c
			return true
		}
	}
	return false
}

func (n *Node) countedAndShown() bool {
	if !n.shownLocally() {
		return false
	}
	if isDistNode(n) {
		return n.CushionedPreviewCount() >= 0
	}
	return true
}
