package navtree

import "github.com/vanderheijden86/beadnav/pkg/eventlog"

// Walk visits n and its descendants in preorder. Nodes for which pred
// returns false are skipped together with their subtrees; a nil pred
// accepts every node.
func (n *Node) Walk(pred func(*Node) bool, fn func(*Node)) {
	stack := []*Node{n}
	for len(stack) > 0 {
		m := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if _, ok := m.kind.info(); !ok {
			n.tree.log.Error("unknown_node_kind", eventlog.Fields{"node": m.id, "kind": int(m.kind)})
		} else {
			if pred != nil && !pred(m) {
				continue
			}
			fn(m)
		}
		for i := len(m.children) - 1; i >= 0; i-- {
			stack = append(stack, m.children[i])
		}
	}
}

func (t *Tree) walkAll(n *Node, fn func(*Node)) {
	n.Walk(nil, fn)
}

// Find returns the first node below n, n included, with the given id.
func (n *Node) Find(id string) *Node {
	var found *Node
	n.Walk(func(*Node) bool { return found == nil }, func(m *Node) {
		if m.id == id {
			found = m
		}
	})
	return found
}
