package navtree

import (
	"slices"
	"strings"
	"testing"
)

func buildWalkTree(h *harness) (a, b *Node) {
	h.t.Helper()
	a, _ = h.tree.AddFolder(h.conn, "a")
	h.query(a, "a1", "status = open")
	h.query(a, "a2", "status = closed")
	b, _ = h.tree.AddFolder(h.conn, "b")
	h.query(b, "b1", "label = ui")
	return a, b
}

func walkNames(n *Node, pred func(*Node) bool) []string {
	var out []string
	n.Walk(pred, func(m *Node) { out = append(out, m.Name()) })
	return out
}

func TestWalk_Preorder(t *testing.T) {
	h := newHarness(t)
	buildWalkTree(h)

	want := []string{"main", "a", "a1", "a2", "b", "b1"}
	if got := walkNames(h.conn, nil); !slices.Equal(got, want) {
		t.Errorf("walk = %v, want %v", got, want)
	}
}

func TestWalk_PredicateSkipsSubtree(t *testing.T) {
	h := newHarness(t)
	a, _ := buildWalkTree(h)

	got := walkNames(h.conn, func(n *Node) bool { return n != a })
	if want := []string{"main", "b", "b1"}; !slices.Equal(got, want) {
		t.Errorf("walk = %v, want %v", got, want)
	}
}

func TestWalk_UnknownKindIsLoggedAndDescended(t *testing.T) {
	h := newHarness(t)
	a, _ := buildWalkTree(h)
	odd := &Node{tree: h.tree, id: "odd", kind: kindCount + 3, name: "odd", parent: a}
	odd.children = []*Node{{tree: h.tree, id: "leaf", kind: KindQuery, name: "leaf", parent: odd}}
	a.children = append(a.children, odd)

	got := walkNames(a, nil)
	if want := []string{"a", "a1", "a2", "leaf"}; !slices.Equal(got, want) {
		t.Errorf("walk = %v, want %v", got, want)
	}
	if !strings.Contains(h.logs.String(), "unknown_node_kind") {
		t.Errorf("log = %q, want unknown_node_kind", h.logs.String())
	}
}

func TestFind(t *testing.T) {
	h := newHarness(t)
	_, b := buildWalkTree(h)
	b1 := b.Child(0)

	if got := h.tree.Root().Find(b1.ID()); got != b1 {
		t.Errorf("Find = %v, want %v", got, b1)
	}
	if got := h.tree.Root().Find("nope"); got != nil {
		t.Errorf("Find(nope) = %v", got)
	}
}
