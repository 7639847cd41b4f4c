package navtree

import (
	"slices"
	"testing"

	"pgregory.net/rapid"

	"github.com/vanderheijden86/beadnav/pkg/model"
)

func valueNode(attr model.AttrID, name string, pinned bool) *Node {
	k := key(attr, name)
	if name == model.MissingName {
		k = model.Missing(attr)
	}
	n := &Node{kind: KindDistributionQuery, name: displayName(k), dq: &distValue{key: k, pinned: pinned}}
	if !pinned {
		n.name = RemovedPrefix + n.name
	}
	return n
}

func TestCompareDistributionQueries(t *testing.T) {
	tests := []struct {
		name string
		a, b *Node
		want int
	}{
		{"declared order", valueNode(model.AttrStatus, "open", true), valueNode(model.AttrStatus, "closed", true), -1},
		{"declared before undeclared", valueNode(model.AttrStatus, "closed", true), valueNode(model.AttrStatus, "archived", true), -1},
		{"undeclared by name", valueNode(model.AttrStatus, "Zeta", true), valueNode(model.AttrStatus, "alpha", true), 1},
		{"missing last", valueNode(model.AttrStatus, model.MissingName, true), valueNode(model.AttrStatus, "closed", true), 1},
		{"pinned first", valueNode(model.AttrStatus, "closed", true), valueNode(model.AttrStatus, "open", false), -1},
		{"unpinned by order", valueNode(model.AttrStatus, "open", false), valueNode(model.AttrStatus, "closed", false), -1},
		{"case insensitive", valueNode(model.AttrLabel, "UI", true), valueNode(model.AttrLabel, "backend", true), 1},
		{"same", valueNode(model.AttrLabel, "ui", true), valueNode(model.AttrLabel, "ui", true), 0},
		{"not a value", &Node{name: "b"}, valueNode(model.AttrLabel, "a", true), 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := compareDistributionQueries(nil, tt.a, tt.b)
			if sign(got) != tt.want {
				t.Errorf("compare(%s, %s) = %d, want %d", tt.a, tt.b, got, tt.want)
			}
			if back := compareDistributionQueries(nil, tt.b, tt.a); sign(back) != -tt.want {
				t.Errorf("reverse compare = %d, want %d", back, -tt.want)
			}
		})
	}
}

func sign(n int) int {
	switch {
	case n < 0:
		return -1
	case n > 0:
		return 1
	}
	return 0
}

func TestCompareDistributionChildren_GroupsFirst(t *testing.T) {
	folder := &Node{kind: KindDistributionFolder, dist: &distFolder{grouping: stateGrouping{}}}
	group := func(key string) *Node {
		return &Node{kind: KindDistributionGroup, name: groupDisplayName(key), group: &distGroup{key: key}}
	}

	children := []*Node{
		valueNode(model.AttrStatus, "open", true),
		group(""),
		group("Done"),
		group("Active"),
		group("Deferred"),
	}
	slices.SortStableFunc(children, func(a, b *Node) int { return compareDistributionChildren(folder, a, b) })

	want := []string{"Active", "Deferred", "Done", NoGroupName, "open"}
	var got []string
	for _, c := range children {
		got = append(got, c.name)
	}
	if !slices.Equal(got, want) {
		t.Errorf("order = %v, want %v", got, want)
	}
}

func TestPlaceUnder_KeepsChildrenSorted(t *testing.T) {
	names := []string{"open", "in_progress", "blocked", "deferred", "closed", "archived", "Review", model.MissingName}
	rapid.Check(t, func(t *rapid.T) {
		parent := &Node{kind: KindDistributionGroup}
		n := rapid.IntRange(0, 12).Draw(t, "n")
		for i := 0; i < n; i++ {
			name := rapid.SampledFrom(names).Draw(t, "name")
			pinned := rapid.Bool().Draw(t, "pinned")
			node := valueNode(model.AttrStatus, name, pinned)
			hint := rapid.IntRange(-1, len(parent.children)).Draw(t, "hint")
			if hint >= 0 && hint < len(parent.children) && compareDistributionQueries(parent, parent.children[hint], node) <= 0 {
				hint = -1
			}
			at := placeUnder(parent, node, hint)
			parent.children = slices.Insert(parent.children, at, node)
		}
		less := func(a, b *Node) int { return compareDistributionQueries(parent, a, b) }
		if !slices.IsSortedFunc(parent.children, less) {
			var got []string
			for _, c := range parent.children {
				got = append(got, c.name)
			}
			t.Fatalf("children out of order: %v", got)
		}
	})
}

func TestPlaceUnder_UnorderedKindAppends(t *testing.T) {
	parent := &Node{kind: KindFolder, children: []*Node{{name: "z"}, {name: "a"}}}
	if got := placeUnder(parent, &Node{name: "m"}, 0); got != 2 {
		t.Errorf("placeUnder = %d, want 2", got)
	}
}
