package navtree

import (
	"context"
	"slices"

	"github.com/RoaringBitmap/roaring/roaring64"

	"github.com/vanderheijden86/beadnav/internal/datasource"
	"github.com/vanderheijden86/beadnav/pkg/eventlog"
	"github.com/vanderheijden86/beadnav/pkg/filter"
	"github.com/vanderheijden86/beadnav/pkg/metrics"
	"github.com/vanderheijden86/beadnav/pkg/model"
)

const distJobSuffix = "#dist"

// maxRollUp bounds parent chains, which may contain cycles in bad data.
const maxRollUp = 64

type distCounts struct {
	values map[model.Value]int
	groups map[string]int
	total  int
}

func isDistNode(m *Node) bool {
	return m.kind == KindDistributionGroup || m.kind == KindDistributionQuery
}

// scheduleScan counts all uncounted children of a distribution folder with
// a single scan of the folder's items. It reports whether a job was
// submitted.
func (n *Node) scheduleScan() bool {
	f := n.dist
	if f == nil || !n.attached || !n.expanded || !n.parentShowable() {
		return false
	}

	var targets []*Node
	needed := false
	n.Walk(func(m *Node) bool { return m == n || isDistNode(m) }, func(m *Node) {
		if m == n || !m.IsSynchronized() {
			return
		}
		switch {
		case m.preview == nil:
			needed = true
			targets = append(targets, m)
		case m.preview.pending:
			targets = append(targets, m)
		}
	})
	if !needed {
		return false
	}

	db, view, err := n.view()
	if err != nil {
		n.tree.log.Trace("distribution_unavailable", eventlog.Fields{"node": n.id, "reason": err})
		for _, m := range targets {
			m.SetPreview(Unavailable())
		}
		return false
	}

	tokens := make(map[*Node]*Preview, len(targets))
	for _, m := range targets {
		tok := newPending()
		m.setPreview(tok)
		tokens[m] = tok
	}
	present := make(map[model.Value]bool, len(f.byValue))
	groupOf := make(map[model.Value]string)
	for v, q := range f.byValue {
		present[v] = true
		if q.parent != nil && q.parent.group != nil {
			groupOf[v] = q.parent.group.key
		}
	}

	attr := f.attr
	exec := n.tree.exec
	job := func(ctx context.Context) error {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		stop := metrics.Timer(metrics.DistributionScan)
		res, err := scanDistribution(ctx, db, view, attr, present, groupOf)
		stop()
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err != nil {
			exec.Post(func() { n.applyCounts(tokens, nil) })
			return err
		}
		exec.Post(func() { n.applyCounts(tokens, &res) })
		return nil
	}
	if !n.tree.sched.Schedule(n.id+distJobSuffix, job, true) {
		for m, tok := range tokens {
			if m.preview == tok {
				m.setPreview(nil)
			}
		}
		return false
	}
	return true
}

// scanDistribution reads the attribute values of every item in view once
// and counts each item under every present value it holds. Hierarchical
// values also count under each present ancestor, so a parent includes the
// items of its children; items without a value count under NullValue.
func scanDistribution(ctx context.Context, db Database, view filter.Constraint, attr *model.Attribute,
	present map[model.Value]bool, groupOf map[model.Value]string) (distCounts, error) {
	res := distCounts{values: make(map[model.Value]int), groups: make(map[string]int)}
	nullOnly := []model.Value{model.NullValue}

	err := db.Read(ctx, func(r datasource.Reader) error {
		var parents map[model.Value]model.Value
		if attr.Hierarchical {
			var err error
			if parents, err = r.ParentValues(ctx, attr.ID); err != nil {
				return err
			}
		}
		seen := roaring64.New()
		var groups []string
		return r.Scan(ctx, view, attr.ID, func(vals []model.Value) error {
			if err := ctx.Err(); err != nil {
				return err
			}
			res.total++
			seen.Clear()
			groups = groups[:0]
			if len(vals) == 0 {
				vals = nullOnly
			}
			for _, v := range vals {
				rollUp(v, parents, func(v model.Value) {
					if !present[v] || !seen.CheckedAdd(uint64(v)) {
						return
					}
					res.values[v]++
					if g, ok := groupOf[v]; ok && !slices.Contains(groups, g) {
						groups = append(groups, g)
						res.groups[g]++
					}
				})
			}
			return nil
		})
	})
	return res, err
}

// rollUp calls fn for v and each of its ancestors.
func rollUp(v model.Value, parents map[model.Value]model.Value, fn func(model.Value)) {
	for i := 0; i < maxRollUp; i++ {
		fn(v)
		p, ok := parents[v]
		if !ok {
			return
		}
		v = p
	}
}

// applyCounts stores scan results on the nodes whose pending preview is
// still current and reports the changed children per parent. A nil res
// marks them unavailable.
func (n *Node) applyCounts(tokens map[*Node]*Preview, res *distCounts) {
	changed := make(map[*Node][]int)
	var parents []*Node
	n.Walk(func(m *Node) bool { return m == n || isDistNode(m) }, func(m *Node) {
		tok, ok := tokens[m]
		if !ok || m.preview != tok || !tok.valid || !m.attached {
			return
		}
		p := Unavailable()
		if res != nil {
			switch {
			case m.group != nil:
				p = NewPreview(res.groups[m.group.key])
			case m.dq != nil:
				p = NewPreview(res.values[m.dq.key.Value])
			}
		}
		m.setPreview(p)
		if _, seen := changed[m.parent]; !seen {
			parents = append(parents, m.parent)
		}
		changed[m.parent] = append(changed[m.parent], m.parent.IndexOf(m))
	})
	for _, p := range parents {
		n.tree.fire(Event{Kind: ChildrenChanged, Node: p, Indexes: changed[p]})
	}
}
