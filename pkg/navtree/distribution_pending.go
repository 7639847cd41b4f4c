package navtree

import (
	"slices"

	"github.com/vanderheijden86/beadnav/pkg/metrics"
	"github.com/vanderheijden86/beadnav/pkg/model"
)

type valueSet map[model.Value]struct{}

func (s valueSet) has(v model.Value) bool {
	_, ok := s[v]
	return ok
}

func (s valueSet) sorted() []model.Value {
	out := make([]model.Value, 0, len(s))
	for v := range s {
		out = append(out, v)
	}
	slices.Sort(out)
	return out
}

// pendingSet collects model changes until they are applied. A value is in
// at most one of the three sets.
type pendingSet struct {
	added   valueSet
	removed valueSet
	changed valueSet
}

func newPendingSet() pendingSet {
	return pendingSet{added: valueSet{}, removed: valueSet{}, changed: valueSet{}}
}

// add records a new value. Re-adding a value pending removal turns both
// into a change, and a pending change stays a change.
func (p *pendingSet) add(v model.Value) {
	switch {
	case p.changed.has(v):
	case p.removed.has(v):
		delete(p.removed, v)
		p.changed[v] = struct{}{}
	default:
		p.added[v] = struct{}{}
	}
}

func (p *pendingSet) remove(v model.Value) {
	delete(p.added, v)
	delete(p.changed, v)
	p.removed[v] = struct{}{}
}

// change records an updated value unless it is pending addition or
// removal anyway.
func (p *pendingSet) change(v model.Value) {
	if p.added.has(v) || p.removed.has(v) {
		return
	}
	p.changed[v] = struct{}{}
}

func (p *pendingSet) empty() bool {
	return len(p.added) == 0 && len(p.removed) == 0 && len(p.changed) == 0
}

// Inserted implements ModelListener.
func (f *distFolder) Inserted(index, n int) {
	for i := index; i < index+n; i++ {
		f.pending.add(f.model.At(i).Value)
	}
	f.node.tree.pending.Request(f.node)
}

// Updated implements ModelListener. The range is inclusive.
func (f *distFolder) Updated(from, to int) {
	for i := from; i <= to; i++ {
		f.pending.change(f.model.At(i).Value)
	}
	f.node.tree.pending.Request(f.node)
}

// Removing implements ModelListener.
func (f *distFolder) Removing(index, n int) {
	for i := index; i < index+n; i++ {
		f.pending.remove(f.model.At(i).Value)
	}
	f.node.tree.pending.Request(f.node)
}

// drain applies pending changes: removals, then additions, then changes.
func (f *distFolder) drain() {
	if f.pending.empty() {
		return
	}
	defer metrics.Timer(metrics.PendingDrain)()
	t := f.node.tree
	p := f.pending
	f.pending = newPendingSet()
	f.refreshIndex()

	for _, v := range p.removed.sorted() {
		if _, still := f.index[v]; still {
			continue
		}
		if q := f.byValue[v]; q != nil && q.dq.pinned {
			f.demoteOrDelete(q)
		}
	}
	for _, v := range p.added.sorted() {
		if k, ok := f.index[v]; ok && f.accepts(k) {
			f.ensureValue(k)
		}
	}
	for _, v := range p.changed.sorted() {
		k, ok := f.index[v]
		if !ok {
			continue
		}
		if f.accepts(k) {
			f.ensureValue(k)
		} else if q := f.byValue[v]; q != nil && q.dq.pinned {
			f.demoteOrDelete(q)
		}
	}
	t.groups.Request(f.node)
	t.sorter.Request(f.node)
}
