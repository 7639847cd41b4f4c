package navtree

import (
	"github.com/vanderheijden86/beadnav/pkg/eventlog"
	"github.com/vanderheijden86/beadnav/pkg/filter"
	"github.com/vanderheijden86/beadnav/pkg/metrics"
)

type syncEntry struct {
	known bool
	value bool
}

// IsSynchronized reports whether all items of n are present locally: an
// ancestor is synchronized, the filter only restricts local attributes, the
// node carries a sync flag, or its encompassing cube lies inside a cube
// marked synchronized.
func (n *Node) IsSynchronized() bool {
	if n.sync.known {
		metrics.SyncStateCache.Hit()
		return n.sync.value
	}
	metrics.SyncStateCache.Miss()
	v := n.computeSynchronized()
	n.sync = syncEntry{known: true, value: v}
	return v
}

func (n *Node) computeSynchronized() bool {
	if n.parent != nil && n.parent.IsSynchronized() {
		return true
	}
	if own, ok := n.ownConstraint(); ok && own != nil && filter.LocallyManaged(own) {
		return true
	}
	if conn, ok := n.Connection(); ok && n.tree.registry.SyncFlag(conn.Name, n.id) {
		return true
	}
	cube := n.Hypercube(false)
	return cube != nil && n.tree.registry.IsCubeSynced(cube)
}

// CheckSyncState re-evaluates the sync state of n and its subtree after
// something may have become synchronized (more) or unsynchronized (less).
// Listeners hear about nodes whose state flipped.
func (n *Node) CheckSyncState(more, less bool) {
	type item struct {
		node          *Node
		parentFlipped bool
	}
	stack := []item{{node: n}}
	for len(stack) > 0 {
		it := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		m := it.node

		flipped := false
		if _, ok := m.kind.info(); !ok {
			n.tree.log.Error("unknown_node_kind", eventlog.Fields{"node": m.id, "kind": int(m.kind)})
		} else if m.sync.known {
			old := m.sync.value
			if it.parentFlipped || (more && !old) || (less && old) {
				m.sync = syncEntry{}
				flipped = m.IsSynchronized() != old
			}
		}
		if flipped {
			n.tree.fire(Event{Kind: SyncChanged, Node: m})
			if m.attached {
				m.invalidateOne()
			}
		}
		for i := len(m.children) - 1; i >= 0; i-- {
			stack = append(stack, item{node: m.children[i], parentFlipped: flipped})
		}
	}
}

// SetSyncFlag marks n as synchronized or not in the registry. Marking it
// synchronized also records its precise cube, which can make other nodes
// inside that region synchronized.
//
// unsyncCubes has no effect: clearing a flag never removes recorded cubes.
func (n *Node) SetSyncFlag(sync, unsyncCubes bool) {
	conn, ok := n.Connection()
	if !ok {
		n.tree.log.Warn("sync_flag_without_connection", eventlog.Fields{"node": n.id})
		return
	}
	reg := n.tree.registry
	func() {
		reg.Lock()
		defer func() {
			if err := reg.Unlock(); err != nil {
				n.tree.log.Error("registry_unlock_failed", eventlog.Fields{"node": n.id, "error": err})
			}
		}()
		reg.SetSyncFlag(conn.Name, n.id, sync)
		if sync {
			if cube := n.Hypercube(true); cube != nil {
				reg.SetCubeSynced(cube)
			}
		}
	}()
	_ = unsyncCubes

	n.lastCount = -1
	n.SetPreview(nil)
	n.CheckSyncState(sync, !sync)
	n.InvalidatePreview()
}

// SyncFlag reports whether n itself carries a sync flag.
func (n *Node) SyncFlag() bool {
	conn, ok := n.Connection()
	return ok && n.tree.registry.SyncFlag(conn.Name, n.id)
}
