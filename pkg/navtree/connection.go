package navtree

import "github.com/vanderheijden86/beadnav/pkg/model"

type connState struct {
	conn  model.Connection
	db    Database
	ready bool
}

// IsReady reports whether the connection of n can run counts.
func (n *Node) IsReady() bool {
	c := n.connectionNode()
	return c != nil && c.conn != nil && c.conn.ready
}

// SetDatabase attaches db to a connection node; nil marks the connection
// not ready. A transition re-checks sync state and recounts the subtree.
func (n *Node) SetDatabase(db Database) error {
	if n.kind != KindConnection || n.conn == nil {
		return ErrNotAllowed
	}
	ready := db != nil
	n.conn.db = db
	if n.conn.ready == ready {
		return nil
	}
	n.conn.ready = ready
	n.tree.fire(Event{Kind: NodeChanged, Node: n})
	n.CheckSyncState(true, true)
	n.InvalidatePreview()
	return nil
}

func (n *Node) database() (Database, bool) {
	c := n.connectionNode()
	if c == nil || c.conn == nil || !c.conn.ready || c.conn.db == nil {
		return nil, false
	}
	return c.conn.db, true
}
