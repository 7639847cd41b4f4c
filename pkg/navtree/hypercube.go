package navtree

import (
	"errors"

	"github.com/vanderheijden86/beadnav/pkg/eventlog"
	"github.com/vanderheijden86/beadnav/pkg/filter"
	"github.com/vanderheijden86/beadnav/pkg/hypercube"
	"github.com/vanderheijden86/beadnav/pkg/metrics"
)

var (
	errNoView       = errors.New("node has no item view")
	errUnparsable   = errors.New("filter does not parse")
	errNotConnected = errors.New("connection not ready")
)

type cubeEntry struct {
	valid   bool
	version uint64
	cube    *hypercube.Cube
}

func cubeSlot(precise bool) int {
	if precise {
		return 1
	}
	return 0
}

// Hypercube returns the region of the item space n can contain. A precise
// cube is exact and may be nil when no exact region is known or the region
// is empty; an encompassing cube is a superset and is never nil.
func (n *Node) Hypercube(precise bool) *hypercube.Cube {
	e := &n.cubes[cubeSlot(precise)]
	if e.valid && e.version == n.version {
		metrics.HypercubeCache.Hit()
		return e.cube
	}
	metrics.HypercubeCache.Miss()

	stop := metrics.Timer(metrics.HypercubeBuild)
	cube := n.computeHypercube(precise)
	stop()

	*e = cubeEntry{valid: true, version: n.version, cube: cube}
	return cube
}

func (n *Node) computeHypercube(precise bool) *hypercube.Cube {
	base := hypercube.Universal()
	if n.parent != nil {
		base = n.parent.Hypercube(precise)
		if base == nil {
			return nil
		}
	}

	own, ok := n.ownConstraint()
	if !ok {
		if precise {
			n.tree.log.Debug("no_precise_cube", eventlog.Fields{"node": n.id, "error": n.filterErr})
			return nil
		}
		own = nil
	}

	cube := base
	if own != nil {
		oc, err := hypercube.FromConstraint(own, precise)
		if err != nil {
			n.tree.log.Debug("no_precise_cube", eventlog.Fields{"node": n.id, "error": err})
			return nil
		}
		if oc == nil {
			return nil
		}
		cube = base.Intersect(oc, precise)
		if cube == nil {
			return nil
		}
	}
	if conn, ok := n.Connection(); ok {
		cube = cube.WithConnection(conn.Key)
	}
	return cube
}

// view returns the constraint selecting the items of n together with the
// database holding them.
func (n *Node) view() (Database, filter.Constraint, error) {
	if n.connectionNode() == nil {
		return nil, nil, errNoView
	}
	var cs []filter.Constraint
	for m := n; m != nil; m = m.parent {
		c, ok := m.ownConstraint()
		if !ok {
			return nil, nil, errUnparsable
		}
		if c != nil {
			cs = append(cs, c)
		}
	}
	db, ok := n.database()
	if !ok {
		return nil, nil, errNotConnected
	}
	// Outermost first, which keeps the SQL readable in traces.
	for i, j := 0, len(cs)-1; i < j; i, j = i+1, j-1 {
		cs[i], cs[j] = cs[j], cs[i]
	}
	return db, filter.AllOf(cs...), nil
}
