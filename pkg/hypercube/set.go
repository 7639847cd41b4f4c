package hypercube

import (
	"sync"

	"github.com/RoaringBitmap/roaring/roaring64"
)

// Encompasses reports whether every item inside sub is also inside c. Each
// axis constrained by c must be constrained by sub at least as tightly.
func (c *Cube) Encompasses(sub *Cube) bool {
	if c == nil {
		return false
	}
	if sub == nil {
		return true
	}
	for id, ax := range c.axes {
		subAx, ok := sub.axes[id]
		if !ok {
			return false
		}
		if !axisEncompasses(ax, subAx) {
			return false
		}
	}
	return true
}

func axisEncompasses(super, sub *Axis) bool {
	if super.Excluded != nil && !super.Excluded.IsEmpty() {
		if sub.Included != nil {
			if sub.Included.Intersects(super.Excluded) {
				return false
			}
		} else {
			if sub.Excluded == nil || !isSubset(super.Excluded, sub.Excluded) {
				return false
			}
		}
	}
	if super.Included != nil {
		if sub.Included == nil {
			return false
		}
		if !isSubset(sub.Included, super.Included) {
			return false
		}
	}
	return true
}

func isSubset(a, b *roaring64.Bitmap) bool {
	return a.AndCardinality(b) == a.GetCardinality()
}

// Set is a collection of cubes recorded as fully synchronized. It keeps only
// the most generic cubes: adding a cube drops the stored cubes it covers.
// Set is safe for concurrent use.
type Set struct {
	mu    sync.RWMutex
	cubes []*Cube
}

// NewSet returns an empty set.
func NewSet() *Set {
	return &Set{}
}

// Covers reports whether some stored cube encompasses sample.
func (s *Set) Covers(sample *Cube) bool {
	if sample == nil {
		return false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, c := range s.cubes {
		if c.Encompasses(sample) {
			return true
		}
	}
	return false
}

// Add records cube. It reports false when the set already covered it.
func (s *Set) Add(cube *Cube) bool {
	if cube == nil {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.cubes {
		if c.Encompasses(cube) {
			return false
		}
	}
	kept := s.cubes[:0]
	for _, c := range s.cubes {
		if !cube.Encompasses(c) {
			kept = append(kept, c)
		}
	}
	s.cubes = append(kept, cube.Clone())
	return true
}

// RemoveEncompassedBy drops every stored cube that lies inside cube and
// returns how many were removed.
func (s *Set) RemoveEncompassedBy(cube *Cube) int {
	if cube == nil {
		return 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.cubes[:0]
	removed := 0
	for _, c := range s.cubes {
		if cube.Encompasses(c) {
			removed++
			continue
		}
		kept = append(kept, c)
	}
	for i := len(kept); i < len(s.cubes); i++ {
		s.cubes[i] = nil
	}
	s.cubes = kept
	return removed
}

// Cubes returns copies of the stored cubes.
func (s *Set) Cubes() []*Cube {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Cube, len(s.cubes))
	for i, c := range s.cubes {
		out[i] = c.Clone()
	}
	return out
}

// Len returns the number of stored cubes.
func (s *Set) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.cubes)
}

// Clear removes all cubes.
func (s *Set) Clear() {
	s.mu.Lock()
	s.cubes = nil
	s.mu.Unlock()
}
