// Package hypercube implements the coverage regions used to decide whether a
// node's items are fully present locally.
//
// A Cube maps attribute axes to included and excluded value sets. An axis
// that is absent is unconstrained, so the zero Cube is the universal region.
// Value sets are roaring64 bitmaps.
package hypercube

import (
	"sort"
	"strings"

	"github.com/RoaringBitmap/roaring/roaring64"

	"github.com/vanderheijden86/beadnav/pkg/model"
)

// Axis holds the allowed values of one attribute. A nil set means the axis
// is not restricted that way.
type Axis struct {
	Included *roaring64.Bitmap
	Excluded *roaring64.Bitmap
}

// Allows reports whether v lies inside the axis.
func (a *Axis) Allows(v model.Value) bool {
	if a == nil {
		return true
	}
	if a.Excluded != nil && a.Excluded.Contains(uint64(v)) {
		return false
	}
	if a.Included != nil && !a.Included.Contains(uint64(v)) {
		return false
	}
	return true
}

func (a *Axis) clone() *Axis {
	out := &Axis{}
	if a.Included != nil {
		out.Included = a.Included.Clone()
	}
	if a.Excluded != nil {
		out.Excluded = a.Excluded.Clone()
	}
	return out
}

func (a *Axis) equal(b *Axis) bool {
	return bitmapEqual(a.Included, b.Included) && bitmapEqual(a.Excluded, b.Excluded)
}

func bitmapEqual(a, b *roaring64.Bitmap) bool {
	if a == nil || a.IsEmpty() {
		return b == nil || b.IsEmpty()
	}
	return b != nil && a.Equals(b)
}

// Cube is a multi-axis region. Methods that mutate the receiver are only
// safe before the cube is shared; the tree caches treat cubes as immutable.
type Cube struct {
	axes map[model.AttrID]*Axis
}

// Universal returns the unconstrained region.
func Universal() *Cube {
	return &Cube{}
}

// ForConnection returns a cube restricted to one connection.
func ForConnection(conn model.Value) *Cube {
	c := Universal()
	c.Include(model.AttrConnection, conn)
	return c
}

// Include adds values to the included set of attr.
func (c *Cube) Include(attr model.AttrID, values ...model.Value) *Cube {
	ax := c.axis(attr)
	if ax.Included == nil {
		ax.Included = roaring64.New()
	}
	for _, v := range values {
		ax.Included.Add(uint64(v))
	}
	return c
}

// Exclude adds values to the excluded set of attr.
func (c *Cube) Exclude(attr model.AttrID, values ...model.Value) *Cube {
	ax := c.axis(attr)
	if ax.Excluded == nil {
		ax.Excluded = roaring64.New()
	}
	for _, v := range values {
		ax.Excluded.Add(uint64(v))
	}
	return c
}

func (c *Cube) axis(attr model.AttrID) *Axis {
	if c.axes == nil {
		c.axes = make(map[model.AttrID]*Axis)
	}
	ax, ok := c.axes[attr]
	if !ok {
		ax = &Axis{}
		c.axes[attr] = ax
	}
	return ax
}

// RemoveAxis drops any restriction on attr.
func (c *Cube) RemoveAxis(attr model.AttrID) {
	delete(c.axes, attr)
}

// Axis returns the restriction on attr, or nil when it is unconstrained.
func (c *Cube) Axis(attr model.AttrID) *Axis {
	if c == nil {
		return nil
	}
	return c.axes[attr]
}

// Axes returns the constrained attributes in sorted order.
func (c *Cube) Axes() []model.AttrID {
	if c == nil {
		return nil
	}
	out := make([]model.AttrID, 0, len(c.axes))
	for id := range c.axes {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// AxisCount returns the number of constrained axes.
func (c *Cube) AxisCount() int {
	if c == nil {
		return 0
	}
	return len(c.axes)
}

// IsUniversal reports whether the cube has no constraints.
func (c *Cube) IsUniversal() bool {
	return c != nil && len(c.axes) == 0
}

// Allows reports whether value v of attr lies inside the cube.
func (c *Cube) Allows(attr model.AttrID, v model.Value) bool {
	return c.Axis(attr).Allows(v)
}

// Clone returns a deep copy.
func (c *Cube) Clone() *Cube {
	if c == nil {
		return nil
	}
	out := &Cube{}
	if len(c.axes) > 0 {
		out.axes = make(map[model.AttrID]*Axis, len(c.axes))
		for id, ax := range c.axes {
			out.axes[id] = ax.clone()
		}
	}
	return out
}

// Equal reports whether both cubes describe the same constraints.
func (c *Cube) Equal(o *Cube) bool {
	if c == nil || o == nil {
		return c == nil && o == nil
	}
	if len(c.axes) != len(o.axes) {
		return false
	}
	for id, ax := range c.axes {
		other, ok := o.axes[id]
		if !ok || !ax.equal(other) {
			return false
		}
	}
	return true
}

// Intersect returns the intersection of c and o as a new cube. When an axis
// ends up with no allowed value, a precise intersection returns nil (the
// empty region) while an encompassing one drops the axis.
func (c *Cube) Intersect(o *Cube, precise bool) *Cube {
	result := c.Clone()
	if result == nil {
		result = Universal()
	}
	if o == nil {
		return result
	}
	for _, id := range o.Axes() {
		src := o.axes[id]
		dst, ok := result.axes[id]
		if !ok {
			result.axis(id)
			result.axes[id] = src.clone()
			continue
		}
		if src.Included != nil {
			if dst.Included != nil {
				dst.Included.And(src.Included)
			} else {
				dst.Included = src.Included.Clone()
				if dst.Excluded != nil {
					dst.Included.AndNot(dst.Excluded)
				}
			}
			if dst.Included.IsEmpty() {
				if precise {
					return nil
				}
				result.RemoveAxis(id)
				continue
			}
		}
		if src.Excluded != nil {
			if dst.Excluded == nil {
				dst.Excluded = roaring64.New()
			}
			dst.Excluded.Or(src.Excluded)
			if dst.Included != nil {
				dst.Included.AndNot(src.Excluded)
				if dst.Included.IsEmpty() {
					if precise {
						return nil
					}
					result.RemoveAxis(id)
				}
			}
		}
	}
	return result
}

// WithConnection returns a copy pinned to the given connection on the
// connection axis, unless the cube explicitly excludes it.
func (c *Cube) WithConnection(conn model.Value) *Cube {
	out := c.Clone()
	if out == nil {
		out = Universal()
	}
	ax := out.Axis(model.AttrConnection)
	if ax != nil && ax.Excluded != nil && ax.Excluded.Contains(uint64(conn)) {
		return out
	}
	out.Include(model.AttrConnection, conn)
	return out
}

// IncludedConnections returns the connections the cube is pinned to.
func (c *Cube) IncludedConnections() []model.Value {
	ax := c.Axis(model.AttrConnection)
	if ax == nil || ax.Included == nil {
		return nil
	}
	return values(ax.Included)
}

func values(b *roaring64.Bitmap) []model.Value {
	if b == nil {
		return nil
	}
	raw := b.ToArray()
	out := make([]model.Value, len(raw))
	for i, v := range raw {
		out[i] = model.Value(v)
	}
	return out
}

// String renders the cube for logs, e.g. "{status:+[12 34] label:-[5]}".
func (c *Cube) String() string {
	if c == nil {
		return "{empty}"
	}
	if len(c.axes) == 0 {
		return "{}"
	}
	var sb strings.Builder
	sb.WriteByte('{')
	for i, id := range c.Axes() {
		if i > 0 {
			sb.WriteByte(' ')
		}
		ax := c.axes[id]
		sb.WriteString(string(id))
		sb.WriteByte(':')
		if ax.Included != nil {
			sb.WriteString("+" + ax.Included.String())
		}
		if ax.Excluded != nil {
			sb.WriteString("-" + ax.Excluded.String())
		}
	}
	sb.WriteByte('}')
	return sb.String()
}
