package hypercube

import (
	"errors"

	"github.com/RoaringBitmap/roaring/roaring64"

	"github.com/vanderheijden86/beadnav/pkg/filter"
	"github.com/vanderheijden86/beadnav/pkg/model"
)

// ErrNotPrecise is returned by FromConstraint when an exact region cannot
// be derived from the constraint.
var ErrNotPrecise = errors.New("constraint has no precise hypercube")

// FromConstraint projects a constraint onto attribute axes.
//
// In precise mode the result is exact: a nil cube with a nil error means no
// item can match, and ErrNotPrecise means the region is not expressible. In
// encompassing mode the result is a superset of the matching items and is
// never nil; parts that cannot be projected are left unconstrained.
func FromConstraint(c filter.Constraint, precise bool) (*Cube, error) {
	if c == nil {
		return Universal(), nil
	}
	and, ok := c.(filter.And)
	if !ok {
		return singleAxis(c, precise)
	}
	result := Universal()
	for _, child := range flattenAnd(and.Children) {
		cube, err := singleAxis(child, precise)
		if err != nil {
			return nil, err
		}
		if cube == nil {
			return nil, nil
		}
		result = result.Intersect(cube, precise)
		if result == nil {
			return nil, nil
		}
	}
	return result, nil
}

func flattenAnd(cs []filter.Constraint) []filter.Constraint {
	out := make([]filter.Constraint, 0, len(cs))
	for _, c := range cs {
		if and, ok := c.(filter.And); ok {
			out = append(out, flattenAnd(and.Children)...)
			continue
		}
		out = append(out, c)
	}
	return out
}

func singleAxis(c filter.Constraint, precise bool) (*Cube, error) {
	result := Universal()
	switch v := c.(type) {
	case filter.True:
		return result, nil
	case filter.Equals:
		if v.Negated {
			result.Exclude(v.Attr, v.Value)
		} else {
			result.Include(v.Attr, v.Value)
		}
		return result, nil
	case filter.Or:
		return result, addAxisFromOr(result, v.Children, precise)
	case filter.And:
		return FromConstraint(v, precise)
	case filter.Not:
		if _, ok := v.Child.(filter.True); ok {
			if precise {
				return nil, nil
			}
			return result, nil
		}
	}
	if precise {
		return nil, ErrNotPrecise
	}
	return result, nil
}

// addAxisFromOr handles a disjunction over one attribute. A disjunction that
// mixes attributes or contains anything other than Equals cannot be
// expressed as an axis.
func addAxisFromOr(cube *Cube, children []filter.Constraint, precise bool) error {
	var attr model.AttrID
	var included *roaring64.Bitmap
	var negated []model.Value
	for _, c := range children {
		e, ok := c.(filter.Equals)
		if !ok {
			if precise {
				return ErrNotPrecise
			}
			return nil
		}
		if attr == "" {
			attr = e.Attr
		} else if attr != e.Attr {
			if precise {
				return ErrNotPrecise
			}
			return nil
		}
		if e.Negated {
			negated = append(negated, e.Value)
			continue
		}
		if included == nil {
			included = roaring64.New()
		}
		included.Add(uint64(e.Value))
	}
	if attr == "" {
		return nil
	}
	if len(negated) == 0 {
		if included != nil {
			cube.axis(attr).Included = included
		}
		return nil
	}
	// x != a | x != b allows everything unless a == b; positives re-admit
	// the value they name.
	excluded := negated[0]
	for _, v := range negated[1:] {
		if v != excluded {
			return nil
		}
	}
	if included != nil && included.Contains(uint64(excluded)) {
		return nil
	}
	cube.Exclude(attr, excluded)
	return nil
}
