// Package filter holds the constraint trees attached to query nodes and a
// small text syntax for writing them in the tree configuration.
//
//	status = open & (priority = 0 | priority = 1) & !type = chore
//	label in (ui, backend) | tag = mine
//	~"crash on start"
package filter

import (
	"strconv"
	"strings"

	"github.com/vanderheijden86/beadnav/pkg/model"
)

// Constraint is a node of a filter expression tree.
type Constraint interface {
	String() string
	isConstraint()
}

// True matches every item.
type True struct{}

// Equals matches items whose attribute holds Name. For set attributes it
// matches items containing Name.
type Equals struct {
	Attr    model.AttrID
	Name    string
	Value   model.Value
	Negated bool
}

// And matches items matching all children.
type And struct{ Children []Constraint }

// Or matches items matching any child.
type Or struct{ Children []Constraint }

// Not negates a constraint that is not a plain Equals.
type Not struct{ Child Constraint }

// Text matches a substring of the item title.
type Text struct{ Query string }

func (True) isConstraint()   {}
func (Equals) isConstraint() {}
func (And) isConstraint()    {}
func (Or) isConstraint()     {}
func (Not) isConstraint()    {}
func (Text) isConstraint()   {}

// Eq builds an Equals constraint with its value key filled in. An empty
// name matches items without a value.
func Eq(attr model.AttrID, name string) Equals {
	if name == "" {
		return Equals{Attr: attr, Value: model.NullValue}
	}
	return Equals{Attr: attr, Name: name, Value: model.KeyOf(attr, name)}
}

// Ne builds a negated Equals constraint.
func Ne(attr model.AttrID, name string) Equals {
	e := Eq(attr, name)
	e.Negated = true
	return e
}

// AllOf combines constraints with And, flattening nested Ands and dropping
// True children.
func AllOf(cs ...Constraint) Constraint {
	var out []Constraint
	for _, c := range cs {
		switch v := c.(type) {
		case nil, True:
		case And:
			out = append(out, v.Children...)
		default:
			out = append(out, c)
		}
	}
	switch len(out) {
	case 0:
		return True{}
	case 1:
		return out[0]
	}
	return And{Children: out}
}

// AnyOf combines constraints with Or, flattening nested Ors.
func AnyOf(cs ...Constraint) Constraint {
	var out []Constraint
	for _, c := range cs {
		switch v := c.(type) {
		case nil:
		case True:
			return True{}
		case Or:
			out = append(out, v.Children...)
		default:
			out = append(out, c)
		}
	}
	if len(out) == 1 {
		return out[0]
	}
	return Or{Children: out}
}

// Negate returns the negation of c, folding Equals into its negated form.
func Negate(c Constraint) Constraint {
	switch v := c.(type) {
	case Equals:
		v.Negated = !v.Negated
		return v
	case Not:
		return v.Child
	}
	return Not{Child: c}
}

// LocallyManaged reports whether c only restricts attributes owned by this
// client. Composite constraints qualify when every child does.
func LocallyManaged(c Constraint) bool {
	switch v := c.(type) {
	case Equals:
		a, ok := model.Lookup(string(v.Attr))
		return ok && a.Local
	case And:
		return allLocal(v.Children)
	case Or:
		return allLocal(v.Children)
	}
	return false
}

func allLocal(cs []Constraint) bool {
	if len(cs) == 0 {
		return false
	}
	for _, c := range cs {
		if !LocallyManaged(c) {
			return false
		}
	}
	return true
}

// Equal reports whether two constraint trees are structurally identical.
func Equal(a, b Constraint) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.String() == b.String()
}

func (True) String() string { return "true" }

func (e Equals) String() string {
	op := " = "
	if e.Negated {
		op = " != "
	}
	return string(e.Attr) + op + quote(e.Name)
}

func (a And) String() string { return join(a.Children, " & ") }
func (o Or) String() string  { return join(o.Children, " | ") }
func (n Not) String() string { return "!(" + n.Child.String() + ")" }
func (t Text) String() string {
	return "~" + strconv.Quote(t.Query)
}

func join(cs []Constraint, sep string) string {
	parts := make([]string, len(cs))
	for i, c := range cs {
		s := c.String()
		switch c.(type) {
		case And, Or:
			s = "(" + s + ")"
		}
		parts[i] = s
	}
	return strings.Join(parts, sep)
}

func quote(s string) string {
	if s == "" {
		return `""`
	}
	for _, r := range s {
		if !isIdentRune(r) {
			return strconv.Quote(s)
		}
	}
	if isKeyword(s) {
		return strconv.Quote(s)
	}
	return s
}
