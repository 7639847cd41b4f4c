// Package model defines the item attributes and value keys shared by the
// navigation tree, the hypercube algebra and the data source.
package model

import (
	"fmt"
	"strings"

	"github.com/cespare/xxhash/v2"
)

// Value is the key of an attribute value. Keys are stable across runs so
// that cubes persisted by the sync registry keep their meaning.
type Value uint64

// NullValue marks a missing value. It is never produced by KeyOf.
const NullValue Value = 0

// Composition describes how many values an item holds for an attribute.
type Composition int

const (
	Scalar Composition = iota
	Set
	List
)

func (c Composition) String() string {
	switch c {
	case Scalar:
		return "scalar"
	case Set:
		return "set"
	case List:
		return "list"
	default:
		return fmt.Sprintf("composition(%d)", int(c))
	}
}

// AttrID names an attribute, e.g. "status".
type AttrID string

// Attribute describes one item attribute usable as a hypercube axis.
type Attribute struct {
	ID          AttrID
	Name        string
	Composition Composition
	// Hierarchical values roll up to their parent value when counted.
	Hierarchical bool
	// Local attributes are owned by this client, so data filtered only by
	// them is always complete.
	Local bool
	// Order lists value names in their declared order. Names not listed
	// sort after listed ones.
	Order []string
}

// Built-in attributes of the beads schema.
const (
	AttrConnection AttrID = "connection"
	AttrStatus     AttrID = "status"
	AttrPriority   AttrID = "priority"
	AttrType       AttrID = "type"
	AttrAssignee   AttrID = "assignee"
	AttrLabel      AttrID = "label"
	AttrEpic       AttrID = "epic"
	AttrTag        AttrID = "tag"
)

var builtin = []*Attribute{
	{ID: AttrConnection, Name: "Connection", Composition: Scalar},
	{ID: AttrStatus, Name: "Status", Composition: Scalar,
		Order: []string{"open", "in_progress", "blocked", "deferred", "closed"}},
	{ID: AttrPriority, Name: "Priority", Composition: Scalar,
		Order: []string{"0", "1", "2", "3", "4"}},
	{ID: AttrType, Name: "Type", Composition: Scalar,
		Order: []string{"epic", "feature", "task", "bug", "chore"}},
	{ID: AttrAssignee, Name: "Assignee", Composition: Scalar},
	{ID: AttrLabel, Name: "Label", Composition: Set},
	{ID: AttrEpic, Name: "Epic", Composition: Scalar, Hierarchical: true},
	{ID: AttrTag, Name: "Tag", Composition: Set, Local: true},
}

var byID = func() map[AttrID]*Attribute {
	m := make(map[AttrID]*Attribute, len(builtin))
	for _, a := range builtin {
		m[a.ID] = a
	}
	return m
}()

// Lookup returns the attribute with the given id, matching case-insensitively.
func Lookup(id string) (*Attribute, bool) {
	a, ok := byID[AttrID(strings.ToLower(strings.TrimSpace(id)))]
	return a, ok
}

// MustLookup is Lookup for built-in ids known at compile time.
func MustLookup(id AttrID) *Attribute {
	a, ok := byID[id]
	if !ok {
		panic(fmt.Sprintf("model: unknown attribute %q", id))
	}
	return a
}

// Attributes returns all built-in attributes in declaration order.
func Attributes() []*Attribute {
	out := make([]*Attribute, len(builtin))
	copy(out, builtin)
	return out
}

// KeyOf returns the stable key for the named value of attr.
func KeyOf(attr AttrID, name string) Value {
	h := xxhash.New()
	_, _ = h.WriteString(string(attr))
	_, _ = h.Write([]byte{0})
	_, _ = h.WriteString(name)
	v := Value(h.Sum64())
	if v == NullValue {
		v = 1
	}
	return v
}

// OrderIndex returns the declared position of name, or len(Order) when the
// attribute does not declare it.
func (a *Attribute) OrderIndex(name string) int {
	for i, n := range a.Order {
		if strings.EqualFold(n, name) {
			return i
		}
	}
	return len(a.Order)
}

func (a *Attribute) String() string {
	if a == nil {
		return "<nil>"
	}
	return string(a.ID)
}
