package navtree

import (
	"cmp"
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/vanderheijden86/beadnav/pkg/model"
)

// NoGroupName is the presentation of the group holding values without a
// group.
const NoGroupName = "(other)"

// Grouping arranges the values of a distribution folder in groups.
type Grouping interface {
	Name() string
	// Attribute is the attribute the grouping applies to, or "" for any.
	Attribute() model.AttrID
	// GroupOf returns the group key of k, or "" for none. lookup resolves
	// other values of the same attribute.
	GroupOf(k model.ItemKey, lookup func(model.Value) (model.ItemKey, bool)) string
	// Compare orders two non-empty group keys.
	Compare(a, b string) int
}

var groupings = map[string]Grouping{}

// RegisterGrouping makes g available to distribution folders by name.
func RegisterGrouping(g Grouping) {
	groupings[strings.ToLower(g.Name())] = g
}

// LookupGrouping returns the grouping with the given name.
func LookupGrouping(name string) (Grouping, bool) {
	g, ok := groupings[strings.ToLower(strings.TrimSpace(name))]
	return g, ok
}

// Groupings returns the registered grouping names in sorted order.
func Groupings() []string {
	out := make([]string, 0, len(groupings))
	for name := range groupings {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

func init() {
	RegisterGrouping(stateGrouping{})
	RegisterGrouping(parentGrouping{})
	RegisterGrouping(initialGrouping{})
}

func groupDisplayName(key string) string {
	if key == "" {
		return NoGroupName
	}
	return key
}

// stateGrouping folds statuses into the phase of work they describe.
type stateGrouping struct{}

var stateOrder = []string{"Active", "Deferred", "Done"}

func (stateGrouping) Name() string            { return "state" }
func (stateGrouping) Attribute() model.AttrID { return model.AttrStatus }

func (stateGrouping) GroupOf(k model.ItemKey, _ func(model.Value) (model.ItemKey, bool)) string {
	switch strings.ToLower(k.Name) {
	case "open", "in_progress", "blocked", "hooked", "pinned":
		return "Active"
	case "deferred":
		return "Deferred"
	case "closed", "tombstone":
		return "Done"
	}
	return ""
}

func (stateGrouping) Compare(a, b string) int {
	return cmp.Compare(orderOf(stateOrder, a), orderOf(stateOrder, b))
}

func orderOf(order []string, s string) int {
	for i, o := range order {
		if o == s {
			return i
		}
	}
	return len(order)
}

// parentGrouping groups epics under their parent epic.
type parentGrouping struct{}

func (parentGrouping) Name() string            { return "parent" }
func (parentGrouping) Attribute() model.AttrID { return model.AttrEpic }

func (parentGrouping) GroupOf(k model.ItemKey, lookup func(model.Value) (model.ItemKey, bool)) string {
	if k.Parent == model.NullValue {
		return ""
	}
	if p, ok := lookup(k.Parent); ok {
		return p.Name
	}
	return ""
}

func (parentGrouping) Compare(a, b string) int {
	return compareNames(a, b)
}

// initialGrouping groups values by their first letter.
type initialGrouping struct{}

func (initialGrouping) Name() string            { return "initial" }
func (initialGrouping) Attribute() model.AttrID { return "" }

func (initialGrouping) GroupOf(k model.ItemKey, _ func(model.Value) (model.ItemKey, bool)) string {
	if k.IsMissing() {
		return ""
	}
	r, _ := utf8.DecodeRuneInString(k.Name)
	if r == utf8.RuneError || !unicode.IsLetter(r) {
		return "#"
	}
	return string(unicode.ToUpper(r))
}

func (initialGrouping) Compare(a, b string) int {
	return compareNames(a, b)
}
