package navtree

import (
	"errors"
	"fmt"
	"path"
	"slices"
	"strconv"
	"strings"

	"github.com/vanderheijden86/beadnav/pkg/eventlog"
	"github.com/vanderheijden86/beadnav/pkg/metrics"
	"github.com/vanderheijden86/beadnav/pkg/model"
)

var (
	// ErrUnknownAttribute is returned for distributions over attributes the
	// model does not define.
	ErrUnknownAttribute = errors.New("navtree: unknown attribute")
	// ErrUnknownGrouping is returned for unregistered or mismatched groupings.
	ErrUnknownGrouping = errors.New("navtree: unknown grouping")
)

// RemovedPrefix marks value nodes whose value no longer exists but which
// still hold children.
const RemovedPrefix = "Removed: "

// NameFilter accepts names by glob patterns, case-insensitively. An empty
// Include list accepts every name not excluded.
type NameFilter struct {
	Include []string `yaml:"include,omitempty" json:"include,omitempty"`
	Exclude []string `yaml:"exclude,omitempty" json:"exclude,omitempty"`
}

// Accepts reports whether name passes the filter.
func (f NameFilter) Accepts(name string) bool {
	name = strings.ToLower(name)
	for _, p := range f.Exclude {
		if globMatch(p, name) {
			return false
		}
	}
	if len(f.Include) == 0 {
		return true
	}
	for _, p := range f.Include {
		if globMatch(p, name) {
			return true
		}
	}
	return false
}

func globMatch(pattern, name string) bool {
	pattern = strings.ToLower(pattern)
	if ok, err := path.Match(pattern, name); err == nil {
		return ok
	}
	return pattern == name
}

// DistributionParams configures a distribution folder.
type DistributionParams struct {
	Attribute       model.AttrID `yaml:"attribute" json:"attribute"`
	Grouping        string       `yaml:"grouping,omitempty" json:"grouping,omitempty"`
	ArrangeInGroups bool         `yaml:"arrange_in_groups,omitempty" json:"arrange_in_groups,omitempty"`
	Values          NameFilter   `yaml:"values,omitempty" json:"values,omitempty"`
	Groups          NameFilter   `yaml:"groups,omitempty" json:"groups,omitempty"`
	HideEmpty       bool         `yaml:"hide_empty,omitempty" json:"hide_empty,omitempty"`
}

func (p DistributionParams) resolve() (*model.Attribute, Grouping, error) {
	attr, ok := model.Lookup(string(p.Attribute))
	if !ok {
		return nil, nil, fmt.Errorf("%w: %q", ErrUnknownAttribute, p.Attribute)
	}
	if p.Grouping == "" {
		return attr, nil, nil
	}
	g, ok := LookupGrouping(p.Grouping)
	if !ok {
		return nil, nil, fmt.Errorf("%w: %q", ErrUnknownGrouping, p.Grouping)
	}
	if g.Attribute() != "" && g.Attribute() != attr.ID {
		return nil, nil, fmt.Errorf("%w: %q does not apply to %s", ErrUnknownGrouping, p.Grouping, attr.ID)
	}
	return attr, g, nil
}

type distFolder struct {
	node     *Node
	params   DistributionParams
	attr     *model.Attribute
	grouping Grouping
	model    ValueModel
	unsub    func()

	byValue map[model.Value]*Node
	groups  map[string]*Node
	pending pendingSet
	index   map[model.Value]model.ItemKey
}

type distValue struct {
	key    model.ItemKey
	pinned bool
}

type distGroup struct {
	key string
}

// AddDistribution appends a distribution folder below parent holding one
// child per value of vm accepted by params.
func (t *Tree) AddDistribution(parent *Node, name string, params DistributionParams, vm ValueModel) (*Node, error) {
	if err := t.checkUserParent(parent); err != nil {
		return nil, err
	}
	attr, grouping, err := params.resolve()
	if err != nil {
		return nil, err
	}
	n := t.newNode(KindDistributionFolder, t.uniqueChildID(parent, "distribution:"+name), name)
	f := &distFolder{
		node:     n,
		params:   params,
		attr:     attr,
		grouping: grouping,
		model:    vm,
		byValue:  make(map[model.Value]*Node),
		groups:   make(map[string]*Node),
		pending:  newPendingSet(),
	}
	n.dist = f
	t.insertChild(parent, len(parent.children), n)
	f.unsub = vm.Subscribe(f)
	f.fullUpdate()
	return n, nil
}

// SetDistributionParams reconfigures a distribution folder and rebuilds its
// children. A change of HideEmpty alone only refreshes visibility.
func (n *Node) SetDistributionParams(params DistributionParams) error {
	f := n.dist
	if f == nil {
		return ErrNotAllowed
	}
	attr, grouping, err := params.resolve()
	if err != nil {
		return err
	}
	if attr.ID != f.attr.ID {
		return fmt.Errorf("%w: attribute of a distribution cannot change", ErrNotAllowed)
	}
	old := f.params
	f.params = params
	f.grouping = grouping
	if withHideEmpty(old, params.HideEmpty).equal(params) {
		n.SetHideEmptyChildren(params.HideEmpty)
		return nil
	}
	f.fullUpdate()
	f.updateAllGroups()
	return nil
}

func withHideEmpty(p DistributionParams, hide bool) DistributionParams {
	p.HideEmpty = hide
	return p
}

func (p DistributionParams) equal(o DistributionParams) bool {
	return p.Attribute == o.Attribute && p.Grouping == o.Grouping &&
		p.ArrangeInGroups == o.ArrangeInGroups && p.HideEmpty == o.HideEmpty &&
		slices.Equal(p.Values.Include, o.Values.Include) && slices.Equal(p.Values.Exclude, o.Values.Exclude) &&
		slices.Equal(p.Groups.Include, o.Groups.Include) && slices.Equal(p.Groups.Exclude, o.Groups.Exclude)
}

// FullUpdate rebuilds the children of a distribution folder from the
// current values of its model.
func (n *Node) FullUpdate() error {
	if n.dist == nil {
		return ErrNotAllowed
	}
	n.dist.fullUpdate()
	return nil
}

func (f *distFolder) fullUpdate() {
	defer metrics.Timer(metrics.FullUpdate)()
	t := f.node.tree
	f.pending = newPendingSet()
	t.pending.Cancel(f.node)
	f.refreshIndex()

	keys := f.acceptedKeys()
	accepted := make(map[model.Value]bool, len(keys))
	for _, k := range keys {
		accepted[k.Value] = true
	}
	for _, q := range f.valueNodes() {
		if q.dq.pinned && !accepted[q.dq.key.Value] {
			f.demoteOrDelete(q)
		}
	}
	for _, k := range keys {
		f.ensureValue(k)
	}
	f.removeEmptyGroups()
	t.log.Trace("distribution_updated", eventlog.Fields{
		"node":   f.node.id,
		"values": len(keys),
		"groups": len(f.groups),
	})
}

func (f *distFolder) refreshIndex() {
	f.index = make(map[model.Value]model.ItemKey, f.model.Len())
	for i := 0; i < f.model.Len(); i++ {
		k := f.model.At(i)
		f.index[k.Value] = k
	}
}

func (f *distFolder) lookup(v model.Value) (model.ItemKey, bool) {
	k, ok := f.index[v]
	return k, ok
}

// acceptedKeys lists the model's values passing the filters, in model
// order, followed by the missing-value sentinel unless it is filtered out.
func (f *distFolder) acceptedKeys() []model.ItemKey {
	var out []model.ItemKey
	for i := 0; i < f.model.Len(); i++ {
		if k := f.model.At(i); f.accepts(k) {
			out = append(out, k)
		}
	}
	if missing := model.Missing(f.attr.ID); f.accepts(missing) {
		out = append(out, missing)
	}
	return out
}

func (f *distFolder) accepts(k model.ItemKey) bool {
	if !f.params.Values.Accepts(displayName(k)) {
		return false
	}
	if f.grouping != nil && !f.params.Groups.Accepts(groupDisplayName(f.grouping.GroupOf(k, f.lookup))) {
		return false
	}
	return true
}

func displayName(k model.ItemKey) string {
	if k.IsMissing() || k.Name == "" {
		return model.MissingName
	}
	return k.Name
}

// valueNodes returns the value nodes of the folder ordered by value.
func (f *distFolder) valueNodes() []*Node {
	out := make([]*Node, 0, len(f.byValue))
	for _, q := range f.byValue {
		out = append(out, q)
	}
	slices.SortFunc(out, func(a, b *Node) int {
		switch {
		case a.dq.key.Value < b.dq.key.Value:
			return -1
		case a.dq.key.Value > b.dq.key.Value:
			return 1
		}
		return 0
	})
	return out
}

// ensureValue makes sure a pinned node for k exists in the right place,
// creating it or reviving a demoted one.
func (f *distFolder) ensureValue(k model.ItemKey) {
	t := f.node.tree
	target := f.targetParent(k)
	q := f.byValue[k.Value]
	if q == nil {
		q = t.newNode(KindDistributionQuery, childID(f.node.id, "value:"+strconv.FormatUint(uint64(k.Value), 16)), displayName(k))
		q.dq = &distValue{key: k, pinned: true}
		f.byValue[k.Value] = q
		t.insertChild(target, placeUnder(target, q, -1), q)
		return
	}

	changed := false
	if !q.dq.pinned {
		q.dq.pinned = true
		changed = true
	}
	if q.dq.key != k {
		q.dq.key = k
		changed = true
	}
	if name := displayName(k); q.name != name {
		q.name = name
		changed = true
	}
	if q.parent != target {
		t.detach(q)
		t.insertChild(target, placeUnder(target, q, -1), q)
		return
	}
	if changed {
		t.fire(Event{Kind: NodeChanged, Node: q})
		q.reposition()
	}
}

// demoteOrDelete handles a value that is no longer accepted: a node with
// children is kept unpinned under a "Removed: " name, others are deleted.
func (f *distFolder) demoteOrDelete(q *Node) {
	t := f.node.tree
	if len(q.children) == 0 {
		t.deleteNode(q)
		return
	}
	q.dq.pinned = false
	q.name = RemovedPrefix + displayName(q.dq.key)
	t.fire(Event{Kind: NodeChanged, Node: q})
	q.reposition()
}

// targetParent returns the node k belongs under, creating its group on
// demand.
func (f *distFolder) targetParent(k model.ItemKey) *Node {
	if f.grouping == nil || !f.params.ArrangeInGroups {
		return f.node
	}
	key := f.grouping.GroupOf(k, f.lookup)
	if g := f.groups[key]; g != nil {
		return g
	}
	t := f.node.tree
	g := t.newNode(KindDistributionGroup, childID(f.node.id, "group:"+key), groupDisplayName(key))
	g.group = &distGroup{key: key}
	f.groups[key] = g
	t.insertChild(f.node, placeUnder(f.node, g, -1), g)
	return g
}

func (f *distFolder) removeEmptyGroups() {
	keys := make([]string, 0, len(f.groups))
	for key := range f.groups {
		keys = append(keys, key)
	}
	slices.Sort(keys)
	for _, key := range keys {
		if g := f.groups[key]; len(g.children) == 0 {
			f.node.tree.deleteNode(g)
		}
	}
}

// updateAllGroups drops empty groups and restores the order of all
// children.
func (f *distFolder) updateAllGroups() {
	f.removeEmptyGroups()
	f.node.sortChildren()
}

func (f *distFolder) close() {
	if f.unsub != nil {
		f.unsub()
		f.unsub = nil
	}
}
