package model

// ItemKey identifies an enumerated value together with its presentation.
// The distribution engine builds one child per ItemKey.
type ItemKey struct {
	Attr  AttrID
	Value Value
	Name  string
	// Group is the name of the group the value belongs to, or "" for none.
	Group string
	// Parent is the parent value for hierarchical attributes.
	Parent Value
}

// Missing returns the sentinel key standing for items without a value.
func Missing(attr AttrID) ItemKey {
	return ItemKey{Attr: attr, Value: NullValue, Name: MissingName}
}

// MissingName is the presentation of the missing-value sentinel.
const MissingName = "(none)"

// IsMissing reports whether k is the missing-value sentinel.
func (k ItemKey) IsMissing() bool {
	return k.Value == NullValue
}

// Connection is a beads database the tree reads items from.
type Connection struct {
	Name string
	Key  Value
	// BeadsDir is the .beads directory holding the database.
	BeadsDir string
}

// NewConnection returns a connection keyed by its name.
func NewConnection(name, beadsDir string) Connection {
	return Connection{Name: name, Key: KeyOf(AttrConnection, name), BeadsDir: beadsDir}
}
