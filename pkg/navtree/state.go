package navtree

import (
	"os"
	"path/filepath"

	json "github.com/goccy/go-json"

	"github.com/vanderheijden86/beadnav/pkg/eventlog"
)

// TreeState is the persisted view state of the tree. It is saved to
// .beads/beadnav-tree-state.json so expanded nodes stay expanded across
// sessions.
//
// Only nodes whose state was explicitly set are stored, keyed by node id.
type TreeState struct {
	Version  int             `json:"version"`
	Expanded map[string]bool `json:"expanded"`
}

// TreeStateVersion is the current schema version.
const TreeStateVersion = 1

// TreeStateFile is the name of the state file inside the .beads directory.
const TreeStateFile = "beadnav-tree-state.json"

// DefaultTreeState returns an empty state.
func DefaultTreeState() *TreeState {
	return &TreeState{
		Version:  TreeStateVersion,
		Expanded: make(map[string]bool),
	}
}

// TreeStatePath returns the state file of the given .beads directory.
func TreeStatePath(beadsDir string) string {
	if beadsDir == "" {
		beadsDir = ".beads"
	}
	return filepath.Join(beadsDir, TreeStateFile)
}

// LoadState reads the state at path. A missing or unreadable file yields
// the default state.
func LoadState(path string) *TreeState {
	log := eventlog.For("navtree")
	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			log.Warn("state_read_failed", eventlog.Fields{"path": path, "error": err})
		}
		return DefaultTreeState()
	}
	var state TreeState
	if err := json.Unmarshal(data, &state); err != nil {
		log.Warn("state_invalid", eventlog.Fields{"path": path, "error": err})
		return DefaultTreeState()
	}
	if state.Version != TreeStateVersion {
		log.Warn("state_version_mismatch", eventlog.Fields{"path": path, "version": state.Version})
		return DefaultTreeState()
	}
	if state.Expanded == nil {
		state.Expanded = make(map[string]bool)
	}
	return &state
}

// SaveState writes state to path atomically, creating the directory.
func SaveState(path string, state *TreeState) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

func (t *Tree) saveState() {
	if t.statePath == "" {
		return
	}
	if err := SaveState(t.statePath, t.state); err != nil {
		t.log.Warn("state_save_failed", eventlog.Fields{"path": t.statePath, "error": err})
	}
}

// HasSavedExpanded reports whether the expanded state of n was restored
// from or recorded in the state file.
func (n *Node) HasSavedExpanded() bool {
	_, ok := n.tree.state.Expanded[n.id]
	return ok
}
