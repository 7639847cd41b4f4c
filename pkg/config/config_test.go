package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/vanderheijden86/beadnav/pkg/model"
	"github.com/vanderheijden86/beadnav/pkg/navtree"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Scheduler.Workers != 4 {
		t.Errorf("expected 4 workers, got %d", cfg.Scheduler.Workers)
	}
	if !cfg.UI.ShowCounts || !cfg.UI.ShowSync {
		t.Error("expected counts and sync markers shown by default")
	}
	if cfg.UI.IndentWidth != 2 {
		t.Errorf("expected indent 2, got %d", cfg.UI.IndentWidth)
	}
}

func TestLoadFrom_NonExistent(t *testing.T) {
	cfg, err := LoadFrom("/nonexistent/path/config.yaml")
	if err != nil {
		t.Fatalf("expected no error for missing file, got: %v", err)
	}
	if cfg.Scheduler.Workers != 4 {
		t.Errorf("expected default config, got %d workers", cfg.Scheduler.Workers)
	}
}

func TestLoadFrom_ValidConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")

	content := `
connections:
  - name: work
    beads_dir: ~/work/.beads
  - name: remote
    beads_dir: /srv/remote/.beads
    synced: false

tree:
  - connection: work
    nodes:
      - folder: Triage
        children:
          - query: Open bugs
            filter: status = open & type = bug
          - distribution: By label
            params:
              attribute: label
              values:
                exclude: ["wip*"]
            hide_empty: true
  - connection: remote
    nodes:
      - distribution: By status
        params:
          attribute: status
          grouping: state
          arrange_in_groups: true

debounce:
  preview_ms: 200
  registry_ms: 750

scheduler:
  workers: 8
  max_starts_per_second: 20

ui:
  show_counts: false
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadFrom(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if len(cfg.Connections) != 2 {
		t.Fatalf("expected 2 connections, got %d", len(cfg.Connections))
	}
	home, _ := os.UserHomeDir()
	if want := filepath.Join(home, "work/.beads"); cfg.Connections[0].BeadsDir != want {
		t.Errorf("expected expanded path %q, got %q", want, cfg.Connections[0].BeadsDir)
	}
	if !cfg.Connections[0].IsSynced() {
		t.Error("connection without synced option should be synced")
	}
	if cfg.Connections[1].IsSynced() {
		t.Error("synced: false not honored")
	}

	nodes := cfg.TreeFor("WORK")
	if len(nodes) != 1 || nodes[0].Kind() != navtree.KindFolder {
		t.Fatalf("unexpected work tree: %+v", nodes)
	}
	triage := nodes[0].Children
	if triage[0].Kind() != navtree.KindQuery || triage[0].Filter != "status = open & type = bug" {
		t.Errorf("unexpected query: %+v", triage[0])
	}
	dist := triage[1]
	if dist.Kind() != navtree.KindDistributionFolder || dist.Params.Attribute != model.AttrLabel {
		t.Errorf("unexpected distribution: %+v", dist)
	}
	if dist.Params.Values.Accepts("wip-ui") {
		t.Error("values filter not decoded")
	}
	if !dist.HideEmpty {
		t.Error("hide_empty not decoded")
	}

	remote := cfg.TreeFor("remote")
	if len(remote) != 1 || remote[0].Params.Grouping != "state" || !remote[0].Params.ArrangeInGroups {
		t.Errorf("unexpected remote tree: %+v", remote)
	}

	if cfg.Scheduler.Workers != 8 {
		t.Errorf("expected 8 workers, got %d", cfg.Scheduler.Workers)
	}
	if cfg.UI.ShowCounts {
		t.Error("show_counts: false not honored")
	}
	if !cfg.UI.ShowSync {
		t.Error("unset show_sync should keep its default")
	}

	d := cfg.Delays()
	if d.PreviewMin != 200*time.Millisecond {
		t.Errorf("preview delay = %v, want 200ms", d.PreviewMin)
	}
	if d.Registry != 750*time.Millisecond {
		t.Errorf("registry delay = %v, want 750ms", d.Registry)
	}
	if d.PendingMin != navtree.DefaultDelays().PendingMin {
		t.Errorf("unset pending delay changed to %v", d.PendingMin)
	}
}

func TestLoadFrom_InvalidYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")

	if err := os.WriteFile(path, []byte("{{invalid yaml"), 0o644); err != nil {
		t.Fatal(err)
	}

	_, err := LoadFrom(path)
	if err == nil {
		t.Error("expected error for invalid YAML")
	}
}

func TestValidate(t *testing.T) {
	conns := []Connection{{Name: "work", BeadsDir: "/w"}}
	status := &navtree.DistributionParams{Attribute: model.AttrStatus}

	tests := []struct {
		name string
		cfg  Config
	}{
		{"unnamed connection", Config{Connections: []Connection{{BeadsDir: "/x"}}}},
		{"duplicate connection", Config{Connections: []Connection{{Name: "a"}, {Name: "A"}}}},
		{"unknown connection", Config{Connections: conns, Tree: []TreeConfig{{Connection: "home"}}}},
		{"two kinds", Config{Connections: conns, Tree: []TreeConfig{{Connection: "work", Nodes: []Node{{Folder: "f", Query: "q"}}}}}},
		{"no kind", Config{Connections: conns, Tree: []TreeConfig{{Connection: "work", Nodes: []Node{{}}}}}},
		{"distribution without params", Config{Connections: conns, Tree: []TreeConfig{{Connection: "work", Nodes: []Node{{Distribution: "d"}}}}}},
		{"filter on folder", Config{Connections: conns, Tree: []TreeConfig{{Connection: "work", Nodes: []Node{{Folder: "f", Filter: "status = open"}}}}}},
		{"distribution children", Config{Connections: conns, Tree: []TreeConfig{{Connection: "work", Nodes: []Node{
			{Distribution: "d", Params: status, Children: []Node{{Folder: "x"}}},
		}}}}},
		{"nested error", Config{Connections: conns, Tree: []TreeConfig{{Connection: "work", Nodes: []Node{
			{Folder: "f", Children: []Node{{Query: "q", Distribution: "d"}}},
		}}}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.cfg.Validate(); !errors.Is(err, ErrInvalid) {
				t.Errorf("Validate() = %v, want ErrInvalid", err)
			}
		})
	}

	ok := Config{Connections: conns, Tree: []TreeConfig{{Connection: "Work", Nodes: []Node{
		{Folder: "f", Children: []Node{{Query: "q", Filter: "status = open"}}},
		{Distribution: "d", Params: status},
	}}}}
	if err := ok.Validate(); err != nil {
		t.Errorf("valid config rejected: %v", err)
	}
}

func TestSaveAndLoad_RoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")

	off := false
	cfg := DefaultConfig()
	cfg.Connections = []Connection{
		{Name: "proj1", BeadsDir: "/path/to/proj1/.beads"},
		{Name: "proj2", BeadsDir: "/path/to/proj2/.beads", Synced: &off},
	}
	cfg.Tree = []TreeConfig{{Connection: "proj1", Nodes: []Node{
		{Distribution: "By type", Params: &navtree.DistributionParams{Attribute: model.AttrType}},
	}}}

	if err := SaveTo(cfg, path); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	loaded, err := LoadFrom(path)
	if err != nil {
		t.Fatalf("Load after save failed: %v", err)
	}

	if len(loaded.Connections) != 2 {
		t.Fatalf("expected 2 connections, got %d", len(loaded.Connections))
	}
	if loaded.Connections[1].IsSynced() {
		t.Error("synced flag lost in round trip")
	}
	if got := loaded.TreeFor("proj1"); len(got) != 1 || got[0].Params.Attribute != model.AttrType {
		t.Errorf("tree lost in round trip: %+v", got)
	}
}

func TestFindConnection(t *testing.T) {
	cfg := Config{
		Connections: []Connection{
			{Name: "alpha", BeadsDir: "/a"},
			{Name: "Beta", BeadsDir: "/b"},
		},
	}

	if c := cfg.FindConnection("alpha"); c == nil || c.Name != "alpha" {
		t.Error("expected to find 'alpha'")
	}
	if c := cfg.FindConnection("BETA"); c == nil || c.Name != "Beta" {
		t.Error("expected to find 'Beta' case-insensitively")
	}
	if c := cfg.FindConnection("nonexistent"); c != nil {
		t.Error("expected nil for nonexistent connection")
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("BEADNAV_WORKERS", "3")
	t.Setenv("BEADNAV_PREVIEW_DELAY_MS", "2000")
	t.Setenv("BEADNAV_WATCH_DEBOUNCE_MS", "bogus")

	cfg := DefaultConfig()
	cfg.Debounce.WatcherMs = 150
	if got := cfg.Workers(); got != 3 {
		t.Errorf("Workers() = %d, want 3", got)
	}
	d := cfg.Delays()
	if d.PreviewMin != 2*time.Second {
		t.Errorf("PreviewMin = %v, want 2s", d.PreviewMin)
	}
	if d.PreviewMax < d.PreviewMin {
		t.Errorf("PreviewMax %v below PreviewMin %v", d.PreviewMax, d.PreviewMin)
	}
	if got := cfg.WatcherDebounce(); got != 150*time.Millisecond {
		t.Errorf("WatcherDebounce() = %v, want 150ms for an invalid override", got)
	}
}

func TestXDGDirs(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", "/tmp/xdg-config")
	t.Setenv("XDG_DATA_HOME", "/tmp/xdg-data")

	if got := ConfigPath(); got != "/tmp/xdg-config/beadnav/config.yaml" {
		t.Errorf("ConfigPath() = %q", got)
	}
	if got := RegistryPath(); got != "/tmp/xdg-data/beadnav/sync.db" {
		t.Errorf("RegistryPath() = %q", got)
	}
}
