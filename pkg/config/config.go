// Package config handles loading and saving beadnav configuration.
//
// Configuration follows the XDG Base Directory specification:
//   - Config:  ~/.config/beadnav/config.yaml
//   - Data:    ~/.local/share/beadnav/ (sync registry)
//   - State:   ~/.local/state/beadnav/ (trace files)
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/vanderheijden86/beadnav/pkg/navtree"
)

const appName = "beadnav"

// ErrInvalid is wrapped by Validate failures.
var ErrInvalid = errors.New("invalid config")

// Connection is a beads database shown as a top-level node.
type Connection struct {
	Name     string `yaml:"name"`
	BeadsDir string `yaml:"beads_dir"`
	// Synced marks every item of the connection as locally present. Nil
	// means true: a beads database is a full local copy.
	Synced *bool `yaml:"synced,omitempty"`
}

// IsSynced reports the effective synced setting.
func (c Connection) IsSynced() bool {
	return c.Synced == nil || *c.Synced
}

// DebounceConfig holds coalescer delays in milliseconds. Zero keeps the
// built-in default.
type DebounceConfig struct {
	PreviewMs         int `yaml:"preview_ms,omitempty"`
	PreviewMaxMs      int `yaml:"preview_max_ms,omitempty"`
	PresentationMs    int `yaml:"presentation_ms,omitempty"`
	PresentationMaxMs int `yaml:"presentation_max_ms,omitempty"`
	PendingMs         int `yaml:"pending_ms,omitempty"`
	PendingMaxMs      int `yaml:"pending_max_ms,omitempty"`
	GroupsMs          int `yaml:"groups_ms,omitempty"`
	RegistryMs        int `yaml:"registry_ms,omitempty"`
	WatcherMs         int `yaml:"watcher_ms,omitempty"`
}

// SchedulerConfig bounds background count jobs.
type SchedulerConfig struct {
	Workers            int     `yaml:"workers,omitempty"`
	MaxStartsPerSecond float64 `yaml:"max_starts_per_second,omitempty"`
	Burst              int     `yaml:"burst,omitempty"`
}

// Node is one configured tree node. Exactly one of Folder, Query and
// Distribution names it.
type Node struct {
	Folder       string                      `yaml:"folder,omitempty"`
	Query        string                      `yaml:"query,omitempty"`
	Filter       string                      `yaml:"filter,omitempty"`
	Distribution string                      `yaml:"distribution,omitempty"`
	Params       *navtree.DistributionParams `yaml:"params,omitempty"`
	HideEmpty    bool                        `yaml:"hide_empty,omitempty"`
	Synced       bool                        `yaml:"synced,omitempty"`
	Children     []Node                      `yaml:"children,omitempty"`
}

// Kind returns the node kind the entry configures.
func (n Node) Kind() navtree.Kind {
	switch {
	case n.Distribution != "":
		return navtree.KindDistributionFolder
	case n.Query != "":
		return navtree.KindQuery
	default:
		return navtree.KindFolder
	}
}

// Name returns the display name of the entry.
func (n Node) Name() string {
	switch {
	case n.Distribution != "":
		return n.Distribution
	case n.Query != "":
		return n.Query
	}
	return n.Folder
}

func (n Node) validate(path string) error {
	set := 0
	for _, s := range []string{n.Folder, n.Query, n.Distribution} {
		if s != "" {
			set++
		}
	}
	if set != 1 {
		return fmt.Errorf("%w: %s: exactly one of folder, query, distribution must be set", ErrInvalid, path)
	}
	path += "/" + n.Name()
	if n.Distribution != "" {
		if n.Params == nil || n.Params.Attribute == "" {
			return fmt.Errorf("%w: %s: distribution needs params.attribute", ErrInvalid, path)
		}
		if len(n.Children) > 0 {
			return fmt.Errorf("%w: %s: distributions take no children", ErrInvalid, path)
		}
	}
	if n.Filter != "" && n.Query == "" {
		return fmt.Errorf("%w: %s: filter only applies to queries", ErrInvalid, path)
	}
	for _, c := range n.Children {
		if err := c.validate(path); err != nil {
			return err
		}
	}
	return nil
}

// TreeConfig lists the nodes configured below one connection.
type TreeConfig struct {
	Connection string `yaml:"connection"`
	Nodes      []Node `yaml:"nodes,omitempty"`
}

// UIConfig holds UI preference settings.
type UIConfig struct {
	ShowCounts   bool `yaml:"show_counts"`
	ShowSync     bool `yaml:"show_sync"`
	IndentWidth  int  `yaml:"indent_width,omitempty"`
	HideEmpty    bool `yaml:"hide_empty,omitempty"`
	AutoExpandTo int  `yaml:"auto_expand_to,omitempty"` // depth expanded on first start
}

// Config is the top-level configuration for beadnav.
type Config struct {
	Connections []Connection    `yaml:"connections,omitempty"`
	Tree        []TreeConfig    `yaml:"tree,omitempty"`
	Debounce    DebounceConfig  `yaml:"debounce,omitempty"`
	Scheduler   SchedulerConfig `yaml:"scheduler,omitempty"`
	UI          UIConfig        `yaml:"ui,omitempty"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Scheduler: SchedulerConfig{
			Workers: 4,
		},
		UI: UIConfig{
			ShowCounts:   true,
			ShowSync:     true,
			IndentWidth:  2,
			AutoExpandTo: 1,
		},
	}
}

// ConfigDir returns the XDG config directory for beadnav.
func ConfigDir() string {
	return xdgDir("XDG_CONFIG_HOME", ".config")
}

// DataDir returns the XDG data directory for beadnav.
func DataDir() string {
	return xdgDir("XDG_DATA_HOME", filepath.Join(".local", "share"))
}

// StateDir returns the XDG state directory for beadnav.
func StateDir() string {
	return xdgDir("XDG_STATE_HOME", filepath.Join(".local", "state"))
}

func xdgDir(env, fallback string) string {
	if dir := os.Getenv(env); dir != "" {
		return filepath.Join(dir, appName)
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, fallback, appName)
}

// ConfigPath returns the full path to config.yaml.
func ConfigPath() string {
	dir := ConfigDir()
	if dir == "" {
		return ""
	}
	return filepath.Join(dir, "config.yaml")
}

// RegistryPath returns the sync registry database path, or "" when no data
// directory can be determined.
func RegistryPath() string {
	dir := DataDir()
	if dir == "" {
		return ""
	}
	return filepath.Join(dir, "sync.db")
}

// Load reads the config file from the XDG config directory.
// Returns DefaultConfig if the file doesn't exist.
func Load() (Config, error) {
	path := ConfigPath()
	if path == "" {
		return DefaultConfig(), nil
	}
	return LoadFrom(path)
}

// LoadFrom reads config from a specific path.
// Returns DefaultConfig if the file doesn't exist.
func LoadFrom(path string) (Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("reading config: %w", err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parsing config: %w", err)
	}

	for i := range cfg.Connections {
		cfg.Connections[i].BeadsDir = expandHome(cfg.Connections[i].BeadsDir)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Save writes the config to the XDG config directory.
func Save(cfg Config) error {
	path := ConfigPath()
	if path == "" {
		return fmt.Errorf("cannot determine config directory")
	}
	return SaveTo(cfg, path)
}

// SaveTo writes the config to a specific path.
func SaveTo(cfg Config, path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}

	return nil
}

// Validate checks connection names and the tree layout.
func (c Config) Validate() error {
	seen := make(map[string]bool, len(c.Connections))
	for _, conn := range c.Connections {
		name := strings.ToLower(conn.Name)
		if name == "" {
			return fmt.Errorf("%w: connection without name", ErrInvalid)
		}
		if seen[name] {
			return fmt.Errorf("%w: duplicate connection %q", ErrInvalid, conn.Name)
		}
		seen[name] = true
	}
	for _, tc := range c.Tree {
		if !seen[strings.ToLower(tc.Connection)] {
			return fmt.Errorf("%w: tree for unknown connection %q", ErrInvalid, tc.Connection)
		}
		for _, n := range tc.Nodes {
			if err := n.validate(tc.Connection); err != nil {
				return err
			}
		}
	}
	return nil
}

// FindConnection returns the connection with the given name, or nil.
func (c Config) FindConnection(name string) *Connection {
	for i := range c.Connections {
		if strings.EqualFold(c.Connections[i].Name, name) {
			return &c.Connections[i]
		}
	}
	return nil
}

// TreeFor returns the nodes configured below the named connection.
func (c Config) TreeFor(name string) []Node {
	var out []Node
	for _, tc := range c.Tree {
		if strings.EqualFold(tc.Connection, name) {
			out = append(out, tc.Nodes...)
		}
	}
	return out
}

// Delays returns the tree delays with configured and environment overrides
// applied. BEADNAV_PREVIEW_DELAY_MS and BEADNAV_REGISTRY_DELAY_MS win over
// the file.
func (c Config) Delays() navtree.Delays {
	d := navtree.DefaultDelays()
	ms := func(dst *time.Duration, v int) {
		if v > 0 {
			*dst = time.Duration(v) * time.Millisecond
		}
	}
	ms(&d.PreviewMin, c.Debounce.PreviewMs)
	ms(&d.PreviewMax, c.Debounce.PreviewMaxMs)
	ms(&d.PresentationMin, c.Debounce.PresentationMs)
	ms(&d.PresentationMax, c.Debounce.PresentationMaxMs)
	ms(&d.PendingMin, c.Debounce.PendingMs)
	ms(&d.PendingMax, c.Debounce.PendingMaxMs)
	ms(&d.Groups, c.Debounce.GroupsMs)
	ms(&d.Registry, c.Debounce.RegistryMs)

	d.PreviewMin = envDurationMilliseconds("BEADNAV_PREVIEW_DELAY_MS", d.PreviewMin)
	if d.PreviewMax < d.PreviewMin {
		d.PreviewMax = d.PreviewMin
	}
	d.Registry = envDurationMilliseconds("BEADNAV_REGISTRY_DELAY_MS", d.Registry)
	return d
}

// WatcherDebounce returns the database watcher quiet period, or zero for
// the watcher default.
func (c Config) WatcherDebounce() time.Duration {
	return envDurationMilliseconds("BEADNAV_WATCH_DEBOUNCE_MS", time.Duration(c.Debounce.WatcherMs)*time.Millisecond)
}

// Workers returns the scheduler worker count; BEADNAV_WORKERS overrides the
// file.
func (c Config) Workers() int {
	return envPositiveIntOr("BEADNAV_WORKERS", c.Scheduler.Workers)
}

func envPositiveIntOr(name string, fallback int) int {
	n, ok := envPositiveInt(name)
	if !ok {
		return fallback
	}
	return n
}

func envPositiveInt(name string) (int, bool) {
	v := strings.TrimSpace(os.Getenv(name))
	if v == "" {
		return 0, false
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return 0, false
	}
	return n, true
}

func envDurationMilliseconds(name string, fallback time.Duration) time.Duration {
	n, ok := envPositiveInt(name)
	if !ok {
		return fallback
	}
	return time.Duration(n) * time.Millisecond
}

func expandHome(path string) string {
	if !strings.HasPrefix(path, "~") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, path[1:])
}
