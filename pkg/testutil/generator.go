// Package testutil generates deterministic beads databases for tests,
// benchmarks and the test data script.
package testutil

import (
	"fmt"
	"math/rand"
	"time"

	"github.com/vanderheijden86/beadnav/internal/datasource"
)

// GeneratorConfig controls issue generation.
type GeneratorConfig struct {
	Seed      int64     // Random seed for determinism (0 = use current time)
	IDPrefix  string    // Prefix for issue IDs (default: "TEST")
	BaseTime  time.Time // Base time for timestamps (default: fixed time)
	StatusMix []string  // Statuses drawn from (nil = all open)
	TypeMix   []string  // Issue types drawn from (nil = all task)
	Assignees []string  // Assignees drawn from; an empty entry leaves the issue unassigned
	Labels    []string  // Up to two labels are drawn per issue
	// EpicEvery makes every n-th issue an epic; later issues are children
	// of the most recent one. Zero disables epics.
	EpicEvery int
	// DeletedEvery tombstones every n-th issue. Zero disables deletion.
	DeletedEvery int
}

// DefaultConfig returns a config suitable for most tests.
func DefaultConfig() GeneratorConfig {
	return GeneratorConfig{
		Seed:      42, // Deterministic
		IDPrefix:  "TEST",
		BaseTime:  time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC),
		StatusMix: []string{"open"},
		TypeMix:   []string{"task"},
	}
}

// RealisticConfig mixes statuses, types, assignees, labels and epics the
// way a working beads database does.
func RealisticConfig(seed int64) GeneratorConfig {
	cfg := DefaultConfig()
	cfg.Seed = seed
	cfg.StatusMix = []string{"open", "open", "in_progress", "blocked", "closed", "closed", "closed"}
	cfg.TypeMix = []string{"task", "task", "bug", "feature", "chore"}
	cfg.Assignees = []string{"", "ana", "bram", "chen"}
	cfg.Labels = []string{"ui", "backend", "docs", "perf", "infra"}
	cfg.EpicEvery = 25
	cfg.DeletedEvery = 50
	return cfg
}

// Generator creates deterministic issue sets.
type Generator struct {
	cfg GeneratorConfig
	rng *rand.Rand
}

// New creates a Generator with the given config.
func New(cfg GeneratorConfig) *Generator {
	seed := cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	if cfg.BaseTime.IsZero() {
		cfg.BaseTime = time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	}
	if cfg.IDPrefix == "" {
		cfg.IDPrefix = "TEST"
	}
	if len(cfg.StatusMix) == 0 {
		cfg.StatusMix = []string{"open"}
	}
	if len(cfg.TypeMix) == 0 {
		cfg.TypeMix = []string{"task"}
	}
	return &Generator{
		cfg: cfg,
		rng: rand.New(rand.NewSource(seed)),
	}
}

// NewDefault creates a Generator with default config.
func NewDefault() *Generator {
	return New(DefaultConfig())
}

var titles = []string{
	"Implement authentication flow",
	"Fix memory leak in cache",
	"Add API rate limiting",
	"Refactor database queries",
	"Update documentation",
	"Add unit tests for parser",
	"Fix race condition in worker",
	"Add metrics dashboard",
	"Implement retry logic",
}

// Issues returns n issues. Ids are IDPrefix-1 .. IDPrefix-n.
func (g *Generator) Issues(n int) []datasource.FixtureIssue {
	cfg := g.cfg
	issues := make([]datasource.FixtureIssue, 0, n)
	epic := ""
	for i := 0; i < n; i++ {
		is := datasource.FixtureIssue{
			ID:       IssueID(cfg.IDPrefix, i),
			Title:    fmt.Sprintf("%s #%d", titles[i%len(titles)], i+1),
			Status:   cfg.StatusMix[g.rng.Intn(len(cfg.StatusMix))],
			Priority: g.rng.Intn(5),
			Type:     cfg.TypeMix[g.rng.Intn(len(cfg.TypeMix))],
			Updated:  cfg.BaseTime.Add(time.Duration(i) * time.Minute),
		}
		if len(cfg.Assignees) > 0 {
			is.Assignee = cfg.Assignees[g.rng.Intn(len(cfg.Assignees))]
		}
		if len(cfg.Labels) > 0 {
			for k := g.rng.Intn(3); k > 0; k-- {
				l := cfg.Labels[g.rng.Intn(len(cfg.Labels))]
				if !contains(is.Labels, l) {
					is.Labels = append(is.Labels, l)
				}
			}
		}
		switch {
		case cfg.EpicEvery > 0 && i%cfg.EpicEvery == 0:
			is.Type = "epic"
			epic = is.ID
		case epic != "":
			is.Epic = epic
		}
		if cfg.DeletedEvery > 0 && i%cfg.DeletedEvery == cfg.DeletedEvery-1 {
			is.Deleted = true
		}
		issues = append(issues, is)
	}
	return issues
}

// IssueID returns the id of the i-th generated issue.
func IssueID(prefix string, i int) string {
	return fmt.Sprintf("%s-%d", prefix, i+1)
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
