package main_test

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"

	json "github.com/goccy/go-json"

	"github.com/vanderheijden86/beadnav/pkg/testutil"
)

type countsDoc struct {
	Summary struct {
		TotalConnections  int      `json:"total_connections"`
		OpenedConnections int      `json:"opened_connections"`
		FailedConnections int      `json:"failed_connections"`
		TotalIssues       int      `json:"total_issues"`
		FailedNames       []string `json:"failed_names"`
	} `json:"summary"`
	Nodes []struct {
		Path    string `json:"path"`
		Kind    string `json:"kind"`
		Depth   int    `json:"depth"`
		Count   *int   `json:"count"`
		Ready   bool   `json:"ready"`
		Synced  bool   `json:"synced"`
		Flagged bool   `json:"flagged"`
	} `json:"nodes"`
}

func runCounts(t *testing.T, home string, args ...string) countsDoc {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	args = append(args, "counts", "--json", "--depth", "2")
	cmd := exec.CommandContext(ctx, binary(t), args...)
	cmd.Dir = home
	cmd.Env = isolatedEnv(home)
	out, err := cmd.Output()
	if err != nil {
		stderr := ""
		if ee, ok := err.(*exec.ExitError); ok {
			stderr = string(ee.Stderr)
		}
		t.Fatalf("counts failed: %v\n%s", err, stderr)
	}
	var doc countsDoc
	if err := json.Unmarshal(out, &doc); err != nil {
		t.Fatalf("invalid JSON: %v\n%s", err, out)
	}
	return doc
}

func TestCounts_GeneratedDatabase(t *testing.T) {
	home := t.TempDir()
	beadsDir := filepath.Join(home, "proj", ".beads")
	if err := os.MkdirAll(beadsDir, 0o755); err != nil {
		t.Fatal(err)
	}
	issues := testutil.New(testutil.RealisticConfig(99)).Issues(200)
	testutil.WriteBeadsDB(t, beadsDir, issues)

	doc := runCounts(t, home, "--beads-dir", beadsDir)

	live := len(testutil.Live(issues))
	if doc.Summary.TotalIssues != live {
		t.Errorf("summary issues = %d, want %d", doc.Summary.TotalIssues, live)
	}

	got := make(map[string]int)
	total := -1
	for _, n := range doc.Nodes {
		if n.Count == nil {
			continue
		}
		switch {
		case n.Path == "proj":
			total = *n.Count
		case strings.HasPrefix(n.Path, "proj/By status/"):
			got[strings.TrimPrefix(n.Path, "proj/By status/")] = *n.Count
		}
	}
	if total != live {
		t.Errorf("connection count = %d, want %d", total, live)
	}
	testutil.AssertCounts(t, "status", got, testutil.CountByStatus(issues))
}

func TestCounts_MissingConnection(t *testing.T) {
	home := t.TempDir()
	good := filepath.Join(home, "good", ".beads")
	if err := os.MkdirAll(good, 0o755); err != nil {
		t.Fatal(err)
	}
	testutil.WriteBeadsDB(t, good, testutil.NewDefault().Issues(5))

	configDir := filepath.Join(home, ".config", "beadnav")
	if err := os.MkdirAll(configDir, 0o755); err != nil {
		t.Fatal(err)
	}
	config := `connections:
  - name: good
    beads_dir: ` + good + `
  - name: gone
    beads_dir: ` + filepath.Join(home, "gone", ".beads") + `
tree:
  - connection: good
    nodes:
      - query: Open
        filter: status = open
`
	if err := os.WriteFile(filepath.Join(configDir, "config.yaml"), []byte(config), 0o644); err != nil {
		t.Fatal(err)
	}

	doc := runCounts(t, home)
	if doc.Summary.OpenedConnections != 1 || doc.Summary.FailedConnections != 1 {
		t.Errorf("summary = %+v", doc.Summary)
	}

	byPath := make(map[string]int)
	ready := make(map[string]bool)
	for _, n := range doc.Nodes {
		ready[n.Path] = n.Ready
		if n.Count != nil {
			byPath[n.Path] = *n.Count
		}
	}
	if byPath["good/Open"] != 5 {
		t.Errorf("good/Open = %d, want 5", byPath["good/Open"])
	}
	if r, ok := ready["gone"]; !ok || r {
		t.Errorf("gone listed = %v, ready = %v; want listed and not ready", ok, r)
	}
}

func TestTree_AutoClose(t *testing.T) {
	skipIfNoScript(t)

	home := t.TempDir()
	beadsDir := filepath.Join(home, "proj", ".beads")
	if err := os.MkdirAll(beadsDir, 0o755); err != nil {
		t.Fatal(err)
	}
	testutil.WriteBeadsDB(t, beadsDir, testutil.New(testutil.RealisticConfig(5)).Issues(40))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	cmd := scriptTUICommand(ctx, binary(t), "--beads-dir", beadsDir)
	cmd.Dir = home
	cmd.Env = isolatedEnv(home, "TERM=xterm-256color", "BEADNAV_TUI_AUTOCLOSE_MS=800")
	ensureCmdStdinCloses(t, ctx, cmd, 5*time.Second)

	out, err := runCmdToFile(t, cmd)
	if ctx.Err() == context.DeadlineExceeded {
		t.Fatalf("browser did not exit\n%s", out)
	}
	if err != nil {
		t.Fatalf("browser failed: %v\n%s", err, out)
	}
	for _, want := range []string{"beadnav", "proj", "By status"} {
		if !strings.Contains(string(out), want) {
			t.Errorf("screen misses %q", want)
		}
	}

	statePath := filepath.Join(beadsDir, "beadnav-tree-state.json")
	if _, err := os.Stat(statePath); err != nil {
		t.Errorf("tree state not saved: %v", err)
	}
}
