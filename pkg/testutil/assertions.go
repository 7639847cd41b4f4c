package testutil

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/vanderheijden86/beadnav/internal/datasource"
)

// TempBeadsDir creates a temporary directory with a .beads subdirectory
// and returns the .beads path. The directory is cleaned up after the test.
func TempBeadsDir(t testing.TB) string {
	t.Helper()

	beadsDir := filepath.Join(t.TempDir(), ".beads")
	if err := os.MkdirAll(beadsDir, 0o755); err != nil {
		t.Fatalf("failed to create .beads dir: %v", err)
	}
	return beadsDir
}

// WriteBeadsDB writes issues into the database of beadsDir and returns
// the database path.
func WriteBeadsDB(t testing.TB, beadsDir string, issues []datasource.FixtureIssue) string {
	t.Helper()

	path := filepath.Join(beadsDir, datasource.DatabaseName)
	if err := datasource.WriteFixture(path, issues); err != nil {
		t.Fatalf("failed to write beads database: %v", err)
	}
	return path
}

// Live drops tombstoned issues.
func Live(issues []datasource.FixtureIssue) []datasource.FixtureIssue {
	out := make([]datasource.FixtureIssue, 0, len(issues))
	for _, is := range issues {
		if !is.Deleted {
			out = append(out, is)
		}
	}
	return out
}

// CountByStatus counts live issues per status.
func CountByStatus(issues []datasource.FixtureIssue) map[string]int {
	return countBy(issues, func(is datasource.FixtureIssue) []string { return []string{is.Status} })
}

// CountByType counts live issues per issue type.
func CountByType(issues []datasource.FixtureIssue) map[string]int {
	return countBy(issues, func(is datasource.FixtureIssue) []string { return []string{is.Type} })
}

// CountByLabel counts live issues per label. An issue counts once for each
// of its labels.
func CountByLabel(issues []datasource.FixtureIssue) map[string]int {
	return countBy(issues, func(is datasource.FixtureIssue) []string { return is.Labels })
}

func countBy(issues []datasource.FixtureIssue, keys func(datasource.FixtureIssue) []string) map[string]int {
	counts := make(map[string]int)
	for _, is := range issues {
		if is.Deleted {
			continue
		}
		for _, k := range keys(is) {
			counts[k]++
		}
	}
	return counts
}

// AssertCounts fails the test when got differs from want on any key.
func AssertCounts(t testing.TB, what string, got, want map[string]int) {
	t.Helper()
	for k, w := range want {
		if got[k] != w {
			t.Errorf("%s[%s] = %d, want %d", what, k, got[k], w)
		}
	}
	for k, g := range got {
		if _, ok := want[k]; !ok && g != 0 {
			t.Errorf("%s[%s] = %d, want absent", what, k, g)
		}
	}
}
