//go:build ignore

// generate_testdata.go creates standard beads databases for benchmarking.
// Usage: go run scripts/generate_testdata.go
//
// Creates:
//
//	tests/testdata/benchmark/small/.beads/beads.db   (100 issues)
//	tests/testdata/benchmark/medium/.beads/beads.db  (1000 issues)
//	tests/testdata/benchmark/large/.beads/beads.db   (5000 issues)
//	tests/testdata/benchmark/huge/.beads/beads.db    (20000 issues)
//
// Point beadnav at one with: beadnav --beads-dir tests/testdata/benchmark/large/.beads counts --stats
package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/vanderheijden86/beadnav/internal/datasource"
	"github.com/vanderheijden86/beadnav/pkg/testutil"
)

type datasetSpec struct {
	name string
	size int
}

var datasets = []datasetSpec{
	{"small", 100},
	{"medium", 1000},
	{"large", 5000},
	{"huge", 20000},
}

func main() {
	outputDir := "tests/testdata/benchmark"

	for _, ds := range datasets {
		fmt.Printf("Generating %s dataset (%d issues)...\n", ds.name, ds.size)

		cfg := testutil.RealisticConfig(int64(ds.size)) // Reproducible per-size
		cfg.IDPrefix = "BENCH"
		cfg.EpicEvery = epicSpacing(ds.size)
		issues := testutil.New(cfg).Issues(ds.size)

		beadsDir := filepath.Join(outputDir, ds.name, ".beads")
		if err := os.MkdirAll(beadsDir, 0o755); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to create %s: %v\n", beadsDir, err)
			os.Exit(1)
		}
		path := filepath.Join(beadsDir, datasource.DatabaseName)
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			fmt.Fprintf(os.Stderr, "Failed to replace %s: %v\n", path, err)
			os.Exit(1)
		}
		if err := datasource.WriteFixture(path, issues); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to write %s: %v\n", path, err)
			os.Exit(1)
		}

		info, _ := os.Stat(path)
		fmt.Printf("  Written %s (%d bytes, %d live issues)\n", path, info.Size(), len(testutil.Live(issues)))
	}

	fmt.Println("\nDone! Test datasets created in", outputDir)
}

// epicSpacing keeps the number of epics, and so of epic distribution
// values, between 10 and 200.
func epicSpacing(size int) int {
	switch {
	case size <= 100:
		return 10
	case size <= 1000:
		return 50
	default:
		return 100
	}
}
