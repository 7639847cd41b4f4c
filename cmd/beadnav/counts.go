package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	json "github.com/goccy/go-json"
	"github.com/mattn/go-runewidth"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/vanderheijden86/beadnav/pkg/config"
	"github.com/vanderheijden86/beadnav/pkg/metrics"
	"github.com/vanderheijden86/beadnav/pkg/navtree"
	"github.com/vanderheijden86/beadnav/pkg/ui"
	"github.com/vanderheijden86/beadnav/pkg/workspace"
)

type countsOptions struct {
	json    bool
	stats   bool
	depth   int
	timeout time.Duration
}

func newCountsCmd(o *rootOptions) *cobra.Command {
	co := &countsOptions{}
	cmd := &cobra.Command{
		Use:   "counts",
		Short: "Print the shown tree with item counts once they are computed",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runCounts(cmd, o, co)
		},
	}
	f := cmd.Flags()
	f.BoolVar(&co.json, "json", false, "Output JSON")
	f.BoolVar(&co.stats, "stats", false, "Include timing and cache statistics")
	f.IntVar(&co.depth, "depth", -1, "Expand nodes without saved state down to this depth (default from config)")
	f.DurationVar(&co.timeout, "timeout", 30*time.Second, "Give up waiting for counts after this long")
	return cmd
}

// countsOutput is the JSON document written by counts --json.
type countsOutput struct {
	GeneratedAt time.Time             `json:"generated_at"`
	Summary     workspace.LoadSummary `json:"summary"`
	Nodes       []countEntry          `json:"nodes"`
	Timings     []metrics.TimingStats `json:"timings,omitempty"`
	Caches      []metrics.CacheStats  `json:"caches,omitempty"`
	Failures    map[string]string     `json:"failures,omitempty"`
}

type countEntry struct {
	Path        string `json:"path"`
	Kind        string `json:"kind"`
	Depth       int    `json:"depth"`
	Count       *int   `json:"count"`
	Ready       bool   `json:"ready"`
	Synced      bool   `json:"synced"`
	Flagged     bool   `json:"flagged,omitempty"`
	FilterError string `json:"filter_error,omitempty"`
}

func runCounts(cmd *cobra.Command, o *rootOptions, co *countsOptions) error {
	cfg, err := o.loadConfig()
	if err != nil {
		return err
	}
	if co.depth >= 0 {
		cfg.UI.AutoExpandTo = co.depth
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), co.timeout)
	defer cancel()

	ws, err := workspace.Open(ctx, cfg, workspace.Options{RegistryPath: config.RegistryPath()})
	if err != nil {
		return err
	}
	defer ws.Close()

	var rows []ui.Row
	if err := ws.Settle(ctx, func(t *navtree.Tree) { rows = ui.Snapshot(t) }); err != nil {
		return fmt.Errorf("waiting for counts: %w", err)
	}

	out := cmd.OutOrStdout()
	if co.json {
		return writeCountsJSON(out, ws.Results(), rows, co.stats)
	}
	writeCountsText(out, rows, cfg.UI.IndentWidth, outputWidth(out))
	if co.stats {
		writeStats(cmd.ErrOrStderr())
	}
	return nil
}

func writeCountsJSON(w io.Writer, results []workspace.LoadResult, rows []ui.Row, stats bool) error {
	doc := countsOutput{
		GeneratedAt: time.Now().UTC(),
		Summary:     workspace.Summarize(results),
		Nodes:       make([]countEntry, 0, len(rows)),
	}
	for _, r := range results {
		if r.Error != nil {
			if doc.Failures == nil {
				doc.Failures = make(map[string]string)
			}
			doc.Failures[r.Name] = r.Error.Error()
		}
	}
	for _, r := range rows {
		e := countEntry{
			Path:        r.Path,
			Kind:        r.Kind,
			Depth:       r.Depth,
			Ready:       r.Ready,
			Synced:      r.Synced,
			Flagged:     r.Flagged,
			FilterError: r.FilterErr,
		}
		if r.Ready && r.Count >= 0 {
			c := r.Count
			e.Count = &c
		}
		doc.Nodes = append(doc.Nodes, e)
	}
	if stats {
		doc.Timings = metrics.AllTimingStats()
		doc.Caches = metrics.AllCacheStats()
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(doc)
}

// writeCountsText prints one line per row with the count right aligned.
func writeCountsText(w io.Writer, rows []ui.Row, indent, width int) {
	for _, r := range rows {
		left := ui.TreePrefix(r, indent) + ui.SyncGlyph(r) + " "
		count := ui.CountLabel(r)
		if r.FilterErr != "" {
			count = "error"
		}
		nameWidth := width - runewidth.StringWidth(left) - runewidth.StringWidth(count) - 1
		name := runewidth.Truncate(r.Name, max(nameWidth, 1), "…")
		gap := width - runewidth.StringWidth(left) - runewidth.StringWidth(name) - runewidth.StringWidth(count)
		fmt.Fprintf(w, "%s%s%s%s\n", left, name, strings.Repeat(" ", max(gap, 1)), count)
	}
}

func writeStats(w io.Writer) {
	fmt.Fprintln(w, "timings:")
	for _, s := range metrics.AllTimingStats() {
		if s.Count == 0 {
			continue
		}
		fmt.Fprintf(w, "  %-20s count=%-6d avg=%.2fms max=%.2fms\n", s.Name, s.Count, s.AvgMs, s.MaxMs)
	}
	fmt.Fprintln(w, "caches:")
	for _, s := range metrics.AllCacheStats() {
		fmt.Fprintf(w, "  %-20s hits=%-6d misses=%-6d rate=%.0f%%\n", s.Name, s.Hits, s.Misses, s.HitRate*100)
	}
}

// outputWidth is the terminal width when w is one, otherwise 80.
func outputWidth(w io.Writer) int {
	if f, ok := w.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		if width, _, err := term.GetSize(int(f.Fd())); err == nil && width > 20 {
			return width
		}
	}
	return 80
}
