// Package workspace opens the configured beads connections and builds the
// navigation tree over them.
package workspace

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/vanderheijden86/beadnav/internal/datasource"
	"github.com/vanderheijden86/beadnav/pkg/config"
	"github.com/vanderheijden86/beadnav/pkg/model"
)

// LoadResult contains the result of opening a single connection
type LoadResult struct {
	// Name is the connection name
	Name string

	// BeadsDir is the directory the database was looked up in
	BeadsDir string

	// Store is the opened database, nil when opening failed
	Store *datasource.Store

	// Issues is the count of live issues at open time
	Issues int

	// Error is set if opening failed
	Error error
}

// OpenFunc opens the database of a connection.
type OpenFunc func(ctx context.Context, conn model.Connection) (*datasource.Store, error)

// openConnections opens every connection concurrently. Individual failures
// are recorded in the results; only a cancelled ctx fails the call.
func openConnections(ctx context.Context, conns []config.Connection, open OpenFunc) ([]LoadResult, error) {
	results := make([]LoadResult, len(conns))

	g, gctx := errgroup.WithContext(ctx)
	// Limit concurrency to avoid resource exhaustion (file descriptors, memory)
	g.SetLimit(32)

	for i, c := range conns {
		g.Go(func() error {
			results[i] = LoadResult{Name: c.Name, BeadsDir: c.BeadsDir}
			if err := gctx.Err(); err != nil {
				results[i].Error = err
				return nil
			}

			store, err := open(gctx, model.NewConnection(c.Name, c.BeadsDir))
			if err != nil {
				results[i].Error = fmt.Errorf("connection %s: %w", c.Name, err)
				return nil
			}
			n, err := store.CountIssues(gctx)
			if err != nil {
				store.Close()
				results[i].Error = fmt.Errorf("connection %s: %w", c.Name, err)
				return nil
			}
			results[i].Store = store
			results[i].Issues = n
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return results, err
	}
	return results, ctx.Err()
}

// LoadSummary summarizes the opened connections
type LoadSummary struct {
	TotalConnections  int      `json:"total_connections"`
	OpenedConnections int      `json:"opened_connections"`
	FailedConnections int      `json:"failed_connections"`
	TotalIssues       int      `json:"total_issues"`
	FailedNames       []string `json:"failed_names,omitempty"`
}

// Summarize returns a summary of the load results
func Summarize(results []LoadResult) LoadSummary {
	summary := LoadSummary{
		TotalConnections: len(results),
	}

	for _, result := range results {
		if result.Error != nil {
			summary.FailedConnections++
			summary.FailedNames = append(summary.FailedNames, result.Name)
		} else {
			summary.OpenedConnections++
			summary.TotalIssues += result.Issues
		}
	}

	return summary
}
