package main

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/vanderheijden86/beadnav/pkg/config"
	"github.com/vanderheijden86/beadnav/pkg/navtree"
	"github.com/vanderheijden86/beadnav/pkg/workspace"
)

var errNodeNotFound = errors.New("node not found")

type syncOptions struct {
	off     bool
	timeout time.Duration
}

func newSyncCmd(o *rootOptions) *cobra.Command {
	so := &syncOptions{}
	cmd := &cobra.Command{
		Use:   "sync PATH",
		Short: "Flag a node as synchronized, or clear the flag with --off",
		Long: `PATH names the node from its connection down, separated by "/", for
example "work/Queries/Open" or "work/By status/open". Flagging a node also
records its region, which makes every node inside it synchronized.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSync(cmd, o, so, args[0])
		},
	}
	cmd.Flags().BoolVar(&so.off, "off", false, "Clear the sync flag")
	cmd.Flags().DurationVar(&so.timeout, "timeout", 30*time.Second, "Give up after this long")
	return cmd
}

func runSync(cmd *cobra.Command, o *rootOptions, so *syncOptions, path string) error {
	cfg, err := o.loadConfig()
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(cmd.Context(), so.timeout)
	defer cancel()

	ws, err := workspace.Open(ctx, cfg, workspace.Options{RegistryPath: config.RegistryPath()})
	if err != nil {
		return err
	}
	defer ws.Close()

	// Distribution values appear once the value models are loaded.
	if err := ws.Settle(ctx, nil); err != nil {
		return err
	}

	var (
		findErr error
		synced  bool
	)
	err = ws.Do(ctx, func(t *navtree.Tree) {
		n, err := findPath(t, path)
		if err != nil {
			findErr = err
			return
		}
		n.SetSyncFlag(!so.off, false)
		synced = n.IsSynchronized()
	})
	if err != nil {
		return err
	}
	if findErr != nil {
		return findErr
	}
	if err := ws.Settle(ctx, nil); err != nil {
		return err
	}

	state := "not synchronized"
	if synced {
		state = "synchronized"
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s: %s\n", path, state)
	return nil
}

// findPath resolves a "/" separated node path starting at a connection
// name. Names compare case-insensitively when no exact match exists.
func findPath(t *navtree.Tree, path string) (*navtree.Node, error) {
	parts := strings.Split(strings.Trim(path, "/"), "/")
	if len(parts) == 0 || parts[0] == "" {
		return nil, fmt.Errorf("%w: empty path", errNodeNotFound)
	}
	n := t.ConnectionNode(parts[0])
	if n == nil {
		return nil, fmt.Errorf("%w: no connection %q", errNodeNotFound, parts[0])
	}
	for i, name := range parts[1:] {
		next := childNamed(n, name)
		if next == nil {
			return nil, fmt.Errorf("%w: %q has no child %q", errNodeNotFound, strings.Join(parts[:i+1], "/"), name)
		}
		n = next
	}
	return n, nil
}

func childNamed(n *navtree.Node, name string) *navtree.Node {
	var fold *navtree.Node
	for _, c := range n.Children() {
		if c.Name() == name {
			return c
		}
		if fold == nil && strings.EqualFold(c.Name(), name) {
			fold = c
		}
	}
	return fold
}
