package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	httppprof "net/http/pprof"
	"os"
	"path/filepath"
	"runtime/pprof"

	"github.com/spf13/cobra"

	"github.com/vanderheijden86/beadnav/internal/datasource"
	"github.com/vanderheijden86/beadnav/pkg/config"
	"github.com/vanderheijden86/beadnav/pkg/eventlog"
	"github.com/vanderheijden86/beadnav/pkg/metrics"
	"github.com/vanderheijden86/beadnav/pkg/model"
	"github.com/vanderheijden86/beadnav/pkg/navtree"
	"github.com/vanderheijden86/beadnav/pkg/version"
)

func main() {
	os.Exit(run(context.Background(), os.Args[1:], os.Stdout, os.Stderr))
}

// run executes the command line and returns the exit code.
func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	o := &rootOptions{}
	root := newRootCmd(o)
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)
	err := root.ExecuteContext(ctx)
	o.cleanup()
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}

// rootOptions holds the persistent flags and the resources they start.
type rootOptions struct {
	configPath  string
	beadsDir    string
	metricsAddr string
	cpuProfile  string
	logLevel    string

	cleanups []func()
}

func (o *rootOptions) onExit(f func()) { o.cleanups = append(o.cleanups, f) }

func (o *rootOptions) cleanup() {
	for i := len(o.cleanups) - 1; i >= 0; i-- {
		o.cleanups[i]()
	}
	o.cleanups = nil
}

func newRootCmd(o *rootOptions) *cobra.Command {
	root := &cobra.Command{
		Use:   "beadnav",
		Short: "Browse beads issue databases as a live navigation tree",
		Long: `beadnav shows one or more beads databases as a tree of folders, saved
queries and distributions (one child per status, type, label, ...), with
item counts and the synchronization state of every node.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return o.setup(cmd)
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runTree(cmd, o)
		},
	}

	pf := root.PersistentFlags()
	pf.StringVarP(&o.configPath, "config", "c", "", "Config file (default ~/.config/beadnav/config.yaml)")
	pf.StringVar(&o.beadsDir, "beads-dir", "", "Browse this .beads directory as the only connection")
	pf.StringVar(&o.metricsAddr, "metrics-addr", "", "Serve prometheus metrics and pprof on this address")
	pf.StringVar(&o.cpuProfile, "cpu-profile", "", "Write CPU profile to file")
	pf.StringVar(&o.logLevel, "log-level", "", "Event log level: none, error, warn, info, debug, trace")

	root.AddCommand(
		newTreeCmd(o),
		newCountsCmd(o),
		newSyncCmd(o),
		newVersionCmd(),
	)
	return root
}

// setup applies the persistent flags before any command runs.
func (o *rootOptions) setup(cmd *cobra.Command) error {
	if cmd.Flags().Changed("log-level") {
		eventlog.Default().SetLevel(eventlog.ParseLevel(o.logLevel))
	}

	if o.cpuProfile != "" {
		f, err := os.Create(o.cpuProfile)
		if err != nil {
			return fmt.Errorf("could not create CPU profile: %w", err)
		}
		if err := pprof.StartCPUProfile(f); err != nil {
			f.Close()
			return fmt.Errorf("could not start CPU profile: %w", err)
		}
		o.onExit(func() {
			pprof.StopCPUProfile()
			f.Close()
		})
	}

	if o.metricsAddr != "" {
		ln, err := net.Listen("tcp", o.metricsAddr)
		if err != nil {
			return fmt.Errorf("metrics listener: %w", err)
		}
		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler())
		mux.HandleFunc("/debug/pprof/", httppprof.Index)
		mux.HandleFunc("/debug/pprof/profile", httppprof.Profile)
		mux.HandleFunc("/debug/pprof/trace", httppprof.Trace)
		srv := &http.Server{Handler: mux}
		log := eventlog.For("metrics")
		go func() {
			if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error("metrics_server_failed", eventlog.Fields{"addr": o.metricsAddr, "error": err})
			}
		}()
		log.Info("metrics_server_started", eventlog.Fields{"addr": ln.Addr().String()})
		o.onExit(func() { srv.Close() })
	}
	return nil
}

// loadConfig reads the config file and applies --beads-dir. Without any
// configured connection the beads directory of the current repository is
// used.
func (o *rootOptions) loadConfig() (config.Config, error) {
	var (
		cfg config.Config
		err error
	)
	if o.configPath != "" {
		cfg, err = config.LoadFrom(o.configPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return cfg, err
	}

	if o.beadsDir != "" || len(cfg.Connections) == 0 {
		dir, err := datasource.ResolveBeadsDir(datasource.DiscoveryOptions{BeadsDir: o.beadsDir})
		if err != nil {
			return cfg, err
		}
		cfg = singleConnection(cfg, dir)
	}
	return cfg, cfg.Validate()
}

// singleConnection narrows cfg to one connection for dir, named after the
// repository holding it. A configured tree for that name is kept;
// otherwise the default tree is used.
func singleConnection(cfg config.Config, dir string) config.Config {
	name := filepath.Base(filepath.Dir(dir))
	if existing := cfg.FindConnection(name); existing != nil && existing.BeadsDir == dir {
		cfg.Connections = []config.Connection{*existing}
	} else {
		cfg.Connections = []config.Connection{{Name: name, BeadsDir: dir}}
	}

	var tree []config.TreeConfig
	for _, tc := range cfg.Tree {
		if tc.Connection == name {
			tree = append(tree, tc)
		}
	}
	if len(tree) == 0 {
		tree = []config.TreeConfig{DefaultTree(name)}
	}
	cfg.Tree = tree
	return cfg
}

// DefaultTree is the tree shown for a connection without configuration.
func DefaultTree(conn string) config.TreeConfig {
	dist := func(name string, attr model.AttrID, hideEmpty bool) config.Node {
		return config.Node{
			Distribution: name,
			Params:       &navtree.DistributionParams{Attribute: attr},
			HideEmpty:    hideEmpty,
		}
	}
	return config.TreeConfig{
		Connection: conn,
		Nodes: []config.Node{
			{Folder: "Queries", Children: []config.Node{
				{Query: "Open", Filter: "status = open"},
				{Query: "In progress", Filter: "status = in_progress"},
				{Query: "Urgent", Filter: "priority = 0 | priority = 1"},
			}},
			dist("By status", model.AttrStatus, false),
			dist("By type", model.AttrType, false),
			dist("By priority", model.AttrPriority, false),
			dist("By assignee", model.AttrAssignee, true),
			dist("By label", model.AttrLabel, true),
		},
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "beadnav %s\n", version.Version)
		},
	}
}
