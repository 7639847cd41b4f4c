package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/vanderheijden86/beadnav/pkg/config"
	"github.com/vanderheijden86/beadnav/pkg/debug"
	"github.com/vanderheijden86/beadnav/pkg/eventlog"
	"github.com/vanderheijden86/beadnav/pkg/ui"
	"github.com/vanderheijden86/beadnav/pkg/workspace"
)

var errNotTerminal = errors.New("the tree browser needs a terminal; use 'beadnav counts' for plain output")

func newTreeCmd(o *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "tree",
		Short: "Browse the navigation tree (default command)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runTree(cmd, o)
		},
	}
}

func runTree(cmd *cobra.Command, o *rootOptions) error {
	if !term.IsTerminal(int(os.Stdout.Fd())) {
		return errNotTerminal
	}
	cfg, err := o.loadConfig()
	if err != nil {
		return err
	}

	restore := redirectLogs()
	defer restore()

	ws, err := workspace.Open(cmd.Context(), cfg, workspace.Options{
		RegistryPath: config.RegistryPath(),
		Watch:        true,
	})
	if err != nil {
		return err
	}
	defer func() {
		if err := ws.Close(); err != nil {
			eventlog.For("cli").Warn("workspace_close_failed", eventlog.Fields{"error": err})
		}
	}()

	m, err := ui.NewModel(ws, cfg.UI, ui.DefaultTheme(nil))
	if err != nil {
		return err
	}
	defer m.Close()

	return runTUIProgram(m)
}

// redirectLogs sends event and debug output to a log file in the state
// directory while the browser owns the terminal. The returned function
// restores stderr.
func redirectLogs() func() {
	var w io.Writer = io.Discard
	var f *os.File
	if dir := config.StateDir(); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err == nil {
			f, err = os.OpenFile(filepath.Join(dir, "beadnav.log"), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
			if err == nil {
				w = f
			}
		}
	}
	eventlog.Default().SetOutput(w)
	if debug.Enabled() {
		debug.SetOutput(w)
	}
	return func() {
		eventlog.Default().SetOutput(os.Stderr)
		if debug.Enabled() {
			debug.SetOutput(os.Stderr)
		}
		if f != nil {
			f.Close()
		}
	}
}

func runTUIProgram(m tea.Model) error {
	p := tea.NewProgram(
		m,
		tea.WithAltScreen(),
		tea.WithoutSignalHandler(),
	)

	runDone := make(chan struct{})
	defer close(runDone)

	// Graceful shutdown on SIGINT/SIGTERM.
	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		select {
		case <-runDone:
			return
		case <-sigCh:
		}

		p.Quit()

		select {
		case <-runDone:
			return
		case <-sigCh:
		case <-time.After(5 * time.Second):
		}

		p.Kill()
	}()

	// Optional auto-quit for automated tests: set BEADNAV_TUI_AUTOCLOSE_MS.
	if v := os.Getenv("BEADNAV_TUI_AUTOCLOSE_MS"); v != "" {
		if ms, err := strconv.Atoi(v); err == nil && ms > 0 {
			go func() {
				timer := time.NewTimer(time.Duration(ms) * time.Millisecond)
				defer timer.Stop()

				select {
				case <-runDone:
					return
				case <-timer.C:
				}

				p.Quit()

				select {
				case <-runDone:
					return
				case <-time.After(2 * time.Second):
				}

				p.Kill()
			}()
		}
	}

	_, err := p.Run()
	if errors.Is(err, tea.ErrProgramKilled) || errors.Is(err, tea.ErrInterrupted) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("running browser: %w", err)
	}
	return nil
}
