package main_test

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/vanderheijden86/beadnav/internal/datasource"
)

var beadnavBinaryPath string
var beadnavBinaryDir string

var (
	scriptTUISupported      = true
	scriptTUIDisabledReason string
)

func TestMain(m *testing.M) {
	// Build the binary once for all tests
	if err := buildBinaryOnce(); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to build beadnav binary: %v\n", err)
		os.Exit(1)
	}

	scriptTUISupported, scriptTUIDisabledReason = detectScriptTUICapability(beadnavBinaryPath)

	code := m.Run()
	if beadnavBinaryDir != "" {
		_ = os.RemoveAll(beadnavBinaryDir)
	}
	os.Exit(code)
}

func detectScriptTUICapability(binPath string) (bool, string) {
	if _, err := exec.LookPath("script"); err != nil {
		return false, "script command not available"
	}
	if runtime.GOOS != "linux" && runtime.GOOS != "darwin" {
		return false, "script TUI harness unsupported on this OS"
	}
	if binPath == "" {
		return false, "beadnav binary path is empty"
	}

	tempDir, err := os.MkdirTemp("", "beadnav-e2e-tui-cap-*")
	if err != nil {
		return false, fmt.Sprintf("failed to create temp dir: %v", err)
	}
	defer func() { _ = os.RemoveAll(tempDir) }()

	beadsDir := filepath.Join(tempDir, ".beads")
	if err := os.MkdirAll(beadsDir, 0o755); err != nil {
		return false, fmt.Sprintf("failed to create beads dir: %v", err)
	}
	issues := []datasource.FixtureIssue{{ID: "cap-1", Title: "Capability check", Status: "open", Priority: 1}}
	if err := datasource.WriteFixture(filepath.Join(beadsDir, datasource.DatabaseName), issues); err != nil {
		return false, fmt.Sprintf("failed to write database: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	cmd := scriptTUICommand(ctx, binPath)
	if cmd == nil {
		return false, "script command unavailable"
	}
	cmd.Dir = tempDir
	cmd.Env = isolatedEnv(tempDir, "TERM=xterm-256color", "BEADNAV_TUI_AUTOCLOSE_MS=250")

	outFile := filepath.Join(tempDir, "script.out")
	f, err := os.Create(outFile)
	if err != nil {
		return false, fmt.Sprintf("failed to create output file: %v", err)
	}
	cmd.Stdout = f
	cmd.Stderr = f

	runErr := cmd.Run()
	_ = f.Close()

	if ctx.Err() == context.DeadlineExceeded {
		return false, "beadnav did not auto-exit under script (PTY/CI mismatch)"
	}
	if runErr != nil {
		return false, fmt.Sprintf("script TUI run failed: %v", runErr)
	}

	return true, ""
}

func buildBinaryOnce() error {
	tempDir, err := os.MkdirTemp("", "beadnav-e2e-build-*")
	if err != nil {
		return err
	}
	beadnavBinaryDir = tempDir

	binName := "beadnav"
	if runtime.GOOS == "windows" {
		binName += ".exe"
	}
	binPath := filepath.Join(tempDir, binName)

	cmd := exec.Command("go", "build", "-o", binPath, "../../cmd/beadnav")
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("go build failed: %v\n%s", err, out)
	}

	beadnavBinaryPath = binPath
	return nil
}

// binary returns the path to the pre-built binary.
func binary(t *testing.T) string {
	t.Helper()
	if beadnavBinaryPath == "" {
		t.Fatal("beadnav binary not built")
	}
	return beadnavBinaryPath
}

// isolatedEnv keeps config, registry and logs of a run inside home.
func isolatedEnv(home string, extra ...string) []string {
	env := append(os.Environ(),
		"HOME="+home,
		"XDG_CONFIG_HOME="+filepath.Join(home, ".config"),
		"XDG_DATA_HOME="+filepath.Join(home, ".local", "share"),
		"XDG_STATE_HOME="+filepath.Join(home, ".local", "state"),
		"BEADS_DIR=",
		"BEADNAV_PREVIEW_DELAY_MS=1",
		"BEADNAV_REGISTRY_DELAY_MS=1",
	)
	return append(env, extra...)
}

// skipIfNoScript skips the test if the script command is unavailable.
func skipIfNoScript(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("script"); err != nil {
		t.Skip("skipping: script command not available")
	}
	if !scriptTUISupported {
		if scriptTUIDisabledReason != "" {
			t.Skipf("skipping: %s", scriptTUIDisabledReason)
		}
		t.Skip("skipping: script-based TUI harness unavailable")
	}
}

// scriptTUICommand creates an exec.Cmd that runs the binary under `script`
// to provide a pseudo-TTY for TUI tests.
func scriptTUICommand(ctx context.Context, binPath string, args ...string) *exec.Cmd {
	if _, err := exec.LookPath("script"); err != nil {
		return nil
	}

	switch runtime.GOOS {
	case "darwin":
		scriptArgs := []string{"-q", "/dev/null", binPath}
		scriptArgs = append(scriptArgs, args...)
		return exec.CommandContext(ctx, "script", scriptArgs...)

	case "linux":
		cmdStr := binPath
		for _, arg := range args {
			if strings.ContainsAny(arg, " \t") {
				cmdStr += " \"" + arg + "\""
			} else {
				cmdStr += " " + arg
			}
		}
		return exec.CommandContext(ctx, "script", "-q", "-e", "-f", "-c", cmdStr, "/dev/null")

	default:
		return nil
	}
}

// ensureCmdStdinCloses wires a controllable stdin for command execution.
func ensureCmdStdinCloses(t *testing.T, ctx context.Context, cmd *exec.Cmd, closeAfter time.Duration) {
	t.Helper()
	if cmd == nil || cmd.Stdin != nil {
		return
	}
	stdinR, stdinW := io.Pipe()
	cmd.Stdin = stdinR
	t.Cleanup(func() {
		_ = stdinW.Close()
		_ = stdinR.Close()
	})

	go func() {
		select {
		case <-ctx.Done():
			_ = stdinW.Close()
		case <-time.After(closeAfter):
			_ = stdinW.Close()
		}
	}()
}

// runCmdToFile runs a command and captures stdout+stderr to a temp file.
func runCmdToFile(t *testing.T, cmd *exec.Cmd) ([]byte, error) {
	t.Helper()
	if cmd == nil {
		return nil, fmt.Errorf("nil cmd")
	}

	outPath := filepath.Join(t.TempDir(), "cmd.out")
	f, err := os.Create(outPath)
	if err != nil {
		return nil, fmt.Errorf("create output file: %w", err)
	}
	cmd.Stdout = f
	cmd.Stderr = f

	runErr := cmd.Run()
	_ = f.Close()

	out, readErr := os.ReadFile(outPath)
	if readErr != nil {
		return nil, fmt.Errorf("read output file: %w (run err: %v)", readErr, runErr)
	}
	return out, runErr
}
