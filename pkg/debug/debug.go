// Package debug provides conditional debug logging for beadnav.
//
// Debug logging is enabled by setting the BEADNAV_DEBUG environment variable:
//
//	BEADNAV_DEBUG=1 beadnav counts
//
// When enabled, debug messages are written to stderr with timestamps.
// When disabled (default), all debug functions are no-ops.
//
// Usage:
//
//	debug.Log("distribution %s: %d accepted values", id, n)
//	defer debug.LogEnterExit("FullUpdate")()
package debug

import (
	"fmt"
	"io"
	"log"
	"os"
	"sync/atomic"
	"time"
)

var (
	enabled atomic.Bool
	logger  atomic.Pointer[log.Logger]
)

func init() {
	if os.Getenv("BEADNAV_DEBUG") != "" {
		SetEnabled(true)
	}
}

// Enabled returns whether debug logging is enabled.
func Enabled() bool {
	return enabled.Load()
}

// SetEnabled allows programmatic control of debug logging.
func SetEnabled(e bool) {
	if e && logger.Load() == nil {
		logger.Store(newLogger(os.Stderr))
	}
	enabled.Store(e)
}

// SetOutput redirects debug output, e.g. into a test buffer or a log file
// while the terminal browser owns stderr.
func SetOutput(w io.Writer) {
	logger.Store(newLogger(w))
}

func newLogger(w io.Writer) *log.Logger {
	return log.New(w, "[BEADNAV_DEBUG] ", log.Ltime|log.Lmicroseconds)
}

// Log writes a debug message if debug logging is enabled.
// Uses printf-style formatting.
func Log(format string, args ...any) {
	if !enabled.Load() {
		return
	}
	logger.Load().Printf(format, args...)
}

// LogTiming writes a timing message if debug logging is enabled.
func LogTiming(name string, d time.Duration) {
	if !enabled.Load() {
		return
	}
	logger.Load().Printf("%s took %v", name, d)
}

// LogIf writes a debug message only if the condition is true.
func LogIf(cond bool, format string, args ...any) {
	if !cond || !enabled.Load() {
		return
	}
	logger.Load().Printf(format, args...)
}

// LogEnterExit logs function entry and exit with timing.
//
//	func myFunc() {
//	    defer debug.LogEnterExit("myFunc")()
//	}
func LogEnterExit(name string) func() {
	if !enabled.Load() {
		return func() {}
	}
	l := logger.Load()
	l.Printf("-> %s", name)
	start := time.Now()
	return func() {
		l.Printf("<- %s (%v)", name, time.Since(start))
	}
}

// Dump logs a value with its type for debugging complex structures.
func Dump(name string, v any) {
	if !enabled.Load() {
		return
	}
	logger.Load().Printf("%s: %T = %+v", name, v, v)
}

// Assert logs a message and panics if the condition is false.
// Only active when debug is enabled.
func Assert(cond bool, msg string) {
	if !enabled.Load() || cond {
		return
	}
	logger.Load().Printf("ASSERTION FAILED: %s", msg)
	panic(fmt.Sprintf("debug assertion failed: %s", msg))
}
