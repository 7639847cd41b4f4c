// Package eventlog writes structured JSON events for the engine's
// background components.
//
// Every event is one JSON object:
//
//	{"ts":"...","level":"warn","component":"scheduler","event":"job_failed","owner":"..."}
//
// Events at or below the configured level are written through the standard
// logger. When a trace file is configured every event is appended to it
// regardless of level.
package eventlog

import (
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"sync"
	"time"

	json "github.com/goccy/go-json"
)

// Level controls log verbosity.
type Level int

const (
	LevelNone Level = iota
	LevelError
	LevelWarn
	LevelInfo
	LevelDebug
	LevelTrace
)

func (l Level) String() string {
	switch l {
	case LevelError:
		return "error"
	case LevelWarn:
		return "warn"
	case LevelInfo:
		return "info"
	case LevelDebug:
		return "debug"
	case LevelTrace:
		return "trace"
	default:
		return "none"
	}
}

// ParseLevel maps a level name or number to a Level. Unknown values yield
// LevelWarn.
func ParseLevel(raw string) Level {
	switch strings.TrimSpace(strings.ToLower(raw)) {
	case "none", "off", "0":
		return LevelNone
	case "error", "err", "1":
		return LevelError
	case "warn", "warning", "2":
		return LevelWarn
	case "info", "3":
		return LevelInfo
	case "debug", "4":
		return LevelDebug
	case "trace", "5":
		return LevelTrace
	default:
		return LevelWarn
	}
}

// Fields carries event payload.
type Fields map[string]any

// Sink receives formatted events.
type Sink struct {
	mu    sync.Mutex
	level Level
	out   *log.Logger
	trace io.WriteCloser
	now   func() time.Time
}

// Logger writes events for one component.
type Logger struct {
	sink      *Sink
	component string
}

var std = newDefaultSink()

func newDefaultSink() *Sink {
	s := &Sink{
		level: LevelWarn,
		out:   log.New(os.Stderr, "", log.LstdFlags),
		now:   time.Now,
	}
	if v, ok := os.LookupEnv("BEADNAV_LOG_LEVEL"); ok {
		s.level = ParseLevel(v)
	}
	if path := strings.TrimSpace(os.Getenv("BEADNAV_TRACE_FILE")); path != "" {
		if f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644); err == nil {
			s.trace = f
		} else {
			s.out.Printf("eventlog: cannot open trace file %s: %v", path, err)
		}
	}
	return s
}

// NewSink returns a sink writing events at or below level to w.
func NewSink(w io.Writer, level Level) *Sink {
	return &Sink{level: level, out: log.New(w, "", 0), now: time.Now}
}

// Default returns the process-wide sink configured from BEADNAV_LOG_LEVEL
// and BEADNAV_TRACE_FILE.
func Default() *Sink { return std }

// For returns a logger for component on the default sink.
func For(component string) *Logger {
	return std.For(component)
}

// For returns a logger for component.
func (s *Sink) For(component string) *Logger {
	return &Logger{sink: s, component: component}
}

// SetLevel changes the verbosity.
func (s *Sink) SetLevel(l Level) {
	s.mu.Lock()
	s.level = l
	s.mu.Unlock()
}

// Level returns the current verbosity.
func (s *Sink) Level() Level {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.level
}

// SetOutput redirects level-filtered output.
func (s *Sink) SetOutput(w io.Writer) {
	s.mu.Lock()
	s.out = log.New(w, "", log.LstdFlags)
	s.mu.Unlock()
}

// SetTraceFile appends every event to w until Close.
func (s *Sink) SetTraceFile(w io.WriteCloser) {
	s.mu.Lock()
	s.trace = w
	s.mu.Unlock()
}

// Close closes the trace file, if any.
func (s *Sink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.trace == nil {
		return nil
	}
	err := s.trace.Close()
	s.trace = nil
	if err != nil {
		return fmt.Errorf("closing trace file: %w", err)
	}
	return nil
}

func (s *Sink) write(level Level, component, event string, fields Fields) {
	if s == nil || level == LevelNone {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.trace == nil && (s.level == LevelNone || level > s.level) {
		return
	}

	payload := map[string]any{
		"ts":        s.now().UTC().Format(time.RFC3339Nano),
		"level":     level.String(),
		"component": component,
		"event":     event,
	}
	for k, v := range fields {
		if err, ok := v.(error); ok {
			v = err.Error()
		}
		payload[k] = v
	}
	b, err := json.Marshal(payload)
	if err != nil {
		s.out.Printf("eventlog: failed to marshal event %s: %v", event, err)
		return
	}
	if s.level != LevelNone && level <= s.level {
		s.out.Printf("%s", b)
	}
	if s.trace != nil {
		_, _ = s.trace.Write(append(b, '\n'))
	}
}

// Enabled reports whether events at level would be written anywhere.
func (l *Logger) Enabled(level Level) bool {
	if l == nil {
		return false
	}
	l.sink.mu.Lock()
	defer l.sink.mu.Unlock()
	return l.sink.trace != nil || (l.sink.level != LevelNone && level <= l.sink.level)
}

// Event writes an event at level.
func (l *Logger) Event(level Level, event string, fields Fields) {
	if l == nil {
		return
	}
	l.sink.write(level, l.component, event, fields)
}

func (l *Logger) Error(event string, fields Fields) { l.Event(LevelError, event, fields) }
func (l *Logger) Warn(event string, fields Fields)  { l.Event(LevelWarn, event, fields) }
func (l *Logger) Info(event string, fields Fields)  { l.Event(LevelInfo, event, fields) }
func (l *Logger) Debug(event string, fields Fields) { l.Event(LevelDebug, event, fields) }
func (l *Logger) Trace(event string, fields Fields) { l.Event(LevelTrace, event, fields) }
