// Package logging configures zerolog for the rsh binaries.
//
// The active level lives in a Handle rather than in zerolog's global level,
// so an interactive session can step verbosity up and down while running
// and tests can use independent loggers side by side.
package logging

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/term"
)

// steps is the verbosity ladder walked by Increase and Decrease, quietest
// first.
var steps = []zerolog.Level{
	zerolog.Disabled,
	zerolog.FatalLevel,
	zerolog.ErrorLevel,
	zerolog.WarnLevel,
	zerolog.InfoLevel,
	zerolog.DebugLevel,
	zerolog.TraceLevel,
}

// DefaultLevel is used when nothing else is configured.
const DefaultLevel = zerolog.InfoLevel

// ParseLevel maps a level name to a zerolog level. Besides zerolog's own
// names it accepts quiet, verbose and debug1..debug3.
func ParseLevel(s string) (zerolog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "quiet", "disabled", "off":
		return zerolog.Disabled, nil
	case "panic":
		return zerolog.PanicLevel, nil
	case "fatal":
		return zerolog.FatalLevel, nil
	case "error":
		return zerolog.ErrorLevel, nil
	case "warn", "warning":
		return zerolog.WarnLevel, nil
	case "", "info":
		return zerolog.InfoLevel, nil
	case "verbose", "debug", "debug1":
		return zerolog.DebugLevel, nil
	case "trace", "debug2", "debug3":
		return zerolog.TraceLevel, nil
	}
	return zerolog.InfoLevel, fmt.Errorf("unknown log level %q", s)
}

// LevelName is the display name of a level.
func LevelName(l zerolog.Level) string {
	if l == zerolog.Disabled {
		return "quiet"
	}
	return l.String()
}

// Handle holds the runtime log level and whether the terminal is in raw
// mode. It is safe for concurrent use.
type Handle struct {
	mu    sync.Mutex
	level zerolog.Level
	raw   bool
}

// NewHandle creates a handle at the given level.
func NewHandle(level zerolog.Level) *Handle {
	return &Handle{level: level}
}

func (h *Handle) Level() zerolog.Level {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.level
}

func (h *Handle) SetLevel(level zerolog.Level) {
	h.mu.Lock()
	h.level = level
	h.mu.Unlock()
}

// Increase moves one step towards trace and returns the new level. The
// second return value is false if the level was already at the top.
func (h *Handle) Increase() (zerolog.Level, bool) {
	return h.step(1)
}

// Decrease moves one step towards quiet.
func (h *Handle) Decrease() (zerolog.Level, bool) {
	return h.step(-1)
}

func (h *Handle) step(delta int) (zerolog.Level, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	idx := stepIndex(h.level)
	next := idx + delta
	if next < 0 || next >= len(steps) {
		return h.level, false
	}
	h.level = steps[next]
	return h.level, true
}

// stepIndex finds the ladder position of l. Panic snaps to quiet, anything
// else off the ladder to trace.
func stepIndex(l zerolog.Level) int {
	for i, s := range steps {
		if s == l {
			return i
		}
	}
	if l == zerolog.PanicLevel {
		return 0
	}
	return len(steps) - 1
}

// SetRaw records whether the controlling terminal is in raw mode.
func (h *Handle) SetRaw(raw bool) {
	h.mu.Lock()
	h.raw = raw
	h.mu.Unlock()
}

func (h *Handle) Raw() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.raw
}

// Enabled reports whether an event at level l would be written.
func (h *Handle) Enabled(l zerolog.Level) bool {
	cur := h.Level()
	return cur != zerolog.Disabled && l >= cur
}

// levelFilter drops events below the handle's level.
type levelFilter struct {
	w io.Writer
	h *Handle
}

func (f levelFilter) Write(p []byte) (int, error) {
	return f.w.Write(p)
}

func (f levelFilter) WriteLevel(l zerolog.Level, p []byte) (int, error) {
	if !f.h.Enabled(l) {
		return len(p), nil
	}
	return f.w.Write(p)
}

// rawWriter translates bare newlines to CRLF while the terminal is raw.
type rawWriter struct {
	w io.Writer
	h *Handle
}

func (r rawWriter) Write(p []byte) (int, error) {
	if !r.h.Raw() || bytes.IndexByte(p, '\n') < 0 {
		return r.w.Write(p)
	}
	if _, err := r.w.Write(ToCRLF(p)); err != nil {
		return 0, err
	}
	return len(p), nil
}

// ToCRLF rewrites every LF that is not already preceded by CR.
func ToCRLF(p []byte) []byte {
	out := make([]byte, 0, len(p)+bytes.Count(p, []byte{'\n'}))
	for i, b := range p {
		if b == '\n' && (i == 0 || p[i-1] != '\r') {
			out = append(out, '\r')
		}
		out = append(out, b)
	}
	return out
}

// Logger bundles the zerolog logger with its level handle and the optional
// log file.
type Logger struct {
	zerolog.Logger
	handle *Handle
	file   *os.File
}

// Options controls Setup.
type Options struct {
	Level zerolog.Level
	// File, when set, receives log output instead of stderr. It is opened
	// in append mode.
	File string
	// Out is the default destination, normally os.Stderr.
	Out io.Writer
}

// Setup builds a human readable console logger that respects the handle
// for both level and raw mode.
func Setup(opts Options) (*Logger, error) {
	zerolog.TimeFieldFormat = time.RFC3339

	h := NewHandle(opts.Level)
	l := &Logger{handle: h}

	out := opts.Out
	if out == nil {
		out = os.Stderr
	}
	noColor := false
	if opts.File != "" {
		f, err := os.OpenFile(opts.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
		if err != nil {
			return nil, fmt.Errorf("failed to open log file: %w", err)
		}
		l.file = f
		out = f
		noColor = true
	} else if f, ok := out.(*os.File); !ok || !isTerminal(f) {
		noColor = true
	}

	console := zerolog.ConsoleWriter{
		Out:        rawWriter{w: out, h: h},
		TimeFormat: "3:04PM",
		NoColor:    noColor,
	}
	l.Logger = zerolog.New(levelFilter{w: console, h: h}).With().Timestamp().Logger()
	return l, nil
}

// Nop returns a logger that discards everything.
func Nop() *Logger {
	return &Logger{Logger: zerolog.Nop(), handle: NewHandle(zerolog.Disabled)}
}

func (l *Logger) Handle() *Handle {
	return l.handle
}

// Close closes the log file, if any.
func (l *Logger) Close() error {
	if l.file == nil {
		return nil
	}
	return l.file.Close()
}

func isTerminal(f *os.File) bool {
	return term.IsTerminal(int(f.Fd()))
}
