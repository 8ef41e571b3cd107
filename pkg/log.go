package pkg

import (
	"context"
	"io"
	"log/slog"
	"os"
	"sync/atomic"
)

// Component identifies a subsystem for log filtering.
type Component string

// Stack component identifiers.
const (
	ComponentDevice   Component = "device"
	ComponentControl  Component = "control"
	ComponentEndpoint Component = "endpoint"
	ComponentLayout   Component = "layout"
	ComponentHAL      Component = "hal"
	ComponentClass    Component = "class"
)

var (
	// level is shared by every handler built here, so SetLogLevel takes
	// effect without rebuilding the logger.
	level slog.LevelVar

	stackLogger atomic.Pointer[slog.Logger]
)

func init() {
	level.Set(slog.LevelWarn)
	LogTo(os.Stderr, false)
}

// SetLogLevel sets the minimum level for all stack logging.
func SetLogLevel(l slog.Level) { level.Set(l) }

// GetLogLevel returns the current minimum log level.
func GetLogLevel() slog.Level { return level.Level() }

// SetLogger replaces the stack logger. Its handler decides what is
// emitted; Enabled still reports the shared level.
func SetLogger(logger *slog.Logger) { stackLogger.Store(logger) }

// LogTo sends stack logging to w as text, or as JSON lines when json is
// set, filtered by the shared level.
func LogTo(w io.Writer, json bool) {
	SetLogger(slog.New(NewHandler(w, json)))
}

// NewHandler returns a text or JSON handler on w that follows the shared
// level.
func NewHandler(w io.Writer, json bool) slog.Handler {
	opts := &slog.HandlerOptions{Level: &level}
	if json {
		return slog.NewJSONHandler(w, opts)
	}
	return slog.NewTextHandler(w, opts)
}

// Logger returns the stack logger tagged with component, for callers that
// log several records with common attributes.
func Logger(component Component) *slog.Logger {
	return stackLogger.Load().With("component", string(component))
}

// Enabled reports whether messages at l would be emitted. Per-packet
// paths check it before building attributes.
func Enabled(l slog.Level) bool {
	return level.Level() <= l
}

func logAt(l slog.Level, component Component, msg string, args []any) {
	logger := stackLogger.Load()
	if !logger.Enabled(context.Background(), l) {
		return
	}
	logger.Log(context.Background(), l, msg, append([]any{"component", string(component)}, args...)...)
}

// LogDebug logs a debug message with the given component.
func LogDebug(component Component, msg string, args ...any) {
	logAt(slog.LevelDebug, component, msg, args)
}

// LogInfo logs an info message with the given component.
func LogInfo(component Component, msg string, args ...any) {
	logAt(slog.LevelInfo, component, msg, args)
}

// LogWarn logs a warning message with the given component.
func LogWarn(component Component, msg string, args ...any) {
	logAt(slog.LevelWarn, component, msg, args)
}

// LogError logs an error message with the given component.
func LogError(component Component, msg string, args ...any) {
	logAt(slog.LevelError, component, msg, args)
}
