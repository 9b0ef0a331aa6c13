package pkg

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync/atomic"
)

// Component identifies a subsystem for log filtering.
type Component string

// PnP stack component identifiers.
const (
	ComponentBus        Component = "bus"
	ComponentIsolate    Component = "isolate"
	ComponentDecode     Component = "decode"
	ComponentRegistry   Component = "registry"
	ComponentAutoConfig Component = "autoconfig"
	ComponentCommit     Component = "commit"
	ComponentHAL        Component = "hal"
	ComponentLedger     Component = "ledger"
)

// LogFormat selects the handler used by NewLogger.
type LogFormat int

// Log formats.
const (
	LogFormatText LogFormat = iota
	LogFormatJSON
)

// ParseLogFormat maps "text" or "json" to a LogFormat.
func ParseLogFormat(name string) (LogFormat, error) {
	switch name {
	case "text", "":
		return LogFormatText, nil
	case "json":
		return LogFormatJSON, nil
	}
	return LogFormatText, fmt.Errorf("unknown log format %q", name)
}

var (
	// level is shared by every logger built by this package, so
	// SetLogLevel applies to loggers created earlier.
	level slog.LevelVar

	current atomic.Pointer[slog.Logger]
)

func init() {
	level.Set(slog.LevelWarn)
	current.Store(NewLogger(os.Stderr, LogFormatText))
}

// SetLogLevel sets the minimum level for the stack's loggers.
func SetLogLevel(l slog.Level) { level.Set(l) }

// GetLogLevel returns the minimum level for the stack's loggers.
func GetLogLevel() slog.Level { return level.Level() }

// ParseLogLevel maps a level name ("debug", "info", "warn", "error") to a
// slog.Level. Unknown names return false.
func ParseLogLevel(name string) (slog.Level, bool) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(name)); err != nil {
		return slog.LevelWarn, false
	}
	return l, true
}

// NewLogger returns a logger writing to w in the given format at the
// stack's current level.
func NewLogger(w io.Writer, format LogFormat) *slog.Logger {
	opts := &slog.HandlerOptions{Level: &level}
	if format == LogFormatJSON {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// SetLogger replaces the stack's logger. A nil logger restores text
// output to stderr.
func SetLogger(l *slog.Logger) {
	if l == nil {
		l = NewLogger(os.Stderr, LogFormatText)
	}
	current.Store(l)
}

// SetLogFormat switches the stack's logger to format on stderr.
func SetLogFormat(format LogFormat) {
	current.Store(NewLogger(os.Stderr, format))
}

// Logger returns the stack's logger.
func Logger() *slog.Logger { return current.Load() }

func logAt(l slog.Level, component Component, msg string, args []any) {
	lg := current.Load()
	ctx := context.Background()
	if !lg.Enabled(ctx, l) {
		return
	}
	lg.Log(ctx, l, msg, append([]any{"component", string(component)}, args...)...)
}

// LogDebug logs at debug level, tagged with component.
func LogDebug(component Component, msg string, args ...any) {
	logAt(slog.LevelDebug, component, msg, args)
}

// LogInfo logs at info level, tagged with component.
func LogInfo(component Component, msg string, args ...any) {
	logAt(slog.LevelInfo, component, msg, args)
}

// LogWarn logs at warn level, tagged with component.
func LogWarn(component Component, msg string, args ...any) {
	logAt(slog.LevelWarn, component, msg, args)
}

// LogError logs at error level, tagged with component.
func LogError(component Component, msg string, args ...any) {
	logAt(slog.LevelError, component, msg, args)
}
