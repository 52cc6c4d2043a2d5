// Package logging builds the process slog logger on top of slog-logfilter.
//
// Output format follows LOG_FORMAT (text/json), falling back to text on a
// terminal and JSON otherwise. LOG_LEVEL selects debug/info/warn/error.
// Session IDs carried in a context are added to log lines and exposed to
// filters as "session_id".
package logging

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"

	logfilter "github.com/jmylchreest/slog-logfilter"
)

// ContextKey is a type for context keys used in logging.
type ContextKey string

// SessionIDKey is the context key for the browser session ID.
const SessionIDKey ContextKey = "log_session_id"

// WithSessionID adds a session ID to the context for logging.
func WithSessionID(ctx context.Context, sessionID string) context.Context {
	return context.WithValue(ctx, SessionIDKey, sessionID)
}

// GetSessionID extracts the session ID from context.
func GetSessionID(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if s, ok := ctx.Value(SessionIDKey).(string); ok {
		return s
	}
	return ""
}

// FromContext returns logger with the context's session ID attached.
func FromContext(ctx context.Context, logger *slog.Logger) *slog.Logger {
	if ctx == nil {
		return logger
	}
	if id := GetSessionID(ctx); id != "" {
		return logger.With("session_id", id)
	}
	return logger
}

var registerOnce sync.Once

func registerContextExtractors() {
	registerOnce.Do(func() {
		logfilter.RegisterContextExtractor("session_id", func(ctx context.Context) (string, bool) {
			id := GetSessionID(ctx)
			return id, id != ""
		})
	})
}

// Options overrides the environment-derived logger settings.
type Options struct {
	Level  string    // debug/info/warn/error; empty reads LOG_LEVEL
	Format string    // text/json; empty reads LOG_FORMAT
	Output io.Writer // defaults to os.Stdout
}

// New creates a logger configured from the environment.
func New() *slog.Logger {
	return NewWithOptions(Options{})
}

// NewWithOptions creates a logger, using opts where set and the environment
// otherwise.
func NewWithOptions(opts Options) *slog.Logger {
	out := opts.Output
	if out == nil {
		out = os.Stdout
	}

	logFormat := opts.Format
	if logFormat == "" {
		logFormat = os.Getenv("LOG_FORMAT")
	}
	format := "json"
	if logFormat == "text" || (logFormat == "" && isTerminal(out)) {
		format = "text"
	}

	levelName := opts.Level
	if levelName == "" {
		levelName = os.Getenv("LOG_LEVEL")
	}

	registerContextExtractors()

	return logfilter.New(
		logfilter.WithLevel(parseLogLevel(levelName)),
		logfilter.WithFormat(format),
		logfilter.WithOutput(out),
		logfilter.WithSource(true),
	)
}

func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// SetDefault creates a new logger and sets it as the default slog logger.
func SetDefault() *slog.Logger {
	logger := New()
	slog.SetDefault(logger)
	return logger
}

// SetLevel changes the global log level at runtime.
func SetLevel(level slog.Level) {
	logfilter.SetLevel(level)
}

// GetLevel returns the current global log level.
func GetLevel() slog.Level {
	return logfilter.GetLevel()
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	stat, err := f.Stat()
	if err != nil {
		return false
	}
	return (stat.Mode() & os.ModeCharDevice) != 0
}
