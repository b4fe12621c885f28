package fdtable

import (
	"log/slog"
	"os"
)

// Logger wraps slog.Logger with fdtable-specific helpers.
// This provides structured logging with consistent field names.
type Logger struct {
	*slog.Logger
}

// NewLogger creates a new Logger with the given handler.
// If handler is nil, uses default text handler to stderr.
func NewLogger(handler slog.Handler) *Logger {
	if handler == nil {
		handler = slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: slog.LevelInfo,
		})
	}
	return &Logger{
		Logger: slog.New(handler),
	}
}

// NewJSONLogger creates a Logger that outputs JSON-formatted logs.
// level sets the minimum log level (e.g., slog.LevelDebug, slog.LevelInfo).
func NewJSONLogger(level slog.Level) *Logger {
	handler := slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	})
	return &Logger{
		Logger: slog.New(handler),
	}
}

// NewTextLogger creates a Logger that outputs human-readable text logs.
func NewTextLogger(level slog.Level) *Logger {
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	})
	return &Logger{
		Logger: slog.New(handler),
	}
}

// NoopLogger creates a Logger that discards all log output.
// Use this to disable logging entirely.
func NoopLogger() *Logger {
	return &Logger{
		Logger: slog.New(slog.DiscardHandler),
	}
}

// WithTable tags the logger with a table identifier.
func (l *Logger) WithTable(id uint64) *Logger {
	return &Logger{
		Logger: l.Logger.With("table", id),
	}
}

// LogGrow logs a capacity change.
func (l *Logger) LogGrow(from, to int, err error) {
	if err != nil {
		l.Warn("descriptor table growth refused",
			"from", from,
			"to", to,
			"error", err,
		)
	} else {
		l.Debug("descriptor table grown",
			"from", from,
			"to", to,
		)
	}
}

// LogExec logs an exec transition.
func (l *Logger) LogExec(released int) {
	l.Debug("exec transition completed",
		"released", released,
	)
}

// LogReclaim logs superseded tables freed after their grace period.
func (l *Logger) LogReclaim(freed, pending int) {
	l.Debug("superseded tables reclaimed",
		"freed", freed,
		"pending", pending,
	)
}

// LogDetach logs a copy-on-fork.
func (l *Logger) LogDetach(copied int, err error) {
	if err != nil {
		l.Error("descriptor table detach failed",
			"error", err,
		)
	} else {
		l.Debug("descriptor table detached",
			"copied", copied,
		)
	}
}

// LogDrop logs the teardown of a table.
func (l *Logger) LogDrop(released, reclaimed int) {
	l.Debug("descriptor table destroyed",
		"released", released,
		"reclaimed", reclaimed,
	)
}
