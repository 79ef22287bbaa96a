package atomdb

import (
	"context"
	"log/slog"
	"os"
)

// Logger wraps slog.Logger with atomdb-specific field names.
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
func NoopLogger() *Logger {
	return &Logger{
		Logger: slog.New(slog.DiscardHandler),
	}
}

// WithPath adds the database path to the logger.
func (l *Logger) WithPath(path string) *Logger {
	return &Logger{
		Logger: l.Logger.With("path", path),
	}
}

// LogPut logs a put operation.
func (l *Logger) LogPut(ctx context.Context, key []byte, size int, err error) {
	if err != nil {
		l.ErrorContext(ctx, "put failed",
			"key", string(key),
			"size", size,
			"error", err,
		)
	} else {
		l.DebugContext(ctx, "put completed",
			"key", string(key),
			"size", size,
		)
	}
}

// LogDelete logs a delete operation. A missing key is not an error worth
// more than debug output.
func (l *Logger) LogDelete(ctx context.Context, key []byte, err error) {
	if err != nil && !isNotFound(err) {
		l.ErrorContext(ctx, "delete failed",
			"key", string(key),
			"error", err,
		)
	} else {
		l.DebugContext(ctx, "delete completed",
			"key", string(key),
			"found", err == nil,
		)
	}
}

// LogGrow logs a remap of the underlying segment.
func (l *Logger) LogGrow(ctx context.Context, generation uint64, size int) {
	l.DebugContext(ctx, "segment grown",
		"generation", generation,
		"size", size,
	)
}

// LogExport logs a dump export.
func (l *Logger) LogExport(ctx context.Context, count uint64, err error) {
	if err != nil {
		l.ErrorContext(ctx, "export failed",
			"entries_written", count,
			"error", err,
		)
	} else {
		l.InfoContext(ctx, "export completed",
			"entries", count,
		)
	}
}

// LogImport logs a dump import.
func (l *Logger) LogImport(ctx context.Context, count int, err error) {
	if err != nil {
		l.ErrorContext(ctx, "import failed",
			"entries_applied", count,
			"error", err,
		)
	} else {
		l.InfoContext(ctx, "import completed",
			"entries", count,
		)
	}
}

// LogVerify logs the outcome of a consistency check.
func (l *Logger) LogVerify(ctx context.Context, keys int, err error) {
	if err != nil {
		l.ErrorContext(ctx, "verify failed",
			"keys", keys,
			"error", err,
		)
	} else {
		l.InfoContext(ctx, "verify passed",
			"keys", keys,
		)
	}
}
