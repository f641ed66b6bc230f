package parcore

import (
	"context"
	"log/slog"
	"os"
	"time"
)

// Logger wraps slog.Logger with parcore-specific context.
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
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.Level(1000), // Unreachable level
	})
	return &Logger{
		Logger: slog.New(handler),
	}
}

// WithDispatch adds a dispatch id field to the logger.
func (l *Logger) WithDispatch(id string) *Logger {
	return &Logger{
		Logger: l.Logger.With("dispatch", id),
	}
}

// WithBound adds a slot bound field to the logger.
func (l *Logger) WithBound(bound int) *Logger {
	return &Logger{
		Logger: l.Logger.With("bound", bound),
	}
}

// WithStrategy adds a reduction strategy field to the logger.
func (l *Logger) WithStrategy(s Strategy) *Logger {
	return &Logger{
		Logger: l.Logger.With("strategy", s.String()),
	}
}

// LogAcquire logs a slot acquire.
func (l *Logger) LogAcquire(ctx context.Context, slot Slot, used int, err error) {
	if err != nil {
		l.DebugContext(ctx, "acquire failed",
			"error", err,
		)
	} else {
		l.DebugContext(ctx, "acquire completed",
			"slot", slot.Index,
			"epoch", slot.Epoch,
			"used", used,
		)
	}
}

// LogRelease logs a slot release.
func (l *Logger) LogRelease(ctx context.Context, slot Slot, used int, err error) {
	if err != nil {
		l.WarnContext(ctx, "release failed",
			"slot", slot.Index,
			"epoch", slot.Epoch,
			"error", err,
		)
	} else {
		l.DebugContext(ctx, "release completed",
			"slot", slot.Index,
			"used", used,
		)
	}
}

// LogRecycle logs an epoch rotation.
func (l *Logger) LogRecycle(ctx context.Context, epoch uint32, err error) {
	if err != nil {
		l.ErrorContext(ctx, "recycle failed",
			"error", err,
		)
	} else {
		l.InfoContext(ctx, "slots recycled",
			"epoch", epoch,
		)
	}
}

// LogDispatch logs one kernel launch.
func (l *Logger) LogDispatch(ctx context.Context, pass, groups, groupSize int, final bool, d time.Duration, err error) {
	if err != nil {
		l.ErrorContext(ctx, "dispatch failed",
			"pass", pass,
			"groups", groups,
			"group_size", groupSize,
			"error", err,
		)
	} else {
		l.DebugContext(ctx, "dispatch completed",
			"pass", pass,
			"groups", groups,
			"group_size", groupSize,
			"final", final,
			"duration", d,
		)
	}
}

// LogReduce logs a complete reduction.
func (l *Logger) LogReduce(ctx context.Context, values, passes int, d time.Duration, err error) {
	if err != nil {
		l.ErrorContext(ctx, "reduce failed",
			"values", values,
			"passes", passes,
			"error", err,
		)
	} else {
		l.InfoContext(ctx, "reduce completed",
			"values", values,
			"passes", passes,
			"duration", d,
		)
	}
}
