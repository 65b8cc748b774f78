// Package logging provides shared logging utilities for courier.
package logging

import (
	"context"
	"io"
	"log/slog"
	"strings"

	"github.com/gezibash/courier/internal/observability"
)

// Logger wraps slog.Logger with courier-specific helpers.
type Logger struct {
	base  *slog.Logger
	attrs []slog.Attr
}

// SetupWriter initializes logging with the given level, format, and writer,
// and makes it the slog default. Valid levels: debug, info, warn, error.
// Valid formats: json, text.
// Text output uses the colored pretty handler; both formats carry trace ids.
func SetupWriter(level, format string, w io.Writer) *Logger {
	base := observability.SetupLogger(strings.ToLower(level), strings.ToLower(format), w)
	return &Logger{base: base}
}

// New creates a new Logger wrapping the given slog.Logger.
// If base is nil, uses slog.Default().
func New(base *slog.Logger) *Logger {
	if base == nil {
		base = slog.Default()
	}
	return &Logger{base: base}
}

// Discard returns a Logger that drops everything.
func Discard() *Logger {
	return &Logger{base: slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError + 1}))}
}

// With returns a new Logger with the given attributes.
func (l *Logger) With(attrs ...slog.Attr) *Logger {
	newAttrs := make([]slog.Attr, len(l.attrs), len(l.attrs)+len(attrs))
	copy(newAttrs, l.attrs)
	newAttrs = append(newAttrs, attrs...)
	return &Logger{base: l.base, attrs: newAttrs}
}

// WithCorrelation adds a correlation ID attribute.
func (l *Logger) WithCorrelation(id string) *Logger {
	return l.With(slog.String("correlation", id))
}

// WithRequest adds a request ID attribute.
func (l *Logger) WithRequest(id string) *Logger {
	return l.With(slog.String("request", id))
}

// WithComponent adds a component name attribute.
func (l *Logger) WithComponent(name string) *Logger {
	return l.With(slog.String("component", name))
}

// WithError adds an error attribute.
func (l *Logger) WithError(err error) *Logger {
	return l.With(slog.String("error", err.Error()))
}

// Debug logs at debug level.
func (l *Logger) Debug(msg string, args ...any) {
	l.log(context.Background(), slog.LevelDebug, msg, args...)
}

// Info logs at info level.
func (l *Logger) Info(msg string, args ...any) {
	l.log(context.Background(), slog.LevelInfo, msg, args...)
}

// Warn logs at warn level.
func (l *Logger) Warn(msg string, args ...any) {
	l.log(context.Background(), slog.LevelWarn, msg, args...)
}

// Error logs at error level.
func (l *Logger) Error(msg string, args ...any) {
	l.log(context.Background(), slog.LevelError, msg, args...)
}

// DebugContext logs at debug level with context.
func (l *Logger) DebugContext(ctx context.Context, msg string, args ...any) {
	l.log(ctx, slog.LevelDebug, msg, args...)
}

// InfoContext logs at info level with context.
func (l *Logger) InfoContext(ctx context.Context, msg string, args ...any) {
	l.log(ctx, slog.LevelInfo, msg, args...)
}

// WarnContext logs at warn level with context.
func (l *Logger) WarnContext(ctx context.Context, msg string, args ...any) {
	l.log(ctx, slog.LevelWarn, msg, args...)
}

func (l *Logger) log(ctx context.Context, level slog.Level, msg string, args ...any) {
	if !l.base.Enabled(ctx, level) {
		return
	}
	allArgs := make([]any, 0, len(l.attrs)*2+len(args))
	for _, attr := range l.attrs {
		allArgs = append(allArgs, attr.Key, attr.Value.Any())
	}
	allArgs = append(allArgs, args...)
	l.base.Log(ctx, level, msg, allArgs...)
}

// FormatID shortens long identifiers (UUIDs, JIDs with resources) for log lines.
func FormatID(id string) string {
	if len(id) <= 16 {
		return id
	}
	return id[:16] + "..."
}
