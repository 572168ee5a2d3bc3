// Package log holds the process logger. Commands carry it on the context so
// attributes such as the command name follow every record.
package log

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync/atomic"
)

type Format string

const (
	FormatText Format = "text"
	FormatJSON Format = "json"
)

var (
	level   slog.LevelVar
	current atomic.Pointer[slog.Logger]
)

func init() {
	level.Set(slog.LevelInfo)
	current.Store(newLogger(os.Stderr, FormatText))
}

func newLogger(w io.Writer, f Format) *slog.Logger {
	opts := &slog.HandlerOptions{Level: &level}
	if f == FormatJSON {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// Configure replaces the default logger. Stdout is left alone for results.
func Configure(w io.Writer, f Format) error {
	switch f {
	case FormatText, FormatJSON, "":
	default:
		return fmt.Errorf("unknown log format: %q", f)
	}
	current.Store(newLogger(w, f))
	return nil
}

func Default() *slog.Logger {
	return current.Load()
}

func SetDefaultLogLevel(l slog.Level) {
	level.Set(l)
}

type contextKey struct{}

// Ctx returns the context's logger, or the default one.
func Ctx(ctx context.Context) *slog.Logger {
	if l, ok := ctx.Value(contextKey{}).(*slog.Logger); ok {
		return l
	}
	return Default()
}

func With(ctx context.Context, logger *slog.Logger) context.Context {
	return context.WithValue(ctx, contextKey{}, logger)
}

// WithAttrs returns a context whose logger adds args to every record.
func WithAttrs(ctx context.Context, args ...any) context.Context {
	return With(ctx, Ctx(ctx).With(args...))
}

// ParseLevel maps debug, info, warn and error to a slog level.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug, nil
	case "info", "":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return 0, fmt.Errorf("unknown log level: %q", s)
}
