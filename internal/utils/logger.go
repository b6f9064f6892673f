// Package utils holds small pieces of ambient infrastructure (logging,
// retry backoff) shared across every other
// package in this module.
package utils

import (
	"context"
	"log/slog"
	"os"
)

// Logger is the logging façade every component in this module takes at
// construction time. Nothing calls slog directly.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
	DebugCtx(ctx context.Context, msg string, args ...any)
	InfoCtx(ctx context.Context, msg string, args ...any)
	WarnCtx(ctx context.Context, msg string, args ...any)
	ErrorCtx(ctx context.Context, msg string, args ...any)
}

// DefaultLogger is a slog.Logger-backed implementation of Logger.
type DefaultLogger struct {
	logger *slog.Logger
	prefix string
}

// NewDefaultLogger builds a text-handler logger writing to stderr at
// the given level, with msg lines prefixed by prefix (e.g. "[store] ").
func NewDefaultLogger(level slog.Level, prefix string) *DefaultLogger {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	}))
	return &DefaultLogger{logger: logger, prefix: prefix}
}

// log is the one place that actually touches the underlying
// slog.Logger; every level/Ctx variant below is a one-line call into
// it with a level constant, rather than eight separate bodies each
// re-doing the prefix-and-append dance.
func (d *DefaultLogger) log(ctx context.Context, level slog.Level, msg string, args ...any) {
	d.logger.Log(ctx, level, d.prefix+msg, append(args, ctxArgs(ctx)...)...)
}

func (d *DefaultLogger) Debug(msg string, args ...any) {
	d.log(context.Background(), slog.LevelDebug, msg, args...)
}
func (d *DefaultLogger) Info(msg string, args ...any) {
	d.log(context.Background(), slog.LevelInfo, msg, args...)
}
func (d *DefaultLogger) Warn(msg string, args ...any) {
	d.log(context.Background(), slog.LevelWarn, msg, args...)
}
func (d *DefaultLogger) Error(msg string, args ...any) {
	d.log(context.Background(), slog.LevelError, msg, args...)
}

type ctxArgsKey struct{}

// WithDefaultArgs attaches key/value pairs to ctx that every *Ctx log
// call downstream will append automatically (e.g. session_id, peer).
func WithDefaultArgs(ctx context.Context, args ...any) context.Context {
	existing := ctxArgs(ctx)
	merged := append(append([]any{}, existing...), args...)
	return context.WithValue(ctx, ctxArgsKey{}, merged)
}

func ctxArgs(ctx context.Context) []any {
	v := ctx.Value(ctxArgsKey{})
	if v == nil {
		return nil
	}
	return v.([]any)
}

func (d *DefaultLogger) DebugCtx(ctx context.Context, msg string, args ...any) {
	d.log(ctx, slog.LevelDebug, msg, args...)
}
func (d *DefaultLogger) InfoCtx(ctx context.Context, msg string, args ...any) {
	d.log(ctx, slog.LevelInfo, msg, args...)
}
func (d *DefaultLogger) WarnCtx(ctx context.Context, msg string, args ...any) {
	d.log(ctx, slog.LevelWarn, msg, args...)
}
func (d *DefaultLogger) ErrorCtx(ctx context.Context, msg string, args ...any) {
	d.log(ctx, slog.LevelError, msg, args...)
}

// Noop is a Logger implementation that discards everything, useful in
// tests that don't want log noise.
type Noop struct{}

func (Noop) Debug(string, ...any)                    {}
func (Noop) Info(string, ...any)                     {}
func (Noop) Warn(string, ...any)                     {}
func (Noop) Error(string, ...any)                    {}
func (Noop) DebugCtx(context.Context, string, ...any) {}
func (Noop) InfoCtx(context.Context, string, ...any)  {}
func (Noop) WarnCtx(context.Context, string, ...any)  {}
func (Noop) ErrorCtx(context.Context, string, ...any) {}
