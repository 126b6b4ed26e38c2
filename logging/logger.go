// Package logging carries a structured logger through request contexts.
//
// Components never hold a logger of their own; they pull the scoped logger out
// of the context they were handed:
//
//	logging.Infow(ctx, "auth: refresh succeeded", "subject", id.ID)
//
// Middleware creates a named scope per request, and Track lets deeper layers
// attach fields that show up on the request's access log line.
package logging

import "context"

type ctxkey struct {
	logger Logger
}

// With attaches a logger to the context, creating a new logging scope.
func With(ctx context.Context, logger Logger) context.Context {
	return context.WithValue(ctx, ctxkey{}, &ctxkey{logger: logger})
}

// FromContext returns the scoped logger, or a no-op logger if none has been
// attached.
func FromContext(ctx context.Context) Logger {
	if c, ok := ctx.Value(ctxkey{}).(*ctxkey); ok {
		return c.logger
	}
	return nopLogger
}

// EnsureLogger returns a context that is guaranteed to carry a logger.
func EnsureLogger(ctx context.Context) context.Context {
	if _, ok := ctx.Value(ctxkey{}).(*ctxkey); ok {
		return ctx
	}
	return With(ctx, NewDevLogger())
}

// Track a field across the lifetime of the current scope. Tracked values are
// visible to every later log line in the scope, including the access log
// written by Middleware after the handler returns. Open a new scope with With
// before tracking inside loops.
func Track(ctx context.Context, field string, value any) {
	if c, ok := ctx.Value(ctxkey{}).(*ctxkey); ok {
		c.logger = c.logger.With(field, value)
	}
}

// Logger is modelled on zap's sugared logger.
type Logger interface {
	Debugw(msg string, keysAndValues ...any)
	Debugf(msg string, args ...any)
	Info(args ...any)
	Infow(msg string, keysAndValues ...any)
	Infof(msg string, args ...any)
	Warnw(msg string, keysAndValues ...any)
	Warnf(msg string, args ...any)
	Error(args ...any)
	Errorw(msg string, keysAndValues ...any)
	Errorf(msg string, args ...any)
	Fatalw(msg string, keysAndValues ...any)

	// Named creates a child logger with the given name.
	Named(name string) Logger

	// With creates a child logger with an extra structured field.
	With(field string, value any) Logger

	// Sync flushes buffered entries.
	Sync() error
}

func Debugw(ctx context.Context, msg string, fields ...any) {
	FromContext(ctx).Debugw(msg, fields...)
}

func Debugf(ctx context.Context, msg string, args ...any) {
	FromContext(ctx).Debugf(msg, args...)
}

func Info(ctx context.Context, msg string) {
	FromContext(ctx).Info(msg)
}

func Infow(ctx context.Context, msg string, fields ...any) {
	FromContext(ctx).Infow(msg, fields...)
}

func Infof(ctx context.Context, msg string, args ...any) {
	FromContext(ctx).Infof(msg, args...)
}

func Warnw(ctx context.Context, msg string, fields ...any) {
	FromContext(ctx).Warnw(msg, fields...)
}

func Warnf(ctx context.Context, msg string, args ...any) {
	FromContext(ctx).Warnf(msg, args...)
}

func Error(ctx context.Context, msg string) {
	FromContext(ctx).Error(msg)
}

func Errorw(ctx context.Context, msg string, fields ...any) {
	FromContext(ctx).Errorw(msg, fields...)
}

func Errorf(ctx context.Context, msg string, args ...any) {
	FromContext(ctx).Errorf(msg, args...)
}

func Fatalw(ctx context.Context, msg string, fields ...any) {
	FromContext(ctx).Fatalw(msg, fields...)
}
