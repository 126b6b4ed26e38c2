package logging

import (
	"go.uber.org/zap"
)

var nopLogger Logger = &ZapLogger{z: zap.NewNop().Sugar()}

// NewDevLogger returns a zap logger that prints human friendly console output.
func NewDevLogger() Logger {
	l, _ := zap.NewDevelopment(zap.AddCallerSkip(2))
	return &ZapLogger{z: l.Sugar()}
}

// NewProdLogger returns a zap logger that outputs JSON at info level.
func NewProdLogger() Logger {
	l, _ := zap.NewProduction(zap.AddCallerSkip(2))
	return &ZapLogger{z: l.Sugar()}
}

// NewNopLogger returns a logger that discards everything.
func NewNopLogger() Logger {
	return nopLogger
}

// NewLogger picks a logger by format name: "json" for production output,
// anything else for the development console encoder.
func NewLogger(format string) Logger {
	if format == "json" {
		return NewProdLogger()
	}
	return NewDevLogger()
}

// NewZapLogger adapts an existing zap logger.
func NewZapLogger(l *zap.Logger) Logger {
	return &ZapLogger{z: l.Sugar()}
}

// ZapLogger is a logging adapter for a zap SugaredLogger.
type ZapLogger struct {
	z *zap.SugaredLogger
}

func (z *ZapLogger) Debugw(msg string, keysAndValues ...any) { z.z.Debugw(msg, keysAndValues...) }
func (z *ZapLogger) Debugf(msg string, args ...any)          { z.z.Debugf(msg, args...) }
func (z *ZapLogger) Info(args ...any)                        { z.z.Info(args...) }
func (z *ZapLogger) Infow(msg string, keysAndValues ...any)  { z.z.Infow(msg, keysAndValues...) }
func (z *ZapLogger) Infof(msg string, args ...any)           { z.z.Infof(msg, args...) }
func (z *ZapLogger) Warnw(msg string, keysAndValues ...any)  { z.z.Warnw(msg, keysAndValues...) }
func (z *ZapLogger) Warnf(msg string, args ...any)           { z.z.Warnf(msg, args...) }
func (z *ZapLogger) Error(args ...any)                       { z.z.Error(args...) }
func (z *ZapLogger) Errorw(msg string, keysAndValues ...any) { z.z.Errorw(msg, keysAndValues...) }
func (z *ZapLogger) Errorf(msg string, args ...any)          { z.z.Errorf(msg, args...) }
func (z *ZapLogger) Fatalw(msg string, keysAndValues ...any) { z.z.Fatalw(msg, keysAndValues...) }

func (z *ZapLogger) Named(name string) Logger {
	return &ZapLogger{z: z.z.Named(name)}
}

func (z *ZapLogger) With(field string, value any) Logger {
	return &ZapLogger{z: z.z.With(field, value)}
}

func (z *ZapLogger) Sync() error {
	return z.z.Sync()
}
