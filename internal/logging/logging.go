// Package logging provides the structured logger used throughout the
// engine. It wraps zap so call sites can stay short (Debugf/Infof/Errorf)
// while still emitting structured, leveled output.
package logging

import (
	"context"

	"go.uber.org/zap"
)

// Logger is the minimal logging surface the engine depends on.
type Logger interface {
	Debugf(msg string, args ...interface{})
	Infof(msg string, args ...interface{})
	Errorf(msg string, args ...interface{})
}

type zapLogger struct {
	s *zap.SugaredLogger
}

func (l zapLogger) Debugf(msg string, args ...interface{}) { l.s.Debugf(msg, args...) }
func (l zapLogger) Infof(msg string, args ...interface{})  { l.s.Infof(msg, args...) }
func (l zapLogger) Errorf(msg string, args ...interface{}) { l.s.Errorf(msg, args...) }

type loggerContextKey struct{}

// NewLogger wraps a *zap.Logger, tagging its output with a module name.
func NewLogger(base *zap.Logger, module string) Logger {
	return zapLogger{base.Sugar().Named(module)}
}

// WithLogger attaches a Logger to ctx for retrieval via GetLogger.
func WithLogger(ctx context.Context, l Logger) context.Context {
	return context.WithValue(ctx, loggerContextKey{}, l)
}

var nopLogger = zapLogger{zap.NewNop().Sugar()}

// GetLogger returns the Logger attached to ctx, or a no-op logger if none
// was attached.
func GetLogger(ctx context.Context) Logger {
	if l, ok := ctx.Value(loggerContextKey{}).(Logger); ok {
		return l
	}

	return nopLogger
}
