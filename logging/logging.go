// Package logging provides context-carried, per-module structured loggers.
// Collaborators pull their logger via GetContextLoggerFunc instead of
// taking one as a constructor dependency, so a single root context can
// wire diagnostics for an entire call tree.
package logging

import (
	"context"

	"go.uber.org/zap"
)

// Logger is the minimal structured-logging capability collaborators need.
// *zap.SugaredLogger satisfies it.
type Logger interface {
	Debugf(template string, args ...interface{})
	Infof(template string, args ...interface{})
	Warnf(template string, args ...interface{})
	Errorf(template string, args ...interface{})
}

// Factory returns the Logger to use for the named module.
type Factory func(module string) Logger

type contextKeyType struct{}

var contextKey contextKeyType

// NullLogger discards everything.
var NullLogger Logger = nullLogger{}

type nullLogger struct{}

func (nullLogger) Debugf(string, ...interface{}) {}
func (nullLogger) Infof(string, ...interface{})  {}
func (nullLogger) Warnf(string, ...interface{})  {}
func (nullLogger) Errorf(string, ...interface{}) {}

// WithLogger attaches a logger factory to ctx.
func WithLogger(ctx context.Context, factory Factory) context.Context {
	return context.WithValue(ctx, contextKey, factory)
}

// GetContextLoggerFunc returns a function that extracts the module logger
// from a context, falling back to NullLogger when none was attached.
func GetContextLoggerFunc(module string) func(ctx context.Context) Logger {
	return func(ctx context.Context) Logger {
		factory, ok := ctx.Value(contextKey).(Factory)
		if !ok || factory == nil {
			return NullLogger
		}

		if l := factory(module); l != nil {
			return l
		}

		return NullLogger
	}
}

// NewZapFactory returns a Factory backed by a single *zap.Logger, naming
// each module's sugared child logger after it.
func NewZapFactory(base *zap.Logger) Factory {
	return func(module string) Logger {
		return base.Sugar().Named(module)
	}
}
