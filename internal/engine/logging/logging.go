// Package logging defines the structured logger contract used across the
// engine. Handlers route their output to named channels; the channel travels
// as a regular field so any structured sink can split on it.
package logging

import (
	"log/slog"

	"github.com/ThreeDotsLabs/watermill"
)

// Fields represents structured logging key/value pairs.
type Fields map[string]any

// ChannelField is the field key carrying the logger channel name.
const ChannelField = "channel"

// DefaultChannel receives log records that were not routed explicitly.
const DefaultChannel = "default"

// Logger is the minimal logging contract required by the engine.
type Logger interface {
	With(fields Fields) Logger
	Channel(name string) Logger
	Debug(msg string, fields Fields)
	Info(msg string, fields Fields)
	Warning(msg string, fields Fields)
	Error(msg string, err error, fields Fields)
	Critical(msg string, err error, fields Fields)
}

// NewSlogLogger wraps a slog.Logger so it satisfies the Logger interface.
func NewSlogLogger(log *slog.Logger) Logger {
	if log == nil {
		panic("servicebus: slog logger cannot be nil")
	}
	return &slogLogger{inner: log}
}

type slogLogger struct {
	inner *slog.Logger
}

func (l *slogLogger) With(fields Fields) Logger {
	if len(fields) == 0 {
		return l
	}
	return &slogLogger{inner: l.inner.With(toAttrs(fields)...)}
}

func (l *slogLogger) Channel(name string) Logger {
	if name == "" {
		name = DefaultChannel
	}
	return &slogLogger{inner: l.inner.With(ChannelField, name)}
}

func (l *slogLogger) Debug(msg string, fields Fields) {
	l.inner.Debug(msg, toAttrs(fields)...)
}

func (l *slogLogger) Info(msg string, fields Fields) {
	l.inner.Info(msg, toAttrs(fields)...)
}

func (l *slogLogger) Warning(msg string, fields Fields) {
	l.inner.Warn(msg, toAttrs(fields)...)
}

func (l *slogLogger) Error(msg string, err error, fields Fields) {
	l.inner.Error(msg, withErr(err, fields)...)
}

func (l *slogLogger) Critical(msg string, err error, fields Fields) {
	attrs := withErr(err, fields)
	attrs = append(attrs, "critical", true)
	l.inner.Error(msg, attrs...)
}

func toAttrs(fields Fields) []any {
	if len(fields) == 0 {
		return nil
	}
	attrs := make([]any, 0, len(fields)*2)
	for k, v := range fields {
		attrs = append(attrs, k, v)
	}
	return attrs
}

func withErr(err error, fields Fields) []any {
	attrs := toAttrs(fields)
	if err != nil {
		attrs = append(attrs, "error", err)
	}
	return attrs
}

// Nop returns a logger that discards everything. Useful in tests.
func Nop() Logger { return nopLogger{} }

type nopLogger struct{}

func (nopLogger) With(Fields) Logger             { return nopLogger{} }
func (nopLogger) Channel(string) Logger          { return nopLogger{} }
func (nopLogger) Debug(string, Fields)           {}
func (nopLogger) Info(string, Fields)            {}
func (nopLogger) Warning(string, Fields)         {}
func (nopLogger) Error(string, error, Fields)    {}
func (nopLogger) Critical(string, error, Fields) {}

type watermillAdapter struct {
	base Logger
}

// NewWatermillAdapter converts a Logger into a watermill LoggerAdapter so the
// transports share the engine's logging sink.
func NewWatermillAdapter(log Logger) watermill.LoggerAdapter {
	if log == nil {
		panic("servicebus: logger cannot be nil")
	}
	return &watermillAdapter{base: log}
}

func (a *watermillAdapter) Error(msg string, err error, fields watermill.LogFields) {
	a.base.Error(msg, err, Fields(fields))
}

func (a *watermillAdapter) Info(msg string, fields watermill.LogFields) {
	a.base.Info(msg, Fields(fields))
}

func (a *watermillAdapter) Debug(msg string, fields watermill.LogFields) {
	a.base.Debug(msg, Fields(fields))
}

func (a *watermillAdapter) Trace(msg string, fields watermill.LogFields) {
	a.base.Debug(msg, Fields(fields))
}

func (a *watermillAdapter) With(fields watermill.LogFields) watermill.LoggerAdapter {
	return &watermillAdapter{base: a.base.With(Fields(fields))}
}
