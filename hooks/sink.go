package hooks

import (
	"context"

	"github.com/rs/zerolog"
)

// ErrorSink receives action callback failures recovered by Dispatch.
// Implementations must be safe for concurrent use.
type ErrorSink interface {
	CallbackFailed(ctx context.Context, err *CallbackError)
}

// SinkFunc adapts a function to ErrorSink.
type SinkFunc func(ctx context.Context, err *CallbackError)

func (f SinkFunc) CallbackFailed(ctx context.Context, err *CallbackError) {
	f(ctx, err)
}

// NopSink drops failures.
type NopSink struct{}

func (NopSink) CallbackFailed(context.Context, *CallbackError) {}

// LogSink writes failures to a zerolog logger at error level.
type LogSink struct {
	logger zerolog.Logger
}

func NewLogSink(logger zerolog.Logger) *LogSink {
	return &LogSink{logger: logger}
}

func (s *LogSink) CallbackFailed(_ context.Context, err *CallbackError) {
	if s == nil || err == nil {
		return
	}
	ev := s.logger.Error().
		Str("channel", err.Channel).
		Str("kind", err.Kind.String()).
		Int("priority", err.Priority)
	if err.Panicked() {
		ev = ev.Interface("panic", err.Panic).Bytes("stack", err.Stack)
	} else {
		ev = ev.Err(err.Err)
	}
	ev.Msg("hook callback failed")
}

// MultiSink fans a failure out to several sinks in order.
type MultiSink []ErrorSink

func (m MultiSink) CallbackFailed(ctx context.Context, err *CallbackError) {
	for _, s := range m {
		if s != nil {
			s.CallbackFailed(ctx, err)
		}
	}
}
