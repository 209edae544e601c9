package goHook

import (
	"context"
	"encoding/json"
	"io"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// AuditEvent describes one nonce or hook event worth recording. Token values
// are never part of an event.
type AuditEvent struct {
	ID        string            `json:"id"`
	Timestamp time.Time         `json:"timestamp"`
	EventType string            `json:"event_type"`
	Purpose   string            `json:"purpose,omitempty"`
	Channel   string            `json:"channel,omitempty"`
	Result    string            `json:"result,omitempty"`
	IP        string            `json:"ip,omitempty"`
	RequestID string            `json:"request_id,omitempty"`
	Success   bool              `json:"success"`
	Error     string            `json:"error,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// AuditSink receives audit events from the dispatcher goroutine.
type AuditSink interface {
	Emit(ctx context.Context, event AuditEvent)
}

type NoOpSink struct{}

func (NoOpSink) Emit(context.Context, AuditEvent) {}

// ChannelSink forwards events to a buffered channel.
type ChannelSink struct {
	events chan AuditEvent
}

func NewChannelSink(buffer int) *ChannelSink {
	if buffer <= 0 {
		buffer = 1
	}
	return &ChannelSink{
		events: make(chan AuditEvent, buffer),
	}
}

func (s *ChannelSink) Emit(ctx context.Context, event AuditEvent) {
	select {
	case s.events <- event:
	case <-ctx.Done():
	}
}

func (s *ChannelSink) Events() <-chan AuditEvent {
	return s.events
}

// JSONWriterSink writes one JSON object per line.
type JSONWriterSink struct {
	writer io.Writer
	mu     sync.Mutex
}

func NewJSONWriterSink(w io.Writer) *JSONWriterSink {
	return &JSONWriterSink{
		writer: w,
	}
}

func (s *JSONWriterSink) Emit(ctx context.Context, event AuditEvent) {
	if s == nil || s.writer == nil {
		return
	}
	data, err := json.Marshal(event)
	if err != nil {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, _ = s.writer.Write(data)
	_, _ = s.writer.Write([]byte("\n"))
}

// LoggerSink writes events through zerolog at info level, or warn level for
// unsuccessful events.
type LoggerSink struct {
	logger zerolog.Logger
}

func NewLoggerSink(logger zerolog.Logger) *LoggerSink {
	return &LoggerSink{logger: logger}
}

func (s *LoggerSink) Emit(_ context.Context, event AuditEvent) {
	if s == nil {
		return
	}
	ev := s.logger.Info()
	if !event.Success {
		ev = s.logger.Warn()
	}
	ev = ev.Str("audit_id", event.ID).
		Str("event_type", event.EventType).
		Time("at", event.Timestamp).
		Bool("success", event.Success)
	if event.Purpose != "" {
		ev = ev.Str("purpose", event.Purpose)
	}
	if event.Channel != "" {
		ev = ev.Str("channel", event.Channel)
	}
	if event.Result != "" {
		ev = ev.Str("result", event.Result)
	}
	if event.IP != "" {
		ev = ev.Str("ip", event.IP)
	}
	if event.RequestID != "" {
		ev = ev.Str("request_id", event.RequestID)
	}
	if event.Error != "" {
		ev = ev.Str("error", event.Error)
	}
	if len(event.Metadata) > 0 {
		ev = ev.Interface("metadata", event.Metadata)
	}
	ev.Msg("audit")
}
