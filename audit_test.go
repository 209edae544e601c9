package goHook

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

type countingSink struct {
	count atomic.Int64
}

func (s *countingSink) Emit(context.Context, AuditEvent) {
	s.count.Add(1)
}

type gateSink struct {
	gate chan struct{}
}

func (s *gateSink) Emit(context.Context, AuditEvent) {
	<-s.gate
}

func auditConfig(buffer int, dropIfFull bool) Config {
	cfg := DefaultConfig()
	cfg.Audit = AuditConfig{Enabled: true, BufferSize: buffer, DropIfFull: dropIfFull}
	return cfg
}

func collect(sink *ChannelSink, n int, t *testing.T) []AuditEvent {
	t.Helper()
	out := make([]AuditEvent, 0, n)
	timeout := time.After(2 * time.Second)
	for len(out) < n {
		select {
		case ev := <-sink.Events():
			out = append(out, ev)
		case <-timeout:
			t.Fatalf("expected %d events, got %d", n, len(out))
		}
	}
	return out
}

func TestAuditNonceEvents(t *testing.T) {
	sink := NewChannelSink(16)
	engine := buildTestEngine(t, New().WithConfig(auditConfig(16, false)).WithAuditSink(sink))
	ctx := WithRequestID(WithClientIP(context.Background(), "192.0.2.7"), "req-42")

	tok, err := engine.IssueNonce(ctx, "trash-post_9")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	_, _ = engine.VerifyNonce(ctx, tok.Value, "trash-post_9")
	_, _ = engine.VerifyNonce(ctx, tok.Value, "trash-post_9")

	events := collect(sink, 3, t)

	if events[0].EventType != auditEventNonceIssued || !events[0].Success {
		t.Fatalf("unexpected first event: %+v", events[0])
	}
	if events[1].EventType != auditEventNonceVerified || events[1].Result != "valid" {
		t.Fatalf("unexpected second event: %+v", events[1])
	}
	if events[2].EventType != auditEventNonceRejected || events[2].Result != "already_consumed" || events[2].Success {
		t.Fatalf("unexpected third event: %+v", events[2])
	}

	seen := map[string]bool{}
	for _, ev := range events {
		if _, err := uuid.Parse(ev.ID); err != nil {
			t.Fatalf("event id %q is not a uuid: %v", ev.ID, err)
		}
		if seen[ev.ID] {
			t.Fatalf("duplicate event id %q", ev.ID)
		}
		seen[ev.ID] = true
		if ev.IP != "192.0.2.7" || ev.RequestID != "req-42" || ev.Purpose != "trash-post_9" {
			t.Fatalf("missing request context on %+v", ev)
		}
		data, _ := json.Marshal(ev)
		if strings.Contains(string(data), tok.Value) {
			t.Fatalf("token value leaked into audit event: %s", data)
		}
	}
}

func TestAuditCallbackFailureEvent(t *testing.T) {
	sink := NewChannelSink(4)
	engine := buildTestEngine(t, New().WithConfig(auditConfig(4, false)).WithAuditSink(sink))

	_, _ = engine.Hooks().SubscribeAction("admin_init", func(context.Context, ...any) error {
		panic("nil map")
	})
	_ = engine.Do(context.Background(), "admin_init")

	ev := collect(sink, 1, t)[0]
	if ev.EventType != auditEventHookCallbackFailed || ev.Channel != "admin_init" {
		t.Fatalf("unexpected event: %+v", ev)
	}
	if ev.Error != string(auditErrCallbackPanic) {
		t.Fatalf("expected callback_panic code, got %q", ev.Error)
	}
	if ev.Metadata["priority"] != "10" {
		t.Fatalf("expected priority metadata, got %v", ev.Metadata)
	}
}

func TestAuditDropIfFull(t *testing.T) {
	sink := &gateSink{gate: make(chan struct{})}
	engine, err := New().WithConfig(auditConfig(1, true)).WithAuditSink(sink).Build()
	if err != nil {
		t.Fatalf("build: %v", err)
	}

	for i := 0; i < 20; i++ {
		_, _ = engine.VerifyNonce(context.Background(), "x", "p")
	}
	if engine.AuditDropped() == 0 {
		t.Fatal("expected drops with a blocked sink and a 1-slot buffer")
	}

	close(sink.gate)
	engine.Close()
}

func TestAuditDisabledEmitsNothing(t *testing.T) {
	sink := &countingSink{}
	engine := buildTestEngine(t, New().WithAuditSink(sink))

	tok, _ := engine.IssueNonce(context.Background(), "p")
	_, _ = engine.VerifyNonce(context.Background(), tok.Value, "p")
	engine.Close()

	if sink.count.Load() != 0 {
		t.Fatalf("expected no events, got %d", sink.count.Load())
	}
}

func TestAuditCloseFlushes(t *testing.T) {
	sink := &countingSink{}
	engine, err := New().WithConfig(auditConfig(64, false)).WithAuditSink(sink).Build()
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	for i := 0; i < 50; i++ {
		_, _ = engine.IssueNonce(context.Background(), "p")
	}
	engine.Close()

	if got := sink.count.Load(); got != 50 {
		t.Fatalf("expected 50 flushed events, got %d", got)
	}
	// emits after close are ignored
	_, _ = engine.IssueNonce(context.Background(), "p")
	if got := sink.count.Load(); got != 50 {
		t.Fatalf("expected no events after close, got %d", got)
	}
}

func TestAuditPanickingSinkDoesNotKillDispatcher(t *testing.T) {
	var calls atomic.Int64
	sink := sinkFunc(func(context.Context, AuditEvent) {
		if calls.Add(1) == 1 {
			panic("sink broke")
		}
	})
	d := newAuditDispatcher(AuditConfig{Enabled: true, BufferSize: 4}, sink)
	d.Emit(context.Background(), AuditEvent{EventType: "a"})
	d.Emit(context.Background(), AuditEvent{EventType: "b"})
	d.Close()

	if calls.Load() != 2 {
		t.Fatalf("expected both events delivered, got %d", calls.Load())
	}
	if d.Emitted() != 1 {
		t.Fatalf("expected one successful delivery, got %d", d.Emitted())
	}
}

type sinkFunc func(context.Context, AuditEvent)

func (f sinkFunc) Emit(ctx context.Context, ev AuditEvent) { f(ctx, ev) }

func TestJSONWriterSink(t *testing.T) {
	var buf bytes.Buffer
	s := NewJSONWriterSink(&buf)
	s.Emit(context.Background(), AuditEvent{ID: "1", EventType: auditEventNonceIssued, Success: true})
	s.Emit(context.Background(), AuditEvent{ID: "2", EventType: auditEventNonceRejected, Result: "expired"})

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %d", len(lines))
	}
	var ev AuditEvent
	if err := json.Unmarshal([]byte(lines[1]), &ev); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if ev.Result != "expired" || ev.Success {
		t.Fatalf("unexpected event %+v", ev)
	}
}

func TestLoggerSink(t *testing.T) {
	var buf bytes.Buffer
	s := NewLoggerSink(zerolog.New(&buf))
	s.Emit(context.Background(), AuditEvent{
		ID:        "abc",
		EventType: auditEventNonceRejected,
		Purpose:   "p",
		Result:    "wrong_purpose",
		Metadata:  map[string]string{"k": "v"},
	})

	var out map[string]any
	if err := json.Unmarshal(buf.Bytes(), &out); err != nil {
		t.Fatalf("decode log line: %v", err)
	}
	if out["level"] != "warn" || out["audit_id"] != "abc" || out["result"] != "wrong_purpose" {
		t.Fatalf("unexpected log line: %v", out)
	}
}

func TestAuditErrorCode(t *testing.T) {
	if auditErrorCode(nil) != "" {
		t.Fatal("nil error must map to empty code")
	}
	if auditErrorCode(ErrNonceRateLimited) != auditErrRateLimited {
		t.Fatal("rate limited mapping")
	}
	if auditErrorCode(errors.Join(ErrNonceUnavailable, errors.New("x"))) != auditErrUnavailable {
		t.Fatal("unavailable mapping")
	}
	if auditErrorCode(errors.New("other")) != auditErrInternal {
		t.Fatal("default mapping")
	}
}
