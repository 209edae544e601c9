package goHook

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
	"testing/iotest"
	"time"

	"github.com/MrEthical07/goHook/hooks"
	"github.com/MrEthical07/goHook/nonce"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		_ = rdb.Close()
		mr.Close()
	})
	return mr, rdb
}

func buildTestEngine(t *testing.T, b *Builder) *Engine {
	t.Helper()
	engine, err := b.Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	t.Cleanup(engine.Close)
	return engine
}

func mustResult(t *testing.T, e *Engine, value, purpose string, want nonce.Result) {
	t.Helper()
	got, err := e.VerifyNonce(context.Background(), value, purpose)
	if err != nil {
		t.Fatalf("verify %q: %v", purpose, err)
	}
	if got != want {
		t.Fatalf("verify %q: expected %s, got %s", purpose, want, got)
	}
}

func TestBuilderSingleUse(t *testing.T) {
	b := New()
	if _, err := b.Build(); err != nil {
		t.Fatalf("first build: %v", err)
	}
	if _, err := b.Build(); err == nil {
		t.Fatal("expected second build to fail")
	}
}

func TestBuilderRejectsInvalidConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Nonce.DefaultTTL = 0
	if _, err := New().WithConfig(cfg).Build(); err == nil {
		t.Fatal("expected invalid config to fail Build")
	}
}

func TestBuilderRejectsBadSigningKey(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Nonce.SigningMethod = "ed25519"
	cfg.Nonce.SigningKey = "not a key"
	cfg.Nonce.VerifyKey = "not a key either"
	if _, err := New().WithConfig(cfg).Build(); err == nil {
		t.Fatal("expected unparsable ed25519 keys to fail Build")
	}
}

func TestEngineNonceLifecycleMemory(t *testing.T) {
	engine := buildTestEngine(t, New())
	ctx := context.Background()

	tok, err := engine.IssueNonce(ctx, "delete-post_42")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if got := tok.ExpiresAt.Sub(tok.IssuedAt); got != DefaultConfig().Nonce.DefaultTTL {
		t.Fatalf("expected default ttl, got %v", got)
	}

	if err := engine.CheckNonce(ctx, tok.Value, "delete-post_42"); err != nil {
		t.Fatalf("first check: %v", err)
	}
	if err := engine.CheckNonce(ctx, tok.Value, "delete-post_42"); !errors.Is(err, ErrNonceRejected) {
		t.Fatalf("expected replay to be rejected, got %v", err)
	}
}

func TestEngineCheckNonceUniformRejection(t *testing.T) {
	clock := &testClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	engine := buildTestEngine(t, New().WithClock(clock))
	ctx := context.Background()

	expired, _ := engine.IssueNonceTTL(ctx, "p", time.Second)
	clock.advance(time.Minute)
	consumed, _ := engine.IssueNonce(ctx, "p")
	_ = engine.CheckNonce(ctx, consumed.Value, "p")
	wrong, _ := engine.IssueNonce(ctx, "p")

	cases := map[string]struct{ value, purpose string }{
		"missing":  {"", "p"},
		"unknown":  {"AAAAAAAAAAAAAAAAAAAAAA", "p"},
		"expired":  {expired.Value, "p"},
		"replayed": {consumed.Value, "p"},
		"purpose":  {wrong.Value, "q"},
	}
	for name, tc := range cases {
		err := engine.CheckNonce(ctx, tc.value, tc.purpose)
		if err != ErrNonceRejected {
			t.Fatalf("%s: expected bare ErrNonceRejected, got %v", name, err)
		}
	}
}

func TestEngineIssueEntropyFailure(t *testing.T) {
	engine := buildTestEngine(t, New().WithEntropy(iotest.ErrReader(errors.New("no entropy"))))

	_, err := engine.IssueNonce(context.Background(), "p")
	if !errors.Is(err, ErrNonceUnavailable) {
		t.Fatalf("expected ErrNonceUnavailable, got %v", err)
	}
	if got := engine.MetricsSnapshot().Counters[MetricNonceIssueFailure]; got != 1 {
		t.Fatalf("expected issue failure metric 1, got %d", got)
	}
}

func TestEngineIssueInvalidPurpose(t *testing.T) {
	engine := buildTestEngine(t, New())
	if _, err := engine.IssueNonce(context.Background(), ""); !errors.Is(err, nonce.ErrInvalidPurpose) {
		t.Fatalf("expected ErrInvalidPurpose, got %v", err)
	}
}

func TestEngineRedisStoreAndThrottle(t *testing.T) {
	mr, rdb := newTestRedis(t)
	cfg := DefaultConfig()
	cfg.Security.MaxVerifyFailures = 2
	cfg.Security.VerifyCooldown = time.Minute
	engine := buildTestEngine(t, New().WithConfig(cfg).WithRedis(rdb))

	ctx := WithClientIP(context.Background(), "203.0.113.9")

	tok, err := engine.IssueNonce(ctx, "p")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if len(mr.Keys()) != 1 {
		t.Fatalf("expected token record in redis, got keys %v", mr.Keys())
	}

	mustResultCtx(t, engine, ctx, "bogus-1", "p", nonce.NotFound)
	mustResultCtx(t, engine, ctx, "bogus-2", "p", nonce.NotFound)

	if _, err := engine.VerifyNonce(ctx, tok.Value, "p"); !errors.Is(err, ErrNonceRateLimited) {
		t.Fatalf("expected throttle after 2 failures, got %v", err)
	}
	if err := engine.CheckNonce(ctx, tok.Value, "p"); err != ErrNonceRejected {
		t.Fatalf("expected throttled CheckNonce to be a plain rejection, got %v", err)
	}

	other := WithClientIP(context.Background(), "198.51.100.1")
	mustResultCtx(t, engine, other, tok.Value, "p", nonce.Valid)

	if got := engine.MetricsSnapshot().Counters[MetricNonceRateLimited]; got != 2 {
		t.Fatalf("expected 2 rate-limited verifications, got %d", got)
	}
}

func TestEngineRedisUnavailable(t *testing.T) {
	mr, rdb := newTestRedis(t)
	engine := buildTestEngine(t, New().WithRedis(rdb))
	ctx := context.Background()

	tok, err := engine.IssueNonce(ctx, "p")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	mr.Close()

	if _, err := engine.VerifyNonce(ctx, tok.Value, "p"); !errors.Is(err, ErrNonceUnavailable) {
		t.Fatalf("expected ErrNonceUnavailable, got %v", err)
	}
	if err := engine.CheckNonce(ctx, tok.Value, "p"); !errors.Is(err, ErrNonceUnavailable) {
		t.Fatalf("expected CheckNonce to surface backend failure, got %v", err)
	}
	if _, err := engine.IssueNonce(ctx, "p"); !errors.Is(err, ErrNonceUnavailable) {
		t.Fatalf("expected issue to fail with ErrNonceUnavailable, got %v", err)
	}
}

func TestEngineSignedNonces(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Nonce.SigningMethod = "hs256"
	cfg.Nonce.SigningKey = "0123456789abcdef0123456789abcdef"
	cfg.Nonce.Issuer = "gohook-test"
	engine := buildTestEngine(t, New().WithConfig(cfg))
	ctx := context.Background()

	tok, err := engine.IssueNonce(ctx, "p")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if !bytes.Contains([]byte(tok.Value), []byte(".")) {
		t.Fatalf("expected a JWT value, got %q", tok.Value)
	}
	mustResult(t, engine, tok.Value, "p", nonce.Valid)
}

func TestEngineDoAndApply(t *testing.T) {
	engine := buildTestEngine(t, New())
	ctx := context.Background()
	reg := engine.Hooks()

	var got []string
	_, _ = reg.SubscribeAction("init", func(_ context.Context, args ...any) error {
		got = append(got, "late")
		return nil
	}, hooks.WithPriority(20))
	_, _ = reg.SubscribeAction("init", func(_ context.Context, args ...any) error {
		got = append(got, "early")
		return nil
	}, hooks.WithPriority(5))

	if err := engine.Do(ctx, "init"); err != nil {
		t.Fatalf("do: %v", err)
	}
	if len(got) != 2 || got[0] != "early" || got[1] != "late" {
		t.Fatalf("unexpected order %v", got)
	}

	_, _ = reg.SubscribeFilter("the_content", func(_ context.Context, v any, _ ...any) (any, error) {
		return v.(string) + "!", nil
	})
	out, err := engine.Apply(ctx, "the_content", "hello")
	if err != nil || out != "hello!" {
		t.Fatalf("apply: %v %v", out, err)
	}

	seed := struct{}{}
	out, err = engine.Apply(ctx, "nobody_listens", seed)
	if err != nil || out != seed {
		t.Fatalf("expected seed back, got %v %v", out, err)
	}

	if err := engine.Do(ctx, "the_content"); !errors.Is(err, hooks.ErrKindMismatch) {
		t.Fatalf("expected kind mismatch, got %v", err)
	}
}

func TestEngineCallbackFailureIsLoggedAndForwarded(t *testing.T) {
	var buf bytes.Buffer
	var mu sync.Mutex
	var forwarded []*hooks.CallbackError

	engine := buildTestEngine(t, New().
		WithLogger(zerolog.New(&buf)).
		WithErrorSink(hooks.SinkFunc(func(_ context.Context, cerr *hooks.CallbackError) {
			mu.Lock()
			forwarded = append(forwarded, cerr)
			mu.Unlock()
		})))

	ran := false
	_, _ = engine.Hooks().SubscribeAction("wp_loaded", func(context.Context, ...any) error {
		return errors.New("db gone")
	})
	_, _ = engine.Hooks().SubscribeAction("wp_loaded", func(context.Context, ...any) error {
		ran = true
		return nil
	})

	if err := engine.Do(context.Background(), "wp_loaded"); err != nil {
		t.Fatalf("do: %v", err)
	}
	if !ran {
		t.Fatal("later callback must still run")
	}
	if len(forwarded) != 1 || forwarded[0].Channel != "wp_loaded" {
		t.Fatalf("unexpected forwarded failures: %+v", forwarded)
	}
	if !bytes.Contains(buf.Bytes(), []byte(`"channel":"wp_loaded"`)) || !bytes.Contains(buf.Bytes(), []byte("db gone")) {
		t.Fatalf("expected failure in log output, got %s", buf.String())
	}
}

func TestEngineSweeper(t *testing.T) {
	clock := &testClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	store := nonce.NewMemoryStore()
	cfg := DefaultConfig()
	cfg.Nonce.SweepInterval = 5 * time.Millisecond
	engine := buildTestEngine(t, New().WithConfig(cfg).WithClock(clock).WithNonceStore(store))
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := engine.IssueNonceTTL(ctx, "p", time.Second); err != nil {
			t.Fatalf("issue: %v", err)
		}
	}
	clock.advance(time.Minute)

	engine.StartSweeper(ctx)
	engine.StartSweeper(ctx) // second call is a no-op

	deadline := time.Now().Add(2 * time.Second)
	for store.Len() != 0 {
		if time.Now().After(deadline) {
			t.Fatalf("sweeper did not reclaim records, %d left", store.Len())
		}
		time.Sleep(5 * time.Millisecond)
	}
	engine.StopSweeper()

	if got := engine.MetricsSnapshot().Counters[MetricNonceSwept]; got != 3 {
		t.Fatalf("expected 3 swept, got %d", got)
	}
}

func TestNilEngine(t *testing.T) {
	var e *Engine
	if err := e.Do(context.Background(), "x"); !errors.Is(err, ErrEngineNotReady) {
		t.Fatalf("expected ErrEngineNotReady, got %v", err)
	}
	if _, err := e.IssueNonce(context.Background(), "x"); !errors.Is(err, ErrEngineNotReady) {
		t.Fatalf("expected ErrEngineNotReady, got %v", err)
	}
	e.Close()
	if e.AuditDropped() != 0 {
		t.Fatal("nil engine must report zero drops")
	}
}

func TestContextHelpers(t *testing.T) {
	ctx := WithRequestID(WithClientIP(context.Background(), "10.1.1.1"), "req-1")
	if ClientIPFromContext(ctx) != "10.1.1.1" || RequestIDFromContext(ctx) != "req-1" {
		t.Fatal("context values not round-tripped")
	}
	if ClientIPFromContext(context.Background()) != "" {
		t.Fatal("missing ip must be empty")
	}
}

func mustResultCtx(t *testing.T, e *Engine, ctx context.Context, value, purpose string, want nonce.Result) {
	t.Helper()
	got, err := e.VerifyNonce(ctx, value, purpose)
	if err != nil {
		t.Fatalf("verify %q: %v", value, err)
	}
	if got != want {
		t.Fatalf("verify %q: expected %s, got %s", value, want, got)
	}
}
