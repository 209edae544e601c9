package prometheus

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	goHook "github.com/MrEthical07/goHook"
)

type fakeSource struct {
	snapshot goHook.MetricsSnapshot
	dropped  uint64
}

func (f fakeSource) MetricsSnapshot() goHook.MetricsSnapshot { return f.snapshot }
func (f fakeSource) AuditDropped() uint64                    { return f.dropped }

func TestRenderEmptyWhenMetricsDisabled(t *testing.T) {
	exp := NewPrometheusExporterFromSource(fakeSource{
		snapshot: goHook.MetricsSnapshot{
			Counters:   map[goHook.MetricID]uint64{},
			Histograms: map[goHook.MetricID][]uint64{},
		},
	})

	if got := exp.Render(); got != "" {
		t.Fatalf("expected empty output for disabled metrics, got:\n%s", got)
	}
}

func TestRenderDeterministicIncludesCounterAndHistogram(t *testing.T) {
	exp := NewPrometheusExporterFromSource(fakeSource{
		snapshot: goHook.MetricsSnapshot{
			Counters: map[goHook.MetricID]uint64{
				goHook.MetricNonceValid:  7,
				goHook.MetricNonceReplay: 2,
			},
			Histograms: map[goHook.MetricID][]uint64{
				goHook.MetricNonceVerifyLatency: {1, 2, 3, 4, 5, 6, 7, 8},
			},
		},
		dropped: 2,
	})

	out := exp.Render()
	for _, want := range []string{
		"gohook_nonce_valid_total 7",
		"gohook_nonce_replay_total 2",
		"gohook_hook_dispatch_total 0",
		"gohook_nonce_verify_latency_seconds_bucket{le=\"0.0001\"} 1",
		"gohook_nonce_verify_latency_seconds_bucket{le=\"+Inf\"} 36",
		"gohook_nonce_verify_latency_seconds_count 36",
		"gohook_hook_apply_latency_seconds_bucket{le=\"+Inf\"} 0",
		"gohook_audit_dropped_total 2",
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("expected %q in output, got:\n%s", want, out)
		}
	}

	if again := exp.Render(); again != out {
		t.Fatal("expected identical output for identical snapshots")
	}
}

func TestRenderFromEngine(t *testing.T) {
	engine, err := goHook.New().Build()
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	defer engine.Close()

	tok, err := engine.IssueNonce(context.Background(), "export")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if err := engine.CheckNonce(context.Background(), tok.Value, "export"); err != nil {
		t.Fatalf("check: %v", err)
	}

	out := NewPrometheusExporter(engine).Render()
	if !strings.Contains(out, "gohook_nonce_issued_total 1") || !strings.Contains(out, "gohook_nonce_valid_total 1") {
		t.Fatalf("expected engine counters in output, got:\n%s", out)
	}
}

func TestHandlerWritesPrometheusContentType(t *testing.T) {
	exp := NewPrometheusExporterFromSource(fakeSource{
		snapshot: goHook.MetricsSnapshot{
			Counters:   map[goHook.MetricID]uint64{goHook.MetricNonceIssued: 1},
			Histograms: map[goHook.MetricID][]uint64{},
		},
	})

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	exp.Handler().ServeHTTP(rec, req)

	if got := rec.Header().Get("Content-Type"); !strings.Contains(got, "text/plain") {
		t.Fatalf("expected prometheus content type, got %q", got)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func TestNilExporterRendersNothing(t *testing.T) {
	var exp *PrometheusExporter
	if got := exp.Render(); got != "" {
		t.Fatalf("expected empty output, got %q", got)
	}
}

func BenchmarkRender(b *testing.B) {
	exp := NewPrometheusExporterFromSource(fakeSource{
		snapshot: goHook.MetricsSnapshot{
			Counters: map[goHook.MetricID]uint64{
				goHook.MetricNonceIssued:         1000,
				goHook.MetricNonceValid:          900,
				goHook.MetricNonceReplay:         40,
				goHook.MetricNonceExpired:        10,
				goHook.MetricHookDispatch:        5000,
				goHook.MetricHookApply:           7000,
				goHook.MetricHookCallbackFailure: 3,
			},
			Histograms: map[goHook.MetricID][]uint64{
				goHook.MetricNonceVerifyLatency:  {10, 20, 30, 40, 50, 60, 70, 80},
				goHook.MetricHookDispatchLatency: {80, 70, 60, 50, 40, 30, 20, 10},
			},
		},
	})

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = exp.Render()
	}
}
