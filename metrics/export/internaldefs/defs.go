package internaldefs

import (
	goHook "github.com/MrEthical07/goHook"
)

// CounterDef names one engine counter for export.
type CounterDef struct {
	ID   goHook.MetricID
	Name string
	Help string
}

// HistogramDef names one engine latency histogram for export.
type HistogramDef struct {
	ID   goHook.MetricID
	Name string
	Help string
}

// CounterDefs lists every exported counter in render order.
var CounterDefs = []CounterDef{
	{ID: goHook.MetricNonceIssued, Name: "gohook_nonce_issued_total", Help: "Issued nonce tokens."},
	{ID: goHook.MetricNonceIssueFailure, Name: "gohook_nonce_issue_failure_total", Help: "Failed nonce issue attempts."},
	{ID: goHook.MetricNonceValid, Name: "gohook_nonce_valid_total", Help: "Accepted nonce tokens."},
	{ID: goHook.MetricNonceNotFound, Name: "gohook_nonce_not_found_total", Help: "Unknown or malformed nonce tokens."},
	{ID: goHook.MetricNonceWrongPurpose, Name: "gohook_nonce_wrong_purpose_total", Help: "Nonce tokens presented for another purpose."},
	{ID: goHook.MetricNonceReplay, Name: "gohook_nonce_replay_total", Help: "Nonce tokens presented after consumption."},
	{ID: goHook.MetricNonceExpired, Name: "gohook_nonce_expired_total", Help: "Nonce tokens presented after expiry."},
	{ID: goHook.MetricNonceRateLimited, Name: "gohook_nonce_rate_limited_total", Help: "Verifications refused by the failure throttle."},
	{ID: goHook.MetricNonceBackendError, Name: "gohook_nonce_backend_error_total", Help: "Verifications that hit a store failure."},
	{ID: goHook.MetricNonceSwept, Name: "gohook_nonce_swept_total", Help: "Nonce records reclaimed by the sweeper."},
	{ID: goHook.MetricHookDispatch, Name: "gohook_hook_dispatch_total", Help: "Action channel dispatches."},
	{ID: goHook.MetricHookApply, Name: "gohook_hook_apply_total", Help: "Filter channel applications."},
	{ID: goHook.MetricHookCallbackFailure, Name: "gohook_hook_callback_failure_total", Help: "Action callbacks that returned an error."},
	{ID: goHook.MetricHookCallbackPanic, Name: "gohook_hook_callback_panic_total", Help: "Action callbacks that panicked."},
	{ID: goHook.MetricHookFilterAborted, Name: "gohook_hook_filter_aborted_total", Help: "Filter chains aborted by a failing callback."},
}

// HistogramDefs lists every exported latency histogram.
var HistogramDefs = []HistogramDef{
	{ID: goHook.MetricNonceVerifyLatency, Name: "gohook_nonce_verify_latency_seconds", Help: "Nonce verification latency."},
	{ID: goHook.MetricHookDispatchLatency, Name: "gohook_hook_dispatch_latency_seconds", Help: "Action dispatch latency."},
	{ID: goHook.MetricHookApplyLatency, Name: "gohook_hook_apply_latency_seconds", Help: "Filter application latency."},
}

// HistogramBounds are the bucket upper bounds in seconds, matching the
// engine's microsecond buckets.
var HistogramBounds = []string{
	"0.0001",
	"0.0005",
	"0.001",
	"0.005",
	"0.01",
	"0.05",
	"0.1",
	"+Inf",
}

// HistogramBoundSuffix is HistogramBounds in a form usable inside metric names.
var HistogramBoundSuffix = []string{
	"0_0001",
	"0_0005",
	"0_001",
	"0_005",
	"0_01",
	"0_05",
	"0_1",
	"inf",
}

// NormalizeBuckets copies raw into a fixed-size array, padding with zeros.
func NormalizeBuckets(raw []uint64) [8]uint64 {
	var out [8]uint64
	for i := 0; i < len(out) && i < len(raw); i++ {
		out[i] = raw[i]
	}
	return out
}

// CumulativeBuckets turns per-bucket counts into running totals.
func CumulativeBuckets(raw [8]uint64) [8]uint64 {
	var out [8]uint64
	var running uint64
	for i := 0; i < len(raw); i++ {
		running += raw[i]
		out[i] = running
	}
	return out
}
