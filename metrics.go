package goHook

import (
	"sync/atomic"
	"time"
)

// MetricID identifies one engine counter or histogram.
type MetricID uint16

const (
	// MetricNonceIssued counts tokens handed out by IssueNonce.
	MetricNonceIssued MetricID = iota
	// MetricNonceIssueFailure counts IssueNonce calls that failed.
	MetricNonceIssueFailure
	// MetricNonceValid counts accepted tokens.
	MetricNonceValid
	// MetricNonceNotFound counts unknown or malformed tokens.
	MetricNonceNotFound
	// MetricNonceWrongPurpose counts tokens presented for another purpose.
	MetricNonceWrongPurpose
	// MetricNonceReplay counts tokens presented after being consumed.
	MetricNonceReplay
	// MetricNonceExpired counts tokens presented after their TTL.
	MetricNonceExpired
	// MetricNonceRateLimited counts verifications refused by the failure throttle.
	MetricNonceRateLimited
	// MetricNonceBackendError counts verifications that hit a store failure.
	MetricNonceBackendError
	// MetricNonceSwept counts records reclaimed by the sweeper.
	MetricNonceSwept
	// MetricHookDispatch counts Do calls.
	MetricHookDispatch
	// MetricHookApply counts Apply calls.
	MetricHookApply
	// MetricHookCallbackFailure counts action callbacks that returned an error.
	MetricHookCallbackFailure
	// MetricHookCallbackPanic counts action callbacks that panicked.
	MetricHookCallbackPanic
	// MetricHookFilterAborted counts Apply calls aborted by a failing filter.
	MetricHookFilterAborted
	// MetricNonceVerifyLatency is the VerifyNonce latency histogram.
	MetricNonceVerifyLatency
	// MetricHookDispatchLatency is the Do latency histogram.
	MetricHookDispatchLatency
	// MetricHookApplyLatency is the Apply latency histogram.
	MetricHookApplyLatency
	metricIDCount
)

const (
	histBucketCount = 8
	cacheLineSize   = 64
)

type metricHistogram struct {
	buckets [histBucketCount]uint64
}

type paddedCounter struct {
	value uint64
	_     [cacheLineSize - 8]byte
}

// Metrics holds lock-free engine counters and latency histograms.
//
// All methods are safe on a nil receiver.
type Metrics struct {
	enabled       bool
	enableLatency bool
	counters      [metricIDCount]paddedCounter
	histograms    [metricIDCount]metricHistogram
}

// MetricsSnapshot is a point-in-time copy of Metrics.
type MetricsSnapshot struct {
	Counters   map[MetricID]uint64
	Histograms map[MetricID][]uint64
}

// NewMetrics creates Metrics from cfg. Histograms are only recorded when
// both Enabled and EnableLatencyHistograms are set.
func NewMetrics(cfg MetricsConfig) *Metrics {
	return &Metrics{
		enabled:       cfg.Enabled,
		enableLatency: cfg.Enabled && cfg.EnableLatencyHistograms,
	}
}

func (m *Metrics) Enabled() bool {
	return m != nil && m.enabled
}

func (m *Metrics) LatencyEnabled() bool {
	return m != nil && m.enableLatency
}

// Inc adds one to the counter id.
func (m *Metrics) Inc(id MetricID) {
	m.Add(id, 1)
}

// Add adds n to the counter id.
func (m *Metrics) Add(id MetricID, n uint64) {
	if m == nil || !m.enabled || id >= metricIDCount || n == 0 {
		return
	}
	atomic.AddUint64(&m.counters[id].value, n)
}

// Observe records d in the histogram id. Non-histogram IDs are ignored.
func (m *Metrics) Observe(id MetricID, d time.Duration) {
	if m == nil || !m.enabled || !m.enableLatency || !IsLatencyMetric(id) {
		return
	}

	b := bucketIndex(d)
	atomic.AddUint64(&m.histograms[id].buckets[b], 1)
}

// Value returns the counter id.
func (m *Metrics) Value(id MetricID) uint64 {
	if m == nil || id >= metricIDCount {
		return 0
	}
	return atomic.LoadUint64(&m.counters[id].value)
}

// Snapshot copies every counter and, when enabled, every histogram.
func (m *Metrics) Snapshot() MetricsSnapshot {
	if m == nil || !m.enabled {
		return MetricsSnapshot{
			Counters:   map[MetricID]uint64{},
			Histograms: map[MetricID][]uint64{},
		}
	}

	s := MetricsSnapshot{
		Counters:   make(map[MetricID]uint64, int(metricIDCount)),
		Histograms: make(map[MetricID][]uint64, len(latencyMetrics)),
	}

	for id := MetricID(0); id < metricIDCount; id++ {
		if IsLatencyMetric(id) {
			continue
		}
		s.Counters[id] = atomic.LoadUint64(&m.counters[id].value)
	}

	if m.enableLatency {
		for _, id := range latencyMetrics {
			buckets := make([]uint64, histBucketCount)
			for i := 0; i < histBucketCount; i++ {
				buckets[i] = atomic.LoadUint64(&m.histograms[id].buckets[i])
			}
			s.Histograms[id] = buckets
		}
	}

	return s
}

var latencyMetrics = [...]MetricID{
	MetricNonceVerifyLatency,
	MetricHookDispatchLatency,
	MetricHookApplyLatency,
}

// IsLatencyMetric reports whether id names a histogram.
func IsLatencyMetric(id MetricID) bool {
	switch id {
	case MetricNonceVerifyLatency, MetricHookDispatchLatency, MetricHookApplyLatency:
		return true
	default:
		return false
	}
}

// bucket upper bounds: 100µs 500µs 1ms 5ms 10ms 50ms 100ms +Inf
func bucketIndex(d time.Duration) int {
	us := d.Microseconds()

	switch {
	case us <= 100:
		return 0
	case us <= 500:
		return 1
	case us <= 1000:
		return 2
	case us <= 5000:
		return 3
	case us <= 10000:
		return 4
	case us <= 50000:
		return 5
	case us <= 100000:
		return 6
	default:
		return 7
	}
}
