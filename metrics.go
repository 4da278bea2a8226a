package tgmux

import (
	"sync/atomic"
	"time"
)

// MetricID identifies one counter (or histogram) in the in-process metrics
// block. IDs are dense and stable so exporters can iterate them.
type MetricID uint16

const (
	// MetricAuthStarted counts auth flows that requested a verification code.
	MetricAuthStarted MetricID = iota
	// MetricAuthCompleted counts fully authenticated sign-ins.
	MetricAuthCompleted
	// MetricAuthPasswordRequired counts sign-ins parked on a second factor.
	MetricAuthPasswordRequired
	// MetricAuthFailed counts rejected sign-in attempts.
	MetricAuthFailed
	// MetricSessionCreated counts persisted active sessions.
	MetricSessionCreated
	// MetricSessionRevoked counts explicit session deletions.
	MetricSessionRevoked
	// MetricSessionRefreshed counts explicit TTL extensions.
	MetricSessionRefreshed
	// MetricSessionsSwept counts sessions removed by the expiry sweep.
	MetricSessionsSwept
	// MetricValidationSuccess counts sessions that passed validation.
	MetricValidationSuccess
	// MetricValidationFailure counts sessions rejected during validation.
	MetricValidationFailure
	// MetricOpExecuted counts caller operations run on a session connection.
	MetricOpExecuted
	// MetricOpFailure counts caller operations that returned an error.
	MetricOpFailure
	// MetricAcquireTimeout counts pool acquires that hit their deadline.
	MetricAcquireTimeout
	// MetricStoreError counts failed round trips to the session store.
	MetricStoreError
	// MetricAcquireLatency is the pool acquire latency histogram.
	MetricAcquireLatency
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

// Metrics holds atomic counters and an optional acquire-latency histogram.
// A nil or disabled Metrics is inert and safe to call.
type Metrics struct {
	enabled       bool
	enableLatency bool
	counters      [metricIDCount]paddedCounter
	histograms    [metricIDCount]metricHistogram
}

// MetricsSnapshot is a point-in-time copy of every counter and histogram.
type MetricsSnapshot struct {
	Counters   map[MetricID]uint64
	Histograms map[MetricID][]uint64
}

// NewMetrics creates a metrics block. When cfg.Enabled is false every
// operation is a no-op.
func NewMetrics(cfg MetricsConfig) *Metrics {
	return &Metrics{
		enabled:       cfg.Enabled,
		enableLatency: cfg.Enabled && cfg.EnableLatencyHistograms,
	}
}

// Enabled reports whether counters are being recorded.
func (m *Metrics) Enabled() bool {
	return m != nil && m.enabled
}

// LatencyEnabled reports whether the acquire-latency histogram is recorded.
func (m *Metrics) LatencyEnabled() bool {
	return m != nil && m.enableLatency
}

// Inc adds one to the counter identified by id.
func (m *Metrics) Inc(id MetricID) {
	if m == nil || !m.enabled || id >= metricIDCount {
		return
	}
	atomic.AddUint64(&m.counters[id].value, 1)
}

// Observe records one acquire-latency sample.
func (m *Metrics) Observe(id MetricID, d time.Duration) {
	if m == nil || !m.enabled || !m.enableLatency || id >= metricIDCount {
		return
	}
	if id != MetricAcquireLatency {
		return
	}

	b := bucketIndex(d)
	atomic.AddUint64(&m.histograms[id].buckets[b], 1)
}

// Value returns the current value of one counter.
func (m *Metrics) Value(id MetricID) uint64 {
	if m == nil || id >= metricIDCount {
		return 0
	}
	return atomic.LoadUint64(&m.counters[id].value)
}

// Snapshot copies all counters and histogram buckets. Disabled metrics
// snapshot as empty maps.
func (m *Metrics) Snapshot() MetricsSnapshot {
	if m == nil || !m.enabled {
		return MetricsSnapshot{
			Counters:   map[MetricID]uint64{},
			Histograms: map[MetricID][]uint64{},
		}
	}

	s := MetricsSnapshot{
		Counters:   make(map[MetricID]uint64, int(metricIDCount)),
		Histograms: make(map[MetricID][]uint64, 1),
	}

	for id := MetricID(0); id < metricIDCount; id++ {
		s.Counters[id] = atomic.LoadUint64(&m.counters[id].value)
	}

	if m.enableLatency {
		buckets := make([]uint64, histBucketCount)
		for i := 0; i < histBucketCount; i++ {
			buckets[i] = atomic.LoadUint64(&m.histograms[MetricAcquireLatency].buckets[i])
		}
		s.Histograms[MetricAcquireLatency] = buckets
	}

	return s
}

// Acquire latency spans three regimes: free-slot hits (sub-millisecond),
// fresh dials (tens to hundreds of milliseconds), and queued waits (up to
// the configured acquire timeout). The buckets widen accordingly.
func bucketIndex(d time.Duration) int {
	ms := d.Milliseconds()

	switch {
	case ms <= 1:
		return 0
	case ms <= 5:
		return 1
	case ms <= 25:
		return 2
	case ms <= 100:
		return 3
	case ms <= 500:
		return 4
	case ms <= 2500:
		return 5
	case ms <= 10000:
		return 6
	default:
		return 7
	}
}
