package internaldefs

import (
	tgmux "github.com/tgmux/tgmux"
	"github.com/tgmux/tgmux/pool"
)

// CounterDef binds one gateway counter to its stable exported name.
type CounterDef struct {
	ID   tgmux.MetricID
	Name string
	Help string
}

// HistogramDef binds one gateway histogram to its stable exported name.
type HistogramDef struct {
	ID   tgmux.MetricID
	Name string
	Help string
}

// PoolMetricDef binds one pool statistic to its exported name. Read pulls
// the value out of a [pool.Stats] snapshot.
type PoolMetricDef struct {
	Name string
	Help string
	Read func(s pool.Stats) uint64
}

// CounterDefs lists every gateway counter in export order.
var CounterDefs = []CounterDef{
	{ID: tgmux.MetricAuthStarted, Name: "tgmux_auth_started_total", Help: "Auth flows that requested a verification code."},
	{ID: tgmux.MetricAuthCompleted, Name: "tgmux_auth_completed_total", Help: "Fully authenticated sign-ins."},
	{ID: tgmux.MetricAuthPasswordRequired, Name: "tgmux_auth_password_required_total", Help: "Sign-ins parked on a second-factor password."},
	{ID: tgmux.MetricAuthFailed, Name: "tgmux_auth_failed_total", Help: "Rejected sign-in attempts."},
	{ID: tgmux.MetricSessionCreated, Name: "tgmux_session_created_total", Help: "Persisted active sessions."},
	{ID: tgmux.MetricSessionRevoked, Name: "tgmux_session_revoked_total", Help: "Explicit session deletions."},
	{ID: tgmux.MetricSessionRefreshed, Name: "tgmux_session_refreshed_total", Help: "Explicit session TTL extensions."},
	{ID: tgmux.MetricSessionsSwept, Name: "tgmux_sessions_swept_total", Help: "Sessions removed by the expiry sweep."},
	{ID: tgmux.MetricValidationSuccess, Name: "tgmux_validation_success_total", Help: "Sessions that passed validation."},
	{ID: tgmux.MetricValidationFailure, Name: "tgmux_validation_failure_total", Help: "Sessions rejected during validation."},
	{ID: tgmux.MetricOpExecuted, Name: "tgmux_op_executed_total", Help: "Caller operations run on a session connection."},
	{ID: tgmux.MetricOpFailure, Name: "tgmux_op_failure_total", Help: "Caller operations that returned an error."},
	{ID: tgmux.MetricAcquireTimeout, Name: "tgmux_acquire_timeout_total", Help: "Pool acquires that hit their deadline."},
	{ID: tgmux.MetricStoreError, Name: "tgmux_store_error_total", Help: "Failed round trips to the session store."},
}

// HistogramDefs lists every gateway histogram in export order.
var HistogramDefs = []HistogramDef{
	{ID: tgmux.MetricAcquireLatency, Name: "tgmux_acquire_latency_seconds", Help: "Pool acquire latency histogram."},
}

// HistogramBounds are the upper bucket bounds in seconds, matching the
// core histogram's millisecond thresholds.
var HistogramBounds = []string{
	"0.001",
	"0.005",
	"0.025",
	"0.1",
	"0.5",
	"2.5",
	"10",
	"+Inf",
}

// HistogramBoundSuffix holds instrument-name-safe forms of the bounds for
// backends that cannot carry an le label.
var HistogramBoundSuffix = []string{
	"0_001",
	"0_005",
	"0_025",
	"0_1",
	"0_5",
	"2_5",
	"10",
	"inf",
}

// PoolGaugeDefs lists the point-in-time pool gauges in export order.
var PoolGaugeDefs = []PoolMetricDef{
	{Name: "tgmux_pool_size", Help: "Live pooled connections.", Read: func(s pool.Stats) uint64 { return uint64(s.Size) }},
	{Name: "tgmux_pool_in_use", Help: "Pooled connections currently held by a caller.", Read: func(s pool.Stats) uint64 { return uint64(s.InUse) }},
	{Name: "tgmux_pool_free", Help: "Pooled connections available for acquisition.", Read: func(s pool.Stats) uint64 { return uint64(s.Free) }},
	{Name: "tgmux_pool_waiting", Help: "Acquires queued for a free connection.", Read: func(s pool.Stats) uint64 { return uint64(s.Waiting) }},
	{Name: "tgmux_pool_connecting", Help: "Dials currently in flight.", Read: func(s pool.Stats) uint64 { return uint64(s.Connecting) }},
}

// PoolCounterDefs lists the lifetime pool counters in export order.
var PoolCounterDefs = []PoolMetricDef{
	{Name: "tgmux_pool_acquires_total", Help: "Completed pool acquires.", Read: func(s pool.Stats) uint64 { return s.Acquires }},
	{Name: "tgmux_pool_releases_total", Help: "Connections returned to the pool.", Read: func(s pool.Stats) uint64 { return s.Releases }},
	{Name: "tgmux_pool_timeouts_total", Help: "Acquires that timed out while queued.", Read: func(s pool.Stats) uint64 { return s.Timeouts }},
	{Name: "tgmux_pool_created_total", Help: "Connections dialed over the pool's lifetime.", Read: func(s pool.Stats) uint64 { return s.Created }},
	{Name: "tgmux_pool_closed_total", Help: "Connections torn down over the pool's lifetime.", Read: func(s pool.Stats) uint64 { return s.Closed }},
	{Name: "tgmux_pool_connect_errors_total", Help: "Dial attempts that failed.", Read: func(s pool.Stats) uint64 { return s.ConnectErrors }},
	{Name: "tgmux_pool_rejected_total", Help: "Acquires rejected outright (pool closed or over capacity).", Read: func(s pool.Stats) uint64 { return s.Rejected }},
	{Name: "tgmux_pool_maintenance_runs_total", Help: "Completed maintenance loop iterations.", Read: func(s pool.Stats) uint64 { return s.MaintenanceRuns }},
}

// NormalizeBuckets pads or truncates a raw bucket slice to the fixed bucket
// count so exporters never index past a short snapshot.
func NormalizeBuckets(raw []uint64) [8]uint64 {
	var out [8]uint64
	for i := 0; i < len(out) && i < len(raw); i++ {
		out[i] = raw[i]
	}
	return out
}

// CumulativeBuckets converts per-bucket counts into the cumulative form
// Prometheus histograms expose.
func CumulativeBuckets(raw [8]uint64) [8]uint64 {
	var out [8]uint64
	var running uint64
	for i := 0; i < len(raw); i++ {
		running += raw[i]
		out[i] = running
	}
	return out
}
