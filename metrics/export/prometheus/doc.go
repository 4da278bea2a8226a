// Package prometheus renders gateway metrics in Prometheus text exposition
// format.
//
// [NewPrometheusExporter] accepts a [tgmux.Gateway] and exposes an
// [http.Handler] that renders every gateway counter, the acquire-latency
// histogram, and the pool gauges. Counter names are prefixed tgmux_*_total;
// the single histogram is tgmux_acquire_latency_seconds.
//
// # What this package must NOT do
//
//   - Register metrics in a global Prometheus registry; callers mount the
//     Handler.
//   - Mutate gateway state.
package prometheus
