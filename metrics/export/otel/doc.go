// Package otel provides OpenTelemetry metric exporter bindings for gateway
// counters, histograms, and pool statistics.
//
// [NewOTelExporter] registers Int64ObservableCounter instruments for each
// gateway metric and Int64ObservableGauge per histogram bucket and pool
// gauge. A single callback reads [tgmux.Gateway.MetricsSnapshot] and
// [tgmux.Gateway.PoolStats] on each collection cycle.
//
// # What this package must NOT do
//
//   - Own the OTel MeterProvider; callers supply the Meter.
//   - Mutate gateway state.
package otel
