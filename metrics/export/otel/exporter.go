package otel

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel/metric"

	tgmux "github.com/tgmux/tgmux"
	"github.com/tgmux/tgmux/metrics/export/internaldefs"
	"github.com/tgmux/tgmux/pool"
)

var (
	ErrNilMeter  = errors.New("nil meter")
	ErrNilSource = errors.New("nil metrics source")
)

type metricsSource interface {
	MetricsSnapshot() tgmux.MetricsSnapshot
	PoolStats() pool.Stats
	AuditDropped() uint64
}

type observedCounter struct {
	id         tgmux.MetricID
	instrument metric.Int64ObservableCounter
}

type observedHistogram struct {
	id      tgmux.MetricID
	buckets [8]metric.Int64ObservableGauge
	count   metric.Int64ObservableGauge
}

type observedPoolGauge struct {
	read       func(pool.Stats) uint64
	instrument metric.Int64ObservableGauge
}

type observedPoolCounter struct {
	read       func(pool.Stats) uint64
	instrument metric.Int64ObservableCounter
}

// OTelExporter bridges the gateway's in-process metrics block onto an
// OpenTelemetry meter. A single registered callback reads one snapshot per
// collection cycle.
type OTelExporter struct {
	source       metricsSource
	registration metric.Registration
	counters     []observedCounter
	histograms   []observedHistogram
	poolGauges   []observedPoolGauge
	poolCounters []observedPoolCounter
	auditDropped metric.Int64ObservableCounter
}

// NewOTelExporter registers instruments for every gateway metric on meter,
// observed from the given [tgmux.Gateway].
func NewOTelExporter(meter metric.Meter, gateway *tgmux.Gateway) (*OTelExporter, error) {
	return NewOTelExporterFromSource(meter, gateway)
}

// NewOTelExporterFromSource registers instruments observed from a custom
// metrics source.
func NewOTelExporterFromSource(meter metric.Meter, source metricsSource) (*OTelExporter, error) {
	if meter == nil {
		return nil, ErrNilMeter
	}
	if source == nil {
		return nil, ErrNilSource
	}

	exporter := &OTelExporter{
		source:       source,
		counters:     make([]observedCounter, 0, len(internaldefs.CounterDefs)),
		histograms:   make([]observedHistogram, 0, len(internaldefs.HistogramDefs)),
		poolGauges:   make([]observedPoolGauge, 0, len(internaldefs.PoolGaugeDefs)),
		poolCounters: make([]observedPoolCounter, 0, len(internaldefs.PoolCounterDefs)),
	}

	capacity := len(internaldefs.CounterDefs) +
		len(internaldefs.HistogramDefs)*9 +
		len(internaldefs.PoolGaugeDefs) +
		len(internaldefs.PoolCounterDefs) + 1
	observables := make([]metric.Observable, 0, capacity)

	for _, def := range internaldefs.CounterDefs {
		ins, err := meter.Int64ObservableCounter(def.Name, metric.WithDescription(def.Help))
		if err != nil {
			return nil, fmt.Errorf("create observable counter %s: %w", def.Name, err)
		}
		exporter.counters = append(exporter.counters, observedCounter{id: def.ID, instrument: ins})
		observables = append(observables, ins)
	}

	for _, def := range internaldefs.HistogramDefs {
		h := observedHistogram{id: def.ID}
		for i := 0; i < len(internaldefs.HistogramBoundSuffix); i++ {
			name := def.Name + "_bucket_le_" + internaldefs.HistogramBoundSuffix[i]
			ins, err := meter.Int64ObservableGauge(name, metric.WithDescription("Cumulative histogram bucket count."))
			if err != nil {
				return nil, fmt.Errorf("create histogram bucket gauge %s: %w", name, err)
			}
			h.buckets[i] = ins
			observables = append(observables, ins)
		}
		countName := def.Name + "_count"
		countIns, err := meter.Int64ObservableGauge(countName, metric.WithDescription("Histogram total sample count."))
		if err != nil {
			return nil, fmt.Errorf("create histogram count gauge %s: %w", countName, err)
		}
		h.count = countIns
		observables = append(observables, countIns)
		exporter.histograms = append(exporter.histograms, h)
	}

	for _, def := range internaldefs.PoolGaugeDefs {
		ins, err := meter.Int64ObservableGauge(def.Name, metric.WithDescription(def.Help))
		if err != nil {
			return nil, fmt.Errorf("create pool gauge %s: %w", def.Name, err)
		}
		exporter.poolGauges = append(exporter.poolGauges, observedPoolGauge{read: def.Read, instrument: ins})
		observables = append(observables, ins)
	}

	for _, def := range internaldefs.PoolCounterDefs {
		ins, err := meter.Int64ObservableCounter(def.Name, metric.WithDescription(def.Help))
		if err != nil {
			return nil, fmt.Errorf("create pool counter %s: %w", def.Name, err)
		}
		exporter.poolCounters = append(exporter.poolCounters, observedPoolCounter{read: def.Read, instrument: ins})
		observables = append(observables, ins)
	}

	auditDropped, err := meter.Int64ObservableCounter(
		"tgmux_audit_dropped_total",
		metric.WithDescription("Dropped audit events due to dispatcher backpressure."),
	)
	if err != nil {
		return nil, fmt.Errorf("create audit dropped counter: %w", err)
	}
	exporter.auditDropped = auditDropped
	observables = append(observables, auditDropped)

	registration, err := meter.RegisterCallback(func(_ context.Context, observer metric.Observer) error {
		snapshot := exporter.source.MetricsSnapshot()
		stats := exporter.source.PoolStats()
		for _, c := range exporter.counters {
			observer.ObserveInt64(c.instrument, int64(snapshot.Counters[c.id]))
		}
		for _, h := range exporter.histograms {
			nonCumulative := internaldefs.NormalizeBuckets(snapshot.Histograms[h.id])
			cumulative := internaldefs.CumulativeBuckets(nonCumulative)
			for i := 0; i < len(cumulative); i++ {
				observer.ObserveInt64(h.buckets[i], int64(cumulative[i]))
			}
			observer.ObserveInt64(h.count, int64(cumulative[len(cumulative)-1]))
		}
		for _, g := range exporter.poolGauges {
			observer.ObserveInt64(g.instrument, int64(g.read(stats)))
		}
		for _, c := range exporter.poolCounters {
			observer.ObserveInt64(c.instrument, int64(c.read(stats)))
		}
		observer.ObserveInt64(exporter.auditDropped, int64(exporter.source.AuditDropped()))
		return nil
	}, observables...)
	if err != nil {
		return nil, fmt.Errorf("register callback: %w", err)
	}

	exporter.registration = registration
	return exporter, nil
}

// Close unregisters the collection callback.
func (e *OTelExporter) Close() error {
	if e == nil || e.registration == nil {
		return nil
	}
	return e.registration.Unregister()
}
