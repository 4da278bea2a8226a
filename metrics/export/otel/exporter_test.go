package otel

import (
	"context"
	"sync"
	"testing"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	tgmux "github.com/tgmux/tgmux"
	"github.com/tgmux/tgmux/pool"
)

type fakeSource struct {
	mu       sync.RWMutex
	snapshot tgmux.MetricsSnapshot
	stats    pool.Stats
	dropped  uint64
}

func (f *fakeSource) MetricsSnapshot() tgmux.MetricsSnapshot {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := tgmux.MetricsSnapshot{
		Counters:   make(map[tgmux.MetricID]uint64, len(f.snapshot.Counters)),
		Histograms: make(map[tgmux.MetricID][]uint64, len(f.snapshot.Histograms)),
	}
	for k, v := range f.snapshot.Counters {
		out.Counters[k] = v
	}
	for k, buckets := range f.snapshot.Histograms {
		next := make([]uint64, len(buckets))
		copy(next, buckets)
		out.Histograms[k] = next
	}
	return out
}

func (f *fakeSource) PoolStats() pool.Stats {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.stats
}

func (f *fakeSource) AuditDropped() uint64 {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.dropped
}

func TestExporterRegistersAndCollects(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	meter := provider.Meter("tgmux-test")

	src := &fakeSource{
		snapshot: tgmux.MetricsSnapshot{
			Counters: map[tgmux.MetricID]uint64{
				tgmux.MetricAuthCompleted: 3,
			},
			Histograms: map[tgmux.MetricID][]uint64{
				tgmux.MetricAcquireLatency: {1, 1, 1, 1, 1, 1, 1, 1},
			},
		},
		stats:   pool.Stats{Size: 4, InUse: 2, Free: 2, Acquires: 17},
		dropped: 1,
	}

	exp, err := NewOTelExporterFromSource(meter, src)
	if err != nil {
		t.Fatalf("NewOTelExporterFromSource failed: %v", err)
	}
	defer func() {
		if err := exp.Close(); err != nil {
			t.Fatalf("Close failed: %v", err)
		}
	}()

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect failed: %v", err)
	}
	if len(rm.ScopeMetrics) == 0 {
		t.Fatal("expected collected metrics, got none")
	}
}

func TestExporterRejectsNilSource(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	meter := provider.Meter("tgmux-test")

	if _, err := NewOTelExporterFromSource(meter, nil); err == nil {
		t.Fatal("expected error for nil source")
	}
}

func TestExporterConcurrentCollectNoPanic(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	meter := provider.Meter("tgmux-test")

	src := &fakeSource{
		snapshot: tgmux.MetricsSnapshot{
			Counters: map[tgmux.MetricID]uint64{
				tgmux.MetricAuthCompleted: 1,
			},
			Histograms: map[tgmux.MetricID][]uint64{
				tgmux.MetricAcquireLatency: {1, 0, 0, 0, 0, 0, 0, 0},
			},
		},
	}

	exp, err := NewOTelExporterFromSource(meter, src)
	if err != nil {
		t.Fatalf("NewOTelExporterFromSource failed: %v", err)
	}
	defer func() {
		if err := exp.Close(); err != nil {
			t.Fatalf("Close failed: %v", err)
		}
	}()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(v uint64) {
			defer wg.Done()
			src.mu.Lock()
			src.snapshot.Counters[tgmux.MetricAuthCompleted] = v
			src.stats.Acquires = v
			src.mu.Unlock()

			var rm metricdata.ResourceMetrics
			_ = reader.Collect(context.Background(), &rm)
		}(uint64(i + 1))
	}
	wg.Wait()
}
