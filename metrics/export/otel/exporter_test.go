package otel

import (
	"context"
	"errors"
	"sync"
	"testing"

	goRegistry "github.com/MrEthical07/goRegistry"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

type fakeSource struct {
	mu        sync.RWMutex
	snapshot  goRegistry.MetricsSnapshot
	health    goRegistry.Health
	stats     goRegistry.Stats
	statsErr  error
	dropped   map[string]uint64
	delivered map[string]uint64
}

func (f *fakeSource) MetricsSnapshot() goRegistry.MetricsSnapshot {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := goRegistry.MetricsSnapshot{
		Counters:   make(map[goRegistry.MetricID]uint64, len(f.snapshot.Counters)),
		Histograms: make(map[goRegistry.MetricID][]uint64, len(f.snapshot.Histograms)),
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

func (f *fakeSource) Health() goRegistry.Health {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.health
}

func (f *fakeSource) Stats(context.Context) (goRegistry.Stats, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.stats, f.statsErr
}

func (f *fakeSource) AuditDroppedByType() map[string]uint64 {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return copyCounts(f.dropped)
}

func (f *fakeSource) AuditDeliveredByType() map[string]uint64 {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return copyCounts(f.delivered)
}

func copyCounts(in map[string]uint64) map[string]uint64 {
	out := make(map[string]uint64, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func newReader(t *testing.T, src *fakeSource) *sdkmetric.ManualReader {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	meter := provider.Meter("goregistry-test")

	exp, err := NewOTelExporterFromSource(meter, src)
	if err != nil {
		t.Fatalf("NewOTelExporterFromSource failed: %v", err)
	}
	t.Cleanup(func() {
		if err := exp.Close(); err != nil {
			t.Fatalf("Close failed: %v", err)
		}
	})
	return reader
}

func collect(t *testing.T, reader *sdkmetric.ManualReader) metricdata.ResourceMetrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect failed: %v", err)
	}
	return rm
}

func TestExporterRegistersAndCollects(t *testing.T) {
	src := &fakeSource{
		snapshot: goRegistry.MetricsSnapshot{
			Counters: map[goRegistry.MetricID]uint64{
				goRegistry.MetricTicketAdded: 3,
			},
			Histograms: map[goRegistry.MetricID][]uint64{
				goRegistry.MetricStoreLatency: {1, 1, 1, 1, 1, 1, 1, 1},
			},
		},
		dropped: map[string]uint64{goRegistry.AuditServiceSaved: 1},
	}

	rm := collect(t, newReader(t, src))
	if len(rm.ScopeMetrics) == 0 {
		t.Fatal("expected collected metrics, got none")
	}
	if got, ok := sumValue(rm, "goregistry_ticket_added_total", ""); !ok || got != 3 {
		t.Fatalf("expected ticket_added 3, got %d (found=%v)", got, ok)
	}
	if got, ok := sumValue(rm, "goregistry_audit_dropped_total", goRegistry.AuditServiceSaved); !ok || got != 1 {
		t.Fatalf("expected audit_dropped 1 for service_saved, got %d (found=%v)", got, ok)
	}
}

func TestExporterObservesRegistryState(t *testing.T) {
	src := &fakeSource{
		snapshot: goRegistry.MetricsSnapshot{},
		health: goRegistry.Health{
			State:  "connected",
			Ready:  true,
			Seeded: 2,
			Static: 2,
		},
		stats:     goRegistry.Stats{Sessions: 5, ServiceTickets: 7},
		delivered: map[string]uint64{goRegistry.AuditTicketGrantingCreated: 5},
	}

	rm := collect(t, newReader(t, src))

	if got, ok := gaugeValue(rm, "goregistry_connection_state", "state", "connected"); !ok || got != 1 {
		t.Fatalf("expected connected state 1, got %d (found=%v)", got, ok)
	}
	if got, ok := gaugeValue(rm, "goregistry_connection_state", "state", "connecting"); !ok || got != 0 {
		t.Fatalf("expected connecting state 0, got %d (found=%v)", got, ok)
	}
	for name, want := range map[string]int64{
		"goregistry_ready":           1,
		"goregistry_index_error":     0,
		"goregistry_services_seeded": 2,
		"goregistry_services_static": 2,
		"goregistry_sessions":        5,
		"goregistry_service_tickets": 7,
	} {
		if got, ok := gaugeValue(rm, name, "", ""); !ok || got != want {
			t.Fatalf("expected %s %d, got %d (found=%v)", name, want, got, ok)
		}
	}
	if got, ok := sumValue(rm, "goregistry_audit_delivered_total", goRegistry.AuditTicketGrantingCreated); !ok || got != 5 {
		t.Fatalf("expected audit_delivered 5, got %d (found=%v)", got, ok)
	}
}

func TestExporterSkipsTicketCountsWhenNotReady(t *testing.T) {
	src := &fakeSource{
		health:   goRegistry.Health{State: "connecting"},
		statsErr: errors.New("not ready"),
	}

	rm := collect(t, newReader(t, src))
	if _, ok := gaugeValue(rm, "goregistry_sessions", "", ""); ok {
		t.Fatal("expected no session count while not ready")
	}
	if got, ok := gaugeValue(rm, "goregistry_ready", "", ""); !ok || got != 0 {
		t.Fatalf("expected ready 0, got %d (found=%v)", got, ok)
	}
}

// sumValue returns the data point of a sum metric, selected by its
// event_type attribute when eventType is set.
func sumValue(rm metricdata.ResourceMetrics, name, eventType string) (int64, bool) {
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != name {
				continue
			}
			sum, ok := m.Data.(metricdata.Sum[int64])
			if !ok {
				return 0, false
			}
			for _, dp := range sum.DataPoints {
				if matches(dp.Attributes, "event_type", eventType) {
					return dp.Value, true
				}
			}
			return 0, false
		}
	}
	return 0, false
}

func gaugeValue(rm metricdata.ResourceMetrics, name, key, value string) (int64, bool) {
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != name {
				continue
			}
			gauge, ok := m.Data.(metricdata.Gauge[int64])
			if !ok {
				return 0, false
			}
			for _, dp := range gauge.DataPoints {
				if matches(dp.Attributes, key, value) {
					return dp.Value, true
				}
			}
			return 0, false
		}
	}
	return 0, false
}

func matches(set attribute.Set, key, value string) bool {
	if key == "" || value == "" {
		return true
	}
	got, ok := set.Value(attribute.Key(key))
	return ok && got.AsString() == value
}

func TestExporterRejectsNilSource(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	meter := provider.Meter("goregistry-test")

	if _, err := NewOTelExporterFromSource(meter, nil); err == nil {
		t.Fatal("expected error for nil source")
	}
}

func TestExporterConcurrentCollectNoPanic(t *testing.T) {
	src := &fakeSource{
		snapshot: goRegistry.MetricsSnapshot{
			Counters: map[goRegistry.MetricID]uint64{
				goRegistry.MetricTicketAdded: 1,
			},
			Histograms: map[goRegistry.MetricID][]uint64{
				goRegistry.MetricStoreLatency: {1, 0, 0, 0, 0, 0, 0, 0},
			},
		},
		health:  goRegistry.Health{State: "connected", Ready: true},
		dropped: map[string]uint64{},
	}
	reader := newReader(t, src)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(v uint64) {
			defer wg.Done()
			src.mu.Lock()
			src.snapshot.Counters[goRegistry.MetricTicketAdded] = v
			src.dropped[goRegistry.AuditServiceSaved] = v
			src.mu.Unlock()

			var rm metricdata.ResourceMetrics
			_ = reader.Collect(context.Background(), &rm)
		}(uint64(i + 1))
	}
	wg.Wait()
}
