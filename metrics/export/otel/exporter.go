package otel

import (
	"context"
	"errors"
	"fmt"

	goRegistry "github.com/MrEthical07/goRegistry"
	"github.com/MrEthical07/goRegistry/metrics/export/internaldefs"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var (
	// ErrNilMeter is returned when no meter is supplied.
	ErrNilMeter  = errors.New("nil meter")
	ErrNilSource = errors.New("nil metrics source")
)

type registrySource interface {
	MetricsSnapshot() goRegistry.MetricsSnapshot
	Health() goRegistry.Health
	Stats(ctx context.Context) (goRegistry.Stats, error)
	AuditDroppedByType() map[string]uint64
	AuditDeliveredByType() map[string]uint64
}

type observedCounter struct {
	id         goRegistry.MetricID
	instrument metric.Int64ObservableCounter
}

type observedHistogram struct {
	id      goRegistry.MetricID
	buckets [goRegistry.MetricHistogramBuckets]metric.Int64ObservableGauge
	count   metric.Int64ObservableGauge
}

// OTelExporter publishes registry metrics and state through observable instruments.
type OTelExporter struct {
	source       registrySource
	registration metric.Registration
	counters     []observedCounter
	histograms   []observedHistogram

	connState metric.Int64ObservableGauge
	health    []metric.Int64ObservableGauge
	stats     []metric.Int64ObservableGauge
	dropped   metric.Int64ObservableCounter
	delivered metric.Int64ObservableCounter
}

// NewOTelExporter registers instruments on meter that read from reg.
func NewOTelExporter(meter metric.Meter, reg *goRegistry.Registry) (*OTelExporter, error) {
	if reg == nil {
		return nil, ErrNilSource
	}
	return NewOTelExporterFromSource(meter, reg)
}

func NewOTelExporterFromSource(meter metric.Meter, source registrySource) (*OTelExporter, error) {
	if meter == nil {
		return nil, ErrNilMeter
	}
	if source == nil {
		return nil, ErrNilSource
	}

	exporter := &OTelExporter{
		source:     source,
		counters:   make([]observedCounter, 0, len(internaldefs.CounterDefs)),
		histograms: make([]observedHistogram, 0, len(internaldefs.HistogramDefs)),
	}

	observables := make([]metric.Observable, 0, len(internaldefs.CounterDefs)+len(internaldefs.HistogramDefs)*9+10)

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

	connState, err := meter.Int64ObservableGauge(internaldefs.ConnectionStateName, metric.WithDescription(internaldefs.ConnectionStateHelp))
	if err != nil {
		return nil, fmt.Errorf("create gauge %s: %w", internaldefs.ConnectionStateName, err)
	}
	exporter.connState = connState
	observables = append(observables, connState)

	// Instrument order matches the slices HealthGauges and StatsGauges return.
	exporter.health, observables, err = stateGauges(meter, internaldefs.HealthGauges(goRegistry.Health{}), observables)
	if err != nil {
		return nil, err
	}
	exporter.stats, observables, err = stateGauges(meter, internaldefs.StatsGauges(goRegistry.Stats{}), observables)
	if err != nil {
		return nil, err
	}

	exporter.dropped, err = meter.Int64ObservableCounter(internaldefs.AuditDroppedName, metric.WithDescription(internaldefs.AuditDroppedHelp))
	if err != nil {
		return nil, fmt.Errorf("create audit dropped counter: %w", err)
	}
	exporter.delivered, err = meter.Int64ObservableCounter(internaldefs.AuditDeliveredName, metric.WithDescription(internaldefs.AuditDeliveredHelp))
	if err != nil {
		return nil, fmt.Errorf("create audit delivered counter: %w", err)
	}
	observables = append(observables, exporter.dropped, exporter.delivered)

	registration, err := meter.RegisterCallback(exporter.observe, observables...)
	if err != nil {
		return nil, fmt.Errorf("register callback: %w", err)
	}

	exporter.registration = registration
	return exporter, nil
}

func stateGauges(meter metric.Meter, defs []internaldefs.Gauge, observables []metric.Observable) ([]metric.Int64ObservableGauge, []metric.Observable, error) {
	out := make([]metric.Int64ObservableGauge, 0, len(defs))
	for _, def := range defs {
		ins, err := meter.Int64ObservableGauge(def.Name, metric.WithDescription(def.Help))
		if err != nil {
			return nil, nil, fmt.Errorf("create gauge %s: %w", def.Name, err)
		}
		out = append(out, ins)
		observables = append(observables, ins)
	}
	return out, observables, nil
}

func (e *OTelExporter) observe(ctx context.Context, observer metric.Observer) error {
	snapshot := e.source.MetricsSnapshot()
	for _, c := range e.counters {
		observer.ObserveInt64(c.instrument, int64(snapshot.Counters[c.id]))
	}
	for _, h := range e.histograms {
		nonCumulative := internaldefs.NormalizeBuckets(snapshot.Histograms[h.id])
		cumulative := internaldefs.CumulativeBuckets(nonCumulative)
		for i := 0; i < len(cumulative); i++ {
			observer.ObserveInt64(h.buckets[i], int64(cumulative[i]))
		}
		observer.ObserveInt64(h.count, int64(cumulative[len(cumulative)-1]))
	}

	health := e.source.Health()
	for _, state := range internaldefs.ConnectionStates {
		observer.ObserveInt64(e.connState, internaldefs.StateValue(state, health),
			metric.WithAttributes(attribute.String(internaldefs.StateLabel, state)))
	}
	for i, g := range internaldefs.HealthGauges(health) {
		observer.ObserveInt64(e.health[i], g.Value)
	}
	if health.Ready {
		if stats, err := e.source.Stats(ctx); err == nil {
			for i, g := range internaldefs.StatsGauges(stats) {
				observer.ObserveInt64(e.stats[i], g.Value)
			}
		}
	}

	observeEventCounts(observer, e.dropped, e.source.AuditDroppedByType())
	observeEventCounts(observer, e.delivered, e.source.AuditDeliveredByType())
	return nil
}

func observeEventCounts(observer metric.Observer, ins metric.Int64ObservableCounter, counts map[string]uint64) {
	for _, eventType := range internaldefs.EventTypes(counts) {
		observer.ObserveInt64(ins, int64(counts[eventType]),
			metric.WithAttributes(attribute.String(internaldefs.EventTypeLabel, eventType)))
	}
}

// Close unregisters the collection callback.
func (e *OTelExporter) Close() error {
	if e == nil || e.registration == nil {
		return nil
	}
	return e.registration.Unregister()
}
