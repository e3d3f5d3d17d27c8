package prometheus

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	goRegistry "github.com/MrEthical07/goRegistry"
	"github.com/MrEthical07/goRegistry/metrics/export/internaldefs"
)

type registrySource interface {
	MetricsSnapshot() goRegistry.MetricsSnapshot
	Health() goRegistry.Health
	Stats(ctx context.Context) (goRegistry.Stats, error)
	AuditDroppedByType() map[string]uint64
	AuditDeliveredByType() map[string]uint64
}

// PrometheusExporter renders registry metrics in Prometheus text exposition format.
type PrometheusExporter struct {
	source registrySource
}

// NewPrometheusExporter creates a Prometheus exporter that reads from reg.
func NewPrometheusExporter(reg *goRegistry.Registry) *PrometheusExporter {
	return &PrometheusExporter{source: reg}
}

// NewPrometheusExporterFromSource creates a Prometheus exporter from any
// value exposing the registry's metrics, health, stats and audit counts.
func NewPrometheusExporterFromSource(source registrySource) *PrometheusExporter {
	return &PrometheusExporter{source: source}
}

// Handler returns an http.Handler that serves Prometheus metrics.
func (p *PrometheusExporter) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
		_, _ = w.Write([]byte(p.Render(r.Context())))
	})
}

// Render writes the current registry state in Prometheus text exposition
// format. Counters and histograms are left out when metrics are disabled;
// ticket counts are left out while the store is not ready or cannot count.
func (p *PrometheusExporter) Render(ctx context.Context) string {
	if p == nil || p.source == nil {
		return ""
	}

	var b strings.Builder
	b.Grow(8192)

	snapshot := p.source.MetricsSnapshot()
	if len(snapshot.Counters) > 0 || len(snapshot.Histograms) > 0 {
		for _, def := range internaldefs.CounterDefs {
			writeHeader(&b, def.Name, def.Help, "counter")
			writeSample(&b, def.Name, "", "", snapshot.Counters[def.ID])
		}
		for _, def := range internaldefs.HistogramDefs {
			nonCumulative := internaldefs.NormalizeBuckets(snapshot.Histograms[def.ID])
			cumulative := internaldefs.CumulativeBuckets(nonCumulative)
			writeHistogram(&b, def.Name, def.Help, cumulative)
		}
	}

	health := p.source.Health()
	writeHeader(&b, internaldefs.ConnectionStateName, internaldefs.ConnectionStateHelp, "gauge")
	for _, state := range internaldefs.ConnectionStates {
		writeGaugeSample(&b, internaldefs.ConnectionStateName, internaldefs.StateLabel, state, internaldefs.StateValue(state, health))
	}
	for _, g := range internaldefs.HealthGauges(health) {
		writeGauge(&b, g)
	}

	if health.Ready {
		if stats, err := p.source.Stats(ctx); err == nil {
			for _, g := range internaldefs.StatsGauges(stats) {
				writeGauge(&b, g)
			}
		}
	}

	writeEventCounts(&b, internaldefs.AuditDeliveredName, internaldefs.AuditDeliveredHelp, p.source.AuditDeliveredByType())
	writeEventCounts(&b, internaldefs.AuditDroppedName, internaldefs.AuditDroppedHelp, p.source.AuditDroppedByType())

	return b.String()
}

func writeHeader(b *strings.Builder, name, help, kind string) {
	b.WriteString("# HELP ")
	b.WriteString(name)
	b.WriteByte(' ')
	b.WriteString(escapeHelp(help))
	b.WriteByte('\n')
	b.WriteString("# TYPE ")
	b.WriteString(name)
	b.WriteByte(' ')
	b.WriteString(kind)
	b.WriteByte('\n')
}

func writeLabels(b *strings.Builder, name, label, value string) {
	b.WriteString(name)
	if label != "" {
		b.WriteByte('{')
		b.WriteString(label)
		b.WriteString("=\"")
		b.WriteString(escapeLabel(value))
		b.WriteString("\"}")
	}
	b.WriteByte(' ')
}

func writeSample(b *strings.Builder, name, label, value string, v uint64) {
	writeLabels(b, name, label, value)
	b.WriteString(strconv.FormatUint(v, 10))
	b.WriteByte('\n')
}

func writeGaugeSample(b *strings.Builder, name, label, value string, v int64) {
	writeLabels(b, name, label, value)
	b.WriteString(strconv.FormatInt(v, 10))
	b.WriteByte('\n')
}

func writeGauge(b *strings.Builder, g internaldefs.Gauge) {
	writeHeader(b, g.Name, g.Help, "gauge")
	writeGaugeSample(b, g.Name, "", "", g.Value)
}

func writeEventCounts(b *strings.Builder, name, help string, counts map[string]uint64) {
	if len(counts) == 0 {
		return
	}
	writeHeader(b, name, help, "counter")
	for _, eventType := range internaldefs.EventTypes(counts) {
		writeSample(b, name, internaldefs.EventTypeLabel, eventType, counts[eventType])
	}
}

func writeHistogram(b *strings.Builder, name, help string, cumulative [goRegistry.MetricHistogramBuckets]uint64) {
	writeHeader(b, name, help, "histogram")

	for i, le := range internaldefs.HistogramBounds {
		writeSample(b, name+"_bucket", "le", le, cumulative[i])
	}

	count := cumulative[len(cumulative)-1]
	b.WriteString(name)
	b.WriteString("_count ")
	b.WriteString(strconv.FormatUint(count, 10))
	b.WriteByte('\n')

	// Snapshots carry no sum.
	b.WriteString(name)
	b.WriteString("_sum 0\n")
}

func escapeHelp(help string) string {
	help = strings.ReplaceAll(help, "\\", "\\\\")
	help = strings.ReplaceAll(help, "\n", "\\n")
	return help
}

func escapeLabel(v string) string {
	v = escapeHelp(v)
	return strings.ReplaceAll(v, "\"", "\\\"")
}
