// Package prometheus renders goRegistry metrics in Prometheus text exposition
// format.
//
// [NewPrometheusExporter] reads the registry on every scrape: the
// [goRegistry.Registry.MetricsSnapshot] counters and histograms, the connection
// and seeding state from [goRegistry.Registry.Health], the live ticket counts
// from [goRegistry.Registry.Stats] while the store is ready, and the audit
// counters labelled by event_type.
//
// # What this package must NOT do
//
//   - Register metrics in a global Prometheus registry; callers mount the Handler.
//   - Mutate registry state.
package prometheus
