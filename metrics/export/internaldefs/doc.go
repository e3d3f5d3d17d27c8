// Package internaldefs holds the metric names, bucket boundaries and registry
// state gauges shared by the Prometheus and OTel exporters, so both publish
// identical series.
//
// # What this package must NOT do
//
//   - Import an exporter package.
//   - Perform I/O.
package internaldefs
