// Package otel binds goRegistry metrics and registry state to OpenTelemetry
// observable instruments.
//
// [NewOTelExporter] registers one Int64ObservableCounter per counter, one
// Int64ObservableGauge per histogram bucket and one gauge per registry state
// value. A single callback samples the registry on each collection cycle.
//
// # What this package must NOT do
//
//   - Own the MeterProvider; callers supply the Meter.
//   - Mutate registry state.
package otel
