// Package internal holds helpers that are private to goRegistry.
//
// # Sub-packages
//
//   - audit: async event dispatch (Dispatcher + Sink implementations)
//   - httpapi: chi-based admin HTTP API served by cmd/goregistryd
//   - metrics: lock-free counters and latency histograms
//   - schedule: run-now-then-every-interval background tasks
//   - views: CEL-compiled map predicates standing in for store views
//
// # What this package must NOT do
//
//   - Export types that appear in the public goRegistry API.
//   - Be imported by any package outside the goRegistry module.
package internal
