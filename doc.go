// Package goRegistry stores authentication tickets and service registrations
// in a remote key-value store that may be unreachable when the process starts.
//
// A [Registry] is assembled with [New] and [Builder.Build], then started with
// [Registry.Start]. Start never blocks on the store: the connection is retried
// in the background and store operations fail with [ErrNotReady] until it is
// up. Once connected, the index documents the registries depend on are
// verified and rebuilt when they are missing or have drifted.
//
// # Architecture boundaries
//
// goRegistry is the public surface. It exposes [Registry], [Builder], [Config]
// and value types (MetricsSnapshot, AuditEvent, Health). The connection
// lifecycle lives in package connection, the registries in packages ticket
// and service, and the store backends under store/.
//
// # What this package must NOT do
//
//   - Block the caller of Start on network I/O.
//   - Cache tickets or services in process; the store is the only copy.
//   - Import any sub-package that re-imports goRegistry (no import cycles).
package goRegistry
