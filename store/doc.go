// Package store defines the capability contract goRegistry consumes from a
// remote key-value store: keyed reads and writes with per-key TTL, an atomic
// counter, and secondary indexes declared through index documents.
//
// # Backends
//
//   - store/redisstore: Redis (standalone, sentinel or cluster) via go-redis.
//   - store/mongostore: MongoDB via the official driver.
//
// # Architecture boundaries
//
// This package owns the interface and the sentinel errors every backend maps
// its native failures onto. It does NOT retry, reconnect, or log; connection
// lifecycle belongs to package connection.
//
// # What this package must NOT do
//
//   - Import goRegistry or any registry package.
//   - Interpret ticket or service payloads.
package store
