// Package connection owns the lifecycle of the remote store client.
//
// # Lifecycle
//
//	Uninitialized --Initialize--> Connecting --dial ok--> Connected
//	      |                          |  ^                     |
//	      |                          +--+ dial failed, retry  |
//	      +----------------------Shutdown---------------------+--> ShuttingDown
//
// Initialize never blocks. The first attempt starts at once and failed
// attempts are retried on a fixed interval by a task owned by the Connection.
// Once connected, every registered index requirement is verified with an
// IndexVerifier. Registries call Client on each operation and surface
// ErrNotReady while the store is unreachable.
//
// # What this package must NOT do
//
//   - Hold package-level timers or clients.
//   - Block a caller of Initialize or Client.
//   - Interpret ticket or service payloads.
package connection
