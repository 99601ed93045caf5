// Package store provides SQLite-backed timedata storage for channel values.
//
// The store is observational: it records what the process image looked
// like, it is never read back into the engine. It holds:
//   - Runs: one row per process start, identified by a UUIDv7
//   - Channel values: the channels that changed in a tick, per run
//
// # Critical Patterns
//
// Only changes are stored. A channel's value at tick N is the latest row
// for its address with tick <= N in the same run.
//
// Undefined is stored as SQL NULL, distinct from a zero value.
//
// Queries order by seq, the insertion sequence, never by wall time, so
// history reads are deterministic under a simulated clock.
//
// # Database Configuration
//
//   - WAL mode: concurrent reads during writes
//   - synchronous=NORMAL: balance durability/performance
//   - busy_timeout=5000: wait for locks up to 5 seconds
//   - foreign_keys=ON: channel values must belong to a run
package store
