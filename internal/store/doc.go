// Package store provides the SQLite-backed local event store for an outpost node.
//
// The store holds:
//   - Events: every locally created event with its payload, causal clock
//     snapshot, integrity hash, and synchronization status
//   - Node clock: the persisted causal clock of the owning node
//   - Conflict reports: an append-only audit log of reconciliation attempts
//
// # Durability
//
// CreateEvent and CreateMergeEvent hold the store mutex while they compute the
// next clock value, insert the event row and the clock rows in one transaction,
// and commit. Only after the commit succeeds is the new value published to the
// in-memory clock. A failed write leaves both the database and the clock as they
// were.
//
// Status updates are single UPDATE statements. Nothing reads a row into Go,
// modifies it, and writes it back, so concurrent callers cannot lose updates.
//
// # Integrity
//
// Every read recomputes the event's integrity hash. A row that no longer matches
// is flagged quarantined and excluded from ListPending; it is never deleted.
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON
package store
