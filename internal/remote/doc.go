// Package remote provides implementations of the remote authority a node
// synchronizes with: a Redis-backed authority shared by many nodes, and an
// in-memory authority with failure injection for tests and local runs.
//
// Both are idempotent on event ID. Pushing content the authority already
// holds is a no-op, and a version whose clock happened-before the stored one
// is rejected with ErrStale.
package remote
