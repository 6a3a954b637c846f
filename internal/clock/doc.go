// Package clock provides the per-node causal clock used to timestamp outpost events.
//
// A Vector maps node identifiers to monotonically increasing counters. Two vectors
// are compared component-wise: A is before B iff every component of A is <= the
// matching component of B (missing components count as 0) and at least one is
// strictly less. When neither is before the other they are concurrent, which is
// the only case that requires conflict reconciliation.
//
// Ownership rules:
//   - A node only increments its own component (Causal.Advance)
//   - Other components are raised to the observed maximum when a remote
//     clock is merged in (Causal.Merge), followed by an Advance
//   - Vector comparisons are pure and never mutate either operand
//
// This package imports nothing internal; it is the leaf of the dependency graph.
package clock
