// Package syncer drives a node's synchronization with its remote authority.
//
// A Coordinator is the single sync worker of a node. Each batch takes pending
// events from the local store in creation order and, for each one, fetches the
// remote version, applies the causality short-circuit, reconciles concurrent
// versions, and records the outcome as event status or a conflict report.
//
// Thread-safety model:
//   - RunBatch: at most one batch runs at a time; a concurrent call returns
//     ErrBatchInProgress
//   - Run: must be called from exactly one goroutine
//
// Remote failures never abort a batch. They are recorded as retry state on the
// event and the batch moves on.
package syncer
