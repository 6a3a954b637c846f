// Package harness runs declarative outpost scenarios against real components.
//
// A scenario fuses a set of signals, drives local events through sync
// batches against an in-memory remote authority, or both, and then checks
// assertions over the outcome.
//
// # Scenario Format
//
//	name: severity_conflict
//	description: "Concurrent severity edits resolve to a merge event"
//	sync:
//	  node: A
//	  batches: 1
//	  policy: |
//	    fields: severity: "highest_severity"
//	  events:
//	    - kind: case_report
//	      payload: { case_id: c1, severity: 2 }
//	      remote:
//	        node: B
//	        clock: { B: 1 }
//	        payload: { case_id: c1, severity: 4 }
//	assertions:
//	  - type: outcome
//	    event: 0
//	    expect: merged
//	  - type: conflict
//	    index: 0
//	    expect: { classification: value, resolved: m1 }
//
// Local events are labelled e0, e1, ... in declaration order and merge events
// m1, m2, ... in creation order. The remote authority's version of e0 is
// labelled remote:e0.
//
// # Assertion Types
//
//   - fused_status, fused_score, fused_field: check the fused record
//   - event_status, retry_count: check an event's final stored state
//   - outcome: check an event's outcome in a given batch
//   - conflict_count, merge_count: count conflict reports and merge events
//   - conflict: subset match against one conflict report
//   - no_lost_events: the final integrity sweep found nothing wrong
//
// # Deterministic Testing
//
// Every scenario runs against a fresh store in a temporary directory with
// stepping test clocks and sequential conflict IDs, so snapshots are stable
// across runs and can be compared against golden files.
package harness
