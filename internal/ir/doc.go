// Package ir provides the canonical data model for outpost.
//
// It defines the sealed payload value union (IRValue), RFC 8785 style canonical
// JSON, domain-separated content hashing, and the records exchanged between
// components: Event, Signal, FusedRecord, and ConflictReport.
//
// The only internal import is clock, for the causal vector carried by events.
//
// Key design constraints:
//   - Payloads are IRObject values, never raw map[string]any
//   - Floats are allowed but must be finite and always encode with a fraction
//   - All JSON tags use snake_case
//   - Wall-clock timestamps are informational; ordering uses clocks and seq only
package ir
