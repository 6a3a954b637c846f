package harness

import (
	"github.com/roach88/outpost/internal/clock"
	"github.com/roach88/outpost/internal/ir"
	"github.com/roach88/outpost/internal/store"
)

// TraceEntry records one event's outcome in one batch. Events are referred to
// by label: e0, e1, ... for scenario events and m1, m2, ... for merge events
// in creation order.
type TraceEntry struct {
	Batch   int    `json:"batch"`
	Event   string `json:"event"`
	Outcome string `json:"outcome"`
}

// EventState is the final stored state of one event.
type EventState struct {
	Label      string        `json:"label"`
	ID         string        `json:"id"`
	Status     ir.SyncStatus `json:"status"`
	RetryCount int           `json:"retry_count"`
	Parents    []string      `json:"parents,omitempty"` // Labels of the merged versions
	Payload    ir.IRObject   `json:"payload"`
}

// Result is the outcome of a scenario execution.
type Result struct {
	// Pass indicates overall success: true if every assertion holds.
	Pass bool `json:"pass"`

	// Errors contains assertion failure messages.
	Errors []string `json:"errors,omitempty"`

	// Fused is the fusion output, when the scenario fuses.
	Fused *ir.FusedRecord `json:"fused,omitempty"`

	// Trace lists per-event outcomes in batch order.
	Trace []TraceEntry `json:"trace"`

	// Events and Merges hold final event state.
	Events []EventState `json:"events,omitempty"`
	Merges []EventState `json:"merges,omitempty"`

	// Conflicts is the conflict log in append order.
	Conflicts []ir.ConflictReport `json:"conflicts,omitempty"`

	// Clock is the node clock after the last batch.
	Clock clock.Vector `json:"clock,omitempty"`

	// Lost is the final no-lost-events sweep.
	Lost *store.LostEventsReport `json:"lost,omitempty"`

	labels map[string]string // Event ID or version hash -> label
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Trace:  []TraceEntry{},
		Errors: []string{},
		labels: make(map[string]string),
	}
}

// AddError adds a validation error and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// Label returns the scenario label for an event ID or version hash, or the
// input itself when unknown.
func (r *Result) Label(idOrHash string) string {
	if l, ok := r.labels[idOrHash]; ok {
		return l
	}
	return idOrHash
}

// outcome returns the outcome of label in batch, or "".
func (r *Result) outcome(batch int, label string) string {
	for _, t := range r.Trace {
		if t.Batch == batch && t.Event == label {
			return t.Outcome
		}
	}
	return ""
}
