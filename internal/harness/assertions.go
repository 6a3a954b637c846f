package harness

import (
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"sort"
	"strings"

	"github.com/roach88/outpost/internal/ir"
)

// AssertionError is returned when an assertion fails.
// It includes detailed context to help debug the failure.
type AssertionError struct {
	Type     string       // Assertion type for categorization
	Expected string       // Human-readable expected outcome
	Actual   string       // Human-readable actual outcome
	Trace    []TraceEntry // Full trace for debugging context
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	if len(e.Trace) > 0 {
		fmt.Fprintf(&buf, "\nFull trace:\n")
		for _, t := range e.Trace {
			fmt.Fprintf(&buf, "  [batch %d] %s %s\n", t.Batch, t.Event, t.Outcome)
		}
	}

	return buf.String()
}

// EvaluateAssertions evaluates all assertions against the result.
// Returns a slice of error messages for failed assertions.
func EvaluateAssertions(result *Result, assertions []Assertion) []string {
	var errors []string

	for i, a := range assertions {
		var err error

		switch a.Type {
		case AssertFusedStatus:
			err = assertFusedStatus(result, a)
		case AssertFusedScore:
			err = assertFusedScore(result, a)
		case AssertFusedField:
			err = assertFusedField(result, a)
		case AssertEventStatus:
			err = assertEventStatus(result, a)
		case AssertRetryCount:
			err = assertRetryCount(result, a)
		case AssertOutcome:
			err = assertOutcome(result, a)
		case AssertConflictCount:
			err = assertCount(a.Type, len(result.Conflicts), *a.Count)
		case AssertMergeCount:
			err = assertCount(a.Type, len(result.Merges), *a.Count)
		case AssertConflict:
			err = assertConflict(result, a)
		case AssertNoLostEvents:
			err = assertNoLostEvents(result)
		default:
			err = fmt.Errorf("assertion[%d]: unknown assertion type %q", i, a.Type)
		}

		if err != nil {
			errors = append(errors, err.Error())
		}
	}

	return errors
}

func assertFusedStatus(result *Result, a Assertion) error {
	if result.Fused == nil {
		return missingFused(a.Type)
	}
	if !valuesEqual(string(result.Fused.Status), a.Expect) {
		return &AssertionError{
			Type:     a.Type,
			Expected: fmt.Sprintf("%v", a.Expect),
			Actual:   fmt.Sprintf("%s (score %.4f)", result.Fused.Status, result.Fused.Score),
		}
	}
	return nil
}

func assertFusedScore(result *Result, a Assertion) error {
	if result.Fused == nil {
		return missingFused(a.Type)
	}
	score := result.Fused.Score
	if (a.Min != nil && score < *a.Min) || (a.Max != nil && score > *a.Max) {
		return &AssertionError{
			Type:     a.Type,
			Expected: fmt.Sprintf("score in [%s, %s]", bound(a.Min, "-inf"), bound(a.Max, "+inf")),
			Actual:   fmt.Sprintf("%.4f", score),
		}
	}
	return nil
}

func assertFusedField(result *Result, a Assertion) error {
	if result.Fused == nil {
		return missingFused(a.Type)
	}
	fields, err := toMap(result.Fused)
	if err != nil {
		return err
	}
	actual, ok := fields[a.Field]
	if !ok {
		actual = nil
	}
	if !valuesEqual(actual, a.Expect) {
		return &AssertionError{
			Type:     a.Type,
			Expected: fmt.Sprintf("%s = %v", a.Field, a.Expect),
			Actual:   fmt.Sprintf("%s = %v", a.Field, actual),
		}
	}
	return nil
}

func assertEventStatus(result *Result, a Assertion) error {
	state, err := eventAt(result, a)
	if err != nil {
		return err
	}
	if !valuesEqual(string(state.Status), a.Expect) {
		return &AssertionError{
			Type:     a.Type,
			Expected: fmt.Sprintf("%s status %v", state.Label, a.Expect),
			Actual:   string(state.Status),
			Trace:    result.Trace,
		}
	}
	return nil
}

func assertRetryCount(result *Result, a Assertion) error {
	state, err := eventAt(result, a)
	if err != nil {
		return err
	}
	if state.RetryCount != *a.Count {
		return &AssertionError{
			Type:     a.Type,
			Expected: fmt.Sprintf("%s retry_count %d", state.Label, *a.Count),
			Actual:   fmt.Sprintf("%d", state.RetryCount),
			Trace:    result.Trace,
		}
	}
	return nil
}

func assertOutcome(result *Result, a Assertion) error {
	batch := a.Batch
	if batch == 0 {
		batch = 1
	}
	label := fmt.Sprintf("e%d", *a.Event)
	actual := result.outcome(batch, label)
	if !valuesEqual(actual, a.Expect) {
		if actual == "" {
			actual = "(not processed)"
		}
		return &AssertionError{
			Type:     a.Type,
			Expected: fmt.Sprintf("%s outcome %v in batch %d", label, a.Expect, batch),
			Actual:   actual,
			Trace:    result.Trace,
		}
	}
	return nil
}

func assertCount(kind string, actual, expected int) error {
	if actual != expected {
		return &AssertionError{
			Type:     kind,
			Expected: fmt.Sprintf("%d", expected),
			Actual:   fmt.Sprintf("%d", actual),
		}
	}
	return nil
}

func assertConflict(result *Result, a Assertion) error {
	if a.Index < 0 || a.Index >= len(result.Conflicts) {
		return &AssertionError{
			Type:     a.Type,
			Expected: fmt.Sprintf("conflict report at index %d", a.Index),
			Actual:   fmt.Sprintf("%d reports", len(result.Conflicts)),
		}
	}
	view := conflictView(result, result.Conflicts[a.Index])
	expected, _ := a.Expect.(map[string]any)
	if !matchSubset(view, expected) {
		return &AssertionError{
			Type:     a.Type,
			Expected: formatMap(expected),
			Actual:   formatMap(view),
		}
	}
	return nil
}

func assertNoLostEvents(result *Result) error {
	if result.Lost == nil {
		return &AssertionError{Type: AssertNoLostEvents, Expected: "lost-events sweep", Actual: "not run"}
	}
	if !result.Lost.OK() {
		return &AssertionError{
			Type:     AssertNoLostEvents,
			Expected: "no quarantined, corrupt, or badly stated events",
			Actual: fmt.Sprintf("quarantined=%v corrupt=%v bad_status=%v",
				result.Lost.Quarantined, result.Lost.Corrupt, result.Lost.BadStatus),
		}
	}
	return nil
}

func missingFused(kind string) error {
	return &AssertionError{Type: kind, Expected: "fused record", Actual: "fusion did not run"}
}

func bound(v *float64, unset string) string {
	if v == nil {
		return unset
	}
	return fmt.Sprintf("%g", *v)
}

func eventAt(result *Result, a Assertion) (EventState, error) {
	if *a.Event >= len(result.Events) {
		return EventState{}, fmt.Errorf("%s: event %d not found", a.Type, *a.Event)
	}
	return result.Events[*a.Event], nil
}

// conflictView renders a report with events referred to by label, in the
// shape used by conflict assertions and golden snapshots.
func conflictView(result *Result, r ir.ConflictReport) map[string]any {
	fields := make([]any, len(r.Fields))
	for i, f := range r.Fields {
		fields[i] = f
	}
	view := map[string]any{
		"id":                     r.ID,
		"classification":         string(r.Classification),
		"event":                  result.Label(r.LocalEventID),
		"fields":                 fields,
		"strategy":               string(r.Strategy),
		"requires_manual_review": r.RequiresManualReview,
		"confidence":             round4(r.Confidence),
	}
	if r.ResolvedEventID != "" {
		view["resolved"] = result.Label(r.ResolvedEventID)
	}
	return view
}

// matchSubset checks that actual contains every key in expected with an
// equal value. Extra keys in actual are ignored.
func matchSubset(actual, expected map[string]any) bool {
	for key, want := range expected {
		got, ok := actual[key]
		if !ok || !valuesEqual(got, want) {
			return false
		}
	}
	return true
}

// valuesEqual compares two values after normalizing numbers to float64, so
// YAML integers compare equal to JSON and Go numbers.
func valuesEqual(actual, expected any) bool {
	return reflect.DeepEqual(normalize(actual), normalize(expected))
}

func normalize(v any) any {
	switch val := v.(type) {
	case int:
		return float64(val)
	case int64:
		return float64(val)
	case uint64:
		return float64(val)
	case float32:
		return float64(val)
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, x := range val {
			out[k] = normalize(x)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, x := range val {
			out[i] = normalize(x)
		}
		return out
	case []string:
		out := make([]any, len(val))
		for i, x := range val {
			out[i] = x
		}
		return out
	default:
		return v
	}
}

func toMap(v any) (map[string]any, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	return m, nil
}

func formatMap(m map[string]any) string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%v", k, m[k]))
	}
	return strings.Join(parts, " ")
}

func round4(x float64) float64 {
	return math.Round(x*1e4) / 1e4
}
