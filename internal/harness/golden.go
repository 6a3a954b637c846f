package harness

import (
	"testing"
	"time"

	"github.com/sebdah/goldie/v2"

	"github.com/roach88/outpost/internal/ir"
)

// Snapshot renders a result as canonical JSON for golden comparison.
//
// Events appear by label and floats are rounded to four decimals, so the
// snapshot is independent of content hashes and platform float noise.
func Snapshot(name string, result *Result) ([]byte, error) {
	snap := map[string]any{
		"scenario": name,
	}

	if f := result.Fused; f != nil {
		sources := make([]any, len(f.Sources))
		for i, s := range f.Sources {
			sources[i] = string(s)
		}
		fused := map[string]any{
			"subject":              f.SubjectID,
			"status":               string(f.Status),
			"score":                round4(f.Score),
			"sources":              sources,
			"signal_count":         f.SignalCount,
			"spatial_delta_km":     round4(f.SpatialDeltaKm),
			"temporal_delta_hours": round4(f.TemporalDeltaHours),
			"timestamp":            f.Timestamp.UTC().Format(time.RFC3339),
			"factors": map[string]any{
				"source_diversity":        round4(f.Factors.SourceDiversity),
				"spatial_agreement":       round4(f.Factors.SpatialAgreement),
				"temporal_agreement":      round4(f.Factors.TemporalAgreement),
				"observation_consistency": round4(f.Factors.ObservationConsistency),
				"confirmation_bonus":      round4(f.Factors.ConfirmationBonus),
			},
		}
		if f.Location != nil {
			fused["location"] = map[string]any{
				"lat": round4(f.Location.Lat),
				"lon": round4(f.Location.Lon),
			}
		}
		if f.Observation != "" {
			fused["observation"] = f.Observation
		}
		if f.Secondary != "" {
			fused["secondary"] = f.Secondary
		}
		snap["fused"] = fused
	}

	if result.Lost != nil {
		trace := make([]any, len(result.Trace))
		for i, t := range result.Trace {
			trace[i] = map[string]any{"batch": t.Batch, "event": t.Event, "outcome": t.Outcome}
		}
		events := make([]any, len(result.Events))
		for i, e := range result.Events {
			events[i] = map[string]any{"event": e.Label, "status": string(e.Status), "retry_count": e.RetryCount}
		}
		merges := make([]any, len(result.Merges))
		for i, m := range result.Merges {
			parents := make([]any, len(m.Parents))
			for j, p := range m.Parents {
				parents[j] = p
			}
			merges[i] = map[string]any{
				"event":   m.Label,
				"status":  string(m.Status),
				"parents": parents,
				"payload": m.Payload,
			}
		}
		conflicts := make([]any, len(result.Conflicts))
		for i, c := range result.Conflicts {
			conflicts[i] = conflictView(result, c)
		}
		clk := make(map[string]any, len(result.Clock))
		for node, n := range result.Clock {
			clk[node] = n
		}

		snap["trace"] = trace
		snap["events"] = events
		snap["merges"] = merges
		snap["conflicts"] = conflicts
		snap["clock"] = clk
	}

	return ir.MarshalCanonical(snap)
}

// RunWithGolden executes a scenario and compares its snapshot against
// testdata/golden/{scenario.Name}.golden.
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
func RunWithGolden(t *testing.T, scenario *Scenario) (*Result, error) {
	t.Helper()

	result, err := Run(scenario)
	if err != nil {
		return nil, err
	}
	if err := AssertGolden(t, scenario.Name, result); err != nil {
		return nil, err
	}
	return result, nil
}

// AssertGolden compares an existing result against its golden file without
// re-running the scenario.
func AssertGolden(t *testing.T, name string, result *Result) error {
	t.Helper()

	data, err := Snapshot(name, result)
	if err != nil {
		return err
	}

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, name, data)
	return nil
}
