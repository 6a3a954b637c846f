package reconcile

import (
	"fmt"
	"math"
	"time"

	"github.com/roach88/outpost/internal/ir"
)

// Confidence holds the fixed confidence assigned to each deterministic strategy.
type Confidence struct {
	LastWriteWins   float64 `json:"last_write_wins"`
	FirstWriteWins  float64 `json:"first_write_wins"`
	HighestSeverity float64 `json:"highest_severity"`
	MostComplete    float64 `json:"most_complete"`
	// MergeFloor is the lowest confidence merge_payloads reports.
	MergeFloor float64 `json:"merge_floor"`
}

// DefaultConfidence returns the built-in confidence constants.
func DefaultConfidence() Confidence {
	return Confidence{
		LastWriteWins:   0.9,
		FirstWriteWins:  0.9,
		HighestSeverity: 0.85,
		MostComplete:    0.8,
		MergeFloor:      0.5,
	}
}

// SeverityField is the payload field compared by highest_severity.
const SeverityField = "severity"

// Conflict marker keys written by merge_payloads.
const (
	MarkerKey      = "_conflict"
	MarkerLocal    = "local"
	MarkerRemote   = "remote"
	MarkerMergedAt = "merged_at"
)

// Resolution is the outcome of applying one strategy.
type Resolution struct {
	Payload    ir.IRObject // nil for manual_review
	Confidence float64
	Winner     string // "local", "remote", or "" when merged or deferred
}

// Resolve applies strategy to a pair of versions.
func Resolve(strategy ir.Strategy, local, remote ir.Event, conf Confidence, now time.Time) (Resolution, error) {
	switch strategy {
	case ir.StrategyLastWriteWins:
		return pick(laterWins(local, remote), local, remote, conf.LastWriteWins), nil

	case ir.StrategyFirstWriteWins:
		return pick(!laterWins(local, remote), local, remote, conf.FirstWriteWins), nil

	case ir.StrategyHighestSeverity:
		ls := severity(local.Payload)
		rs := severity(remote.Payload)
		return pick(ls >= rs, local, remote, conf.HighestSeverity), nil

	case ir.StrategyMostComplete:
		return pick(local.Payload.NonNullCount() >= remote.Payload.NonNullCount(), local, remote, conf.MostComplete), nil

	case ir.StrategyMergePayloads:
		return mergePayloads(local.Payload, remote.Payload, conf.MergeFloor, now), nil

	case ir.StrategyManualReview:
		return Resolution{Confidence: 0}, nil

	default:
		return Resolution{}, fmt.Errorf("resolve: unknown strategy %q", strategy)
	}
}

func pick(keepLocal bool, local, remote ir.Event, confidence float64) Resolution {
	if keepLocal {
		return Resolution{Payload: local.Payload.Clone(), Confidence: confidence, Winner: "local"}
	}
	return Resolution{Payload: remote.Payload.Clone(), Confidence: confidence, Winner: "remote"}
}

// laterWins reports whether local was written after remote. Equal wall times
// fall back to node ID so both sides of a partition pick the same winner.
func laterWins(local, remote ir.Event) bool {
	if !local.WallTime.Equal(remote.WallTime) {
		return local.WallTime.After(remote.WallTime)
	}
	return local.NodeID >= remote.NodeID
}

// severity returns the numeric severity, or -Inf when absent or non-numeric.
func severity(p ir.IRObject) float64 {
	if n, ok := ir.AsNumber(p[SeverityField]); ok {
		return n
	}
	return math.Inf(-1)
}

// mergePayloads unions both payloads. Agreeing values are kept, a null or
// missing side takes the other side's value, and values present on both sides
// that differ become a conflict marker.
func mergePayloads(local, remote ir.IRObject, floor float64, now time.Time) Resolution {
	merged := make(ir.IRObject, len(local)+len(remote))
	for k, v := range remote {
		merged[k] = v
	}

	conflicting := 0
	for k, lv := range local {
		rv, ok := remote[k]
		switch {
		case !ok || ir.IsNull(rv):
			merged[k] = lv
		case ir.IsNull(lv):
			merged[k] = rv
		case ir.Equal(lv, rv):
			merged[k] = lv
		default:
			conflicting++
			merged[k] = ir.IRObject{
				MarkerKey:      ir.IRBool(true),
				MarkerLocal:    lv,
				MarkerRemote:   rv,
				MarkerMergedAt: ir.IRString(now.UTC().Format(time.RFC3339)),
			}
		}
	}

	confidence := 1.0
	if len(merged) > 0 {
		confidence = 1 - float64(conflicting)/float64(len(merged))
	}
	return Resolution{Payload: merged.Clone(), Confidence: math.Max(floor, confidence)}
}

// IsConflictMarker reports whether v is a marker written by merge_payloads.
func IsConflictMarker(v ir.IRValue) bool {
	obj, ok := v.(ir.IRObject)
	if !ok {
		return false
	}
	b, ok := obj[MarkerKey].(ir.IRBool)
	return ok && bool(b)
}

// reviewPayload embeds both versions verbatim for a human reviewer.
func reviewPayload(local, remote ir.Event, det Detection, proposed ir.IRObject) ir.IRObject {
	fields := make(ir.IRArray, len(det.Fields))
	for i, f := range det.Fields {
		fields[i] = ir.IRString(f)
	}
	review := ir.IRObject{
		"classification": ir.IRString(det.Classification),
		"fields":         fields,
		"local":          local.AsObject(),
		"remote":         remote.AsObject(),
	}
	if proposed != nil {
		review["proposed"] = proposed.Clone()
	}
	return review
}
