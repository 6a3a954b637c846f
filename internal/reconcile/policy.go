package reconcile

import (
	"fmt"
	"sort"

	"github.com/roach88/outpost/internal/ir"
)

// DefaultTimestampField is the payload field holding a record's own timestamp.
const DefaultTimestampField = "timestamp"

// Policy maps payload fields to resolution strategies.
type Policy struct {
	// Fields assigns a strategy to individual fields.
	Fields map[string]ir.Strategy `json:"fields"`
	// Default applies to fields without an entry.
	Default ir.Strategy `json:"default"`
	// Semantic lists categorical fields whose disagreement is a semantic conflict
	// unless one value contains the other.
	Semantic []string `json:"semantic"`
	// TimestampField names the field whose sole disagreement is classified as a
	// timestamp conflict.
	TimestampField string `json:"timestamp_field"`
}

// DefaultPolicy returns the built-in field policy.
func DefaultPolicy() Policy {
	return Policy{
		Fields: map[string]ir.Strategy{
			"severity":  ir.StrategyHighestSeverity,
			"diagnosis": ir.StrategyManualReview,
			"location":  ir.StrategyManualReview,
			"timestamp": ir.StrategyLastWriteWins,
		},
		Default:        ir.StrategyMergePayloads,
		Semantic:       []string{"diagnosis", "symptom"},
		TimestampField: DefaultTimestampField,
	}
}

// For returns the strategy for field.
func (p Policy) For(field string) ir.Strategy {
	if s, ok := p.Fields[field]; ok {
		return s
	}
	if p.Default == "" {
		return ir.StrategyMergePayloads
	}
	return p.Default
}

// IsSemantic reports whether field is categorical.
func (p Policy) IsSemantic(field string) bool {
	for _, f := range p.Semantic {
		if f == field {
			return true
		}
	}
	return false
}

// Validate checks that every strategy named by the policy exists.
func (p Policy) Validate() error {
	if p.Default != "" && !ir.ValidStrategies[p.Default] {
		return fmt.Errorf("policy: unknown default strategy %q", p.Default)
	}
	fields := make([]string, 0, len(p.Fields))
	for f := range p.Fields {
		fields = append(fields, f)
	}
	sort.Strings(fields)
	for _, f := range fields {
		if !ir.ValidStrategies[p.Fields[f]] {
			return fmt.Errorf("policy: field %q: unknown strategy %q", f, p.Fields[f])
		}
	}
	return nil
}

// SelectStrategy chooses how to resolve a detected conflict.
//
// Structural and semantic conflicts always go to manual review. Otherwise each
// conflicting field's policy is consulted: any manual_review field escalates the
// whole conflict, a single policy shared by every field is used as is, and a mix
// of policies falls back to merge_payloads. Returns "" for ConflictNone.
func SelectStrategy(det Detection, p Policy) ir.Strategy {
	switch det.Classification {
	case ir.ConflictNone:
		return ""
	case ir.ConflictStructural, ir.ConflictSemantic:
		return ir.StrategyManualReview
	}

	var chosen ir.Strategy
	mixed := false
	for _, f := range det.Fields {
		s := p.For(f)
		if s == ir.StrategyManualReview {
			return ir.StrategyManualReview
		}
		if chosen == "" {
			chosen = s
		} else if s != chosen {
			mixed = true
		}
	}
	if mixed || chosen == "" {
		return ir.StrategyMergePayloads
	}
	return chosen
}
