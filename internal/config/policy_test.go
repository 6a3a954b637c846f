package config

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/outpost/internal/ir"
	"github.com/roach88/outpost/internal/reconcile"
)

func TestLoadPolicy_EmptyPathIsDefault(t *testing.T) {
	p, err := LoadPolicy("")
	require.NoError(t, err)
	assert.Equal(t, DefaultPolicy(), p)
}

func TestParsePolicy_EmptyDocumentMatchesDefaults(t *testing.T) {
	p, err := ParsePolicy("empty.cue", []byte(""))
	require.NoError(t, err)
	assert.Equal(t, DefaultPolicy(), p)
}

func TestParsePolicy_Full(t *testing.T) {
	src := `
fields: {
	severity:  "highest_severity"
	diagnosis: "manual_review"
	reporter:  "last_write_wins"
}
default:         "most_complete"
semantic:        ["diagnosis"]
timestamp_field: "observed_at"
auto_resolve_threshold: 0.75
confidence: highest_severity: 0.95
`
	p, err := ParsePolicy("site.cue", []byte(src))
	require.NoError(t, err)

	assert.Equal(t, map[string]ir.Strategy{
		"severity":  ir.StrategyHighestSeverity,
		"diagnosis": ir.StrategyManualReview,
		"reporter":  ir.StrategyLastWriteWins,
	}, p.Field.Fields)
	assert.Equal(t, ir.StrategyMostComplete, p.Field.Default)
	assert.Equal(t, []string{"diagnosis"}, p.Field.Semantic)
	assert.Equal(t, "observed_at", p.Field.TimestampField)
	assert.Equal(t, 0.75, p.AutoResolveThreshold)

	want := reconcile.DefaultConfidence()
	want.HighestSeverity = 0.95
	assert.Equal(t, want, p.Confidence)
}

func TestParsePolicy_Rejects(t *testing.T) {
	tests := []struct {
		name string
		src  string
	}{
		{"unknown strategy", `fields: severity: "loudest_wins"`},
		{"unknown default", `default: "coin_flip"`},
		{"unknown key", `fieldz: severity: "highest_severity"`},
		{"threshold above one", `auto_resolve_threshold: 1.5`},
		{"negative confidence", `confidence: most_complete: -0.1`},
		{"syntax", `fields: {`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParsePolicy("bad.cue", []byte(tt.src))
			require.Error(t, err)
			var pe *PolicyError
			assert.True(t, errors.As(err, &pe), "want *PolicyError, got %T: %v", err, err)
		})
	}
}

func TestPolicy_ReconcilerOptions(t *testing.T) {
	p, err := ParsePolicy("site.cue", []byte(`fields: reporter: "manual_review"`))
	require.NoError(t, err)

	r := reconcile.New(p.ReconcilerOptions()...)
	assert.Equal(t, p.Field, r.Policy())
	assert.Equal(t, ir.StrategyManualReview, r.Policy().For("reporter"))
	assert.Equal(t, ir.StrategyMergePayloads, r.Policy().For("severity"))
}
