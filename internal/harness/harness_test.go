package harness

import (
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/outpost/internal/ir"
)

// TestScenarios runs every fixture and compares it with its golden snapshot.
func TestScenarios(t *testing.T) {
	paths, err := filepath.Glob("testdata/scenarios/*.yaml")
	require.NoError(t, err)

	for _, path := range paths {
		s, err := LoadScenario(path)
		require.NoError(t, err)

		t.Run(s.Name, func(t *testing.T) {
			result, err := RunWithGolden(t, s)
			require.NoError(t, err)
			assert.True(t, result.Pass, "assertion failures:\n%s", strings.Join(result.Errors, "\n"))
		})
	}
}

func TestRun_Deterministic(t *testing.T) {
	s, err := LoadScenario("testdata/scenarios/severity_merge.yaml")
	require.NoError(t, err)

	first, err := Run(s)
	require.NoError(t, err)
	second, err := Run(s)
	require.NoError(t, err)

	a, err := Snapshot(s.Name, first)
	require.NoError(t, err)
	b, err := Snapshot(s.Name, second)
	require.NoError(t, err)
	assert.Equal(t, string(a), string(b))

	require.Len(t, first.Merges, 1)
	assert.Equal(t, first.Merges[0].ID, second.Merges[0].ID, "merge event IDs are content addressed")
}

func TestRun_InlinePolicy(t *testing.T) {
	s, err := ParseScenario([]byte(`
name: lww_policy
description: "A policy override resolves severity by last write"
sync:
  policy: |
    fields: severity: "last_write_wins"
  events:
    - kind: case_report
      payload: { case_id: c9, severity: 5 }
      remote:
        node: B
        clock: { B: 1 }
        payload: { case_id: c9, severity: 1 }
assertions:
  - type: conflict
    index: 0
    expect: { strategy: last_write_wins, resolved: m1, confidence: 0.9 }
`))
	require.NoError(t, err)

	result, err := Run(s)
	require.NoError(t, err)
	require.True(t, result.Pass, strings.Join(result.Errors, "\n"))

	// The remote version was written after the local one.
	require.Len(t, result.Merges, 1)
	assert.Equal(t, ir.IRInt(1), result.Merges[0].Payload["severity"])
	assert.Equal(t, []string{"e0", "remote:e0"}, result.Merges[0].Parents)
}

func TestRun_InvalidPolicy(t *testing.T) {
	s, err := ParseScenario([]byte(`
name: bad_policy
description: "Unknown strategy"
sync:
  policy: |
    default: "coin_flip"
  events:
    - kind: alert
      payload: { alert_id: a1 }
assertions:
  - type: no_lost_events
`))
	require.NoError(t, err)

	_, err = Run(s)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "sync:")
}

func TestRun_FailingAssertionsAreReported(t *testing.T) {
	s, err := ParseScenario([]byte(`
name: wrong_expectations
description: "Every assertion here is false"
sync:
  events:
    - kind: alert
      payload: { alert_id: a1 }
assertions:
  - type: outcome
    event: 0
    expect: merged
  - type: event_status
    event: 0
    expect: failed
  - type: conflict_count
    count: 2
`))
	require.NoError(t, err)

	result, err := Run(s)
	require.NoError(t, err)
	assert.False(t, result.Pass)
	require.Len(t, result.Errors, 3)
	assert.Contains(t, result.Errors[0], "e0 outcome merged in batch 1")
	assert.Contains(t, result.Errors[0], "Actual: pushed")
	assert.Contains(t, result.Errors[1], "Actual: synced")
	assert.Contains(t, result.Errors[2], "Expected: 2")
}
