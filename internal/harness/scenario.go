package harness

import (
	"bytes"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/roach88/outpost/internal/ir"
)

// Scenario defines a conformance scenario. A scenario exercises fusion, sync,
// or both, and asserts on the outcome.
type Scenario struct {
	// Name uniquely identifies this scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Fusion fuses a fixed set of signals.
	Fusion *FusionSetup `yaml:"fusion,omitempty"`

	// Sync creates local events, seeds the remote authority, and runs batches.
	Sync *SyncSetup `yaml:"sync,omitempty"`

	// Assertions validate the outcome.
	Assertions []Assertion `yaml:"assertions"`
}

// FusionSetup describes one fusion call.
type FusionSetup struct {
	Subject string       `yaml:"subject"`
	Signals []SignalSpec `yaml:"signals"`

	// Optional threshold overrides.
	SpatialThresholdKm        float64       `yaml:"spatial_threshold_km,omitempty"`
	TemporalThreshold         time.Duration `yaml:"temporal_threshold,omitempty"`
	MinSourcesForConfirmation int           `yaml:"min_sources_for_confirmation,omitempty"`
}

// SignalSpec is a signal with its timestamp given as an offset from the
// scenario epoch, e.g. "30m".
type SignalSpec struct {
	Source      string            `yaml:"source"`
	Subject     string            `yaml:"subject,omitempty"`
	Location    *ir.GeoPoint      `yaml:"location,omitempty"`
	Observation string            `yaml:"observation,omitempty"`
	Secondary   string            `yaml:"secondary,omitempty"`
	Severity    *int              `yaml:"severity,omitempty"`
	At          time.Duration     `yaml:"at"`
	Metadata    map[string]string `yaml:"metadata,omitempty"`
}

// SyncSetup describes one node synchronizing with an in-memory authority.
type SyncSetup struct {
	// Node is the local node ID (default "A").
	Node string `yaml:"node,omitempty"`

	// MaxRetries bounds remote failures per event (default 5).
	MaxRetries int `yaml:"max_retries,omitempty"`

	// Batches is the number of batches to run (default 1).
	Batches int `yaml:"batches,omitempty"`

	// Policy is an optional inline CUE reconciliation policy.
	Policy string `yaml:"policy,omitempty"`

	// Events are created locally in order and labelled e0, e1, ...
	Events []EventSpec `yaml:"events"`
}

// EventSpec is a locally created event.
type EventSpec struct {
	Kind    string         `yaml:"kind"`
	Payload map[string]any `yaml:"payload"`

	// Remote is the authority's version of this event, if any.
	Remote *RemoteVersion `yaml:"remote,omitempty"`

	// Unavailable makes every remote call for this event fail.
	Unavailable bool `yaml:"unavailable,omitempty"`
}

// RemoteVersion is another node's version of a local event.
type RemoteVersion struct {
	Node    string            `yaml:"node"`
	Clock   map[string]uint64 `yaml:"clock"`
	Payload map[string]any    `yaml:"payload"`
}

// Assertion validates part of a scenario's outcome.
type Assertion struct {
	// Type selects the assertion; see the Assert* constants.
	Type string `yaml:"type"`

	// Event is a local event index (event_status, outcome).
	Event *int `yaml:"event,omitempty"`

	// Batch is a 1-based batch number (outcome).
	Batch int `yaml:"batch,omitempty"`

	// Index selects a conflict report (conflict).
	Index int `yaml:"index,omitempty"`

	// Field names a fused record field (fused_field).
	Field string `yaml:"field,omitempty"`

	// Expect is the expected value. For conflict it is a subset of report fields.
	Expect any `yaml:"expect,omitempty"`

	// Min and Max bound fused_score.
	Min *float64 `yaml:"min,omitempty"`
	Max *float64 `yaml:"max,omitempty"`

	// Count is the expected count (conflict_count, merge_count, retry_count).
	Count *int `yaml:"count,omitempty"`
}

// Assertion type constants.
const (
	AssertFusedStatus   = "fused_status"
	AssertFusedScore    = "fused_score"
	AssertFusedField    = "fused_field"
	AssertEventStatus   = "event_status"
	AssertRetryCount    = "retry_count"
	AssertOutcome       = "outcome"
	AssertConflictCount = "conflict_count"
	AssertConflict      = "conflict"
	AssertMergeCount    = "merge_count"
	AssertNoLostEvents  = "no_lost_events"
)

// LoadScenario reads and parses a scenario YAML file.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is missing required fields.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario parses scenario YAML with strict field checking.
func ParseScenario(data []byte) (*Scenario, error) {
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true) // Reject unknown fields
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if s.Fusion == nil && s.Sync == nil {
		return fmt.Errorf("at least one of fusion or sync is required")
	}
	if len(s.Assertions) == 0 {
		return fmt.Errorf("assertions list is required and must be non-empty")
	}

	if s.Fusion != nil {
		for i, sig := range s.Fusion.Signals {
			if !ir.ValidSourceKinds[ir.SourceKind(sig.Source)] {
				return fmt.Errorf("fusion.signals[%d]: unknown source %q", i, sig.Source)
			}
		}
	}

	if s.Sync != nil {
		if len(s.Sync.Events) == 0 {
			return fmt.Errorf("sync.events list is required and must be non-empty")
		}
		if s.Sync.Batches < 0 {
			return fmt.Errorf("sync.batches must be non-negative")
		}
		for i, ev := range s.Sync.Events {
			if _, err := ir.ParseEventKind(ev.Kind); err != nil || ev.Kind == string(ir.KindMerge) {
				return fmt.Errorf("sync.events[%d]: kind %q cannot be created directly", i, ev.Kind)
			}
			if ev.Remote != nil && ev.Remote.Node == "" {
				return fmt.Errorf("sync.events[%d].remote: node is required", i)
			}
		}
	}

	for i := range s.Assertions {
		if err := validateAssertion(i, &s.Assertions[i], s); err != nil {
			return err
		}
	}
	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion, s *Scenario) error {
	needsFusion := func() error {
		if s.Fusion == nil {
			return fmt.Errorf("assertions[%d]: %s requires a fusion section", index, a.Type)
		}
		return nil
	}
	needsSync := func() error {
		if s.Sync == nil {
			return fmt.Errorf("assertions[%d]: %s requires a sync section", index, a.Type)
		}
		return nil
	}
	needsEvent := func() error {
		if err := needsSync(); err != nil {
			return err
		}
		if a.Event == nil || *a.Event < 0 || *a.Event >= len(s.Sync.Events) {
			return fmt.Errorf("assertions[%d]: event must index sync.events", index)
		}
		return nil
	}

	switch a.Type {
	case "":
		return fmt.Errorf("assertions[%d]: type is required", index)
	case AssertFusedStatus:
		if a.Expect == nil {
			return fmt.Errorf("assertions[%d]: expect is required for %s", index, a.Type)
		}
		return needsFusion()
	case AssertFusedScore:
		if a.Min == nil && a.Max == nil {
			return fmt.Errorf("assertions[%d]: min or max is required for %s", index, a.Type)
		}
		return needsFusion()
	case AssertFusedField:
		if a.Field == "" {
			return fmt.Errorf("assertions[%d]: field is required for %s", index, a.Type)
		}
		return needsFusion()
	case AssertEventStatus, AssertOutcome:
		if a.Expect == nil {
			return fmt.Errorf("assertions[%d]: expect is required for %s", index, a.Type)
		}
		return needsEvent()
	case AssertRetryCount:
		if a.Count == nil {
			return fmt.Errorf("assertions[%d]: count is required for %s", index, a.Type)
		}
		return needsEvent()
	case AssertConflictCount, AssertMergeCount:
		if a.Count == nil {
			return fmt.Errorf("assertions[%d]: count is required for %s", index, a.Type)
		}
		return needsSync()
	case AssertConflict:
		if _, ok := a.Expect.(map[string]any); !ok {
			return fmt.Errorf("assertions[%d]: expect must be a map for %s", index, a.Type)
		}
		return needsSync()
	case AssertNoLostEvents:
		return needsSync()
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
}
