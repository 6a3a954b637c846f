package ir

import "time"

// ConflictType classifies how two versions of a record disagree.
type ConflictType string

const (
	ConflictNone       ConflictType = "none"
	ConflictTimestamp  ConflictType = "timestamp"
	ConflictValue      ConflictType = "value"
	ConflictStructural ConflictType = "structural"
	ConflictSemantic   ConflictType = "semantic"
)

// Strategy names a conflict resolution strategy.
type Strategy string

const (
	StrategyLastWriteWins   Strategy = "last_write_wins"
	StrategyFirstWriteWins  Strategy = "first_write_wins"
	StrategyHighestSeverity Strategy = "highest_severity"
	StrategyMostComplete    Strategy = "most_complete"
	StrategyMergePayloads   Strategy = "merge_payloads"
	StrategyManualReview    Strategy = "manual_review"
)

// ValidStrategies defines allowed strategies.
var ValidStrategies = map[Strategy]bool{
	StrategyLastWriteWins:   true,
	StrategyFirstWriteWins:  true,
	StrategyHighestSeverity: true,
	StrategyMostComplete:    true,
	StrategyMergePayloads:   true,
	StrategyManualReview:    true,
}

// ConflictReport records one reconciliation attempt. Reports are never mutated
// once appended to the conflict log.
type ConflictReport struct {
	ID                   string       `json:"id"`
	Classification       ConflictType `json:"classification"`
	LocalEventID         string       `json:"local_event_id"`
	RemoteEventID        string       `json:"remote_event_id"`
	Fields               []string     `json:"fields"`
	Strategy             Strategy     `json:"strategy"`
	ResolvedEventID      string       `json:"resolved_event_id,omitempty"` // Empty when manual review is required
	RequiresManualReview bool         `json:"requires_manual_review"`
	Confidence           float64      `json:"confidence"`
	ReviewPayload        IRObject     `json:"review_payload,omitempty"`
	CreatedAt            time.Time    `json:"created_at"`
}
