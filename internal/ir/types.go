package ir

import (
	"fmt"
	"time"

	"github.com/roach88/outpost/internal/clock"
)

// EventKind tags the kind of record an event carries.
type EventKind string

const (
	KindCaseReport   EventKind = "case_report"
	KindObservation  EventKind = "observation"
	KindAlert        EventKind = "alert"
	KindVerification EventKind = "verification"
	KindMerge        EventKind = "merge"
)

// ValidEventKinds defines allowed event kinds.
var ValidEventKinds = map[EventKind]bool{
	KindCaseReport:   true,
	KindObservation:  true,
	KindAlert:        true,
	KindVerification: true,
	KindMerge:        true,
}

// ParseEventKind validates a user-supplied kind.
func ParseEventKind(s string) (EventKind, error) {
	k := EventKind(s)
	if !ValidEventKinds[k] {
		return "", fmt.Errorf("unknown event kind %q", s)
	}
	return k, nil
}

// SyncStatus is the synchronization state of a locally stored event.
type SyncStatus string

const (
	StatusPending    SyncStatus = "pending"
	StatusInProgress SyncStatus = "in_progress"
	StatusSynced     SyncStatus = "synced"
	StatusConflict   SyncStatus = "conflict"
	StatusFailed     SyncStatus = "failed"
)

// AllStatuses lists every status in display order.
var AllStatuses = []SyncStatus{
	StatusPending, StatusInProgress, StatusSynced, StatusConflict, StatusFailed,
}

// Valid reports whether s is a known status.
func (s SyncStatus) Valid() bool {
	switch s {
	case StatusPending, StatusInProgress, StatusSynced, StatusConflict, StatusFailed:
		return true
	}
	return false
}

// Event is an immutable record of something that happened at a node.
// Only the status fields (Status, RetryCount, LastAttemptAt, Quarantined) change
// after creation, and only through the event store.
type Event struct {
	ID            string       `json:"id"`   // Content-addressed (EventID)
	Kind          EventKind    `json:"kind"`
	NodeID        string       `json:"node_id"`
	WallTime      time.Time    `json:"wall_time"` // Informational only, never used for ordering
	Clock         clock.Vector `json:"clock"`
	Payload       IRObject     `json:"payload"`
	Parents       []string     `json:"parents,omitempty"` // Merge provenance
	Hash          string       `json:"hash"`
	Status        SyncStatus   `json:"status"`
	RetryCount    int          `json:"retry_count"`
	LastAttemptAt *time.Time   `json:"last_attempt_at,omitempty"`
	Seq           int64        `json:"seq"` // Local creation order
	Quarantined   bool         `json:"quarantined,omitempty"`
}

// Wire returns the event stripped of node-local sync bookkeeping, which is the
// form exchanged with a remote authority.
func (e Event) Wire() Event {
	return Event{
		ID:       e.ID,
		Kind:     e.Kind,
		NodeID:   e.NodeID,
		WallTime: e.WallTime,
		Clock:    e.Clock.Clone(),
		Payload:  e.Payload.Clone(),
		Parents:  append([]string(nil), e.Parents...),
		Hash:     e.Hash,
	}
}

// AsObject renders the wire form of e as an IRObject, used when embedding
// events verbatim in review payloads.
func (e Event) AsObject() IRObject {
	parents := stringArray(e.Parents)
	payload := e.Payload.Clone()
	if payload == nil {
		payload = IRObject{}
	}
	return IRObject{
		"id":        IRString(e.ID),
		"kind":      IRString(e.Kind),
		"node_id":   IRString(e.NodeID),
		"wall_time": IRString(e.WallTime.UTC().Format(time.RFC3339Nano)),
		"clock":     vectorObject(e.Clock),
		"payload":   payload,
		"parents":   parents,
		"hash":      IRString(e.Hash),
	}
}
