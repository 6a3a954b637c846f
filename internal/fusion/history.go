package fusion

import (
	"sync"

	"github.com/roach88/outpost/internal/ir"
)

// DefaultHistoryCapacity is used when NewHistory is given a non-positive capacity.
const DefaultHistoryCapacity = 1000

// History is a bounded, append-only log of fused records owned by the caller.
// When full, appending drops the oldest record. Safe for concurrent use.
type History struct {
	mu      sync.Mutex
	records []ir.FusedRecord
	start   int // index of the oldest record once the buffer has wrapped
	dropped int
}

// NewHistory creates a history holding at most capacity records.
func NewHistory(capacity int) *History {
	if capacity <= 0 {
		capacity = DefaultHistoryCapacity
	}
	return &History{records: make([]ir.FusedRecord, 0, capacity)}
}

// Append records r, evicting the oldest record if the history is full.
func (h *History) Append(r ir.FusedRecord) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if len(h.records) < cap(h.records) {
		h.records = append(h.records, r)
		return
	}
	h.records[h.start] = r
	h.start = (h.start + 1) % len(h.records)
	h.dropped++
}

// Records returns the retained records, oldest first.
func (h *History) Records() []ir.FusedRecord {
	h.mu.Lock()
	defer h.mu.Unlock()

	out := make([]ir.FusedRecord, 0, len(h.records))
	out = append(out, h.records[h.start:]...)
	out = append(out, h.records[:h.start]...)
	return out
}

// Len returns the number of retained records.
func (h *History) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.records)
}

// Capacity returns the maximum number of retained records.
func (h *History) Capacity() int {
	return cap(h.records)
}

// Dropped returns how many records have been evicted.
func (h *History) Dropped() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.dropped
}
