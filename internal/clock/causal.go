package clock

import "sync"

// Causal is the clock owned by a single node.
//
// Thread-safety: all methods are safe for concurrent use. The event store still
// wraps Advance/Merge in its own critical section so that a clock value is never
// published without the event that carries it; Causal on its own only guarantees
// that individual calls are linearizable.
type Causal struct {
	mu    sync.Mutex
	owner string
	v     Vector
}

// NewCausal creates a clock for owner starting at all zeros.
func NewCausal(owner string) *Causal {
	return &Causal{owner: owner, v: Vector{}}
}

// Restore creates a clock for owner resuming from a previously persisted vector.
// The input is copied.
func Restore(owner string, v Vector) *Causal {
	return &Causal{owner: owner, v: v.Clone()}
}

// Owner returns the node identifier that owns this clock.
func (c *Causal) Owner() string {
	return c.owner
}

// Advance increments the owner's counter by one and returns a snapshot.
func (c *Causal) Advance() Vector {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.v[c.owner]++
	return c.v.Clone()
}

// Merge raises every component to max(local, other) and then advances the owner's
// counter, so anything created afterwards causally follows the merged information.
// Returns a snapshot of the result.
func (c *Causal) Merge(other Vector) Vector {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.v = c.v.Max(other)
	c.v[c.owner]++
	return c.v.Clone()
}

// Snapshot returns a copy of the current vector without changing it.
func (c *Causal) Snapshot() Vector {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.v.Clone()
}

// Peek computes what Advance (observed == nil) or Merge (observed != nil) would
// produce without mutating the clock. The store uses it to persist the next value
// before publishing it with Set.
func (c *Causal) Peek(observed Vector) Vector {
	c.mu.Lock()
	defer c.mu.Unlock()
	next := c.v.Max(observed)
	next[c.owner]++
	return next
}

// Set replaces the clock's value. Callers must only pass a vector obtained from
// Peek on this clock; the owner's component never moves backwards.
func (c *Causal) Set(v Vector) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if v.Get(c.owner) < c.v.Get(c.owner) {
		return
	}
	c.v = v.Clone()
}
