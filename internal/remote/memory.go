package remote

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/roach88/outpost/internal/ir"
)

// Memory is an in-process remote authority. Failures can be injected to
// exercise retry handling.
type Memory struct {
	mu       sync.Mutex
	events   map[string]ir.Event
	pushes   int
	failNext int
	failErr  error
	failIDs  map[string]error
	blockIDs map[string]bool
}

// NewMemory creates an empty authority.
func NewMemory() *Memory {
	return &Memory{
		events:   make(map[string]ir.Event),
		failIDs:  make(map[string]error),
		blockIDs: make(map[string]bool),
	}
}

// FailNext makes the next n calls fail with err (ErrUnavailable if nil).
func (m *Memory) FailNext(n int, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err == nil {
		err = ErrUnavailable
	}
	m.failNext = n
	m.failErr = err
}

// FailID makes every call for id fail with err until cleared with a nil err.
func (m *Memory) FailID(id string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err == nil {
		delete(m.failIDs, id)
		return
	}
	m.failIDs[id] = err
}

// BlockID makes calls for id block until their context is done.
func (m *Memory) BlockID(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.blockIDs[id] = true
}

func (m *Memory) inject(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	blocked := m.blockIDs[id]
	var err error
	if m.failNext > 0 {
		m.failNext--
		err = m.failErr
	} else if e, ok := m.failIDs[id]; ok {
		err = e
	}
	m.mu.Unlock()

	if blocked {
		<-ctx.Done()
		return ctx.Err()
	}
	return err
}

// GetEvent returns the stored version of id, or ErrNotFound.
func (m *Memory) GetEvent(ctx context.Context, id string) (ir.Event, error) {
	if err := m.inject(ctx, id); err != nil {
		return ir.Event{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	ev, ok := m.events[id]
	if !ok {
		return ir.Event{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return ev.Wire(), nil
}

// PushEvent stores ev.
func (m *Memory) PushEvent(ctx context.Context, ev ir.Event) error {
	if err := m.inject(ctx, ev.ID); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	wire := ev.Wire()
	if stored, ok := m.events[ev.ID]; ok {
		if skip, err := compareStored(stored, wire); skip || err != nil {
			return err
		}
	}
	m.events[ev.ID] = wire
	m.pushes++
	return nil
}

// Pushes returns how many pushes changed stored state.
func (m *Memory) Pushes() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pushes
}

// Len returns the number of stored events.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.events)
}

// IDs returns the stored event IDs, sorted.
func (m *Memory) IDs() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]string, 0, len(m.events))
	for id := range m.events {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
