package clock

import (
	"encoding/json"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVector_Compare(t *testing.T) {
	tests := []struct {
		name string
		a, b Vector
		want Ordering
	}{
		{"both empty", Vector{}, Vector{}, Equal},
		{"nil vs empty", nil, Vector{}, Equal},
		{"missing component is zero", Vector{"a": 1}, Vector{"a": 1, "b": 0}, Equal},
		{"strictly less in one", Vector{"a": 1}, Vector{"a": 2}, Before},
		{"less via missing", Vector{"a": 1}, Vector{"a": 1, "b": 1}, Before},
		{"greater", Vector{"a": 3, "b": 1}, Vector{"a": 2, "b": 1}, After},
		{"disjoint nodes", Vector{"A": 1}, Vector{"B": 1}, Concurrent},
		{"crossed", Vector{"a": 2, "b": 1}, Vector{"a": 1, "b": 2}, Concurrent},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.a.Compare(tt.b))
		})
	}
}

func TestVector_BeforeIsIrreflexive(t *testing.T) {
	v := Vector{"a": 4, "b": 2}
	assert.False(t, v.Before(v))
	assert.True(t, v.ConcurrentWith(v), "equal vectors are concurrent by definition")
}

func TestVector_ConcurrentWith(t *testing.T) {
	a := Vector{"A": 1}
	b := Vector{"B": 1}
	assert.True(t, a.ConcurrentWith(b))
	assert.True(t, b.ConcurrentWith(a))

	c := Vector{"A": 1, "B": 1}
	assert.False(t, a.ConcurrentWith(c))
	assert.True(t, a.Before(c))
	assert.True(t, b.Before(c))
}

func TestVector_CompareDoesNotMutate(t *testing.T) {
	a := Vector{"a": 1}
	b := Vector{"b": 1}
	_ = a.Compare(b)
	assert.Len(t, a, 1)
	assert.Len(t, b, 1)
}

func TestVector_Max(t *testing.T) {
	a := Vector{"a": 3, "b": 1}
	b := Vector{"b": 5, "c": 2}
	m := a.Max(b)

	assert.Equal(t, Vector{"a": 3, "b": 5, "c": 2}, m)
	assert.Equal(t, Vector{"a": 3, "b": 1}, a, "Max must not mutate receiver")
}

func TestVector_String(t *testing.T) {
	assert.Equal(t, "[A:1 B:2]", Vector{"B": 2, "A": 1}.String())
	assert.Equal(t, "[]", Vector(nil).String())
}

func TestVector_JSONRoundTrip(t *testing.T) {
	v := Vector{"node-a": 7, "node-b": 1}
	data, err := json.Marshal(v)
	require.NoError(t, err)
	assert.JSONEq(t, `{"node-a":7,"node-b":1}`, string(data))

	var got Vector
	require.NoError(t, json.Unmarshal(data, &got))
	assert.True(t, v.Equal(got))
}

func TestCausal_Advance(t *testing.T) {
	c := NewCausal("A")

	assert.Equal(t, Vector{"A": 1}, c.Advance())
	assert.Equal(t, Vector{"A": 2}, c.Advance())
	assert.Equal(t, uint64(2), c.Snapshot().Get("A"))
}

func TestCausal_MergeRaisesThenAdvances(t *testing.T) {
	c := Restore("A", Vector{"A": 2, "B": 1})

	got := c.Merge(Vector{"B": 4, "C": 1, "A": 1})

	assert.Equal(t, Vector{"A": 3, "B": 4, "C": 1}, got)
}

func TestCausal_MergeOnlyAdvancesOwner(t *testing.T) {
	c := NewCausal("A")
	got := c.Merge(Vector{"B": 3})
	assert.Equal(t, uint64(3), got.Get("B"), "foreign counters are raised, never incremented")
	assert.Equal(t, uint64(1), got.Get("A"))
}

func TestCausal_SnapshotIsCopy(t *testing.T) {
	c := NewCausal("A")
	c.Advance()

	snap := c.Snapshot()
	snap["A"] = 99

	assert.Equal(t, uint64(1), c.Snapshot().Get("A"))
}

func TestCausal_PeekDoesNotMutate(t *testing.T) {
	c := Restore("A", Vector{"A": 5})

	next := c.Peek(Vector{"B": 2})
	assert.Equal(t, Vector{"A": 6, "B": 2}, next)
	assert.Equal(t, Vector{"A": 5}, c.Snapshot())

	c.Set(next)
	assert.Equal(t, next, c.Snapshot())
}

func TestCausal_SetNeverRegressesOwner(t *testing.T) {
	c := Restore("A", Vector{"A": 5})
	c.Set(Vector{"A": 3})
	assert.Equal(t, uint64(5), c.Snapshot().Get("A"))
}

func TestCausal_ConcurrentAdvance(t *testing.T) {
	c := NewCausal("A")
	const goroutines = 50
	const calls = 40

	var wg sync.WaitGroup
	seen := make(chan uint64, goroutines*calls)
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < calls; j++ {
				seen <- c.Advance().Get("A")
			}
		}()
	}
	wg.Wait()
	close(seen)

	unique := make(map[uint64]bool)
	for n := range seen {
		assert.False(t, unique[n], "counter %d handed out twice", n)
		unique[n] = true
	}
	assert.Len(t, unique, goroutines*calls)
	assert.Equal(t, uint64(goroutines*calls), c.Snapshot().Get("A"))
}
