package clock

import (
	"fmt"
	"slices"
	"strings"
)

// Ordering is the causal relationship between two vectors.
type Ordering int

const (
	// Equal means both vectors have identical components.
	Equal Ordering = iota
	// Before means the receiver happened-before the argument.
	Before
	// After means the argument happened-before the receiver.
	After
	// Concurrent means neither vector happened-before the other.
	Concurrent
)

// String returns the lowercase name of the ordering.
func (o Ordering) String() string {
	switch o {
	case Equal:
		return "equal"
	case Before:
		return "before"
	case After:
		return "after"
	case Concurrent:
		return "concurrent"
	default:
		return fmt.Sprintf("ordering(%d)", int(o))
	}
}

// Vector is a snapshot of per-node counters.
//
// The zero value (nil) is a valid empty vector. Vectors handed out by Causal are
// copies; mutating them never affects the owning clock.
type Vector map[string]uint64

// Get returns the counter for node, or 0 if the node is absent.
func (v Vector) Get(node string) uint64 {
	return v[node]
}

// Clone returns an independent copy of v. Cloning nil yields an empty, non-nil vector.
func (v Vector) Clone() Vector {
	out := make(Vector, len(v))
	for k, n := range v {
		out[k] = n
	}
	return out
}

// Nodes returns the node identifiers with non-zero counters in sorted order.
func (v Vector) Nodes() []string {
	nodes := make([]string, 0, len(v))
	for k, n := range v {
		if n > 0 {
			nodes = append(nodes, k)
		}
	}
	slices.Sort(nodes)
	return nodes
}

// Compare reports the causal relationship of v relative to other.
// Missing components are treated as 0, so {a:1} and {a:1, b:0} are Equal.
func (v Vector) Compare(other Vector) Ordering {
	less, greater := false, false
	for _, node := range unionNodes(v, other) {
		a, b := v[node], other[node]
		switch {
		case a < b:
			less = true
		case a > b:
			greater = true
		}
		if less && greater {
			return Concurrent
		}
	}
	switch {
	case less:
		return Before
	case greater:
		return After
	default:
		return Equal
	}
}

// Before reports whether v happened-before other: every component of v is <= the
// corresponding component of other and at least one is strictly less.
// Before is irreflexive: v.Before(v) is always false.
func (v Vector) Before(other Vector) bool {
	return v.Compare(other) == Before
}

// ConcurrentWith reports whether neither v.Before(other) nor other.Before(v).
// Equal vectors are concurrent under this definition; use Compare to tell them apart.
func (v Vector) ConcurrentWith(other Vector) bool {
	return !v.Before(other) && !other.Before(v)
}

// Equal reports whether v and other have identical components.
func (v Vector) Equal(other Vector) bool {
	return v.Compare(other) == Equal
}

// Max returns a new vector holding the component-wise maximum of v and other.
func (v Vector) Max(other Vector) Vector {
	out := v.Clone()
	for node, n := range other {
		if n > out[node] {
			out[node] = n
		}
	}
	return out
}

// String renders the vector as "[a:1 b:2]" with nodes sorted.
func (v Vector) String() string {
	var b strings.Builder
	b.WriteByte('[')
	for i, node := range v.Nodes() {
		if i > 0 {
			b.WriteByte(' ')
		}
		fmt.Fprintf(&b, "%s:%d", node, v[node])
	}
	b.WriteByte(']')
	return b.String()
}

func unionNodes(a, b Vector) []string {
	seen := make(map[string]struct{}, len(a)+len(b))
	for k := range a {
		seen[k] = struct{}{}
	}
	for k := range b {
		seen[k] = struct{}{}
	}
	nodes := make([]string, 0, len(seen))
	for k := range seen {
		nodes = append(nodes, k)
	}
	return nodes
}
