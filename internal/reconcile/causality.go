package reconcile

import "github.com/roach88/outpost/internal/clock"

// Outcome is the result of comparing the clocks of two versions.
type Outcome int

const (
	// AcceptRemote: the local version happened-before the remote one.
	AcceptRemote Outcome = iota
	// KeepLocal: the remote version happened-before the local one.
	KeepLocal
	// Concurrent: neither version causally follows the other.
	Concurrent
)

func (o Outcome) String() string {
	switch o {
	case AcceptRemote:
		return "accept_remote"
	case KeepLocal:
		return "keep_local"
	case Concurrent:
		return "concurrent"
	default:
		return "unknown"
	}
}

// Causality applies the happened-before short-circuit. Equal clocks are
// concurrent and go through full reconciliation.
func Causality(local, remote clock.Vector) Outcome {
	switch {
	case local.Before(remote):
		return AcceptRemote
	case remote.Before(local):
		return KeepLocal
	default:
		return Concurrent
	}
}
