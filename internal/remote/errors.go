package remote

import "errors"

var (
	// ErrNotFound is returned by GetEvent when the authority has no version of
	// the requested event.
	ErrNotFound = errors.New("remote: event not found")

	// ErrStale is returned by PushEvent when the authority already holds a
	// causally newer version of the event.
	ErrStale = errors.New("remote: stored version is newer")

	// ErrUnavailable is the default error injected by Memory.
	ErrUnavailable = errors.New("remote: unavailable")
)
