package store

import (
	"errors"
	"fmt"

	"github.com/roach88/outpost/internal/ir"
)

var (
	// ErrNotFound is returned when no event has the requested ID.
	ErrNotFound = errors.New("event not found")

	// ErrInvalidStatus is returned for a status outside the known set.
	ErrInvalidStatus = errors.New("invalid sync status")

	// ErrNodeMismatch is returned when a database is opened for a node other
	// than the one that created it.
	ErrNodeMismatch = errors.New("store belongs to another node")

	// ErrRetryWithoutAttempt is returned by UpdateStatus for a retry increment
	// with no attempt time.
	ErrRetryWithoutAttempt = errors.New("retry increment requires an attempt time")
)

// IntegrityError reports a stored event whose hash no longer matches its
// content. The event has been quarantined by the time the error is returned,
// unless the error is joined with the failure to quarantine it.
type IntegrityError struct {
	EventID string
	Err     error
}

func (e *IntegrityError) Error() string {
	return fmt.Sprintf("event %s quarantined: %v", e.EventID, e.Err)
}

func (e *IntegrityError) Unwrap() error {
	return e.Err
}

// IsIntegrityError reports whether err is an integrity failure.
func IsIntegrityError(err error) bool {
	var ie *IntegrityError
	return errors.As(err, &ie) || errors.Is(err, ir.ErrIntegrity)
}
