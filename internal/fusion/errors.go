package fusion

import (
	"errors"
	"fmt"
)

// ErrNoSignals is returned when Fuse is called with an empty signal set.
var ErrNoSignals = errors.New("no signals to fuse")

// ValidationError reports an input the engine refuses to score. No record is
// produced when it is returned.
type ValidationError struct {
	Index  int // Signal index, or -1 for configuration errors
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Index < 0 {
		return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
	}
	return fmt.Sprintf("signal %d: invalid %s: %s", e.Index, e.Field, e.Reason)
}

// IsValidationError reports whether err is a validation failure, including
// ErrNoSignals.
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve) || errors.Is(err, ErrNoSignals)
}
