package mutation

import (
	"errors"
	"fmt"
)

// ErrValidation is matched by every ValidationError via errors.Is.
var ErrValidation = errors.New("invalid mutation input")

// ValidationError reports input rejected before any request was sent.
type ValidationError struct {
	Field  string
	Value  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s %q: %s", e.Field, e.Value, e.Reason)
}

// Is reports whether target is ErrValidation.
func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// MutationError reports a patch the cluster rejected or that could not be
// delivered. Key and Value carry the attempted change for diagnostics.
type MutationError struct {
	Operation string
	Target    string
	Key       string
	Value     string
	Err       error
}

func (e *MutationError) Error() string {
	return fmt.Sprintf("%s on %s failed (key=%q value=%q): %v", e.Operation, e.Target, e.Key, e.Value, e.Err)
}

func (e *MutationError) Unwrap() error {
	return e.Err
}
