// Package store provides the in-memory mirror used to hold the live state of
// one watched resource kind.
package store

import (
	"fmt"
	"strings"
)

// StoreError represents a generic store operation error.
type StoreError struct {
	Operation string
	Keys      []string
	Err       error
}

func (e *StoreError) Error() string {
	keyStr := strings.Join(e.Keys, "/")
	if keyStr == "" {
		return fmt.Sprintf("store error during %s: %v", e.Operation, e.Err)
	}
	return fmt.Sprintf("store error during %s for key '%s': %v", e.Operation, keyStr, e.Err)
}

func (e *StoreError) Unwrap() error {
	return e.Err
}
