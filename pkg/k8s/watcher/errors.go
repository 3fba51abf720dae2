package watcher

import "fmt"

// TerminalError is returned by Session.Run when consecutive reconnect
// attempts exceeded the configured retry budget.
type TerminalError struct {
	Resource string
	Attempts int
	Err      error
}

func (e *TerminalError) Error() string {
	return fmt.Sprintf("watch session for %s gave up after %d attempts: %v", e.Resource, e.Attempts, e.Err)
}

func (e *TerminalError) Unwrap() error {
	return e.Err
}
