// Package types defines core interfaces and types for the k8s package.
//
// This package provides the foundational types used across all k8s subpackages,
// including:
// - Record constraint and the mirrored resource records
// - Watch event and change type definitions
// - Session configuration structures
// - Callback types for change notifications
package types

import (
	"fmt"
	"time"
)

// Record is the constraint satisfied by every mirrored resource record.
//
// Key returns the name the record is stored under. DeepCopy returns a copy
// that shares no mutable state (maps) with the receiver, so that readers
// of a mirror never observe later writes.
type Record[T any] interface {
	Key() string
	DeepCopy() T
}

// ChangeType classifies a watch event.
type ChangeType int

const (
	// ChangeAdded reports a record that appeared in the source of truth.
	ChangeAdded ChangeType = iota

	// ChangeModified reports a record that changed in place.
	ChangeModified

	// ChangeDeleted reports a record that was removed.
	ChangeDeleted
)

// String returns the string representation of the change type.
func (c ChangeType) String() string {
	switch c {
	case ChangeAdded:
		return "added"
	case ChangeModified:
		return "modified"
	case ChangeDeleted:
		return "deleted"
	default:
		return "unknown"
	}
}

// Event is a single change notification for one named record.
type Event[T any] struct {
	Type ChangeType
	Item T
}

// ChangeStats tracks aggregated statistics about mirror changes since the last callback.
type ChangeStats struct {
	// Created is the number of records added to the mirror.
	Created int

	// Modified is the number of records updated in the mirror.
	Modified int

	// Deleted is the number of records removed from the mirror.
	Deleted int

	// Resyncs is the number of full re-listings that replaced the mirror contents.
	Resyncs int
}

// Total returns the total number of changes.
func (c ChangeStats) Total() int {
	return c.Created + c.Modified + c.Deleted + c.Resyncs
}

// IsEmpty returns true if no changes occurred.
func (c ChangeStats) IsEmpty() bool {
	return c.Total() == 0
}

// OnChangeCallback is invoked when the mirror fed by a session changes.
//
// Callbacks are debounced according to SessionConfig.DebounceInterval.
type OnChangeCallback func(stats ChangeStats)

// OnSyncCompleteCallback is invoked once after the initial listing has been
// delivered to the sink.
type OnSyncCompleteCallback func(initialCount int)

// OnResyncCallback is invoked every time a re-listing after a stream failure
// has replaced the sink contents.
type OnResyncCallback func(count int)

// SessionConfig configures a watch session for one resource kind.
type SessionConfig struct {
	// Resource names the watched kind for logs, metrics and errors.
	//
	// Example: "nodes", "pods", "config", "deployment"
	Resource string

	// Namespace restricts listing and watching to one namespace.
	// If empty, the session covers all namespaces (or a cluster-scoped kind).
	Namespace string

	// FieldSelector narrows the listing and watch, e.g. "metadata.name=ci-resources".
	FieldSelector string

	// InitialBackoff is the first wait after a stream failure.
	//
	// Default: 500ms
	InitialBackoff time.Duration

	// MaxBackoff caps the exponential wait between reconnect attempts.
	// A stream that stayed open this long counts as healthy and resets the backoff.
	//
	// Default: 30s
	MaxBackoff time.Duration

	// MaxRetries is the number of consecutive failed reconnect attempts
	// tolerated before the session gives up with a TerminalError.
	//
	// Default: 8
	MaxRetries int

	// DebounceInterval sets the minimum time between OnChange invocations.
	//
	// Default: 500ms
	DebounceInterval time.Duration

	// OnChange is called with aggregated statistics after live changes and resyncs.
	// Optional.
	OnChange OnChangeCallback

	// OnSyncComplete is called once after the initial listing. Optional.
	OnSyncComplete OnSyncCompleteCallback

	// OnResync is called after each post-failure re-listing. Optional.
	OnResync OnResyncCallback
}

// Default values for SessionConfig.
const (
	DefaultInitialBackoff   = 500 * time.Millisecond
	DefaultMaxBackoff       = 30 * time.Second
	DefaultMaxRetries       = 8
	DefaultDebounceInterval = 500 * time.Millisecond
)

// SetDefaults applies default values to unset configuration fields.
func (c *SessionConfig) SetDefaults() {
	if c.InitialBackoff == 0 {
		c.InitialBackoff = DefaultInitialBackoff
	}
	if c.MaxBackoff == 0 {
		c.MaxBackoff = DefaultMaxBackoff
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = DefaultMaxRetries
	}
	if c.DebounceInterval == 0 {
		c.DebounceInterval = DefaultDebounceInterval
	}
}

// Validate checks if the configuration is valid.
// Returns an error if any required field is missing or invalid.
func (c *SessionConfig) Validate() error {
	if c.Resource == "" {
		return &ConfigError{Field: "Resource", Message: "resource is required"}
	}
	if c.InitialBackoff < 0 {
		return &ConfigError{Field: "InitialBackoff", Message: "must not be negative"}
	}
	if c.MaxBackoff < c.InitialBackoff {
		return &ConfigError{
			Field:   "MaxBackoff",
			Message: fmt.Sprintf("must be at least InitialBackoff (%s)", c.InitialBackoff),
		}
	}
	if c.MaxRetries < 0 {
		return &ConfigError{Field: "MaxRetries", Message: "must not be negative"}
	}
	return nil
}

// ConfigError represents a configuration validation error.
type ConfigError struct {
	Field   string
	Message string
}

func (e *ConfigError) Error() string {
	return "config error in " + e.Field + ": " + e.Message
}
