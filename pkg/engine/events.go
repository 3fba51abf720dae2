package engine

import (
	"time"

	"ci-capacity/pkg/k8s/types"
)

// Event type constants, dot-notation by subject.
const (
	// Mirror event types.
	EventTypeMirrorSynced   = "mirror.synced"
	EventTypeMirrorChanged  = "mirror.changed"
	EventTypeMirrorResynced = "mirror.resynced"

	// Session event types.
	EventTypeSessionFailed = "session.failed"

	// Mutation event types.
	EventTypeMutationApplied = "mutation.applied"
	EventTypeMutationFailed  = "mutation.failed"
)

// -----------------------------------------------------------------------------
// Mirror Events
// -----------------------------------------------------------------------------

// MirrorSyncedEvent is published once per resource kind when its mirror holds
// the first complete listing.
type MirrorSyncedEvent struct {
	Resource string
	Count    int

	timestamp time.Time
}

// NewMirrorSyncedEvent creates a new MirrorSyncedEvent.
func NewMirrorSyncedEvent(resource string, count int) *MirrorSyncedEvent {
	return &MirrorSyncedEvent{
		Resource:  resource,
		Count:     count,
		timestamp: time.Now(),
	}
}

func (e *MirrorSyncedEvent) EventType() string    { return EventTypeMirrorSynced }
func (e *MirrorSyncedEvent) Timestamp() time.Time { return e.timestamp }

// MirrorChangedEvent carries the debounced change statistics of one mirror.
type MirrorChangedEvent struct {
	Resource string
	Stats    types.ChangeStats

	timestamp time.Time
}

// NewMirrorChangedEvent creates a new MirrorChangedEvent.
func NewMirrorChangedEvent(resource string, stats types.ChangeStats) *MirrorChangedEvent {
	return &MirrorChangedEvent{
		Resource:  resource,
		Stats:     stats,
		timestamp: time.Now(),
	}
}

func (e *MirrorChangedEvent) EventType() string    { return EventTypeMirrorChanged }
func (e *MirrorChangedEvent) Timestamp() time.Time { return e.timestamp }

// MirrorResyncedEvent is published after a reconnect replaced a mirror's
// contents with a fresh listing of Count records.
type MirrorResyncedEvent struct {
	Resource string
	Count    int

	timestamp time.Time
}

// NewMirrorResyncedEvent creates a new MirrorResyncedEvent.
func NewMirrorResyncedEvent(resource string, count int) *MirrorResyncedEvent {
	return &MirrorResyncedEvent{
		Resource:  resource,
		Count:     count,
		timestamp: time.Now(),
	}
}

func (e *MirrorResyncedEvent) EventType() string    { return EventTypeMirrorResynced }
func (e *MirrorResyncedEvent) Timestamp() time.Time { return e.timestamp }

// -----------------------------------------------------------------------------
// Session Events
// -----------------------------------------------------------------------------

// SessionFailedEvent is published when a watch session gave up reconnecting.
// The mirror of that kind stops receiving updates.
type SessionFailedEvent struct {
	Resource string
	Err      error

	timestamp time.Time
}

// NewSessionFailedEvent creates a new SessionFailedEvent.
func NewSessionFailedEvent(resource string, err error) *SessionFailedEvent {
	return &SessionFailedEvent{
		Resource:  resource,
		Err:       err,
		timestamp: time.Now(),
	}
}

func (e *SessionFailedEvent) EventType() string    { return EventTypeSessionFailed }
func (e *SessionFailedEvent) Timestamp() time.Time { return e.timestamp }

// -----------------------------------------------------------------------------
// Mutation Events
// -----------------------------------------------------------------------------

// MutationAppliedEvent is published when the cluster accepted a patch. The
// mirrors reflect it only after the matching watch event arrives.
type MutationAppliedEvent struct {
	Operation string
	Target    string
	Key       string
	Value     string
	Duration  time.Duration

	timestamp time.Time
}

// NewMutationAppliedEvent creates a new MutationAppliedEvent.
func NewMutationAppliedEvent(operation, target, key, value string, duration time.Duration) *MutationAppliedEvent {
	return &MutationAppliedEvent{
		Operation: operation,
		Target:    target,
		Key:       key,
		Value:     value,
		Duration:  duration,
		timestamp: time.Now(),
	}
}

func (e *MutationAppliedEvent) EventType() string    { return EventTypeMutationApplied }
func (e *MutationAppliedEvent) Timestamp() time.Time { return e.timestamp }

// MutationFailedEvent is published when a mutation was rejected, either
// locally during validation or by the cluster.
type MutationFailedEvent struct {
	Operation string
	Target    string
	Err       error
	Duration  time.Duration

	timestamp time.Time
}

// NewMutationFailedEvent creates a new MutationFailedEvent.
func NewMutationFailedEvent(operation, target string, err error, duration time.Duration) *MutationFailedEvent {
	return &MutationFailedEvent{
		Operation: operation,
		Target:    target,
		Err:       err,
		Duration:  duration,
		timestamp: time.Now(),
	}
}

func (e *MutationFailedEvent) EventType() string    { return EventTypeMutationFailed }
func (e *MutationFailedEvent) Timestamp() time.Time { return e.timestamp }
