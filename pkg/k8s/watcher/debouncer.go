package watcher

import (
	"sync"
	"time"

	"ci-capacity/pkg/k8s/types"
)

// Debouncer batches rapid mirror changes into a single callback invocation.
//
// This prevents overwhelming observers with one notification per event when
// many records change in a short time (e.g. a resync after a reconnect or a
// burst of pod scheduling).
//
// Thread-safe for concurrent access.
type Debouncer struct {
	mu       sync.Mutex
	interval time.Duration
	timer    *time.Timer
	stats    types.ChangeStats
	callback types.OnChangeCallback
	pending  bool
	stopped  bool
}

// NewDebouncer creates a new debouncer with the specified interval and callback.
//
// The callback will be invoked at most once per interval, with aggregated
// statistics about all changes that occurred during that interval.
// A nil callback turns the debouncer into a no-op.
func NewDebouncer(interval time.Duration, callback types.OnChangeCallback) *Debouncer {
	return &Debouncer{
		interval: interval,
		callback: callback,
	}
}

// Record records one applied event of the given change type.
func (d *Debouncer) Record(changeType types.ChangeType) {
	d.mu.Lock()
	defer d.mu.Unlock()

	switch changeType {
	case types.ChangeAdded:
		d.stats.Created++
	case types.ChangeModified:
		d.stats.Modified++
	case types.ChangeDeleted:
		d.stats.Deleted++
	default:
		return
	}
	d.scheduleCallback()
}

// RecordResync records a full replacement of the mirror contents.
func (d *Debouncer) RecordResync() {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.stats.Resyncs++
	d.scheduleCallback()
}

// scheduleCallback schedules a callback if not already pending.
// Must be called with lock held.
func (d *Debouncer) scheduleCallback() {
	if d.pending || d.stopped || d.callback == nil {
		return
	}

	d.pending = true
	d.timer = time.AfterFunc(d.interval, d.fireCallback)
}

// fireCallback invokes the callback with aggregated statistics.
func (d *Debouncer) fireCallback() {
	d.mu.Lock()
	stats := d.stats
	d.stats = types.ChangeStats{}
	d.pending = false
	stopped := d.stopped
	d.mu.Unlock()

	// Invoke callback outside lock
	if !stopped && !stats.IsEmpty() {
		d.callback(stats)
	}
}

// Flush immediately invokes the callback with current statistics.
//
// This is useful during shutdown to ensure pending changes are reported.
func (d *Debouncer) Flush() {
	d.mu.Lock()
	if d.timer != nil {
		d.timer.Stop()
	}
	stats := d.stats
	d.stats = types.ChangeStats{}
	d.pending = false
	d.mu.Unlock()

	if d.callback != nil && !stats.IsEmpty() {
		d.callback(stats)
	}
}

// Stop cancels any pending callback and ignores later recordings.
func (d *Debouncer) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}

	d.pending = false
	d.stopped = true
}
