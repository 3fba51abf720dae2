// Copyright 2025 Philipp Hossner
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package watcher

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ci-capacity/pkg/k8s/types"
)

type statsRecorder struct {
	mu       sync.Mutex
	received []types.ChangeStats
}

func (r *statsRecorder) callback(stats types.ChangeStats) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.received = append(r.received, stats)
}

func (r *statsRecorder) snapshot() []types.ChangeStats {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]types.ChangeStats(nil), r.received...)
}

func TestNewDebouncer(t *testing.T) {
	rec := &statsRecorder{}
	debouncer := NewDebouncer(100*time.Millisecond, rec.callback)

	require.NotNil(t, debouncer)
	assert.Equal(t, 100*time.Millisecond, debouncer.interval)
	assert.False(t, debouncer.pending)
}

func TestDebouncer_AggregatesWithinInterval(t *testing.T) {
	rec := &statsRecorder{}
	debouncer := NewDebouncer(50*time.Millisecond, rec.callback)

	debouncer.Record(types.ChangeAdded)
	debouncer.Record(types.ChangeAdded)
	debouncer.Record(types.ChangeModified)
	debouncer.Record(types.ChangeDeleted)
	debouncer.RecordResync()

	require.Eventually(t, func() bool { return len(rec.snapshot()) == 1 }, time.Second, 10*time.Millisecond)

	got := rec.snapshot()[0]
	assert.Equal(t, 2, got.Created)
	assert.Equal(t, 1, got.Modified)
	assert.Equal(t, 1, got.Deleted)
	assert.Equal(t, 1, got.Resyncs)
}

func TestDebouncer_IgnoresUnknownChangeType(t *testing.T) {
	rec := &statsRecorder{}
	debouncer := NewDebouncer(10*time.Millisecond, rec.callback)

	debouncer.Record(types.ChangeType(99))
	time.Sleep(50 * time.Millisecond)

	assert.Empty(t, rec.snapshot())
}

func TestDebouncer_Flush(t *testing.T) {
	rec := &statsRecorder{}
	debouncer := NewDebouncer(time.Hour, rec.callback)

	debouncer.Record(types.ChangeModified)
	debouncer.Flush()

	got := rec.snapshot()
	require.Len(t, got, 1)
	assert.Equal(t, 1, got[0].Modified)

	// Nothing pending, nothing reported.
	debouncer.Flush()
	assert.Len(t, rec.snapshot(), 1)
}

func TestDebouncer_StopCancelsPendingAndLaterRecordings(t *testing.T) {
	rec := &statsRecorder{}
	debouncer := NewDebouncer(20*time.Millisecond, rec.callback)

	debouncer.Record(types.ChangeAdded)
	debouncer.Stop()
	debouncer.Record(types.ChangeAdded)

	time.Sleep(80 * time.Millisecond)
	assert.Empty(t, rec.snapshot())
}

func TestDebouncer_NilCallback(t *testing.T) {
	debouncer := NewDebouncer(time.Millisecond, nil)

	assert.NotPanics(t, func() {
		debouncer.Record(types.ChangeAdded)
		debouncer.RecordResync()
		debouncer.Flush()
		debouncer.Stop()
	})
}

func TestDebouncer_SeparateBursts(t *testing.T) {
	rec := &statsRecorder{}
	debouncer := NewDebouncer(20*time.Millisecond, rec.callback)

	debouncer.Record(types.ChangeAdded)
	require.Eventually(t, func() bool { return len(rec.snapshot()) == 1 }, time.Second, 5*time.Millisecond)

	debouncer.Record(types.ChangeDeleted)
	require.Eventually(t, func() bool { return len(rec.snapshot()) == 2 }, time.Second, 5*time.Millisecond)

	got := rec.snapshot()
	assert.Equal(t, types.ChangeStats{Created: 1}, got[0])
	assert.Equal(t, types.ChangeStats{Deleted: 1}, got[1])
}
