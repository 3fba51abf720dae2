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

// Package ringbuffer provides a fixed-size journal that keeps the most
// recent entries and overwrites the oldest.
package ringbuffer

import "sync"

// RingBuffer keeps the last Cap() items pushed to it. Safe for concurrent use.
type RingBuffer[T any] struct {
	mu   sync.RWMutex
	buf  []T
	next int
	full bool
}

// New creates a buffer holding up to size items. A size below 1 is raised to 1.
func New[T any](size int) *RingBuffer[T] {
	if size < 1 {
		size = 1
	}
	return &RingBuffer[T]{buf: make([]T, size)}
}

// Add appends item, evicting the oldest item when full.
func (rb *RingBuffer[T]) Add(item T) {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	rb.buf[rb.next] = item
	rb.next++
	if rb.next == len(rb.buf) {
		rb.next = 0
		rb.full = true
	}
}

// GetAll returns all items, oldest first.
func (rb *RingBuffer[T]) GetAll() []T {
	return rb.GetLast(len(rb.buf))
}

// GetLast returns up to n of the newest items, oldest first.
func (rb *RingBuffer[T]) GetLast(n int) []T {
	rb.mu.RLock()
	defer rb.mu.RUnlock()

	ordered := make([]T, 0, rb.lenLocked())
	if rb.full {
		ordered = append(ordered, rb.buf[rb.next:]...)
	}
	ordered = append(ordered, rb.buf[:rb.next]...)

	if n < 0 {
		n = 0
	}
	if n < len(ordered) {
		ordered = ordered[len(ordered)-n:]
	}
	return ordered
}

// Len returns the number of stored items.
func (rb *RingBuffer[T]) Len() int {
	rb.mu.RLock()
	defer rb.mu.RUnlock()
	return rb.lenLocked()
}

func (rb *RingBuffer[T]) lenLocked() int {
	if rb.full {
		return len(rb.buf)
	}
	return rb.next
}

// Cap returns the maximum number of stored items.
func (rb *RingBuffer[T]) Cap() int {
	return len(rb.buf)
}
