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

// Package events provides the fire-and-forget event bus observers use to
// follow mirror changes, resyncs and mutation outcomes.
package events

import (
	"sync"
	"time"
)

// Event is the base interface for all events published on the bus.
type Event interface {
	// EventType returns a unique identifier for this event type.
	// Convention: dot-notation like "mirror.changed" or "mutation.failed".
	EventType() string

	// Timestamp returns when this event occurred.
	Timestamp() time.Time
}

// EventBus fans published events out to every subscriber.
//
// Events published before Start() are buffered and replayed on Start(), so
// observers wired up after the engine was constructed still see its first
// events. After Start() publishing never blocks: a subscriber whose buffer is
// full misses the event.
//
// EventBus is safe for concurrent use.
type EventBus struct {
	mu          sync.RWMutex
	subscribers map[int]chan Event
	nextID      int

	startMu        sync.Mutex
	started        bool
	preStartBuffer []Event
}

// Subscription is a handle to one subscriber channel.
type Subscription struct {
	bus  *EventBus
	id   int
	ch   chan Event
	once sync.Once
}

// Events returns the channel events are delivered on. It is closed by Unsubscribe.
func (s *Subscription) Events() <-chan Event {
	return s.ch
}

// Unsubscribe detaches the subscription and closes its channel.
// Safe to call more than once.
func (s *Subscription) Unsubscribe() {
	s.once.Do(func() {
		s.bus.mu.Lock()
		delete(s.bus.subscribers, s.id)
		s.bus.mu.Unlock()
		close(s.ch)
	})
}

// NewEventBus creates a bus in buffering mode. capacity sizes the pre-start buffer.
func NewEventBus(capacity int) *EventBus {
	return &EventBus{
		subscribers:    make(map[int]chan Event),
		preStartBuffer: make([]Event, 0, capacity),
	}
}

// Publish sends an event to all subscribers.
//
// Returns the number of subscribers that received the event, or 0 when the
// event was buffered because Start() has not been called yet.
func (b *EventBus) Publish(event Event) int {
	b.startMu.Lock()
	if !b.started {
		b.preStartBuffer = append(b.preStartBuffer, event)
		b.startMu.Unlock()
		return 0
	}
	b.startMu.Unlock()

	return b.deliver(event)
}

// deliver hands event to every subscriber without blocking. The read lock is
// held for the whole fan-out so Unsubscribe cannot close a channel mid-send.
func (b *EventBus) deliver(event Event) int {
	b.mu.RLock()
	defer b.mu.RUnlock()

	sent := 0
	for _, ch := range b.subscribers {
		select {
		case ch <- event:
			sent++
		default:
			// Subscriber is lagging
		}
	}
	return sent
}

// Subscribe registers a subscriber with a channel buffer of bufferSize.
func (b *EventBus) Subscribe(bufferSize int) *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.nextID
	b.nextID++
	ch := make(chan Event, bufferSize)
	b.subscribers[id] = ch

	return &Subscription{bus: b, id: id, ch: ch}
}

// SubscriberCount returns the number of active subscriptions.
func (b *EventBus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}

// Start replays buffered events in publish order and switches the bus to
// direct delivery. Idempotent.
func (b *EventBus) Start() {
	b.startMu.Lock()
	defer b.startMu.Unlock()

	if b.started {
		return
	}
	b.started = true

	for _, event := range b.preStartBuffer {
		b.deliver(event)
	}
	b.preStartBuffer = nil
}
