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

package events

import (
	"fmt"
	"sync"
	"testing"
	"time"
)

// testEvent is a simple test event.
type testEvent struct {
	message string
}

func (e testEvent) EventType() string    { return "test.event" }
func (e testEvent) Timestamp() time.Time { return time.Now() }

func receive(t *testing.T, sub *Subscription) testEvent {
	t.Helper()
	select {
	case evt := <-sub.Events():
		te, ok := evt.(testEvent)
		if !ok {
			t.Fatalf("expected testEvent, got %T", evt)
		}
		return te
	case <-time.After(200 * time.Millisecond):
		t.Fatal("timeout waiting for event")
		return testEvent{}
	}
}

func TestEventBus_PublishSubscribe(t *testing.T) {
	t.Parallel()
	bus := NewEventBus(100)
	sub := bus.Subscribe(10)
	bus.Start()

	sent := bus.Publish(testEvent{message: "hello"})
	if sent != 1 {
		t.Errorf("expected 1 subscriber to receive event, got %d", sent)
	}

	if got := receive(t, sub); got.message != "hello" {
		t.Errorf("expected 'hello', got '%s'", got.message)
	}
}

func TestEventBus_MultipleSubscribers(t *testing.T) {
	t.Parallel()
	bus := NewEventBus(100)
	subs := []*Subscription{bus.Subscribe(10), bus.Subscribe(10), bus.Subscribe(10)}
	bus.Start()

	if sent := bus.Publish(testEvent{message: "fanout"}); sent != 3 {
		t.Errorf("expected 3 subscribers to receive event, got %d", sent)
	}

	for i, sub := range subs {
		if got := receive(t, sub); got.message != "fanout" {
			t.Errorf("subscriber %d: expected 'fanout', got '%s'", i, got.message)
		}
	}
}

func TestEventBus_SlowSubscriberDropsEvents(t *testing.T) {
	t.Parallel()
	bus := NewEventBus(100)
	slow := bus.Subscribe(1)
	fast := bus.Subscribe(10)
	bus.Start()

	bus.Publish(testEvent{message: "first"})
	sent := bus.Publish(testEvent{message: "second"})
	if sent != 1 {
		t.Errorf("expected only the fast subscriber to receive the second event, got %d", sent)
	}

	if got := receive(t, slow); got.message != "first" {
		t.Errorf("expected 'first', got '%s'", got.message)
	}
	select {
	case evt := <-slow.Events():
		t.Errorf("expected dropped event, received %v", evt)
	default:
	}

	receive(t, fast)
	if got := receive(t, fast); got.message != "second" {
		t.Errorf("expected 'second', got '%s'", got.message)
	}
}

func TestEventBus_ConcurrentPublish(t *testing.T) {
	t.Parallel()
	bus := NewEventBus(100)
	sub := bus.Subscribe(1000)
	bus.Start()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				bus.Publish(testEvent{message: fmt.Sprintf("%d-%d", n, j)})
			}
		}(i)
	}
	wg.Wait()

	if got := len(sub.Events()); got != 500 {
		t.Errorf("expected 500 buffered events, got %d", got)
	}
}

func TestEventBus_Unsubscribe(t *testing.T) {
	t.Parallel()
	bus := NewEventBus(100)
	keep := bus.Subscribe(10)
	drop := bus.Subscribe(10)
	bus.Start()

	drop.Unsubscribe()
	drop.Unsubscribe()

	if n := bus.SubscriberCount(); n != 1 {
		t.Errorf("expected 1 subscriber, got %d", n)
	}
	if _, ok := <-drop.Events(); ok {
		t.Error("expected closed channel after Unsubscribe")
	}
	if sent := bus.Publish(testEvent{message: "after"}); sent != 1 {
		t.Errorf("expected 1 delivery, got %d", sent)
	}
	receive(t, keep)
}

func TestEventBus_UnsubscribeDuringPublish(t *testing.T) {
	t.Parallel()
	bus := NewEventBus(100)
	bus.Start()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		sub := bus.Subscribe(1)
		wg.Add(2)
		go func() {
			defer wg.Done()
			bus.Publish(testEvent{message: "race"})
		}()
		go func() {
			defer wg.Done()
			sub.Unsubscribe()
		}()
	}
	wg.Wait()

	if n := bus.SubscriberCount(); n != 0 {
		t.Errorf("expected no subscribers, got %d", n)
	}
}

func TestEventBus_Start_BuffersEventsBeforeStart(t *testing.T) {
	t.Parallel()
	bus := NewEventBus(100)

	for i := 1; i <= 3; i++ {
		if sent := bus.Publish(testEvent{message: fmt.Sprintf("event-%d", i)}); sent != 0 {
			t.Errorf("expected 0 before Start(), got %d", sent)
		}
	}

	sub := bus.Subscribe(10)
	select {
	case <-sub.Events():
		t.Error("expected no events before Start(), but received one")
	case <-time.After(50 * time.Millisecond):
	}

	bus.Start()

	for i := 1; i <= 3; i++ {
		expected := fmt.Sprintf("event-%d", i)
		if got := receive(t, sub); got.message != expected {
			t.Errorf("expected '%s', got '%s'", expected, got.message)
		}
	}
}

func TestEventBus_Start_Idempotent(t *testing.T) {
	t.Parallel()
	bus := NewEventBus(100)
	bus.Publish(testEvent{message: "event-1"})
	sub := bus.Subscribe(10)

	bus.Start()
	bus.Start()
	bus.Start()

	receive(t, sub)
	select {
	case evt := <-sub.Events():
		t.Errorf("expected exactly one replayed event, got extra %v", evt)
	case <-time.After(50 * time.Millisecond):
	}
}
