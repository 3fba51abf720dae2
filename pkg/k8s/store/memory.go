package store

import (
	"fmt"
	"sort"
	"sync"

	"ci-capacity/pkg/k8s/types"
)

// Mirror is a keyed, in-memory snapshot of one resource kind.
//
// It is bootstrapped from a full listing and kept current by applying watch
// events. At most one record exists per key; the last applied event wins.
//
// Thread-safe for concurrent access. Reads return deep copies taken under the
// lock, never references into live state.
type Mirror[T types.Record[T]] struct {
	mu           sync.RWMutex
	items        map[string]T
	bootstrapped bool
}

// NewMirror creates an empty mirror.
func NewMirror[T types.Record[T]]() *Mirror[T] {
	return &Mirror[T]{
		items: make(map[string]T),
	}
}

// Bootstrap replaces the entire snapshot with items.
//
// Calling it again fully replaces prior state; records missing from items are
// dropped. When items repeats a key, the later entry wins.
func (m *Mirror[T]) Bootstrap(items []T) {
	next := make(map[string]T, len(items))
	for _, item := range items {
		next[item.Key()] = item.DeepCopy()
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.items = next
	m.bootstrapped = true
}

// ApplyEvent upserts (added, modified) or removes (deleted) the record keyed by
// the event item's key.
func (m *Mirror[T]) ApplyEvent(event types.Event[T]) error {
	key := event.Item.Key()
	if key == "" {
		return &StoreError{
			Operation: "apply " + event.Type.String(),
			Err:       fmt.Errorf("item has no name"),
		}
	}

	switch event.Type {
	case types.ChangeAdded, types.ChangeModified:
		item := event.Item.DeepCopy()
		m.mu.Lock()
		m.items[key] = item
		m.mu.Unlock()
	case types.ChangeDeleted:
		m.mu.Lock()
		delete(m.items, key)
		m.mu.Unlock()
	default:
		return &StoreError{
			Operation: "apply",
			Keys:      []string{key},
			Err:       fmt.Errorf("unsupported change type %d", event.Type),
		}
	}

	return nil
}

// Get returns a copy of the record stored under name.
// The boolean is false when the record is absent, which covers both
// "not yet observed" and "deleted".
func (m *Mirror[T]) Get(name string) (T, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	item, ok := m.items[name]
	if !ok {
		var zero T
		return zero, false
	}
	return item.DeepCopy(), true
}

// List returns a point-in-time copy of all records, ordered by key.
func (m *Mirror[T]) List() []T {
	m.mu.RLock()
	result := make([]T, 0, len(m.items))
	for _, item := range m.items {
		result = append(result, item.DeepCopy())
	}
	m.mu.RUnlock()

	sort.Slice(result, func(i, j int) bool {
		return result[i].Key() < result[j].Key()
	})
	return result
}

// Size returns the number of records in the mirror.
func (m *Mirror[T]) Size() int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return len(m.items)
}

// IsBootstrapped reports whether Bootstrap has been called at least once.
func (m *Mirror[T]) IsBootstrapped() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.bootstrapped
}
