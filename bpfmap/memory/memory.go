// Package memory provides an in-memory bpfmap.Map for tests. It
// mimics kernel hash map behaviour: ENOENT on missing keys, EEXIST
// under UpdateNoExist, E2BIG when full.
package memory

import (
	"fmt"
	"sync"

	"golang.org/x/sys/unix"

	"github.com/tetherbpf/tetherbpf/bpfmap"
)

// Map is an in-memory bpfmap.Map with error injection. The zero value
// is not usable; create with New.
type Map[K comparable, V any] struct {
	mu         sync.Mutex
	entries    map[K]V
	order      []K // iteration order, insertion-ordered
	maxEntries uint32

	// Error injection. A non-nil error fails every call of that
	// operation; FailOnKey fails lookups/updates/deletes of one key.
	LookupErr  error
	UpdateErr  error
	DeleteErr  error
	ForEachErr error
	FailOnKey  map[K]error

	updates uint64
	deletes uint64
}

// New creates an empty map with the given capacity.
func New[K comparable, V any](maxEntries uint32) *Map[K, V] {
	return &Map[K, V]{
		entries:    make(map[K]V),
		maxEntries: maxEntries,
		FailOnKey:  make(map[K]error),
	}
}

// Seed inserts entries without going through Update, bypassing error
// injection and capacity checks. For test fixtures.
func (m *Map[K, V]) Seed(key K, value V) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.set(key, value)
}

func (m *Map[K, V]) set(key K, value V) {
	if _, ok := m.entries[key]; !ok {
		m.order = append(m.order, key)
	}
	m.entries[key] = value
}

func (m *Map[K, V]) unset(key K) {
	delete(m.entries, key)
	for i, k := range m.order {
		if k == key {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
}

// Len returns the current entry count.
func (m *Map[K, V]) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

// Updates returns how many successful Update calls were made.
func (m *Map[K, V]) Updates() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.updates
}

// Deletes returns how many successful Delete calls were made.
func (m *Map[K, V]) Deletes() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.deletes
}

func (m *Map[K, V]) Lookup(key K) (V, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var zero V
	if m.LookupErr != nil {
		return zero, m.LookupErr
	}
	if err := m.FailOnKey[key]; err != nil {
		return zero, err
	}

	value, ok := m.entries[key]
	if !ok {
		return zero, fmt.Errorf("lookup: %w", unix.ENOENT)
	}
	return value, nil
}

func (m *Map[K, V]) Update(key K, value V, flags bpfmap.UpdateFlags) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.UpdateErr != nil {
		return m.UpdateErr
	}
	if err := m.FailOnKey[key]; err != nil {
		return err
	}

	_, exists := m.entries[key]
	switch flags {
	case bpfmap.UpdateNoExist:
		if exists {
			return fmt.Errorf("update: %w", unix.EEXIST)
		}
	case bpfmap.UpdateExist:
		if !exists {
			return fmt.Errorf("update: %w", unix.ENOENT)
		}
	}

	if !exists && uint32(len(m.entries)) >= m.maxEntries {
		return fmt.Errorf("update: %w", unix.E2BIG)
	}

	m.set(key, value)
	m.updates++
	return nil
}

func (m *Map[K, V]) Delete(key K) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.DeleteErr != nil {
		return m.DeleteErr
	}
	if err := m.FailOnKey[key]; err != nil {
		return err
	}

	if _, ok := m.entries[key]; !ok {
		return fmt.Errorf("delete: %w", unix.ENOENT)
	}
	m.unset(key)
	m.deletes++
	return nil
}

func (m *Map[K, V]) ForEach(fn func(key K, value V) bool) error {
	m.mu.Lock()
	if m.ForEachErr != nil {
		m.mu.Unlock()
		return m.ForEachErr
	}
	keys := make([]K, len(m.order))
	copy(keys, m.order)
	m.mu.Unlock()

	// The lock is not held across fn so callers can mutate the map
	// mid-iteration, like the kernel allows.
	for _, key := range keys {
		m.mu.Lock()
		value, ok := m.entries[key]
		m.mu.Unlock()
		if !ok {
			continue
		}
		if !fn(key, value) {
			return nil
		}
	}
	return nil
}

func (m *Map[K, V]) MaxEntries() uint32 {
	return m.maxEntries
}

func (m *Map[K, V]) Close() error {
	return nil
}

var _ bpfmap.Map[uint64, uint64] = (*Map[uint64, uint64])(nil)
