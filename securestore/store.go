// Package securestore holds device-local secrets such as the persisted
// session record. Stores are opaque byte containers: they never decode what
// they hold.
package securestore

import (
	"errors"
	"sync"
)

var (
	// ErrNotFound is returned by Get when no value is stored under the key.
	ErrNotFound = errors.New("securestore: key not found")

	// ErrCorrupt is returned when stored bytes exist but cannot be read back.
	ErrCorrupt = errors.New("securestore: stored value is corrupt")
)

// Store is a key/value store for sensitive bytes.
//
// Put overwrites any existing value (delete-then-add). Deleting a key that
// does not exist is not an error.
type Store interface {
	Put(key string, value []byte) error
	Get(key string) ([]byte, error)
	Delete(key string) error
}

// MemoryStore keeps values in process memory only.
type MemoryStore struct {
	mu    sync.RWMutex
	items map[string][]byte
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{items: make(map[string][]byte)}
}

func (m *MemoryStore) Put(key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.items, key)
	m.items[key] = append([]byte(nil), value...)
	return nil
}

func (m *MemoryStore) Get(key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	v, ok := m.items[key]
	if !ok {
		return nil, ErrNotFound
	}
	return append([]byte(nil), v...), nil
}

func (m *MemoryStore) Delete(key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.items, key)
	return nil
}
