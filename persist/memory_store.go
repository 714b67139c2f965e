package persist

import (
	"strings"
	"sync"
)

// MemoryStore is an in-process Store used by tests and by constrained runtimes
// that have no durable secure storage at all. Contents do not survive the
// process.
type MemoryStore struct {
	mu          sync.RWMutex
	blobs       map[string][]byte
	maxBlobSize int
	closed      bool
}

// NewMemoryStore creates an in-memory store. maxBlobSize models the per-entry
// ceiling of the platform being emulated, 0 for unbounded.
func NewMemoryStore(maxBlobSize int) *MemoryStore {
	return &MemoryStore{
		blobs:       make(map[string][]byte),
		maxBlobSize: maxBlobSize,
	}
}

func (m *MemoryStore) Get(key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	blob, ok := m.blobs[key]
	if !ok {
		return nil, ErrNotFound
	}
	out := make([]byte, len(blob))
	copy(out, blob)
	return out, nil
}

func (m *MemoryStore) Set(key string, blob []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	stored := make([]byte, len(blob))
	copy(stored, blob)
	m.blobs[key] = stored
	return nil
}

func (m *MemoryStore) Delete(key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.blobs, key)
	return nil
}

func (m *MemoryStore) List(prefix string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var keys []string
	for k := range m.blobs {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	return keys, nil
}

func (m *MemoryStore) Ping() error { return nil }

func (m *MemoryStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.blobs = make(map[string][]byte)
	m.closed = true
	return nil
}

func (m *MemoryStore) GetType() string { return string(StoreTypeMemory) }

func (m *MemoryStore) MaxBlobSize() int { return m.maxBlobSize }
