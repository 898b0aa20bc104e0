package credstore

import (
	"context"
	"sync"
)

// MemoryKV is a volatile namespace for the simulated radio profile and for
// tests. It satisfies the same atomicity contract as SQLiteKV.
type MemoryKV struct {
	mu   sync.RWMutex
	data map[string]string

	// FailWrites makes Apply return ErrStorage without changing anything.
	FailWrites bool
	// FailReads makes Get and GetMany return ErrStorage.
	FailReads bool
}

// NewMemoryKV creates an empty namespace.
func NewMemoryKV() *MemoryKV {
	return &MemoryKV{data: make(map[string]string)}
}

// Get implements KV.
func (m *MemoryKV) Get(_ context.Context, key string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.FailReads {
		return "", ErrStorage
	}
	v, ok := m.data[key]
	if !ok {
		return "", ErrNotFound
	}
	return v, nil
}

// GetMany implements KV.
func (m *MemoryKV) GetMany(_ context.Context, keys ...string) (map[string]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.FailReads {
		return nil, ErrStorage
	}
	out := make(map[string]string, len(keys))
	for _, k := range keys {
		if v, ok := m.data[k]; ok {
			out[k] = v
		}
	}
	return out, nil
}

// Apply implements KV.
func (m *MemoryKV) Apply(_ context.Context, sets map[string]string, erases []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailWrites {
		return ErrStorage
	}
	for k, v := range sets {
		m.data[k] = v
	}
	for _, k := range erases {
		delete(m.data, k)
	}
	return nil
}
