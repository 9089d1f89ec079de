package reserve

import (
	"context"
	"sync"
)

// MemoryStore is an in-memory reserve store for demo/development mode.
type MemoryStore struct {
	mu      sync.Mutex
	saved   Counters
	hasData bool
}

// NewMemoryStore creates a new in-memory reserve store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (m *MemoryStore) Load(ctx context.Context) (*Counters, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.hasData {
		return nil, nil
	}
	cp := m.saved
	return &cp, nil
}

func (m *MemoryStore) Save(ctx context.Context, c Counters) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.saved = c
	m.hasData = true
	return nil
}
