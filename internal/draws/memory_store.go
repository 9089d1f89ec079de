package draws

import (
	"context"
	"sync"
)

// MemoryStore is an in-memory pending-draw store for demo/development mode.
type MemoryStore struct {
	mu    sync.RWMutex
	draws map[string]*Draw
	order []string
}

// NewMemoryStore creates a new in-memory pending-draw store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		draws: make(map[string]*Draw),
	}
}

func (m *MemoryStore) Create(ctx context.Context, d *Draw) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := *d
	m.draws[d.ID] = &cp
	m.order = append(m.order, d.ID)
	return nil
}

func (m *MemoryStore) Get(ctx context.Context, id string) (*Draw, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	d, ok := m.draws[id]
	if !ok {
		return nil, ErrUnknownRequest
	}
	cp := *d
	return &cp, nil
}

func (m *MemoryStore) MarkFulfilled(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	d, ok := m.draws[id]
	if !ok {
		return ErrUnknownRequest
	}
	if d.Fulfilled {
		return ErrAlreadyFulfilled
	}
	d.Fulfilled = true
	return nil
}

func (m *MemoryStore) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.draws[id]; !ok {
		return ErrUnknownRequest
	}
	delete(m.draws, id)
	for i, oid := range m.order {
		if oid == id {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
	return nil
}

func (m *MemoryStore) List(ctx context.Context) ([]*Draw, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]*Draw, 0, len(m.order))
	for _, id := range m.order {
		cp := *m.draws[id]
		result = append(result, &cp)
	}
	return result, nil
}
