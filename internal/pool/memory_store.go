package pool

import (
	"context"
	"sync"
)

// MemoryStore is an in-memory pool store for demo/development mode.
type MemoryStore struct {
	mu     sync.RWMutex
	pools  map[string]*Pool
	order  []string
	tokens []*FlexToken
}

// NewMemoryStore creates a new in-memory pool store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		pools: make(map[string]*Pool),
	}
}

func (m *MemoryStore) CreatePool(ctx context.Context, p *Pool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.pools[p.ID] = copyPool(p)
	m.order = append(m.order, p.ID)
	return nil
}

func (m *MemoryStore) GetPool(ctx context.Context, id string) (*Pool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	p, ok := m.pools[id]
	if !ok {
		return nil, ErrPoolNotFound
	}
	return copyPool(p), nil
}

func (m *MemoryStore) ListPools(ctx context.Context) ([]*Pool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]*Pool, 0, len(m.order))
	for _, id := range m.order {
		cp := *m.pools[id]
		cp.Items = nil // list view omits items
		result = append(result, &cp)
	}
	return result, nil
}

func (m *MemoryStore) AddItem(ctx context.Context, poolID string, item *Item) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.pools[poolID]
	if !ok {
		return ErrPoolNotFound
	}
	cp := *item
	p.Items = append(p.Items, &cp)
	p.TotalWeight += item.Weight
	p.Remaining++
	return nil
}

func (m *MemoryStore) MarkItemConsumed(ctx context.Context, poolID, itemID string, totalWeight int64, remaining int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.pools[poolID]
	if !ok {
		return ErrPoolNotFound
	}
	for _, item := range p.Items {
		if item.ID == itemID {
			item.Consumed = true
			p.TotalWeight = totalWeight
			p.Remaining = remaining
			return nil
		}
	}
	return ErrSelectionFailed
}

func (m *MemoryStore) AddFlexToken(ctx context.Context, t *FlexToken) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := *t
	m.tokens = append(m.tokens, &cp)
	return nil
}

func (m *MemoryStore) ListFlexTokens(ctx context.Context) ([]*FlexToken, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]*FlexToken, len(m.tokens))
	for i, t := range m.tokens {
		cp := *t
		result[i] = &cp
	}
	return result, nil
}

func (m *MemoryStore) MarkFlexTokenConsumed(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, t := range m.tokens {
		if t.ID == id {
			t.Consumed = true
			return nil
		}
	}
	return ErrNoFlexTokens
}

// copyPool returns a deep copy so callers cannot mutate stored state
// through shared item pointers.
func copyPool(p *Pool) *Pool {
	cp := *p
	if p.Items != nil {
		cp.Items = make([]*Item, len(p.Items))
		for i, item := range p.Items {
			ic := *item
			cp.Items[i] = &ic
		}
	}
	return &cp
}
