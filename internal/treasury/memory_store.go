package treasury

import (
	"context"
	"math/big"
	"sync"
	"time"

	"github.com/lootlabs/drawpool/internal/pagination"
	"github.com/lootlabs/drawpool/internal/token"
)

// MemoryStore is an in-memory treasury store for demo/development mode.
type MemoryStore struct {
	mu       sync.RWMutex
	balances map[string]*big.Int
	tokens   map[string][]string
	history  map[string][]*Entry
}

// NewMemoryStore creates a new in-memory treasury store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		balances: make(map[string]*big.Int),
		tokens:   make(map[string][]string),
		history:  make(map[string][]*Entry),
	}
}

func (m *MemoryStore) GetBalance(ctx context.Context, account string) (*Balance, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	bal, ok := m.balances[account]
	if !ok {
		bal = big.NewInt(0)
	}
	tokens := make([]string, len(m.tokens[account]))
	copy(tokens, m.tokens[account])

	return &Balance{
		Account:   account,
		Available: token.Format(bal),
		Tokens:    tokens,
		UpdatedAt: time.Now(),
	}, nil
}

func (m *MemoryStore) Credit(ctx context.Context, account, amount string, entry Entry) error {
	amt, ok := token.Parse(amount)
	if !ok {
		return ErrInvalidAmount
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	bal, present := m.balances[account]
	if !present {
		bal = big.NewInt(0)
		m.balances[account] = bal
	}
	bal.Add(bal, amt)
	m.history[account] = append(m.history[account], &entry)
	return nil
}

func (m *MemoryStore) Debit(ctx context.Context, account, amount string, entry Entry) error {
	amt, ok := token.Parse(amount)
	if !ok {
		return ErrInvalidAmount
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	bal, present := m.balances[account]
	if !present {
		return ErrAccountNotFound
	}
	if bal.Cmp(amt) < 0 {
		return ErrInsufficientBalance
	}
	bal.Sub(bal, amt)
	m.history[account] = append(m.history[account], &entry)
	return nil
}

func (m *MemoryStore) AddToken(ctx context.Context, account, tokenRef string, entry Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.tokens[account] = append(m.tokens[account], tokenRef)
	m.history[account] = append(m.history[account], &entry)
	return nil
}

func (m *MemoryStore) GetHistory(ctx context.Context, account string, limit int, before *pagination.Cursor) ([]*Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	// History is appended oldest to newest; walk it backwards.
	entries := m.history[account]
	result := make([]*Entry, 0, limit)
	for i := len(entries) - 1; i >= 0 && len(result) < limit; i-- {
		e := entries[i]
		if before != nil && !olderThan(e, before) {
			continue
		}
		cp := *e
		result = append(result, &cp)
	}
	return result, nil
}

func olderThan(e *Entry, c *pagination.Cursor) bool {
	if e.CreatedAt.Equal(c.CreatedAt) {
		return e.ID < c.ID
	}
	return e.CreatedAt.Before(c.CreatedAt)
}
