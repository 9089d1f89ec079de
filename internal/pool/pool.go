// Package pool manages reward pools for the draw engine.
//
// Two kinds of pool exist:
//   - fixed pools: ordered, weighted bundles; one bundle is drawn per
//     fulfillment with probability proportional to its weight
//   - the flex pool: a flat list of reward tokens drawn uniformly when a
//     flex draw rolls an item grant
//
// Items are only ever appended (deposit) or flagged consumed (selection);
// they are never removed. The pool aggregates TotalWeight and Remaining
// always describe the unconsumed subset.
package pool

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/lootlabs/drawpool/internal/idgen"
	"github.com/lootlabs/drawpool/internal/reserve"
	"github.com/lootlabs/drawpool/internal/token"
)

var (
	ErrPoolNotFound    = errors.New("pool not found")
	ErrEmptyPool       = errors.New("pool has no unconsumed items")
	ErrNoWeight        = errors.New("pool has no selectable weight")
	ErrPoolFull        = errors.New("pool is at its item capacity")
	ErrInvalidWeight   = errors.New("item weight must be positive")
	ErrInvalidPrice    = errors.New("invalid pool price")
	ErrNoFlexTokens    = errors.New("no unconsumed flex tokens")
	ErrSelectionFailed = errors.New("selection failed on inconsistent pool state")
)

// Payload is the reward attached to a fixed-pool bundle: a fungible amount
// plus zero or more token references, paid out together.
type Payload struct {
	Fungible string   `json:"fungible,omitempty"`
	Tokens   []string `json:"tokens,omitempty"`
}

// Item is one weighted bundle in a fixed pool. Once consumed it is
// permanently ineligible for selection.
type Item struct {
	ID       string  `json:"id"`
	Weight   int64   `json:"weight"`
	Payload  Payload `json:"payload"`
	Consumed bool    `json:"consumed"`
}

// Pool is an ordered collection of weighted items.
//
// Invariants: TotalWeight equals the weight sum of unconsumed items and
// Remaining equals their count. Only deposits (append) and selection
// (mark consumed) mutate a pool.
type Pool struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Price       string    `json:"price"`
	Items       []*Item   `json:"items,omitempty"`
	TotalWeight int64     `json:"totalWeight"`
	Remaining   int       `json:"remaining"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// FlexToken is one reward token in the flat flex pool.
type FlexToken struct {
	ID        string    `json:"id"`
	Ref       string    `json:"ref"`
	Consumed  bool      `json:"consumed"`
	CreatedAt time.Time `json:"createdAt"`
}

// Status is the read-only view of a pool.
type Status struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Price       string `json:"price"`
	TotalItems  int    `json:"totalItems"`
	Remaining   int    `json:"remaining"`
	TotalWeight int64  `json:"totalWeight"`
}

// Store persists pools and flex tokens.
type Store interface {
	CreatePool(ctx context.Context, p *Pool) error
	GetPool(ctx context.Context, id string) (*Pool, error)
	ListPools(ctx context.Context) ([]*Pool, error)
	AddItem(ctx context.Context, poolID string, item *Item) error
	// MarkItemConsumed flags the item and writes the pool's new aggregates
	// in one atomic store operation.
	MarkItemConsumed(ctx context.Context, poolID, itemID string, totalWeight int64, remaining int) error

	AddFlexToken(ctx context.Context, t *FlexToken) error
	ListFlexTokens(ctx context.Context) ([]*FlexToken, error)
	MarkFlexTokenConsumed(ctx context.Context, id string) error
}

// Service implements pool business logic. A single mutex serializes all
// mutations so that selection (read-modify-write) is atomic with respect to
// deposits and other selections.
type Service struct {
	mu       sync.Mutex
	store    Store
	resv     *reserve.Ledger
	maxItems int
}

// NewService creates a new pool service.
func NewService(store Store, resv *reserve.Ledger, maxItems int) *Service {
	return &Service{store: store, resv: resv, maxItems: maxItems}
}

// CreatePool creates a new empty fixed pool with the given draw price.
func (s *Service) CreatePool(ctx context.Context, name, price string) (*Pool, error) {
	amt, ok := token.Parse(price)
	if !ok || amt.Sign() <= 0 {
		return nil, ErrInvalidPrice
	}

	now := time.Now()
	p := &Pool{
		ID:        idgen.WithPrefix(idgen.PrefixPool),
		Name:      name,
		Price:     price,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.store.CreatePool(ctx, p); err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}
	return p, nil
}

// DepositBundle appends a weighted bundle to a fixed pool.
//
// The pool size is capped because selection is a linear scan over items and
// fulfillment runs inside a bounded call; the cap keeps the scan bounded.
func (s *Service) DepositBundle(ctx context.Context, poolID string, weight int64, payload Payload) (*Item, error) {
	if weight <= 0 {
		return nil, ErrInvalidWeight
	}
	if payload.Fungible != "" {
		if _, ok := token.Parse(payload.Fungible); !ok {
			return nil, fmt.Errorf("%w: bad fungible payload", ErrInvalidPrice)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	p, err := s.store.GetPool(ctx, poolID)
	if err != nil {
		return nil, err
	}
	if len(p.Items) >= s.maxItems {
		return nil, ErrPoolFull
	}

	item := &Item{
		ID:      idgen.WithPrefix(idgen.PrefixItem),
		Weight:  weight,
		Payload: payload,
	}
	if err := s.store.AddItem(ctx, poolID, item); err != nil {
		return nil, fmt.Errorf("add item: %w", err)
	}
	return item, nil
}

// GetPool returns a pool by ID, items included.
func (s *Service) GetPool(ctx context.Context, id string) (*Pool, error) {
	return s.store.GetPool(ctx, id)
}

// PoolStatus returns the read-only view of a pool.
func (s *Service) PoolStatus(ctx context.Context, id string) (*Status, error) {
	p, err := s.store.GetPool(ctx, id)
	if err != nil {
		return nil, err
	}
	return &Status{
		ID:          p.ID,
		Name:        p.Name,
		Price:       p.Price,
		TotalItems:  len(p.Items),
		Remaining:   p.Remaining,
		TotalWeight: p.TotalWeight,
	}, nil
}

// ListPools returns all pools without their item lists.
func (s *Service) ListPools(ctx context.Context) ([]*Pool, error) {
	return s.store.ListPools(ctx)
}

// DrawWeighted selects one unconsumed item from a fixed pool using the
// cumulative-weight scan, marks it consumed, and updates the aggregates.
// The whole operation is atomic under the service mutex.
func (s *Service) DrawWeighted(ctx context.Context, poolID string, randomValue *big.Int) (*Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, err := s.store.GetPool(ctx, poolID)
	if err != nil {
		return nil, err
	}
	if p.Remaining == 0 {
		return nil, ErrEmptyPool
	}
	if p.TotalWeight <= 0 {
		return nil, ErrNoWeight
	}

	idx, err := selectWeightedIndex(p.Items, p.TotalWeight, randomValue)
	if err != nil {
		return nil, err
	}

	chosen := p.Items[idx]
	chosen.Consumed = true
	newWeight := p.TotalWeight - chosen.Weight
	newRemaining := p.Remaining - 1

	if err := s.store.MarkItemConsumed(ctx, poolID, chosen.ID, newWeight, newRemaining); err != nil {
		return nil, fmt.Errorf("mark item consumed: %w", err)
	}
	return chosen, nil
}

// DrawFlexToken selects one unconsumed flex token uniformly, marks it
// consumed, and removes its slot from the reserve float.
func (s *Service) DrawFlexToken(ctx context.Context, randomValue *big.Int) (*FlexToken, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tokens, err := s.store.ListFlexTokens(ctx)
	if err != nil {
		return nil, err
	}

	idx, err := selectFlatIndex(tokens, randomValue)
	if err != nil {
		return nil, err
	}

	chosen := tokens[idx]
	chosen.Consumed = true
	if err := s.store.MarkFlexTokenConsumed(ctx, chosen.ID); err != nil {
		return nil, fmt.Errorf("mark flex token consumed: %w", err)
	}
	if err := s.resv.ConsumeItem(ctx); err != nil {
		return nil, err
	}
	return chosen, nil
}

// DepositFlexFungible grows the fungible reward float the flex side pays
// out of.
func (s *Service) DepositFlexFungible(ctx context.Context, amount string) error {
	amt, ok := token.Parse(amount)
	if !ok || amt.Sign() <= 0 {
		return reserve.ErrInvalidAmount
	}
	return s.resv.DepositFungible(ctx, amt)
}

// DepositFlexToken appends a reward token to the flat flex pool and
// registers its slot with the reserve ledger.
func (s *Service) DepositFlexToken(ctx context.Context, ref string) (*FlexToken, error) {
	if ref == "" {
		return nil, errors.New("token ref is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	t := &FlexToken{
		ID:        idgen.WithPrefix(idgen.PrefixFlexToken),
		Ref:       ref,
		CreatedAt: time.Now(),
	}
	if err := s.store.AddFlexToken(ctx, t); err != nil {
		return nil, fmt.Errorf("add flex token: %w", err)
	}
	if err := s.resv.AddItem(ctx); err != nil {
		return nil, err
	}
	return t, nil
}
