// Package reserve tracks the flex reward float and what portion of it is
// committed to outstanding draws.
//
// Two resources are tracked: a fungible token float and a countable pool of
// flex reward items. Every open flex draw holds a commitment against one or
// both; the commitment is released exactly once, at fulfillment or cancel.
// No other component mutates these counters.
package reserve

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/lootlabs/drawpool/internal/metrics"
	"github.com/lootlabs/drawpool/internal/token"
)

var (
	ErrInsufficientReserve = errors.New("insufficient fungible reserve")
	ErrFlexPoolEmpty       = errors.New("flex item pool is empty")
	ErrInvalidAmount       = errors.New("invalid amount")
)

// Counters is a snapshot of the reserve state. Amounts are decimal strings.
type Counters struct {
	TotalFungible     string `json:"totalFungible"`
	CommittedFungible string `json:"committedFungible"`
	AvailableFungible string `json:"availableFungible"`
	TotalItems        int64  `json:"totalItems"`
	CommittedItems    int64  `json:"committedItems"`
	AvailableItems    int64  `json:"availableItems"`
}

// Store persists reserve counters across restarts.
type Store interface {
	Load(ctx context.Context) (*Counters, error)
	Save(ctx context.Context, c Counters) error
}

// Ledger is the reservation ledger. All operations are O(1) and run under a
// single mutex; the in-memory counters are authoritative and written through
// to the store on every mutation.
//
// A release or spend that would drive a counter negative is a bookkeeping bug
// in the caller, not a recoverable condition: the ledger panics.
type Ledger struct {
	mu                sync.Mutex
	totalFungible     *big.Int
	committedFungible *big.Int
	totalItems        int64
	committedItems    int64
	store             Store
}

// NewLedger creates a reservation ledger backed by the given store.
// Existing counters are loaded from the store.
func NewLedger(ctx context.Context, store Store) (*Ledger, error) {
	l := &Ledger{
		totalFungible:     big.NewInt(0),
		committedFungible: big.NewInt(0),
		store:             store,
	}

	saved, err := store.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("load reserve counters: %w", err)
	}
	if saved != nil {
		total, ok := token.Parse(saved.TotalFungible)
		if !ok {
			return nil, fmt.Errorf("corrupt reserve counter: total %q", saved.TotalFungible)
		}
		committed, ok := token.Parse(saved.CommittedFungible)
		if !ok {
			return nil, fmt.Errorf("corrupt reserve counter: committed %q", saved.CommittedFungible)
		}
		l.totalFungible = total
		l.committedFungible = committed
		l.totalItems = saved.TotalItems
		l.committedItems = saved.CommittedItems
	}

	l.publishGauges()
	return l, nil
}

// AvailableFungible returns the uncommitted portion of the fungible float.
func (l *Ledger) AvailableFungible() *big.Int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return new(big.Int).Sub(l.totalFungible, l.committedFungible)
}

// AvailableItems returns the number of uncommitted flex item slots.
func (l *Ledger) AvailableItems() int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.totalItems - l.committedItems
}

// DepositFungible grows the fungible float.
func (l *Ledger) DepositFungible(ctx context.Context, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.totalFungible.Add(l.totalFungible, amount)
	return l.persist(ctx)
}

// AddItem registers one deposited flex reward item.
func (l *Ledger) AddItem(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.totalItems++
	return l.persist(ctx)
}

// CommitFungible holds amount against the float for an open draw.
func (l *Ledger) CommitFungible(ctx context.Context, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return ErrInvalidAmount
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	available := new(big.Int).Sub(l.totalFungible, l.committedFungible)
	if amount.Cmp(available) > 0 {
		return ErrInsufficientReserve
	}
	l.committedFungible.Add(l.committedFungible, amount)
	return l.persist(ctx)
}

// CommitItem holds one flex item slot for an open draw.
func (l *Ledger) CommitItem(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.totalItems-l.committedItems <= 0 {
		return ErrFlexPoolEmpty
	}
	l.committedItems++
	return l.persist(ctx)
}

// ReleaseFungible is the exact inverse of CommitFungible.
func (l *Ledger) ReleaseFungible(ctx context.Context, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return ErrInvalidAmount
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	l.committedFungible.Sub(l.committedFungible, amount)
	if l.committedFungible.Sign() < 0 {
		panic(fmt.Sprintf("reserve: fungible commitment underflow (released %s)", token.Format(amount)))
	}
	return l.persist(ctx)
}

// ReleaseItem is the exact inverse of CommitItem.
func (l *Ledger) ReleaseItem(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.committedItems--
	if l.committedItems < 0 {
		panic("reserve: item commitment underflow")
	}
	return l.persist(ctx)
}

// SpendFungible removes paid-out tokens from the float. The caller must have
// released the matching commitment first.
func (l *Ledger) SpendFungible(ctx context.Context, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return ErrInvalidAmount
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	l.totalFungible.Sub(l.totalFungible, amount)
	if l.totalFungible.Cmp(l.committedFungible) < 0 {
		panic(fmt.Sprintf("reserve: fungible float underflow (spent %s)", token.Format(amount)))
	}
	return l.persist(ctx)
}

// ConsumeItem removes a granted item from the float. The caller must have
// released the matching commitment first.
func (l *Ledger) ConsumeItem(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.totalItems--
	if l.totalItems < l.committedItems {
		panic("reserve: item float underflow")
	}
	return l.persist(ctx)
}

// Status returns a snapshot of the counters.
func (l *Ledger) Status() Counters {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.snapshot()
}

// persist writes the counters through to the store and refreshes gauges.
// Callers must hold l.mu.
func (l *Ledger) persist(ctx context.Context) error {
	l.publishGaugesLocked()
	if err := l.store.Save(ctx, l.snapshot()); err != nil {
		return fmt.Errorf("save reserve counters: %w", err)
	}
	return nil
}

func (l *Ledger) snapshot() Counters {
	available := new(big.Int).Sub(l.totalFungible, l.committedFungible)
	return Counters{
		TotalFungible:     token.Format(l.totalFungible),
		CommittedFungible: token.Format(l.committedFungible),
		AvailableFungible: token.Format(available),
		TotalItems:        l.totalItems,
		CommittedItems:    l.committedItems,
		AvailableItems:    l.totalItems - l.committedItems,
	}
}

func (l *Ledger) publishGauges() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.publishGaugesLocked()
}

func (l *Ledger) publishGaugesLocked() {
	committed, _ := new(big.Float).SetInt(l.committedFungible).Float64()
	metrics.ReserveCommittedFungible.Set(committed / 1e6)
	metrics.ReserveCommittedItems.Set(float64(l.committedItems))
}
