// Package treasury moves value in and out of the draw engine.
//
// It plays two roles the engine treats as external collaborators: the
// payment sink (Forward debits a buyer the moment a draw opens) and the
// asset ledger (payouts credit fungible tokens or transfer reward tokens to
// the winner). Both fail loudly; a failed transfer aborts the enclosing
// operation.
package treasury

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/lootlabs/drawpool/internal/idgen"
	"github.com/lootlabs/drawpool/internal/pagination"
	"github.com/lootlabs/drawpool/internal/token"
)

var (
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrAccountNotFound     = errors.New("account not found")
	ErrInvalidAmount       = errors.New("invalid amount")
)

// Entry is one movement of value, recorded for audit.
type Entry struct {
	ID        string    `json:"id"`
	Account   string    `json:"account"`
	Type      string    `json:"type"` // deposit, payment, payout, token_payout
	Amount    string    `json:"amount,omitempty"`
	TokenRef  string    `json:"tokenRef,omitempty"`
	Reference string    `json:"reference,omitempty"` // draw ID, pool ID, etc.
	CreatedAt time.Time `json:"createdAt"`
}

// Balance is an account's current holdings.
type Balance struct {
	Account   string   `json:"account"`
	Available string   `json:"available"`
	Tokens    []string `json:"tokens,omitempty"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Store persists account balances and the audit trail.
type Store interface {
	GetBalance(ctx context.Context, account string) (*Balance, error)
	Credit(ctx context.Context, account, amount string, entry Entry) error
	Debit(ctx context.Context, account, amount string, entry Entry) error
	AddToken(ctx context.Context, account, tokenRef string, entry Entry) error
	// GetHistory returns entries newest first, strictly older than the
	// cursor position when before is non-nil.
	GetHistory(ctx context.Context, account string, limit int, before *pagination.Cursor) ([]*Entry, error)
}

// Treasury manages account balances.
type Treasury struct {
	store Store
}

// New creates a new treasury.
func New(store Store) *Treasury {
	return &Treasury{store: store}
}

// GetBalance returns an account's current balance.
func (t *Treasury) GetBalance(ctx context.Context, account string) (*Balance, error) {
	return t.store.GetBalance(ctx, account)
}

// Deposit credits an account (operator faucet / inbound transfer).
func (t *Treasury) Deposit(ctx context.Context, account, amount string) error {
	amt, ok := token.Parse(amount)
	if !ok || amt.Sign() <= 0 {
		return ErrInvalidAmount
	}
	return t.store.Credit(ctx, account, amount, t.entry(account, "deposit", amount, "", ""))
}

// Forward moves the payment leg of an open out of the buyer's balance.
// An error here must fail the whole open; nothing has been committed yet.
func (t *Treasury) Forward(ctx context.Context, from, amount, reference string) error {
	amt, ok := token.Parse(amount)
	if !ok || amt.Sign() <= 0 {
		return ErrInvalidAmount
	}

	bal, err := t.store.GetBalance(ctx, from)
	if err != nil {
		return err
	}
	available, _ := token.Parse(bal.Available)
	if available.Cmp(amt) < 0 {
		return ErrInsufficientBalance
	}

	return t.store.Debit(ctx, from, amount, t.entry(from, "payment", amount, "", reference))
}

// Refund returns a forwarded payment to the buyer after a failed open.
func (t *Treasury) Refund(ctx context.Context, to, amount, reference string) error {
	amt, ok := token.Parse(amount)
	if !ok || amt.Sign() <= 0 {
		return ErrInvalidAmount
	}
	return t.store.Credit(ctx, to, amount, t.entry(to, "refund", amount, "", reference))
}

// PayoutFungible credits a winner with a fungible reward.
func (t *Treasury) PayoutFungible(ctx context.Context, to, amount, reference string) error {
	amt, ok := token.Parse(amount)
	if !ok || amt.Sign() < 0 {
		return ErrInvalidAmount
	}
	if amt.Sign() == 0 {
		return nil
	}
	return t.store.Credit(ctx, to, amount, t.entry(to, "payout", amount, "", reference))
}

// PayoutToken transfers a reward token to a winner.
func (t *Treasury) PayoutToken(ctx context.Context, to, tokenRef, reference string) error {
	if tokenRef == "" {
		return fmt.Errorf("empty token ref")
	}
	return t.store.AddToken(ctx, to, tokenRef, t.entry(to, "token_payout", "", tokenRef, reference))
}

// GetHistory returns one page of entries for an account, newest first.
// An empty cursor starts from the most recent entry. The returned cursor
// resumes after the last entry of this page; it is empty on the final page.
func (t *Treasury) GetHistory(ctx context.Context, account string, limit int, cursor string) ([]*Entry, string, bool, error) {
	if limit <= 0 {
		limit = 50
	}
	before, err := pagination.Decode(cursor)
	if err != nil {
		return nil, "", false, err
	}

	// Fetch one extra to learn whether another page exists.
	entries, err := t.store.GetHistory(ctx, account, limit+1, before)
	if err != nil {
		return nil, "", false, err
	}
	page, next, more := pagination.ComputePage(entries, limit, func(e *Entry) (time.Time, string) {
		return e.CreatedAt, e.ID
	})
	return page, next, more, nil
}

// TotalPaidOut sums payout entries for conservation checks.
func TotalPaidOut(entries []*Entry) *big.Int {
	total := big.NewInt(0)
	for _, e := range entries {
		if e.Type == "payout" {
			amt, _ := token.Parse(e.Amount)
			total.Add(total, amt)
		}
	}
	return total
}

func (t *Treasury) entry(account, typ, amount, tokenRef, reference string) Entry {
	return Entry{
		ID:        idgen.WithPrefix(idgen.PrefixEntry),
		Account:   account,
		Type:      typ,
		Amount:    amount,
		TokenRef:  tokenRef,
		Reference: reference,
		CreatedAt: time.Now(),
	}
}
