// Package draws implements the draw engine: opening fixed and flex draws,
// fulfilling them when randomness arrives, and the operator recovery paths
// for draws whose randomness never arrives.
//
// A draw's ID doubles as its randomness request handle. Between open and
// fulfillment the draw is a PendingDraw record; fulfillment, retry, and
// cancel are the only ways out, and each runs under a per-draw mutex so a
// duplicate randomness delivery can never pay out twice.
package draws

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"sync/atomic"
	"time"

	"github.com/lootlabs/drawpool/internal/idgen"
	"github.com/lootlabs/drawpool/internal/logging"
	"github.com/lootlabs/drawpool/internal/pool"
	"github.com/lootlabs/drawpool/internal/reserve"
	"github.com/lootlabs/drawpool/internal/token"
	"github.com/lootlabs/drawpool/internal/traces"
	"github.com/lootlabs/drawpool/internal/treasury"
	"github.com/lootlabs/drawpool/internal/vrf"
)

var (
	ErrUnknownRequest   = errors.New("unknown draw")
	ErrAlreadyFulfilled = errors.New("draw already fulfilled")
	ErrWrongPrice       = errors.New("payment does not match pool price")
	ErrPaymentTooSmall  = errors.New("payment below flex minimum")
	ErrInvalidAmount    = errors.New("invalid amount")
)

// Kind distinguishes the two draw flavors.
type Kind string

const (
	KindFixed Kind = "fixed"
	KindFlex  Kind = "flex"
)

const bpsDenom = 10000

// Snapshot freezes a flex draw's terms at open time. Later config changes
// never touch an open draw.
type Snapshot struct {
	NothingBps     int64  `json:"nothingBps"`
	ItemBps        int64  `json:"itemBps"`
	FungiblePayout string `json:"fungiblePayout"`
}

// Draw is a pending draw awaiting randomness. The ID is also the
// randomness request handle.
type Draw struct {
	ID               string    `json:"id"`
	Kind             Kind      `json:"kind"`
	Buyer            string    `json:"buyer"`
	PoolID           string    `json:"poolId,omitempty"`
	AmountPaid       string    `json:"amountPaid"`
	Snapshot         Snapshot  `json:"snapshot,omitempty"`
	ReservedFungible string    `json:"reservedFungible,omitempty"`
	ReservedItem     bool      `json:"reservedItem"`
	Fulfilled        bool      `json:"fulfilled"`
	RetryOf          string    `json:"retryOf,omitempty"`
	CreatedAt        time.Time `json:"createdAt"`
}

// Outcome is the result of a fulfilled draw.
type Outcome struct {
	DrawID   string   `json:"drawId"`
	Kind     Kind     `json:"kind"`
	Buyer    string   `json:"buyer"`
	Nothing  bool     `json:"nothing"`
	Fungible string   `json:"fungible,omitempty"`
	Tokens   []string `json:"tokens,omitempty"`
	ItemID   string   `json:"itemId,omitempty"`
}

// Preview is the computed terms a flex payment would lock in right now.
type Preview struct {
	Payment        string `json:"payment"`
	NothingBps     int64  `json:"nothingBps"`
	ItemBps        int64  `json:"itemBps"`
	FungiblePayout string `json:"fungiblePayout"`
	ItemAvailable  bool   `json:"itemAvailable"`
}

// FlexStatus is the operator view of the flex side.
type FlexStatus struct {
	Reserve      reserve.Counters `json:"reserve"`
	PendingFixed int64            `json:"pendingFixed"`
	PendingFlex  int64            `json:"pendingFlex"`
	MinPayment   string           `json:"minPayment"`
}

// FlexTerms holds the open-time parameters for flex draws.
type FlexTerms struct {
	MinPayment     *big.Int
	NothingBps     int64
	ItemBpsMin     int64
	ItemBpsMax     int64
	ItemBpsPerUnit int64
	BasePayout     *big.Int
	PayoutRateBps  int64
}

// Store persists pending draws.
type Store interface {
	Create(ctx context.Context, d *Draw) error
	Get(ctx context.Context, id string) (*Draw, error)
	// MarkFulfilled flips the fulfilled flag; returns ErrAlreadyFulfilled
	// if it was already set.
	MarkFulfilled(ctx context.Context, id string) error
	Delete(ctx context.Context, id string) error
	List(ctx context.Context) ([]*Draw, error)
}

// Events receives draw lifecycle notifications. May be nil.
type Events interface {
	Publish(eventType string, data any)
}

// Service is the draw engine.
type Service struct {
	store    Store
	pools    *pool.Service
	resv     *reserve.Ledger
	treasury *treasury.Treasury
	provider vrf.Provider
	terms    FlexTerms
	events   Events

	drawLocks    sync.Map // draw ID -> *sync.Mutex
	pendingFixed atomic.Int64
	pendingFlex  atomic.Int64
}

// NewService creates the draw engine. Pending counts are rebuilt from the
// store so gauges survive restarts.
func NewService(ctx context.Context, store Store, pools *pool.Service, resv *reserve.Ledger, t *treasury.Treasury, provider vrf.Provider, terms FlexTerms, events Events) (*Service, error) {
	s := &Service{
		store:    store,
		pools:    pools,
		resv:     resv,
		treasury: t,
		provider: provider,
		terms:    terms,
		events:   events,
	}

	pending, err := store.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list pending draws: %w", err)
	}
	for _, d := range pending {
		if d.Fulfilled {
			// Marked fulfilled but kept after a failed payout; not part
			// of the backlog.
			continue
		}
		if d.Kind == KindFixed {
			s.pendingFixed.Add(1)
		} else {
			s.pendingFlex.Add(1)
		}
	}
	s.publishPending()
	return s, nil
}

// OpenFixed opens a draw against a fixed pool. The payment must equal the
// pool price exactly and is forwarded to the treasury before the draw is
// recorded; a forwarding failure aborts the whole call.
func (s *Service) OpenFixed(ctx context.Context, buyer, poolID, payment string) (*Draw, error) {
	ctx, span := traces.StartSpan(ctx, "draws.OpenFixed", traces.Buyer(buyer), traces.PoolID(poolID))
	defer span.End()

	paid, ok := token.Parse(payment)
	if !ok || paid.Sign() <= 0 {
		return nil, ErrInvalidAmount
	}

	p, err := s.pools.GetPool(ctx, poolID)
	if err != nil {
		return nil, err
	}
	price, _ := token.Parse(p.Price)
	if paid.Cmp(price) != 0 {
		return nil, ErrWrongPrice
	}
	if p.Remaining == 0 {
		return nil, pool.ErrEmptyPool
	}
	if p.TotalWeight <= 0 {
		return nil, pool.ErrNoWeight
	}

	d := &Draw{
		ID:         idgen.WithPrefix(idgen.PrefixDraw),
		Kind:       KindFixed,
		Buyer:      buyer,
		PoolID:     poolID,
		AmountPaid: payment,
		CreatedAt:  time.Now(),
	}

	if err := s.treasury.Forward(ctx, buyer, payment, d.ID); err != nil {
		return nil, err
	}
	if err := s.store.Create(ctx, d); err != nil {
		s.refund(ctx, buyer, payment, d.ID)
		return nil, fmt.Errorf("create draw: %w", err)
	}
	if err := s.provider.Request(ctx, d.ID); err != nil {
		_ = s.store.Delete(ctx, d.ID)
		s.refund(ctx, buyer, payment, d.ID)
		return nil, fmt.Errorf("randomness request: %w", err)
	}

	s.pendingFixed.Add(1)
	s.publishPending()
	observeOpened(KindFixed)
	s.publish("draw_opened", d)
	logging.L(ctx).Info("fixed draw opened",
		"drawId", d.ID, "poolId", poolID, "buyer", buyer, "payment", payment)
	return d, nil
}

// OpenFlex opens a flex draw. Terms are computed from the payment and
// frozen into the draw's snapshot; the snapshotted payout and, when the
// item chance is live, one item slot are committed against the reserve.
func (s *Service) OpenFlex(ctx context.Context, buyer, payment string) (*Draw, error) {
	ctx, span := traces.StartSpan(ctx, "draws.OpenFlex", traces.Buyer(buyer), traces.Amount(payment))
	defer span.End()

	paid, ok := token.Parse(payment)
	if !ok || paid.Sign() <= 0 {
		return nil, ErrInvalidAmount
	}
	if paid.Cmp(s.terms.MinPayment) < 0 {
		return nil, ErrPaymentTooSmall
	}

	snap := s.computeTerms(paid)
	payout, _ := token.Parse(snap.FungiblePayout)

	// Commit reservations first; they are cheap to compensate if a later
	// step fails. External effects come after.
	if err := s.resv.CommitFungible(ctx, payout); err != nil {
		return nil, err
	}
	reservedItem := snap.ItemBps > 0
	if reservedItem {
		if err := s.resv.CommitItem(ctx); err != nil {
			_ = s.resv.ReleaseFungible(ctx, payout)
			return nil, err
		}
	}

	release := func() {
		_ = s.resv.ReleaseFungible(ctx, payout)
		if reservedItem {
			_ = s.resv.ReleaseItem(ctx)
		}
	}

	d := &Draw{
		ID:               idgen.WithPrefix(idgen.PrefixDraw),
		Kind:             KindFlex,
		Buyer:            buyer,
		AmountPaid:       payment,
		Snapshot:         snap,
		ReservedFungible: snap.FungiblePayout,
		ReservedItem:     reservedItem,
		CreatedAt:        time.Now(),
	}

	if err := s.treasury.Forward(ctx, buyer, payment, d.ID); err != nil {
		release()
		return nil, err
	}
	if err := s.store.Create(ctx, d); err != nil {
		release()
		s.refund(ctx, buyer, payment, d.ID)
		return nil, fmt.Errorf("create draw: %w", err)
	}
	if err := s.provider.Request(ctx, d.ID); err != nil {
		_ = s.store.Delete(ctx, d.ID)
		release()
		s.refund(ctx, buyer, payment, d.ID)
		return nil, fmt.Errorf("randomness request: %w", err)
	}

	s.pendingFlex.Add(1)
	s.publishPending()
	observeOpened(KindFlex)
	s.publish("draw_opened", d)
	logging.L(ctx).Info("flex draw opened",
		"drawId", d.ID, "buyer", buyer, "payment", payment,
		"itemBps", snap.ItemBps, "fungiblePayout", snap.FungiblePayout)
	return d, nil
}

// Fulfill processes a randomness delivery for a pending draw. The draw is
// marked fulfilled before any payout so a duplicate delivery fails with
// ErrAlreadyFulfilled and changes nothing. The record is deleted once
// processing completes.
func (s *Service) Fulfill(ctx context.Context, requestID string, randomValue *big.Int) (*Outcome, error) {
	ctx, span := traces.StartSpan(ctx, "draws.Fulfill", traces.DrawID(requestID))
	defer span.End()

	if randomValue == nil || randomValue.Sign() < 0 {
		return nil, ErrInvalidAmount
	}

	unlock := s.lockDraw(requestID)
	defer unlock()

	d, err := s.store.Get(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if d.Fulfilled {
		return nil, ErrAlreadyFulfilled
	}
	if err := s.store.MarkFulfilled(ctx, requestID); err != nil {
		return nil, err
	}

	var outcome *Outcome
	if d.Kind == KindFixed {
		outcome, err = s.fulfillFixed(ctx, d, randomValue)
	} else {
		outcome, err = s.fulfillFlex(ctx, d, randomValue)
	}
	if err != nil {
		// The draw stays marked fulfilled so the delivery cannot be
		// replayed against it; the record is kept for inspection. It is
		// out of the backlog either way, so the pending gauge drops here.
		if d.Kind == KindFixed {
			s.pendingFixed.Add(-1)
		} else {
			s.pendingFlex.Add(-1)
		}
		s.publishPending()
		logging.L(ctx).Error("fulfillment failed after mark",
			"drawId", d.ID, "kind", d.Kind, "error", err)
		return nil, err
	}

	if err := s.store.Delete(ctx, d.ID); err != nil {
		logging.L(ctx).Error("delete fulfilled draw", "drawId", d.ID, "error", err)
	}
	s.drawLocks.Delete(d.ID)

	if d.Kind == KindFixed {
		s.pendingFixed.Add(-1)
	} else {
		s.pendingFlex.Add(-1)
	}
	s.publishPending()
	observeFulfilled(d.Kind, outcome)
	s.publish("draw_fulfilled", outcome)
	logging.L(ctx).Info("draw fulfilled",
		"drawId", d.ID, "kind", d.Kind, "nothing", outcome.Nothing,
		"fungible", outcome.Fungible, "tokens", len(outcome.Tokens))
	return outcome, nil
}

// Deliver implements vrf.Fulfiller.
func (s *Service) Deliver(ctx context.Context, requestID string, randomValue *big.Int) error {
	_, err := s.Fulfill(ctx, requestID, randomValue)
	return err
}

func (s *Service) fulfillFixed(ctx context.Context, d *Draw, randomValue *big.Int) (*Outcome, error) {
	item, err := s.pools.DrawWeighted(ctx, d.PoolID, randomValue)
	if err != nil {
		return nil, err
	}

	outcome := &Outcome{
		DrawID: d.ID,
		Kind:   KindFixed,
		Buyer:  d.Buyer,
		ItemID: item.ID,
	}
	if item.Payload.Fungible != "" {
		if err := s.treasury.PayoutFungible(ctx, d.Buyer, item.Payload.Fungible, d.ID); err != nil {
			return nil, fmt.Errorf("fungible payout: %w", err)
		}
		outcome.Fungible = item.Payload.Fungible
	}
	for _, ref := range item.Payload.Tokens {
		if err := s.treasury.PayoutToken(ctx, d.Buyer, ref, d.ID); err != nil {
			return nil, fmt.Errorf("token payout: %w", err)
		}
		outcome.Tokens = append(outcome.Tokens, ref)
	}
	return outcome, nil
}

// fulfillFlex resolves a flex draw against its snapshot.
//
// Two independent sub-rolls come out of the random value: the low digits
// decide the nothing check, the next decide the item check, and the rest
// selects the flat-pool token when an item is granted. Reservations are
// released before the matching payout so the reserve never double-counts.
func (s *Service) fulfillFlex(ctx context.Context, d *Draw, randomValue *big.Int) (*Outcome, error) {
	denom := big.NewInt(bpsDenom)
	rest := new(big.Int).Set(randomValue)

	roll := new(big.Int)
	rest.DivMod(rest, denom, roll)
	itemRoll := new(big.Int)
	rest.DivMod(rest, denom, itemRoll)

	nothing := roll.Int64() < d.Snapshot.NothingBps
	grantItem := d.ReservedItem && !nothing && itemRoll.Int64() < d.Snapshot.ItemBps

	outcome := &Outcome{
		DrawID:  d.ID,
		Kind:    KindFlex,
		Buyer:   d.Buyer,
		Nothing: nothing,
	}

	reserved, _ := token.Parse(d.ReservedFungible)
	if err := s.resv.ReleaseFungible(ctx, reserved); err != nil {
		return nil, err
	}
	if !nothing {
		if err := s.resv.SpendFungible(ctx, reserved); err != nil {
			return nil, err
		}
		if err := s.treasury.PayoutFungible(ctx, d.Buyer, d.Snapshot.FungiblePayout, d.ID); err != nil {
			return nil, fmt.Errorf("fungible payout: %w", err)
		}
		outcome.Fungible = d.Snapshot.FungiblePayout
	}

	if d.ReservedItem {
		if err := s.resv.ReleaseItem(ctx); err != nil {
			return nil, err
		}
	}
	if grantItem {
		// DrawFlexToken also consumes the item slot from the float.
		tok, err := s.pools.DrawFlexToken(ctx, rest)
		if err != nil {
			return nil, fmt.Errorf("flex token draw: %w", err)
		}
		if err := s.treasury.PayoutToken(ctx, d.Buyer, tok.Ref, d.ID); err != nil {
			return nil, fmt.Errorf("token payout: %w", err)
		}
		outcome.Tokens = []string{tok.Ref}
	}
	return outcome, nil
}

// Retry abandons a pending draw's randomness request and issues a new one.
// The replacement draw keeps the original snapshot and reservation flags
// under a new ID; the net reserve effect is zero.
func (s *Service) Retry(ctx context.Context, requestID string) (*Draw, error) {
	ctx, span := traces.StartSpan(ctx, "draws.Retry", traces.DrawID(requestID))
	defer span.End()

	unlock := s.lockDraw(requestID)
	defer unlock()

	old, err := s.store.Get(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if old.Fulfilled {
		return nil, ErrAlreadyFulfilled
	}

	replacement := *old
	replacement.ID = idgen.WithPrefix(idgen.PrefixDraw)
	replacement.RetryOf = old.ID
	replacement.CreatedAt = time.Now()

	if err := s.store.Create(ctx, &replacement); err != nil {
		return nil, fmt.Errorf("create replacement draw: %w", err)
	}
	if err := s.provider.Request(ctx, replacement.ID); err != nil {
		_ = s.store.Delete(ctx, replacement.ID)
		return nil, fmt.Errorf("randomness request: %w", err)
	}
	if err := s.store.Delete(ctx, old.ID); err != nil {
		logging.L(ctx).Error("delete retried draw", "drawId", old.ID, "error", err)
	}
	s.drawLocks.Delete(old.ID)

	observeRetried(old.Kind)
	s.publish("draw_retried", &replacement)
	logging.L(ctx).Info("draw retried", "drawId", old.ID, "newDrawId", replacement.ID)
	return &replacement, nil
}

// Cancel abandons a pending draw, releasing exactly what its reservation
// flags say was committed. No payout occurs.
func (s *Service) Cancel(ctx context.Context, requestID string) error {
	ctx, span := traces.StartSpan(ctx, "draws.Cancel", traces.DrawID(requestID))
	defer span.End()

	unlock := s.lockDraw(requestID)
	defer unlock()

	d, err := s.store.Get(ctx, requestID)
	if err != nil {
		return err
	}
	if d.Fulfilled {
		return ErrAlreadyFulfilled
	}

	if d.ReservedFungible != "" {
		reserved, _ := token.Parse(d.ReservedFungible)
		if err := s.resv.ReleaseFungible(ctx, reserved); err != nil {
			return err
		}
	}
	if d.ReservedItem {
		if err := s.resv.ReleaseItem(ctx); err != nil {
			return err
		}
	}

	if err := s.store.Delete(ctx, d.ID); err != nil {
		return fmt.Errorf("delete cancelled draw: %w", err)
	}
	s.drawLocks.Delete(d.ID)

	if d.Kind == KindFixed {
		s.pendingFixed.Add(-1)
	} else {
		s.pendingFlex.Add(-1)
	}
	s.publishPending()
	observeCancelled(d.Kind)
	s.publish("draw_cancelled", d)
	logging.L(ctx).Info("draw cancelled", "drawId", d.ID, "kind", d.Kind)
	return nil
}

// Get returns a pending draw by ID.
func (s *Service) Get(ctx context.Context, id string) (*Draw, error) {
	return s.store.Get(ctx, id)
}

// FlexPreview computes the terms a payment would lock in right now.
func (s *Service) FlexPreview(payment string) (*Preview, error) {
	paid, ok := token.Parse(payment)
	if !ok || paid.Sign() <= 0 {
		return nil, ErrInvalidAmount
	}
	if paid.Cmp(s.terms.MinPayment) < 0 {
		return nil, ErrPaymentTooSmall
	}

	snap := s.computeTerms(paid)
	return &Preview{
		Payment:        token.Format(paid),
		NothingBps:     snap.NothingBps,
		ItemBps:        snap.ItemBps,
		FungiblePayout: snap.FungiblePayout,
		ItemAvailable:  s.resv.AvailableItems() > 0,
	}, nil
}

// Status returns the operator view: reserve counters and pending backlogs.
func (s *Service) Status() *FlexStatus {
	return &FlexStatus{
		Reserve:      s.resv.Status(),
		PendingFixed: s.pendingFixed.Load(),
		PendingFlex:  s.pendingFlex.Load(),
		MinPayment:   token.Format(s.terms.MinPayment),
	}
}

// computeTerms derives the flex snapshot for a payment.
//
//	itemBps  = clamp(bpsMin + (paid-min)*perUnit/unit, bpsMin, bpsMax)
//	payout   = base + paid*rateBps/10000
func (s *Service) computeTerms(paid *big.Int) Snapshot {
	extra := new(big.Int).Sub(paid, s.terms.MinPayment)
	scaled := new(big.Int).Mul(extra, big.NewInt(s.terms.ItemBpsPerUnit))
	scaled.Div(scaled, token.Unit)

	itemBps := s.terms.ItemBpsMin
	if scaled.IsInt64() {
		itemBps += scaled.Int64()
	} else {
		itemBps = s.terms.ItemBpsMax
	}
	if itemBps < s.terms.ItemBpsMin {
		itemBps = s.terms.ItemBpsMin
	}
	if itemBps > s.terms.ItemBpsMax {
		itemBps = s.terms.ItemBpsMax
	}

	payout := new(big.Int).Mul(paid, big.NewInt(s.terms.PayoutRateBps))
	payout.Div(payout, big.NewInt(bpsDenom))
	payout.Add(payout, s.terms.BasePayout)

	return Snapshot{
		NothingBps:     s.terms.NothingBps,
		ItemBps:        itemBps,
		FungiblePayout: token.Format(payout),
	}
}

// lockDraw serializes all operations touching one draw ID.
func (s *Service) lockDraw(id string) func() {
	v, _ := s.drawLocks.LoadOrStore(id, &sync.Mutex{})
	mu := v.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}

func (s *Service) refund(ctx context.Context, buyer, amount, reference string) {
	if err := s.treasury.Refund(ctx, buyer, amount, reference); err != nil {
		logging.L(ctx).Error("refund failed", "buyer", buyer, "amount", amount, "error", err)
	}
}

func (s *Service) publish(eventType string, data any) {
	if s.events != nil {
		s.events.Publish(eventType, data)
	}
}
