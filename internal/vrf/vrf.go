// Package vrf abstracts the external randomness provider.
//
// A draw open issues a Request keyed by the draw ID; the provider later
// calls back into the engine with a 256-bit random value for that ID.
// Requests and deliveries are decoupled in time, and delivery may never
// happen, which is why the engine keeps retry and cancel paths.
package vrf

import (
	"context"
	"crypto/rand"
	"errors"
	"log/slog"
	"math/big"
	"sync"
	"time"
)

// ErrProviderClosed is returned by Request after the provider shut down.
var ErrProviderClosed = errors.New("randomness provider closed")

// Fulfiller receives delivered randomness. The engine's draw service
// implements this.
type Fulfiller interface {
	Deliver(ctx context.Context, requestID string, randomValue *big.Int) error
}

// Provider accepts randomness requests keyed by request ID.
type Provider interface {
	Request(ctx context.Context, requestID string) error
}

// maxRandom bounds generated values to 256 bits, matching what an on-chain
// randomness oracle would deliver.
var maxRandom = new(big.Int).Lsh(big.NewInt(1), 256)

// LocalProvider simulates an external randomness oracle: each request is
// answered after a fixed delay with a fresh crypto/rand value, delivered on
// a background goroutine. With zero delay, delivery is still asynchronous.
type LocalProvider struct {
	mu        sync.Mutex
	fulfiller Fulfiller
	delay     time.Duration
	logger    *slog.Logger
	wg        sync.WaitGroup
	closed    bool
}

// NewLocalProvider creates a local randomness provider.
func NewLocalProvider(delay time.Duration, logger *slog.Logger) *LocalProvider {
	if logger == nil {
		logger = slog.Default()
	}
	return &LocalProvider{delay: delay, logger: logger}
}

// SetFulfiller wires the delivery target. Must be called before Request;
// split from the constructor because the provider and the draw service
// reference each other.
func (p *LocalProvider) SetFulfiller(f Fulfiller) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.fulfiller = f
}

// Request schedules asynchronous delivery of randomness for the ID.
func (p *LocalProvider) Request(ctx context.Context, requestID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrProviderClosed
	}
	if p.fulfiller == nil {
		return errors.New("no fulfiller configured")
	}

	p.wg.Add(1)
	go p.deliver(requestID)
	return nil
}

func (p *LocalProvider) deliver(requestID string) {
	defer p.wg.Done()

	if p.delay > 0 {
		time.Sleep(p.delay)
	}

	value, err := rand.Int(rand.Reader, maxRandom)
	if err != nil {
		p.logger.Error("randomness generation failed", "requestId", requestID, "error", err)
		return
	}

	p.mu.Lock()
	f := p.fulfiller
	p.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := f.Deliver(ctx, requestID, value); err != nil {
		// Unknown requests are expected after a retry or cancel raced
		// the delivery; anything else is worth a warning.
		p.logger.Warn("randomness delivery rejected", "requestId", requestID, "error", err)
	}
}

// Close stops accepting requests and waits for in-flight deliveries.
func (p *LocalProvider) Close() {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	p.wg.Wait()
}

// ManualProvider holds requests until Fire is called. Used in development
// mode to exercise the retry and cancel paths, and by tests.
type ManualProvider struct {
	mu        sync.Mutex
	fulfiller Fulfiller
	pending   []string
}

// NewManualProvider creates a provider that never delivers on its own.
func NewManualProvider() *ManualProvider {
	return &ManualProvider{}
}

// SetFulfiller wires the delivery target.
func (p *ManualProvider) SetFulfiller(f Fulfiller) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.fulfiller = f
}

// Request records the ID and returns.
func (p *ManualProvider) Request(ctx context.Context, requestID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pending = append(p.pending, requestID)
	return nil
}

// Pending returns the request IDs awaiting delivery.
func (p *ManualProvider) Pending() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.pending))
	copy(out, p.pending)
	return out
}

// Fire delivers the given value for a request ID and forgets it.
func (p *ManualProvider) Fire(ctx context.Context, requestID string, value *big.Int) error {
	p.mu.Lock()
	f := p.fulfiller
	for i, id := range p.pending {
		if id == requestID {
			p.pending = append(p.pending[:i], p.pending[i+1:]...)
			break
		}
	}
	p.mu.Unlock()

	if f == nil {
		return errors.New("no fulfiller configured")
	}
	return f.Deliver(ctx, requestID, value)
}
