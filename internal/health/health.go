// Package health aggregates readiness probes for the server's subsystems.
package health

import (
	"context"
	"sync"
	"time"
)

// Status is the outcome of one subsystem probe.
type Status struct {
	Name    string `json:"name"`
	Healthy bool   `json:"healthy"`
	Detail  string `json:"detail,omitempty"`
}

// Check probes one subsystem. A nil return means healthy.
type Check func(ctx context.Context) error

// Registry runs named checks on demand.
type Registry struct {
	mu      sync.RWMutex
	timeout time.Duration
	checks  []namedCheck
}

type namedCheck struct {
	name  string
	check Check
}

// NewRegistry creates a registry. Each check runs under the given timeout;
// zero disables the per-check deadline.
func NewRegistry(timeout time.Duration) *Registry {
	return &Registry{timeout: timeout}
}

// Register adds a named check. Checks run in registration order.
func (r *Registry) Register(name string, check Check) {
	r.mu.Lock()
	r.checks = append(r.checks, namedCheck{name: name, check: check})
	r.mu.Unlock()
}

// CheckAll runs every registered check and reports per-subsystem results.
// The aggregate is healthy only when all checks pass.
func (r *Registry) CheckAll(ctx context.Context) (bool, []Status) {
	r.mu.RLock()
	checks := make([]namedCheck, len(r.checks))
	copy(checks, r.checks)
	r.mu.RUnlock()

	healthy := true
	statuses := make([]Status, len(checks))
	for i, nc := range checks {
		statuses[i] = r.run(ctx, nc)
		if !statuses[i].Healthy {
			healthy = false
		}
	}
	return healthy, statuses
}

func (r *Registry) run(ctx context.Context, nc namedCheck) Status {
	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}
	if err := nc.check(ctx); err != nil {
		return Status{Name: nc.name, Healthy: false, Detail: err.Error()}
	}
	return Status{Name: nc.name, Healthy: true}
}
