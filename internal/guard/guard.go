// Package guard holds the capability checks and the circuit breaker consulted
// before every mutating engine operation. Both are injected collaborators;
// the engine never owns authorization or pause state itself.
package guard

import (
	"sync"
	"time"

	"github.com/portfolio-ledger/internal/logging"
	"github.com/portfolio-ledger/internal/types"
)

// CapabilityChecker answers authorization questions for engine operations.
type CapabilityChecker interface {
	// IsOwner reports whether the caller owns the portfolio.
	IsOwner(portfolioOwner, caller types.Address) bool
	// HasRebalancerRole reports whether the caller may rebalance any portfolio.
	HasRebalancerRole(caller types.Address) bool
}

// RoleRegistry is an in-memory CapabilityChecker with admin-managed grants.
type RoleRegistry struct {
	mu          sync.RWMutex
	rebalancers map[types.Address]bool
	admins      map[types.Address]bool
}

// NewRoleRegistry creates a registry with the given initial admins.
func NewRoleRegistry(admins ...types.Address) *RoleRegistry {
	r := &RoleRegistry{
		rebalancers: make(map[types.Address]bool),
		admins:      make(map[types.Address]bool),
	}
	for _, a := range admins {
		r.admins[a] = true
	}
	return r
}

// IsOwner implements CapabilityChecker.
func (r *RoleRegistry) IsOwner(portfolioOwner, caller types.Address) bool {
	return portfolioOwner == caller
}

// HasRebalancerRole implements CapabilityChecker.
func (r *RoleRegistry) HasRebalancerRole(caller types.Address) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.rebalancers[caller]
}

// IsAdmin reports whether the caller may use the admin surface.
func (r *RoleRegistry) IsAdmin(caller types.Address) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.admins[caller]
}

// GrantRebalancer grants the rebalancer role.
func (r *RoleRegistry) GrantRebalancer(addr types.Address) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rebalancers[addr] = true
}

// RevokeRebalancer revokes the rebalancer role.
func (r *RoleRegistry) RevokeRebalancer(addr types.Address) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.rebalancers, addr)
}

// Breaker is the protocol-wide emergency halt switch. When open, every
// mutating operation fails before touching any state.
type Breaker struct {
	mu       sync.RWMutex
	paused   bool
	pausedAt time.Time
	pausedBy types.Address
	reason   string
}

// NewBreaker creates a breaker in the running (unpaused) state.
func NewBreaker() *Breaker {
	return &Breaker{}
}

// IsPaused reports whether the protocol is halted.
func (b *Breaker) IsPaused() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.paused
}

// Pause halts all mutating operations.
func (b *Breaker) Pause(by types.Address, reason string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.paused {
		return
	}
	b.paused = true
	b.pausedAt = time.Now()
	b.pausedBy = by
	b.reason = reason

	logging.WithFields(map[string]interface{}{
		"by":     by.Hex(),
		"reason": reason,
	}).Warn("Protocol paused")
}

// Resume lifts the halt.
func (b *Breaker) Resume(by types.Address) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.paused {
		return
	}
	b.paused = false
	b.reason = ""

	logging.WithField("by", by.Hex()).Info("Protocol resumed")
}

// Status describes the current breaker state.
type Status struct {
	Paused   bool           `json:"paused"`
	PausedAt *time.Time     `json:"pausedAt,omitempty"`
	PausedBy *types.Address `json:"pausedBy,omitempty"`
	Reason   string         `json:"reason,omitempty"`
}

// Status returns a snapshot of the breaker state.
func (b *Breaker) Status() Status {
	b.mu.RLock()
	defer b.mu.RUnlock()

	s := Status{Paused: b.paused, Reason: b.reason}
	if b.paused {
		at := b.pausedAt
		by := b.pausedBy
		s.PausedAt = &at
		s.PausedBy = &by
	}
	return s
}
