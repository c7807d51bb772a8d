package store

import (
	"context"
	"sort"
	"sync"

	"github.com/portfolio-ledger/internal/models"
	"github.com/portfolio-ledger/internal/types"
)

// MemoryStore is an in-memory PortfolioStore used in tests and dev mode.
// Aggregates are deep-copied on the way in and out so callers can never
// mutate stored state without going through Save.
type MemoryStore struct {
	mu         sync.RWMutex
	nextID     uint64
	portfolios map[uint64]*models.Portfolio
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		nextID:     1,
		portfolios: make(map[uint64]*models.Portfolio),
	}
}

// Create implements PortfolioStore. IDs are assigned monotonically and never
// reused, even after a portfolio goes inactive.
func (s *MemoryStore) Create(ctx context.Context, p *models.Portfolio) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p.ID = s.nextID
	s.nextID++
	s.portfolios[p.ID] = p.Clone()
	return nil
}

// Get implements PortfolioStore.
func (s *MemoryStore) Get(ctx context.Context, id uint64) (*models.Portfolio, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.portfolios[id]
	if !ok {
		return nil, ErrNotFound
	}
	return p.Clone(), nil
}

// Save implements PortfolioStore.
func (s *MemoryStore) Save(ctx context.Context, p *models.Portfolio) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.portfolios[p.ID]; !ok {
		return ErrNotFound
	}
	s.portfolios[p.ID] = p.Clone()
	return nil
}

// ListByOwner implements PortfolioStore.
func (s *MemoryStore) ListByOwner(ctx context.Context, owner types.Address) ([]uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var ids []uint64
	for id, p := range s.portfolios {
		if p.Owner == owner {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

// ListIDs implements PortfolioStore.
func (s *MemoryStore) ListIDs(ctx context.Context) ([]uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]uint64, 0, len(s.portfolios))
	for id := range s.portfolios {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

// MemoryAssetRegistry is an in-memory supported-asset allow-list.
type MemoryAssetRegistry struct {
	mu     sync.RWMutex
	assets map[types.Address]bool
}

// NewMemoryAssetRegistry creates an empty registry.
func NewMemoryAssetRegistry() *MemoryAssetRegistry {
	return &MemoryAssetRegistry{assets: make(map[types.Address]bool)}
}

// Add implements AssetRegistry.
func (r *MemoryAssetRegistry) Add(ctx context.Context, asset types.Address) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.assets[asset] = true
	return nil
}

// Remove implements AssetRegistry.
func (r *MemoryAssetRegistry) Remove(ctx context.Context, asset types.Address) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.assets, asset)
	return nil
}

// IsSupported implements AssetRegistry.
func (r *MemoryAssetRegistry) IsSupported(ctx context.Context, asset types.Address) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.assets[asset], nil
}

// List implements AssetRegistry.
func (r *MemoryAssetRegistry) List(ctx context.Context) ([]types.Address, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]types.Address, 0, len(r.assets))
	for asset := range r.assets {
		out = append(out, asset)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Hex() < out[j].Hex()
	})
	return out, nil
}
