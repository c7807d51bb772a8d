// Package store provides persistence for portfolios and the supported-asset
// registry. The portfolio store works on whole aggregates: Get hands out a
// deep copy, Save replaces the aggregate wholesale. Engine operations stage
// their changes on the copy and call Save only on full success, which is what
// gives every operation its all-or-nothing behavior.
package store

import (
	"context"
	"errors"

	"github.com/portfolio-ledger/internal/models"
	"github.com/portfolio-ledger/internal/types"
)

// ErrNotFound is returned when a portfolio id is unknown.
var ErrNotFound = errors.New("portfolio not found")

// PortfolioStore persists portfolio aggregates.
type PortfolioStore interface {
	// Create assigns a monotonically increasing id and persists the aggregate.
	Create(ctx context.Context, p *models.Portfolio) error
	// Get returns a deep copy of the aggregate, or ErrNotFound.
	Get(ctx context.Context, id uint64) (*models.Portfolio, error)
	// Save replaces the persisted aggregate with the given one.
	Save(ctx context.Context, p *models.Portfolio) error
	// ListByOwner returns all portfolio ids owned by an address.
	ListByOwner(ctx context.Context, owner types.Address) ([]uint64, error)
	// ListIDs returns every portfolio id, ordered ascending.
	ListIDs(ctx context.Context) ([]uint64, error)
}

// AssetRegistry is the admin-gated supported-asset allow-list.
type AssetRegistry interface {
	Add(ctx context.Context, asset types.Address) error
	Remove(ctx context.Context, asset types.Address) error
	IsSupported(ctx context.Context, asset types.Address) (bool, error)
	List(ctx context.Context) ([]types.Address, error)
}
