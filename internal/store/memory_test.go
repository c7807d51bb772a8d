package store

import (
	"context"
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/portfolio-ledger/internal/models"
	"github.com/portfolio-ledger/internal/types"
)

var (
	owner = types.Address{0x01}
	other = types.Address{0x02}
	asset = types.Address{0xaa}
)

func newPortfolio(t *testing.T, s *MemoryStore) *models.Portfolio {
	t.Helper()
	p := models.NewPortfolio(owner, "growth", 5, 500, time.Now().UTC())
	require.NoError(t, s.Create(context.Background(), p))
	return p
}

func TestMemoryStoreCreateAssignsMonotonicIDs(t *testing.T) {
	s := NewMemoryStore()

	first := newPortfolio(t, s)
	second := newPortfolio(t, s)

	assert.Equal(t, uint64(1), first.ID)
	assert.Equal(t, uint64(2), second.ID)
}

func TestMemoryStoreGetReturnsDeepCopy(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	p := newPortfolio(t, s)

	got, err := s.Get(ctx, p.ID)
	require.NoError(t, err)

	// Mutating the returned copy must not leak into the store.
	got.Name = "mutated"
	got.TotalValue.SetInt64(999)
	got.AddHolding(&models.AssetHolding{
		Asset:         asset,
		Amount:        big.NewInt(10),
		LastPrice:     new(big.Int),
		UnrealizedPnL: new(big.Int),
	})

	fresh, err := s.Get(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, "growth", fresh.Name)
	assert.Zero(t, fresh.TotalValue.Sign())
	assert.Empty(t, fresh.AssetList)
}

func TestMemoryStoreSave(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	p := newPortfolio(t, s)

	staged, err := s.Get(ctx, p.ID)
	require.NoError(t, err)
	staged.AddHolding(&models.AssetHolding{
		Asset:               asset,
		Amount:              big.NewInt(100),
		TargetAllocationBps: 2500,
		LastPrice:           new(big.Int),
		UnrealizedPnL:       new(big.Int),
	})
	require.NoError(t, s.Save(ctx, staged))

	got, err := s.Get(ctx, p.ID)
	require.NoError(t, err)
	require.Len(t, got.AssetList, 1)
	assert.Equal(t, int64(100), got.Holding(asset).Amount.Int64())
}

func TestMemoryStoreNotFound(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	_, err := s.Get(ctx, 42)
	assert.ErrorIs(t, err, ErrNotFound)

	err = s.Save(ctx, models.NewPortfolio(owner, "ghost", 1, 0, time.Now()))
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStoreListByOwner(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	newPortfolio(t, s)
	newPortfolio(t, s)

	p := models.NewPortfolio(other, "other", 3, 100, time.Now())
	require.NoError(t, s.Create(ctx, p))

	ids, err := s.ListByOwner(ctx, owner)
	require.NoError(t, err)
	assert.Equal(t, []uint64{1, 2}, ids)

	all, err := s.ListIDs(ctx)
	require.NoError(t, err)
	assert.Equal(t, []uint64{1, 2, 3}, all)
}

func TestMemoryAssetRegistry(t *testing.T) {
	ctx := context.Background()
	r := NewMemoryAssetRegistry()

	ok, err := r.IsSupported(ctx, asset)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, r.Add(ctx, asset))
	ok, err = r.IsSupported(ctx, asset)
	require.NoError(t, err)
	assert.True(t, ok)

	list, err := r.List(ctx)
	require.NoError(t, err)
	assert.Len(t, list, 1)

	require.NoError(t, r.Remove(ctx, asset))
	ok, err = r.IsSupported(ctx, asset)
	require.NoError(t, err)
	assert.False(t, ok)
}
