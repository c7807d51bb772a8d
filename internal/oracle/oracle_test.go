package oracle

import (
	"context"
	"math/big"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/portfolio-ledger/internal/types"
)

var testAsset = types.Address{0xaa}

func wadPrice(units int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(units), types.Wad())
}

func TestStaticClientStrictMode(t *testing.T) {
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	client := NewStaticClient().WithNow(func() time.Time { return now })

	client.Set(testAsset, wadPrice(100), now.Add(-time.Minute), 9800)

	data, err := client.Price(context.Background(), testAsset)
	require.NoError(t, err)
	assert.Zero(t, data.Price.Cmp(wadPrice(100)))
	assert.Equal(t, int64(9800), data.ConfidenceBps)
}

func TestStaticClientStale(t *testing.T) {
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	client := NewStaticClient().WithNow(func() time.Time { return now })

	client.Set(testAsset, wadPrice(100), now.Add(-ProtocolPriceMaxAge-time.Minute), 9800)

	_, err := client.Price(context.Background(), testAsset)
	assert.ErrorIs(t, err, ErrStalePrice)

	// Unsafe mode still serves the stale observation.
	data, err := client.PriceUnsafe(context.Background(), testAsset)
	require.NoError(t, err)
	assert.Zero(t, data.Price.Cmp(wadPrice(100)))
}

func TestStaticClientUnknownAsset(t *testing.T) {
	client := NewStaticClient()

	_, err := client.Price(context.Background(), testAsset)
	assert.ErrorIs(t, err, ErrPriceNotFound)
}

func newTestRedis(t *testing.T) *redis.Client {
	t.Helper()
	mr := miniredis.RunT(t)
	return redis.NewClient(&redis.Options{Addr: mr.Addr()})
}

func TestCachedClientServesFromCache(t *testing.T) {
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	upstream := NewStaticClient().WithNow(func() time.Time { return now })
	upstream.Set(testAsset, wadPrice(42), now.Add(-time.Minute), 9500)

	cached := NewCachedClient(upstream, newTestRedis(t), time.Minute)
	cached.now = func() time.Time { return now }

	data, err := cached.Price(context.Background(), testAsset)
	require.NoError(t, err)
	assert.Zero(t, data.Price.Cmp(wadPrice(42)))

	// A later upstream change is hidden while the cache entry lives.
	upstream.Set(testAsset, wadPrice(50), now, 9900)

	data, err = cached.Price(context.Background(), testAsset)
	require.NoError(t, err)
	assert.Zero(t, data.Price.Cmp(wadPrice(42)))
}

func TestCachedClientStrictStaleness(t *testing.T) {
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	upstream := NewStaticClient().WithNow(func() time.Time { return now })
	upstream.Set(testAsset, wadPrice(42), now.Add(-ProtocolPriceMaxAge-time.Hour), 9500)

	cached := NewCachedClient(upstream, newTestRedis(t), time.Minute)
	cached.now = func() time.Time { return now }

	_, err := cached.Price(context.Background(), testAsset)
	assert.ErrorIs(t, err, ErrStalePrice)

	data, err := cached.PriceUnsafe(context.Background(), testAsset)
	require.NoError(t, err)
	assert.Zero(t, data.Price.Cmp(wadPrice(42)))
}
