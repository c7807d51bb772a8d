package oracle

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/portfolio-ledger/internal/logging"
	"github.com/portfolio-ledger/internal/types"
)

// CachedClient decorates a PriceClient with a short-lived Redis cache.
// Cache faults degrade to the upstream client, never to a hard failure.
type CachedClient struct {
	upstream PriceClient
	client   *redis.Client
	ttl      time.Duration
	now      func() time.Time
	maxAge   time.Duration
}

// NewCachedClient wraps an upstream client with a Redis cache.
func NewCachedClient(upstream PriceClient, client *redis.Client, ttl time.Duration) *CachedClient {
	return &CachedClient{
		upstream: upstream,
		client:   client,
		ttl:      ttl,
		now:      time.Now,
		maxAge:   ProtocolPriceMaxAge,
	}
}

// cachedPrice is the Redis value shape. Price is serialized as a decimal
// string because the raw value does not fit int64.
type cachedPrice struct {
	Price         string `json:"price"`
	Timestamp     int64  `json:"timestamp"`
	ConfidenceBps int64  `json:"confidenceBps"`
}

func cacheKey(asset types.Address) string {
	return "price:" + asset.Hex()
}

func (c *CachedClient) lookup(ctx context.Context, asset types.Address) *PriceData {
	raw, err := c.client.Get(ctx, cacheKey(asset)).Result()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			logging.FromContext(ctx).WithError(err).Warn("price cache read failed")
		}
		return nil
	}

	var cached cachedPrice
	if err := json.Unmarshal([]byte(raw), &cached); err != nil {
		return nil
	}
	price, ok := new(big.Int).SetString(cached.Price, 10)
	if !ok {
		return nil
	}
	return &PriceData{
		Price:         price,
		Timestamp:     time.Unix(cached.Timestamp, 0).UTC(),
		ConfidenceBps: cached.ConfidenceBps,
	}
}

func (c *CachedClient) store(ctx context.Context, asset types.Address, data *PriceData) {
	payload, err := json.Marshal(cachedPrice{
		Price:         data.Price.String(),
		Timestamp:     data.Timestamp.Unix(),
		ConfidenceBps: data.ConfidenceBps,
	})
	if err != nil {
		return
	}
	if err := c.client.Set(ctx, cacheKey(asset), payload, c.ttl).Err(); err != nil {
		logging.FromContext(ctx).WithError(err).Warn("price cache write failed")
	}
}

func (c *CachedClient) fetch(ctx context.Context, asset types.Address) (*PriceData, error) {
	if data := c.lookup(ctx, asset); data != nil {
		return data, nil
	}

	data, err := c.upstream.PriceUnsafe(ctx, asset)
	if err != nil {
		return nil, fmt.Errorf("upstream price fetch failed: %w", err)
	}

	c.store(ctx, asset, data)
	return data, nil
}

// Price implements the strict read mode over the cached observation.
func (c *CachedClient) Price(ctx context.Context, asset types.Address) (*PriceData, error) {
	data, err := c.fetch(ctx, asset)
	if err != nil {
		return nil, err
	}
	if c.now().Sub(data.Timestamp) > c.maxAge {
		return nil, ErrStalePrice
	}
	return data, nil
}

// PriceUnsafe implements the best-effort read mode.
func (c *CachedClient) PriceUnsafe(ctx context.Context, asset types.Address) (*PriceData, error) {
	return c.fetch(ctx, asset)
}
