// Package oracle provides price feed access for the portfolio ledger.
//
// Two read modes are exposed: Price enforces the protocol-wide staleness
// bound and fails on old data, PriceUnsafe always returns the latest known
// observation and is used for best-effort valuation snapshots.
package oracle

import (
	"context"
	"errors"
	"math/big"
	"time"

	"github.com/portfolio-ledger/internal/types"
)

// ErrStalePrice is returned by the strict read mode when the latest
// observation is older than the protocol-wide maximum age.
var ErrStalePrice = errors.New("stale price data")

// ErrPriceNotFound is returned when no observation exists for an asset.
var ErrPriceNotFound = errors.New("no price data for asset")

// PriceData is one oracle observation for an asset. Price is USD per unit in
// 1e18 fixed point; Confidence is a 0-10000 bps reliability score.
type PriceData struct {
	Price         *big.Int  `json:"price"`
	Timestamp     time.Time `json:"timestamp"`
	ConfidenceBps int64     `json:"confidenceBps"`
}

// Clone returns a deep copy of the observation.
func (p *PriceData) Clone() *PriceData {
	out := *p
	out.Price = new(big.Int).Set(p.Price)
	return &out
}

// PriceClient reads asset prices from a feed.
type PriceClient interface {
	// Price returns the latest observation, failing with ErrStalePrice when
	// it is older than the protocol-wide maximum age.
	Price(ctx context.Context, asset types.Address) (*PriceData, error)
	// PriceUnsafe returns the latest observation regardless of staleness.
	PriceUnsafe(ctx context.Context, asset types.Address) (*PriceData, error)
}

// ProtocolPriceMaxAge is the staleness bound enforced by the strict read mode.
const ProtocolPriceMaxAge = 24 * time.Hour

// StaticClient is an in-memory feed used in tests and dev mode. Observations
// are pushed with Set and read back verbatim.
type StaticClient struct {
	maxAge time.Duration
	now    func() time.Time
	prices map[types.Address]*PriceData
}

// NewStaticClient creates an empty in-memory feed with the protocol max age.
func NewStaticClient() *StaticClient {
	return &StaticClient{
		maxAge: ProtocolPriceMaxAge,
		now:    time.Now,
		prices: make(map[types.Address]*PriceData),
	}
}

// WithNow overrides the clock, for tests.
func (c *StaticClient) WithNow(now func() time.Time) *StaticClient {
	c.now = now
	return c
}

// Set stores an observation for an asset.
func (c *StaticClient) Set(asset types.Address, price *big.Int, timestamp time.Time, confidenceBps int64) {
	c.prices[asset] = &PriceData{
		Price:         new(big.Int).Set(price),
		Timestamp:     timestamp,
		ConfidenceBps: confidenceBps,
	}
}

// Price implements the strict read mode.
func (c *StaticClient) Price(ctx context.Context, asset types.Address) (*PriceData, error) {
	data, ok := c.prices[asset]
	if !ok {
		return nil, ErrPriceNotFound
	}
	if c.now().Sub(data.Timestamp) > c.maxAge {
		return nil, ErrStalePrice
	}
	return data.Clone(), nil
}

// PriceUnsafe implements the best-effort read mode.
func (c *StaticClient) PriceUnsafe(ctx context.Context, asset types.Address) (*PriceData, error) {
	data, ok := c.prices[asset]
	if !ok {
		return nil, ErrPriceNotFound
	}
	return data.Clone(), nil
}
