// Package models defines the persisted data model of the portfolio ledger.
package models

import (
	"math/big"
	"time"

	"github.com/portfolio-ledger/internal/types"
)

// AssetHolding is the per-(portfolio, asset) position. A missing record means
// a zero holding; a holding whose amount returns to zero is cleared.
type AssetHolding struct {
	Asset                types.Address `json:"asset"`
	Amount               *big.Int      `json:"amount"`
	TargetAllocationBps  int64         `json:"targetAllocationBps"`
	CurrentAllocationBps int64         `json:"currentAllocationBps"`
	LastPrice            *big.Int      `json:"lastPrice"`
	UnrealizedPnL        *big.Int      `json:"unrealizedPnl"` // clamped, never negative
}

// Clone returns a deep copy of the holding.
func (h *AssetHolding) Clone() *AssetHolding {
	out := *h
	out.Amount = new(big.Int).Set(h.Amount)
	out.LastPrice = new(big.Int).Set(h.LastPrice)
	out.UnrealizedPnL = new(big.Int).Set(h.UnrealizedPnL)
	return &out
}

// AllocationSnapshot is one row of the reporting cache rebuilt on every
// successful rebalance. It is derived state, never authoritative.
type AllocationSnapshot struct {
	Asset               types.Address `json:"asset"`
	TargetAllocationBps int64         `json:"targetAllocationBps"`
	CurrentValue        *big.Int      `json:"currentValue"`
	TargetValue         *big.Int      `json:"targetValue"`
	LastRebalanceTime   time.Time     `json:"lastRebalanceTime"`
}

// PerformanceMetrics is the cached output of the performance calculator.
type PerformanceMetrics struct {
	TotalReturnBps   int64 `json:"totalReturnBps"`
	DailyReturnBps   int64 `json:"dailyReturnBps"`
	WeeklyReturnBps  int64 `json:"weeklyReturnBps"`
	MonthlyReturnBps int64 `json:"monthlyReturnBps"`
	YearlyReturnBps  int64 `json:"yearlyReturnBps"`
	Volatility       int64 `json:"volatility"`
	SharpeRatio      int64 `json:"sharpeRatio"`
	MaxDrawdownBps   int64 `json:"maxDrawdownBps"`
	RiskScore        int64 `json:"riskScore"`
}

// Portfolio is the aggregate root: portfolio record plus its holdings keyed by
// asset and the ordered list of held assets.
type Portfolio struct {
	ID                    uint64                          `json:"id"`
	Owner                 types.Address                   `json:"owner"`
	Name                  string                          `json:"name"`
	Allocations           []AllocationSnapshot            `json:"allocations"`
	TotalValue            *big.Int                        `json:"totalValue"`
	LastRebalanceTime     time.Time                       `json:"lastRebalanceTime"`
	CreatedAt             time.Time                       `json:"createdAt"`
	IsActive              bool                            `json:"isActive"`
	RiskLevel             int64                           `json:"riskLevel"`
	RebalanceThresholdBps int64                           `json:"rebalanceThresholdBps"`
	LastPerformanceUpdate time.Time                       `json:"lastPerformanceUpdate"`
	Performance           *PerformanceMetrics             `json:"performance,omitempty"`
	AssetList             []types.Address                 `json:"assetList"`
	Holdings              map[types.Address]*AssetHolding `json:"holdings"`
}

// NewPortfolio creates an empty active portfolio. The store assigns the ID.
func NewPortfolio(owner types.Address, name string, riskLevel, thresholdBps int64, now time.Time) *Portfolio {
	return &Portfolio{
		Owner:                 owner,
		Name:                  name,
		TotalValue:            new(big.Int),
		CreatedAt:             now,
		IsActive:              true,
		RiskLevel:             riskLevel,
		RebalanceThresholdBps: thresholdBps,
		Holdings:              make(map[types.Address]*AssetHolding),
	}
}

// Holding returns the holding for an asset, or nil when the asset is not held.
func (p *Portfolio) Holding(asset types.Address) *AssetHolding {
	return p.Holdings[asset]
}

// TotalTargetBps sums the target allocations over all held assets.
func (p *Portfolio) TotalTargetBps() int64 {
	var sum int64
	for _, h := range p.Holdings {
		sum += h.TargetAllocationBps
	}
	return sum
}

// AddHolding registers a new holding and appends the asset to the ordered list.
func (p *Portfolio) AddHolding(h *AssetHolding) {
	p.Holdings[h.Asset] = h
	p.AssetList = append(p.AssetList, h.Asset)
}

// RemoveHolding clears a holding and drops the asset from the ordered list.
func (p *Portfolio) RemoveHolding(asset types.Address) {
	delete(p.Holdings, asset)
	for i, a := range p.AssetList {
		if a == asset {
			p.AssetList = append(p.AssetList[:i], p.AssetList[i+1:]...)
			break
		}
	}
}

// Clone returns a deep copy of the aggregate. Mutating operations work on a
// clone and persist it only when the whole operation succeeds.
func (p *Portfolio) Clone() *Portfolio {
	out := *p
	out.TotalValue = new(big.Int).Set(p.TotalValue)
	out.AssetList = append([]types.Address(nil), p.AssetList...)
	out.Holdings = make(map[types.Address]*AssetHolding, len(p.Holdings))
	for asset, h := range p.Holdings {
		out.Holdings[asset] = h.Clone()
	}
	out.Allocations = make([]AllocationSnapshot, len(p.Allocations))
	for i, a := range p.Allocations {
		out.Allocations[i] = a
		out.Allocations[i].CurrentValue = new(big.Int).Set(a.CurrentValue)
		out.Allocations[i].TargetValue = new(big.Int).Set(a.TargetValue)
	}
	if p.Performance != nil {
		perf := *p.Performance
		out.Performance = &perf
	}
	return &out
}

// RebalanceAction is one planned buy or sell produced by the planner.
type RebalanceAction struct {
	Asset  types.Address    `json:"asset"`
	Side   types.ActionSide `json:"side"`
	Amount *big.Int         `json:"amount"`
	Value  *big.Int         `json:"value"`
}
