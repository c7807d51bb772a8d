// Package types provides common type definitions for the portfolio ledger system.
package types

import (
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Basis point and fixed-point scales used across the engine.
const (
	// BpsDenominator is the basis-point scale (10000 bps = 100%).
	BpsDenominator = 10000
	// WadDecimals is the number of decimals in the common value unit.
	WadDecimals = 18
)

// Allocation and portfolio bounds.
const (
	// MinTargetAllocationBps is the smallest settable per-asset target weight.
	MinTargetAllocationBps = 100
	// MaxTargetAllocationBps is the largest settable per-asset target weight.
	MaxTargetAllocationBps = 5000
	// MaxRebalanceThresholdBps bounds the per-portfolio deviation tolerance.
	MaxRebalanceThresholdBps = 5000
	// MaxAssetsPerPortfolio caps distinct assets held by one portfolio.
	MaxAssetsPerPortfolio = 20
	// MinRiskLevel is the lowest accepted portfolio risk level.
	MinRiskLevel = 1
	// MaxRiskLevel is the highest accepted portfolio risk level.
	MaxRiskLevel = 10
)

// Rebalancing gates.
const (
	// RebalanceCooldown is the minimum time between rebalances of a portfolio.
	RebalanceCooldown = 24 * time.Hour
	// PlannerPriceMaxAge is the oldest price the planner accepts for an asset.
	PlannerPriceMaxAge = time.Hour
	// MinPriceConfidenceBps is the lowest feed confidence the planner accepts.
	MinPriceConfidenceBps = 9000
	// SlippageBufferBps is the haircut/markup applied to planned trade sizes.
	SlippageBufferBps = 200
	// PerformanceUpdateInterval rate-limits performance recomputation.
	PerformanceUpdateInterval = time.Hour
)

// ActionSide indicates the direction of a planned rebalance action.
type ActionSide string

const (
	// SideSell reduces a holding that sits above its target weight.
	SideSell ActionSide = "sell"
	// SideBuy increases a holding that sits below its target weight.
	SideBuy ActionSide = "buy"
)

// Address identifies an owner, caller or asset on chain.
type Address = common.Address

// ParseAddress validates and parses a hex-encoded address.
func ParseAddress(s string) (Address, error) {
	if !common.IsHexAddress(s) {
		return Address{}, fmt.Errorf("invalid address format: %s", s)
	}
	return common.HexToAddress(s), nil
}

// ServiceError represents a structured error response.
type ServiceError struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
}

func (e *ServiceError) Error() string {
	return e.Message
}

// wad is the 1e18 fixed-point unit.
var wad = new(big.Int).Exp(big.NewInt(10), big.NewInt(WadDecimals), nil)

// Wad returns a fresh copy of the 1e18 fixed-point unit.
func Wad() *big.Int {
	return new(big.Int).Set(wad)
}

// MulDiv computes floor(a*b/den). It returns zero when den is zero.
func MulDiv(a, b, den *big.Int) *big.Int {
	if den == nil || den.Sign() == 0 {
		return new(big.Int)
	}
	out := new(big.Int).Mul(a, b)
	return out.Quo(out, den)
}

// ValueOf converts an asset amount to its value in the common unit:
// floor(amount*price/1e18). Both inputs are 1e18 fixed point.
func ValueOf(amount, price *big.Int) *big.Int {
	return MulDiv(amount, price, wad)
}

// AmountOf converts a value in the common unit back to an asset amount at the
// given price: floor(value*1e18/price). Zero when price is zero.
func AmountOf(value, price *big.Int) *big.Int {
	return MulDiv(value, wad, price)
}

// BpsOf returns floor(part*10000/whole) as an int64, or 0 when whole is zero.
func BpsOf(part, whole *big.Int) int64 {
	if whole == nil || whole.Sign() == 0 {
		return 0
	}
	out := new(big.Int).Mul(part, big.NewInt(BpsDenominator))
	out.Quo(out, whole)
	return out.Int64()
}

// ApplyBps returns floor(value*bps/10000).
func ApplyBps(value *big.Int, bps int64) *big.Int {
	return MulDiv(value, big.NewInt(bps), big.NewInt(BpsDenominator))
}

// AbsDiff returns |a-b| as a new big.Int.
func AbsDiff(a, b *big.Int) *big.Int {
	out := new(big.Int).Sub(a, b)
	return out.Abs(out)
}
