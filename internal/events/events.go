// Package events defines the observability events emitted by the engine and
// the sinks they fan out to. Events are for audit and replay; emission
// failures never abort the operation that produced them.
package events

import (
	"context"
	"math/big"
	"time"

	"github.com/google/uuid"

	"github.com/portfolio-ledger/internal/logging"
	"github.com/portfolio-ledger/internal/types"
)

// Kind enumerates the emitted event types.
type Kind string

const (
	KindAssetAdded          Kind = "AssetAdded"
	KindAssetRemoved        Kind = "AssetRemoved"
	KindPortfolioRebalanced Kind = "PortfolioRebalanced"
	KindAllocationUpdated   Kind = "AllocationUpdated"
	KindPerformanceUpdated  Kind = "PerformanceUpdated"
)

// Event is one audit record. Payload fields are optional per kind.
type Event struct {
	ID          string         `json:"id"`
	Kind        Kind           `json:"kind"`
	PortfolioID uint64         `json:"portfolioId"`
	Timestamp   time.Time      `json:"timestamp"`
	Asset       *types.Address `json:"asset,omitempty"`
	Amount      *big.Int       `json:"amount,omitempty"`
	TotalValue  *big.Int       `json:"totalValue,omitempty"`
	OldBps      *int64         `json:"oldBps,omitempty"`
	NewBps      *int64         `json:"newBps,omitempty"`
	TotalReturn *int64         `json:"totalReturnBps,omitempty"`
	SharpeRatio *int64         `json:"sharpeRatio,omitempty"`
}

func newEvent(kind Kind, portfolioID uint64, at time.Time) Event {
	return Event{
		ID:          uuid.New().String(),
		Kind:        kind,
		PortfolioID: portfolioID,
		Timestamp:   at,
	}
}

// AssetAdded builds an AssetAdded event.
func AssetAdded(portfolioID uint64, asset types.Address, amount *big.Int, at time.Time) Event {
	e := newEvent(KindAssetAdded, portfolioID, at)
	e.Asset = &asset
	e.Amount = new(big.Int).Set(amount)
	return e
}

// AssetRemoved builds an AssetRemoved event.
func AssetRemoved(portfolioID uint64, asset types.Address, amount *big.Int, at time.Time) Event {
	e := newEvent(KindAssetRemoved, portfolioID, at)
	e.Asset = &asset
	e.Amount = new(big.Int).Set(amount)
	return e
}

// PortfolioRebalanced builds a PortfolioRebalanced event.
func PortfolioRebalanced(portfolioID uint64, totalValue *big.Int, at time.Time) Event {
	e := newEvent(KindPortfolioRebalanced, portfolioID, at)
	e.TotalValue = new(big.Int).Set(totalValue)
	return e
}

// AllocationUpdated builds an AllocationUpdated event.
func AllocationUpdated(portfolioID uint64, asset types.Address, oldBps, newBps int64, at time.Time) Event {
	e := newEvent(KindAllocationUpdated, portfolioID, at)
	e.Asset = &asset
	e.OldBps = &oldBps
	e.NewBps = &newBps
	return e
}

// PerformanceUpdated builds a PerformanceUpdated event.
func PerformanceUpdated(portfolioID uint64, totalReturnBps, sharpeRatio int64, at time.Time) Event {
	e := newEvent(KindPerformanceUpdated, portfolioID, at)
	e.TotalReturn = &totalReturnBps
	e.SharpeRatio = &sharpeRatio
	return e
}

// Emitter delivers events to a sink.
type Emitter interface {
	Emit(ctx context.Context, event Event)
}

// LogEmitter writes events to the structured log. It is the default sink and
// the floor every deployment gets.
type LogEmitter struct{}

// NewLogEmitter creates a log-backed emitter.
func NewLogEmitter() *LogEmitter {
	return &LogEmitter{}
}

// Emit implements Emitter.
func (e *LogEmitter) Emit(ctx context.Context, event Event) {
	fields := map[string]interface{}{
		"eventId":     event.ID,
		"kind":        string(event.Kind),
		"portfolioId": event.PortfolioID,
	}
	if event.Asset != nil {
		fields["asset"] = event.Asset.Hex()
	}
	if event.Amount != nil {
		fields["amount"] = event.Amount.String()
	}
	if event.TotalValue != nil {
		fields["totalValue"] = event.TotalValue.String()
	}
	logging.FromContext(ctx).WithFields(fields).Info("Engine event")
}

// MultiEmitter fans one event out to several sinks.
type MultiEmitter struct {
	sinks []Emitter
}

// NewMultiEmitter creates an emitter over the given sinks.
func NewMultiEmitter(sinks ...Emitter) *MultiEmitter {
	return &MultiEmitter{sinks: sinks}
}

// Emit implements Emitter.
func (e *MultiEmitter) Emit(ctx context.Context, event Event) {
	for _, sink := range e.sinks {
		sink.Emit(ctx, event)
	}
}
