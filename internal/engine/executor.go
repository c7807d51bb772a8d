package engine

import (
	"math/big"
	"time"

	"github.com/portfolio-ledger/internal/models"
	"github.com/portfolio-ledger/internal/types"
)

// execute applies a plan to the staged aggregate. There is no market
// settlement here; the actions adjust the book amounts directly, which is the
// extension point for a real execution venue.
//
// Sells that exceed the held amount by the time they apply are dropped rather
// than failing the cycle. Holdings drawn down to zero are cleared. The
// allocation snapshot is then rebuilt from scratch off each holding's
// LastPrice.
func (e *Engine) execute(p *models.Portfolio, actions []models.RebalanceAction, now time.Time) {
	for _, action := range actions {
		h := p.Holding(action.Asset)
		if h == nil {
			continue
		}
		switch action.Side {
		case types.SideSell:
			if action.Amount.Cmp(h.Amount) > 0 {
				continue
			}
			h.Amount.Sub(h.Amount, action.Amount)
		case types.SideBuy:
			h.Amount.Add(h.Amount, action.Amount)
		}
	}

	for _, asset := range append([]types.Address(nil), p.AssetList...) {
		if p.Holdings[asset].Amount.Sign() == 0 {
			p.RemoveHolding(asset)
		}
	}

	p.Allocations = p.Allocations[:0]
	for _, asset := range p.AssetList {
		h := p.Holdings[asset]
		p.Allocations = append(p.Allocations, models.AllocationSnapshot{
			Asset:               asset,
			TargetAllocationBps: h.TargetAllocationBps,
			CurrentValue:        types.ValueOf(h.Amount, h.LastPrice),
			TargetValue:         types.MulDiv(p.TotalValue, big.NewInt(h.TargetAllocationBps), big.NewInt(types.BpsDenominator)),
			LastRebalanceTime:   now,
		})
	}
}
