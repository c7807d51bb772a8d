package engine

import (
	"context"
	"math/big"

	"github.com/portfolio-ledger/internal/logging"
	"github.com/portfolio-ledger/internal/models"
	"github.com/portfolio-ledger/internal/types"
)

// refreshValue recomputes the cached valuation snapshot in place: each
// holding's LastPrice and CurrentAllocationBps, and the portfolio TotalValue.
// Prices are read in unsafe mode so the snapshot never fails on stale or
// low-confidence data; a holding with no price at all keeps its previous
// LastPrice and is valued with it.
func (e *Engine) refreshValue(ctx context.Context, p *models.Portfolio) {
	total := new(big.Int)
	values := make(map[types.Address]*big.Int, len(p.AssetList))

	for _, asset := range p.AssetList {
		h := p.Holdings[asset]

		data, err := e.prices.PriceUnsafe(ctx, asset)
		if err != nil {
			logging.FromContext(ctx).WithError(err).WithField("asset", asset.Hex()).
				Warn("No price data, valuing at last known price")
		} else {
			h.LastPrice.Set(data.Price)
		}

		value := types.ValueOf(h.Amount, h.LastPrice)
		values[asset] = value
		total.Add(total, value)
	}

	p.TotalValue.Set(total)

	for _, asset := range p.AssetList {
		p.Holdings[asset].CurrentAllocationBps = types.BpsOf(values[asset], total)
	}
}
