package engine

import (
	"context"
	"math/big"
	"time"

	"github.com/portfolio-ledger/internal/logging"
	"github.com/portfolio-ledger/internal/models"
	"github.com/portfolio-ledger/internal/types"
)

// plan builds the trade list that moves each holding toward its target
// allocation. It runs after a valuation refresh, so TotalValue and the
// allocation weights are current.
//
// Per asset it takes a strict price and silently skips the asset when the
// quote is older than the planner staleness window or below the confidence
// floor; a partially priced portfolio still produces a plan for the rest.
// Sell amounts are shaved by the slippage buffer and capped at the held
// amount; buy amounts are padded by the same buffer. When planned sell value
// cannot fund the planned buys, every buy is scaled down by the
// sellValue/buyValue ratio; sells are never scaled.
func (e *Engine) plan(ctx context.Context, p *models.Portfolio, now time.Time) []models.RebalanceAction {
	log := logging.FromContext(ctx)

	var actions []models.RebalanceAction
	totalSellValue := new(big.Int)
	totalBuyValue := new(big.Int)

	for _, asset := range p.AssetList {
		h := p.Holdings[asset]

		data, err := e.prices.Price(ctx, asset)
		if err != nil {
			log.WithError(err).WithField("asset", asset.Hex()).Debug("Skipping asset: no usable price")
			continue
		}
		if now.Sub(data.Timestamp) > e.cfg.PriceMaxAge {
			log.WithField("asset", asset.Hex()).Debug("Skipping asset: price too old")
			continue
		}
		if data.ConfidenceBps < e.cfg.MinPriceConfidenceBps {
			log.WithField("asset", asset.Hex()).Debug("Skipping asset: price confidence too low")
			continue
		}

		targetValue := types.MulDiv(p.TotalValue, big.NewInt(h.TargetAllocationBps), big.NewInt(types.BpsDenominator))
		currentValue := types.ValueOf(h.Amount, data.Price)

		e.updatePnL(h, data.Price)

		diff := new(big.Int).Sub(currentValue, targetValue)
		deviation := types.BpsOf(new(big.Int).Abs(diff), p.TotalValue)
		if deviation <= p.RebalanceThresholdBps {
			continue
		}

		if diff.Sign() > 0 {
			// Over target: sell the excess, shaved by the slippage buffer.
			amount := types.AmountOf(diff, data.Price)
			amount.Sub(amount, types.ApplyBps(amount, e.cfg.SlippageBufferBps))
			if amount.Sign() <= 0 || amount.Cmp(h.Amount) > 0 {
				continue
			}
			value := types.ValueOf(amount, data.Price)
			actions = append(actions, models.RebalanceAction{
				Asset:  asset,
				Side:   types.SideSell,
				Amount: amount,
				Value:  value,
			})
			totalSellValue.Add(totalSellValue, value)
		} else {
			// Under target: buy the shortfall, padded by the slippage buffer.
			amount := types.AmountOf(new(big.Int).Neg(diff), data.Price)
			amount.Add(amount, types.ApplyBps(amount, e.cfg.SlippageBufferBps))
			if amount.Sign() <= 0 {
				continue
			}
			value := types.ValueOf(amount, data.Price)
			actions = append(actions, models.RebalanceAction{
				Asset:  asset,
				Side:   types.SideBuy,
				Amount: amount,
				Value:  value,
			})
			totalBuyValue.Add(totalBuyValue, value)
		}
	}

	// The plan is self-funding: buys beyond the sell proceeds are scaled down
	// proportionally, to zero when nothing is sold.
	if totalSellValue.Cmp(totalBuyValue) < 0 && totalBuyValue.Sign() > 0 {
		scaled := actions[:0]
		for _, action := range actions {
			if action.Side == types.SideBuy {
				action.Amount = types.MulDiv(action.Amount, totalSellValue, totalBuyValue)
				action.Value = types.MulDiv(action.Value, totalSellValue, totalBuyValue)
				if action.Amount.Sign() == 0 {
					continue
				}
			}
			scaled = append(scaled, action)
		}
		actions = scaled
	}

	return actions
}

// updatePnL folds the price move since the last snapshot into the holding's
// unrealized PnL. Gains accumulate; losses only draw the figure down to zero,
// never below.
func (e *Engine) updatePnL(h *models.AssetHolding, price *big.Int) {
	switch price.Cmp(h.LastPrice) {
	case 1:
		gain := types.ValueOf(h.Amount, new(big.Int).Sub(price, h.LastPrice))
		h.UnrealizedPnL.Add(h.UnrealizedPnL, gain)
	case -1:
		loss := types.ValueOf(h.Amount, new(big.Int).Sub(h.LastPrice, price))
		if h.UnrealizedPnL.Cmp(loss) > 0 {
			h.UnrealizedPnL.Sub(h.UnrealizedPnL, loss)
		} else {
			h.UnrealizedPnL.SetInt64(0)
		}
	}
}
