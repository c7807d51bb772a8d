package engine

import (
	"context"
	"math/big"
	"time"

	apperrors "github.com/portfolio-ledger/internal/errors"
	"github.com/portfolio-ledger/internal/events"
	"github.com/portfolio-ledger/internal/models"
	"github.com/portfolio-ledger/internal/types"
)

// UpdatePerformance recomputes the cached performance metrics. The operation
// is rate-limited to once per PerformanceInterval per portfolio; callers
// inside the window get PERFORMANCE_RATE_LIMITED and the cached metrics stay
// as they were.
func (e *Engine) UpdatePerformance(ctx context.Context, id uint64) error {
	if err := e.checkPaused(); err != nil {
		return err
	}

	unlock := e.lock(id)
	defer unlock()

	p, err := e.load(ctx, id)
	if err != nil {
		return err
	}
	if !p.IsActive {
		return apperrors.NewPortfolioInactiveError(id)
	}

	now := e.now().UTC()
	if now.Sub(p.LastPerformanceUpdate) < e.cfg.PerformanceInterval {
		return apperrors.NewPerformanceRateLimitedError()
	}

	e.refreshValue(ctx, p)
	p.Performance = e.calculateMetrics(p, now)
	p.LastPerformanceUpdate = now

	if err := e.store.Save(ctx, p); err != nil {
		return apperrors.NewStorageError(err)
	}

	e.emitter.Emit(ctx, events.PerformanceUpdated(id, p.Performance.TotalReturnBps, p.Performance.SharpeRatio, now))

	return nil
}

// calculateMetrics derives the metric set from the current holding state.
//
// The cost basis is approximated as current value minus accumulated
// unrealized PnL per holding, so the return figures inherit the PnL clamp.
// Period returns are a linear extrapolation of the lifetime return over the
// portfolio age and only populate once the portfolio is at least that old.
func (e *Engine) calculateMetrics(p *models.Portfolio, now time.Time) *models.PerformanceMetrics {
	m := &models.PerformanceMetrics{}

	currentValue := new(big.Int).Set(p.TotalValue)
	initialValue := new(big.Int)
	totalLosses := new(big.Int)
	for _, h := range p.Holdings {
		value := types.ValueOf(h.Amount, h.LastPrice)
		initialValue.Add(initialValue, value)
		initialValue.Sub(initialValue, h.UnrealizedPnL)
		if h.UnrealizedPnL.Sign() < 0 {
			totalLosses.Add(totalLosses, new(big.Int).Neg(h.UnrealizedPnL))
		}
	}

	if initialValue.Sign() > 0 {
		ratio := types.MulDiv(currentValue, big.NewInt(types.BpsDenominator), initialValue)
		m.TotalReturnBps = ratio.Int64() - types.BpsDenominator
	}

	age := now.Sub(p.CreatedAt)
	m.DailyReturnBps = scaleReturn(m.TotalReturnBps, 24*time.Hour, age)
	m.WeeklyReturnBps = scaleReturn(m.TotalReturnBps, 7*24*time.Hour, age)
	m.MonthlyReturnBps = scaleReturn(m.TotalReturnBps, 30*24*time.Hour, age)
	m.YearlyReturnBps = scaleReturn(m.TotalReturnBps, 365*24*time.Hour, age)

	// Concentration proxy: sum of squared allocation weights, 10000 when all
	// value sits in one asset.
	for _, h := range p.Holdings {
		m.Volatility += h.CurrentAllocationBps * h.CurrentAllocationBps / types.BpsDenominator
	}
	if m.Volatility > 0 {
		m.SharpeRatio = m.TotalReturnBps * 1000 / m.Volatility
	}

	if currentValue.Sign() > 0 {
		m.MaxDrawdownBps = types.BpsOf(totalLosses, currentValue)
	}

	diversificationBonus := int64(len(p.AssetList)) * 10
	if diversificationBonus > 100 {
		diversificationBonus = 100
	}
	m.RiskScore = p.RiskLevel*100 + m.Volatility - diversificationBonus
	if m.RiskScore < 0 {
		m.RiskScore = 0
	}
	if m.RiskScore > 1000 {
		m.RiskScore = 1000
	}

	return m
}

// scaleReturn extrapolates the lifetime return to a fixed period. Portfolios
// younger than the period report zero for it.
func scaleReturn(totalReturnBps int64, period, age time.Duration) int64 {
	if age < period {
		return 0
	}
	return totalReturnBps * int64(period) / int64(age)
}
