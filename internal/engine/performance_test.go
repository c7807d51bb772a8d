package engine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/portfolio-ledger/internal/events"
)

func TestUpdatePerformanceMetrics(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.create(t, 500)

	require.NoError(t, f.engine.AddAsset(ctx, owner, id, assetA, w(100), 5000))
	require.NoError(t, f.engine.AddAsset(ctx, owner, id, assetB, w(100), 5000))

	// Two days later A doubled; its accumulated gain is on the books.
	f.advance(48 * time.Hour)
	f.prices.Set(assetA, w(2), f.clock, 10000)

	p, err := f.store.Get(ctx, id)
	require.NoError(t, err)
	p.Holdings[assetA].UnrealizedPnL = w(100)
	require.NoError(t, f.store.Save(ctx, p))

	require.NoError(t, f.engine.UpdatePerformance(ctx, id))

	p, err = f.engine.GetPortfolio(ctx, id)
	require.NoError(t, err)
	m := p.Performance
	require.NotNil(t, m)

	// Value 300 against a 200 cost basis.
	assert.Equal(t, int64(5000), m.TotalReturnBps)

	// 48h old: the daily figure is the lifetime return halved, the longer
	// periods stay unpopulated.
	assert.Equal(t, int64(2500), m.DailyReturnBps)
	assert.Equal(t, int64(0), m.WeeklyReturnBps)
	assert.Equal(t, int64(0), m.MonthlyReturnBps)
	assert.Equal(t, int64(0), m.YearlyReturnBps)

	// Allocation weights 6666/3333 bps.
	assert.Equal(t, int64(4443+1110), m.Volatility)
	assert.Equal(t, int64(5000*1000/(4443+1110)), m.SharpeRatio)

	// The PnL clamp means no holding ever reports a loss.
	assert.Equal(t, int64(0), m.MaxDrawdownBps)

	assert.Equal(t, int64(1000), m.RiskScore)
	assert.Equal(t, f.clock, p.LastPerformanceUpdate)

	updated := f.emitted.byKind(events.KindPerformanceUpdated)
	require.Len(t, updated, 1)
	assert.Equal(t, int64(5000), *updated[0].TotalReturn)
}

func TestUpdatePerformanceRateLimit(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.create(t, 500)
	require.NoError(t, f.engine.AddAsset(ctx, owner, id, assetA, w(100), 5000))

	require.NoError(t, f.engine.UpdatePerformance(ctx, id))

	err := f.engine.UpdatePerformance(ctx, id)
	assertCode(t, err, "PERFORMANCE_RATE_LIMITED")

	// Exactly one interval later the gate opens again.
	f.advance(time.Hour)
	require.NoError(t, f.engine.UpdatePerformance(ctx, id))
}

func TestUpdatePerformanceEmptyPortfolio(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.create(t, 500)

	require.NoError(t, f.engine.UpdatePerformance(ctx, id))

	p, err := f.engine.GetPortfolio(ctx, id)
	require.NoError(t, err)
	require.NotNil(t, p.Performance)
	assert.Equal(t, int64(0), p.Performance.TotalReturnBps)
	assert.Equal(t, int64(0), p.Performance.Volatility)
	assert.Equal(t, int64(0), p.Performance.SharpeRatio)

	// No holdings: the score is just the risk-level term.
	assert.Equal(t, int64(500), p.Performance.RiskScore)
}
