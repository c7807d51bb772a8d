// Package engine implements the portfolio valuation and rebalancing engine:
// deposit/withdraw bookkeeping, the rebalance planner and executor, and the
// performance calculator. Every mutating operation stages its changes on a
// deep copy of the portfolio aggregate and persists it only on full success,
// so a failure at any point leaves the stores untouched.
package engine

import (
	"context"
	"errors"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/portfolio-ledger/internal/custody"
	apperrors "github.com/portfolio-ledger/internal/errors"
	"github.com/portfolio-ledger/internal/events"
	"github.com/portfolio-ledger/internal/guard"
	"github.com/portfolio-ledger/internal/logging"
	"github.com/portfolio-ledger/internal/models"
	"github.com/portfolio-ledger/internal/oracle"
	"github.com/portfolio-ledger/internal/store"
	"github.com/portfolio-ledger/internal/types"
)

// Config holds the engine tunables.
type Config struct {
	RebalanceCooldown     time.Duration
	PriceMaxAge           time.Duration
	MinPriceConfidenceBps int64
	SlippageBufferBps     int64
	MaxAssetsPerPortfolio int
	PerformanceInterval   time.Duration
}

// DefaultConfig returns the protocol defaults.
func DefaultConfig() Config {
	return Config{
		RebalanceCooldown:     types.RebalanceCooldown,
		PriceMaxAge:           types.PlannerPriceMaxAge,
		MinPriceConfidenceBps: types.MinPriceConfidenceBps,
		SlippageBufferBps:     types.SlippageBufferBps,
		MaxAssetsPerPortfolio: types.MaxAssetsPerPortfolio,
		PerformanceInterval:   types.PerformanceUpdateInterval,
	}
}

// Engine orchestrates the stores and external collaborators.
type Engine struct {
	cfg      Config
	store    store.PortfolioStore
	registry store.AssetRegistry
	prices   oracle.PriceClient
	custody  custody.Service
	caps     guard.CapabilityChecker
	breaker  *guard.Breaker
	emitter  events.Emitter

	// Per-portfolio mutual exclusion: at most one in-flight mutation per
	// portfolio id.
	locksMu sync.Mutex
	locks   map[uint64]*sync.Mutex

	// Running total value locked across all portfolios, maintained from the
	// valued deltas of custody moves using unsafe prices.
	tvlMu sync.Mutex
	tvl   *big.Int

	now func() time.Time
}

// New creates an engine over the given collaborators.
func New(
	cfg Config,
	portfolios store.PortfolioStore,
	registry store.AssetRegistry,
	prices oracle.PriceClient,
	custodian custody.Service,
	caps guard.CapabilityChecker,
	breaker *guard.Breaker,
	emitter events.Emitter,
) *Engine {
	return &Engine{
		cfg:      cfg,
		store:    portfolios,
		registry: registry,
		prices:   prices,
		custody:  custodian,
		caps:     caps,
		breaker:  breaker,
		emitter:  emitter,
		locks:    make(map[uint64]*sync.Mutex),
		tvl:      new(big.Int),
		now:      time.Now,
	}
}

// WithNow overrides the engine clock, for tests.
func (e *Engine) WithNow(now func() time.Time) *Engine {
	e.now = now
	return e
}

// lock acquires the per-portfolio mutex and returns its release func.
func (e *Engine) lock(id uint64) func() {
	e.locksMu.Lock()
	mu, ok := e.locks[id]
	if !ok {
		mu = &sync.Mutex{}
		e.locks[id] = mu
	}
	e.locksMu.Unlock()

	mu.Lock()
	return mu.Unlock
}

func (e *Engine) checkPaused() error {
	if e.breaker.IsPaused() {
		return apperrors.NewProtocolPausedError()
	}
	return nil
}

// load fetches the aggregate and maps store errors to the domain taxonomy.
func (e *Engine) load(ctx context.Context, id uint64) (*models.Portfolio, error) {
	p, err := e.store.Get(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, apperrors.NewPortfolioNotFoundError(id)
		}
		return nil, apperrors.NewStorageError(err)
	}
	return p, nil
}

// CreatePortfolio creates an empty active portfolio owned by the caller.
func (e *Engine) CreatePortfolio(ctx context.Context, owner types.Address, name string, riskLevel, thresholdBps int64) (uint64, error) {
	if err := e.checkPaused(); err != nil {
		return 0, err
	}
	if strings.TrimSpace(name) == "" {
		return 0, apperrors.NewValidationError("EMPTY_NAME", "portfolio name must not be empty")
	}
	if riskLevel < types.MinRiskLevel || riskLevel > types.MaxRiskLevel {
		return 0, apperrors.NewValidationError("INVALID_RISK_LEVEL", "risk level must be within [1, 10]")
	}
	if thresholdBps < 0 || thresholdBps > types.MaxRebalanceThresholdBps {
		return 0, apperrors.NewValidationError("INVALID_THRESHOLD", "rebalance threshold must be within [0, 5000] bps")
	}

	p := models.NewPortfolio(owner, name, riskLevel, thresholdBps, e.now().UTC())
	if err := e.store.Create(ctx, p); err != nil {
		return 0, apperrors.NewStorageError(err)
	}

	logging.FromContext(ctx).WithFields(map[string]interface{}{
		"portfolioId": p.ID,
		"owner":       owner.Hex(),
	}).Info("Portfolio created")

	return p.ID, nil
}

// AddAsset deposits amount of asset into the portfolio and sets its target
// allocation. The custody move runs first; the bookkeeping update and the
// valuation refresh are staged and committed together.
func (e *Engine) AddAsset(ctx context.Context, caller types.Address, id uint64, asset types.Address, amount *big.Int, targetBps int64) error {
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
	if !e.caps.IsOwner(p.Owner, caller) {
		return apperrors.NewNotAuthorizedError(caller)
	}
	if amount == nil || amount.Sign() <= 0 {
		return apperrors.NewInvalidAmountError()
	}
	if targetBps < types.MinTargetAllocationBps || targetBps > types.MaxTargetAllocationBps {
		return apperrors.NewInvalidAllocationError(targetBps)
	}

	supported, err := e.registry.IsSupported(ctx, asset)
	if err != nil {
		return apperrors.NewStorageError(err)
	}
	if !supported {
		return apperrors.NewAssetNotSupportedError(asset)
	}

	holding := p.Holding(asset)
	if holding == nil && len(p.AssetList) >= e.cfg.MaxAssetsPerPortfolio {
		return apperrors.NewTooManyAssetsError()
	}

	// The new target replaces the asset's previous one in the sum check.
	totalBps := p.TotalTargetBps() + targetBps
	if holding != nil {
		totalBps -= holding.TargetAllocationBps
	}
	if totalBps > types.BpsDenominator {
		return apperrors.NewAllocationSumExceededError(totalBps)
	}

	if err := e.custody.CustodyIn(ctx, asset, p.Owner, amount); err != nil {
		return apperrors.NewTransferFailedError(err)
	}

	if holding == nil {
		holding = &models.AssetHolding{
			Asset:               asset,
			Amount:              new(big.Int).Set(amount),
			TargetAllocationBps: targetBps,
			LastPrice:           new(big.Int),
			UnrealizedPnL:       new(big.Int),
		}
		p.AddHolding(holding)
	} else {
		holding.Amount.Add(holding.Amount, amount)
		holding.TargetAllocationBps = targetBps
	}

	e.refreshValue(ctx, p)

	if err := e.store.Save(ctx, p); err != nil {
		return apperrors.NewStorageError(err)
	}

	now := e.now().UTC()
	e.adjustTVL(ctx, asset, amount, 1)
	e.emitter.Emit(ctx, events.AssetAdded(id, asset, amount, now))

	return nil
}

// RemoveAsset withdraws amount of asset back to the owner; amount zero means
// the whole holding. A holding drawn down to zero is cleared entirely.
func (e *Engine) RemoveAsset(ctx context.Context, caller types.Address, id uint64, asset types.Address, amount *big.Int) error {
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
	if !e.caps.IsOwner(p.Owner, caller) {
		return apperrors.NewNotAuthorizedError(caller)
	}
	if amount == nil || amount.Sign() < 0 {
		return apperrors.NewInvalidAmountError()
	}

	holding := p.Holding(asset)
	if holding == nil {
		return apperrors.NewAssetNotHeldError(asset)
	}

	withdraw := new(big.Int).Set(amount)
	if withdraw.Sign() == 0 {
		withdraw.Set(holding.Amount)
	}
	if withdraw.Cmp(holding.Amount) > 0 {
		return apperrors.NewInsufficientHoldingError(asset)
	}

	if err := e.custody.CustodyOut(ctx, asset, p.Owner, withdraw); err != nil {
		return apperrors.NewTransferFailedError(err)
	}

	holding.Amount.Sub(holding.Amount, withdraw)
	if holding.Amount.Sign() == 0 {
		p.RemoveHolding(asset)
	}

	e.refreshValue(ctx, p)

	if err := e.store.Save(ctx, p); err != nil {
		return apperrors.NewStorageError(err)
	}

	now := e.now().UTC()
	e.adjustTVL(ctx, asset, withdraw, -1)
	e.emitter.Emit(ctx, events.AssetRemoved(id, asset, withdraw, now))

	return nil
}

// Deactivate soft-deletes a portfolio. Inactive portfolios reject every
// mutating operation; the record itself is never deleted.
func (e *Engine) Deactivate(ctx context.Context, caller types.Address, id uint64) error {
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
	if !e.caps.IsOwner(p.Owner, caller) {
		return apperrors.NewNotAuthorizedError(caller)
	}

	p.IsActive = false
	if err := e.store.Save(ctx, p); err != nil {
		return apperrors.NewStorageError(err)
	}

	return nil
}

// Rebalance runs the full cycle as one unit: valuation refresh, planning,
// execution and a final refresh. Assets with unusable prices are skipped
// silently; the cycle still succeeds for the rest.
func (e *Engine) Rebalance(ctx context.Context, caller types.Address, id uint64) error {
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
	if !e.caps.IsOwner(p.Owner, caller) && !e.caps.HasRebalancerRole(caller) {
		return apperrors.NewNotAuthorizedError(caller)
	}

	now := e.now().UTC()
	if now.Sub(p.LastRebalanceTime) < e.cfg.RebalanceCooldown {
		return apperrors.NewCooldownActiveError()
	}

	e.refreshValue(ctx, p)

	if !e.needsRebalance(p) {
		return apperrors.NewRebalanceNotNeededError()
	}

	// Allocation weights before the trade, for the AllocationUpdated events.
	beforeBps := make(map[types.Address]int64, len(p.Holdings))
	for asset, h := range p.Holdings {
		beforeBps[asset] = h.CurrentAllocationBps
	}

	actions := e.plan(ctx, p, now)
	e.execute(p, actions, now)
	e.refreshValue(ctx, p)
	p.LastRebalanceTime = now

	if err := e.store.Save(ctx, p); err != nil {
		return apperrors.NewStorageError(err)
	}

	for _, asset := range p.AssetList {
		h := p.Holdings[asset]
		if old := beforeBps[asset]; old != h.CurrentAllocationBps {
			e.emitter.Emit(ctx, events.AllocationUpdated(id, asset, old, h.CurrentAllocationBps, now))
		}
	}
	e.emitter.Emit(ctx, events.PortfolioRebalanced(id, p.TotalValue, now))

	logging.FromContext(ctx).WithFields(map[string]interface{}{
		"portfolioId": id,
		"actions":     len(actions),
		"totalValue":  p.TotalValue.String(),
	}).Info("Portfolio rebalanced")

	return nil
}

// needsRebalance reports whether any holding deviates from its target by more
// than the portfolio threshold.
func (e *Engine) needsRebalance(p *models.Portfolio) bool {
	for _, h := range p.Holdings {
		deviation := h.CurrentAllocationBps - h.TargetAllocationBps
		if deviation < 0 {
			deviation = -deviation
		}
		if deviation > p.RebalanceThresholdBps {
			return true
		}
	}
	return false
}

// GetPortfolio returns a copy of the aggregate.
func (e *Engine) GetPortfolio(ctx context.Context, id uint64) (*models.Portfolio, error) {
	return e.load(ctx, id)
}

// ListByOwner returns the ids of all portfolios owned by an address.
func (e *Engine) ListByOwner(ctx context.Context, owner types.Address) ([]uint64, error) {
	ids, err := e.store.ListByOwner(ctx, owner)
	if err != nil {
		return nil, apperrors.NewStorageError(err)
	}
	return ids, nil
}

// ListIDs returns every portfolio id.
func (e *Engine) ListIDs(ctx context.Context) ([]uint64, error) {
	ids, err := e.store.ListIDs(ctx)
	if err != nil {
		return nil, apperrors.NewStorageError(err)
	}
	return ids, nil
}

// RefreshValue recomputes and persists the valuation snapshot of a portfolio.
func (e *Engine) RefreshValue(ctx context.Context, id uint64) error {
	unlock := e.lock(id)
	defer unlock()

	p, err := e.load(ctx, id)
	if err != nil {
		return err
	}

	e.refreshValue(ctx, p)

	if err := e.store.Save(ctx, p); err != nil {
		return apperrors.NewStorageError(err)
	}
	return nil
}

// TVL returns the running total value locked across all portfolios.
func (e *Engine) TVL() *big.Int {
	e.tvlMu.Lock()
	defer e.tvlMu.Unlock()
	return new(big.Int).Set(e.tvl)
}

// adjustTVL applies the valued delta of a custody move to the TVL counter.
// Stale prices are accepted for this bookkeeping number; a missing price
// contributes nothing.
func (e *Engine) adjustTVL(ctx context.Context, asset types.Address, amount *big.Int, sign int) {
	data, err := e.prices.PriceUnsafe(ctx, asset)
	if err != nil {
		logging.FromContext(ctx).WithError(err).WithField("asset", asset.Hex()).
			Warn("No price for TVL adjustment")
		return
	}

	delta := types.ValueOf(amount, data.Price)
	if sign < 0 {
		delta.Neg(delta)
	}

	e.tvlMu.Lock()
	defer e.tvlMu.Unlock()
	e.tvl.Add(e.tvl, delta)
	if e.tvl.Sign() < 0 {
		e.tvl.SetInt64(0)
	}
}
