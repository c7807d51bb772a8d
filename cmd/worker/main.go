// Package main provides the background refresher: a loop that periodically
// revalues every portfolio and recomputes its performance metrics, so views
// stay fresh between caller-triggered operations.
package main

import (
	"context"
	"errors"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/portfolio-ledger/internal/config"
	"github.com/portfolio-ledger/internal/custody"
	"github.com/portfolio-ledger/internal/engine"
	apperrors "github.com/portfolio-ledger/internal/errors"
	"github.com/portfolio-ledger/internal/events"
	"github.com/portfolio-ledger/internal/guard"
	"github.com/portfolio-ledger/internal/logging"
	"github.com/portfolio-ledger/internal/oracle"
	"github.com/portfolio-ledger/internal/store"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logging.Init(logging.ParseLevel(cfg.Logging.Level), logging.ParseFormat(cfg.Logging.Format))
	logger := logging.Global()

	postgres, err := store.NewPostgresDB(&cfg.Database.Postgres)
	if err != nil {
		logger.WithError(err).Fatal("Failed to connect to Postgres")
	}
	defer postgres.Close()

	redisClient, err := store.NewRedisClient(&cfg.Database.Redis)
	if err != nil {
		logger.WithError(err).Fatal("Failed to connect to Redis")
	}
	defer redisClient.Close()

	prices := oracle.NewCachedClient(
		oracle.NewHTTPClient(cfg.Oracle.BaseURL, cfg.Oracle.Timeout),
		redisClient,
		cfg.Oracle.CacheTTL,
	)

	eng := engine.New(
		engine.Config{
			RebalanceCooldown:     cfg.Engine.RebalanceCooldown,
			PriceMaxAge:           cfg.Engine.PriceMaxAge,
			MinPriceConfidenceBps: cfg.Engine.MinPriceConfidenceBps,
			SlippageBufferBps:     cfg.Engine.SlippageBufferBps,
			MaxAssetsPerPortfolio: cfg.Engine.MaxAssetsPerPortfolio,
			PerformanceInterval:   cfg.Engine.PerformanceInterval,
		},
		store.NewPostgresPortfolioStore(postgres),
		store.NewPostgresAssetRegistry(postgres),
		prices,
		custody.NewVault(),
		guard.NewRoleRegistry(cfg.Admin.Addresses...),
		guard.NewBreaker(),
		events.NewMultiEmitter(events.NewLogEmitter(), events.NewRedisEmitter(redisClient)),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.WithField("interval", cfg.Worker.Interval.String()).Info("Refresher worker started")

	ticker := time.NewTicker(cfg.Worker.Interval)
	defer ticker.Stop()

	refreshAll(ctx, eng)
	for {
		select {
		case <-ctx.Done():
			logger.Info("Refresher worker stopped")
			return
		case <-ticker.C:
			refreshAll(ctx, eng)
		}
	}
}

// refreshAll revalues every portfolio and recomputes its performance metrics.
// Rate-limited and inactive portfolios are expected cases, not faults.
func refreshAll(ctx context.Context, eng *engine.Engine) {
	logger := logging.FromContext(ctx)

	ids, err := eng.ListIDs(ctx)
	if err != nil {
		logger.WithError(err).Error("Failed to list portfolios")
		return
	}

	var refreshed, updated int
	for _, id := range ids {
		if ctx.Err() != nil {
			return
		}

		if err := eng.RefreshValue(ctx, id); err != nil {
			logger.WithError(err).WithField("portfolioId", id).Warn("Failed to refresh valuation")
			continue
		}
		refreshed++

		if err := eng.UpdatePerformance(ctx, id); err != nil {
			var appErr *apperrors.Error
			if errors.As(err, &appErr) {
				switch appErr.Code {
				case "PERFORMANCE_RATE_LIMITED", "PORTFOLIO_INACTIVE":
					continue
				}
			}
			logger.WithError(err).WithField("portfolioId", id).Warn("Failed to update performance")
			continue
		}
		updated++
	}

	logger.WithFields(map[string]interface{}{
		"portfolios": len(ids),
		"refreshed":  refreshed,
		"updated":    updated,
	}).Info("Refresh pass completed")
}
