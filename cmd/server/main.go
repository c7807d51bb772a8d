// Package main provides the API server entry point for the portfolio ledger.
package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/portfolio-ledger/internal/api"
	"github.com/portfolio-ledger/internal/config"
	"github.com/portfolio-ledger/internal/custody"
	"github.com/portfolio-ledger/internal/engine"
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
	logger.WithFields(map[string]interface{}{
		"level":  cfg.Logging.Level,
		"format": cfg.Logging.Format,
	}).Info("Structured logging initialized")

	logger.Info("Connecting to databases...")

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

	logger.Info("Database connections established")

	// Event sinks: structured log and Redis pub/sub always; the ClickHouse
	// audit sink only when a host is configured.
	sinks := []events.Emitter{
		events.NewLogEmitter(),
		events.NewRedisEmitter(redisClient),
	}
	if cfg.Database.ClickHouse.Host != "" {
		audit, err := events.NewClickHouseSink(&cfg.Database.ClickHouse)
		if err != nil {
			logger.WithError(err).Fatal("Failed to connect to ClickHouse")
		}
		defer audit.Close()
		sinks = append(sinks, audit)
		logger.Info("ClickHouse audit sink enabled")
	}

	portfolios := store.NewPostgresPortfolioStore(postgres)
	registry := store.NewPostgresAssetRegistry(postgres)

	// Price feed: HTTP oracle behind a Redis TTL cache.
	prices := oracle.NewCachedClient(
		oracle.NewHTTPClient(cfg.Oracle.BaseURL, cfg.Oracle.Timeout),
		redisClient,
		cfg.Oracle.CacheTTL,
	)

	roles := guard.NewRoleRegistry(cfg.Admin.Addresses...)
	breaker := guard.NewBreaker()

	eng := engine.New(
		engine.Config{
			RebalanceCooldown:     cfg.Engine.RebalanceCooldown,
			PriceMaxAge:           cfg.Engine.PriceMaxAge,
			MinPriceConfidenceBps: cfg.Engine.MinPriceConfidenceBps,
			SlippageBufferBps:     cfg.Engine.SlippageBufferBps,
			MaxAssetsPerPortfolio: cfg.Engine.MaxAssetsPerPortfolio,
			PerformanceInterval:   cfg.Engine.PerformanceInterval,
		},
		portfolios,
		registry,
		prices,
		// In-process vault; a settlement integration replaces this per deployment.
		custody.NewVault(),
		roles,
		breaker,
		events.NewMultiEmitter(sinks...),
	)

	serverConfig := &api.ServerConfig{
		Host:            cfg.Server.Host,
		Port:            cfg.Server.Port,
		ReadTimeout:     cfg.Server.ReadTimeout,
		WriteTimeout:    cfg.Server.WriteTimeout,
		IdleTimeout:     cfg.Server.IdleTimeout,
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
		RateLimitRPS:    cfg.RateLimit.RequestsPerSecond,
		RateLimitBurst:  cfg.RateLimit.Burst,
	}

	server := api.NewServer(serverConfig, eng, registry, roles, breaker)

	go func() {
		if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Fatal("Server failed to start")
		}
	}()

	logger.WithFields(map[string]interface{}{
		"host": cfg.Server.Host,
		"port": cfg.Server.Port,
	}).Info("Server started successfully")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), serverConfig.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.WithError(err).Fatal("Server forced to shutdown")
	}

	logger.Info("Server exited")
}
