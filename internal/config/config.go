// Package config provides configuration management for the portfolio ledger.
// It loads configuration from environment variables and .env files.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/portfolio-ledger/internal/types"
)

// Config holds all application configuration.
type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Engine    EngineConfig
	Oracle    OracleConfig
	Worker    WorkerConfig
	RateLimit RateLimitConfig
	Logging   LoggingConfig
	Admin     AdminConfig
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host            string
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
}

// DatabaseConfig holds database configuration.
type DatabaseConfig struct {
	Postgres   PostgresConfig
	Redis      RedisConfig
	ClickHouse ClickHouseConfig
}

// PostgresConfig holds Postgres configuration.
type PostgresConfig struct {
	Host           string
	Port           string
	Database       string
	User           string
	Password       string
	MaxConnections int
}

// RedisConfig holds Redis configuration.
type RedisConfig struct {
	Host           string
	Port           string
	Password       string
	DB             int
	MaxConnections int
}

// ClickHouseConfig holds the audit sink configuration. The sink is optional;
// an empty host disables it.
type ClickHouseConfig struct {
	Host     string
	Port     string
	Database string
	User     string
	Password string
}

// EngineConfig holds the rebalancing engine tunables.
type EngineConfig struct {
	RebalanceCooldown     time.Duration
	PriceMaxAge           time.Duration
	MinPriceConfidenceBps int64
	SlippageBufferBps     int64
	MaxAssetsPerPortfolio int
	PerformanceInterval   time.Duration
}

// OracleConfig holds price feed configuration.
type OracleConfig struct {
	BaseURL  string
	Timeout  time.Duration
	CacheTTL time.Duration
}

// WorkerConfig holds the background refresher configuration.
type WorkerConfig struct {
	Interval time.Duration
}

// RateLimitConfig holds API rate limiting configuration.
type RateLimitConfig struct {
	RequestsPerSecond int
	Burst             int
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string
	Format string
}

// AdminConfig holds the bootstrap admin addresses for the admin API surface.
type AdminConfig struct {
	Addresses []types.Address
}

// Load reads configuration from .env file and environment variables.
func Load() (*Config, error) {
	// .env file is optional; environment variables can be set directly.
	if err := godotenv.Load(); err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("error loading .env file: %w", err)
		}
	}

	cfg := &Config{
		Server: ServerConfig{
			Host:            getEnv("SERVER_HOST", "0.0.0.0"),
			Port:            getEnv("SERVER_PORT", "8080"),
			ReadTimeout:     getEnvAsDuration("SERVER_READ_TIMEOUT", 15*time.Second),
			WriteTimeout:    getEnvAsDuration("SERVER_WRITE_TIMEOUT", 30*time.Second),
			IdleTimeout:     getEnvAsDuration("SERVER_IDLE_TIMEOUT", 60*time.Second),
			ShutdownTimeout: getEnvAsDuration("SERVER_SHUTDOWN_TIMEOUT", 10*time.Second),
		},
		Database: DatabaseConfig{
			Postgres: PostgresConfig{
				Host:           getEnv("POSTGRES_HOST", "localhost"),
				Port:           getEnv("POSTGRES_PORT", "5432"),
				Database:       getEnv("POSTGRES_DB", "portfolio_ledger"),
				User:           getEnv("POSTGRES_USER", "ledger"),
				Password:       getEnv("POSTGRES_PASSWORD", ""),
				MaxConnections: getEnvAsInt("POSTGRES_MAX_CONNECTIONS", 50),
			},
			Redis: RedisConfig{
				Host:           getEnv("REDIS_HOST", "localhost"),
				Port:           getEnv("REDIS_PORT", "6379"),
				Password:       getEnv("REDIS_PASSWORD", ""),
				DB:             getEnvAsInt("REDIS_DB", 0),
				MaxConnections: getEnvAsInt("REDIS_MAX_CONNECTIONS", 25),
			},
			ClickHouse: ClickHouseConfig{
				Host:     getEnv("CLICKHOUSE_HOST", ""),
				Port:     getEnv("CLICKHOUSE_PORT", "9000"),
				Database: getEnv("CLICKHOUSE_DB", "portfolio_ledger"),
				User:     getEnv("CLICKHOUSE_USER", "default"),
				Password: getEnv("CLICKHOUSE_PASSWORD", ""),
			},
		},
		Engine: EngineConfig{
			RebalanceCooldown:     getEnvAsDuration("ENGINE_REBALANCE_COOLDOWN", types.RebalanceCooldown),
			PriceMaxAge:           getEnvAsDuration("ENGINE_PRICE_MAX_AGE", types.PlannerPriceMaxAge),
			MinPriceConfidenceBps: int64(getEnvAsInt("ENGINE_MIN_PRICE_CONFIDENCE_BPS", types.MinPriceConfidenceBps)),
			SlippageBufferBps:     int64(getEnvAsInt("ENGINE_SLIPPAGE_BUFFER_BPS", types.SlippageBufferBps)),
			MaxAssetsPerPortfolio: getEnvAsInt("ENGINE_MAX_ASSETS", types.MaxAssetsPerPortfolio),
			PerformanceInterval:   getEnvAsDuration("ENGINE_PERFORMANCE_INTERVAL", types.PerformanceUpdateInterval),
		},
		Oracle: OracleConfig{
			BaseURL:  getEnv("ORACLE_BASE_URL", "http://localhost:9010"),
			Timeout:  getEnvAsDuration("ORACLE_TIMEOUT", 5*time.Second),
			CacheTTL: getEnvAsDuration("ORACLE_CACHE_TTL", 15*time.Second),
		},
		Worker: WorkerConfig{
			Interval: getEnvAsDuration("WORKER_INTERVAL", 5*time.Minute),
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: getEnvAsInt("RATE_LIMIT_RPS", 50),
			Burst:             getEnvAsInt("RATE_LIMIT_BURST", 10),
		},
		Logging: LoggingConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
	}

	admins, err := parseAddressList(getEnv("ADMIN_ADDRESSES", ""))
	if err != nil {
		return nil, fmt.Errorf("invalid ADMIN_ADDRESSES: %w", err)
	}
	cfg.Admin.Addresses = admins

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.Database.Postgres.MaxConnections <= 0 {
		return fmt.Errorf("POSTGRES_MAX_CONNECTIONS must be positive")
	}
	if c.Engine.RebalanceCooldown <= 0 {
		return fmt.Errorf("ENGINE_REBALANCE_COOLDOWN must be positive")
	}
	if c.Engine.MinPriceConfidenceBps < 0 || c.Engine.MinPriceConfidenceBps > types.BpsDenominator {
		return fmt.Errorf("ENGINE_MIN_PRICE_CONFIDENCE_BPS must be within [0, %d]", types.BpsDenominator)
	}
	if c.Engine.SlippageBufferBps < 0 || c.Engine.SlippageBufferBps > types.BpsDenominator {
		return fmt.Errorf("ENGINE_SLIPPAGE_BUFFER_BPS must be within [0, %d]", types.BpsDenominator)
	}
	if c.Engine.MaxAssetsPerPortfolio <= 0 {
		return fmt.Errorf("ENGINE_MAX_ASSETS must be positive")
	}
	return nil
}

func parseAddressList(raw string) ([]types.Address, error) {
	if raw == "" {
		return nil, nil
	}
	var out []types.Address
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		addr, err := types.ParseAddress(part)
		if err != nil {
			return nil, err
		}
		out = append(out, addr)
	}
	return out, nil
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok && value != "" {
		return value
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	if value, ok := os.LookupEnv(key); ok && value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return fallback
}

func getEnvAsDuration(key string, fallback time.Duration) time.Duration {
	if value, ok := os.LookupEnv(key); ok && value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return fallback
}
