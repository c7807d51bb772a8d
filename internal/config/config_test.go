package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Server.Port)
	assert.Equal(t, 24*time.Hour, cfg.Engine.RebalanceCooldown)
	assert.Equal(t, time.Hour, cfg.Engine.PriceMaxAge)
	assert.Equal(t, int64(9000), cfg.Engine.MinPriceConfidenceBps)
	assert.Equal(t, int64(200), cfg.Engine.SlippageBufferBps)
	assert.Equal(t, 20, cfg.Engine.MaxAssetsPerPortfolio)
	assert.Equal(t, time.Hour, cfg.Engine.PerformanceInterval)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("ENGINE_REBALANCE_COOLDOWN", "12h")
	t.Setenv("ENGINE_MIN_PRICE_CONFIDENCE_BPS", "9500")
	t.Setenv("LOG_LEVEL", "debug")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 12*time.Hour, cfg.Engine.RebalanceCooldown)
	assert.Equal(t, int64(9500), cfg.Engine.MinPriceConfidenceBps)
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestLoadRejectsBadValues(t *testing.T) {
	t.Setenv("ENGINE_MIN_PRICE_CONFIDENCE_BPS", "20000")

	_, err := Load()
	assert.Error(t, err)
}

func TestGetEnvAsIntIgnoresGarbage(t *testing.T) {
	t.Setenv("RATE_LIMIT_RPS", "not-a-number")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 50, cfg.RateLimit.RequestsPerSecond)
}
