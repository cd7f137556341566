package config

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig_Defaults(t *testing.T) {
	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.True(t, cfg.IsTestnet)
	assert.Equal(t, "USDT", cfg.QuoteAsset)
	assert.Equal(t, 5*time.Second, cfg.PositionQueryTimeout)
	assert.Equal(t, 10*time.Minute, cfg.InstrumentCacheTTL)
	assert.Equal(t, int32(2), cfg.FallbackDecimals)
	assert.Equal(t, "k", cfg.ScaleMarker)
	assert.True(t, decimal.RequireFromString("0.001").Equal(cfg.ScaleFactor))
	assert.True(t, decimal.NewFromInt(100).Equal(cfg.ScaleRatioThreshold))
	assert.Equal(t, "synthesize", cfg.MissingPositionPolicy)
	assert.Equal(t, []string{"*"}, cfg.CORSOrigins)
	assert.False(t, cfg.LogPretty)
	assert.Empty(t, cfg.LogFile)
	assert.Equal(t, 100, cfg.LogMaxSizeMB)
	assert.True(t, cfg.MetricsEnabled)
	assert.Equal(t, 10.0, cfg.ExchangeRateLimit)
	assert.Equal(t, 3, cfg.ExchangeMaxRetries)
	assert.Equal(t, 30*time.Second, cfg.ExchangeBreakerTimeout)
}

func TestLoadConfig_Overrides(t *testing.T) {
	t.Setenv("QUOTE_ASSET", "usdc")
	t.Setenv("POSITION_QUERY_TIMEOUT_MS", "250")
	t.Setenv("FALLBACK_DECIMALS", "4")
	t.Setenv("MISSING_POSITION_POLICY", "REJECT")
	t.Setenv("CORS_ORIGINS", "https://a.example, https://b.example")
	t.Setenv("LOG_FORMAT", "console")
	t.Setenv("LOG_FILE", "/var/log/hyperhook.log")
	t.Setenv("METRICS_ENABLED", "false")
	t.Setenv("EXCHANGE_RATE_LIMIT", "2.5")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "USDC", cfg.QuoteAsset)
	assert.Equal(t, 250*time.Millisecond, cfg.PositionQueryTimeout)
	assert.Equal(t, int32(4), cfg.FallbackDecimals)
	assert.Equal(t, "reject", cfg.MissingPositionPolicy)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.CORSOrigins)
	assert.True(t, cfg.LogPretty)
	assert.Equal(t, "/var/log/hyperhook.log", cfg.LogFile)
	assert.False(t, cfg.MetricsEnabled)
	assert.Equal(t, 2.5, cfg.ExchangeRateLimit)
}

func TestLoadConfig_ValidationErrors(t *testing.T) {
	tests := []struct {
		name    string
		key     string
		value   string
		wantMsg string
	}{
		{name: "bad timeout", key: "POSITION_QUERY_TIMEOUT_MS", value: "abc", wantMsg: "invalid POSITION_QUERY_TIMEOUT_MS"},
		{name: "zero timeout", key: "POSITION_QUERY_TIMEOUT_MS", value: "0", wantMsg: "must be positive"},
		{name: "bad policy", key: "MISSING_POSITION_POLICY", value: "ignore", wantMsg: "MISSING_POSITION_POLICY"},
		{name: "bad factor", key: "SCALE_FACTOR", value: "-1", wantMsg: "SCALE_FACTOR must be positive"},
		{name: "bad threshold", key: "SCALE_RATIO_THRESHOLD", value: "1", wantMsg: "SCALE_RATIO_THRESHOLD"},
		{name: "bad format", key: "LOG_FORMAT", value: "xml", wantMsg: "LOG_FORMAT"},
		{name: "negative log backups", key: "LOG_MAX_BACKUPS", value: "-1", wantMsg: "LOG_MAX_BACKUPS"},
		{name: "zero rate limit", key: "EXCHANGE_RATE_LIMIT", value: "0", wantMsg: "EXCHANGE_RATE_LIMIT"},
		{name: "zero retries", key: "EXCHANGE_MAX_RETRIES", value: "0", wantMsg: "EXCHANGE_MAX_RETRIES"},
		{name: "bad breaker timeout", key: "EXCHANGE_BREAKER_TIMEOUT_SECONDS", value: "x", wantMsg: "EXCHANGE_BREAKER_TIMEOUT_SECONDS"},
		{name: "bad slippage", key: "SIMULATION_SLIPPAGE", value: "2", wantMsg: "SIMULATION_SLIPPAGE"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(tt.key, tt.value)
			_, err := LoadConfig()
			require.Error(t, err)
			assert.Contains(t, err.Error(), "configuration validation failed")
			assert.Contains(t, err.Error(), tt.wantMsg)
		})
	}
}
