package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfigIsValidWithCredentials(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Exchange.APIKey = "key"
	cfg.Exchange.SecretKey = "secret"

	assert.NoError(t, cfg.Validate())
}

func TestValidateMissingCredentials(t *testing.T) {
	cfg := DefaultConfig()

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "api_key")
}

func TestValidateRejectsBadRisk(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Exchange.APIKey = "key"
	cfg.Exchange.SecretKey = "secret"
	cfg.Risk.MaxRiskPerTradePct = 1.5

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "max_risk_per_trade_pct")
}

func TestValidateRejectsFastSlowInversion(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Exchange.APIKey = "key"
	cfg.Exchange.SecretKey = "secret"
	cfg.Strategy.FastPeriod = 30

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "fast period")
}

func TestValidateRejectsTierInversion(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Exchange.APIKey = "key"
	cfg.Exchange.SecretKey = "secret"
	cfg.Risk.TierTwoPnlPct = 0.005

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "tier_two")
}

func TestLoadConfigFileAndEnvOverlay(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	yaml := `
exchange:
  api_key: file_key
  secret_key: file_secret
trading:
  symbol: ETHUSDT
redis:
  host: redis.internal
  port: 6380
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o644))

	t.Setenv("SYMBOL", "SOLUSDT")
	t.Setenv("REDIS_PREFIX", "testbot")
	t.Setenv("MAX_RISK_PER_TRADE_PCT", "0.01")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	// env wins over file, file wins over defaults
	assert.Equal(t, "SOLUSDT", cfg.Trading.Symbol)
	assert.Equal(t, "testbot", cfg.Redis.Prefix)
	assert.Equal(t, 0.01, cfg.Risk.MaxRiskPerTradePct)
	assert.Equal(t, "redis.internal:6380", cfg.Redis.Addr())
	assert.Equal(t, "file_key", cfg.Exchange.APIKey)
	assert.Equal(t, 12, cfg.Strategy.FastPeriod)
}

func TestStringMasksSecrets(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Exchange.APIKey = "super-secret-api-key"
	cfg.Exchange.SecretKey = "super-secret-value"

	out := cfg.String()
	assert.NotContains(t, out, "super-secret-api-key")
	assert.NotContains(t, out, "super-secret-value")
	assert.True(t, strings.Contains(out, "*"))
}
