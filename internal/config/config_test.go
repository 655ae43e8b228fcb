package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	cfg := Default()

	assert.Equal(t, "mycelium", cfg.App.Name)
	assert.Equal(t, "development", cfg.App.Environment)
	assert.Equal(t, ":9091", cfg.App.MetricsAddr)

	assert.Equal(t, "nats://localhost:4222", cfg.Bus.URL)
	assert.Equal(t, "mycelium.", cfg.Bus.Prefix)
	assert.Equal(t, "localhost:6379", cfg.Redis.Addr)
	assert.Equal(t, "mycelium:", cfg.Redis.Prefix)
	assert.Empty(t, cfg.Database.URL)

	assert.Equal(t, []string{"XXBTZUSD"}, cfg.Trading.Pairs)
	assert.Equal(t, 5*time.Second, cfg.Trading.CollisionWindow)
	assert.Equal(t, 10*time.Second, cfg.Trading.SignalCooldown)

	assert.Equal(t, 10000.0, cfg.Risk.InitialPortfolioValue)
	assert.Equal(t, 0.05, cfg.Risk.MaxDrawdown)

	assert.Equal(t, 15, cfg.Swarm.LearnersPerAsset)
	assert.Equal(t, -5.0, cfg.Swarm.ProbationTier1Pct)
	assert.Equal(t, -10.0, cfg.Swarm.ProbationTier2Pct)
	assert.Equal(t, -15.0, cfg.Swarm.HibernationPct)
	assert.Equal(t, 2160*time.Hour, cfg.Swarm.HibernationAfter)

	assert.EqualValues(t, 300, cfg.Archive.IntervalTicks)
	assert.Equal(t, 40.0, cfg.Archive.ValueThreshold)
	assert.Equal(t, 15, cfg.Builder.MaxActiveAssets)
	assert.Equal(t, time.Hour, cfg.Builder.DeploymentCooldown)

	require.NoError(t, cfg.Validate())
}

func TestRoundTripCostPct(t *testing.T) {
	cfg := Default()
	// 0.26% fee and 0.10% slippage per side.
	assert.InDelta(t, 0.72, cfg.RoundTripCostPct(), 1e-9)
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	body := `
app:
  environment: production
  log_format: json
trading:
  pairs: [XXBTZUSD, XETHZUSD]
  collision_window: 3s
risk:
  max_drawdown: 0.08
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "production", cfg.App.Environment)
	assert.Equal(t, "json", cfg.App.LogFormat)
	assert.Equal(t, []string{"XXBTZUSD", "XETHZUSD"}, cfg.Trading.Pairs)
	assert.Equal(t, 3*time.Second, cfg.Trading.CollisionWindow)
	assert.Equal(t, 0.08, cfg.Risk.MaxDrawdown)
	// Untouched sections keep their defaults.
	assert.Equal(t, 15, cfg.Builder.MaxActiveAssets)
}

func TestLoadMissingFileFails(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestEnvOverride(t *testing.T) {
	t.Setenv("MYCELIUM_REDIS_ADDR", "redis.internal:6379")
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "redis.internal:6379", cfg.Redis.Addr)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"drawdown zero", func(c *Config) { c.Risk.MaxDrawdown = 0 }},
		{"drawdown full", func(c *Config) { c.Risk.MaxDrawdown = 1 }},
		{"collision window zero", func(c *Config) { c.Trading.CollisionWindow = 0 }},
		{"inverted probation tiers", func(c *Config) { c.Swarm.ProbationTier2Pct = -3 }},
		{"no capacity", func(c *Config) { c.Builder.MaxActiveAssets = 0 }},
		{"degenerate period", func(c *Config) { c.Producers.Period = 1 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestLoadRejectsInvalidConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("risk:\n  max_drawdown: 2.0\n"), 0o600))

	_, err := Load(path)
	assert.Error(t, err)
}
