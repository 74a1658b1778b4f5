package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoad_JSON(t *testing.T) {
	path := writeFile(t, "config.json", `{
		"exchange": {"paper": true},
		"trading": {"wallet_exposure_long": 0.5, "cycle_delay": "2s", "whitelist": ["BTCUSDT"]},
		"dynamic_bot_count": {"max_long_strategies": 3, "step": 600}
	}`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 0.5, cfg.Trading.WalletExposureLong)
	assert.Equal(t, 2*time.Second, cfg.Trading.CycleDelay.Duration)
	assert.Equal(t, 10*time.Minute, cfg.DynamicBotCount.Step.Duration)
	assert.Equal(t, []string{"BTCUSDT"}, cfg.Trading.Whitelist)

	// defaults
	assert.Equal(t, TradingModeDynamic, cfg.Trading.TradingMode)
	assert.Equal(t, "1m", cfg.Trading.Timeframe)
	assert.Equal(t, 270*time.Second, cfg.Trading.TakeProfitRefresh.Duration)
	assert.Equal(t, []string{"*"}, cfg.Server.AllowedOrigins)
}

func TestLoad_YAML(t *testing.T) {
	path := writeFile(t, "config.yaml", `
exchange:
  paper: true
trading:
  strategy_name: auto_hedge
  data_wait: 3s
unstucking:
  enabled: true
  slow_threshold: -0.1
  force_threshold: -0.3
  force_kill_the_worst: true
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "auto_hedge", cfg.Trading.StrategyName)
	assert.Equal(t, 3*time.Second, cfg.Trading.DataWait.Duration)
	assert.True(t, cfg.Unstucking.ForceKillTheWorst)
	assert.Equal(t, -0.3, cfg.Unstucking.ForceThreshold)
}

func TestLoad_EnvOverrides(t *testing.T) {
	path := writeFile(t, "config.json", `{"trading": {"trading_mode": "normal"}}`)
	t.Setenv("PAPER_MODE", "true")
	t.Setenv("TRADING_MODE", "readonly")
	t.Setenv("TRADING_BLACKLIST", "LUNAUSDT, ,FTTUSDT")
	t.Setenv("MAX_SHORT_STRATEGIES", "7")
	t.Setenv("TRADING_CYCLE_DELAY", "750ms")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, TradingModeReadOnly, cfg.Trading.TradingMode)
	assert.Equal(t, []string{"LUNAUSDT", "FTTUSDT"}, cfg.Trading.Blacklist)
	assert.Equal(t, 7, cfg.DynamicBotCount.MaxShortStrategies)
	assert.Equal(t, 750*time.Millisecond, cfg.Trading.CycleDelay.Duration)
}

func TestLoad_MissingFileUsesEnvironment(t *testing.T) {
	t.Setenv("PAPER_MODE", "true")
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.json"))
	require.NoError(t, err)
	assert.True(t, cfg.Exchange.Paper)
}

func TestLoad_ParseError(t *testing.T) {
	path := writeFile(t, "config.json", `{"trading": `)
	_, err := Load(path)
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		cfg := &Config{Exchange: ExchangeConfig{Paper: true}}
		applyDefaults(cfg)
		return cfg
	}

	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
	}{
		{"defaults", func(c *Config) {}, false},
		{"unknown mode", func(c *Config) { c.Trading.TradingMode = "yolo" }, true},
		{"unknown preference", func(c *Config) { c.Trading.StrategySelectPreference = "rsi" }, true},
		{"negative exposure", func(c *Config) { c.Trading.WalletExposureShort = -1 }, true},
		{"positive loss threshold", func(c *Config) {
			c.Unstucking.Enabled = true
			c.Unstucking.SlowThreshold = 0.1
		}, true},
		{"force above slow", func(c *Config) {
			c.Unstucking.Enabled = true
			c.Unstucking.SlowThreshold = -0.3
			c.Unstucking.ForceThreshold = -0.1
		}, true},
		{"missing credentials", func(c *Config) { c.Exchange.Paper = false }, true},
		{"short jwt secret", func(c *Config) {
			c.Auth.Enabled = true
			c.Auth.JWTSecret = "short"
		}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidConfig)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
