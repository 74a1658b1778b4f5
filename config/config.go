package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ErrInvalidConfig wraps every validation failure
var ErrInvalidConfig = errors.New("invalid config")

// Trading modes
const (
	TradingModeDynamic  = "dynamic"
	TradingModeNormal   = "normal"
	TradingModeReadOnly = "readonly"
)

// Ranking preferences for new admissions
const (
	SelectByVolume = "volume"
	SelectByNATR   = "natr"
)

type Config struct {
	Exchange        ExchangeConfig        `json:"exchange" yaml:"exchange"`
	Vault           VaultConfig           `json:"vault" yaml:"vault"`
	Trading         TradingConfig         `json:"trading" yaml:"trading"`
	DynamicBotCount DynamicBotCountConfig `json:"dynamic_bot_count" yaml:"dynamic_bot_count"`
	Unstucking      UnstuckingConfig      `json:"unstucking" yaml:"unstucking"`
	CriticalMode    CriticalModeConfig    `json:"critical_mode" yaml:"critical_mode"`
	Server          ServerConfig          `json:"server" yaml:"server"`
	Auth            AuthConfig            `json:"auth" yaml:"auth"`
	Database        DatabaseConfig        `json:"database" yaml:"database"`
	Redis           RedisConfig           `json:"redis" yaml:"redis"`
	Logging         LoggingConfig         `json:"logging" yaml:"logging"`
	Metrics         MetricsConfig         `json:"metrics" yaml:"metrics"`
}

// ExchangeConfig holds Binance Futures connection settings
type ExchangeConfig struct {
	APIKey       string  `json:"api_key" yaml:"api_key"`
	SecretKey    string  `json:"secret_key" yaml:"secret_key"`
	TestNet      bool    `json:"testnet" yaml:"testnet"`
	Paper        bool    `json:"paper" yaml:"paper"`                 // in-memory matching on live market data
	PaperBalance float64 `json:"paper_balance" yaml:"paper_balance"` // starting USDT wallet in paper mode
	Leverage     int     `json:"leverage" yaml:"leverage"`
	RecvWindow   int64   `json:"recv_window" yaml:"recv_window"` // milliseconds
}

// VaultConfig holds HashiCorp Vault configuration
type VaultConfig struct {
	Enabled    bool   `json:"enabled" yaml:"enabled"`
	Address    string `json:"address" yaml:"address"`
	Token      string `json:"token" yaml:"token"`
	MountPath  string `json:"mount_path" yaml:"mount_path"`
	SecretPath string `json:"secret_path" yaml:"secret_path"`
}

type TradingConfig struct {
	StrategyName   string   `json:"strategy_name" yaml:"strategy_name"`
	Sizer          string   `json:"sizer" yaml:"sizer"`
	TradingMode    string   `json:"trading_mode" yaml:"trading_mode"`
	Whitelist      []string `json:"whitelist" yaml:"whitelist"`
	Blacklist      []string `json:"blacklist" yaml:"blacklist"`
	QuoteAsset     string   `json:"quote_asset" yaml:"quote_asset"`
	SymbolMaturity Duration `json:"symbol_maturity" yaml:"symbol_maturity"`

	Timeframe       string `json:"timeframe" yaml:"timeframe"`
	QuoteBufferSize int    `json:"quote_buffer_size" yaml:"quote_buffer_size"`
	WarmupCandles   int    `json:"warmup_candles" yaml:"warmup_candles"`

	WalletExposureLong            float64 `json:"wallet_exposure_long" yaml:"wallet_exposure_long"`
	WalletExposureShort           float64 `json:"wallet_exposure_short" yaml:"wallet_exposure_short"`
	InitialQtyPctLong             float64 `json:"initial_qty_pct_long" yaml:"initial_qty_pct_long"`
	InitialQtyPctShort            float64 `json:"initial_qty_pct_short" yaml:"initial_qty_pct_short"`
	DDownFactorLong               float64 `json:"ddown_factor_long" yaml:"ddown_factor_long"`
	DDownFactorShort              float64 `json:"ddown_factor_short" yaml:"ddown_factor_short"`
	ReentryPriceDistanceLong      float64 `json:"reentry_price_distance_long" yaml:"reentry_price_distance_long"`
	ReentryPriceDistanceShort     float64 `json:"reentry_price_distance_short" yaml:"reentry_price_distance_short"`
	ReentryDistanceWeightingLong  float64 `json:"reentry_distance_weighting_long" yaml:"reentry_distance_weighting_long"`
	ReentryDistanceWeightingShort float64 `json:"reentry_distance_weighting_short" yaml:"reentry_distance_weighting_short"`
	DCAOrdersCount                int     `json:"dca_orders_count" yaml:"dca_orders_count"` // fixed_fraction ladder length
	MinProfitRate                 float64 `json:"min_profit_rate" yaml:"min_profit_rate"`
	MaxAbsFundingRate             float64 `json:"max_abs_funding_rate" yaml:"max_abs_funding_rate"` // 0 disables

	CycleDelay           Duration `json:"cycle_delay" yaml:"cycle_delay"`
	DataWait             Duration `json:"data_wait" yaml:"data_wait"`
	TakeProfitRefresh    Duration `json:"take_profit_refresh" yaml:"take_profit_refresh"`
	HealthStaleness      Duration `json:"health_staleness" yaml:"health_staleness"`
	UniverseRefresh      Duration `json:"universe_refresh" yaml:"universe_refresh"`
	PlacementConcurrency int      `json:"placement_concurrency" yaml:"placement_concurrency"`

	StrategySelectPreference string  `json:"strategy_select_preference" yaml:"strategy_select_preference"`
	MinVolume                float64 `json:"min_volume" yaml:"min_volume"`
	MinNATR                  float64 `json:"min_natr" yaml:"min_natr"`
	NATRPeriod               int     `json:"natr_period" yaml:"natr_period"`
}

// DynamicBotCountConfig bounds how many symbols trade per side and how fast new ones are admitted
type DynamicBotCountConfig struct {
	MaxLongStrategies             int      `json:"max_long_strategies" yaml:"max_long_strategies"`
	MaxShortStrategies            int      `json:"max_short_strategies" yaml:"max_short_strategies"`
	TargetLongExposure            float64  `json:"target_long_exposure" yaml:"target_long_exposure"`
	TargetShortExposure           float64  `json:"target_short_exposure" yaml:"target_short_exposure"`
	MaxDynamicStrategyOpenPerStep int      `json:"max_dynamic_strategy_open_per_step" yaml:"max_dynamic_strategy_open_per_step"`
	Step                          Duration `json:"step" yaml:"step"`                                 // throttle window
	MaxOpensPerWindow             int      `json:"max_opens_per_window" yaml:"max_opens_per_window"` // throttle limit
}

// UnstuckingConfig thresholds are fractions of wallet balance and are negative
type UnstuckingConfig struct {
	Enabled                bool    `json:"enabled" yaml:"enabled"`
	SlowThreshold          float64 `json:"slow_threshold" yaml:"slow_threshold"`
	SlowPositionThreshold  float64 `json:"slow_position_threshold" yaml:"slow_position_threshold"`
	SlowPercentStep        float64 `json:"slow_percent_step" yaml:"slow_percent_step"`
	ForceThreshold         float64 `json:"force_threshold" yaml:"force_threshold"`
	ForcePositionThreshold float64 `json:"force_position_threshold" yaml:"force_position_threshold"`
	ForcePercentStep       float64 `json:"force_percent_step" yaml:"force_percent_step"`
	ForceKillTheWorst      bool    `json:"force_kill_the_worst" yaml:"force_kill_the_worst"`
}

type CriticalModeConfig struct {
	EnableLong                   bool    `json:"enable_long" yaml:"enable_long"`
	EnableShort                  bool    `json:"enable_short" yaml:"enable_short"`
	WalletExposureThresholdLong  float64 `json:"wallet_exposure_threshold_long" yaml:"wallet_exposure_threshold_long"`
	WalletExposureThresholdShort float64 `json:"wallet_exposure_threshold_short" yaml:"wallet_exposure_threshold_short"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Enabled         bool     `json:"enabled" yaml:"enabled"`
	Host            string   `json:"host" yaml:"host"`
	Port            int      `json:"port" yaml:"port"`
	AllowedOrigins  []string `json:"allowed_origins" yaml:"allowed_origins"`
	ShutdownTimeout Duration `json:"shutdown_timeout" yaml:"shutdown_timeout"`
}

// AuthConfig guards /api/* with HS256 operator tokens when enabled
type AuthConfig struct {
	Enabled       bool     `json:"enabled" yaml:"enabled"`
	JWTSecret     string   `json:"jwt_secret" yaml:"jwt_secret"`
	Issuer        string   `json:"issuer" yaml:"issuer"`
	TokenDuration Duration `json:"token_duration" yaml:"token_duration"`
}

type DatabaseConfig struct {
	Enabled  bool   `json:"enabled" yaml:"enabled"`
	Host     string `json:"host" yaml:"host"`
	Port     int    `json:"port" yaml:"port"`
	User     string `json:"user" yaml:"user"`
	Password string `json:"password" yaml:"password"`
	Database string `json:"database" yaml:"database"`
	SSLMode  string `json:"ssl_mode" yaml:"ssl_mode"`
}

// RedisConfig holds Redis configuration for the runtime snapshot store
type RedisConfig struct {
	Enabled  bool   `json:"enabled" yaml:"enabled"`
	Address  string `json:"address" yaml:"address"`
	Password string `json:"password" yaml:"password"`
	DB       int    `json:"db" yaml:"db"`
	PoolSize int    `json:"pool_size" yaml:"pool_size"`
}

type LoggingConfig struct {
	Level      string `json:"level" yaml:"level"`             // debug, info, warn, error
	Output     string `json:"output" yaml:"output"`           // stdout, stderr, or file path
	JSONFormat bool   `json:"json_format" yaml:"json_format"` // console writer when false
	MaxSizeMB  int    `json:"max_size_mb" yaml:"max_size_mb"`
	MaxBackups int    `json:"max_backups" yaml:"max_backups"`
	MaxAgeDays int    `json:"max_age_days" yaml:"max_age_days"`
}

type MetricsConfig struct {
	Enabled   bool   `json:"enabled" yaml:"enabled"`
	Namespace string `json:"namespace" yaml:"namespace"`
}

// Duration accepts "90s"-style strings in JSON and YAML
type Duration struct {
	time.Duration
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

func (d *Duration) UnmarshalJSON(b []byte) error {
	var v interface{}
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	switch value := v.(type) {
	case float64:
		// bare numbers are seconds
		d.Duration = time.Duration(value * float64(time.Second))
		return nil
	case string:
		parsed, err := time.ParseDuration(value)
		if err != nil {
			return err
		}
		d.Duration = parsed
		return nil
	default:
		return fmt.Errorf("invalid duration %s", string(b))
	}
}

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	if secs, err := strconv.ParseFloat(node.Value, 64); err == nil {
		d.Duration = time.Duration(secs * float64(time.Second))
		return nil
	}
	parsed, err := time.ParseDuration(node.Value)
	if err != nil {
		return fmt.Errorf("line %d: %w", node.Line, err)
	}
	d.Duration = parsed
	return nil
}

// Load reads the config file at path (JSON, or YAML for .yaml/.yml), applies
// environment overrides and defaults, and validates the result. A missing file
// is not an error; the environment and defaults then define everything.
func Load(path string) (*Config, error) {
	cfg, err := loadFromFile(path)
	if errors.Is(err, os.ErrNotExist) {
		cfg = &Config{}
	} else if err != nil {
		return nil, err
	}

	applyEnvOverrides(cfg)
	applyDefaults(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func loadFromFile(filename string) (*Config, error) {
	file, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	var config Config
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(file, &config)
	default:
		err = json.Unmarshal(file, &config)
	}
	if err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}

	return &config, nil
}

// applyEnvOverrides lets the environment replace any value read from the file
func applyEnvOverrides(cfg *Config) {
	// Exchange config
	cfg.Exchange.APIKey = getEnvOrDefault("BINANCE_API_KEY", cfg.Exchange.APIKey)
	cfg.Exchange.SecretKey = getEnvOrDefault("BINANCE_SECRET_KEY", cfg.Exchange.SecretKey)
	cfg.Exchange.TestNet = getEnvBoolOrDefault("BINANCE_TESTNET", cfg.Exchange.TestNet)
	cfg.Exchange.Paper = getEnvBoolOrDefault("PAPER_MODE", cfg.Exchange.Paper)
	cfg.Exchange.PaperBalance = getEnvFloatOrDefault("PAPER_BALANCE", cfg.Exchange.PaperBalance)
	cfg.Exchange.Leverage = getEnvIntOrDefault("FUTURES_LEVERAGE", cfg.Exchange.Leverage)

	// Vault config
	cfg.Vault.Enabled = getEnvBoolOrDefault("VAULT_ENABLED", cfg.Vault.Enabled)
	cfg.Vault.Address = getEnvOrDefault("VAULT_ADDR", cfg.Vault.Address)
	cfg.Vault.Token = getEnvOrDefault("VAULT_TOKEN", cfg.Vault.Token)
	cfg.Vault.MountPath = getEnvOrDefault("VAULT_MOUNT_PATH", cfg.Vault.MountPath)
	cfg.Vault.SecretPath = getEnvOrDefault("VAULT_SECRET_PATH", cfg.Vault.SecretPath)

	// Trading config
	cfg.Trading.StrategyName = getEnvOrDefault("TRADING_STRATEGY", cfg.Trading.StrategyName)
	cfg.Trading.Sizer = getEnvOrDefault("TRADING_SIZER", cfg.Trading.Sizer)
	cfg.Trading.TradingMode = getEnvOrDefault("TRADING_MODE", cfg.Trading.TradingMode)
	cfg.Trading.Timeframe = getEnvOrDefault("TRADING_TIMEFRAME", cfg.Trading.Timeframe)
	cfg.Trading.Whitelist = getEnvListOrDefault("TRADING_WHITELIST", cfg.Trading.Whitelist)
	cfg.Trading.Blacklist = getEnvListOrDefault("TRADING_BLACKLIST", cfg.Trading.Blacklist)
	cfg.Trading.WalletExposureLong = getEnvFloatOrDefault("TRADING_WALLET_EXPOSURE_LONG", cfg.Trading.WalletExposureLong)
	cfg.Trading.WalletExposureShort = getEnvFloatOrDefault("TRADING_WALLET_EXPOSURE_SHORT", cfg.Trading.WalletExposureShort)
	cfg.Trading.CycleDelay.Duration = getEnvDurationOrDefault("TRADING_CYCLE_DELAY", cfg.Trading.CycleDelay.Duration)

	// Dynamic bot count
	cfg.DynamicBotCount.MaxLongStrategies = getEnvIntOrDefault("MAX_LONG_STRATEGIES", cfg.DynamicBotCount.MaxLongStrategies)
	cfg.DynamicBotCount.MaxShortStrategies = getEnvIntOrDefault("MAX_SHORT_STRATEGIES", cfg.DynamicBotCount.MaxShortStrategies)

	// Unstucking
	cfg.Unstucking.Enabled = getEnvBoolOrDefault("UNSTUCKING_ENABLED", cfg.Unstucking.Enabled)
	cfg.Unstucking.ForceKillTheWorst = getEnvBoolOrDefault("UNSTUCKING_FORCE_KILL_THE_WORST", cfg.Unstucking.ForceKillTheWorst)

	// Server config
	cfg.Server.Enabled = getEnvBoolOrDefault("WEB_ENABLED", cfg.Server.Enabled)
	cfg.Server.Port = getEnvIntOrDefault("WEB_PORT", cfg.Server.Port)
	cfg.Server.Host = getEnvOrDefault("WEB_HOST", cfg.Server.Host)
	cfg.Server.AllowedOrigins = getEnvListOrDefault("SERVER_ALLOWED_ORIGINS", cfg.Server.AllowedOrigins)

	// Auth config
	cfg.Auth.Enabled = getEnvBoolOrDefault("AUTH_ENABLED", cfg.Auth.Enabled)
	cfg.Auth.JWTSecret = getEnvOrDefault("AUTH_JWT_SECRET", cfg.Auth.JWTSecret)
	cfg.Auth.Issuer = getEnvOrDefault("AUTH_ISSUER", cfg.Auth.Issuer)
	cfg.Auth.TokenDuration.Duration = getEnvDurationOrDefault("AUTH_TOKEN_DURATION", cfg.Auth.TokenDuration.Duration)

	// Database config
	cfg.Database.Enabled = getEnvBoolOrDefault("DB_ENABLED", cfg.Database.Enabled)
	cfg.Database.Host = getEnvOrDefault("DB_HOST", cfg.Database.Host)
	cfg.Database.Port = getEnvIntOrDefault("DB_PORT", cfg.Database.Port)
	cfg.Database.User = getEnvOrDefault("DB_USER", cfg.Database.User)
	cfg.Database.Password = getEnvOrDefault("DB_PASSWORD", cfg.Database.Password)
	cfg.Database.Database = getEnvOrDefault("DB_NAME", cfg.Database.Database)
	cfg.Database.SSLMode = getEnvOrDefault("DB_SSLMODE", cfg.Database.SSLMode)

	// Redis config
	cfg.Redis.Enabled = getEnvBoolOrDefault("REDIS_ENABLED", cfg.Redis.Enabled)
	cfg.Redis.Address = getEnvOrDefault("REDIS_ADDR", cfg.Redis.Address)
	cfg.Redis.Password = getEnvOrDefault("REDIS_PASSWORD", cfg.Redis.Password)
	cfg.Redis.DB = getEnvIntOrDefault("REDIS_DB", cfg.Redis.DB)

	// Logging config
	cfg.Logging.Level = getEnvOrDefault("LOG_LEVEL", cfg.Logging.Level)
	cfg.Logging.Output = getEnvOrDefault("LOG_OUTPUT", cfg.Logging.Output)
	cfg.Logging.JSONFormat = getEnvBoolOrDefault("LOG_JSON", cfg.Logging.JSONFormat)

	cfg.Metrics.Enabled = getEnvBoolOrDefault("METRICS_ENABLED", cfg.Metrics.Enabled)
}

func applyDefaults(cfg *Config) {
	setDefault(&cfg.Exchange.Leverage, 10)
	setDefault(&cfg.Exchange.RecvWindow, 5000)
	setDefault(&cfg.Exchange.PaperBalance, 1000)

	setDefault(&cfg.Vault.Address, "http://localhost:8200")
	setDefault(&cfg.Vault.MountPath, "secret")
	setDefault(&cfg.Vault.SecretPath, "cryptoblade/binance")

	t := &cfg.Trading
	setDefault(&t.StrategyName, "mfi_rsi_trend")
	setDefault(&t.Sizer, "recursive_grid")
	setDefault(&t.TradingMode, TradingModeDynamic)
	setDefault(&t.QuoteAsset, "USDT")
	setDefault(&t.Timeframe, "1m")
	setDefault(&t.QuoteBufferSize, 200)
	setDefault(&t.InitialQtyPctLong, 0.01)
	setDefault(&t.InitialQtyPctShort, 0.01)
	setDefault(&t.DDownFactorLong, 0.6)
	setDefault(&t.DDownFactorShort, 0.6)
	setDefault(&t.ReentryPriceDistanceLong, 0.01)
	setDefault(&t.ReentryPriceDistanceShort, 0.01)
	setDefault(&t.DCAOrdersCount, 10)
	setDefault(&t.MinProfitRate, 0.006)
	setDefault(&t.CycleDelay.Duration, 5*time.Second)
	setDefault(&t.DataWait.Duration, 5*time.Second)
	setDefault(&t.TakeProfitRefresh.Duration, 270*time.Second)
	setDefault(&t.HealthStaleness.Duration, 5*time.Minute)
	setDefault(&t.UniverseRefresh.Duration, time.Hour)
	setDefault(&t.PlacementConcurrency, 8)
	setDefault(&t.StrategySelectPreference, SelectByVolume)
	setDefault(&t.NATRPeriod, 14)

	b := &cfg.DynamicBotCount
	setDefault(&b.MaxDynamicStrategyOpenPerStep, 1)
	setDefault(&b.Step.Duration, 10*time.Minute)
	setDefault(&b.MaxOpensPerWindow, 3)

	u := &cfg.Unstucking
	setDefault(&u.SlowPercentStep, 0.05)
	setDefault(&u.ForcePercentStep, 0.1)

	setDefault(&cfg.Server.Host, "0.0.0.0")
	setDefault(&cfg.Server.Port, 8080)
	setDefault(&cfg.Server.ShutdownTimeout.Duration, 10*time.Second)
	if len(cfg.Server.AllowedOrigins) == 0 {
		cfg.Server.AllowedOrigins = []string{"*"}
	}

	setDefault(&cfg.Auth.Issuer, "cryptoblade")
	setDefault(&cfg.Auth.TokenDuration.Duration, 24*time.Hour)

	setDefault(&cfg.Database.Host, "localhost")
	setDefault(&cfg.Database.Port, 5432)
	setDefault(&cfg.Database.SSLMode, "disable")
	setDefault(&cfg.Database.Database, "cryptoblade")

	setDefault(&cfg.Redis.Address, "localhost:6379")
	setDefault(&cfg.Redis.PoolSize, 10)

	setDefault(&cfg.Logging.Level, "info")
	setDefault(&cfg.Logging.Output, "stdout")

	setDefault(&cfg.Metrics.Namespace, "cryptoblade")
}

func setDefault[T comparable](field *T, value T) {
	var zero T
	if *field == zero {
		*field = value
	}
}

// Validate reports every inconsistent setting at once
func (c *Config) Validate() error {
	var errs []error
	add := func(format string, args ...interface{}) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	t := c.Trading
	switch t.TradingMode {
	case TradingModeDynamic, TradingModeNormal, TradingModeReadOnly:
	default:
		add("trading.trading_mode %q is not one of dynamic, normal, readonly", t.TradingMode)
	}
	switch t.StrategySelectPreference {
	case SelectByVolume, SelectByNATR:
	default:
		add("trading.strategy_select_preference %q is not one of volume, natr", t.StrategySelectPreference)
	}
	if t.WalletExposureLong < 0 || t.WalletExposureShort < 0 {
		add("trading.wallet_exposure_* must not be negative")
	}
	if t.InitialQtyPctLong <= 0 || t.InitialQtyPctLong > 1 || t.InitialQtyPctShort <= 0 || t.InitialQtyPctShort > 1 {
		add("trading.initial_qty_pct_* must be in (0, 1]")
	}
	if t.ReentryPriceDistanceLong < 0 || t.ReentryPriceDistanceShort < 0 {
		add("trading.reentry_price_distance_* must not be negative")
	}
	if t.MinProfitRate < 0 {
		add("trading.min_profit_rate must not be negative")
	}
	if t.QuoteBufferSize < t.WarmupCandles {
		add("trading.quote_buffer_size %d is smaller than warmup_candles %d", t.QuoteBufferSize, t.WarmupCandles)
	}

	b := c.DynamicBotCount
	if b.MaxLongStrategies < 0 || b.MaxShortStrategies < 0 {
		add("dynamic_bot_count.max_*_strategies must not be negative")
	}
	if b.MaxOpensPerWindow < 0 {
		add("dynamic_bot_count.max_opens_per_window must not be negative")
	}

	u := c.Unstucking
	if u.Enabled {
		if u.SlowThreshold > 0 || u.ForceThreshold > 0 || u.SlowPositionThreshold > 0 || u.ForcePositionThreshold > 0 {
			add("unstucking thresholds are losses and must not be positive")
		}
		if u.ForceThreshold > u.SlowThreshold {
			add("unstucking.force_threshold %.4f must not be above slow_threshold %.4f", u.ForceThreshold, u.SlowThreshold)
		}
		if u.SlowPercentStep <= 0 || u.SlowPercentStep > 1 || u.ForcePercentStep <= 0 || u.ForcePercentStep > 1 {
			add("unstucking percent steps must be in (0, 1]")
		}
	}

	if !c.Exchange.Paper && (c.Exchange.APIKey == "" || c.Exchange.SecretKey == "") && !c.Vault.Enabled {
		add("exchange credentials are required unless paper mode or vault is enabled")
	}
	if c.Auth.Enabled && len(c.Auth.JWTSecret) < 32 {
		add("auth.jwt_secret must be at least 32 characters")
	}

	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrInvalidConfig, errors.Join(errs...))
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvFloatOrDefault(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
			return floatVal
		}
	}
	return defaultValue
}

func getEnvBoolOrDefault(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

func getEnvDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

// getEnvListOrDefault splits a comma separated value
func getEnvListOrDefault(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
