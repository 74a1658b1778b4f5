package orchestrator

import (
	"time"

	"cryptoblade/config"
	"cryptoblade/internal/strategy"

	"github.com/shopspring/decimal"
)

// Trading modes
const (
	ModeDynamic  = config.TradingModeDynamic
	ModeNormal   = config.TradingModeNormal
	ModeReadOnly = config.TradingModeReadOnly
)

// UnstuckConfig thresholds are fractions of wallet balance (negative).
type UnstuckConfig struct {
	Enabled                bool
	SlowThreshold          decimal.Decimal
	SlowPositionThreshold  decimal.Decimal
	ForceThreshold         decimal.Decimal
	ForcePositionThreshold decimal.Decimal
	ForceKillTheWorst      bool
}

type CriticalConfig struct {
	EnableLong     bool
	EnableShort    bool
	ThresholdLong  decimal.Decimal
	ThresholdShort decimal.Decimal
}

// Config is the orchestrator's view of the trading configuration.
// Zero max strategies disables new positions on that side; a zero target
// exposure leaves admissions capped by the strategy count alone.
type Config struct {
	Mode           string
	StrategyName   string
	QuoteAsset     string
	Whitelist      []string
	Blacklist      []string
	SymbolMaturity time.Duration
	Leverage       int

	Timeframe       string
	QuoteBufferSize int

	CycleDelay           time.Duration
	DataWait             time.Duration
	HealthStaleness      time.Duration
	UniverseRefresh      time.Duration
	PlacementConcurrency int

	SelectPreference string
	MinVolume        decimal.Decimal
	MinNATR          decimal.Decimal

	MaxLongStrategies   int
	MaxShortStrategies  int
	TargetLongExposure  decimal.Decimal
	TargetShortExposure decimal.Decimal
	MaxOpenPerStep      int

	Unstucking UnstuckConfig
	Critical   CriticalConfig

	Strategy strategy.Options
}

// FromConfig converts the loaded application config
func FromConfig(cfg *config.Config) Config {
	t := cfg.Trading
	b := cfg.DynamicBotCount
	u := cfg.Unstucking
	c := cfg.CriticalMode

	return Config{
		Mode:           t.TradingMode,
		StrategyName:   t.StrategyName,
		QuoteAsset:     t.QuoteAsset,
		Whitelist:      t.Whitelist,
		Blacklist:      t.Blacklist,
		SymbolMaturity: t.SymbolMaturity.Duration,
		Leverage:       cfg.Exchange.Leverage,

		Timeframe:       t.Timeframe,
		QuoteBufferSize: t.QuoteBufferSize,

		CycleDelay:           t.CycleDelay.Duration,
		DataWait:             t.DataWait.Duration,
		HealthStaleness:      t.HealthStaleness.Duration,
		UniverseRefresh:      t.UniverseRefresh.Duration,
		PlacementConcurrency: t.PlacementConcurrency,

		SelectPreference: t.StrategySelectPreference,
		MinVolume:        dec(t.MinVolume),
		MinNATR:          dec(t.MinNATR),

		MaxLongStrategies:   b.MaxLongStrategies,
		MaxShortStrategies:  b.MaxShortStrategies,
		TargetLongExposure:  dec(b.TargetLongExposure),
		TargetShortExposure: dec(b.TargetShortExposure),
		MaxOpenPerStep:      b.MaxDynamicStrategyOpenPerStep,

		Unstucking: UnstuckConfig{
			Enabled:                u.Enabled,
			SlowThreshold:          dec(u.SlowThreshold),
			SlowPositionThreshold:  dec(u.SlowPositionThreshold),
			ForceThreshold:         dec(u.ForceThreshold),
			ForcePositionThreshold: dec(u.ForcePositionThreshold),
			ForceKillTheWorst:      u.ForceKillTheWorst,
		},
		Critical: CriticalConfig{
			EnableLong:     c.EnableLong,
			EnableShort:    c.EnableShort,
			ThresholdLong:  dec(c.WalletExposureThresholdLong),
			ThresholdShort: dec(c.WalletExposureThresholdShort),
		},

		Strategy: strategy.Options{
			WalletExposureLong:            dec(t.WalletExposureLong),
			WalletExposureShort:           dec(t.WalletExposureShort),
			InitialQtyPctLong:             dec(t.InitialQtyPctLong),
			InitialQtyPctShort:            dec(t.InitialQtyPctShort),
			DDownFactorLong:               dec(t.DDownFactorLong),
			DDownFactorShort:              dec(t.DDownFactorShort),
			ReentryPriceDistanceLong:      dec(t.ReentryPriceDistanceLong),
			ReentryPriceDistanceShort:     dec(t.ReentryPriceDistanceShort),
			ReentryDistanceWeightingLong:  dec(t.ReentryDistanceWeightingLong),
			ReentryDistanceWeightingShort: dec(t.ReentryDistanceWeightingShort),
			MinProfitRate:                 dec(t.MinProfitRate),
			MaxAbsFundingRate:             dec(t.MaxAbsFundingRate),
			SlowUnstuckPercentStep:        dec(u.SlowPercentStep),
			ForceUnstuckPercentStep:       dec(u.ForcePercentStep),
			TakeProfitRefresh:             t.TakeProfitRefresh.Duration,
			NATRPeriod:                    t.NATRPeriod,
		},
	}
}

func dec(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}
