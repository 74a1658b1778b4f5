package strategy

import (
	"errors"
	"fmt"

	"cryptoblade/internal/models"

	"github.com/shopspring/decimal"
)

// ErrNotEnoughData is returned by providers that need more history than is buffered.
var ErrNotEnoughData = errors.New("not enough candles")

// Signals are the entry flags produced by one evaluation.
type Signals struct {
	Buy       bool `json:"buy"`
	Sell      bool `json:"sell"`
	ExtraBuy  bool `json:"extra_buy"`
	ExtraSell bool `json:"extra_sell"`
}

// MarketData is the read-only input to a signal provider.
type MarketData struct {
	Symbol        string
	Candles       []models.Candle
	Ticker        models.Ticker
	LongPosition  models.Position
	ShortPosition models.Position
}

// Evaluation is a signal provider's output. Take-profit prices are optional
// and replace the default min-profit pricing when set.
type Evaluation struct {
	Signals         Signals
	Indicators      Indicators
	LongTakeProfit  decimal.NullDecimal
	ShortTakeProfit decimal.NullDecimal
}

// SignalProvider turns candle history into entry signals for one named strategy.
type SignalProvider interface {
	Name() string
	// WarmupPeriod is the number of closed candles needed before Evaluate is meaningful.
	WarmupPeriod() int
	Evaluate(data MarketData) (Evaluation, error)
}

// Provider names accepted by NewSignalProvider.
const (
	MfiRsiTrendName      = "mfi_rsi_trend"
	LinearRegressionName = "linear_regression"
	AutoHedgeName        = "auto_hedge"
)

// NewSignalProvider returns the built-in provider registered under name.
func NewSignalProvider(name string) (SignalProvider, error) {
	switch name {
	case MfiRsiTrendName:
		return NewMfiRsiTrend(), nil
	case LinearRegressionName:
		return NewLinearRegression(), nil
	case AutoHedgeName:
		return NewAutoHedge(), nil
	default:
		return nil, fmt.Errorf("unknown strategy %q", name)
	}
}
