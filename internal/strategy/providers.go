package strategy

import (
	"github.com/markcheno/go-talib"

	"cryptoblade/internal/models"
)

type series struct {
	open, high, low, close, volume []float64
}

func toSeries(candles []models.Candle) series {
	s := series{
		open:   make([]float64, len(candles)),
		high:   make([]float64, len(candles)),
		low:    make([]float64, len(candles)),
		close:  make([]float64, len(candles)),
		volume: make([]float64, len(candles)),
	}
	for i, c := range candles {
		s.open[i] = c.Open.InexactFloat64()
		s.high[i] = c.High.InexactFloat64()
		s.low[i] = c.Low.InexactFloat64()
		s.close[i] = c.Close.InexactFloat64()
		s.volume[i] = c.Volume.InexactFloat64()
	}
	return s
}

func last(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	return values[len(values)-1]
}

// ==================== MFI / RSI TREND ====================

// MfiRsiTrend buys oversold dips and sells overbought spikes, confirming with
// both the money flow index and RSI. An EMA cross reports the trend.
type MfiRsiTrend struct {
	Period     int
	FastEMA    int
	SlowEMA    int
	Oversold   float64
	Overbought float64
}

func NewMfiRsiTrend() *MfiRsiTrend {
	return &MfiRsiTrend{Period: 14, FastEMA: 20, SlowEMA: 50, Oversold: 20, Overbought: 80}
}

func (p *MfiRsiTrend) Name() string { return MfiRsiTrendName }
func (p *MfiRsiTrend) WarmupPeriod() int { return p.SlowEMA + 1 }

func (p *MfiRsiTrend) Evaluate(data MarketData) (Evaluation, error) {
	if len(data.Candles) < p.WarmupPeriod() {
		return Evaluation{}, ErrNotEnoughData
	}
	s := toSeries(data.Candles)

	mfi := last(talib.Mfi(s.high, s.low, s.close, s.volume, p.Period))
	rsi := last(talib.Rsi(s.close, p.Period))
	fast := last(talib.Ema(s.close, p.FastEMA))
	slow := last(talib.Ema(s.close, p.SlowEMA))

	trend := "down"
	if fast > slow {
		trend = "up"
	}

	// RSI thresholds sit 15 points inside the MFI bands
	oversold := mfi < p.Oversold && rsi < p.Oversold+15
	overbought := mfi > p.Overbought && rsi > p.Overbought-15

	return Evaluation{
		Signals: Signals{
			Buy:       oversold,
			Sell:      overbought,
			ExtraBuy:  mfi < p.Oversold,
			ExtraSell: mfi > p.Overbought,
		},
		Indicators: Indicators{
			{Name: "mfi", Value: NumberFromFloat(mfi)},
			{Name: "rsi", Value: NumberFromFloat(rsi)},
			{Name: "ema_fast", Value: NumberFromFloat(fast)},
			{Name: "ema_slow", Value: NumberFromFloat(slow)},
			{Name: "trend", Value: Enum(trend)},
		},
	}, nil
}

// ==================== LINEAR REGRESSION ====================

// LinearRegression trades reversions to a rolling regression line once price
// leaves a standard-deviation channel around it.
type LinearRegression struct {
	Period      int
	ChannelDevs float64
}

func NewLinearRegression() *LinearRegression {
	return &LinearRegression{Period: 30, ChannelDevs: 2}
}

func (p *LinearRegression) Name() string { return LinearRegressionName }
func (p *LinearRegression) WarmupPeriod() int { return p.Period + 1 }

func (p *LinearRegression) Evaluate(data MarketData) (Evaluation, error) {
	if len(data.Candles) < p.WarmupPeriod() {
		return Evaluation{}, ErrNotEnoughData
	}
	s := toSeries(data.Candles)

	line := last(talib.LinearReg(s.close, p.Period))
	slope := last(talib.LinearRegSlope(s.close, p.Period))
	dev := last(talib.StdDev(s.close, p.Period, 1))
	price := last(s.close)

	lower := line - p.ChannelDevs*dev
	upper := line + p.ChannelDevs*dev

	normalizedSlope := 0.0
	if price > 0 {
		normalizedSlope = slope / price
	}

	return Evaluation{
		Signals: Signals{
			Buy:       price < lower,
			Sell:      price > upper,
			ExtraBuy:  price < line,
			ExtraSell: price > line,
		},
		Indicators: Indicators{
			{Name: "linreg", Value: NumberFromFloat(line)},
			{Name: "linreg_slope", Value: NumberFromFloat(normalizedSlope)},
			{Name: "channel_lower", Value: NumberFromFloat(lower)},
			{Name: "channel_upper", Value: NumberFromFloat(upper)},
		},
	}, nil
}

// ==================== AUTO HEDGE ====================

// AutoHedge keeps both legs open whenever the market is moving enough for the
// grid to work, measured by normalized ATR.
type AutoHedge struct {
	Period  int
	MinNATR float64
}

func NewAutoHedge() *AutoHedge {
	return &AutoHedge{Period: 14, MinNATR: 0.1}
}

func (p *AutoHedge) Name() string { return AutoHedgeName }
func (p *AutoHedge) WarmupPeriod() int { return p.Period + 1 }

func (p *AutoHedge) Evaluate(data MarketData) (Evaluation, error) {
	if len(data.Candles) < p.WarmupPeriod() {
		return Evaluation{}, ErrNotEnoughData
	}
	s := toSeries(data.Candles)
	natr := last(talib.Natr(s.high, s.low, s.close, p.Period))
	active := natr >= p.MinNATR

	return Evaluation{
		Signals: Signals{Buy: active, Sell: active, ExtraBuy: active, ExtraSell: active},
		Indicators: Indicators{
			{Name: "hedge_active", Value: Bool(active)},
		},
	}, nil
}

// ==================== RANKING ====================

// rankingIndicators computes the values the orchestrator ranks admission candidates by.
func rankingIndicators(candles []models.Candle, natrPeriod int) Indicators {
	out := make(Indicators, 0, 2)

	var quoteVolume float64
	for _, c := range candles {
		quoteVolume += c.QuoteVolume.InexactFloat64()
	}
	out = append(out, Indicator{Name: IndicatorVolume, Value: NumberFromFloat(quoteVolume)})

	if natrPeriod > 0 && len(candles) > natrPeriod {
		s := toSeries(candles)
		out = append(out, Indicator{Name: IndicatorNATR, Value: NumberFromFloat(last(talib.Natr(s.high, s.low, s.close, natrPeriod)))})
	}
	return out
}
