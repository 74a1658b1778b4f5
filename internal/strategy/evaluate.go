package strategy

import (
	"errors"

	"cryptoblade/internal/models"
	"cryptoblade/internal/sizing"

	"github.com/shopspring/decimal"
)

// EvaluateSignals refreshes signals, indicators, dynamic entry sizes and
// take-profit prices. It is a no-op while market data is inconsistent and
// clears the signals when no usable ticker is available.
func (s *State) EvaluateSignals() {
	s.mu.RLock()
	consistent := s.consistent
	ticker, hasTicker := s.ticker, s.hasTicker
	long, short := s.long.position, s.short.position
	s.mu.RUnlock()

	if !consistent {
		return
	}
	if !hasTicker || !ticker.BestBid.IsPositive() || !ticker.BestAsk.IsPositive() {
		s.mu.Lock()
		s.signals = Signals{}
		s.mu.Unlock()
		return
	}

	candles := s.quotes.Candles()
	eval, err := s.deps.Signals.Evaluate(MarketData{
		Symbol:        s.info.Name,
		Candles:       candles,
		Ticker:        ticker,
		LongPosition:  long,
		ShortPosition: short,
	})
	if err != nil {
		if !errors.Is(err, ErrNotEnoughData) {
			s.logger.Warn().Err(err).Msg("Signal evaluation failed")
		}
		eval = Evaluation{}
	}
	ranking := rankingIndicators(candles, s.opts.NATRPeriod)
	indicators := make(Indicators, 0, len(eval.Indicators)+len(ranking))
	indicators = append(append(indicators, eval.Indicators...), ranking...)

	balance := s.balance()
	longEntry := s.nextEntry(models.PositionSideLong, balance, long, ticker.BestBid)
	shortEntry := s.nextEntry(models.PositionSideShort, balance, short, ticker.BestAsk)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.signals = eval.Signals
	s.indicators = indicators
	s.applyEntryLocked(models.PositionSideLong, longEntry, ticker.BestBid)
	s.applyEntryLocked(models.PositionSideShort, shortEntry, ticker.BestAsk)
	s.long.takeProfit = s.takeProfitPrice(models.PositionSideLong, long, ticker, eval.LongTakeProfit)
	s.short.takeProfit = s.takeProfitPrice(models.PositionSideShort, short, ticker, eval.ShortTakeProfit)
	s.evaluatedAt = s.deps.Now()
}

func (s *State) nextEntry(side models.PositionSide, balance models.Balance, pos models.Position, best decimal.Decimal) models.GridPosition {
	if s.deps.Sizer == nil {
		return models.GridPosition{}
	}
	req := sizing.EntryRequest{
		Side:          side,
		Balance:       balance.WalletBalance,
		PositionSize:  pos.Quantity,
		PositionPrice: pos.AveragePrice,
		BestPrice:     best,
		QtyStep:       s.info.QtyStep,
		PriceStep:     s.info.PriceStep,
		MinQty:        s.info.MinQty,
		MinCost:       s.info.MinNotional,
	}
	if side == models.PositionSideLong {
		req.InitialQtyPct = s.opts.InitialQtyPctLong
		req.DDownFactor = s.opts.DDownFactorLong
		req.ReentryPriceDistance = s.opts.ReentryPriceDistanceLong
		req.ReentryDistanceWeighting = s.opts.ReentryDistanceWeightingLong
		req.WalletExposureLimit = s.opts.WalletExposureLong
	} else {
		req.InitialQtyPct = s.opts.InitialQtyPctShort
		req.DDownFactor = s.opts.DDownFactorShort
		req.ReentryPriceDistance = s.opts.ReentryPriceDistanceShort
		req.ReentryDistanceWeighting = s.opts.ReentryDistanceWeightingShort
		req.WalletExposureLimit = s.opts.WalletExposureShort
	}
	return s.deps.Sizer.NextEntry(req)
}

// applyEntryLocked stores the sizer result. A leg already in a trade falls back to
// the minimum quantity so it can still be managed. Caller holds mu.
func (s *State) applyEntryLocked(side models.PositionSide, entry models.GridPosition, best decimal.Decimal) {
	leg := s.leg(side)
	switch {
	case !entry.IsZero():
		leg.dynamicQty = decimal.NewNullDecimal(entry.Quantity)
		leg.dynamicPrice = decimal.NewNullDecimal(entry.Price)
	case s.inTradeLocked(side) && s.info.MinQty.IsPositive():
		leg.dynamicQty = decimal.NewNullDecimal(s.info.MinQty)
		leg.dynamicPrice = decimal.NewNullDecimal(best)
	default:
		leg.dynamicQty = decimal.NullDecimal{}
		leg.dynamicPrice = decimal.NullDecimal{}
	}
}

// takeProfitPrice is never more aggressive than the opposite best price and keeps
// at least the configured minimum profit.
func (s *State) takeProfitPrice(side models.PositionSide, pos models.Position, ticker models.Ticker, override decimal.NullDecimal) decimal.NullDecimal {
	if !pos.Quantity.IsPositive() || !pos.AveragePrice.IsPositive() {
		return decimal.NullDecimal{}
	}
	one := decimal.NewFromInt(1)

	if side == models.PositionSideLong {
		price := pos.AveragePrice.Mul(one.Add(s.opts.MinProfitRate))
		if override.Valid && override.Decimal.IsPositive() {
			price = override.Decimal
		}
		price = decimal.Max(price, ticker.BestAsk)
		return decimal.NewNullDecimal(sizing.CeilToStep(price, s.info.PriceStep))
	}

	price := pos.AveragePrice.Mul(one.Sub(s.opts.MinProfitRate))
	if override.Valid && override.Decimal.IsPositive() {
		price = override.Decimal
	}
	price = decimal.Min(price, ticker.BestBid)
	return decimal.NewNullDecimal(sizing.FloorToStep(price, s.info.PriceStep))
}
