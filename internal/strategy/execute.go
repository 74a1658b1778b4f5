package strategy

import (
	"context"

	"cryptoblade/internal/events"
	"cryptoblade/internal/models"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ExecuteParams gate what Execute may do in one cycle. They are rebuilt every cycle.
type ExecuteParams struct {
	AllowLongOpen   bool
	AllowShortOpen  bool
	AllowExtraLong  bool
	AllowExtraShort bool
	LongUnstucking  bool
	ShortUnstucking bool
}

// Order placement reasons carried on events.
const (
	ReasonOpen       = "open"
	ReasonExtend     = "extend"
	ReasonTakeProfit = "take_profit"
	ReasonUnstuck    = "unstuck"
	ReasonForceKill  = "force_kill"
	ReasonStale      = "stale_signal"
	ReasonReplace    = "replace"
)

// NewClientOrderID returns the client id attached to every order the engine places.
func NewClientOrderID() string {
	return "cb-" + uuid.New().String()
}

// legView is an immutable copy of one leg taken before any exchange I/O.
type legView struct {
	side         models.PositionSide
	position     models.Position
	entryOrders  []models.Order
	tpOrders     []models.Order
	exposure     decimal.NullDecimal
	dynamicQty   decimal.NullDecimal
	dynamicPrice decimal.NullDecimal
	takeProfit   decimal.NullDecimal
}

type execView struct {
	signals   Signals
	ticker    models.Ticker
	candle    models.Candle
	hasCandle bool
	long      legView
	short     legView
}

func (s *State) view() execView {
	s.mu.RLock()
	defer s.mu.RUnlock()

	v := execView{signals: s.signals, ticker: s.ticker}
	v.candle, v.hasCandle = s.quotes.Last()
	for _, side := range []models.PositionSide{models.PositionSideLong, models.PositionSideShort} {
		leg := s.leg(side)
		lv := legView{
			side:         side,
			position:     leg.position,
			exposure:     leg.exposure,
			dynamicQty:   leg.dynamicQty,
			dynamicPrice: leg.dynamicPrice,
			takeProfit:   leg.takeProfit,
		}
		for _, o := range s.orders {
			if o.PositionSide != side {
				continue
			}
			if o.IsEntry() {
				lv.entryOrders = append(lv.entryOrders, o)
			} else {
				lv.tpOrders = append(lv.tpOrders, o)
			}
		}
		if side == models.PositionSideLong {
			v.long = lv
		} else {
			v.short = lv
		}
	}
	return v
}

// Execute acts on the current signals within the limits of params. Exchange
// failures are logged and skipped; only context cancellation is returned.
func (s *State) Execute(ctx context.Context, params ExecuteParams) error {
	s.execMu.Lock()
	defer s.execMu.Unlock()

	v := s.view()

	s.cancelStaleEntries(ctx, v.long, v.signals.Buy, v.signals.ExtraBuy)
	s.cancelStaleEntries(ctx, v.short, v.signals.Sell, v.signals.ExtraSell)
	if err := ctx.Err(); err != nil {
		return err
	}

	s.openOrExtend(ctx, v, v.long, v.signals.Buy, v.signals.ExtraBuy, params.AllowLongOpen, params.AllowExtraLong)
	s.openOrExtend(ctx, v, v.short, v.signals.Sell, v.signals.ExtraSell, params.AllowShortOpen, params.AllowExtraShort)
	if err := ctx.Err(); err != nil {
		return err
	}

	s.setUnstucking(models.PositionSideLong, params.LongUnstucking)
	s.setUnstucking(models.PositionSideShort, params.ShortUnstucking)
	if !params.LongUnstucking {
		s.refreshTakeProfit(ctx, v.long)
	}
	if !params.ShortUnstucking {
		s.refreshTakeProfit(ctx, v.short)
	}
	return ctx.Err()
}

// cancelStaleEntries drops entry orders whose signal is gone: opening orders when
// the entry signal cleared, extension orders when the extra signal cleared.
func (s *State) cancelStaleEntries(ctx context.Context, leg legView, entrySignal, extraSignal bool) {
	if len(leg.entryOrders) == 0 {
		return
	}
	stale := !entrySignal
	if leg.position.Quantity.IsPositive() {
		stale = !extraSignal
	}
	if !stale {
		return
	}
	for _, o := range leg.entryOrders {
		s.cancel(ctx, o, ReasonStale)
	}
}

func (s *State) openOrExtend(ctx context.Context, v execView, leg legView, entrySignal, extraSignal, allowOpen, allowExtra bool) {
	if len(leg.entryOrders) > 0 || !leg.dynamicQty.Valid || !leg.dynamicQty.Decimal.IsPositive() {
		return
	}
	if !s.noTradeForCandle(leg.side, v) {
		return
	}
	qty := leg.dynamicQty.Decimal
	hasPosition := leg.position.Quantity.IsPositive()

	switch {
	case !hasPosition && allowOpen && entrySignal:
		if !s.fundingAllows(v.ticker) {
			s.logger.Debug().Str("side", string(leg.side)).Str("funding", v.ticker.FundingRate.Decimal.String()).
				Msg("Funding rate outside limit, skipping open")
			return
		}
		s.placeEntry(ctx, v, leg, qty, ReasonOpen)

	case hasPosition && allowExtra && extraSignal:
		limit := s.opts.WalletExposureLong
		if leg.side == models.PositionSideShort {
			limit = s.opts.WalletExposureShort
		}
		if !leg.exposure.Valid || leg.exposure.Decimal.GreaterThanOrEqual(limit) {
			return
		}
		if s.info.MaxQty.IsPositive() && leg.position.Quantity.Add(qty).GreaterThan(s.info.MaxQty) {
			s.logger.Debug().Str("side", string(leg.side)).Msg("Max quantity reached, skipping extension")
			return
		}
		s.placeEntry(ctx, v, leg, qty, ReasonExtend)
	}
}

func (s *State) fundingAllows(t models.Ticker) bool {
	if !s.opts.MaxAbsFundingRate.IsPositive() || !t.FundingRate.Valid {
		return true
	}
	return t.FundingRate.Decimal.Abs().LessThanOrEqual(s.opts.MaxAbsFundingRate)
}

// noTradeForCandle allows at most one entry per side per closed candle.
func (s *State) noTradeForCandle(side models.PositionSide, v execView) bool {
	if !v.hasCandle {
		return false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return !s.leg(side).lastEntryCandle.Equal(v.candle.OpenTime)
}

func (s *State) placeEntry(ctx context.Context, v execView, leg legView, qty decimal.Decimal, reason string) {
	price := v.ticker.BestBid
	if leg.side == models.PositionSideShort {
		price = v.ticker.BestAsk
	}
	if leg.dynamicPrice.Valid && leg.dynamicPrice.Decimal.IsPositive() {
		price = leg.dynamicPrice.Decimal
	}

	req := models.OrderRequest{
		Symbol:        s.info.Name,
		PositionSide:  leg.side,
		Quantity:      qty,
		Price:         price,
		ClientOrderID: NewClientOrderID(),
	}

	var (
		order models.Order
		err   error
	)
	if leg.side == models.PositionSideLong {
		order, err = s.deps.Exchange.PlaceLimitBuyOrder(ctx, req)
	} else {
		order, err = s.deps.Exchange.PlaceLimitSellOrder(ctx, req)
	}
	if err != nil {
		s.logger.Error().Err(err).Str("side", string(leg.side)).Str("reason", reason).
			Str("qty", qty.String()).Str("price", price.String()).Msg("Failed to place entry order")
		return
	}

	s.mu.Lock()
	s.leg(leg.side).lastEntryCandle = v.candle.OpenTime
	s.trackOrderLocked(order)
	s.mu.Unlock()

	s.logger.Info().Str("side", string(leg.side)).Str("reason", reason).
		Str("qty", qty.String()).Str("price", price.String()).Msg("Entry order placed")
	s.publish(events.OrderPlaced(order, reason))
}

// refreshTakeProfit replaces the leg's reduce-only orders when the position size
// changed since the last placement or the refresh timer elapsed.
func (s *State) refreshTakeProfit(ctx context.Context, leg legView) {
	if !leg.position.Quantity.IsPositive() || !leg.takeProfit.Valid {
		return
	}

	s.mu.RLock()
	placedAt := s.leg(leg.side).tpPlacedAt
	placedSize := s.leg(leg.side).tpPlacedSize
	s.mu.RUnlock()

	now := s.deps.Now()
	sizeChanged := !placedSize.Equal(leg.position.Quantity)
	expired := now.Sub(placedAt) >= s.opts.TakeProfitRefresh
	if len(leg.tpOrders) > 0 && !sizeChanged && !expired {
		return
	}

	for _, o := range leg.tpOrders {
		if !s.cancel(ctx, o, ReasonReplace) {
			return
		}
	}
	if ctx.Err() != nil {
		return
	}

	req := models.OrderRequest{
		Symbol:        s.info.Name,
		PositionSide:  leg.side,
		Quantity:      leg.position.Quantity,
		Price:         leg.takeProfit.Decimal,
		ReduceOnly:    true,
		ClientOrderID: NewClientOrderID(),
	}
	var (
		order models.Order
		err   error
	)
	if leg.side == models.PositionSideLong {
		order, err = s.deps.Exchange.PlaceLongTakeProfitOrder(ctx, req)
	} else {
		order, err = s.deps.Exchange.PlaceShortTakeProfitOrder(ctx, req)
	}
	if err != nil {
		s.logger.Error().Err(err).Str("side", string(leg.side)).Str("price", req.Price.String()).
			Msg("Failed to place take-profit order")
		return
	}

	s.mu.Lock()
	l := s.leg(leg.side)
	l.tpPlacedAt = now
	l.tpPlacedSize = leg.position.Quantity
	s.trackOrderLocked(order)
	s.mu.Unlock()

	s.logger.Debug().Str("side", string(leg.side)).Str("qty", req.Quantity.String()).
		Str("price", req.Price.String()).Msg("Take-profit order placed")
	s.publish(events.OrderPlaced(order, ReasonTakeProfit))
}

// cancel cancels one order and reports success.
func (s *State) cancel(ctx context.Context, o models.Order, reason string) bool {
	if err := s.deps.Exchange.CancelOrder(ctx, s.info.Name, o.ID); err != nil {
		s.logger.Error().Err(err).Str("order_id", o.ID).Str("reason", reason).Msg("Failed to cancel order")
		return false
	}
	s.mu.Lock()
	s.untrackOrderLocked(o.ID)
	s.mu.Unlock()
	s.publish(events.OrderCancelled(s.info.Name, o.ID, reason))
	return true
}

// trackOrderLocked keeps placed orders visible until the next refresh. Caller holds mu.
func (s *State) trackOrderLocked(o models.Order) {
	if o.Status.IsOpen() {
		s.orders = append(s.orders, o)
	}
}

func (s *State) untrackOrderLocked(id string) {
	kept := make([]models.Order, 0, len(s.orders))
	for _, o := range s.orders {
		if o.ID != id {
			kept = append(kept, o)
		}
	}
	s.orders = kept
}

func (s *State) setUnstucking(side models.PositionSide, v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.leg(side).unstucking = v
}
