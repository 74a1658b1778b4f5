package strategy

import (
	"context"

	"cryptoblade/internal/events"
	"cryptoblade/internal/models"
	"cryptoblade/internal/sizing"

	"github.com/shopspring/decimal"
)

// ExecuteUnstuck reduces losing legs. For each flagged side it cancels the
// leg's take-profit orders and places an immediately fillable reduce-only
// order sized as a percentage of the position: the force step when forced,
// the slow step otherwise. forceKill closes the whole flagged leg at market.
// Only context cancellation is returned.
func (s *State) ExecuteUnstuck(ctx context.Context, unstuckLong, unstuckShort, forceLong, forceShort, forceKill bool) error {
	s.execMu.Lock()
	defer s.execMu.Unlock()

	v := s.view()
	if unstuckLong {
		s.unstuckLeg(ctx, v, v.long, forceLong, forceKill)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if unstuckShort {
		s.unstuckLeg(ctx, v, v.short, forceShort, forceKill)
	}
	return ctx.Err()
}

func (s *State) unstuckLeg(ctx context.Context, v execView, leg legView, force, kill bool) {
	if !leg.position.Quantity.IsPositive() {
		return
	}
	s.setUnstucking(leg.side, true)

	if !s.noUnstuckForCandle(leg.side, v) {
		return
	}

	if kill {
		// entries too, nothing may re-open the leg while it is being closed
		for _, o := range append(leg.entryOrders, leg.tpOrders...) {
			s.cancel(ctx, o, ReasonForceKill)
		}
		s.forceKill(ctx, v, leg)
		return
	}

	for _, o := range leg.tpOrders {
		s.cancel(ctx, o, ReasonUnstuck)
	}
	if ctx.Err() != nil {
		return
	}

	qty := s.unstuckQty(leg.position.Quantity, force)
	if !qty.IsPositive() {
		return
	}

	req := models.OrderRequest{
		Symbol:        s.info.Name,
		PositionSide:  leg.side,
		Quantity:      qty,
		ReduceOnly:    true,
		ClientOrderID: NewClientOrderID(),
	}
	var (
		order models.Order
		err   error
	)
	// priced at the opposite best so it fills immediately
	if leg.side == models.PositionSideLong {
		req.Price = v.ticker.BestBid
		order, err = s.deps.Exchange.PlaceLimitSellOrder(ctx, req)
	} else {
		req.Price = v.ticker.BestAsk
		order, err = s.deps.Exchange.PlaceLimitBuyOrder(ctx, req)
	}
	if err != nil {
		s.logger.Error().Err(err).Str("side", string(leg.side)).Bool("force", force).Msg("Failed to place unstuck order")
		return
	}

	s.mu.Lock()
	s.leg(leg.side).lastUnstuckCandle = v.candle.OpenTime
	s.trackOrderLocked(order)
	s.mu.Unlock()

	s.logger.Warn().Str("side", string(leg.side)).Bool("force", force).Str("qty", qty.String()).
		Str("price", req.Price.String()).Msg("Unstuck order placed")
	s.publish(events.OrderPlaced(order, ReasonUnstuck))
	s.publish(events.UnstuckTriggered(s.info.Name, leg.side, force, false))
}

func (s *State) forceKill(ctx context.Context, v execView, leg legView) {
	if ctx.Err() != nil {
		return
	}
	req := models.OrderRequest{
		Symbol:        s.info.Name,
		PositionSide:  leg.side,
		Quantity:      leg.position.Quantity,
		ReduceOnly:    true,
		ClientOrderID: NewClientOrderID(),
	}
	var (
		order models.Order
		err   error
	)
	if leg.side == models.PositionSideLong {
		order, err = s.deps.Exchange.PlaceMarketSellOrder(ctx, req)
	} else {
		order, err = s.deps.Exchange.PlaceMarketBuyOrder(ctx, req)
	}
	if err != nil {
		s.logger.Error().Err(err).Str("side", string(leg.side)).Msg("Failed to force kill position")
		return
	}

	s.mu.Lock()
	s.leg(leg.side).lastUnstuckCandle = v.candle.OpenTime
	s.trackOrderLocked(order)
	s.mu.Unlock()

	s.logger.Warn().Str("side", string(leg.side)).Str("qty", req.Quantity.String()).Msg("Position force killed")
	s.publish(events.OrderPlaced(order, ReasonForceKill))
	s.publish(events.UnstuckTriggered(s.info.Name, leg.side, true, true))
}

// unstuckQty is a percentage of the position rounded down to the step, never below
// the minimum quantity and never above the position.
func (s *State) unstuckQty(position decimal.Decimal, force bool) decimal.Decimal {
	pct := s.opts.SlowUnstuckPercentStep
	if force {
		pct = s.opts.ForceUnstuckPercentStep
	}
	qty := sizing.FloorToStep(position.Mul(pct), s.info.QtyStep)
	if qty.LessThan(s.info.MinQty) {
		qty = s.info.MinQty
	}
	if qty.GreaterThan(position) {
		qty = position
	}
	return qty
}

func (s *State) noUnstuckForCandle(side models.PositionSide, v execView) bool {
	if !v.hasCandle {
		return false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return !s.leg(side).lastUnstuckCandle.Equal(v.candle.OpenTime)
}
