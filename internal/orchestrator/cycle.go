package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"cryptoblade/internal/events"
	"cryptoblade/internal/models"
	"cryptoblade/internal/strategy"

	"github.com/shopspring/decimal"
)

// RunCycle runs one scheduling cycle. Each phase completes for every symbol
// before the next begins: evaluation, account refresh, risk and admission
// decisions, execution.
func (o *Orchestrator) RunCycle(ctx context.Context) error {
	start := o.deps.Now()
	states := o.snapshotStates()

	// 1-2. market data and signals
	if !o.isStreaming() {
		o.pollMarket(ctx, states)
	}
	if err := o.waitForData(ctx, len(states)); err != nil {
		return err
	}
	o.applyUpdates(states)
	o.reinitialize(ctx, states)
	o.fanOut(ctx, states, "evaluate", func(_ context.Context, st *strategy.State) error {
		st.EvaluateSignals()
		return nil
	})
	if err := ctx.Err(); err != nil {
		return err
	}

	// 3. authoritative account state
	if err := o.refreshTradingState(ctx, states); err != nil {
		return err
	}
	balance := o.balance()
	views := make([]symbolView, 0, len(states))
	for _, st := range states {
		views = append(views, viewOf(st, o.cfg.SelectPreference))
	}
	agg := aggregateOf(views, balance.HasWallet())

	// 4-6. risk and admission, on signals from the evaluation above
	unstuck := selectUnstuck(o.cfg.Unstucking, agg.pnlPct, views)
	critical := detectCritical(o.cfg.Critical, agg, views)
	admitted := map[models.PositionSide]map[string]bool{}
	for _, side := range sides {
		admitted[side] = make(map[string]bool)
		for _, symbol := range selectAdmissions(o.cfg, side, views, agg, critical.on(side), o.deps.Throttler) {
			admitted[side][symbol] = true
			o.publish(events.SymbolAdmitted(symbol, side))
		}
	}
	o.logDecisions(agg, critical, unstuck, admitted)

	// 7. execution
	if o.cfg.Mode != ModeReadOnly {
		params := make(map[string]strategy.ExecuteParams, len(views))
		for _, v := range views {
			params[v.symbol] = buildParams(v, admitted, critical, unstuck[v.symbol])
		}
		o.fanOut(ctx, states, "execute", func(ctx context.Context, st *strategy.State) error {
			if f := unstuck[st.Symbol()]; f.any() {
				if err := st.ExecuteUnstuck(ctx, f.long, f.short, f.forceLong, f.forceShort, f.kill); err != nil {
					return err
				}
			}
			return st.Execute(ctx, params[st.Symbol()])
		})
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	// 8. bookkeeping
	o.completeCycle(ctx, start, agg, critical, states)
	return nil
}

// refreshTradingState pushes exchange positions and open orders into every State
func (o *Orchestrator) refreshTradingState(ctx context.Context, states []*strategy.State) error {
	positions, err := o.deps.Exchange.GetPositions(ctx)
	if err != nil {
		return fmt.Errorf("get positions: %w", err)
	}
	orders, err := o.deps.Exchange.GetOrders(ctx)
	if err != nil {
		return fmt.Errorf("get orders: %w", err)
	}

	type legs struct{ long, short models.Position }
	bySymbol := make(map[string]legs, len(positions))
	for _, p := range positions {
		l := bySymbol[p.Symbol]
		if p.Side == models.PositionSideShort {
			l.short = p
		} else {
			l.long = p
		}
		bySymbol[p.Symbol] = l
	}
	ordersBySymbol := make(map[string][]models.Order)
	for _, ord := range orders {
		ordersBySymbol[ord.Symbol] = append(ordersBySymbol[ord.Symbol], ord)
	}

	for _, st := range states {
		l := bySymbol[st.Symbol()]
		st.UpdateTradingState(l.long, l.short, ordersBySymbol[st.Symbol()])
	}
	return nil
}

func (o *Orchestrator) balance() models.Balance {
	if o.deps.Balance == nil {
		return models.Balance{}
	}
	return o.deps.Balance.Balance()
}

func (o *Orchestrator) logDecisions(agg aggregate, critical criticalState, unstuck map[string]unstuckFlags, admitted map[models.PositionSide]map[string]bool) {
	if critical.long || critical.short {
		o.logger.Warn().Bool("long", critical.long).Bool("short", critical.short).
			Str("exempt_long", critical.exemptLong).Str("exempt_short", critical.exemptShort).
			Msg("Critical mode active")
	}
	for symbol, f := range unstuck {
		o.logger.Warn().Str("symbol", symbol).Bool("long", f.long).Bool("short", f.short).
			Bool("force_long", f.forceLong).Bool("force_short", f.forceShort).Bool("kill", f.kill).
			Msg("Unstucking")
	}
	n := len(admitted[models.PositionSideLong]) + len(admitted[models.PositionSideShort])
	if n > 0 {
		o.logger.Info().Int("long", len(admitted[models.PositionSideLong])).Int("short", len(admitted[models.PositionSideShort])).
			Msg("Admitted new positions")
	}
	o.logger.Debug().Str("long_exposure", nullString(agg.longExposure)).Str("short_exposure", nullString(agg.shortExposure)).
		Str("pnl_pct", nullString(agg.pnlPct)).Int("open_long", agg.openLong).Int("open_short", agg.openShort).
		Msg("Portfolio")
}

// completeCycle records liveness, publishes the cycle event and stores snapshots
func (o *Orchestrator) completeCycle(ctx context.Context, start time.Time, agg aggregate, critical criticalState, states []*strategy.State) {
	now := o.deps.Now()
	duration := now.Sub(start)

	o.mu.Lock()
	o.status.Cycle++
	cycle := o.status.Cycle
	o.status.LastCycle = now
	o.status.LastCycleMs = duration.Milliseconds()
	o.status.LongExposure = agg.longExposure
	o.status.ShortExposure = agg.shortExposure
	o.status.PnlPct = agg.pnlPct
	o.status.OpenLong = agg.openLong
	o.status.OpenShort = agg.openShort
	o.status.CriticalLong = critical.long
	o.status.CriticalShort = critical.short
	o.mu.Unlock()

	o.publish(events.CycleCompleted(cycle, duration, nullString(agg.longExposure), nullString(agg.shortExposure),
		nullString(agg.pnlPct), agg.openLong, agg.openShort))

	if o.deps.Snapshots == nil {
		return
	}
	if err := o.deps.Snapshots.SaveLastCycle(ctx, now); err != nil {
		o.logger.Debug().Err(err).Msg("Failed to store last cycle")
	}
	for _, st := range states {
		data, err := json.Marshal(st.Snapshot())
		if err != nil {
			st.Logger().Warn().Err(err).Msg("Failed to encode snapshot")
			continue
		}
		if err := o.deps.Snapshots.SaveSnapshot(ctx, st.Symbol(), data); err != nil {
			o.logger.Debug().Err(err).Str("symbol", st.Symbol()).Msg("Failed to store snapshot")
		}
	}
}

func nullString(d decimal.NullDecimal) string {
	if !d.Valid {
		return ""
	}
	return d.Decimal.String()
}
