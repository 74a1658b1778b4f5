package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sort"

	"cryptoblade/internal/binance"
	"cryptoblade/internal/events"
	"cryptoblade/internal/models"
	"cryptoblade/internal/strategy"

	"golang.org/x/sync/errgroup"
)

// Binance -4059: "No need to change position side."
const codeNoNeedToChangePositionSide = -4059

// Initialize switches the account to hedge mode, builds a State for every
// tradable symbol and opens the streams. A symbol whose leverage cannot be
// set is excluded for the rest of the run.
func (o *Orchestrator) Initialize(ctx context.Context) error {
	// position mode is account-wide, so its failure stops the run rather than one symbol
	if err := o.ensureHedgeMode(ctx); err != nil {
		return err
	}
	infos, err := o.deps.Exchange.GetSymbolInfo(ctx)
	if err != nil {
		return fmt.Errorf("get symbol info: %w", err)
	}
	o.addSymbols(ctx, o.tradable(infos))

	o.mu.Lock()
	o.lastUniverse = o.deps.Now()
	o.mu.Unlock()

	o.subscribe(ctx)
	return ctx.Err()
}

func (o *Orchestrator) ensureHedgeMode(ctx context.Context) error {
	o.mu.RLock()
	ready := o.hedgeReady
	o.mu.RUnlock()
	if ready {
		return nil
	}
	err := o.deps.Exchange.SwitchPositionMode(ctx, true)
	if err != nil && !binance.IsAPICode(err, codeNoNeedToChangePositionSide) {
		return fmt.Errorf("enable hedge mode: %w", err)
	}
	o.mu.Lock()
	o.hedgeReady = true
	o.mu.Unlock()
	return nil
}

// tradable filters the exchange listing by quote asset, white/blacklist and maturity
func (o *Orchestrator) tradable(infos []models.SymbolInfo) []models.SymbolInfo {
	white := toSet(o.cfg.Whitelist)
	black := toSet(o.cfg.Blacklist)
	now := o.deps.Now()

	out := make([]models.SymbolInfo, 0, len(infos))
	for _, info := range infos {
		switch {
		case info.QuoteAsset != o.cfg.QuoteAsset:
		case len(white) > 0 && !white[info.Name]:
		case black[info.Name]:
		case o.cfg.SymbolMaturity > 0 && !info.LaunchTime.IsZero() && now.Sub(info.LaunchTime) < o.cfg.SymbolMaturity:
			o.logger.Debug().Str("symbol", info.Name).Time("launch_time", info.LaunchTime).Msg("Symbol too young, skipping")
		default:
			out = append(out, info)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func toSet(items []string) map[string]bool {
	set := make(map[string]bool, len(items))
	for _, s := range items {
		set[s] = true
	}
	return set
}

// addSymbols configures and loads new symbols with bounded concurrency
func (o *Orchestrator) addSymbols(ctx context.Context, infos []models.SymbolInfo) {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.cfg.PlacementConcurrency)
	for _, info := range infos {
		o.mu.RLock()
		_, known := o.states[info.Name]
		_, excluded := o.excluded[info.Name]
		o.mu.RUnlock()
		if known || excluded {
			continue
		}

		info := info
		g.Go(func() error {
			st, err := o.setupSymbol(gctx, info)
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				o.exclude(info.Name, err)
				return nil
			}
			o.mu.Lock()
			o.states[info.Name] = st
			o.mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil && ctx.Err() == nil {
		o.logger.Error().Err(err).Msg("Symbol setup interrupted")
	}
}

func (o *Orchestrator) exclude(symbol string, err error) {
	o.logger.Error().Err(err).Str("symbol", symbol).Msg("Symbol setup failed, excluding")
	o.mu.Lock()
	o.excluded[symbol] = err.Error()
	o.mu.Unlock()
	o.publish(events.SymbolExcluded(symbol, err.Error()))
}

// setupSymbol sets leverage and loads history. Only a leverage failure is fatal
// for the symbol; a failed history load leaves it scheduled for reinitialization.
func (o *Orchestrator) setupSymbol(ctx context.Context, info models.SymbolInfo) (*strategy.State, error) {
	leverage := o.cfg.Leverage
	if info.MaxLeverage > 0 && leverage > info.MaxLeverage {
		leverage = info.MaxLeverage
	}
	if leverage > 0 {
		if err := o.deps.Exchange.SetLeverage(ctx, info.Name, leverage); err != nil {
			return nil, fmt.Errorf("set leverage %d: %w", leverage, err)
		}
	}

	provider, err := o.deps.Signals(info.Name)
	if err != nil {
		return nil, err
	}
	st := strategy.NewState(info, strategy.NewQuoteBuffer(o.cfg.QuoteBufferSize, o.interval), strategy.Deps{
		Exchange: o.deps.Exchange,
		Balance:  o.deps.Balance,
		Signals:  provider,
		Sizer:    o.deps.Sizer,
		Events:   o.deps.Events,
		Logger:   o.deps.Logger,
		Now:      o.deps.Now,
	}, o.cfg.Strategy)

	if err := o.loadHistory(ctx, st); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		st.Logger().Warn().Err(err).Msg("History load failed, will retry")
	}
	return st, nil
}

// loadHistory fetches candles and the ticker and (re)initializes st
func (o *Orchestrator) loadHistory(ctx context.Context, st *strategy.State) error {
	history, err := o.deps.Exchange.GetKlines(ctx, st.Symbol(), o.cfg.Timeframe, o.cfg.QuoteBufferSize)
	if err != nil {
		return fmt.Errorf("get klines: %w", err)
	}
	var tickerPtr *models.Ticker
	ticker, err := o.deps.Exchange.GetTicker(ctx, st.Symbol())
	switch {
	case err == nil:
		tickerPtr = &ticker
	case !errors.Is(err, binance.ErrNoTicker):
		return fmt.Errorf("get ticker: %w", err)
	}
	return st.Initialize(history, tickerPtr)
}

// reinitialize reloads history for symbols whose candle stream broke
func (o *Orchestrator) reinitialize(ctx context.Context, states []*strategy.State) {
	var pending []*strategy.State
	for _, st := range states {
		if st.NeedsReinit() {
			pending = append(pending, st)
		}
	}
	if len(pending) == 0 {
		return
	}
	o.fanOut(ctx, pending, "reinitialize", func(ctx context.Context, st *strategy.State) error {
		if err := o.loadHistory(ctx, st); err != nil {
			return err
		}
		st.Logger().Info().Msg("Symbol reinitialized")
		return nil
	})
}

func (o *Orchestrator) universeDue() bool {
	if o.cfg.UniverseRefresh <= 0 {
		return false
	}
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.deps.Now().Sub(o.lastUniverse) >= o.cfg.UniverseRefresh
}

// refreshUniverse drops delisted symbols, adds new ones and resubscribes on change
func (o *Orchestrator) refreshUniverse(ctx context.Context) error {
	infos, err := o.deps.Exchange.GetSymbolInfo(ctx)
	if err != nil {
		return fmt.Errorf("get symbol info: %w", err)
	}
	tradable := o.tradable(infos)
	listed := make(map[string]bool, len(tradable))
	for _, info := range tradable {
		listed[info.Name] = true
	}

	var removed []string
	o.mu.Lock()
	for symbol := range o.states {
		if !listed[symbol] {
			delete(o.states, symbol)
			removed = append(removed, symbol)
		}
	}
	before := len(o.states)
	o.lastUniverse = o.deps.Now()
	o.mu.Unlock()

	for _, symbol := range removed {
		o.logger.Info().Str("symbol", symbol).Msg("Symbol delisted, removing")
		if o.deps.Snapshots != nil {
			if err := o.deps.Snapshots.DeleteSnapshot(ctx, symbol); err != nil {
				o.logger.Debug().Err(err).Str("symbol", symbol).Msg("Failed to delete snapshot")
			}
		}
	}

	o.addSymbols(ctx, tradable)
	if len(removed) > 0 || o.symbolCount() != before {
		o.subscribe(ctx)
	}
	return nil
}

func (o *Orchestrator) symbols() []string {
	o.mu.RLock()
	defer o.mu.RUnlock()
	out := make([]string, 0, len(o.states))
	for s := range o.states {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// fanOut runs fn for every state with bounded concurrency and waits for all.
// Errors and panics are logged with symbol context and never abort the others.
func (o *Orchestrator) fanOut(ctx context.Context, states []*strategy.State, op string, fn func(context.Context, *strategy.State) error) {
	var g errgroup.Group
	g.SetLimit(o.cfg.PlacementConcurrency)
	for _, st := range states {
		st := st
		g.Go(func() (err error) {
			defer func() {
				if r := recover(); r != nil {
					st.Logger().Error().Str("op", op).Interface("panic", r).Bytes("stack", debug.Stack()).Msg("Recovered from panic")
				}
			}()
			if ctx.Err() != nil {
				return nil
			}
			if err := fn(ctx, st); err != nil && ctx.Err() == nil {
				st.Logger().Error().Err(err).Str("op", op).Msg("Symbol operation failed")
			}
			return nil
		})
	}
	_ = g.Wait()
}
