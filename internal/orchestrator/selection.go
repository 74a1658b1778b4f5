package orchestrator

import (
	"sort"

	"cryptoblade/config"
	"cryptoblade/internal/models"
	"cryptoblade/internal/strategy"
	"cryptoblade/internal/throttle"

	"github.com/shopspring/decimal"
)

var sides = [2]models.PositionSide{models.PositionSideLong, models.PositionSideShort}

type legStats struct {
	inTrade  bool
	exposure decimal.NullDecimal
	pnlPct   decimal.NullDecimal
	entryQty decimal.NullDecimal
}

// symbolView is the per-cycle read of one State that every selection step works on.
type symbolView struct {
	symbol  string
	signals strategy.Signals
	long    legStats
	short   legStats
	rank    decimal.NullDecimal
}

func (v symbolView) leg(side models.PositionSide) legStats {
	if side == models.PositionSideShort {
		return v.short
	}
	return v.long
}

func (v symbolView) entrySignal(side models.PositionSide) bool {
	if side == models.PositionSideShort {
		return v.signals.Sell
	}
	return v.signals.Buy
}

func viewOf(st *strategy.State, preference string) symbolView {
	stats := func(side models.PositionSide) legStats {
		return legStats{
			inTrade:  st.IsInTrade(side),
			exposure: st.WalletExposure(side),
			pnlPct:   st.UnrealizedPnlPct(side),
			entryQty: st.DynamicQty(side),
		}
	}
	v := symbolView{
		symbol:  st.Symbol(),
		signals: st.Signals(),
		long:    stats(models.PositionSideLong),
		short:   stats(models.PositionSideShort),
	}
	if rank, ok := st.Indicators().Number(rankIndicator(preference)); ok {
		v.rank = decimal.NewNullDecimal(rank)
	}
	return v
}

func rankIndicator(preference string) string {
	if preference == config.SelectByNATR {
		return strategy.IndicatorNATR
	}
	return strategy.IndicatorVolume
}

// aggregate holds the portfolio figures of one cycle. Exposure and PnL are
// null while the wallet balance is unknown.
type aggregate struct {
	longExposure  decimal.NullDecimal
	shortExposure decimal.NullDecimal
	pnlPct        decimal.NullDecimal
	openLong      int
	openShort     int
}

func (a aggregate) exposure(side models.PositionSide) decimal.NullDecimal {
	if side == models.PositionSideShort {
		return a.shortExposure
	}
	return a.longExposure
}

func (a aggregate) open(side models.PositionSide) int {
	if side == models.PositionSideShort {
		return a.openShort
	}
	return a.openLong
}

func aggregateOf(views []symbolView, walletKnown bool) aggregate {
	var a aggregate
	longExp, shortExp, pnl := decimal.Zero, decimal.Zero, decimal.Zero
	for _, v := range views {
		if v.long.inTrade {
			a.openLong++
		}
		if v.short.inTrade {
			a.openShort++
		}
		for _, l := range []legStats{v.long, v.short} {
			if l.pnlPct.Valid {
				pnl = pnl.Add(l.pnlPct.Decimal)
			}
		}
		if v.long.exposure.Valid {
			longExp = longExp.Add(v.long.exposure.Decimal)
		}
		if v.short.exposure.Valid {
			shortExp = shortExp.Add(v.short.exposure.Decimal)
		}
	}
	if walletKnown {
		a.longExposure = decimal.NewNullDecimal(longExp)
		a.shortExposure = decimal.NewNullDecimal(shortExp)
		a.pnlPct = decimal.NewNullDecimal(pnl)
	}
	return a
}

// ==================== PRIORITY UNSTUCK ====================

type unstuckFlags struct {
	long       bool
	short      bool
	forceLong  bool
	forceShort bool
	kill       bool
}

func (f unstuckFlags) any() bool {
	return f.long || f.short
}

func (f unstuckFlags) side(side models.PositionSide) bool {
	if side == models.PositionSideShort {
		return f.short
	}
	return f.long
}

func (f *unstuckFlags) mark(side models.PositionSide, force bool) {
	if side == models.PositionSideShort {
		f.short, f.forceShort = true, force
		return
	}
	f.long, f.forceLong = true, force
}

// selectUnstuck decides which legs to reduce this cycle. A breached force
// threshold always wins over the slow one; with ForceKillTheWorst only the
// single worst leg per side is closed.
func selectUnstuck(cfg UnstuckConfig, pnl decimal.NullDecimal, views []symbolView) map[string]unstuckFlags {
	if !cfg.Enabled || !pnl.Valid {
		return nil
	}
	out := make(map[string]unstuckFlags)
	mark := func(symbol string, side models.PositionSide, force, kill bool) {
		f := out[symbol]
		f.mark(side, force)
		f.kill = f.kill || kill
		out[symbol] = f
	}

	switch {
	case pnl.Decimal.LessThan(cfg.ForceThreshold):
		if cfg.ForceKillTheWorst {
			for _, side := range sides {
				if worst, ok := worstLeg(views, side, cfg.ForcePositionThreshold); ok {
					mark(worst, side, true, true)
				}
			}
			break
		}
		forEachLegBelow(views, cfg.ForcePositionThreshold, func(symbol string, side models.PositionSide) {
			mark(symbol, side, true, false)
		})

	case pnl.Decimal.LessThan(cfg.SlowThreshold):
		forEachLegBelow(views, cfg.SlowPositionThreshold, func(symbol string, side models.PositionSide) {
			mark(symbol, side, false, false)
		})
	}
	return out
}

func forEachLegBelow(views []symbolView, threshold decimal.Decimal, fn func(symbol string, side models.PositionSide)) {
	for _, v := range views {
		for _, side := range sides {
			if l := v.leg(side); l.pnlPct.Valid && l.pnlPct.Decimal.LessThan(threshold) {
				fn(v.symbol, side)
			}
		}
	}
}

// worstLeg returns the symbol with the lowest PnL on side among legs below threshold
func worstLeg(views []symbolView, side models.PositionSide, threshold decimal.Decimal) (string, bool) {
	var (
		worst    string
		worstPnl decimal.Decimal
		found    bool
	)
	for _, v := range views {
		l := v.leg(side)
		if !l.pnlPct.Valid || !l.pnlPct.Decimal.LessThan(threshold) {
			continue
		}
		if !found || l.pnlPct.Decimal.LessThan(worstPnl) {
			worst, worstPnl, found = v.symbol, l.pnlPct.Decimal, true
		}
	}
	return worst, found
}

// ==================== CRITICAL MODE ====================

type criticalState struct {
	long        bool
	short       bool
	exemptLong  string
	exemptShort string
}

func (c criticalState) on(side models.PositionSide) bool {
	if side == models.PositionSideShort {
		return c.short
	}
	return c.long
}

func (c criticalState) exempt(side models.PositionSide) string {
	if side == models.PositionSideShort {
		return c.exemptShort
	}
	return c.exemptLong
}

// detectCritical flags sides whose aggregate exposure exceeds the threshold and
// picks the open symbol with the largest exposure on each as the one allowed to extend.
func detectCritical(cfg CriticalConfig, agg aggregate, views []symbolView) criticalState {
	var c criticalState
	check := func(enabled bool, threshold decimal.Decimal, side models.PositionSide) (bool, string) {
		exp := agg.exposure(side)
		if !enabled || !exp.Valid || !exp.Decimal.GreaterThan(threshold) {
			return false, ""
		}
		return true, largestExposure(views, side)
	}
	c.long, c.exemptLong = check(cfg.EnableLong, cfg.ThresholdLong, models.PositionSideLong)
	c.short, c.exemptShort = check(cfg.EnableShort, cfg.ThresholdShort, models.PositionSideShort)
	return c
}

func largestExposure(views []symbolView, side models.PositionSide) string {
	var (
		best    string
		bestExp decimal.Decimal
	)
	for _, v := range views {
		l := v.leg(side)
		if !l.inTrade || !l.exposure.Valid {
			continue
		}
		if best == "" || l.exposure.Decimal.GreaterThan(bestExp) {
			best, bestExp = v.symbol, l.exposure.Decimal
		}
	}
	return best
}

// ==================== ADMISSION ====================

func (c Config) maxStrategies(side models.PositionSide) int {
	if side == models.PositionSideShort {
		return c.MaxShortStrategies
	}
	return c.MaxLongStrategies
}

func (c Config) targetExposure(side models.PositionSide) decimal.Decimal {
	if side == models.PositionSideShort {
		return c.TargetShortExposure
	}
	return c.TargetLongExposure
}

func (c Config) minRank() decimal.Decimal {
	if c.SelectPreference == config.SelectByNATR {
		return c.MinNATR
	}
	return c.MinVolume
}

// selectAdmissions ranks symbols not yet trading on side and admits as many as
// capacity, the per-step cap and the throttler allow. The signals read here come
// from the evaluation that preceded this cycle's position refresh.
func selectAdmissions(cfg Config, side models.PositionSide, views []symbolView, agg aggregate, critical bool, throttler *throttle.Throttler) []string {
	if critical {
		return nil
	}
	capacity := cfg.maxStrategies(side) - agg.open(side)
	if capacity <= 0 {
		return nil
	}
	if target := cfg.targetExposure(side); target.IsPositive() {
		exp := agg.exposure(side)
		if !exp.Valid || exp.Decimal.GreaterThanOrEqual(target) {
			return nil
		}
	}

	dynamic := cfg.Mode != ModeNormal
	candidates := make([]symbolView, 0, len(views))
	for _, v := range views {
		l := v.leg(side)
		if l.inTrade || !v.entrySignal(side) || !l.entryQty.Valid || !l.entryQty.Decimal.IsPositive() {
			continue
		}
		if dynamic && (!v.rank.Valid || v.rank.Decimal.LessThan(cfg.minRank())) {
			continue
		}
		candidates = append(candidates, v)
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		a, b := candidates[i].rank, candidates[j].rank
		if a.Valid != b.Valid {
			return a.Valid
		}
		if a.Valid && !a.Decimal.Equal(b.Decimal) {
			return a.Decimal.GreaterThan(b.Decimal)
		}
		return candidates[i].symbol < candidates[j].symbol
	})

	limit := capacity
	if dynamic && cfg.MaxOpenPerStep > 0 {
		limit = min(limit, cfg.MaxOpenPerStep)
	}

	admitted := make([]string, 0, limit)
	for _, c := range candidates {
		if len(admitted) >= limit {
			break
		}
		if throttler != nil && !throttler.TryAdmit() {
			break
		}
		admitted = append(admitted, c.symbol)
	}
	return admitted
}

// buildParams gates Execute for one symbol. Symbols already trading may extend
// unless their side is critical; the critical side's largest position is exempt.
func buildParams(v symbolView, admitted map[models.PositionSide]map[string]bool, critical criticalState, unstuck unstuckFlags) strategy.ExecuteParams {
	allowExtra := func(side models.PositionSide) bool {
		if unstuck.side(side) || !v.leg(side).inTrade {
			return false
		}
		if critical.on(side) {
			return critical.exempt(side) == v.symbol
		}
		return true
	}
	p := strategy.ExecuteParams{
		AllowLongOpen:   admitted[models.PositionSideLong][v.symbol],
		AllowShortOpen:  admitted[models.PositionSideShort][v.symbol],
		AllowExtraLong:  allowExtra(models.PositionSideLong),
		AllowExtraShort: allowExtra(models.PositionSideShort),
		LongUnstucking:  unstuck.long,
		ShortUnstucking: unstuck.short,
	}
	if critical.long && critical.exemptLong == v.symbol {
		p.AllowExtraLong = true
	}
	if critical.short && critical.exemptShort == v.symbol {
		p.AllowExtraShort = true
	}
	return p
}
