// Package strategy holds the per-symbol trading state: market data, the
// current hedge-mode legs and orders, signals, and the order placement that
// acts on them.
package strategy

import (
	"context"
	"sync"
	"time"

	"cryptoblade/internal/events"
	"cryptoblade/internal/models"
	"cryptoblade/internal/sizing"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// Exchange is the subset of the exchange collaborator a State places orders through.
type Exchange interface {
	CancelOrder(ctx context.Context, symbol, orderID string) error
	PlaceLimitBuyOrder(ctx context.Context, req models.OrderRequest) (models.Order, error)
	PlaceLimitSellOrder(ctx context.Context, req models.OrderRequest) (models.Order, error)
	PlaceMarketBuyOrder(ctx context.Context, req models.OrderRequest) (models.Order, error)
	PlaceMarketSellOrder(ctx context.Context, req models.OrderRequest) (models.Order, error)
	PlaceLongTakeProfitOrder(ctx context.Context, req models.OrderRequest) (models.Order, error)
	PlaceShortTakeProfitOrder(ctx context.Context, req models.OrderRequest) (models.Order, error)
}

// BalanceProvider exposes the shared wallet snapshot.
type BalanceProvider interface {
	Balance() models.Balance
}

// Options are the per-symbol trading parameters.
type Options struct {
	WalletExposureLong  decimal.Decimal
	WalletExposureShort decimal.Decimal

	InitialQtyPctLong             decimal.Decimal
	InitialQtyPctShort            decimal.Decimal
	DDownFactorLong               decimal.Decimal
	DDownFactorShort              decimal.Decimal
	ReentryPriceDistanceLong      decimal.Decimal
	ReentryPriceDistanceShort     decimal.Decimal
	ReentryDistanceWeightingLong  decimal.Decimal
	ReentryDistanceWeightingShort decimal.Decimal

	MinProfitRate     decimal.Decimal
	MaxAbsFundingRate decimal.Decimal // zero disables the funding check

	SlowUnstuckPercentStep  decimal.Decimal
	ForceUnstuckPercentStep decimal.Decimal

	TakeProfitRefresh time.Duration
	NATRPeriod        int
}

// Deps are the collaborators injected into a State.
type Deps struct {
	Exchange Exchange
	Balance  BalanceProvider
	Signals  SignalProvider
	Sizer    sizing.Sizer
	Events   events.Publisher // optional
	Logger   zerolog.Logger
	Now      func() time.Time
}

// legState is everything tracked per hedge leg.
type legState struct {
	position     models.Position
	exposure     decimal.NullDecimal
	pnlPct       decimal.NullDecimal
	dynamicQty   decimal.NullDecimal
	dynamicPrice decimal.NullDecimal
	takeProfit   decimal.NullDecimal

	lastEntryCandle   time.Time
	lastUnstuckCandle time.Time
	tpPlacedAt        time.Time
	tpPlacedSize      decimal.Decimal
	unstucking        bool
}

// State is the trading state of one symbol. Reads are safe from any goroutine;
// Execute and ExecuteUnstuck are serialized per symbol.
type State struct {
	info   models.SymbolInfo
	opts   Options
	deps   Deps
	logger zerolog.Logger
	quotes *QuoteBuffer

	execMu sync.Mutex

	mu          sync.RWMutex
	ticker      models.Ticker
	hasTicker   bool
	long        legState
	short       legState
	orders      []models.Order
	signals     Signals
	indicators  Indicators
	consistent  bool
	needsReinit bool
	evaluatedAt time.Time
}

// NewState creates the state for one tradable symbol.
func NewState(info models.SymbolInfo, quotes *QuoteBuffer, deps Deps, opts Options) *State {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if opts.TakeProfitRefresh <= 0 {
		opts.TakeProfitRefresh = 270 * time.Second
	}
	strategyName := ""
	if deps.Signals != nil {
		strategyName = deps.Signals.Name()
	}
	return &State{
		info:        info,
		opts:        opts,
		deps:        deps,
		quotes:      quotes,
		logger:      deps.Logger.With().Str("symbol", info.Name).Str("strategy", strategyName).Logger(),
		long:        legState{position: models.Position{Symbol: info.Name, Side: models.PositionSideLong}},
		short:       legState{position: models.Position{Symbol: info.Name, Side: models.PositionSideShort}},
		needsReinit: true, // until history is loaded
	}
}

func (s *State) Symbol() string { return s.info.Name }
func (s *State) Info() models.SymbolInfo { return s.info }
func (s *State) Quotes() *QuoteBuffer { return s.quotes }
func (s *State) StrategyName() string { return s.deps.Signals.Name() }
func (s *State) Logger() *zerolog.Logger { return &s.logger }

func (s *State) leg(side models.PositionSide) *legState {
	if side == models.PositionSideShort {
		return &s.short
	}
	return &s.long
}

// ==================== MARKET DATA ====================

// Initialize loads candle history and marks the data consistent.
func (s *State) Initialize(history []models.Candle, ticker *models.Ticker) error {
	if err := s.quotes.Reset(history); err != nil {
		s.MarkInconsistent()
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if ticker != nil {
		s.ticker = *ticker
		s.hasTicker = true
	}
	s.consistent = true
	s.needsReinit = false
	s.recomputeLocked()
	return nil
}

// AddCandle appends a closed candle. A discontinuity marks the data inconsistent
// and schedules a reinitialization.
func (s *State) AddCandle(c models.Candle) error {
	if err := s.quotes.Add(c); err != nil {
		s.logger.Warn().Err(err).Msg("Candle stream inconsistent, scheduling reinitialization")
		s.MarkInconsistent()
		return err
	}
	return nil
}

// UpdateTicker replaces the ticker. A missing funding rate keeps the previous one.
func (s *State) UpdateTicker(t models.Ticker) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !t.FundingRate.Valid && s.hasTicker {
		t.FundingRate = s.ticker.FundingRate
	}
	s.ticker = t
	s.hasTicker = true
	s.recomputeLocked()
}

// UpdateFundingRate sets the funding rate without touching prices.
func (s *State) UpdateFundingRate(rate decimal.Decimal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ticker.FundingRate = decimal.NewNullDecimal(rate)
}

// MarkInconsistent suppresses evaluation and new entries until the symbol is reinitialized.
func (s *State) MarkInconsistent() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.consistent = false
	s.needsReinit = true
	s.signals = Signals{}
	for _, side := range []models.PositionSide{models.PositionSideLong, models.PositionSideShort} {
		if !s.inTradeLocked(side) {
			s.leg(side).dynamicQty = decimal.NullDecimal{}
			s.leg(side).dynamicPrice = decimal.NullDecimal{}
		}
	}
}

func (s *State) IsConsistent() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.consistent
}

func (s *State) NeedsReinit() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.needsReinit
}

func (s *State) Ticker() (models.Ticker, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.ticker, s.hasTicker
}

// ==================== ACCOUNT STATE ====================

// UpdateTradingState replaces the cached legs and open orders and recomputes
// exposure and PnL against the current wallet balance. It never calls the exchange.
func (s *State) UpdateTradingState(long, short models.Position, orders []models.Order) {
	open := make([]models.Order, 0, len(orders))
	for _, o := range orders {
		if o.Symbol == s.info.Name && o.Status.IsOpen() {
			open = append(open, o)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	long.Symbol, long.Side = s.info.Name, models.PositionSideLong
	short.Symbol, short.Side = s.info.Name, models.PositionSideShort
	s.long.position = long
	s.short.position = short
	s.orders = open
	s.recomputeLocked()
}

// recomputeLocked refreshes exposure and PnL figures. Caller holds mu.
func (s *State) recomputeLocked() {
	balance := s.balance()
	for _, leg := range []*legState{&s.long, &s.short} {
		pos := leg.position
		if !pos.Quantity.IsPositive() {
			leg.exposure = balance.WalletExposure(decimal.Zero)
			leg.pnlPct = decimal.NullDecimal{}
			continue
		}
		leg.exposure = balance.WalletExposure(pos.Notional())

		price := s.ticker.MidPrice()
		if !s.hasTicker || !price.IsPositive() || !balance.HasWallet() {
			leg.pnlPct = decimal.NullDecimal{}
			continue
		}
		upnl := price.Sub(pos.AveragePrice).Mul(pos.Quantity)
		if pos.Side == models.PositionSideShort {
			upnl = upnl.Neg()
		}
		leg.pnlPct = decimal.NewNullDecimal(upnl.Div(balance.WalletBalance))
	}
}

func (s *State) balance() models.Balance {
	if s.deps.Balance == nil {
		return models.Balance{}
	}
	return s.deps.Balance.Balance()
}

func (s *State) Position(side models.PositionSide) models.Position {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.leg(side).position
}

func (s *State) OpenOrders() []models.Order {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.Order, len(s.orders))
	copy(out, s.orders)
	return out
}

// hasEntryOrderLocked reports whether an entry order is outstanding on side. Caller holds mu.
func (s *State) hasEntryOrderLocked(side models.PositionSide) bool {
	for _, o := range s.orders {
		if o.PositionSide == side && o.IsEntry() {
			return true
		}
	}
	return false
}

func (s *State) inTradeLocked(side models.PositionSide) bool {
	return s.leg(side).position.Quantity.IsPositive() || s.hasEntryOrderLocked(side)
}

// IsInLongTrade reports an open long leg or an outstanding long entry order.
func (s *State) IsInLongTrade() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.inTradeLocked(models.PositionSideLong)
}

// IsInShortTrade reports an open short leg or an outstanding short entry order.
func (s *State) IsInShortTrade() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.inTradeLocked(models.PositionSideShort)
}

func (s *State) IsInTrade(side models.PositionSide) bool {
	if side == models.PositionSideShort {
		return s.IsInShortTrade()
	}
	return s.IsInLongTrade()
}

// WalletExposure returns the leg's notional over wallet balance, null when the wallet is unknown.
func (s *State) WalletExposure(side models.PositionSide) decimal.NullDecimal {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.leg(side).exposure
}

// UnrealizedPnlPct returns the leg's unrealized PnL over wallet balance.
func (s *State) UnrealizedPnlPct(side models.PositionSide) decimal.NullDecimal {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.leg(side).pnlPct
}

func (s *State) Signals() Signals {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.signals
}

func (s *State) Indicators() Indicators {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(Indicators, len(s.indicators))
	copy(out, s.indicators)
	return out
}

// DynamicQty is the quantity the next entry on side would use.
func (s *State) DynamicQty(side models.PositionSide) decimal.NullDecimal {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.leg(side).dynamicQty
}

func (s *State) TakeProfitPrice(side models.PositionSide) decimal.NullDecimal {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.leg(side).takeProfit
}

// ==================== SNAPSHOT ====================

// LegSnapshot is the inspection view of one leg.
type LegSnapshot struct {
	InTrade      bool                `json:"in_trade"`
	Quantity     decimal.Decimal     `json:"quantity"`
	AveragePrice decimal.Decimal     `json:"average_price"`
	Exposure     decimal.NullDecimal `json:"wallet_exposure"`
	PnlPct       decimal.NullDecimal `json:"pnl_pct"`
	DynamicQty   decimal.NullDecimal `json:"dynamic_qty"`
	DynamicPrice decimal.NullDecimal `json:"dynamic_price"`
	TakeProfit   decimal.NullDecimal `json:"take_profit"`
	Unstucking   bool                `json:"unstucking"`
}

// Snapshot is a point-in-time inspection view of the state.
type Snapshot struct {
	Symbol      string         `json:"symbol"`
	Strategy    string         `json:"strategy"`
	Consistent  bool           `json:"consistent"`
	Candles     int            `json:"candles"`
	Ticker      models.Ticker  `json:"ticker"`
	Signals     Signals        `json:"signals"`
	Indicators  Indicators     `json:"indicators"`
	Long        LegSnapshot    `json:"long"`
	Short       LegSnapshot    `json:"short"`
	OpenOrders  []models.Order `json:"open_orders"`
	EvaluatedAt time.Time      `json:"evaluated_at"`
}

func (s *State) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	leg := func(side models.PositionSide) LegSnapshot {
		l := s.leg(side)
		return LegSnapshot{
			InTrade:      s.inTradeLocked(side),
			Quantity:     l.position.Quantity,
			AveragePrice: l.position.AveragePrice,
			Exposure:     l.exposure,
			PnlPct:       l.pnlPct,
			DynamicQty:   l.dynamicQty,
			DynamicPrice: l.dynamicPrice,
			TakeProfit:   l.takeProfit,
			Unstucking:   l.unstucking,
		}
	}
	orders := make([]models.Order, len(s.orders))
	copy(orders, s.orders)
	indicators := make(Indicators, len(s.indicators))
	copy(indicators, s.indicators)

	return Snapshot{
		Symbol:      s.info.Name,
		Strategy:    s.deps.Signals.Name(),
		Consistent:  s.consistent,
		Candles:     s.quotes.Len(),
		Ticker:      s.ticker,
		Signals:     s.signals,
		Indicators:  indicators,
		Long:        leg(models.PositionSideLong),
		Short:       leg(models.PositionSideShort),
		OpenOrders:  orders,
		EvaluatedAt: s.evaluatedAt,
	}
}

func (s *State) publish(e events.Event) {
	if s.deps.Events != nil {
		s.deps.Events.Publish(e)
	}
}
