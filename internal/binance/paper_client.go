package binance

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"cryptoblade/internal/models"

	"github.com/shopspring/decimal"
)

var (
	// ErrReduceOnlyRejected mirrors Binance -2022: nothing left to reduce
	ErrReduceOnlyRejected = errors.New("reduce only order rejected")
	// ErrInvalidOrder is returned for orders the exchange filters would reject
	ErrInvalidOrder = errors.New("invalid order")
)

type legKey struct {
	symbol string
	side   models.PositionSide
}

// PaperClient is an in-memory hedge-mode futures exchange for dry runs and tests.
// Prices come from SetTicker: market orders fill at the touch, limit orders fill
// once the book crosses them, and closing fills move the wallet by realized PnL.
type PaperClient struct {
	mu        sync.Mutex
	symbols   map[string]models.SymbolInfo
	tickers   map[string]models.Ticker
	klines    map[string][]models.Candle
	positions map[legKey]*models.Position
	orders    map[string]*models.Order
	wallet    decimal.Decimal
	realized  decimal.Decimal
	leverage  map[string]int
	hedge     bool
	nextID    int64
	failNext  error
	now       func() time.Time

	handlerID      int
	walletHandlers map[int]func(models.Balance)
	orderHandlers  map[int]func(models.Order)
	klineHandlers  map[int]paperKlineHandler
	tickerHandlers map[int]paperTickerHandler
}

type paperKlineHandler struct {
	symbols  map[string]bool
	interval string
	fn       func(string, models.Candle)
}

type paperTickerHandler struct {
	symbols map[string]bool
	fn      func(models.Ticker)
}

var (
	_ Exchange = (*PaperClient)(nil)
	_ Streams  = (*PaperClient)(nil)
)

// NewPaperClient creates a paper exchange holding initialWallet USDT
func NewPaperClient(initialWallet decimal.Decimal) *PaperClient {
	return &PaperClient{
		symbols:        make(map[string]models.SymbolInfo),
		tickers:        make(map[string]models.Ticker),
		klines:         make(map[string][]models.Candle),
		positions:      make(map[legKey]*models.Position),
		orders:         make(map[string]*models.Order),
		wallet:         initialWallet,
		leverage:       make(map[string]int),
		nextID:         1000,
		now:            time.Now,
		walletHandlers: make(map[int]func(models.Balance)),
		orderHandlers:  make(map[int]func(models.Order)),
		klineHandlers:  make(map[int]paperKlineHandler),
		tickerHandlers: make(map[int]paperTickerHandler),
	}
}

// WithClock sets the time source used for order and balance timestamps
func (c *PaperClient) WithClock(now func() time.Time) *PaperClient {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = now
	return c
}

// ==================== SIMULATION FEED ====================

// AddSymbol lists a contract
func (c *PaperClient) AddSymbol(info models.SymbolInfo) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.symbols[info.Name] = info
}

// AddCandle appends a closed candle and pushes it to kline subscribers
func (c *PaperClient) AddCandle(symbol, interval string, candle models.Candle) {
	c.mu.Lock()
	c.klines[symbol] = append(c.klines[symbol], candle)
	var fns []func(string, models.Candle)
	for _, h := range c.klineHandlers {
		if h.symbols[symbol] && h.interval == interval {
			fns = append(fns, h.fn)
		}
	}
	c.mu.Unlock()

	for _, fn := range fns {
		fn(symbol, candle)
	}
}

// SetTicker updates the book, fills crossed limit orders and pushes the
// ticker, order and wallet updates to subscribers.
func (c *PaperClient) SetTicker(ticker models.Ticker) {
	c.mu.Lock()
	if !ticker.FundingRate.Valid {
		ticker.FundingRate = c.tickers[ticker.Symbol].FundingRate
	}
	c.tickers[ticker.Symbol] = ticker

	var updates []models.Order
	for _, o := range c.sortedOpenOrdersLocked(ticker.Symbol) {
		if !crosses(*o, ticker) {
			continue
		}
		updates = append(updates, c.fillLocked(o, o.Price))
	}
	var tickerFns []func(models.Ticker)
	for _, h := range c.tickerHandlers {
		if h.symbols[ticker.Symbol] {
			tickerFns = append(tickerFns, h.fn)
		}
	}
	c.mu.Unlock()

	for _, fn := range tickerFns {
		fn(ticker)
	}
	c.dispatch(updates)
}

// FailNextOrder makes the next order placement return err
func (c *PaperClient) FailNextOrder(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failNext = err
}

// SetPosition seeds a leg directly
func (c *PaperClient) SetPosition(pos models.Position) {
	c.mu.Lock()
	defer c.mu.Unlock()
	key := legKey{pos.Symbol, pos.Side}
	if pos.Quantity.IsZero() {
		delete(c.positions, key)
		return
	}
	p := pos
	c.positions[key] = &p
}

// Leverage returns the last leverage set for symbol
func (c *PaperClient) Leverage(symbol string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.leverage[symbol]
}

// HedgeMode reports whether hedge mode was enabled
func (c *PaperClient) HedgeMode() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hedge
}

// ==================== SETUP ====================

func (c *PaperClient) SetLeverage(_ context.Context, symbol string, leverage int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if leverage < 1 || leverage > 125 {
		return fmt.Errorf("%w: leverage %d out of range", ErrInvalidOrder, leverage)
	}
	c.leverage[symbol] = leverage
	return nil
}

func (c *PaperClient) SwitchPositionMode(_ context.Context, hedge bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.hedge = hedge
	return nil
}

// ==================== TRADING ====================

func (c *PaperClient) CancelOrder(_ context.Context, symbol, orderID string) error {
	c.mu.Lock()
	o, ok := c.orders[orderID]
	if !ok || o.Symbol != symbol {
		c.mu.Unlock()
		return nil
	}
	delete(c.orders, orderID)
	o.Status = models.OrderStatusCanceled
	update := *o
	c.mu.Unlock()

	c.dispatch([]models.Order{update})
	return nil
}

func (c *PaperClient) PlaceLimitBuyOrder(ctx context.Context, req models.OrderRequest) (models.Order, error) {
	return c.place(ctx, models.OrderSideBuy, models.OrderTypeLimit, req)
}

func (c *PaperClient) PlaceLimitSellOrder(ctx context.Context, req models.OrderRequest) (models.Order, error) {
	return c.place(ctx, models.OrderSideSell, models.OrderTypeLimit, req)
}

func (c *PaperClient) PlaceMarketBuyOrder(ctx context.Context, req models.OrderRequest) (models.Order, error) {
	return c.place(ctx, models.OrderSideBuy, models.OrderTypeMarket, req)
}

func (c *PaperClient) PlaceMarketSellOrder(ctx context.Context, req models.OrderRequest) (models.Order, error) {
	return c.place(ctx, models.OrderSideSell, models.OrderTypeMarket, req)
}

func (c *PaperClient) PlaceLongTakeProfitOrder(ctx context.Context, req models.OrderRequest) (models.Order, error) {
	req.PositionSide = models.PositionSideLong
	req.ReduceOnly = true
	return c.place(ctx, models.OrderSideSell, models.OrderTypeLimit, req)
}

func (c *PaperClient) PlaceShortTakeProfitOrder(ctx context.Context, req models.OrderRequest) (models.Order, error) {
	req.PositionSide = models.PositionSideShort
	req.ReduceOnly = true
	return c.place(ctx, models.OrderSideBuy, models.OrderTypeLimit, req)
}

func (c *PaperClient) place(ctx context.Context, side models.OrderSide, orderType models.OrderType, req models.OrderRequest) (models.Order, error) {
	if err := ctx.Err(); err != nil {
		return models.Order{}, err
	}

	c.mu.Lock()
	if err := c.failNext; err != nil {
		c.failNext = nil
		c.mu.Unlock()
		return models.Order{}, err
	}
	order, err := c.newOrderLocked(side, orderType, req)
	if err != nil {
		c.mu.Unlock()
		return models.Order{}, err
	}

	updates := []models.Order{*order}
	ticker, hasTicker := c.tickers[req.Symbol]
	switch {
	case orderType == models.OrderTypeMarket:
		if !hasTicker {
			c.mu.Unlock()
			return models.Order{}, fmt.Errorf("%w for %s", ErrNoTicker, req.Symbol)
		}
		price := ticker.BestAsk
		if side == models.OrderSideSell {
			price = ticker.BestBid
		}
		updates = append(updates, c.fillLocked(order, price))
	case hasTicker && crosses(*order, ticker):
		// marketable limit takes the touch
		price := decimal.Min(order.Price, ticker.BestAsk)
		if side == models.OrderSideSell {
			price = decimal.Max(order.Price, ticker.BestBid)
		}
		c.orders[order.ID] = order
		updates = append(updates, c.fillLocked(order, price))
	default:
		c.orders[order.ID] = order
	}
	result := updates[len(updates)-1]
	c.mu.Unlock()

	c.dispatch(updates)
	return result, nil
}

func (c *PaperClient) newOrderLocked(side models.OrderSide, orderType models.OrderType, req models.OrderRequest) (*models.Order, error) {
	info, ok := c.symbols[req.Symbol]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSymbolNotFound, req.Symbol)
	}
	if !req.Quantity.IsPositive() || req.Quantity.LessThan(info.MinQty) {
		return nil, fmt.Errorf("%w: quantity %s below minimum %s", ErrInvalidOrder, req.Quantity, info.MinQty)
	}
	if orderType == models.OrderTypeLimit && !req.Price.IsPositive() {
		return nil, fmt.Errorf("%w: limit price %s", ErrInvalidOrder, req.Price)
	}

	leg := req.PositionSide
	if leg == "" {
		leg = impliedLeg(side, req.ReduceOnly)
	}
	reduceOnly := req.ReduceOnly || closesLeg(side, leg)
	if reduceOnly {
		pos := c.positions[legKey{req.Symbol, leg}]
		if pos == nil || !pos.Quantity.IsPositive() {
			return nil, fmt.Errorf("%w: no %s position on %s", ErrReduceOnlyRejected, leg, req.Symbol)
		}
	}

	c.nextID++
	return &models.Order{
		ID:            strconv.FormatInt(c.nextID, 10),
		ClientOrderID: req.ClientOrderID,
		Symbol:        req.Symbol,
		Side:          side,
		PositionSide:  leg,
		Type:          orderType,
		Price:         req.Price,
		Quantity:      req.Quantity,
		Status:        models.OrderStatusNew,
		ReduceOnly:    reduceOnly,
		CreateTime:    c.now().UTC(),
	}, nil
}

// fillLocked executes o in full at price and returns the final order state.
// Reduce-only fills are capped at the leg size and never flip it.
func (c *PaperClient) fillLocked(o *models.Order, price decimal.Decimal) models.Order {
	delete(c.orders, o.ID)

	key := legKey{o.Symbol, o.PositionSide}
	pos := c.positions[key]
	qty := o.Quantity

	if o.ReduceOnly {
		if pos == nil || !pos.Quantity.IsPositive() {
			o.Status = models.OrderStatusExpired
			return *o
		}
		qty = decimal.Min(qty, pos.Quantity)
		pnl := price.Sub(pos.AveragePrice).Mul(qty)
		if o.PositionSide == models.PositionSideShort {
			pnl = pnl.Neg()
		}
		c.wallet = c.wallet.Add(pnl)
		c.realized = c.realized.Add(pnl)
		pos.Quantity = pos.Quantity.Sub(qty)
		pos.UpdateTime = c.now().UTC()
		if !pos.Quantity.IsPositive() {
			delete(c.positions, key)
		}
	} else {
		now := c.now().UTC()
		if pos == nil {
			pos = &models.Position{Symbol: o.Symbol, Side: o.PositionSide, CreateTime: now}
			c.positions[key] = pos
		}
		total := pos.Quantity.Add(qty)
		pos.AveragePrice = pos.AveragePrice.Mul(pos.Quantity).Add(price.Mul(qty)).Div(total)
		pos.Quantity = total
		pos.UpdateTime = now
	}

	o.FilledQuantity = qty
	o.Status = models.OrderStatusFilled
	return *o
}

// dispatch pushes order updates and the resulting wallet to subscribers
func (c *PaperClient) dispatch(updates []models.Order) {
	if len(updates) == 0 {
		return
	}
	c.mu.Lock()
	orderFns := make([]func(models.Order), 0, len(c.orderHandlers))
	for _, h := range c.orderHandlers {
		orderFns = append(orderFns, h)
	}
	walletFns := make([]func(models.Balance), 0, len(c.walletHandlers))
	for _, h := range c.walletHandlers {
		walletFns = append(walletFns, h)
	}
	balance := c.balanceLocked()
	c.mu.Unlock()

	filled := false
	for _, u := range updates {
		for _, fn := range orderFns {
			fn(u)
		}
		filled = filled || u.Status == models.OrderStatusFilled
	}
	if filled {
		for _, fn := range walletFns {
			fn(balance)
		}
	}
}

func crosses(o models.Order, t models.Ticker) bool {
	if o.Type != models.OrderTypeLimit {
		return false
	}
	if o.Side == models.OrderSideBuy {
		return t.BestAsk.IsPositive() && o.Price.GreaterThanOrEqual(t.BestAsk)
	}
	return t.BestBid.IsPositive() && o.Price.LessThanOrEqual(t.BestBid)
}

func impliedLeg(side models.OrderSide, reduceOnly bool) models.PositionSide {
	buy := side == models.OrderSideBuy
	if buy != reduceOnly {
		return models.PositionSideLong
	}
	return models.PositionSideShort
}

func closesLeg(side models.OrderSide, leg models.PositionSide) bool {
	return (leg == models.PositionSideLong && side == models.OrderSideSell) ||
		(leg == models.PositionSideShort && side == models.OrderSideBuy)
}

func (c *PaperClient) sortedOpenOrdersLocked(symbol string) []*models.Order {
	out := make([]*models.Order, 0)
	for _, o := range c.orders {
		if symbol == "" || o.Symbol == symbol {
			out = append(out, o)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		a, _ := strconv.ParseInt(out[i].ID, 10, 64)
		b, _ := strconv.ParseInt(out[j].ID, 10, 64)
		return a < b
	})
	return out
}

// ==================== ACCOUNT ====================

func (c *PaperClient) balanceLocked() models.Balance {
	upnl := decimal.Zero
	for _, p := range c.positions {
		t, ok := c.tickers[p.Symbol]
		if !ok {
			continue
		}
		diff := t.MidPrice().Sub(p.AveragePrice).Mul(p.Quantity)
		if p.Side == models.PositionSideShort {
			diff = diff.Neg()
		}
		upnl = upnl.Add(diff)
	}
	return models.Balance{
		Equity:          c.wallet.Add(upnl),
		WalletBalance:   c.wallet,
		UnrealizedPnl:   upnl,
		RealizedPnl:     c.realized,
		UpdateTimestamp: c.now().UTC(),
	}
}

func (c *PaperClient) GetBalances(ctx context.Context) (models.Balance, error) {
	if err := ctx.Err(); err != nil {
		return models.Balance{}, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.balanceLocked(), nil
}

func (c *PaperClient) GetOrders(ctx context.Context) ([]models.Order, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	open := c.sortedOpenOrdersLocked("")
	out := make([]models.Order, 0, len(open))
	for _, o := range open {
		out = append(out, *o)
	}
	return out, nil
}

func (c *PaperClient) GetPositions(ctx context.Context) ([]models.Position, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]models.Position, 0, len(c.positions))
	for _, p := range c.positions {
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Symbol != out[j].Symbol {
			return out[i].Symbol < out[j].Symbol
		}
		return out[i].Side < out[j].Side
	})
	return out, nil
}

// ==================== MARKET DATA ====================

func (c *PaperClient) GetSymbolInfo(ctx context.Context) ([]models.SymbolInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]models.SymbolInfo, 0, len(c.symbols))
	for _, s := range c.symbols {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (c *PaperClient) GetKlines(ctx context.Context, symbol, _ string, limit int) ([]models.Candle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.symbols[symbol]; !ok {
		return nil, fmt.Errorf("%w: %s", ErrSymbolNotFound, symbol)
	}
	candles := c.klines[symbol]
	if limit > 0 && len(candles) > limit {
		candles = candles[len(candles)-limit:]
	}
	return append([]models.Candle(nil), candles...), nil
}

func (c *PaperClient) GetTicker(ctx context.Context, symbol string) (models.Ticker, error) {
	if err := ctx.Err(); err != nil {
		return models.Ticker{}, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	t, ok := c.tickers[symbol]
	if !ok {
		return models.Ticker{}, fmt.Errorf("%w for %s", ErrNoTicker, symbol)
	}
	return t, nil
}

// ==================== STREAMS ====================

func (c *PaperClient) register(add func(id int)) Subscription {
	c.mu.Lock()
	id := c.handlerID
	c.handlerID++
	add(id)
	c.mu.Unlock()

	return funcSubscription(func() error {
		c.mu.Lock()
		defer c.mu.Unlock()
		delete(c.walletHandlers, id)
		delete(c.orderHandlers, id)
		delete(c.klineHandlers, id)
		delete(c.tickerHandlers, id)
		return nil
	})
}

func (c *PaperClient) SubscribeWallet(_ context.Context, handler func(models.Balance)) (Subscription, error) {
	return c.register(func(id int) { c.walletHandlers[id] = handler }), nil
}

func (c *PaperClient) SubscribeOrders(_ context.Context, handler func(models.Order)) (Subscription, error) {
	return c.register(func(id int) { c.orderHandlers[id] = handler }), nil
}

func (c *PaperClient) SubscribeKlines(_ context.Context, symbols []string, interval string, handler func(string, models.Candle)) (Subscription, error) {
	return c.register(func(id int) {
		c.klineHandlers[id] = paperKlineHandler{symbols: symbolSet(symbols), interval: interval, fn: handler}
	}), nil
}

func (c *PaperClient) SubscribeTickers(_ context.Context, symbols []string, handler func(models.Ticker)) (Subscription, error) {
	return c.register(func(id int) {
		c.tickerHandlers[id] = paperTickerHandler{symbols: symbolSet(symbols), fn: handler}
	}), nil
}

func symbolSet(symbols []string) map[string]bool {
	set := make(map[string]bool, len(symbols))
	for _, s := range symbols {
		set[s] = true
	}
	return set
}
