package orchestrator

import (
	"context"
	"sync"
	"time"

	"cryptoblade/internal/binance"
	"cryptoblade/internal/events"
	"cryptoblade/internal/models"
	"cryptoblade/internal/strategy"
)

// updateQueue buffers stream pushes until the next cycle applies them
type updateQueue struct {
	mu      sync.Mutex
	candles map[string][]models.Candle
	tickers map[string]models.Ticker
	notify  chan struct{}
}

func newUpdateQueue() *updateQueue {
	return &updateQueue{
		candles: make(map[string][]models.Candle),
		tickers: make(map[string]models.Ticker),
		notify:  make(chan struct{}, 1),
	}
}

func (q *updateQueue) pushCandle(symbol string, c models.Candle) {
	q.mu.Lock()
	q.candles[symbol] = append(q.candles[symbol], c)
	q.mu.Unlock()
	q.signal()
}

// pushTicker keeps only the latest ticker per symbol
func (q *updateQueue) pushTicker(t models.Ticker) {
	q.mu.Lock()
	q.tickers[t.Symbol] = t
	q.mu.Unlock()
	q.signal()
}

func (q *updateQueue) signal() {
	select {
	case q.notify <- struct{}{}:
	default:
	}
}

// fresh counts symbols with a ticker update since the last drain
func (q *updateQueue) fresh() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.tickers)
}

func (q *updateQueue) drain() (map[string][]models.Candle, map[string]models.Ticker) {
	q.mu.Lock()
	defer q.mu.Unlock()
	candles, tickers := q.candles, q.tickers
	q.candles = make(map[string][]models.Candle)
	q.tickers = make(map[string]models.Ticker)
	return candles, tickers
}

// waitForData blocks until every symbol has a fresh ticker, the data wait
// elapses, or ctx ends.
func (o *Orchestrator) waitForData(ctx context.Context, expected int) error {
	if o.cfg.DataWait <= 0 || expected == 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(o.cfg.DataWait)
	defer timer.Stop()

	for o.updates.fresh() < expected {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
			return nil
		case <-o.updates.notify:
		}
	}
	return nil
}

// applyUpdates feeds queued candles and tickers into their States
func (o *Orchestrator) applyUpdates(states []*strategy.State) {
	candles, tickers := o.updates.drain()
	for _, st := range states {
		for _, c := range candles[st.Symbol()] {
			if last, ok := st.Quotes().Last(); ok && !c.OpenTime.After(last.OpenTime) {
				// replayed after a reinitialization already loaded it
				continue
			}
			if err := st.AddCandle(c); err != nil {
				break
			}
		}
		if t, ok := tickers[st.Symbol()]; ok {
			st.UpdateTicker(t)
		}
	}
}

// pollMarket is the REST path used when no streams are configured
func (o *Orchestrator) pollMarket(ctx context.Context, states []*strategy.State) {
	o.fanOut(ctx, states, "poll market", func(ctx context.Context, st *strategy.State) error {
		ticker, err := o.deps.Exchange.GetTicker(ctx, st.Symbol())
		if err != nil {
			return err
		}
		o.updates.pushTicker(ticker)

		klines, err := o.deps.Exchange.GetKlines(ctx, st.Symbol(), o.cfg.Timeframe, 3)
		if err != nil {
			return err
		}
		for _, c := range klines {
			o.updates.pushCandle(st.Symbol(), c)
		}
		return nil
	})
}

// subscribe (re)opens the market and order streams for the current symbols
func (o *Orchestrator) subscribe(ctx context.Context) {
	o.closeSubscriptions()
	if o.deps.Streams == nil {
		return
	}

	symbols := o.symbols()
	var subs []binance.Subscription
	add := func(name string, sub binance.Subscription, err error) bool {
		if err != nil {
			o.logger.Warn().Err(err).Str("stream", name).Msg("Subscription failed")
			return false
		}
		subs = append(subs, sub)
		return true
	}

	streaming := false
	if len(symbols) > 0 {
		sub, err := o.deps.Streams.SubscribeKlines(ctx, symbols, o.cfg.Timeframe, o.updates.pushCandle)
		klines := add("klines", sub, err)
		sub, err = o.deps.Streams.SubscribeTickers(ctx, symbols, o.updates.pushTicker)
		streaming = add("tickers", sub, err) && klines
	}
	sub, err := o.deps.Streams.SubscribeOrders(ctx, func(order models.Order) {
		o.publish(events.OrderUpdate(order))
	})
	add("orders", sub, err)

	o.subsMu.Lock()
	o.subs = subs
	o.streaming = streaming
	o.subsMu.Unlock()
}

// isStreaming reports whether market data arrives by push; otherwise it is polled
func (o *Orchestrator) isStreaming() bool {
	o.subsMu.Lock()
	defer o.subsMu.Unlock()
	return o.streaming
}

func (o *Orchestrator) closeSubscriptions() {
	o.subsMu.Lock()
	subs := o.subs
	o.subs = nil
	o.streaming = false
	o.subsMu.Unlock()

	for _, s := range subs {
		if err := s.Close(); err != nil {
			o.logger.Debug().Err(err).Msg("Failed to close subscription")
		}
	}
}
