package binance

import (
	"context"
	"encoding/json"
	"strings"
	"sync"

	"cryptoblade/internal/models"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// WebsocketStreams implements Streams over the Binance futures websockets.
// Wallet and order subscriptions share one user data stream, which stops when
// the last of them is closed.
type WebsocketStreams struct {
	baseURL string
	client  listenKeyClient
	logger  zerolog.Logger

	mu       sync.Mutex
	userData *UserDataStream
}

var _ Streams = (*WebsocketStreams)(nil)

// NewWebsocketStreams creates the push collaborator for a REST client
func NewWebsocketStreams(client *FuturesClient, testnet bool, logger zerolog.Logger) *WebsocketStreams {
	baseURL := FuturesStreamURL
	if testnet {
		baseURL = FuturesTestnetStreamURL
	}
	return &WebsocketStreams{
		baseURL: baseURL,
		client:  client,
		logger:  logger.With().Str("component", "streams").Logger(),
	}
}

type funcSubscription func() error

func (f funcSubscription) Close() error { return f() }

func (w *WebsocketStreams) userDataStream(ctx context.Context) (*UserDataStream, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.userData == nil {
		w.userData = NewUserDataStream(w.client, w.baseURL, w.logger)
	}
	if err := w.userData.Start(ctx); err != nil {
		return nil, err
	}
	return w.userData, nil
}

func (w *WebsocketStreams) release(remove func() int) funcSubscription {
	var once sync.Once
	return func() error {
		once.Do(func() {
			if remaining := remove(); remaining == 0 {
				w.mu.Lock()
				uds := w.userData
				w.mu.Unlock()
				if uds != nil {
					uds.Stop()
				}
			}
		})
		return nil
	}
}

func (w *WebsocketStreams) SubscribeWallet(ctx context.Context, handler func(models.Balance)) (Subscription, error) {
	uds, err := w.userDataStream(ctx)
	if err != nil {
		return nil, err
	}
	return w.release(uds.AddWalletHandler(handler)), nil
}

func (w *WebsocketStreams) SubscribeOrders(ctx context.Context, handler func(models.Order)) (Subscription, error) {
	uds, err := w.userDataStream(ctx)
	if err != nil {
		return nil, err
	}
	return w.release(uds.AddOrderHandler(handler)), nil
}

// SubscribeKlines delivers closed candles only
func (w *WebsocketStreams) SubscribeKlines(ctx context.Context, symbols []string, interval string, handler func(symbol string, candle models.Candle)) (Subscription, error) {
	streams := make([]string, 0, len(symbols))
	for _, s := range symbols {
		streams = append(streams, streamSymbol(s)+"@kline_"+interval)
	}
	logger := w.logger
	onData := func(_ string, data []byte) {
		symbol, candle, closed, err := parseKlineEvent(data)
		if err != nil {
			logger.Warn().Err(err).Msg("Failed to parse kline event")
			return
		}
		if closed {
			handler(symbol, candle)
		}
	}
	return subscribeCombined(context.WithoutCancel(ctx), w.baseURL, "klines", streams, onData, logger), nil
}

// SubscribeTickers combines book ticker and mark price streams so every
// ticker carries the latest known funding rate.
func (w *WebsocketStreams) SubscribeTickers(ctx context.Context, symbols []string, handler func(models.Ticker)) (Subscription, error) {
	streams := make([]string, 0, 2*len(symbols))
	for _, s := range symbols {
		streams = append(streams, streamSymbol(s)+"@bookTicker", streamSymbol(s)+"@markPrice@1s")
	}
	funding := &fundingCache{rates: make(map[string]decimal.Decimal)}
	logger := w.logger
	onData := func(stream string, data []byte) {
		if strings.Contains(stream, "@markPrice") {
			var ev markPriceEvent
			if err := json.Unmarshal(data, &ev); err != nil {
				logger.Warn().Err(err).Msg("Failed to parse mark price event")
				return
			}
			funding.set(ev.Symbol, ev.FundingRate)
			return
		}
		var ev bookTickerEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			logger.Warn().Err(err).Msg("Failed to parse book ticker event")
			return
		}
		handler(funding.ticker(ev))
	}
	return subscribeCombined(context.WithoutCancel(ctx), w.baseURL, "tickers", streams, onData, logger), nil
}
