package binance

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"time"

	"cryptoblade/internal/models"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// Binance caps the streams a single combined connection may carry
const maxStreamsPerConn = 200

// Market streams push at least once a second, so silence means a dead socket
const marketReadTimeout = time.Minute

// combinedMessage wraps every payload of a /stream?streams= connection
type combinedMessage struct {
	Stream string          `json:"stream"`
	Data   json.RawMessage `json:"data"`
}

// Stream payloads reuse letters in both cases ("b"/"B", "t"/"T"). encoding/json
// falls back to case-insensitive matching, so every such pair is declared.

type klineEvent struct {
	EventType string `json:"e"`
	EventTime int64  `json:"E"`
	Symbol    string `json:"s"`
	Kline     struct {
		OpenTime            int64           `json:"t"`
		CloseTime           int64           `json:"T"`
		Open                decimal.Decimal `json:"o"`
		High                decimal.Decimal `json:"h"`
		Low                 decimal.Decimal `json:"l"`
		LastTradeID         int64           `json:"L"`
		Close               decimal.Decimal `json:"c"`
		Volume              decimal.Decimal `json:"v"`
		TakerBuyVolume      decimal.Decimal `json:"V"`
		QuoteVolume         decimal.Decimal `json:"q"`
		TakerBuyQuoteVolume decimal.Decimal `json:"Q"`
		Closed              bool            `json:"x"`
	} `json:"k"`
}

type bookTickerEvent struct {
	EventType       string          `json:"e"`
	EventTime       int64           `json:"E"`
	TransactionTime int64           `json:"T"`
	Symbol          string          `json:"s"`
	BidPrice        decimal.Decimal `json:"b"`
	BidQty          decimal.Decimal `json:"B"`
	AskPrice        decimal.Decimal `json:"a"`
	AskQty          decimal.Decimal `json:"A"`
}

type markPriceEvent struct {
	EventType            string          `json:"e"`
	EventTime            int64           `json:"E"`
	Symbol               string          `json:"s"`
	MarkPrice            decimal.Decimal `json:"p"`
	EstimatedSettlePrice decimal.Decimal `json:"P"`
	FundingRate          decimal.Decimal `json:"r"`
	NextFundingTime      int64           `json:"T"`
}

// marketSubscription owns the combined-stream connections of one Subscribe call
type marketSubscription struct {
	conns []*wsConn
}

func (m *marketSubscription) Close() error {
	var errs []error
	for _, c := range m.conns {
		errs = append(errs, c.Close())
	}
	return errors.Join(errs...)
}

// subscribeCombined splits streams into connection-sized chunks
func subscribeCombined(ctx context.Context, baseURL, name string, streams []string, onData func(stream string, data []byte), logger zerolog.Logger) *marketSubscription {
	sub := &marketSubscription{}
	for start := 0; start < len(streams); start += maxStreamsPerConn {
		end := min(start+maxStreamsPerConn, len(streams))
		u := baseURL + "/stream?streams=" + strings.Join(streams[start:end], "/")
		handle := func(message []byte) {
			var msg combinedMessage
			if err := json.Unmarshal(message, &msg); err != nil {
				logger.Warn().Err(err).Str("stream", name).Msg("Failed to parse combined message")
				return
			}
			onData(msg.Stream, msg.Data)
		}
		sub.conns = append(sub.conns, startWSConn(ctx, name, func() string { return u }, marketReadTimeout, handle, logger))
	}
	return sub
}

func parseKlineEvent(data []byte) (string, models.Candle, bool, error) {
	var ev klineEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		return "", models.Candle{}, false, err
	}
	k := ev.Kline
	return ev.Symbol, models.Candle{
		OpenTime:    msToTime(k.OpenTime),
		Open:        k.Open,
		High:        k.High,
		Low:         k.Low,
		Close:       k.Close,
		Volume:      k.Volume,
		QuoteVolume: k.QuoteVolume,
	}, k.Closed, nil
}

// fundingCache remembers the latest funding rate per symbol so book ticker
// updates can carry it.
type fundingCache struct {
	mu    sync.RWMutex
	rates map[string]decimal.Decimal
}

func (f *fundingCache) set(symbol string, rate decimal.Decimal) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rates[symbol] = rate
}

func (f *fundingCache) get(symbol string) decimal.NullDecimal {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if r, ok := f.rates[symbol]; ok {
		return decimal.NewNullDecimal(r)
	}
	return decimal.NullDecimal{}
}

func (f *fundingCache) ticker(ev bookTickerEvent) models.Ticker {
	ts := ev.TransactionTime
	if ts == 0 {
		ts = ev.EventTime
	}
	return models.Ticker{
		Symbol:      ev.Symbol,
		BestBid:     ev.BidPrice,
		BestAsk:     ev.AskPrice,
		LastPrice:   ev.BidPrice.Add(ev.AskPrice).Div(decimal.NewFromInt(2)),
		FundingRate: f.get(ev.Symbol),
		Timestamp:   msToTime(ts),
	}
}
