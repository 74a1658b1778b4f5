package binance

import (
	"context"

	"cryptoblade/internal/models"
)

// MarketData is the read-only half of Exchange
type MarketData interface {
	GetSymbolInfo(ctx context.Context) ([]models.SymbolInfo, error)
	GetKlines(ctx context.Context, symbol, interval string, limit int) ([]models.Candle, error)
	GetTicker(ctx context.Context, symbol string) (models.Ticker, error)
}

// MarketStreams is the public half of Streams
type MarketStreams interface {
	SubscribeKlines(ctx context.Context, symbols []string, interval string, handler func(symbol string, candle models.Candle)) (Subscription, error)
	SubscribeTickers(ctx context.Context, symbols []string, handler func(models.Ticker)) (Subscription, error)
}

// LivePaper trades on a PaperClient while reading real market data. Every
// ticker seen on the way in is applied to the paper book first, so simulated
// fills follow the live market.
type LivePaper struct {
	*PaperClient
	market  MarketData
	streams MarketStreams
}

var (
	_ Exchange = (*LivePaper)(nil)
	_ Streams  = (*LivePaper)(nil)
)

// NewLivePaper wires paper to a market source. streams may be nil, in which
// case market data is only available by polling.
func NewLivePaper(paper *PaperClient, market MarketData, streams MarketStreams) *LivePaper {
	return &LivePaper{PaperClient: paper, market: market, streams: streams}
}

// GetSymbolInfo lists the live contracts and registers them with the paper book
func (l *LivePaper) GetSymbolInfo(ctx context.Context) ([]models.SymbolInfo, error) {
	infos, err := l.market.GetSymbolInfo(ctx)
	if err != nil {
		return nil, err
	}
	for _, info := range infos {
		l.PaperClient.AddSymbol(info)
	}
	return infos, nil
}

func (l *LivePaper) GetKlines(ctx context.Context, symbol, interval string, limit int) ([]models.Candle, error) {
	return l.market.GetKlines(ctx, symbol, interval, limit)
}

func (l *LivePaper) GetTicker(ctx context.Context, symbol string) (models.Ticker, error) {
	t, err := l.market.GetTicker(ctx, symbol)
	if err != nil {
		return models.Ticker{}, err
	}
	l.PaperClient.SetTicker(t)
	return t, nil
}

func (l *LivePaper) SubscribeKlines(ctx context.Context, symbols []string, interval string, handler func(symbol string, candle models.Candle)) (Subscription, error) {
	if l.streams == nil {
		return l.PaperClient.SubscribeKlines(ctx, symbols, interval, handler)
	}
	return l.streams.SubscribeKlines(ctx, symbols, interval, handler)
}

func (l *LivePaper) SubscribeTickers(ctx context.Context, symbols []string, handler func(models.Ticker)) (Subscription, error) {
	if l.streams == nil {
		return l.PaperClient.SubscribeTickers(ctx, symbols, handler)
	}
	return l.streams.SubscribeTickers(ctx, symbols, func(t models.Ticker) {
		l.PaperClient.SetTicker(t)
		handler(t)
	})
}
