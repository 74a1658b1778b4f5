package binance

import (
	"context"
	"sync"
	"testing"
	"time"

	"cryptoblade/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLivePaper_RegistersSymbolsAndTracksTicker(t *testing.T) {
	market := newPaper(t)
	market.AddCandle("BTCUSDT", "1m", models.Candle{OpenTime: time.Unix(0, 0).UTC(), Close: d("100")})
	live := NewLivePaper(NewPaperClient(d("1000")), market, nil)
	ctx := context.Background()

	infos, err := live.GetSymbolInfo(ctx)
	require.NoError(t, err)
	require.Len(t, infos, 1)

	klines, err := live.GetKlines(ctx, "BTCUSDT", "1m", 10)
	require.NoError(t, err)
	assert.Len(t, klines, 1)

	// no book yet on the paper side
	_, err = live.PlaceMarketBuyOrder(ctx, models.OrderRequest{Symbol: "BTCUSDT", PositionSide: models.PositionSideLong, Quantity: d("1")})
	require.ErrorIs(t, err, ErrNoTicker)

	ticker, err := live.GetTicker(ctx, "BTCUSDT")
	require.NoError(t, err)
	assert.True(t, ticker.BestAsk.Equal(d("100.1")))

	order, err := live.PlaceMarketBuyOrder(ctx, models.OrderRequest{Symbol: "BTCUSDT", PositionSide: models.PositionSideLong, Quantity: d("1")})
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusFilled, order.Status)

	// the market source never sees paper orders
	positions, err := market.GetPositions(ctx)
	require.NoError(t, err)
	assert.Empty(t, positions)
}

func TestLivePaper_StreamedTickerFillsRestingOrder(t *testing.T) {
	market := newPaper(t)
	live := NewLivePaper(NewPaperClient(d("1000")), market, market)
	ctx := context.Background()

	_, err := live.GetSymbolInfo(ctx)
	require.NoError(t, err)
	_, err = live.GetTicker(ctx, "BTCUSDT")
	require.NoError(t, err)

	var (
		mu      sync.Mutex
		tickers []models.Ticker
	)
	sub, err := live.SubscribeTickers(ctx, []string{"BTCUSDT"}, func(t models.Ticker) {
		mu.Lock()
		defer mu.Unlock()
		tickers = append(tickers, t)
	})
	require.NoError(t, err)
	defer sub.Close()

	_, err = live.PlaceLimitBuyOrder(ctx, models.OrderRequest{
		Symbol: "BTCUSDT", PositionSide: models.PositionSideLong, Quantity: d("1"), Price: d("99"),
	})
	require.NoError(t, err)

	market.SetTicker(models.Ticker{Symbol: "BTCUSDT", BestBid: d("98.9"), BestAsk: d("99")})

	mu.Lock()
	assert.Len(t, tickers, 1)
	mu.Unlock()

	open, err := live.GetOrders(ctx)
	require.NoError(t, err)
	assert.Empty(t, open)
	positions, err := live.GetPositions(ctx)
	require.NoError(t, err)
	require.Len(t, positions, 1)
	assert.True(t, positions[0].AveragePrice.Equal(d("99")))
}
