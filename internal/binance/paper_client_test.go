package binance

import (
	"context"
	"sync"
	"testing"
	"time"

	"cryptoblade/internal/models"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func newPaper(t *testing.T) *PaperClient {
	t.Helper()
	c := NewPaperClient(d("1000"))
	c.AddSymbol(models.SymbolInfo{
		Name:      "BTCUSDT",
		PriceStep: d("0.1"),
		QtyStep:   d("0.001"),
		MinQty:    d("0.001"),
	})
	c.SetTicker(models.Ticker{Symbol: "BTCUSDT", BestBid: d("100"), BestAsk: d("100.1")})
	return c
}

func TestPaperClient_LimitOrderRestsUntilCrossed(t *testing.T) {
	c := newPaper(t)
	ctx := context.Background()

	order, err := c.PlaceLimitBuyOrder(ctx, models.OrderRequest{
		Symbol: "BTCUSDT", PositionSide: models.PositionSideLong, Quantity: d("1"), Price: d("99"),
	})
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusNew, order.Status)
	assert.False(t, order.ReduceOnly)

	open, err := c.GetOrders(ctx)
	require.NoError(t, err)
	require.Len(t, open, 1)

	c.SetTicker(models.Ticker{Symbol: "BTCUSDT", BestBid: d("98.9"), BestAsk: d("99")})

	open, err = c.GetOrders(ctx)
	require.NoError(t, err)
	assert.Empty(t, open)

	positions, err := c.GetPositions(ctx)
	require.NoError(t, err)
	require.Len(t, positions, 1)
	assert.Equal(t, models.PositionSideLong, positions[0].Side)
	assert.True(t, positions[0].Quantity.Equal(d("1")))
	assert.True(t, positions[0].AveragePrice.Equal(d("99")))
}

func TestPaperClient_ReduceOnlyRealizesPnl(t *testing.T) {
	c := newPaper(t)
	ctx := context.Background()
	c.SetPosition(models.Position{Symbol: "BTCUSDT", Side: models.PositionSideShort, Quantity: d("2"), AveragePrice: d("110")})

	// larger than the leg: capped, never flips
	order, err := c.PlaceMarketBuyOrder(ctx, models.OrderRequest{
		Symbol: "BTCUSDT", PositionSide: models.PositionSideShort, Quantity: d("5"), ReduceOnly: true,
	})
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusFilled, order.Status)
	assert.True(t, order.FilledQuantity.Equal(d("2")))

	positions, err := c.GetPositions(ctx)
	require.NoError(t, err)
	assert.Empty(t, positions)

	balance, err := c.GetBalances(ctx)
	require.NoError(t, err)
	// (110 - 100.1) * 2
	assert.True(t, balance.WalletBalance.Equal(d("1019.8")), balance.WalletBalance.String())
	assert.True(t, balance.RealizedPnl.Equal(d("19.8")))
}

func TestPaperClient_Rejections(t *testing.T) {
	tests := []struct {
		name    string
		place   func(c *PaperClient) error
		wantErr error
	}{
		{"unknown symbol", func(c *PaperClient) error {
			_, err := c.PlaceLimitBuyOrder(context.Background(), models.OrderRequest{Symbol: "XYZUSDT", Quantity: d("1"), Price: d("1")})
			return err
		}, ErrSymbolNotFound},
		{"below min qty", func(c *PaperClient) error {
			_, err := c.PlaceLimitBuyOrder(context.Background(), models.OrderRequest{Symbol: "BTCUSDT", Quantity: d("0.0001"), Price: d("99")})
			return err
		}, ErrInvalidOrder},
		{"take profit without position", func(c *PaperClient) error {
			_, err := c.PlaceLongTakeProfitOrder(context.Background(), models.OrderRequest{Symbol: "BTCUSDT", Quantity: d("1"), Price: d("120")})
			return err
		}, ErrReduceOnlyRejected},
		{"injected failure", func(c *PaperClient) error {
			c.FailNextOrder(assert.AnError)
			_, err := c.PlaceMarketSellOrder(context.Background(), models.OrderRequest{Symbol: "BTCUSDT", Quantity: d("1")})
			return err
		}, assert.AnError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, tt.place(newPaper(t)), tt.wantErr)
		})
	}
}

func TestPaperClient_StreamsPushUpdates(t *testing.T) {
	c := newPaper(t)
	ctx := context.Background()

	var mu sync.Mutex
	var orders []models.Order
	var balances []models.Balance
	var tickers []models.Ticker
	var candles []models.Candle

	subs := []Subscription{}
	sub, err := c.SubscribeOrders(ctx, func(o models.Order) { mu.Lock(); orders = append(orders, o); mu.Unlock() })
	require.NoError(t, err)
	subs = append(subs, sub)
	sub, err = c.SubscribeWallet(ctx, func(b models.Balance) { mu.Lock(); balances = append(balances, b); mu.Unlock() })
	require.NoError(t, err)
	subs = append(subs, sub)
	sub, err = c.SubscribeTickers(ctx, []string{"BTCUSDT"}, func(tk models.Ticker) { mu.Lock(); tickers = append(tickers, tk); mu.Unlock() })
	require.NoError(t, err)
	subs = append(subs, sub)
	sub, err = c.SubscribeKlines(ctx, []string{"BTCUSDT"}, "1m", func(_ string, cd models.Candle) { mu.Lock(); candles = append(candles, cd); mu.Unlock() })
	require.NoError(t, err)
	subs = append(subs, sub)

	_, err = c.PlaceMarketSellOrder(ctx, models.OrderRequest{Symbol: "BTCUSDT", PositionSide: models.PositionSideShort, Quantity: d("1")})
	require.NoError(t, err)
	c.SetTicker(models.Ticker{Symbol: "BTCUSDT", BestBid: d("101"), BestAsk: d("101.1")})
	c.AddCandle("BTCUSDT", "1m", models.Candle{OpenTime: time.Unix(0, 0), Close: d("101")})
	c.AddCandle("BTCUSDT", "5m", models.Candle{OpenTime: time.Unix(0, 0), Close: d("101")})

	mu.Lock()
	assert.Len(t, orders, 2) // NEW then FILLED
	assert.Equal(t, models.OrderStatusFilled, orders[1].Status)
	assert.Len(t, balances, 1)
	assert.Len(t, tickers, 1)
	assert.Len(t, candles, 1)
	mu.Unlock()

	for _, s := range subs {
		require.NoError(t, s.Close())
	}
	c.SetTicker(models.Ticker{Symbol: "BTCUSDT", BestBid: d("102"), BestAsk: d("102.1")})
	mu.Lock()
	assert.Len(t, tickers, 1)
	mu.Unlock()

	balance, err := c.GetBalances(ctx)
	require.NoError(t, err)
	// short 1 @ 100 marked at 102.05
	assert.True(t, balance.UnrealizedPnl.Equal(d("-2.05")), balance.UnrealizedPnl.String())
}

func TestPaperClient_KlinesAndSymbols(t *testing.T) {
	c := newPaper(t)
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		c.AddCandle("BTCUSDT", "1m", models.Candle{OpenTime: time.Unix(int64(i*60), 0)})
	}

	candles, err := c.GetKlines(ctx, "BTCUSDT", "1m", 3)
	require.NoError(t, err)
	require.Len(t, candles, 3)
	assert.Equal(t, int64(120), candles[0].OpenTime.Unix())

	_, err = c.GetKlines(ctx, "NOPE", "1m", 3)
	assert.ErrorIs(t, err, ErrSymbolNotFound)

	symbols, err := c.GetSymbolInfo(ctx)
	require.NoError(t, err)
	require.Len(t, symbols, 1)

	_, err = c.GetTicker(ctx, "ETHUSDT")
	assert.ErrorIs(t, err, ErrNoTicker)

	require.NoError(t, c.SetLeverage(ctx, "BTCUSDT", 20))
	assert.Equal(t, 20, c.Leverage("BTCUSDT"))
	require.NoError(t, c.SwitchPositionMode(ctx, true))
	assert.True(t, c.HedgeMode())
}
