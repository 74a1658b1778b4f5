package wallet

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"cryptoblade/internal/binance"
	"cryptoblade/internal/events"
	"cryptoblade/internal/models"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

type recorder struct {
	mu     sync.Mutex
	events []events.Event
}

func (r *recorder) Publish(e events.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recorder) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}

func paper(t *testing.T) *binance.PaperClient {
	t.Helper()
	c := binance.NewPaperClient(d("1000"))
	c.AddSymbol(models.SymbolInfo{Name: "BTCUSDT", PriceStep: d("0.1"), QtyStep: d("0.001"), MinQty: d("0.001")})
	c.SetTicker(models.Ticker{Symbol: "BTCUSDT", BestBid: d("100"), BestAsk: d("100.1")})
	return c
}

func TestManager_StreamUpdatesSnapshot(t *testing.T) {
	ex := paper(t)
	rec := &recorder{}
	m := NewManager(ex, ex, rec, time.Hour, zerolog.Nop())
	ctx := context.Background()

	require.NoError(t, m.Start(ctx))
	defer m.Stop()
	assert.True(t, m.Balance().WalletBalance.Equal(d("1000")))

	ex.SetPosition(models.Position{Symbol: "BTCUSDT", Side: models.PositionSideLong, Quantity: d("1"), AveragePrice: d("90")})
	_, err := ex.PlaceLongTakeProfitOrder(ctx, models.OrderRequest{Symbol: "BTCUSDT", Quantity: d("1"), Price: d("100")})
	require.NoError(t, err)

	// filled at the bid: 1 * (100 - 90)
	assert.True(t, m.Balance().WalletBalance.Equal(d("1010")), m.Balance().WalletBalance.String())
	// initial load and the fill
	assert.Equal(t, 2, rec.len())

	assert.Error(t, m.Start(ctx))
}

func TestManager_PartialUpdateKeepsUnrealizedPnl(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	m := NewManager(nil, nil, nil, 0, zerolog.Nop())

	m.apply(models.Balance{WalletBalance: d("1000"), Equity: d("990"), UnrealizedPnl: d("-10"), UpdateTimestamp: now})
	m.apply(models.Balance{WalletBalance: d("1005"), UpdateTimestamp: now.Add(time.Second)})

	b := m.Balance()
	assert.True(t, b.WalletBalance.Equal(d("1005")))
	assert.True(t, b.Equity.Equal(d("995")))
	assert.True(t, b.UnrealizedPnl.Equal(d("-10")))

	// stale
	m.apply(models.Balance{WalletBalance: d("1"), UpdateTimestamp: now})
	assert.True(t, m.Balance().WalletBalance.Equal(d("1005")))
}

type failingSource struct{}

func (failingSource) GetBalances(context.Context) (models.Balance, error) {
	return models.Balance{}, errors.New("unreachable")
}

func TestManager_StartFailsWithoutInitialBalance(t *testing.T) {
	m := NewManager(failingSource{}, nil, nil, time.Second, zerolog.Nop())
	assert.Error(t, m.Start(context.Background()))
	assert.False(t, m.Balance().HasWallet())
	m.Stop()
}

type countingSource struct {
	mu    sync.Mutex
	calls int
}

func (c *countingSource) GetBalances(context.Context) (models.Balance, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	return models.Balance{WalletBalance: decimal.NewFromInt(int64(1000 + c.calls)), Equity: decimal.NewFromInt(int64(1000 + c.calls))}, nil
}

func TestManager_Polls(t *testing.T) {
	src := &countingSource{}
	m := NewManager(src, nil, nil, 10*time.Millisecond, zerolog.Nop())
	require.NoError(t, m.Start(context.Background()))
	assert.Eventually(t, func() bool {
		return m.Balance().WalletBalance.GreaterThan(d("1002"))
	}, time.Second, 5*time.Millisecond)
	m.Stop()
}
