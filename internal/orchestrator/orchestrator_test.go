package orchestrator

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"cryptoblade/internal/binance"
	"cryptoblade/internal/events"
	"cryptoblade/internal/models"
	"cryptoblade/internal/sizing"
	"cryptoblade/internal/strategy"
	"cryptoblade/internal/throttle"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

// fixedSignals returns the same signals for every evaluation
type fixedSignals struct{ signals strategy.Signals }

func (s fixedSignals) Name() string { return "fixed" }
func (s fixedSignals) WarmupPeriod() int { return 1 }
func (s fixedSignals) Evaluate(strategy.MarketData) (strategy.Evaluation, error) {
	return strategy.Evaluation{Signals: s.signals}, nil
}

type staticBalance struct{ b models.Balance }

func (w staticBalance) Balance() models.Balance { return w.b }

type recorder struct {
	mu     sync.Mutex
	events []events.Event
}

func (r *recorder) Publish(e events.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recorder) count(typ events.EventType) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.events {
		if e.Type == typ {
			n++
		}
	}
	return n
}

type memSnapshots struct {
	mu        sync.Mutex
	lastCycle time.Time
	snapshots map[string][]byte
	deleted   []string
}

func (m *memSnapshots) SaveLastCycle(_ context.Context, t time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastCycle = t
	return nil
}

func (m *memSnapshots) SaveSnapshot(_ context.Context, symbol string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.snapshots == nil {
		m.snapshots = make(map[string][]byte)
	}
	m.snapshots[symbol] = data
	return nil
}

func (m *memSnapshots) DeleteSnapshot(_ context.Context, symbol string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.snapshots, symbol)
	m.deleted = append(m.deleted, symbol)
	return nil
}

func symbolInfo(name string, maxLeverage int) models.SymbolInfo {
	return models.SymbolInfo{
		Name:        name,
		QuoteAsset:  "USDT",
		PriceStep:   d("0.1"),
		QtyStep:     d("0.001"),
		MinQty:      d("0.001"),
		MinNotional: d("5"),
		MaxLeverage: maxLeverage,
	}
}

func candleAt(i int, price, quoteVolume string) models.Candle {
	p := d(price)
	return models.Candle{
		OpenTime:    t0.Add(time.Duration(i) * time.Minute),
		Open:        p,
		High:        p,
		Low:         p,
		Close:       p,
		Volume:      d("1"),
		QuoteVolume: d(quoteVolume),
	}
}

func testConfig() Config {
	return Config{
		Mode:                 ModeDynamic,
		StrategyName:         "fixed",
		QuoteAsset:           "USDT",
		Leverage:             10,
		Timeframe:            "1m",
		QuoteBufferSize:      50,
		PlacementConcurrency: 4,
		HealthStaleness:      5 * time.Minute,
		MaxLongStrategies:    1,
		MaxShortStrategies:   1,
		MaxOpenPerStep:       1,
		Strategy: strategy.Options{
			WalletExposureLong:        d("1"),
			WalletExposureShort:       d("1"),
			InitialQtyPctLong:         d("0.003"),
			InitialQtyPctShort:        d("0.003"),
			DDownFactorLong:           d("2"),
			DDownFactorShort:          d("2"),
			ReentryPriceDistanceLong:  d("0.01"),
			ReentryPriceDistanceShort: d("0.01"),
			MinProfitRate:             d("0.005"),
			SlowUnstuckPercentStep:    d("0.1"),
			ForceUnstuckPercentStep:   d("0.5"),
			NATRPeriod:                14,
		},
	}
}

type harness struct {
	ex        *binance.PaperClient
	orch      *Orchestrator
	events    *recorder
	snapshots *memSnapshots
	now       time.Time
}

// newHarness lists three symbols: AAAUSDT and BBBUSDT trade, CCCUSDT rejects
// the configured leverage. Only BBBUSDT and AAAUSDT carry a buy signal, and
// BBBUSDT has the higher volume.
func newHarness(t *testing.T, cfg Config, streams bool) *harness {
	t.Helper()
	h := &harness{
		ex:        binance.NewPaperClient(d("10000")),
		events:    &recorder{},
		snapshots: &memSnapshots{},
		now:       t0.Add(time.Hour),
	}
	volumes := map[string]string{"AAAUSDT": "10", "BBBUSDT": "50", "CCCUSDT": "90"}
	for _, name := range []string{"AAAUSDT", "BBBUSDT", "CCCUSDT"} {
		maxLev := 20
		if name == "CCCUSDT" {
			maxLev = 0
		}
		h.ex.AddSymbol(symbolInfo(name, maxLev))
		for i := 0; i < 20; i++ {
			h.ex.AddCandle(name, cfg.Timeframe, candleAt(i, "100", volumes[name]))
		}
		h.ex.SetTicker(models.Ticker{Symbol: name, BestBid: d("100"), BestAsk: d("100.1")})
	}
	h.ex.AddSymbol(models.SymbolInfo{Name: "AAABUSD", QuoteAsset: "BUSD"})

	deps := Deps{
		Exchange: h.ex,
		Balance:  staticBalance{b: models.Balance{WalletBalance: d("10000"), Equity: d("10000")}},
		Signals: func(symbol string) (strategy.SignalProvider, error) {
			return fixedSignals{signals: strategy.Signals{Buy: symbol != "CCCUSDT"}}, nil
		},
		Sizer:     sizing.RecursiveGrid{},
		Throttler: throttle.New(10, time.Hour),
		Events:    h.events,
		Snapshots: h.snapshots,
		Logger:    zerolog.Nop(),
		Now:       func() time.Time { return h.now },
	}
	if streams {
		deps.Streams = h.ex
	}
	orch, err := New(cfg, deps)
	require.NoError(t, err)
	h.orch = orch
	return h
}

func (h *harness) openOrders(t *testing.T) []models.Order {
	t.Helper()
	orders, err := h.ex.GetOrders(context.Background())
	require.NoError(t, err)
	return orders
}

func TestNew_Validation(t *testing.T) {
	ex := binance.NewPaperClient(d("1000"))

	_, err := New(Config{Timeframe: "7m"}, Deps{Exchange: ex, Sizer: sizing.RecursiveGrid{}})
	assert.Error(t, err)

	_, err = New(Config{Timeframe: "1m"}, Deps{Sizer: sizing.RecursiveGrid{}})
	assert.Error(t, err)

	_, err = New(Config{Timeframe: "1m"}, Deps{Exchange: ex})
	assert.Error(t, err)

	o, err := New(Config{Timeframe: "1m"}, Deps{Exchange: ex, Sizer: sizing.RecursiveGrid{}})
	require.NoError(t, err)
	assert.Equal(t, ModeDynamic, o.Status().Mode)
	assert.False(t, o.Healthy())
}

func TestOrchestrator_InitializeExcludesLeverageFailure(t *testing.T) {
	cfg := testConfig()
	cfg.Leverage = 200
	h := newHarness(t, cfg, false)

	require.NoError(t, h.orch.Initialize(context.Background()))

	assert.True(t, h.ex.HedgeMode())
	assert.Equal(t, []string{"AAAUSDT", "BBBUSDT"}, h.orch.symbols())
	assert.Equal(t, 20, h.ex.Leverage("AAAUSDT"))
	status := h.orch.Status()
	assert.Equal(t, 2, status.Symbols)
	assert.Contains(t, status.Excluded, "CCCUSDT")
	assert.Equal(t, 1, h.events.count(events.EventSymbolExcluded))

	_, ok := h.orch.Strategy("CCCUSDT")
	assert.False(t, ok)
}

func TestOrchestrator_Whitelist(t *testing.T) {
	cfg := testConfig()
	cfg.Whitelist = []string{"BBBUSDT"}
	h := newHarness(t, cfg, false)

	require.NoError(t, h.orch.Initialize(context.Background()))
	assert.Equal(t, []string{"BBBUSDT"}, h.orch.symbols())
}

func TestOrchestrator_CycleAdmitsHighestRankedSymbol(t *testing.T) {
	h := newHarness(t, testConfig(), false)
	ctx := context.Background()
	require.NoError(t, h.orch.Initialize(ctx))
	assert.False(t, h.orch.Healthy())

	require.NoError(t, h.orch.RunCycle(ctx))

	orders := h.openOrders(t)
	require.Len(t, orders, 1)
	assert.Equal(t, "BBBUSDT", orders[0].Symbol)
	assert.Equal(t, models.OrderSideBuy, orders[0].Side)
	assert.Equal(t, models.PositionSideLong, orders[0].PositionSide)
	assert.True(t, orders[0].Quantity.Equal(d("0.3")), orders[0].Quantity.String())
	assert.Equal(t, 1, h.events.count(events.EventSymbolAdmitted))
	assert.Equal(t, 1, h.events.count(events.EventCycleCompleted))

	assert.True(t, h.orch.Healthy())
	status := h.orch.Status()
	assert.EqualValues(t, 1, status.Cycle)
	assert.Equal(t, h.now, status.LastCycle)

	assert.Equal(t, h.now, h.snapshots.lastCycle)
	require.Contains(t, h.snapshots.snapshots, "BBBUSDT")
	var snap map[string]any
	require.NoError(t, json.Unmarshal(h.snapshots.snapshots["BBBUSDT"], &snap))
	assert.Equal(t, "BBBUSDT", snap["symbol"])

	// capacity is used up by the open entry
	require.NoError(t, h.orch.RunCycle(ctx))
	orders = h.openOrders(t)
	require.Len(t, orders, 1)
	assert.Equal(t, "BBBUSDT", orders[0].Symbol)
	assert.Equal(t, 1, h.orch.Status().OpenLong)
}

func TestOrchestrator_ReadOnlyPlacesNothing(t *testing.T) {
	cfg := testConfig()
	cfg.Mode = ModeReadOnly
	h := newHarness(t, cfg, false)
	ctx := context.Background()
	require.NoError(t, h.orch.Initialize(ctx))

	require.NoError(t, h.orch.RunCycle(ctx))

	assert.Empty(t, h.openOrders(t))
	assert.True(t, h.orch.Healthy())
	assert.Equal(t, 0, h.events.count(events.EventOrderPlaced))
}

func TestOrchestrator_StreamedCandlesReachStates(t *testing.T) {
	cfg := testConfig()
	cfg.DataWait = time.Second
	h := newHarness(t, cfg, true)
	ctx := context.Background()
	require.NoError(t, h.orch.Initialize(ctx))
	require.True(t, h.orch.isStreaming())

	for _, name := range []string{"AAAUSDT", "BBBUSDT"} {
		h.ex.AddCandle(name, cfg.Timeframe, candleAt(20, "101", "10"))
		h.ex.SetTicker(models.Ticker{Symbol: name, BestBid: d("101"), BestAsk: d("101.1")})
	}

	require.NoError(t, h.orch.RunCycle(ctx))

	st, ok := h.orch.Strategy("AAAUSDT")
	require.True(t, ok)
	assert.Equal(t, h.now, h.orch.LastCycle())
	for _, name := range []string{"AAAUSDT", "BBBUSDT"} {
		snap, _ := h.orch.Strategy(name)
		assert.True(t, snap.Consistent, name)
		assert.Equal(t, 21, snap.Candles, name)
	}
	assert.Equal(t, "AAAUSDT", st.Symbol)
}

func TestOrchestrator_UniverseRefreshDropsDelisted(t *testing.T) {
	cfg := testConfig()
	cfg.UniverseRefresh = time.Hour
	cfg.Blacklist = []string{"CCCUSDT"}
	h := newHarness(t, cfg, false)
	ctx := context.Background()
	require.NoError(t, h.orch.Initialize(ctx))
	require.Equal(t, []string{"AAAUSDT", "BBBUSDT"}, h.orch.symbols())
	assert.False(t, h.orch.universeDue())

	h.orch.cfg.Blacklist = []string{"AAAUSDT", "CCCUSDT"}
	h.now = h.now.Add(2 * time.Hour)
	require.True(t, h.orch.universeDue())
	require.NoError(t, h.orch.refreshUniverse(ctx))

	assert.Equal(t, []string{"BBBUSDT"}, h.orch.symbols())
	assert.Equal(t, []string{"AAAUSDT"}, h.snapshots.deleted)
}

func TestOrchestrator_RunStopsOnCancel(t *testing.T) {
	cfg := testConfig()
	cfg.CycleDelay = 10 * time.Millisecond
	h := newHarness(t, cfg, false)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.orch.Run(ctx) }()

	require.Eventually(t, func() bool {
		return h.events.count(events.EventCycleCompleted) >= 2
	}, 2*time.Second, 5*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestOrchestrator_UnstuckPublishesOncePerOrder(t *testing.T) {
	cfg := testConfig()
	cfg.Unstucking = UnstuckConfig{
		Enabled:                true,
		SlowThreshold:          d("-0.01"),
		SlowPositionThreshold:  d("-0.01"),
		ForceThreshold:         d("-0.5"),
		ForcePositionThreshold: d("-0.5"),
	}
	h := newHarness(t, cfg, false)
	ctx := context.Background()
	// roughly -2% of the wallet at a mid of 100.05
	h.ex.SetPosition(models.Position{
		Symbol:       "AAAUSDT",
		Side:         models.PositionSideLong,
		Quantity:     d("10"),
		AveragePrice: d("120"),
	})
	require.NoError(t, h.orch.Initialize(ctx))

	require.NoError(t, h.orch.RunCycle(ctx))

	assert.Equal(t, 1, h.events.count(events.EventUnstuckTriggered))
	require.Equal(t, 1, h.events.count(events.EventOrderPlaced))
	assert.Equal(t, 0, h.events.count(events.EventSymbolAdmitted))

	var placed events.Event
	for _, e := range h.events.events {
		if e.Type == events.EventOrderPlaced {
			placed = e
		}
	}
	assert.Equal(t, "AAAUSDT", placed.String("symbol"))
	assert.Equal(t, strategy.ReasonUnstuck, placed.String("reason"))
	assert.Equal(t, true, placed.Data["reduce_only"])
	assert.Equal(t, string(models.OrderSideSell), placed.String("side"))

	// the reduce-only sell crossed the bid, nothing extends the leg
	assert.Empty(t, h.openOrders(t))
	positions, err := h.ex.GetPositions(ctx)
	require.NoError(t, err)
	require.Len(t, positions, 1)
	assert.True(t, positions[0].Quantity.Equal(d("9")), positions[0].Quantity.String())

	// same candle, the leg is not reduced again
	require.NoError(t, h.orch.RunCycle(ctx))
	assert.Equal(t, 1, h.events.count(events.EventUnstuckTriggered))
	assert.Equal(t, 1, h.events.count(events.EventOrderPlaced))
}
