package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"cryptoblade/internal/events"
	"cryptoblade/internal/models"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestObserve(t *testing.T) {
	m := New("test")

	m.Observe(events.OrderPlaced(models.Order{Symbol: "BTCUSDT", PositionSide: models.PositionSideLong}, "entry"))
	m.Observe(events.OrderPlaced(models.Order{Symbol: "ETHUSDT", PositionSide: models.PositionSideLong}, "entry"))
	m.Observe(events.UnstuckTriggered("BTCUSDT", models.PositionSideShort, true, false))
	m.Observe(events.UnstuckTriggered("BTCUSDT", models.PositionSideShort, true, true))
	m.Observe(events.SymbolAdmitted("SOLUSDT", models.PositionSideLong))
	m.Observe(events.SymbolExcluded("XYZUSDT", "leverage"))
	m.Observe(events.CycleCompleted(1, 250*time.Millisecond, "0.75", "0.1", "-0.02", 3, 1))
	m.Observe(events.BalanceUpdate(models.Balance{Equity: decimal.NewFromInt(1234)}))
	m.Observe(events.Error("orchestrator", "boom", nil))

	assert.Equal(t, 2.0, testutil.ToFloat64(m.orders.WithLabelValues(string(events.EventOrderPlaced), "LONG", "entry")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.unstucks.WithLabelValues("SHORT", "force")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.unstucks.WithLabelValues("SHORT", "kill")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.admissions.WithLabelValues("LONG")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.exclusions.WithLabelValues("leverage")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.cycles))
	assert.Equal(t, 0.75, testutil.ToFloat64(m.exposure.WithLabelValues("LONG")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.openPositions.WithLabelValues("LONG")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.openPositions.WithLabelValues("SHORT")))
	assert.Equal(t, 1234.0, testutil.ToFloat64(m.equity))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.errors.WithLabelValues("orchestrator")))
}

func TestCycleWithoutExposureKeepsGauge(t *testing.T) {
	m := New("test")
	m.Observe(events.CycleCompleted(1, time.Second, "0.5", "", "", 1, 0))
	m.Observe(events.CycleCompleted(2, time.Second, "", "", "", 0, 0))

	assert.Equal(t, 0.5, testutil.ToFloat64(m.exposure.WithLabelValues("LONG")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.cycles))
}

func TestHandler(t *testing.T) {
	m := New("cryptoblade")
	bus := events.NewEventBus()
	m.Attach(bus)
	bus.Publish(events.CycleCompleted(1, time.Second, "0.5", "0", "0", 1, 0))

	require.Eventually(t, func() bool {
		return testutil.ToFloat64(m.cycles) == 1
	}, time.Second, 5*time.Millisecond)

	srv := httptest.NewServer(m.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.Contains(t, string(body), "cryptoblade_cycles_total 1")
	assert.Contains(t, string(body), `cryptoblade_wallet_exposure{side="LONG"} 0.5`)
}
