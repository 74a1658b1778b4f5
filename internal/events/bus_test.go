package events

import (
	"sync"
	"testing"
	"time"

	"cryptoblade/internal/models"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *recorder) handle(e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}

func TestEventBus_Subscriptions(t *testing.T) {
	bus := NewEventBus()
	placed := &recorder{}
	all := &recorder{}
	bus.Subscribe(EventOrderPlaced, placed.handle)
	bus.SubscribeAll(all.handle)

	order := models.Order{ID: "1", Symbol: "BTCUSDT", Side: models.OrderSideBuy, Quantity: decimal.NewFromInt(1)}
	bus.Publish(OrderPlaced(order, "open"))
	bus.Publish(SymbolExcluded("ETHUSDT", "leverage"))

	require.Eventually(t, func() bool { return placed.count() == 1 && all.count() == 2 }, time.Second, 5*time.Millisecond)

	placed.mu.Lock()
	defer placed.mu.Unlock()
	e := placed.events[0]
	assert.Equal(t, "BTCUSDT", e.String("symbol"))
	assert.Equal(t, "open", e.String("reason"))
	assert.False(t, e.Timestamp.IsZero())
}

func TestError_IncludesCause(t *testing.T) {
	e := Error("orchestrator", "cycle failed", assert.AnError)
	assert.Equal(t, EventError, e.Type)
	assert.Equal(t, assert.AnError.Error(), e.String("error"))
	assert.Empty(t, Error("x", "y", nil).String("error"))
}
