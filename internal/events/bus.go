package events

import (
	"sync"
	"time"

	"cryptoblade/internal/models"
)

// EventType represents different types of events in the system
type EventType string

const (
	EventOrderPlaced      EventType = "ORDER_PLACED"
	EventOrderCancelled   EventType = "ORDER_CANCELLED"
	EventOrderUpdate      EventType = "ORDER_UPDATE"
	EventUnstuckTriggered EventType = "UNSTUCK_TRIGGERED"
	EventSymbolExcluded   EventType = "SYMBOL_EXCLUDED"
	EventSymbolAdmitted   EventType = "SYMBOL_ADMITTED"
	EventCycleCompleted   EventType = "CYCLE_COMPLETED"
	EventBalanceUpdate    EventType = "BALANCE_UPDATE"
	EventError            EventType = "ERROR"
)

// Event represents a system event
type Event struct {
	Type      EventType              `json:"type"`
	Timestamp time.Time              `json:"timestamp"`
	Data      map[string]interface{} `json:"data"`
}

// String returns a string field from Data, or "".
func (e Event) String(key string) string {
	v, _ := e.Data[key].(string)
	return v
}

// Subscriber is a function that handles events
type Subscriber func(Event)

// Publisher is the write side of the bus.
type Publisher interface {
	Publish(event Event)
}

// EventBus manages event publishing and subscriptions
type EventBus struct {
	mu          sync.RWMutex
	subscribers map[EventType][]Subscriber
	allSubs     []Subscriber // Subscribers to all events
}

// NewEventBus creates a new event bus
func NewEventBus() *EventBus {
	return &EventBus{
		subscribers: make(map[EventType][]Subscriber),
		allSubs:     make([]Subscriber, 0),
	}
}

// Subscribe registers a subscriber for a specific event type
func (eb *EventBus) Subscribe(eventType EventType, subscriber Subscriber) {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	eb.subscribers[eventType] = append(eb.subscribers[eventType], subscriber)
}

// SubscribeAll registers a subscriber for all events
func (eb *EventBus) SubscribeAll(subscriber Subscriber) {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	eb.allSubs = append(eb.allSubs, subscriber)
}

// Publish sends an event to all subscribers. Each subscriber runs in its own goroutine.
func (eb *EventBus) Publish(event Event) {
	eb.mu.RLock()
	defer eb.mu.RUnlock()

	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	if subs, ok := eb.subscribers[event.Type]; ok {
		for _, sub := range subs {
			go sub(event)
		}
	}

	for _, sub := range eb.allSubs {
		go sub(event)
	}
}

// ==================== EVENT CONSTRUCTORS ====================

func orderData(order models.Order) map[string]interface{} {
	return map[string]interface{}{
		"order_id":        order.ID,
		"client_order_id": order.ClientOrderID,
		"symbol":          order.Symbol,
		"side":            string(order.Side),
		"position_side":   string(order.PositionSide),
		"order_type":      string(order.Type),
		"status":          string(order.Status),
		"price":           order.Price.String(),
		"quantity":        order.Quantity.String(),
		"filled_quantity": order.FilledQuantity.String(),
		"reduce_only":     order.ReduceOnly,
	}
}

// OrderPlaced builds an order placed event. reason says which engine path placed it.
func OrderPlaced(order models.Order, reason string) Event {
	data := orderData(order)
	data["reason"] = reason
	return Event{Type: EventOrderPlaced, Data: data}
}

func OrderCancelled(symbol, orderID, reason string) Event {
	return Event{
		Type: EventOrderCancelled,
		Data: map[string]interface{}{
			"symbol":   symbol,
			"order_id": orderID,
			"reason":   reason,
		},
	}
}

// OrderUpdate wraps an order update pushed by the exchange stream.
func OrderUpdate(order models.Order) Event {
	return Event{Type: EventOrderUpdate, Data: orderData(order)}
}

func UnstuckTriggered(symbol string, side models.PositionSide, force, kill bool) Event {
	return Event{
		Type: EventUnstuckTriggered,
		Data: map[string]interface{}{
			"symbol": symbol,
			"side":   string(side),
			"force":  force,
			"kill":   kill,
		},
	}
}

func SymbolExcluded(symbol, reason string) Event {
	return Event{
		Type: EventSymbolExcluded,
		Data: map[string]interface{}{
			"symbol": symbol,
			"reason": reason,
		},
	}
}

func SymbolAdmitted(symbol string, side models.PositionSide) Event {
	return Event{
		Type: EventSymbolAdmitted,
		Data: map[string]interface{}{
			"symbol": symbol,
			"side":   string(side),
		},
	}
}

// CycleCompleted carries the aggregate figures of one orchestrator cycle.
func CycleCompleted(cycle int64, duration time.Duration, longExposure, shortExposure, pnlPct string, openLong, openShort int) Event {
	return Event{
		Type: EventCycleCompleted,
		Data: map[string]interface{}{
			"cycle":          cycle,
			"duration_ms":    duration.Milliseconds(),
			"long_exposure":  longExposure,
			"short_exposure": shortExposure,
			"pnl_pct":        pnlPct,
			"open_long":      openLong,
			"open_short":     openShort,
		},
	}
}

func BalanceUpdate(balance models.Balance) Event {
	return Event{
		Type: EventBalanceUpdate,
		Data: map[string]interface{}{
			"wallet_balance": balance.WalletBalance.String(),
			"equity":         balance.Equity.String(),
			"unrealized_pnl": balance.UnrealizedPnl.String(),
		},
	}
}

// Error publishes an error event
func Error(source, message string, err error) Event {
	data := map[string]interface{}{
		"source":  source,
		"message": message,
	}
	if err != nil {
		data["error"] = err.Error()
	}
	return Event{Type: EventError, Data: data}
}
