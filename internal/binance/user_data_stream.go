package binance

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"cryptoblade/internal/models"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// Listen keys expire after 60 minutes without a keepalive
const listenKeyKeepAlive = 15 * time.Minute

const quoteAsset = "USDT"

type listenKeyClient interface {
	CreateListenKey(ctx context.Context) (string, error)
	KeepAliveListenKey(ctx context.Context) error
	CloseListenKey(ctx context.Context) error
}

// AccountUpdateEvent represents a ACCOUNT_UPDATE event from the stream
type AccountUpdateEvent struct {
	EventType       string `json:"e"`
	EventTime       int64  `json:"E"`
	TransactionTime int64  `json:"T"`
	AccountUpdate   struct {
		EventReasonType string          `json:"m"` // DEPOSIT, WITHDRAW, ORDER, FUNDING_FEE, etc.
		Balances        []BalanceUpdate `json:"B"`
	} `json:"a"`
}

type BalanceUpdate struct {
	Asset              string          `json:"a"`
	WalletBalance      decimal.Decimal `json:"wb"`
	CrossWalletBalance decimal.Decimal `json:"cw"`
	BalanceChange      decimal.Decimal `json:"bc"`
}

// OrderUpdateEvent represents an ORDER_TRADE_UPDATE event from the stream
type OrderUpdateEvent struct {
	EventType       string          `json:"e"`
	EventTime       int64           `json:"E"`
	TransactionTime int64           `json:"T"`
	Order           OrderUpdateData `json:"o"`
}

type OrderUpdateData struct {
	Symbol              string          `json:"s"`
	ClientOrderID       string          `json:"c"`
	Side                string          `json:"S"`
	OrderType           string          `json:"o"`
	OriginalQuantity    decimal.Decimal `json:"q"`
	OriginalPrice       decimal.Decimal `json:"p"`
	AveragePrice        decimal.Decimal `json:"ap"`
	ExecutionType       string          `json:"x"` // NEW, TRADE, CANCELED, etc.
	OrderStatus         string          `json:"X"`
	ActivationPrice     decimal.Decimal `json:"AP"`
	OrderID             int64           `json:"i"`
	CumulativeFilledQty decimal.Decimal `json:"z"`
	OrderTradeTime      int64           `json:"T"`
	TradeID             int64           `json:"t"`
	IsReduceOnly        bool            `json:"R"`
	RealizedProfit      decimal.Decimal `json:"rp"`
	PositionSide        string          `json:"ps"`
}

func (o OrderUpdateData) toFuturesOrder() FuturesOrder {
	return FuturesOrder{
		OrderID:       o.OrderID,
		Symbol:        o.Symbol,
		Status:        o.OrderStatus,
		ClientOrderID: o.ClientOrderID,
		Price:         o.OriginalPrice,
		AvgPrice:      o.AveragePrice,
		OrigQty:       o.OriginalQuantity,
		ExecutedQty:   o.CumulativeFilledQty,
		Type:          o.OrderType,
		ReduceOnly:    o.IsReduceOnly,
		Side:          o.Side,
		PositionSide:  o.PositionSide,
		UpdateTime:    o.OrderTradeTime,
	}
}

// UserDataStream handles the Binance Futures User Data WebSocket stream and fans
// wallet and order updates out to registered handlers.
type UserDataStream struct {
	client  listenKeyClient
	baseURL string
	logger  zerolog.Logger

	mu             sync.RWMutex
	listenKey      string
	walletHandlers map[int]func(models.Balance)
	orderHandlers  map[int]func(models.Order)
	nextID         int
	conn           *wsConn
	stopKeepAlive  context.CancelFunc
}

// NewUserDataStream creates a new user data stream
func NewUserDataStream(client listenKeyClient, baseURL string, logger zerolog.Logger) *UserDataStream {
	return &UserDataStream{
		client:         client,
		baseURL:        baseURL,
		logger:         logger.With().Str("component", "user_data_stream").Logger(),
		walletHandlers: make(map[int]func(models.Balance)),
		orderHandlers:  make(map[int]func(models.Order)),
	}
}

// Start obtains a listen key and connects. Calling Start on a running stream is a no-op.
func (s *UserDataStream) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn != nil {
		return nil
	}

	listenKey, err := s.client.CreateListenKey(ctx)
	if err != nil {
		return fmt.Errorf("start user data stream: %w", err)
	}
	s.listenKey = listenKey

	// the stream outlives the caller's request context
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s.stopKeepAlive = cancel
	s.conn = startWSConn(runCtx, "user_data", s.url, 0, s.handleMessage, s.logger)
	go s.keepAliveLoop(runCtx)
	return nil
}

// Stop closes the connection and the listen key
func (s *UserDataStream) Stop() {
	s.mu.Lock()
	conn := s.conn
	cancel := s.stopKeepAlive
	s.conn = nil
	s.stopKeepAlive = nil
	s.mu.Unlock()

	if conn == nil {
		return
	}
	cancel()
	_ = conn.Close()

	ctx, done := context.WithTimeout(context.Background(), 5*time.Second)
	defer done()
	if err := s.client.CloseListenKey(ctx); err != nil {
		s.logger.Debug().Err(err).Msg("Failed to close listen key")
	}
	s.logger.Info().Msg("User data stream stopped")
}

func (s *UserDataStream) url() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.baseURL + "/ws/" + s.listenKey
}

// AddWalletHandler registers h and returns its removal func
func (s *UserDataStream) AddWalletHandler(h func(models.Balance)) func() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextID
	s.nextID++
	s.walletHandlers[id] = h
	return func() int { return s.remove(id) }
}

// AddOrderHandler registers h and returns its removal func
func (s *UserDataStream) AddOrderHandler(h func(models.Order)) func() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextID
	s.nextID++
	s.orderHandlers[id] = h
	return func() int { return s.remove(id) }
}

// remove drops a handler and returns how many remain
func (s *UserDataStream) remove(id int) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.walletHandlers, id)
	delete(s.orderHandlers, id)
	return len(s.walletHandlers) + len(s.orderHandlers)
}

func (s *UserDataStream) handleMessage(message []byte) {
	var base struct {
		EventType string `json:"e"`
	}
	if err := json.Unmarshal(message, &base); err != nil {
		s.logger.Warn().Err(err).Msg("Failed to parse event type")
		return
	}

	switch base.EventType {
	case "ACCOUNT_UPDATE":
		s.handleAccountUpdate(message)
	case "ORDER_TRADE_UPDATE":
		s.handleOrderUpdate(message)
	case "listenKeyExpired":
		s.logger.Warn().Msg("Listen key expired, refreshing")
		s.refreshListenKey()
	case "MARGIN_CALL":
		s.logger.Error().Msg("Margin call received")
	}
}

func (s *UserDataStream) handleAccountUpdate(message []byte) {
	var event AccountUpdateEvent
	if err := json.Unmarshal(message, &event); err != nil {
		s.logger.Warn().Err(err).Msg("Failed to parse ACCOUNT_UPDATE")
		return
	}

	for _, b := range event.AccountUpdate.Balances {
		if b.Asset != quoteAsset {
			continue
		}
		balance := models.Balance{
			WalletBalance:   b.WalletBalance,
			UpdateTimestamp: msToTime(event.EventTime),
		}
		s.logger.Debug().Str("wallet", b.WalletBalance.String()).Str("change", b.BalanceChange.String()).
			Str("reason", event.AccountUpdate.EventReasonType).Msg("Balance updated")

		s.mu.RLock()
		for _, h := range s.walletHandlers {
			h(balance)
		}
		s.mu.RUnlock()
	}
}

func (s *UserDataStream) handleOrderUpdate(message []byte) {
	var event OrderUpdateEvent
	if err := json.Unmarshal(message, &event); err != nil {
		s.logger.Warn().Err(err).Msg("Failed to parse ORDER_TRADE_UPDATE")
		return
	}
	order := toOrder(event.Order.toFuturesOrder())

	s.logger.Debug().Str("symbol", order.Symbol).Str("side", string(order.Side)).
		Str("execution", event.Order.ExecutionType).Str("status", string(order.Status)).Msg("Order update")

	s.mu.RLock()
	for _, h := range s.orderHandlers {
		h(order)
	}
	s.mu.RUnlock()
}

func (s *UserDataStream) keepAliveLoop(ctx context.Context) {
	ticker := time.NewTicker(listenKeyKeepAlive)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			// the client retries transient failures until the next keepalive is due
			callCtx, cancel := context.WithTimeout(ctx, listenKeyKeepAlive)
			err := s.client.KeepAliveListenKey(callCtx)
			cancel()
			if err != nil && ctx.Err() == nil {
				s.logger.Error().Err(err).Msg("Listen key keepalive failed, refreshing")
				s.refreshListenKey()
			}
		}
	}
}

// refreshListenKey gets a new listen key and reconnects
func (s *UserDataStream) refreshListenKey() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	listenKey, err := s.client.CreateListenKey(ctx)
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to refresh listen key")
		return
	}

	s.mu.Lock()
	s.listenKey = listenKey
	conn := s.conn
	s.mu.Unlock()

	if conn != nil {
		conn.reconnect()
	}
}
