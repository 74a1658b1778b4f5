package binance

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"cryptoblade/internal/models"
)

var (
	// ErrSymbolNotFound is returned when a symbol is not listed by the exchange
	ErrSymbolNotFound = errors.New("symbol not found")
	// ErrNoTicker is returned when no book ticker is known for a symbol yet
	ErrNoTicker = errors.New("no ticker")
)

// Exchange is the REST collaborator the engine trades through. Every call takes a
// context; transient failures are retried inside the implementation until the
// context ends.
type Exchange interface {
	// ==================== SETUP ====================

	SetLeverage(ctx context.Context, symbol string, leverage int) error
	// SwitchPositionMode enables hedge mode when hedge is true
	SwitchPositionMode(ctx context.Context, hedge bool) error

	// ==================== TRADING ====================

	CancelOrder(ctx context.Context, symbol, orderID string) error
	PlaceLimitBuyOrder(ctx context.Context, req models.OrderRequest) (models.Order, error)
	PlaceLimitSellOrder(ctx context.Context, req models.OrderRequest) (models.Order, error)
	PlaceMarketBuyOrder(ctx context.Context, req models.OrderRequest) (models.Order, error)
	PlaceMarketSellOrder(ctx context.Context, req models.OrderRequest) (models.Order, error)
	// PlaceLongTakeProfitOrder places a reduce-only limit sell closing (part of) the long leg
	PlaceLongTakeProfitOrder(ctx context.Context, req models.OrderRequest) (models.Order, error)
	// PlaceShortTakeProfitOrder places a reduce-only limit buy closing (part of) the short leg
	PlaceShortTakeProfitOrder(ctx context.Context, req models.OrderRequest) (models.Order, error)

	// ==================== ACCOUNT ====================

	GetBalances(ctx context.Context) (models.Balance, error)
	// GetOrders returns all open orders across symbols
	GetOrders(ctx context.Context) ([]models.Order, error)
	// GetPositions returns every non-empty hedge-mode leg
	GetPositions(ctx context.Context) ([]models.Position, error)

	// ==================== MARKET DATA ====================

	// GetSymbolInfo returns every perpetual contract currently trading
	GetSymbolInfo(ctx context.Context) ([]models.SymbolInfo, error)
	// GetKlines returns the latest closed candles, oldest first
	GetKlines(ctx context.Context, symbol, interval string, limit int) ([]models.Candle, error)
	GetTicker(ctx context.Context, symbol string) (models.Ticker, error)
}

// Subscription is a live stream handle. Close stops reconnecting and releases the connection.
type Subscription interface {
	Close() error
}

// Streams is the push collaborator. Handlers run on the stream's goroutine and
// must not block.
type Streams interface {
	SubscribeWallet(ctx context.Context, handler func(models.Balance)) (Subscription, error)
	SubscribeOrders(ctx context.Context, handler func(models.Order)) (Subscription, error)
	// SubscribeKlines delivers closed candles only
	SubscribeKlines(ctx context.Context, symbols []string, interval string, handler func(symbol string, candle models.Candle)) (Subscription, error)
	SubscribeTickers(ctx context.Context, symbols []string, handler func(models.Ticker)) (Subscription, error)
}

// APIError is a non-2xx response from the exchange
type APIError struct {
	StatusCode int    `json:"-"`
	Code       int    `json:"code"`
	Message    string `json:"msg"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("binance api error: status=%d code=%d msg=%s", e.StatusCode, e.Code, e.Message)
}

// Transient error codes worth retrying
const (
	codeDisconnected        = -1001
	codeTooManyRequests     = -1003
	codeTooManyOrders       = -1015
	codeServiceShuttingDown = -1016
	codeNoNeedToChangeMode  = -4059
	codeNoNeedToChangeLev   = -4028
	codeUnknownOrder        = -2011
)

// IsRetryable reports whether the request may succeed if repeated: rate limits,
// IP bans, server errors and the transient Binance codes.
func (e *APIError) IsRetryable() bool {
	if e.StatusCode == http.StatusTooManyRequests || e.StatusCode == http.StatusTeapot || e.StatusCode >= 500 {
		return true
	}
	switch e.Code {
	case codeDisconnected, codeTooManyRequests, codeTooManyOrders, codeServiceShuttingDown:
		return true
	}
	return false
}

// IsRateLimit reports a 429/418 or the too-many-requests code
func (e *APIError) IsRateLimit() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode == http.StatusTeapot || e.Code == codeTooManyRequests
}

// IsAPICode reports whether err is an APIError carrying code
func IsAPICode(err error, code int) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Code == code
}
