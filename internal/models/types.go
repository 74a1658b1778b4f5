package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// ==================== ENUMS ====================

// PositionSide identifies a hedge-mode leg
type PositionSide string

const (
	PositionSideLong  PositionSide = "LONG"
	PositionSideShort PositionSide = "SHORT"
)

// Opposite returns the other leg
func (s PositionSide) Opposite() PositionSide {
	if s == PositionSideLong {
		return PositionSideShort
	}
	return PositionSideLong
}

// OrderSide is the direction of an order
type OrderSide string

const (
	OrderSideBuy  OrderSide = "BUY"
	OrderSideSell OrderSide = "SELL"
)

// OrderType distinguishes limit and market orders
type OrderType string

const (
	OrderTypeLimit  OrderType = "LIMIT"
	OrderTypeMarket OrderType = "MARKET"
)

// OrderStatus mirrors the exchange order lifecycle
type OrderStatus string

const (
	OrderStatusNew             OrderStatus = "NEW"
	OrderStatusPartiallyFilled OrderStatus = "PARTIALLY_FILLED"
	OrderStatusFilled          OrderStatus = "FILLED"
	OrderStatusCanceled        OrderStatus = "CANCELED"
	OrderStatusRejected        OrderStatus = "REJECTED"
	OrderStatusExpired         OrderStatus = "EXPIRED"
)

// IsOpen reports whether the order can still fill
func (s OrderStatus) IsOpen() bool {
	return s == OrderStatusNew || s == OrderStatusPartiallyFilled
}

// ==================== MARKET TYPES ====================

// SymbolInfo is immutable contract metadata fetched once per symbol
type SymbolInfo struct {
	Name        string          `json:"name"`
	BaseAsset   string          `json:"base_asset"`
	QuoteAsset  string          `json:"quote_asset"`
	PriceScale  int32           `json:"price_scale"`
	PriceStep   decimal.Decimal `json:"price_step"`
	MinQty      decimal.Decimal `json:"min_qty"`
	QtyStep     decimal.Decimal `json:"qty_step"`
	MaxQty      decimal.Decimal `json:"max_qty"`      // zero means unlimited
	MinNotional decimal.Decimal `json:"min_notional"` // minimum order cost
	MaxLeverage int             `json:"max_leverage"`
	LaunchTime  time.Time       `json:"launch_time"`
}

// Candle is one closed kline
type Candle struct {
	OpenTime    time.Time       `json:"open_time"`
	Open        decimal.Decimal `json:"open"`
	High        decimal.Decimal `json:"high"`
	Low         decimal.Decimal `json:"low"`
	Close       decimal.Decimal `json:"close"`
	Volume      decimal.Decimal `json:"volume"`
	QuoteVolume decimal.Decimal `json:"quote_volume"`
}

// Ticker is the best bid/ask snapshot for a symbol
type Ticker struct {
	Symbol      string              `json:"symbol"`
	BestBid     decimal.Decimal     `json:"best_bid"`
	BestAsk     decimal.Decimal     `json:"best_ask"`
	LastPrice   decimal.Decimal     `json:"last_price"`
	FundingRate decimal.NullDecimal `json:"funding_rate"`
	Timestamp   time.Time           `json:"timestamp"`
}

// MidPrice returns the bid/ask midpoint, falling back to the last price
func (t Ticker) MidPrice() decimal.Decimal {
	if t.BestBid.IsPositive() && t.BestAsk.IsPositive() {
		return t.BestBid.Add(t.BestAsk).Div(decimal.NewFromInt(2))
	}
	return t.LastPrice
}

// ==================== ACCOUNT TYPES ====================

// Position is one leg of a hedge-mode position. Replaced wholesale on refresh.
type Position struct {
	Symbol       string          `json:"symbol"`
	Side         PositionSide    `json:"side"`
	Quantity     decimal.Decimal `json:"quantity"`
	AveragePrice decimal.Decimal `json:"average_price"`
	CreateTime   time.Time       `json:"create_time"`
	UpdateTime   time.Time       `json:"update_time"`
}

// Notional returns quantity times average price
func (p Position) Notional() decimal.Decimal {
	return p.Quantity.Abs().Mul(p.AveragePrice)
}

// Order is an exchange order as seen by the engine
type Order struct {
	ID             string          `json:"id"`
	ClientOrderID  string          `json:"client_order_id"`
	Symbol         string          `json:"symbol"`
	Side           OrderSide       `json:"side"`
	PositionSide   PositionSide    `json:"position_side"`
	Type           OrderType       `json:"type"`
	Price          decimal.Decimal `json:"price"`
	Quantity       decimal.Decimal `json:"quantity"`
	FilledQuantity decimal.Decimal `json:"filled_quantity"`
	Status         OrderStatus     `json:"status"`
	ReduceOnly     bool            `json:"reduce_only"`
	CreateTime     time.Time       `json:"create_time"`
}

// IsEntry reports whether the order opens or extends its leg
func (o Order) IsEntry() bool {
	return !o.ReduceOnly
}

// Balance is the shared wallet snapshot
type Balance struct {
	Equity          decimal.Decimal `json:"equity"`
	WalletBalance   decimal.Decimal `json:"wallet_balance"`
	UnrealizedPnl   decimal.Decimal `json:"unrealized_pnl"`
	RealizedPnl     decimal.Decimal `json:"realized_pnl"`
	UpdateTimestamp time.Time       `json:"update_timestamp"`
}

// HasWallet reports whether exposure figures can be computed against this balance
func (b Balance) HasWallet() bool {
	return b.WalletBalance.IsPositive()
}

// WalletExposure returns notional / wallet balance, or null when the wallet is unknown or not positive
func (b Balance) WalletExposure(notional decimal.Decimal) decimal.NullDecimal {
	if !b.HasWallet() {
		return decimal.NullDecimal{}
	}
	return decimal.NewNullDecimal(notional.Div(b.WalletBalance))
}

// GridPosition is the sizer output; zero quantity means no entry now
type GridPosition struct {
	Quantity decimal.Decimal `json:"quantity"`
	Price    decimal.Decimal `json:"price"`
}

// IsZero reports whether the sizer declined to enter
func (g GridPosition) IsZero() bool {
	return !g.Quantity.IsPositive()
}

// ==================== INTERVALS ====================

var intervalDurations = map[string]time.Duration{
	"1m":  time.Minute,
	"3m":  3 * time.Minute,
	"5m":  5 * time.Minute,
	"15m": 15 * time.Minute,
	"30m": 30 * time.Minute,
	"1h":  time.Hour,
	"2h":  2 * time.Hour,
	"4h":  4 * time.Hour,
	"6h":  6 * time.Hour,
	"8h":  8 * time.Hour,
	"12h": 12 * time.Hour,
	"1d":  24 * time.Hour,
}

// IntervalDuration maps a kline interval such as "1m" to its duration
func IntervalDuration(interval string) (time.Duration, bool) {
	d, ok := intervalDurations[interval]
	return d, ok
}

// ==================== ORDER REQUESTS ====================

// OrderRequest is what the engine asks the exchange to place
type OrderRequest struct {
	Symbol        string          `json:"symbol"`
	PositionSide  PositionSide    `json:"position_side"`
	Quantity      decimal.Decimal `json:"quantity"`
	Price         decimal.Decimal `json:"price"` // ignored for market orders
	ReduceOnly    bool            `json:"reduce_only"`
	ClientOrderID string          `json:"client_order_id"`
}
