package binance

import (
	"github.com/shopspring/decimal"
)

// Wire values as Binance USDT-M futures sends them. Numeric strings decode
// straight into decimal.Decimal.

// PositionSide is the hedge-mode leg on the wire
type PositionSide string

const (
	PositionSideBoth  PositionSide = "BOTH"
	PositionSideLong  PositionSide = "LONG"
	PositionSideShort PositionSide = "SHORT"
)

// FuturesOrderType represents futures order types
type FuturesOrderType string

const (
	FuturesOrderTypeLimit  FuturesOrderType = "LIMIT"
	FuturesOrderTypeMarket FuturesOrderType = "MARKET"
)

// TimeInForce represents time in force options
type TimeInForce string

const (
	TimeInForceGTC TimeInForce = "GTC"
	TimeInForceGTX TimeInForce = "GTX" // post only
)

const (
	contractTypePerpetual = "PERPETUAL"
	symbolStatusTrading   = "TRADING"

	filterPrice       = "PRICE_FILTER"
	filterLotSize     = "LOT_SIZE"
	filterMinNotional = "MIN_NOTIONAL"
)

// ==================== ACCOUNT TYPES ====================

// FuturesAccountInfo is the subset of /fapi/v2/account the engine reads
type FuturesAccountInfo struct {
	TotalWalletBalance    decimal.Decimal `json:"totalWalletBalance"`
	TotalUnrealizedProfit decimal.Decimal `json:"totalUnrealizedProfit"`
	TotalMarginBalance    decimal.Decimal `json:"totalMarginBalance"`
	AvailableBalance      decimal.Decimal `json:"availableBalance"`
	UpdateTime            int64           `json:"updateTime"`
}

// FuturesPosition represents a futures position from positionRisk endpoint
type FuturesPosition struct {
	Symbol           string          `json:"symbol"`
	PositionAmt      decimal.Decimal `json:"positionAmt"`
	EntryPrice       decimal.Decimal `json:"entryPrice"`
	MarkPrice        decimal.Decimal `json:"markPrice"`
	UnrealizedProfit decimal.Decimal `json:"unRealizedProfit"`
	PositionSide     string          `json:"positionSide"`
	UpdateTime       int64           `json:"updateTime"`
}

// ==================== ORDER TYPES ====================

// FuturesOrder represents a futures order as returned by order and openOrders endpoints
type FuturesOrder struct {
	OrderID       int64           `json:"orderId"`
	Symbol        string          `json:"symbol"`
	Status        string          `json:"status"`
	ClientOrderID string          `json:"clientOrderId"`
	Price         decimal.Decimal `json:"price"`
	AvgPrice      decimal.Decimal `json:"avgPrice"`
	OrigQty       decimal.Decimal `json:"origQty"`
	ExecutedQty   decimal.Decimal `json:"executedQty"`
	Type          string          `json:"type"`
	ReduceOnly    bool            `json:"reduceOnly"`
	Side          string          `json:"side"`
	PositionSide  string          `json:"positionSide"`
	Time          int64           `json:"time"`
	UpdateTime    int64           `json:"updateTime"`
}

// ==================== MARKET DATA TYPES ====================

// BookTicker is the best bid/ask from /fapi/v1/ticker/bookTicker
type BookTicker struct {
	Symbol   string          `json:"symbol"`
	BidPrice decimal.Decimal `json:"bidPrice"`
	AskPrice decimal.Decimal `json:"askPrice"`
	Time     int64           `json:"time"`
}

// PremiumIndex carries mark price and funding from /fapi/v1/premiumIndex
type PremiumIndex struct {
	Symbol          string          `json:"symbol"`
	MarkPrice       decimal.Decimal `json:"markPrice"`
	LastFundingRate decimal.Decimal `json:"lastFundingRate"`
	NextFundingTime int64           `json:"nextFundingTime"`
	Time            int64           `json:"time"`
}

// ==================== SYMBOL INFO TYPES ====================

// FuturesSymbolFilter represents a filter from the symbol's filters array
type FuturesSymbolFilter struct {
	FilterType string `json:"filterType"`
	TickSize   string `json:"tickSize,omitempty"`
	MinQty     string `json:"minQty,omitempty"`
	MaxQty     string `json:"maxQty,omitempty"`
	StepSize   string `json:"stepSize,omitempty"`
	Notional   string `json:"notional,omitempty"`
}

// FuturesSymbolInfo represents futures symbol information
type FuturesSymbolInfo struct {
	Symbol         string                `json:"symbol"`
	ContractType   string                `json:"contractType"`
	OnboardDate    int64                 `json:"onboardDate"`
	Status         string                `json:"status"`
	BaseAsset      string                `json:"baseAsset"`
	QuoteAsset     string                `json:"quoteAsset"`
	PricePrecision int32                 `json:"pricePrecision"`
	Filters        []FuturesSymbolFilter `json:"filters"`
}

// FuturesExchangeInfo represents futures exchange information
type FuturesExchangeInfo struct {
	ServerTime int64               `json:"serverTime"`
	Symbols    []FuturesSymbolInfo `json:"symbols"`
}

// LeverageBracket is one entry of /fapi/v1/leverageBracket
type LeverageBracket struct {
	Symbol   string `json:"symbol"`
	Brackets []struct {
		InitialLeverage int `json:"initialLeverage"`
	} `json:"brackets"`
}

// ==================== LISTEN KEY ====================

// ListenKeyResponse represents response from listen key endpoints
type ListenKeyResponse struct {
	ListenKey string `json:"listenKey"`
}
