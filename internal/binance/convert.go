package binance

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"cryptoblade/internal/models"

	"github.com/shopspring/decimal"
)

func msToTime(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}

func parseDecimal(s string) decimal.Decimal {
	if s == "" {
		return decimal.Zero
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

// toSymbolInfo converts exchange info, pulling steps and minimums from the filters
func toSymbolInfo(s FuturesSymbolInfo) models.SymbolInfo {
	info := models.SymbolInfo{
		Name:       s.Symbol,
		BaseAsset:  s.BaseAsset,
		QuoteAsset: s.QuoteAsset,
		PriceScale: s.PricePrecision,
		LaunchTime: msToTime(s.OnboardDate),
	}
	for _, f := range s.Filters {
		switch f.FilterType {
		case filterPrice:
			info.PriceStep = parseDecimal(f.TickSize)
		case filterLotSize:
			info.QtyStep = parseDecimal(f.StepSize)
			info.MinQty = parseDecimal(f.MinQty)
			info.MaxQty = parseDecimal(f.MaxQty)
		case filterMinNotional:
			info.MinNotional = parseDecimal(f.Notional)
		}
	}
	return info
}

func isTradablePerpetual(s FuturesSymbolInfo) bool {
	return s.ContractType == contractTypePerpetual && s.Status == symbolStatusTrading
}

// toPosition converts a positionRisk row. One-way rows (BOTH) are mapped by sign.
func toPosition(p FuturesPosition) (models.Position, bool) {
	if p.PositionAmt.IsZero() {
		return models.Position{}, false
	}
	side := models.PositionSideLong
	switch PositionSide(p.PositionSide) {
	case PositionSideShort:
		side = models.PositionSideShort
	case PositionSideBoth:
		if p.PositionAmt.IsNegative() {
			side = models.PositionSideShort
		}
	}
	return models.Position{
		Symbol:       p.Symbol,
		Side:         side,
		Quantity:     p.PositionAmt.Abs(),
		AveragePrice: p.EntryPrice,
		UpdateTime:   msToTime(p.UpdateTime),
	}, true
}

func toOrder(o FuturesOrder) models.Order {
	created := o.Time
	if created == 0 {
		created = o.UpdateTime
	}
	return models.Order{
		ID:             fmt.Sprintf("%d", o.OrderID),
		ClientOrderID:  o.ClientOrderID,
		Symbol:         o.Symbol,
		Side:           models.OrderSide(o.Side),
		PositionSide:   models.PositionSide(o.PositionSide),
		Type:           models.OrderType(o.Type),
		Price:          o.Price,
		Quantity:       o.OrigQty,
		FilledQuantity: o.ExecutedQty,
		Status:         models.OrderStatus(o.Status),
		ReduceOnly:     o.ReduceOnly || isCloseOrder(o),
		CreateTime:     msToTime(created),
	}
}

// isCloseOrder detects hedge-mode closes, which Binance never flags reduceOnly:
// a sell on the long leg or a buy on the short leg.
func isCloseOrder(o FuturesOrder) bool {
	switch PositionSide(o.PositionSide) {
	case PositionSideLong:
		return o.Side == "SELL"
	case PositionSideShort:
		return o.Side == "BUY"
	}
	return false
}

// parseKline decodes one row of /fapi/v1/klines:
// [openTime, open, high, low, close, volume, closeTime, quoteVolume, ...]
func parseKline(raw []json.RawMessage) (models.Candle, error) {
	if len(raw) < 8 {
		return models.Candle{}, fmt.Errorf("kline row has %d fields", len(raw))
	}
	var openTime int64
	if err := json.Unmarshal(raw[0], &openTime); err != nil {
		return models.Candle{}, fmt.Errorf("kline open time: %w", err)
	}
	fields := make([]decimal.Decimal, 0, 6)
	for _, idx := range []int{1, 2, 3, 4, 5, 7} {
		var d decimal.Decimal
		if err := json.Unmarshal(raw[idx], &d); err != nil {
			return models.Candle{}, fmt.Errorf("kline field %d: %w", idx, err)
		}
		fields = append(fields, d)
	}
	return models.Candle{
		OpenTime:    msToTime(openTime),
		Open:        fields[0],
		High:        fields[1],
		Low:         fields[2],
		Close:       fields[3],
		Volume:      fields[4],
		QuoteVolume: fields[5],
	}, nil
}

// streamSymbol is the lowercase form used in stream names
func streamSymbol(symbol string) string {
	return strings.ToLower(symbol)
}
