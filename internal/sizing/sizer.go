// Package sizing computes entry and re-entry orders for grid/DCA positions
// against a wallet-exposure ceiling.
//
// The search and convergence math runs on float64; requests and results are
// decimal values snapped to the symbol's quantity and price steps.
package sizing

import (
	"math"

	"cryptoblade/internal/models"

	"github.com/shopspring/decimal"
)

// EntryRequest carries everything a sizer needs to place the next entry on one leg.
type EntryRequest struct {
	Side          models.PositionSide
	Balance       decimal.Decimal
	PositionSize  decimal.Decimal
	PositionPrice decimal.Decimal
	// BestPrice is the highest bid for a long leg and the lowest ask for a short leg.
	BestPrice decimal.Decimal

	QtyStep   decimal.Decimal
	PriceStep decimal.Decimal
	MinQty    decimal.Decimal
	MinCost   decimal.Decimal

	InitialQtyPct            decimal.Decimal
	DDownFactor              decimal.Decimal
	ReentryPriceDistance     decimal.Decimal
	ReentryDistanceWeighting decimal.Decimal
	WalletExposureLimit      decimal.Decimal
}

// Sizer computes the next entry for a leg. A zero-quantity result means "no entry now".
type Sizer interface {
	Name() string
	NextEntry(req EntryRequest) models.GridPosition
}

// New returns the sizer registered under name, or nil.
func New(name string, dcaOrdersCount int) Sizer {
	switch name {
	case RecursiveGridName:
		return RecursiveGrid{}
	case FixedFractionName:
		return FixedFraction{OrdersCount: dcaOrdersCount}
	default:
		return nil
	}
}

// floatParams is the float view of an EntryRequest used by the search math.
type floatParams struct {
	long          bool
	balance       float64
	psize         float64
	pprice        float64
	best          float64
	qtyStep       float64
	priceStep     float64
	minQty        float64
	minCost       float64
	initialQtyPct float64
	ddownFactor   float64
	distance      float64
	weighting     float64
	wel           float64
}

func (r EntryRequest) floats() floatParams {
	return floatParams{
		long:          r.Side != models.PositionSideShort,
		balance:       r.Balance.InexactFloat64(),
		psize:         r.PositionSize.Abs().InexactFloat64(),
		pprice:        r.PositionPrice.InexactFloat64(),
		best:          r.BestPrice.InexactFloat64(),
		qtyStep:       r.QtyStep.InexactFloat64(),
		priceStep:     r.PriceStep.InexactFloat64(),
		minQty:        r.MinQty.InexactFloat64(),
		minCost:       r.MinCost.InexactFloat64(),
		initialQtyPct: r.InitialQtyPct.InexactFloat64(),
		ddownFactor:   r.DDownFactor.InexactFloat64(),
		distance:      r.ReentryPriceDistance.InexactFloat64(),
		weighting:     r.ReentryDistanceWeighting.InexactFloat64(),
		wel:           r.WalletExposureLimit.InexactFloat64(),
	}
}

// toGridPosition snaps float results onto the request's steps.
func (r EntryRequest) toGridPosition(qty, price float64) models.GridPosition {
	if !(qty > 0) || math.IsInf(qty, 0) || !(price > 0) || math.IsInf(price, 0) {
		return models.GridPosition{Quantity: decimal.Zero, Price: decimal.Zero}
	}
	return models.GridPosition{
		Quantity: SnapToStep(decimal.NewFromFloat(qty), r.QtyStep),
		Price:    SnapToStep(decimal.NewFromFloat(price), r.PriceStep),
	}
}
