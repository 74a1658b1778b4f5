package sizing

import (
	"math"

	"cryptoblade/internal/models"
)

const FixedFractionName = "fixed_fraction"

// FixedFraction splits the exposure limit into equal slices. Every entry
// costs balance*limit/OrdersCount; re-entries sit a fixed distance from the
// position price.
type FixedFraction struct {
	OrdersCount int
}

func (FixedFraction) Name() string { return FixedFractionName }

func (f FixedFraction) fraction(p floatParams) float64 {
	if f.OrdersCount > 0 {
		return 1 / float64(f.OrdersCount)
	}
	return p.initialQtyPct
}

func (f FixedFraction) NextEntry(req EntryRequest) models.GridPosition {
	p := req.floats()
	if p.wel == 0 || p.balance <= 0 || p.best <= 0 {
		return req.toGridPosition(0, 0)
	}

	price := initialEntryPrice(p)
	if p.psize > 0 {
		exposure := qtyToCost(p.psize, p.pprice) / p.balance
		if exposure >= p.wel*exposureFullRatio {
			return req.toGridPosition(0, 0)
		}
		var raw float64
		if p.long {
			raw = p.pprice * (1 - p.distance)
		} else {
			raw = p.pprice * (1 + p.distance)
		}
		price = entryPriceFor(p, raw)
	}
	if price <= p.priceStep {
		return req.toGridPosition(0, 0)
	}

	minQty := minEntryQty(price, p.qtyStep, p.minQty, p.minCost)
	qty := math.Max(minQty, roundToStep(costToQty(p.balance*p.wel*f.fraction(p), price), p.qtyStep))

	if p.psize > 0 && WalletExposureIfFilled(p.balance, p.psize, p.pprice, qty, price, p.qtyStep) > p.wel*overshootRatio {
		qty = math.Max(minQty, FindEntryQtyBringingWalletExposureToTarget(p.balance, p.psize, p.pprice, p.wel, price, p.qtyStep))
	}
	return req.toGridPosition(qty, price)
}
