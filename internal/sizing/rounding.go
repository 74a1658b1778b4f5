package sizing

import (
	"math"

	"github.com/shopspring/decimal"
)

// stepEpsilon absorbs float noise such as 0.3/0.1 = 2.9999999999999996
const stepEpsilon = 1e-9

func roundToStep(n, step float64) float64 {
	if step <= 0 {
		return n
	}
	return math.Round(n/step) * step
}

func roundDownToStep(n, step float64) float64 {
	if step <= 0 {
		return n
	}
	return math.Floor(n/step+stepEpsilon) * step
}

func roundUpToStep(n, step float64) float64 {
	if step <= 0 {
		return n
	}
	return math.Ceil(n/step-stepEpsilon) * step
}

// SnapToStep rounds v to the nearest multiple of step.
func SnapToStep(v, step decimal.Decimal) decimal.Decimal {
	if !step.IsPositive() {
		return v
	}
	return v.Div(step).Round(0).Mul(step)
}

// FloorToStep rounds v down to a multiple of step.
func FloorToStep(v, step decimal.Decimal) decimal.Decimal {
	if !step.IsPositive() {
		return v
	}
	return v.Div(step).Floor().Mul(step)
}

// CeilToStep rounds v up to a multiple of step.
func CeilToStep(v, step decimal.Decimal) decimal.Decimal {
	if !step.IsPositive() {
		return v
	}
	return v.Div(step).Ceil().Mul(step)
}

// qtyToCost is the notional of a linear contract
func qtyToCost(qty, price float64) float64 {
	return math.Abs(qty) * price
}

func costToQty(cost, price float64) float64 {
	if price <= 0 {
		return 0
	}
	return cost / price
}

// minEntryQty is the smallest quantity satisfying both the min qty and min cost filters
func minEntryQty(price, qtyStep, minQty, minCost float64) float64 {
	byCost := 0.0
	if price > 0 {
		byCost = roundUpToStep(minCost/price, qtyStep)
	}
	return math.Max(minQty, byCost)
}
