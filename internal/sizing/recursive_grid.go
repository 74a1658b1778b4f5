package sizing

import (
	"math"
	"sort"

	"cryptoblade/internal/models"
)

const (
	RecursiveGridName = "recursive_grid"

	// partialEntryRatio: a leg smaller than this share of the initial entry is topped up
	partialEntryRatio = 0.8
	// exposureFullRatio: within 0.1% of the limit there is no room left
	exposureFullRatio = 0.999
	// overshootRatio: a re-entry pushing exposure above limit*1.01 is too big
	overshootRatio = 1.01
	// nextOvershootRatio: a re-entry whose successor would exceed limit*1.2 is too small
	nextOvershootRatio = 1.2

	maxSearchRounds  = 15
	searchTolerance  = 0.01
	searchFirstGrow  = 1.2
	searchStallGrow  = 1.1
	minExposureGuess = 0.01
)

// RecursiveGrid sizes each re-entry from the current position so that the
// ladder converges on the wallet exposure limit.
type RecursiveGrid struct{}

func (RecursiveGrid) Name() string { return RecursiveGridName }

// NextEntry returns the next entry for the requested leg.
func (g RecursiveGrid) NextEntry(req EntryRequest) models.GridPosition {
	p := req.floats()
	qty, price := recursiveEntry(p)
	return req.toGridPosition(qty, price)
}

// entryPriceFor applies the side-specific rounding and best-price cap to a raw re-entry price.
func entryPriceFor(p floatParams, raw float64) float64 {
	if p.long {
		return math.Min(p.best, roundDownToStep(raw, p.priceStep))
	}
	return math.Max(p.best, roundUpToStep(raw, p.priceStep))
}

// reentryRawPrice moves away from the position price, farther as exposure grows.
func reentryRawPrice(p floatParams, pprice, exposureRatio float64) float64 {
	offset := p.distance * (1 + exposureRatio*p.weighting)
	if p.long {
		return pprice * (1 - offset)
	}
	return pprice * (1 + offset)
}

func initialEntryPrice(p floatParams) float64 {
	if p.long {
		return math.Max(p.priceStep, roundDownToStep(p.best, p.priceStep))
	}
	return math.Max(p.priceStep, roundUpToStep(p.best, p.priceStep))
}

func initialEntryQty(p floatParams, price float64) float64 {
	minQty := minEntryQty(price, p.qtyStep, p.minQty, p.minCost)
	return math.Max(minQty, roundToStep(costToQty(p.balance, price)*p.wel*p.initialQtyPct, p.qtyStep))
}

// rawReentryQty is the candidate before the exposure check.
func rawReentryQty(p floatParams, psize, initialQty, minQty float64) float64 {
	return math.Max(minQty, roundToStep(math.Max(psize*p.ddownFactor, initialQty), p.qtyStep))
}

func recursiveEntry(p floatParams) (float64, float64) {
	if p.wel == 0 || p.balance <= 0 {
		return 0, 0
	}
	entryPrice := initialEntryPrice(p)
	if entryPrice <= p.priceStep && p.long {
		return 0, p.priceStep
	}
	minQty := minEntryQty(entryPrice, p.qtyStep, p.minQty, p.minCost)
	initialQty := initialEntryQty(p, entryPrice)

	if p.psize == 0 {
		return initialQty, entryPrice
	}
	if p.psize < initialQty*partialEntryRatio {
		return math.Max(minQty, roundDownToStep(initialQty-p.psize, p.qtyStep)), entryPrice
	}

	exposure := qtyToCost(p.psize, p.pprice) / p.balance
	if exposure >= p.wel*exposureFullRatio {
		return 0, 0
	}

	ratio := exposure / p.wel
	reentryPrice := entryPriceFor(p, reentryRawPrice(p, p.pprice, ratio))
	if reentryPrice <= p.priceStep {
		return 0, p.priceStep
	}
	minQty = minEntryQty(reentryPrice, p.qtyStep, p.minQty, p.minCost)
	qty := rawReentryQty(p, p.psize, initialQty, minQty)

	if wrongSized(p, qty, reentryPrice, initialQty, minQty) {
		qty = FindEntryQtyBringingWalletExposureToTarget(p.balance, p.psize, p.pprice, p.wel, reentryPrice, p.qtyStep)
		qty = math.Max(qty, minQty)
	}
	return qty, reentryPrice
}

// wrongSized simulates filling qty and the re-entry that would follow it.
func wrongSized(p floatParams, qty, price, initialQty, minQty float64) bool {
	if WalletExposureIfFilled(p.balance, p.psize, p.pprice, qty, price, p.qtyStep) > p.wel*overshootRatio {
		return true
	}

	newPsize, newPprice := newPositionSizePrice(p.psize, p.pprice, qty, price, p.qtyStep)
	newExposure := qtyToCost(newPsize, newPprice) / p.balance
	nextPrice := entryPriceFor(p, reentryRawPrice(p, newPprice, newExposure/p.wel))
	nextQty := rawReentryQty(p, newPsize, initialQty, minQty)
	return WalletExposureIfFilled(p.balance, newPsize, newPprice, nextQty, nextPrice, p.qtyStep) > p.wel*nextOvershootRatio
}

// WalletExposureIfFilled returns the wallet exposure after adding qty at price to the position.
func WalletExposureIfFilled(balance, psize, pprice, qty, price, qtyStep float64) float64 {
	if balance <= 0 {
		return 0
	}
	psize = roundToStep(math.Abs(psize), qtyStep)
	qty = roundToStep(math.Abs(qty), qtyStep)
	newPsize, newPprice := newPositionSizePrice(psize, pprice, qty, price, qtyStep)
	return qtyToCost(newPsize, newPprice) / balance
}

func newPositionSizePrice(psize, pprice, qty, price, qtyStep float64) (float64, float64) {
	if qty == 0 {
		return psize, pprice
	}
	newPsize := roundToStep(psize+qty, qtyStep)
	if newPsize == 0 {
		return 0, 0
	}
	if math.IsNaN(pprice) {
		pprice = 0
	}
	return newPsize, pprice*(psize/newPsize) + price*(qty/newPsize)
}

type searchPoint struct {
	guess    float64
	exposure float64
	err      float64
}

// FindEntryQtyBringingWalletExposureToTarget searches for the quantity that, filled at
// entryPrice, brings wallet exposure to target. It interpolates on the two most recent
// guesses for up to 15 rounds, stops early within 1% of target, and returns the guess
// with the smallest relative error.
func FindEntryQtyBringingWalletExposureToTarget(balance, psize, pprice, target, entryPrice, qtyStep float64) float64 {
	if target == 0 || balance <= 0 {
		return 0
	}
	exposure := qtyToCost(psize, pprice) / balance
	if exposure >= target*(1-searchTolerance) {
		return 0
	}

	eval := func(guess float64) searchPoint {
		e := WalletExposureIfFilled(balance, psize, pprice, guess, entryPrice, qtyStep)
		return searchPoint{guess: guess, exposure: e, err: math.Abs(e-target) / target}
	}

	points := make([]searchPoint, 0, maxSearchRounds+2)
	first := roundToStep(math.Abs(psize)*target/math.Max(minExposureGuess, exposure), qtyStep)
	points = append(points, eval(first))
	second := math.Max(0, roundToStep(math.Max(first*searchFirstGrow, first+qtyStep), qtyStep))
	points = append(points, eval(second))

	for i := 0; i < maxSearchRounds; i++ {
		n := len(points)
		if points[n-1].guess == points[n-2].guess {
			bumped := math.Abs(roundToStep(math.Max(points[n-2].guess*searchStallGrow, points[n-2].guess+qtyStep), qtyStep))
			points[n-1] = eval(bumped)
		}
		a, b := points[n-2], points[n-1]
		next := math.Max(0, roundToStep(interpolate(target, a.exposure, b.exposure, a.guess, b.guess), qtyStep))
		p := eval(next)
		points = append(points, p)
		if p.err < searchTolerance {
			break
		}
	}

	sort.SliceStable(points, func(i, j int) bool {
		if points[i].err == points[j].err {
			return points[i].guess < points[j].guess
		}
		return points[i].err < points[j].err
	})
	return points[0].guess
}

// interpolate returns the y at x on the line through (x0,y0) and (x1,y1).
func interpolate(x, x0, x1, y0, y1 float64) float64 {
	if x1 == x0 {
		return y1
	}
	return y0 + (x-x0)*(y1-y0)/(x1-x0)
}
