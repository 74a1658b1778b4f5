package sizing

import (
	"testing"

	"cryptoblade/internal/models"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func baseRequest(side models.PositionSide) EntryRequest {
	return EntryRequest{
		Side:                     side,
		Balance:                  d("10000"),
		PositionSize:             decimal.Zero,
		PositionPrice:            decimal.Zero,
		BestPrice:                d("100"),
		QtyStep:                  d("0.001"),
		PriceStep:                d("0.01"),
		MinQty:                   d("0.001"),
		MinCost:                  d("5"),
		InitialQtyPct:            d("0.003"),
		DDownFactor:              d("2"),
		ReentryPriceDistance:     d("0.01"),
		ReentryDistanceWeighting: decimal.Zero,
		WalletExposureLimit:      d("1"),
	}
}

func assertGrid(t *testing.T, got models.GridPosition, qty, price string) {
	t.Helper()
	assert.True(t, got.Quantity.Equal(d(qty)), "quantity: want %s got %s", qty, got.Quantity)
	assert.True(t, got.Price.Equal(d(price)), "price: want %s got %s", price, got.Price)
}

func TestRecursiveGrid_NextEntry(t *testing.T) {
	tests := []struct {
		name      string
		side      models.PositionSide
		size      string
		price     string
		wel       string
		wantQty   string
		wantPrice string
	}{
		{name: "zero exposure limit", side: models.PositionSideLong, size: "0", price: "0", wel: "0", wantQty: "0", wantPrice: "0"},
		{name: "initial long entry", side: models.PositionSideLong, size: "0", price: "0", wel: "1", wantQty: "0.3", wantPrice: "100"},
		{name: "initial short entry", side: models.PositionSideShort, size: "0", price: "0", wel: "1", wantQty: "0.3", wantPrice: "100"},
		{name: "partial leg topped up", side: models.PositionSideLong, size: "0.1", price: "100", wel: "1", wantQty: "0.2", wantPrice: "100"},
		{name: "long re-entry doubles down", side: models.PositionSideLong, size: "1", price: "100", wel: "1", wantQty: "2", wantPrice: "99"},
		{name: "short re-entry doubles down", side: models.PositionSideShort, size: "1", price: "100", wel: "1", wantQty: "2", wantPrice: "101"},
		{name: "exposure already at limit", side: models.PositionSideLong, size: "100", price: "100", wel: "1", wantQty: "0", wantPrice: "0"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := baseRequest(tt.side)
			req.PositionSize = d(tt.size)
			req.PositionPrice = d(tt.price)
			req.WalletExposureLimit = d(tt.wel)

			got := RecursiveGrid{}.NextEntry(req)
			assertGrid(t, got, tt.wantQty, tt.wantPrice)
		})
	}
}

func TestRecursiveGrid_OversizedReentryIsCapped(t *testing.T) {
	req := baseRequest(models.PositionSideLong)
	req.Balance = d("1000")
	req.PositionSize = d("1")
	req.PositionPrice = d("100")
	req.DDownFactor = d("20")
	req.ReentryPriceDistance = d("0.1")

	got := RecursiveGrid{}.NextEntry(req)
	require.False(t, got.IsZero())
	assert.True(t, got.Price.Equal(d("90")), "price %s", got.Price)
	assert.InDelta(t, 10.0, got.Quantity.InexactFloat64(), 0.01)

	exposure := WalletExposureIfFilled(1000, 1, 100, got.Quantity.InexactFloat64(), 90, 0.001)
	assert.InDelta(t, 1.0, exposure, 0.01)
}

func TestRecursiveGrid_OutputsAreStepMultiples(t *testing.T) {
	positions := []struct{ size, price string }{
		{"0", "0"}, {"0.3", "100"}, {"1.234", "101.37"}, {"7.5", "98.12"}, {"25", "97.5"},
	}
	for _, side := range []models.PositionSide{models.PositionSideLong, models.PositionSideShort} {
		for _, pos := range positions {
			req := baseRequest(side)
			req.PositionSize = d(pos.size)
			req.PositionPrice = d(pos.price)
			req.ReentryDistanceWeighting = d("0.5")

			got := RecursiveGrid{}.NextEntry(req)
			if got.IsZero() {
				continue
			}
			assert.True(t, got.Quantity.Mod(req.QtyStep).IsZero(), "%s %v qty %s", side, pos, got.Quantity)
			assert.True(t, got.Price.Mod(req.PriceStep).IsZero(), "%s %v price %s", side, pos, got.Price)
			assert.True(t, got.Quantity.GreaterThanOrEqual(req.MinQty))
			if side == models.PositionSideLong {
				assert.True(t, got.Price.LessThanOrEqual(req.BestPrice))
			} else {
				assert.True(t, got.Price.GreaterThanOrEqual(req.BestPrice))
			}
		}
	}
}

func TestRecursiveGrid_ExposureStaysNearLimit(t *testing.T) {
	req := baseRequest(models.PositionSideLong)
	req.ReentryDistanceWeighting = d("1")
	size, price := 0.0, 0.0

	for i := 0; i < 30; i++ {
		req.PositionSize = decimal.NewFromFloat(size)
		req.PositionPrice = decimal.NewFromFloat(price)
		req.BestPrice = decimal.NewFromFloat(100 - float64(i)*2)
		got := RecursiveGrid{}.NextEntry(req)
		if got.IsZero() {
			break
		}
		q, p := got.Quantity.InexactFloat64(), got.Price.InexactFloat64()
		size, price = newPositionSizePrice(size, price, q, p, 0.001)
		require.LessOrEqual(t, size*price/10000, 1.0*overshootRatio+0.001, "round %d", i)
	}
}

func TestFindEntryQtyBringingWalletExposureToTarget(t *testing.T) {
	tests := []struct {
		name    string
		balance float64
		psize   float64
		pprice  float64
		target  float64
		entry   float64
		want    float64
	}{
		{name: "zero target", balance: 1000, psize: 1, pprice: 100, target: 0, entry: 90, want: 0},
		{name: "already at target", balance: 1000, psize: 10, pprice: 100, target: 1, entry: 90, want: 0},
		{name: "exact solution", balance: 1000, psize: 1, pprice: 100, target: 1, entry: 90, want: 10},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := FindEntryQtyBringingWalletExposureToTarget(tt.balance, tt.psize, tt.pprice, tt.target, tt.entry, 0.001)
			assert.InDelta(t, tt.want, got, 0.01)
		})
	}
}

func TestFindEntryQty_ConvergesWithinTolerance(t *testing.T) {
	cases := []struct{ balance, psize, pprice, target, entry float64 }{
		{5000, 0.5, 2000, 0.8, 1900},
		{250, 3, 10, 0.5, 9.5},
		{10000, 0.02, 30000, 1.5, 29000},
	}
	for _, c := range cases {
		qty := FindEntryQtyBringingWalletExposureToTarget(c.balance, c.psize, c.pprice, c.target, c.entry, 0.001)
		require.Positive(t, qty)
		got := WalletExposureIfFilled(c.balance, c.psize, c.pprice, qty, c.entry, 0.001)
		assert.InDelta(t, c.target, got, c.target*0.01, "case %+v", c)
	}
}

func TestFixedFraction_NextEntry(t *testing.T) {
	sizer := FixedFraction{OrdersCount: 10}

	req := baseRequest(models.PositionSideLong)
	assertGrid(t, sizer.NextEntry(req), "10", "100")

	req.PositionSize = d("10")
	req.PositionPrice = d("100")
	got := sizer.NextEntry(req)
	require.False(t, got.IsZero())
	assert.True(t, got.Price.Equal(d("99")))
	assert.InDelta(t, 10.101, got.Quantity.InexactFloat64(), 0.001)

	req.PositionSize = d("100")
	assert.True(t, sizer.NextEntry(req).IsZero())
}

func TestFixedFraction_FallsBackToInitialQtyPct(t *testing.T) {
	req := baseRequest(models.PositionSideShort)
	assertGrid(t, FixedFraction{}.NextEntry(req), "0.3", "100")
}

func TestNew(t *testing.T) {
	assert.Equal(t, RecursiveGridName, New(RecursiveGridName, 0).Name())
	assert.Equal(t, FixedFractionName, New(FixedFractionName, 5).Name())
	assert.Nil(t, New("martingale", 0))
}

func TestStepRounding(t *testing.T) {
	assert.True(t, FloorToStep(d("1.2349"), d("0.001")).Equal(d("1.234")))
	assert.True(t, CeilToStep(d("1.2341"), d("0.001")).Equal(d("1.235")))
	assert.True(t, SnapToStep(d("1.2345"), d("0.01")).Equal(d("1.23")) || SnapToStep(d("1.2345"), d("0.01")).Equal(d("1.24")))
	assert.InDelta(t, 3.0, roundDownToStep(0.3, 0.1)/0.1, 1e-9)
	assert.Equal(t, 0.002, minEntryQty(0, 0.001, 0.002, 5))
}
