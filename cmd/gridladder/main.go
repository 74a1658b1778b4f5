// Command gridladder prints the entry ladder a sizer would build for one leg,
// assuming every entry fills and the market keeps moving against the position.
package main

import (
	"flag"
	"fmt"
	"os"
	"text/tabwriter"

	"cryptoblade/internal/models"
	"cryptoblade/internal/sizing"

	"github.com/shopspring/decimal"
)

func main() {
	var (
		sizerName  = flag.String("sizer", sizing.RecursiveGridName, "recursive_grid or fixed_fraction")
		short      = flag.Bool("short", false, "size the short leg")
		balance    = flag.Float64("balance", 1000, "wallet balance in quote asset")
		price      = flag.Float64("price", 100, "starting best price")
		qtyStep    = flag.Float64("qty-step", 0.001, "symbol quantity step")
		priceStep  = flag.Float64("price-step", 0.01, "symbol price step")
		minQty     = flag.Float64("min-qty", 0.001, "symbol minimum quantity")
		minCost    = flag.Float64("min-cost", 5, "symbol minimum notional")
		initialPct = flag.Float64("initial-qty-pct", 0.01, "initial entry as a fraction of the exposure limit")
		ddown      = flag.Float64("ddown-factor", 0.6, "re-entry quantity multiplier")
		distance   = flag.Float64("reentry-distance", 0.005, "re-entry price distance")
		weighting  = flag.Float64("reentry-weighting", 1.0, "re-entry distance weighting by exposure")
		wel        = flag.Float64("wallet-exposure", 1.0, "wallet exposure limit")
		steps      = flag.Int("steps", 10, "maximum number of entries")
		orders     = flag.Int("dca-orders", 10, "ladder length for fixed_fraction")
	)
	flag.Parse()

	if *balance <= 0 || *price <= 0 {
		fmt.Fprintln(os.Stderr, "balance and price must be positive")
		os.Exit(1)
	}

	sizer := sizing.New(*sizerName, *orders)
	if sizer == nil {
		fmt.Fprintf(os.Stderr, "unknown sizer %q\n", *sizerName)
		os.Exit(1)
	}

	side := models.PositionSideLong
	if *short {
		side = models.PositionSideShort
	}

	req := sizing.EntryRequest{
		Side:                     side,
		Balance:                  decimal.NewFromFloat(*balance),
		PositionSize:             decimal.Zero,
		PositionPrice:            decimal.Zero,
		BestPrice:                decimal.NewFromFloat(*price),
		QtyStep:                  decimal.NewFromFloat(*qtyStep),
		PriceStep:                decimal.NewFromFloat(*priceStep),
		MinQty:                   decimal.NewFromFloat(*minQty),
		MinCost:                  decimal.NewFromFloat(*minCost),
		InitialQtyPct:            decimal.NewFromFloat(*initialPct),
		DDownFactor:              decimal.NewFromFloat(*ddown),
		ReentryPriceDistance:     decimal.NewFromFloat(*distance),
		ReentryDistanceWeighting: decimal.NewFromFloat(*weighting),
		WalletExposureLimit:      decimal.NewFromFloat(*wel),
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', tabwriter.AlignRight)
	fmt.Fprintf(w, "#\tqty\tprice\tpos size\tpos price\texposure\t\n")
	for i := 1; i <= *steps; i++ {
		entry := sizer.NextEntry(req)
		if entry.IsZero() {
			break
		}
		req.PositionSize, req.PositionPrice = fill(req.PositionSize, req.PositionPrice, entry)
		req.BestPrice = entry.Price

		exposure := req.PositionSize.Mul(req.PositionPrice).Div(req.Balance)
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%s\t\n", i,
			entry.Quantity, entry.Price, req.PositionSize, req.PositionPrice.StringFixed(4), exposure.StringFixed(4))
	}
	w.Flush()
}

// fill returns the position after entry executes in full.
func fill(size, price decimal.Decimal, entry models.GridPosition) (decimal.Decimal, decimal.Decimal) {
	newSize := size.Add(entry.Quantity)
	if newSize.IsZero() {
		return decimal.Zero, decimal.Zero
	}
	avg := size.Mul(price).Add(entry.Quantity.Mul(entry.Price)).Div(newSize)
	return newSize, avg
}
