package trader

import "github.com/shopspring/decimal"

// relGap returns (a-b)/b, the normalized gap every threshold gate compares.
// A zero reference price yields a zero gap rather than a division error;
// quotes with zero bids never pass the gates anyway.
func relGap(a, b decimal.Decimal) decimal.Decimal {
	if b.IsZero() {
		return decimal.Zero
	}
	return a.Sub(b).Div(b)
}

// gapAtLeast applies the gate boundary convention: a gap exactly equal to
// the threshold passes.
func gapAtLeast(a, b, threshold decimal.Decimal) bool {
	return relGap(a, b).GreaterThanOrEqual(threshold)
}
