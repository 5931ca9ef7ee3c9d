package types

import "github.com/shopspring/decimal"

// FixedScale is the number of fractional digits carried by every price,
// amount and balance in the system.
const FixedScale = 8

// MulFixed multiplies two fixed-point values and truncates the product to
// FixedScale digits. Trade totals and fees are quoted with this rule, so it
// must be applied at computation time, not at display time.
func MulFixed(a, b decimal.Decimal) decimal.Decimal {
	return a.Mul(b).Truncate(FixedScale)
}
