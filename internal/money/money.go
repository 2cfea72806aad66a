// Package money centralizes the fixed-precision decimal conventions used
// across the engine: prices and quantities carry 8 fractional digits,
// percentages carry 2. Nothing in this codebase stores money as float64.
package money

import "github.com/shopspring/decimal"

// PriceScale is the fractional-digit scale used for prices and quantities.
const PriceScale = 8

// PercentScale is the fractional-digit scale used for percentages.
const PercentScale = 2

// RoundPrice truncates d to PriceScale fractional digits, rounding down.
// Quantities round down per the exchange's quantity-precision rule (§4.2);
// using the same floor for prices keeps stop/entry comparisons consistent.
func RoundPrice(d decimal.Decimal) decimal.Decimal {
	return d.Truncate(PriceScale)
}

// RoundQuantity truncates d to the given number of fractional digits,
// rounding down. Exchanges reject quantities with too much precision;
// rounding up would risk over-sizing a position past its risk budget.
func RoundQuantity(d decimal.Decimal, precision int32) decimal.Decimal {
	return d.Truncate(precision)
}

// RoundPercent rounds d to PercentScale fractional digits (half-up).
func RoundPercent(d decimal.Decimal) decimal.Decimal {
	return d.Round(PercentScale)
}

// Pct returns d as a percentage of whole (d/whole * 100). Returns zero if
// whole is zero rather than dividing by zero.
func Pct(d, whole decimal.Decimal) decimal.Decimal {
	if whole.IsZero() {
		return decimal.Zero
	}
	return d.Div(whole).Mul(decimal.NewFromInt(100))
}

// Abs returns the absolute value of d.
func Abs(d decimal.Decimal) decimal.Decimal {
	return d.Abs()
}

// Max returns the greater of a and b.
func Max(a, b decimal.Decimal) decimal.Decimal {
	if a.GreaterThan(b) {
		return a
	}
	return b
}

// Min returns the lesser of a and b.
func Min(a, b decimal.Decimal) decimal.Decimal {
	if a.LessThan(b) {
		return a
	}
	return b
}
