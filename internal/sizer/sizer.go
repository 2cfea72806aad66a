// Package sizer implements the Position Sizer (spec §4.2, component C5):
// the Golden Rule, "size follows stop, not the other way around."
package sizer

import (
	"github.com/shopspring/decimal"

	"github.com/riskforge/engine/internal/domain"
	"github.com/riskforge/engine/internal/money"
	"github.com/riskforge/engine/internal/riskerr"
)

// Params holds the tunable constraints §4.2 names with their defaults.
type Params struct {
	QuantityPrecision int32           // default 8
	MaxPositionPct    decimal.Decimal // default 50
	MinQuantity       decimal.Decimal // default 10^-QuantityPrecision
}

func DefaultParams() Params {
	return Params{
		QuantityPrecision: 8,
		MaxPositionPct:    decimal.NewFromInt(50),
		MinQuantity:       decimal.New(1, -8),
	}
}

// CapReason explains why is_capped was set.
type CapReason string

const (
	CapNone          CapReason = ""
	CapMaxPosition   CapReason = "max_position_exceeded"
	CapBelowMinimum  CapReason = "below_minimum"
)

// Result is the sizer output spec.md §4.2 names.
type Result struct {
	Quantity       decimal.Decimal
	PositionValue  decimal.Decimal
	RiskAmount     decimal.Decimal
	RiskPercent    decimal.Decimal
	IsCapped       bool
	CapReason      CapReason
	RiskRewardRatio decimal.Decimal // zero if no target given
}

// Size applies the Golden Rule: quantity = (capital * riskPct/100) / |entry-stop|.
func Size(capital, entry, stop, target decimal.Decimal, riskPct decimal.Decimal, side domain.Side, params Params) (Result, error) {
	if capital.LessThanOrEqual(decimal.Zero) {
		return Result{}, riskerr.Validation("capital must be positive")
	}
	if entry.LessThanOrEqual(decimal.Zero) {
		return Result{}, riskerr.Validation("entry must be positive")
	}
	if side != domain.SideBuy && side != domain.SideSell {
		return Result{}, riskerr.Validation("side must be BUY or SELL")
	}
	if side == domain.SideBuy && !stop.LessThan(entry) {
		return Result{}, riskerr.Validation("stop must be below entry for BUY")
	}
	if side == domain.SideSell && !stop.GreaterThan(entry) {
		return Result{}, riskerr.Validation("stop must be above entry for SELL")
	}

	stopDistance := entry.Sub(stop).Abs()

	// Constraint 1: zero distance -> zero-quantity result (§4.2).
	if stopDistance.IsZero() {
		return Result{
			Quantity:      decimal.Zero,
			PositionValue: decimal.Zero,
			RiskAmount:    decimal.Zero,
			RiskPercent:   decimal.Zero,
		}, nil
	}

	riskAmount := capital.Mul(riskPct).Div(decimal.NewFromInt(100))
	quantity := riskAmount.Div(stopDistance)

	// Constraint 2: round down to exchange precision.
	quantity = money.RoundQuantity(quantity, params.QuantityPrecision)

	isCapped := false
	capReason := CapNone

	positionValue := quantity.Mul(entry)
	maxPositionValue := params.MaxPositionPct.Div(decimal.NewFromInt(100)).Mul(capital)

	// Constraint 3: cap position value.
	if positionValue.GreaterThan(maxPositionValue) {
		quantity = money.RoundQuantity(maxPositionValue.Div(entry), params.QuantityPrecision)
		isCapped = true
		capReason = CapMaxPosition
	}

	// Constraint 4: clamp up to minimum quantity.
	if quantity.LessThan(params.MinQuantity) {
		quantity = params.MinQuantity
		isCapped = true
		capReason = CapBelowMinimum
	}

	positionValue = quantity.Mul(entry)
	actualRiskAmount := quantity.Mul(stopDistance)
	actualRiskPercent := money.RoundPercent(money.Pct(actualRiskAmount, capital))

	result := Result{
		Quantity:      quantity,
		PositionValue: positionValue,
		RiskAmount:    actualRiskAmount,
		RiskPercent:   actualRiskPercent,
		IsCapped:      isCapped,
		CapReason:     capReason,
	}

	if !target.IsZero() {
		targetDistance := target.Sub(entry).Abs()
		result.RiskRewardRatio = targetDistance.Div(stopDistance)
	}

	return result, nil
}
