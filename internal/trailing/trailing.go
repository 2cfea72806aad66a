// Package trailing implements the Trailing-Stop Calculator (spec §4.6,
// component C9): a pure, monotonic hand-span step function for break-even
// and trailing-stop adjustments. Kept side-effect free like
// internal/stopcalc and internal/pattern's detectors, so property tests can
// drive it with arbitrary price sequences.
package trailing

import (
	"strconv"

	"github.com/shopspring/decimal"

	"github.com/riskforge/engine/internal/domain"
)

type Reason string

const (
	ReasonNoAdjustment Reason = "NO_ADJUSTMENT"
	ReasonBreakEven    Reason = "BREAK_EVEN"
	ReasonTrailing     Reason = "TRAILING"
)

// FeeParams holds the fee/slippage-buffer inputs for the break-even stop.
type FeeParams struct {
	TradingFeePct     decimal.Decimal // default 0.1
	SlippageBufferPct decimal.Decimal // default 0.05
}

func DefaultFeeParams() FeeParams {
	return FeeParams{
		TradingFeePct:     decimal.NewFromFloat(0.1),
		SlippageBufferPct: decimal.NewFromFloat(0.05),
	}
}

func (f FeeParams) totalFeePct() decimal.Decimal {
	return f.TradingFeePct.Add(f.SlippageBufferPct)
}

// StopAdjustment is the spec's output shape (§4.6).
type StopAdjustment struct {
	OldStop          decimal.Decimal
	NewStop          decimal.Decimal
	Reason           Reason
	StepIndex        int
	SpansCrossed     int
	AdjustmentToken  string
}

// Adjust computes the next stop for state given the current price.
// currentTimeMs is used only to derive the idempotency token (§4.6); pass
// the wall-clock time in milliseconds.
func Adjust(state domain.TrailingStopState, fees FeeParams, currentTimeMs int64) StopAdjustment {
	token := state.PositionID + ":adjust:" + strconv.FormatInt(currentTimeMs/1000, 10)

	span := state.Span()
	if span.IsZero() {
		return noAdjustment(state, token)
	}

	var spansInProfit int
	var inProfit bool
	if state.Side == domain.PositionShort {
		inProfit = state.CurrentPrice.LessThan(state.EntryPrice)
		if inProfit {
			spansInProfit = int(state.EntryPrice.Sub(state.CurrentPrice).Div(span).IntPart())
		}
	} else {
		inProfit = state.CurrentPrice.GreaterThan(state.EntryPrice)
		if inProfit {
			spansInProfit = int(state.CurrentPrice.Sub(state.EntryPrice).Div(span).IntPart())
		}
	}

	if !inProfit || spansInProfit < 1 {
		return noAdjustment(state, token)
	}

	var newStop decimal.Decimal
	var reason Reason
	if spansInProfit == 1 {
		reason = ReasonBreakEven
		newStop = breakEvenStop(state, fees)
	} else {
		reason = ReasonTrailing
		steps := decimal.NewFromInt(int64(spansInProfit - 1))
		if state.Side == domain.PositionShort {
			newStop = state.EntryPrice.Sub(steps.Mul(span))
		} else {
			newStop = state.EntryPrice.Add(steps.Mul(span))
		}
	}

	// Monotonic invariant (§4.6, I6): never loosen the stop.
	if state.Side == domain.PositionShort {
		if newStop.GreaterThan(state.CurrentStop) {
			return noAdjustment(state, token)
		}
	} else {
		if newStop.LessThan(state.CurrentStop) {
			return noAdjustment(state, token)
		}
	}

	return StopAdjustment{
		OldStop:         state.CurrentStop,
		NewStop:         newStop,
		Reason:          reason,
		StepIndex:       spansInProfit,
		SpansCrossed:    spansInProfit,
		AdjustmentToken: token,
	}
}

func breakEvenStop(state domain.TrailingStopState, fees FeeParams) decimal.Decimal {
	factor := decimal.NewFromInt(1).Add(fees.totalFeePct().Div(decimal.NewFromInt(100)))
	if state.Side == domain.PositionShort {
		return state.EntryPrice.Div(factor)
	}
	return state.EntryPrice.Mul(factor)
}

func noAdjustment(state domain.TrailingStopState, token string) StopAdjustment {
	return StopAdjustment{
		OldStop:         state.CurrentStop,
		NewStop:         state.CurrentStop,
		Reason:          ReasonNoAdjustment,
		AdjustmentToken: token,
	}
}
