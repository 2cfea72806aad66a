package trailing

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"github.com/riskforge/engine/internal/domain"
)

func longState(entry, initialStop, currentStop, currentPrice string) domain.TrailingStopState {
	return domain.TrailingStopState{
		PositionID:   "pos-1",
		Symbol:       "BTCUSDT",
		Side:         domain.PositionLong,
		EntryPrice:   decimal.RequireFromString(entry),
		InitialStop:  decimal.RequireFromString(initialStop),
		CurrentStop:  decimal.RequireFromString(currentStop),
		CurrentPrice: decimal.RequireFromString(currentPrice),
		Quantity:     decimal.NewFromInt(1),
	}
}

func TestAdjustNoAdjustmentWhenNotInProfit(t *testing.T) {
	state := longState("100", "98", "98", "99")
	adj := Adjust(state, DefaultFeeParams(), 1000)
	assert.Equal(t, ReasonNoAdjustment, adj.Reason)
	assert.Equal(t, state.CurrentStop, adj.NewStop)
}

func TestAdjustBreakEvenAfterOneSpan(t *testing.T) {
	// span = 2 (100-98); price at 102 = 1 span in profit -> break-even.
	state := longState("100", "98", "98", "102")
	adj := Adjust(state, DefaultFeeParams(), 1000)
	assert.Equal(t, ReasonBreakEven, adj.Reason)
	assert.True(t, adj.NewStop.GreaterThan(state.EntryPrice))
}

func TestAdjustTrailingAfterMultipleSpans(t *testing.T) {
	// span = 2; price at 106 = 3 spans in profit -> trailing, steps = 2.
	state := longState("100", "98", "101", "106")
	adj := Adjust(state, DefaultFeeParams(), 1000)
	assert.Equal(t, ReasonTrailing, adj.Reason)
	assert.Equal(t, decimal.NewFromInt(104), adj.NewStop)
}

func TestAdjustNeverLoosensStopLong(t *testing.T) {
	// 1 span in profit: the break-even stop (100.15) is below the current stop of 105.
	state := longState("100", "98", "105", "102")
	adj := Adjust(state, DefaultFeeParams(), 1000)
	assert.Equal(t, ReasonNoAdjustment, adj.Reason)
	assert.Equal(t, decimal.NewFromInt(105), adj.NewStop)
}

func TestAdjustShortSideTrailsDownward(t *testing.T) {
	state := domain.TrailingStopState{
		PositionID:   "pos-2",
		Side:         domain.PositionShort,
		EntryPrice:   decimal.NewFromInt(100),
		InitialStop:  decimal.NewFromInt(102),
		CurrentStop:  decimal.NewFromInt(102),
		CurrentPrice: decimal.NewFromInt(96),
		Quantity:     decimal.NewFromInt(1),
	}
	adj := Adjust(state, DefaultFeeParams(), 1000)
	assert.Equal(t, ReasonTrailing, adj.Reason)
	assert.True(t, adj.NewStop.LessThan(state.EntryPrice))
}

func TestAdjustZeroSpanReturnsNoAdjustment(t *testing.T) {
	state := longState("100", "100", "100", "105")
	adj := Adjust(state, DefaultFeeParams(), 1000)
	assert.Equal(t, ReasonNoAdjustment, adj.Reason)
}

func TestAdjustTokenIsDeterministicPerSecond(t *testing.T) {
	state := longState("100", "98", "98", "99")
	a := Adjust(state, DefaultFeeParams(), 1000)
	b := Adjust(state, DefaultFeeParams(), 1999)
	assert.Equal(t, a.AdjustmentToken, b.AdjustmentToken)
}
