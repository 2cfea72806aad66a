package stopcalc

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/riskforge/engine/internal/domain"
)

func candle(high, low, close string) domain.Candle {
	return domain.Candle{
		OpenTime: time.Now(),
		High:     decimal.RequireFromString(high),
		Low:      decimal.RequireFromString(low),
		Close:    decimal.RequireFromString(close),
	}
}

func TestCalculateNoCandlesFallsBackToPercent(t *testing.T) {
	entry := decimal.NewFromInt(100)
	r := Calculate(nil, entry, domain.SideBuy, "1h", DefaultParams())
	assert.Equal(t, MethodPercent, r.Method)
	assert.Equal(t, ConfidenceLow, r.Confidence)
	assert.True(t, r.StopPrice.LessThan(entry))
	assert.True(t, decimal.NewFromInt(98).Equal(r.StopPrice))
}

func TestCalculateInsufficientCandlesFallsBackToPercent(t *testing.T) {
	entry := decimal.NewFromInt(100)
	candles := []domain.Candle{candle("101", "99", "100")}
	r := Calculate(candles, entry, domain.SideBuy, "1h", DefaultParams())
	assert.Equal(t, MethodPercent, r.Method)
	require.Len(t, r.Warnings, 1)
}

func TestCalculateSellSidePercentFallbackStopsAboveEntry(t *testing.T) {
	entry := decimal.NewFromInt(100)
	r := Calculate(nil, entry, domain.SideSell, "1h", DefaultParams())
	assert.True(t, r.StopPrice.GreaterThan(entry))
	assert.True(t, decimal.NewFromInt(102).Equal(r.StopPrice))
}

func TestValidStopRejectsWrongSide(t *testing.T) {
	params := DefaultParams()
	entry := decimal.NewFromInt(100)
	assert.False(t, validStop(decimal.NewFromInt(101), entry, domain.SideBuy, params))
	assert.False(t, validStop(decimal.NewFromInt(99), entry, domain.SideSell, params))
}

func TestValidStopRejectsOutOfRangeDistance(t *testing.T) {
	params := DefaultParams()
	entry := decimal.NewFromInt(100)
	// 0.05% distance is below MinStopPct (0.1%).
	assert.False(t, validStop(decimal.NewFromFloat(99.95), entry, domain.SideBuy, params))
	// 20% distance is above MaxStopPct (10%).
	assert.False(t, validStop(decimal.NewFromInt(80), entry, domain.SideBuy, params))
}

func TestComputeATRAverage(t *testing.T) {
	candles := []domain.Candle{
		candle("100", "90", "95"),
		candle("105", "95", "100"),
		candle("110", "98", "105"),
	}
	atr, ok := computeATR(candles, 2)
	require.True(t, ok)
	assert.True(t, atr.GreaterThan(decimal.Zero))
}

func TestComputeATRInsufficientCandles(t *testing.T) {
	_, ok := computeATR([]domain.Candle{candle("100", "90", "95")}, 14)
	assert.False(t, ok)
}

func TestClusterLevelsGroupsWithinTolerance(t *testing.T) {
	points := []decimal.Decimal{
		decimal.NewFromInt(100), decimal.NewFromFloat(100.2), decimal.NewFromInt(110),
	}
	levels := clusterLevels(points, decimal.NewFromInt(100), decimal.NewFromFloat(0.5))
	require.Len(t, levels, 2)
	assert.Equal(t, 2, levels[0].Touches)
	assert.Equal(t, 40, levels[0].Strength)
}
