// Package stopcalc implements the Technical Stop Calculator (spec §4.1,
// component C4): deriving a stop price from swing-point support/resistance
// clusters, a swing-point fallback, an ATR fallback, and finally a flat
// percent fallback. Grounded on original_source's technical_stop.py for
// the exact order of fallbacks; expressed here as a pure function over a
// candle slice, the same "detector is a pure function of the window" shape
// internal/pattern's detectors use.
package stopcalc

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/riskforge/engine/internal/domain"
)

type Method string

const (
	MethodSupportResistance Method = "SUPPORT_RESISTANCE"
	MethodSwingPoint        Method = "SWING_POINT"
	MethodATR               Method = "ATR"
	MethodPercent           Method = "PERCENT"
)

type Confidence string

const (
	ConfidenceHigh   Confidence = "HIGH"
	ConfidenceMedium Confidence = "MEDIUM"
	ConfidenceLow    Confidence = "LOW"
)

// Level is one clustered support/resistance level.
type Level struct {
	Price    decimal.Decimal
	Touches  int
	Strength int // min(100, touches*20)
}

// Params holds the tunable thresholds §4.1 names with their defaults.
type Params struct {
	LevelTolerancePct decimal.Decimal // default 0.5
	MinTouches        int             // default 2
	LevelN            int             // default 2 (second support/resistance)
	ATRPeriod         int             // default 14
	ATRMultiplier     decimal.Decimal // default 1.5
	MinStopPct        decimal.Decimal // default 0.1
	MaxStopPct        decimal.Decimal // default 10
}

func DefaultParams() Params {
	return Params{
		LevelTolerancePct: decimal.NewFromFloat(0.5),
		MinTouches:        2,
		LevelN:            2,
		ATRPeriod:         14,
		ATRMultiplier:     decimal.NewFromFloat(1.5),
		MinStopPct:        decimal.NewFromFloat(0.1),
		MaxStopPct:        decimal.NewFromInt(10),
	}
}

// Result is the TechnicalStopResult spec.md §4.1 names.
type Result struct {
	StopPrice  decimal.Decimal
	Method     Method
	Confidence Confidence
	Levels     []Level
	Selected   *Level
	ATR        decimal.Decimal
	Warnings   []string
}

const bufferPct = 0.001 // 0.1% buffer past a detected level

// Calculate derives a stop price for entering `side` at `entry` given
// ordered candles (oldest first). timeframe is accepted for future
// per-timeframe tolerance tuning but does not currently change behavior.
func Calculate(candles []domain.Candle, entry decimal.Decimal, side domain.Side, _ string, params Params) Result {
	if len(candles) == 0 {
		return percentFallback(entry, side, params, "no candles available")
	}

	if len(candles) < params.ATRPeriod {
		return percentFallback(entry, side, params, fmt.Sprintf("insufficient candles (%d < %d); skipping to percent fallback", len(candles), params.ATRPeriod))
	}

	if r, ok := trySupportResistance(candles, entry, side, params); ok {
		return r
	}
	if r, ok := trySwingFallback(candles, entry, side, params); ok {
		return r
	}
	if r, ok := tryATRFallback(candles, entry, side, params); ok {
		return r
	}
	return percentFallback(entry, side, params, "no technical level found")
}

type swingPoint struct {
	price decimal.Decimal
	isLow bool
}

// detectSwings scans with a 5-bar window (2 bars each side): a bar is a
// swing low if its low is strictly lower than both neighbours on each side
// at the tight window, swing high symmetric on highs (§4.1 1a).
func detectSwings(candles []domain.Candle) []swingPoint {
	var swings []swingPoint
	n := len(candles)
	for i := 2; i < n-2; i++ {
		low := candles[i].Low
		isSwingLow := low.LessThan(candles[i-1].Low) && low.LessThan(candles[i+1].Low) &&
			low.LessThanOrEqual(candles[i-2].Low) && low.LessThanOrEqual(candles[i+2].Low)
		if isSwingLow {
			swings = append(swings, swingPoint{price: low, isLow: true})
		}
		high := candles[i].High
		isSwingHigh := high.GreaterThan(candles[i-1].High) && high.GreaterThan(candles[i+1].High) &&
			high.GreaterThanOrEqual(candles[i-2].High) && high.GreaterThanOrEqual(candles[i+2].High)
		if isSwingHigh {
			swings = append(swings, swingPoint{price: high, isLow: false})
		}
	}
	return swings
}

// clusterLevels groups swing points whose prices differ by no more than
// tolerancePct of currentPrice (§4.1 1b).
func clusterLevels(points []decimal.Decimal, currentPrice, tolerancePct decimal.Decimal) []Level {
	if len(points) == 0 {
		return nil
	}
	sorted := append([]decimal.Decimal(nil), points...)
	sortDecimals(sorted)

	tolerance := currentPrice.Mul(tolerancePct).Div(decimal.NewFromInt(100))
	var levels []Level
	clusterStart := 0
	for i := 1; i <= len(sorted); i++ {
		if i == len(sorted) || sorted[i].Sub(sorted[clusterStart]).Abs().GreaterThan(tolerance) {
			cluster := sorted[clusterStart:i]
			levels = append(levels, Level{Price: average(cluster), Touches: len(cluster)})
			clusterStart = i
		}
	}
	for idx := range levels {
		levels[idx].Strength = minInt(100, levels[idx].Touches*20)
	}
	return levels
}

func sortDecimals(d []decimal.Decimal) {
	for i := 1; i < len(d); i++ {
		for j := i; j > 0 && d[j].LessThan(d[j-1]); j-- {
			d[j], d[j-1] = d[j-1], d[j]
		}
	}
}

func average(values []decimal.Decimal) decimal.Decimal {
	sum := decimal.Zero
	for _, v := range values {
		sum = sum.Add(v)
	}
	return sum.Div(decimal.NewFromInt(int64(len(values))))
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}

func trySupportResistance(candles []domain.Candle, entry decimal.Decimal, side domain.Side, params Params) (Result, bool) {
	swings := detectSwings(candles)
	var prices []decimal.Decimal
	wantLow := side == domain.SideBuy
	for _, s := range swings {
		if s.isLow == wantLow {
			prices = append(prices, s.price)
		}
	}
	levels := clusterLevels(prices, entry, params.LevelTolerancePct)

	var candidates []Level
	for _, lvl := range levels {
		if lvl.Touches < params.MinTouches {
			continue
		}
		if side == domain.SideBuy && lvl.Price.LessThan(entry) {
			candidates = append(candidates, lvl)
		} else if side == domain.SideSell && lvl.Price.GreaterThan(entry) {
			candidates = append(candidates, lvl)
		}
	}
	// Sort so the nearest level to entry is first (descending for BUY,
	// ascending for SELL), per §4.1 1c.
	sortLevelsByProximity(candidates, side)

	if len(candidates) < params.LevelN {
		return Result{}, false
	}
	selected := candidates[params.LevelN-1]

	buffer := entry.Mul(decimal.NewFromFloat(bufferPct))
	var stop decimal.Decimal
	if side == domain.SideBuy {
		stop = selected.Price.Sub(buffer)
	} else {
		stop = selected.Price.Add(buffer)
	}

	confidence := ConfidenceMedium
	if selected.Touches >= 3 {
		confidence = ConfidenceHigh
	}

	result := Result{
		StopPrice:  stop,
		Method:     MethodSupportResistance,
		Confidence: confidence,
		Levels:     candidates,
		Selected:   &selected,
	}
	if !validStop(stop, entry, side, params) {
		return Result{}, false
	}
	return result, true
}

func sortLevelsByProximity(levels []Level, side domain.Side) {
	for i := 1; i < len(levels); i++ {
		for j := i; j > 0; j-- {
			swap := false
			if side == domain.SideBuy {
				swap = levels[j].Price.GreaterThan(levels[j-1].Price)
			} else {
				swap = levels[j].Price.LessThan(levels[j-1].Price)
			}
			if !swap {
				break
			}
			levels[j], levels[j-1] = levels[j-1], levels[j]
		}
	}
}

// trySwingFallback scans the last 20 candles for the extreme on the
// correct side of entry (§4.1 step 2).
func trySwingFallback(candles []domain.Candle, entry decimal.Decimal, side domain.Side, params Params) (Result, bool) {
	window := candles
	if len(window) > 20 {
		window = window[len(window)-20:]
	}
	var extreme decimal.Decimal
	found := false
	for _, c := range window {
		if side == domain.SideBuy {
			if c.Low.LessThan(entry) && (!found || c.Low.LessThan(extreme)) {
				extreme = c.Low
				found = true
			}
		} else {
			if c.High.GreaterThan(entry) && (!found || c.High.GreaterThan(extreme)) {
				extreme = c.High
				found = true
			}
		}
	}
	if !found {
		return Result{}, false
	}
	buffer := entry.Mul(decimal.NewFromFloat(bufferPct))
	var stop decimal.Decimal
	if side == domain.SideBuy {
		stop = extreme.Sub(buffer)
	} else {
		stop = extreme.Add(buffer)
	}
	if !validStop(stop, entry, side, params) {
		return Result{}, false
	}
	return Result{
		StopPrice:  stop,
		Method:     MethodSwingPoint,
		Confidence: ConfidenceMedium,
	}, true
}

// tryATRFallback computes ATR over the last ATRPeriod bars and derives the
// stop distance as ATR * ATRMultiplier (§4.1 step 3).
func tryATRFallback(candles []domain.Candle, entry decimal.Decimal, side domain.Side, params Params) (Result, bool) {
	atr, ok := computeATR(candles, params.ATRPeriod)
	if !ok {
		return Result{}, false
	}
	distance := atr.Mul(params.ATRMultiplier)
	var stop decimal.Decimal
	if side == domain.SideBuy {
		stop = entry.Sub(distance)
	} else {
		stop = entry.Add(distance)
	}
	if !validStop(stop, entry, side, params) {
		return Result{}, false
	}
	return Result{
		StopPrice:  stop,
		Method:     MethodATR,
		Confidence: ConfidenceLow,
		ATR:        atr,
	}, true
}

// computeATR is the simple average of true ranges over the last period
// bars, true range = max(high-low, |high-prevClose|, |low-prevClose|).
func computeATR(candles []domain.Candle, period int) (decimal.Decimal, bool) {
	if len(candles) < period+1 {
		return decimal.Zero, false
	}
	window := candles[len(candles)-period-1:]
	sum := decimal.Zero
	for i := 1; i < len(window); i++ {
		high, low, prevClose := window[i].High, window[i].Low, window[i-1].Close
		tr := high.Sub(low)
		tr = decimalMax(tr, high.Sub(prevClose).Abs())
		tr = decimalMax(tr, low.Sub(prevClose).Abs())
		sum = sum.Add(tr)
	}
	return sum.Div(decimal.NewFromInt(int64(period))), true
}

func decimalMax(a, b decimal.Decimal) decimal.Decimal {
	if a.GreaterThan(b) {
		return a
	}
	return b
}

func percentFallback(entry decimal.Decimal, side domain.Side, _ Params, warning string) Result {
	distance := entry.Mul(decimal.NewFromFloat(0.02))
	var stop decimal.Decimal
	if side == domain.SideBuy {
		stop = entry.Sub(distance)
	} else {
		stop = entry.Add(distance)
	}
	return Result{
		StopPrice:  stop,
		Method:     MethodPercent,
		Confidence: ConfidenceLow,
		Warnings:   []string{warning},
	}
}

// validStop checks the invariants §4.1 requires: stop on the correct side
// of entry, and stop_distance_pct within [MinStopPct, MaxStopPct].
func validStop(stop, entry decimal.Decimal, side domain.Side, params Params) bool {
	if side == domain.SideBuy && !stop.LessThan(entry) {
		return false
	}
	if side == domain.SideSell && !stop.GreaterThan(entry) {
		return false
	}
	distPct := stop.Sub(entry).Abs().Div(entry).Mul(decimal.NewFromInt(100))
	return distPct.GreaterThanOrEqual(params.MinStopPct) && distPct.LessThanOrEqual(params.MaxStopPct)
}
