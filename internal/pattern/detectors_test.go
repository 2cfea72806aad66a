package pattern

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/riskforge/engine/internal/domain"
)

func c(openP, high, low, closeP string) domain.Candle {
	return domain.Candle{
		OpenTime: time.Now(),
		Open:     decimal.RequireFromString(openP),
		High:     decimal.RequireFromString(high),
		Low:      decimal.RequireFromString(low),
		Close:    decimal.RequireFromString(closeP),
	}
}

func downtrendPrefix() []domain.Candle {
	return []domain.Candle{
		c("110", "111", "105", "106"),
		c("106", "107", "100", "101"),
		c("101", "102", "96", "97"),
	}
}

func TestHammerDetectorFindsLongLowerShadow(t *testing.T) {
	window := append(downtrendPrefix(), c("97", "98", "90", "97.5"))
	cands := HammerDetector{}.Detect(window)
	require.Len(t, cands, 1)
	assert.Equal(t, "HAMMER", HammerDetector{}.Code())
}

func TestHammerDetectorRequiresDowntrend(t *testing.T) {
	uptrend := []domain.Candle{
		c("90", "95", "89", "94"),
		c("94", "99", "93", "98"),
		c("98", "103", "97", "102"),
		c("102", "103", "95", "102.5"),
	}
	cands := HammerDetector{}.Detect(uptrend)
	assert.Empty(t, cands)
}

func TestHammerDetectorTooFewCandles(t *testing.T) {
	assert.Empty(t, HammerDetector{}.Detect([]domain.Candle{c("1", "2", "0", "1")}))
}

func TestEngulfingDetectorBullish(t *testing.T) {
	window := []domain.Candle{
		c("100", "101", "95", "96"),  // bearish
		c("95", "105", "94", "104"), // bullish, engulfs prev body
	}
	cands := EngulfingDetector{}.Detect(window)
	require.Len(t, cands, 1)
	assert.Equal(t, domain.SideBuy, sideFromEvidence(&domain.PatternInstance{Evidence: cands[0].Evidence}))
}

func TestEngulfingDetectorBearish(t *testing.T) {
	window := []domain.Candle{
		c("95", "105", "94", "104"), // bullish
		c("104", "105", "94", "95"), // bearish, engulfs prev body
	}
	cands := EngulfingDetector{}.Detect(window)
	require.Len(t, cands, 1)
}

func TestEngulfingDetectorNoPatternWhenSameDirection(t *testing.T) {
	window := []domain.Candle{
		c("95", "105", "94", "104"),
		c("104", "110", "103", "109"),
	}
	assert.Empty(t, EngulfingDetector{}.Detect(window))
}

func TestMorningStarDetectsThreeCandleReversal(t *testing.T) {
	window := []domain.Candle{
		c("100", "101", "90", "91"),  // long bearish
		c("91", "92", "89", "90.5"),  // small indecision candle
		c("90.5", "100", "90", "99"), // strong bullish closing above midpoint
	}
	cands := MorningStarDetector{}.Detect(window)
	require.Len(t, cands, 1)
}

func TestMorningStarRejectsLargeMiddleCandle(t *testing.T) {
	window := []domain.Candle{
		c("100", "101", "90", "91"),
		c("91", "99", "85", "98"), // middle candle too large
		c("98", "100", "97", "99.5"),
	}
	assert.Empty(t, MorningStarDetector{}.Detect(window))
}

func TestCanonicalDetectorsReturnsAllSix(t *testing.T) {
	detectors := CanonicalDetectors()
	require.Len(t, detectors, 6)
	codes := map[string]bool{}
	for _, d := range detectors {
		codes[d.Code()] = true
	}
	for _, want := range []string{"HAMMER", "INVERTED_HAMMER", "ENGULFING", "MORNING_STAR", "HEAD_SHOULDERS", "INVERTED_HEAD_SHOULDERS"} {
		assert.True(t, codes[want], "missing detector %s", want)
	}
}

func TestCrossesLevelBuySide(t *testing.T) {
	window := []domain.Candle{c("100", "105", "99", "104")}
	assert.True(t, crossesLevel(window, decimal.NewFromInt(103), domain.SideBuy))
	assert.False(t, crossesLevel(window, decimal.NewFromInt(110), domain.SideBuy))
}

func TestOppositeOf(t *testing.T) {
	assert.Equal(t, domain.SideSell, oppositeOf(domain.SideBuy))
	assert.Equal(t, domain.SideBuy, oppositeOf(domain.SideSell))
}
