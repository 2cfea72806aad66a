package pattern

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/riskforge/engine/internal/domain"
)

// body/shadow helpers shared by the candlestick detectors.
func body(c domain.Candle) decimal.Decimal    { return c.Close.Sub(c.Open).Abs() }
func upperShadow(c domain.Candle) decimal.Decimal {
	return c.High.Sub(decimal.Max(c.Open, c.Close))
}
func lowerShadow(c domain.Candle) decimal.Decimal {
	return decimal.Min(c.Open, c.Close).Sub(c.Low)
}
func isBullish(c domain.Candle) bool { return c.Close.GreaterThan(c.Open) }
func isBearish(c domain.Candle) bool { return c.Close.LessThan(c.Open) }

const (
	hammerShadowMultiplier = 2.0 // lower shadow must be >= 2x the body
	hammerMaxUpperRatio    = 0.3 // upper shadow must stay small relative to range
)

// HammerDetector finds a long-lower-shadow, small-body reversal candle
// after a local downtrend (§4.7 candlestick: Hammer).
type HammerDetector struct{}

func (HammerDetector) Code() string { return "HAMMER" }

func (HammerDetector) Detect(window []domain.Candle) []Candidate {
	if len(window) < 4 {
		return nil
	}
	last := window[len(window)-1]
	if !inDowntrend(window[len(window)-4 : len(window)-1]) {
		return nil
	}
	b := body(last)
	lower := lowerShadow(last)
	upper := upperShadow(last)
	rng := last.High.Sub(last.Low)
	if b.IsZero() || rng.IsZero() {
		return nil
	}
	if lower.GreaterThanOrEqual(b.Mul(decimal.NewFromFloat(hammerShadowMultiplier))) &&
		upper.LessThanOrEqual(rng.Mul(decimal.NewFromFloat(hammerMaxUpperRatio))) {
		return []Candidate{candidateFromReversal(last, domain.SideBuy)}
	}
	return nil
}

func (HammerDetector) CheckConfirmation(inst *domain.PatternInstance, window []domain.Candle) bool {
	return closesBeyond(inst, window, domain.SideBuy)
}

func (HammerDetector) CheckInvalidation(inst *domain.PatternInstance, window []domain.Candle) bool {
	return closesPastInvalidation(inst, window, domain.SideSell)
}

// InvertedHammerDetector mirrors Hammer after a local downtrend with a
// long upper shadow instead of a long lower one.
type InvertedHammerDetector struct{}

func (InvertedHammerDetector) Code() string { return "INVERTED_HAMMER" }

func (InvertedHammerDetector) Detect(window []domain.Candle) []Candidate {
	if len(window) < 4 {
		return nil
	}
	last := window[len(window)-1]
	if !inDowntrend(window[len(window)-4 : len(window)-1]) {
		return nil
	}
	b := body(last)
	lower := lowerShadow(last)
	upper := upperShadow(last)
	rng := last.High.Sub(last.Low)
	if b.IsZero() || rng.IsZero() {
		return nil
	}
	if upper.GreaterThanOrEqual(b.Mul(decimal.NewFromFloat(hammerShadowMultiplier))) &&
		lower.LessThanOrEqual(rng.Mul(decimal.NewFromFloat(hammerMaxUpperRatio))) {
		return []Candidate{candidateFromReversal(last, domain.SideBuy)}
	}
	return nil
}

func (InvertedHammerDetector) CheckConfirmation(inst *domain.PatternInstance, window []domain.Candle) bool {
	return closesBeyond(inst, window, domain.SideBuy)
}

func (InvertedHammerDetector) CheckInvalidation(inst *domain.PatternInstance, window []domain.Candle) bool {
	return closesPastInvalidation(inst, window, domain.SideSell)
}

// EngulfingDetector finds a two-candle reversal where the second candle's
// body fully contains the first's (both bullish and bearish subtypes,
// §4.7).
type EngulfingDetector struct{}

func (EngulfingDetector) Code() string { return "ENGULFING" }

func (EngulfingDetector) Detect(window []domain.Candle) []Candidate {
	if len(window) < 2 {
		return nil
	}
	prev, last := window[len(window)-2], window[len(window)-1]

	if isBearish(prev) && isBullish(last) && last.Open.LessThanOrEqual(prev.Close) && last.Close.GreaterThanOrEqual(prev.Open) {
		return []Candidate{candidateFromReversal(last, domain.SideBuy)}
	}
	if isBullish(prev) && isBearish(last) && last.Open.GreaterThanOrEqual(prev.Close) && last.Close.LessThanOrEqual(prev.Open) {
		return []Candidate{candidateFromReversal(last, domain.SideSell)}
	}
	return nil
}

func (EngulfingDetector) CheckConfirmation(inst *domain.PatternInstance, window []domain.Candle) bool {
	return closesBeyond(inst, window, sideFromEvidence(inst))
}

func (EngulfingDetector) CheckInvalidation(inst *domain.PatternInstance, window []domain.Candle) bool {
	return closesPastInvalidation(inst, window, oppositeOf(sideFromEvidence(inst)))
}

// MorningStarDetector finds the three-candle bullish reversal: a long
// bearish candle, a small-bodied indecision candle, then a strong bullish
// candle closing well into the first candle's body (§4.7).
type MorningStarDetector struct{}

func (MorningStarDetector) Code() string { return "MORNING_STAR" }

func (MorningStarDetector) Detect(window []domain.Candle) []Candidate {
	if len(window) < 3 {
		return nil
	}
	first, middle, last := window[len(window)-3], window[len(window)-2], window[len(window)-1]
	if !isBearish(first) || !isBullish(last) {
		return nil
	}
	firstBody, middleBody := body(first), body(middle)
	if firstBody.IsZero() {
		return nil
	}
	if middleBody.GreaterThan(firstBody.Div(decimal.NewFromInt(2))) {
		return nil // middle candle must be small relative to the first
	}
	midpoint := first.Open.Add(first.Close).Div(decimal.NewFromInt(2))
	if last.Close.LessThan(midpoint) {
		return nil // last candle must close back above the first candle's midpoint
	}
	return []Candidate{candidateFromReversal(last, domain.SideBuy)}
}

func (MorningStarDetector) CheckConfirmation(inst *domain.PatternInstance, window []domain.Candle) bool {
	return closesBeyond(inst, window, domain.SideBuy)
}

func (MorningStarDetector) CheckInvalidation(inst *domain.PatternInstance, window []domain.Candle) bool {
	return closesPastInvalidation(inst, window, domain.SideSell)
}

// HeadShouldersDetector finds a three-peak reversal (left shoulder < head
// > right shoulder, roughly symmetric shoulders) over swing highs in the
// window, grounded on internal/stopcalc's swing-point detection for the
// same "local extreme over a fixed window" shape.
type HeadShouldersDetector struct{}

func (HeadShouldersDetector) Code() string { return "HEAD_SHOULDERS" }

func (HeadShouldersDetector) Detect(window []domain.Candle) []Candidate {
	return detectHeadShoulders(window, false)
}

func (HeadShouldersDetector) CheckConfirmation(inst *domain.PatternInstance, window []domain.Candle) bool {
	return closesBeyond(inst, window, domain.SideSell)
}

func (HeadShouldersDetector) CheckInvalidation(inst *domain.PatternInstance, window []domain.Candle) bool {
	return closesPastInvalidation(inst, window, domain.SideBuy)
}

// InvertedHeadShouldersDetector mirrors HeadShoulders over swing lows.
type InvertedHeadShouldersDetector struct{}

func (InvertedHeadShouldersDetector) Code() string { return "INVERTED_HEAD_SHOULDERS" }

func (InvertedHeadShouldersDetector) Detect(window []domain.Candle) []Candidate {
	return detectHeadShoulders(window, true)
}

func (InvertedHeadShouldersDetector) CheckConfirmation(inst *domain.PatternInstance, window []domain.Candle) bool {
	return closesBeyond(inst, window, domain.SideBuy)
}

func (InvertedHeadShouldersDetector) CheckInvalidation(inst *domain.PatternInstance, window []domain.Candle) bool {
	return closesPastInvalidation(inst, window, domain.SideSell)
}

const shoulderToleranceFraction = 0.15 // shoulders must match within 15% of the head's amplitude

func detectHeadShoulders(window []domain.Candle, inverted bool) []Candidate {
	swings := findExtremes(window, inverted)
	if len(swings) < 3 {
		return nil
	}
	ls, head, rs := swings[len(swings)-3], swings[len(swings)-2], swings[len(swings)-1]

	var headBeatsShoulders bool
	if inverted {
		headBeatsShoulders = head.price.LessThan(ls.price) && head.price.LessThan(rs.price)
	} else {
		headBeatsShoulders = head.price.GreaterThan(ls.price) && head.price.GreaterThan(rs.price)
	}
	if !headBeatsShoulders {
		return nil
	}

	amplitude := head.price.Sub(ls.price).Abs()
	shoulderDiff := ls.price.Sub(rs.price).Abs()
	if amplitude.IsZero() || shoulderDiff.GreaterThan(amplitude.Mul(decimal.NewFromFloat(shoulderToleranceFraction))) {
		return nil
	}

	neckline := window[len(window)-1].Close
	side := domain.SideSell
	if inverted {
		side = domain.SideBuy
	}
	last := window[len(window)-1]
	return []Candidate{{
		DetectionBarTS: last.OpenTime.UnixMilli(),
		DetectedAt:     time.Now(),
		Evidence: domain.PatternEvidence{
			EntryPrice:        neckline,
			InvalidationPrice: head.price,
			TargetPrice:       neckline.Add(neckline.Sub(head.price)),
			Confidence:        decimal.NewFromInt(60),
		},
		Features: fmt.Sprintf(`{"left_shoulder":%q,"head":%q,"right_shoulder":%q,"side":%q}`,
			ls.price.String(), head.price.String(), rs.price.String(), side),
	}}
}

type extreme struct {
	price decimal.Decimal
	index int
}

// findExtremes locates local highs (or lows, if forLows) using a 2-bar
// window on each side, the same swing-point shape internal/stopcalc uses.
func findExtremes(window []domain.Candle, forLows bool) []extreme {
	var out []extreme
	for i := 2; i < len(window)-2; i++ {
		c := window[i]
		val := c.High
		if forLows {
			val = c.Low
		}
		isExtreme := true
		for j := i - 2; j <= i+2; j++ {
			if j == i {
				continue
			}
			other := window[j].High
			if forLows {
				other = window[j].Low
			}
			if (!forLows && other.GreaterThan(val)) || (forLows && other.LessThan(val)) {
				isExtreme = false
				break
			}
		}
		if isExtreme {
			out = append(out, extreme{price: val, index: i})
		}
	}
	return out
}

func inDowntrend(window []domain.Candle) bool {
	if len(window) < 2 {
		return false
	}
	return window[len(window)-1].Close.LessThan(window[0].Close)
}

func candidateFromReversal(c domain.Candle, side domain.Side) Candidate {
	invalidation := c.Low
	target := c.Close.Add(c.Close.Sub(c.Low))
	if side == domain.SideSell {
		invalidation = c.High
		target = c.Close.Sub(c.High.Sub(c.Close))
	}
	return Candidate{
		DetectionBarTS: c.OpenTime.UnixMilli(),
		DetectedAt:     time.Now(),
		Evidence: domain.PatternEvidence{
			EntryPrice:        c.Close,
			InvalidationPrice: invalidation,
			TargetPrice:       target,
			Confidence:        decimal.NewFromInt(50),
		},
		Features: fmt.Sprintf(`{"side":%q}`, side),
	}
}

func sideFromEvidence(inst *domain.PatternInstance) domain.Side {
	if inst.Evidence.EntryPrice.GreaterThan(inst.Evidence.InvalidationPrice) {
		return domain.SideBuy
	}
	return domain.SideSell
}

func oppositeOf(side domain.Side) domain.Side {
	if side == domain.SideBuy {
		return domain.SideSell
	}
	return domain.SideBuy
}

// closesBeyond reports whether the latest candle closed past target in
// the predicted direction, the confirmation predicate §4.7 names.
func closesBeyond(inst *domain.PatternInstance, window []domain.Candle, side domain.Side) bool {
	return crossesLevel(window, inst.Evidence.TargetPrice, side)
}

// closesPastInvalidation reports whether the latest candle closed past the
// invalidation level in the direction that falsifies the pattern.
func closesPastInvalidation(inst *domain.PatternInstance, window []domain.Candle, invalidationSide domain.Side) bool {
	return crossesLevel(window, inst.Evidence.InvalidationPrice, invalidationSide)
}

func crossesLevel(window []domain.Candle, level decimal.Decimal, side domain.Side) bool {
	if len(window) == 0 {
		return false
	}
	last := window[len(window)-1].Close
	if side == domain.SideBuy {
		return last.GreaterThanOrEqual(level)
	}
	return last.LessThanOrEqual(level)
}

// CanonicalDetectors returns one instance of every detector §4.7 names,
// the set the orchestrator's Scanner runs by default.
func CanonicalDetectors() []Detector {
	return []Detector{
		HammerDetector{},
		InvertedHammerDetector{},
		EngulfingDetector{},
		MorningStarDetector{},
		HeadShouldersDetector{},
		InvertedHeadShouldersDetector{},
	}
}
