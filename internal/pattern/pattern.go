// Package pattern implements the Pattern Engine (spec §4.7, component
// C10): candlestick/chart detectors, the FORMING/CONFIRMED/INVALIDATED
// lifecycle, and the pattern-to-intent bridge. Detectors are pure
// functions of a candle window, the same shape internal/stopcalc uses for
// its support/resistance and ATR fallbacks.
package pattern

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/riskforge/engine/internal/domain"
	"github.com/riskforge/engine/internal/intent"
	"github.com/riskforge/engine/internal/riskerr"
	"github.com/riskforge/engine/internal/store"
	"github.com/riskforge/engine/internal/telemetry"
)

// Candidate is one newly-detected pattern a Detector's Detect emits.
type Candidate struct {
	DetectionBarTS int64
	DetectedAt     time.Time
	Evidence       domain.PatternEvidence
	Features       string
}

// Detector is the protocol §4.7 names: pattern_code, detect(window), and
// the two lifecycle predicates evaluated on later scans.
type Detector interface {
	Code() string
	Detect(window []domain.Candle) []Candidate
	CheckConfirmation(instance *domain.PatternInstance, window []domain.Candle) bool
	CheckInvalidation(instance *domain.PatternInstance, window []domain.Candle) bool
}

// Scanner runs the registered detectors over a symbol/timeframe window and
// advances the FORMING/CONFIRMED/INVALIDATED lifecycle (§4.7).
type Scanner struct {
	DB        *store.PatternStore
	Detectors []Detector
}

func NewScanner(db *store.PatternStore, detectors ...Detector) *Scanner {
	return &Scanner{DB: db, Detectors: detectors}
}

// Scan runs one pass: new candidates from every detector are inserted
// (duplicates on (symbol, timeframe, pattern_code, detection_bar_ts) are
// silently skipped, §4.7 idempotency), then every still-FORMING instance
// is re-evaluated for confirmation or invalidation.
func (s *Scanner) Scan(symbol, timeframe string, window []domain.Candle) error {
	log := telemetry.NewLogger("pattern")

	for _, d := range s.Detectors {
		for _, c := range d.Detect(window) {
			inst := &domain.PatternInstance{
				ID:             uuid.NewString(),
				PatternCode:    d.Code(),
				Symbol:         symbol,
				Timeframe:      timeframe,
				Status:         domain.PatternForming,
				DetectionBarTS: c.DetectionBarTS,
				DetectedAt:     c.DetectedAt,
				Evidence:       c.Evidence,
				Features:       c.Features,
			}
			if err := s.DB.InsertInstance(inst); err != nil {
				if store.IsDuplicate(err) {
					continue
				}
				return err
			}
			if err := s.DB.InsertAlert(&domain.PatternAlert{
				ID: uuid.NewString(), PatternInstanceID: inst.ID, PatternCode: inst.PatternCode,
				Symbol: inst.Symbol, Timeframe: inst.Timeframe, Type: domain.AlertDetected,
			}); err != nil {
				return err
			}
			telemetry.PatternAlerts.WithLabelValues(inst.PatternCode, string(domain.AlertDetected)).Inc()
			log.Info().Str("pattern", inst.PatternCode).Str("symbol", symbol).Msg("pattern detected")
		}
	}

	forming, err := s.DB.ListForming(symbol, timeframe)
	if err != nil {
		return err
	}
	for _, inst := range forming {
		detector := s.detectorFor(inst.PatternCode)
		if detector == nil {
			continue
		}
		switch {
		case detector.CheckConfirmation(inst, window):
			if err := s.transition(inst, domain.PatternConfirmed, domain.AlertConfirm); err != nil {
				return err
			}
		case detector.CheckInvalidation(inst, window):
			if err := s.transition(inst, domain.PatternInvalidated, domain.AlertInvalidate); err != nil {
				return err
			}
		}
	}
	return nil
}

func (s *Scanner) detectorFor(code string) Detector {
	for _, d := range s.Detectors {
		if d.Code() == code {
			return d
		}
	}
	return nil
}

func (s *Scanner) transition(inst *domain.PatternInstance, status domain.PatternStatus, alertType domain.PatternAlertType) error {
	if err := s.DB.UpdateStatus(inst.ID, status); err != nil {
		return err
	}
	if err := s.DB.InsertAlert(&domain.PatternAlert{
		ID: uuid.NewString(), PatternInstanceID: inst.ID, PatternCode: inst.PatternCode,
		Symbol: inst.Symbol, Timeframe: inst.Timeframe, Type: alertType,
	}); err != nil {
		return err
	}
	telemetry.PatternAlerts.WithLabelValues(inst.PatternCode, string(alertType)).Inc()
	return nil
}

// StrategyPatternConfig is one binding the bridge matches CONFIRM alerts
// against (§4.7): strategy, pattern_code, timeframe, auto_entry_enabled,
// entry_mode, and a match predicate over the pattern's evidence.
type StrategyPatternConfig struct {
	Strategy         string
	PatternCode      string
	Timeframe        string
	AutoEntryEnabled bool
	EntryMode        domain.ExecutionMode
	Match            func(domain.PatternEvidence) bool
}

// Bridge subscribes to CONFIRM alerts and, for each matching
// StrategyPatternConfig, calls the Intent Pipeline's Plan (§4.7 bridge).
// Pattern auto-execution in LIVE mode is hard-blocked by the Intent
// Pipeline itself at EXECUTE time (§4.4); the bridge only ever plans.
type Bridge struct {
	DB       *store.PatternStore
	Pipeline *intent.Pipeline
	Configs  []StrategyPatternConfig
}

// BridgeResult distinguishes a freshly-created intent from an idempotent
// replay of a duplicate pattern event (§4.7: "returns ... ALREADY_PROCESSED").
type BridgeResult struct {
	IntentID        string
	AlreadyProcessed bool
}

// OnConfirm handles one CONFIRM alert: for every matching config, it
// claims the (tenant, pattern_event_id) idempotency record before calling
// Plan, so a duplicate delivery of the same alert returns the existing
// intent id instead of creating a second one.
func (b *Bridge) OnConfirm(ctx context.Context, tenantID string, alert *domain.PatternAlert, instance *domain.PatternInstance) ([]BridgeResult, error) {
	var results []BridgeResult
	for _, cfg := range b.Configs {
		if !cfg.AutoEntryEnabled || cfg.PatternCode != instance.PatternCode || cfg.Timeframe != instance.Timeframe {
			continue
		}
		if cfg.Match != nil && !cfg.Match(instance.Evidence) {
			continue
		}

		patternEventID := alert.ID
		placeholder := &domain.PatternTrigger{TenantID: tenantID, PatternEventID: patternEventID, IntentID: ""}

		claimErr := b.DB.ClaimTrigger(placeholder)
		if claimErr != nil {
			if rerr, ok := asRiskErr(claimErr); ok && rerr.Kind == riskerr.KindIdempotent {
				results = append(results, BridgeResult{IntentID: rerr.Details["existing_id"], AlreadyProcessed: true})
				continue
			}
			return results, claimErr
		}

		planned, err := b.Pipeline.Plan(ctx, intentPlanFromPattern(tenantID, instance, cfg))
		if err != nil {
			return results, err
		}

		if err := b.DB.UpdateTriggerIntentID(tenantID, patternEventID, planned.ID); err != nil {
			return results, err
		}
		results = append(results, BridgeResult{IntentID: planned.ID})
	}
	return results, nil
}

func intentPlanFromPattern(tenantID string, instance *domain.PatternInstance, cfg StrategyPatternConfig) intent.PlanRequest {
	side := domain.SideBuy
	if instance.Evidence.EntryPrice.LessThan(instance.Evidence.InvalidationPrice) {
		side = domain.SideSell
	}
	return intent.PlanRequest{
		TenantID:    tenantID,
		Symbol:      instance.Symbol,
		Side:        side,
		Entry:       instance.Evidence.EntryPrice,
		Stop:        instance.Evidence.InvalidationPrice,
		Target:      instance.Evidence.TargetPrice,
		Confidence:  instance.Evidence.Confidence.String(),
		StrategyRef: cfg.Strategy,
		Timeframe:   instance.Timeframe,
		Pattern: &domain.PatternOrigin{
			PatternCode:    instance.PatternCode,
			Source:         "pattern_engine",
			PatternEventID: instance.ID,
			TriggeredAt:    time.Now(),
		},
	}
}

func asRiskErr(err error) (*riskerr.Error, bool) {
	rerr, ok := err.(*riskerr.Error)
	return rerr, ok
}
