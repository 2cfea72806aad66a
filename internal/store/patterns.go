package store

import (
	"database/sql"

	"github.com/riskforge/engine/internal/domain"
	"github.com/riskforge/engine/internal/riskerr"
)

// PatternStore persists PatternInstance/PatternAlert (§4.7 detector
// lifecycle) and PatternTrigger, the idempotency record the pattern-to-
// intent bridge uses to guarantee one TradingIntent per pattern event.
type PatternStore struct {
	db *sql.DB
}

// InsertInstance records a newly-detected pattern. The unique index on
// (symbol, timeframe, pattern_code, detection_bar_ts) makes re-running
// detection over the same bar a no-op rather than a duplicate instance;
// callers check IsDuplicate on the returned error.
func (s *PatternStore) InsertInstance(p *domain.PatternInstance) error {
	_, err := s.db.Exec(`
		INSERT INTO pattern_instances
			(id, pattern_code, symbol, timeframe, status, detection_bar_ts, detected_at,
			 evidence_json, features)
		VALUES (?,?,?,?,?,?,?,?,?)
	`, p.ID, p.PatternCode, p.Symbol, p.Timeframe, string(p.Status), p.DetectionBarTS, p.DetectedAt,
		marshalEvidence(p.Evidence), p.Features)
	return err
}

func (s *PatternStore) UpdateStatus(id string, status domain.PatternStatus) error {
	_, err := s.db.Exec(`UPDATE pattern_instances SET status = ? WHERE id = ?`, string(status), id)
	return err
}

func (s *PatternStore) GetInstance(id string) (*domain.PatternInstance, error) {
	row := s.db.QueryRow(`
		SELECT id, pattern_code, symbol, timeframe, status, detection_bar_ts, detected_at,
		       evidence_json, features
		FROM pattern_instances WHERE id = ?
	`, id)
	var p domain.PatternInstance
	var status, evidenceJSON string
	err := row.Scan(&p.ID, &p.PatternCode, &p.Symbol, &p.Timeframe, &status, &p.DetectionBarTS,
		&p.DetectedAt, &evidenceJSON, &p.Features)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	p.Status = domain.PatternStatus(status)
	p.Evidence = unmarshalEvidence(evidenceJSON)
	return &p, nil
}

// ListForming returns instances still awaiting confirmation/invalidation,
// the set the pattern scanner re-evaluates on every new bar (§4.7).
func (s *PatternStore) ListForming(symbol, timeframe string) ([]*domain.PatternInstance, error) {
	rows, err := s.db.Query(`
		SELECT id, pattern_code, symbol, timeframe, status, detection_bar_ts, detected_at,
		       evidence_json, features
		FROM pattern_instances WHERE symbol = ? AND timeframe = ? AND status = ?
	`, symbol, timeframe, string(domain.PatternForming))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*domain.PatternInstance
	for rows.Next() {
		var p domain.PatternInstance
		var status, evidenceJSON string
		if err := rows.Scan(&p.ID, &p.PatternCode, &p.Symbol, &p.Timeframe, &status, &p.DetectionBarTS,
			&p.DetectedAt, &evidenceJSON, &p.Features); err != nil {
			return nil, err
		}
		p.Status = domain.PatternStatus(status)
		p.Evidence = unmarshalEvidence(evidenceJSON)
		out = append(out, &p)
	}
	return out, nil
}

func (s *PatternStore) InsertAlert(a *domain.PatternAlert) error {
	_, err := s.db.Exec(`
		INSERT INTO pattern_alerts (id, pattern_instance_id, pattern_code, symbol, timeframe, alert_type)
		VALUES (?,?,?,?,?,?)
	`, a.ID, a.PatternInstanceID, a.PatternCode, a.Symbol, a.Timeframe, string(a.Type))
	return err
}

// ClaimTrigger inserts the (tenant, pattern_event_id) idempotency record
// the pattern-to-intent bridge requires before it may mint a TradingIntent
// (§4.7: "return ALREADY_PROCESSED on duplicate"). A duplicate claim
// returns a riskerr.Idempotent error carrying the recorded intent id (or
// the pattern event id if the existing record cannot be read), which the
// caller treats as ALREADY_PROCESSED, not a failure.
func (s *PatternStore) ClaimTrigger(t *domain.PatternTrigger) error {
	_, err := s.db.Exec(`
		INSERT INTO pattern_triggers (tenant_id, pattern_event_id, intent_id) VALUES (?,?,?)
	`, t.TenantID, t.PatternEventID, t.IntentID)
	if IsDuplicate(err) {
		existing, getErr := s.GetTrigger(t.TenantID, t.PatternEventID)
		if getErr == nil && existing != nil {
			return riskerr.Idempotent(existing.IntentID)
		}
		return riskerr.Idempotent(t.PatternEventID)
	}
	return err
}

// UpdateTriggerIntentID fills in the real intent id on a trigger claimed
// with a placeholder, once the bridge has finished planning the intent.
func (s *PatternStore) UpdateTriggerIntentID(tenantID, patternEventID, intentID string) error {
	_, err := s.db.Exec(`
		UPDATE pattern_triggers SET intent_id = ? WHERE tenant_id = ? AND pattern_event_id = ?
	`, intentID, tenantID, patternEventID)
	return err
}

func (s *PatternStore) GetTrigger(tenantID, patternEventID string) (*domain.PatternTrigger, error) {
	row := s.db.QueryRow(`
		SELECT tenant_id, pattern_event_id, intent_id, created_at
		FROM pattern_triggers WHERE tenant_id = ? AND pattern_event_id = ?
	`, tenantID, patternEventID)
	var t domain.PatternTrigger
	err := row.Scan(&t.TenantID, &t.PatternEventID, &t.IntentID, &t.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func marshalEvidence(e domain.PatternEvidence) string {
	return e.EntryPrice.String() + "|" + e.InvalidationPrice.String() + "|" + e.TargetPrice.String() + "|" + e.Confidence.String()
}

func unmarshalEvidence(s string) domain.PatternEvidence {
	parts := splitN4(s)
	return domain.PatternEvidence{
		EntryPrice:        dec(parts[0]),
		InvalidationPrice: dec(parts[1]),
		TargetPrice:       dec(parts[2]),
		Confidence:        dec(parts[3]),
	}
}

func splitN4(s string) [4]string {
	var out [4]string
	idx, start := 0, 0
	for i := 0; i < len(s) && idx < 3; i++ {
		if s[i] == '|' {
			out[idx] = s[start:i]
			idx++
			start = i + 1
		}
	}
	out[idx] = s[start:]
	return out
}
