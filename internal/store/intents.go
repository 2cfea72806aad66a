package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/riskforge/engine/internal/domain"
)

type IntentStore struct {
	db *sql.DB
}

func dec(s string) decimal.Decimal {
	d, _ := decimal.NewFromString(s)
	return d
}

func nullTime(t time.Time) sql.NullTime {
	if t.IsZero() {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t, Valid: true}
}

func (s *IntentStore) Create(i *domain.TradingIntent) error {
	validationJSON, _ := json.Marshal(i.Validation)
	executionJSON, _ := json.Marshal(i.Execution)
	patternJSON, _ := json.Marshal(i.Pattern)
	_, err := s.db.Exec(`
		INSERT INTO trading_intents
			(id, tenant_id, symbol, side, quantity, entry_price, stop_price, target_price,
			 capital, risk_amount, risk_percent, confidence, strategy_ref, status,
			 validation_json, execution_json, pattern_json, created_at)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)
	`, i.ID, i.TenantID, i.Symbol, string(i.Side), i.Quantity.String(), i.EntryPrice.String(),
		i.StopPrice.String(), i.TargetPrice.String(), i.Capital.String(), i.RiskAmount.String(),
		i.RiskPercent.String(), i.Confidence, i.StrategyRef, string(i.Status),
		string(validationJSON), string(executionJSON), string(patternJSON), i.CreatedAt)
	return err
}

// Update persists mutable fields after a pipeline transition. TradingIntent
// records are never deleted (§3); this is the only write path after Create.
func (s *IntentStore) Update(i *domain.TradingIntent) error {
	validationJSON, _ := json.Marshal(i.Validation)
	executionJSON, _ := json.Marshal(i.Execution)
	_, err := s.db.Exec(`
		UPDATE trading_intents SET
			quantity=?, entry_price=?, stop_price=?, target_price=?, capital=?,
			risk_amount=?, risk_percent=?, status=?, validation_json=?, execution_json=?,
			validated_at=?, executed_at=?
		WHERE id = ?
	`, i.Quantity.String(), i.EntryPrice.String(), i.StopPrice.String(), i.TargetPrice.String(),
		i.Capital.String(), i.RiskAmount.String(), i.RiskPercent.String(), string(i.Status),
		string(validationJSON), string(executionJSON), nullTime(i.ValidatedAt), nullTime(i.ExecutedAt), i.ID)
	return err
}

func (s *IntentStore) Get(id string) (*domain.TradingIntent, error) {
	row := s.db.QueryRow(`
		SELECT id, tenant_id, symbol, side, quantity, entry_price, stop_price, target_price,
		       capital, risk_amount, risk_percent, confidence, strategy_ref, status,
		       validation_json, execution_json, pattern_json, created_at, validated_at, executed_at
		FROM trading_intents WHERE id = ?
	`, id)
	return scanIntent(row)
}

func scanIntent(row *sql.Row) (*domain.TradingIntent, error) {
	var i domain.TradingIntent
	var side, status string
	var validationJSON, executionJSON, patternJSON string
	var validatedAt, executedAt sql.NullTime
	var quantity, entry, stop, target, capital, riskAmt, riskPct string
	err := row.Scan(&i.ID, &i.TenantID, &i.Symbol, &side, &quantity, &entry, &stop, &target,
		&capital, &riskAmt, &riskPct, &i.Confidence, &i.StrategyRef, &status,
		&validationJSON, &executionJSON, &patternJSON, &i.CreatedAt, &validatedAt, &executedAt)
	if err != nil {
		return nil, err
	}
	i.Side = domain.Side(side)
	i.Status = domain.IntentStatus(status)
	i.Quantity, i.EntryPrice, i.StopPrice, i.TargetPrice = dec(quantity), dec(entry), dec(stop), dec(target)
	i.Capital, i.RiskAmount, i.RiskPercent = dec(capital), dec(riskAmt), dec(riskPct)
	if validatedAt.Valid {
		i.ValidatedAt = validatedAt.Time
	}
	if executedAt.Valid {
		i.ExecutedAt = executedAt.Time
	}
	if validationJSON != "" && validationJSON != "null" {
		_ = json.Unmarshal([]byte(validationJSON), &i.Validation)
	}
	if executionJSON != "" && executionJSON != "null" {
		_ = json.Unmarshal([]byte(executionJSON), &i.Execution)
	}
	if patternJSON != "" && patternJSON != "null" {
		_ = json.Unmarshal([]byte(patternJSON), &i.Pattern)
	}
	return &i, nil
}

// ListPending returns all PENDING intents, used at startup to replay
// intents left PENDING by re-running VALIDATE (§5).
func (s *IntentStore) ListPending() ([]*domain.TradingIntent, error) {
	rows, err := s.db.Query(`SELECT id FROM trading_intents WHERE status = ?`, string(domain.IntentPending))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	var out []*domain.TradingIntent
	for _, id := range ids {
		intent, err := s.Get(id)
		if err != nil {
			return nil, fmt.Errorf("load pending intent %s: %w", id, err)
		}
		out = append(out, intent)
	}
	return out, nil
}
