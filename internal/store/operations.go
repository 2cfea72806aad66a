package store

import (
	"database/sql"
	"fmt"

	"github.com/riskforge/engine/internal/domain"
	"github.com/riskforge/engine/internal/riskerr"
)

type OperationStore struct {
	db *sql.DB
}

// CreateInTx inserts an Operation as part of an ambient transaction, used
// by the Intent Pipeline's atomic LIVE-execute commit (§4.4 EXECUTE step 1).
func (s *OperationStore) CreateInTx(tx *sql.Tx, o *domain.Operation) error {
	_, err := tx.Exec(`
		INSERT INTO operations (id, tenant_id, strategy, symbol, side, status, stop_price,
			target_price, quantity, filled_qty, entry_order_id, intent_id, created_at, updated_at)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?,CURRENT_TIMESTAMP,CURRENT_TIMESTAMP)
	`, o.ID, o.TenantID, o.Strategy, o.Symbol, string(o.Side), string(o.Status), o.StopPrice.String(),
		o.TargetPrice.String(), o.Quantity.String(), o.FilledQty.String(), o.EntryOrderID, o.IntentID)
	return err
}

func (s *OperationStore) Get(id string) (*domain.Operation, error) {
	return scanOperation(s.db.QueryRow(operationSelect+` WHERE id = ?`, id))
}

// GetByIntentID supports the idempotency check in §4.4: "If an Operation
// already exists for this intent_id with non-null exchange_order_id,
// return the existing result and do not call the exchange."
func (s *OperationStore) GetByIntentID(intentID string) (*domain.Operation, error) {
	return scanOperation(s.db.QueryRow(operationSelect+` WHERE intent_id = ?`, intentID))
}

const operationSelect = `SELECT id, tenant_id, strategy, symbol, side, status, stop_price,
	target_price, quantity, filled_qty, entry_order_id, intent_id, created_at, updated_at
	FROM operations`

func scanOperation(row *sql.Row) (*domain.Operation, error) {
	var o domain.Operation
	var side, status, stop, target, qty, filled string
	err := row.Scan(&o.ID, &o.TenantID, &o.Strategy, &o.Symbol, &side, &status, &stop, &target,
		&qty, &filled, &o.EntryOrderID, &o.IntentID, &o.CreatedAt, &o.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	o.Side, o.Status = domain.Side(side), domain.OperationStatus(status)
	o.StopPrice, o.TargetPrice, o.Quantity, o.FilledQty = dec(stop), dec(target), dec(qty), dec(filled)
	return &o, nil
}

// CountActive returns the number of ACTIVE operations for a tenant, the
// active-position count the DynamicPositionLimit check needs (§4.3).
func (s *OperationStore) CountActive(tenantID string) (int, error) {
	var n int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM operations WHERE tenant_id = ? AND status = ?`,
		tenantID, string(domain.OperationActive)).Scan(&n)
	return n, err
}

// ListActiveBySymbol returns ACTIVE operations the Stop Monitor evaluates
// triggers against (§4.5).
func (s *OperationStore) ListActiveBySymbol(symbol string) ([]*domain.Operation, error) {
	rows, err := s.db.Query(operationSelect+` WHERE symbol = ? AND status = ?`, symbol, string(domain.OperationActive))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*domain.Operation
	for rows.Next() {
		var o domain.Operation
		var side, status, stop, target, qty, filled string
		if err := rows.Scan(&o.ID, &o.TenantID, &o.Strategy, &o.Symbol, &side, &status, &stop, &target,
			&qty, &filled, &o.EntryOrderID, &o.IntentID, &o.CreatedAt, &o.UpdatedAt); err != nil {
			return nil, err
		}
		o.Side, o.Status = domain.Side(side), domain.OperationStatus(status)
		o.StopPrice, o.TargetPrice, o.Quantity, o.FilledQty = dec(stop), dec(target), dec(qty), dec(filled)
		out = append(out, &o)
	}
	return out, nil
}

// Transition enforces the Operation DAG (§3, I10): terminal states never
// transition, and only the edges in domain.AllowedOperationTransitions succeed.
func (s *OperationStore) Transition(id string, next domain.OperationStatus) error {
	current, err := s.Get(id)
	if err != nil {
		return err
	}
	if current == nil {
		return riskerr.NotFound("operation", id)
	}
	if !current.CanTransitionTo(next) {
		allowed := domain.AllowedOperationTransitions[current.Status]
		allowedStrs := make([]string, len(allowed))
		for i, a := range allowed {
			allowedStrs[i] = string(a)
		}
		return riskerr.Invariant(
			fmt.Sprintf("operation %s cannot transition %s -> %s", id, current.Status, next),
			string(current.Status), string(next), allowedStrs,
		)
	}
	_, err = s.db.Exec(`UPDATE operations SET status = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`, string(next), id)
	return err
}
