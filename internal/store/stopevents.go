package store

import (
	"database/sql"
	"time"

	"github.com/riskforge/engine/internal/domain"
	"github.com/riskforge/engine/internal/riskerr"
)

// StopEventStore is the append-only event log backing the Stop Monitor
// (§3, §4.5). Rows are never updated or deleted; event_seq is a single
// global monotonic counter shared by every operation, guaranteeing a
// strict total order for projection replay (I5).
type StopEventStore struct {
	db *sql.DB
}

// AppendInTx inserts one StopEvent, assigning it the next event_seq, as
// part of a transaction that also writes the projection row and, when an
// outbox writer is configured, the outbox row atomically.
func (s *StopEventStore) AppendInTx(tx *sql.Tx, e *domain.StopEvent) error {
	var maxSeq sql.NullInt64
	if err := tx.QueryRow(`SELECT MAX(event_seq) FROM stop_events`).Scan(&maxSeq); err != nil {
		return err
	}
	e.EventSeq = maxSeq.Int64 + 1

	_, err := tx.Exec(`
		INSERT INTO stop_events
			(event_id, event_seq, occurred_at, operation_id, tenant_id, symbol, event_type,
			 trigger_price, stop_price, quantity, side, execution_token, payload,
			 exchange_order_id, fill_price, slippage_pct, source, error_message, retry_count)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)
	`, e.EventID, e.EventSeq, e.OccurredAt, e.OperationID, e.TenantID, e.Symbol, string(e.EventType),
		e.TriggerPrice.String(), e.StopPrice.String(), e.Quantity.String(), string(e.Side),
		e.ExecutionToken, e.Payload, e.ExchangeOrderID, e.FillPrice.String(), e.SlippagePct.String(),
		string(e.Source), e.ErrorMessage, e.RetryCount)
	return err
}

// ListByOperation replays the event log for one operation in seq order,
// the basis for rebuilding a StopExecution projection from scratch (I5).
func (s *StopEventStore) ListByOperation(operationID string) ([]*domain.StopEvent, error) {
	rows, err := s.db.Query(`
		SELECT event_id, event_seq, occurred_at, operation_id, tenant_id, symbol, event_type,
		       trigger_price, stop_price, quantity, side, execution_token, payload,
		       exchange_order_id, fill_price, slippage_pct, source, error_message, retry_count
		FROM stop_events WHERE operation_id = ? ORDER BY event_seq ASC
	`, operationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanStopEvents(rows)
}

func scanStopEvents(rows *sql.Rows) ([]*domain.StopEvent, error) {
	var out []*domain.StopEvent
	for rows.Next() {
		var e domain.StopEvent
		var eventType, side, source, trigger, stop, qty, fill, slippage string
		if err := rows.Scan(&e.EventID, &e.EventSeq, &e.OccurredAt, &e.OperationID, &e.TenantID,
			&e.Symbol, &eventType, &trigger, &stop, &qty, &side, &e.ExecutionToken, &e.Payload,
			&e.ExchangeOrderID, &fill, &slippage, &source, &e.ErrorMessage, &e.RetryCount); err != nil {
			return nil, err
		}
		e.EventType, e.Side, e.Source = domain.StopEventType(eventType), domain.PositionSide(side), domain.PriceSource(source)
		e.TriggerPrice, e.StopPrice, e.Quantity = dec(trigger), dec(stop), dec(qty)
		e.FillPrice, e.SlippagePct = dec(fill), dec(slippage)
		out = append(out, &e)
	}
	return out, nil
}

// StopExecutionStore is the derived projection over StopEvent, one row
// per (operation_id, execution_token) (§3).
type StopExecutionStore struct {
	db *sql.DB
}

func (s *StopExecutionStore) Get(operationID, executionToken string) (*domain.StopExecution, error) {
	row := s.db.QueryRow(stopExecutionSelect+` WHERE operation_id = ? AND execution_token = ?`, operationID, executionToken)
	return scanStopExecution(row)
}

const stopExecutionSelect = `SELECT execution_id, operation_id, execution_token, status, stop_price,
	trigger_price, quantity, side, triggered_at, submitted_at, executed_at, failed_at,
	exchange_order_id, fill_price, slippage_pct, source, error_message, retry_count
	FROM stop_executions`

func scanStopExecution(row *sql.Row) (*domain.StopExecution, error) {
	var e domain.StopExecution
	var status, side, source, stop, trigger, qty, fill, slippage string
	var triggeredAt, submittedAt, executedAt, failedAt sql.NullTime
	err := row.Scan(&e.ExecutionID, &e.OperationID, &e.ExecutionToken, &status, &stop, &trigger, &qty,
		&side, &triggeredAt, &submittedAt, &executedAt, &failedAt, &e.ExchangeOrderID, &fill,
		&slippage, &source, &e.ErrorMessage, &e.RetryCount)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	e.Status, e.Side, e.Source = domain.StopExecutionStatus(status), domain.PositionSide(side), domain.PriceSource(source)
	e.StopPrice, e.TriggerPrice, e.Quantity = dec(stop), dec(trigger), dec(qty)
	e.FillPrice, e.SlippagePct = dec(fill), dec(slippage)
	if triggeredAt.Valid {
		e.TriggeredAt = triggeredAt.Time
	}
	if submittedAt.Valid {
		e.SubmittedAt = submittedAt.Time
	}
	if executedAt.Valid {
		e.ExecutedAt = executedAt.Time
	}
	if failedAt.Valid {
		e.FailedAt = failedAt.Time
	}
	return &e, nil
}

// UpsertInTx inserts the projection row on first sight of an
// execution_token, or folds a new status into the existing row, rejecting
// any fold that would move the status backward (I5/I7 monotonic advance).
func (s *StopExecutionStore) UpsertInTx(tx *sql.Tx, e *domain.StopExecution) error {
	row := tx.QueryRow(stopExecutionSelect+` WHERE operation_id = ? AND execution_token = ?`, e.OperationID, e.ExecutionToken)
	existing, err := scanStopExecution(row)
	if err != nil {
		return err
	}
	if existing == nil {
		_, err := tx.Exec(`
			INSERT INTO stop_executions
				(execution_id, operation_id, execution_token, status, stop_price, trigger_price,
				 quantity, side, triggered_at, submitted_at, executed_at, failed_at,
				 exchange_order_id, fill_price, slippage_pct, source, error_message, retry_count)
			VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)
		`, e.ExecutionID, e.OperationID, e.ExecutionToken, string(e.Status), e.StopPrice.String(),
			e.TriggerPrice.String(), e.Quantity.String(), string(e.Side), nullTime(e.TriggeredAt),
			nullTime(e.SubmittedAt), nullTime(e.ExecutedAt), nullTime(e.FailedAt), e.ExchangeOrderID,
			e.FillPrice.String(), e.SlippagePct.String(), string(e.Source), e.ErrorMessage, e.RetryCount)
		return err
	}

	if !existing.Status.CanAdvanceTo(e.Status) {
		return riskerr.Invariant(
			"stop execution status must advance monotonically",
			string(existing.Status), string(e.Status), nil,
		)
	}

	mergedSubmittedAt, mergedExecutedAt, mergedFailedAt := existing.SubmittedAt, existing.ExecutedAt, existing.FailedAt
	if !e.SubmittedAt.IsZero() {
		mergedSubmittedAt = e.SubmittedAt
	}
	if !e.ExecutedAt.IsZero() {
		mergedExecutedAt = e.ExecutedAt
	}
	if !e.FailedAt.IsZero() {
		mergedFailedAt = e.FailedAt
	}

	_, err = tx.Exec(`
		UPDATE stop_executions SET
			status=?, submitted_at=?, executed_at=?, failed_at=?, exchange_order_id=?,
			fill_price=?, slippage_pct=?, error_message=?, retry_count=?
		WHERE operation_id = ? AND execution_token = ?
	`, string(e.Status), nullTime(mergedSubmittedAt), nullTime(mergedExecutedAt), nullTime(mergedFailedAt),
		e.ExchangeOrderID, e.FillPrice.String(), e.SlippagePct.String(), e.ErrorMessage, e.RetryCount,
		e.OperationID, e.ExecutionToken)
	return err
}

// ListPendingOrSubmitted supports startup recovery: executions stuck below
// a terminal status are candidates for re-evaluation by the backstop poller.
func (s *StopExecutionStore) ListPendingOrSubmitted(now time.Time) ([]*domain.StopExecution, error) {
	rows, err := s.db.Query(stopExecutionSelect+` WHERE status IN (?, ?)`,
		string(domain.StopExecPending), string(domain.StopExecSubmitted))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*domain.StopExecution
	for rows.Next() {
		var e domain.StopExecution
		var status, side, source, stop, trigger, qty, fill, slippage string
		var triggeredAt, submittedAt, executedAt, failedAt sql.NullTime
		if err := rows.Scan(&e.ExecutionID, &e.OperationID, &e.ExecutionToken, &status, &stop, &trigger,
			&qty, &side, &triggeredAt, &submittedAt, &executedAt, &failedAt, &e.ExchangeOrderID, &fill,
			&slippage, &source, &e.ErrorMessage, &e.RetryCount); err != nil {
			return nil, err
		}
		e.Status, e.Side, e.Source = domain.StopExecutionStatus(status), domain.PositionSide(side), domain.PriceSource(source)
		e.StopPrice, e.TriggerPrice, e.Quantity = dec(stop), dec(trigger), dec(qty)
		e.FillPrice, e.SlippagePct = dec(fill), dec(slippage)
		if triggeredAt.Valid {
			e.TriggeredAt = triggeredAt.Time
		}
		if submittedAt.Valid {
			e.SubmittedAt = submittedAt.Time
		}
		if executedAt.Valid {
			e.ExecutedAt = executedAt.Time
		}
		if failedAt.Valid {
			e.FailedAt = failedAt.Time
		}
		out = append(out, &e)
	}
	return out, nil
}
