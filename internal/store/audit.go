package store

import (
	"database/sql"
	"strings"
	"time"

	"github.com/riskforge/engine/internal/domain"
)

type AuditStore struct {
	db *sql.DB
}

// InsertInTx records a Movement as part of an ambient transaction. The
// unique index on (exchange_order_id, transaction_type) makes a repeated
// insert for the same fill a no-op rather than a duplicate ledger entry
// (§3 Movement invariant, I2); callers distinguish that case by checking
// sqlite's constraint-violation error text.
func (s *AuditStore) InsertInTx(tx *sql.Tx, a *domain.AuditTransaction) error {
	_, err := tx.Exec(`
		INSERT INTO audit_transactions
			(id, exchange_order_id, tenant_id, symbol, asset, quantity, price, total_value, fee,
			 side, transaction_type, leverage, is_margin, stop_price, operation_id,
			 margin_position_id, raw_response, source, executed_at)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)
	`, a.ID, a.ExchangeOrderID, a.TenantID, a.Symbol, a.Asset, a.Quantity.String(), a.Price.String(),
		a.TotalValue.String(), a.Fee.String(), string(a.Side), string(a.TransactionType), a.Leverage,
		a.IsMargin, a.StopPrice.String(), a.OperationID, a.MarginPositionID, a.RawResponse,
		string(a.Source), a.ExecutedAt)
	return err
}

// IsDuplicate reports whether err is the unique-index violation InsertInTx
// raises for an (exchange_order_id, transaction_type) pair already recorded.
func IsDuplicate(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func (s *AuditStore) Insert(a *domain.AuditTransaction) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	if err := s.InsertInTx(tx, a); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

func (s *AuditStore) ExistsForOrder(exchangeOrderID string, txType domain.TransactionType) (bool, error) {
	var n int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM audit_transactions WHERE exchange_order_id = ? AND transaction_type = ?`,
		exchangeOrderID, string(txType)).Scan(&n)
	return n > 0, err
}

// ListByTenantSince returns up to limit of a tenant's transactions executed
// after since, oldest first; the Intent Pipeline's hourly execution-limit
// check counts its result. Callers can page by passing the last seen
// executed_at back in as since.
func (s *AuditStore) ListByTenantSince(tenantID string, since time.Time, limit int) ([]*domain.AuditTransaction, error) {
	rows, err := s.db.Query(`
		SELECT id, exchange_order_id, tenant_id, symbol, asset, quantity, price, total_value, fee,
		       side, transaction_type, leverage, is_margin, stop_price, operation_id,
		       margin_position_id, raw_response, source, executed_at
		FROM audit_transactions
		WHERE tenant_id = ? AND executed_at > ?
		ORDER BY executed_at ASC
		LIMIT ?
	`, tenantID, since, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*domain.AuditTransaction
	for rows.Next() {
		var a domain.AuditTransaction
		var side, txType, source, qty, price, total, fee, stop string
		if err := rows.Scan(&a.ID, &a.ExchangeOrderID, &a.TenantID, &a.Symbol, &a.Asset, &qty, &price,
			&total, &fee, &side, &txType, &a.Leverage, &a.IsMargin, &stop, &a.OperationID,
			&a.MarginPositionID, &a.RawResponse, &source, &a.ExecutedAt); err != nil {
			return nil, err
		}
		a.Side, a.TransactionType, a.Source = domain.Side(side), domain.TransactionType(txType), domain.TransactionSource(source)
		a.Quantity, a.Price, a.TotalValue, a.Fee, a.StopPrice = dec(qty), dec(price), dec(total), dec(fee), dec(stop)
		out = append(out, &a)
	}
	return out, nil
}

// ListByTenantAndType feeds the portfolio projection's deposit/withdrawal
// sums (§4.8): every AuditTransaction of the given type for a tenant,
// oldest first, each carrying its own executed_at for at-the-time BTC
// conversion.
func (s *AuditStore) ListByTenantAndType(tenantID string, txType domain.TransactionType) ([]*domain.AuditTransaction, error) {
	rows, err := s.db.Query(`
		SELECT id, exchange_order_id, tenant_id, symbol, asset, quantity, price, total_value, fee,
		       side, transaction_type, leverage, is_margin, stop_price, operation_id,
		       margin_position_id, raw_response, source, executed_at
		FROM audit_transactions
		WHERE tenant_id = ? AND transaction_type = ?
		ORDER BY executed_at ASC
	`, tenantID, string(txType))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*domain.AuditTransaction
	for rows.Next() {
		var a domain.AuditTransaction
		var side, tt, source, qty, price, total, fee, stop string
		if err := rows.Scan(&a.ID, &a.ExchangeOrderID, &a.TenantID, &a.Symbol, &a.Asset, &qty, &price,
			&total, &fee, &side, &tt, &a.Leverage, &a.IsMargin, &stop, &a.OperationID,
			&a.MarginPositionID, &a.RawResponse, &source, &a.ExecutedAt); err != nil {
			return nil, err
		}
		a.Side, a.TransactionType, a.Source = domain.Side(side), domain.TransactionType(tt), domain.TransactionSource(source)
		a.Quantity, a.Price, a.TotalValue, a.Fee, a.StopPrice = dec(qty), dec(price), dec(total), dec(fee), dec(stop)
		out = append(out, &a)
	}
	return out, nil
}
