package store

import (
	"database/sql"

	"github.com/riskforge/engine/internal/domain"
	"github.com/riskforge/engine/internal/telemetry"
)

// OutboxStore backs the transactional-outbox pattern: every domain event
// that must reach the message bus is written to this table in the same
// transaction as the event it describes, so a crash between "event
// committed" and "published to redis" can never lose the event.
type OutboxStore struct {
	db *sql.DB
}

func (s *OutboxStore) InsertInTx(tx *sql.Tx, o *domain.OutboxRow) error {
	_, err := tx.Exec(`
		INSERT INTO outbox (outbox_id, event_id, routing_key, exchange_name, payload, published)
		VALUES (?,?,?,?,?,0)
	`, o.OutboxID, o.EventID, o.RoutingKey, o.Exchange, o.Payload)
	if err == nil {
		telemetry.OutboxUnpublished.Inc()
	}
	return err
}

// ListUnpublished returns up to limit unpublished rows in insertion order,
// the batch the outbox publisher worker polls and forwards to redis.
func (s *OutboxStore) ListUnpublished(limit int) ([]*domain.OutboxRow, error) {
	rows, err := s.db.Query(`
		SELECT outbox_id, event_id, routing_key, exchange_name, payload, published, published_at,
		       retry_count, last_error, created_at
		FROM outbox WHERE published = 0 ORDER BY created_at ASC LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*domain.OutboxRow
	for rows.Next() {
		var o domain.OutboxRow
		var publishedAt sql.NullTime
		if err := rows.Scan(&o.OutboxID, &o.EventID, &o.RoutingKey, &o.Exchange, &o.Payload,
			&o.Published, &publishedAt, &o.RetryCount, &o.LastError, &o.CreatedAt); err != nil {
			return nil, err
		}
		if publishedAt.Valid {
			o.PublishedAt = publishedAt.Time
		}
		out = append(out, &o)
	}
	return out, nil
}

// MarkPublished flips a row to published, decrementing the unpublished
// gauge the publisher worker otherwise reports stale backlog on.
func (s *OutboxStore) MarkPublished(outboxID string) error {
	_, err := s.db.Exec(`UPDATE outbox SET published = 1, published_at = CURRENT_TIMESTAMP WHERE outbox_id = ?`, outboxID)
	if err == nil {
		telemetry.OutboxUnpublished.Dec()
	}
	return err
}

// MarkFailed bumps retry_count and records the last publish error, leaving
// the row unpublished so the next poll retries it.
func (s *OutboxStore) MarkFailed(outboxID, errMsg string) error {
	_, err := s.db.Exec(`
		UPDATE outbox SET retry_count = retry_count + 1, last_error = ? WHERE outbox_id = ?
	`, errMsg, outboxID)
	return err
}

// UnpublishedCount reports the backlog depth (rows with published = 0).
// It only reads the table; it does not set the OutboxUnpublished gauge.
func (s *OutboxStore) UnpublishedCount() (int, error) {
	var n int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM outbox WHERE published = 0`).Scan(&n)
	return n, err
}
