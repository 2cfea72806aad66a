package store

import (
	"database/sql"

	"github.com/riskforge/engine/internal/domain"
)

// CircuitBreakerStore persists the per-symbol breaker state the in-memory
// circuitbreaker.Registry serves at request time. The registry is the hot
// path (§9 shared singleton); this store exists so breaker state survives
// a restart instead of resetting every symbol to CLOSED.
type CircuitBreakerStore struct {
	db *sql.DB
}

func (s *CircuitBreakerStore) Upsert(c domain.CircuitBreakerState) error {
	_, err := s.db.Exec(`
		INSERT INTO circuit_breakers
			(symbol, state, failure_count, last_failure_at, opened_at, will_retry_at,
			 failure_threshold, retry_delay_seconds)
		VALUES (?,?,?,?,?,?,?,?)
		ON CONFLICT(symbol) DO UPDATE SET
			state=excluded.state, failure_count=excluded.failure_count,
			last_failure_at=excluded.last_failure_at, opened_at=excluded.opened_at,
			will_retry_at=excluded.will_retry_at, failure_threshold=excluded.failure_threshold,
			retry_delay_seconds=excluded.retry_delay_seconds
	`, c.Symbol, string(c.State), c.FailureCount, nullTime(c.LastFailureAt), nullTime(c.OpenedAt),
		nullTime(c.WillRetryAt), c.FailureThreshold, c.RetryDelaySeconds)
	return err
}

func (s *CircuitBreakerStore) Get(symbol string) (*domain.CircuitBreakerState, error) {
	row := s.db.QueryRow(`
		SELECT symbol, state, failure_count, last_failure_at, opened_at, will_retry_at,
		       failure_threshold, retry_delay_seconds
		FROM circuit_breakers WHERE symbol = ?
	`, symbol)
	var c domain.CircuitBreakerState
	var state string
	var lastFailure, opened, willRetry sql.NullTime
	err := row.Scan(&c.Symbol, &state, &c.FailureCount, &lastFailure, &opened, &willRetry,
		&c.FailureThreshold, &c.RetryDelaySeconds)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	c.State = domain.CircuitState(state)
	if lastFailure.Valid {
		c.LastFailureAt = lastFailure.Time
	}
	if opened.Valid {
		c.OpenedAt = opened.Time
	}
	if willRetry.Valid {
		c.WillRetryAt = willRetry.Time
	}
	return &c, nil
}

// ListAll loads every persisted breaker record, used to seed the in-memory
// registry at startup so a restart doesn't silently re-open a tripped symbol.
func (s *CircuitBreakerStore) ListAll() ([]domain.CircuitBreakerState, error) {
	rows, err := s.db.Query(`
		SELECT symbol, state, failure_count, last_failure_at, opened_at, will_retry_at,
		       failure_threshold, retry_delay_seconds
		FROM circuit_breakers
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.CircuitBreakerState
	for rows.Next() {
		var c domain.CircuitBreakerState
		var state string
		var lastFailure, opened, willRetry sql.NullTime
		if err := rows.Scan(&c.Symbol, &state, &c.FailureCount, &lastFailure, &opened, &willRetry,
			&c.FailureThreshold, &c.RetryDelaySeconds); err != nil {
			return nil, err
		}
		c.State = domain.CircuitState(state)
		if lastFailure.Valid {
			c.LastFailureAt = lastFailure.Time
		}
		if opened.Valid {
			c.OpenedAt = opened.Time
		}
		if willRetry.Valid {
			c.WillRetryAt = willRetry.Time
		}
		out = append(out, c)
	}
	return out, nil
}
