// Package store is the sqlite-backed persistence layer for the seven
// entities of spec §3 plus the outbox and pattern-trigger tables (§6),
// using raw database/sql against modernc.org/sqlite the same way
// SynapseStrike/store/tactics.go drives its tactics table: no ORM, plain
// SQL strings, explicit table/index DDL run at startup.
package store

import (
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"
)

// DB wraps the shared *sql.DB handle and exposes one repository per entity.
type DB struct {
	conn *sql.DB

	Intents         *IntentStore
	Operations      *OperationStore
	Audit           *AuditStore
	StopEvents      *StopEventStore
	StopExecutions  *StopExecutionStore
	CircuitBreakers *CircuitBreakerStore
	Outbox          *OutboxStore
	Patterns        *PatternStore
}

// Open creates/migrates the sqlite database at path and wires every
// repository against the shared connection.
func Open(path string) (*DB, error) {
	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// sqlite only supports one writer at a time; serialize writes exactly
	// like store/tactics.go implicitly relies on by using a single *sql.DB.
	conn.SetMaxOpenConns(1)

	db := &DB{conn: conn}
	db.Intents = &IntentStore{db: conn}
	db.Operations = &OperationStore{db: conn}
	db.Audit = &AuditStore{db: conn}
	db.StopEvents = &StopEventStore{db: conn}
	db.StopExecutions = &StopExecutionStore{db: conn}
	db.CircuitBreakers = &CircuitBreakerStore{db: conn}
	db.Outbox = &OutboxStore{db: conn}
	db.Patterns = &PatternStore{db: conn}

	if err := db.migrate(); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return db, nil
}

func (db *DB) Close() error {
	return db.conn.Close()
}

// Conn exposes the underlying handle for callers (the orchestrator) that
// need to run multi-table write transactions spanning several repos, such
// as the Intent Pipeline's atomic Operation+AuditTransaction+Intent commit
// (§4.4 EXECUTE).
func (db *DB) Conn() *sql.DB { return db.conn }

func (db *DB) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS trading_intents (
			id TEXT PRIMARY KEY,
			tenant_id TEXT NOT NULL,
			symbol TEXT NOT NULL,
			side TEXT NOT NULL,
			quantity TEXT NOT NULL DEFAULT '0',
			entry_price TEXT NOT NULL DEFAULT '0',
			stop_price TEXT NOT NULL DEFAULT '0',
			target_price TEXT NOT NULL DEFAULT '0',
			capital TEXT NOT NULL DEFAULT '0',
			risk_amount TEXT NOT NULL DEFAULT '0',
			risk_percent TEXT NOT NULL DEFAULT '0',
			confidence TEXT NOT NULL DEFAULT '',
			strategy_ref TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL,
			validation_json TEXT NOT NULL DEFAULT '',
			execution_json TEXT NOT NULL DEFAULT '',
			pattern_json TEXT NOT NULL DEFAULT '',
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			validated_at DATETIME,
			executed_at DATETIME
		)`,
		`CREATE INDEX IF NOT EXISTS idx_intents_tenant ON trading_intents(tenant_id, created_at)`,
		`CREATE TABLE IF NOT EXISTS operations (
			id TEXT PRIMARY KEY,
			tenant_id TEXT NOT NULL,
			strategy TEXT NOT NULL DEFAULT '',
			symbol TEXT NOT NULL,
			side TEXT NOT NULL,
			status TEXT NOT NULL,
			stop_price TEXT NOT NULL DEFAULT '0',
			target_price TEXT NOT NULL DEFAULT '0',
			quantity TEXT NOT NULL DEFAULT '0',
			filled_qty TEXT NOT NULL DEFAULT '0',
			entry_order_id TEXT NOT NULL,
			intent_id TEXT NOT NULL DEFAULT '',
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_operations_tenant ON operations(tenant_id, created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_operations_status ON operations(status)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS uq_operations_intent ON operations(intent_id) WHERE intent_id != ''`,
		`CREATE TABLE IF NOT EXISTS audit_transactions (
			id TEXT PRIMARY KEY,
			exchange_order_id TEXT NOT NULL DEFAULT '',
			tenant_id TEXT NOT NULL,
			symbol TEXT NOT NULL,
			asset TEXT NOT NULL DEFAULT '',
			quantity TEXT NOT NULL DEFAULT '0',
			price TEXT NOT NULL DEFAULT '0',
			total_value TEXT NOT NULL DEFAULT '0',
			fee TEXT NOT NULL DEFAULT '0',
			side TEXT NOT NULL DEFAULT '',
			transaction_type TEXT NOT NULL,
			leverage INTEGER NOT NULL DEFAULT 1,
			is_margin BOOLEAN NOT NULL DEFAULT 0,
			stop_price TEXT NOT NULL DEFAULT '0',
			operation_id TEXT NOT NULL DEFAULT '',
			margin_position_id TEXT NOT NULL DEFAULT '',
			raw_response TEXT NOT NULL DEFAULT '',
			source TEXT NOT NULL DEFAULT 'engine',
			executed_at DATETIME NOT NULL
		)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS uq_audit_order_type ON audit_transactions(exchange_order_id, transaction_type) WHERE exchange_order_id != ''`,
		`CREATE INDEX IF NOT EXISTS idx_audit_tenant_time ON audit_transactions(tenant_id, executed_at)`,
		`CREATE INDEX IF NOT EXISTS idx_audit_operation ON audit_transactions(operation_id)`,
		`CREATE TABLE IF NOT EXISTS stop_events (
			event_id TEXT PRIMARY KEY,
			event_seq INTEGER NOT NULL,
			occurred_at DATETIME NOT NULL,
			operation_id TEXT NOT NULL,
			tenant_id TEXT NOT NULL,
			symbol TEXT NOT NULL,
			event_type TEXT NOT NULL,
			trigger_price TEXT NOT NULL DEFAULT '0',
			stop_price TEXT NOT NULL DEFAULT '0',
			quantity TEXT NOT NULL DEFAULT '0',
			side TEXT NOT NULL DEFAULT '',
			execution_token TEXT NOT NULL,
			payload TEXT NOT NULL DEFAULT '',
			exchange_order_id TEXT NOT NULL DEFAULT '',
			fill_price TEXT NOT NULL DEFAULT '0',
			slippage_pct TEXT NOT NULL DEFAULT '0',
			source TEXT NOT NULL DEFAULT 'cron',
			error_message TEXT NOT NULL DEFAULT '',
			retry_count INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS uq_stop_events_seq ON stop_events(event_seq)`,
		`CREATE INDEX IF NOT EXISTS idx_stop_events_op_seq ON stop_events(operation_id, event_seq)`,
		`CREATE INDEX IF NOT EXISTS idx_stop_events_tenant_time ON stop_events(tenant_id, occurred_at)`,
		`CREATE INDEX IF NOT EXISTS idx_stop_events_symbol_time ON stop_events(symbol, occurred_at)`,
		`CREATE INDEX IF NOT EXISTS idx_stop_events_token ON stop_events(execution_token)`,
		`CREATE TABLE IF NOT EXISTS stop_executions (
			execution_id TEXT PRIMARY KEY,
			operation_id TEXT NOT NULL,
			execution_token TEXT NOT NULL,
			status TEXT NOT NULL,
			stop_price TEXT NOT NULL DEFAULT '0',
			trigger_price TEXT NOT NULL DEFAULT '0',
			quantity TEXT NOT NULL DEFAULT '0',
			side TEXT NOT NULL DEFAULT '',
			triggered_at DATETIME,
			submitted_at DATETIME,
			executed_at DATETIME,
			failed_at DATETIME,
			exchange_order_id TEXT NOT NULL DEFAULT '',
			fill_price TEXT NOT NULL DEFAULT '0',
			slippage_pct TEXT NOT NULL DEFAULT '0',
			source TEXT NOT NULL DEFAULT 'cron',
			error_message TEXT NOT NULL DEFAULT '',
			retry_count INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS uq_stop_exec_op_token ON stop_executions(operation_id, execution_token)`,
		`CREATE TABLE IF NOT EXISTS circuit_breakers (
			symbol TEXT PRIMARY KEY,
			state TEXT NOT NULL DEFAULT 'CLOSED',
			failure_count INTEGER NOT NULL DEFAULT 0,
			last_failure_at DATETIME,
			opened_at DATETIME,
			will_retry_at DATETIME,
			failure_threshold INTEGER NOT NULL DEFAULT 3,
			retry_delay_seconds INTEGER NOT NULL DEFAULT 300
		)`,
		`CREATE TABLE IF NOT EXISTS outbox (
			outbox_id TEXT PRIMARY KEY,
			event_id TEXT NOT NULL,
			routing_key TEXT NOT NULL,
			exchange_name TEXT NOT NULL DEFAULT '',
			payload TEXT NOT NULL,
			published BOOLEAN NOT NULL DEFAULT 0,
			published_at DATETIME,
			retry_count INTEGER NOT NULL DEFAULT 0,
			last_error TEXT NOT NULL DEFAULT '',
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_outbox_unpublished ON outbox(created_at) WHERE published = 0`,
		`CREATE TABLE IF NOT EXISTS pattern_triggers (
			tenant_id TEXT NOT NULL,
			pattern_event_id TEXT NOT NULL,
			intent_id TEXT NOT NULL,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			PRIMARY KEY (tenant_id, pattern_event_id)
		)`,
		`CREATE TABLE IF NOT EXISTS pattern_instances (
			id TEXT PRIMARY KEY,
			pattern_code TEXT NOT NULL,
			symbol TEXT NOT NULL,
			timeframe TEXT NOT NULL,
			status TEXT NOT NULL,
			detection_bar_ts INTEGER NOT NULL,
			detected_at DATETIME NOT NULL,
			evidence_json TEXT NOT NULL DEFAULT '',
			features TEXT NOT NULL DEFAULT '',
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS uq_pattern_bar ON pattern_instances(symbol, timeframe, pattern_code, detection_bar_ts)`,
		`CREATE TABLE IF NOT EXISTS pattern_alerts (
			id TEXT PRIMARY KEY,
			pattern_instance_id TEXT NOT NULL,
			pattern_code TEXT NOT NULL,
			symbol TEXT NOT NULL,
			timeframe TEXT NOT NULL,
			alert_type TEXT NOT NULL,
			emitted_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_pattern_alerts_instance ON pattern_alerts(pattern_instance_id)`,
	}
	for _, stmt := range stmts {
		if _, err := db.conn.Exec(stmt); err != nil {
			return fmt.Errorf("exec %q: %w", stmt, err)
		}
	}
	return nil
}
