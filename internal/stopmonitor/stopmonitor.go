// Package stopmonitor implements the Stop Monitor (spec §4.5, component
// C8): the event-sourced, exactly-once stop execution loop. Modeled on
// SynapseStrike's polling trader loop (market/api_client.go fetches prices
// on a ticker, trader.go reacts) but split into two concurrent feeders
// (price-stream + backstop poll) converging on one trigger evaluator,
// guarded by a circuit breaker and kill switch, per spec §4.5's scheduling
// model.
package stopmonitor

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/riskforge/engine/internal/circuitbreaker"
	"github.com/riskforge/engine/internal/config"
	"github.com/riskforge/engine/internal/domain"
	"github.com/riskforge/engine/internal/execution"
	"github.com/riskforge/engine/internal/marketdata"
	"github.com/riskforge/engine/internal/riskerr"
	"github.com/riskforge/engine/internal/store"
	"github.com/riskforge/engine/internal/telemetry"
)

// BackstopInterval is the low-frequency exchange-polling cadence §4.5 names.
const BackstopInterval = 10 * time.Second

// PriceUpdate is one observation a feeder pushes into trigger evaluation.
type PriceUpdate struct {
	Symbol string
	Price  decimal.Decimal
	At     time.Time
	Source domain.PriceSource
}

// Monitor wires the Stop Monitor's dependencies and runs the supervised
// feeder/evaluator loop.
type Monitor struct {
	DB        *store.DB
	Configs   *config.Registry
	Market    marketdata.Port
	Exec      execution.Port
	Breakers  *circuitbreaker.Registry
	Outbox    OutboxWriter
	Feeder    Feeder // optional; nil falls back to backstop-poller-only liveness

	symbols []string

	lastSeen map[string]PriceUpdate
}

// OutboxWriter lets the monitor enqueue a row in the same transaction as
// a StopEvent write without importing internal/outbox (avoids a cycle;
// the orchestrator wires the concrete *outbox.Writer in).
type OutboxWriter interface {
	EnqueueInTx(tx *sql.Tx, eventID, routingKey string, payload []byte) error
}

// Feeder streams live price updates into updates until ctx is cancelled.
// A Feeder is one of two independent sources of PriceUpdate (the other
// being the backstop poller); §4.5 requires only that at least one of
// them delivers a crossing, not that both run.
type Feeder interface {
	Run(ctx context.Context, symbols []string, updates chan<- PriceUpdate) error
}

func New(db *store.DB, cfgs *config.Registry, market marketdata.Port, exec execution.Port, breakers *circuitbreaker.Registry, outbox OutboxWriter, symbols []string) *Monitor {
	return &Monitor{
		DB: db, Configs: cfgs, Market: market, Exec: exec, Breakers: breakers, Outbox: outbox,
		symbols:  symbols,
		lastSeen: make(map[string]PriceUpdate),
	}
}

// Run starts the price feeder and backstop poller as a supervised group
// (§4.5, §9 cooperative shutdown: both goroutines exit once ctx is done).
func (m *Monitor) Run(ctx context.Context) error {
	updates := make(chan PriceUpdate, 256)
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error { return m.runPriceFeeder(ctx, updates) })
	g.Go(func() error { return m.runBackstopPoller(ctx, updates) })
	g.Go(func() error { return m.consumeUpdates(ctx, updates) })

	return g.Wait()
}

// runPriceFeeder drives the optional websocket Feeder. Absent one, it is a
// no-op so the backstop poller alone still guarantees liveness (§4.5:
// "Only one of them must win per operation per price crossing").
func (m *Monitor) runPriceFeeder(ctx context.Context, updates chan<- PriceUpdate) error {
	if m.Feeder == nil {
		<-ctx.Done()
		return nil
	}
	return m.Feeder.Run(ctx, m.symbols, updates)
}

func (m *Monitor) runBackstopPoller(ctx context.Context, updates chan<- PriceUpdate) error {
	ticker := time.NewTicker(BackstopInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			for _, symbol := range m.symbols {
				price, err := m.Market.BestBid(ctx, symbol)
				if err != nil {
					continue
				}
				select {
				case updates <- PriceUpdate{Symbol: symbol, Price: price, At: time.Now(), Source: domain.SourceCron}:
				case <-ctx.Done():
					return nil
				}
			}
		}
	}
}

func (m *Monitor) consumeUpdates(ctx context.Context, updates <-chan PriceUpdate) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case u := <-updates:
			m.lastSeen[u.Symbol] = u
			if err := m.evaluateSymbol(ctx, u); err != nil {
				telemetry.NewLogger("stopmonitor").Error().Err(err).Str("symbol", u.Symbol).Msg("trigger evaluation failed")
			}
		}
	}
}

func (m *Monitor) evaluateSymbol(ctx context.Context, u PriceUpdate) error {
	ops, err := m.DB.Operations.ListActiveBySymbol(u.Symbol)
	if err != nil {
		return err
	}
	for _, op := range ops {
		if err := m.EvaluateTrigger(ctx, op, u); err != nil {
			telemetry.NewLogger("stopmonitor").Warn().Err(err).Str("operation_id", op.ID).Msg("trigger guard aborted")
		}
	}
	return nil
}

// positionSide maps an Operation's entry side to the position direction
// the trigger comparison and execution_token need (§4.5): a BUY entry is
// a LONG position whose stop closes with a SELL, and vice versa.
func positionSide(side domain.Side) domain.PositionSide {
	if side == domain.SideBuy {
		return domain.PositionLong
	}
	return domain.PositionShort
}

func closingSide(side domain.PositionSide) domain.Side {
	if side == domain.PositionLong {
		return domain.SideSell
	}
	return domain.SideBuy
}

// triggered implements §4.5's crossing rule: LONG triggers at or below
// stop, SHORT at or above.
func triggered(side domain.PositionSide, currentPrice, stopPrice decimal.Decimal) bool {
	if side == domain.PositionLong {
		return currentPrice.LessThanOrEqual(stopPrice)
	}
	return currentPrice.GreaterThanOrEqual(stopPrice)
}

// executionToken computes the stable hash(operation_id, stop_price,
// direction) §4.5 specifies: the same token regardless of which feeder
// observes the crossing first, so concurrent workers collide on the
// (operation_id, execution_token) unique constraint rather than double-fire.
func executionToken(operationID string, stopPrice decimal.Decimal, side domain.PositionSide) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s:%s:%s", operationID, stopPrice.String(), side)))
	return hex.EncodeToString(sum[:])
}

// EvaluateTrigger runs one operation through the trigger check, guards,
// submission, and post-submission bookkeeping (§4.5). It is exported so
// tests can drive it directly; the websocket feeder and the backstop
// poller both reach it through consumeUpdates.
func (m *Monitor) EvaluateTrigger(ctx context.Context, op *domain.Operation, u PriceUpdate) error {
	side := positionSide(op.Side)
	if !triggered(side, u.Price, op.StopPrice) {
		return nil
	}

	token := executionToken(op.ID, op.StopPrice, side)

	existing, err := m.DB.StopExecutions.Get(op.ID, token)
	if err != nil {
		return err
	}
	if existing != nil && existing.Status != domain.StopExecPending {
		return nil // already past PENDING: another worker is handling or has handled this crossing
	}

	cfg, ok := m.Configs.Get(op.TenantID)
	if !ok {
		return riskerr.NotFound("tenant config", op.TenantID)
	}

	if err := m.appendEvent(ctx, op, token, domain.EventStopTriggered, u, domain.StopExecPending); err != nil {
		return err
	}

	// Guard 1: stale price.
	age := time.Since(u.At)
	if age > cfg.MaxDataAge() {
		return m.abort(ctx, op, token, domain.EventStalePrice, u, fmt.Sprintf("price age %s exceeds max_data_age_seconds", age))
	}

	// Guard 2: kill switch.
	if !cfg.TradingEnabled {
		return m.abort(ctx, op, token, domain.EventKillSwitch, u, "trading disabled for tenant")
	}

	// Guard 3: circuit breaker.
	breaker := m.Breakers.Check(op.Symbol, time.Now(), cfg.FailureThreshold, cfg.RetryDelaySeconds)
	_ = m.DB.CircuitBreakers.Upsert(breaker)
	if breaker.State == domain.CircuitOpen {
		return m.abort(ctx, op, token, domain.EventCircuitBreaker, u, "circuit breaker open")
	}

	return m.submit(ctx, op, token, side, u, cfg)
}

func (m *Monitor) abort(ctx context.Context, op *domain.Operation, token string, eventType domain.StopEventType, u PriceUpdate, reason string) error {
	status := domain.StopExecBlocked
	return m.appendEventWithStatus(ctx, op, token, eventType, u, status, reason)
}

// submit appends EXECUTION_SUBMITTED, calls the Execution Port, and
// records the outcome. The (operation_id, execution_token) unique
// constraint on StopExecution is what actually enforces "exactly once";
// the losing concurrent caller's UpsertInTx returns an invariant error on
// the already-advanced row and simply no-ops.
func (m *Monitor) submit(ctx context.Context, op *domain.Operation, token string, side domain.PositionSide, u PriceUpdate, cfg config.TenantConfig) error {
	if err := m.appendEventWithStatus(ctx, op, token, domain.EventExecutionSubmitted, u, domain.StopExecSubmitted, ""); err != nil {
		return err
	}

	result, err := m.Exec.PlaceMarket(ctx, op.Symbol, closingSide(side), op.Quantity, token)
	if err != nil {
		return m.onSubmitFailure(ctx, op, token, u, cfg, err)
	}
	return m.onSubmitSuccess(ctx, op, token, side, u, cfg, result)
}

func (m *Monitor) onSubmitSuccess(ctx context.Context, op *domain.Operation, token string, side domain.PositionSide, u PriceUpdate, cfg config.TenantConfig, result execution.OrderResult) error {
	fillPrice, _ := fillTotal(result)
	slippagePct := decimal.Zero
	if !op.StopPrice.IsZero() {
		slippagePct = fillPrice.Sub(op.StopPrice).Abs().Div(op.StopPrice).Mul(decimal.NewFromInt(100))
	}

	eventType := domain.EventExecuted
	if slippagePct.GreaterThan(cfg.MaxSlippagePct) {
		_ = m.appendFillEvent(ctx, op, token, domain.EventSlippageBreach, u, result, fillPrice, slippagePct, domain.StopExecExecuted)
	}
	if slippagePct.GreaterThan(cfg.SlippagePauseThresholdPct) {
		m.Configs.SetTradingEnabled(op.TenantID, false)
		eventType = domain.EventKillSwitch
	}

	if err := m.appendFillEvent(ctx, op, token, eventType, u, result, fillPrice, slippagePct, domain.StopExecExecuted); err != nil {
		return err
	}

	_ = m.DB.CircuitBreakers.Upsert(m.Breakers.RecordSuccess(op.Symbol))
	return m.DB.Operations.Transition(op.ID, domain.OperationClosed)
}

func (m *Monitor) onSubmitFailure(ctx context.Context, op *domain.Operation, token string, u PriceUpdate, cfg config.TenantConfig, submitErr error) error {
	if err := m.appendEventWithStatus(ctx, op, token, domain.EventFailed, u, domain.StopExecFailed, submitErr.Error()); err != nil {
		return err
	}
	_ = m.DB.CircuitBreakers.Upsert(m.Breakers.RecordFailure(op.Symbol, time.Now()))
	return submitErr
}

func fillTotal(r execution.OrderResult) (price, qty decimal.Decimal) {
	if len(r.Fills) == 0 {
		return decimal.Zero, decimal.Zero
	}
	var notional, total decimal.Decimal
	for _, f := range r.Fills {
		notional = notional.Add(f.Price.Mul(f.Quantity))
		total = total.Add(f.Quantity)
	}
	if total.IsZero() {
		return decimal.Zero, decimal.Zero
	}
	return notional.Div(total), total
}

// appendEvent/appendEventWithStatus/appendFillEvent all write the StopEvent,
// fold it into the StopExecution projection, and enqueue an outbox row in
// one transaction (§4.5 Projection; SPEC_FULL.md outbox wiring).
func (m *Monitor) appendEvent(ctx context.Context, op *domain.Operation, token string, eventType domain.StopEventType, u PriceUpdate, status domain.StopExecutionStatus) error {
	return m.appendEventWithStatus(ctx, op, token, eventType, u, status, "")
}

func (m *Monitor) appendEventWithStatus(ctx context.Context, op *domain.Operation, token string, eventType domain.StopEventType, u PriceUpdate, status domain.StopExecutionStatus, errMsg string) error {
	event := &domain.StopEvent{
		EventID:        uuid.NewString(),
		OccurredAt:     time.Now(),
		OperationID:    op.ID,
		TenantID:       op.TenantID,
		Symbol:         op.Symbol,
		EventType:      eventType,
		TriggerPrice:   u.Price,
		StopPrice:      op.StopPrice,
		Quantity:       op.Quantity,
		Side:           positionSide(op.Side),
		ExecutionToken: token,
		Source:         u.Source,
		ErrorMessage:   errMsg,
	}
	return m.writeEventAndProjection(ctx, op, event, status, decimal.Zero, decimal.Zero, "")
}

func (m *Monitor) appendFillEvent(ctx context.Context, op *domain.Operation, token string, eventType domain.StopEventType, u PriceUpdate, result execution.OrderResult, fillPrice, slippagePct decimal.Decimal, status domain.StopExecutionStatus) error {
	event := &domain.StopEvent{
		EventID:         uuid.NewString(),
		OccurredAt:      time.Now(),
		OperationID:     op.ID,
		TenantID:        op.TenantID,
		Symbol:          op.Symbol,
		EventType:       eventType,
		TriggerPrice:    u.Price,
		StopPrice:       op.StopPrice,
		Quantity:        op.Quantity,
		Side:            positionSide(op.Side),
		ExecutionToken:  token,
		Source:          u.Source,
		ExchangeOrderID: result.OrderID,
		FillPrice:       fillPrice,
		SlippagePct:     slippagePct,
	}
	return m.writeEventAndProjection(ctx, op, event, status, fillPrice, slippagePct, result.OrderID)
}

func (m *Monitor) writeEventAndProjection(ctx context.Context, op *domain.Operation, event *domain.StopEvent, status domain.StopExecutionStatus, fillPrice, slippagePct decimal.Decimal, exchangeOrderID string) error {
	tx, err := m.DB.Conn().Begin()
	if err != nil {
		return err
	}

	if err := m.DB.StopEvents.AppendInTx(tx, event); err != nil {
		tx.Rollback()
		return err
	}

	projection := &domain.StopExecution{
		ExecutionID:     uuid.NewString(),
		OperationID:     op.ID,
		ExecutionToken:  event.ExecutionToken,
		Status:          status,
		StopPrice:       event.StopPrice,
		TriggerPrice:    event.TriggerPrice,
		Quantity:        event.Quantity,
		Side:            event.Side,
		ExchangeOrderID: exchangeOrderID,
		FillPrice:       fillPrice,
		SlippagePct:     slippagePct,
		Source:          event.Source,
		ErrorMessage:    event.ErrorMessage,
	}
	switch status {
	case domain.StopExecPending:
		projection.TriggeredAt = event.OccurredAt
	case domain.StopExecSubmitted:
		projection.SubmittedAt = event.OccurredAt
	case domain.StopExecExecuted:
		projection.ExecutedAt = event.OccurredAt
	case domain.StopExecFailed, domain.StopExecBlocked:
		projection.FailedAt = event.OccurredAt
	}

	if err := m.DB.StopExecutions.UpsertInTx(tx, projection); err != nil {
		tx.Rollback()
		// A losing concurrent writer observes a monotonic-advance conflict
		// here; that is the exactly-once guarantee firing, not a bug.
		return err
	}

	if m.Outbox != nil {
		payload := []byte(fmt.Sprintf(`{"event_id":%q,"operation_id":%q,"event_type":%q,"symbol":%q}`,
			event.EventID, event.OperationID, event.EventType, event.Symbol))
		routingKey := fmt.Sprintf("stop.%s.%s.%s", event.EventType, event.TenantID, event.Symbol)
		if err := m.Outbox.EnqueueInTx(tx, event.EventID, routingKey, payload); err != nil {
			tx.Rollback()
			return err
		}
	}

	telemetry.StopEvents.WithLabelValues(string(event.EventType), event.Symbol).Inc()
	return tx.Commit()
}
