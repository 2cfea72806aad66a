// Package intent implements the Intent Pipeline (spec §4.4, component C7):
// the PLAN -> VALIDATE -> EXECUTE state machine that turns a trading
// intent into a committed exchange order with an auditable trail.
// Structured the way SynapseStrike/trader drives a single decision through
// several sequential stages with one struct carrying the shared
// dependencies, generalized here to the PENDING/VALIDATED/EXECUTED/FAILED
// states spec.md names.
package intent

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/singleflight"

	"github.com/riskforge/engine/internal/circuitbreaker"
	"github.com/riskforge/engine/internal/config"
	"github.com/riskforge/engine/internal/domain"
	"github.com/riskforge/engine/internal/entrygate"
	"github.com/riskforge/engine/internal/execution"
	"github.com/riskforge/engine/internal/marketdata"
	"github.com/riskforge/engine/internal/money"
	"github.com/riskforge/engine/internal/ratelimit"
	"github.com/riskforge/engine/internal/riskerr"
	"github.com/riskforge/engine/internal/sizer"
	"github.com/riskforge/engine/internal/stopcalc"
	"github.com/riskforge/engine/internal/store"
	"github.com/riskforge/engine/internal/telemetry"
)

// riskPerPositionPct mirrors entrygate's constRiskPerPositionPct (§4.3):
// the 1% rule the VALIDATE guard battery enforces independently of the
// Entry Gate's DynamicPositionLimit check.
const riskPerPositionPct = 1.0

// monthlyDrawdownCeilingPct is the 4% monthly-drawdown ceiling the VALIDATE
// guard battery enforces (§4.4), distinct from the Entry Gate's budget math.
const monthlyDrawdownCeilingPct = 4.0

// Pipeline wires the Intent Pipeline's dependencies: persistence, the
// Technical Stop Calculator, the Position Sizer, the Entry Gate, the
// Execution Port, and the per-symbol circuit breaker.
type Pipeline struct {
	DB        *store.DB
	Configs   *config.Registry
	Market    marketdata.Port
	Exec      execution.Port
	Breakers  *circuitbreaker.Registry
	RateLimit *ratelimit.Registry

	sf singleflight.Group
}

func New(db *store.DB, cfgs *config.Registry, market marketdata.Port, exec execution.Port, breakers *circuitbreaker.Registry, rl *ratelimit.Registry) *Pipeline {
	return &Pipeline{DB: db, Configs: cfgs, Market: market, Exec: exec, Breakers: breakers, RateLimit: rl}
}

// PlanRequest carries the client-submitted intent fields (§4.4 PLAN); zero
// values for Entry/Stop/Capital/Quantity trigger derivation.
type PlanRequest struct {
	TenantID    string
	Symbol      string
	Side        domain.Side
	Entry       decimal.Decimal
	Stop        decimal.Decimal
	Target      decimal.Decimal
	Capital     decimal.Decimal
	Quantity    decimal.Decimal
	RiskPercent decimal.Decimal
	Confidence  string
	StrategyRef string
	Timeframe   string
	Pattern     *domain.PatternOrigin
}

// Plan derives any missing fields and persists a new PENDING intent
// (§4.4 PLAN). If a derivation fails, the intent is rejected with a
// structured error and nothing is persisted.
func (p *Pipeline) Plan(ctx context.Context, req PlanRequest) (*domain.TradingIntent, error) {
	log := telemetry.NewLogger("intent")

	if req.TenantID == "" || req.Symbol == "" {
		return nil, riskerr.Validation("tenant_id and symbol are required")
	}
	if req.Side != domain.SideBuy && req.Side != domain.SideSell {
		return nil, riskerr.Validation("side must be BUY or SELL")
	}

	cfg, ok := p.Configs.Get(req.TenantID)
	if !ok {
		return nil, riskerr.NotFound("tenant config", req.TenantID)
	}

	capital := req.Capital
	if capital.IsZero() {
		capital = cfg.Capital
	}

	entry := req.Entry
	if entry.IsZero() {
		derived, err := p.deriveEntry(ctx, req.Symbol, req.Side)
		if err != nil {
			return nil, riskerr.Validation("could not derive entry price: " + err.Error())
		}
		entry = derived
	}

	stop := req.Stop
	if stop.IsZero() {
		candles, err := p.Market.Klines(ctx, req.Symbol, req.Timeframe, 200)
		if err != nil {
			return nil, riskerr.Validation("could not fetch candles for stop calculation: " + err.Error())
		}
		result := stopcalc.Calculate(candles, entry, req.Side, req.Timeframe, stopcalc.DefaultParams())
		stop = result.StopPrice
		log.Debug().Str("method", string(result.Method)).Str("confidence", string(result.Confidence)).Msg("technical stop derived")
	}

	riskPct := req.RiskPercent
	if riskPct.IsZero() {
		riskPct = decimal.NewFromFloat(riskPerPositionPct)
	}

	quantity := req.Quantity
	var sizerResult sizer.Result
	if quantity.IsZero() {
		result, err := sizer.Size(capital, entry, stop, req.Target, riskPct, req.Side, sizer.DefaultParams())
		if err != nil {
			return nil, riskerr.Validation("could not derive quantity: " + err.Error())
		}
		sizerResult = result
		quantity = result.Quantity
	}

	intent := &domain.TradingIntent{
		ID:          uuid.NewString(),
		TenantID:    req.TenantID,
		Symbol:      req.Symbol,
		Side:        req.Side,
		Quantity:    money.RoundQuantity(quantity, 8),
		EntryPrice:  money.RoundPrice(entry),
		StopPrice:   money.RoundPrice(stop),
		TargetPrice: money.RoundPrice(req.Target),
		Capital:     capital,
		RiskAmount:  sizerResult.RiskAmount,
		RiskPercent: money.RoundPercent(riskPct),
		Confidence:  req.Confidence,
		StrategyRef: req.StrategyRef,
		Status:      domain.IntentPending,
		Pattern:     req.Pattern,
		CreatedAt:   time.Now(),
	}

	if err := p.DB.Intents.Create(intent); err != nil {
		return nil, fmt.Errorf("persist intent: %w", err)
	}
	log.Info().Str("intent_id", intent.ID).Str("symbol", intent.Symbol).Msg("intent planned")
	return intent, nil
}

func (p *Pipeline) deriveEntry(ctx context.Context, symbol string, side domain.Side) (decimal.Decimal, error) {
	if side == domain.SideBuy {
		return p.Market.BestAsk(ctx, symbol)
	}
	return p.Market.BestBid(ctx, symbol)
}

// ValidateRequest carries the context the VALIDATE stage's checks need
// beyond the intent itself (§4.3 Entry Gate inputs, §4.4 guard battery).
type ValidateRequest struct {
	IntendedMode    domain.ExecutionMode
	MonthlyPnL      decimal.Decimal
	ActivePositions int
	LatestStopOutAt *time.Time
}

// Validate runs field validation, the Entry Gate, and the risk-management
// guard battery (§4.4 VALIDATE). The result is persisted verbatim on the
// intent whether it passes or fails.
func (p *Pipeline) Validate(ctx context.Context, intentID string, req ValidateRequest) (*domain.TradingIntent, error) {
	log := telemetry.NewLogger("intent")

	in, err := p.DB.Intents.Get(intentID)
	if err != nil {
		return nil, err
	}
	if in == nil {
		return nil, riskerr.NotFound("intent", intentID)
	}
	if in.Status != domain.IntentPending {
		return nil, riskerr.Invariant("intent must be PENDING to validate", string(in.Status), string(domain.IntentValidated), nil)
	}

	var issues []string

	issues = append(issues, fieldInvariantIssues(in)...)

	cfg, ok := p.Configs.Get(in.TenantID)
	if !ok {
		issues = append(issues, "no tenant config found for "+in.TenantID)
	} else {
		gateDecision := entrygate.Evaluate(ctx, cfg, entrygate.EvaluationInput{
			TenantID:        in.TenantID,
			Symbol:          in.Symbol,
			Now:             time.Now(),
			MonthlyPnL:      req.MonthlyPnL,
			ActivePositions: req.ActivePositions,
			LatestStopOutAt: req.LatestStopOutAt,
			MarketData:      p.Market,
		})
		if !gateDecision.Allowed {
			issues = append(issues, gateDecision.Reasons...)
		}
		issues = append(issues, guardBattery(in, req, cfg)...)
	}

	passed := len(issues) == 0
	in.Validation = &domain.ValidationResult{Passed: passed, Issues: issues}
	in.ValidatedAt = time.Now()
	if passed {
		in.Status = domain.IntentValidated
	} else {
		in.Status = domain.IntentFailed
	}

	if err := p.DB.Intents.Update(in); err != nil {
		return nil, fmt.Errorf("persist validation result: %w", err)
	}
	log.Info().Str("intent_id", in.ID).Bool("passed", passed).Int("issue_count", len(issues)).Msg("intent validated")
	return in, nil
}

// fieldInvariantIssues enforces §3's TradingIntent invariants (I1):
// entry != stop, side-correct stop direction, risk_percent <= 1%.
func fieldInvariantIssues(in *domain.TradingIntent) []string {
	var issues []string
	if in.StopPrice.IsZero() {
		issues = append(issues, "stop price is required")
	}
	if in.EntryPrice.Equal(in.StopPrice) {
		issues = append(issues, "entry and stop must differ")
	}
	if in.Side == domain.SideBuy && !in.StopPrice.LessThan(in.EntryPrice) {
		issues = append(issues, "stop must be below entry for BUY")
	}
	if in.Side == domain.SideSell && !in.StopPrice.GreaterThan(in.EntryPrice) {
		issues = append(issues, "stop must be above entry for SELL")
	}
	if in.RiskPercent.GreaterThan(decimal.NewFromFloat(riskPerPositionPct)) {
		issues = append(issues, fmt.Sprintf("risk_percent %s exceeds the %.2f%% rule", in.RiskPercent.String(), riskPerPositionPct))
	}
	return issues
}

// guardBattery implements the part of §4.4's risk-management guard battery
// not already covered by fieldInvariantIssues (which checks stop required
// and the 1% rule): the 4% monthly-drawdown ceiling and, for LIVE only,
// strategy name required. Trade confirmation is not checked here; Execute
// checks ExecuteOptions.Acknowledged for LIVE runs.
func guardBattery(in *domain.TradingIntent, req ValidateRequest, cfg config.TenantConfig) []string {
	var issues []string

	if !cfg.Capital.IsZero() && !req.MonthlyPnL.IsZero() {
		drawdownPct := req.MonthlyPnL.Div(cfg.Capital).Mul(decimal.NewFromInt(100)).Neg()
		if drawdownPct.GreaterThanOrEqual(decimal.NewFromFloat(monthlyDrawdownCeilingPct)) {
			issues = append(issues, fmt.Sprintf("monthly drawdown %.2f%% breaches the %.1f%% ceiling", drawdownPct.InexactFloat64(), monthlyDrawdownCeilingPct))
		}
	}

	if req.IntendedMode == domain.ModeLive {
		if in.StrategyRef == "" {
			issues = append(issues, "strategy name is required for live execution")
		}
	}
	return issues
}

// ExecuteOptions carries the flags §4.4 EXECUTE names for LIVE mode.
type ExecuteOptions struct {
	Acknowledged bool
	Nonce        int64
}

// Execute runs the EXECUTE stage (§4.4). In dry-run, no exchange call
// happens and execution_result records a simulated order. In live, the
// pipeline submits a market order and, on success, atomically creates the
// Operation, writes the AuditTransaction, and marks the intent EXECUTED.
func (p *Pipeline) Execute(ctx context.Context, intentID string, mode domain.ExecutionMode, opts ExecuteOptions) (*domain.TradingIntent, error) {
	result, err, _ := p.sf.Do(intentID+":execute", func() (interface{}, error) {
		return p.execute(ctx, intentID, mode, opts)
	})
	if err != nil {
		return nil, err
	}
	return result.(*domain.TradingIntent), nil
}

func (p *Pipeline) execute(ctx context.Context, intentID string, mode domain.ExecutionMode, opts ExecuteOptions) (*domain.TradingIntent, error) {
	log := telemetry.NewLogger("intent")

	in, err := p.DB.Intents.Get(intentID)
	if err != nil {
		return nil, err
	}
	if in == nil {
		return nil, riskerr.NotFound("intent", intentID)
	}
	if in.Status != domain.IntentValidated {
		return nil, riskerr.Invariant("intent must be VALIDATED to execute", string(in.Status), string(domain.IntentExecuted), nil)
	}

	idempotencyKey := executeIdempotencyKey(intentID, opts.Nonce)

	if mode == domain.ModeDryRun {
		in.Execution = &domain.ExecutionResult{
			Simulated:      true,
			FillPrice:      in.EntryPrice,
			FilledQuantity: in.Quantity,
		}
		in.Status = domain.IntentExecuted
		in.ExecutedAt = time.Now()
		if err := p.DB.Intents.Update(in); err != nil {
			return nil, fmt.Errorf("persist dry-run execution: %w", err)
		}
		telemetry.IntentTransitions.WithLabelValues(string(domain.IntentValidated), string(domain.IntentExecuted)).Inc()
		log.Info().Str("intent_id", in.ID).Str("idempotency_key", idempotencyKey).Msg("dry-run executed")
		return in, nil
	}

	if in.Pattern != nil {
		return nil, riskerr.GateDenial("pattern-triggered intents are hard-blocked from live execution")
	}

	existingOp, err := p.DB.Operations.GetByIntentID(intentID)
	if err != nil {
		return nil, err
	}
	if existingOp != nil && existingOp.EntryOrderID != "" {
		in.Execution = &domain.ExecutionResult{ExchangeOrderID: existingOp.EntryOrderID, FilledQuantity: existingOp.FilledQty}
		log.Info().Str("intent_id", in.ID).Str("existing_order_id", existingOp.EntryOrderID).Msg("idempotent live execute: returning existing operation")
		return in, nil
	}

	if !opts.Acknowledged {
		return nil, riskerr.Validation("live execution requires an explicit acknowledgement flag")
	}
	if in.TenantID == "" {
		return nil, riskerr.Validation("live execution requires tenant context")
	}
	cfg, ok := p.Configs.Get(in.TenantID)
	if !ok {
		return nil, riskerr.NotFound("tenant config", in.TenantID)
	}
	if !cfg.TradingEnabled {
		return nil, riskerr.KillSwitch(in.TenantID)
	}
	if err := p.checkExecutionLimits(in.TenantID, cfg); err != nil {
		return nil, err
	}

	orderResult, err := p.Exec.PlaceMarket(ctx, in.Symbol, in.Side, in.Quantity, idempotencyKey)
	if err != nil {
		in.Status = domain.IntentFailed
		in.Execution = &domain.ExecutionResult{Error: err.Error()}
		_ = p.DB.Intents.Update(in)
		telemetry.IntentTransitions.WithLabelValues(string(domain.IntentValidated), string(domain.IntentFailed)).Inc()
		log.Error().Err(err).Str("intent_id", in.ID).Msg("live execution failed before an order id was returned")
		return nil, err
	}

	fillPrice, filledQty := fillTotals(orderResult)

	tx, err := p.DB.Conn().Begin()
	if err != nil {
		// The exchange has already committed the order. A reconciliation
		// pass over exchange history (internal/audit) recovers this case
		// by matching the now-orphaned exchange_order_id to a new Operation.
		return nil, fmt.Errorf("begin execute transaction after exchange accepted order %s: %w", orderResult.OrderID, err)
	}

	op := &domain.Operation{
		ID:           uuid.NewString(),
		TenantID:     in.TenantID,
		Strategy:     in.StrategyRef,
		Symbol:       in.Symbol,
		Side:         in.Side,
		Status:       domain.OperationActive,
		StopPrice:    in.StopPrice,
		TargetPrice:  in.TargetPrice,
		Quantity:     in.Quantity,
		FilledQty:    filledQty,
		EntryOrderID: orderResult.OrderID,
		IntentID:     in.ID,
	}
	if err := p.DB.Operations.CreateInTx(tx, op); err != nil {
		tx.Rollback()
		return nil, rollbackError("create operation", orderResult.OrderID, err)
	}

	audit := &domain.AuditTransaction{
		ID:              uuid.NewString(),
		ExchangeOrderID: orderResult.OrderID,
		TenantID:        in.TenantID,
		Symbol:          in.Symbol,
		Quantity:        filledQty,
		Price:           fillPrice,
		TotalValue:      fillPrice.Mul(filledQty),
		Side:            in.Side,
		TransactionType: transactionTypeFor(in.Side),
		OperationID:     op.ID,
		Source:          domain.SourceEngine,
		ExecutedAt:      time.Now(),
	}
	if err := p.DB.Audit.InsertInTx(tx, audit); err != nil {
		tx.Rollback()
		return nil, rollbackError("insert audit transaction", orderResult.OrderID, err)
	}

	in.Execution = &domain.ExecutionResult{ExchangeOrderID: orderResult.OrderID, FillPrice: fillPrice, FilledQuantity: filledQty}
	in.Status = domain.IntentExecuted
	in.ExecutedAt = time.Now()
	if err := updateIntentInTx(tx, in); err != nil {
		tx.Rollback()
		return nil, rollbackError("mark intent executed", orderResult.OrderID, err)
	}

	if err := tx.Commit(); err != nil {
		return nil, rollbackError("commit execute transaction", orderResult.OrderID, err)
	}

	telemetry.IntentTransitions.WithLabelValues(string(domain.IntentValidated), string(domain.IntentExecuted)).Inc()
	log.Info().Str("intent_id", in.ID).Str("operation_id", op.ID).Str("order_id", orderResult.OrderID).Msg("live execution committed")
	return in, nil
}

func rollbackError(step, orderID string, err error) error {
	return fmt.Errorf("%s rolled back after exchange accepted order %s (needs reconciliation): %w", step, orderID, err)
}

func (p *Pipeline) checkExecutionLimits(tenantID string, cfg config.TenantConfig) error {
	if p.RateLimit != nil && !p.RateLimit.Allow(tenantID) {
		return riskerr.GateDenial(fmt.Sprintf("execution rate limit exceeded (max %d/min)", cfg.MaxExecutionsPerMinute))
	}
	since := time.Now().Add(-time.Hour)
	recent, err := p.DB.Audit.ListByTenantSince(tenantID, since, cfg.MaxExecutionsPerHour+1)
	if err != nil {
		return fmt.Errorf("check execution limits: %w", err)
	}
	if len(recent) >= cfg.MaxExecutionsPerHour {
		return riskerr.GateDenial(fmt.Sprintf("hourly execution limit reached (%d/%d)", len(recent), cfg.MaxExecutionsPerHour))
	}
	return nil
}

func fillTotals(r execution.OrderResult) (price, qty decimal.Decimal) {
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

func transactionTypeFor(side domain.Side) domain.TransactionType {
	if side == domain.SideBuy {
		return domain.TxSpotBuy
	}
	return domain.TxSpotSell
}

// executeIdempotencyKey computes hash(intent_id, "execute", nonce_or_0)
// (§4.4 Idempotency). sha256 is stdlib because the input/output shape is
// a fixed, trivial digest with no ecosystem library in the retrieved pack
// specializing in request idempotency keys beyond what crypto/sha256 gives.
func executeIdempotencyKey(intentID string, nonce int64) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s:execute:%d", intentID, nonce)))
	return hex.EncodeToString(sum[:])
}

func updateIntentInTx(tx *sql.Tx, in *domain.TradingIntent) error {
	executionJSON, err := json.Marshal(in.Execution)
	if err != nil {
		return err
	}
	_, err = tx.Exec(`
		UPDATE trading_intents SET
			status=?, execution_json=?, executed_at=?
		WHERE id = ?
	`, string(in.Status), string(executionJSON), in.ExecutedAt, in.ID)
	return err
}

// Cancel implements cancel_operation (§6 command interface): valid only
// from PLANNED -> CANCELLED or ACTIVE -> CANCELLED; transitions from a
// terminal state fail with a structured conflict error.
func (p *Pipeline) Cancel(ctx context.Context, operationID string) error {
	return p.DB.Operations.Transition(operationID, domain.OperationCancelled)
}
