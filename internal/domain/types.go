// Package domain holds the entities of spec §3 shared across every
// component: TradingIntent, Operation, Order, AuditTransaction, StopEvent,
// StopExecution, PatternInstance/Alert/Trigger, TrailingStopState. Keeping
// them in one leaf package avoids import cycles between the components
// that read and write them (intent, stopmonitor, pattern, audit, ...).
package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

type PositionSide string

const (
	PositionLong  PositionSide = "LONG"
	PositionShort PositionSide = "SHORT"
)

// IntentStatus is the TradingIntent lifecycle state (§3, §4.4).
type IntentStatus string

const (
	IntentPending   IntentStatus = "PENDING"
	IntentValidated IntentStatus = "VALIDATED"
	IntentExecuted  IntentStatus = "EXECUTED"
	IntentFailed    IntentStatus = "FAILED"
)

// ExecutionMode selects dry-run vs live EXECUTE behavior (§4.4).
type ExecutionMode string

const (
	ModeDryRun ExecutionMode = "dry-run"
	ModeLive   ExecutionMode = "live"
)

// ValidationResult is persisted verbatim on the TradingIntent (§4.4).
type ValidationResult struct {
	Passed bool
	Issues []string
}

// ExecutionResult is persisted verbatim on the TradingIntent whether the
// run was dry-run (simulated order) or live (exchange fill).
type ExecutionResult struct {
	Simulated       bool            `json:"simulated"`
	ExchangeOrderID string          `json:"exchange_order_id"`
	FillPrice       decimal.Decimal `json:"fill_price"`
	FilledQuantity  decimal.Decimal `json:"filled_quantity"`
	Error           string          `json:"error"`
}

// PatternOrigin is set on intents created by the pattern-to-intent bridge
// (§4.7). Zero value means the intent was user-originated.
type PatternOrigin struct {
	PatternCode   string
	Source        string
	PatternEventID string
	TriggeredAt   time.Time
}

// TradingIntent is the planned trade (§3).
type TradingIntent struct {
	ID           string
	TenantID     string
	Symbol       string
	Side         Side
	Quantity     decimal.Decimal
	EntryPrice   decimal.Decimal
	StopPrice    decimal.Decimal
	TargetPrice  decimal.Decimal // optional, may be zero
	Capital      decimal.Decimal
	RiskAmount   decimal.Decimal
	RiskPercent  decimal.Decimal
	Confidence   string
	StrategyRef  string
	Status       IntentStatus
	Validation   *ValidationResult
	Execution    *ExecutionResult
	Pattern      *PatternOrigin
	CreatedAt    time.Time
	ValidatedAt  time.Time
	ExecutedAt   time.Time
}

// OperationStatus is the Operation lifecycle state (§3). Transitions form
// a DAG: PLANNED -> ACTIVE -> {CLOSED, CANCELLED}; PLANNED -> CANCELLED.
type OperationStatus string

const (
	OperationPlanned   OperationStatus = "PLANNED"
	OperationActive    OperationStatus = "ACTIVE"
	OperationClosed    OperationStatus = "CLOSED"
	OperationCancelled OperationStatus = "CANCELLED"
)

// Operation is a committed trade (§3).
type Operation struct {
	ID            string
	TenantID      string
	Strategy      string
	Symbol        string
	Side          Side
	Status        OperationStatus
	StopPrice     decimal.Decimal
	TargetPrice   decimal.Decimal
	Quantity      decimal.Decimal
	FilledQty     decimal.Decimal
	EntryOrderID  string
	IntentID      string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// AllowedOperationTransitions enumerates the DAG §3/§6 specifies.
var AllowedOperationTransitions = map[OperationStatus][]OperationStatus{
	OperationPlanned: {OperationActive, OperationCancelled},
	OperationActive:  {OperationClosed, OperationCancelled},
	OperationClosed:  {},
	OperationCancelled: {},
}

func (o Operation) CanTransitionTo(next OperationStatus) bool {
	for _, allowed := range AllowedOperationTransitions[o.Status] {
		if allowed == next {
			return true
		}
	}
	return false
}

type OrderType string

const (
	OrderMarket          OrderType = "MARKET"
	OrderLimit           OrderType = "LIMIT"
	OrderStopLossLimit   OrderType = "STOP_LOSS_LIMIT"
	OrderTakeProfitLimit OrderType = "TAKE_PROFIT_LIMIT"
)

type OrderStatus string

const (
	OrderPending         OrderStatus = "PENDING"
	OrderPartiallyFilled OrderStatus = "PARTIALLY_FILLED"
	OrderFilled          OrderStatus = "FILLED"
	OrderCancelled       OrderStatus = "CANCELLED"
	OrderRejected        OrderStatus = "REJECTED"
)

// Order is an atomic entry/exit order (§3). Partial fills mutate
// FilledQuantity/AvgFillPrice in place; the record is never recreated.
type Order struct {
	ID             string
	TenantID       string
	Symbol         string
	Side           Side
	Type           OrderType
	Quantity       decimal.Decimal
	FilledQuantity decimal.Decimal
	AvgFillPrice   decimal.Decimal
	Status         OrderStatus
}

// TransactionSource distinguishes engine-originated movements from
// reconciliation-discovered ones (§3).
type TransactionSource string

const (
	SourceEngine        TransactionSource = "engine"
	SourceExchangeSync  TransactionSource = "exchange_sync"
)

type TransactionType string

const (
	TxSpotBuy     TransactionType = "SPOT_BUY"
	TxSpotSell    TransactionType = "SPOT_SELL"
	TxMarginBuy   TransactionType = "MARGIN_BUY"
	TxMarginSell  TransactionType = "MARGIN_SELL"
	TxDeposit     TransactionType = "DEPOSIT"
	TxWithdrawal  TransactionType = "WITHDRAWAL"
	TxFee         TransactionType = "FEE"
	TxBorrow      TransactionType = "BORROW"
	TxRepay       TransactionType = "REPAY"
)

// AuditTransaction is an append-only atomic movement (§3 "Movement").
type AuditTransaction struct {
	ID              string
	ExchangeOrderID string
	TenantID        string
	Symbol          string
	Asset           string
	Quantity        decimal.Decimal
	Price           decimal.Decimal
	TotalValue      decimal.Decimal
	Fee             decimal.Decimal
	Side            Side
	TransactionType TransactionType
	Leverage        int
	IsMargin        bool
	StopPrice       decimal.Decimal
	OperationID     string
	MarginPositionID string
	RawResponse     string
	Source          TransactionSource
	ExecutedAt      time.Time
}

// StopEventType enumerates the append-only event log's event kinds (§3, §4.5).
type StopEventType string

const (
	EventStopTriggered     StopEventType = "STOP_TRIGGERED"
	EventExecutionSubmitted StopEventType = "EXECUTION_SUBMITTED"
	EventExecuted          StopEventType = "EXECUTED"
	EventFailed            StopEventType = "FAILED"
	EventBlocked           StopEventType = "BLOCKED"
	EventStalePrice        StopEventType = "STALE_PRICE"
	EventKillSwitch        StopEventType = "KILL_SWITCH"
	EventSlippageBreach    StopEventType = "SLIPPAGE_BREACH"
	EventCircuitBreaker    StopEventType = "CIRCUIT_BREAKER"
)

// PriceSource identifies which feeder produced a trigger evaluation (§4.5).
type PriceSource string

const (
	SourceWS     PriceSource = "ws"
	SourceCron   PriceSource = "cron"
	SourceManual PriceSource = "manual"
)

// StopEvent is one append-only row of the event-sourced stop log (§3).
type StopEvent struct {
	EventID        string
	EventSeq       int64
	OccurredAt     time.Time
	OperationID    string
	TenantID       string
	Symbol         string
	EventType      StopEventType
	TriggerPrice   decimal.Decimal
	StopPrice      decimal.Decimal
	Quantity       decimal.Decimal
	Side           PositionSide
	ExecutionToken string
	Payload        string
	ExchangeOrderID string
	FillPrice      decimal.Decimal
	SlippagePct    decimal.Decimal
	Source         PriceSource
	ErrorMessage   string
	RetryCount     int
}

// StopExecutionStatus is the projection's status (§3). Monotonic: PENDING
// -> SUBMITTED -> EXECUTED or -> FAILED/BLOCKED.
type StopExecutionStatus string

const (
	StopExecPending   StopExecutionStatus = "PENDING"
	StopExecSubmitted StopExecutionStatus = "SUBMITTED"
	StopExecExecuted  StopExecutionStatus = "EXECUTED"
	StopExecFailed    StopExecutionStatus = "FAILED"
	StopExecBlocked   StopExecutionStatus = "BLOCKED"
)

var stopExecRank = map[StopExecutionStatus]int{
	StopExecPending:   0,
	StopExecSubmitted: 1,
	StopExecExecuted:  2,
	StopExecFailed:    2,
	StopExecBlocked:   2,
}

// CanAdvanceTo reports whether moving from s to next respects the
// monotonic status ordering (§3 invariant).
func (s StopExecutionStatus) CanAdvanceTo(next StopExecutionStatus) bool {
	return stopExecRank[next] >= stopExecRank[s]
}

// StopExecution is the projection of StopEvent (§3), one row per
// (operation_id, execution_token).
type StopExecution struct {
	ExecutionID     string
	OperationID     string
	ExecutionToken  string
	Status          StopExecutionStatus
	StopPrice       decimal.Decimal
	TriggerPrice    decimal.Decimal
	Quantity        decimal.Decimal
	Side            PositionSide
	TriggeredAt     time.Time
	SubmittedAt     time.Time
	ExecutedAt      time.Time
	FailedAt        time.Time
	ExchangeOrderID string
	FillPrice       decimal.Decimal
	SlippagePct     decimal.Decimal
	Source          PriceSource
	ErrorMessage    string
	RetryCount      int
}

// CircuitState is the per-symbol circuit breaker state (§3).
type CircuitState string

const (
	CircuitClosed   CircuitState = "CLOSED"
	CircuitOpen     CircuitState = "OPEN"
	CircuitHalfOpen CircuitState = "HALF_OPEN"
)

// CircuitBreakerState is the persisted per-symbol breaker record (§3).
type CircuitBreakerState struct {
	Symbol           string
	State            CircuitState
	FailureCount     int
	LastFailureAt    time.Time
	OpenedAt         time.Time
	WillRetryAt      time.Time
	FailureThreshold int
	RetryDelaySeconds int64
}

// OutboxRow is one event -> message-bus delivery record (§3).
type OutboxRow struct {
	OutboxID    string
	EventID     string
	RoutingKey  string
	Exchange    string
	Payload     string
	Published   bool
	PublishedAt time.Time
	RetryCount  int
	LastError   string
	CreatedAt   time.Time
}

// PatternStatus is the PatternInstance lifecycle state (§3, §4.7).
type PatternStatus string

const (
	PatternForming     PatternStatus = "FORMING"
	PatternConfirmed   PatternStatus = "CONFIRMED"
	PatternInvalidated PatternStatus = "INVALIDATED"
)

// PatternEvidence carries the prices/confidence a detector observed.
type PatternEvidence struct {
	EntryPrice       decimal.Decimal
	InvalidationPrice decimal.Decimal
	TargetPrice      decimal.Decimal
	Confidence       decimal.Decimal
}

// PatternInstance is a detected pattern (§3).
type PatternInstance struct {
	ID              string
	PatternCode     string
	Symbol          string
	Timeframe       string
	Status          PatternStatus
	DetectionBarTS  int64
	DetectedAt      time.Time
	Evidence        PatternEvidence
	Features        string // JSON blob of indicator values at detection time
}

type PatternAlertType string

const (
	AlertDetected  PatternAlertType = "DETECTED"
	AlertConfirm   PatternAlertType = "CONFIRM"
	AlertInvalidate PatternAlertType = "INVALIDATE"
)

// PatternAlert is an emitted notification for a PatternInstance transition (§3).
type PatternAlert struct {
	ID                string
	PatternInstanceID string
	PatternCode       string
	Symbol            string
	Timeframe         string
	Type              PatternAlertType
	EmittedAt         time.Time
}

// PatternTrigger is the idempotency record (tenant, pattern_event_id) ->
// TradingIntent (§3).
type PatternTrigger struct {
	TenantID       string
	PatternEventID string
	IntentID       string
	CreatedAt      time.Time
}

// TrailingStopState is the input to the Trailing-Stop Calculator (§3, §4.6).
type TrailingStopState struct {
	PositionID   string
	Symbol       string
	Side         PositionSide
	EntryPrice   decimal.Decimal
	InitialStop  decimal.Decimal
	CurrentStop  decimal.Decimal
	CurrentPrice decimal.Decimal
	Quantity     decimal.Decimal
}

// Span is |entry - initial_stop|, the unit of trailing-stop step size (§3).
func (t TrailingStopState) Span() decimal.Decimal {
	return t.EntryPrice.Sub(t.InitialStop).Abs()
}

// Candle is one OHLCV bar (§6 klines).
type Candle struct {
	OpenTime time.Time
	Open     decimal.Decimal
	High     decimal.Decimal
	Low      decimal.Decimal
	Close    decimal.Decimal
	Volume   decimal.Decimal
}
