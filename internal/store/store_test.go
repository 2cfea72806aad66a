package store

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/riskforge/engine/internal/domain"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestIntentStoreCreateGetRoundTrip(t *testing.T) {
	db := openTestDB(t)
	in := &domain.TradingIntent{
		ID:          "intent-1",
		TenantID:    "tenant-1",
		Symbol:      "BTCUSDT",
		Side:        domain.SideBuy,
		Quantity:    decimal.NewFromFloat(0.5),
		EntryPrice:  decimal.NewFromInt(100),
		StopPrice:   decimal.NewFromInt(98),
		TargetPrice: decimal.NewFromInt(110),
		Capital:     decimal.NewFromInt(10000),
		RiskAmount:  decimal.NewFromInt(100),
		RiskPercent: decimal.NewFromInt(1),
		Status:      domain.IntentPending,
		CreatedAt:   time.Now(),
	}
	require.NoError(t, db.Intents.Create(in))

	got, err := db.Intents.Get("intent-1")
	require.NoError(t, err)
	assert.Equal(t, "tenant-1", got.TenantID)
	assert.Equal(t, domain.IntentPending, got.Status)
	assert.True(t, got.Quantity.Equal(decimal.NewFromFloat(0.5)))
}

func TestIntentStoreListPendingOnlyReturnsPending(t *testing.T) {
	db := openTestDB(t)
	pending := &domain.TradingIntent{ID: "p1", TenantID: "t1", Symbol: "BTCUSDT", Side: domain.SideBuy,
		Quantity: decimal.Zero, EntryPrice: decimal.Zero, StopPrice: decimal.Zero, TargetPrice: decimal.Zero,
		Capital: decimal.Zero, RiskAmount: decimal.Zero, RiskPercent: decimal.Zero, Status: domain.IntentPending, CreatedAt: time.Now()}
	executed := &domain.TradingIntent{ID: "e1", TenantID: "t1", Symbol: "BTCUSDT", Side: domain.SideBuy,
		Quantity: decimal.Zero, EntryPrice: decimal.Zero, StopPrice: decimal.Zero, TargetPrice: decimal.Zero,
		Capital: decimal.Zero, RiskAmount: decimal.Zero, RiskPercent: decimal.Zero, Status: domain.IntentExecuted, CreatedAt: time.Now()}
	require.NoError(t, db.Intents.Create(pending))
	require.NoError(t, db.Intents.Create(executed))

	out, err := db.Intents.ListPending()
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "p1", out[0].ID)
}

func TestIntentStoreUpdatePersistsStatus(t *testing.T) {
	db := openTestDB(t)
	in := &domain.TradingIntent{ID: "i1", TenantID: "t1", Symbol: "BTCUSDT", Side: domain.SideBuy,
		Quantity: decimal.Zero, EntryPrice: decimal.Zero, StopPrice: decimal.Zero, TargetPrice: decimal.Zero,
		Capital: decimal.Zero, RiskAmount: decimal.Zero, RiskPercent: decimal.Zero, Status: domain.IntentPending, CreatedAt: time.Now()}
	require.NoError(t, db.Intents.Create(in))

	in.Status = domain.IntentValidated
	in.ValidatedAt = time.Now()
	require.NoError(t, db.Intents.Update(in))

	got, err := db.Intents.Get("i1")
	require.NoError(t, err)
	assert.Equal(t, domain.IntentValidated, got.Status)
}

func TestPatternStoreInsertInstanceDuplicateBarIsIdentifiable(t *testing.T) {
	db := openTestDB(t)
	inst := &domain.PatternInstance{
		ID: "pi-1", PatternCode: "HAMMER", Symbol: "BTCUSDT", Timeframe: "15m",
		Status: domain.PatternForming, DetectionBarTS: 1000, DetectedAt: time.Now(),
		Evidence: domain.PatternEvidence{EntryPrice: decimal.NewFromInt(100), InvalidationPrice: decimal.NewFromInt(98), TargetPrice: decimal.NewFromInt(104), Confidence: decimal.NewFromInt(50)},
	}
	require.NoError(t, db.Patterns.InsertInstance(inst))

	dup := &domain.PatternInstance{
		ID: "pi-2", PatternCode: "HAMMER", Symbol: "BTCUSDT", Timeframe: "15m",
		Status: domain.PatternForming, DetectionBarTS: 1000, DetectedAt: time.Now(),
		Evidence: inst.Evidence,
	}
	err := db.Patterns.InsertInstance(dup)
	require.Error(t, err)
	assert.True(t, IsDuplicate(err))
}

func TestPatternStoreListFormingAndUpdateStatus(t *testing.T) {
	db := openTestDB(t)
	inst := &domain.PatternInstance{
		ID: "pi-1", PatternCode: "HAMMER", Symbol: "BTCUSDT", Timeframe: "15m",
		Status: domain.PatternForming, DetectionBarTS: 1000, DetectedAt: time.Now(),
		Evidence: domain.PatternEvidence{EntryPrice: decimal.NewFromInt(100), InvalidationPrice: decimal.NewFromInt(98), TargetPrice: decimal.NewFromInt(104), Confidence: decimal.NewFromInt(50)},
	}
	require.NoError(t, db.Patterns.InsertInstance(inst))

	forming, err := db.Patterns.ListForming("BTCUSDT", "15m")
	require.NoError(t, err)
	require.Len(t, forming, 1)

	require.NoError(t, db.Patterns.UpdateStatus(inst.ID, domain.PatternConfirmed))
	forming, err = db.Patterns.ListForming("BTCUSDT", "15m")
	require.NoError(t, err)
	assert.Empty(t, forming)
}

func TestPatternStoreClaimTriggerIsIdempotent(t *testing.T) {
	db := openTestDB(t)
	first := &domain.PatternTrigger{TenantID: "t1", PatternEventID: "alert-1", IntentID: "intent-1"}
	require.NoError(t, db.Patterns.ClaimTrigger(first))

	second := &domain.PatternTrigger{TenantID: "t1", PatternEventID: "alert-1", IntentID: "intent-2"}
	err := db.Patterns.ClaimTrigger(second)
	require.Error(t, err)

	rerr, ok := err.(interface{ Error() string })
	require.True(t, ok)
	assert.Contains(t, rerr.Error(), "already processed")
}

func TestAuditStoreExistsForOrderAndListByTenantAndType(t *testing.T) {
	db := openTestDB(t)
	tx := &domain.AuditTransaction{
		ID: "a1", ExchangeOrderID: "ord-1", TenantID: "t1", Symbol: "BTCUSDT", Asset: "BTC",
		Quantity: decimal.NewFromInt(1), Price: decimal.NewFromInt(100), TotalValue: decimal.NewFromInt(100),
		Side: domain.SideBuy, TransactionType: domain.TxDeposit, ExecutedAt: time.Now(),
	}
	require.NoError(t, db.Audit.Insert(tx))

	exists, err := db.Audit.ExistsForOrder("ord-1", domain.TxDeposit)
	require.NoError(t, err)
	assert.True(t, exists)

	notExists, err := db.Audit.ExistsForOrder("ord-2", domain.TxDeposit)
	require.NoError(t, err)
	assert.False(t, notExists)

	list, err := db.Audit.ListByTenantAndType("t1", domain.TxDeposit)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "a1", list[0].ID)
}

func TestCircuitBreakerStoreUpsertGetRoundTrip(t *testing.T) {
	db := openTestDB(t)
	now := time.Now().UTC().Truncate(time.Second)
	state := domain.CircuitBreakerState{
		Symbol: "BTCUSDT", State: domain.CircuitOpen, FailureCount: 3,
		LastFailureAt: now, OpenedAt: now, WillRetryAt: now.Add(300 * time.Second),
		FailureThreshold: 3, RetryDelaySeconds: 300,
	}
	require.NoError(t, db.CircuitBreakers.Upsert(state))

	got, err := db.CircuitBreakers.Get("BTCUSDT")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, domain.CircuitOpen, got.State)
	assert.Equal(t, 3, got.FailureCount)
}

func TestCircuitBreakerStoreUpsertOverwritesOnConflict(t *testing.T) {
	db := openTestDB(t)
	now := time.Now().UTC().Truncate(time.Second)
	require.NoError(t, db.CircuitBreakers.Upsert(domain.CircuitBreakerState{
		Symbol: "BTCUSDT", State: domain.CircuitOpen, FailureCount: 3, FailureThreshold: 3, RetryDelaySeconds: 300,
	}))
	require.NoError(t, db.CircuitBreakers.Upsert(domain.CircuitBreakerState{
		Symbol: "BTCUSDT", State: domain.CircuitClosed, FailureCount: 0, FailureThreshold: 3, RetryDelaySeconds: 300, LastFailureAt: now,
	}))

	got, err := db.CircuitBreakers.Get("BTCUSDT")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, domain.CircuitClosed, got.State)
	assert.Equal(t, 0, got.FailureCount)
}

func TestCircuitBreakerStoreGetReturnsNilForUnknownSymbol(t *testing.T) {
	db := openTestDB(t)
	got, err := db.CircuitBreakers.Get("UNKNOWN")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestCircuitBreakerStoreListAllReturnsEverySymbol(t *testing.T) {
	db := openTestDB(t)
	require.NoError(t, db.CircuitBreakers.Upsert(domain.CircuitBreakerState{
		Symbol: "BTCUSDT", State: domain.CircuitClosed, FailureThreshold: 3, RetryDelaySeconds: 300,
	}))
	require.NoError(t, db.CircuitBreakers.Upsert(domain.CircuitBreakerState{
		Symbol: "ETHUSDT", State: domain.CircuitOpen, FailureCount: 5, FailureThreshold: 3, RetryDelaySeconds: 300,
	}))

	all, err := db.CircuitBreakers.ListAll()
	require.NoError(t, err)
	require.Len(t, all, 2)
}
