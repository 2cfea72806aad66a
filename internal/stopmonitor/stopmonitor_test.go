package stopmonitor

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/riskforge/engine/internal/circuitbreaker"
	"github.com/riskforge/engine/internal/config"
	"github.com/riskforge/engine/internal/domain"
	"github.com/riskforge/engine/internal/execution"
	"github.com/riskforge/engine/internal/marketdata"
	"github.com/riskforge/engine/internal/store"
)

func newTestMonitor(t *testing.T) (*Monitor, *store.DB, *execution.Fake) {
	t.Helper()
	db, err := store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	cfgs := config.NewRegistry()
	cfgs.Put(config.Defaults("tenant-1", decimal.NewFromInt(10000)))

	exec := execution.NewFake()
	return New(db, cfgs, marketdata.NewFake(), exec, circuitbreaker.NewRegistry(), nil, []string{"BTCUSDT"}), db, exec
}

func longOperation() *domain.Operation {
	return &domain.Operation{
		ID: "op-1", TenantID: "tenant-1", Strategy: "manual", Symbol: "BTCUSDT",
		Side: domain.SideBuy, Status: domain.OperationActive,
		StopPrice: decimal.NewFromInt(98), TargetPrice: decimal.NewFromInt(110),
		Quantity: decimal.NewFromFloat(0.5),
	}
}

func TestTriggeredLongCrossesAtOrBelowStop(t *testing.T) {
	assert.True(t, triggered(domain.PositionLong, decimal.NewFromInt(98), decimal.NewFromInt(98)))
	assert.True(t, triggered(domain.PositionLong, decimal.NewFromInt(97), decimal.NewFromInt(98)))
	assert.False(t, triggered(domain.PositionLong, decimal.NewFromInt(99), decimal.NewFromInt(98)))
}

func TestTriggeredShortCrossesAtOrAboveStop(t *testing.T) {
	assert.True(t, triggered(domain.PositionShort, decimal.NewFromInt(102), decimal.NewFromInt(102)))
	assert.True(t, triggered(domain.PositionShort, decimal.NewFromInt(103), decimal.NewFromInt(102)))
	assert.False(t, triggered(domain.PositionShort, decimal.NewFromInt(101), decimal.NewFromInt(102)))
}

func TestExecutionTokenIsStableRegardlessOfCaller(t *testing.T) {
	a := executionToken("op-1", decimal.NewFromInt(98), domain.PositionLong)
	b := executionToken("op-1", decimal.NewFromInt(98), domain.PositionLong)
	assert.Equal(t, a, b)

	c := executionToken("op-1", decimal.NewFromInt(99), domain.PositionLong)
	assert.NotEqual(t, a, c)
}

func TestEvaluateTriggerNoOpWhenPriceNotCrossed(t *testing.T) {
	m, db, exec := newTestMonitor(t)
	op := longOperation()
	createOperation(t, db, op)

	err := m.EvaluateTrigger(context.Background(), op, PriceUpdate{Symbol: "BTCUSDT", Price: decimal.NewFromInt(105), At: time.Now(), Source: domain.SourceCron})
	require.NoError(t, err)
	assert.Equal(t, 0, exec.CallCount())
}

func TestEvaluateTriggerSubmitsOnCrossingAndClosesOperation(t *testing.T) {
	m, db, exec := newTestMonitor(t)
	op := longOperation()
	createOperation(t, db, op)
	exec.NextPrice = decimal.NewFromFloat(97.5)

	err := m.EvaluateTrigger(context.Background(), op, PriceUpdate{Symbol: "BTCUSDT", Price: decimal.NewFromInt(97), At: time.Now(), Source: domain.SourceCron})
	require.NoError(t, err)
	assert.Equal(t, 1, exec.CallCount())

	got, err := db.Operations.Get(op.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.OperationClosed, got.Status)

	exe, err := db.StopExecutions.Get(op.ID, executionToken(op.ID, op.StopPrice, domain.PositionLong))
	require.NoError(t, err)
	require.NotNil(t, exe)
	assert.Equal(t, domain.StopExecExecuted, exe.Status)
}

func TestEvaluateTriggerIsExactlyOnceOnDuplicateCrossing(t *testing.T) {
	m, db, exec := newTestMonitor(t)
	op := longOperation()
	createOperation(t, db, op)
	exec.NextPrice = decimal.NewFromFloat(97.5)

	u := PriceUpdate{Symbol: "BTCUSDT", Price: decimal.NewFromInt(97), At: time.Now(), Source: domain.SourceCron}
	require.NoError(t, m.EvaluateTrigger(context.Background(), op, u))
	require.Equal(t, 1, exec.CallCount())

	// A second, independent feeder observing the same crossing on the same
	// (now-CLOSED) operation snapshot must not place a second order.
	require.NoError(t, m.EvaluateTrigger(context.Background(), op, u))
	assert.Equal(t, 1, exec.CallCount())
}

func TestEvaluateTriggerAbortsOnStalePrice(t *testing.T) {
	m, db, exec := newTestMonitor(t)
	op := longOperation()
	createOperation(t, db, op)

	stale := PriceUpdate{Symbol: "BTCUSDT", Price: decimal.NewFromInt(97), At: time.Now().Add(-time.Hour), Source: domain.SourceCron}
	err := m.EvaluateTrigger(context.Background(), op, stale)
	require.NoError(t, err)
	assert.Equal(t, 0, exec.CallCount())

	exe, err := db.StopExecutions.Get(op.ID, executionToken(op.ID, op.StopPrice, domain.PositionLong))
	require.NoError(t, err)
	require.NotNil(t, exe)
	assert.Equal(t, domain.StopExecBlocked, exe.Status)
}

func TestEvaluateTriggerAbortsWhenKillSwitchEngaged(t *testing.T) {
	m, db, exec := newTestMonitor(t)
	cfgs := config.NewRegistry()
	disabled := config.Defaults("tenant-1", decimal.NewFromInt(10000))
	disabled.TradingEnabled = false
	cfgs.Put(disabled)
	m.Configs = cfgs

	op := longOperation()
	createOperation(t, db, op)

	err := m.EvaluateTrigger(context.Background(), op, PriceUpdate{Symbol: "BTCUSDT", Price: decimal.NewFromInt(97), At: time.Now(), Source: domain.SourceCron})
	require.NoError(t, err)
	assert.Equal(t, 0, exec.CallCount())
}

func TestEvaluateTriggerPersistsCircuitBreakerStateOnSuccess(t *testing.T) {
	m, db, exec := newTestMonitor(t)
	op := longOperation()
	createOperation(t, db, op)
	exec.NextPrice = decimal.NewFromFloat(97.5)

	err := m.EvaluateTrigger(context.Background(), op, PriceUpdate{Symbol: "BTCUSDT", Price: decimal.NewFromInt(97), At: time.Now(), Source: domain.SourceCron})
	require.NoError(t, err)

	persisted, err := db.CircuitBreakers.Get("BTCUSDT")
	require.NoError(t, err)
	require.NotNil(t, persisted)
	assert.Equal(t, domain.CircuitClosed, persisted.State)
}

func TestEvaluateTriggerPersistsCircuitBreakerStateOnFailure(t *testing.T) {
	m, db, exec := newTestMonitor(t)
	exec.Err = assert.AnError

	for i := 0; i < 3; i++ {
		op := &domain.Operation{
			ID: "op-" + string(rune('a'+i)), TenantID: "tenant-1", Strategy: "manual", Symbol: "BTCUSDT",
			Side: domain.SideBuy, Status: domain.OperationActive,
			StopPrice: decimal.NewFromInt(98), TargetPrice: decimal.NewFromInt(110),
			Quantity: decimal.NewFromFloat(0.5),
		}
		createOperation(t, db, op)
		_ = m.EvaluateTrigger(context.Background(), op, PriceUpdate{Symbol: "BTCUSDT", Price: decimal.NewFromInt(97), At: time.Now(), Source: domain.SourceCron})
	}

	persisted, err := db.CircuitBreakers.Get("BTCUSDT")
	require.NoError(t, err)
	require.NotNil(t, persisted)
	assert.Equal(t, domain.CircuitOpen, persisted.State)
	assert.Equal(t, 3, persisted.FailureCount)
}

func createOperation(t *testing.T, db *store.DB, op *domain.Operation) {
	t.Helper()
	tx, err := db.Conn().Begin()
	require.NoError(t, err)
	require.NoError(t, db.Operations.CreateInTx(tx, op))
	require.NoError(t, tx.Commit())
}
