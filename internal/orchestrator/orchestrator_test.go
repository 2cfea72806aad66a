package orchestrator

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
	"github.com/riskforge/engine/internal/intent"
	"github.com/riskforge/engine/internal/marketdata"
	"github.com/riskforge/engine/internal/ratelimit"
	"github.com/riskforge/engine/internal/store"
)

func intentPlanRequest() intent.PlanRequest {
	return intent.PlanRequest{
		TenantID: "tenant-1", Symbol: "BTCUSDT", Side: domain.SideBuy,
		Entry: decimal.NewFromInt(100), Stop: decimal.NewFromInt(98),
	}
}

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	db, err := store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	cfgs := config.NewRegistry()
	cfgs.Put(config.Defaults("tenant-1", decimal.NewFromInt(10000)))

	return New(Options{
		DB:        db,
		Configs:   cfgs,
		Market:    marketdata.NewFake(),
		Exec:      execution.NewFake(),
		Breakers:  circuitbreaker.NewRegistry(),
		RateLimit: ratelimit.NewRegistry(100, 100),
		Symbols:   []string{"BTCUSDT"},
	})
}

func TestNewWiresEveryComponent(t *testing.T) {
	e := newTestEngine(t)
	assert.NotNil(t, e.Pipeline)
	assert.NotNil(t, e.Monitor)
	assert.NotNil(t, e.Publisher)
	assert.NotNil(t, e.Scanner)
	assert.NotNil(t, e.Bridge)
	assert.NotNil(t, e.Reconciler)
	// Exec is the in-memory Fake, not *execution.BinancePort, so no
	// reconciler is constructed (§6 reconciliation only runs against a
	// real exchange's trade history).
	assert.Nil(t, e.audit)
}

func TestRecoverReplaysPendingIntent(t *testing.T) {
	e := newTestEngine(t)
	in, err := e.Pipeline.Plan(context.Background(), intentPlanRequest())
	require.NoError(t, err)
	require.Equal(t, domain.IntentPending, in.Status)

	require.NoError(t, e.Recover(context.Background()))

	got, err := e.DB.Intents.Get(in.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.IntentValidated, got.Status)
}

func TestRecoverMarksIntentFailedWhenFieldInvariantsAreViolated(t *testing.T) {
	e := newTestEngine(t)
	bad := &domain.TradingIntent{
		ID: "bad-1", TenantID: "tenant-1", Symbol: "BTCUSDT", Side: domain.SideBuy,
		Quantity: decimal.NewFromInt(1), EntryPrice: decimal.NewFromInt(100), StopPrice: decimal.NewFromInt(101),
		TargetPrice: decimal.Zero, Capital: decimal.NewFromInt(10000), RiskAmount: decimal.Zero,
		RiskPercent: decimal.NewFromInt(1), Status: domain.IntentPending, CreatedAt: time.Now(),
	}
	require.NoError(t, e.DB.Intents.Create(bad))

	require.NoError(t, e.Recover(context.Background()))

	got, err := e.DB.Intents.Get("bad-1")
	require.NoError(t, err)
	assert.Equal(t, domain.IntentFailed, got.Status)
}

func TestNewSeedsBreakerRegistryFromPersistedState(t *testing.T) {
	db, err := store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	require.NoError(t, db.CircuitBreakers.Upsert(domain.CircuitBreakerState{
		Symbol: "BTCUSDT", State: domain.CircuitOpen, FailureCount: 3,
		FailureThreshold: 3, RetryDelaySeconds: 300, WillRetryAt: time.Now().Add(time.Hour),
	}))

	cfgs := config.NewRegistry()
	cfgs.Put(config.Defaults("tenant-1", decimal.NewFromInt(10000)))
	breakers := circuitbreaker.NewRegistry()

	New(Options{
		DB:        db,
		Configs:   cfgs,
		Market:    marketdata.NewFake(),
		Exec:      execution.NewFake(),
		Breakers:  breakers,
		RateLimit: ratelimit.NewRegistry(100, 100),
		Symbols:   []string{"BTCUSDT"},
	})

	state := breakers.Check("BTCUSDT", time.Now(), 3, 300)
	assert.Equal(t, domain.CircuitOpen, state.State)
}

func TestShutdownReturnsTrueWhenDoneBeforeDeadline(t *testing.T) {
	done := make(chan struct{})
	close(done)
	ok := Shutdown(func() {}, done, 50*time.Millisecond)
	assert.True(t, ok)
}

func TestShutdownReturnsFalseWhenDeadlineExceeded(t *testing.T) {
	done := make(chan struct{})
	ok := Shutdown(func() {}, done, 10*time.Millisecond)
	assert.False(t, ok)
}
