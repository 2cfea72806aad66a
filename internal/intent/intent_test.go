package intent

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
	"github.com/riskforge/engine/internal/ratelimit"
	"github.com/riskforge/engine/internal/store"
)

func newTestPipeline(t *testing.T) (*Pipeline, *store.DB, *execution.Fake, *marketdata.Fake) {
	t.Helper()
	db, err := store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	cfgs := config.NewRegistry()
	cfgs.Put(config.Defaults("tenant-1", decimal.NewFromInt(10000)))

	market := marketdata.NewFake()
	exec := execution.NewFake()
	breakers := circuitbreaker.NewRegistry()
	rl := ratelimit.NewRegistry(100, 100)

	return New(db, cfgs, market, exec, breakers, rl), db, exec, market
}

func TestPlanDerivesAndPersistsPendingIntent(t *testing.T) {
	p, _, _, _ := newTestPipeline(t)
	in, err := p.Plan(context.Background(), PlanRequest{
		TenantID: "tenant-1", Symbol: "BTCUSDT", Side: domain.SideBuy,
		Entry: decimal.NewFromInt(100), Stop: decimal.NewFromInt(98),
	})
	require.NoError(t, err)
	assert.Equal(t, domain.IntentPending, in.Status)
	assert.True(t, in.Quantity.GreaterThan(decimal.Zero))
}

func TestPlanRejectsUnknownTenant(t *testing.T) {
	p, _, _, _ := newTestPipeline(t)
	_, err := p.Plan(context.Background(), PlanRequest{
		TenantID: "unknown", Symbol: "BTCUSDT", Side: domain.SideBuy,
		Entry: decimal.NewFromInt(100), Stop: decimal.NewFromInt(98),
	})
	assert.Error(t, err)
}

func TestValidatePassesWithinBudget(t *testing.T) {
	p, _, _, _ := newTestPipeline(t)
	in, err := p.Plan(context.Background(), PlanRequest{
		TenantID: "tenant-1", Symbol: "BTCUSDT", Side: domain.SideBuy,
		Entry: decimal.NewFromInt(100), Stop: decimal.NewFromInt(98),
	})
	require.NoError(t, err)

	validated, err := p.Validate(context.Background(), in.ID, ValidateRequest{IntendedMode: domain.ModeDryRun})
	require.NoError(t, err)
	assert.Equal(t, domain.IntentValidated, validated.Status)
	assert.True(t, validated.Validation.Passed)
}

func TestValidateFailsWhenStopOnWrongSide(t *testing.T) {
	p, db, _, _ := newTestPipeline(t)
	// Bypass Plan's own validation by writing an invalid intent directly.
	bad := &domain.TradingIntent{
		ID: "bad-1", TenantID: "tenant-1", Symbol: "BTCUSDT", Side: domain.SideBuy,
		Quantity: decimal.NewFromInt(1), EntryPrice: decimal.NewFromInt(100), StopPrice: decimal.NewFromInt(101),
		TargetPrice: decimal.Zero, Capital: decimal.NewFromInt(10000), RiskAmount: decimal.Zero,
		RiskPercent: decimal.NewFromInt(1), Status: domain.IntentPending, CreatedAt: time.Now(),
	}
	require.NoError(t, db.Intents.Create(bad))

	validated, err := p.Validate(context.Background(), "bad-1", ValidateRequest{IntendedMode: domain.ModeDryRun})
	require.NoError(t, err)
	assert.Equal(t, domain.IntentFailed, validated.Status)
	assert.False(t, validated.Validation.Passed)
}

func TestValidateRejectsNonPendingIntent(t *testing.T) {
	p, _, _, _ := newTestPipeline(t)
	in, err := p.Plan(context.Background(), PlanRequest{
		TenantID: "tenant-1", Symbol: "BTCUSDT", Side: domain.SideBuy,
		Entry: decimal.NewFromInt(100), Stop: decimal.NewFromInt(98),
	})
	require.NoError(t, err)
	_, err = p.Validate(context.Background(), in.ID, ValidateRequest{IntendedMode: domain.ModeDryRun})
	require.NoError(t, err)

	_, err = p.Validate(context.Background(), in.ID, ValidateRequest{IntendedMode: domain.ModeDryRun})
	assert.Error(t, err)
}

func TestExecuteDryRunSimulatesFill(t *testing.T) {
	p, _, exec, _ := newTestPipeline(t)
	in, err := p.Plan(context.Background(), PlanRequest{
		TenantID: "tenant-1", Symbol: "BTCUSDT", Side: domain.SideBuy,
		Entry: decimal.NewFromInt(100), Stop: decimal.NewFromInt(98),
	})
	require.NoError(t, err)
	_, err = p.Validate(context.Background(), in.ID, ValidateRequest{IntendedMode: domain.ModeDryRun})
	require.NoError(t, err)

	executed, err := p.Execute(context.Background(), in.ID, domain.ModeDryRun, ExecuteOptions{})
	require.NoError(t, err)
	assert.Equal(t, domain.IntentExecuted, executed.Status)
	assert.True(t, executed.Execution.Simulated)
	assert.Equal(t, 0, exec.CallCount())
}

func TestExecuteLiveRequiresAcknowledgement(t *testing.T) {
	p, _, _, _ := newTestPipeline(t)
	in, err := p.Plan(context.Background(), PlanRequest{
		TenantID: "tenant-1", Symbol: "BTCUSDT", Side: domain.SideBuy, StrategyRef: "strat-1",
		Entry: decimal.NewFromInt(100), Stop: decimal.NewFromInt(98),
	})
	require.NoError(t, err)
	_, err = p.Validate(context.Background(), in.ID, ValidateRequest{IntendedMode: domain.ModeLive})
	require.NoError(t, err)

	_, err = p.Execute(context.Background(), in.ID, domain.ModeLive, ExecuteOptions{Acknowledged: false})
	assert.Error(t, err)
}

func TestExecuteLiveHardBlocksPatternOrigin(t *testing.T) {
	p, _, _, _ := newTestPipeline(t)
	in, err := p.Plan(context.Background(), PlanRequest{
		TenantID: "tenant-1", Symbol: "BTCUSDT", Side: domain.SideBuy, StrategyRef: "strat-1",
		Entry: decimal.NewFromInt(100), Stop: decimal.NewFromInt(98),
		Pattern: &domain.PatternOrigin{PatternCode: "HAMMER", PatternEventID: "evt-1"},
	})
	require.NoError(t, err)
	_, err = p.Validate(context.Background(), in.ID, ValidateRequest{IntendedMode: domain.ModeLive})
	require.NoError(t, err)

	_, err = p.Execute(context.Background(), in.ID, domain.ModeLive, ExecuteOptions{Acknowledged: true})
	assert.Error(t, err)
}

func TestExecuteLiveSucceedsAndCommitsOperationAndAudit(t *testing.T) {
	p, db, exec, _ := newTestPipeline(t)
	exec.NextPrice = decimal.NewFromInt(100)

	in, err := p.Plan(context.Background(), PlanRequest{
		TenantID: "tenant-1", Symbol: "BTCUSDT", Side: domain.SideBuy, StrategyRef: "strat-1",
		Entry: decimal.NewFromInt(100), Stop: decimal.NewFromInt(98),
	})
	require.NoError(t, err)
	_, err = p.Validate(context.Background(), in.ID, ValidateRequest{IntendedMode: domain.ModeLive})
	require.NoError(t, err)

	executed, err := p.Execute(context.Background(), in.ID, domain.ModeLive, ExecuteOptions{Acknowledged: true})
	require.NoError(t, err)
	assert.Equal(t, domain.IntentExecuted, executed.Status)
	assert.Equal(t, 1, exec.CallCount())

	op, err := db.Operations.GetByIntentID(in.ID)
	require.NoError(t, err)
	require.NotNil(t, op)
	assert.Equal(t, domain.OperationActive, op.Status)

	// The live fill details must survive a reload from the store, not just
	// the in-memory value Execute returned.
	reloaded, err := db.Intents.Get(in.ID)
	require.NoError(t, err)
	require.NotNil(t, reloaded.Execution)
	assert.False(t, reloaded.Execution.Simulated)
	assert.NotEmpty(t, reloaded.Execution.ExchangeOrderID)
	assert.True(t, reloaded.Execution.FillPrice.Equal(decimal.NewFromInt(100)))
	assert.True(t, reloaded.Execution.FilledQuantity.GreaterThan(decimal.Zero))
}

func TestExecuteLiveIsIdempotentOnSecondCall(t *testing.T) {
	p, _, exec, _ := newTestPipeline(t)
	exec.NextPrice = decimal.NewFromInt(100)

	in, err := p.Plan(context.Background(), PlanRequest{
		TenantID: "tenant-1", Symbol: "BTCUSDT", Side: domain.SideBuy, StrategyRef: "strat-1",
		Entry: decimal.NewFromInt(100), Stop: decimal.NewFromInt(98),
	})
	require.NoError(t, err)
	_, err = p.Validate(context.Background(), in.ID, ValidateRequest{IntendedMode: domain.ModeLive})
	require.NoError(t, err)

	_, err = p.Execute(context.Background(), in.ID, domain.ModeLive, ExecuteOptions{Acknowledged: true})
	require.NoError(t, err)
	require.Equal(t, 1, exec.CallCount())

	// Re-running execute for the same, now EXECUTED, intent ID must not
	// place a second exchange order; it is rejected by the VALIDATED status
	// check before any exchange call.
	again, err := p.Execute(context.Background(), in.ID, domain.ModeLive, ExecuteOptions{Acknowledged: true})
	require.Error(t, err) // intent is already EXECUTED, not VALIDATED
	assert.Nil(t, again)
	assert.Equal(t, 1, exec.CallCount())
}
