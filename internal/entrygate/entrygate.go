// Package entrygate implements the Entry Gate (spec §4.3, component C6):
// an ordered battery of risk checks that decide whether a new position may
// open. All checks always run (no short-circuiting) so every decision is
// fully observable, mirroring how SynapseStrike's risk hints are collected
// before a trade decision rather than aborting on the first red flag.
package entrygate

import (
	"context"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"github.com/riskforge/engine/internal/config"
	"github.com/riskforge/engine/internal/marketdata"
	"github.com/riskforge/engine/internal/telemetry"
)

// CheckResult is one gate's verdict (§4.3).
type CheckResult struct {
	GateName string
	Passed   bool
	Message  string
	Details  map[string]string
}

// Decision is the aggregate entry-gate outcome. Allowed is total: if any
// check fails, Allowed is false regardless of the others (I8).
type Decision struct {
	Allowed bool
	Checks  []CheckResult
	Reasons []string
}

// EvaluationInput bundles the per-call context the checks read.
type EvaluationInput struct {
	TenantID        string
	Symbol          string
	Now             time.Time
	MonthlyPnL      decimal.Decimal
	ActivePositions int
	LatestStopOutAt *time.Time // nil if none this month
	MarketData      marketdata.Port
}

// constMonthlyBudgetPct and constRiskPerPositionPct are the two constants
// §4.3 states are NOT configurable.
const (
	constMonthlyBudgetPct   = 4.0
	constRiskPerPositionPct = 1.0
)

// Evaluate runs all four checks, in this order, and aggregates the
// decision. cfg.Capital backs the DynamicPositionLimit budget formula.
func Evaluate(ctx context.Context, cfg config.TenantConfig, in EvaluationInput) Decision {
	log := telemetry.NewLogger("entrygate")

	checks := []CheckResult{
		dynamicPositionLimit(cfg.Capital, in),
		stopOutCooldown(cfg, in),
		fundingRate(ctx, cfg, in),
		dataFreshness(ctx, cfg, in),
	}

	decision := Decision{Allowed: true}
	for _, c := range checks {
		decision.Checks = append(decision.Checks, c)
		telemetry.GateDecisions.WithLabelValues(c.GateName, boolLabel(c.Passed)).Inc()
		if !c.Passed {
			decision.Allowed = false
			decision.Reasons = append(decision.Reasons, c.Message)
		}
	}
	log.Debug().Str("tenant", in.TenantID).Str("symbol", in.Symbol).Bool("allowed", decision.Allowed).Msg("entry gate evaluated")
	return decision
}

func boolLabel(b bool) string {
	if b {
		return "true"
	}
	return "false"
}

// dynamicPositionLimit implements §4.3 check 1: budget formula
// available_risk_pct = 4.0 + (monthly_pnl/capital)*100,
// max_concurrent = floor(available_risk_pct / 1.0) if available > 0 else 0.
func dynamicPositionLimit(capital decimal.Decimal, in EvaluationInput) CheckResult {
	const name = "DynamicPositionLimit"
	if capital.IsZero() {
		capital = decimal.NewFromInt(1) // guard divide-by-zero; real tenants always carry capital > 0
	}
	pnlPct := in.MonthlyPnL.Div(capital).Mul(decimal.NewFromInt(100))
	availableRiskPct := decimal.NewFromFloat(constMonthlyBudgetPct).Add(pnlPct)

	maxConcurrent := 0
	if availableRiskPct.GreaterThan(decimal.Zero) {
		maxConcurrent = int(availableRiskPct.Div(decimal.NewFromFloat(constRiskPerPositionPct)).IntPart())
	}

	passed := in.ActivePositions < maxConcurrent
	details := map[string]string{
		"available_risk_pct": availableRiskPct.StringFixed(2),
		"max_concurrent":     strconv.Itoa(maxConcurrent),
		"active_count":       strconv.Itoa(in.ActivePositions),
	}
	msg := "position budget available"
	if !passed {
		msg = "position limit reached " + strconv.Itoa(in.ActivePositions) + "/" + strconv.Itoa(maxConcurrent) +
			" (budget: " + availableRiskPct.StringFixed(1) + "%)"
	}
	return CheckResult{GateName: name, Passed: passed, Message: msg, Details: details}
}

// stopOutCooldown implements §4.3 check 2.
func stopOutCooldown(cfg config.TenantConfig, in EvaluationInput) CheckResult {
	const name = "StopOutCooldown"
	if !cfg.CooldownEnabled {
		return CheckResult{GateName: name, Passed: true, Message: "cooldown disabled"}
	}
	if in.LatestStopOutAt == nil {
		return CheckResult{GateName: name, Passed: true, Message: "no recent stop-out"}
	}
	elapsed := in.Now.Sub(*in.LatestStopOutAt)
	cooldown := cfg.CooldownDuration()
	if elapsed >= cooldown {
		return CheckResult{GateName: name, Passed: true, Message: "cooldown elapsed"}
	}
	remaining := cooldown - elapsed
	return CheckResult{
		GateName: name,
		Passed:   false,
		Message:  "cooldown active, remaining=" + remaining.Round(time.Second).String(),
		Details:  map[string]string{"remaining_seconds": strconv.Itoa(int(remaining.Seconds()))},
	}
}

// fundingRate implements §4.3 check 3. Disabled by default per config;
// when enabled, missing data fails closed.
func fundingRate(ctx context.Context, cfg config.TenantConfig, in EvaluationInput) CheckResult {
	const name = "FundingRate"
	if !cfg.FundingRateEnabled {
		return CheckResult{GateName: name, Passed: true, Message: "funding rate check disabled"}
	}
	if in.MarketData == nil {
		return CheckResult{GateName: name, Passed: false, Message: "funding rate data unavailable"}
	}
	rate, err := in.MarketData.LatestFundingRate(ctx, in.Symbol)
	if err != nil {
		return CheckResult{GateName: name, Passed: false, Message: "funding rate fetch failed: " + err.Error()}
	}
	passed := rate.Abs().LessThanOrEqual(cfg.FundingRateThreshold)
	msg := "funding rate within threshold"
	if !passed {
		msg = "funding rate " + rate.String() + " exceeds threshold " + cfg.FundingRateThreshold.String()
	}
	return CheckResult{GateName: name, Passed: passed, Message: msg}
}

// dataFreshness implements §4.3 check 4. Disabled by default per config;
// when enabled, missing data fails closed.
func dataFreshness(ctx context.Context, cfg config.TenantConfig, in EvaluationInput) CheckResult {
	const name = "DataFreshness"
	if !cfg.DataFreshnessEnabled {
		return CheckResult{GateName: name, Passed: true, Message: "data freshness check disabled"}
	}
	if in.MarketData == nil {
		return CheckResult{GateName: name, Passed: false, Message: "market data unavailable"}
	}
	age, err := in.MarketData.DataAge(ctx, in.Symbol)
	if err != nil {
		return CheckResult{GateName: name, Passed: false, Message: "data age fetch failed: " + err.Error()}
	}
	passed := age <= cfg.MaxDataAge()
	msg := "data fresh"
	if !passed {
		msg = "stale data, age=" + age.String()
	}
	return CheckResult{GateName: name, Passed: passed, Message: msg}
}
