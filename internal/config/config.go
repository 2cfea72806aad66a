// Package config holds per-tenant risk guardrails (spec §3 TenantConfig,
// §6 defaults) and the small set of engine-wide environment inputs,
// assembled the way SynapseStrike/trader.AutoTraderConfig assembles a
// flat struct of plain fields from env vars and DB rows rather than a
// layered config library.
package config

import (
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

func init() {
	// Best-effort local .env load, mirroring market/api_client.go's
	// environment-first credential resolution. Missing .env is not an error.
	_ = godotenv.Load()
}

// TenantConfig carries the risk guardrails spec.md §3/§6 assigns per tenant.
// The 4%/month and 1%/position constants used by the Entry Gate are NOT
// configurable and therefore do not appear here (§4.3).
type TenantConfig struct {
	TenantID                string
	TradingEnabled          bool // kill switch
	Capital                 decimal.Decimal
	MaxSlippagePct          decimal.Decimal
	SlippagePauseThresholdPct decimal.Decimal
	MaxExecutionsPerMinute  int
	MaxExecutionsPerHour    int
	CooldownSeconds         int64
	CooldownEnabled         bool
	MaxDataAgeSeconds       int64
	FundingRateEnabled      bool
	FundingRateThreshold    decimal.Decimal
	DataFreshnessEnabled    bool
	FailureThreshold        int
	RetryDelaySeconds       int64
	TradingFeePct           decimal.Decimal
	SlippageBufferPct       decimal.Decimal
}

// Defaults returns a TenantConfig populated with the §6 defaults for a
// given tenant and capital; callers override from persisted tenant rows.
func Defaults(tenantID string, capital decimal.Decimal) TenantConfig {
	return TenantConfig{
		TenantID:                  tenantID,
		TradingEnabled:            true,
		Capital:                   capital,
		MaxSlippagePct:            decimal.NewFromInt(5),
		SlippagePauseThresholdPct: decimal.NewFromInt(10),
		MaxExecutionsPerMinute:    10,
		MaxExecutionsPerHour:      100,
		CooldownSeconds:           900,
		CooldownEnabled:           true,
		MaxDataAgeSeconds:         300,
		FundingRateEnabled:        false,
		FundingRateThreshold:      decimal.NewFromFloat(0.0001),
		DataFreshnessEnabled:      false,
		FailureThreshold:          3,
		RetryDelaySeconds:         300,
		TradingFeePct:             decimal.NewFromFloat(0.1),
		SlippageBufferPct:         decimal.NewFromFloat(0.05),
	}
}

func (c TenantConfig) CooldownDuration() time.Duration {
	return time.Duration(c.CooldownSeconds) * time.Second
}

func (c TenantConfig) MaxDataAge() time.Duration {
	return time.Duration(c.MaxDataAgeSeconds) * time.Second
}

func (c TenantConfig) RetryDelay() time.Duration {
	return time.Duration(c.RetryDelaySeconds) * time.Second
}

// EngineEnv captures the process-wide environment inputs spec §6 names:
// exchange credentials and the sqlite DSN used by internal/store.
type EngineEnv struct {
	BinanceAPIKey    string
	BinanceSecretKey string
	DatabasePath     string
	RedisAddr        string
}

func LoadEngineEnv() EngineEnv {
	return EngineEnv{
		BinanceAPIKey:    os.Getenv("BINANCE_API_KEY"),
		BinanceSecretKey: os.Getenv("BINANCE_SECRET_KEY"),
		DatabasePath:     envOr("RISKFORGE_DB_PATH", "riskforge.db"),
		RedisAddr:        envOr("RISKFORGE_REDIS_ADDR", "localhost:6379"),
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
