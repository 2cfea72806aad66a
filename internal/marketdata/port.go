// Package marketdata defines the Market Data Port (spec §6, component C1)
// and its go-binance-backed implementation, generalized from
// SynapseStrike/market/api_client.go's HTTP-adapter style.
package marketdata

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/riskforge/engine/internal/domain"
)

// Balance is one asset's free/locked balance (§6 account_balances).
type Balance struct {
	Asset  string
	Free   decimal.Decimal
	Locked decimal.Decimal
}

// IsolatedMarginAccount summarizes an isolated margin position's account
// state (§6 isolated_margin_account).
type IsolatedMarginAccount struct {
	Symbol      string
	BaseAsset   string
	QuoteAsset  string
	MarginLevel decimal.Decimal
}

// Port is the capability interface consumed by the engine (§6, §9 "explicit
// capability interfaces"). Every method may fail; implementations must
// distinguish transient from permanent errors via riskerr.Kind.
type Port interface {
	BestBid(ctx context.Context, symbol string) (decimal.Decimal, error)
	BestAsk(ctx context.Context, symbol string) (decimal.Decimal, error)
	Klines(ctx context.Context, symbol, timeframe string, limit int) ([]domain.Candle, error)
	LatestFundingRate(ctx context.Context, symbol string) (decimal.Decimal, error)
	DataAge(ctx context.Context, symbol string) (time.Duration, error)
	AccountBalances(ctx context.Context) (map[string]Balance, error)
	IsolatedMarginAccount(ctx context.Context, symbol string) (IsolatedMarginAccount, error)
}
