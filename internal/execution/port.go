// Package execution defines the Execution Port (spec §6, component C2):
// order placement/cancellation on spot and isolated margin, generalized
// from SynapseStrike/trader/alpaca_trader.go's OpenLong/OpenShort/
// CloseLong/CloseShort calls into the interface shape spec.md specifies.
package execution

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/riskforge/engine/internal/domain"
)

// Fill is one partial or full fill returned by the exchange.
type Fill struct {
	Price           decimal.Decimal
	Quantity        decimal.Decimal
	Commission      decimal.Decimal
	CommissionAsset string
}

// OrderResult is the common response shape for place_market and
// create_margin_order (§6) — every call returns either a committed order
// id or a structured error, never a partial/ambiguous result.
type OrderResult struct {
	OrderID string
	Status  domain.OrderStatus
	Fills   []Fill
}

// SideEffectType mirrors Binance's isolated-margin order side effects,
// confirmed against original_source's isolated_margin_*.py commands
// (NO_SIDE_EFFECT lets the caller manage borrow/repay explicitly).
type SideEffectType string

const (
	SideEffectNone      SideEffectType = "NO_SIDE_EFFECT"
	SideEffectMarginBuy SideEffectType = "MARGIN_BUY"
	SideEffectAutoRepay SideEffectType = "AUTO_REPAY"
)

// MarginOrderParams carries the optional fields create_margin_order (§6)
// accepts beyond symbol/side/type/quantity.
type MarginOrderParams struct {
	Price          decimal.Decimal
	StopPrice      decimal.Decimal
	TimeInForce    string
	IsolatedSymbol string
	SideEffectType SideEffectType
}

// TransferResult is returned by Transfer (§6 spot<->margin transfer).
type TransferResult struct {
	TransactionID string
}

// Port is the capability interface the Intent Pipeline and Stop Monitor
// submit orders through (§6, §9).
type Port interface {
	PlaceMarket(ctx context.Context, symbol string, side domain.Side, quantity decimal.Decimal, idempotencyToken string) (OrderResult, error)
	CreateMarginOrder(ctx context.Context, symbol string, side domain.Side, orderType domain.OrderType, quantity decimal.Decimal, params MarginOrderParams) (OrderResult, error)
	Cancel(ctx context.Context, symbol, orderID string) error
	Transfer(ctx context.Context, toMargin bool, asset string, amount decimal.Decimal, symbol string) (TransferResult, error)
}
