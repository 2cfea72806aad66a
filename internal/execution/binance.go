package execution

import (
	"context"
	"fmt"

	"github.com/adshao/go-binance/v2"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/riskforge/engine/internal/domain"
	"github.com/riskforge/engine/internal/riskerr"
	"github.com/riskforge/engine/internal/telemetry"
)

// BinancePort is the go-binance-backed Execution Port (C2).
type BinancePort struct {
	client *binance.Client
	log    zerolog.Logger
}

func NewBinancePort(apiKey, apiSecret string) *BinancePort {
	return &BinancePort{
		client: binance.NewClient(apiKey, apiSecret),
		log:    telemetry.NewLogger("execution.binance"),
	}
}

func classifyOrderErr(op, symbol string, err error) error {
	if err == nil {
		return nil
	}
	if apiErr, ok := err.(*binance.APIError); ok {
		if apiErr.Code <= -1000 && apiErr.Code >= -1016 && apiErr.Code != -1013 {
			return riskerr.ExchangeTransient(fmt.Sprintf("%s %s", op, symbol), err)
		}
		// -2010 (insufficient balance), -1013 (filters), -2011 (unknown
		// order) etc. are rejections: permanent per §7.
		return riskerr.ExchangePermanent(fmt.Sprintf("%s %s", op, symbol), err)
	}
	return riskerr.ExchangeTransient(fmt.Sprintf("%s %s", op, symbol), err)
}

func toBinanceSide(s domain.Side) binance.SideType {
	if s == domain.SideBuy {
		return binance.SideTypeBuy
	}
	return binance.SideTypeSell
}

func fillsFrom(orderID int64, fills []*binance.Fill) []Fill {
	out := make([]Fill, 0, len(fills))
	for _, f := range fills {
		price, _ := decimal.NewFromString(f.Price)
		qty, _ := decimal.NewFromString(f.Quantity)
		commission, _ := decimal.NewFromString(f.Commission)
		out = append(out, Fill{
			Price:           price,
			Quantity:        qty,
			Commission:      commission,
			CommissionAsset: f.CommissionAsset,
		})
	}
	return out
}

func (p *BinancePort) PlaceMarket(ctx context.Context, symbol string, side domain.Side, quantity decimal.Decimal, idempotencyToken string) (OrderResult, error) {
	svc := p.client.NewCreateOrderService().
		Symbol(symbol).
		Side(toBinanceSide(side)).
		Type(binance.OrderTypeMarket).
		Quantity(quantity.String())
	if idempotencyToken != "" {
		svc = svc.NewClientOrderID(idempotencyToken)
	}
	resp, err := svc.Do(ctx)
	if err != nil {
		return OrderResult{}, classifyOrderErr("place_market", symbol, err)
	}
	return OrderResult{
		OrderID: fmt.Sprintf("%d", resp.OrderID),
		Status:  mapBinanceStatus(resp.Status),
		Fills:   fillsFrom(resp.OrderID, resp.Fills),
	}, nil
}

func (p *BinancePort) CreateMarginOrder(ctx context.Context, symbol string, side domain.Side, orderType domain.OrderType, quantity decimal.Decimal, params MarginOrderParams) (OrderResult, error) {
	svc := p.client.NewCreateMarginOrderService().
		Symbol(symbol).
		Side(toBinanceSide(side)).
		Type(mapMarginOrderType(orderType)).
		Quantity(quantity.String()).
		IsIsolated("TRUE").
		SideEffectType(binance.SideEffectType(params.SideEffectType))
	if !params.Price.IsZero() {
		svc = svc.Price(params.Price.String())
	}
	if !params.StopPrice.IsZero() {
		svc = svc.StopPrice(params.StopPrice.String())
	}
	if params.TimeInForce != "" {
		svc = svc.TimeInForce(binance.TimeInForceType(params.TimeInForce))
	}
	resp, err := svc.Do(ctx)
	if err != nil {
		return OrderResult{}, classifyOrderErr("create_margin_order", symbol, err)
	}
	return OrderResult{
		OrderID: fmt.Sprintf("%d", resp.OrderID),
		Status:  mapBinanceStatus(resp.Status),
		Fills:   fillsFrom(resp.OrderID, resp.Fills),
	}, nil
}

func (p *BinancePort) Cancel(ctx context.Context, symbol, orderID string) error {
	_, err := p.client.NewCancelOrderService().Symbol(symbol).OrigClientOrderID(orderID).Do(ctx)
	return classifyOrderErr("cancel", symbol, err)
}

// Trade is one fill from the exchange's own trade history, independent of
// any order this process placed — the shape internal/audit's reconciliation
// sweep needs to backfill movements the local transaction never saw commit.
type Trade struct {
	OrderID         string
	Symbol          string
	Price           decimal.Decimal
	Quantity        decimal.Decimal
	Commission      decimal.Decimal
	CommissionAsset string
	IsBuyer         bool
	IsIsolated      bool
	Time            int64
}

// ListSpotTrades returns the account's recent spot fills for symbol,
// mirroring audit_service.py's sync_from_binance spot leg.
func (p *BinancePort) ListSpotTrades(ctx context.Context, symbol string, limit int) ([]Trade, error) {
	trades, err := p.client.NewListTradesService().Symbol(symbol).Limit(limit).Do(ctx)
	if err != nil {
		return nil, classifyOrderErr("list_spot_trades", symbol, err)
	}
	out := make([]Trade, 0, len(trades))
	for _, t := range trades {
		price, _ := decimal.NewFromString(t.Price)
		qty, _ := decimal.NewFromString(t.Quantity)
		commission, _ := decimal.NewFromString(t.Commission)
		out = append(out, Trade{
			OrderID:         fmt.Sprintf("%d", t.OrderID),
			Symbol:          symbol,
			Price:           price,
			Quantity:        qty,
			Commission:      commission,
			CommissionAsset: t.CommissionAsset,
			IsBuyer:         t.IsBuyer,
			Time:            t.Time,
		})
	}
	return out, nil
}

// ListIsolatedMarginTrades mirrors audit_service.py's _sync_margin_trades
// leg, scoped to one isolated margin symbol.
func (p *BinancePort) ListIsolatedMarginTrades(ctx context.Context, symbol string, limit int) ([]Trade, error) {
	trades, err := p.client.NewListMarginTradesService().Symbol(symbol).IsIsolated("TRUE").Limit(limit).Do(ctx)
	if err != nil {
		return nil, classifyOrderErr("list_margin_trades", symbol, err)
	}
	out := make([]Trade, 0, len(trades))
	for _, t := range trades {
		price, _ := decimal.NewFromString(t.Price)
		qty, _ := decimal.NewFromString(t.Qty)
		commission, _ := decimal.NewFromString(t.Commission)
		out = append(out, Trade{
			OrderID:         fmt.Sprintf("%d", t.OrderID),
			Symbol:          symbol,
			Price:           price,
			Quantity:        qty,
			Commission:      commission,
			CommissionAsset: t.CommissionAsset,
			IsBuyer:         t.IsBuyer,
			IsIsolated:      true,
			Time:            t.Time,
		})
	}
	return out, nil
}

func (p *BinancePort) Transfer(ctx context.Context, toMargin bool, asset string, amount decimal.Decimal, symbol string) (TransferResult, error) {
	transferType := binance.MarginTransferType(1) // spot -> margin
	if !toMargin {
		transferType = binance.MarginTransferType(2) // margin -> spot
	}
	resp, err := p.client.NewMarginTransferService().
		Asset(asset).
		Amount(amount.String()).
		Type(transferType).
		Do(ctx)
	if err != nil {
		return TransferResult{}, classifyOrderErr("transfer", symbol, err)
	}
	return TransferResult{TransactionID: fmt.Sprintf("%d", resp.TranID)}, nil
}

func mapBinanceStatus(s binance.OrderStatusType) domain.OrderStatus {
	switch s {
	case binance.OrderStatusTypeFilled:
		return domain.OrderFilled
	case binance.OrderStatusTypePartiallyFilled:
		return domain.OrderPartiallyFilled
	case binance.OrderStatusTypeCanceled:
		return domain.OrderCancelled
	case binance.OrderStatusTypeRejected, binance.OrderStatusTypeExpired:
		return domain.OrderRejected
	default:
		return domain.OrderPending
	}
}

func mapMarginOrderType(t domain.OrderType) binance.OrderType {
	switch t {
	case domain.OrderLimit:
		return binance.OrderTypeLimit
	case domain.OrderStopLossLimit:
		return binance.OrderTypeStopLossLimit
	case domain.OrderTakeProfitLimit:
		return binance.OrderTypeTakeProfitLimit
	default:
		return binance.OrderTypeMarket
	}
}
