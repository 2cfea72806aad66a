// Package audit implements the Audit Log (spec §4.8, component C3): the
// append-only movement record low-level writes already go through
// internal/store.AuditStore for, plus the exchange reconciliation sweep
// (§6 "Exchange Reconciliation") that backfills movements the exchange
// committed but the local transaction never saw, by reading the exchange's
// own trade history per symbol the way audit_service.py's sync_from_binance
// does. Each sweep reads only the most recent Limit trades per symbol; it
// does not paginate further back.
package audit

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/riskforge/engine/internal/domain"
	"github.com/riskforge/engine/internal/execution"
	"github.com/riskforge/engine/internal/store"
	"github.com/riskforge/engine/internal/telemetry"
)

// TradeHistory is the narrow slice of the exchange's read-only trade
// history the reconciliation sweep needs; execution.BinancePort's
// ListSpotTrades/ListIsolatedMarginTrades satisfy it without audit
// importing execution's order-placement surface.
type TradeHistory interface {
	ListSpotTrades(ctx context.Context, symbol string, limit int) ([]ExchangeTrade, error)
	ListIsolatedMarginTrades(ctx context.Context, symbol string, limit int) ([]ExchangeTrade, error)
}

// ExchangeTrade mirrors execution.Trade's fields; declared independently so
// this package does not need to import execution for a struct shape alone.
type ExchangeTrade struct {
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

// Symbol is one tenant/symbol pair the sweep reconciles, mirroring
// audit_binance_trades.py's per-client, per-symbol command invocation.
type Symbol struct {
	TenantID string
	Symbol   string
	IsMargin bool
}

// Reconciler runs the periodic outbound sweep: for every configured
// tenant/symbol, read the exchange's own trade history and create the
// AuditTransaction rows missing locally (§6, §8 "reconciliation job
// reads exchange order ids written outside the transaction").
type Reconciler struct {
	DB      *store.DB
	History TradeHistory
	Limit   int // trades fetched per symbol per sweep; 0 uses a 100 default
}

func NewReconciler(db *store.DB, history TradeHistory) *Reconciler {
	return &Reconciler{DB: db, History: history, Limit: 100}
}

// BinanceHistory adapts execution.BinancePort to TradeHistory, converting
// its Trade values into this package's independent ExchangeTrade shape.
type BinanceHistory struct {
	Port *execution.BinancePort
}

func (h BinanceHistory) ListSpotTrades(ctx context.Context, symbol string, limit int) ([]ExchangeTrade, error) {
	trades, err := h.Port.ListSpotTrades(ctx, symbol, limit)
	if err != nil {
		return nil, err
	}
	return convertTrades(trades), nil
}

func (h BinanceHistory) ListIsolatedMarginTrades(ctx context.Context, symbol string, limit int) ([]ExchangeTrade, error) {
	trades, err := h.Port.ListIsolatedMarginTrades(ctx, symbol, limit)
	if err != nil {
		return nil, err
	}
	return convertTrades(trades), nil
}

func convertTrades(trades []execution.Trade) []ExchangeTrade {
	out := make([]ExchangeTrade, len(trades))
	for i, t := range trades {
		out[i] = ExchangeTrade{
			OrderID:         t.OrderID,
			Symbol:          t.Symbol,
			Price:           t.Price,
			Quantity:        t.Quantity,
			Commission:      t.Commission,
			CommissionAsset: t.CommissionAsset,
			IsBuyer:         t.IsBuyer,
			IsIsolated:      t.IsIsolated,
			Time:            t.Time,
		}
	}
	return out
}

// Sweep reconciles every symbol once, returning the count of
// AuditTransaction rows it created. A failure on one symbol does not
// abort the rest of the sweep — the next periodic run retries it.
func (r *Reconciler) Sweep(ctx context.Context, symbols []Symbol) (int, error) {
	log := telemetry.NewLogger("audit.reconcile")
	limit := r.Limit
	if limit <= 0 {
		limit = 100
	}

	created := 0
	for _, sym := range symbols {
		var trades []ExchangeTrade
		var err error
		if sym.IsMargin {
			trades, err = r.History.ListIsolatedMarginTrades(ctx, sym.Symbol, limit)
		} else {
			trades, err = r.History.ListSpotTrades(ctx, sym.Symbol, limit)
		}
		if err != nil {
			log.Warn().Err(err).Str("symbol", sym.Symbol).Msg("reconciliation: fetch trade history failed, will retry next sweep")
			continue
		}

		for _, t := range trades {
			txType := spotTxType(t)
			if sym.IsMargin {
				txType = marginTxType(t)
			}

			exists, err := r.DB.Audit.ExistsForOrder(t.OrderID, txType)
			if err != nil {
				log.Error().Err(err).Str("order_id", t.OrderID).Msg("reconciliation: existence check failed")
				continue
			}
			if exists {
				continue
			}

			asset := baseAsset(sym.Symbol)
			side := domain.SideBuy
			if !t.IsBuyer {
				side = domain.SideSell
			}

			at := &domain.AuditTransaction{
				ID:              uuid.NewString(),
				ExchangeOrderID: t.OrderID,
				TenantID:        sym.TenantID,
				Symbol:          sym.Symbol,
				Asset:           asset,
				Quantity:        t.Quantity,
				Price:           t.Price,
				TotalValue:      t.Price.Mul(t.Quantity),
				Fee:             t.Commission,
				Side:            side,
				TransactionType: txType,
				IsMargin:        sym.IsMargin,
				Source:          domain.SourceExchangeSync,
				ExecutedAt:      time.UnixMilli(t.Time),
			}
			if err := r.DB.Audit.Insert(at); err != nil {
				if store.IsDuplicate(err) {
					continue
				}
				log.Error().Err(err).Str("order_id", t.OrderID).Msg("reconciliation: insert backfilled transaction failed")
				continue
			}
			created++
			log.Info().Str("order_id", t.OrderID).Str("symbol", sym.Symbol).Msg("reconciliation: backfilled missing audit transaction")
		}
	}
	return created, nil
}

func spotTxType(t ExchangeTrade) domain.TransactionType {
	if t.IsBuyer {
		return domain.TxSpotBuy
	}
	return domain.TxSpotSell
}

func marginTxType(t ExchangeTrade) domain.TransactionType {
	if t.IsBuyer {
		return domain.TxMarginBuy
	}
	return domain.TxMarginSell
}

// baseAsset strips the quote suffix off a symbol, mirroring
// audit_service.py's symbol[:-4] convention for the common 4-letter quote
// assets; an unrecognized quote is left as-is (best-effort labeling only,
// it never affects reconciliation's identity check which keys on order id).
func baseAsset(symbol string) string {
	for _, quote := range []string{"USDT", "BUSD", "USDC"} {
		if strings.HasSuffix(symbol, quote) {
			return strings.TrimSuffix(symbol, quote)
		}
	}
	if strings.HasSuffix(symbol, "BTC") && len(symbol) > 3 {
		return strings.TrimSuffix(symbol, "BTC")
	}
	return symbol
}
