// Package portfolio implements the Portfolio Projection (spec §4.8,
// component C11): on-demand BTC-denominated balances and P&L derived
// from AccountBalances and the AuditTransaction ledger, generalized from
// audit_service.py's take_balance_snapshot total-equity computation into
// the asset-agnostic projection spec.md names.
package portfolio

import (
	"context"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/riskforge/engine/internal/domain"
	"github.com/riskforge/engine/internal/marketdata"
	"github.com/riskforge/engine/internal/store"
	"github.com/riskforge/engine/internal/telemetry"
)

// PriceCacheTTL is how long a discovered asset/BTC price is reused before
// the projector re-queries the market (§4.8 "cached for 60s").
const PriceCacheTTL = 60 * time.Second

// Snapshot is recompute_portfolio's result (§6 command interface).
type Snapshot struct {
	TenantID   string
	TotalBTC   decimal.Decimal
	ProfitBTC  decimal.Decimal
	AsOf       time.Time
	AssetPrices map[string]decimal.Decimal // asset -> price in BTC, for auditability
	Warnings   []string
}

type priceCacheEntry struct {
	price   decimal.Decimal
	cachedAt time.Time
}

// Projector computes portfolio snapshots on demand. One Projector is
// shared across tenants; its price cache is keyed by asset only since BTC
// conversion rates are market-wide, not tenant-specific.
type Projector struct {
	DB     *store.DB
	Market marketdata.Port

	mu    sync.Mutex
	cache map[string]priceCacheEntry
}

func NewProjector(db *store.DB, market marketdata.Port) *Projector {
	return &Projector{DB: db, Market: market, cache: make(map[string]priceCacheEntry)}
}

// Recompute implements recompute_portfolio (§6): total_btc as the sum of
// every non-zero asset balance (free plus locked) converted to BTC, and
// profit_btc against the ledger's deposit/withdrawal history (§4.8).
// Borrowed amounts are not subtracted from total_btc.
func (p *Projector) Recompute(ctx context.Context, tenantID string) (Snapshot, error) {
	log := telemetry.NewLogger("portfolio")
	now := time.Now()
	snap := Snapshot{TenantID: tenantID, AsOf: now, AssetPrices: make(map[string]decimal.Decimal)}

	balances, err := p.Market.AccountBalances(ctx)
	if err != nil {
		return snap, err
	}

	totalBTC := decimal.Zero
	for asset, bal := range balances {
		qty := bal.Free.Add(bal.Locked)
		if qty.IsZero() {
			continue
		}
		priceBTC, ok := p.priceInBTC(ctx, asset, now)
		if !ok {
			snap.Warnings = append(snap.Warnings, "no BTC conversion path for "+asset+", valued at zero")
			log.Warn().Str("asset", asset).Msg("portfolio: no BTC conversion path, treating as zero")
			continue
		}
		snap.AssetPrices[asset] = priceBTC
		totalBTC = totalBTC.Add(qty.Mul(priceBTC))
	}
	snap.TotalBTC = totalBTC

	profit, err := p.profitBTC(tenantID, totalBTC, now)
	if err != nil {
		return snap, err
	}
	snap.ProfitBTC = profit
	return snap, nil
}

// priceInBTC discovers asset's price in BTC via the §4.8 fallback chain:
// direct ASSETBTC, then via USDT, then via BUSD, then give up. "BTC"
// itself always prices at 1.
func (p *Projector) priceInBTC(ctx context.Context, asset string, now time.Time) (decimal.Decimal, bool) {
	if asset == "BTC" {
		return decimal.NewFromInt(1), true
	}
	if cached, ok := p.cached(asset, now); ok {
		return cached, true
	}

	if price, err := p.Market.BestBid(ctx, asset+"BTC"); err == nil && price.IsPositive() {
		p.store(asset, price, now)
		return price, true
	}
	if price, ok := p.viaBridge(ctx, asset, "USDT"); ok {
		p.store(asset, price, now)
		return price, true
	}
	if price, ok := p.viaBridge(ctx, asset, "BUSD"); ok {
		p.store(asset, price, now)
		return price, true
	}
	return decimal.Zero, false
}

func (p *Projector) viaBridge(ctx context.Context, asset, bridge string) (decimal.Decimal, bool) {
	assetBridge, err := p.Market.BestBid(ctx, asset+bridge)
	if err != nil || !assetBridge.IsPositive() {
		return decimal.Zero, false
	}
	btcBridge, err := p.Market.BestBid(ctx, "BTC"+bridge)
	if err != nil || !btcBridge.IsPositive() {
		return decimal.Zero, false
	}
	return assetBridge.Div(btcBridge), true
}

func (p *Projector) cached(asset string, now time.Time) (decimal.Decimal, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	entry, ok := p.cache[asset]
	if !ok || now.Sub(entry.cachedAt) > PriceCacheTTL {
		return decimal.Zero, false
	}
	return entry.price, true
}

func (p *Projector) store(asset string, price decimal.Decimal, now time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cache[asset] = priceCacheEntry{price: price, cachedAt: now}
}

// profitBTC implements §4.8's profit formula: current total plus
// withdrawals (money the tenant took out, so it no longer shows up in
// total_btc but was still realized) minus deposits (money added that
// isn't profit), each movement converted at its own executed_at price.
func (p *Projector) profitBTC(tenantID string, totalBTC decimal.Decimal, now time.Time) (decimal.Decimal, error) {
	withdrawals, err := p.DB.Audit.ListByTenantAndType(tenantID, domain.TxWithdrawal)
	if err != nil {
		return decimal.Zero, err
	}
	deposits, err := p.DB.Audit.ListByTenantAndType(tenantID, domain.TxDeposit)
	if err != nil {
		return decimal.Zero, err
	}

	profit := totalBTC
	for _, w := range withdrawals {
		profit = profit.Add(movementBTC(w))
	}
	for _, d := range deposits {
		profit = profit.Sub(movementBTC(d))
	}
	return profit, nil
}

// movementBTC converts one deposit/withdrawal row to BTC using its
// recorded price (the price at executed_at, or the closest known one the
// ledger captured at write time — §4.8).
func movementBTC(a *domain.AuditTransaction) decimal.Decimal {
	if a.Asset == "BTC" {
		return a.Quantity
	}
	if a.Price.IsZero() {
		return decimal.Zero
	}
	return a.Quantity.Mul(a.Price)
}
