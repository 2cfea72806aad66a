package portfolio

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/riskforge/engine/internal/domain"
	"github.com/riskforge/engine/internal/marketdata"
	"github.com/riskforge/engine/internal/store"
)

func TestRecomputeValuesBTCDirectly(t *testing.T) {
	db, err := store.Open(":memory:")
	require.NoError(t, err)
	defer db.Close()

	market := marketdata.NewFake()
	market.Balances["BTC"] = marketdata.Balance{Asset: "BTC", Free: decimal.NewFromInt(2)}

	p := NewProjector(db, market)
	snap, err := p.Recompute(context.Background(), "tenant-1")
	require.NoError(t, err)
	assert.True(t, snap.TotalBTC.Equal(decimal.NewFromInt(2)))
	assert.Empty(t, snap.Warnings)
}

func TestRecomputeConvertsViaDirectAssetBTCPair(t *testing.T) {
	db, err := store.Open(":memory:")
	require.NoError(t, err)
	defer db.Close()

	market := marketdata.NewFake()
	market.Balances["ETH"] = marketdata.Balance{Asset: "ETH", Free: decimal.NewFromInt(10)}
	market.Bids["ETHBTC"] = decimal.NewFromFloat(0.05)

	p := NewProjector(db, market)
	snap, err := p.Recompute(context.Background(), "tenant-1")
	require.NoError(t, err)
	assert.True(t, snap.TotalBTC.Equal(decimal.NewFromFloat(0.5)))
}

func TestRecomputeFallsBackToUSDTBridge(t *testing.T) {
	db, err := store.Open(":memory:")
	require.NoError(t, err)
	defer db.Close()

	market := marketdata.NewFake()
	market.Balances["XRP"] = marketdata.Balance{Asset: "XRP", Free: decimal.NewFromInt(1000)}
	market.Bids["XRPUSDT"] = decimal.NewFromFloat(0.5)
	market.Bids["BTCUSDT"] = decimal.NewFromInt(50000)

	p := NewProjector(db, market)
	snap, err := p.Recompute(context.Background(), "tenant-1")
	require.NoError(t, err)
	// 1000 XRP * (0.5/50000) BTC per XRP = 0.01 BTC
	assert.True(t, snap.TotalBTC.Equal(decimal.NewFromFloat(0.01)))
}

func TestRecomputeWarnsWhenNoConversionPathExists(t *testing.T) {
	db, err := store.Open(":memory:")
	require.NoError(t, err)
	defer db.Close()

	market := marketdata.NewFake()
	market.Balances["MYSTERY"] = marketdata.Balance{Asset: "MYSTERY", Free: decimal.NewFromInt(5)}

	p := NewProjector(db, market)
	snap, err := p.Recompute(context.Background(), "tenant-1")
	require.NoError(t, err)
	assert.True(t, snap.TotalBTC.IsZero())
	require.Len(t, snap.Warnings, 1)
}

func TestRecomputeProfitSubtractsDepositsAddsWithdrawals(t *testing.T) {
	db, err := store.Open(":memory:")
	require.NoError(t, err)
	defer db.Close()

	require.NoError(t, db.Audit.Insert(&domain.AuditTransaction{
		ID: "d1", TenantID: "tenant-1", Asset: "BTC", Quantity: decimal.NewFromInt(1),
		Price: decimal.NewFromInt(1), TransactionType: domain.TxDeposit, ExecutedAt: time.Now(),
	}))
	require.NoError(t, db.Audit.Insert(&domain.AuditTransaction{
		ID: "w1", TenantID: "tenant-1", Asset: "BTC", Quantity: decimal.NewFromFloat(0.5),
		Price: decimal.NewFromInt(1), TransactionType: domain.TxWithdrawal, ExecutedAt: time.Now(),
	}))

	market := marketdata.NewFake()
	market.Balances["BTC"] = marketdata.Balance{Asset: "BTC", Free: decimal.NewFromInt(3)}

	p := NewProjector(db, market)
	snap, err := p.Recompute(context.Background(), "tenant-1")
	require.NoError(t, err)
	// 3 (current) + 0.5 (withdrawn) - 1 (deposited) = 2.5
	assert.True(t, snap.ProfitBTC.Equal(decimal.NewFromFloat(2.5)))
}

func TestRecomputeIgnoresZeroBalances(t *testing.T) {
	db, err := store.Open(":memory:")
	require.NoError(t, err)
	defer db.Close()

	market := marketdata.NewFake()
	market.Balances["DUST"] = marketdata.Balance{Asset: "DUST", Free: decimal.Zero, Locked: decimal.Zero}

	p := NewProjector(db, market)
	snap, err := p.Recompute(context.Background(), "tenant-1")
	require.NoError(t, err)
	assert.Empty(t, snap.Warnings)
}
