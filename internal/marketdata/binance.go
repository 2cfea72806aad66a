package marketdata

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/adshao/go-binance/v2"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/riskforge/engine/internal/domain"
	"github.com/riskforge/engine/internal/riskerr"
	"github.com/riskforge/engine/internal/telemetry"
)

// BinancePort is the go-binance-backed Port implementation (C1). It keeps a
// small in-memory "last seen" timestamp per symbol for DataAge, the same
// shape SynapseStrike/market tracks candle freshness for its AI prompts.
type BinancePort struct {
	client *binance.Client
	log    zerolog.Logger

	mu       sync.Mutex
	lastSeen map[string]time.Time
}

// NewBinancePort constructs a BinancePort from API credentials. Passing
// empty credentials is valid for read-only market-data calls.
func NewBinancePort(apiKey, apiSecret string) *BinancePort {
	return &BinancePort{
		client:   binance.NewClient(apiKey, apiSecret),
		log:      telemetry.NewLogger("marketdata.binance"),
		lastSeen: make(map[string]time.Time),
	}
}

func (p *BinancePort) touch(symbol string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.lastSeen[symbol] = time.Now()
}

func classifyBinanceErr(op, symbol string, err error) error {
	if err == nil {
		return nil
	}
	if apiErr, ok := err.(*binance.APIError); ok {
		// Binance server/network codes (-1000..-1016, including the -1003
		// rate limit) and the -1021 timestamp-window code are transient;
		// 4xx rejections are permanent (§7).
		if apiErr.Code == -1003 || apiErr.Code == -1021 || apiErr.Code <= -1000 && apiErr.Code >= -1016 {
			return riskerr.ExchangeTransient(fmt.Sprintf("%s %s", op, symbol), err)
		}
		return riskerr.ExchangePermanent(fmt.Sprintf("%s %s", op, symbol), err)
	}
	// Network-level errors (timeouts, connection resets) are transient.
	return riskerr.ExchangeTransient(fmt.Sprintf("%s %s", op, symbol), err)
}

func (p *BinancePort) BestBid(ctx context.Context, symbol string) (decimal.Decimal, error) {
	book, err := p.client.NewListBookTickersService().Symbol(symbol).Do(ctx)
	if err != nil {
		return decimal.Zero, classifyBinanceErr("best_bid", symbol, err)
	}
	if len(book) == 0 {
		return decimal.Zero, riskerr.ExchangePermanent("best_bid "+symbol, fmt.Errorf("empty book ticker response"))
	}
	p.touch(symbol)
	return decimal.NewFromString(book[0].BidPrice)
}

func (p *BinancePort) BestAsk(ctx context.Context, symbol string) (decimal.Decimal, error) {
	book, err := p.client.NewListBookTickersService().Symbol(symbol).Do(ctx)
	if err != nil {
		return decimal.Zero, classifyBinanceErr("best_ask", symbol, err)
	}
	if len(book) == 0 {
		return decimal.Zero, riskerr.ExchangePermanent("best_ask "+symbol, fmt.Errorf("empty book ticker response"))
	}
	p.touch(symbol)
	return decimal.NewFromString(book[0].AskPrice)
}

func (p *BinancePort) Klines(ctx context.Context, symbol, timeframe string, limit int) ([]domain.Candle, error) {
	raw, err := p.client.NewKlinesService().
		Symbol(symbol).
		Interval(timeframe).
		Limit(limit).
		Do(ctx)
	if err != nil {
		return nil, classifyBinanceErr("klines", symbol, err)
	}
	candles := make([]domain.Candle, 0, len(raw))
	for _, k := range raw {
		open, _ := decimal.NewFromString(k.Open)
		high, _ := decimal.NewFromString(k.High)
		low, _ := decimal.NewFromString(k.Low)
		cls, _ := decimal.NewFromString(k.Close)
		vol, _ := decimal.NewFromString(k.Volume)
		candles = append(candles, domain.Candle{
			OpenTime: time.UnixMilli(k.OpenTime),
			Open:     open,
			High:     high,
			Low:      low,
			Close:    cls,
			Volume:   vol,
		})
	}
	p.touch(symbol)
	return candles, nil
}

func (p *BinancePort) LatestFundingRate(ctx context.Context, symbol string) (decimal.Decimal, error) {
	rates, err := p.client.NewPremiumIndexService().Symbol(symbol).Do(ctx)
	if err != nil {
		return decimal.Zero, classifyBinanceErr("funding_rate", symbol, err)
	}
	if len(rates) == 0 {
		return decimal.Zero, riskerr.ExchangePermanent("funding_rate "+symbol, fmt.Errorf("no premium index data"))
	}
	rate, err := strconv.ParseFloat(rates[0].LastFundingRate, 64)
	if err != nil {
		return decimal.Zero, riskerr.ExchangePermanent("funding_rate "+symbol, err)
	}
	return decimal.NewFromFloat(rate), nil
}

func (p *BinancePort) DataAge(ctx context.Context, symbol string) (time.Duration, error) {
	p.mu.Lock()
	seen, ok := p.lastSeen[symbol]
	p.mu.Unlock()
	if !ok {
		// No observation yet: treat as maximally stale rather than erroring,
		// so the DataFreshness gate fails closed (§4.3).
		return 24 * time.Hour, nil
	}
	return time.Since(seen), nil
}

func (p *BinancePort) AccountBalances(ctx context.Context) (map[string]Balance, error) {
	acct, err := p.client.NewGetAccountService().Do(ctx)
	if err != nil {
		return nil, classifyBinanceErr("account_balances", "", err)
	}
	out := make(map[string]Balance, len(acct.Balances))
	for _, b := range acct.Balances {
		free, _ := decimal.NewFromString(b.Free)
		locked, _ := decimal.NewFromString(b.Locked)
		out[b.Asset] = Balance{Asset: b.Asset, Free: free, Locked: locked}
	}
	return out, nil
}

func (p *BinancePort) IsolatedMarginAccount(ctx context.Context, symbol string) (IsolatedMarginAccount, error) {
	acct, err := p.client.NewGetIsolatedMarginAccountService().Symbols(symbol).Do(ctx)
	if err != nil {
		return IsolatedMarginAccount{}, classifyBinanceErr("isolated_margin_account", symbol, err)
	}
	if len(acct.Assets) == 0 {
		return IsolatedMarginAccount{}, riskerr.ExchangePermanent("isolated_margin_account "+symbol, fmt.Errorf("no isolated margin assets"))
	}
	a := acct.Assets[0]
	level, _ := decimal.NewFromString(a.MarginLevel)
	return IsolatedMarginAccount{
		Symbol:      a.Symbol,
		BaseAsset:   a.BaseAsset.Asset,
		QuoteAsset:  a.QuoteAsset.Asset,
		MarginLevel: level,
	}, nil
}
