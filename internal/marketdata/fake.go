package marketdata

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/riskforge/engine/internal/domain"
)

// Fake is an in-memory Port used by unit tests across the engine, the same
// role SynapseStrike's decision tests play against a canned market.Data.
type Fake struct {
	Bids         map[string]decimal.Decimal
	Asks         map[string]decimal.Decimal
	CandleSets   map[string][]domain.Candle
	FundingRates map[string]decimal.Decimal
	Ages         map[string]time.Duration
	Balances     map[string]Balance
	MarginAccts  map[string]IsolatedMarginAccount
	Err          error
}

func NewFake() *Fake {
	return &Fake{
		Bids:         map[string]decimal.Decimal{},
		Asks:         map[string]decimal.Decimal{},
		CandleSets:   map[string][]domain.Candle{},
		FundingRates: map[string]decimal.Decimal{},
		Ages:         map[string]time.Duration{},
		Balances:     map[string]Balance{},
		MarginAccts:  map[string]IsolatedMarginAccount{},
	}
}

func (f *Fake) BestBid(_ context.Context, symbol string) (decimal.Decimal, error) {
	if f.Err != nil {
		return decimal.Zero, f.Err
	}
	return f.Bids[symbol], nil
}

func (f *Fake) BestAsk(_ context.Context, symbol string) (decimal.Decimal, error) {
	if f.Err != nil {
		return decimal.Zero, f.Err
	}
	return f.Asks[symbol], nil
}

func (f *Fake) Klines(_ context.Context, symbol, _ string, limit int) ([]domain.Candle, error) {
	if f.Err != nil {
		return nil, f.Err
	}
	candles := f.CandleSets[symbol]
	if limit > 0 && len(candles) > limit {
		candles = candles[len(candles)-limit:]
	}
	return candles, nil
}

func (f *Fake) LatestFundingRate(_ context.Context, symbol string) (decimal.Decimal, error) {
	if f.Err != nil {
		return decimal.Zero, f.Err
	}
	return f.FundingRates[symbol], nil
}

func (f *Fake) DataAge(_ context.Context, symbol string) (time.Duration, error) {
	if f.Err != nil {
		return 0, f.Err
	}
	return f.Ages[symbol], nil
}

func (f *Fake) AccountBalances(_ context.Context) (map[string]Balance, error) {
	if f.Err != nil {
		return nil, f.Err
	}
	return f.Balances, nil
}

func (f *Fake) IsolatedMarginAccount(_ context.Context, symbol string) (IsolatedMarginAccount, error) {
	if f.Err != nil {
		return IsolatedMarginAccount{}, f.Err
	}
	return f.MarginAccts[symbol], nil
}
