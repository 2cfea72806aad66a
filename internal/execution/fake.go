package execution

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/shopspring/decimal"

	"github.com/riskforge/engine/internal/domain"
)

// Fake is an in-memory Port for unit and idempotency tests. It records
// every call it receives so tests can assert the exchange was hit exactly
// once (spec I4, I7, scenario 5).
type Fake struct {
	mu        sync.Mutex
	seq       int64
	Calls     []FakeCall
	NextPrice decimal.Decimal // fill price returned by every order call while set
	Err       error           // if set, every call fails with this error
	OnCall    func(call FakeCall) (OrderResult, error)
}

type FakeCall struct {
	Method string
	Symbol string
	Side   domain.Side
	Qty    decimal.Decimal
	Token  string
}

func NewFake() *Fake {
	return &Fake{}
}

func (f *Fake) CallCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.Calls)
}

func (f *Fake) nextOrderID() string {
	id := atomic.AddInt64(&f.seq, 1)
	return fmt.Sprintf("FAKE-%d", id)
}

func (f *Fake) record(call FakeCall) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Calls = append(f.Calls, call)
}

func (f *Fake) PlaceMarket(_ context.Context, symbol string, side domain.Side, qty decimal.Decimal, token string) (OrderResult, error) {
	call := FakeCall{Method: "PlaceMarket", Symbol: symbol, Side: side, Qty: qty, Token: token}
	f.record(call)
	if f.OnCall != nil {
		return f.OnCall(call)
	}
	if f.Err != nil {
		return OrderResult{}, f.Err
	}
	price := f.NextPrice
	return OrderResult{
		OrderID: f.nextOrderID(),
		Status:  domain.OrderFilled,
		Fills:   []Fill{{Price: price, Quantity: qty}},
	}, nil
}

func (f *Fake) CreateMarginOrder(_ context.Context, symbol string, side domain.Side, _ domain.OrderType, qty decimal.Decimal, params MarginOrderParams) (OrderResult, error) {
	call := FakeCall{Method: "CreateMarginOrder", Symbol: symbol, Side: side, Qty: qty}
	f.record(call)
	if f.OnCall != nil {
		return f.OnCall(call)
	}
	if f.Err != nil {
		return OrderResult{}, f.Err
	}
	price := f.NextPrice
	if price.IsZero() {
		price = params.Price
	}
	return OrderResult{
		OrderID: f.nextOrderID(),
		Status:  domain.OrderFilled,
		Fills:   []Fill{{Price: price, Quantity: qty}},
	}, nil
}

func (f *Fake) Cancel(_ context.Context, symbol, orderID string) error {
	f.record(FakeCall{Method: "Cancel", Symbol: symbol, Token: orderID})
	return f.Err
}

func (f *Fake) Transfer(_ context.Context, _ bool, asset string, amount decimal.Decimal, symbol string) (TransferResult, error) {
	f.record(FakeCall{Method: "Transfer", Symbol: symbol, Qty: amount})
	if f.Err != nil {
		return TransferResult{}, f.Err
	}
	return TransferResult{TransactionID: f.nextOrderID()}, nil
}
