package core

import (
	"context"
	"time"
)

// MarketData provides adjusted historical OHLCV from the upstream source.
type MarketData interface {
	BarsByPeriod(ctx context.Context, symbol string, interval Interval, start, end time.Time) ([]Bar, error)
}

// QuoteClient serves point-in-time quotes for broker-formatted symbols.
type QuoteClient interface {
	Quotes(ctx context.Context, symbols []string) ([]Quote, error)
}

// Broker is the order and account surface of the broker of record.
// Symbols are broker-formatted. CancelOrder is idempotent; cancelling an
// already-terminal order is not an error.
type Broker interface {
	AccountBalance(ctx context.Context) (Account, error)
	StockPositions(ctx context.Context) ([]BrokerPosition, error)
	SubmitOrder(ctx context.Context, intent OrderIntent) (orderID string, err error)
	CancelOrder(ctx context.Context, orderID string) error
	TodayOrders(ctx context.Context) ([]OrderSummary, error)
	OrderDetail(ctx context.Context, orderID string) (OrderSummary, error)
}

// Notifier receives operator-facing messages from the pipeline.
type Notifier interface {
	Notify(message string)
	OnCandidate(candidate Candidate)
	OnBatch(candidates []Candidate)
	OnError(err error)
}

// Account is a best-effort snapshot of broker cash balances. Pointer fields
// are nil when the broker response omitted or failed to parse the value.
type Account struct {
	Currency      string
	AvailableCash *float64
	WithdrawCash  *float64
	FrozenCash    *float64
	SettlingCash  *float64
}

// BrokerPosition is one stock position as reported by the broker.
type BrokerPosition struct {
	Symbol       string
	Quantity     int64
	CostPrice    *float64
	MarketValue  *float64
	UnrealizedPL *float64
}

// OrderSummary is the broker's view of one order, from either the today
// orders listing or the order detail endpoint.
type OrderSummary struct {
	OrderID   string
	Symbol    string
	Side      SideType
	Status    string
	Quantity  int64
	FilledQty int64
	AvgPrice  float64
	UpdatedAt time.Time
}
