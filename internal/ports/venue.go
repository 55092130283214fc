package ports

import (
	"context"

	"github.com/alejandrodnm/kalshibot/internal/domain"
)

// QuoteSource returns venue markets with their top-of-book quotes.
type QuoteSource interface {
	// GetMarkets returns the active markets of an event that have at least
	// one quote. A rate-limited call returns a KindRateLimited error.
	GetMarkets(ctx context.Context, eventID string) ([]domain.MarketQuote, error)

	// GetMarket returns a single market regardless of status, so callers can
	// see resolution results.
	GetMarket(ctx context.Context, ticker string) (domain.MarketQuote, error)
}

// PositionSource returns the holdings the venue reports for this account.
type PositionSource interface {
	GetPositions(ctx context.Context) ([]domain.LivePosition, error)
}

// BalanceSource returns the available cash balance in dollars.
type BalanceSource interface {
	GetBalance(ctx context.Context) (float64, error)
}

// ExitOrder is a request to sell an entire held side.
type ExitOrder struct {
	MarketID string
	Side     domain.Side
	Quantity int
	Price    float64
	Reason   domain.ExitReason
}

// OrderExecutor submits exit orders to the venue.
type OrderExecutor interface {
	// PlaceExit submits a sell order and returns the venue order id.
	PlaceExit(ctx context.Context, order ExitOrder) (string, error)
}

// EntryOrder is a request to buy contracts of one side.
type EntryOrder struct {
	MarketID string
	Side     domain.Side
	Quantity int
	Price    float64
}

// Fill is what the venue reports back for an entry order.
type Fill struct {
	OrderID  string
	Quantity int
	Price    float64
}

// EntryExecutor submits entry orders to the venue.
type EntryExecutor interface {
	PlaceEntry(ctx context.Context, order EntryOrder) (Fill, error)
}

// Order states reported by OrderTracker.
const (
	OrderResting  = "resting"
	OrderCanceled = "canceled"
	OrderExecuted = "executed"
)

// OrderStatus is the venue state of a previously placed order.
type OrderStatus struct {
	OrderID   string
	Status    string
	Filled    int
	Remaining int
}

// OrderTracker reads and cancels orders already sent to the venue.
type OrderTracker interface {
	GetOrder(ctx context.Context, orderID string) (OrderStatus, error)
	CancelOrder(ctx context.Context, orderID string) error
}
