// Package exchange defines the order port between the decision pipeline and
// a venue, plus the adapters behind it: a deterministic in-memory venue for
// replay and tests, a live Binance futures adapter, and a retry decorator.
package exchange

import (
	"context"
	"time"

	"github.com/bnzr-team/grinder-sub001/internal/models"
	"github.com/shopspring/decimal"
)

// Venue-reported order lifecycle states, following the Binance vocabulary.
const (
	StatusNew             = "NEW"
	StatusPartiallyFilled = "PARTIALLY_FILLED"
	StatusFilled          = "FILLED"
	StatusCanceled        = "CANCELED"
	StatusExpired         = "EXPIRED"
)

// OrderStatus is the venue's answer to a single-order query.
type OrderStatus struct {
	OrderID     string
	Status      string
	ExecutedQty decimal.Decimal
	AvgPrice    decimal.Decimal
	UpdatedTS   time.Time
}

// Execution is one observed fill: an order (or part of one) that traded.
type Execution struct {
	OrderID  string
	ClientID string
	Symbol   string
	Side     models.Side
	Price    decimal.Decimal
	Qty      decimal.Decimal
	Fee      decimal.Decimal
	TS       time.Time
}

// Port is the only path through which orders reach a venue. Every call is
// an I/O boundary and must carry a context with a deadline. Errors are
// always of type *PortError.
type Port interface {
	// Place submits a new limit order and returns the acknowledged order.
	Place(ctx context.Context, intent models.OrderIntent) (models.OpenOrder, error)

	// Cancel removes one resting order. Cancelling an unknown order
	// returns CodeUnknownOrder.
	Cancel(ctx context.Context, symbol, orderID string) error

	// Amend moves one resting order to the intent's price and quantity,
	// keeping its place in the book where the venue supports that.
	Amend(ctx context.Context, symbol, orderID string, intent models.OrderIntent) (models.OpenOrder, error)

	// QueryOpenOrders returns the venue's view of resting orders.
	QueryOpenOrders(ctx context.Context, symbol string) ([]models.OpenOrder, error)

	// QueryOrder returns the lifecycle status of one order, open or not.
	// Orders the venue has never seen return CodeUnknownOrder.
	QueryOrder(ctx context.Context, symbol, orderID string) (OrderStatus, error)

	// QueryPosition returns the signed net position for the symbol.
	QueryPosition(ctx context.Context, symbol string) (decimal.Decimal, error)
}
