package exchange

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"
)

// Exchange-side order states. The trading executor maps these onto the
// order rows it owns.
const (
	StatusOpen      = "open"
	StatusPartial   = "partial"
	StatusFilled    = "filled"
	StatusCancelled = "cancelled"
)

var (
	ErrOrderNotFound     = errors.New("exchange: order not found")
	ErrInsufficientFunds = errors.New("exchange: insufficient funds")
)

// OrderRequest is the exchange-facing shape of one order.
type OrderRequest struct {
	Coin     string
	Side     string // buy or sell
	Type     string // market or limit
	Quantity decimal.Decimal
	Price    decimal.Decimal // limit orders only
}

// PlacedOrder is the exchange's view of an order after placement or lookup.
type PlacedOrder struct {
	ExchangeOrderID string
	Status          string
	FilledQuantity  decimal.Decimal
	AvgPrice        decimal.Decimal
}

type Balance struct {
	Currency  string
	Total     decimal.Decimal
	Available decimal.Decimal
}

// Client is the trading surface the executor depends on. LiveClient talks
// to the real exchange; PaperExchange simulates one in-process.
type Client interface {
	PlaceOrder(ctx context.Context, req OrderRequest) (*PlacedOrder, error)
	CancelOrder(ctx context.Context, exchangeOrderID string) error
	GetOrderStatus(ctx context.Context, exchangeOrderID string) (*PlacedOrder, error)
	GetBalances(ctx context.Context) ([]Balance, error)
	GetLastPrice(ctx context.Context, coin string) (decimal.Decimal, error)
	TestConnection(ctx context.Context) error
}
