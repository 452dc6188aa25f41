package exchange

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	logger "github.com/sirupsen/logrus"
)

// PaperExchange simulates the exchange in-process. Orders fill immediately
// at the table price against AUD and per-coin balances. Fault injection
// lets drills exercise the executor's retry path.
type PaperExchange struct {
	mu       sync.Mutex
	prices   map[string]decimal.Decimal
	balances map[string]decimal.Decimal
	orders   map[string]*PlacedOrder

	failRemaining int
	failErr       error
}

// NewPaperExchange starts with the given AUD balance and no coin holdings.
func NewPaperExchange(audBalance decimal.Decimal) *PaperExchange {
	return &PaperExchange{
		prices:   make(map[string]decimal.Decimal),
		balances: map[string]decimal.Decimal{"AUD": audBalance},
		orders:   make(map[string]*PlacedOrder),
	}
}

// SetPrice sets the simulated last price for a coin.
func (p *PaperExchange) SetPrice(coin string, price decimal.Decimal) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.prices[coin] = price
}

// SetBalance overrides one currency balance.
func (p *PaperExchange) SetBalance(currency string, amount decimal.Decimal) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.balances[currency] = amount
}

// FailNext makes the next n PlaceOrder calls fail with err.
func (p *PaperExchange) FailNext(n int, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.failRemaining = n
	p.failErr = err
}

func (p *PaperExchange) PlaceOrder(ctx context.Context, req OrderRequest) (*PlacedOrder, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.failRemaining > 0 {
		p.failRemaining--
		return nil, p.failErr
	}

	price, ok := p.prices[req.Coin]
	if !ok || !price.IsPositive() {
		return nil, fmt.Errorf("paper exchange has no price for %s", req.Coin)
	}
	if req.Type == "limit" && req.Price.IsPositive() {
		price = req.Price
	}

	cost := req.Quantity.Mul(price)

	switch req.Side {
	case "buy":
		if p.balances["AUD"].LessThan(cost) {
			return nil, ErrInsufficientFunds
		}
		p.balances["AUD"] = p.balances["AUD"].Sub(cost)
		p.balances[req.Coin] = p.balances[req.Coin].Add(req.Quantity)
	case "sell":
		if p.balances[req.Coin].LessThan(req.Quantity) {
			return nil, ErrInsufficientFunds
		}
		p.balances[req.Coin] = p.balances[req.Coin].Sub(req.Quantity)
		p.balances["AUD"] = p.balances["AUD"].Add(cost)
	default:
		return nil, fmt.Errorf("unknown order side %q", req.Side)
	}

	order := &PlacedOrder{
		ExchangeOrderID: uuid.New().String(),
		Status:          StatusFilled,
		FilledQuantity:  req.Quantity,
		AvgPrice:        price,
	}
	p.orders[order.ExchangeOrderID] = order

	logger.WithFields(map[string]interface{}{
		"coin":  req.Coin,
		"side":  req.Side,
		"qty":   req.Quantity.String(),
		"price": price.String(),
	}).Debug("Paper order filled")
	return order, nil
}

func (p *PaperExchange) CancelOrder(ctx context.Context, exchangeOrderID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	order, ok := p.orders[exchangeOrderID]
	if !ok {
		return ErrOrderNotFound
	}
	if order.Status == StatusFilled {
		return fmt.Errorf("order %s already filled", exchangeOrderID)
	}
	order.Status = StatusCancelled
	return nil
}

func (p *PaperExchange) GetOrderStatus(ctx context.Context, exchangeOrderID string) (*PlacedOrder, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	order, ok := p.orders[exchangeOrderID]
	if !ok {
		return nil, ErrOrderNotFound
	}
	copied := *order
	return &copied, nil
}

func (p *PaperExchange) GetBalances(ctx context.Context) ([]Balance, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	balances := make([]Balance, 0, len(p.balances))
	for currency, amount := range p.balances {
		balances = append(balances, Balance{Currency: currency, Total: amount, Available: amount})
	}
	return balances, nil
}

func (p *PaperExchange) GetLastPrice(ctx context.Context, coin string) (decimal.Decimal, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	price, ok := p.prices[coin]
	if !ok {
		return decimal.Zero, fmt.Errorf("paper exchange has no price for %s", coin)
	}
	return price, nil
}

func (p *PaperExchange) TestConnection(ctx context.Context) error {
	return nil
}
