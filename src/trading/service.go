package trading

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	logger "github.com/sirupsen/logrus"

	"ohmycoins/src/exchange"
	"ohmycoins/src/model"
	"ohmycoins/src/repository"
	"ohmycoins/src/safety"
)

// ErrTradeRejected wraps a safety-manager rejection so callers can tell it
// apart from infrastructure failures.
type ErrTradeRejected struct {
	Reason string
}

func (e ErrTradeRejected) Error() string {
	return "trade rejected: " + e.Reason
}

// SubmitRequest is the caller-facing order intent. Price is only consulted
// for limit orders.
type SubmitRequest struct {
	UserID       uint
	DeploymentID *uint
	Coin         string
	Side         string
	OrderType    string
	Quantity     decimal.Decimal
	Price        decimal.Decimal
}

// Service is the trading front door. Every order passes the safety manager
// before it is persisted and queued.
type Service struct {
	manager   *safety.Manager
	executor  *Executor
	client    exchange.Client
	orders    *repository.OrderRepository
	positions *repository.PositionRepository
}

func NewService(manager *safety.Manager, executor *Executor, client exchange.Client,
	orders *repository.OrderRepository, positions *repository.PositionRepository) *Service {
	return &Service{
		manager:   manager,
		executor:  executor,
		client:    client,
		orders:    orders,
		positions: positions,
	}
}

// SubmitOrder validates the trade, persists it as pending and hands it to
// the executor. The returned order is the persisted row.
func (s *Service) SubmitOrder(ctx context.Context, req SubmitRequest) (*model.Order, error) {
	if err := validateSubmit(req); err != nil {
		return nil, err
	}

	estPrice := req.Price
	if req.OrderType == model.OrderTypeMarket || !estPrice.IsPositive() {
		last, err := s.client.GetLastPrice(ctx, req.Coin)
		if err != nil {
			logger.WithField("coin", req.Coin).WithError(err).Warn("No live price for pre-trade checks")
		} else {
			estPrice = last
		}
	}

	allowed, reason, err := s.manager.ValidateTrade(ctx, safety.TradeRequest{
		UserID:       req.UserID,
		DeploymentID: req.DeploymentID,
		Coin:         req.Coin,
		Side:         req.Side,
		Quantity:     req.Quantity,
		EstPrice:     estPrice,
	})
	if err != nil {
		return nil, err
	}
	if !allowed {
		return nil, ErrTradeRejected{Reason: reason}
	}

	order := &model.Order{
		ID:           uuid.New().String(),
		UserID:       req.UserID,
		DeploymentID: req.DeploymentID,
		Coin:         req.Coin,
		Side:         req.Side,
		OrderType:    req.OrderType,
		Quantity:     req.Quantity,
		Price:        req.Price,
		Status:       model.OrderStatusPending,
	}
	if err := s.orders.Create(ctx, order); err != nil {
		return nil, err
	}

	if err := s.executor.Submit(order); err != nil {
		// leave the row pending; a retry of Submit can pick it up
		logger.WithField("order", order.ID).WithError(err).Error("Failed to queue order")
		return nil, err
	}
	return order, nil
}

// CancelOrder cancels a pending or submitted order owned by the user.
func (s *Service) CancelOrder(ctx context.Context, userID uint, orderID string) error {
	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return err
	}
	if order == nil || order.UserID != userID {
		return fmt.Errorf("order %s not found", orderID)
	}
	if order.Status != model.OrderStatusPending && order.Status != model.OrderStatusSubmitted {
		return fmt.Errorf("order %s cannot be cancelled in status %s", orderID, order.Status)
	}

	if order.ExchangeOrderID != "" {
		if err := s.client.CancelOrder(ctx, order.ExchangeOrderID); err != nil {
			return err
		}
	}

	if err := s.orders.UpdateStatus(ctx, order.ID, model.OrderStatusCancelled, nil); err != nil {
		return err
	}
	logger.WithFields(map[string]interface{}{
		"order": order.ID,
		"user":  userID,
	}).Info("Order cancelled")
	return nil
}

// GetOrders returns the user's recent orders.
func (s *Service) GetOrders(ctx context.Context, userID uint, limit int) ([]model.Order, error) {
	return s.orders.ListByUser(ctx, userID, limit)
}

// GetPositions returns the user's current holdings.
func (s *Service) GetPositions(ctx context.Context, userID uint) ([]model.Position, error) {
	return s.positions.ListByUser(ctx, userID)
}

func validateSubmit(req SubmitRequest) error {
	if req.Coin == "" {
		return fmt.Errorf("coin is required")
	}
	if req.Side != model.OrderSideBuy && req.Side != model.OrderSideSell {
		return fmt.Errorf("invalid order side %q", req.Side)
	}
	if req.OrderType != model.OrderTypeMarket && req.OrderType != model.OrderTypeLimit {
		return fmt.Errorf("invalid order type %q", req.OrderType)
	}
	if !req.Quantity.IsPositive() {
		return fmt.Errorf("quantity must be positive")
	}
	if req.OrderType == model.OrderTypeLimit && !req.Price.IsPositive() {
		return fmt.Errorf("limit orders need a positive price")
	}
	return nil
}
