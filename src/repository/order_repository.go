package repository

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
	logger "github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"ohmycoins/src/database"
	"ohmycoins/src/model"
)

// OrderRepository handles read/write operations for orders. Fills run in a
// single transaction with the position update so the two can never diverge.
type OrderRepository struct {
	db *gorm.DB
}

func NewOrderRepository() *OrderRepository {
	return &OrderRepository{db: database.MainDB}
}

// WithDB allows overriding the underlying *gorm.DB instance.
// Useful for tests or when using a specific session/transaction.
func (r *OrderRepository) WithDB(db *gorm.DB) *OrderRepository {
	return &OrderRepository{db: db}
}

func (r *OrderRepository) Create(ctx context.Context, order *model.Order) error {
	logger.WithFields(map[string]interface{}{
		"repo": "OrderRepository",
		"op":   "Create",
		"coin": order.Coin,
		"side": order.Side,
		"qty":  order.Quantity,
	}).Debug("Creating new order")

	if err := r.db.WithContext(ctx).Create(order).Error; err != nil {
		logger.WithFields(map[string]interface{}{
			"repo": "OrderRepository",
			"op":   "Create",
		}).WithError(err).Error("Failed to create order")
		return err
	}

	return nil
}

// FindByID fetches a single order by its primary ID.
// Returns (nil, nil) if the order is not found.
func (r *OrderRepository) FindByID(ctx context.Context, id string) (*model.Order, error) {
	var order model.Order

	err := r.db.WithContext(ctx).
		Where("id = ?", id).
		First(&order).Error

	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}

		logger.WithFields(map[string]interface{}{
			"repo": "OrderRepository",
			"op":   "FindByID",
			"id":   id,
		}).WithError(err).Error("Failed to fetch order by ID")

		return nil, err
	}

	return &order, nil
}

// ListByUser returns a user's orders, newest first.
func (r *OrderRepository) ListByUser(ctx context.Context, userID uint, limit int) ([]model.Order, error) {
	if limit <= 0 {
		limit = 50
	}

	var orders []model.Order

	err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC, id DESC").
		Limit(limit).
		Find(&orders).Error

	return orders, err
}

// CountOpenByUser counts non-terminal orders for a user.
func (r *OrderRepository) CountOpenByUser(ctx context.Context, userID uint) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&model.Order{}).
		Where("user_id = ? AND status IN ?", userID,
			[]string{model.OrderStatusPending, model.OrderStatusSubmitted}).
		Count(&count).Error
	return count, err
}

// UpdateStatus persists a status transition before the next one is attempted.
func (r *OrderRepository) UpdateStatus(ctx context.Context, id, status string, fields map[string]interface{}) error {
	logger.WithFields(map[string]interface{}{
		"repo":   "OrderRepository",
		"op":     "UpdateStatus",
		"id":     id,
		"status": status,
	}).Debug("Updating order status")

	updates := map[string]interface{}{"status": status}
	for k, v := range fields {
		updates[k] = v
	}

	err := r.db.WithContext(ctx).
		Model(&model.Order{}).
		Where("id = ?", id).
		Updates(updates).Error

	if err != nil {
		logger.WithFields(map[string]interface{}{
			"repo":   "OrderRepository",
			"op":     "UpdateStatus",
			"id":     id,
			"status": status,
		}).WithError(err).Error("Failed to update order status")
		return err
	}

	return nil
}

// CompleteFill marks the order filled (or partial) and applies the fill to
// the user's position inside one transaction.
func (r *OrderRepository) CompleteFill(ctx context.Context, order *model.Order, filledQty, fillPrice decimal.Decimal, exchangeOrderID string) error {
	status := model.OrderStatusFilled
	if filledQty.LessThan(order.Quantity) {
		status = model.OrderStatusPartial
	}

	now := time.Now().UTC()

	logger.WithFields(map[string]interface{}{
		"repo":   "OrderRepository",
		"op":     "CompleteFill",
		"id":     order.ID,
		"status": status,
		"filled": filledQty,
		"price":  fillPrice,
	}).Info("Completing order fill")

	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&model.Order{}).
			Where("id = ?", order.ID).
			Updates(map[string]interface{}{
				"status":            status,
				"filled_quantity":   filledQty,
				"price":             fillPrice,
				"exchange_order_id": exchangeOrderID,
				"executed_at":       now,
			}).Error; err != nil {
			return err
		}

		realized, err := applyFill(tx, order.UserID, order.Coin, order.Side, filledQty, fillPrice)
		if err != nil {
			return err
		}

		if order.DeploymentID != nil {
			algos := NewAlgorithmRepository().WithDB(tx)
			if err := algos.AddRealizedPnl(ctx, *order.DeploymentID, realized); err != nil {
				return err
			}
		}

		order.Status = status
		order.FilledQuantity = filledQty
		order.Price = fillPrice
		order.ExchangeOrderID = exchangeOrderID
		order.ExecutedAt = &now
		return nil
	})
}
