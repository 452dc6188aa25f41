package repository

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"
	logger "github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"ohmycoins/src/database"
	"ohmycoins/src/model"
)

// PositionRepository reads the derived position aggregate. Writes go through
// applyFill, which only the order executor's fill transaction reaches.
type PositionRepository struct {
	db *gorm.DB
}

func NewPositionRepository() *PositionRepository {
	return &PositionRepository{db: database.MainDB}
}

func (r *PositionRepository) WithDB(db *gorm.DB) *PositionRepository {
	return &PositionRepository{db: db}
}

// FindByUserAndCoin returns (nil, nil) when the user holds no position.
func (r *PositionRepository) FindByUserAndCoin(ctx context.Context, userID uint, coin string) (*model.Position, error) {
	var position model.Position

	err := r.db.WithContext(ctx).
		Where("user_id = ? AND coin = ?", userID, coin).
		First(&position).Error

	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}

	return &position, nil
}

func (r *PositionRepository) ListByUser(ctx context.Context, userID uint) ([]model.Position, error) {
	var positions []model.Position

	err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("coin ASC").
		Find(&positions).Error

	if err != nil {
		logger.WithFields(map[string]interface{}{
			"repo":    "PositionRepository",
			"op":      "ListByUser",
			"user_id": userID,
		}).WithError(err).Error("Failed to list positions")
		return nil, err
	}

	return positions, nil
}

func (r *PositionRepository) ListAll(ctx context.Context) ([]model.Position, error) {
	var positions []model.Position
	err := r.db.WithContext(ctx).Find(&positions).Error
	return positions, err
}

// applyFill folds one fill into the (user, coin) position and returns the
// realized PnL delta the fill produced.
//
// Buy: weighted-average entry; total_cost accumulates cost of the new lot;
// realizes nothing.
// Sell: realizes (price - average_price) * matched quantity; the position is
// deleted at quantity <= 0, otherwise total_cost is recomputed from the
// unchanged average price.
// A sell with no matching position is executed upstream but only logged
// here; with no cost basis nothing is realized.
func applyFill(tx *gorm.DB, userID uint, coin, side string, qty, price decimal.Decimal) (decimal.Decimal, error) {
	var position model.Position

	err := tx.Where("user_id = ? AND coin = ?", userID, coin).First(&position).Error
	notFound := errors.Is(err, gorm.ErrRecordNotFound)
	if err != nil && !notFound {
		return decimal.Zero, err
	}

	switch side {
	case model.OrderSideBuy:
		if notFound {
			return decimal.Zero, tx.Create(&model.Position{
				UserID:       userID,
				Coin:         coin,
				Quantity:     qty,
				AveragePrice: price,
				TotalCost:    qty.Mul(price),
			}).Error
		}

		newQty := position.Quantity.Add(qty)
		newCost := position.TotalCost.Add(qty.Mul(price))

		return decimal.Zero, tx.Model(&position).Updates(map[string]interface{}{
			"quantity":      newQty,
			"total_cost":    newCost,
			"average_price": newCost.Div(newQty),
		}).Error

	case model.OrderSideSell:
		if notFound {
			logger.WithFields(map[string]interface{}{
				"repo": "PositionRepository",
				"op":   "applyFill",
				"user": userID,
				"coin": coin,
			}).Warn("Sell fill with no matching position; inconsistency recorded")
			return decimal.Zero, nil
		}

		matched := qty
		if matched.GreaterThan(position.Quantity) {
			matched = position.Quantity
		}
		realized := price.Sub(position.AveragePrice).Mul(matched)

		newQty := position.Quantity.Sub(qty)
		if newQty.LessThanOrEqual(decimal.Zero) {
			return realized, tx.Delete(&position).Error
		}

		return realized, tx.Model(&position).Updates(map[string]interface{}{
			"quantity":   newQty,
			"total_cost": newQty.Mul(position.AveragePrice),
		}).Error

	default:
		return decimal.Zero, errors.New("unknown order side: " + side)
	}
}
