package repository

import (
	"context"
	"errors"
	"time"

	logger "github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"ohmycoins/src/database"
	"ohmycoins/src/model"
)

// PriceRepository handles the 5-minute price table and OHLCV bars.
type PriceRepository struct {
	db *gorm.DB
}

func NewPriceRepository() *PriceRepository {
	return &PriceRepository{db: database.MainDB}
}

func (r *PriceRepository) WithDB(db *gorm.DB) *PriceRepository {
	return &PriceRepository{db: db}
}

// InsertPrices bulk-inserts price points, silently skipping rows that hit
// the (coin, timestamp) unique index. Returns the number of rows stored.
func (r *PriceRepository) InsertPrices(ctx context.Context, points []model.PricePoint) (int, error) {
	if len(points) == 0 {
		return 0, nil
	}

	result := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "coin"}, {Name: "timestamp"}},
			DoNothing: true,
		}).
		Create(&points)

	if result.Error != nil {
		logger.WithFields(map[string]interface{}{
			"repo": "PriceRepository",
			"op":   "InsertPrices",
			"rows": len(points),
		}).WithError(result.Error).Error("Failed to insert price points")
		return 0, result.Error
	}

	return int(result.RowsAffected), nil
}

// Latest returns the most recent price point for a coin.
// Returns (nil, nil) when the coin has no history.
func (r *PriceRepository) Latest(ctx context.Context, coin string) (*model.PricePoint, error) {
	var point model.PricePoint

	err := r.db.WithContext(ctx).
		Where("coin = ?", coin).
		Order("timestamp DESC").
		First(&point).Error

	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}

	return &point, nil
}

// Range returns price points for a coin ordered by timestamp ascending.
func (r *PriceRepository) Range(ctx context.Context, coin string, from, to time.Time) ([]model.PricePoint, error) {
	var points []model.PricePoint

	err := r.db.WithContext(ctx).
		Where("coin = ? AND timestamp >= ? AND timestamp <= ?", coin, from, to).
		Order("timestamp ASC").
		Find(&points).Error

	if err != nil {
		logger.WithFields(map[string]interface{}{
			"repo": "PriceRepository",
			"op":   "Range",
			"coin": coin,
		}).WithError(err).Error("Failed to fetch price range")
		return nil, err
	}

	return points, nil
}

// LatestPerCoin returns the newest price point for each coin that has one.
func (r *PriceRepository) LatestPerCoin(ctx context.Context) (map[string]model.PricePoint, error) {
	var coins []string
	if err := r.db.WithContext(ctx).
		Model(&model.PricePoint{}).
		Distinct("coin").
		Pluck("coin", &coins).Error; err != nil {
		return nil, err
	}

	latest := make(map[string]model.PricePoint, len(coins))
	for _, coin := range coins {
		point, err := r.Latest(ctx, coin)
		if err != nil {
			return nil, err
		}
		if point != nil {
			latest[coin] = *point
		}
	}

	return latest, nil
}

// UpsertBars writes OHLCV bars, updating the measured columns on conflict
// with the (datetime, symbol) composite index.
func (r *PriceRepository) UpsertBars(ctx context.Context, bars []model.OHLCVBar) (int, error) {
	if len(bars) == 0 {
		return 0, nil
	}

	result := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "datetime"}, {Name: "symbol"}},
			DoUpdates: clause.AssignmentColumns([]string{"open", "high", "low", "close", "volume"}),
		}).
		Create(&bars)

	if result.Error != nil {
		logger.WithFields(map[string]interface{}{
			"repo": "PriceRepository",
			"op":   "UpsertBars",
			"rows": len(bars),
		}).WithError(result.Error).Error("Failed to upsert OHLCV bars")
		return 0, result.Error
	}

	return int(result.RowsAffected), nil
}

// BarsRange returns the symbol's 5-minute bars inside [from, to], oldest
// first.
func (r *PriceRepository) BarsRange(ctx context.Context, symbol string, from, to time.Time) ([]model.OHLCVBar, error) {
	var bars []model.OHLCVBar

	err := r.db.WithContext(ctx).
		Where("symbol = ? AND datetime >= ? AND datetime <= ?", symbol, from, to).
		Order("datetime ASC").
		Find(&bars).Error

	if err != nil {
		logger.WithFields(map[string]interface{}{
			"repo":   "PriceRepository",
			"op":     "BarsRange",
			"symbol": symbol,
		}).WithError(err).Error("Failed to fetch bar range")
		return nil, err
	}

	return bars, nil
}
