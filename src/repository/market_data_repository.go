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

// MarketDataRepository handles the per-source typed tables. Every insert is
// idempotent against the table's dedup key; constraint hits are skips, not
// errors, and the returned count reflects rows actually stored.
type MarketDataRepository struct {
	db *gorm.DB
}

func NewMarketDataRepository() *MarketDataRepository {
	return &MarketDataRepository{db: database.MainDB}
}

func (r *MarketDataRepository) WithDB(db *gorm.DB) *MarketDataRepository {
	return &MarketDataRepository{db: db}
}

func (r *MarketDataRepository) insert(ctx context.Context, op string, conflictCols []clause.Column, rows interface{}, n int) (int, error) {
	if n == 0 {
		return 0, nil
	}

	result := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: conflictCols, DoNothing: true}).
		Create(rows)

	if result.Error != nil {
		logger.WithFields(map[string]interface{}{
			"repo": "MarketDataRepository",
			"op":   op,
			"rows": n,
		}).WithError(result.Error).Error("Failed to insert rows")
		return 0, result.Error
	}

	return int(result.RowsAffected), nil
}

func (r *MarketDataRepository) InsertNews(ctx context.Context, items []model.NewsItem) (int, error) {
	return r.insert(ctx, "InsertNews",
		[]clause.Column{{Name: "url"}}, &items, len(items))
}

func (r *MarketDataRepository) InsertOnChain(ctx context.Context, metrics []model.OnChainMetric) (int, error) {
	return r.insert(ctx, "InsertOnChain",
		[]clause.Column{{Name: "asset"}, {Name: "metric_name"}, {Name: "collected_at"}}, &metrics, len(metrics))
}

func (r *MarketDataRepository) InsertProtocols(ctx context.Context, rows []model.ProtocolFundamental) (int, error) {
	return r.insert(ctx, "InsertProtocols",
		[]clause.Column{{Name: "protocol"}, {Name: "collected_on"}}, &rows, len(rows))
}

func (r *MarketDataRepository) InsertCatalysts(ctx context.Context, events []model.CatalystEvent) (int, error) {
	return r.insert(ctx, "InsertCatalysts",
		[]clause.Column{{Name: "coin"}, {Name: "title"}, {Name: "event_at"}}, &events, len(events))
}

func (r *MarketDataRepository) InsertFlows(ctx context.Context, flows []model.SmartMoneyFlow) (int, error) {
	return r.insert(ctx, "InsertFlows",
		[]clause.Column{{Name: "tx_hash"}}, &flows, len(flows))
}

// ---------------------------------------------------
// Quality-monitor queries
// ---------------------------------------------------

// TableCount returns the row count of one of the collected tables.
func (r *MarketDataRepository) TableCount(ctx context.Context, tableModel interface{}) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(tableModel).Count(&count).Error
	return count, err
}

// NewestTimestamp returns the most recent value of the given timestamp
// column. Returns (nil, nil) for an empty table.
func (r *MarketDataRepository) NewestTimestamp(ctx context.Context, tableModel interface{}, column string) (*time.Time, error) {
	var newest time.Time

	err := r.db.WithContext(ctx).
		Model(tableModel).
		Select(column).
		Order(column + " DESC").
		Limit(1).
		Scan(&newest).Error

	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}

	if newest.IsZero() {
		return nil, nil
	}

	return &newest, nil
}

// InvalidPriceCount counts 5-minute rows violating ask >= bid.
func (r *MarketDataRepository) InvalidPriceCount(ctx context.Context) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&model.PricePoint{}).
		Where("ask < bid").
		Count(&count).Error
	return count, err
}

// NegativeValueCount counts on-chain metrics with values below zero.
func (r *MarketDataRepository) NegativeValueCount(ctx context.Context) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&model.OnChainMetric{}).
		Where("value < 0").
		Count(&count).Error
	return count, err
}
