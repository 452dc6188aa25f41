package repository

import (
	"context"
	"errors"
	"time"

	logger "github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"ohmycoins/src/database"
	"ohmycoins/src/model"
)

// CollectorRepository handles collector definitions and their run history.
type CollectorRepository struct {
	db *gorm.DB
}

func NewCollectorRepository() *CollectorRepository {
	return &CollectorRepository{db: database.MainDB}
}

// WithDB allows overriding the underlying *gorm.DB instance.
// Useful for tests or when using a specific session/transaction.
func (r *CollectorRepository) WithDB(db *gorm.DB) *CollectorRepository {
	return &CollectorRepository{db: db}
}

func (r *CollectorRepository) Create(ctx context.Context, collector *model.Collector) error {
	logger.WithFields(map[string]interface{}{
		"repo":     "CollectorRepository",
		"op":       "Create",
		"name":     collector.Name,
		"strategy": collector.StrategyKey,
	}).Debug("Creating collector")

	if err := r.db.WithContext(ctx).Create(collector).Error; err != nil {
		logger.WithFields(map[string]interface{}{
			"repo": "CollectorRepository",
			"op":   "Create",
			"name": collector.Name,
		}).WithError(err).Error("Failed to create collector")
		return err
	}

	return nil
}

func (r *CollectorRepository) Update(ctx context.Context, collector *model.Collector) error {
	return r.db.WithContext(ctx).Save(collector).Error
}

func (r *CollectorRepository) Delete(ctx context.Context, id uint) error {
	return r.db.WithContext(ctx).Delete(&model.Collector{}, id).Error
}

// FindByName fetches a collector by its unique name.
// Returns (nil, nil) if the collector is not found.
func (r *CollectorRepository) FindByName(ctx context.Context, name string) (*model.Collector, error) {
	var collector model.Collector

	err := r.db.WithContext(ctx).
		Where("name = ?", name).
		First(&collector).Error

	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}

		logger.WithFields(map[string]interface{}{
			"repo": "CollectorRepository",
			"op":   "FindByName",
			"name": name,
		}).WithError(err).Error("Failed to fetch collector")

		return nil, err
	}

	return &collector, nil
}

// ListActive returns collectors that should be scheduled.
func (r *CollectorRepository) ListActive(ctx context.Context) ([]model.Collector, error) {
	var collectors []model.Collector

	err := r.db.WithContext(ctx).
		Where("is_active = ?", true).
		Order("name ASC").
		Find(&collectors).Error

	if err != nil {
		logger.WithFields(map[string]interface{}{
			"repo": "CollectorRepository",
			"op":   "ListActive",
		}).WithError(err).Error("Failed to list active collectors")
		return nil, err
	}

	return collectors, nil
}

func (r *CollectorRepository) List(ctx context.Context) ([]model.Collector, error) {
	var collectors []model.Collector
	err := r.db.WithContext(ctx).Order("name ASC").Find(&collectors).Error
	return collectors, err
}

// MarkRun updates the collector's last-run bookkeeping after a run completes.
func (r *CollectorRepository) MarkRun(ctx context.Context, collectorID uint, at time.Time, status string) error {
	return r.db.WithContext(ctx).
		Model(&model.Collector{}).
		Where("id = ?", collectorID).
		Updates(map[string]interface{}{
			"last_run_at": at,
			"last_status": status,
		}).Error
}

// ---------------------------------------------------
// CollectorRun methods
// ---------------------------------------------------

// CreateRun writes the run row at start; CompleteRun finishes it.
func (r *CollectorRepository) CreateRun(ctx context.Context, run *model.CollectorRun) error {
	logger.WithFields(map[string]interface{}{
		"repo":      "CollectorRepository",
		"op":        "CreateRun",
		"run_id":    run.ID,
		"collector": run.CollectorName,
	}).Debug("Creating collector run")

	return r.db.WithContext(ctx).Create(run).Error
}

func (r *CollectorRepository) CompleteRun(ctx context.Context, run *model.CollectorRun) error {
	return r.db.WithContext(ctx).
		Model(&model.CollectorRun{}).
		Where("id = ?", run.ID).
		Updates(map[string]interface{}{
			"end_at":            run.EndAt,
			"status":            run.Status,
			"records_collected": run.RecordsCollected,
			"error":             run.Error,
		}).Error
}

// RecentRuns returns the newest runs for one collector, newest first.
func (r *CollectorRepository) RecentRuns(ctx context.Context, collectorName string, limit int) ([]model.CollectorRun, error) {
	if limit <= 0 {
		limit = 20
	}

	var runs []model.CollectorRun

	err := r.db.WithContext(ctx).
		Where("collector_name = ?", collectorName).
		Order("start_at DESC").
		Limit(limit).
		Find(&runs).Error

	if err != nil {
		logger.WithFields(map[string]interface{}{
			"repo":      "CollectorRepository",
			"op":        "RecentRuns",
			"collector": collectorName,
		}).WithError(err).Error("Failed to fetch recent runs")
		return nil, err
	}

	return runs, nil
}
