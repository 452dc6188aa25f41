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

// AlgorithmRepository handles algorithm definitions and their deployments.
type AlgorithmRepository struct {
	db *gorm.DB
}

func NewAlgorithmRepository() *AlgorithmRepository {
	return &AlgorithmRepository{db: database.MainDB}
}

func (r *AlgorithmRepository) WithDB(db *gorm.DB) *AlgorithmRepository {
	return &AlgorithmRepository{db: db}
}

// FindAlgorithm returns (nil, nil) when the algorithm does not exist.
func (r *AlgorithmRepository) FindAlgorithm(ctx context.Context, id uint) (*model.Algorithm, error) {
	var algorithm model.Algorithm

	err := r.db.WithContext(ctx).First(&algorithm, id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}

	return &algorithm, nil
}

// FindDeployment returns (nil, nil) when the deployment does not exist.
func (r *AlgorithmRepository) FindDeployment(ctx context.Context, id uint) (*model.DeployedAlgorithm, error) {
	var deployment model.DeployedAlgorithm

	err := r.db.WithContext(ctx).
		Preload("Algorithm").
		First(&deployment, id).Error

	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}

		logger.WithFields(map[string]interface{}{
			"repo": "AlgorithmRepository",
			"op":   "FindDeployment",
			"id":   id,
		}).WithError(err).Error("Failed to fetch deployment")

		return nil, err
	}

	return &deployment, nil
}

func (r *AlgorithmRepository) CreateDeployment(ctx context.Context, deployment *model.DeployedAlgorithm) error {
	return r.db.WithContext(ctx).Create(deployment).Error
}

func (r *AlgorithmRepository) ListActiveDeployments(ctx context.Context) ([]model.DeployedAlgorithm, error) {
	var deployments []model.DeployedAlgorithm

	err := r.db.WithContext(ctx).
		Where("is_active = ?", true).
		Find(&deployments).Error

	return deployments, err
}

func (r *AlgorithmRepository) SetDeploymentActive(ctx context.Context, id uint, active bool) error {
	return r.db.WithContext(ctx).
		Model(&model.DeployedAlgorithm{}).
		Where("id = ?", id).
		Update("is_active", active).Error
}

// MarkExecuted stamps last_executed_at after a successful execution cycle.
func (r *AlgorithmRepository) MarkExecuted(ctx context.Context, id uint, at time.Time) error {
	return r.db.WithContext(ctx).
		Model(&model.DeployedAlgorithm{}).
		Where("id = ?", id).
		Update("last_executed_at", at).Error
}

// AddRealizedPnl folds a realized profit-and-loss delta into the deployment
// and bumps its trade counter.
func (r *AlgorithmRepository) AddRealizedPnl(ctx context.Context, id uint, delta decimal.Decimal) error {
	return r.db.WithContext(ctx).
		Model(&model.DeployedAlgorithm{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"realized_pnl":    gorm.Expr("realized_pnl + ?", delta),
			"trades_executed": gorm.Expr("trades_executed + 1"),
		}).Error
}

// ResetDaily zeroes the accumulated PnL at the daily boundary.
func (r *AlgorithmRepository) ResetDaily(ctx context.Context, id uint, at time.Time) error {
	return r.db.WithContext(ctx).
		Model(&model.DeployedAlgorithm{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"realized_pnl":   decimal.Zero,
			"daily_reset_at": at,
		}).Error
}
