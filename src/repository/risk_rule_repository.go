package repository

import (
	"context"

	"gorm.io/gorm"

	"ohmycoins/src/database"
	"ohmycoins/src/model"
)

type RiskRuleRepository struct {
	db *gorm.DB
}

func NewRiskRuleRepository() *RiskRuleRepository {
	return &RiskRuleRepository{db: database.MainDB}
}

func (r *RiskRuleRepository) WithDB(db *gorm.DB) *RiskRuleRepository {
	return &RiskRuleRepository{db: db}
}

// ListEnabledForUser returns the user's rules plus global-scope rules.
func (r *RiskRuleRepository) ListEnabledForUser(ctx context.Context, userID uint) ([]model.RiskRule, error) {
	var rules []model.RiskRule

	err := r.db.WithContext(ctx).
		Where("enabled = ? AND (user_id = ? OR scope = ?)", true, userID, model.RiskScopeGlobal).
		Order("id ASC").
		Find(&rules).Error

	return rules, err
}
