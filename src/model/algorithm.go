package model

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	AlgorithmStatusActive   = "active"
	AlgorithmStatusDraft    = "draft"
	AlgorithmStatusArchived = "archived"

	ModelTypeMACrossover = "ma_crossover"
	ModelTypeMomentum    = "momentum"
	ModelTypeArtifact    = "artifact"
)

// Algorithm is the static definition; deployments carry the per-user limits.
type Algorithm struct {
	ID           uint      `gorm:"primaryKey" json:"id"`
	UserID       uint      `gorm:"index" json:"user_id"`
	Name         string    `gorm:"size:200;not null" json:"name"`
	Status       string    `gorm:"size:50;not null;default:draft" json:"status"`
	ModelType    string    `gorm:"size:50;not null" json:"model_type"`
	Parameters   string    `gorm:"type:text" json:"parameters"` // JSON, shape owned by the model type
	ArtifactPath string    `gorm:"size:500" json:"artifact_path,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

func (Algorithm) TableName() string {
	return "algorithms"
}

// DeployedAlgorithm is the scheduling unit: a user-specific activation of an
// algorithm with its own frequency and loss limits.
type DeployedAlgorithm struct {
	ID                 uint            `gorm:"primaryKey" json:"id"`
	UserID             uint            `gorm:"index;not null" json:"user_id"`
	AlgorithmID        uint            `gorm:"index;not null" json:"algorithm_id"`
	IsActive           bool            `gorm:"default:false" json:"is_active"`
	ExecutionFrequency string          `gorm:"size:100;not null" json:"execution_frequency"`
	PositionLimit      decimal.Decimal `gorm:"type:numeric(20,8)" json:"position_limit"`
	DailyLossLimit     decimal.Decimal `gorm:"type:numeric(20,8)" json:"daily_loss_limit"`
	RealizedPnl        decimal.Decimal `gorm:"type:numeric(20,8)" json:"realized_pnl"`
	TradesExecuted     int             `json:"trades_executed"`
	LastExecutedAt     *time.Time      `json:"last_executed_at,omitempty"`
	DailyResetAt       time.Time       `json:"daily_reset_at"`
	CreatedAt          time.Time       `json:"created_at"`
	UpdatedAt          time.Time       `json:"updated_at"`

	Algorithm *Algorithm `gorm:"constraint:OnDelete:CASCADE" json:"algorithm,omitempty"`
}

func (DeployedAlgorithm) TableName() string {
	return "deployed_algorithms"
}
