package model

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	RiskScopeUser   = "user"
	RiskScopeGlobal = "global"

	RiskKindMaxOrderValue   = "max_order_value"
	RiskKindMaxOpenOrders   = "max_open_orders"
	RiskKindMaxPositionSize = "max_position_size"

	RiskActionReject = "reject"
	RiskActionWarn   = "warn"
)

// RiskRule is an administrator-defined guard consulted by the safety manager.
type RiskRule struct {
	ID        uint            `gorm:"primaryKey" json:"id"`
	UserID    *uint           `gorm:"index" json:"user_id,omitempty"` // nil for global scope
	Scope     string          `gorm:"size:20;not null" json:"scope"`
	Kind      string          `gorm:"size:50;not null" json:"kind"`
	Threshold decimal.Decimal `gorm:"type:numeric(20,8)" json:"threshold"`
	Action    string          `gorm:"size:20;not null;default:reject" json:"action"`
	Enabled   bool            `gorm:"default:true" json:"enabled"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

func (RiskRule) TableName() string {
	return "risk_rules"
}
