package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Position is a derived aggregate per (user, coin), exclusively written by
// the order executor. Invariant: total_cost == quantity * average_price,
// recomputed on every update. A position with quantity <= 0 is deleted.
type Position struct {
	ID           uint            `gorm:"primaryKey" json:"id"`
	UserID       uint            `gorm:"not null;uniqueIndex:idx_position_user_coin,priority:1" json:"user_id"`
	Coin         string          `gorm:"size:20;not null;uniqueIndex:idx_position_user_coin,priority:2" json:"coin"`
	Quantity     decimal.Decimal `gorm:"type:numeric(20,8)" json:"quantity"`
	AveragePrice decimal.Decimal `gorm:"type:numeric(20,8)" json:"average_price"`
	TotalCost    decimal.Decimal `gorm:"type:numeric(20,8)" json:"total_cost"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

func (Position) TableName() string {
	return "positions"
}

// MarketValue prices the position at the given last price.
func (p *Position) MarketValue(last decimal.Decimal) decimal.Decimal {
	return p.Quantity.Mul(last)
}
