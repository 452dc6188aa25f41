package model

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	OrderSideBuy  = "buy"
	OrderSideSell = "sell"

	OrderTypeMarket = "market"
	OrderTypeLimit  = "limit"

	OrderStatusPending   = "pending"
	OrderStatusSubmitted = "submitted"
	OrderStatusPartial   = "partial"
	OrderStatusFilled    = "filled"
	OrderStatusCancelled = "cancelled"
	OrderStatusFailed    = "failed"
)

// Order is owned by a user and, once submitted, exclusively managed by the
// order-executor loop until it reaches a terminal state.
type Order struct {
	ID              string          `gorm:"primaryKey;size:36" json:"id"`
	UserID          uint            `gorm:"index;not null" json:"user_id"`
	DeploymentID    *uint           `gorm:"index" json:"deployment_id,omitempty"`
	Coin            string          `gorm:"size:20;not null" json:"coin"`
	Side            string          `gorm:"size:10;not null" json:"side"`
	OrderType       string          `gorm:"size:10;not null" json:"order_type"`
	Quantity        decimal.Decimal `gorm:"type:numeric(20,8)" json:"quantity"`
	Price           decimal.Decimal `gorm:"type:numeric(20,8)" json:"price"`
	FilledQuantity  decimal.Decimal `gorm:"type:numeric(20,8)" json:"filled_quantity"`
	Status          string          `gorm:"size:50;not null;default:pending;index" json:"status"`
	ExchangeOrderID string          `gorm:"size:100" json:"exchange_order_id,omitempty"`
	Error           string          `gorm:"type:text" json:"error,omitempty"`
	SubmittedAt     *time.Time      `json:"submitted_at,omitempty"`
	ExecutedAt      *time.Time      `json:"executed_at,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

func (Order) TableName() string {
	return "orders"
}

// Terminal reports whether the order can no longer change state. A partial
// fill is terminal for re-submission: the unfilled remainder needs a fresh
// order, re-running this one would double-apply the position.
func (o *Order) Terminal() bool {
	switch o.Status {
	case OrderStatusFilled, OrderStatusPartial, OrderStatusCancelled, OrderStatusFailed:
		return true
	}
	return false
}
