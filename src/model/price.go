package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// PricePoint is a 5-minute market snapshot for one coin.
// Uniqueness on (coin, timestamp); retrieval is range scans on the same pair.
type PricePoint struct {
	ID        uint            `gorm:"primaryKey" json:"id"`
	Coin      string          `gorm:"size:20;not null;uniqueIndex:idx_price_coin_ts,priority:1;index:idx_price_scan,priority:1" json:"coin"`
	Timestamp time.Time       `gorm:"not null;uniqueIndex:idx_price_coin_ts,priority:2;index:idx_price_scan,priority:2" json:"timestamp"`
	Bid       decimal.Decimal `gorm:"type:numeric(20,8)" json:"bid"`
	Ask       decimal.Decimal `gorm:"type:numeric(20,8)" json:"ask"`
	Last      decimal.Decimal `gorm:"type:numeric(20,8)" json:"last"`
	CreatedAt time.Time       `json:"created_at"`
}

func (PricePoint) TableName() string {
	return "price_points"
}

// OHLCVBar is a candle aggregated by the backfill strategy.
type OHLCVBar struct {
	ID       uint            `gorm:"primaryKey" json:"id"`
	Datetime time.Time       `gorm:"not null;uniqueIndex:idx_ohlcv_dt_symbol,priority:1" json:"datetime"`
	Symbol   string          `gorm:"size:30;not null;uniqueIndex:idx_ohlcv_dt_symbol,priority:2" json:"symbol"`
	Open     decimal.Decimal `gorm:"type:numeric(20,8)" json:"open"`
	High     decimal.Decimal `gorm:"type:numeric(20,8)" json:"high"`
	Low      decimal.Decimal `gorm:"type:numeric(20,8)" json:"low"`
	Close    decimal.Decimal `gorm:"type:numeric(20,8)" json:"close"`
	Volume   decimal.Decimal `gorm:"type:numeric(20,8)" json:"volume"`
}

func (OHLCVBar) TableName() string {
	return "ohlcv_bars"
}
