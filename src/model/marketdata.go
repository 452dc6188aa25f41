package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// NewsItem deduplicates on URL.
type NewsItem struct {
	ID          uint            `gorm:"primaryKey" json:"id"`
	URL         string          `gorm:"size:500;uniqueIndex;not null" json:"url"`
	Source      string          `gorm:"size:100;index" json:"source"`
	Title       string          `gorm:"size:500" json:"title"`
	Summary     string          `gorm:"type:text" json:"summary,omitempty"`
	Sentiment   decimal.Decimal `gorm:"type:numeric(20,8)" json:"sentiment"`
	PublishedAt time.Time       `json:"published_at"`
	CollectedAt time.Time       `gorm:"index" json:"collected_at"`
}

func (NewsItem) TableName() string {
	return "news_items"
}

// OnChainMetric deduplicates on (asset, metric_name, collected_at).
type OnChainMetric struct {
	ID          uint            `gorm:"primaryKey" json:"id"`
	Asset       string          `gorm:"size:20;not null;uniqueIndex:idx_onchain_key,priority:1" json:"asset"`
	MetricName  string          `gorm:"size:100;not null;uniqueIndex:idx_onchain_key,priority:2" json:"metric_name"`
	Value       decimal.Decimal `gorm:"type:numeric(20,8)" json:"value"`
	CollectedAt time.Time       `gorm:"not null;uniqueIndex:idx_onchain_key,priority:3" json:"collected_at"`
}

func (OnChainMetric) TableName() string {
	return "onchain_metrics"
}

// ProtocolFundamental deduplicates on (protocol, collected_on date).
type ProtocolFundamental struct {
	ID          uint            `gorm:"primaryKey" json:"id"`
	Protocol    string          `gorm:"size:100;not null;uniqueIndex:idx_protocol_day,priority:1" json:"protocol"`
	Chain       string          `gorm:"size:50" json:"chain"`
	TVL         decimal.Decimal `gorm:"type:numeric(20,8);column:tvl" json:"tvl"`
	Fees24h     decimal.Decimal `gorm:"type:numeric(20,8)" json:"fees_24h"`
	Revenue24h  decimal.Decimal `gorm:"type:numeric(20,8)" json:"revenue_24h"`
	CollectedOn time.Time       `gorm:"type:date;not null;uniqueIndex:idx_protocol_day,priority:2" json:"collected_on"`
	CollectedAt time.Time       `json:"collected_at"`
}

func (ProtocolFundamental) TableName() string {
	return "protocol_fundamentals"
}

// CatalystEvent is a scheduled event expected to move a coin.
// Synthetic rows come from the simulated calendar and are flagged as such.
type CatalystEvent struct {
	ID          uint      `gorm:"primaryKey" json:"id"`
	Coin        string    `gorm:"size:20;not null;uniqueIndex:idx_catalyst_key,priority:1" json:"coin"`
	Title       string    `gorm:"size:300;not null;uniqueIndex:idx_catalyst_key,priority:2" json:"title"`
	Category    string    `gorm:"size:50" json:"category"`
	EventAt     time.Time `gorm:"not null;uniqueIndex:idx_catalyst_key,priority:3" json:"event_at"`
	Synthetic   bool      `gorm:"default:false" json:"synthetic"`
	CollectedAt time.Time `json:"collected_at"`
}

func (CatalystEvent) TableName() string {
	return "catalyst_events"
}

// SmartMoneyFlow deduplicates on transaction hash.
type SmartMoneyFlow struct {
	ID          uint            `gorm:"primaryKey" json:"id"`
	Address     string          `gorm:"size:100;index" json:"address"`
	Asset       string          `gorm:"size:20;index" json:"asset"`
	Direction   string          `gorm:"size:10" json:"direction"` // in, out
	Amount      decimal.Decimal `gorm:"type:numeric(20,8)" json:"amount"`
	TxHash      string          `gorm:"size:100;uniqueIndex;not null" json:"tx_hash"`
	CollectedAt time.Time       `json:"collected_at"`
}

func (SmartMoneyFlow) TableName() string {
	return "smart_money_flows"
}
