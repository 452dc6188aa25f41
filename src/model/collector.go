package model

import "time"

const (
	CollectorStatusRunning = "running"
	CollectorStatusSuccess = "success"
	CollectorStatusPartial = "partial"
	CollectorStatusFailed  = "failed"
	CollectorStatusNever   = "never_run"
)

// Collector is a user-configurable runtime record for one data source.
// The strategy key resolves against the registry at schedule time.
type Collector struct {
	ID          uint       `gorm:"primaryKey" json:"id"`
	UserID      uint       `gorm:"index" json:"user_id"`
	Name        string     `gorm:"size:100;uniqueIndex;not null" json:"name"`
	StrategyKey string     `gorm:"size:100;not null" json:"strategy_key"`
	Config      string     `gorm:"type:text" json:"config"` // JSON blob, schema owned by the strategy
	Schedule    string     `gorm:"size:100;not null" json:"schedule"`
	IsActive    bool       `gorm:"default:true" json:"is_active"`
	LastRunAt   *time.Time `json:"last_run_at,omitempty"`
	LastStatus  string     `gorm:"size:50;default:never_run" json:"last_status"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`

	Runs []CollectorRun `gorm:"foreignKey:CollectorID" json:"runs,omitempty"`
}

func (Collector) TableName() string {
	return "collectors"
}

// CollectorRun is written once at run start and completed once at run end.
type CollectorRun struct {
	ID               string     `gorm:"primaryKey;size:36" json:"id"`
	CollectorID      uint       `gorm:"index" json:"collector_id"`
	CollectorName    string     `gorm:"size:100;index" json:"collector_name"`
	StartAt          time.Time  `gorm:"not null" json:"start_at"`
	EndAt            *time.Time `json:"end_at,omitempty"`
	Status           string     `gorm:"size:50;not null" json:"status"`
	RecordsCollected int        `json:"records_collected"`
	Error            string     `gorm:"type:text" json:"error,omitempty"`
	Triggered        bool       `json:"triggered"` // manual trigger vs scheduled firing
}

func (CollectorRun) TableName() string {
	return "collector_runs"
}
