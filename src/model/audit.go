package model

import "time"

const (
	AuditSeverityInfo     = "info"
	AuditSeverityWarning  = "warning"
	AuditSeverityCritical = "critical"

	AuditEventKillSwitch      = "kill_switch"
	AuditEventHardStop        = "hard_stop"
	AuditEventSafetyRejection = "safety_rejection"
	AuditEventRateLimitOpen   = "rate_limit_fail_open"
	AuditEventQualityAlert    = "data_quality_alert"
	AuditEventPositionAnomaly = "position_anomaly"
)

// AuditLog rows are append-only and never mutated.
type AuditLog struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	UserID    *uint     `gorm:"index" json:"user_id,omitempty"`
	EventType string    `gorm:"size:100;not null;index" json:"event_type"`
	Severity  string    `gorm:"size:20;not null;default:info" json:"severity"`
	Details   string    `gorm:"type:text" json:"details"` // JSON blob
	CreatedAt time.Time `json:"created_at"`
}

func (AuditLog) TableName() string {
	return "audit_logs"
}
