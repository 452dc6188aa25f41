package repository

import (
	"context"
	"encoding/json"

	logger "github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"ohmycoins/src/database"
	"ohmycoins/src/model"
)

// AuditRepository appends audit rows. Rows are never mutated.
type AuditRepository struct {
	db *gorm.DB
}

func NewAuditRepository() *AuditRepository {
	return &AuditRepository{db: database.MainDB}
}

func (r *AuditRepository) WithDB(db *gorm.DB) *AuditRepository {
	return &AuditRepository{db: db}
}

// Append writes one audit row. Details are serialised to JSON; a marshal
// failure degrades to an empty details blob rather than losing the event.
func (r *AuditRepository) Append(ctx context.Context, eventType, severity string, userID *uint, details map[string]interface{}) error {
	blob := "{}"
	if len(details) > 0 {
		if b, err := json.Marshal(details); err == nil {
			blob = string(b)
		} else {
			logger.WithError(err).Warn("Failed to marshal audit details")
		}
	}

	row := model.AuditLog{
		UserID:    userID,
		EventType: eventType,
		Severity:  severity,
		Details:   blob,
	}

	if err := r.db.WithContext(ctx).Create(&row).Error; err != nil {
		logger.WithFields(map[string]interface{}{
			"repo":  "AuditRepository",
			"op":    "Append",
			"event": eventType,
		}).WithError(err).Error("Failed to append audit log")
		return err
	}

	return nil
}

// Recent returns the newest rows, optionally filtered by event type.
func (r *AuditRepository) Recent(ctx context.Context, eventType string, limit int) ([]model.AuditLog, error) {
	if limit <= 0 {
		limit = 50
	}

	query := r.db.WithContext(ctx).Order("id DESC").Limit(limit)
	if eventType != "" {
		query = query.Where("event_type = ?", eventType)
	}

	var rows []model.AuditLog
	err := query.Find(&rows).Error
	return rows, err
}
