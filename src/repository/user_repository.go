package repository

import (
	"context"
	"errors"
	"time"

	logger "github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"ohmycoins/src/database"
	"ohmycoins/src/model"
)

// UserRepository handles users and their exchange credentials.
type UserRepository struct {
	db *gorm.DB
}

func NewUserRepository() *UserRepository {
	return &UserRepository{db: database.MainDB}
}

// WithDB allows overriding the underlying *gorm.DB instance.
// Useful for tests or when using a specific session/transaction.
func (r *UserRepository) WithDB(db *gorm.DB) *UserRepository {
	return &UserRepository{db: db}
}

// FindByID returns (nil, nil) when the user does not exist.
func (r *UserRepository) FindByID(ctx context.Context, id uint) (*model.User, error) {
	var user model.User

	err := r.db.WithContext(ctx).First(&user, id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		logger.WithFields(map[string]interface{}{
			"repo":    "UserRepository",
			"op":      "FindByID",
			"user_id": id,
		}).WithError(err).Error("Failed to find user")
		return nil, err
	}

	return &user, nil
}

func (r *UserRepository) Create(ctx context.Context, user *model.User) error {
	return r.db.WithContext(ctx).Create(user).Error
}

// FindCredential returns (nil, nil) when the user has no stored credential.
func (r *UserRepository) FindCredential(ctx context.Context, userID uint) (*model.ExchangeCredential, error) {
	var cred model.ExchangeCredential

	err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		First(&cred).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}

	return &cred, nil
}

func (r *UserRepository) SaveCredential(ctx context.Context, cred *model.ExchangeCredential) error {
	return r.db.WithContext(ctx).Save(cred).Error
}

// UpdateCredentialStatus records a validation verdict and when it was made.
func (r *UserRepository) UpdateCredentialStatus(ctx context.Context, id uint, status string, validatedAt time.Time) error {
	return r.db.WithContext(ctx).
		Model(&model.ExchangeCredential{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":       status,
			"validated_at": validatedAt,
		}).Error
}
