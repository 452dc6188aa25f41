package model

import "time"

const (
	CredentialStatusUnverified = "unverified"
	CredentialStatusValid      = "valid"
	CredentialStatusInvalid    = "invalid"
)

// User is the minimal shape the engine consumes; the auth layer owns the rest.
type User struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	Username  string    `gorm:"size:100;uniqueIndex;not null" json:"username"`
	IsAdmin   bool      `gorm:"default:false" json:"is_admin"`
	CreatedAt time.Time `json:"created_at"`
}

func (User) TableName() string {
	return "users"
}

// ExchangeCredential stores encrypted API keys produced by the credentials
// collaborator; the engine only decrypts and validates them.
type ExchangeCredential struct {
	ID            uint       `gorm:"primaryKey" json:"id"`
	UserID        uint       `gorm:"uniqueIndex;not null" json:"user_id"`
	APIKeyHash    string     `gorm:"size:500;not null" json:"-"`
	APISecretHash string     `gorm:"size:500;not null" json:"-"`
	Status        string     `gorm:"size:20;not null;default:unverified" json:"status"`
	ValidatedAt   *time.Time `json:"validated_at,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

func (ExchangeCredential) TableName() string {
	return "exchange_credentials"
}
