package credentials

import (
	"context"
	"fmt"
	"time"

	logger "github.com/sirupsen/logrus"

	"ohmycoins/src/config"
	"ohmycoins/src/exchange"
	"ohmycoins/src/model"
	"ohmycoins/src/repository"
	"ohmycoins/src/security"
)

// clientFactory builds the exchange client used for the probe. Swappable
// so tests can point it at a local server.
type clientFactory func(apiKey, apiSecret, baseURL string) exchange.Client

// Service validates stored exchange credentials by probing the live API
// with the decrypted keys.
type Service struct {
	cfg       config.Config
	users     *repository.UserRepository
	newClient clientFactory
}

func NewService(cfg config.Config, users *repository.UserRepository) *Service {
	return &Service{
		cfg:   cfg,
		users: users,
		newClient: func(apiKey, apiSecret, baseURL string) exchange.Client {
			return exchange.NewLiveClient(apiKey, apiSecret, baseURL)
		},
	}
}

// WithClientFactory overrides how probe clients are built.
func (s *Service) WithClientFactory(factory clientFactory) *Service {
	s.newClient = factory
	return s
}

// Store encrypts and saves a user's exchange keys, resetting the status
// to unverified until the next validation.
func (s *Service) Store(ctx context.Context, userID uint, apiKey, apiSecret string) error {
	encKey, err := security.EncryptString(apiKey)
	if err != nil {
		return err
	}
	encSecret, err := security.EncryptString(apiSecret)
	if err != nil {
		return err
	}

	cred, err := s.users.FindCredential(ctx, userID)
	if err != nil {
		return err
	}
	if cred == nil {
		cred = &model.ExchangeCredential{UserID: userID}
	}
	cred.APIKeyHash = encKey
	cred.APISecretHash = encSecret
	cred.Status = model.CredentialStatusUnverified
	cred.ValidatedAt = nil

	if err := s.users.SaveCredential(ctx, cred); err != nil {
		return err
	}
	logger.WithField("user", userID).Info("Exchange credentials stored")
	return nil
}

// Validate decrypts the stored keys, probes the exchange and persists the
// verdict. The returned status is valid or invalid.
func (s *Service) Validate(ctx context.Context, userID uint) (string, error) {
	cred, err := s.users.FindCredential(ctx, userID)
	if err != nil {
		return "", err
	}
	if cred == nil {
		return "", fmt.Errorf("user %d has no stored credentials", userID)
	}

	apiKey, err := security.DecryptString(cred.APIKeyHash)
	if err != nil {
		return "", fmt.Errorf("decrypt api key: %w", err)
	}
	apiSecret, err := security.DecryptString(cred.APISecretHash)
	if err != nil {
		return "", fmt.Errorf("decrypt api secret: %w", err)
	}

	status := model.CredentialStatusValid
	client := s.newClient(apiKey, apiSecret, s.cfg.ExchangeBaseURL)
	if probeErr := client.TestConnection(ctx); probeErr != nil {
		status = model.CredentialStatusInvalid
		logger.WithField("user", userID).WithError(probeErr).Warn("Credential probe failed")
	}

	if err := s.users.UpdateCredentialStatus(ctx, cred.ID, status, time.Now().UTC()); err != nil {
		return "", err
	}
	logger.WithFields(map[string]interface{}{
		"user":   userID,
		"status": status,
	}).Info("Exchange credentials validated")
	return status, nil
}
