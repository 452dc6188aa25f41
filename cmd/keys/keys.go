package keys

import (
	"context"
	"fmt"

	logger "github.com/sirupsen/logrus"

	"ohmycoins/src/config"
	"ohmycoins/src/credentials"
	"ohmycoins/src/database"
	"ohmycoins/src/repository"
)

// Store encrypts and saves exchange keys for a user, then probes the
// exchange and prints the verdict.
func Store(userID uint, apiKey, apiSecret string) error {
	if apiKey == "" || apiSecret == "" {
		return fmt.Errorf("api key and secret are required")
	}

	if err := database.InitMainDB(); err != nil {
		logger.WithError(err).Error("Failed to connect to database")
		return err
	}

	service := credentials.NewService(config.GetConfig(), repository.NewUserRepository())
	ctx := context.Background()

	if err := service.Store(ctx, userID, apiKey, apiSecret); err != nil {
		return err
	}

	status, err := service.Validate(ctx, userID)
	if err != nil {
		return err
	}
	fmt.Printf("credentials for user %d: %s\n", userID, status)
	return nil
}

// Validate re-probes already stored keys for a user.
func Validate(userID uint) error {
	if err := database.InitMainDB(); err != nil {
		logger.WithError(err).Error("Failed to connect to database")
		return err
	}

	service := credentials.NewService(config.GetConfig(), repository.NewUserRepository())
	status, err := service.Validate(context.Background(), userID)
	if err != nil {
		return err
	}
	fmt.Printf("credentials for user %d: %s\n", userID, status)
	return nil
}
