package database

import (
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"ohmycoins/src/model"
)

// MainDB is the primary read/write database connection used by the engine.
var MainDB *gorm.DB

// SetMainDB overrides the global connection. Used by tests that run against
// an in-memory database.
func SetMainDB(db *gorm.DB) {
	MainDB = db
}

// InitMainDB initializes the main (read/write) database connection and runs
// migrations. Called once at process startup; a failure here is fatal.
func InitMainDB() error {
	config := GetConfig()

	db, err := gorm.Open(postgres.Open(config.DatabaseURLMain),
		&gorm.Config{
			TranslateError: true,
			Logger:         logger.Default.LogMode(logger.LogLevel(config.GormLogLevel)),
		},
	)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("failed to get DB from GORM: %w", err)
	}
	sqlDB.SetMaxOpenConns(config.MaxOpenConns)
	sqlDB.SetMaxIdleConns(config.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(1 * time.Hour)

	// Assign to the global variable only after a successful connection.
	MainDB = db

	logrus.Info("[database] MainDB connection established")

	if err := Migrate(MainDB); err != nil {
		return fmt.Errorf("failed to run migrations on MainDB: %w", err)
	}

	logrus.Info("[database] MainDB migrations completed")

	return nil
}

// Migrate runs AutoMigrate over the engine's schema. Exposed so tests can
// build the same schema against sqlite.
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&model.User{},
		&model.ExchangeCredential{},
		&model.Collector{},
		&model.CollectorRun{},
		&model.PricePoint{},
		&model.OHLCVBar{},
		&model.NewsItem{},
		&model.OnChainMetric{},
		&model.ProtocolFundamental{},
		&model.CatalystEvent{},
		&model.SmartMoneyFlow{},
		&model.Order{},
		&model.Position{},
		&model.Algorithm{},
		&model.DeployedAlgorithm{},
		&model.RiskRule{},
		&model.AuditLog{},
	)
}
