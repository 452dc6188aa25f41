package collect

import (
	"context"
	"fmt"

	logger "github.com/sirupsen/logrus"

	"ohmycoins/src/collector"
	"ohmycoins/src/collector/strategies"
	"ohmycoins/src/config"
	"ohmycoins/src/database"
	"ohmycoins/src/metrics"
	"ohmycoins/src/repository"
)

// Run fires a single collector by name, outside the scheduler. Useful for
// smoke-testing a source configuration before activating it.
func Run(name string) error {
	if name == "" {
		return fmt.Errorf("collector name is required")
	}

	if err := database.InitMainDB(); err != nil {
		logger.WithError(err).Error("Failed to connect to database")
		return err
	}

	cfg := config.GetConfig()
	registry := collector.NewRegistry()
	strategies.RegisterAll(registry, collector.NewFetcher(0, 0), cfg)

	collectors := repository.NewCollectorRepository()
	runner := collector.NewRunner(registry, collectors,
		repository.NewPriceRepository(),
		repository.NewMarketDataRepository(),
		metrics.NewTracker())

	ctx := context.Background()
	row, err := collectors.FindByName(ctx, name)
	if err != nil {
		return err
	}
	if row == nil {
		return fmt.Errorf("collector %q is not configured", name)
	}

	return runner.Run(ctx, row, true)
}
