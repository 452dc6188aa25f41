package backtest

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/shopspring/decimal"
	logger "github.com/sirupsen/logrus"

	"ohmycoins/src/backtest"
	"ohmycoins/src/config"
	"ohmycoins/src/database"
	"ohmycoins/src/repository"
)

// Options are the command-line knobs for one backtest run.
type Options struct {
	Strategy string
	Coin     string
	Start    string
	End      string
	Capital  string
	Fee      float64
	Slippage float64
}

// Run executes the backtest against the stored bars and prints the report
// as JSON on stdout.
func Run(opts Options) error {
	start, err := time.Parse("2006-01-02", opts.Start)
	if err != nil {
		return fmt.Errorf("parse start date: %w", err)
	}
	end, err := time.Parse("2006-01-02", opts.End)
	if err != nil {
		return fmt.Errorf("parse end date: %w", err)
	}

	capital, err := decimal.NewFromString(opts.Capital)
	if err != nil {
		return fmt.Errorf("parse capital: %w", err)
	}

	if err := database.InitMainDB(); err != nil {
		logger.WithError(err).Error("Failed to connect to database")
		return err
	}

	cfg := config.GetConfig()
	runner := backtest.NewRunner(repository.NewPriceRepository(), cfg.BacktestWorkers)

	report, err := runner.Run(context.Background(), backtest.Config{
		StrategyName:   opts.Strategy,
		Coin:           opts.Coin,
		Start:          start,
		End:            end,
		InitialCapital: capital,
		FeeRate:        opts.Fee,
		SlippageRate:   opts.Slippage,
	}, nil)
	if err != nil {
		return err
	}

	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	return encoder.Encode(report)
}
