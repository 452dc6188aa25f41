package backtest

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/shopspring/decimal"
	logger "github.com/sirupsen/logrus"

	"ohmycoins/src/model"
	"ohmycoins/src/repository"
)

// periodsPerYear annualises 5-minute bars: 288 per day, every day.
const periodsPerYear = 288 * 365

// StrategyFunc maps a bar series to a position series of equal length
// with values in {-1, 0, 1}. Signals act one bar later.
type StrategyFunc func(bars []model.OHLCVBar, params map[string]float64) []int

// Config describes one backtest run.
type Config struct {
	StrategyName   string             `json:"strategy_name"`
	Coin           string             `json:"coin"`
	Start          time.Time          `json:"start"`
	End            time.Time          `json:"end"`
	InitialCapital decimal.Decimal    `json:"initial_capital"`
	FeeRate        float64            `json:"fee_rate"`
	SlippageRate   float64            `json:"slippage_rate"`
	Parameters     map[string]float64 `json:"parameters,omitempty"`
}

// Trade is one round trip from entry to flat (or reversal).
type Trade struct {
	Direction  string          `json:"direction"`
	EntryTime  time.Time       `json:"entry_time"`
	ExitTime   time.Time       `json:"exit_time"`
	EntryPrice decimal.Decimal `json:"entry_price"`
	ExitPrice  decimal.Decimal `json:"exit_price"`
	ReturnPct  float64         `json:"return_pct"`
}

// Report is the backtest result. All metrics are zero when the window
// holds no bars.
type Report struct {
	StrategyName   string          `json:"strategy_name"`
	Coin           string          `json:"coin"`
	Start          time.Time       `json:"start"`
	End            time.Time       `json:"end"`
	Bars           int             `json:"bars"`
	InitialCapital decimal.Decimal `json:"initial_capital"`
	FinalEquity    decimal.Decimal `json:"final_equity"`
	TotalReturn    float64         `json:"total_return"`
	MaxDrawdown    float64         `json:"max_drawdown"`
	Sharpe         float64         `json:"sharpe"`
	WinRate        float64         `json:"win_rate"`
	Trades         []Trade         `json:"trades"`
}

// Runner executes backtests on a bounded worker pool so a burst of
// requests cannot saturate the process.
type Runner struct {
	prices *repository.PriceRepository
	slots  chan struct{}
}

func NewRunner(prices *repository.PriceRepository, workers int) *Runner {
	if workers <= 0 {
		workers = 4
	}
	return &Runner{
		prices: prices,
		slots:  make(chan struct{}, workers),
	}
}

// Run loads the bar window and simulates the strategy over it. A nil
// strategy falls back to the named built-in.
func (r *Runner) Run(ctx context.Context, cfg Config, strategy StrategyFunc) (*Report, error) {
	if cfg.Coin == "" {
		return nil, fmt.Errorf("coin is required")
	}
	if !cfg.End.After(cfg.Start) {
		return nil, fmt.Errorf("end must be after start")
	}
	if !cfg.InitialCapital.IsPositive() {
		return nil, fmt.Errorf("initial capital must be positive")
	}
	if strategy == nil {
		var err error
		strategy, err = builtinStrategy(cfg.StrategyName)
		if err != nil {
			return nil, err
		}
	}

	select {
	case r.slots <- struct{}{}:
		defer func() { <-r.slots }()
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	bars, err := r.prices.BarsRange(ctx, cfg.Coin, cfg.Start, cfg.End)
	if err != nil {
		return nil, err
	}

	report := simulate(cfg, bars, strategy)
	logger.WithFields(map[string]interface{}{
		"strategy": report.StrategyName,
		"coin":     report.Coin,
		"bars":     report.Bars,
		"return":   report.TotalReturn,
		"trades":   len(report.Trades),
	}).Info("Backtest completed")
	return report, nil
}

// simulate walks the close series with one-bar signal lag. Position
// switches pay |change| x (fee + slippage) of the traded notional.
func simulate(cfg Config, bars []model.OHLCVBar, strategy StrategyFunc) *Report {
	report := &Report{
		StrategyName:   cfg.StrategyName,
		Coin:           cfg.Coin,
		Start:          cfg.Start,
		End:            cfg.End,
		Bars:           len(bars),
		InitialCapital: cfg.InitialCapital,
		FinalEquity:    cfg.InitialCapital,
		Trades:         []Trade{},
	}
	if len(bars) < 2 {
		return report
	}

	positions := clampPositions(strategy(bars, cfg.Parameters), len(bars))
	switchCost := cfg.FeeRate + cfg.SlippageRate

	closes := make([]float64, len(bars))
	for i := range bars {
		closes[i], _ = bars[i].Close.Float64()
	}

	equity := 1.0
	peak := 1.0
	maxDrawdown := 0.0
	var periodReturns []float64

	var open *Trade
	prevPos := 0

	for i := 1; i < len(bars); i++ {
		pos := positions[i-1] // lagged: decided on the prior bar
		ret := 0.0
		if closes[i-1] > 0 {
			ret = closes[i]/closes[i-1] - 1
		}

		period := float64(pos) * ret
		if pos != prevPos {
			period -= math.Abs(float64(pos-prevPos)) * switchCost
			open = closeTrade(report, open, bars[i-1], closes[i-1])
			if pos != 0 {
				open = &Trade{
					Direction:  direction(pos),
					EntryTime:  bars[i-1].Datetime,
					EntryPrice: bars[i-1].Close,
				}
			}
		}
		prevPos = pos

		equity *= 1 + period
		periodReturns = append(periodReturns, period)
		if equity > peak {
			peak = equity
		}
		if peak > 0 {
			if dd := 1 - equity/peak; dd > maxDrawdown {
				maxDrawdown = dd
			}
		}
	}
	closeTrade(report, open, bars[len(bars)-1], closes[len(bars)-1])

	report.TotalReturn = equity - 1
	report.MaxDrawdown = maxDrawdown
	report.Sharpe = sharpe(periodReturns)
	report.FinalEquity = cfg.InitialCapital.Mul(decimal.NewFromFloat(equity)).Round(8)
	report.WinRate = winRate(report.Trades)
	return report
}

// closeTrade finishes the open round trip at the given bar, if any.
func closeTrade(report *Report, open *Trade, bar model.OHLCVBar, price float64) *Trade {
	if open == nil {
		return nil
	}
	open.ExitTime = bar.Datetime
	open.ExitPrice = bar.Close

	entry, _ := open.EntryPrice.Float64()
	if entry > 0 {
		open.ReturnPct = price/entry - 1
		if open.Direction == "short" {
			open.ReturnPct = -open.ReturnPct
		}
	}
	report.Trades = append(report.Trades, *open)
	return nil
}

func clampPositions(positions []int, n int) []int {
	out := make([]int, n)
	for i := 0; i < n && i < len(positions); i++ {
		switch {
		case positions[i] > 0:
			out[i] = 1
		case positions[i] < 0:
			out[i] = -1
		}
	}
	return out
}

func direction(pos int) string {
	if pos < 0 {
		return "short"
	}
	return "long"
}

func sharpe(returns []float64) float64 {
	if len(returns) < 2 {
		return 0
	}

	mean := 0.0
	for _, r := range returns {
		mean += r
	}
	mean /= float64(len(returns))

	variance := 0.0
	for _, r := range returns {
		variance += (r - mean) * (r - mean)
	}
	variance /= float64(len(returns) - 1)

	std := math.Sqrt(variance)
	if std == 0 {
		return 0
	}
	return mean / std * math.Sqrt(periodsPerYear)
}

func winRate(trades []Trade) float64 {
	if len(trades) == 0 {
		return 0
	}
	wins := 0
	for _, trade := range trades {
		if trade.ReturnPct > 0 {
			wins++
		}
	}
	return float64(wins) / float64(len(trades))
}
