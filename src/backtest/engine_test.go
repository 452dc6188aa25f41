package backtest

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"ohmycoins/src/database"
	"ohmycoins/src/model"
	"ohmycoins/src/repository"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open("file::memory:?cache=shared&_pragma=foreign_keys(1)&mode=memory"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		t.Fatalf("failed to open in-memory database: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("failed to get sql.DB: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })

	if err := database.Migrate(db); err != nil {
		t.Fatalf("failed to migrate schema: %v", err)
	}
	return db
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

var windowStart = time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)

func seedBars(t *testing.T, db *gorm.DB, symbol string, closes ...string) {
	t.Helper()

	for i, c := range closes {
		price := dec(c)
		bar := &model.OHLCVBar{
			Datetime: windowStart.Add(time.Duration(i) * 5 * time.Minute),
			Symbol:   symbol,
			Open:     price, High: price, Low: price, Close: price,
			Volume: dec("10"),
		}
		if err := db.Create(bar).Error; err != nil {
			t.Fatalf("failed to seed bar: %v", err)
		}
	}
}

func testCfg(coin, strategy string) Config {
	return Config{
		StrategyName:   strategy,
		Coin:           coin,
		Start:          windowStart,
		End:            windowStart.Add(24 * time.Hour),
		InitialCapital: dec("1000"),
	}
}

func approx(t *testing.T, got, want, tol float64, label string) {
	t.Helper()
	if math.Abs(got-want) > tol {
		t.Fatalf("%s: got %f want %f", label, got, want)
	}
}

func TestBacktestEmptyWindow(t *testing.T) {
	db := newTestDB(t)
	runner := NewRunner(repository.NewPriceRepository().WithDB(db), 2)

	report, err := runner.Run(context.Background(), testCfg("BTC", "buy_and_hold"), nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if report.Bars != 0 {
		t.Fatalf("expected 0 bars, got %d", report.Bars)
	}
	if report.TotalReturn != 0 || report.MaxDrawdown != 0 || report.Sharpe != 0 || report.WinRate != 0 {
		t.Fatalf("expected all-zero metrics, got %+v", report)
	}
	if len(report.Trades) != 0 {
		t.Fatalf("expected no trades, got %d", len(report.Trades))
	}
	if !report.FinalEquity.Equal(dec("1000")) {
		t.Fatalf("expected untouched capital, got %s", report.FinalEquity)
	}
}

func TestBacktestFlatSeries(t *testing.T) {
	db := newTestDB(t)
	seedBars(t, db, "BTC", "100", "100", "100", "100", "100", "100")
	runner := NewRunner(repository.NewPriceRepository().WithDB(db), 2)

	report, err := runner.Run(context.Background(), testCfg("BTC", "ma_crossover"), nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if report.Bars != 6 {
		t.Fatalf("expected 6 bars, got %d", report.Bars)
	}
	if report.TotalReturn != 0 {
		t.Fatalf("flat series must return 0, got %f", report.TotalReturn)
	}
	if report.Sharpe != 0 {
		t.Fatalf("flat series Sharpe must be 0, got %f", report.Sharpe)
	}
	if len(report.Trades) != 0 {
		t.Fatalf("flat series must produce no trades, got %d", len(report.Trades))
	}
}

func TestBacktestBuyAndHoldUptrend(t *testing.T) {
	db := newTestDB(t)
	seedBars(t, db, "BTC", "100", "110", "121")
	runner := NewRunner(repository.NewPriceRepository().WithDB(db), 2)

	report, err := runner.Run(context.Background(), testCfg("BTC", "buy_and_hold"), nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	approx(t, report.TotalReturn, 0.21, 1e-9, "total return")
	if !report.FinalEquity.Equal(dec("1210")) {
		t.Fatalf("expected final equity 1210, got %s", report.FinalEquity)
	}
	if report.MaxDrawdown != 0 {
		t.Fatalf("monotonic rise has no drawdown, got %f", report.MaxDrawdown)
	}
	if len(report.Trades) != 1 {
		t.Fatalf("expected one round trip, got %d", len(report.Trades))
	}
	approx(t, report.Trades[0].ReturnPct, 0.21, 1e-9, "trade return")
	if report.WinRate != 1 {
		t.Fatalf("expected win rate 1, got %f", report.WinRate)
	}
}

func TestBacktestSwitchCosts(t *testing.T) {
	db := newTestDB(t)
	seedBars(t, db, "BTC", "100", "110", "121")
	runner := NewRunner(repository.NewPriceRepository().WithDB(db), 2)

	cfg := testCfg("BTC", "buy_and_hold")
	cfg.FeeRate = 0.001
	cfg.SlippageRate = 0.001

	report, err := runner.Run(context.Background(), cfg, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// entering the long costs 0.2% on the first period
	want := (1+0.10-0.002)*(1+0.10) - 1
	approx(t, report.TotalReturn, want, 1e-9, "total return after costs")
}

func TestBacktestSignalLag(t *testing.T) {
	db := newTestDB(t)
	// the last bar doubles; a strategy long only on that bar earns nothing
	seedBars(t, db, "BTC", "100", "100", "200")
	runner := NewRunner(repository.NewPriceRepository().WithDB(db), 2)

	lastBarOnly := func(bars []model.OHLCVBar, params map[string]float64) []int {
		positions := make([]int, len(bars))
		positions[len(bars)-1] = 1
		return positions
	}

	report, err := runner.Run(context.Background(), testCfg("BTC", "custom"), lastBarOnly)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if report.TotalReturn != 0 {
		t.Fatalf("lagged signal must not capture the same bar's move, got %f", report.TotalReturn)
	}
}

func TestBacktestShortCapturesDrop(t *testing.T) {
	db := newTestDB(t)
	seedBars(t, db, "BTC", "100", "100", "80")
	runner := NewRunner(repository.NewPriceRepository().WithDB(db), 2)

	alwaysShort := func(bars []model.OHLCVBar, params map[string]float64) []int {
		positions := make([]int, len(bars))
		for i := range positions {
			positions[i] = -1
		}
		return positions
	}

	report, err := runner.Run(context.Background(), testCfg("BTC", "custom"), alwaysShort)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	approx(t, report.TotalReturn, 0.20, 1e-9, "short return")
	if len(report.Trades) != 1 || report.Trades[0].Direction != "short" {
		t.Fatalf("expected one short round trip, got %+v", report.Trades)
	}
	approx(t, report.Trades[0].ReturnPct, 0.20, 1e-9, "short trade return")
}

func TestBacktestConfigValidation(t *testing.T) {
	db := newTestDB(t)
	runner := NewRunner(repository.NewPriceRepository().WithDB(db), 2)
	ctx := context.Background()

	bad := []Config{
		{Coin: "", Start: windowStart, End: windowStart.Add(time.Hour), InitialCapital: dec("1000")},
		{Coin: "BTC", Start: windowStart, End: windowStart, InitialCapital: dec("1000")},
		{Coin: "BTC", Start: windowStart, End: windowStart.Add(time.Hour), InitialCapital: dec("0")},
		{Coin: "BTC", Start: windowStart, End: windowStart.Add(time.Hour), InitialCapital: dec("1000"), StrategyName: "nope"},
	}
	for i, cfg := range bad {
		if _, err := runner.Run(ctx, cfg, nil); err == nil {
			t.Fatalf("case %d: expected error", i)
		}
	}
}

func TestMomentumStrategyPositions(t *testing.T) {
	bars := make([]model.OHLCVBar, 0, 4)
	for _, c := range []string{"100", "100", "100", "110"} {
		bars = append(bars, model.OHLCVBar{Close: dec(c)})
	}

	positions := MomentumStrategy(bars, map[string]float64{"lookback": 2, "threshold": 0.05})
	want := []int{0, 0, 0, 1}
	for i := range want {
		if positions[i] != want[i] {
			t.Fatalf("position %d: got %d want %d", i, positions[i], want[i])
		}
	}
}
