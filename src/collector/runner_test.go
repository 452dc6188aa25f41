package collector

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"ohmycoins/src/database"
	"ohmycoins/src/metrics"
	"ohmycoins/src/model"
	"ohmycoins/src/repository"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open("file::memory:?cache=shared&_pragma=foreign_keys(1)&mode=memory"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
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

func newTestRunner(t *testing.T, db *gorm.DB, registry *Registry) (*Runner, *metrics.Tracker, *repository.CollectorRepository) {
	t.Helper()

	collectors := repository.NewCollectorRepository().WithDB(db)
	tracker := metrics.NewTracker()
	runner := NewRunner(registry,
		collectors,
		repository.NewPriceRepository().WithDB(db),
		repository.NewMarketDataRepository().WithDB(db),
		tracker)
	return runner, tracker, collectors
}

func seedCollector(t *testing.T, db *gorm.DB, name, strategyKey string) *model.Collector {
	t.Helper()

	c := &model.Collector{
		Name:        name,
		StrategyKey: strategyKey,
		Schedule:    "interval(5m)",
		IsActive:    true,
	}
	if err := db.Create(c).Error; err != nil {
		t.Fatalf("failed to seed collector: %v", err)
	}
	return c
}

func TestRunnerHappyPath(t *testing.T) {
	db := newTestDB(t)

	ts := time.Date(2026, 8, 30, 10, 0, 0, 0, time.UTC)
	registry := NewRegistry()
	registry.Register(&stubStrategy{name: "prices", records: []Record{
		&model.PricePoint{Coin: "BTC", Timestamp: ts, Bid: decimal.New(99, 0), Ask: decimal.New(101, 0), Last: decimal.New(100, 0)},
		&model.PricePoint{Coin: "ETH", Timestamp: ts, Bid: decimal.New(9, 0), Ask: decimal.New(11, 0), Last: decimal.New(10, 0)},
	}})
	registry.Freeze()

	runner, tracker, collectors := newTestRunner(t, db, registry)
	c := seedCollector(t, db, "btc-prices", "prices")

	if err := runner.Run(context.Background(), c, false); err != nil {
		t.Fatalf("unexpected run error: %v", err)
	}

	runs, err := collectors.RecentRuns(context.Background(), "btc-prices", 5)
	if err != nil {
		t.Fatalf("failed to list runs: %v", err)
	}
	if len(runs) != 1 {
		t.Fatalf("expected 1 run row, got %d", len(runs))
	}
	if runs[0].Status != model.CollectorStatusSuccess {
		t.Fatalf("expected success status, got %s", runs[0].Status)
	}
	if runs[0].RecordsCollected != 2 {
		t.Fatalf("expected 2 records collected, got %d", runs[0].RecordsCollected)
	}
	if runs[0].EndAt == nil {
		t.Fatal("expected run end timestamp to be set")
	}

	var count int64
	if err := db.Model(&model.PricePoint{}).Count(&count).Error; err != nil {
		t.Fatalf("failed to count price points: %v", err)
	}
	if count != 2 {
		t.Fatalf("expected 2 stored price points, got %d", count)
	}

	stats := tracker.Snapshot("btc-prices")
	if stats.TotalRuns != 1 || stats.SuccessfulRuns != 1 {
		t.Fatalf("unexpected tracker stats: %+v", stats)
	}

	updated, err := collectors.FindByName(context.Background(), "btc-prices")
	if err != nil {
		t.Fatalf("failed to reload collector: %v", err)
	}
	if updated.LastStatus != model.CollectorStatusSuccess {
		t.Fatalf("expected collector last_status success, got %s", updated.LastStatus)
	}
	if updated.LastRunAt == nil {
		t.Fatal("expected collector last_run_at to be set")
	}
}

func TestRunnerRecordsFailure(t *testing.T) {
	db := newTestDB(t)

	registry := NewRegistry()
	registry.Register(&stubStrategy{name: "broken", err: errors.New("upstream returned 429")})
	registry.Freeze()

	runner, tracker, collectors := newTestRunner(t, db, registry)
	c := seedCollector(t, db, "broken-feed", "broken")

	if err := runner.Run(context.Background(), c, false); err == nil {
		t.Fatal("expected run error")
	}

	runs, err := collectors.RecentRuns(context.Background(), "broken-feed", 5)
	if err != nil {
		t.Fatalf("failed to list runs: %v", err)
	}
	if len(runs) != 1 || runs[0].Status != model.CollectorStatusFailed {
		t.Fatalf("expected one failed run, got %+v", runs)
	}
	if runs[0].Error == "" {
		t.Fatal("expected run error message to be recorded")
	}

	stats := tracker.Snapshot("broken-feed")
	if stats.FailedRuns != 1 {
		t.Fatalf("expected 1 failed run in tracker, got %+v", stats)
	}
	if stats.LastError == "" {
		t.Fatal("expected tracker to record last error")
	}
}

func TestRunnerUnknownStrategy(t *testing.T) {
	db := newTestDB(t)

	registry := NewRegistry()
	registry.Freeze()

	runner, _, collectors := newTestRunner(t, db, registry)
	c := seedCollector(t, db, "orphan", "does-not-exist")

	if err := runner.Run(context.Background(), c, true); err == nil {
		t.Fatal("expected error for unknown strategy key")
	}

	runs, err := collectors.RecentRuns(context.Background(), "orphan", 5)
	if err != nil {
		t.Fatalf("failed to list runs: %v", err)
	}
	if len(runs) != 1 || runs[0].Status != model.CollectorStatusFailed {
		t.Fatalf("expected one failed run, got %+v", runs)
	}
	if !runs[0].Triggered {
		t.Fatal("expected manual trigger flag on run row")
	}
}

func TestRunnerDisabledStrategyCollectsNothing(t *testing.T) {
	db := newTestDB(t)

	registry := NewRegistry()
	registry.Register(&stubStrategy{name: "disabled", records: nil})
	registry.Freeze()

	runner, tracker, collectors := newTestRunner(t, db, registry)
	c := seedCollector(t, db, "keyless", "disabled")

	if err := runner.Run(context.Background(), c, false); err != nil {
		t.Fatalf("unexpected run error: %v", err)
	}

	runs, err := collectors.RecentRuns(context.Background(), "keyless", 5)
	if err != nil {
		t.Fatalf("failed to list runs: %v", err)
	}
	if len(runs) != 1 || runs[0].Status != model.CollectorStatusSuccess {
		t.Fatalf("expected one successful empty run, got %+v", runs)
	}
	if runs[0].RecordsCollected != 0 {
		t.Fatalf("expected 0 records, got %d", runs[0].RecordsCollected)
	}

	stats := tracker.Snapshot("keyless")
	if stats.SuccessfulRuns != 1 || stats.TotalRecordsCollected != 0 {
		t.Fatalf("unexpected tracker stats: %+v", stats)
	}
}
