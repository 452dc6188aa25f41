package scheduler

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"ohmycoins/src/collector"
	"ohmycoins/src/database"
	"ohmycoins/src/metrics"
	"ohmycoins/src/model"
	"ohmycoins/src/repository"
)

type noopStrategy struct {
	name string
}

func (s *noopStrategy) Name() string                    { return s.name }
func (s *noopStrategy) Description() string             { return "noop" }
func (s *noopStrategy) ConfigSchema() map[string]string { return nil }

func (s *noopStrategy) ValidateConfig(cfg collector.Config) error { return nil }

func (s *noopStrategy) TestConnection(ctx context.Context, cfg collector.Config) error { return nil }

func (s *noopStrategy) Collect(ctx context.Context, cfg collector.Config) ([]collector.Record, error) {
	return nil, nil
}

func newTestOrchestrator(t *testing.T) (*Orchestrator, *metrics.Tracker, *repository.CollectorRepository, *gorm.DB) {
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

	registry := collector.NewRegistry()
	registry.Register(&noopStrategy{name: "noop"})
	registry.Freeze()

	collectors := repository.NewCollectorRepository().WithDB(db)
	tracker := metrics.NewTracker()
	runner := collector.NewRunner(registry, collectors,
		repository.NewPriceRepository().WithDB(db),
		repository.NewMarketDataRepository().WithDB(db),
		tracker)

	return NewOrchestrator(runner, collectors, tracker), tracker, collectors, db
}

func TestRegisterReplacesExistingJob(t *testing.T) {
	o, _, _, _ := newTestOrchestrator(t)

	if err := o.Register("feed", "interval(5m)"); err != nil {
		t.Fatalf("unexpected register error: %v", err)
	}
	if err := o.Register("feed", "interval(10m)"); err != nil {
		t.Fatalf("unexpected re-register error: %v", err)
	}

	all := o.StatusAll()
	if len(all) != 1 {
		t.Fatalf("expected 1 job after replace, got %d", len(all))
	}
	if all[0].Schedule != "interval(10m)" {
		t.Fatalf("expected replaced schedule, got %s", all[0].Schedule)
	}
}

func TestRegisterRejectsBadSchedule(t *testing.T) {
	o, _, _, _ := newTestOrchestrator(t)

	if err := o.Register("feed", "whenever"); err == nil {
		t.Fatal("expected schedule parse error")
	}
}

func TestTriggerNowRunsCollector(t *testing.T) {
	o, tracker, collectors, db := newTestOrchestrator(t)

	c := &model.Collector{Name: "feed", StrategyKey: "noop", Schedule: "interval(1h)", IsActive: true}
	if err := db.Create(c).Error; err != nil {
		t.Fatalf("failed to seed collector: %v", err)
	}

	if err := o.Register("feed", c.Schedule); err != nil {
		t.Fatalf("unexpected register error: %v", err)
	}
	o.Start()
	defer o.Stop(time.Second)

	if !o.TriggerNow("feed") {
		t.Fatal("expected trigger to be accepted")
	}

	deadline := time.Now().Add(3 * time.Second)
	for tracker.Snapshot("feed").TotalRuns == 0 {
		if time.Now().After(deadline) {
			t.Fatal("triggered run never executed")
		}
		time.Sleep(10 * time.Millisecond)
	}

	runs, err := collectors.RecentRuns(context.Background(), "feed", 5)
	if err != nil {
		t.Fatalf("failed to list runs: %v", err)
	}
	if len(runs) != 1 {
		t.Fatalf("expected 1 run, got %d", len(runs))
	}
	if !runs[0].Triggered {
		t.Fatal("manual trigger must be flagged on the run row")
	}
}

func TestTriggerNowUnknownCollector(t *testing.T) {
	o, _, _, _ := newTestOrchestrator(t)

	if o.TriggerNow("ghost") {
		t.Fatal("expected trigger rejection for unknown collector")
	}
}

func TestStatusUnknownCollector(t *testing.T) {
	o, _, _, _ := newTestOrchestrator(t)

	if _, err := o.Status("ghost"); err == nil {
		t.Fatal("expected error for unknown collector")
	}
}

func TestHealthAggregatesWorstState(t *testing.T) {
	o, tracker, _, _ := newTestOrchestrator(t)

	for _, name := range []string{"good", "shaky", "fresh"} {
		if err := o.Register(name, "interval(5m)"); err != nil {
			t.Fatalf("unexpected register error: %v", err)
		}
	}

	for i := 0; i < 19; i++ {
		tracker.RecordRun("good", true, 1, time.Millisecond, nil)
	}
	tracker.RecordRun("good", false, 0, time.Millisecond, nil)

	for i := 0; i < 8; i++ {
		tracker.RecordRun("shaky", true, 1, time.Millisecond, nil)
	}
	tracker.RecordRun("shaky", false, 0, time.Millisecond, nil)
	tracker.RecordRun("shaky", false, 0, time.Millisecond, nil)

	report := o.Health()

	if report.ByCollector["good"].State != HealthHealthy {
		t.Fatalf("expected good healthy, got %s", report.ByCollector["good"].State)
	}
	if report.ByCollector["shaky"].State != HealthDegraded {
		t.Fatalf("expected shaky degraded, got %s", report.ByCollector["shaky"].State)
	}
	if report.ByCollector["fresh"].State != HealthFailing {
		t.Fatalf("expected never-run collector failing, got %s", report.ByCollector["fresh"].State)
	}
	if report.Overall != HealthFailing {
		t.Fatalf("expected overall failing, got %s", report.Overall)
	}
}

func TestSkippedFiringIsCounted(t *testing.T) {
	o, _, _, _ := newTestOrchestrator(t)

	if err := o.Register("feed", "interval(1h)"); err != nil {
		t.Fatalf("unexpected register error: %v", err)
	}

	o.mu.Lock()
	j := o.jobs["feed"]
	o.mu.Unlock()

	atomic.StoreInt32(j.running, 1)
	o.execute(j, false)

	status, err := o.Status("feed")
	if err != nil {
		t.Fatalf("unexpected status error: %v", err)
	}
	if status.Skipped != 1 {
		t.Fatalf("expected 1 skipped firing, got %d", status.Skipped)
	}
}

func TestReplacementJobSharesInFlightGuard(t *testing.T) {
	o, _, _, _ := newTestOrchestrator(t)

	if err := o.Register("feed", "interval(1h)"); err != nil {
		t.Fatalf("unexpected register error: %v", err)
	}

	o.mu.Lock()
	displaced := o.jobs["feed"]
	o.mu.Unlock()

	// a run is still in flight on the loop about to be replaced
	atomic.StoreInt32(displaced.running, 1)

	if err := o.Register("feed", "interval(30m)"); err != nil {
		t.Fatalf("unexpected register error: %v", err)
	}

	o.mu.Lock()
	replacement := o.jobs["feed"]
	o.mu.Unlock()

	o.execute(replacement, false)

	status, err := o.Status("feed")
	if err != nil {
		t.Fatalf("unexpected status error: %v", err)
	}
	if status.Skipped != 1 {
		t.Fatalf("replacement must not overlap the in-flight run, got %d skips", status.Skipped)
	}

	atomic.StoreInt32(displaced.running, 0)
	o.execute(replacement, false)

	status, err = o.Status("feed")
	if err != nil {
		t.Fatalf("unexpected status error: %v", err)
	}
	if status.Skipped != 1 {
		t.Fatalf("replacement must run once the old loop drains, got %d skips", status.Skipped)
	}
}
