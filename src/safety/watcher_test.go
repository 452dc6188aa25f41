package safety

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"ohmycoins/src/kvstore"
	"ohmycoins/src/model"
	"ohmycoins/src/repository"
)

func TestWatcherTripsKillSwitchOnDrawdown(t *testing.T) {
	db := newTestDB(t)
	kv := kvstore.NewMemoryStore()
	cfg := testConfig()
	m, audit := newTestManager(t, db, cfg, kv)
	user := seedUser(t, db, false)
	ctx := context.Background()

	w := NewWatcher(cfg, kv, m,
		repository.NewPositionRepository().WithDB(db),
		repository.NewPriceRepository().WithDB(db),
		audit)

	base := time.Now().UTC().Truncate(time.Minute)
	seedPrice(t, db, "BTC", "50000", base)
	seedPosition(t, db, user.ID, "BTC", "1", "50000")

	w.Tick(ctx)

	if m.KillSwitchActive(ctx) {
		t.Fatal("kill switch must stay off at baseline equity")
	}
	baseline, err := kv.Get(ctx, kvstore.KeyInitialEquity)
	if err != nil {
		t.Fatalf("expected baseline to be recorded: %v", err)
	}
	if baseline != "50000" {
		t.Fatalf("unexpected baseline: %s", baseline)
	}

	// a 6% drop breaches the 95% threshold
	seedPrice(t, db, "BTC", "47000", base.Add(time.Minute))
	w.Tick(ctx)

	if !m.KillSwitchActive(ctx) {
		t.Fatal("expected kill switch after drawdown breach")
	}

	rows, err := audit.Recent(ctx, model.AuditEventHardStop, 10)
	if err != nil {
		t.Fatalf("failed to read audit rows: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("expected 1 hard stop audit row, got %d", len(rows))
	}
	if rows[0].Severity != model.AuditSeverityCritical {
		t.Fatalf("expected critical severity, got %s", rows[0].Severity)
	}
}

func TestWatcherKeepsBaselineAcrossRestarts(t *testing.T) {
	db := newTestDB(t)
	kv := kvstore.NewMemoryStore()
	cfg := testConfig()
	m, audit := newTestManager(t, db, cfg, kv)
	user := seedUser(t, db, false)
	ctx := context.Background()

	positions := repository.NewPositionRepository().WithDB(db)
	prices := repository.NewPriceRepository().WithDB(db)

	base := time.Now().UTC().Truncate(time.Minute)
	seedPrice(t, db, "BTC", "50000", base)
	seedPosition(t, db, user.ID, "BTC", "1", "50000")

	w := NewWatcher(cfg, kv, m, positions, prices, audit)
	w.Tick(ctx)

	// equity slides 4%, still above threshold; then the process restarts
	seedPrice(t, db, "BTC", "48000", base.Add(time.Minute))
	restarted := NewWatcher(cfg, kv, m, positions, prices, audit)
	restarted.Tick(ctx)

	baseline, err := kv.Get(ctx, kvstore.KeyInitialEquity)
	if err != nil {
		t.Fatalf("expected baseline to survive: %v", err)
	}
	if baseline != "50000" {
		t.Fatalf("baseline must not re-anchor on restart, got %s", baseline)
	}
	if m.KillSwitchActive(ctx) {
		t.Fatal("4% drawdown must not trip the 5% hard stop")
	}

	// the slide continues past the threshold measured from the original baseline
	seedPrice(t, db, "BTC", "47400", base.Add(2*time.Minute))
	restarted.Tick(ctx)
	if !m.KillSwitchActive(ctx) {
		t.Fatal("expected hard stop measured against the original baseline")
	}
}

func TestWatcherSkipsEmptyBook(t *testing.T) {
	db := newTestDB(t)
	kv := kvstore.NewMemoryStore()
	cfg := testConfig()
	m, audit := newTestManager(t, db, cfg, kv)
	ctx := context.Background()

	w := NewWatcher(cfg, kv, m,
		repository.NewPositionRepository().WithDB(db),
		repository.NewPriceRepository().WithDB(db),
		audit)
	w.Tick(ctx)

	if _, err := kv.Get(ctx, kvstore.KeyInitialEquity); err == nil {
		t.Fatal("no baseline should be recorded for an empty book")
	}
	if m.KillSwitchActive(ctx) {
		t.Fatal("kill switch must stay off for an empty book")
	}
}

type stubPriceSource struct {
	prices map[string]decimal.Decimal
	at     time.Time
}

func (s *stubPriceSource) LastPrice(coin string) (decimal.Decimal, time.Time, bool) {
	p, ok := s.prices[coin]
	return p, s.at, ok
}

func TestWatcherPrefersFreshStreamPrice(t *testing.T) {
	db := newTestDB(t)
	kv := kvstore.NewMemoryStore()
	cfg := testConfig()
	m, audit := newTestManager(t, db, cfg, kv)
	user := seedUser(t, db, false)
	ctx := context.Background()

	base := time.Now().UTC().Truncate(time.Minute)
	seedPrice(t, db, "BTC", "50000", base)
	seedPosition(t, db, user.ID, "BTC", "1", "50000")

	stream := &stubPriceSource{
		prices: map[string]decimal.Decimal{"BTC": dec("50000")},
		at:     time.Now(),
	}
	w := NewWatcher(cfg, kv, m,
		repository.NewPositionRepository().WithDB(db),
		repository.NewPriceRepository().WithDB(db),
		audit).WithStream(stream)

	w.Tick(ctx)
	if m.KillSwitchActive(ctx) {
		t.Fatal("kill switch must stay off at baseline equity")
	}

	// stored price is unchanged; only the stream sees the crash
	stream.prices["BTC"] = dec("47000")
	stream.at = time.Now()
	w.Tick(ctx)
	if !m.KillSwitchActive(ctx) {
		t.Fatal("expected kill switch from stream-priced drawdown")
	}
}

func TestWatcherIgnoresStaleStreamPrice(t *testing.T) {
	db := newTestDB(t)
	kv := kvstore.NewMemoryStore()
	cfg := testConfig()
	m, audit := newTestManager(t, db, cfg, kv)
	user := seedUser(t, db, false)
	ctx := context.Background()

	base := time.Now().UTC().Truncate(time.Minute)
	seedPrice(t, db, "BTC", "50000", base)
	seedPosition(t, db, user.ID, "BTC", "1", "50000")

	// crash reported by a tick that is far too old to trust
	stream := &stubPriceSource{
		prices: map[string]decimal.Decimal{"BTC": dec("40000")},
		at:     time.Now().Add(-10 * time.Minute),
	}
	w := NewWatcher(cfg, kv, m,
		repository.NewPositionRepository().WithDB(db),
		repository.NewPriceRepository().WithDB(db),
		audit).WithStream(stream)

	w.Tick(ctx)
	if m.KillSwitchActive(ctx) {
		t.Fatal("stale stream price must not trip the kill switch")
	}
}
