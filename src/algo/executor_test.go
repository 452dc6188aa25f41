package algo

import (
	"context"
	"testing"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"ohmycoins/src/config"
	"ohmycoins/src/database"
	"ohmycoins/src/exchange"
	"ohmycoins/src/kvstore"
	"ohmycoins/src/metrics"
	"ohmycoins/src/model"
	"ohmycoins/src/repository"
	"ohmycoins/src/safety"
	"ohmycoins/src/trading"
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

type algoHarness struct {
	db       *gorm.DB
	algos    *repository.AlgorithmRepository
	orders   *repository.OrderRepository
	executor *Executor
	manager  *safety.Manager
	user     *model.User
}

func newAlgoHarness(t *testing.T) *algoHarness {
	t.Helper()

	db := newTestDB(t)
	cfg := config.Config{
		RateLimitPerMinute: 1000,
		RateLimitPerHour:   10000,
		RateLimitAdminMult: 1,
		MaxPositionPct:     1.0,
		OrderQueueSize:     16,
		OrderMaxRetries:    1,
	}
	kv := kvstore.NewMemoryStore()
	tracker := metrics.NewTracker()

	algos := repository.NewAlgorithmRepository().WithDB(db)
	orders := repository.NewOrderRepository().WithDB(db)
	positions := repository.NewPositionRepository().WithDB(db)
	prices := repository.NewPriceRepository().WithDB(db)

	manager := safety.NewManager(cfg, kv,
		repository.NewUserRepository().WithDB(db),
		positions,
		orders,
		prices,
		repository.NewRiskRuleRepository().WithDB(db),
		algos,
		repository.NewAuditRepository().WithDB(db),
		tracker)

	paper := exchange.NewPaperExchange(dec("1000000"))
	paper.SetPrice("BTC", dec("110"))

	tradeExecutor := trading.NewExecutor(cfg, paper, orders, tracker)
	tradeService := trading.NewService(manager, tradeExecutor, paper, orders, positions)

	user := &model.User{Username: "algo-" + t.Name()}
	if err := db.Create(user).Error; err != nil {
		t.Fatalf("failed to seed user: %v", err)
	}

	return &algoHarness{
		db:       db,
		algos:    algos,
		orders:   orders,
		executor: NewExecutor(algos, prices, tradeService),
		manager:  manager,
		user:     user,
	}
}

// seedRisingPrices writes a 10% climb ending now so a momentum model with
// threshold 0.05 fires a buy.
func seedRisingPrices(t *testing.T, db *gorm.DB) {
	t.Helper()

	now := time.Now().UTC()
	for i, price := range []string{"100", "103", "106", "110"} {
		p := &model.PricePoint{
			Coin:      "BTC",
			Timestamp: now.Add(time.Duration(i-3) * 4 * time.Minute),
			Bid:       dec(price), Ask: dec(price), Last: dec(price),
		}
		if err := db.Create(p).Error; err != nil {
			t.Fatalf("failed to seed price: %v", err)
		}
	}
}

func seedDeployment(t *testing.T, h *algoHarness, status string, active bool) *model.DeployedAlgorithm {
	t.Helper()

	algorithm := &model.Algorithm{
		UserID:     h.user.ID,
		Name:       "momentum-" + t.Name(),
		Status:     status,
		ModelType:  model.ModelTypeMomentum,
		Parameters: `{"coin":"BTC","quantity":"0.1","lookback":3,"threshold":0.05}`,
	}
	if err := h.db.Create(algorithm).Error; err != nil {
		t.Fatalf("failed to seed algorithm: %v", err)
	}

	deployment := &model.DeployedAlgorithm{
		UserID:             h.user.ID,
		AlgorithmID:        algorithm.ID,
		IsActive:           active,
		ExecutionFrequency: "interval(5m)",
		DailyResetAt:       time.Now().UTC(),
	}
	if err := h.db.Create(deployment).Error; err != nil {
		t.Fatalf("failed to seed deployment: %v", err)
	}
	return deployment
}

func TestExecuteDryRunReturnsSignalsWithoutOrders(t *testing.T) {
	h := newAlgoHarness(t)
	seedRisingPrices(t, h.db)
	deployment := seedDeployment(t, h, model.AlgorithmStatusActive, true)
	ctx := context.Background()

	signals, err := h.executor.Execute(ctx, deployment.ID, true)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(signals) != 1 || signals[0].Action != ActionBuy {
		t.Fatalf("expected one buy signal, got %+v", signals)
	}

	orders, err := h.orders.ListByUser(ctx, h.user.ID, 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(orders) != 0 {
		t.Fatalf("dry run must not create orders, got %d", len(orders))
	}

	fresh, _ := h.algos.FindDeployment(ctx, deployment.ID)
	if fresh.LastExecutedAt != nil {
		t.Fatal("dry run must not stamp last_executed_at")
	}
}

func TestExecuteCreatesOrderAndStamps(t *testing.T) {
	h := newAlgoHarness(t)
	seedRisingPrices(t, h.db)
	deployment := seedDeployment(t, h, model.AlgorithmStatusActive, true)
	ctx := context.Background()

	signals, err := h.executor.Execute(ctx, deployment.ID, false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(signals) != 1 || signals[0].Action != ActionBuy {
		t.Fatalf("expected one buy signal, got %+v", signals)
	}

	orders, err := h.orders.ListByUser(ctx, h.user.ID, 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(orders) != 1 {
		t.Fatalf("expected one order, got %d", len(orders))
	}
	if orders[0].DeploymentID == nil || *orders[0].DeploymentID != deployment.ID {
		t.Fatal("order must carry the deployment id")
	}
	if !orders[0].Quantity.Equal(dec("0.1")) {
		t.Fatalf("expected quantity 0.1, got %s", orders[0].Quantity)
	}

	fresh, _ := h.algos.FindDeployment(ctx, deployment.ID)
	if fresh.LastExecutedAt == nil {
		t.Fatal("expected last_executed_at stamp")
	}
}

func TestExecuteSkipsInactiveDeployment(t *testing.T) {
	h := newAlgoHarness(t)
	seedRisingPrices(t, h.db)
	deployment := seedDeployment(t, h, model.AlgorithmStatusActive, false)

	signals, err := h.executor.Execute(context.Background(), deployment.ID, false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if signals != nil {
		t.Fatalf("inactive deployment must be skipped, got %+v", signals)
	}
}

func TestExecuteRejectsArchivedAlgorithm(t *testing.T) {
	h := newAlgoHarness(t)
	seedRisingPrices(t, h.db)
	deployment := seedDeployment(t, h, model.AlgorithmStatusArchived, true)

	if _, err := h.executor.Execute(context.Background(), deployment.ID, false); err == nil {
		t.Fatal("expected error for archived algorithm")
	}
}

func TestExecuteContinuesPastSafetyRejection(t *testing.T) {
	h := newAlgoHarness(t)
	seedRisingPrices(t, h.db)
	deployment := seedDeployment(t, h, model.AlgorithmStatusActive, true)
	ctx := context.Background()

	if err := h.manager.SetKillSwitch(ctx, true, "drill", nil); err != nil {
		t.Fatalf("failed to set kill switch: %v", err)
	}

	signals, err := h.executor.Execute(ctx, deployment.ID, false)
	if err != nil {
		t.Fatalf("rejected signal must not fail the cycle: %v", err)
	}
	if len(signals) != 1 {
		t.Fatalf("expected signal to still be produced, got %+v", signals)
	}

	orders, _ := h.orders.ListByUser(ctx, h.user.ID, 10)
	if len(orders) != 0 {
		t.Fatalf("rejected signal must not create orders, got %d", len(orders))
	}
	fresh, _ := h.algos.FindDeployment(ctx, deployment.ID)
	if fresh.LastExecutedAt == nil {
		t.Fatal("cycle completed, expected last_executed_at stamp")
	}
}

func TestExecuteCapsQuantityAtPositionLimit(t *testing.T) {
	h := newAlgoHarness(t)
	seedRisingPrices(t, h.db)
	deployment := seedDeployment(t, h, model.AlgorithmStatusActive, true)
	ctx := context.Background()

	if err := h.db.Model(&model.DeployedAlgorithm{}).
		Where("id = ?", deployment.ID).
		Update("position_limit", dec("0.05")).Error; err != nil {
		t.Fatalf("failed to set position limit: %v", err)
	}

	if _, err := h.executor.Execute(ctx, deployment.ID, false); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	orders, _ := h.orders.ListByUser(ctx, h.user.ID, 10)
	if len(orders) != 1 {
		t.Fatalf("expected one order, got %d", len(orders))
	}
	if !orders[0].Quantity.Equal(dec("0.05")) {
		t.Fatalf("expected quantity capped at 0.05, got %s", orders[0].Quantity)
	}
}
