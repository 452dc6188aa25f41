package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	logger "github.com/sirupsen/logrus"

	"ohmycoins/src/algo"
	"ohmycoins/src/collector"
	"ohmycoins/src/collector/strategies"
	"ohmycoins/src/config"
	"ohmycoins/src/database"
	"ohmycoins/src/exchange"
	"ohmycoins/src/kvstore"
	"ohmycoins/src/metrics"
	"ohmycoins/src/quality"
	"ohmycoins/src/repository"
	"ohmycoins/src/safety"
	"ohmycoins/src/scheduler"
	"ohmycoins/src/server"
	"ohmycoins/src/trading"
)

// paperStartingBalance funds the simulated exchange in paper mode.
var paperStartingBalance = decimal.NewFromInt(100000)

// streamCoins are the pairs subscribed on the websocket ticker feed.
var streamCoins = []string{"BTC", "ETH", "XRP", "LTC"}

func SetupLogger() {
	levelStr := strings.ToLower(os.Getenv("LOG_LEVEL"))

	level, err := logger.ParseLevel(levelStr)
	if err != nil {
		level = logger.DebugLevel
	}

	logger.SetLevel(level)
	logger.SetFormatter(&logger.TextFormatter{
		FullTimestamp: true,
	})
}

func main() {
	SetupLogger()
	defer handlePanic()

	cfg := config.GetConfig()
	ctx := context.Background()

	if err := database.InitMainDB(); err != nil {
		logger.WithError(err).Fatal("Failed to connect to database")
	}

	kv := openKV(cfg)

	// repositories share the main connection
	collectors := repository.NewCollectorRepository()
	prices := repository.NewPriceRepository()
	market := repository.NewMarketDataRepository()
	orders := repository.NewOrderRepository()
	positions := repository.NewPositionRepository()
	users := repository.NewUserRepository()
	rules := repository.NewRiskRuleRepository()
	algos := repository.NewAlgorithmRepository()
	audit := repository.NewAuditRepository()

	tracker := metrics.NewTracker()
	promRegistry := prometheus.NewRegistry()
	tracker.RegisterPrometheus(promRegistry)

	// data collection
	registry := collector.NewRegistry()
	strategies.RegisterAll(registry, collector.NewFetcher(0, 0), cfg)

	runner := collector.NewRunner(registry, collectors, prices, market, tracker)
	orchestrator := scheduler.NewOrchestrator(runner, collectors, tracker)
	if err := orchestrator.RegisterActive(ctx); err != nil {
		logger.WithError(err).Fatal("Failed to register active collectors")
	}
	orchestrator.Start()

	// trading
	manager := safety.NewManager(cfg, kv, users, positions, orders, prices, rules, algos, audit, tracker)
	client := openExchange(cfg)

	var stream *exchange.TickerStream
	watcher := safety.NewWatcher(cfg, kv, manager, positions, prices, audit)
	if cfg.ExchangeWSURL != "" {
		stream = exchange.NewTickerStream(cfg.ExchangeWSURL, streamCoins)
		stream.Start()
		watcher.WithStream(stream)
	}
	watcher.Start()

	tradeExecutor := trading.NewExecutor(cfg, client, orders, tracker)
	tradeExecutor.Start()
	tradingService := trading.NewService(manager, tradeExecutor, client, orders, positions)

	// algorithm execution
	algoExecutor := algo.NewExecutor(algos, prices, tradingService)
	algoScheduler := algo.NewScheduler(algoExecutor)
	algoService := algo.NewService(algos, algoExecutor, algoScheduler)
	if err := algoService.RestoreActive(ctx); err != nil {
		logger.WithError(err).Error("Failed to restore deployment schedules")
	}
	algoScheduler.Start()

	monitor := quality.NewMonitor(cfg, market, audit)
	monitor.Start()

	// blocks until SIGINT or SIGTERM
	server.StartServer(cfg.ServerPort, orchestrator, promRegistry)

	// reverse-order shutdown
	monitor.Stop()
	algoScheduler.Stop(cfg.SchedulerGrace)
	tradeExecutor.Stop(cfg.SchedulerGrace)
	watcher.Stop()
	if stream != nil {
		stream.Stop()
	}
	orchestrator.Stop(cfg.SchedulerGrace)
	logger.Info("Shutdown complete")
}

// openKV prefers redis; a dead redis degrades to the in-process store so
// the engine still runs (rate limits and the kill switch then only bind
// this instance).
func openKV(cfg config.Config) kvstore.Store {
	kv, err := kvstore.NewRedisStore(cfg.RedisURL)
	if err != nil {
		logger.WithError(err).Warn("Redis unavailable, using in-memory KV store")
		return kvstore.NewMemoryStore()
	}
	return kv
}

func openExchange(cfg config.Config) exchange.Client {
	if cfg.TradingMode == config.TradingModeLive {
		if cfg.ExchangeAPIKey == "" || cfg.ExchangeAPISecret == "" {
			logger.Fatal("Live trading requires EXCHANGE_API_KEY and EXCHANGE_API_SECRET")
		}
		logger.WithField("base_url", cfg.ExchangeBaseURL).Warn("Live trading mode enabled")
		return exchange.NewLiveClient(cfg.ExchangeAPIKey, cfg.ExchangeAPISecret, cfg.ExchangeBaseURL)
	}

	logger.Info("Paper trading mode enabled")
	return exchange.NewPaperExchange(paperStartingBalance)
}

func handlePanic() {
	if r := recover(); r != nil {
		logger.WithError(fmt.Errorf("%+v", r)).Error("Application panic")
	}
	//nolint
	time.Sleep(time.Second * 5)
}
