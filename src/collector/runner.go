package collector

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	logger "github.com/sirupsen/logrus"

	"ohmycoins/src/metrics"
	"ohmycoins/src/model"
	"ohmycoins/src/repository"
)

// Runner executes a single collector run end to end: collect, validate,
// store, then persist the run outcome. Manual triggers and scheduled
// firings both come through here.
type Runner struct {
	registry   *Registry
	collectors *repository.CollectorRepository
	prices     *repository.PriceRepository
	market     *repository.MarketDataRepository
	tracker    *metrics.Tracker
}

func NewRunner(registry *Registry, collectors *repository.CollectorRepository,
	prices *repository.PriceRepository, market *repository.MarketDataRepository,
	tracker *metrics.Tracker) *Runner {
	return &Runner{
		registry:   registry,
		collectors: collectors,
		prices:     prices,
		market:     market,
		tracker:    tracker,
	}
}

// Run executes one run for the given collector row. triggered marks a
// manual one-shot as opposed to a scheduled firing. The returned error is
// also recorded on the run row; callers log it but must not crash on it.
func (r *Runner) Run(ctx context.Context, c *model.Collector, triggered bool) error {
	start := time.Now().UTC()

	run := &model.CollectorRun{
		ID:            uuid.New().String(),
		CollectorID:   c.ID,
		CollectorName: c.Name,
		StartAt:       start,
		Status:        model.CollectorStatusRunning,
		Triggered:     triggered,
	}
	if err := r.collectors.CreateRun(ctx, run); err != nil {
		return fmt.Errorf("create run row: %w", err)
	}

	stored, runErr := r.execute(ctx, c)

	end := time.Now().UTC()
	run.EndAt = &end
	run.RecordsCollected = stored

	switch {
	case runErr == nil:
		run.Status = model.CollectorStatusSuccess
	case stored > 0:
		run.Status = model.CollectorStatusPartial
		run.Error = runErr.Error()
	default:
		run.Status = model.CollectorStatusFailed
		run.Error = runErr.Error()
	}

	if err := r.collectors.CompleteRun(ctx, run); err != nil {
		logger.WithField("collector", c.Name).WithError(err).Error("Failed to complete run row")
	}
	if err := r.collectors.MarkRun(ctx, c.ID, end, run.Status); err != nil {
		logger.WithField("collector", c.Name).WithError(err).Error("Failed to mark collector run")
	}

	r.tracker.RecordRun(c.Name, runErr == nil, stored, end.Sub(start), runErr)

	log := logger.WithFields(map[string]interface{}{
		"collector": c.Name,
		"run_id":    run.ID,
		"status":    run.Status,
		"records":   stored,
		"elapsed":   end.Sub(start).String(),
	})
	if runErr != nil {
		log.WithError(runErr).Warn("Collector run did not complete cleanly")
		return runErr
	}
	log.Info("Collector run finished")
	return nil
}

func (r *Runner) execute(ctx context.Context, c *model.Collector) (int, error) {
	strategy, err := r.registry.Resolve(c.StrategyKey)
	if err != nil {
		return 0, err
	}

	cfg, err := ParseConfig(c.Config)
	if err != nil {
		return 0, err
	}
	if err := strategy.ValidateConfig(cfg); err != nil {
		return 0, fmt.Errorf("config rejected: %w", err)
	}

	records, err := strategy.Collect(ctx, cfg)
	if err != nil {
		return 0, err
	}

	collected := len(records)
	if v, ok := strategy.(Validator); ok {
		records = v.ValidateData(records)
	}
	if dropped := collected - len(records); dropped > 0 {
		logger.WithFields(map[string]interface{}{
			"collector": c.Name,
			"dropped":   dropped,
		}).Warn("Validation dropped records")
	}

	return r.store(ctx, records)
}

// store dispatches records to the matching repository. Duplicate rows hit
// the dedup constraints and are skipped, not counted.
func (r *Runner) store(ctx context.Context, records []Record) (int, error) {
	var (
		prices    []model.PricePoint
		bars      []model.OHLCVBar
		news      []model.NewsItem
		onchain   []model.OnChainMetric
		protocols []model.ProtocolFundamental
		catalysts []model.CatalystEvent
		flows     []model.SmartMoneyFlow
	)

	for _, rec := range records {
		switch v := rec.(type) {
		case *model.PricePoint:
			prices = append(prices, *v)
		case *model.OHLCVBar:
			bars = append(bars, *v)
		case *model.NewsItem:
			news = append(news, *v)
		case *model.OnChainMetric:
			onchain = append(onchain, *v)
		case *model.ProtocolFundamental:
			protocols = append(protocols, *v)
		case *model.CatalystEvent:
			catalysts = append(catalysts, *v)
		case *model.SmartMoneyFlow:
			flows = append(flows, *v)
		default:
			logger.WithField("table", rec.TableName()).Warn("Unroutable record type, skipping")
		}
	}

	type insertFn func() (int, error)
	inserts := []insertFn{
		func() (int, error) { return r.prices.InsertPrices(ctx, prices) },
		func() (int, error) { return r.prices.UpsertBars(ctx, bars) },
		func() (int, error) { return r.market.InsertNews(ctx, news) },
		func() (int, error) { return r.market.InsertOnChain(ctx, onchain) },
		func() (int, error) { return r.market.InsertProtocols(ctx, protocols) },
		func() (int, error) { return r.market.InsertCatalysts(ctx, catalysts) },
		func() (int, error) { return r.market.InsertFlows(ctx, flows) },
	}

	total := 0
	var firstErr error
	for _, ins := range inserts {
		n, err := ins()
		total += n
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return total, firstErr
}
