package quality

import (
	"context"
	"time"

	logger "github.com/sirupsen/logrus"

	"ohmycoins/src/config"
	"ohmycoins/src/model"
	"ohmycoins/src/repository"
)

// Score weights. Timeliness dominates: stale data is worse than a thin
// table for a system that trades on it.
const (
	completenessWeight = 0.3
	timelinessWeight   = 0.4
	accuracyWeight     = 0.3

	criticalScore = 0.5
)

// category describes one monitored table: where its newest timestamp
// lives and how old it may get before the category scores zero.
type category struct {
	name      string
	tableRef  interface{}
	column    string
	maxAge    time.Duration
	essential bool
}

func monitoredCategories() []category {
	return []category{
		{name: "prices", tableRef: &model.PricePoint{}, column: "timestamp", maxAge: 15 * time.Minute, essential: true},
		{name: "ohlcv", tableRef: &model.OHLCVBar{}, column: "datetime", maxAge: 30 * time.Minute},
		{name: "news", tableRef: &model.NewsItem{}, column: "collected_at", maxAge: 45 * time.Minute},
		{name: "onchain", tableRef: &model.OnChainMetric{}, column: "collected_at", maxAge: 30 * time.Minute},
		{name: "catalysts", tableRef: &model.CatalystEvent{}, column: "collected_at", maxAge: 12 * time.Hour},
		{name: "protocols", tableRef: &model.ProtocolFundamental{}, column: "collected_at", maxAge: 24 * time.Hour},
		{name: "smart_money", tableRef: &model.SmartMoneyFlow{}, column: "collected_at", maxAge: 2 * time.Hour},
	}
}

// Report is one evaluation of the data set.
type Report struct {
	Completeness float64            `json:"completeness"`
	Timeliness   float64            `json:"timeliness"`
	Accuracy     float64            `json:"accuracy"`
	Overall      float64            `json:"overall"`
	Categories   map[string]float64 `json:"categories"`
	EvaluatedAt  time.Time          `json:"evaluated_at"`
}

// Monitor periodically scores the stored market data and raises audit
// alerts when the overall score degrades.
type Monitor struct {
	cfg    config.Config
	market *repository.MarketDataRepository
	audit  *repository.AuditRepository

	stop chan struct{}
	done chan struct{}
}

func NewMonitor(cfg config.Config, market *repository.MarketDataRepository,
	audit *repository.AuditRepository) *Monitor {
	return &Monitor{
		cfg:    cfg,
		market: market,
		audit:  audit,
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
}

// Start launches the evaluation loop.
func (m *Monitor) Start() {
	interval := m.cfg.QualityInterval
	if interval <= 0 {
		interval = 15 * time.Minute
	}

	go func() {
		defer close(m.done)

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		logger.WithField("interval", interval.String()).Info("Data quality monitor started")
		for {
			select {
			case <-ticker.C:
				if _, err := m.Evaluate(context.Background()); err != nil {
					logger.WithError(err).Error("Data quality evaluation failed")
				}
			case <-m.stop:
				return
			}
		}
	}()
}

func (m *Monitor) Stop() {
	close(m.stop)
	<-m.done
	logger.Info("Data quality monitor stopped")
}

// Evaluate scores the data set once and raises an alert when the overall
// score sits below the configured threshold.
func (m *Monitor) Evaluate(ctx context.Context) (*Report, error) {
	report := &Report{
		Categories:  make(map[string]float64),
		EvaluatedAt: time.Now().UTC(),
	}

	categories := monitoredCategories()
	if err := m.scoreCompleteness(ctx, categories, report); err != nil {
		return nil, err
	}
	if err := m.scoreTimeliness(ctx, categories, report); err != nil {
		return nil, err
	}
	if err := m.scoreAccuracy(ctx, report); err != nil {
		return nil, err
	}

	report.Overall = completenessWeight*report.Completeness +
		timelinessWeight*report.Timeliness +
		accuracyWeight*report.Accuracy

	logger.WithFields(map[string]interface{}{
		"overall":      report.Overall,
		"completeness": report.Completeness,
		"timeliness":   report.Timeliness,
		"accuracy":     report.Accuracy,
	}).Debug("Data quality evaluated")

	threshold := m.cfg.QualityAlertMin
	if threshold <= 0 {
		threshold = 0.7
	}
	if report.Overall < threshold {
		m.alert(ctx, report)
	}
	return report, nil
}

// scoreCompleteness checks that the expected tables hold data at all. A
// missing essential table floors the score.
func (m *Monitor) scoreCompleteness(ctx context.Context, categories []category, report *Report) error {
	populated := 0
	essentialMissing := false

	for _, cat := range categories {
		count, err := m.market.TableCount(ctx, cat.tableRef)
		if err != nil {
			return err
		}
		if count > 0 {
			populated++
		} else if cat.essential {
			essentialMissing = true
		}
	}

	report.Completeness = float64(populated) / float64(len(categories))
	if essentialMissing {
		report.Completeness = 0
	}
	return nil
}

// scoreTimeliness scores each category by the age of its newest row
// against the category's tolerance, linearly down to zero.
func (m *Monitor) scoreTimeliness(ctx context.Context, categories []category, report *Report) error {
	now := time.Now().UTC()
	total := 0.0

	for _, cat := range categories {
		newest, err := m.market.NewestTimestamp(ctx, cat.tableRef, cat.column)
		if err != nil {
			return err
		}

		score := 0.0
		if newest != nil {
			age := now.Sub(*newest)
			if age < 0 {
				age = 0
			}
			if age < cat.maxAge {
				score = 1 - age.Seconds()/cat.maxAge.Seconds()
			}
		}
		report.Categories[cat.name] = score
		total += score
	}

	report.Timeliness = total / float64(len(categories))
	return nil
}

// scoreAccuracy is the fraction of rows passing each table's validity
// predicate, averaged across the tables that hold data. Empty tables are
// completeness's problem, not accuracy's.
func (m *Monitor) scoreAccuracy(ctx context.Context, report *Report) error {
	checks := []struct {
		tableRef interface{}
		invalid  func(context.Context) (int64, error)
	}{
		{&model.PricePoint{}, m.market.InvalidPriceCount},
		{&model.OnChainMetric{}, m.market.NegativeValueCount},
	}

	total := 0.0
	scored := 0
	for _, check := range checks {
		rows, err := m.market.TableCount(ctx, check.tableRef)
		if err != nil {
			return err
		}
		if rows == 0 {
			continue
		}
		invalid, err := check.invalid(ctx)
		if err != nil {
			return err
		}
		total += 1 - float64(invalid)/float64(rows)
		scored++
	}

	report.Accuracy = 1
	if scored > 0 {
		report.Accuracy = total / float64(scored)
	}
	return nil
}

func (m *Monitor) alert(ctx context.Context, report *Report) {
	severity := model.AuditSeverityWarning
	if report.Overall < criticalScore {
		severity = model.AuditSeverityCritical
	}

	logger.WithFields(map[string]interface{}{
		"overall":  report.Overall,
		"severity": severity,
	}).Warn("Data quality degraded")

	if err := m.audit.Append(ctx, model.AuditEventQualityAlert, severity, nil, map[string]interface{}{
		"overall":      report.Overall,
		"completeness": report.Completeness,
		"timeliness":   report.Timeliness,
		"accuracy":     report.Accuracy,
	}); err != nil {
		logger.WithError(err).Error("Failed to write quality alert audit row")
	}
}
