package safety

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
	logger "github.com/sirupsen/logrus"

	"ohmycoins/src/config"
	"ohmycoins/src/kvstore"
	"ohmycoins/src/model"
	"ohmycoins/src/repository"
)

// Watcher is the hard-stop loop. Every interval it values the whole book
// against the latest prices and trips the kill switch when equity drops
// below the drawdown threshold of the recorded baseline.
//
// The baseline is written once with SetNX and survives restarts: a process
// bounce during a drawdown must not re-anchor the baseline at the lower
// equity.
// streamMaxAge bounds how stale a websocket tick may be before the
// watcher falls back to the stored price.
const streamMaxAge = time.Minute

// PriceSource serves live last prices, typically from a websocket ticker.
type PriceSource interface {
	LastPrice(coin string) (decimal.Decimal, time.Time, bool)
}

type Watcher struct {
	cfg       config.Config
	kv        kvstore.Store
	manager   *Manager
	positions *repository.PositionRepository
	prices    *repository.PriceRepository
	audit     *repository.AuditRepository
	stream    PriceSource

	stop chan struct{}
	done chan struct{}
}

func NewWatcher(cfg config.Config, kv kvstore.Store, manager *Manager,
	positions *repository.PositionRepository,
	prices *repository.PriceRepository,
	audit *repository.AuditRepository) *Watcher {
	return &Watcher{
		cfg:       cfg,
		kv:        kv,
		manager:   manager,
		positions: positions,
		prices:    prices,
		audit:     audit,
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}
}

// WithStream makes the watcher prefer fresh websocket ticks over stored
// prices when valuing the book.
func (w *Watcher) WithStream(stream PriceSource) *Watcher {
	w.stream = stream
	return w
}

// Start launches the watcher loop. Call Stop to halt it.
func (w *Watcher) Start() {
	interval := w.cfg.HardStopInterval
	if interval <= 0 {
		interval = 5 * time.Second
	}

	go func() {
		defer close(w.done)

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		logger.WithField("interval", interval.String()).Info("Hard-stop watcher started")
		for {
			select {
			case <-ticker.C:
				w.Tick(context.Background())
			case <-w.stop:
				return
			}
		}
	}()
}

func (w *Watcher) Stop() {
	close(w.stop)
	<-w.done
	logger.Info("Hard-stop watcher stopped")
}

// Tick runs a single equity evaluation. Exposed for tests and for a forced
// check after startup.
func (w *Watcher) Tick(ctx context.Context) {
	equity, err := w.totalEquity(ctx)
	if err != nil {
		logger.WithError(err).Warn("Hard-stop equity computation failed")
		return
	}
	if !equity.IsPositive() {
		// nothing held yet; there is no meaningful baseline to record
		return
	}

	baseline, err := w.baseline(ctx, equity)
	if err != nil {
		logger.WithError(err).Warn("Hard-stop baseline unavailable")
		return
	}

	threshold := baseline.Mul(decimal.NewFromFloat(w.cfg.DrawdownThreshold))
	if equity.GreaterThanOrEqual(threshold) {
		return
	}

	logger.WithFields(map[string]interface{}{
		"equity":    equity.String(),
		"baseline":  baseline.String(),
		"threshold": threshold.String(),
	}).Error("Hard stop triggered by drawdown")

	if err := w.manager.SetKillSwitch(ctx, true, "hard stop drawdown breach", nil); err != nil {
		logger.WithError(err).Error("Failed to activate kill switch from hard stop")
		return
	}

	if err := w.audit.Append(ctx, model.AuditEventHardStop, model.AuditSeverityCritical, nil, map[string]interface{}{
		"equity":    equity.String(),
		"baseline":  baseline.String(),
		"threshold": threshold.String(),
	}); err != nil {
		logger.WithError(err).Error("Failed to write hard stop audit row")
	}
}

// baseline returns the stored initial equity, seeding it from the current
// observation when absent.
func (w *Watcher) baseline(ctx context.Context, equity decimal.Decimal) (decimal.Decimal, error) {
	set, err := w.kv.SetNX(ctx, kvstore.KeyInitialEquity, equity.String(), 0)
	if err != nil {
		return decimal.Zero, err
	}
	if set {
		logger.WithField("equity", equity.String()).Info("Hard-stop baseline recorded")
		return equity, nil
	}

	raw, err := w.kv.Get(ctx, kvstore.KeyInitialEquity)
	if err != nil {
		if errors.Is(err, kvstore.ErrNotFound) {
			// lost between SetNX and Get; next tick reseeds
			return equity, nil
		}
		return decimal.Zero, err
	}
	return decimal.NewFromString(raw)
}

func (w *Watcher) totalEquity(ctx context.Context) (decimal.Decimal, error) {
	positions, err := w.positions.ListAll(ctx)
	if err != nil {
		return decimal.Zero, err
	}
	if len(positions) == 0 {
		return decimal.Zero, nil
	}

	latest, err := w.prices.LatestPerCoin(ctx)
	if err != nil {
		return decimal.Zero, err
	}

	total := decimal.Zero
	for i := range positions {
		last := positions[i].AveragePrice
		if p, ok := latest[positions[i].Coin]; ok {
			last = p.Last
		}
		if w.stream != nil {
			if live, at, ok := w.stream.LastPrice(positions[i].Coin); ok && time.Since(at) < streamMaxAge {
				last = live
			}
		}
		total = total.Add(positions[i].MarketValue(last))
	}
	return total, nil
}
