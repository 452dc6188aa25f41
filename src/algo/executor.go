package algo

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	logger "github.com/sirupsen/logrus"

	"ohmycoins/src/model"
	"ohmycoins/src/repository"
	"ohmycoins/src/trading"
)

// lookbackBarWidth sizes the history window fetched per evaluation. Price
// points land roughly every collection interval, so five minutes per bar
// is the working assumption.
const lookbackBarWidth = 5 * time.Minute

// Executor runs one deployment firing end to end: load, evaluate, trade.
// Models are cached per algorithm and invalidated on definition updates.
type Executor struct {
	algos   *repository.AlgorithmRepository
	prices  *repository.PriceRepository
	trading *trading.Service

	mu    sync.Mutex
	cache map[uint]cachedModel
}

type cachedModel struct {
	model     TradeModel
	updatedAt time.Time
}

func NewExecutor(algos *repository.AlgorithmRepository,
	prices *repository.PriceRepository, tradingService *trading.Service) *Executor {
	return &Executor{
		algos:   algos,
		prices:  prices,
		trading: tradingService,
		cache:   make(map[uint]cachedModel),
	}
}

// Execute runs one cycle for the deployment. With dryRun the signals are
// returned without touching the order queue or the execution stamp.
func (e *Executor) Execute(ctx context.Context, deploymentID uint, dryRun bool) ([]Signal, error) {
	deployment, err := e.algos.FindDeployment(ctx, deploymentID)
	if err != nil {
		return nil, err
	}
	if deployment == nil {
		return nil, fmt.Errorf("deployment %d not found", deploymentID)
	}
	if !deployment.IsActive && !dryRun {
		logger.WithField("deployment", deploymentID).Debug("Skipping inactive deployment")
		return nil, nil
	}

	algorithm := deployment.Algorithm
	if algorithm == nil {
		algorithm, err = e.algos.FindAlgorithm(ctx, deployment.AlgorithmID)
		if err != nil {
			return nil, err
		}
	}
	if algorithm == nil {
		return nil, fmt.Errorf("algorithm %d not found for deployment %d", deployment.AlgorithmID, deploymentID)
	}
	if algorithm.Status != model.AlgorithmStatusActive && algorithm.Status != model.AlgorithmStatusDraft {
		return nil, fmt.Errorf("algorithm %d is %s and cannot execute", algorithm.ID, algorithm.Status)
	}

	tradeModel, err := e.modelFor(algorithm)
	if err != nil {
		return nil, err
	}

	history, err := e.history(ctx, tradeModel)
	if err != nil {
		return nil, err
	}

	signal, err := tradeModel.Evaluate(history)
	if err != nil {
		return nil, fmt.Errorf("evaluate algorithm %d: %w", algorithm.ID, err)
	}
	signals := []Signal{signal}

	if dryRun {
		return signals, nil
	}

	e.act(ctx, deployment, signals)

	if err := e.algos.MarkExecuted(ctx, deployment.ID, time.Now().UTC()); err != nil {
		logger.WithField("deployment", deployment.ID).WithError(err).Error("Failed to stamp execution")
	}
	return signals, nil
}

// act turns actionable signals into orders. A safety rejection on one
// signal never aborts the rest of the cycle.
func (e *Executor) act(ctx context.Context, deployment *model.DeployedAlgorithm, signals []Signal) {
	for _, signal := range signals {
		if signal.Action == ActionHold || !signal.Quantity.IsPositive() {
			continue
		}

		quantity := signal.Quantity
		if deployment.PositionLimit.IsPositive() && quantity.GreaterThan(deployment.PositionLimit) {
			quantity = deployment.PositionLimit
		}

		order, err := e.trading.SubmitOrder(ctx, trading.SubmitRequest{
			UserID:       deployment.UserID,
			DeploymentID: &deployment.ID,
			Coin:         signal.Coin,
			Side:         signal.Action,
			OrderType:    model.OrderTypeMarket,
			Quantity:     quantity,
		})
		if err != nil {
			var rejected trading.ErrTradeRejected
			if errors.As(err, &rejected) {
				logger.WithFields(map[string]interface{}{
					"deployment": deployment.ID,
					"coin":       signal.Coin,
					"action":     signal.Action,
					"reason":     rejected.Reason,
				}).Warn("Signal rejected by safety checks")
				continue
			}
			logger.WithFields(map[string]interface{}{
				"deployment": deployment.ID,
				"coin":       signal.Coin,
			}).WithError(err).Error("Failed to submit signal order")
			continue
		}

		logger.WithFields(map[string]interface{}{
			"deployment": deployment.ID,
			"order":      order.ID,
			"coin":       signal.Coin,
			"action":     signal.Action,
			"qty":        quantity.String(),
			"confidence": signal.Confidence,
		}).Info("Signal order queued")
	}
}

func (e *Executor) modelFor(a *model.Algorithm) (TradeModel, error) {
	e.mu.Lock()
	cached, ok := e.cache[a.ID]
	e.mu.Unlock()
	if ok && cached.updatedAt.Equal(a.UpdatedAt) {
		return cached.model, nil
	}

	built, err := BuildModel(a)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	e.cache[a.ID] = cachedModel{model: built, updatedAt: a.UpdatedAt}
	e.mu.Unlock()
	return built, nil
}

func (e *Executor) history(ctx context.Context, m TradeModel) ([]model.PricePoint, error) {
	now := time.Now().UTC()
	from := now.Add(-time.Duration(m.LookbackBars()) * lookbackBarWidth)
	points, err := e.prices.Range(ctx, m.Coin(), from, now)
	if err != nil {
		return nil, err
	}
	return points, nil
}
