package trading

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	logger "github.com/sirupsen/logrus"

	"ohmycoins/src/config"
	"ohmycoins/src/exchange"
	"ohmycoins/src/metrics"
	"ohmycoins/src/model"
	"ohmycoins/src/repository"
)

// Executor owns the order queue. Exactly one loop drains it, so an order
// handed to Submit is never worked on concurrently. Each state transition
// is persisted before the next step runs.
type Executor struct {
	cfg     config.Config
	client  exchange.Client
	orders  *repository.OrderRepository
	tracker *metrics.Tracker

	queue   chan string
	mu      sync.Mutex
	pending map[string]bool

	started int32
	stop    chan struct{}
	done    chan struct{}
}

func NewExecutor(cfg config.Config, client exchange.Client,
	orders *repository.OrderRepository, tracker *metrics.Tracker) *Executor {
	size := cfg.OrderQueueSize
	if size <= 0 {
		size = 256
	}

	return &Executor{
		cfg:     cfg,
		client:  client,
		orders:  orders,
		tracker: tracker,
		queue:   make(chan string, size),
		pending: make(map[string]bool),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
}

// Start launches the executor loop. Calling it twice is a no-op.
func (e *Executor) Start() {
	if !atomic.CompareAndSwapInt32(&e.started, 0, 1) {
		return
	}
	go e.run()
	logger.WithField("queue_size", cap(e.queue)).Info("Order executor started")
}

// Stop drains whatever is already queued, then shuts the loop down. It
// returns once the loop has exited or the grace period expires.
func (e *Executor) Stop(grace time.Duration) {
	close(e.stop)
	select {
	case <-e.done:
	case <-time.After(grace):
		logger.Warn("Order executor did not drain before shutdown deadline")
	}
}

// Submit queues an order for execution. Terminal and already-queued orders
// are ignored with a warning. A full queue is an error so callers can
// surface backpressure instead of blocking.
func (e *Executor) Submit(order *model.Order) error {
	if order.Terminal() {
		logger.WithFields(map[string]interface{}{
			"order":  order.ID,
			"status": order.Status,
		}).Warn("Ignoring submit for terminal order")
		return nil
	}

	e.mu.Lock()
	if e.pending[order.ID] {
		e.mu.Unlock()
		logger.WithField("order", order.ID).Warn("Ignoring submit for already queued order")
		return nil
	}
	e.pending[order.ID] = true
	e.mu.Unlock()

	select {
	case e.queue <- order.ID:
		e.gaugeDepth()
		return nil
	default:
		e.mu.Lock()
		delete(e.pending, order.ID)
		e.mu.Unlock()
		return fmt.Errorf("order queue full (%d)", cap(e.queue))
	}
}

// QueueDepth reports how many orders are waiting.
func (e *Executor) QueueDepth() int {
	return len(e.queue)
}

func (e *Executor) run() {
	defer close(e.done)

	for {
		select {
		case id := <-e.queue:
			e.dequeue(id)
		case <-e.stop:
			// drain what was accepted before the stop
			for {
				select {
				case id := <-e.queue:
					e.dequeue(id)
				default:
					logger.Info("Order executor stopped")
					return
				}
			}
		}
	}
}

func (e *Executor) dequeue(id string) {
	e.gaugeDepth()
	e.process(context.Background(), id)
	e.mu.Lock()
	delete(e.pending, id)
	e.mu.Unlock()
}

func (e *Executor) process(ctx context.Context, id string) {
	order, err := e.orders.FindByID(ctx, id)
	if err != nil {
		logger.WithField("order", id).WithError(err).Error("Failed to load queued order")
		return
	}
	if order == nil {
		logger.WithField("order", id).Warn("Queued order no longer exists")
		return
	}
	if order.Terminal() {
		logger.WithFields(map[string]interface{}{
			"order":  order.ID,
			"status": order.Status,
		}).Warn("Queued order already terminal")
		return
	}

	now := time.Now().UTC()
	if err := e.orders.UpdateStatus(ctx, order.ID, model.OrderStatusSubmitted,
		map[string]interface{}{"submitted_at": now}); err != nil {
		return
	}
	e.transition(model.OrderStatusSubmitted)

	e.execute(ctx, order)
}

// execute tries the exchange with doubling backoff between attempts. The
// final failure lands the order in failed with the last error recorded.
func (e *Executor) execute(ctx context.Context, order *model.Order) {
	attempts := e.cfg.OrderMaxRetries
	if attempts <= 0 {
		attempts = 1
	}
	delay := e.cfg.OrderRetryDelay

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		placed, err := e.client.PlaceOrder(ctx, exchange.OrderRequest{
			Coin:     order.Coin,
			Side:     order.Side,
			Type:     order.OrderType,
			Quantity: order.Quantity,
			Price:    order.Price,
		})
		if err == nil {
			if err := e.orders.CompleteFill(ctx, order, placed.FilledQuantity, placed.AvgPrice, placed.ExchangeOrderID); err != nil {
				logger.WithField("order", order.ID).WithError(err).Error("Failed to persist fill")
				return
			}
			e.transition(order.Status)
			logger.WithFields(map[string]interface{}{
				"order":  order.ID,
				"coin":   order.Coin,
				"side":   order.Side,
				"filled": order.FilledQuantity.String(),
				"price":  order.Price.String(),
			}).Info("Order executed")
			return
		}

		lastErr = err
		logger.WithFields(map[string]interface{}{
			"order":   order.ID,
			"attempt": attempt,
			"of":      attempts,
		}).WithError(err).Warn("Order placement failed")

		if attempt < attempts && delay > 0 {
			time.Sleep(delay)
			delay *= 2
		}
	}

	if err := e.orders.UpdateStatus(ctx, order.ID, model.OrderStatusFailed,
		map[string]interface{}{"error": lastErr.Error()}); err != nil {
		return
	}
	e.transition(model.OrderStatusFailed)
}

func (e *Executor) transition(status string) {
	if prom := e.tracker.Prom(); prom != nil {
		prom.OrderTransitions.WithLabelValues(status).Inc()
	}
}

func (e *Executor) gaugeDepth() {
	if prom := e.tracker.Prom(); prom != nil {
		prom.QueueDepth.Set(float64(len(e.queue)))
	}
}
