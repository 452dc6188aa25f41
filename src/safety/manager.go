package safety

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	logger "github.com/sirupsen/logrus"

	"ohmycoins/src/config"
	"ohmycoins/src/kvstore"
	"ohmycoins/src/metrics"
	"ohmycoins/src/model"
	"ohmycoins/src/repository"
)

// Check labels, used in rejection reasons, audit details and metrics.
const (
	CheckKillSwitch  = "kill_switch"
	CheckRateLimit   = "rate_limit"
	CheckPositionCap = "position_cap"
	CheckDailyLoss   = "daily_loss"
	CheckRiskRule    = "risk_rule"

	// read-mostly lookups are cached briefly to hold the latency budget
	cacheTTL = 5 * time.Second
)

// TradeRequest is one prospective trade presented for validation.
type TradeRequest struct {
	UserID       uint
	DeploymentID *uint
	Coin         string
	Side         string
	Quantity     decimal.Decimal
	EstPrice     decimal.Decimal
}

// Manager runs the pre-trade checks. Every order, manual or algorithmic,
// passes through ValidateTrade before it may enter the execution queue.
type Manager struct {
	cfg       config.Config
	kv        kvstore.Store
	users     *repository.UserRepository
	positions *repository.PositionRepository
	orders    *repository.OrderRepository
	prices    *repository.PriceRepository
	rules     *repository.RiskRuleRepository
	algos     *repository.AlgorithmRepository
	audit     *repository.AuditRepository
	tracker   *metrics.Tracker

	mu          sync.Mutex
	priceCache  map[string]model.PricePoint
	priceCached time.Time
	ruleCache   map[uint][]model.RiskRule
	ruleCached  map[uint]time.Time
	adminCache  map[uint]bool
	adminCached map[uint]time.Time
}

func NewManager(cfg config.Config, kv kvstore.Store,
	users *repository.UserRepository,
	positions *repository.PositionRepository,
	orders *repository.OrderRepository,
	prices *repository.PriceRepository,
	rules *repository.RiskRuleRepository,
	algos *repository.AlgorithmRepository,
	audit *repository.AuditRepository,
	tracker *metrics.Tracker) *Manager {
	return &Manager{
		cfg:         cfg,
		kv:          kv,
		users:       users,
		positions:   positions,
		orders:      orders,
		prices:      prices,
		rules:       rules,
		algos:       algos,
		audit:       audit,
		tracker:     tracker,
		ruleCache:   make(map[uint][]model.RiskRule),
		ruleCached:  make(map[uint]time.Time),
		adminCache:  make(map[uint]bool),
		adminCached: make(map[uint]time.Time),
	}
}

// ValidateTrade runs the checks in fixed order and stops at the first
// rejection. A rejection is (false, reason, nil); err is reserved for
// infrastructure failures that prevent a verdict.
func (m *Manager) ValidateTrade(ctx context.Context, req TradeRequest) (bool, string, error) {
	if active, reason := m.checkKillSwitch(ctx); active {
		m.recordRejection(ctx, req, CheckKillSwitch, reason)
		return false, reason, nil
	}

	if ok, reason, err := m.checkRateLimit(ctx, req.UserID); err != nil {
		return false, "", err
	} else if !ok {
		m.recordRejection(ctx, req, CheckRateLimit, reason)
		return false, reason, nil
	}

	if ok, reason, err := m.checkPositionCap(ctx, req); err != nil {
		return false, "", err
	} else if !ok {
		m.recordRejection(ctx, req, CheckPositionCap, reason)
		return false, reason, nil
	}

	if ok, reason, err := m.checkDailyLoss(ctx, req); err != nil {
		return false, "", err
	} else if !ok {
		m.recordRejection(ctx, req, CheckDailyLoss, reason)
		return false, reason, nil
	}

	if ok, reason, err := m.checkRiskRules(ctx, req); err != nil {
		return false, "", err
	} else if !ok {
		m.recordRejection(ctx, req, CheckRiskRule, reason)
		return false, reason, nil
	}

	return true, "", nil
}

// SetKillSwitch flips the global emergency stop. Idempotent, and every call
// leaves a critical audit row regardless of the previous state.
func (m *Manager) SetKillSwitch(ctx context.Context, active bool, reason string, userID *uint) error {
	value := "false"
	if active {
		value = "true"
	}
	if err := m.kv.Set(ctx, kvstore.KeyEmergencyStop, value, 0); err != nil {
		return fmt.Errorf("set kill switch: %w", err)
	}

	if err := m.audit.Append(ctx, model.AuditEventKillSwitch, model.AuditSeverityCritical, userID, map[string]interface{}{
		"active": active,
		"reason": reason,
	}); err != nil {
		logger.WithError(err).Error("Failed to write kill switch audit row")
	}

	logger.WithFields(map[string]interface{}{
		"active": active,
		"reason": reason,
	}).Warn("Kill switch updated")
	return nil
}

// KillSwitchActive reports the current emergency-stop state. KV outages
// read as inactive; the rate-limit fail-open logging covers the outage.
func (m *Manager) KillSwitchActive(ctx context.Context) bool {
	active, _ := m.checkKillSwitch(ctx)
	return active
}

func (m *Manager) checkKillSwitch(ctx context.Context) (bool, string) {
	val, err := m.kv.Get(ctx, kvstore.KeyEmergencyStop)
	if err != nil {
		if !errors.Is(err, kvstore.ErrNotFound) {
			logger.WithError(err).Warn("Kill switch read failed, treating as inactive")
		}
		return false, ""
	}
	if val == "true" {
		return true, "Emergency stop active"
	}
	return false, ""
}

// checkRateLimit counts requests in aligned minute and hour windows. A KV
// outage allows the trade (fail-open) and is logged, audited and counted.
func (m *Manager) checkRateLimit(ctx context.Context, userID uint) (bool, string, error) {
	minuteLimit := int64(m.cfg.RateLimitPerMinute)
	hourLimit := int64(m.cfg.RateLimitPerHour)
	if m.isAdmin(ctx, userID) {
		minuteLimit *= int64(m.cfg.RateLimitAdminMult)
		hourLimit *= int64(m.cfg.RateLimitAdminMult)
	}

	now := time.Now().UTC()

	windows := []struct {
		name  string
		start int64
		ttl   time.Duration
		limit int64
	}{
		{"minute", now.Truncate(time.Minute).Unix(), 2 * time.Minute, minuteLimit},
		{"hour", now.Truncate(time.Hour).Unix(), 2 * time.Hour, hourLimit},
	}

	for _, w := range windows {
		count, err := m.kv.IncrWithTTL(ctx, kvstore.RateLimitKey(userID, w.name, w.start), w.ttl)
		if err != nil {
			m.failOpen(ctx, userID, err)
			return true, "", nil
		}
		if count > w.limit {
			return false, fmt.Sprintf("Rate limit exceeded: %d requests this %s (limit %d)", count, w.name, w.limit), nil
		}
	}
	return true, "", nil
}

func (m *Manager) failOpen(ctx context.Context, userID uint, cause error) {
	logger.WithFields(map[string]interface{}{
		"user_id": userID,
	}).WithError(cause).Warn("Rate limit store unavailable, allowing request")

	if p := m.tracker.Prom(); p != nil {
		p.RateLimitOpen.Inc()
	}
	if err := m.audit.Append(ctx, model.AuditEventRateLimitOpen, model.AuditSeverityWarning, &userID, map[string]interface{}{
		"error": cause.Error(),
	}); err != nil {
		logger.WithError(err).Error("Failed to write fail-open audit row")
	}
}

// checkPositionCap rejects buys that would concentrate more than the
// configured share of the portfolio in a single coin. The very first
// position is exempt: a one-position portfolio is always 100% concentrated.
func (m *Manager) checkPositionCap(ctx context.Context, req TradeRequest) (bool, string, error) {
	if req.Side != model.OrderSideBuy {
		return true, "", nil
	}

	positions, err := m.positions.ListByUser(ctx, req.UserID)
	if err != nil {
		return false, "", err
	}

	prices, err := m.latestPrices(ctx)
	if err != nil {
		return false, "", err
	}

	tradeValue := req.Quantity.Mul(req.EstPrice)
	portfolioBefore := decimal.Zero
	coinBefore := decimal.Zero
	for i := range positions {
		last := positions[i].AveragePrice
		if p, ok := prices[positions[i].Coin]; ok {
			last = p.Last
		}
		value := positions[i].MarketValue(last)
		portfolioBefore = portfolioBefore.Add(value)
		if positions[i].Coin == req.Coin {
			coinBefore = value
		}
	}

	if portfolioBefore.IsZero() {
		return true, "", nil
	}

	portfolioAfter := portfolioBefore.Add(tradeValue)
	coinAfter := coinBefore.Add(tradeValue)

	capPct := decimal.NewFromFloat(m.cfg.MaxPositionPct)
	if coinAfter.GreaterThan(portfolioAfter.Mul(capPct)) {
		return false, fmt.Sprintf("Position limit: %s would be %s%% of portfolio (cap %s%%)",
			req.Coin,
			coinAfter.Div(portfolioAfter).Mul(decimal.NewFromInt(100)).Round(1),
			capPct.Mul(decimal.NewFromInt(100)).Round(1)), nil
	}
	return true, "", nil
}

// checkDailyLoss compares realized PnL since the deployment's daily reset
// plus current unrealized PnL against the deployment's loss limit.
func (m *Manager) checkDailyLoss(ctx context.Context, req TradeRequest) (bool, string, error) {
	if req.DeploymentID == nil {
		return true, "", nil
	}

	deployment, err := m.algos.FindDeployment(ctx, *req.DeploymentID)
	if err != nil {
		return false, "", err
	}
	if deployment == nil || !deployment.DailyLossLimit.IsPositive() {
		return true, "", nil
	}

	// realized PnL accumulates per UTC day; roll it over lazily at the
	// first validation past midnight
	midnight := time.Now().UTC().Truncate(24 * time.Hour)
	if deployment.DailyResetAt.Before(midnight) {
		if err := m.algos.ResetDaily(ctx, deployment.ID, midnight); err != nil {
			return false, "", err
		}
		deployment.RealizedPnl = decimal.Zero
	}

	unrealized, err := m.unrealizedPnl(ctx, req.UserID)
	if err != nil {
		return false, "", err
	}

	total := deployment.RealizedPnl.Add(unrealized)
	if total.LessThanOrEqual(deployment.DailyLossLimit.Neg()) {
		return false, fmt.Sprintf("Daily loss limit reached: %s against limit %s",
			total.Round(2), deployment.DailyLossLimit.Round(2)), nil
	}
	return true, "", nil
}

func (m *Manager) unrealizedPnl(ctx context.Context, userID uint) (decimal.Decimal, error) {
	positions, err := m.positions.ListByUser(ctx, userID)
	if err != nil {
		return decimal.Zero, err
	}
	prices, err := m.latestPrices(ctx)
	if err != nil {
		return decimal.Zero, err
	}

	total := decimal.Zero
	for i := range positions {
		p, ok := prices[positions[i].Coin]
		if !ok {
			continue
		}
		total = total.Add(p.Last.Sub(positions[i].AveragePrice).Mul(positions[i].Quantity))
	}
	return total, nil
}

func (m *Manager) checkRiskRules(ctx context.Context, req TradeRequest) (bool, string, error) {
	rules, err := m.rulesForUser(ctx, req.UserID)
	if err != nil {
		return false, "", err
	}

	for i := range rules {
		rule := rules[i]

		violated := false
		var detail string
		switch rule.Kind {
		case model.RiskKindMaxOrderValue:
			value := req.Quantity.Mul(req.EstPrice)
			if value.GreaterThan(rule.Threshold) {
				violated = true
				detail = fmt.Sprintf("order value %s exceeds %s", value.Round(2), rule.Threshold.Round(2))
			}
		case model.RiskKindMaxOpenOrders:
			open, err := m.orders.CountOpenByUser(ctx, req.UserID)
			if err != nil {
				return false, "", err
			}
			if decimal.NewFromInt(open).GreaterThanOrEqual(rule.Threshold) {
				violated = true
				detail = fmt.Sprintf("%d open orders at limit %s", open, rule.Threshold)
			}
		case model.RiskKindMaxPositionSize:
			if req.Side != model.OrderSideBuy {
				break
			}
			position, err := m.positions.FindByUserAndCoin(ctx, req.UserID, req.Coin)
			if err != nil {
				return false, "", err
			}
			size := req.Quantity
			if position != nil {
				size = size.Add(position.Quantity)
			}
			if size.GreaterThan(rule.Threshold) {
				violated = true
				detail = fmt.Sprintf("position size %s exceeds %s", size, rule.Threshold)
			}
		default:
			logger.WithField("kind", rule.Kind).Warn("Unknown risk rule kind, ignoring")
		}

		if !violated {
			continue
		}

		if rule.Action == model.RiskActionWarn {
			logger.WithFields(map[string]interface{}{
				"user_id": req.UserID,
				"rule_id": rule.ID,
				"kind":    rule.Kind,
				"detail":  detail,
			}).Warn("Risk rule warning")
			continue
		}
		return false, fmt.Sprintf("Risk rule %s: %s", rule.Kind, detail), nil
	}

	return true, "", nil
}

func (m *Manager) recordRejection(ctx context.Context, req TradeRequest, check, reason string) {
	if p := m.tracker.Prom(); p != nil {
		p.SafetyRejections.WithLabelValues(check).Inc()
	}

	userID := req.UserID
	if err := m.audit.Append(ctx, model.AuditEventSafetyRejection, model.AuditSeverityWarning, &userID, map[string]interface{}{
		"check":  check,
		"reason": reason,
		"coin":   req.Coin,
		"side":   req.Side,
		"qty":    req.Quantity.String(),
	}); err != nil {
		logger.WithError(err).Error("Failed to write rejection audit row")
	}

	logger.WithFields(map[string]interface{}{
		"user_id": req.UserID,
		"check":   check,
		"reason":  reason,
	}).Info("Trade rejected")
}

func (m *Manager) latestPrices(ctx context.Context) (map[string]model.PricePoint, error) {
	m.mu.Lock()
	if m.priceCache != nil && time.Since(m.priceCached) < cacheTTL {
		cached := m.priceCache
		m.mu.Unlock()
		return cached, nil
	}
	m.mu.Unlock()

	latest, err := m.prices.LatestPerCoin(ctx)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	m.priceCache = latest
	m.priceCached = time.Now()
	m.mu.Unlock()
	return latest, nil
}

func (m *Manager) rulesForUser(ctx context.Context, userID uint) ([]model.RiskRule, error) {
	m.mu.Lock()
	if cachedAt, ok := m.ruleCached[userID]; ok && time.Since(cachedAt) < cacheTTL {
		cached := m.ruleCache[userID]
		m.mu.Unlock()
		return cached, nil
	}
	m.mu.Unlock()

	rules, err := m.rules.ListEnabledForUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	m.ruleCache[userID] = rules
	m.ruleCached[userID] = time.Now()
	m.mu.Unlock()
	return rules, nil
}

func (m *Manager) isAdmin(ctx context.Context, userID uint) bool {
	m.mu.Lock()
	if cachedAt, ok := m.adminCached[userID]; ok && time.Since(cachedAt) < cacheTTL {
		admin := m.adminCache[userID]
		m.mu.Unlock()
		return admin
	}
	m.mu.Unlock()

	admin := false
	user, err := m.users.FindByID(ctx, userID)
	if err == nil && user != nil {
		admin = user.IsAdmin
	}

	m.mu.Lock()
	m.adminCache[userID] = admin
	m.adminCached[userID] = time.Now()
	m.mu.Unlock()
	return admin
}
