package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

const (
	TradingModePaper = "paper"
	TradingModeLive  = "live"
)

// Config carries the engine-level knobs. Package-specific settings (DB pool
// sizing, credential key) live next to the packages that consume them.
type Config struct {
	ServerPort string `envconfig:"SERVER_PORT" default:"8080"`
	AppName    string `envconfig:"APP_NAME" default:"ohmycoins-engine"`

	RedisURL string `envconfig:"REDIS_URL" default:"redis://localhost:6379/0"`

	TradingMode string `envconfig:"TRADING_MODE" default:"paper"`

	ExchangeBaseURL   string `envconfig:"EXCHANGE_BASE_URL" default:"https://api.independentreserve.com"`
	ExchangeAPIKey    string `envconfig:"EXCHANGE_API_KEY"`
	ExchangeAPISecret string `envconfig:"EXCHANGE_API_SECRET"`
	ExchangeWSURL     string `envconfig:"EXCHANGE_WS_URL"`

	NewsAPIKey       string `envconfig:"NEWS_API_KEY"`
	OnChainRPCURL    string `envconfig:"ONCHAIN_RPC_URL"`
	SmartMoneyAPIKey string `envconfig:"SMART_MONEY_API_KEY"`

	RateLimitPerMinute int           `envconfig:"RATE_LIMIT_PER_MINUTE" default:"60"`
	RateLimitPerHour   int           `envconfig:"RATE_LIMIT_PER_HOUR" default:"1000"`
	RateLimitAdminMult int           `envconfig:"RATE_LIMIT_ADMIN_MULTIPLIER" default:"10"`
	MaxPositionPct     float64       `envconfig:"MAX_POSITION_PCT" default:"0.20"`
	DrawdownThreshold  float64       `envconfig:"DRAWDOWN_THRESHOLD" default:"0.95"`
	HardStopInterval   time.Duration `envconfig:"HARD_STOP_INTERVAL" default:"5s"`
	QualityInterval    time.Duration `envconfig:"QUALITY_INTERVAL" default:"15m"`
	QualityAlertMin    float64       `envconfig:"QUALITY_ALERT_THRESHOLD" default:"0.7"`

	OrderQueueSize  int           `envconfig:"ORDER_QUEUE_SIZE" default:"256"`
	OrderMaxRetries int           `envconfig:"ORDER_MAX_RETRIES" default:"3"`
	OrderRetryDelay time.Duration `envconfig:"ORDER_RETRY_DELAY" default:"2s"`
	SchedulerGrace  time.Duration `envconfig:"SCHEDULER_STOP_GRACE" default:"30s"`
	BacktestWorkers int           `envconfig:"BACKTEST_WORKERS" default:"4"`
}

func GetConfig() Config {
	var config Config
	if err := envconfig.Process("", &config); err != nil {
		panic(fmt.Errorf("error processing env config: %w", err))
	}
	return config
}
