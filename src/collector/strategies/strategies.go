// Package strategies holds the built-in collector strategies. Each one
// normalises a single upstream source into the persistence models; the
// collector runner owns storage and run bookkeeping.
package strategies

import (
	"strings"

	"github.com/shopspring/decimal"

	"ohmycoins/src/collector"
	"ohmycoins/src/config"
)

// RegisterAll wires every built-in strategy into the registry and freezes
// it. Called once from engine startup.
func RegisterAll(registry *collector.Registry, fetch *collector.Fetcher, cfg config.Config) {
	registry.Register(NewPriceFeed(fetch, cfg.ExchangeBaseURL))
	registry.Register(NewOHLCVBackfill())
	registry.Register(NewNewsFeed(fetch, cfg.NewsAPIKey))
	registry.Register(NewOnChainRPC(fetch, cfg.OnChainRPCURL))
	registry.Register(NewDefiProtocol(fetch))
	registry.Register(NewCatalystCalendar(fetch))
	registry.Register(NewSmartMoney(fetch, cfg.SmartMoneyAPIKey))
	registry.Freeze()
}

// splitCoins parses a comma-separated coin list from config, upper-cased.
func splitCoins(cfg collector.Config, key, fallback string) []string {
	raw := cfg.Get(key, fallback)

	parts := strings.Split(raw, ",")
	coins := make([]string, 0, len(parts))
	for _, p := range parts {
		if c := strings.ToUpper(strings.TrimSpace(p)); c != "" {
			coins = append(coins, c)
		}
	}
	return coins
}

// parseDecimal is forgiving with thousands separators and currency signs as
// they appear in scraped listings.
func parseDecimal(raw string) (decimal.Decimal, bool) {
	cleaned := strings.TrimSpace(raw)
	cleaned = strings.TrimPrefix(cleaned, "$")
	cleaned = strings.ReplaceAll(cleaned, ",", "")
	if cleaned == "" {
		return decimal.Zero, false
	}

	d, err := decimal.NewFromString(cleaned)
	if err != nil {
		return decimal.Zero, false
	}
	return d, true
}
