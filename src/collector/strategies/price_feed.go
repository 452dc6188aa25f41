package strategies

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	logger "github.com/sirupsen/logrus"

	"ohmycoins/src/collector"
	"ohmycoins/src/model"
)

const (
	priceModeAuto = "auto"
	priceModeHTML = "html"
	priceModeJSON = "json"

	// snapshots are bucketed so a re-run inside the window dedups on
	// (coin, timestamp) instead of writing a near-duplicate row
	priceBucket = 5 * time.Minute
)

// PriceFeed snapshots the exchange market board. The public JSON API is
// rate-limited aggressively, so the default path scrapes the full HTML
// listing in one request and only falls back to per-coin JSON calls.
type PriceFeed struct {
	fetch   *collector.Fetcher
	baseURL string
}

func NewPriceFeed(fetch *collector.Fetcher, baseURL string) *PriceFeed {
	return &PriceFeed{fetch: fetch, baseURL: strings.TrimRight(baseURL, "/")}
}

func (s *PriceFeed) Name() string { return "price_feed" }

func (s *PriceFeed) Description() string {
	return "Bid/ask/last snapshots for the configured coins from the exchange market board"
}

func (s *PriceFeed) ConfigSchema() map[string]string {
	return map[string]string{
		"coins":    "comma-separated coin codes, e.g. BTC,ETH,XRP",
		"mode":     "auto (default), html or json",
		"base_url": "override for the exchange base URL",
	}
}

func (s *PriceFeed) ValidateConfig(cfg collector.Config) error {
	switch cfg.Get("mode", priceModeAuto) {
	case priceModeAuto, priceModeHTML, priceModeJSON:
	default:
		return fmt.Errorf("mode must be auto, html or json, got %q", cfg["mode"])
	}
	if len(splitCoins(cfg, "coins", "BTC,ETH")) == 0 {
		return fmt.Errorf("coins must name at least one coin")
	}
	return nil
}

func (s *PriceFeed) TestConnection(ctx context.Context, cfg collector.Config) error {
	_, err := s.fetch.GetText(ctx, s.base(cfg)+"/prices", nil)
	return err
}

func (s *PriceFeed) base(cfg collector.Config) string {
	return strings.TrimRight(cfg.Get("base_url", s.baseURL), "/")
}

func (s *PriceFeed) Collect(ctx context.Context, cfg collector.Config) ([]collector.Record, error) {
	coins := splitCoins(cfg, "coins", "BTC,ETH")
	mode := cfg.Get("mode", priceModeAuto)
	now := time.Now().UTC().Truncate(priceBucket)

	if mode != priceModeJSON {
		records, err := s.collectHTML(ctx, cfg, coins, now)
		if err == nil {
			return records, nil
		}
		if mode == priceModeHTML {
			return nil, err
		}
		logger.WithError(err).Warn("Market board scrape failed, falling back to public JSON")
	}

	return s.collectJSON(ctx, cfg, coins, now)
}

// collectHTML scrapes the full market listing table. Expected row shape is
// coin code followed by bid, ask and last columns; unparsable rows are
// skipped.
func (s *PriceFeed) collectHTML(ctx context.Context, cfg collector.Config, coins []string, at time.Time) ([]collector.Record, error) {
	page, err := s.fetch.GetText(ctx, s.base(cfg)+"/prices", nil)
	if err != nil {
		return nil, err
	}

	wanted := make(map[string]bool, len(coins))
	for _, c := range coins {
		wanted[c] = true
	}

	var records []collector.Record
	for _, row := range collector.ExtractRows(page, "tr") {
		cells := collector.ExtractCells(row)
		if len(cells) < 4 {
			continue
		}

		coin := strings.ToUpper(strings.Fields(cells[0])[0])
		if !wanted[coin] {
			continue
		}

		bid, okBid := parseDecimal(cells[1])
		ask, okAsk := parseDecimal(cells[2])
		last, okLast := parseDecimal(cells[3])
		if !okBid || !okAsk || !okLast {
			continue
		}

		records = append(records, &model.PricePoint{
			Coin:      coin,
			Timestamp: at,
			Bid:       bid,
			Ask:       ask,
			Last:      last,
		})
	}

	if len(records) == 0 {
		return nil, fmt.Errorf("market board produced no parsable rows")
	}
	return records, nil
}

type marketSummary struct {
	CurrentHighestBidPrice  decimal.Decimal `json:"CurrentHighestBidPrice"`
	CurrentLowestOfferPrice decimal.Decimal `json:"CurrentLowestOfferPrice"`
	LastPrice               decimal.Decimal `json:"LastPrice"`
}

func (s *PriceFeed) collectJSON(ctx context.Context, cfg collector.Config, coins []string, at time.Time) ([]collector.Record, error) {
	var records []collector.Record
	for _, coin := range coins {
		url := fmt.Sprintf("%s/Public/GetMarketSummary?primaryCurrencyCode=%s&secondaryCurrencyCode=AUD",
			s.base(cfg), coin)

		var summary marketSummary
		if err := s.fetch.GetJSON(ctx, url, nil, &summary); err != nil {
			logger.WithFields(map[string]interface{}{
				"coin": coin,
				"url":  url,
			}).WithError(err).Warn("Market summary fetch failed, skipping coin")
			continue
		}

		records = append(records, &model.PricePoint{
			Coin:      coin,
			Timestamp: at,
			Bid:       summary.CurrentHighestBidPrice,
			Ask:       summary.CurrentLowestOfferPrice,
			Last:      summary.LastPrice,
		})
	}

	if len(records) == 0 {
		return nil, fmt.Errorf("no market summaries could be fetched")
	}
	return records, nil
}

// ValidateData enforces ask >= bid and positive last price; offending rows
// are dropped, not repaired.
func (s *PriceFeed) ValidateData(recs []collector.Record) []collector.Record {
	kept := recs[:0]
	for _, rec := range recs {
		p, ok := rec.(*model.PricePoint)
		if !ok {
			continue
		}
		if p.Ask.LessThan(p.Bid) {
			logger.WithFields(map[string]interface{}{
				"coin": p.Coin,
				"bid":  p.Bid.String(),
				"ask":  p.Ask.String(),
			}).Warn("Dropping crossed quote")
			continue
		}
		if !p.Last.IsPositive() {
			continue
		}
		kept = append(kept, rec)
	}
	return kept
}
