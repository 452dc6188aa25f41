package strategies

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/nntaoli-project/goex"
	"github.com/nntaoli-project/goex/binance"
	"github.com/shopspring/decimal"

	"ohmycoins/src/collector"
	"ohmycoins/src/model"
)

const defaultBarLimit = 288 // one day of 5-minute bars

// OHLCVBackfill pulls 5-minute candles from the public binance kline
// endpoint and upserts them, so re-runs heal gaps instead of duplicating.
type OHLCVBackfill struct {
	exchange goex.API
}

func NewOHLCVBackfill() *OHLCVBackfill {
	apiConfig := &goex.APIConfig{
		HttpClient: http.DefaultClient,
		Endpoint:   binance.GLOBAL_API_BASE_URL,
	}
	return &OHLCVBackfill{exchange: binance.NewWithConfig(apiConfig)}
}

func (s *OHLCVBackfill) Name() string { return "ohlcv_backfill" }

func (s *OHLCVBackfill) Description() string {
	return "5-minute OHLCV candle backfill for the configured trading pair"
}

func (s *OHLCVBackfill) ConfigSchema() map[string]string {
	return map[string]string{
		"symbol":     "base currency, e.g. BTC",
		"quote":      "quote currency, default USDT",
		"limit":      "maximum bars per run, default 288",
		"back_hours": "how far back to request, default 24",
	}
}

func (s *OHLCVBackfill) ValidateConfig(cfg collector.Config) error {
	if cfg.Get("symbol", "BTC") == "" {
		return fmt.Errorf("symbol must not be empty")
	}
	if _, err := s.limit(cfg); err != nil {
		return err
	}
	_, err := s.backWindow(cfg)
	return err
}

func (s *OHLCVBackfill) limit(cfg collector.Config) (int, error) {
	raw := cfg.Get("limit", strconv.Itoa(defaultBarLimit))
	limit, err := strconv.Atoi(raw)
	if err != nil || limit <= 0 {
		return 0, fmt.Errorf("limit must be a positive integer, got %q", raw)
	}
	return limit, nil
}

func (s *OHLCVBackfill) backWindow(cfg collector.Config) (time.Duration, error) {
	raw := cfg.Get("back_hours", "24")
	hours, err := strconv.Atoi(raw)
	if err != nil || hours <= 0 {
		return 0, fmt.Errorf("back_hours must be a positive integer, got %q", raw)
	}
	return time.Duration(hours) * time.Hour, nil
}

func (s *OHLCVBackfill) pair(cfg collector.Config) goex.CurrencyPair {
	return goex.NewCurrencyPair(
		goex.Currency{Symbol: cfg.Get("symbol", "BTC")},
		goex.Currency{Symbol: cfg.Get("quote", "USDT")},
	)
}

func (s *OHLCVBackfill) TestConnection(ctx context.Context, cfg collector.Config) error {
	_, err := s.exchange.GetKlineRecords(s.pair(cfg), goex.KLINE_PERIOD_5MIN, 1)
	return err
}

func (s *OHLCVBackfill) Collect(ctx context.Context, cfg collector.Config) ([]collector.Record, error) {
	limit, err := s.limit(cfg)
	if err != nil {
		return nil, err
	}
	back, err := s.backWindow(cfg)
	if err != nil {
		return nil, err
	}

	const millis = 1000
	end := time.Now().UTC()
	start := end.Add(-back)

	klines, err := s.exchange.GetKlineRecords(
		s.pair(cfg),
		goex.KLINE_PERIOD_5MIN,
		limit,
		goex.OptionalParameter{}.
			Optional("startTime", start.Unix()*millis).
			Optional("endTime", end.Unix()*millis),
	)
	if err != nil {
		return nil, fmt.Errorf("kline fetch: %w", err)
	}

	records := make([]collector.Record, 0, len(klines))
	for i := range klines {
		k := klines[i]
		records = append(records, &model.OHLCVBar{
			Datetime: time.Unix(k.Timestamp, 0).UTC(),
			Symbol:   k.Pair.String(),
			Open:     decimal.NewFromFloat(k.Open),
			High:     decimal.NewFromFloat(k.High),
			Low:      decimal.NewFromFloat(k.Low),
			Close:    decimal.NewFromFloat(k.Close),
			Volume:   decimal.NewFromFloat(k.Vol),
		})
	}
	return records, nil
}

// ValidateData drops bars whose high/low bracket is inconsistent.
func (s *OHLCVBackfill) ValidateData(recs []collector.Record) []collector.Record {
	kept := recs[:0]
	for _, rec := range recs {
		b, ok := rec.(*model.OHLCVBar)
		if !ok {
			continue
		}
		if b.High.LessThan(b.Low) || b.Volume.IsNegative() {
			continue
		}
		kept = append(kept, rec)
	}
	return kept
}
