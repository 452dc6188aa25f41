package strategies

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"ohmycoins/src/collector"
	"ohmycoins/src/model"
)

const defaultDefiAPIURL = "https://api.llama.fi/protocols"

// DefiProtocol snapshots protocol fundamentals from the public aggregator.
// One row per protocol per day; re-runs on the same day dedup.
type DefiProtocol struct {
	fetch *collector.Fetcher
}

func NewDefiProtocol(fetch *collector.Fetcher) *DefiProtocol {
	return &DefiProtocol{fetch: fetch}
}

func (s *DefiProtocol) Name() string { return "defi_protocol" }

func (s *DefiProtocol) Description() string {
	return "Daily TVL snapshots for the top DeFi protocols from the public aggregator"
}

func (s *DefiProtocol) ConfigSchema() map[string]string {
	return map[string]string{
		"api_url":   "aggregator endpoint override",
		"protocols": "comma-separated protocol names; empty takes the top N by TVL",
		"limit":     "protocol count when no explicit list is given, default 20",
	}
}

func (s *DefiProtocol) ValidateConfig(cfg collector.Config) error {
	_, err := s.limit(cfg)
	return err
}

func (s *DefiProtocol) limit(cfg collector.Config) (int, error) {
	raw := cfg.Get("limit", "20")
	limit, err := strconv.Atoi(raw)
	if err != nil || limit <= 0 {
		return 0, fmt.Errorf("limit must be a positive integer, got %q", raw)
	}
	return limit, nil
}

func (s *DefiProtocol) TestConnection(ctx context.Context, cfg collector.Config) error {
	var out []defiProtocolEntry
	return s.fetch.GetJSON(ctx, cfg.Get("api_url", defaultDefiAPIURL), nil, &out)
}

type defiProtocolEntry struct {
	Name    string  `json:"name"`
	Chain   string  `json:"chain"`
	TVL     float64 `json:"tvl"`
	Fees24h float64 `json:"fees_24h"`
	Rev24h  float64 `json:"revenue_24h"`
}

func (s *DefiProtocol) Collect(ctx context.Context, cfg collector.Config) ([]collector.Record, error) {
	var entries []defiProtocolEntry
	if err := s.fetch.GetJSON(ctx, cfg.Get("api_url", defaultDefiAPIURL), nil, &entries); err != nil {
		return nil, err
	}

	wanted := map[string]bool{}
	for _, p := range strings.Split(cfg.Get("protocols", ""), ",") {
		if name := strings.ToLower(strings.TrimSpace(p)); name != "" {
			wanted[name] = true
		}
	}

	limit, err := s.limit(cfg)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)

	var records []collector.Record
	for _, entry := range entries {
		if entry.Name == "" {
			continue
		}
		if len(wanted) > 0 {
			if !wanted[strings.ToLower(entry.Name)] {
				continue
			}
		} else if len(records) >= limit {
			break
		}

		records = append(records, &model.ProtocolFundamental{
			Protocol:    entry.Name,
			Chain:       entry.Chain,
			TVL:         decimal.NewFromFloat(entry.TVL),
			Fees24h:     decimal.NewFromFloat(entry.Fees24h),
			Revenue24h:  decimal.NewFromFloat(entry.Rev24h),
			CollectedOn: today,
			CollectedAt: now,
		})
	}
	return records, nil
}

// ValidateData drops rows with negative TVL; the aggregator emits those
// transiently while a protocol is being re-listed.
func (s *DefiProtocol) ValidateData(recs []collector.Record) []collector.Record {
	kept := recs[:0]
	for _, rec := range recs {
		p, ok := rec.(*model.ProtocolFundamental)
		if !ok || p.TVL.IsNegative() {
			continue
		}
		kept = append(kept, rec)
	}
	return kept
}
