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

const defaultWhaleAPIURL = "https://api.whale-alert.io/v1/transactions"

// SmartMoney tracks large transfers from the whale feed. Deduplicates by
// transaction hash; disabled without an API key.
type SmartMoney struct {
	fetch    *collector.Fetcher
	apiKey   string
	disabled bool
}

func NewSmartMoney(fetch *collector.Fetcher, apiKey string) *SmartMoney {
	s := &SmartMoney{fetch: fetch, apiKey: apiKey, disabled: apiKey == ""}
	if s.disabled {
		logger.Warn("SMART_MONEY_API_KEY not set, smart_money collector is disabled")
	}
	return s
}

func (s *SmartMoney) Name() string { return "smart_money" }

func (s *SmartMoney) Description() string {
	return "Large on-chain transfers from the whale transaction feed"
}

func (s *SmartMoney) ConfigSchema() map[string]string {
	return map[string]string{
		"api_url":   "whale feed endpoint override",
		"min_value": "minimum transfer value in USD, default 500000",
	}
}

func (s *SmartMoney) ValidateConfig(cfg collector.Config) error {
	if _, ok := parseDecimal(cfg.Get("min_value", "500000")); !ok {
		return fmt.Errorf("min_value must be numeric, got %q", cfg["min_value"])
	}
	return nil
}

func (s *SmartMoney) url(cfg collector.Config) string {
	return fmt.Sprintf("%s?api_key=%s&min_value=%s",
		cfg.Get("api_url", defaultWhaleAPIURL), s.apiKey, cfg.Get("min_value", "500000"))
}

func (s *SmartMoney) TestConnection(ctx context.Context, cfg collector.Config) error {
	if s.disabled {
		return fmt.Errorf("smart_money is disabled: no API key configured")
	}
	var out whaleFeedResponse
	return s.fetch.GetJSON(ctx, s.url(cfg), nil, &out)
}

type whaleFeedResponse struct {
	Transactions []struct {
		Hash      string  `json:"hash"`
		Symbol    string  `json:"symbol"`
		Amount    float64 `json:"amount"`
		Timestamp int64   `json:"timestamp"`
		From      struct {
			Address   string `json:"address"`
			OwnerType string `json:"owner_type"`
		} `json:"from"`
		To struct {
			Address   string `json:"address"`
			OwnerType string `json:"owner_type"`
		} `json:"to"`
	} `json:"transactions"`
}

func (s *SmartMoney) Collect(ctx context.Context, cfg collector.Config) ([]collector.Record, error) {
	if s.disabled {
		return nil, nil
	}

	var out whaleFeedResponse
	if err := s.fetch.GetJSON(ctx, s.url(cfg), nil, &out); err != nil {
		return nil, err
	}

	records := make([]collector.Record, 0, len(out.Transactions))
	for _, tx := range out.Transactions {
		if tx.Hash == "" {
			continue
		}

		// transfers into an exchange wallet read as sell pressure,
		// transfers out as accumulation
		direction := "out"
		address := tx.To.Address
		if tx.To.OwnerType == "exchange" {
			direction = "in"
			address = tx.From.Address
		}

		records = append(records, &model.SmartMoneyFlow{
			Address:     address,
			Asset:       strings.ToUpper(tx.Symbol),
			Direction:   direction,
			Amount:      decimal.NewFromFloat(tx.Amount),
			TxHash:      tx.Hash,
			CollectedAt: time.Unix(tx.Timestamp, 0).UTC(),
		})
	}
	return records, nil
}

// ValidateData drops non-positive transfer amounts.
func (s *SmartMoney) ValidateData(recs []collector.Record) []collector.Record {
	kept := recs[:0]
	for _, rec := range recs {
		f, ok := rec.(*model.SmartMoneyFlow)
		if !ok || !f.Amount.IsPositive() {
			continue
		}
		kept = append(kept, rec)
	}
	return kept
}
