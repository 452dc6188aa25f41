package strategies

import (
	"context"
	"encoding/xml"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	logger "github.com/sirupsen/logrus"

	"ohmycoins/src/collector"
	"ohmycoins/src/model"
)

const (
	defaultNewsAPIURL = "https://cryptopanic.com/api/v1/posts/"
	defaultNewsRSSURL = "https://www.coindesk.com/arc/outboundfeeds/rss/"
)

var (
	bullishWords = []string{"surge", "rally", "soar", "gain", "bull", "record", "approval", "adoption", "breakout"}
	bearishWords = []string{"crash", "plunge", "hack", "exploit", "ban", "bear", "lawsuit", "selloff", "liquidation"}
)

// NewsFeed pulls headlines from the news API, falling back to the public
// RSS feed when the API is unreachable. Without an API key the strategy is
// disabled and collects nothing.
type NewsFeed struct {
	fetch    *collector.Fetcher
	apiKey   string
	disabled bool
}

func NewNewsFeed(fetch *collector.Fetcher, apiKey string) *NewsFeed {
	s := &NewsFeed{fetch: fetch, apiKey: apiKey, disabled: apiKey == ""}
	if s.disabled {
		logger.Warn("NEWS_API_KEY not set, news_feed collector is disabled")
	}
	return s
}

func (s *NewsFeed) Name() string { return "news_feed" }

func (s *NewsFeed) Description() string {
	return "Crypto headlines with naive keyword sentiment, deduplicated by URL"
}

func (s *NewsFeed) ConfigSchema() map[string]string {
	return map[string]string{
		"api_url":    "news API endpoint override",
		"rss_url":    "RSS fallback endpoint override",
		"currencies": "comma-separated coin filter passed to the API",
	}
}

func (s *NewsFeed) ValidateConfig(cfg collector.Config) error {
	return nil
}

func (s *NewsFeed) TestConnection(ctx context.Context, cfg collector.Config) error {
	if s.disabled {
		return fmt.Errorf("news_feed is disabled: no API key configured")
	}
	var out newsAPIResponse
	return s.fetch.GetJSON(ctx, s.apiURL(cfg), nil, &out)
}

func (s *NewsFeed) apiURL(cfg collector.Config) string {
	url := fmt.Sprintf("%s?auth_token=%s&public=true", cfg.Get("api_url", defaultNewsAPIURL), s.apiKey)
	if currencies := cfg.Get("currencies", ""); currencies != "" {
		url += "&currencies=" + currencies
	}
	return url
}

type newsAPIResponse struct {
	Results []struct {
		Title       string    `json:"title"`
		URL         string    `json:"url"`
		PublishedAt time.Time `json:"published_at"`
		Source      struct {
			Title string `json:"title"`
		} `json:"source"`
	} `json:"results"`
}

type rssFeed struct {
	Channel struct {
		Title string `xml:"title"`
		Items []struct {
			Title       string `xml:"title"`
			Link        string `xml:"link"`
			Description string `xml:"description"`
			PubDate     string `xml:"pubDate"`
		} `xml:"item"`
	} `xml:"channel"`
}

func (s *NewsFeed) Collect(ctx context.Context, cfg collector.Config) ([]collector.Record, error) {
	if s.disabled {
		return nil, nil
	}

	records, err := s.collectAPI(ctx, cfg)
	if err == nil {
		return records, nil
	}
	logger.WithError(err).Warn("News API failed, falling back to RSS")

	return s.collectRSS(ctx, cfg)
}

func (s *NewsFeed) collectAPI(ctx context.Context, cfg collector.Config) ([]collector.Record, error) {
	var out newsAPIResponse
	if err := s.fetch.GetJSON(ctx, s.apiURL(cfg), nil, &out); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	records := make([]collector.Record, 0, len(out.Results))
	for _, item := range out.Results {
		if item.URL == "" {
			continue
		}
		records = append(records, &model.NewsItem{
			URL:         item.URL,
			Source:      item.Source.Title,
			Title:       item.Title,
			Sentiment:   scoreSentiment(item.Title),
			PublishedAt: item.PublishedAt,
			CollectedAt: now,
		})
	}
	return records, nil
}

func (s *NewsFeed) collectRSS(ctx context.Context, cfg collector.Config) ([]collector.Record, error) {
	body, err := s.fetch.GetText(ctx, cfg.Get("rss_url", defaultNewsRSSURL), nil)
	if err != nil {
		return nil, err
	}

	var feed rssFeed
	if err := xml.Unmarshal([]byte(body), &feed); err != nil {
		return nil, fmt.Errorf("rss parse: %w", err)
	}

	now := time.Now().UTC()
	records := make([]collector.Record, 0, len(feed.Channel.Items))
	for _, item := range feed.Channel.Items {
		if item.Link == "" {
			continue
		}

		published := now
		if t, err := time.Parse(time.RFC1123Z, item.PubDate); err == nil {
			published = t.UTC()
		}

		records = append(records, &model.NewsItem{
			URL:         item.Link,
			Source:      feed.Channel.Title,
			Title:       item.Title,
			Summary:     collector.StripTags(item.Description),
			Sentiment:   scoreSentiment(item.Title),
			PublishedAt: published,
			CollectedAt: now,
		})
	}
	return records, nil
}

// scoreSentiment is a deliberately naive keyword count in [-1, 1].
func scoreSentiment(title string) decimal.Decimal {
	lowered := strings.ToLower(title)

	hits := 0
	score := 0
	for _, w := range bullishWords {
		if strings.Contains(lowered, w) {
			hits++
			score++
		}
	}
	for _, w := range bearishWords {
		if strings.Contains(lowered, w) {
			hits++
			score--
		}
	}

	if hits == 0 {
		return decimal.Zero
	}
	return decimal.NewFromInt(int64(score)).Div(decimal.NewFromInt(int64(hits)))
}
