package repository

import (
	"context"
	"testing"
	"time"

	"ohmycoins/src/model"
)

func TestInsertNewsDeduplicatesByURL(t *testing.T) {
	db := newTestDB(t)
	repo := NewMarketDataRepository().WithDB(db)
	ctx := context.Background()

	now := time.Now().UTC()
	items := []model.NewsItem{
		{URL: "https://example.com/a", Source: "feed", Title: "BTC rallies", PublishedAt: now, CollectedAt: now},
		{URL: "https://example.com/b", Source: "feed", Title: "ETH upgrade", PublishedAt: now, CollectedAt: now},
	}

	stored, err := repo.InsertNews(ctx, items)
	if err != nil {
		t.Fatalf("unexpected error inserting news: %v", err)
	}
	if stored != 2 {
		t.Fatalf("expected 2 stored rows, got %d", stored)
	}

	// Same URLs again: both must be silently skipped.
	again := []model.NewsItem{
		{URL: "https://example.com/a", Source: "feed", Title: "BTC rallies", PublishedAt: now, CollectedAt: now},
		{URL: "https://example.com/c", Source: "feed", Title: "New listing", PublishedAt: now, CollectedAt: now},
	}

	stored, err = repo.InsertNews(ctx, again)
	if err != nil {
		t.Fatalf("duplicate insert must not error: %v", err)
	}
	if stored != 1 {
		t.Fatalf("expected 1 new row on partial duplicate batch, got %d", stored)
	}

	count, err := repo.TableCount(ctx, &model.NewsItem{})
	if err != nil {
		t.Fatalf("unexpected error counting: %v", err)
	}
	if count != 3 {
		t.Fatalf("expected 3 total rows, got %d", count)
	}
}

func TestInsertPricesDeduplicatesByCoinTimestamp(t *testing.T) {
	db := newTestDB(t)
	repo := NewPriceRepository().WithDB(db)
	ctx := context.Background()

	ts := time.Date(2025, 7, 1, 12, 0, 0, 0, time.UTC)
	points := []model.PricePoint{
		{Coin: "BTC", Timestamp: ts, Bid: dec("60000"), Ask: dec("60010"), Last: dec("60005")},
	}

	stored, err := repo.InsertPrices(ctx, points)
	if err != nil || stored != 1 {
		t.Fatalf("expected first insert to store 1 row, got %d err %v", stored, err)
	}

	// identical dedup key must be skipped
	dup := []model.PricePoint{
		{Coin: "BTC", Timestamp: ts, Bid: dec("60001"), Ask: dec("60011"), Last: dec("60006")},
	}
	stored, err = repo.InsertPrices(ctx, dup)
	if err != nil {
		t.Fatalf("duplicate price insert must not error: %v", err)
	}
	if stored != 0 {
		t.Fatalf("expected duplicate to be skipped, stored %d", stored)
	}

	latest, err := repo.Latest(ctx, "BTC")
	if err != nil || latest == nil {
		t.Fatalf("failed to fetch latest price: %v", err)
	}
	if !latest.Bid.Equal(dec("60000")) {
		t.Fatalf("duplicate insert must not overwrite, bid=%s", latest.Bid)
	}
}

func TestNewestTimestampEmptyTable(t *testing.T) {
	db := newTestDB(t)
	repo := NewMarketDataRepository().WithDB(db)

	newest, err := repo.NewestTimestamp(context.Background(), &model.CatalystEvent{}, "collected_at")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if newest != nil {
		t.Fatalf("expected nil timestamp for empty table, got %v", newest)
	}
}

func TestInsertCatalystsKeepsSyntheticFlag(t *testing.T) {
	db := newTestDB(t)
	repo := NewMarketDataRepository().WithDB(db)
	ctx := context.Background()

	eventAt := time.Date(2025, 9, 15, 0, 0, 0, 0, time.UTC)
	events := []model.CatalystEvent{
		{Coin: "ETH", Title: "Protocol upgrade", Category: "upgrade", EventAt: eventAt, Synthetic: true, CollectedAt: time.Now().UTC()},
	}

	if _, err := repo.InsertCatalysts(ctx, events); err != nil {
		t.Fatalf("unexpected error inserting catalysts: %v", err)
	}

	var stored model.CatalystEvent
	if err := db.First(&stored).Error; err != nil {
		t.Fatalf("failed to reload catalyst: %v", err)
	}
	if !stored.Synthetic {
		t.Fatalf("synthetic flag must survive storage")
	}
}
