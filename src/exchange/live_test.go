package exchange

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
)

func TestLivePlaceOrderSignsBody(t *testing.T) {
	secret := "s3cr3t"
	var gotPath string

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		raw, err := io.ReadAll(r.Body)
		if err != nil {
			t.Errorf("read body: %v", err)
		}

		if sig := r.Header.Get("x-signature"); sig != Sign(secret, raw) {
			t.Errorf("signature does not match body: %s", sig)
		}

		var body map[string]interface{}
		if err := json.Unmarshal(raw, &body); err != nil {
			t.Errorf("parse body: %v", err)
		}
		if body["apiKey"] != "key-1" {
			t.Errorf("expected apiKey in body, got %v", body["apiKey"])
		}
		if _, ok := body["nonce"].(float64); !ok {
			t.Errorf("expected numeric nonce in body, got %v", body["nonce"])
		}
		if body["orderType"] != "Bid" {
			t.Errorf("expected Bid order, got %v", body["orderType"])
		}
		if body["volume"] != "0.5" {
			t.Errorf("expected volume 0.5, got %v", body["volume"])
		}

		json.NewEncoder(w).Encode(map[string]interface{}{
			"OrderGuid":    "abc-123",
			"Status":       "Filled",
			"VolumeFilled": "0.5",
			"AvgPrice":     "50000",
		})
	}))
	defer server.Close()

	client := NewLiveClient("key-1", secret, server.URL)
	order, err := client.PlaceOrder(context.Background(), OrderRequest{
		Coin: "BTC", Side: "buy", Type: "market", Quantity: dec("0.5"),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if gotPath != "/Private/PlaceMarketOrder" {
		t.Fatalf("expected market order path, got %s", gotPath)
	}
	if order.ExchangeOrderID != "abc-123" {
		t.Fatalf("expected order id abc-123, got %s", order.ExchangeOrderID)
	}
	if order.Status != StatusFilled {
		t.Fatalf("expected filled, got %s", order.Status)
	}
	if !order.AvgPrice.Equal(dec("50000")) {
		t.Fatalf("expected avg price 50000, got %s", order.AvgPrice)
	}
}

func TestLiveLimitOrderPathAndPrice(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/Private/PlaceLimitOrder" {
			t.Errorf("expected limit order path, got %s", r.URL.Path)
		}
		var body map[string]interface{}
		json.NewDecoder(r.Body).Decode(&body)
		if body["price"] != "49500" {
			t.Errorf("expected price 49500, got %v", body["price"])
		}
		json.NewEncoder(w).Encode(map[string]interface{}{"OrderGuid": "lmt-1", "Status": "Open"})
	}))
	defer server.Close()

	client := NewLiveClient("k", "s", server.URL)
	order, err := client.PlaceOrder(context.Background(), OrderRequest{
		Coin: "BTC", Side: "sell", Type: "limit", Quantity: dec("1"), Price: dec("49500"),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if order.Status != StatusOpen {
		t.Fatalf("expected open, got %s", order.Status)
	}
}

func TestLivePlaceOrderNoGuid(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{"Status": "Rejected"})
	}))
	defer server.Close()

	client := NewLiveClient("k", "s", server.URL)
	_, err := client.PlaceOrder(context.Background(), OrderRequest{
		Coin: "BTC", Side: "buy", Type: "market", Quantity: dec("1"),
	})
	if err == nil {
		t.Fatal("expected error when exchange returns no order id")
	}
}

func TestLiveGetOrderStatusNotFound(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{})
	}))
	defer server.Close()

	client := NewLiveClient("k", "s", server.URL)
	_, err := client.GetOrderStatus(context.Background(), "missing")
	if !errors.Is(err, ErrOrderNotFound) {
		t.Fatalf("expected ErrOrderNotFound, got %v", err)
	}
}

func TestLiveGetBalances(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/Private/GetAccounts" {
			t.Errorf("expected accounts path, got %s", r.URL.Path)
		}
		json.NewEncoder(w).Encode([]map[string]interface{}{
			{"CurrencyCode": "AUD", "TotalBalance": "1000.50", "AvailableBalance": "900"},
			{"CurrencyCode": "BTC", "TotalBalance": "0.25", "AvailableBalance": "0.25"},
		})
	}))
	defer server.Close()

	client := NewLiveClient("k", "s", server.URL)
	balances, err := client.GetBalances(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(balances) != 2 {
		t.Fatalf("expected 2 balances, got %d", len(balances))
	}
	if balances[0].Currency != "AUD" || !balances[0].Total.Equal(dec("1000.50")) {
		t.Fatalf("unexpected first balance: %+v", balances[0])
	}
	if !balances[0].Available.Equal(dec("900")) {
		t.Fatalf("unexpected available: %s", balances[0].Available)
	}
}

func TestLiveGetLastPrice(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/Public/GetMarketSummary" {
			t.Errorf("expected market summary path, got %s", r.URL.Path)
		}
		if r.URL.Query().Get("primaryCurrencyCode") != "XRP" {
			t.Errorf("expected XRP query, got %s", r.URL.Query().Get("primaryCurrencyCode"))
		}
		json.NewEncoder(w).Encode(map[string]interface{}{"LastPrice": "0.85"})
	}))
	defer server.Close()

	client := NewLiveClient("k", "s", server.URL)
	price, err := client.GetLastPrice(context.Background(), "XRP")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !price.Equal(dec("0.85")) {
		t.Fatalf("expected 0.85, got %s", price)
	}
}

func TestLivePrivateErrorStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "invalid signature", http.StatusUnauthorized)
	}))
	defer server.Close()

	client := NewLiveClient("k", "s", server.URL)
	if err := client.CancelOrder(context.Background(), "abc"); err == nil {
		t.Fatal("expected error on HTTP 401")
	}
	if err := client.TestConnection(context.Background()); err == nil {
		t.Fatal("expected connection test failure on HTTP 401")
	}
}

func TestLivePrivateCallsAreNotRetried(t *testing.T) {
	var requests int32

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&requests, 1)
		http.Error(w, "maintenance", http.StatusServiceUnavailable)
	}))
	defer server.Close()

	client := NewLiveClient("k", "s", server.URL)
	_, err := client.PlaceOrder(context.Background(), OrderRequest{
		Coin: "BTC", Side: "buy", Type: "market", Quantity: dec("0.5"),
	})
	if err == nil {
		t.Fatal("expected error on HTTP 503")
	}
	// the signed body embeds the nonce; a replay would be rejected anyway
	if got := atomic.LoadInt32(&requests); got != 1 {
		t.Fatalf("private call must hit the exchange exactly once, got %d", got)
	}
}

func TestLivePublicCallsRetryTransientFailures(t *testing.T) {
	var requests int32

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&requests, 1) == 1 {
			http.Error(w, "maintenance", http.StatusServiceUnavailable)
			return
		}
		json.NewEncoder(w).Encode(map[string]interface{}{"LastPrice": "52000"})
	}))
	defer server.Close()

	client := NewLiveClient("k", "s", server.URL)
	price, err := client.GetLastPrice(context.Background(), "BTC")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !price.Equal(dec("52000")) {
		t.Fatalf("expected 52000 after retry, got %s", price)
	}
	if got := atomic.LoadInt32(&requests); got != 2 {
		t.Fatalf("expected one retry, got %d requests", got)
	}
}
