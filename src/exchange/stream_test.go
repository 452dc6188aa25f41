package exchange

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func TestTickerStreamCachesPrices(t *testing.T) {
	upgrader := websocket.Upgrader{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		defer conn.Close()

		// Wait for the subscribe request before pushing ticks.
		var sub map[string]interface{}
		if err := conn.ReadJSON(&sub); err != nil {
			t.Errorf("read subscribe: %v", err)
			return
		}
		if sub["event"] != "subscribe" {
			t.Errorf("expected subscribe event, got %v", sub["event"])
		}

		ticks := []string{
			`{"channel":"ticker","data":{"pair":"BTC","last_price":"50000"}}`,
			`{"channel":"ticker","data":{"pair":"ETH","last_price":"2500"}}`,
			`not json`,
			`{"channel":"ticker","data":{"pair":"BTC","last_price":"50100"}}`,
		}
		for _, tick := range ticks {
			if err := conn.WriteMessage(websocket.TextMessage, []byte(tick)); err != nil {
				return
			}
		}

		// Hold the connection open until the client disconnects.
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer server.Close()

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http")
	stream := NewTickerStream(wsURL, []string{"BTC", "ETH"})
	stream.Start()
	defer stream.Stop()

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		price, at, ok := stream.LastPrice("BTC")
		if ok && price.Equal(dec("50100")) {
			if at.IsZero() {
				t.Fatal("expected a receipt timestamp")
			}
			eth, _, okEth := stream.LastPrice("ETH")
			if !okEth || !eth.Equal(dec("2500")) {
				t.Fatalf("expected cached ETH price 2500, got %s ok=%v", eth, okEth)
			}
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatal("timed out waiting for cached ticker price")
}

func TestTickerStreamNoPriceYet(t *testing.T) {
	stream := NewTickerStream("ws://127.0.0.1:1/ws", []string{"BTC"})
	if _, _, ok := stream.LastPrice("BTC"); ok {
		t.Fatal("expected no cached price before any tick")
	}
}
