package exchange

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
	logger "github.com/sirupsen/logrus"
)

const (
	streamReconnectBase = 2 * time.Second
	streamReconnectMax  = 30 * time.Second
	streamReadTimeout   = 90 * time.Second
)

// tickerEvent is the ticker channel payload pushed by the exchange.
type tickerEvent struct {
	Channel string `json:"channel"`
	Data    struct {
		Pair      string          `json:"pair"`
		LastPrice decimal.Decimal `json:"last_price"`
	} `json:"data"`
}

// TickerStream keeps a websocket subscription to the exchange ticker feed
// and caches the most recent price per coin. It reconnects with backoff
// until Stop is called.
type TickerStream struct {
	url   string
	coins []string

	mu     sync.RWMutex
	prices map[string]streamPrice

	stop chan struct{}
	done chan struct{}
	once sync.Once
}

type streamPrice struct {
	price decimal.Decimal
	at    time.Time
}

func NewTickerStream(url string, coins []string) *TickerStream {
	return &TickerStream{
		url:    url,
		coins:  coins,
		prices: make(map[string]streamPrice),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
}

// Start runs the read loop in the background.
func (s *TickerStream) Start() {
	go s.run()
}

// Stop closes the stream and waits for the read loop to exit.
func (s *TickerStream) Stop() {
	s.once.Do(func() { close(s.stop) })
	<-s.done
}

// LastPrice returns the cached price and its receipt time.
// ok is false when no tick for the coin has arrived yet.
func (s *TickerStream) LastPrice(coin string) (decimal.Decimal, time.Time, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entry, ok := s.prices[coin]
	return entry.price, entry.at, ok
}

func (s *TickerStream) run() {
	defer close(s.done)

	backoff := streamReconnectBase
	for {
		select {
		case <-s.stop:
			return
		default:
		}

		err := s.connectAndRead()
		if err != nil {
			logger.WithFields(map[string]interface{}{
				"url":   s.url,
				"error": err.Error(),
			}).Warn("Ticker stream disconnected, reconnecting")
		}

		select {
		case <-s.stop:
			return
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > streamReconnectMax {
			backoff = streamReconnectMax
		}
	}
}

func (s *TickerStream) connectAndRead() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, s.url, nil)
	cancel()
	if err != nil {
		return err
	}
	defer conn.Close()

	subscribe := map[string]interface{}{
		"event":    "subscribe",
		"channels": []string{"ticker"},
		"pairs":    s.coins,
	}
	if err := conn.WriteJSON(subscribe); err != nil {
		return err
	}

	// Unblock ReadMessage when Stop is called mid-read.
	go func() {
		select {
		case <-s.stop:
			conn.Close()
		case <-s.done:
		}
	}()

	for {
		conn.SetReadDeadline(time.Now().Add(streamReadTimeout))
		_, payload, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-s.stop:
				return nil
			default:
				return err
			}
		}

		var event tickerEvent
		if err := json.Unmarshal(payload, &event); err != nil {
			logger.WithField("error", err.Error()).Debug("Skipping malformed ticker payload")
			continue
		}
		if event.Channel != "ticker" || event.Data.Pair == "" {
			continue
		}

		s.mu.Lock()
		s.prices[event.Data.Pair] = streamPrice{price: event.Data.LastPrice, at: time.Now()}
		s.mu.Unlock()
	}
}
