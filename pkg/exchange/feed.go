package exchange

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/gregtusar/spotcycle/pkg/models"
)

// QuoteFeed keeps a streaming quote cache over the exchange websocket and
// falls back to the REST gateway when the cached quote is missing or stale.
type QuoteFeed struct {
	url       string
	rest      QuoteGateway
	maxAge    time.Duration
	conn      *websocket.Conn
	mu        sync.Mutex
	connected bool
	quotes    map[string]*models.Quote
	logger    *logrus.Logger
}

type feedMessage struct {
	Channel  string `json:"channel"`
	Currency string `json:"currency"`
	Buy      string `json:"buy"`
	Sell     string `json:"sell"`
	High     string `json:"high"`
}

type feedSubscribe struct {
	Op         string   `json:"op"`
	Channel    string   `json:"channel"`
	Currencies []string `json:"currencies"`
}

func NewQuoteFeed(url string, rest QuoteGateway, maxAge time.Duration, logger *logrus.Logger) *QuoteFeed {
	return &QuoteFeed{
		url:    url,
		rest:   rest,
		maxAge: maxAge,
		quotes: make(map[string]*models.Quote),
		logger: logger,
	}
}

func (f *QuoteFeed) Connect(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.connected {
		return nil
	}

	dialer := websocket.Dialer{
		HandshakeTimeout: 10 * time.Second,
	}

	conn, _, err := dialer.DialContext(ctx, f.url, nil)
	if err != nil {
		return fmt.Errorf("failed to connect to quote feed: %w", err)
	}

	f.conn = conn
	f.connected = true

	go f.readLoop(ctx)
	go f.keepAlive(ctx)

	return nil
}

func (f *QuoteFeed) Subscribe(currencies []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if !f.connected {
		return fmt.Errorf("quote feed not connected")
	}

	return f.conn.WriteJSON(feedSubscribe{
		Op:         "subscribe",
		Channel:    "ticker",
		Currencies: currencies,
	})
}

// GetQuote serves the cached streaming quote when fresh, REST otherwise.
func (f *QuoteFeed) GetQuote(ctx context.Context, currency string) (*models.Quote, error) {
	f.mu.Lock()
	quote, ok := f.quotes[currency]
	f.mu.Unlock()

	if ok && time.Since(quote.Timestamp) <= f.maxAge {
		q := *quote
		return &q, nil
	}
	return f.rest.GetQuote(ctx, currency)
}

func (f *QuoteFeed) readLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
			var msg feedMessage
			if err := f.conn.ReadJSON(&msg); err != nil {
				f.logger.WithError(err).Error("Failed to read quote feed message")
				f.handleDisconnect()
				return
			}
			if msg.Channel != "ticker" {
				continue
			}
			if err := f.updateQuote(msg); err != nil {
				f.logger.WithError(err).WithField("currency", msg.Currency).
					Warn("Dropping malformed ticker message")
			}
		}
	}
}

func (f *QuoteFeed) updateQuote(msg feedMessage) error {
	quote := &models.Quote{Currency: msg.Currency, Timestamp: time.Now()}

	var err error
	if quote.BestBid, err = decimal.NewFromString(msg.Buy); err != nil {
		return fmt.Errorf("bad bid %q: %w", msg.Buy, err)
	}
	if quote.BestAsk, err = decimal.NewFromString(msg.Sell); err != nil {
		return fmt.Errorf("bad ask %q: %w", msg.Sell, err)
	}
	if quote.PeriodHigh, err = decimal.NewFromString(msg.High); err != nil {
		return fmt.Errorf("bad high %q: %w", msg.High, err)
	}

	f.mu.Lock()
	f.quotes[msg.Currency] = quote
	f.mu.Unlock()
	return nil
}

func (f *QuoteFeed) keepAlive(ctx context.Context) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			f.mu.Lock()
			if f.connected {
				if err := f.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
					f.logger.WithError(err).Error("Failed to send ping")
					f.handleDisconnectLocked()
				}
			}
			f.mu.Unlock()
		}
	}
}

func (f *QuoteFeed) handleDisconnect() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handleDisconnectLocked()
}

func (f *QuoteFeed) handleDisconnectLocked() {
	f.connected = false
	if f.conn != nil {
		f.conn.Close()
	}
}
