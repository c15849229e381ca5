package exchange

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/gregtusar/spotcycle/pkg/models"
)

// ErrOrderNotFound means the exchange has no record for the queried id.
var ErrOrderNotFound = errors.New("exchange: order not found")

// QuoteGateway serves market snapshots.
type QuoteGateway interface {
	GetQuote(ctx context.Context, currency string) (*models.Quote, error)
}

// OrderGateway submits, cancels, and queries orders.
type OrderGateway interface {
	PlaceOrder(ctx context.Context, req *models.OrderRequest, creds models.Credentials) (*models.OrderResult, error)
	CancelOrder(ctx context.Context, orderID, currency string, creds models.Credentials) error
	GetOrderStatus(ctx context.Context, orderID, currency string, creds models.Credentials) (*models.OrderState, error)
}

// Gateway is the full exchange surface.
type Gateway interface {
	QuoteGateway
	OrderGateway
}

const codeOK = 1000

type Client struct {
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
	auth       Authenticator
	logger     *logrus.Logger
}

func NewClient(baseURL string, auth Authenticator, logger *logrus.Logger) *Client {
	return &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 15 * time.Second},
		limiter:    rate.NewLimiter(rate.Limit(10), 20),
		auth:       auth,
		logger:     logger,
	}
}

type tickerResponse struct {
	Ticker struct {
		Buy  string `json:"buy"`
		Sell string `json:"sell"`
		High string `json:"high"`
	} `json:"ticker"`
}

func (c *Client) GetQuote(ctx context.Context, currency string) (*models.Quote, error) {
	body, err := c.doPublic(ctx, "/api/v1/ticker?currency="+url.QueryEscape(currency))
	if err != nil {
		return nil, err
	}

	var res tickerResponse
	if err := json.Unmarshal(body, &res); err != nil {
		return nil, fmt.Errorf("failed to decode ticker: %w", err)
	}

	quote := &models.Quote{Currency: currency, Timestamp: time.Now()}
	if quote.BestBid, err = decimal.NewFromString(res.Ticker.Buy); err != nil {
		return nil, fmt.Errorf("bad ticker bid %q: %w", res.Ticker.Buy, err)
	}
	if quote.BestAsk, err = decimal.NewFromString(res.Ticker.Sell); err != nil {
		return nil, fmt.Errorf("bad ticker ask %q: %w", res.Ticker.Sell, err)
	}
	if quote.PeriodHigh, err = decimal.NewFromString(res.Ticker.High); err != nil {
		return nil, fmt.Errorf("bad ticker high %q: %w", res.Ticker.High, err)
	}
	return quote, nil
}

type orderResponse struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	ID      string `json:"id"`
}

func (c *Client) PlaceOrder(ctx context.Context, req *models.OrderRequest, creds models.Credentials) (*models.OrderResult, error) {
	payload := map[string]any{
		"client_id": req.ClientID,
		"currency":  req.Currency,
		"type":      string(req.Side),
		"price":     req.Price.String(),
		"amount":    req.Quantity.String(),
	}

	body, err := c.doSigned(ctx, http.MethodPost, "/api/v1/order", payload, creds)
	if err != nil {
		return nil, err
	}

	var res orderResponse
	if err := json.Unmarshal(body, &res); err != nil {
		return nil, fmt.Errorf("failed to decode order response: %w", err)
	}
	return &models.OrderResult{
		Accepted: res.Code == codeOK,
		OrderID:  res.ID,
		Message:  res.Message,
	}, nil
}

func (c *Client) CancelOrder(ctx context.Context, orderID, currency string, creds models.Credentials) error {
	payload := map[string]any{"id": orderID, "currency": currency}

	body, err := c.doSigned(ctx, http.MethodPost, "/api/v1/cancel_order", payload, creds)
	if err != nil {
		return err
	}

	var res orderResponse
	if err := json.Unmarshal(body, &res); err != nil {
		return fmt.Errorf("failed to decode cancel response: %w", err)
	}
	if res.Code != codeOK {
		return fmt.Errorf("cancel rejected: %s", res.Message)
	}
	return nil
}

type orderStatusResponse struct {
	Code   int    `json:"code"`
	ID     string `json:"id"`
	Status string `json:"status"`
	Fees   string `json:"fees"`
}

const codeOrderNotFound = 3001

func (c *Client) GetOrderStatus(ctx context.Context, orderID, currency string, creds models.Credentials) (*models.OrderState, error) {
	path := "/api/v1/get_order?id=" + url.QueryEscape(orderID) + "&currency=" + url.QueryEscape(currency)
	body, err := c.doSigned(ctx, http.MethodGet, path, nil, creds)
	if err != nil {
		return nil, err
	}

	var res orderStatusResponse
	if err := json.Unmarshal(body, &res); err != nil {
		return nil, fmt.Errorf("failed to decode order status: %w", err)
	}
	if res.Code == codeOrderNotFound {
		return nil, ErrOrderNotFound
	}
	if res.Code != codeOK {
		return nil, fmt.Errorf("order status query failed with code %d", res.Code)
	}

	state := &models.OrderState{Status: wireStatus(res.Status)}
	if res.Fees != "" {
		if state.Fees, err = decimal.NewFromString(res.Fees); err != nil {
			return nil, fmt.Errorf("bad order fees %q: %w", res.Fees, err)
		}
	}
	return state, nil
}

// wireStatus maps exchange status strings onto the local status domain.
// Anything unrecognized is treated as ambiguous rather than terminal.
func wireStatus(s string) models.OrderStatus {
	switch s {
	case "open":
		return models.OrderStatusWait
	case "partial":
		return models.OrderStatusWaitPartial
	case "filled":
		return models.OrderStatusFilled
	case "cancelled":
		return models.OrderStatusCancelled
	default:
		return models.OrderStatusWaitPartial
	}
}

func (c *Client) doPublic(ctx context.Context, path string) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, err
	}
	return c.execute(req)
}

func (c *Client) doSigned(ctx context.Context, method, path string, payload map[string]any, creds models.Credentials) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	var body []byte
	var reader io.Reader
	if payload != nil {
		var err error
		if body, err = json.Marshal(payload); err != nil {
			return nil, fmt.Errorf("failed to encode request: %w", err)
		}
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	if err := c.auth.AddAuthHeaders(req, method, path, string(body), creds); err != nil {
		return nil, fmt.Errorf("failed to sign request: %w", err)
	}
	return c.execute(req)
}

func (c *Client) execute(req *http.Request) ([]byte, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("exchange request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("failed to read exchange response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("exchange returned status %d", resp.StatusCode)
	}
	return body, nil
}
