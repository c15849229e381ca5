package exchange

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gregtusar/spotcycle/pkg/models"
)

var testCreds = models.Credentials{AccessKey: "ak", SecretKey: "sk"}

func testClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return NewClient(srv.URL, &HMACAuthenticator{}, logger)
}

func TestGetQuote(t *testing.T) {
	client := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/ticker", r.URL.Path)
		assert.Equal(t, "btc", r.URL.Query().Get("currency"))
		json.NewEncoder(w).Encode(map[string]any{
			"ticker": map[string]string{"buy": "95", "sell": "95.2", "high": "100"},
		})
	})

	quote, err := client.GetQuote(context.Background(), "btc")
	require.NoError(t, err)
	assert.True(t, quote.BestBid.Equal(decimal.NewFromInt(95)))
	assert.True(t, quote.BestAsk.Equal(decimal.RequireFromString("95.2")))
	assert.True(t, quote.PeriodHigh.Equal(decimal.NewFromInt(100)))
}

func TestGetQuoteMalformedPrice(t *testing.T) {
	client := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"ticker": map[string]string{"buy": "", "sell": "95.2", "high": "100"},
		})
	})

	_, err := client.GetQuote(context.Background(), "btc")
	assert.Error(t, err)
}

func TestPlaceOrderAccepted(t *testing.T) {
	client := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/order", r.URL.Path)
		assert.NotEmpty(t, r.Header.Get("X-ACCESS-KEY"))
		assert.NotEmpty(t, r.Header.Get("X-ACCESS-SIGN"))
		assert.NotEmpty(t, r.Header.Get("X-ACCESS-TIMESTAMP"))

		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "buy", body["type"])
		assert.Equal(t, "95", body["price"])
		assert.Equal(t, "2", body["amount"])

		json.NewEncoder(w).Encode(map[string]any{"code": 1000, "id": "42", "message": "ok"})
	})

	result, err := client.PlaceOrder(context.Background(), &models.OrderRequest{
		ClientID: "c1",
		Currency: "btc",
		Side:     models.OrderSideBuy,
		Price:    decimal.NewFromInt(95),
		Quantity: decimal.NewFromInt(2),
	}, testCreds)
	require.NoError(t, err)
	assert.True(t, result.Accepted)
	assert.Equal(t, "42", result.OrderID)
}

func TestPlaceOrderRejected(t *testing.T) {
	client := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"code": 2001, "message": "insufficient balance"})
	})

	result, err := client.PlaceOrder(context.Background(), &models.OrderRequest{
		ClientID: "c1",
		Currency: "btc",
		Side:     models.OrderSideBuy,
		Price:    decimal.NewFromInt(95),
		Quantity: decimal.NewFromInt(2),
	}, testCreds)
	require.NoError(t, err)
	assert.False(t, result.Accepted)
	assert.Equal(t, "insufficient balance", result.Message)
}

func TestGetOrderStatus(t *testing.T) {
	client := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "42", r.URL.Query().Get("id"))
		json.NewEncoder(w).Encode(map[string]any{
			"code": 1000, "id": "42", "status": "partial", "fees": "0.05",
		})
	})

	state, err := client.GetOrderStatus(context.Background(), "42", "btc", testCreds)
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusWaitPartial, state.Status)
	assert.True(t, state.Fees.Equal(decimal.RequireFromString("0.05")))
}

func TestGetOrderStatusNotFound(t *testing.T) {
	client := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"code": 3001})
	})

	_, err := client.GetOrderStatus(context.Background(), "nope", "btc", testCreds)
	assert.ErrorIs(t, err, ErrOrderNotFound)
}

func TestCancelOrderRejected(t *testing.T) {
	client := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"code": 2005, "message": "already filled"})
	})

	err := client.CancelOrder(context.Background(), "42", "btc", testCreds)
	assert.Error(t, err)
}

func TestWireStatusUnknownIsAmbiguous(t *testing.T) {
	assert.Equal(t, models.OrderStatusWaitPartial, wireStatus("weird"))
	assert.Equal(t, models.OrderStatusWait, wireStatus("open"))
	assert.Equal(t, models.OrderStatusFilled, wireStatus("filled"))
	assert.Equal(t, models.OrderStatusCancelled, wireStatus("cancelled"))
}
