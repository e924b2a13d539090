package backend

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/storefront/internal/cart"
)

type staticTokens struct{ token string }

func (s staticTokens) Token(ctx context.Context) (string, error) { return s.token, nil }

func TestClient_CreateOrder(t *testing.T) {
	var gotAuth string
	var gotReq CreateOrderRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/api/orders", r.URL.Path)
		gotAuth = r.Header.Get("Authorization")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotReq))
		json.NewEncoder(w).Encode(CreateOrderResponse{
			OrderID:            "order-1",
			Reference:          gotReq.Reference,
			GatewayRedirectURL: "https://gateway.example/pay/order-1",
		})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, 5*time.Second, staticTokens{token: "tok-1"})
	resp, err := c.CreateOrder(context.Background(), CreateOrderRequest{
		Reference: "ref-1",
		Items: []cart.Item{
			{ProductID: "prod-1", Name: "Lamp", UnitPrice: decimal.RequireFromString("19.90"), Quantity: 2},
		},
		Subtotal: decimal.RequireFromString("39.80"),
	})
	require.NoError(t, err)

	assert.Equal(t, "order-1", resp.OrderID)
	assert.Equal(t, "https://gateway.example/pay/order-1", resp.GatewayRedirectURL)
	assert.Equal(t, "Bearer tok-1", gotAuth)
	assert.Equal(t, "ref-1", gotReq.Reference)
	assert.True(t, gotReq.Subtotal.Equal(decimal.RequireFromString("39.80")))
}

func TestClient_CreateOrderRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		json.NewEncoder(w).Encode(map[string]string{"error": "shipping country not supported"})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, 5*time.Second, nil)
	_, err := c.CreateOrder(context.Background(), CreateOrderRequest{Reference: "ref-1"})

	require.ErrorIs(t, err, ErrRejected)
	assert.Contains(t, err.Error(), "shipping country not supported")
}

func TestClient_CreateOrderServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, 5*time.Second, nil)
	_, err := c.CreateOrder(context.Background(), CreateOrderRequest{Reference: "ref-1"})

	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestClient_OrderStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/orders/status", r.URL.Path)
		require.Equal(t, "ref-1", r.URL.Query().Get("reference"))
		json.NewEncoder(w).Encode(OrderSummary{
			OrderID:       "order-1",
			Reference:     "ref-1",
			PaymentStatus: PaymentStatusPaid,
			Total:         decimal.RequireFromString("236.52"),
		})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, 5*time.Second, nil)
	summary, err := c.OrderStatus(context.Background(), "ref-1")
	require.NoError(t, err)

	assert.Equal(t, PaymentStatusPaid, summary.PaymentStatus)
	assert.True(t, summary.Total.Equal(decimal.RequireFromString("236.52")))
}

func TestClient_OrderStatusNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, 5*time.Second, nil)
	_, err := c.OrderStatus(context.Background(), "ref-unknown")

	assert.ErrorIs(t, err, ErrNotFound)
}

func TestClient_OrderStatusBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, 5*time.Second, nil)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := c.OrderStatus(ctx, "ref-1")
		require.ErrorIs(t, err, ErrUnavailable)
	}

	// Fourth call trips straight out of the open breaker.
	_, err := c.OrderStatus(ctx, "ref-1")
	require.ErrorIs(t, err, ErrUnavailable)
	assert.Contains(t, err.Error(), "circuit breaker open")
}

func TestClient_ListOrders(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/orders", r.URL.Path)
		json.NewEncoder(w).Encode([]OrderSummary{
			{OrderID: "order-2", Status: "paid"},
			{OrderID: "order-1", Status: "shipped"},
		})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, 5*time.Second, nil)
	orders, err := c.ListOrders(context.Background())
	require.NoError(t, err)

	require.Len(t, orders, 2)
	assert.Equal(t, "order-2", orders[0].OrderID)
}

func TestClient_ContextCancellationWins(t *testing.T) {
	block := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-block
	}))
	defer srv.Close()
	defer close(block)

	c := NewClient(srv.URL, 5*time.Second, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := c.ListOrders(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
