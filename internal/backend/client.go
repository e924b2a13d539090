package backend

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
	"github.com/sony/gobreaker/v2"

	"github.com/example/storefront/internal/cart"
)

var (
	ErrUnavailable = errors.New("backend unavailable")
	ErrRejected    = errors.New("backend rejected the request")
	ErrNotFound    = errors.New("order not found")
)

// Payment status values reported by the backend.
const (
	PaymentStatusPaid     = "paid"
	PaymentStatusUnpaid   = "unpaid"
	PaymentStatusFailed   = "failed"
	PaymentStatusRefunded = "refunded"
)

// ShippingInfo is collected at checkout and forwarded verbatim.
type ShippingInfo struct {
	Name         string `json:"name"`
	Email        string `json:"email"`
	AddressLine1 string `json:"address_line1"`
	AddressLine2 string `json:"address_line2,omitempty"`
	City         string `json:"city"`
	PostalCode   string `json:"postal_code"`
	Country      string `json:"country"`
}

// OrderSummary is the backend's authoritative view of an order. The client
// only ever caches it.
type OrderSummary struct {
	OrderID        string          `json:"order_id"`
	Subtotal       decimal.Decimal `json:"subtotal"`
	ShippingAmount decimal.Decimal `json:"shipping_amount"`
	TaxAmount      decimal.Decimal `json:"tax_amount"`
	DiscountAmount decimal.Decimal `json:"discount_amount"`
	Total          decimal.Decimal `json:"total"`
	Status         string          `json:"status"`
	PaymentStatus  string          `json:"payment_status"`
	Reference      string          `json:"reference"`
	CreatedAt      time.Time       `json:"created_at"`
}

type CreateOrderRequest struct {
	Reference string          `json:"reference"`
	Items     []cart.Item     `json:"items"`
	Subtotal  decimal.Decimal `json:"subtotal"`
	Shipping  ShippingInfo    `json:"shipping"`
}

type CreateOrderResponse struct {
	OrderID            string `json:"order_id"`
	Reference          string `json:"reference"`
	GatewayRedirectURL string `json:"gateway_redirect_url"`
}

// TokenSource supplies the bearer token for authenticated calls. A source
// error means the call goes out unauthenticated (guest checkout).
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// Client talks to the storefront backend over HTTP+JSON. Status lookups run
// behind a circuit breaker so a dead backend fails fast instead of holding
// the reconciler at its timeout on every retry.
type Client struct {
	baseURL string
	http    *http.Client
	tokens  TokenSource
	breaker *gobreaker.CircuitBreaker[*OrderSummary]
}

func NewClient(baseURL string, timeout time.Duration, tokens TokenSource) *Client {
	breaker := gobreaker.NewCircuitBreaker[*OrderSummary](gobreaker.Settings{
		Name:        "backend-order-status",
		MaxRequests: 1,
		Timeout:     15 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
	})
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: timeout},
		tokens:  tokens,
		breaker: breaker,
	}
}

// CreateOrder submits the cart and shipping info and returns the order
// identifiers plus the gateway redirect target.
func (c *Client) CreateOrder(ctx context.Context, req CreateOrderRequest) (*CreateOrderResponse, error) {
	var resp CreateOrderResponse
	if err := c.doJSON(ctx, http.MethodPost, "/api/orders", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// OrderStatus looks up the authoritative order and payment status by
// checkout reference.
func (c *Client) OrderStatus(ctx context.Context, reference string) (*OrderSummary, error) {
	summary, err := c.breaker.Execute(func() (*OrderSummary, error) {
		var resp OrderSummary
		path := "/api/orders/status?reference=" + url.QueryEscape(reference)
		if err := c.doJSON(ctx, http.MethodGet, path, nil, &resp); err != nil {
			return nil, err
		}
		return &resp, nil
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, fmt.Errorf("%w: circuit breaker open", ErrUnavailable)
	}
	if err != nil {
		return nil, err
	}
	return summary, nil
}

// ListOrders returns the caller's order history, newest first.
func (c *Client) ListOrders(ctx context.Context) ([]OrderSummary, error) {
	var resp []OrderSummary
	if err := c.doJSON(ctx, http.MethodGet, "/api/orders", nil, &resp); err != nil {
		return nil, err
	}
	return resp, nil
}

// GetOrder returns a single order by its ID.
func (c *Client) GetOrder(ctx context.Context, orderID string) (*OrderSummary, error) {
	var resp OrderSummary
	if err := c.doJSON(ctx, http.MethodGet, "/api/orders/"+url.PathEscape(orderID), nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) doJSON(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.tokens != nil {
		if token, err := c.tokens.Token(ctx); err == nil && token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return ErrNotFound
	case resp.StatusCode >= 500:
		return fmt.Errorf("%w: backend returned %d", ErrUnavailable, resp.StatusCode)
	case resp.StatusCode >= 400:
		return fmt.Errorf("%w: %s", ErrRejected, readErrorMessage(resp.Body))
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: failed to decode response: %v", ErrUnavailable, err)
	}
	return nil
}

func readErrorMessage(r io.Reader) string {
	var payload struct {
		Error string `json:"error"`
	}
	data, err := io.ReadAll(io.LimitReader(r, 4096))
	if err != nil || len(data) == 0 {
		return "no error detail"
	}
	if json.Unmarshal(data, &payload) == nil && payload.Error != "" {
		return payload.Error
	}
	return string(data)
}
