package checkout

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/example/storefront/internal/backend"
	"github.com/example/storefront/internal/cart"
	"github.com/example/storefront/internal/store"
)

var (
	ErrEmptyCart        = errors.New("cart is empty, nothing to checkout")
	ErrCheckoutInFlight = errors.New("another checkout is awaiting the payment gateway")
	ErrSubmission       = errors.New("order submission failed")
)

// OrderAPI is the slice of the backend client the orchestrator needs.
type OrderAPI interface {
	CreateOrder(ctx context.Context, req backend.CreateOrderRequest) (*backend.CreateOrderResponse, error)
}

// Orchestrator turns the current cart into an order and hands control to the
// external payment gateway. Its responsibility ends at the redirect target:
// whatever happens at the gateway is observed only through the return routes.
type Orchestrator struct {
	cart    *cart.Manager
	backend OrderAPI
	store   store.Store
}

func NewOrchestrator(c *cart.Manager, api OrderAPI, s store.Store) *Orchestrator {
	return &Orchestrator{cart: c, backend: api, store: s}
}

// BeginResult is returned to the caller, which performs the navigation.
type BeginResult struct {
	OrderID     string          `json:"order_id"`
	Reference   string          `json:"reference"`
	RedirectURL string          `json:"redirect_url"`
	Amount      decimal.Decimal `json:"amount"`
}

// Begin validates the cart, persists the pending-checkout marker and submits
// the order. The marker is written BEFORE the network call so a crash or a
// navigation mid-flow always leaves a recoverable record behind.
func (o *Orchestrator) Begin(ctx context.Context, shipping backend.ShippingInfo) (*BeginResult, error) {
	snapshot := o.cart.Snapshot()
	if len(snapshot.Items) == 0 {
		return nil, ErrEmptyCart
	}

	existing, ok, err := LoadPending(ctx, o.store)
	if err != nil {
		return nil, err
	}
	if ok && existing.Status == StatusAwaitingGateway {
		return nil, ErrCheckoutInFlight
	}
	// A leftover marker in "initiated" means an earlier attempt died before
	// reaching the backend; it is safe to replace.

	pending := &PendingCheckout{
		Reference: uuid.New().String(),
		Amount:    snapshot.Subtotal(),
		Status:    StatusInitiated,
		CreatedAt: time.Now(),
	}
	if err := SavePending(ctx, o.store, pending); err != nil {
		return nil, err
	}

	resp, err := o.backend.CreateOrder(ctx, backend.CreateOrderRequest{
		Reference: pending.Reference,
		Items:     snapshot.Items,
		Subtotal:  snapshot.Subtotal(),
		Shipping:  shipping,
	})
	if err != nil {
		if delErr := DeletePending(context.WithoutCancel(ctx), o.store); delErr != nil {
			log.Printf("[Checkout] Failed to remove pending marker after rejected submission: %v", delErr)
		}
		return nil, fmt.Errorf("%w: %v", ErrSubmission, err)
	}
	if ctx.Err() != nil {
		// Caller went away mid-submission; leave the marker in "initiated"
		// and apply nothing. The next Begin replaces it.
		return nil, ctx.Err()
	}

	// The backend may issue its own reference; the gateway callback will
	// carry that one, so the marker has to match it.
	if resp.Reference != "" {
		pending.Reference = resp.Reference
	}
	pending.OrderID = resp.OrderID
	if !pending.Status.CanTransitionTo(StatusAwaitingGateway) {
		return nil, fmt.Errorf("pending checkout cannot leave status %s", pending.Status)
	}
	pending.Status = StatusAwaitingGateway
	if err := SavePending(ctx, o.store, pending); err != nil {
		return nil, err
	}

	log.Printf("[Checkout] Order %s submitted, reference %s, awaiting gateway", resp.OrderID, pending.Reference)
	return &BeginResult{
		OrderID:     resp.OrderID,
		Reference:   pending.Reference,
		RedirectURL: resp.GatewayRedirectURL,
		Amount:      pending.Amount,
	}, nil
}
