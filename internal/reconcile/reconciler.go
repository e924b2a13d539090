package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/example/storefront/internal/backend"
	"github.com/example/storefront/internal/cart"
	"github.com/example/storefront/internal/checkout"
	"github.com/example/storefront/internal/store"
)

var (
	ErrReferenceMismatch       = errors.New("callback reference does not match pending checkout")
	ErrVerificationUnavailable = errors.New("payment verification unavailable")
	ErrPaymentDeclined         = errors.New("payment was not completed")
)

// State is the terminal state of one reconciliation pass.
type State string

const (
	// StateSuccess: backend confirmed payment; cart cleared, marker deleted.
	StateSuccess State = "success"
	// StateDeclined: backend confirmed the payment did not complete; cart
	// kept for a re-attempt, marker deleted.
	StateDeclined State = "declined"
	// StateRetryable: verification could not be completed; marker kept so a
	// reload re-runs reconciliation. Never reported as success.
	StateRetryable State = "retryable"
	// StateMismatch: callback reference unknown or not matching the marker.
	// Nothing is touched.
	StateMismatch State = "mismatch"
	// StateAlreadyResolved: duplicate callback for an outcome that has been
	// applied before. A no-op.
	StateAlreadyResolved State = "already_resolved"
)

// StatusAPI is the slice of the backend client the reconciler needs.
type StatusAPI interface {
	OrderStatus(ctx context.Context, reference string) (*backend.OrderSummary, error)
}

// OrderSink receives confirmed orders (the order-history view).
type OrderSink interface {
	Confirm(order backend.OrderSummary)
}

// Resolution is the applied outcome of a reconciliation pass.
type Resolution struct {
	State     State
	Outcome   Outcome
	Order     *backend.OrderSummary
	Err       error
	Retryable bool
}

// Reconciler determines the true result of a payment attempt after control
// returns from the external gateway, and applies it to cart and marker
// state. Passes are idempotent: replaying a resolved reference is a no-op.
type Reconciler struct {
	cart    *cart.Manager
	backend StatusAPI
	store   store.Store
	orders  OrderSink
	timeout time.Duration
}

func NewReconciler(c *cart.Manager, api StatusAPI, s store.Store, orders OrderSink, timeout time.Duration) *Reconciler {
	return &Reconciler{cart: c, backend: api, store: s, orders: orders, timeout: timeout}
}

// Resolve runs one reconciliation pass for a return-route outcome.
func (r *Reconciler) Resolve(ctx context.Context, out Outcome) Resolution {
	pending, ok, err := checkout.LoadPending(ctx, r.store)
	if err != nil {
		return r.retryable(out, err)
	}
	if !ok {
		if out.Reference != "" && out.Reference == r.lastResolved(ctx) {
			log.Printf("[Reconcile] Reference %s already resolved, ignoring duplicate callback", out.Reference)
			return Resolution{State: StateAlreadyResolved, Outcome: out}
		}
		return r.mismatch(out)
	}
	if out.Reference == "" || out.Reference != pending.Reference {
		// Route and query string alone never decide anything; an unmatched
		// reference is a foreign callback and must not touch local state.
		return r.mismatch(out)
	}

	vctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	summary, err := r.backend.OrderStatus(vctx, pending.Reference)
	if err != nil {
		return r.retryable(out, err)
	}
	if ctx.Err() != nil {
		// Caller went away; discard the result without applying it.
		return r.retryable(out, ctx.Err())
	}

	if summary.PaymentStatus == backend.PaymentStatusPaid {
		return r.applyPaid(ctx, out, pending, summary)
	}
	return r.applyDeclined(ctx, out, pending, summary)
}

func (r *Reconciler) applyPaid(ctx context.Context, out Outcome, pending *checkout.PendingCheckout, summary *backend.OrderSummary) Resolution {
	if err := r.cart.Clear(); err != nil {
		return r.retryable(out, err)
	}
	r.markResolved(ctx, pending)
	if r.orders != nil {
		r.orders.Confirm(*summary)
	}
	log.Printf("[Reconcile] Payment confirmed for order %s (reference %s)", summary.OrderID, pending.Reference)
	return Resolution{State: StateSuccess, Outcome: out, Order: summary}
}

func (r *Reconciler) applyDeclined(ctx context.Context, out Outcome, pending *checkout.PendingCheckout, summary *backend.OrderSummary) Resolution {
	r.markResolved(ctx, pending)
	log.Printf("[Reconcile] Payment not completed for order %s (reference %s, status %s)",
		summary.OrderID, pending.Reference, summary.PaymentStatus)
	return Resolution{
		State:   StateDeclined,
		Outcome: out,
		Order:   summary,
		Err:     ErrPaymentDeclined,
	}
}

// markResolved records the reference for duplicate detection and removes the
// marker. The record is written first: if the process dies in between, the
// leftover marker just causes one more harmless verification pass.
func (r *Reconciler) markResolved(ctx context.Context, pending *checkout.PendingCheckout) {
	ctx = context.WithoutCancel(ctx)
	if err := r.store.Set(ctx, store.KeyLastResolved, []byte(pending.Reference)); err != nil {
		log.Printf("[Reconcile] Failed to record resolved reference %s: %v", pending.Reference, err)
	}
	if err := checkout.DeletePending(ctx, r.store); err != nil {
		log.Printf("[Reconcile] Failed to delete pending checkout %s: %v", pending.Reference, err)
	}
}

func (r *Reconciler) lastResolved(ctx context.Context) string {
	data, ok, err := r.store.Get(ctx, store.KeyLastResolved)
	if err != nil {
		log.Printf("[Reconcile] Failed to load last resolved reference: %v", err)
		return ""
	}
	if !ok {
		return ""
	}
	return string(data)
}

func (r *Reconciler) mismatch(out Outcome) Resolution {
	log.Printf("[Reconcile] Reference mismatch on %s route (reference %q), state untouched", out.Route, out.Reference)
	return Resolution{State: StateMismatch, Outcome: out, Err: ErrReferenceMismatch}
}

func (r *Reconciler) retryable(out Outcome, cause error) Resolution {
	return Resolution{
		State:     StateRetryable,
		Outcome:   out,
		Err:       fmt.Errorf("%w: %v", ErrVerificationUnavailable, cause),
		Retryable: true,
	}
}
