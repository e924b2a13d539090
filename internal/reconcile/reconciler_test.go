package reconcile

import (
	"context"
	"net/url"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/storefront/internal/backend"
	"github.com/example/storefront/internal/cart"
	"github.com/example/storefront/internal/checkout"
	"github.com/example/storefront/internal/store"
)

type mockStatusAPI struct {
	statusFn func(ctx context.Context, reference string) (*backend.OrderSummary, error)
	calls    []string
}

func (m *mockStatusAPI) OrderStatus(ctx context.Context, reference string) (*backend.OrderSummary, error) {
	m.calls = append(m.calls, reference)
	return m.statusFn(ctx, reference)
}

type recordingSink struct {
	confirmed []backend.OrderSummary
}

func (s *recordingSink) Confirm(order backend.OrderSummary) {
	s.confirmed = append(s.confirmed, order)
}

type fixture struct {
	reconciler *Reconciler
	cart       *cart.Manager
	store      *store.MemoryStore
	api        *mockStatusAPI
	sink       *recordingSink
}

func newFixture(t *testing.T, api *mockStatusAPI) *fixture {
	t.Helper()
	s := store.NewMemoryStore()
	mgr, err := cart.NewManager(context.Background(), s, "cart-local")
	require.NoError(t, err)
	t.Cleanup(func() { mgr.Close() })
	sink := &recordingSink{}
	return &fixture{
		reconciler: NewReconciler(mgr, api, s, sink, 2*time.Second),
		cart:       mgr,
		store:      s,
		api:        api,
		sink:       sink,
	}
}

func (f *fixture) fillCart(t *testing.T) {
	t.Helper()
	require.NoError(t, f.cart.Add("prod-1", "Headphones", decimal.RequireFromString("118.26"), "", 2))
}

func (f *fixture) putPending(t *testing.T, reference string) {
	t.Helper()
	require.NoError(t, checkout.SavePending(context.Background(), f.store, &checkout.PendingCheckout{
		Reference: reference,
		OrderID:   "order-1",
		Amount:    decimal.RequireFromString("236.52"),
		Status:    checkout.StatusAwaitingGateway,
		CreatedAt: time.Now(),
	}))
}

func (f *fixture) hasPending(t *testing.T) bool {
	t.Helper()
	_, ok, err := checkout.LoadPending(context.Background(), f.store)
	require.NoError(t, err)
	return ok
}

func paidSummary(reference string) *backend.OrderSummary {
	return &backend.OrderSummary{
		OrderID:       "order-1",
		Reference:     reference,
		PaymentStatus: backend.PaymentStatusPaid,
		Status:        "paid",
		Total:         decimal.RequireFromString("236.52"),
	}
}

func TestReconciler_ConfirmedPaymentClearsCart(t *testing.T) {
	api := &mockStatusAPI{statusFn: func(ctx context.Context, ref string) (*backend.OrderSummary, error) {
		return paidSummary(ref), nil
	}}
	f := newFixture(t, api)
	f.fillCart(t)
	f.putPending(t, "ref-1")

	res := f.reconciler.Resolve(context.Background(),
		OutcomeFromQuery(RouteSuccess, url.Values{"reference": {"ref-1"}}))

	assert.Equal(t, StateSuccess, res.State)
	require.NoError(t, res.Err)
	require.NotNil(t, res.Order)
	assert.Equal(t, "order-1", res.Order.OrderID)
	assert.Equal(t, 0, f.cart.ItemCount())
	assert.False(t, f.hasPending(t))
	require.Len(t, f.sink.confirmed, 1)
	assert.Equal(t, "order-1", f.sink.confirmed[0].OrderID)
}

func TestReconciler_SuccessRouteIsNotTrusted(t *testing.T) {
	// The gateway sent the browser to the success route, but the backend
	// says the payment never completed. The backend wins.
	api := &mockStatusAPI{statusFn: func(ctx context.Context, ref string) (*backend.OrderSummary, error) {
		return &backend.OrderSummary{OrderID: "order-1", Reference: ref, PaymentStatus: backend.PaymentStatusFailed}, nil
	}}
	f := newFixture(t, api)
	f.fillCart(t)
	f.putPending(t, "ref-1")

	res := f.reconciler.Resolve(context.Background(),
		OutcomeFromQuery(RouteSuccess, url.Values{"reference": {"ref-1"}}))

	assert.Equal(t, StateDeclined, res.State)
	assert.ErrorIs(t, res.Err, ErrPaymentDeclined)
	assert.Equal(t, 2, f.cart.ItemCount(), "cart stays intact for a re-attempt")
	assert.False(t, f.hasPending(t), "declined outcome is definitive, marker goes")
}

func TestReconciler_FailedRouteCanStillResolveToPaid(t *testing.T) {
	// Late capture: the gateway bounced the browser to the failed route but
	// the backend recorded the payment.
	api := &mockStatusAPI{statusFn: func(ctx context.Context, ref string) (*backend.OrderSummary, error) {
		return paidSummary(ref), nil
	}}
	f := newFixture(t, api)
	f.fillCart(t)
	f.putPending(t, "ref-1")

	res := f.reconciler.Resolve(context.Background(),
		OutcomeFromQuery(RouteFailed, url.Values{"reference": {"ref-1"}, "error": {"user closed window"}}))

	assert.Equal(t, StateSuccess, res.State)
	assert.Equal(t, 0, f.cart.ItemCount())
}

func TestReconciler_ForeignReferenceTouchesNothing(t *testing.T) {
	api := &mockStatusAPI{statusFn: func(ctx context.Context, ref string) (*backend.OrderSummary, error) {
		t.Fatal("backend must not be consulted for a foreign reference")
		return nil, nil
	}}
	f := newFixture(t, api)
	f.fillCart(t)
	f.putPending(t, "ref-1")

	res := f.reconciler.Resolve(context.Background(),
		OutcomeFromQuery(RouteSuccess, url.Values{"reference": {"ref-forged"}}))

	assert.Equal(t, StateMismatch, res.State)
	assert.ErrorIs(t, res.Err, ErrReferenceMismatch)
	assert.Equal(t, 2, f.cart.ItemCount())
	assert.True(t, f.hasPending(t), "marker must survive a foreign callback")
	assert.Empty(t, f.api.calls)
}

func TestReconciler_MissingReferenceIsMismatch(t *testing.T) {
	api := &mockStatusAPI{statusFn: func(ctx context.Context, ref string) (*backend.OrderSummary, error) {
		return paidSummary(ref), nil
	}}
	f := newFixture(t, api)
	f.fillCart(t)
	f.putPending(t, "ref-1")

	res := f.reconciler.Resolve(context.Background(),
		OutcomeFromQuery(RouteSuccess, url.Values{}))

	assert.Equal(t, StateMismatch, res.State)
	assert.Equal(t, 2, f.cart.ItemCount())
	assert.True(t, f.hasPending(t))
}

func TestReconciler_NoPendingAndUnknownReference(t *testing.T) {
	api := &mockStatusAPI{statusFn: func(ctx context.Context, ref string) (*backend.OrderSummary, error) {
		return paidSummary(ref), nil
	}}
	f := newFixture(t, api)
	f.fillCart(t)

	res := f.reconciler.Resolve(context.Background(),
		OutcomeFromQuery(RouteSuccess, url.Values{"reference": {"ref-1"}}))

	assert.Equal(t, StateMismatch, res.State)
	assert.ErrorIs(t, res.Err, ErrReferenceMismatch)
	assert.Equal(t, 2, f.cart.ItemCount())
}

func TestReconciler_SecondPassIsIdempotent(t *testing.T) {
	api := &mockStatusAPI{statusFn: func(ctx context.Context, ref string) (*backend.OrderSummary, error) {
		return paidSummary(ref), nil
	}}
	f := newFixture(t, api)
	f.fillCart(t)
	f.putPending(t, "ref-1")

	out := OutcomeFromQuery(RouteSuccess, url.Values{"reference": {"ref-1"}})

	first := f.reconciler.Resolve(context.Background(), out)
	require.Equal(t, StateSuccess, first.State)

	// User adds something new, then reloads the success page.
	require.NoError(t, f.cart.Add("prod-2", "Desk", decimal.RequireFromString("240.00"), "", 1))

	second := f.reconciler.Resolve(context.Background(), out)
	assert.Equal(t, StateAlreadyResolved, second.State)
	assert.NoError(t, second.Err)
	assert.Equal(t, 1, f.cart.ItemCount(), "a duplicate callback must not clear the cart again")
	assert.Len(t, f.api.calls, 1, "no second verification, no duplicate confirmation")
	assert.Len(t, f.sink.confirmed, 1)
}

func TestReconciler_VerificationTimeoutIsRetryable(t *testing.T) {
	api := &mockStatusAPI{statusFn: func(ctx context.Context, ref string) (*backend.OrderSummary, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}}
	f := newFixture(t, api)
	f.fillCart(t)
	f.putPending(t, "ref-1")
	f.reconciler.timeout = 50 * time.Millisecond

	res := f.reconciler.Resolve(context.Background(),
		OutcomeFromQuery(RouteSuccess, url.Values{"reference": {"ref-1"}}))

	assert.Equal(t, StateRetryable, res.State)
	assert.True(t, res.Retryable)
	assert.ErrorIs(t, res.Err, ErrVerificationUnavailable)
	assert.Equal(t, 2, f.cart.ItemCount())
	assert.True(t, f.hasPending(t), "marker must survive so a reload can retry")
}

func TestReconciler_BackendUnreachableIsRetryable(t *testing.T) {
	api := &mockStatusAPI{statusFn: func(ctx context.Context, ref string) (*backend.OrderSummary, error) {
		return nil, backend.ErrUnavailable
	}}
	f := newFixture(t, api)
	f.fillCart(t)
	f.putPending(t, "ref-1")

	res := f.reconciler.Resolve(context.Background(),
		OutcomeFromQuery(RouteSuccess, url.Values{"reference": {"ref-1"}}))

	assert.Equal(t, StateRetryable, res.State)
	assert.ErrorIs(t, res.Err, ErrVerificationUnavailable)
	assert.True(t, f.hasPending(t))

	// Retry after the backend comes back succeeds without resubmitting.
	f.api.statusFn = func(ctx context.Context, ref string) (*backend.OrderSummary, error) {
		return paidSummary(ref), nil
	}
	res = f.reconciler.Resolve(context.Background(),
		OutcomeFromQuery(RouteSuccess, url.Values{"reference": {"ref-1"}}))
	assert.Equal(t, StateSuccess, res.State)
	assert.Equal(t, 0, f.cart.ItemCount())
}

func TestReconciler_ErrorRouteWithReasonOnly(t *testing.T) {
	api := &mockStatusAPI{statusFn: func(ctx context.Context, ref string) (*backend.OrderSummary, error) {
		return paidSummary(ref), nil
	}}
	f := newFixture(t, api)
	f.fillCart(t)
	f.putPending(t, "ref-1")

	out := OutcomeFromQuery(RouteError, url.Values{"error": {"gateway exploded"}})
	res := f.reconciler.Resolve(context.Background(), out)

	assert.Equal(t, StateMismatch, res.State)
	assert.Equal(t, "gateway exploded", res.Outcome.Reason)
	assert.True(t, f.hasPending(t))
}

func TestOutcomeFromQuery(t *testing.T) {
	out := OutcomeFromQuery(RouteFailed, url.Values{
		"reference": {"ref-9"},
		"error":     {"card declined"},
	})
	assert.Equal(t, RouteFailed, out.Route)
	assert.Equal(t, "ref-9", out.Reference)
	assert.Equal(t, "card declined", out.Reason)
}
