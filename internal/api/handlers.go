package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/example/storefront/internal/backend"
	"github.com/example/storefront/internal/cart"
	"github.com/example/storefront/internal/checkout"
	"github.com/example/storefront/internal/history"
	"github.com/example/storefront/internal/reconcile"
	"github.com/example/storefront/internal/session"
)

type Handlers struct {
	cart       *cart.Manager
	checkout   *checkout.Orchestrator
	reconciler *reconcile.Reconciler
	history    *history.Service
	sessions   *session.Manager
}

func NewHandlers(c *cart.Manager, o *checkout.Orchestrator, r *reconcile.Reconciler, h *history.Service, s *session.Manager) *Handlers {
	return &Handlers{cart: c, checkout: o, reconciler: r, history: h, sessions: s}
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

func respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(payload)
}

func respondError(w http.ResponseWriter, status int, code, details string) {
	respondJSON(w, status, ErrorResponse{Error: code, Details: details})
}

// Cart handlers

type cartView struct {
	Items     []cart.Item     `json:"items"`
	Subtotal  decimal.Decimal `json:"subtotal"`
	ItemCount int             `json:"item_count"`
	Version   int64           `json:"version"`
}

func (h *Handlers) cartResponse() cartView {
	snapshot := h.cart.Snapshot()
	return cartView{
		Items:     snapshot.Items,
		Subtotal:  snapshot.Subtotal(),
		ItemCount: snapshot.ItemCount(),
		Version:   snapshot.Version,
	}
}

func (h *Handlers) GetCart(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, h.cartResponse())
}

type addItemRequest struct {
	ProductID string `json:"product_id"`
	Name      string `json:"name"`
	UnitPrice string `json:"unit_price"`
	Quantity  int    `json:"quantity"`
	ImageRef  string `json:"image_ref,omitempty"`
}

func (h *Handlers) AddItem(w http.ResponseWriter, r *http.Request) {
	var req addItemRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}
	if req.Quantity == 0 {
		req.Quantity = 1
	}
	unitPrice, err := decimal.NewFromString(req.UnitPrice)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_price", "unit_price must be a decimal string")
		return
	}
	if err := h.cart.Add(req.ProductID, req.Name, unitPrice, req.ImageRef, req.Quantity); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_item", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, h.cartResponse())
}

type setQuantityRequest struct {
	Quantity int `json:"quantity"`
}

func (h *Handlers) SetQuantity(w http.ResponseWriter, r *http.Request) {
	productID := chi.URLParam(r, "productID")

	var req setQuantityRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}
	if err := h.cart.SetQuantity(productID, req.Quantity); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_quantity", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, h.cartResponse())
}

func (h *Handlers) RemoveItem(w http.ResponseWriter, r *http.Request) {
	productID := chi.URLParam(r, "productID")
	if err := h.cart.Remove(productID); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_product", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, h.cartResponse())
}

func (h *Handlers) ClearCart(w http.ResponseWriter, r *http.Request) {
	if err := h.cart.Clear(); err != nil {
		respondError(w, http.StatusInternalServerError, "clear_failed", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, h.cartResponse())
}

// Checkout handlers

func (h *Handlers) BeginCheckout(w http.ResponseWriter, r *http.Request) {
	var shipping backend.ShippingInfo
	if err := json.NewDecoder(r.Body).Decode(&shipping); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}

	result, err := h.checkout.Begin(r.Context(), shipping)
	switch {
	case errors.Is(err, checkout.ErrEmptyCart):
		respondError(w, http.StatusBadRequest, "empty_cart", err.Error())
	case errors.Is(err, checkout.ErrCheckoutInFlight):
		respondError(w, http.StatusConflict, "checkout_in_flight", err.Error())
	case errors.Is(err, checkout.ErrSubmission):
		respondError(w, http.StatusBadGateway, "submission_failed", err.Error())
	case err != nil:
		respondError(w, http.StatusInternalServerError, "checkout_failed", err.Error())
	default:
		respondJSON(w, http.StatusCreated, result)
	}
}

// Gateway return routes. The route name is only a hint; the reconciler
// decides the real outcome against the backend record.

type outcomeResponse struct {
	State     reconcile.State       `json:"state"`
	Retryable bool                  `json:"retryable"`
	Reason    string                `json:"reason,omitempty"`
	Order     *backend.OrderSummary `json:"order,omitempty"`
	Actions   []string              `json:"actions"`
}

func (h *Handlers) ReturnSuccess(w http.ResponseWriter, r *http.Request) {
	h.handleReturn(w, r, reconcile.RouteSuccess)
}

func (h *Handlers) ReturnFailed(w http.ResponseWriter, r *http.Request) {
	h.handleReturn(w, r, reconcile.RouteFailed)
}

func (h *Handlers) ReturnError(w http.ResponseWriter, r *http.Request) {
	h.handleReturn(w, r, reconcile.RouteError)
}

func (h *Handlers) handleReturn(w http.ResponseWriter, r *http.Request, route reconcile.Route) {
	outcome := reconcile.OutcomeFromQuery(route, r.URL.Query())
	res := h.reconciler.Resolve(r.Context(), outcome)

	resp := outcomeResponse{
		State:     res.State,
		Retryable: res.Retryable,
		Reason:    outcome.Reason,
		Order:     res.Order,
	}

	switch res.State {
	case reconcile.StateSuccess, reconcile.StateAlreadyResolved:
		resp.Actions = []string{"view_order", "continue_shopping"}
		respondJSON(w, http.StatusOK, resp)
	case reconcile.StateDeclined:
		// Definitive failure: the cart is still there, offer a fresh checkout.
		resp.Actions = []string{"retry_checkout", "continue_shopping"}
		respondJSON(w, http.StatusOK, resp)
	case reconcile.StateRetryable:
		// Verification could not complete; reloading the same route retries
		// without resubmitting the order.
		resp.Actions = []string{"retry_verification"}
		respondJSON(w, http.StatusServiceUnavailable, resp)
	default:
		resp.Actions = []string{"continue_shopping"}
		respondJSON(w, http.StatusConflict, resp)
	}
}

// Order history handlers

func (h *Handlers) GetOrders(w http.ResponseWriter, r *http.Request) {
	orders, err := h.history.List(r.Context())
	if err != nil {
		respondError(w, http.StatusBadGateway, "history_unavailable", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, orders)
}

func (h *Handlers) GetOrder(w http.ResponseWriter, r *http.Request) {
	order, err := h.history.Get(r.Context(), chi.URLParam(r, "orderID"))
	if errors.Is(err, backend.ErrNotFound) {
		respondError(w, http.StatusNotFound, "order_not_found", err.Error())
		return
	}
	if err != nil {
		respondError(w, http.StatusBadGateway, "history_unavailable", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, order)
}

// Session handlers

type setSessionRequest struct {
	Token string `json:"token"`
}

func (h *Handlers) SetSession(w http.ResponseWriter, r *http.Request) {
	var req setSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}
	if err := h.sessions.SetToken(r.Context(), req.Token); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_token", err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handlers) ClearSession(w http.ResponseWriter, r *http.Request) {
	if err := h.sessions.Clear(r.Context()); err != nil {
		respondError(w, http.StatusInternalServerError, "session_clear_failed", err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
