package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

func NewRouter(h *Handlers) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Logger)

	r.Route("/api", func(r chi.Router) {
		r.Get("/cart", h.GetCart)
		r.Delete("/cart", h.ClearCart)
		r.Post("/cart/items", h.AddItem)
		r.Put("/cart/items/{productID}", h.SetQuantity)
		r.Delete("/cart/items/{productID}", h.RemoveItem)

		r.Post("/checkout", h.BeginCheckout)

		r.Get("/orders", h.GetOrders)
		r.Get("/orders/{orderID}", h.GetOrder)

		r.Put("/session", h.SetSession)
		r.Delete("/session", h.ClearSession)
	})

	// The external gateway redirects the browser back to one of these three
	// routes after the payment attempt.
	r.Route("/checkout/return", func(r chi.Router) {
		r.Get("/success", h.ReturnSuccess)
		r.Get("/failed", h.ReturnFailed)
		r.Get("/error", h.ReturnError)
	})

	return r
}
