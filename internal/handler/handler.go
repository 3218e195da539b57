// Package handler implements the storefront HTTP API.
package handler

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/xenking/storefront/internal/domain/auth"
	"github.com/xenking/storefront/internal/domain/order"
	"github.com/xenking/storefront/internal/domain/product"
)

// Authenticator resolves a raw API key.
type Authenticator interface {
	Authenticate(ctx context.Context, key string) (*auth.APIKeyInfo, error)
}

// Handler serves the product and order endpoints.
type Handler struct {
	products *product.Service
	orders   *order.Service
	auth     Authenticator
}

// New creates a Handler.
func New(products *product.Service, orders *order.Service, authenticator Authenticator) *Handler {
	return &Handler{
		products: products,
		orders:   orders,
		auth:     authenticator,
	}
}

// Routes returns the API router. Every route requires an API key. Catalog
// writes and order cancellation require the admin scope, and single-order
// routes are limited to the order's owner.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(h.authenticate)
	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, errRouteNotFound)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, errMethodNotAllowed)
	})

	r.Route("/products", func(r chi.Router) {
		r.With(requireScope(auth.ScopeStorefront)).Get("/", h.listProducts)
		r.With(requireScope(auth.ScopeStorefront)).Get("/{id}", h.getProduct)

		r.Group(func(r chi.Router) {
			r.Use(requireScope(auth.ScopeAdmin))
			r.Post("/", h.createProduct)
			r.Delete("/{id}", h.archiveProduct)
			r.Put("/{id}/slug", h.updateSlug)
			r.Put("/{id}/properties/{name}", h.setProperty)
			r.Post("/{id}/discontinue", h.discontinueProduct)
			r.Post("/{id}/tags", h.tagProduct)
		})
	})

	r.Route("/orders", func(r chi.Router) {
		r.Use(requireScope(auth.ScopeStorefront))
		r.Get("/", h.listOrders)
		r.Post("/", h.createOrder)

		r.Route("/{number}", func(r chi.Router) {
			r.Group(func(r chi.Router) {
				r.Use(requireScope(auth.ScopeAdmin))
				r.Post("/cancel", h.cancelOrder)
				r.Post("/resume", h.resumeOrder)
			})
			r.Group(func(r chi.Router) {
				r.Use(h.authorizeOrder)
				r.Get("/", h.getOrder)
				r.Post("/line_items", h.addLineItem)
				r.Delete("/line_items", h.emptyOrder)
				r.Put("/address", h.setAddress)
				r.Post("/shipments", h.createShipment)
				r.Put("/shipments", h.setShipmentsCost)
				r.Post("/payments", h.addPayments)
				r.Post("/coupon", h.applyCoupon)
				r.Post("/next", h.nextState)
				r.Post("/restart", h.restartCheckout)
				r.Put("/user", h.associateUser)
			})
		})
	})
	return r
}
