// Package handler exposes the storefront and admin HTTP API.
package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/xenking/kart-store/internal/domain/admin"
	"github.com/xenking/kart-store/internal/domain/auth"
	"github.com/xenking/kart-store/internal/domain/checkout"
	"github.com/xenking/kart-store/internal/domain/order"
	"github.com/xenking/kart-store/internal/domain/product"
)

// maxBodyBytes bounds request bodies.
const maxBodyBytes = 1 << 20

// Handler serves the HTTP API, delegating business logic to the domain
// services.
type Handler struct {
	products product.Repository
	checkout *checkout.Service
	orders   *order.Service
	admin    *admin.Surface
	authn    *auth.Authenticator
}

// Deps are the domain services behind the API.
type Deps struct {
	Products      product.Repository
	Checkout      *checkout.Service
	Orders        *order.Service
	Admin         *admin.Surface
	Authenticator *auth.Authenticator
}

// New constructs a Handler.
func New(d Deps) *Handler {
	return &Handler{
		products: d.Products,
		checkout: d.Checkout,
		orders:   d.Orders,
		admin:    d.Admin,
		authn:    d.Authenticator,
	}
}

// Routes mounts the API under /api.
func (h *Handler) Routes(r chi.Router) {
	r.Route("/api", func(r chi.Router) {
		r.Get("/products", h.listProducts)
		r.Get("/products/{id}", h.getProduct)

		r.Post("/checkout", h.placeOrder)
		r.Get("/orders/{id}", h.getOrder)
		r.Post("/orders/{id}/pay", h.payOrder)

		r.With(h.authenticate, requireScope(auth.ScopePayments)).
			Post("/payments/callback", h.paymentCallback)

		r.Route("/admin", func(r chi.Router) {
			r.Use(h.authenticate)
			r.Get("/orders", h.adminListOrders)
			r.Get("/orders/{id}", h.adminGetOrder)
			r.Post("/orders/{id}/status", h.adminChangeStatus)
			r.Post("/orders/{id}/payment-status", h.adminChangePaymentStatus)
			r.Get("/orders/{id}/refunds", h.adminListRefunds)
			r.Post("/orders/{id}/refunds", h.adminProcessRefund)
			r.Post("/orders/{id}/cancel", h.adminCancelOrder)
		})
	})
	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, errNotFound)
	})
}
