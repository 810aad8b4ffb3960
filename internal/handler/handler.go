// Package handler exposes the storefront cart, checkout and catalog over a
// JSON HTTP API.
package handler

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/xenking/kart-storefront/internal/domain/checkout"
	"github.com/xenking/kart-storefront/internal/domain/order"
	"github.com/xenking/kart-storefront/internal/domain/product"
	"github.com/xenking/kart-storefront/pkg/httpmiddleware"
)

// IdempotencyKeyHeader carries the client-chosen checkout deduplication key.
const IdempotencyKeyHeader = "Idempotency-Key"

// Config holds non-dependency configuration for the Handler.
type Config struct {
	// CookieName names the session cookie. Defaults to "session_id".
	CookieName string
	// CookieTTL is the session cookie lifetime.
	CookieTTL time.Duration
	// SecureCookie marks the session cookie Secure.
	SecureCookie bool
	// ImageBaseURL is prepended to product image paths in responses.
	ImageBaseURL string
	// CheckoutLimit, when set, rate limits POST /api/checkout per session.
	CheckoutLimit httpmiddleware.Middleware
}

// Handler serves the storefront API.
type Handler struct {
	cfg      Config
	checkout *checkout.Service
	orders   *order.Service
	products product.Repository
}

// New creates a Handler.
func New(cfg Config, checkoutService *checkout.Service, orderService *order.Service, products product.Repository) *Handler {
	if cfg.CookieName == "" {
		cfg.CookieName = DefaultCookieName
	}
	return &Handler{
		cfg:      cfg,
		checkout: checkoutService,
		orders:   orderService,
		products: products,
	}
}

// Routes returns the API router.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.NotFound(notFound)
	r.MethodNotAllowed(notAllowed)

	r.Route("/api", func(r chi.Router) {
		r.Get("/products", h.listProducts)
		r.Get("/products/{id}", h.getProduct)

		r.Get("/orders/{id}", h.getOrder)

		r.Group(func(r chi.Router) {
			r.Use(h.sessions)

			r.Get("/cart", h.viewCart)
			r.Post("/cart/items", h.addItem)
			r.Put("/cart/items/{productID}", h.setQuantity)
			r.Delete("/cart/items/{productID}", h.removeItem)

			r.Group(func(r chi.Router) {
				if h.cfg.CheckoutLimit != nil {
					r.Use(h.cfg.CheckoutLimit)
				}
				r.Post("/checkout", h.placeOrder)
			})
		})
	})

	return r
}

func notAllowed(w http.ResponseWriter, _ *http.Request) {
	httpmiddleware.WriteError(w, http.StatusMethodNotAllowed, "method not allowed")
}

func notFound(w http.ResponseWriter, _ *http.Request) {
	httpmiddleware.WriteError(w, http.StatusNotFound, "not found")
}
