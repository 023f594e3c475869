// Package handler exposes the checkout core over HTTP. It maps transport
// requests to domain operations and domain errors to status codes; no
// business decisions are made here.
package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/nghednh/flowershop-checkout/internal/domain/auth"
	"github.com/nghednh/flowershop-checkout/internal/domain/cart"
	"github.com/nghednh/flowershop-checkout/internal/domain/loyalty"
	"github.com/nghednh/flowershop-checkout/internal/domain/order"
)

// Config holds non-dependency handler configuration.
type Config struct {
	// CallbackSecret authenticates the payment provider's callback requests.
	CallbackSecret string
	// APIKeyPepper is the HMAC pepper for API key hashing.
	APIKeyPepper string
}

// Handler wires the domain services to the router.
type Handler struct {
	cfg          Config
	carts        *cart.Service
	orchestrator *order.Orchestrator
	loyalty      *loyalty.Ledger
	apikeys      auth.Repository
}

// New constructs a Handler.
func New(
	cfg Config,
	carts *cart.Service,
	orchestrator *order.Orchestrator,
	ledger *loyalty.Ledger,
	apikeys auth.Repository,
) *Handler {
	return &Handler{
		cfg:          cfg,
		carts:        carts,
		orchestrator: orchestrator,
		loyalty:      ledger,
		apikeys:      apikeys,
	}
}

// Router builds the API route tree. Everything except the provider callback
// requires API-key authentication; fulfilment transitions and manual ledger
// adjustments additionally require an operator key.
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()

	r.Group(func(r chi.Router) {
		r.Use(h.authenticate)

		r.Get("/cart", h.getCart)
		r.Post("/cart/items", h.addCartLine)
		r.Put("/cart/items/{productID}", h.setCartQuantity)
		r.Delete("/cart/items/{productID}", h.removeCartLine)
		r.Delete("/cart", h.clearCart)

		r.Post("/checkout", h.checkout)
		r.Get("/orders/{orderID}", h.getOrder)
		r.Post("/orders/{orderID}/cancel", h.cancelOrder)
		r.Post("/orders/{orderID}/retry-payment", h.retryPayment)
		r.With(h.requireOperator).Patch("/orders/{orderID}/status", h.updateOrderStatus)

		r.Get("/loyalty", h.getLoyalty)
		r.With(h.requireOperator).Post("/loyalty/adjust", h.adjustLoyalty)
	})

	r.With(h.verifyCallback).Post("/payments/callback", h.paymentCallback)

	return r
}
