package handler

import (
	"encoding/json"
	"net/http"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/nghednh/flowershop-checkout/internal/domain/address"
	"github.com/nghednh/flowershop-checkout/internal/domain/cart"
	"github.com/nghednh/flowershop-checkout/internal/domain/catalog"
	"github.com/nghednh/flowershop-checkout/internal/domain/loyalty"
	"github.com/nghednh/flowershop-checkout/internal/domain/order"
	"github.com/nghednh/flowershop-checkout/internal/domain/pricing"
)

type errorResponse struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Code: status, Message: message})
}

// writeDomainError maps a domain error to its HTTP representation. Unmapped
// errors are logged and surfaced as 500 without leaking internals.
func (h *Handler) writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	var iqErr *cart.InvalidQuantityError

	switch {
	case errors.As(err, &iqErr):
		writeError(w, http.StatusUnprocessableEntity, iqErr.Error())
	case errors.Is(err, cart.ErrEmptyCart):
		writeError(w, http.StatusUnprocessableEntity, "cart is empty")
	case errors.Is(err, cart.ErrLineNotFound):
		writeError(w, http.StatusNotFound, "cart line not found")
	case errors.Is(err, cart.ErrConcurrentModification):
		// Expected under optimistic concurrency; the client re-reads and retries.
		writeError(w, http.StatusConflict, "cart was modified concurrently, re-read and retry")
	case errors.Is(err, catalog.ErrNotFound):
		writeError(w, http.StatusUnprocessableEntity, "product not found")
	case errors.Is(err, order.ErrAddressNotFound), errors.Is(err, address.ErrNotFound):
		writeError(w, http.StatusUnprocessableEntity, "address not found")
	case errors.Is(err, order.ErrNotFound):
		writeError(w, http.StatusNotFound, "order not found")
	case errors.Is(err, loyalty.ErrInsufficientPoints):
		writeError(w, http.StatusUnprocessableEntity, "insufficient loyalty points")
	case errors.Is(err, loyalty.ErrInvalidPoints), errors.Is(err, order.ErrInvalidRedeemPoints):
		writeError(w, http.StatusBadRequest, "points must be positive")
	case errors.Is(err, order.ErrMissingPaymentMethod):
		writeError(w, http.StatusBadRequest, "payment method required")
	case errors.Is(err, order.ErrAlreadyPaid):
		writeError(w, http.StatusConflict, "order already paid")
	case errors.Is(err, order.ErrInvalidTransition):
		writeError(w, http.StatusConflict, "invalid order status transition")
	case errors.Is(err, pricing.ErrRuleConflict):
		// Data-integrity problem; an operator has to fix the rule set.
		zctx.From(r.Context()).Error("pricing rule conflict", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "pricing configuration error")
	default:
		zctx.From(r.Context()).Error("request failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}
