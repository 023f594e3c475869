package handler

import (
	"encoding/json"
	"net/http"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/nghednh/flowershop-checkout/internal/domain/order"
)

type callbackRequest struct {
	ProviderRef string `json:"provider_ref"`
	Outcome     string `json:"outcome"`
}

type callbackResponse struct {
	OrderID       string `json:"order_id"`
	OrderStatus   string `json:"order_status"`
	PaymentStatus string `json:"payment_status"`
	Duplicate     bool   `json:"duplicate"`
}

// paymentCallback receives the provider's settlement notification. Deliveries
// are at-least-once, so repeats are acknowledged without re-applying effects.
func (h *Handler) paymentCallback(w http.ResponseWriter, r *http.Request) {
	var req callbackRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.ProviderRef == "" {
		writeError(w, http.StatusBadRequest, "provider_ref required")
		return
	}

	var outcome order.CallbackOutcome
	switch req.Outcome {
	case string(order.OutcomeSuccess):
		outcome = order.OutcomeSuccess
	case string(order.OutcomeFailure):
		outcome = order.OutcomeFailure
	default:
		writeError(w, http.StatusBadRequest, "outcome must be success or failure")
		return
	}

	res, err := h.orchestrator.HandlePaymentCallback(r.Context(), req.ProviderRef, outcome)
	if err != nil {
		if errors.Is(err, order.ErrUnknownPaymentReference) {
			// Acknowledged so the provider stops retrying a reference we will
			// never recognize.
			zctx.From(r.Context()).Warn("callback for unknown payment reference",
				zap.String("provider_ref", req.ProviderRef))
			w.WriteHeader(http.StatusOK)
			return
		}
		h.writeDomainError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, callbackResponse{
		OrderID:       res.Order.ID,
		OrderStatus:   string(res.Order.Status),
		PaymentStatus: string(res.Payment.Status),
		Duplicate:     res.Duplicate,
	})
}
