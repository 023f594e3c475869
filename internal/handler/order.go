package handler

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/nghednh/flowershop-checkout/internal/domain/order"
)

type checkoutRequest struct {
	AddressID     string `json:"address_id"`
	PaymentMethod string `json:"payment_method"`
	RedeemPoints  int64  `json:"redeem_points"`
}

type updateStatusRequest struct {
	Status      string `json:"status"`
	TrackingRef string `json:"tracking_ref"`
}

type orderLineResponse struct {
	ProductID     string          `json:"product_id"`
	Quantity      int             `json:"quantity"`
	UnitBasePrice decimal.Decimal `json:"unit_base_price"`
	UnitPrice     decimal.Decimal `json:"unit_price"`
	AppliedRuleID string          `json:"applied_rule_id,omitempty"`
}

type orderResponse struct {
	ID             string              `json:"id"`
	AddressID      string              `json:"address_id"`
	PaymentMethod  string              `json:"payment_method"`
	Lines          []orderLineResponse `json:"lines"`
	Subtotal       decimal.Decimal     `json:"subtotal"`
	Discount       decimal.Decimal     `json:"discount"`
	Total          decimal.Decimal     `json:"total"`
	PointsRedeemed int64               `json:"points_redeemed"`
	Status         string              `json:"status"`
	TrackingRef    string              `json:"tracking_ref,omitempty"`
	CreatedAt      time.Time           `json:"created_at"`
}

func orderToResponse(o *order.Order) orderResponse {
	resp := orderResponse{
		ID:             o.ID,
		AddressID:      o.AddressID,
		PaymentMethod:  o.PaymentMethod,
		Lines:          make([]orderLineResponse, len(o.Lines)),
		Subtotal:       o.Subtotal,
		Discount:       o.Discount,
		Total:          o.Total,
		PointsRedeemed: o.PointsRedeemed,
		Status:         string(o.Status),
		TrackingRef:    o.TrackingRef,
		CreatedAt:      o.CreatedAt,
	}
	for i, l := range o.Lines {
		resp.Lines[i] = orderLineResponse{
			ProductID:     l.ProductID,
			Quantity:      l.Quantity,
			UnitBasePrice: l.UnitBasePrice,
			UnitPrice:     l.UnitPrice,
			AppliedRuleID: l.AppliedRuleID,
		}
	}
	return resp
}

// checkout freezes the caller's cart into an order and initiates payment.
func (h *Handler) checkout(w http.ResponseWriter, r *http.Request) {
	ownerID := ownerFromContext(r.Context())

	var req checkoutRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.AddressID == "" {
		writeError(w, http.StatusBadRequest, "address_id required")
		return
	}

	o, err := h.orchestrator.Checkout(r.Context(), order.CheckoutRequest{
		OwnerID:       ownerID,
		AddressID:     req.AddressID,
		PaymentMethod: req.PaymentMethod,
		RedeemPoints:  req.RedeemPoints,
	})
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, orderToResponse(o))
}

func (h *Handler) getOrder(w http.ResponseWriter, r *http.Request) {
	ownerID := ownerFromContext(r.Context())
	orderID := chi.URLParam(r, "orderID")

	o, err := h.orchestrator.GetForOwner(r.Context(), orderID, ownerID)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, orderToResponse(o))
}

func (h *Handler) cancelOrder(w http.ResponseWriter, r *http.Request) {
	ownerID := ownerFromContext(r.Context())
	orderID := chi.URLParam(r, "orderID")

	o, err := h.orchestrator.Cancel(r.Context(), ownerID, orderID)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, orderToResponse(o))
}

func (h *Handler) retryPayment(w http.ResponseWriter, r *http.Request) {
	ownerID := ownerFromContext(r.Context())
	orderID := chi.URLParam(r, "orderID")

	o, err := h.orchestrator.RetryPayment(r.Context(), ownerID, orderID)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, orderToResponse(o))
}

// updateOrderStatus is the operator-driven post-payment transition.
func (h *Handler) updateOrderStatus(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "orderID")

	var req updateStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	o, err := h.orchestrator.UpdateStatus(r.Context(), orderID, order.Status(req.Status), req.TrackingRef)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, orderToResponse(o))
}
