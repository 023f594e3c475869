package handler

import (
	"encoding/json"
	"net/http"
	"time"
)

type loyaltyEventResponse struct {
	ID        string    `json:"id"`
	OrderID   string    `json:"order_id,omitempty"`
	Type      string    `json:"type"`
	Points    int64     `json:"points"`
	CreatedAt time.Time `json:"created_at"`
}

type loyaltyResponse struct {
	PointBalance int64                  `json:"point_balance"`
	History      []loyaltyEventResponse `json:"history"`
}

func (h *Handler) getLoyalty(w http.ResponseWriter, r *http.Request) {
	ownerID := ownerFromContext(r.Context())

	acc, err := h.loyalty.Balance(r.Context(), ownerID)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	events, err := h.loyalty.History(r.Context(), ownerID)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}

	resp := loyaltyResponse{
		PointBalance: acc.PointBalance,
		History:      make([]loyaltyEventResponse, len(events)),
	}
	for i, e := range events {
		resp.History[i] = loyaltyEventResponse{
			ID:        e.ID,
			OrderID:   e.OrderID,
			Type:      string(e.Type),
			Points:    e.Points,
			CreatedAt: e.CreatedAt,
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

type loyaltyAdjustRequest struct {
	OwnerID string `json:"owner_id"`
	// Points is the signed adjustment: positive credits, negative debits.
	Points int64 `json:"points"`
}

type loyaltyAdjustResponse struct {
	OwnerID      string `json:"owner_id"`
	PointBalance int64  `json:"point_balance"`
}

// adjustLoyalty applies a manual point adjustment to any account. Operator
// only; customer-facing point movements go through checkout and callbacks.
func (h *Handler) adjustLoyalty(w http.ResponseWriter, r *http.Request) {
	var req loyaltyAdjustRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.OwnerID == "" {
		writeError(w, http.StatusBadRequest, "owner_id is required")
		return
	}
	if req.Points == 0 {
		writeError(w, http.StatusBadRequest, "points must not be zero")
		return
	}

	var err error
	if req.Points > 0 {
		err = h.loyalty.Accrue(r.Context(), req.OwnerID, req.Points, "")
	} else {
		err = h.loyalty.Redeem(r.Context(), req.OwnerID, -req.Points, "")
	}
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}

	acc, err := h.loyalty.Balance(r.Context(), req.OwnerID)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, loyaltyAdjustResponse{
		OwnerID:      acc.OwnerID,
		PointBalance: acc.PointBalance,
	})
}
