package handler

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
)

type cartLineResponse struct {
	ProductID     string          `json:"product_id"`
	Quantity      int             `json:"quantity"`
	UnitBasePrice decimal.Decimal `json:"unit_base_price"`
	UnitPrice     decimal.Decimal `json:"unit_price"`
	LineTotal     decimal.Decimal `json:"line_total"`
	AppliedRuleID string          `json:"applied_rule_id,omitempty"`
}

type cartResponse struct {
	Version  int64              `json:"version"`
	Lines    []cartLineResponse `json:"lines"`
	Subtotal decimal.Decimal    `json:"subtotal"`
	Total    decimal.Decimal    `json:"total"`
	// PricedAt marks when the totals were resolved; they are advisory and
	// may differ at checkout time.
	PricedAt time.Time `json:"priced_at"`
}

type addLineRequest struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
	Version   int64  `json:"version"`
}

type setQuantityRequest struct {
	Quantity int   `json:"quantity"`
	Version  int64 `json:"version"`
}

// getCart returns the priced cart snapshot at the current instant.
func (h *Handler) getCart(w http.ResponseWriter, r *http.Request) {
	ownerID := ownerFromContext(r.Context())

	c, err := h.carts.Get(r.Context(), ownerID)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	totals, err := h.carts.Price(r.Context(), c, time.Now())
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}

	resp := cartResponse{
		Version:  c.Version,
		Lines:    make([]cartLineResponse, len(totals.Lines)),
		Subtotal: totals.Subtotal.Round(2),
		Total:    totals.Total.Round(2),
		PricedAt: totals.At,
	}
	for i, pl := range totals.Lines {
		resp.Lines[i] = cartLineResponse{
			ProductID:     pl.ProductID,
			Quantity:      pl.Quantity,
			UnitBasePrice: pl.UnitBasePrice,
			UnitPrice:     pl.EffectiveUnit.Round(2),
			LineTotal:     pl.LineTotal.Round(2),
			AppliedRuleID: pl.AppliedRuleID,
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) addCartLine(w http.ResponseWriter, r *http.Request) {
	ownerID := ownerFromContext(r.Context())

	var req addLineRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.ProductID == "" {
		writeError(w, http.StatusBadRequest, "product_id required")
		return
	}

	if err := h.carts.AddLine(r.Context(), ownerID, req.ProductID, req.Quantity, req.Version); err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	h.getCart(w, r)
}

func (h *Handler) setCartQuantity(w http.ResponseWriter, r *http.Request) {
	ownerID := ownerFromContext(r.Context())
	productID := chi.URLParam(r, "productID")

	var req setQuantityRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	if err := h.carts.SetQuantity(r.Context(), ownerID, productID, req.Quantity, req.Version); err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	h.getCart(w, r)
}

func (h *Handler) removeCartLine(w http.ResponseWriter, r *http.Request) {
	ownerID := ownerFromContext(r.Context())
	productID := chi.URLParam(r, "productID")

	version, err := versionParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "version query parameter required")
		return
	}

	if err := h.carts.RemoveLine(r.Context(), ownerID, productID, version); err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	h.getCart(w, r)
}

func (h *Handler) clearCart(w http.ResponseWriter, r *http.Request) {
	ownerID := ownerFromContext(r.Context())

	version, err := versionParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "version query parameter required")
		return
	}

	if err := h.carts.Clear(r.Context(), ownerID, version); err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// versionParam reads the optimistic-concurrency token for bodyless mutations.
func versionParam(r *http.Request) (int64, error) {
	return strconv.ParseInt(r.URL.Query().Get("version"), 10, 64)
}
