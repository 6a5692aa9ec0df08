package httppresentation

import (
	"net/http"

	invapp "github.com/Zhima-Mochi/minishop-checkout/internal/application/inventory"

	"github.com/go-chi/chi/v5"
)

type restockRequest struct {
	OrderID string `json:"order_id"`
	Reason  string `json:"reason"`
	Lines   []struct {
		ProductID string `json:"product_id"`
		VariantID string `json:"variant_id"`
		Quantity  int    `json:"quantity"`
	} `json:"items"`
}

type stockDTO struct {
	ProductID string `json:"product_id"`
	VariantID string `json:"variant_id,omitempty"`
	Available int    `json:"available"`
}

func (h *Handler) handleRestock(w http.ResponseWriter, r *http.Request) {
	var req restockRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	in := invapp.RestockInput{OrderID: req.OrderID, Reason: req.Reason}
	for _, l := range req.Lines {
		in.Lines = append(in.Lines, invapp.RestockLine{ProductID: l.ProductID, VariantID: l.VariantID, Quantity: l.Quantity})
	}

	res, err := h.deps.Restock.Execute(r.Context(), in)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	out := make([]stockDTO, 0, len(res.Available))
	for unit, n := range res.Available {
		out = append(out, stockDTO{ProductID: unit.ProductID, VariantID: unit.VariantID, Available: n})
	}
	writeJSON(w, http.StatusOK, map[string]any{"stock": out})
}

func (h *Handler) handleStock(w http.ResponseWriter, r *http.Request) {
	productID := chi.URLParam(r, "productID")
	variantID := r.URL.Query().Get("variant_id")
	n, err := h.deps.Stock.Available(r.Context(), productID, variantID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stockDTO{ProductID: productID, VariantID: variantID, Available: n})
}
