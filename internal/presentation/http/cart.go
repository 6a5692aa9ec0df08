package httppresentation

import (
	"net/http"

	domcart "github.com/Zhima-Mochi/minishop-checkout/internal/domain/cart"
)

type addCartItemRequest struct {
	ProductID string `json:"product_id"`
	VariantID string `json:"variant_id"`
	Quantity  int    `json:"quantity"`
}

func (h *Handler) handleAddCartItem(w http.ResponseWriter, r *http.Request) {
	var req addCartItemRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	userID := identityFrom(r.Context()).UserID
	err := h.deps.Cart.AddItem(r.Context(), domcart.Item{
		UserID:    userID,
		ProductID: req.ProductID,
		VariantID: req.VariantID,
		Quantity:  req.Quantity,
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	h.writeCart(w, r, userID, http.StatusCreated)
}

func (h *Handler) handleGetCart(w http.ResponseWriter, r *http.Request) {
	h.writeCart(w, r, identityFrom(r.Context()).UserID, http.StatusOK)
}

func (h *Handler) writeCart(w http.ResponseWriter, r *http.Request, userID string, status int) {
	summary, err := h.deps.Cart.Summary(r.Context(), userID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, status, toCart(summary))
}
