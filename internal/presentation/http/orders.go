package httppresentation

import (
	"net/http"
	"strings"

	"github.com/Zhima-Mochi/minishop-checkout/internal/application"
	checkoutapp "github.com/Zhima-Mochi/minishop-checkout/internal/application/checkout"
	ordapp "github.com/Zhima-Mochi/minishop-checkout/internal/application/order"
	domorder "github.com/Zhima-Mochi/minishop-checkout/internal/domain/order"
	dompay "github.com/Zhima-Mochi/minishop-checkout/internal/domain/payment"

	"github.com/go-chi/chi/v5"
)

type createOrderRequest struct {
	ShippingAddress domorder.Address `json:"shipping_address"`
	PaymentMethod   string           `json:"payment_method"`
	CouponCode      string           `json:"coupon_code"`
	Notes           string           `json:"notes"`
	// IdempotencyKey may also arrive as the Idempotency-Key header, which wins.
	IdempotencyKey string `json:"idempotency_key"`
}

func (req createOrderRequest) input(r *http.Request) ordapp.CreateOrderInput {
	key := strings.TrimSpace(r.Header.Get(headerIdempotencyKey))
	if key == "" {
		key = strings.TrimSpace(req.IdempotencyKey)
	}
	return ordapp.CreateOrderInput{
		IdempotencyKey:  key,
		UserID:          identityFrom(r.Context()).UserID,
		ShippingAddress: req.ShippingAddress,
		PaymentMethod:   domorder.PaymentMethod(req.PaymentMethod),
		CouponCode:      req.CouponCode,
		Notes:           req.Notes,
	}
}

type orderResponse struct {
	Order    *orderDTO `json:"order"`
	Replayed bool      `json:"replayed,omitempty"`
}

func (h *Handler) handleCreateOrder(w http.ResponseWriter, r *http.Request) {
	var req createOrderRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	res, err := h.deps.CreateOrder.Execute(r.Context(), req.input(r))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	status := http.StatusCreated
	if res.Replayed {
		status = http.StatusOK
	}
	writeJSON(w, status, orderResponse{Order: toOrder(res.Order), Replayed: res.Replayed})
}

type checkoutRequest struct {
	createOrderRequest
	HandleKind string `json:"handle_kind"`
}

type checkoutResponse struct {
	Order    *orderDTO  `json:"order"`
	Replayed bool       `json:"replayed,omitempty"`
	Payment  *handleDTO `json:"payment,omitempty"`
}

func (h *Handler) handleCheckout(w http.ResponseWriter, r *http.Request) {
	var req checkoutRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	res, err := h.deps.Checkout.Execute(r.Context(), checkoutapp.Input{
		Order: req.input(r),
		Kind:  dompay.HandleKind(req.HandleKind),
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	status := http.StatusCreated
	if res.Replayed {
		status = http.StatusOK
	}
	writeJSON(w, status, checkoutResponse{
		Order:    toOrder(res.Order),
		Replayed: res.Replayed,
		Payment:  toHandle(res.Payment),
	})
}

func (h *Handler) handleListOrders(w http.ResponseWriter, r *http.Request) {
	limit, offset := pageParams(r)
	orders, err := h.deps.Orders.List(r.Context(), identityFrom(r.Context()).UserID, limit, offset)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	out := make([]*orderDTO, 0, len(orders))
	for _, o := range orders {
		out = append(out, toOrder(o))
	}
	writeJSON(w, http.StatusOK, map[string]any{"orders": out})
}

func (h *Handler) handleGetOrder(w http.ResponseWriter, r *http.Request) {
	id := identityFrom(r.Context())
	o, err := h.deps.Orders.Get(r.Context(), chi.URLParam(r, "id"), id.UserID, id.Admin())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, orderResponse{Order: toOrder(o)})
}

type cancelResponse struct {
	Cancelled bool      `json:"cancelled"`
	Order     *orderDTO `json:"order"`
	Error     string    `json:"error,omitempty"`
}

// handleCancelOrder answers 400 with cancelled=false when the order is past the
// point where it can be cancelled.
func (h *Handler) handleCancelOrder(w http.ResponseWriter, r *http.Request) {
	id := identityFrom(r.Context())
	res, err := h.deps.CancelOrder.Execute(r.Context(), ordapp.CancelOrderInput{
		OrderID: chi.URLParam(r, "id"),
		UserID:  id.UserID,
		Admin:   id.Admin(),
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if !res.Cancelled {
		writeJSON(w, http.StatusBadRequest, cancelResponse{
			Order: toOrder(res.Order),
			Error: "order cannot be cancelled in status " + string(res.Order.Status),
		})
		return
	}
	writeJSON(w, http.StatusOK, cancelResponse{Cancelled: true, Order: toOrder(res.Order)})
}

type advanceStatusRequest struct {
	Status string `json:"status"`
}

type statusResponse struct {
	Changed bool      `json:"changed"`
	Order   *orderDTO `json:"order"`
}

func (h *Handler) handleAdvanceStatus(w http.ResponseWriter, r *http.Request) {
	var req advanceStatusRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if req.Status == "" {
		writeDomainError(w, application.Invalid("status", "is required"))
		return
	}
	res, err := h.deps.AdvanceStatus.Execute(r.Context(), ordapp.AdvanceStatusInput{
		OrderID: chi.URLParam(r, "id"),
		Status:  domorder.Status(req.Status),
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, statusResponse{Changed: res.Changed, Order: toOrder(res.Order)})
}

type trackingRequest struct {
	TrackingNumber string `json:"tracking_number"`
	Carrier        string `json:"carrier"`
}

func (h *Handler) handleUpdateTracking(w http.ResponseWriter, r *http.Request) {
	var req trackingRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	res, err := h.deps.UpdateTracking.Execute(r.Context(), ordapp.UpdateTrackingInput{
		OrderID:        chi.URLParam(r, "id"),
		TrackingNumber: req.TrackingNumber,
		Carrier:        req.Carrier,
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, statusResponse{Changed: res.Changed, Order: toOrder(res.Order)})
}
