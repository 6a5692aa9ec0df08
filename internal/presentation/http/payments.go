package httppresentation

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	payapp "github.com/Zhima-Mochi/minishop-checkout/internal/application/payment"
	refundapp "github.com/Zhima-Mochi/minishop-checkout/internal/application/refund"
	"github.com/Zhima-Mochi/minishop-checkout/internal/domain/money"
	dompay "github.com/Zhima-Mochi/minishop-checkout/internal/domain/payment"
	"github.com/Zhima-Mochi/minishop-checkout/internal/observability"
	"github.com/Zhima-Mochi/minishop-checkout/internal/observability/logctx"

	"github.com/go-chi/chi/v5"
)

func toHandle(res *payapp.CreateHandleResult) *handleDTO {
	if res == nil || res.Handle == nil {
		return nil
	}
	return &handleDTO{
		PaymentID:    res.PaymentID,
		Provider:     res.Handle.Provider,
		ExternalID:   res.Handle.ExternalID,
		ClientSecret: res.Handle.ClientSecret,
		ApprovalURL:  res.Handle.ApprovalURL,
		Amount:       res.Amount,
		Currency:     res.Currency,
	}
}

type createHandleRequest struct {
	OrderID string `json:"order_id"`
}

func (h *Handler) handleCreateHandle(provider dompay.Provider, kind dompay.HandleKind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req createHandleRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		res, err := h.deps.CreateHandle.Execute(r.Context(), payapp.CreateHandleInput{
			OrderID:  req.OrderID,
			UserID:   identityFrom(r.Context()).UserID,
			Provider: provider,
			Kind:     kind,
		})
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, toHandle(res))
	}
}

type confirmStripeRequest struct {
	OrderID         string `json:"order_id"`
	PaymentIntentID string `json:"payment_intent_id"`
	SessionID       string `json:"session_id"`
}

type capturePayPalRequest struct {
	OrderID       string `json:"order_id"`
	PayPalOrderID string `json:"paypal_order_id"`
}

type confirmResponse struct {
	Outcome payapp.Outcome `json:"outcome"`
	Order   *orderDTO      `json:"order"`
	Payment *paymentDTO    `json:"payment"`
}

func (h *Handler) handleConfirmStripe(w http.ResponseWriter, r *http.Request) {
	var req confirmStripeRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	external := req.PaymentIntentID
	if external == "" {
		external = req.SessionID
	}
	h.confirm(w, r, dompay.ProviderStripe, external, req.OrderID)
}

func (h *Handler) handleCapturePayPal(w http.ResponseWriter, r *http.Request) {
	var req capturePayPalRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	h.confirm(w, r, dompay.ProviderPayPal, req.PayPalOrderID, req.OrderID)
}

func (h *Handler) confirm(w http.ResponseWriter, r *http.Request, provider dompay.Provider, externalID, orderID string) {
	res, err := h.deps.Confirm.Execute(r.Context(), payapp.ConfirmInput{
		Provider:   provider,
		ExternalID: externalID,
		OrderID:    orderID,
		UserID:     identityFrom(r.Context()).UserID,
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, confirmResponse{
		Outcome: res.Outcome,
		Order:   toOrder(res.Order),
		Payment: toPayment(res.Payment),
	})
}

type webhookResponse struct {
	Received bool           `json:"received"`
	Outcome  payapp.Outcome `json:"outcome,omitempty"`
}

// handleWebhook acknowledges every verified event, including duplicates and ones we
// ignore. Only signature failures are 400; store failures are 5xx so the provider
// delivers again.
func (h *Handler) handleWebhook(w http.ResponseWriter, r *http.Request) {
	provider := dompay.Provider(strings.ToLower(chi.URLParam(r, "provider")))
	if provider == "" {
		provider = dompay.ProviderStripe
	}
	payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("read webhook body: %w", err))
		return
	}

	res, err := h.deps.Reconcile.Execute(r.Context(), payapp.ReconcileInput{
		Provider: provider,
		Payload:  payload,
		Header:   r.Header,
	})
	if err != nil {
		if errors.Is(err, dompay.ErrUnsupportedProvider) {
			writeError(w, http.StatusNotFound, err)
			return
		}
		status, body := classify(err)
		if status == http.StatusBadRequest && !errors.Is(err, dompay.ErrSignature) {
			// A verified event we could not apply; ask for redelivery.
			status = http.StatusInternalServerError
		}
		logctx.FromOr(r.Context(), h.log).Warn("webhook_rejected",
			observability.F("provider", string(provider)),
			observability.F("status", status),
			observability.F("error", err.Error()),
		)
		writeJSON(w, status, body)
		return
	}
	writeJSON(w, http.StatusOK, webhookResponse{Received: true, Outcome: res.Outcome})
}

type refundRequest struct {
	// Amount is a major-unit decimal string; empty refunds the remaining balance.
	Amount string `json:"amount"`
	Reason string `json:"reason"`
}

type refundResponse struct {
	Refund  *refundDTO  `json:"refund"`
	Payment *paymentDTO `json:"payment"`
	Order   *orderDTO   `json:"order"`
}

func (h *Handler) handleRefund(w http.ResponseWriter, r *http.Request) {
	var req refundRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	var amount int64
	if req.Amount != "" {
		v, err := money.Parse(req.Amount, h.deps.PaymentConfig.Currency)
		if err != nil || v <= 0 {
			writeJSON(w, http.StatusBadRequest, errorBody{Error: "amount must be a positive decimal", Field: "amount"})
			return
		}
		amount = v
	}

	res, err := h.deps.Refund.Execute(r.Context(), refundapp.Input{
		PaymentID:   chi.URLParam(r, "id"),
		Amount:      amount,
		Reason:      req.Reason,
		ProcessedBy: identityFrom(r.Context()).UserID,
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, refundResponse{
		Refund:  toRefund(res.Refund),
		Payment: toPayment(res.Payment),
		Order:   toOrder(res.Order),
	})
}

func (h *Handler) handlePaymentHistory(w http.ResponseWriter, r *http.Request) {
	limit, offset := pageParams(r)
	payments, err := h.deps.Payments.List(r.Context(), identityFrom(r.Context()).UserID, limit, offset)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	out := make([]*paymentDTO, 0, len(payments))
	for _, p := range payments {
		out = append(out, toPayment(p))
	}
	writeJSON(w, http.StatusOK, map[string]any{"payments": out})
}

type paymentDetailResponse struct {
	Payment *paymentDTO  `json:"payment"`
	Refunds []*refundDTO `json:"refunds"`
}

func (h *Handler) handleGetPayment(w http.ResponseWriter, r *http.Request) {
	id := identityFrom(r.Context())
	d, err := h.deps.Payments.Get(r.Context(), chi.URLParam(r, "id"), id.UserID, id.Admin())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	refunds := make([]*refundDTO, 0, len(d.Refunds))
	for _, rf := range d.Refunds {
		refunds = append(refunds, toRefund(rf))
	}
	writeJSON(w, http.StatusOK, paymentDetailResponse{Payment: toPayment(d.Payment), Refunds: refunds})
}
