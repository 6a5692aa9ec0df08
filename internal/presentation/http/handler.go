package httppresentation

import (
	"context"
	"net/http"

	"github.com/Zhima-Mochi/minishop-checkout/internal/application"
	cartapp "github.com/Zhima-Mochi/minishop-checkout/internal/application/cart"
	checkoutapp "github.com/Zhima-Mochi/minishop-checkout/internal/application/checkout"
	invapp "github.com/Zhima-Mochi/minishop-checkout/internal/application/inventory"
	ordapp "github.com/Zhima-Mochi/minishop-checkout/internal/application/order"
	payapp "github.com/Zhima-Mochi/minishop-checkout/internal/application/payment"
	refundapp "github.com/Zhima-Mochi/minishop-checkout/internal/application/refund"
	domcart "github.com/Zhima-Mochi/minishop-checkout/internal/domain/cart"
	domorder "github.com/Zhima-Mochi/minishop-checkout/internal/domain/order"
	dompay "github.com/Zhima-Mochi/minishop-checkout/internal/domain/payment"
	"github.com/Zhima-Mochi/minishop-checkout/internal/observability"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

const (
	componentHTTPHandler = "http_server"
	headerRequestID      = "X-Request-ID"
	headerIdempotencyKey = "Idempotency-Key"
)

type CartService interface {
	AddItem(ctx context.Context, item domcart.Item) error
	Summary(ctx context.Context, userID string) (*cartapp.Summary, error)
}

type OrderQueries interface {
	Get(ctx context.Context, id, userID string, admin bool) (*domorder.Order, error)
	List(ctx context.Context, userID string, limit, offset int) ([]*domorder.Order, error)
}

type PaymentHistory interface {
	List(ctx context.Context, userID string, limit, offset int) ([]*dompay.Payment, error)
	Get(ctx context.Context, paymentID, userID string, admin bool) (*payapp.Detail, error)
}

type StockQuery interface {
	Available(ctx context.Context, productID, variantID string) (int, error)
}

// PaymentConfig is the public part of the provider setup the storefront needs.
type PaymentConfig struct {
	Currency             string   `json:"currency"`
	Providers            []string `json:"providers"`
	StripePublishableKey string   `json:"stripe_publishable_key,omitempty"`
	PayPalClientID       string   `json:"paypal_client_id,omitempty"`
}

// Deps are the use cases and queries the HTTP surface exposes.
type Deps struct {
	Cart           CartService
	CreateOrder    application.UseCase[ordapp.CreateOrderInput, *ordapp.CreateOrderResult]
	CancelOrder    application.UseCase[ordapp.CancelOrderInput, *ordapp.CancelOrderResult]
	AdvanceStatus  application.UseCase[ordapp.AdvanceStatusInput, *ordapp.StatusResult]
	UpdateTracking application.UseCase[ordapp.UpdateTrackingInput, *ordapp.StatusResult]
	Orders         OrderQueries
	Checkout       application.UseCase[checkoutapp.Input, *checkoutapp.Result]
	CreateHandle   application.UseCase[payapp.CreateHandleInput, *payapp.CreateHandleResult]
	Confirm        application.UseCase[payapp.ConfirmInput, *payapp.ConfirmResult]
	Reconcile      application.UseCase[payapp.ReconcileInput, *payapp.ReconcileResult]
	Refund         application.UseCase[refundapp.Input, *refundapp.Result]
	Payments       PaymentHistory
	Restock        application.UseCase[invapp.RestockInput, *invapp.RestockResult]
	Stock          StockQuery
	PaymentConfig  PaymentConfig
	// Health reports whether dependencies are reachable; nil means always healthy.
	Health func(ctx context.Context) error
}

type Handler struct {
	deps Deps
	log  observability.Logger

	reqCounter   observability.Counter
	durHistogram observability.Histogram
}

func NewHandler(deps Deps, tel observability.Observability) *Handler {
	if tel == nil {
		tel = observability.Nop()
	}
	m := tel.Metrics()
	return &Handler{
		deps:         deps,
		log:          tel.Logger().With(observability.F("component", componentHTTPHandler)),
		reqCounter:   m.Counter(observability.MHTTPRequests),
		durHistogram: m.Histogram(observability.MHTTPRequestDuration),
	}
}

// Router wires every route behind Trace → Request Logger → Access Log → Metrics.
// extra is mounted as-is, e.g. the metrics endpoint.
func (h *Handler) Router(extra map[string]http.Handler) http.Handler {
	r := chi.NewRouter()
	r.Use(
		h.withTrace,
		ObservabilityMiddleware(h.log, func(r *http.Request) string { return r.Header.Get(headerRequestID) }),
		h.withAccessLog,
		h.withHTTPMetrics,
		middleware.Recoverer,
	)

	r.Get("/health", h.handleHealth)
	r.Get("/payments/config", h.handlePaymentConfig)
	r.Post("/payments/webhook", h.handleWebhook)
	r.Post("/payments/webhook/{provider}", h.handleWebhook)
	for path, handler := range extra {
		r.Handle(path, handler)
	}

	r.Group(func(r chi.Router) {
		r.Use(Authenticate)

		r.Post("/cart/items", h.handleAddCartItem)
		r.Get("/cart", h.handleGetCart)

		r.Post("/orders", h.handleCreateOrder)
		r.Get("/orders", h.handleListOrders)
		r.Get("/orders/{id}", h.handleGetOrder)
		r.Put("/orders/{id}/cancel", h.handleCancelOrder)
		r.Post("/checkout", h.handleCheckout)

		r.Post("/payments/create-payment-intent", h.handleCreateHandle(dompay.ProviderStripe, dompay.HandleIntent))
		r.Post("/payments/create-checkout-session", h.handleCreateHandle(dompay.ProviderStripe, dompay.HandleRedirect))
		r.Post("/payments/create-paypal-order", h.handleCreateHandle(dompay.ProviderPayPal, dompay.HandleRedirect))
		r.Post("/payments/confirm-payment", h.handleConfirmStripe)
		r.Post("/payments/capture-paypal-order", h.handleCapturePayPal)
		r.Get("/payments/history", h.handlePaymentHistory)
		r.Get("/payments/{id}", h.handleGetPayment)

		r.Get("/inventory/{productID}", h.handleStock)

		r.Group(func(r chi.Router) {
			r.Use(RequireAdmin)
			r.Put("/orders/{id}/status", h.handleAdvanceStatus)
			r.Put("/orders/{id}/tracking", h.handleUpdateTracking)
			r.Post("/payments/{id}/refund", h.handleRefund)
			r.Post("/inventory/restock", h.handleRestock)
		})
	})
	return r
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	if h.deps.Health != nil {
		if err := h.deps.Health(r.Context()); err != nil {
			writeError(w, http.StatusServiceUnavailable, err)
			return
		}
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (h *Handler) handlePaymentConfig(w http.ResponseWriter, _ *http.Request) {
	cfg := h.deps.PaymentConfig
	if cfg.Providers == nil {
		cfg.Providers = []string{}
	}
	writeJSON(w, http.StatusOK, cfg)
}
