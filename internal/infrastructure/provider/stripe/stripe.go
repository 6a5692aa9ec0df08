// Package stripe adapts Stripe payment intents, checkout sessions, refunds and
// signed webhooks to the payment gateway port through stripe-go.
package stripe

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	domorder "github.com/Zhima-Mochi/minishop-checkout/internal/domain/order"
	dompay "github.com/Zhima-Mochi/minishop-checkout/internal/domain/payment"
	"github.com/Zhima-Mochi/minishop-checkout/internal/infrastructure/provider"
	"github.com/Zhima-Mochi/minishop-checkout/internal/observability"

	stripe "github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/client"
	"github.com/stripe/stripe-go/v76/webhook"
)

const (
	DefaultBaseURL   = "https://api.stripe.com"
	DefaultTolerance = 5 * time.Minute
	SignatureHeader  = "Stripe-Signature"
)

type Config struct {
	SecretKey     string
	WebhookSecret string
	BaseURL       string
	// Tolerance bounds the age of a webhook signature timestamp.
	Tolerance time.Duration
}

type Gateway struct {
	cfg Config
	api *client.API
}

// New builds a stripe-go client whose requests go through the instrumented
// provider HTTP client. SDK retries are off; callers retry with the same
// idempotency key.
func New(cfg Config, tel observability.Observability, opts ...provider.Option) *Gateway {
	if tel == nil {
		tel = observability.Nop()
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Tolerance <= 0 {
		cfg.Tolerance = DefaultTolerance
	}
	httpClient := provider.NewHTTPClient(dompay.ProviderStripe, tel, opts...)
	logger := sdkLogger{log: tel.Logger().With(observability.F("peer", string(dompay.ProviderStripe)))}
	backend := func(kind stripe.SupportedBackend) stripe.Backend {
		return stripe.GetBackendWithConfig(kind, &stripe.BackendConfig{
			HTTPClient:        httpClient,
			URL:               stripe.String(strings.TrimRight(cfg.BaseURL, "/")),
			MaxNetworkRetries: stripe.Int64(0),
			LeveledLogger:     logger,
		})
	}
	return &Gateway{
		cfg: cfg,
		api: client.New(cfg.SecretKey, &stripe.Backends{
			API:     backend(stripe.APIBackend),
			Connect: backend(stripe.ConnectBackend),
			Uploads: backend(stripe.UploadsBackend),
		}),
	}
}

func (g *Gateway) Provider() dompay.Provider { return dompay.ProviderStripe }

func (g *Gateway) CreateHandle(ctx context.Context, req dompay.HandleRequest) (*dompay.Handle, error) {
	if err := dompay.CheckPayable(req.Order); err != nil {
		return nil, err
	}
	switch req.Kind {
	case dompay.HandleIntent, "":
		return g.createIntent(ctx, req.Order)
	case dompay.HandleRedirect:
		return g.createSession(ctx, req)
	}
	return nil, fmt.Errorf("%w: stripe has no %q handle", dompay.ErrUnsupportedProvider, req.Kind)
}

func (g *Gateway) createIntent(ctx context.Context, o *domorder.Order) (*dompay.Handle, error) {
	const op = "create_payment_intent"
	params := &stripe.PaymentIntentParams{
		Amount:   stripe.Int64(o.Totals.Total),
		Currency: stripe.String(strings.ToLower(o.Currency)),
		AutomaticPaymentMethods: &stripe.PaymentIntentAutomaticPaymentMethodsParams{
			Enabled: stripe.Bool(true),
		},
	}
	params.Context = provider.WithOp(ctx, op)
	params.SetIdempotencyKey("pi-" + o.ID)
	params.AddMetadata("order_id", o.ID)
	params.AddMetadata("user_id", o.UserID)

	pi, err := g.api.PaymentIntents.New(params)
	if err != nil {
		return nil, providerError(ctx, op, err)
	}
	return &dompay.Handle{
		Provider:     dompay.ProviderStripe,
		ExternalID:   pi.ID,
		ClientSecret: pi.ClientSecret,
	}, nil
}

// createSession opens a hosted checkout page. Line items carry shipping and tax so
// the page shows the same total as the order; a discounted order is sent as a single
// line because sessions do not accept negative items. The order id is kept off the
// spawned intent so its events cannot be mistaken for a second payment.
func (g *Gateway) createSession(ctx context.Context, req dompay.HandleRequest) (*dompay.Handle, error) {
	const op = "create_checkout_session"
	o := req.Order
	currency := strings.ToLower(o.Currency)
	params := &stripe.CheckoutSessionParams{
		Mode:              stripe.String(string(stripe.CheckoutSessionModePayment)),
		ClientReferenceID: stripe.String(o.ID),
		SuccessURL:        stripe.String(withQuery(req.ReturnURL, "order="+url.QueryEscape(o.ID)+"&session_id={CHECKOUT_SESSION_ID}")),
		CancelURL:         stripe.String(withQuery(req.CancelURL, "order="+url.QueryEscape(o.ID))),
	}
	params.Context = provider.WithOp(ctx, op)
	params.SetIdempotencyKey("cs-" + o.ID)
	params.AddMetadata("order_id", o.ID)
	params.AddMetadata("user_id", o.UserID)

	item := func(name string, amount int64, qty int) *stripe.CheckoutSessionLineItemParams {
		return &stripe.CheckoutSessionLineItemParams{
			PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
				Currency:    stripe.String(currency),
				ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{Name: stripe.String(name)},
				UnitAmount:  stripe.Int64(amount),
			},
			Quantity: stripe.Int64(int64(qty)),
		}
	}
	if o.Totals.Discount > 0 {
		params.LineItems = append(params.LineItems, item("Order "+shortID(o.ID), o.Totals.Total, 1))
	} else {
		for _, l := range o.Lines {
			params.LineItems = append(params.LineItems, item(l.ProductName, l.UnitPrice+l.VariantSurcharge, l.Quantity))
		}
		if o.Totals.Shipping > 0 {
			params.LineItems = append(params.LineItems, item("Shipping", o.Totals.Shipping, 1))
		}
		if o.Totals.Tax > 0 {
			params.LineItems = append(params.LineItems, item("Tax", o.Totals.Tax, 1))
		}
	}

	cs, err := g.api.CheckoutSessions.New(params)
	if err != nil {
		return nil, providerError(ctx, op, err)
	}
	return &dompay.Handle{
		Provider:    dompay.ProviderStripe,
		ExternalID:  cs.ID,
		ApprovalURL: cs.URL,
	}, nil
}

// Confirm accepts a payment intent or checkout session id.
func (g *Gateway) Confirm(ctx context.Context, externalID string, o *domorder.Order) (*dompay.Result, error) {
	if strings.HasPrefix(externalID, "cs_") {
		const op = "retrieve_checkout_session"
		params := &stripe.CheckoutSessionParams{}
		params.Context = provider.WithOp(ctx, op)
		cs, err := g.api.CheckoutSessions.Get(externalID, params)
		if err != nil {
			return nil, providerError(ctx, op, err)
		}
		if owner := sessionOrder(cs); owner != "" && o != nil && owner != o.ID {
			return nil, fmt.Errorf("%w: session %s", dompay.ErrOrderMismatch, cs.ID)
		}
		if cs.PaymentStatus != stripe.CheckoutSessionPaymentStatusPaid {
			return nil, fmt.Errorf("%w: session payment status %s", dompay.ErrNotCompleted, cs.PaymentStatus)
		}
		intent := sessionIntent(cs)
		return &dompay.Result{
			ExternalID: cs.ID,
			Amount:     cs.AmountTotal,
			Currency:   string(cs.Currency),
			Reference:  intent,
			Metadata:   map[string]string{"payment_intent": intent},
		}, nil
	}

	const op = "retrieve_payment_intent"
	params := &stripe.PaymentIntentParams{}
	params.Context = provider.WithOp(ctx, op)
	pi, err := g.api.PaymentIntents.Get(externalID, params)
	if err != nil {
		return nil, providerError(ctx, op, err)
	}
	if owner := pi.Metadata["order_id"]; owner != "" && o != nil && owner != o.ID {
		return nil, fmt.Errorf("%w: intent %s", dompay.ErrOrderMismatch, pi.ID)
	}
	if pi.Status != stripe.PaymentIntentStatusSucceeded {
		return nil, fmt.Errorf("%w: intent status %s", dompay.ErrNotCompleted, pi.Status)
	}
	return &dompay.Result{
		ExternalID: pi.ID,
		Amount:     intentAmount(pi),
		Currency:   string(pi.Currency),
		Reference:  chargeID(pi),
		Metadata:   intentMeta(pi),
	}, nil
}

func (g *Gateway) Refund(ctx context.Context, req dompay.RefundRequest) (*dompay.RefundResult, error) {
	const op = "create_refund"
	p := req.Payment
	if p == nil {
		return nil, fmt.Errorf("%w: no payment", dompay.ErrNotRefundable)
	}
	params := &stripe.RefundParams{Amount: stripe.Int64(req.Amount)}
	switch {
	case strings.HasPrefix(p.ExternalID, "pi_"):
		params.PaymentIntent = stripe.String(p.ExternalID)
	case strings.HasPrefix(p.Reference, "pi_"):
		params.PaymentIntent = stripe.String(p.Reference)
	case strings.HasPrefix(p.Reference, "ch_"):
		params.Charge = stripe.String(p.Reference)
	default:
		return nil, fmt.Errorf("%w: payment %s has no stripe charge", dompay.ErrNotRefundable, p.ID)
	}
	params.Context = provider.WithOp(ctx, op)
	params.SetIdempotencyKey("re-" + req.RefundID)
	params.AddMetadata("refund_id", req.RefundID)
	params.AddMetadata("order_id", p.OrderID)
	if req.Reason != "" {
		params.AddMetadata("reason", req.Reason)
	}

	rf, err := g.api.Refunds.New(params)
	if err != nil {
		return nil, providerError(ctx, op, err)
	}
	if rf.Status == stripe.RefundStatusFailed || rf.Status == stripe.RefundStatusCanceled {
		return nil, provider.Error(dompay.ProviderStripe, op, http.StatusOK, string(rf.Status), false,
			fmt.Errorf("refund %s %s: %s", rf.ID, rf.Status, rf.FailureReason))
	}
	return &dompay.RefundResult{Reference: rf.ID, Status: string(rf.Status)}, nil
}

// VerifyWebhook checks the signature before reading anything. A signed body that
// does not decode is acknowledged as ignored: Stripe would only redeliver it.
func (g *Gateway) VerifyWebhook(_ context.Context, payload []byte, header http.Header) (*dompay.Event, error) {
	if g.cfg.WebhookSecret == "" {
		return nil, fmt.Errorf("%w: no webhook secret configured", dompay.ErrSignature)
	}
	if err := webhook.ValidatePayloadWithTolerance(payload, header.Get(SignatureHeader), g.cfg.WebhookSecret, g.cfg.Tolerance); err != nil {
		return nil, fmt.Errorf("%w: %w", dompay.ErrSignature, err)
	}
	var ev stripe.Event
	if err := json.Unmarshal(payload, &ev); err != nil || ev.ID == "" || ev.Type == "" {
		return malformed(ev, err), nil
	}
	out, err := mapEvent(ev)
	if err != nil {
		return malformed(ev, err), nil
	}
	return out, nil
}

func malformed(ev stripe.Event, err error) *dompay.Event {
	if err == nil {
		err = errors.New("event without id or type")
	}
	return &dompay.Event{
		ID:            ev.ID,
		Type:          string(ev.Type),
		Provider:      dompay.ProviderStripe,
		Kind:          dompay.EventIgnored,
		FailureReason: "malformed event: " + err.Error(),
	}
}

func mapEvent(ev stripe.Event) (*dompay.Event, error) {
	typ := string(ev.Type)
	out := &dompay.Event{ID: ev.ID, Type: typ, Provider: dompay.ProviderStripe, Kind: dompay.EventIgnored}
	if ev.Data == nil {
		return out, nil
	}

	switch {
	case strings.HasPrefix(typ, "payment_intent."):
		var pi stripe.PaymentIntent
		if err := json.Unmarshal(ev.Data.Raw, &pi); err != nil {
			return nil, fmt.Errorf("stripe: decode payment intent: %w", err)
		}
		out.ExternalID = pi.ID
		out.OrderID = pi.Metadata["order_id"]
		out.Amount = intentAmount(&pi)
		out.Currency = string(pi.Currency)
		out.Reference = chargeID(&pi)
		out.Metadata = intentMeta(&pi)
		switch ev.Type {
		case stripe.EventTypePaymentIntentSucceeded:
			out.Kind = dompay.EventSucceeded
		case stripe.EventTypePaymentIntentPaymentFailed:
			out.Kind = dompay.EventFailed
			if pi.LastPaymentError != nil {
				out.FailureReason = pi.LastPaymentError.Msg
			}
		case stripe.EventTypePaymentIntentCanceled:
			out.Kind = dompay.EventCancelled
			out.FailureReason = string(pi.CancellationReason)
		}

	case strings.HasPrefix(typ, "checkout.session."):
		var cs stripe.CheckoutSession
		if err := json.Unmarshal(ev.Data.Raw, &cs); err != nil {
			return nil, fmt.Errorf("stripe: decode checkout session: %w", err)
		}
		intent := sessionIntent(&cs)
		out.ExternalID = cs.ID
		out.OrderID = sessionOrder(&cs)
		out.Amount = cs.AmountTotal
		out.Currency = string(cs.Currency)
		out.Reference = intent
		if intent != "" {
			out.Metadata = map[string]string{"payment_intent": intent}
		}
		switch ev.Type {
		case stripe.EventTypeCheckoutSessionCompleted:
			// Delayed methods complete the session before the money arrives.
			if cs.PaymentStatus == stripe.CheckoutSessionPaymentStatusPaid {
				out.Kind = dompay.EventSucceeded
			}
		case stripe.EventTypeCheckoutSessionAsyncPaymentSucceeded:
			out.Kind = dompay.EventSucceeded
		case stripe.EventTypeCheckoutSessionAsyncPaymentFailed:
			out.Kind = dompay.EventFailed
			out.FailureReason = "async payment failed"
		case stripe.EventTypeCheckoutSessionExpired:
			out.Kind = dompay.EventCancelled
			out.FailureReason = "checkout session expired"
		}
	}
	return out, nil
}

// providerError maps a stripe-go failure. API errors keep their status and code;
// anything else never got a response.
func providerError(ctx context.Context, op string, err error) error {
	var serr *stripe.Error
	if errors.As(err, &serr) {
		msg := serr.Msg
		if msg == "" {
			msg = http.StatusText(serr.HTTPStatusCode)
		}
		return provider.Error(dompay.ProviderStripe, op, serr.HTTPStatusCode, string(serr.Code),
			provider.Retryable(serr.HTTPStatusCode), errors.New(msg))
	}
	if cerr := ctx.Err(); cerr != nil {
		err = fmt.Errorf("%w: %w", cerr, err)
	}
	return provider.TransportError(dompay.ProviderStripe, op, err)
}

func intentAmount(pi *stripe.PaymentIntent) int64 {
	if pi.AmountReceived > 0 {
		return pi.AmountReceived
	}
	return pi.Amount
}

func chargeID(pi *stripe.PaymentIntent) string {
	if pi.LatestCharge != nil {
		return pi.LatestCharge.ID
	}
	return ""
}

func intentMeta(pi *stripe.PaymentIntent) map[string]string {
	m := map[string]string{}
	if pi.PaymentMethod != nil && pi.PaymentMethod.ID != "" {
		m["payment_method"] = pi.PaymentMethod.ID
	}
	if id := chargeID(pi); id != "" {
		m["charge"] = id
	}
	return m
}

func sessionIntent(cs *stripe.CheckoutSession) string {
	if cs.PaymentIntent != nil {
		return cs.PaymentIntent.ID
	}
	return ""
}

func sessionOrder(cs *stripe.CheckoutSession) string {
	if id := cs.Metadata["order_id"]; id != "" {
		return id
	}
	return cs.ClientReferenceID
}

func withQuery(base, query string) string {
	if strings.Contains(base, "?") {
		return base + "&" + query
	}
	return base + "?" + query
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[len(id)-8:]
	}
	return id
}

// sdkLogger routes stripe-go's own logging into ours.
type sdkLogger struct {
	log observability.Logger
}

func (l sdkLogger) Debugf(format string, v ...interface{}) {
	l.log.Debug("stripe_sdk", observability.F("message", fmt.Sprintf(format, v...)))
}

func (l sdkLogger) Infof(format string, v ...interface{}) {
	l.log.Debug("stripe_sdk", observability.F("message", fmt.Sprintf(format, v...)))
}

func (l sdkLogger) Warnf(format string, v ...interface{}) {
	l.log.Warn("stripe_sdk", observability.F("message", fmt.Sprintf(format, v...)))
}

func (l sdkLogger) Errorf(format string, v ...interface{}) {
	l.log.Error("stripe_sdk", observability.F("message", fmt.Sprintf(format, v...)))
}
