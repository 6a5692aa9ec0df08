// Package paypal adapts the PayPal Orders v2 API to the payment gateway port.
package paypal

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/Zhima-Mochi/minishop-checkout/internal/domain/money"
	domorder "github.com/Zhima-Mochi/minishop-checkout/internal/domain/order"
	dompay "github.com/Zhima-Mochi/minishop-checkout/internal/domain/payment"
	"github.com/Zhima-Mochi/minishop-checkout/internal/infrastructure/provider"
	"github.com/Zhima-Mochi/minishop-checkout/internal/observability"

	"github.com/plutov/paypal/v4"
)

const (
	DefaultBaseURL = paypal.APIBaseSandBox

	issueAlreadyCaptured = "ORDER_ALREADY_CAPTURED"
	issueNotApproved     = "ORDER_NOT_APPROVED"
)

type Config struct {
	ClientID     string
	ClientSecret string
	WebhookID    string
	BaseURL      string
	BrandName    string
}

// Gateway talks to PayPal through the SDK client, which owns the OAuth token.
type Gateway struct {
	cfg    Config
	client *paypal.Client
}

func New(cfg Config, tel observability.Observability, opts ...provider.Option) (*Gateway, error) {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	c, err := paypal.NewClient(cfg.ClientID, cfg.ClientSecret, cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("paypal: %w", err)
	}
	c.SetHTTPClient(provider.NewHTTPClient(dompay.ProviderPayPal, tel, opts...))
	return &Gateway{cfg: cfg, client: c}, nil
}

func (g *Gateway) Provider() dompay.Provider { return dompay.ProviderPayPal }

type amount struct {
	CurrencyCode string `json:"currency_code"`
	Value        string `json:"value"`
}

type capture struct {
	ID                string  `json:"id"`
	Status            string  `json:"status"`
	Amount            *amount `json:"amount"`
	CustomID          string  `json:"custom_id"`
	SupplementaryData struct {
		RelatedIDs struct {
			OrderID string `json:"order_id"`
		} `json:"related_ids"`
	} `json:"supplementary_data"`
	StatusDetails struct {
		Reason string `json:"reason"`
	} `json:"status_details"`
}

type purchaseUnit struct {
	ReferenceID string `json:"reference_id"`
	CustomID    string `json:"custom_id"`
	Payments    struct {
		Captures []capture `json:"captures"`
	} `json:"payments"`
}

// ppOrder is the slice of an order resource the gateway reads. The SDK's
// paypal.Order drops custom_id and supplementary data from captures.
type ppOrder struct {
	ID            string         `json:"id"`
	Status        string         `json:"status"`
	PurchaseUnits []purchaseUnit `json:"purchase_units"`
	Payer         struct {
		PayerID string `json:"payer_id"`
	} `json:"payer"`
}

type createOrderRequest struct {
	Intent             string                       `json:"intent"`
	PurchaseUnits      []paypal.PurchaseUnitRequest `json:"purchase_units"`
	ApplicationContext *paypal.ApplicationContext   `json:"application_context,omitempty"`
}

// CreateHandle creates a PayPal order for the full order total. Both handle kinds
// yield an approval URL; PayPal has no embedded card form here.
func (g *Gateway) CreateHandle(ctx context.Context, req dompay.HandleRequest) (*dompay.Handle, error) {
	if err := dompay.CheckPayable(req.Order); err != nil {
		return nil, err
	}
	o := req.Order
	amt := amountOf(o.Totals.Total, o.Currency)
	body := createOrderRequest{
		Intent: paypal.OrderIntentCapture,
		PurchaseUnits: []paypal.PurchaseUnitRequest{{
			ReferenceID: o.ID,
			CustomID:    o.ID,
			Description: "Order #" + shortID(o.ID),
			Amount:      &paypal.PurchaseUnitAmount{Currency: amt.CurrencyCode, Value: amt.Value},
		}},
		ApplicationContext: &paypal.ApplicationContext{
			BrandName:  g.cfg.BrandName,
			UserAction: paypal.UserActionPayNow,
			ReturnURL:  withOrder(req.ReturnURL, o.ID),
			CancelURL:  withOrder(req.CancelURL, o.ID),
		},
	}

	var out paypal.Order
	if err := g.send(ctx, "create_order", http.MethodPost, "/v2/checkout/orders", body, "order-"+o.ID, &out); err != nil {
		return nil, err
	}
	h := &dompay.Handle{Provider: dompay.ProviderPayPal, ExternalID: out.ID}
	for _, l := range out.Links {
		if l.Rel == "approve" || l.Rel == "payer-action" {
			h.ApprovalURL = l.Href
			break
		}
	}
	return h, nil
}

// Confirm captures an approved PayPal order. A repeated capture reads the order
// back instead of failing.
func (g *Gateway) Confirm(ctx context.Context, externalID string, o *domorder.Order) (*dompay.Result, error) {
	reqID := "capture-" + externalID
	if o != nil {
		reqID = "capture-" + o.ID
	}
	path := "/v2/checkout/orders/" + url.PathEscape(externalID)

	var out ppOrder
	err := g.send(ctx, "capture_order", http.MethodPost, path+"/capture", struct{}{}, reqID, &out)
	var pe *dompay.ProviderError
	if errors.As(err, &pe) {
		switch pe.Code {
		case issueAlreadyCaptured:
			out = ppOrder{}
			err = g.send(ctx, "get_order", http.MethodGet, path, nil, "", &out)
		case issueNotApproved:
			return nil, fmt.Errorf("%w: buyer has not approved %s", dompay.ErrNotCompleted, externalID)
		}
	}
	if err != nil {
		return nil, err
	}

	if len(out.PurchaseUnits) == 0 {
		return nil, fmt.Errorf("%w: order %s has no purchase units", dompay.ErrNotCompleted, externalID)
	}
	pu := out.PurchaseUnits[0]
	if o != nil && pu.ReferenceID != "" && pu.ReferenceID != o.ID {
		return nil, fmt.Errorf("%w: paypal order %s", dompay.ErrOrderMismatch, out.ID)
	}
	if out.Status != "COMPLETED" || len(pu.Payments.Captures) == 0 {
		return nil, fmt.Errorf("%w: paypal order status %s", dompay.ErrNotCompleted, out.Status)
	}
	c := pu.Payments.Captures[0]
	res := &dompay.Result{
		ExternalID: out.ID,
		Reference:  c.ID,
		Metadata:   map[string]string{"capture_id": c.ID},
	}
	if out.Payer.PayerID != "" {
		res.Metadata["payer_id"] = out.Payer.PayerID
	}
	if c.Amount != nil {
		minor, err := money.Parse(c.Amount.Value, c.Amount.CurrencyCode)
		if err != nil {
			return nil, provider.Error(dompay.ProviderPayPal, "capture_order", 0, "", false, err)
		}
		res.Amount = minor
		res.Currency = strings.ToLower(c.Amount.CurrencyCode)
	}
	return res, nil
}

func (g *Gateway) Refund(ctx context.Context, req dompay.RefundRequest) (*dompay.RefundResult, error) {
	p := req.Payment
	if p == nil {
		return nil, fmt.Errorf("%w: no payment", dompay.ErrNotRefundable)
	}
	captureID := p.Reference
	if captureID == "" {
		captureID = p.Metadata["capture_id"]
	}
	if captureID == "" {
		return nil, fmt.Errorf("%w: payment %s has no paypal capture", dompay.ErrNotRefundable, p.ID)
	}
	amt := amountOf(req.Amount, p.Currency)
	body := paypal.RefundCaptureRequest{
		Amount: &paypal.Money{Currency: amt.CurrencyCode, Value: amt.Value},
	}
	if note := req.Reason; note != "" {
		if len(note) > 255 {
			note = note[:255]
		}
		body.NoteToPayer = note
	}

	var out paypal.RefundResponse
	path := "/v2/payments/captures/" + url.PathEscape(captureID) + "/refund"
	if err := g.send(ctx, "refund_capture", http.MethodPost, path, body, "refund-"+req.RefundID, &out); err != nil {
		return nil, err
	}
	if out.Status == "FAILED" || out.Status == "CANCELLED" {
		return nil, provider.Error(dompay.ProviderPayPal, "refund_capture", http.StatusOK, out.Status, false,
			fmt.Errorf("refund %s %s", out.ID, out.Status))
	}
	return &dompay.RefundResult{Reference: out.ID, Status: strings.ToLower(out.Status)}, nil
}

var transmissionHeaders = []string{
	"PAYPAL-TRANSMISSION-ID",
	"PAYPAL-TRANSMISSION-TIME",
	"PAYPAL-TRANSMISSION-SIG",
	"PAYPAL-CERT-URL",
	"PAYPAL-AUTH-ALGO",
}

type webhookEvent struct {
	ID           string          `json:"id"`
	EventType    string          `json:"event_type"`
	ResourceType string          `json:"resource_type"`
	Resource     json.RawMessage `json:"resource"`
}

// VerifyWebhook asks PayPal to verify the transmission signature before trusting
// the payload. A verified payload that cannot be read comes back as an ignored
// event so the sender stops retrying it.
func (g *Gateway) VerifyWebhook(ctx context.Context, payload []byte, header http.Header) (*dompay.Event, error) {
	if g.cfg.WebhookID == "" {
		return nil, fmt.Errorf("%w: no webhook id configured", dompay.ErrSignature)
	}
	for _, h := range transmissionHeaders {
		if header.Get(h) == "" {
			return nil, fmt.Errorf("%w: missing %s header", dompay.ErrSignature, h)
		}
	}
	if !json.Valid(payload) {
		return nil, fmt.Errorf("%w: payload is not json", dompay.ErrSignature)
	}

	ctx = provider.WithOp(ctx, "verify_webhook")
	hreq, err := http.NewRequestWithContext(ctx, http.MethodPost, "/", bytes.NewReader(payload))
	if err != nil {
		return nil, provider.Error(dompay.ProviderPayPal, "verify_webhook", 0, "", false, err)
	}
	hreq.Header = header.Clone()
	verdict, err := g.client.VerifyWebhookSignature(ctx, hreq, g.cfg.WebhookID)
	if err != nil {
		return nil, providerError("verify_webhook", err)
	}
	if verdict.VerificationStatus != "SUCCESS" {
		return nil, fmt.Errorf("%w: verification status %s", dompay.ErrSignature, verdict.VerificationStatus)
	}

	var ev webhookEvent
	if err := json.Unmarshal(payload, &ev); err != nil {
		return malformed(ev, fmt.Errorf("decode event: %w", err)), nil
	}
	if ev.ID == "" || ev.EventType == "" {
		return malformed(ev, errors.New("event without id or type")), nil
	}
	out, err := mapEvent(ev)
	if err != nil {
		return malformed(ev, err), nil
	}
	return out, nil
}

func malformed(ev webhookEvent, err error) *dompay.Event {
	return &dompay.Event{
		ID:            ev.ID,
		Type:          ev.EventType,
		Provider:      dompay.ProviderPayPal,
		Kind:          dompay.EventIgnored,
		FailureReason: err.Error(),
	}
}

func mapEvent(ev webhookEvent) (*dompay.Event, error) {
	out := &dompay.Event{ID: ev.ID, Type: ev.EventType, Provider: dompay.ProviderPayPal, Kind: dompay.EventIgnored}

	switch ev.EventType {
	case "PAYMENT.CAPTURE.COMPLETED", "PAYMENT.CAPTURE.DENIED", "PAYMENT.CAPTURE.DECLINED":
		var c capture
		if err := json.Unmarshal(ev.Resource, &c); err != nil {
			return nil, fmt.Errorf("decode capture: %w", err)
		}
		out.ExternalID = c.SupplementaryData.RelatedIDs.OrderID
		out.OrderID = c.CustomID
		out.Reference = c.ID
		out.Metadata = map[string]string{"capture_id": c.ID}
		if err := fillAmount(out, c.Amount); err != nil {
			return nil, err
		}
		if ev.EventType == "PAYMENT.CAPTURE.COMPLETED" {
			out.Kind = dompay.EventSucceeded
		} else {
			out.Kind = dompay.EventFailed
			out.FailureReason = strings.ToLower(c.StatusDetails.Reason)
			if out.FailureReason == "" {
				out.FailureReason = "capture " + strings.ToLower(c.Status)
			}
		}

	case "CHECKOUT.ORDER.COMPLETED", "CHECKOUT.ORDER.VOIDED":
		var o ppOrder
		if err := json.Unmarshal(ev.Resource, &o); err != nil {
			return nil, fmt.Errorf("decode order: %w", err)
		}
		out.ExternalID = o.ID
		if len(o.PurchaseUnits) > 0 {
			pu := o.PurchaseUnits[0]
			out.OrderID = pu.CustomID
			if out.OrderID == "" {
				out.OrderID = pu.ReferenceID
			}
			if len(pu.Payments.Captures) > 0 {
				c := pu.Payments.Captures[0]
				out.Reference = c.ID
				out.Metadata = map[string]string{"capture_id": c.ID}
				if err := fillAmount(out, c.Amount); err != nil {
					return nil, err
				}
			}
		}
		if ev.EventType == "CHECKOUT.ORDER.VOIDED" {
			out.Kind = dompay.EventCancelled
			out.FailureReason = "paypal order voided"
		} else if out.Reference != "" {
			out.Kind = dompay.EventSucceeded
		}
	}
	return out, nil
}

func fillAmount(ev *dompay.Event, a *amount) error {
	if a == nil {
		return nil
	}
	minor, err := money.Parse(a.Value, a.CurrencyCode)
	if err != nil {
		return err
	}
	ev.Amount = minor
	ev.Currency = strings.ToLower(a.CurrencyCode)
	return nil
}

// send issues an authenticated JSON call. A non-empty requestID becomes the
// PayPal-Request-Id so a repeated call replays the first result.
func (g *Gateway) send(ctx context.Context, op, method, path string, in any, requestID string, out any) error {
	ctx = provider.WithOp(ctx, op)
	req, err := g.client.NewRequest(ctx, method, g.cfg.BaseURL+path, in)
	if err != nil {
		return provider.Error(dompay.ProviderPayPal, op, 0, "", false, fmt.Errorf("encode: %w", err))
	}
	if requestID != "" {
		req.Header.Set("PayPal-Request-Id", requestID)
	}
	if err := g.client.SendWithAuth(req, out); err != nil {
		return providerError(op, err)
	}
	return nil
}

func providerError(op string, err error) error {
	var perr *paypal.ErrorResponse
	if !errors.As(err, &perr) {
		return provider.TransportError(dompay.ProviderPayPal, op, err)
	}
	status := 0
	if perr.Response != nil {
		status = perr.Response.StatusCode
	}
	code := perr.Name
	if len(perr.Details) > 0 && perr.Details[0].Issue != "" {
		code = perr.Details[0].Issue
	}
	msg := perr.Message
	if msg == "" {
		msg = http.StatusText(status)
	}
	return provider.Error(dompay.ProviderPayPal, op, status, code, provider.Retryable(status), errors.New(msg))
}

func amountOf(minor int64, currency string) amount {
	return amount{CurrencyCode: strings.ToUpper(currency), Value: money.Format(minor, currency)}
}

func withOrder(base, orderID string) string {
	if base == "" {
		return ""
	}
	sep := "?"
	if strings.Contains(base, "?") {
		sep = "&"
	}
	return base + sep + "order=" + url.QueryEscape(orderID)
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[len(id)-8:]
	}
	return id
}
