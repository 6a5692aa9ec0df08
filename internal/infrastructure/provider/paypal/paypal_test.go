package paypal

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	domorder "github.com/Zhima-Mochi/minishop-checkout/internal/domain/order"
	dompay "github.com/Zhima-Mochi/minishop-checkout/internal/domain/payment"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePayPal struct {
	tokens   atomic.Int32
	mux      *http.ServeMux
	captured atomic.Bool
}

func newFake(t *testing.T) (*fakePayPal, *Gateway) {
	t.Helper()
	f := &fakePayPal{mux: http.NewServeMux()}
	f.mux.HandleFunc("/v1/oauth2/token", func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		assert.True(t, ok)
		assert.Equal(t, "cid", user)
		assert.Equal(t, "secret", pass)
		n := f.tokens.Add(1)
		_ = json.NewEncoder(w).Encode(map[string]any{"access_token": "tok" + string(rune('0'+n)), "expires_in": 3600})
	})
	srv := httptest.NewServer(f.mux)
	t.Cleanup(srv.Close)
	g, err := New(Config{ClientID: "cid", ClientSecret: "secret", WebhookID: "wh1", BaseURL: srv.URL, BrandName: "Minishop"}, nil)
	require.NoError(t, err)
	return f, g
}

func testOrder() *domorder.Order {
	return &domorder.Order{
		ID:            "order-12345678",
		UserID:        "u1",
		Currency:      "usd",
		Status:        domorder.StatusPending,
		Lines:         []domorder.Line{{ID: "l1", ProductID: "p1", ProductName: "Shirt", Quantity: 1, UnitPrice: 10000}},
		Totals:        domorder.Totals{Subtotal: 10000, Tax: 1600, Shipping: 1000, Total: 12600},
		PaymentMethod: domorder.MethodPayPal,
	}
}

const capturedOrder = `{
	"id": "PP-1",
	"status": "COMPLETED",
	"payer": {"payer_id": "PAYER"},
	"purchase_units": [{
		"reference_id": "order-12345678",
		"payments": {"captures": [{"id": "CAP-1", "status": "COMPLETED", "amount": {"currency_code": "USD", "value": "126.00"}}]}
	}]
}`

func TestCreateOrderFormatsDecimalAmount(t *testing.T) {
	f, g := newFake(t)
	f.mux.HandleFunc("/v2/checkout/orders", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer tok1", r.Header.Get("Authorization"))
		assert.Equal(t, "order-order-12345678", r.Header.Get("PayPal-Request-Id"))
		var body struct {
			PurchaseUnits []struct {
				ReferenceID string `json:"reference_id"`
				Amount      amount `json:"amount"`
			} `json:"purchase_units"`
			Context struct {
				ReturnURL  string `json:"return_url"`
				UserAction string `json:"user_action"`
			} `json:"application_context"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		require.Len(t, body.PurchaseUnits, 1)
		assert.Equal(t, "126.00", body.PurchaseUnits[0].Amount.Value)
		assert.Equal(t, "USD", body.PurchaseUnits[0].Amount.CurrencyCode)
		assert.Equal(t, "https://shop.test/paypal?order=order-12345678", body.Context.ReturnURL)
		assert.Equal(t, "PAY_NOW", body.Context.UserAction)
		w.WriteHeader(http.StatusCreated)
		_, _ = io.WriteString(w, `{"id":"PP-1","status":"CREATED","links":[{"rel":"self","href":"x"},{"rel":"approve","href":"https://paypal.test/approve"}]}`)
	})

	for i := 0; i < 2; i++ {
		h, err := g.CreateHandle(context.Background(), dompay.HandleRequest{
			Order: testOrder(), Kind: dompay.HandleRedirect, ReturnURL: "https://shop.test/paypal",
		})
		require.NoError(t, err)
		assert.Equal(t, "PP-1", h.ExternalID)
		assert.Equal(t, "https://paypal.test/approve", h.ApprovalURL)
	}
	assert.EqualValues(t, 1, f.tokens.Load(), "token is cached")
}

func TestCaptureRecoversAlreadyCaptured(t *testing.T) {
	f, g := newFake(t)
	f.mux.HandleFunc("/v2/checkout/orders/PP-1/capture", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "capture-order-12345678", r.Header.Get("PayPal-Request-Id"))
		if f.captured.Swap(true) {
			w.WriteHeader(http.StatusUnprocessableEntity)
			_, _ = io.WriteString(w, `{"name":"UNPROCESSABLE_ENTITY","details":[{"issue":"ORDER_ALREADY_CAPTURED"}]}`)
			return
		}
		w.WriteHeader(http.StatusCreated)
		_, _ = io.WriteString(w, capturedOrder)
	})
	f.mux.HandleFunc("/v2/checkout/orders/PP-1", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		_, _ = io.WriteString(w, capturedOrder)
	})

	for i := 0; i < 2; i++ {
		res, err := g.Confirm(context.Background(), "PP-1", testOrder())
		require.NoError(t, err)
		assert.EqualValues(t, 12600, res.Amount)
		assert.Equal(t, "CAP-1", res.Reference)
		assert.Equal(t, "usd", res.Currency)
	}
}

func TestCaptureNotApproved(t *testing.T) {
	f, g := newFake(t)
	f.mux.HandleFunc("/v2/checkout/orders/PP-1/capture", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		_, _ = io.WriteString(w, `{"name":"UNPROCESSABLE_ENTITY","details":[{"issue":"ORDER_NOT_APPROVED"}]}`)
	})
	_, err := g.Confirm(context.Background(), "PP-1", testOrder())
	assert.ErrorIs(t, err, dompay.ErrNotCompleted)
}

func TestNewRequiresCredentials(t *testing.T) {
	_, err := New(Config{ClientSecret: "secret"}, nil)
	require.Error(t, err)
}

func TestRejectedCredentialsAreDefinitive(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = io.WriteString(w, `{"error":"invalid_client","error_description":"Client Authentication failed"}`)
	}))
	t.Cleanup(srv.Close)
	g, err := New(Config{ClientID: "cid", ClientSecret: "bad", BaseURL: srv.URL}, nil)
	require.NoError(t, err)

	_, err = g.Confirm(context.Background(), "PP-1", testOrder())
	var pe *dompay.ProviderError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, http.StatusUnauthorized, pe.StatusCode)
	assert.False(t, pe.Retryable)
}

func TestServerErrorIsRetryable(t *testing.T) {
	f, g := newFake(t)
	f.mux.HandleFunc("/v2/checkout/orders/PP-1/capture", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = io.WriteString(w, `{"name":"SERVICE_UNAVAILABLE","message":"try later"}`)
	})
	_, err := g.Confirm(context.Background(), "PP-1", testOrder())
	var pe *dompay.ProviderError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, "SERVICE_UNAVAILABLE", pe.Code)
	assert.Equal(t, "capture_order", pe.Op)
	assert.True(t, pe.Retryable)
}

func TestUnreachableIsRetryable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	base := srv.URL
	srv.Close()
	g, err := New(Config{ClientID: "cid", ClientSecret: "secret", BaseURL: base}, nil)
	require.NoError(t, err)

	p := dompay.New("pay1", "order-12345678", "u1", dompay.ProviderPayPal, "PP-1", 12600, "usd")
	p.Reference = "CAP-1"
	_, err = g.Refund(context.Background(), dompay.RefundRequest{RefundID: "rf1", Payment: p, Amount: 100})
	var pe *dompay.ProviderError
	require.ErrorAs(t, err, &pe)
	assert.True(t, pe.Retryable)
}

func TestRefundCapture(t *testing.T) {
	f, g := newFake(t)
	f.mux.HandleFunc("/v2/payments/captures/CAP-1/refund", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "refund-rf1", r.Header.Get("PayPal-Request-Id"))
		var body struct {
			Amount amount `json:"amount"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "40.00", body.Amount.Value)
		w.WriteHeader(http.StatusCreated)
		_, _ = io.WriteString(w, `{"id":"RF-1","status":"COMPLETED"}`)
	})
	p := dompay.New("pay1", "order-12345678", "u1", dompay.ProviderPayPal, "PP-1", 12600, "usd")
	p.Reference = "CAP-1"

	res, err := g.Refund(context.Background(), dompay.RefundRequest{RefundID: "rf1", Payment: p, Amount: 4000})
	require.NoError(t, err)
	assert.Equal(t, "RF-1", res.Reference)
	assert.Equal(t, "completed", res.Status)
}

func TestRefundUsesCurrencyDecimals(t *testing.T) {
	f, g := newFake(t)
	f.mux.HandleFunc("/v2/payments/captures/CAP-9/refund", func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Amount amount `json:"amount"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "1500", body.Amount.Value)
		assert.Equal(t, "JPY", body.Amount.CurrencyCode)
		w.WriteHeader(http.StatusCreated)
		_, _ = io.WriteString(w, `{"id":"RF-9","status":"PENDING"}`)
	})
	p := dompay.New("pay9", "order-9", "u1", dompay.ProviderPayPal, "PP-9", 3000, "jpy")
	p.Reference = "CAP-9"

	res, err := g.Refund(context.Background(), dompay.RefundRequest{RefundID: "rf9", Payment: p, Amount: 1500})
	require.NoError(t, err)
	assert.Equal(t, "pending", res.Status)
}

func TestFailedRefundIsDefinitive(t *testing.T) {
	f, g := newFake(t)
	f.mux.HandleFunc("/v2/payments/captures/CAP-1/refund", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
		_, _ = io.WriteString(w, `{"id":"RF-2","status":"FAILED"}`)
	})
	p := dompay.New("pay1", "order-12345678", "u1", dompay.ProviderPayPal, "PP-1", 12600, "usd")
	p.Metadata = map[string]string{"capture_id": "CAP-1"}

	_, err := g.Refund(context.Background(), dompay.RefundRequest{RefundID: "rf2", Payment: p, Amount: 100})
	var pe *dompay.ProviderError
	require.ErrorAs(t, err, &pe)
	assert.False(t, pe.Retryable)
	assert.Equal(t, "FAILED", pe.Code)
}

func TestVerifyWebhook(t *testing.T) {
	f, g := newFake(t)
	verdict := "SUCCESS"
	f.mux.HandleFunc("/v1/notifications/verify-webhook-signature", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]json.RawMessage
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.JSONEq(t, `"wh1"`, string(body["webhook_id"]))
		assert.Contains(t, string(body["webhook_event"]), "WH-1")
		_ = json.NewEncoder(w).Encode(map[string]string{"verification_status": verdict})
	})

	payload := []byte(`{"id":"WH-1","event_type":"PAYMENT.CAPTURE.COMPLETED","resource":{"id":"CAP-1","status":"COMPLETED","custom_id":"order-12345678","amount":{"currency_code":"USD","value":"126.00"},"supplementary_data":{"related_ids":{"order_id":"PP-1"}}}}`)
	hdr := http.Header{}
	for _, h := range transmissionHeaders {
		hdr.Set(h, "x")
	}

	ev, err := g.VerifyWebhook(context.Background(), payload, hdr)
	require.NoError(t, err)
	assert.Equal(t, dompay.EventSucceeded, ev.Kind)
	assert.Equal(t, "PP-1", ev.ExternalID)
	assert.Equal(t, "order-12345678", ev.OrderID)
	assert.Equal(t, "CAP-1", ev.Reference)
	assert.EqualValues(t, 12600, ev.Amount)

	verdict = "FAILURE"
	_, err = g.VerifyWebhook(context.Background(), payload, hdr)
	assert.ErrorIs(t, err, dompay.ErrSignature)

	hdr.Del("PAYPAL-TRANSMISSION-SIG")
	_, err = g.VerifyWebhook(context.Background(), payload, hdr)
	assert.ErrorIs(t, err, dompay.ErrSignature)
}

func TestVerifiedButUnreadableWebhookIsIgnored(t *testing.T) {
	f, g := newFake(t)
	f.mux.HandleFunc("/v1/notifications/verify-webhook-signature", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]string{"verification_status": "SUCCESS"})
	})
	hdr := http.Header{}
	for _, h := range transmissionHeaders {
		hdr.Set(h, "x")
	}

	payload := []byte(`{"id":"WH-2","event_type":"PAYMENT.CAPTURE.COMPLETED","resource":{"id":"CAP-1","amount":{"currency_code":"USD","value":"abc"}}}`)
	ev, err := g.VerifyWebhook(context.Background(), payload, hdr)
	require.NoError(t, err)
	assert.Equal(t, dompay.EventIgnored, ev.Kind)
	assert.Equal(t, "WH-2", ev.ID)
	assert.NotEmpty(t, ev.FailureReason)

	ev, err = g.VerifyWebhook(context.Background(), []byte(`{"event_type":"PAYMENT.CAPTURE.COMPLETED"}`), hdr)
	require.NoError(t, err)
	assert.Equal(t, dompay.EventIgnored, ev.Kind)
	assert.Empty(t, ev.ID)
}

func TestMapEventKinds(t *testing.T) {
	cases := []struct {
		typ      string
		resource string
		kind     dompay.EventKind
	}{
		{"PAYMENT.CAPTURE.DENIED", `{"id":"CAP-1","status":"DECLINED","supplementary_data":{"related_ids":{"order_id":"PP-1"}}}`, dompay.EventFailed},
		{"CHECKOUT.ORDER.VOIDED", `{"id":"PP-1"}`, dompay.EventCancelled},
		{"CHECKOUT.ORDER.APPROVED", `{"id":"PP-1"}`, dompay.EventIgnored},
		{"CHECKOUT.ORDER.COMPLETED", capturedOrder, dompay.EventSucceeded},
	}
	for _, c := range cases {
		got, err := mapEvent(webhookEvent{ID: "WH", EventType: c.typ, Resource: json.RawMessage(c.resource)})
		require.NoError(t, err, c.typ)
		assert.Equal(t, c.kind, got.Kind, c.typ)
		assert.Equal(t, "PP-1", got.ExternalID, c.typ)
	}
}
