package stripe

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	domorder "github.com/Zhima-Mochi/minishop-checkout/internal/domain/order"
	dompay "github.com/Zhima-Mochi/minishop-checkout/internal/domain/payment"

	stripe "github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/webhook"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const secret = "whsec_test"

func testOrder() *domorder.Order {
	return &domorder.Order{
		ID:       "order-12345678",
		UserID:   "u1",
		Currency: "usd",
		Status:   domorder.StatusPending,
		Lines: []domorder.Line{
			{ID: "l1", ProductID: "p1", ProductName: "Shirt", Quantity: 2, UnitPrice: 2500},
		},
		Totals:        domorder.Totals{Subtotal: 5000, Tax: 800, Shipping: 1000, Total: 6800},
		PaymentMethod: domorder.MethodCard,
	}
}

func newGateway(t *testing.T, h http.HandlerFunc) *Gateway {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return New(Config{SecretKey: "sk_test", WebhookSecret: secret, BaseURL: srv.URL}, nil)
}

func readForm(t *testing.T, r *http.Request) url.Values {
	t.Helper()
	raw, err := io.ReadAll(r.Body)
	require.NoError(t, err)
	form, err := url.ParseQuery(string(raw))
	require.NoError(t, err)
	return form
}

func signed(t *testing.T, payload []byte, key string, at time.Time) http.Header {
	t.Helper()
	sp := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{Payload: payload, Secret: key, Timestamp: at})
	h := http.Header{}
	h.Set(SignatureHeader, sp.Header)
	return h
}

func TestCreateIntentSendsMinorUnitsAndIdempotencyKey(t *testing.T) {
	g := newGateway(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/payment_intents", r.URL.Path)
		assert.Equal(t, "Bearer sk_test", r.Header.Get("Authorization"))
		assert.Equal(t, "pi-order-12345678", r.Header.Get("Idempotency-Key"))
		form := readForm(t, r)
		assert.Equal(t, "6800", form.Get("amount"))
		assert.Equal(t, "usd", form.Get("currency"))
		assert.Equal(t, "true", form.Get("automatic_payment_methods[enabled]"))
		assert.Equal(t, "order-12345678", form.Get("metadata[order_id]"))
		_, _ = io.WriteString(w, `{"id":"pi_1","object":"payment_intent","client_secret":"pi_1_secret","status":"requires_payment_method"}`)
	})

	h, err := g.CreateHandle(context.Background(), dompay.HandleRequest{Order: testOrder(), Kind: dompay.HandleIntent})
	require.NoError(t, err)
	assert.Equal(t, "pi_1", h.ExternalID)
	assert.Equal(t, "pi_1_secret", h.ClientSecret)
}

func TestCreateSessionItemizesShippingAndTax(t *testing.T) {
	g := newGateway(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/checkout/sessions", r.URL.Path)
		assert.Equal(t, "cs-order-12345678", r.Header.Get("Idempotency-Key"))
		form := readForm(t, r)
		assert.Equal(t, "payment", form.Get("mode"))
		assert.Equal(t, "Shirt", form.Get("line_items[0][price_data][product_data][name]"))
		assert.Equal(t, "2", form.Get("line_items[0][quantity]"))
		assert.Equal(t, "1000", form.Get("line_items[1][price_data][unit_amount]"))
		assert.Equal(t, "800", form.Get("line_items[2][price_data][unit_amount]"))
		assert.Equal(t, "https://shop.test/ok?order=order-12345678&session_id={CHECKOUT_SESSION_ID}", form.Get("success_url"))
		assert.Empty(t, form.Get("payment_intent_data[metadata][order_id]"))
		_, _ = io.WriteString(w, `{"id":"cs_1","object":"checkout.session","url":"https://checkout.stripe.test/cs_1"}`)
	})

	h, err := g.CreateHandle(context.Background(), dompay.HandleRequest{
		Order:     testOrder(),
		Kind:      dompay.HandleRedirect,
		ReturnURL: "https://shop.test/ok",
		CancelURL: "https://shop.test/cancel",
	})
	require.NoError(t, err)
	assert.Equal(t, "cs_1", h.ExternalID)
	assert.Equal(t, "https://checkout.stripe.test/cs_1", h.ApprovalURL)
}

func TestCreateHandleRejectsNonPendingOrder(t *testing.T) {
	g := newGateway(t, func(w http.ResponseWriter, r *http.Request) {
		t.Error("provider must not be called")
	})
	o := testOrder()
	o.Status = domorder.StatusConfirmed
	_, err := g.CreateHandle(context.Background(), dompay.HandleRequest{Order: o})
	assert.ErrorIs(t, err, dompay.ErrInvalidOrderState)
}

func TestConfirmIntent(t *testing.T) {
	status := "processing"
	g := newGateway(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/payment_intents/pi_1", r.URL.Path)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id": "pi_1", "object": "payment_intent", "status": status, "amount": 6800, "amount_received": 6800,
			"currency": "usd", "latest_charge": "ch_1", "payment_method": "pm_1",
			"metadata": map[string]string{"order_id": "order-12345678"},
		})
	})

	_, err := g.Confirm(context.Background(), "pi_1", testOrder())
	assert.ErrorIs(t, err, dompay.ErrNotCompleted)

	status = "succeeded"
	res, err := g.Confirm(context.Background(), "pi_1", testOrder())
	require.NoError(t, err)
	assert.EqualValues(t, 6800, res.Amount)
	assert.Equal(t, "usd", res.Currency)
	assert.Equal(t, "ch_1", res.Reference)
	assert.Equal(t, "pm_1", res.Metadata["payment_method"])

	other := testOrder()
	other.ID = "order-other"
	_, err = g.Confirm(context.Background(), "pi_1", other)
	assert.ErrorIs(t, err, dompay.ErrOrderMismatch)
}

func TestConfirmSession(t *testing.T) {
	g := newGateway(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/checkout/sessions/cs_1", r.URL.Path)
		_, _ = io.WriteString(w, `{"id":"cs_1","object":"checkout.session","payment_status":"paid","payment_intent":"pi_9",
			"amount_total":6800,"currency":"usd","client_reference_id":"order-12345678"}`)
	})

	res, err := g.Confirm(context.Background(), "cs_1", testOrder())
	require.NoError(t, err)
	assert.Equal(t, "cs_1", res.ExternalID)
	assert.Equal(t, "pi_9", res.Reference)
	assert.EqualValues(t, 6800, res.Amount)
}

func TestProviderErrorsAreClassified(t *testing.T) {
	code := http.StatusServiceUnavailable
	g := newGateway(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		_, _ = io.WriteString(w, `{"error":{"type":"api_error","code":"boom","message":"down"}}`)
	})

	_, err := g.Confirm(context.Background(), "pi_1", testOrder())
	var pe *dompay.ProviderError
	require.ErrorAs(t, err, &pe)
	assert.True(t, pe.Retryable)
	assert.Equal(t, "boom", pe.Code)
	assert.Equal(t, http.StatusServiceUnavailable, pe.StatusCode)
	assert.ErrorIs(t, err, dompay.ErrProvider)

	code = http.StatusBadRequest
	_, err = g.Confirm(context.Background(), "pi_1", testOrder())
	require.ErrorAs(t, err, &pe)
	assert.False(t, pe.Retryable)
}

func TestUnreachableProviderIsRetryable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	srv.Close()
	g := New(Config{SecretKey: "sk_test", BaseURL: srv.URL}, nil)

	p := dompay.New("pay1", "o1", "u1", dompay.ProviderStripe, "pi_1", 6800, "usd")
	_, err := g.Refund(context.Background(), dompay.RefundRequest{RefundID: "rf1", Payment: p, Amount: 100})
	var pe *dompay.ProviderError
	require.ErrorAs(t, err, &pe)
	assert.True(t, pe.Retryable)
	assert.Zero(t, pe.StatusCode)
}

func TestRefundUsesIntentAndRefundKey(t *testing.T) {
	g := newGateway(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/refunds", r.URL.Path)
		assert.Equal(t, "re-rf1", r.Header.Get("Idempotency-Key"))
		form := readForm(t, r)
		assert.Equal(t, "pi_1", form.Get("payment_intent"))
		assert.Equal(t, "4000", form.Get("amount"))
		assert.Equal(t, "rf1", form.Get("metadata[refund_id]"))
		_, _ = io.WriteString(w, `{"id":"re_1","object":"refund","status":"succeeded"}`)
	})
	p := dompay.New("pay1", "order-12345678", "u1", dompay.ProviderStripe, "pi_1", 6800, "usd")

	res, err := g.Refund(context.Background(), dompay.RefundRequest{RefundID: "rf1", Payment: p, Amount: 4000})
	require.NoError(t, err)
	assert.Equal(t, "re_1", res.Reference)
}

func TestRefundFailedStatusIsDefinitive(t *testing.T) {
	g := newGateway(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"id":"re_1","object":"refund","status":"failed","failure_reason":"expired_or_canceled_card"}`)
	})
	p := dompay.New("pay1", "o1", "u1", dompay.ProviderStripe, "pi_1", 6800, "usd")
	_, err := g.Refund(context.Background(), dompay.RefundRequest{RefundID: "rf1", Payment: p, Amount: 100})
	var pe *dompay.ProviderError
	require.ErrorAs(t, err, &pe)
	assert.False(t, pe.Retryable)
}

func TestVerifyWebhook(t *testing.T) {
	g := New(Config{WebhookSecret: secret}, nil)
	now := time.Now()
	payload := []byte(`{"id":"evt_1","object":"event","type":"payment_intent.succeeded","data":{"object":{"id":"pi_1","object":"payment_intent","amount":6800,"amount_received":6800,"currency":"usd","latest_charge":"ch_1","metadata":{"order_id":"o1"}}}}`)

	hdr := signed(t, payload, secret, now)
	ev, err := g.VerifyWebhook(context.Background(), payload, hdr)
	require.NoError(t, err)
	assert.Equal(t, "evt_1", ev.ID)
	assert.Equal(t, dompay.EventSucceeded, ev.Kind)
	assert.Equal(t, "pi_1", ev.ExternalID)
	assert.Equal(t, "o1", ev.OrderID)
	assert.Equal(t, "ch_1", ev.Reference)
	assert.EqualValues(t, 6800, ev.Amount)

	tests := map[string]http.Header{
		"missing":   {},
		"wrong key": signed(t, payload, "whsec_other", now),
		"stale":     signed(t, payload, secret, now.Add(-10*time.Minute)),
		"malformed": {SignatureHeader: []string{"garbage"}},
	}
	for name, h := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := g.VerifyWebhook(context.Background(), payload, h)
			assert.ErrorIs(t, err, dompay.ErrSignature)
		})
	}

	tampered := append([]byte(nil), payload...)
	tampered[len(tampered)-3] = ' '
	_, err = g.VerifyWebhook(context.Background(), tampered, hdr)
	assert.ErrorIs(t, err, dompay.ErrSignature)

	_, err = New(Config{}, nil).VerifyWebhook(context.Background(), payload, hdr)
	assert.ErrorIs(t, err, dompay.ErrSignature)
}

func TestVerifiedButUnreadableWebhookIsIgnored(t *testing.T) {
	g := New(Config{WebhookSecret: secret}, nil)

	garbage := []byte(`not json`)
	ev, err := g.VerifyWebhook(context.Background(), garbage, signed(t, garbage, secret, time.Now()))
	require.NoError(t, err)
	assert.Equal(t, dompay.EventIgnored, ev.Kind)
	assert.Empty(t, ev.ID)
	assert.NotEmpty(t, ev.FailureReason)

	badObject := []byte(`{"id":"evt_2","object":"event","type":"payment_intent.succeeded","data":{"object":{"id":"pi_1","amount":"lots"}}}`)
	ev, err = g.VerifyWebhook(context.Background(), badObject, signed(t, badObject, secret, time.Now()))
	require.NoError(t, err)
	assert.Equal(t, dompay.EventIgnored, ev.Kind)
	assert.Equal(t, "evt_2", ev.ID)
}

func event(t *testing.T, typ, object string) stripe.Event {
	t.Helper()
	var ev stripe.Event
	raw := `{"id":"evt","object":"event","type":"` + typ + `","data":{"object":` + object + `}}`
	require.NoError(t, json.Unmarshal([]byte(raw), &ev))
	return ev
}

func TestMapEventKinds(t *testing.T) {
	cases := []struct {
		typ    string
		object string
		kind   dompay.EventKind
		order  string
	}{
		{"payment_intent.payment_failed", `{"id":"pi_1","last_payment_error":{"message":"declined"},"metadata":{"order_id":"o1"}}`, dompay.EventFailed, "o1"},
		{"payment_intent.canceled", `{"id":"pi_1"}`, dompay.EventCancelled, ""},
		{"checkout.session.completed", `{"id":"cs_1","payment_status":"paid","client_reference_id":"o2"}`, dompay.EventSucceeded, "o2"},
		{"checkout.session.completed", `{"id":"cs_1","payment_status":"unpaid","metadata":{"order_id":"o2"}}`, dompay.EventIgnored, "o2"},
		{"checkout.session.async_payment_failed", `{"id":"cs_1"}`, dompay.EventFailed, ""},
		{"checkout.session.expired", `{"id":"cs_1"}`, dompay.EventCancelled, ""},
		{"charge.refunded", `{"id":"ch_1"}`, dompay.EventIgnored, ""},
	}
	for _, c := range cases {
		got, err := mapEvent(event(t, c.typ, c.object))
		require.NoError(t, err, c.typ)
		assert.Equal(t, c.kind, got.Kind, c.typ)
		assert.Equal(t, c.order, got.OrderID, c.typ)
	}

	failed, err := mapEvent(event(t, "payment_intent.payment_failed", `{"id":"pi_1","last_payment_error":{"message":"declined"}}`))
	require.NoError(t, err)
	assert.Equal(t, "declined", failed.FailureReason)
}
