// Package paymenttest provides an in-memory payment gateway for tests.
package paymenttest

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	"github.com/Zhima-Mochi/minishop-checkout/internal/domain/order"
	"github.com/Zhima-Mochi/minishop-checkout/internal/domain/payment"
)

// SignatureHeader carries the shared secret the fake gateway accepts.
const SignatureHeader = "X-Test-Signature"

// Gateway hands out sequential external ids, confirms whatever Capture marked as
// paid and accepts webhooks whose payload is a JSON payment.Event.
type Gateway struct {
	Name   payment.Provider
	Secret string

	mu        sync.Mutex
	seq       int
	paid      map[string]int64
	handleErr error
	refundErr error
	Handles   []payment.HandleRequest
	Confirms  []string
	Refunds   []payment.RefundRequest
}

func New(name payment.Provider) *Gateway {
	return &Gateway{Name: name, Secret: "test-secret", paid: map[string]int64{}}
}

func (g *Gateway) Provider() payment.Provider { return g.Name }

// Capture marks externalID as paid with amount on the provider side.
func (g *Gateway) Capture(externalID string, amount int64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.paid[externalID] = amount
}

func (g *Gateway) FailHandles(err error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.handleErr = err
}

func (g *Gateway) FailRefunds(err error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.refundErr = err
}

func (g *Gateway) CreateHandle(_ context.Context, req payment.HandleRequest) (*payment.Handle, error) {
	if err := payment.CheckPayable(req.Order); err != nil {
		return nil, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.Handles = append(g.Handles, req)
	if g.handleErr != nil {
		return nil, g.handleErr
	}
	g.seq++
	id := fmt.Sprintf("%s_%d", g.Name, g.seq)
	return &payment.Handle{
		Provider:     g.Name,
		ExternalID:   id,
		ClientSecret: id + "_secret",
		ApprovalURL:  "https://pay.test/" + id,
	}, nil
}

func (g *Gateway) Confirm(_ context.Context, externalID string, _ *order.Order) (*payment.Result, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.Confirms = append(g.Confirms, externalID)
	amount, ok := g.paid[externalID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", payment.ErrNotCompleted, externalID)
	}
	return &payment.Result{ExternalID: externalID, Amount: amount, Reference: "ref_" + externalID}, nil
}

func (g *Gateway) VerifyWebhook(_ context.Context, payload []byte, header http.Header) (*payment.Event, error) {
	if header.Get(SignatureHeader) != g.Secret {
		return nil, payment.ErrSignature
	}
	var ev payment.Event
	if err := json.Unmarshal(payload, &ev); err != nil {
		return nil, err
	}
	ev.Provider = g.Name
	return &ev, nil
}

func (g *Gateway) Refund(_ context.Context, req payment.RefundRequest) (*payment.RefundResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.Refunds = append(g.Refunds, req)
	if g.refundErr != nil {
		return nil, g.refundErr
	}
	return &payment.RefundResult{Reference: "re_" + req.RefundID, Status: "succeeded"}, nil
}

// Webhook builds a signed request body and header for ev.
func (g *Gateway) Webhook(ev payment.Event) ([]byte, http.Header) {
	raw, err := json.Marshal(ev)
	if err != nil {
		panic(err)
	}
	h := http.Header{}
	h.Set(SignatureHeader, g.Secret)
	return raw, h
}
