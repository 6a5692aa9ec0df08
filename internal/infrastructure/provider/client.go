// Package provider holds the HTTP plumbing shared by the payment provider adapters.
package provider

import (
	"context"
	"errors"
	"net/http"
	"time"

	dompay "github.com/Zhima-Mochi/minishop-checkout/internal/domain/payment"
	"github.com/Zhima-Mochi/minishop-checkout/internal/observability"
	"github.com/Zhima-Mochi/minishop-checkout/internal/observability/logctx"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

type Option func(*clientOptions)

type clientOptions struct {
	transport http.RoundTripper
	timeout   time.Duration
}

// WithTransport replaces the base transport under the otelhttp wrapper.
func WithTransport(rt http.RoundTripper) Option {
	return func(o *clientOptions) { o.transport = rt }
}

func WithTimeout(d time.Duration) Option {
	return func(o *clientOptions) {
		if d > 0 {
			o.timeout = d
		}
	}
}

type opKey struct{}

// WithOp labels the provider calls made with ctx. Op is the low-cardinality
// endpoint label on external_requests.
func WithOp(ctx context.Context, op string) context.Context {
	return context.WithValue(ctx, opKey{}, op)
}

func opFrom(ctx context.Context) string {
	if op, ok := ctx.Value(opKey{}).(string); ok && op != "" {
		return op
	}
	return "other"
}

// NewHTTPClient returns the client a provider SDK sends through. Every request is
// traced by otelhttp and recorded in external_requests with the provider as peer.
func NewHTTPClient(provider dompay.Provider, tel observability.Observability, opts ...Option) *http.Client {
	if tel == nil {
		tel = observability.Nop()
	}
	o := clientOptions{transport: http.DefaultTransport, timeout: 10 * time.Second}
	for _, opt := range opts {
		opt(&o)
	}
	m := tel.Metrics()
	return &http.Client{
		Timeout: o.timeout,
		Transport: &meteredTransport{
			peer:         string(provider),
			next:         otelhttp.NewTransport(o.transport),
			log:          tel.Logger().With(observability.F("peer", string(provider))),
			reqCounter:   m.Counter(observability.MExternalRequests),
			durHistogram: m.Histogram(observability.MExternalRequestDuration),
		},
	}
}

type meteredTransport struct {
	peer string
	next http.RoundTripper
	log  observability.Logger

	reqCounter   observability.Counter
	durHistogram observability.Histogram
}

func (t *meteredTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	ctx := req.Context()
	op := opFrom(ctx)
	start := time.Now()
	resp, err := t.next.RoundTrip(req)

	outcome := "success"
	switch {
	case err != nil:
		outcome = "error"
		logctx.FromOr(ctx, t.log).Warn("provider_request_error",
			observability.F("endpoint", op),
			observability.F("error", err.Error()),
		)
	case resp.StatusCode >= 400:
		outcome = "error"
		logctx.FromOr(ctx, t.log).Warn("provider_request_failed",
			observability.F("endpoint", op),
			observability.F("status_code", resp.StatusCode),
		)
	}
	t.reqCounter.Add(1,
		observability.L("peer", t.peer),
		observability.L("endpoint", op),
		observability.L("outcome", outcome),
	)
	t.durHistogram.Observe(time.Since(start).Seconds(),
		observability.L("peer", t.peer),
		observability.L("endpoint", op),
	)
	return resp, err
}

// Error builds a ProviderError. A nil err becomes a generic unexpected response.
func Error(provider dompay.Provider, op string, status int, code string, retryable bool, err error) *dompay.ProviderError {
	if err == nil {
		err = errors.New("unexpected response")
	}
	return &dompay.ProviderError{
		Provider:   provider,
		Op:         op,
		StatusCode: status,
		Code:       code,
		Retryable:  retryable,
		Err:        err,
	}
}

// TransportError wraps a failure that never produced a provider response. The
// provider may still have acted, so it is always retryable.
func TransportError(provider dompay.Provider, op string, err error) *dompay.ProviderError {
	return Error(provider, op, 0, "", true, err)
}

// Retryable reports whether a provider status is worth retrying.
func Retryable(status int) bool {
	return status == http.StatusTooManyRequests || status >= 500
}
