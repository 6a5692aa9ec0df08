package application

import (
	"context"
	"errors"
	"fmt"
	"time"

	domoutbox "github.com/Zhima-Mochi/minishop-checkout/internal/domain/outbox"
	"github.com/Zhima-Mochi/minishop-checkout/internal/observability"
	"github.com/Zhima-Mochi/minishop-checkout/internal/observability/logctx"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

type UseCase[C any, R any] interface {
	Execute(ctx context.Context, cmd C) (R, error)
}

type IDGenerator interface {
	NewID() string
}

const (
	SpanPrefix      = "UC."
	publishPeer     = "outbox"
	publishTimeout  = 300 * time.Millisecond
	OutcomeSuccess  = "success"
	OutcomeError    = "error"
	OutcomeRejected = "rejected"
)

var ErrValidation = errors.New("validation failed")

// ValidationError names the offending input field. Err, when set, is the domain
// error behind the rejection.
type ValidationError struct {
	Field  string
	Reason string
	Err    error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation: %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

func (e *ValidationError) Unwrap() error { return e.Err }

func Invalid(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

// Instruments bundles the RED metrics every use case records. Build it once in the
// constructor; it is safe for concurrent use.
type Instruments struct {
	tracer observability.Tracer
	log    observability.Logger

	reqCounter   observability.Counter   // usecase_requests_total{use_case,outcome}
	durHistogram observability.Histogram // usecase_duration_seconds{use_case}
	extCounter   observability.Counter   // external_requests_total{peer,endpoint,outcome}
	extHistogram observability.Histogram // external_request_duration_seconds{peer,endpoint}
}

func NewInstruments(tel observability.Observability, service string) *Instruments {
	if tel == nil {
		tel = observability.Nop()
	}
	m := tel.Metrics()
	return &Instruments{
		tracer:       tel.Tracer(),
		log:          tel.Logger().With(observability.F("service", service)),
		reqCounter:   m.Counter(observability.MUsecaseRequests),
		durHistogram: m.Histogram(observability.MUsecaseDuration),
		extCounter:   m.Counter(observability.MExternalRequests),
		extHistogram: m.Histogram(observability.MExternalRequestDuration),
	}
}

func (in *Instruments) Logger() observability.Logger { return in.log }

// Run tracks one use case execution from Begin to End.
type Run struct {
	in      *Instruments
	useCase string
	start   time.Time
	ctx     context.Context

	Span    trace.Span
	Log     observability.Logger
	outcome string
	status  string
	fields  []observability.Field
}

// Begin opens the UC.<name> span and returns the traced context with a scoped logger.
func (in *Instruments) Begin(ctx context.Context, useCase, name string, attrs ...attribute.KeyValue) (context.Context, *Run) {
	attrs = append([]attribute.KeyValue{attribute.String("use_case", useCase)}, attrs...)
	ctx, span := in.tracer.Start(ctx, SpanPrefix+name, attrs...)
	logger := logctx.FromOr(ctx, in.log).With(observability.F("use_case", useCase))
	return ctx, &Run{
		in:      in,
		useCase: useCase,
		start:   time.Now(),
		ctx:     ctx,
		Span:    span,
		Log:     logger,
		outcome: OutcomeSuccess,
		status:  "OK",
	}
}

// Fail marks the run as an error with the given status code.
func (r *Run) Fail(status string) { r.outcome, r.status = OutcomeError, status }

// Reject marks a business refusal: the caller gets an error but nothing broke.
func (r *Run) Reject(status string) { r.outcome, r.status = OutcomeRejected, status }

// Status overrides the status code without touching the outcome.
func (r *Run) Status(status string) { r.status = status }

func (r *Run) With(key string, value any) { r.fields = append(r.fields, observability.F(key, value)) }

// End records metrics, closes the span and logs use_case_done. Call it from a defer
// with the named error result.
func (r *Run) End(err error) {
	lat := time.Since(r.start).Seconds()
	if err != nil && r.outcome == OutcomeSuccess {
		r.outcome = OutcomeError
		if r.status == "OK" {
			r.status = "FAILED"
		}
	}

	if r.Span != nil {
		if err != nil {
			r.Span.RecordError(err)
			r.Span.SetStatus(codes.Error, r.status)
		} else {
			r.Span.SetStatus(codes.Ok, r.status)
		}
		r.Span.End()
	}

	r.in.reqCounter.Add(1,
		observability.L("use_case", r.useCase),
		observability.L("outcome", r.outcome),
	)
	r.in.durHistogram.Observe(lat, observability.L("use_case", r.useCase))

	fields := append([]observability.Field{
		observability.F("outcome", r.outcome),
		observability.F("status", r.status),
		observability.F("latency_seconds", lat),
	}, r.fields...)
	fields = append(fields, logctx.TraceFields(r.ctx)...)
	if err != nil {
		fields = append(fields, observability.F("error", err.Error()))
	}
	r.Log.Info("use_case_done", fields...)
}

// Publish hands events to the bus after commit. Failures are recorded on the run but
// never fail the use case.
func (r *Run) Publish(ctx context.Context, pub domoutbox.Publisher, events ...domoutbox.Event) {
	if pub == nil {
		return
	}
	for _, e := range events {
		if e == nil {
			continue
		}
		name := e.EventName()
		pubCtx, cancel := context.WithTimeout(ctx, publishTimeout)
		start := time.Now()
		outcome := OutcomeSuccess

		err := pub.Publish(pubCtx, e)
		if err == nil && pubCtx.Err() != nil {
			err = pubCtx.Err()
		}
		cancel()
		if err != nil {
			outcome = OutcomeError
			r.status = "EVENT_PUBLISH_FAILED"
			r.fields = append(r.fields, observability.F("event_publish_error", err.Error()))
			if r.Span != nil {
				r.Span.RecordError(err)
			}
			r.Log.Warn("event_publish_failed",
				observability.F("event", name),
				observability.F("error", err.Error()),
			)
		}

		r.in.extCounter.Add(1,
			observability.L("peer", publishPeer),
			observability.L("endpoint", name),
			observability.L("outcome", outcome),
		)
		r.in.extHistogram.Observe(time.Since(start).Seconds(),
			observability.L("peer", publishPeer),
			observability.L("endpoint", name),
		)
	}
}
