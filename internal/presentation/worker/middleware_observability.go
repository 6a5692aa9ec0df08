package workerpresentation

import (
	"context"

	"github.com/Zhima-Mochi/minishop-checkout/internal/application/notification"
	domoutbox "github.com/Zhima-Mochi/minishop-checkout/internal/domain/outbox"
	"github.com/Zhima-Mochi/minishop-checkout/internal/observability"
	"github.com/Zhima-Mochi/minishop-checkout/internal/observability/logctx"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const spanPrefix = "EVT."

// EventContext wraps a bus handler in an EVT.<event> span and hands it an
// event-scoped logger. Extra attrs must stay low-cardinality (worker, queue).
func EventContext(tel observability.Observability, attrs map[string]string) notification.Middleware {
	if tel == nil {
		tel = observability.Nop()
	}
	return func(eventName string, h domoutbox.Handler) domoutbox.Handler {
		return func(ctx context.Context, e domoutbox.Event) error {
			ctx, span := tel.Tracer().Start(ctx, spanPrefix+eventName,
				attribute.String("event", eventName),
			)
			defer span.End()

			sc := span.SpanContext()
			ctx = WithEventContext(ctx, logctx.FromOr(ctx, tel.Logger()), tel, sc.TraceID(), sc.SpanID(), withEvent(attrs, eventName))
			err := h(ctx, e)
			if err != nil {
				span.RecordError(err)
				span.SetStatus(codes.Error, "HANDLER_FAILED")
			}
			return err
		}
	}
}

func withEvent(attrs map[string]string, eventName string) map[string]string {
	out := make(map[string]string, len(attrs)+1)
	for k, v := range attrs {
		out[k] = v
	}
	out["event"] = eventName
	return out
}

// WithEventContext injects a logger for background executions carrying event_id
// (generated if empty), trace and span ids when valid, and the given attributes.
func WithEventContext(
	ctx context.Context,
	base observability.Logger,
	tel observability.Observability,
	traceID trace.TraceID,
	spanID trace.SpanID,
	attrs map[string]string,
) context.Context {
	if base == nil {
		base = tel.Logger()
	}

	fields := make([]observability.Field, 0, len(attrs)+3)
	evtID := attrs["event_id"]
	if evtID == "" {
		evtID = uuid.NewString()
	}
	fields = append(fields, observability.F("event_id", evtID))
	if traceID.IsValid() {
		fields = append(fields, observability.F("trace_id", traceID.String()))
	}
	if spanID.IsValid() {
		fields = append(fields, observability.F("span_id", spanID.String()))
	}
	for k, v := range attrs {
		if k == "event_id" || v == "" {
			continue
		}
		fields = append(fields, observability.F(k, v))
	}
	return logctx.With(ctx, base.With(fields...))
}
