package logctx_test

import (
	"context"
	"testing"

	"github.com/Zhima-Mochi/minishop-checkout/internal/observability"
	"github.com/Zhima-Mochi/minishop-checkout/internal/observability/logctx"
	"github.com/stretchr/testify/assert"
	"go.opentelemetry.io/otel/trace"
)

func TestFromOrFallsBack(t *testing.T) {
	fallback := observability.NopLogger()
	assert.Equal(t, fallback, logctx.FromOr(context.Background(), fallback))
	assert.NotNil(t, logctx.FromOr(context.Background(), nil))

	scoped := observability.NopLogger().With(observability.F("k", "v"))
	ctx := logctx.With(context.Background(), scoped)
	assert.Equal(t, scoped, logctx.From(ctx))
}

func TestTraceFields(t *testing.T) {
	assert.Empty(t, logctx.TraceFields(context.Background()))

	sc := trace.NewSpanContext(trace.SpanContextConfig{
		TraceID: trace.TraceID{1},
		SpanID:  trace.SpanID{2},
	})
	ctx := trace.ContextWithSpanContext(context.Background(), sc)
	fields := logctx.TraceFields(ctx)
	if assert.Len(t, fields, 2) {
		assert.Equal(t, sc.TraceID().String(), fields[0].Value)
		assert.Equal(t, sc.SpanID().String(), fields[1].Value)
	}
}
