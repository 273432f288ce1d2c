package observability

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"
)

func TestBusHeadersCarryTrace(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.TraceContext{})
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	ctx, publishSpan := StartPublishSpan(context.Background(), "payment", "ReservePayment")
	headers := InjectHeaders(ctx, nil)
	EndSpan(publishSpan, nil)

	require.Contains(t, headers, "traceparent")

	consumeCtx, consumeSpan := StartConsumeSpan(context.Background(), "payment", headers)
	EndSpan(consumeSpan, nil)

	require.Equal(t,
		publishSpan.SpanContext().TraceID(),
		trace.SpanFromContext(consumeCtx).SpanContext().TraceID(),
	)
	require.Len(t, recorder.Ended(), 2)

	fields := TraceFields(consumeCtx)
	require.Len(t, fields, 2)
	require.Equal(t, "trace_id", fields[0].Key)
}

func TestTraceFields_NoSpan(t *testing.T) {
	require.Nil(t, TraceFields(context.Background()))
}
