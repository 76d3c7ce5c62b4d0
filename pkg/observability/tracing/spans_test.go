package tracing

import (
	"context"
	"errors"
	"testing"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"
)

func setupTestTracer(t *testing.T) *tracetest.SpanRecorder {
	t.Helper()
	recorder := tracetest.NewSpanRecorder()
	previous := otel.GetTracerProvider()
	otel.SetTracerProvider(sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder)))
	t.Cleanup(func() { otel.SetTracerProvider(previous) })
	return recorder
}

func attrs(span sdktrace.ReadOnlySpan) map[attribute.Key]attribute.Value {
	out := map[attribute.Key]attribute.Value{}
	for _, kv := range span.Attributes() {
		out[kv.Key] = kv.Value
	}
	return out
}

func TestStartDatabaseSpan(t *testing.T) {
	recorder := setupTestTracer(t)

	_, span := StartDatabaseSpan(context.Background(), SpanOperationDBQuery,
		WithDBTable("posts"), WithDBSystem("mongodb"), WithCount("db.limit", 10))
	RecordSuccess(span)
	span.End()

	ended := recorder.Ended()
	if len(ended) != 1 {
		t.Fatalf("expected 1 span, got %d", len(ended))
	}
	got := ended[0]
	if got.Name() != "DB db.query posts" {
		t.Fatalf("span name = %q", got.Name())
	}
	if got.SpanKind() != trace.SpanKindClient {
		t.Fatalf("span kind = %v", got.SpanKind())
	}
	a := attrs(got)
	if a["db.table"].AsString() != "posts" || a["db.system"].AsString() != "mongodb" || a["db.limit"].AsInt64() != 10 {
		t.Fatalf("unexpected attributes %v", a)
	}
	if got.Status().Code != codes.Ok {
		t.Fatalf("status = %v", got.Status())
	}
}

func TestStartMessagingSpan_KindAndError(t *testing.T) {
	recorder := setupTestTracer(t)

	_, span := StartMessagingSpan(context.Background(), SpanOperationMsgPublish,
		WithMessagingSystem("sqs"), WithMessagingDestination("push"))
	RecordError(span, errors.New("throttled"))
	span.End()

	_, consume := StartMessagingSpan(context.Background(), SpanOperationMsgConsume)
	consume.End()

	ended := recorder.Ended()
	if len(ended) != 2 {
		t.Fatalf("expected 2 spans, got %d", len(ended))
	}
	if ended[0].Name() != "MSG messaging.publish push" || ended[0].SpanKind() != trace.SpanKindProducer {
		t.Fatalf("unexpected publish span %q %v", ended[0].Name(), ended[0].SpanKind())
	}
	if ended[0].Status().Code != codes.Error {
		t.Fatalf("expected error status, got %v", ended[0].Status())
	}
	if ended[1].SpanKind() != trace.SpanKindConsumer {
		t.Fatalf("expected consumer span, got %v", ended[1].SpanKind())
	}
}
