// Package tracing wires OpenTelemetry spans around storage, messaging and push calls.
package tracing

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// SpanOperation represents a traced operation type.
type SpanOperation string

const (
	SpanOperationDBQuery  SpanOperation = "db.query"
	SpanOperationDBDelete SpanOperation = "db.delete"
	SpanOperationDBTx     SpanOperation = "db.transaction"

	SpanOperationMsgPublish SpanOperation = "messaging.publish"
	SpanOperationMsgConsume SpanOperation = "messaging.consume"
)

// SpanOption adds attributes to a span before it starts.
type SpanOption func(*spanOptions)

type spanOptions struct {
	target     string
	attributes []attribute.KeyValue
}

func startSpan(ctx context.Context, scope, prefix, targetKey string, operation SpanOperation, kind trace.SpanKind, opts []SpanOption) (context.Context, trace.Span) {
	so := &spanOptions{attributes: []attribute.KeyValue{attribute.String(scope+".operation", string(operation))}}
	for _, opt := range opts {
		opt(so)
	}
	name := fmt.Sprintf("%s %s", prefix, operation)
	if so.target != "" {
		name = fmt.Sprintf("%s %s %s", prefix, operation, so.target)
		so.attributes = append(so.attributes, attribute.String(targetKey, so.target))
	}
	ctx, span := otel.Tracer(scope).Start(ctx, name, trace.WithSpanKind(kind))
	span.SetAttributes(so.attributes...)
	return ctx, span
}

// StartDatabaseSpan starts a client span named "DB <operation> [<table>]".
func StartDatabaseSpan(ctx context.Context, operation SpanOperation, opts ...SpanOption) (context.Context, trace.Span) {
	return startSpan(ctx, "db", "DB", "db.table", operation, trace.SpanKindClient, opts)
}

// StartMessagingSpan starts a producer or consumer span named "MSG <operation> [<destination>]".
func StartMessagingSpan(ctx context.Context, operation SpanOperation, opts ...SpanOption) (context.Context, trace.Span) {
	kind := trace.SpanKindProducer
	if operation == SpanOperationMsgConsume {
		kind = trace.SpanKindConsumer
	}
	return startSpan(ctx, "messaging", "MSG", "messaging.destination", operation, kind, opts)
}

// WithDBTable names the table or collection.
func WithDBTable(table string) SpanOption {
	return func(o *spanOptions) { o.target = table }
}

// WithDBSystem sets the database system (e.g., "postgresql", "mongodb").
func WithDBSystem(system string) SpanOption {
	return WithAttribute("db.system", system)
}

// WithDBStatement records the statement text.
func WithDBStatement(statement string) SpanOption {
	return WithAttribute("db.statement", statement)
}

// WithMessagingSystem sets the messaging system (e.g., "redis", "sqs").
func WithMessagingSystem(system string) SpanOption {
	return WithAttribute("messaging.system", system)
}

// WithMessagingDestination names the channel, queue or endpoint.
func WithMessagingDestination(destination string) SpanOption {
	return func(o *spanOptions) { o.target = destination }
}

// WithAttribute adds a free-form string attribute.
func WithAttribute(key, value string) SpanOption {
	return func(o *spanOptions) {
		o.attributes = append(o.attributes, attribute.String(key, value))
	}
}

// WithCount adds an integer attribute such as a batch size.
func WithCount(key string, n int) SpanOption {
	return func(o *spanOptions) {
		o.attributes = append(o.attributes, attribute.Int(key, n))
	}
}

// RecordError marks the span as failed.
func RecordError(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
}

// RecordSuccess sets the span status to OK.
func RecordSuccess(span trace.Span) {
	span.SetStatus(codes.Ok, "")
}
