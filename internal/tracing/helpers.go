package tracing

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/onnwee/genetarget"

// StoreOperation names a ledger operation in span names.
type StoreOperation string

// Store operations.
const (
	StoreMerge     StoreOperation = "merge"
	StoreUpsert    StoreOperation = "upsert"
	StoreQuery     StoreOperation = "query"
	StoreInsert    StoreOperation = "insert"
	StoreAggregate StoreOperation = "aggregate"
)

// StartStoreSpan starts a client span for a store call against table on the
// given backend (postgres, sqlite, badger, memory).
//
//	ctx, end := tracing.StartStoreSpan(ctx, "postgres", "facts", tracing.StoreMerge)
//	defer func() { end(err) }()
func StartStoreSpan(ctx context.Context, backend, table string, op StoreOperation) (context.Context, func(error)) {
	name := string(op)
	if table != "" {
		name += " " + table
	}

	attrs := []attribute.KeyValue{
		attribute.String("db.system", backend),
		attribute.String("db.operation", string(op)),
	}
	if table != "" {
		attrs = append(attrs, attribute.String("db.sql.table", table))
	}

	ctx, span := otel.Tracer(instrumentationName).Start(ctx, name,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attrs...),
	)
	return ctx, endFunc(span)
}

// StartSpan starts an internal span.
func StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, func(error)) {
	ctx, span := otel.Tracer(instrumentationName).Start(ctx, name, trace.WithAttributes(attrs...))
	return ctx, endFunc(span)
}

func endFunc(span trace.Span) func(error) {
	return func(err error) {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}
}

// AddEvent adds an event to the span in ctx.
func AddEvent(ctx context.Context, name string, attrs ...attribute.KeyValue) {
	trace.SpanFromContext(ctx).AddEvent(name, trace.WithAttributes(attrs...))
}

// SetAttributes sets attributes on the span in ctx.
func SetAttributes(ctx context.Context, attrs ...attribute.KeyValue) {
	trace.SpanFromContext(ctx).SetAttributes(attrs...)
}
