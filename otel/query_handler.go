package otel

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/parkhaus/parking"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// WithQueryTelemetry wraps a QueryHandler with OpenTelemetry tracing and metrics.
//
// Wrap handlers before registering them on a QueryBus; the bus itself carries
// no instrumentation.
//
// The wrapper performs the following steps for each query execution:
//  1. Starts a span named after the query type, carrying the query type and ID.
//  2. Tracks in-flight queries around the handler call.
//  3. Records duration, handled and failed counters by query type.
//
// A handler error marks the span as failed unless it only reports that the
// queried entity does not exist; absence is an answer, not a fault.
//
// Example Usage:
//
//	handler := otel.WithQueryTelemetry(session.NewStatusHandler(view))
//	parking.RegisterQueryHandler(bus, handler)
func WithQueryTelemetry[T parking.Query, R parking.ReadModel](next parking.QueryHandler[T, R]) parking.QueryHandler[T, R] {
	var zero T
	queryType := parking.TypeName(zero)

	return parking.NewQueryHandlerFunc(func(ctx context.Context, qry T) (R, error) {
		attr := []attribute.KeyValue{
			AttrQueryType.String(queryType),
			AttrQueryID.String(qry.ID()),
		}

		ctx, span := tracer.Start(ctx, fmt.Sprintf("query.handle %s", queryType),
			trace.WithSpanKind(trace.SpanKindInternal),
			trace.WithAttributes(attr...),
		)
		defer span.End()

		QueriesInFlight.Add(ctx, 1, metric.WithAttributes(AttrQueryType.String(queryType)))
		defer QueriesInFlight.Add(ctx, -1, metric.WithAttributes(AttrQueryType.String(queryType)))

		startTime := time.Now()
		result, err := next.HandleQuery(ctx, qry)
		QueriesDuration.Record(ctx,
			float64(time.Since(startTime).Milliseconds()),
			metric.WithAttributes(AttrQueryType.String(queryType)),
		)

		if err != nil {
			QueriesFailed.Add(ctx, 1, metric.WithAttributes(AttrQueryType.String(queryType)))
			if errors.Is(err, parking.ErrStreamNotFound) {
				span.SetStatus(codes.Ok, "entity not found")
			} else {
				span.SetStatus(codes.Error, err.Error())
				span.RecordError(err)
			}
			return result, err
		}

		span.SetStatus(codes.Ok, "")
		QueriesHandled.Add(ctx, 1, metric.WithAttributes(AttrQueryType.String(queryType)))
		return result, nil
	})
}
