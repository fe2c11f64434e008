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

// WithEventTelemetry wraps a single EventHandler with a span and metrics.
// Use it for handlers that are invoked directly, outside a bus subscription;
// the bus decorator already instruments subscribed handlers.
func WithEventTelemetry(next parking.EventHandler) parking.EventHandler {

	return parking.NewEventHandlerFunc(func(ctx context.Context, event parking.Event) error {

		attr := []attribute.KeyValue{
			AttrEventType.String(event.EventType()),
			AttrEventID.String(parking.EventIDFromContext(ctx).String()),
			AttrEventGlobalPos.String(fmt.Sprintf("%d", parking.GlobalVersionFromContext(ctx))),
			AttrEventStreamPos.String(fmt.Sprintf("%d", parking.VersionFromContext(ctx))),
			AttrStreamID.String(parking.StreamIDFromContext(ctx)),
		}

		ctx, span := tracer.Start(ctx, fmt.Sprintf("events.handle %s", event.EventType()),
			trace.WithSpanKind(trace.SpanKindInternal),
			trace.WithAttributes(attr...),
		)
		defer span.End()

		EventBusHandled.Add(ctx, 1, metric.WithAttributes(AttrEventType.String(event.EventType())))

		startTime := time.Now()
		err := next.Handle(ctx, event)
		EventBusDuration.Record(ctx,
			float64(time.Since(startTime).Milliseconds()),
			metric.WithAttributes(AttrEventType.String(event.EventType())),
		)

		if err != nil {
			var skipped *parking.ErrSkippedEvent
			if errors.As(err, &skipped) {
				span.SetStatus(codes.Ok, "event skipped")
			} else {
				EventBusErrors.Add(ctx, 1, metric.WithAttributes(AttrEventType.String(event.EventType())))
				span.SetStatus(codes.Error, err.Error())
				span.RecordError(err)
			}
			return err
		}
		span.SetStatus(codes.Ok, "")
		return nil
	})
}
