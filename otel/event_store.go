package otel

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/parkhaus/parking"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

var _ parking.EventStore = (*TelemetryStore)(nil)

// TelemetryStore decorates an EventStore with OpenTelemetry tracing and
// metrics. Saves additionally stamp each envelope's metadata with the trace
// context and the causation ID from the context, so consumers can link their
// spans back to the producer.
type TelemetryStore struct {
	next parking.EventStore
	cfg  *config
}

func revisionLabel(revision parking.StreamState) string {
	switch r := revision.(type) {
	case parking.Any:
		return "any"
	case parking.NoStream:
		return "no-stream"
	case parking.StreamExists:
		return "stream-exists"
	case parking.Revision:
		return fmt.Sprintf("revision(%d)", uint64(r))
	default:
		return fmt.Sprintf("%T", revision)
	}
}

// Save with metrics + span
func (t TelemetryStore) Save(ctx context.Context, events []parking.Envelope, revision parking.StreamState) (parking.AppendResult, error) {
	var streamID string
	for _, event := range events {
		streamID = event.StreamID
		break
	}

	opts := []trace.SpanStartOption{
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			AttrOperation.String("save"),
			AttrStreamID.String(streamID),
			AttrStreamVersion.String(revisionLabel(revision)),
			AttrEventCount.Int64(int64(len(events))),
		),
	}
	if len(t.cfg.Attributes) > 0 {
		opts = append(opts, trace.WithAttributes(t.cfg.Attributes...))
	}
	if t.cfg.GetAttributes != nil {
		opts = append(opts, trace.WithAttributes(t.cfg.GetAttributes(ctx)...))
	}

	ctx, span := tracer.Start(ctx, "EventStore.Save", opts...)
	defer span.End()

	{
		carrier := propagation.MapCarrier{}

		causationID := parking.CausationFromContext(ctx)

		otel.GetTextMapPropagator().Inject(ctx, carrier)
		for i := range events {
			if events[i].Metadata == nil {
				events[i].Metadata = make(map[string]any, len(carrier)+2)
			}

			if causationID != "" {
				events[i].Metadata["causationId"] = causationID
			}

			if span.SpanContext().HasTraceID() {
				events[i].Metadata["correlationId"] = span.SpanContext().TraceID().String()
			}

			for key, value := range carrier {
				events[i].Metadata[key] = value
			}
		}
	}

	start := time.Now()
	result, err := t.next.Save(ctx, events, revision)
	duration := time.Since(start)

	EventStoreDuration.Record(ctx, float64(duration.Milliseconds()),
		metric.WithAttributes(
			AttrOperation.String("save"),
		),
	)
	EventStoreSaves.Add(ctx, 1)
	EventsAppended.Add(ctx, int64(len(events)))

	if err != nil {
		EventStoreErrors.Add(ctx, 1)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}

	return result, err
}

// LoadStream with inline tracing middleware
func (t TelemetryStore) LoadStream(ctx context.Context, id string) (*parking.Iterator[*parking.Envelope], error) {
	iter, err := t.next.LoadStream(ctx, id)
	if err != nil {
		EventStoreErrors.Add(ctx, 1)
		return iter, err
	}
	EventStoreLoads.Add(ctx, 1, metric.WithAttributes(AttrOperation.String("load-stream")))

	started := false
	var startedAt time.Time
	var replaySpan trace.Span

	return parking.NewIteratorFunc(func(ctx context.Context) (*parking.Envelope, error) {
		if !started {
			started = true
			startedAt = time.Now()
			ctx, replaySpan = tracer.Start(ctx, "EventStore.LoadStream",
				trace.WithSpanKind(trace.SpanKindClient),
				trace.WithAttributes(AttrStreamID.String(id)),
			)
		}

		if !iter.Next(ctx) {
			if err := iter.Err(); err != nil {
				EventStoreErrors.Add(ctx, 1)
				replaySpan.RecordError(err)
				replaySpan.SetStatus(codes.Error, err.Error())
				replaySpan.End()
				return nil, err
			}

			EventStoreDuration.Record(ctx, float64(time.Since(startedAt).Milliseconds()),
				metric.WithAttributes(AttrOperation.String("load-stream")))
			replaySpan.End()
			return nil, io.EOF
		}

		EventsLoaded.Add(ctx, 1)

		return iter.Value(), nil
	}), nil
}

// LoadStreamFrom with inline tracing middleware
func (t TelemetryStore) LoadStreamFrom(ctx context.Context, id string, version uint64) (*parking.Iterator[*parking.Envelope], error) {
	iter, err := t.next.LoadStreamFrom(ctx, id, version)
	if err != nil {
		EventStoreErrors.Add(ctx, 1)
		return iter, err
	}
	EventStoreLoads.Add(ctx, 1, metric.WithAttributes(AttrOperation.String("load-stream-from")))

	started := false
	var startedAt time.Time
	var replaySpan trace.Span
	var eventCount int64

	return parking.NewIteratorFunc(func(ctx context.Context) (*parking.Envelope, error) {
		if !started {
			started = true
			startedAt = time.Now()
			ctx, replaySpan = tracer.Start(ctx, "EventStore.LoadStreamFrom",
				trace.WithSpanKind(trace.SpanKindClient),
				trace.WithAttributes(
					AttrStreamID.String(id),
					AttrEventStreamPos.String(fmt.Sprintf("%d", version)),
				),
			)
		}

		if !iter.Next(ctx) {
			replaySpan.SetAttributes(AttrEventCount.Int64(eventCount))

			if err := iter.Err(); err != nil {
				EventStoreErrors.Add(ctx, 1)
				replaySpan.RecordError(err)
				replaySpan.SetStatus(codes.Error, err.Error())
				replaySpan.End()
				return nil, err
			}

			EventStoreDuration.Record(ctx, float64(time.Since(startedAt).Milliseconds()),
				metric.WithAttributes(AttrOperation.String("load-stream-from")))
			replaySpan.End()
			return nil, io.EOF
		}

		eventCount++
		EventsLoaded.Add(ctx, 1)

		return iter.Value(), nil
	}), nil
}

// LoadFromAll with inline tracing middleware
func (t TelemetryStore) LoadFromAll(ctx context.Context, version uint64) (*parking.Iterator[*parking.Envelope], error) {
	iter, err := t.next.LoadFromAll(ctx, version)
	if err != nil {
		EventStoreErrors.Add(ctx, 1)
		return iter, err
	}
	EventStoreLoads.Add(ctx, 1, metric.WithAttributes(AttrOperation.String("load-from-all")))

	started := false
	var startedAt time.Time
	var replaySpan trace.Span

	return parking.NewIteratorFunc(func(ctx context.Context) (*parking.Envelope, error) {
		if !started {
			started = true
			startedAt = time.Now()
			ctx, replaySpan = tracer.Start(ctx, "EventStore.LoadFromAll",
				trace.WithSpanKind(trace.SpanKindClient),
				trace.WithAttributes(AttrEventGlobalPos.String(fmt.Sprintf("%d", version))),
			)
		}

		if !iter.Next(ctx) {
			if err := iter.Err(); err != nil {
				EventStoreErrors.Add(ctx, 1)
				replaySpan.RecordError(err)
				replaySpan.SetStatus(codes.Error, err.Error())
				replaySpan.End()
				return nil, err
			}

			EventStoreDuration.Record(ctx, float64(time.Since(startedAt).Milliseconds()),
				metric.WithAttributes(AttrOperation.String("load-from-all")))
			replaySpan.End()
			return nil, io.EOF
		}

		EventsLoaded.Add(ctx, 1)

		return iter.Value(), nil
	}), nil
}

// Close just forwards
func (t TelemetryStore) Close() error {
	return t.next.Close()
}

// WithEventStoreTelemetry wraps an EventStore so every save and load is traced
// and counted. Options add extra span attributes, for example the backing
// store flavor.
func WithEventStoreTelemetry(next parking.EventStore, options ...Option) parking.EventStore {
	cfg := &config{}
	for _, o := range options {
		o.apply(cfg)
	}

	return TelemetryStore{next: next, cfg: cfg}
}
