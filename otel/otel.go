package otel

import (
	"github.com/parkhaus/parking"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const (
	instrumentationName = "github.com/parkhaus/parking"
)

// Semantic attribute keys following OpenTelemetry conventions
const (
	// Command attributes
	AttrCommandType = attribute.Key("parking.command.type")
	AttrAggregateID = attribute.Key("parking.aggregate.id")

	// Stream attributes
	AttrStreamID      = attribute.Key("parking.stream.id")
	AttrStreamVersion = attribute.Key("parking.stream.version")

	// Event attributes
	AttrEventType      = attribute.Key("parking.event.type")
	AttrEventID        = attribute.Key("parking.event.id")
	AttrEventCount     = attribute.Key("parking.events.count")
	AttrEventGlobalPos = attribute.Key("parking.event.global_position")
	AttrEventStreamPos = attribute.Key("parking.event.stream_position")

	// EventBus attributes
	AttrSubscriberName = attribute.Key("parking.subscriber.name")

	// Query attributes
	AttrQueryType = attribute.Key("parking.query.type")
	AttrQueryID   = attribute.Key("parking.query.id")

	// Operation attributes
	AttrOperation = attribute.Key("parking.operation")
)

var (
	meter  = otel.Meter(instrumentationName, metric.WithInstrumentationVersion(parking.InstrumentationVersion))
	tracer = otel.Tracer(instrumentationName, trace.WithInstrumentationVersion(parking.InstrumentationVersion))

	// Command metrics
	CommandsHandled, _ = meter.Int64Counter(
		"parking.commands.handled",
		metric.WithDescription("Total number of commands handled"),
		metric.WithUnit("{command}"),
	)

	CommandsDuration, _ = meter.Float64Histogram(
		"parking.commands.duration",
		metric.WithDescription("Command handling duration"),
		metric.WithUnit("ms"),
		metric.WithExplicitBucketBoundaries(1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000, 10000),
	)

	CommandsInFlight, _ = meter.Int64UpDownCounter(
		"parking.commands.in_flight",
		metric.WithDescription("Number of commands currently being processed"),
		metric.WithUnit("{command}"),
	)

	CommandsFailed, _ = meter.Int64Counter(
		"parking.commands.failed",
		metric.WithDescription("Number of failed commands"),
		metric.WithUnit("{command}"),
	)

	// Event metrics
	EventsAppended, _ = meter.Int64Counter(
		"parking.events.appended",
		metric.WithDescription("Number of events appended to streams"),
		metric.WithUnit("{event}"),
	)

	EventsLoaded, _ = meter.Int64Counter(
		"parking.events.loaded",
		metric.WithDescription("Number of events loaded from streams"),
		metric.WithUnit("{event}"),
	)

	// EventBus metrics
	EventBusHandled, _ = meter.Int64Counter(
		"parking.eventbus.handled",
		metric.WithDescription("Number of events handled by subscribers"),
		metric.WithUnit("{event}"),
	)

	EventBusErrors, _ = meter.Int64Counter(
		"parking.eventbus.errors",
		metric.WithDescription("Number of event bus handler errors"),
		metric.WithUnit("{error}"),
	)

	EventBusSubscribers, _ = meter.Int64UpDownCounter(
		"parking.eventbus.subscribers",
		metric.WithDescription("Number of active event bus subscribers"),
		metric.WithUnit("{subscriber}"),
	)

	EventBusDuration, _ = meter.Float64Histogram(
		"parking.eventbus.duration",
		metric.WithDescription("Event bus handler duration"),
		metric.WithUnit("ms"),
		metric.WithExplicitBucketBoundaries(1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000),
	)

	// EventStore metrics
	EventStoreSaves, _ = meter.Int64Counter(
		"parking.eventstore.saves",
		metric.WithDescription("Number of save operations"),
		metric.WithUnit("{operation}"),
	)

	EventStoreLoads, _ = meter.Int64Counter(
		"parking.eventstore.loads",
		metric.WithDescription("Number of load operations"),
		metric.WithUnit("{operation}"),
	)

	EventStoreDuration, _ = meter.Float64Histogram(
		"parking.eventstore.duration",
		metric.WithDescription("Event store operation duration"),
		metric.WithUnit("ms"),
		metric.WithExplicitBucketBoundaries(1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000),
	)

	EventStoreErrors, _ = meter.Int64Counter(
		"parking.eventstore.errors",
		metric.WithDescription("Number of event store errors"),
		metric.WithUnit("{error}"),
	)

	// Query metrics
	QueriesHandled, _ = meter.Int64Counter(
		"parking.queries.handled",
		metric.WithDescription("Total number of queries handled"),
		metric.WithUnit("{query}"),
	)

	QueriesFailed, _ = meter.Int64Counter(
		"parking.queries.failed",
		metric.WithDescription("Number of failed queries"),
		metric.WithUnit("{query}"),
	)

	QueriesInFlight, _ = meter.Int64UpDownCounter(
		"parking.queries.in_flight",
		metric.WithDescription("Number of queries currently being processed"),
		metric.WithUnit("{query}"),
	)

	QueriesDuration, _ = meter.Float64Histogram(
		"parking.queries.duration",
		metric.WithDescription("Query handling duration"),
		metric.WithUnit("ms"),
		metric.WithExplicitBucketBoundaries(1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000),
	)

	// System metrics
	ConcurrencyConflicts, _ = meter.Int64Counter(
		"parking.concurrency.conflicts",
		metric.WithDescription("Number of concurrency conflicts"),
		metric.WithUnit("{conflict}"),
	)

	StreamVersionGauge, _ = meter.Int64Gauge(
		"parking.stream.version",
		metric.WithDescription("Current version of streams"),
		metric.WithUnit("{version}"),
	)
)
