package parking

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type ctxKey string

const (
	streamIDKey      ctxKey = "streamID"
	aggregateIDKey   ctxKey = "aggregateID"
	eventIDKey       ctxKey = "eventID"
	versionKey       ctxKey = "version"
	globalVersionKey ctxKey = "globalVersion"
	occurredAtKey    ctxKey = "occurredAt"
	metadataKey      ctxKey = "metadata"
	causationKey     ctxKey = "causation"
)

// WithEnvelope records the envelope's fields on the context so downstream
// event handlers and logging middleware can report where an event came from.
func WithEnvelope(ctx context.Context, env *Envelope) context.Context {
	ctx = context.WithValue(ctx, streamIDKey, env.StreamID)
	ctx = context.WithValue(ctx, aggregateIDKey, env.Event.AggregateID())
	ctx = context.WithValue(ctx, eventIDKey, env.EventID)
	ctx = context.WithValue(ctx, versionKey, env.Version)
	ctx = context.WithValue(ctx, globalVersionKey, env.GlobalVersion)
	ctx = context.WithValue(ctx, occurredAtKey, env.OccurredAt)
	ctx = context.WithValue(ctx, metadataKey, env.Metadata)
	return ctx
}

// AggregateIDFromContext returns the aggregate ID or "" if not present.
func AggregateIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(aggregateIDKey).(string); ok {
		return v
	}
	return ""
}

// StreamIDFromContext returns the stream ID or "" if not present.
func StreamIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(streamIDKey).(string); ok {
		return v
	}
	return ""
}

// EventIDFromContext returns the event ID or uuid.Nil if not present.
func EventIDFromContext(ctx context.Context) uuid.UUID {
	if v, ok := ctx.Value(eventIDKey).(uuid.UUID); ok {
		return v
	}
	return uuid.Nil
}

// VersionFromContext returns the stream version or 0 if not present.
func VersionFromContext(ctx context.Context) uint64 {
	if v, ok := ctx.Value(versionKey).(uint64); ok {
		return v
	}
	return 0
}

// GlobalVersionFromContext returns the global version or 0 if not present.
func GlobalVersionFromContext(ctx context.Context) uint64 {
	if v, ok := ctx.Value(globalVersionKey).(uint64); ok {
		return v
	}
	return 0
}

// OccurredAtFromContext returns the event timestamp or the zero time if not
// present.
func OccurredAtFromContext(ctx context.Context) time.Time {
	if v, ok := ctx.Value(occurredAtKey).(time.Time); ok {
		return v
	}
	return time.Time{}
}

// MetadataFromContext returns the envelope metadata or nil if not present.
func MetadataFromContext(ctx context.Context) map[string]any {
	if v, ok := ctx.Value(metadataKey).(map[string]any); ok {
		return v
	}
	return nil
}

// WithCausation marks the message currently being processed. Anything saved
// while the context is live is stamped with this ID as its causation, which
// is how event chains stay traceable across handlers.
func WithCausation(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, causationKey, id)
}

// CausationFromContext returns the causing message ID or "" if not present.
func CausationFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(causationKey).(string); ok {
		return v
	}
	return ""
}
