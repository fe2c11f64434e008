package fixtures

import (
	"time"

	"github.com/google/uuid"

	"github.com/parkhaus/parking"
)

// EnvelopeOption is a functional option for configuring an Envelope.
type EnvelopeOption func(*parking.Envelope)

// NewEnvelope creates an Envelope with the given event and options. The
// stream defaults to the event's aggregate and the positions to 1.
func NewEnvelope(event parking.Event, opts ...EnvelopeOption) *parking.Envelope {
	env := &parking.Envelope{
		EventID:       uuid.New(),
		StreamID:      event.AggregateID(),
		Event:         event,
		Version:       1,
		GlobalVersion: 1,
		OccurredAt:    time.Now(),
		Metadata:      make(map[string]any),
	}

	for _, opt := range opts {
		opt(env)
	}

	return env
}

// WithEventID sets a specific event ID.
func WithEventID(id uuid.UUID) EnvelopeOption {
	return func(e *parking.Envelope) {
		e.EventID = id
	}
}

// WithStreamID overrides the stream ID (defaults to the event's AggregateID).
func WithStreamID(id string) EnvelopeOption {
	return func(e *parking.Envelope) {
		e.StreamID = id
	}
}

// WithVersion sets the stream version.
func WithVersion(v uint64) EnvelopeOption {
	return func(e *parking.Envelope) {
		e.Version = v
	}
}

// WithGlobalVersion sets the global version.
func WithGlobalVersion(v uint64) EnvelopeOption {
	return func(e *parking.Envelope) {
		e.GlobalVersion = v
	}
}

// WithTimestamp sets the occurred-at timestamp.
func WithTimestamp(t time.Time) EnvelopeOption {
	return func(e *parking.Envelope) {
		e.OccurredAt = t
	}
}

// WithMetadata sets the entire metadata map.
func WithMetadata(m map[string]any) EnvelopeOption {
	return func(e *parking.Envelope) {
		e.Metadata = m
	}
}

// WithMetadataField adds a single metadata field.
func WithMetadataField(key string, value any) EnvelopeOption {
	return func(e *parking.Envelope) {
		if e.Metadata == nil {
			e.Metadata = make(map[string]any)
		}
		e.Metadata[key] = value
	}
}

// EnvelopesFromEvents wraps events in envelopes with sequential versions
// starting at 1, each one millisecond after the last.
func EnvelopesFromEvents(events ...parking.Event) []*parking.Envelope {
	envelopes := make([]*parking.Envelope, len(events))
	baseTime := time.Now()

	for i, event := range events {
		envelopes[i] = &parking.Envelope{
			EventID:       uuid.New(),
			StreamID:      event.AggregateID(),
			Event:         event,
			Version:       uint64(i + 1),
			GlobalVersion: uint64(i + 1),
			OccurredAt:    baseTime.Add(time.Duration(i) * time.Millisecond),
			Metadata:      make(map[string]any),
		}
	}

	return envelopes
}

// EnvelopeValuesFromEvents is EnvelopesFromEvents flattened to values, the
// shape EventStore.Save takes.
func EnvelopeValuesFromEvents(events ...parking.Event) []parking.Envelope {
	ptrs := EnvelopesFromEvents(events...)
	values := make([]parking.Envelope, len(ptrs))
	for i, p := range ptrs {
		values[i] = *p
	}
	return values
}
