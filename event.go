package parking

import (
	"time"

	"github.com/google/uuid"
)

// Event is a domain event describing a fact that has happened to an aggregate,
// such as a parking session being started or extended.
type Event interface {
	// AggregateID identifies the aggregate instance the event belongs to.
	// For parking sessions this is the location identifier.
	AggregateID() string

	// EventType is the stable name the event is stored and routed under.
	EventType() string
}

// Envelope wraps an Event with the stream bookkeeping a store needs: identity,
// position, metadata, and the moment the event occurred.
//
// Version is the 1-based position of the event within its own stream.
// GlobalVersion is the position across all streams and is assigned by stores
// that maintain a global order; it is zero where no such order exists.
type Envelope struct {
	EventID       uuid.UUID
	StreamID      string
	Metadata      map[string]any
	Event         Event
	Version       uint64
	GlobalVersion uint64
	OccurredAt    time.Time
}
