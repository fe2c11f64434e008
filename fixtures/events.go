// Package fixtures provides test doubles for the parking building blocks:
// canned session events and envelopes, iterator factories, and spies for the
// event store and event bus. It is meant for _test packages and must not be
// imported by production code.
package fixtures

import (
	"fmt"
	"time"

	"github.com/parkhaus/parking"
	"github.com/parkhaus/parking/session"
)

// SessionStart is the start time carried by canned session events.
var SessionStart = time.Date(2013, 1, 1, 16, 0, 0, 0, time.UTC)

// StartedAt returns a session start event for a location, started by the
// given user at SessionStart.
func StartedAt(locationID, userID string) *session.Started {
	return &session.Started{LocationID: locationID, UserID: userID, StartTime: SessionStart}
}

// ExtendedBy returns a session extension event for a location.
func ExtendedBy(locationID string, minutes int64) *session.Extended {
	return &session.Extended{LocationID: locationID, ByMinutes: minutes}
}

// SessionHistory returns a start event followed by n extensions of the given
// length, the shape most replay tests need.
func SessionHistory(locationID string, extensions int, minutes int64) []parking.Event {
	events := make([]parking.Event, 0, extensions+1)
	events = append(events, StartedAt(locationID, "user-1"))
	for i := 0; i < extensions; i++ {
		events = append(events, ExtendedBy(locationID, minutes))
	}
	return events
}

// TestEvent is a configurable event for tests that need a kind outside the
// registered session kinds, such as unknown-event routing.
type TestEvent struct {
	ID   string
	Kind string
	Data string
}

func (e TestEvent) AggregateID() string { return e.ID }
func (e TestEvent) EventType() string   { return e.Kind }

// TestEventBuilder provides a fluent API for constructing test events.
type TestEventBuilder struct {
	id   string
	kind string
	data string
}

// NewTestEvent creates a new TestEventBuilder with sensible defaults.
func NewTestEvent() *TestEventBuilder {
	return &TestEventBuilder{
		id:   "452",
		kind: "fixtures.test",
	}
}

// WithID sets the aggregate ID.
func (b *TestEventBuilder) WithID(id string) *TestEventBuilder {
	b.id = id
	return b
}

// WithKind sets the event kind.
func (b *TestEventBuilder) WithKind(kind string) *TestEventBuilder {
	b.kind = kind
	return b
}

// WithData sets custom data on the event.
func (b *TestEventBuilder) WithData(data string) *TestEventBuilder {
	b.data = data
	return b
}

// Build constructs the TestEvent.
func (b *TestEventBuilder) Build() TestEvent {
	return TestEvent{
		ID:   b.id,
		Kind: b.kind,
		Data: b.data,
	}
}

// BuildN creates n events with sequential data.
func (b *TestEventBuilder) BuildN(n int) []parking.Event {
	events := make([]parking.Event, n)
	for i := 0; i < n; i++ {
		events[i] = TestEvent{
			ID:   b.id,
			Kind: b.kind,
			Data: fmt.Sprintf("%s-%d", b.data, i+1),
		}
	}
	return events
}
