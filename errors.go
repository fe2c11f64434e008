package parking

import (
	"errors"
	"fmt"
)

var (
	// ErrStreamNotFound is returned when a stream that was expected to exist
	// does not.
	ErrStreamNotFound = errors.New("stream not found")

	// ErrStreamExists is returned when a stream that was expected to be absent
	// already holds events.
	ErrStreamExists = errors.New("stream already exists")

	// ErrInvalidRevision is returned when a load or append refers to a
	// revision the stream cannot satisfy.
	ErrInvalidRevision = errors.New("invalid stream revision")

	// ErrInvalidEventBatch is returned when a single Save call mixes events
	// for different streams.
	ErrInvalidEventBatch = errors.New("invalid event batch")

	// ErrDuplicateHandler is returned or panicked when two handlers are
	// registered under the same name.
	ErrDuplicateHandler = errors.New("duplicate handler")

	// ErrHandlerNotFound is returned when no handler is registered for a
	// dispatched command or query type.
	ErrHandlerNotFound = errors.New("handler not found")

	// ErrBusinessRuleViolation marks a command rejection that is part of the
	// domain contract rather than a system fault. Domain packages wrap it in
	// their own sentinels so callers can match either the specific rule or
	// the whole class with errors.Is.
	ErrBusinessRuleViolation = errors.New("business rule violation")
)

// StreamRevisionConflictError is returned by a store when the expected
// revision does not match the actual one, meaning another writer appended
// first. Command handlers treat it as retryable.
type StreamRevisionConflictError struct {
	Stream           string
	ExpectedRevision Revision
	ActualRevision   Revision
}

func (e *StreamRevisionConflictError) Error() string {
	return fmt.Sprintf("stream %q revision conflict: expected %d, actual %d",
		e.Stream, e.ExpectedRevision, e.ActualRevision)
}

// ErrSkippedEvent is returned when a handler cannot handle the event type.
type ErrSkippedEvent struct {
	Event Event
}

func (e *ErrSkippedEvent) Error() string {
	return fmt.Sprintf("skipped event of type %T", e.Event)
}

// EventStoreError wraps a backend failure so callers can distinguish store
// trouble from domain rejections.
type EventStoreError struct {
	Err error
}

func (e *EventStoreError) Error() string {
	return fmt.Sprintf("eventstore error: %v", e.Err)
}

func (e *EventStoreError) Unwrap() error {
	return e.Err
}

// WrapEventStoreError wraps err in an EventStoreError, passing nil through.
func WrapEventStoreError(err error) error {
	if err == nil {
		return nil
	}
	return &EventStoreError{Err: err}
}
