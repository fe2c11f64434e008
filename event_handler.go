package parking

import (
	"context"
)

// EventHandler represents a generic event handler that can handle an Event.
type EventHandler interface {
	// Handle processes the given Event within the provided context.
	Handle(ctx context.Context, event Event) error
}

// NewEventHandlerFunc creates an EventHandler from a plain function.
//
// This is a helper for quickly creating an EventHandler without defining
// a separate struct. The provided function is called for every event the
// handler receives; there is no type checking or filtering. If you need type
// safety, use OnEvent instead.
//
// Example Usage:
//
//	handler := NewEventHandlerFunc(func(ctx context.Context, ev Event) error {
//	    fmt.Println("received event:", ev.EventType())
//	    return nil
//	})
func NewEventHandlerFunc(fn func(ctx context.Context, event Event) error) EventHandler {
	return eventHandlerFunc(fn)
}

// eventHandlerFunc is a function type that implements EventHandler.
type eventHandlerFunc func(ctx context.Context, event Event) error

func (h eventHandlerFunc) Handle(ctx context.Context, event Event) error {
	return h(ctx, event)
}

// typedEventHandler is a strongly typed event handler for a specific Event type T.
type typedEventHandler[T Event] func(ctx context.Context, ev T) error

// EventName returns the kind name of the event type T. It is used by
// EventGroupProcessor for routing, so EventType must return its name from the
// zero value of T without touching instance state.
func (h typedEventHandler[T]) EventName() string {
	var zero T
	return zero.EventType()
}

// Handle processes the event if it matches the type T.
// Returns *ErrSkippedEvent if the event is of the wrong type.
func (h typedEventHandler[T]) Handle(ctx context.Context, event Event) error {
	ev, ok := event.(T)
	if !ok {
		return &ErrSkippedEvent{Event: event}
	}
	return h(ctx, ev)
}

// OnEvent creates a strongly-typed EventHandler for a specific event type.
//
// It wraps fn into a handler that only fires for events of type T, returning
// *ErrSkippedEvent for anything else, and exposes the event's kind name for
// routing inside an EventGroupProcessor.
//
// Example Usage:
//
//	handler := OnEvent(func(ctx context.Context, ev *session.Extended) error {
//	    fmt.Println("session extended at", ev.AggregateID())
//	    return nil
//	})
func OnEvent[T Event](fn func(ctx context.Context, ev T) error) EventHandler {
	return typedEventHandler[T](fn)
}
