package parking

import (
	"context"
	"fmt"
	"sort"
)

// EventGroupProcessor is a collection of typed event handlers.
// It routes incoming events to the correct handler based on the event kind.
type EventGroupProcessor struct {
	handlers map[string]EventHandler // key = EventName()
}

// NewEventGroupProcessor creates a group of typed event handlers.
//
// Handlers must expose an EventName method (handlers built with OnEvent do);
// the processor builds a map from kind name to handler for dispatch. Panics
// on a handler without EventName or on duplicate handlers for one kind, since
// groups are assembled during wiring.
//
// Example Usage:
//
//	view := &SessionView{}
//	group := NewEventGroupProcessor(
//	    OnEvent(view.OnStarted),
//	    OnEvent(view.OnExtended),
//	)
func NewEventGroupProcessor(handlers ...EventHandler) *EventGroupProcessor {
	m := make(map[string]EventHandler, len(handlers))
	for _, h := range handlers {
		u, ok := h.(interface{ EventName() string })
		if !ok {
			panic(fmt.Errorf("handler %T does not have a function `EventName()`", h))
		}

		name := u.EventName()
		if _, exists := m[name]; exists {
			panic(fmt.Errorf("duplicate handler for event %s: %w", name, ErrDuplicateHandler))
		}
		m[name] = h
	}

	return &EventGroupProcessor{
		handlers: m,
	}
}

// Handle routes the given event to the correct typed handler.
// Returns *ErrSkippedEvent if no handler exists for the event kind.
func (p *EventGroupProcessor) Handle(ctx context.Context, ev Event) error {
	name := ev.EventType()
	h, ok := p.handlers[name]

	if !ok {
		return &ErrSkippedEvent{Event: ev}
	}
	return h.Handle(ctx, ev)
}

// StreamFilter returns a sorted list of all event kinds handled by this group.
// Useful when subscribing the group to an event bus.
func (p *EventGroupProcessor) StreamFilter() []string {
	out := make([]string, 0, len(p.handlers))
	for name := range p.handlers {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
