package parking

import "context"

// EnvelopeFilter decides whether a subscriber receives an envelope.
type EnvelopeFilter func(*Envelope) bool

// FilterAll passes every envelope.
func FilterAll() EnvelopeFilter {
	return func(*Envelope) bool { return true }
}

// FilterEventKinds passes envelopes carrying one of the given event kinds.
// Pairs with EventGroupProcessor.StreamFilter for subscribing a group.
func FilterEventKinds(kinds ...string) EnvelopeFilter {
	set := make(map[string]struct{}, len(kinds))
	for _, kind := range kinds {
		set[kind] = struct{}{}
	}
	return func(env *Envelope) bool {
		_, ok := set[env.Event.EventType()]
		return ok
	}
}

// FilterStreams passes envelopes belonging to one of the given streams.
func FilterStreams(ids ...string) EnvelopeFilter {
	set := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	return func(env *Envelope) bool {
		_, ok := set[env.StreamID]
		return ok
	}
}

// SubscriberOption configures a single subscription. Implementations define
// their own options; the zero set subscribes with defaults.
type SubscriberOption func(cfg any)

// EventBus distributes published envelopes to matching subscribers. Each
// subscriber is named, filtered, and served by its own worker; delivery to a
// slow subscriber must not block the publisher. Events are not guaranteed to
// be handled in order across subscribers.
type EventBus interface {
	// Subscribe registers a handler under a unique name with a filter that
	// selects the envelopes it receives. The subscription is removed when ctx
	// is done. Returns an error for a nil filter or handler, a duplicate
	// name, or a closed bus.
	Subscribe(ctx context.Context, name string, filter EnvelopeFilter, handler EventHandler, options ...SubscriberOption) error

	// Errors returns a channel where asynchronous handling errors are sent.
	Errors() <-chan error

	// Close closes the EventBus and waits for all handlers to finish.
	Close() error
}
