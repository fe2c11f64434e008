package fixtures

import (
	"context"
	"sync"

	"github.com/parkhaus/parking"
)

var _ parking.EventBus = (*EventBusSpy)(nil)

// EventBusSpy is a configurable EventBus double. It records subscriptions
// and can deliver envelopes to them synchronously.
type EventBusSpy struct {
	mu sync.Mutex

	// Function overrides
	SubscribeFn func(ctx context.Context, name string, filter parking.EnvelopeFilter, handler parking.EventHandler, options ...parking.SubscriberOption) error
	ErrorsFn    func() <-chan error
	CloseFn     func() error

	// Call tracking
	SubscribeCalls int
	CloseCalls     int

	// Captured subscriptions
	Subscriptions []Subscription

	// Error injection
	subscribeErr error
	errChan      chan error
	closed       bool
}

// Subscription captures the details of a Subscribe call.
type Subscription struct {
	Name    string
	Filter  parking.EnvelopeFilter
	Handler parking.EventHandler
}

// NewEventBusSpy creates a new EventBusSpy.
func NewEventBusSpy() *EventBusSpy {
	return &EventBusSpy{
		errChan: make(chan error, 10),
	}
}

// FailOnSubscribe configures the bus to return an error on Subscribe.
func (b *EventBusSpy) FailOnSubscribe(err error) *EventBusSpy {
	b.subscribeErr = err
	return b
}

// Subscribe implements EventBus.Subscribe.
func (b *EventBusSpy) Subscribe(ctx context.Context, name string, filter parking.EnvelopeFilter, handler parking.EventHandler, options ...parking.SubscriberOption) error {
	b.mu.Lock()
	b.SubscribeCalls++
	b.Subscriptions = append(b.Subscriptions, Subscription{
		Name:    name,
		Filter:  filter,
		Handler: handler,
	})
	b.mu.Unlock()

	if b.SubscribeFn != nil {
		return b.SubscribeFn(ctx, name, filter, handler, options...)
	}

	if b.subscribeErr != nil {
		return b.subscribeErr
	}

	return nil
}

// Deliver invokes the handler of every subscription whose filter matches,
// synchronously and in subscription order. The envelope rides the context the
// way the real buses pass it. It returns the first handler error.
func (b *EventBusSpy) Deliver(ctx context.Context, env *parking.Envelope) error {
	b.mu.Lock()
	subs := make([]Subscription, len(b.Subscriptions))
	copy(subs, b.Subscriptions)
	b.mu.Unlock()

	for _, sub := range subs {
		if sub.Filter != nil && !sub.Filter(env) {
			continue
		}
		hctx := parking.WithEnvelope(ctx, env)
		if err := sub.Handler.Handle(hctx, env.Event); err != nil {
			return err
		}
	}
	return nil
}

// Errors implements EventBus.Errors.
func (b *EventBusSpy) Errors() <-chan error {
	if b.ErrorsFn != nil {
		return b.ErrorsFn()
	}
	return b.errChan
}

// Close implements EventBus.Close.
func (b *EventBusSpy) Close() error {
	b.mu.Lock()
	b.CloseCalls++
	if !b.closed {
		b.closed = true
		close(b.errChan)
	}
	b.mu.Unlock()

	if b.CloseFn != nil {
		return b.CloseFn()
	}
	return nil
}

// SendError feeds an error into the error channel, as a failing handler on a
// real bus would.
func (b *EventBusSpy) SendError(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.closed {
		b.errChan <- err
	}
}

// Reset clears all call counts and subscriptions.
func (b *EventBusSpy) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.SubscribeCalls = 0
	b.CloseCalls = 0
	b.Subscriptions = nil
	b.subscribeErr = nil
}

// HasSubscription reports whether a subscription with the given name exists.
func (b *EventBusSpy) HasSubscription(name string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, sub := range b.Subscriptions {
		if sub.Name == name {
			return true
		}
	}
	return false
}

// SubscriptionCount returns the number of subscriptions.
func (b *EventBusSpy) SubscriptionCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.Subscriptions)
}

// EventHandlerSpy is a configurable EventHandler double.
type EventHandlerSpy struct {
	mu sync.Mutex

	// Function override
	HandleFn func(ctx context.Context, event parking.Event) error

	// Call tracking
	HandleCalls int

	// Captured events
	ReceivedEvents []parking.Event

	// Error injection
	handleErr error
}

// NewEventHandlerSpy creates a new EventHandlerSpy.
func NewEventHandlerSpy() *EventHandlerSpy {
	return &EventHandlerSpy{}
}

// FailOnHandle configures the handler to return an error.
func (h *EventHandlerSpy) FailOnHandle(err error) *EventHandlerSpy {
	h.handleErr = err
	return h
}

// Handle implements EventHandler.Handle.
func (h *EventHandlerSpy) Handle(ctx context.Context, event parking.Event) error {
	h.mu.Lock()
	h.HandleCalls++
	h.ReceivedEvents = append(h.ReceivedEvents, event)
	h.mu.Unlock()

	if h.HandleFn != nil {
		return h.HandleFn(ctx, event)
	}

	if h.handleErr != nil {
		return h.handleErr
	}

	return nil
}

// Reset clears all call counts and received events.
func (h *EventHandlerSpy) Reset() {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.HandleCalls = 0
	h.ReceivedEvents = nil
	h.handleErr = nil
}

// LastEvent returns the most recently received event, or nil if none.
func (h *EventHandlerSpy) LastEvent() parking.Event {
	h.mu.Lock()
	defer h.mu.Unlock()

	if len(h.ReceivedEvents) == 0 {
		return nil
	}
	return h.ReceivedEvents[len(h.ReceivedEvents)-1]
}

// EventCount returns the number of events received.
func (h *EventHandlerSpy) EventCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.ReceivedEvents)
}
