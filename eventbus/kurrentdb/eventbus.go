// Package kurrentdb provides an event bus fed by a KurrentDB all-stream
// subscription. Each subscriber holds its own server subscription, so one
// slow handler never stalls another.
package kurrentdb

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/kurrent-io/KurrentDB-Client-Go/kurrentdb"
	"github.com/parkhaus/parking"
)

type eventBus struct {
	db     *kurrentdb.Client
	subs   map[string]*subscriber
	mu     sync.Mutex
	closed bool
	errs   chan error
	wg     sync.WaitGroup
}

type subscriber struct {
	name    string
	opt     kurrentdb.SubscribeToAllOptions
	filter  parking.EnvelopeFilter
	handler parking.EventHandler
	cancel  context.CancelFunc
}

// NewEventBus creates a KurrentDB-backed event bus.
func NewEventBus(db *kurrentdb.Client) parking.EventBus {
	return &eventBus{
		db:   db,
		subs: make(map[string]*subscriber),
		errs: make(chan error, 64),
	}
}

// Subscribe registers a handler with a filter and name. The filter runs
// client-side on decoded envelopes; the options can additionally narrow the
// subscription server-side.
func (b *eventBus) Subscribe(
	ctx context.Context,
	name string,
	filter parking.EnvelopeFilter,
	handler parking.EventHandler,
	opts ...parking.SubscriberOption,
) error {
	if filter == nil || handler == nil {
		return errors.New("filter and handler cannot be nil")
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return errors.New("eventbus is closed")
	}
	if _, exists := b.subs[name]; exists {
		b.mu.Unlock()
		return fmt.Errorf("handler with name %q already registered", name)
	}

	opt := kurrentdb.SubscribeToAllOptions{}
	for _, o := range opts {
		o(&opt)
	}

	workerCtx, cancel := context.WithCancel(context.Background())
	s := &subscriber{
		name:    name,
		opt:     opt,
		filter:  filter,
		handler: handler,
		cancel:  cancel,
	}

	b.subs[name] = s
	b.mu.Unlock()

	// Start worker
	b.wg.Add(1)
	go b.runSubscriber(workerCtx, s)

	// Automatically remove when the caller's ctx finishes
	go func() {
		<-ctx.Done()
		b.removeSubscriber(name)
	}()

	return nil
}

func (b *eventBus) runSubscriber(ctx context.Context, s *subscriber) {
	defer b.wg.Done()

	stream, err := b.db.SubscribeToAll(ctx, s.opt)
	if err != nil {
		b.report(fmt.Errorf("subscriber %q: %w", s.name, err))
		return
	}
	defer stream.Close()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		subscriptionEvent := stream.Recv()

		// Cancelling the worker context drops the subscription server-side;
		// the drop is the loop's exit signal.
		if dropped := subscriptionEvent.SubscriptionDropped; dropped != nil {
			if dropped.Error != nil && ctx.Err() == nil {
				b.report(fmt.Errorf("subscriber %q: dropped: %w", s.name, dropped.Error))
			}
			return
		}

		resolved := subscriptionEvent.EventAppeared
		if resolved == nil || resolved.Event == nil {
			continue
		}
		// System events carry no registered payload.
		if strings.HasPrefix(resolved.Event.EventType, "$") {
			continue
		}

		envelope, err := decodeRecorded(resolved.Event)
		if err != nil {
			b.report(fmt.Errorf("subscriber %q: %w", s.name, err))
			continue
		}

		if !s.filter(envelope) {
			continue
		}

		// The handler sees the envelope positions through the context, and
		// the event it handles becomes the causation of whatever it stores
		// next.
		hctx := parking.WithEnvelope(ctx, envelope)
		hctx = parking.WithCausation(hctx, envelope.EventID.String())

		if err := s.handler.Handle(hctx, envelope.Event); err != nil {
			b.report(fmt.Errorf("handler %q: %w", s.name, err))
		}
	}
}

func (b *eventBus) removeSubscriber(name string) {
	b.mu.Lock()
	s, ok := b.subs[name]
	if !ok {
		b.mu.Unlock()
		return
	}
	delete(b.subs, name)
	b.mu.Unlock()

	s.cancel()
}

func (b *eventBus) report(err error) {
	select {
	case b.errs <- err:
	default:
		// Drop error if channel full
	}
}

func (b *eventBus) Errors() <-chan error {
	return b.errs
}

// Close shuts down the bus and waits for all workers.
func (b *eventBus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true

	for name, s := range b.subs {
		s.cancel()
		delete(b.subs, name)
	}
	b.mu.Unlock()

	// Wait until all workers finish
	b.wg.Wait()

	// Close error channel
	close(b.errs)

	return nil
}

// decodeRecorded revives the domain event through the registry and rebuilds
// the envelope, the same way the KurrentDB event store does on replay.
func decodeRecorded(recorded *kurrentdb.RecordedEvent) (*parking.Envelope, error) {
	ev, err := parking.NewEventByName(recorded.EventType)
	if err != nil {
		return nil, fmt.Errorf("cannot create event %q: %w", recorded.EventType, err)
	}

	if err := json.Unmarshal(recorded.Data, &ev); err != nil {
		return nil, fmt.Errorf("cannot unmarshal event %q: %w", recorded.EventType, err)
	}

	var metadata map[string]any
	if len(recorded.UserMetadata) > 0 {
		if err := json.Unmarshal(recorded.UserMetadata, &metadata); err != nil {
			metadata = make(map[string]any)
		}
	}

	return &parking.Envelope{
		EventID:       recorded.EventID,
		StreamID:      recorded.StreamID,
		Event:         ev,
		Metadata:      metadata,
		Version:       recorded.EventNumber + 1,
		GlobalVersion: recorded.Position.Commit,
		OccurredAt:    recorded.CreatedDate,
	}, nil
}

// WithFromStart replays the whole event log before tailing new appends.
func WithFromStart() parking.SubscriberOption {
	return func(cfg any) {
		opts, ok := cfg.(*kurrentdb.SubscribeToAllOptions)
		if !ok {
			panic(fmt.Sprintf("WithFromStart: expected *SubscribeToAllOptions, got %T", cfg))
		}
		opts.From = kurrentdb.Start{}
	}
}

// WithFilterEvents narrows the subscription server-side to event type
// prefixes.
func WithFilterEvents(prefixes ...string) parking.SubscriberOption {
	return func(cfg any) {
		opts, ok := cfg.(*kurrentdb.SubscribeToAllOptions)
		if !ok {
			panic(fmt.Sprintf("WithFilterEvents: expected *SubscribeToAllOptions, got %T", cfg))
		}
		opts.Filter = &kurrentdb.SubscriptionFilter{
			Type:     kurrentdb.EventFilterType,
			Prefixes: prefixes,
		}
	}
}

// WithFilterStream narrows the subscription server-side to stream ID
// prefixes.
func WithFilterStream(prefixes ...string) parking.SubscriberOption {
	return func(cfg any) {
		opts, ok := cfg.(*kurrentdb.SubscribeToAllOptions)
		if !ok {
			panic(fmt.Sprintf("WithFilterStream: expected *SubscribeToAllOptions, got %T", cfg))
		}
		opts.Filter = &kurrentdb.SubscriptionFilter{
			Type:     kurrentdb.StreamFilterType,
			Prefixes: prefixes,
		}
	}
}
