// Package memory provides an in-process event bus. Subscribers run on their
// own goroutines with buffered queues, so a slow handler never blocks the
// dispatcher.
package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/parkhaus/parking"
)

var _ parking.EventBus = (*EventBus)(nil)

type subscriber struct {
	name      string
	filter    parking.EnvelopeFilter
	handler   parking.EventHandler
	envelopes chan *parking.Envelope
	cancel    context.CancelFunc
}

// EventBus fans envelopes out to named subscribers.
type EventBus struct {
	mu         sync.RWMutex
	subs       map[string]*subscriber
	closed     bool
	errs       chan error
	wg         sync.WaitGroup
	bufferSize int
}

// subscriberConfig holds the per-subscription settings the options mutate.
type subscriberConfig struct {
	BufferSize int
}

// WithBufferSize overrides the bus default queue size for one subscriber.
func WithBufferSize(size int) parking.SubscriberOption {
	return func(cfg any) {
		opts, ok := cfg.(*subscriberConfig)
		if !ok {
			panic(fmt.Sprintf("WithBufferSize: expected *subscriberConfig, got %T", cfg))
		}
		opts.BufferSize = size
	}
}

// NewEventBus constructs a new bus with a given subscriber buffer size.
func NewEventBus(bufferSize int) *EventBus {
	return &EventBus{
		subs:       make(map[string]*subscriber),
		errs:       make(chan error, 64),
		bufferSize: bufferSize,
	}
}

// Subscribe registers a handler with a filter and name.
func (b *EventBus) Subscribe(
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
	defer b.mu.Unlock()

	if b.closed {
		return errors.New("eventbus is closed")
	}

	if _, exists := b.subs[name]; exists {
		return fmt.Errorf("handler with name %q already registered", name)
	}

	cfg := &subscriberConfig{BufferSize: b.bufferSize}
	for _, o := range opts {
		o(cfg)
	}

	workerCtx, cancel := context.WithCancel(context.Background())
	s := &subscriber{
		name:      name,
		filter:    filter,
		handler:   handler,
		envelopes: make(chan *parking.Envelope, cfg.BufferSize),
		cancel:    cancel,
	}

	b.subs[name] = s

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

func (b *EventBus) Errors() <-chan error {
	return b.errs
}

// Close shuts down the bus and waits for all workers.
func (b *EventBus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true

	// Close all subscribers
	for name, s := range b.subs {
		s.cancel()
		close(s.envelopes)
		delete(b.subs, name)
	}
	b.mu.Unlock()

	// Wait until all workers finish
	b.wg.Wait()

	// Close error channel
	close(b.errs)

	return nil
}

// runSubscriber processes envelopes for a single handler.
func (b *EventBus) runSubscriber(ctx context.Context, s *subscriber) {
	defer b.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return

		case env, ok := <-s.envelopes:
			if !ok {
				return
			}

			// The handler sees the envelope positions through the context,
			// and the event it handles becomes the causation of whatever it
			// stores next.
			hctx := parking.WithEnvelope(ctx, env)
			hctx = parking.WithCausation(hctx, env.EventID.String())

			if err := s.handler.Handle(hctx, env.Event); err != nil {
				select {
				case b.errs <- fmt.Errorf("handler %q: %w", s.name, err):
				default:
					// Drop error if channel full
				}
			}
		}
	}
}

func (b *EventBus) removeSubscriber(name string) {
	b.mu.Lock()
	s, ok := b.subs[name]
	if !ok {
		b.mu.Unlock()
		return
	}
	delete(b.subs, name)
	b.mu.Unlock()

	s.cancel()
	close(s.envelopes)
}

// Dispatch sends an envelope to all matching subscribers.
func (b *EventBus) Dispatch(env *parking.Envelope) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}

	for _, s := range b.subs {
		if s.filter(env) {
			select {
			case s.envelopes <- env:
			default:
				// Drop event if subscriber is busy
			}
		}
	}
}
