// Package file provides an event bus backed by a spool directory. Dispatch
// writes each matching envelope into a per-subscriber directory; a watcher
// goroutine per subscriber handles the files and deletes them on success.
// Delivery is at-least-once: a crash between handling and deletion replays
// the event on restart.
package file

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/google/uuid"
	"github.com/parkhaus/parking"
)

var _ parking.EventBus = (*EventBus)(nil)

type subscriber struct {
	name    string
	filter  parking.EnvelopeFilter
	handler parking.EventHandler
	cancel  context.CancelFunc
}

// EventBus fans envelopes out to named subscribers through spool files.
type EventBus struct {
	mu     sync.RWMutex
	subs   map[string]*subscriber
	root   string
	closed bool
	errs   chan error
	wg     sync.WaitGroup
}

// subscriberConfig holds the per-subscription settings the options mutate.
type subscriberConfig struct {
	ResyncInterval time.Duration
}

// WithResyncInterval overrides how often a subscriber re-scans its spool
// directory. The scan picks up files whose handler failed earlier and any
// writes the watcher missed.
func WithResyncInterval(interval time.Duration) parking.SubscriberOption {
	return func(cfg any) {
		opts, ok := cfg.(*subscriberConfig)
		if !ok {
			panic(fmt.Sprintf("WithResyncInterval: expected *subscriberConfig, got %T", cfg))
		}
		opts.ResyncInterval = interval
	}
}

// NewEventBus constructs the bus spooling under the root directory.
func NewEventBus(root string) (*EventBus, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create spool directory: %w", err)
	}

	return &EventBus{
		root: root,
		subs: make(map[string]*subscriber),
		errs: make(chan error, 64),
	}, nil
}

// Subscribe registers a handler with a filter and name. The subscriber's
// spool directory is replayed first, so events spooled before a restart are
// not lost.
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

	cfg := &subscriberConfig{ResyncInterval: 30 * time.Second}
	for _, o := range opts {
		o(cfg)
	}

	subDir := filepath.Join(b.root, name)
	if err := os.MkdirAll(subDir, 0o755); err != nil {
		return fmt.Errorf("create subscriber directory %q: %w", name, err)
	}

	workerCtx, cancel := context.WithCancel(context.Background())
	s := &subscriber{
		name:    name,
		filter:  filter,
		handler: handler,
		cancel:  cancel,
	}

	b.subs[name] = s

	// Start worker
	b.wg.Add(1)
	go b.runSubscriber(workerCtx, s, subDir, cfg.ResyncInterval)

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

// Dispatch spools an envelope into every matching subscriber directory.
func (b *EventBus) Dispatch(env *parking.Envelope) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}

	data, err := encodeSpooledEvent(env)
	if err != nil {
		b.report(err)
		return
	}

	for name, s := range b.subs {
		if !s.filter(env) {
			continue
		}

		// Time-ordered names keep the directory scan in dispatch order;
		// the event ID keeps same-nanosecond dispatches from colliding.
		dir := filepath.Join(b.root, name)
		filename := fmt.Sprintf("%020d-%s.json", time.Now().UnixNano(), env.EventID)
		path := filepath.Join(dir, filename)

		// Write then rename, so the watcher never sees a partial file.
		tmp := path + ".tmp"
		if err := os.WriteFile(tmp, data, 0o644); err != nil {
			b.report(fmt.Errorf("spool event for %q: %w", name, err))
			continue
		}
		if err := os.Rename(tmp, path); err != nil {
			b.report(fmt.Errorf("spool event for %q: %w", name, err))
		}
	}
}

// runSubscriber replays the spool directory and then watches it for new
// files. A periodic resync re-scans the directory to retry failed handlers.
func (b *EventBus) runSubscriber(ctx context.Context, s *subscriber, dir string, resync time.Duration) {
	defer b.wg.Done()

	processDir := func() {
		entries, err := os.ReadDir(dir)
		if err != nil {
			b.report(fmt.Errorf("subscriber %q: read spool: %w", s.name, err))
			return
		}
		for _, e := range entries {
			if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
				continue
			}
			b.processFile(ctx, s, filepath.Join(dir, e.Name()))
		}
	}
	processDir()

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		b.report(fmt.Errorf("subscriber %q: start watcher: %w", s.name, err))
		return
	}
	defer watcher.Close()

	if err := watcher.Add(dir); err != nil {
		b.report(fmt.Errorf("subscriber %q: watch spool: %w", s.name, err))
		return
	}

	ticker := time.NewTicker(resync)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case ev := <-watcher.Events:
			if ev.Op&(fsnotify.Create|fsnotify.Rename|fsnotify.Write) != 0 {
				if !strings.HasSuffix(ev.Name, ".json") {
					continue
				}
				b.processFile(ctx, s, ev.Name)
			}

		case err := <-watcher.Errors:
			b.report(fmt.Errorf("subscriber %q: watcher: %w", s.name, err))

		case <-ticker.C:
			processDir()
		}
	}
}

// processFile handles a single spooled event and deletes the file on
// success. A handler error leaves the file for the next resync; a file that
// cannot be decoded is set aside so it is not retried forever.
func (b *EventBus) processFile(ctx context.Context, s *subscriber, path string) {
	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			b.report(fmt.Errorf("subscriber %q: read spooled event: %w", s.name, err))
		}
		return
	}

	env, err := decodeSpooledEvent(data)
	if err != nil {
		b.report(fmt.Errorf("subscriber %q: %w", s.name, err))
		_ = os.Rename(path, path+".failed")
		return
	}

	// The handler sees the envelope positions through the context, and the
	// event it handles becomes the causation of whatever it stores next.
	hctx := parking.WithEnvelope(ctx, env)
	hctx = parking.WithCausation(hctx, env.EventID.String())

	if err := s.handler.Handle(hctx, env.Event); err != nil {
		b.report(fmt.Errorf("handler %q: %w", s.name, err))
		return
	}

	_ = os.Remove(path)
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
}

func (b *EventBus) report(err error) {
	select {
	case b.errs <- err:
	default:
		// Drop error if channel full
	}
}

// spooledEvent is the on-disk record of one envelope. The domain payload is
// kept as raw JSON and revived through the event registry on read.
type spooledEvent struct {
	EventID       uuid.UUID       `json:"event_id"`
	StreamID      string          `json:"stream_id"`
	Metadata      map[string]any  `json:"metadata"`
	EventType     string          `json:"event_type"`
	Data          json.RawMessage `json:"data"`
	Version       uint64          `json:"version"`
	GlobalVersion uint64          `json:"global_version"`
	OccurredAt    time.Time       `json:"occurred_at"`
}

func encodeSpooledEvent(env *parking.Envelope) ([]byte, error) {
	eventData, err := json.Marshal(env.Event)
	if err != nil {
		return nil, fmt.Errorf("marshal event %q: %w", env.Event.EventType(), err)
	}

	payload, err := json.Marshal(spooledEvent{
		EventID:       env.EventID,
		StreamID:      env.StreamID,
		Metadata:      env.Metadata,
		EventType:     env.Event.EventType(),
		Data:          eventData,
		Version:       env.Version,
		GlobalVersion: env.GlobalVersion,
		OccurredAt:    env.OccurredAt,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal spooled event: %w", err)
	}
	return payload, nil
}

func decodeSpooledEvent(payload []byte) (*parking.Envelope, error) {
	var spooled spooledEvent
	if err := json.Unmarshal(payload, &spooled); err != nil {
		return nil, fmt.Errorf("unmarshal spooled event: %w", err)
	}

	ev, err := parking.NewEventByName(spooled.EventType)
	if err != nil {
		return nil, fmt.Errorf("cannot create event %q: %w", spooled.EventType, err)
	}
	if err := json.Unmarshal(spooled.Data, &ev); err != nil {
		return nil, fmt.Errorf("cannot unmarshal event %q: %w", spooled.EventType, err)
	}

	return &parking.Envelope{
		EventID:       spooled.EventID,
		StreamID:      spooled.StreamID,
		Event:         ev,
		Metadata:      spooled.Metadata,
		Version:       spooled.Version,
		GlobalVersion: spooled.GlobalVersion,
		OccurredAt:    spooled.OccurredAt,
	}, nil
}
