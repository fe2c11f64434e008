// Package redis provides an EventStore backed by Redis lists. Each stream is
// one list of JSON records, a second list keeps the global append order, and
// a Lua script makes the optimistic concurrency check and the append a single
// atomic step.
package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/parkhaus/parking"
	"github.com/redis/go-redis/v9"
)

const (
	connectTimeout = 5 * time.Second

	// saveAttempts bounds the optimistic append loop. Each retry re-reads
	// both list lengths and re-validates the revision, so exact revision
	// expectations fail fast with a conflict instead of spinning here.
	saveAttempts = 8

	defaultPrefix = "parking"
)

var _ parking.EventStore = (*Store)(nil)

// Config carries the Redis connection settings.
type Config struct {
	Addr     string
	Password string
	DB       int

	// Prefix namespaces every key this store touches.
	Prefix string
}

// Store is a Redis-backed event store.
type Store struct {
	client       *redis.Client
	prefix       string
	appendEvents *redis.Script

	mu     sync.Mutex
	feed   chan *parking.Envelope
	closed bool
}

// storedEvent is the list entry for one envelope. The domain payload is kept
// as raw JSON and revived through the event registry on load.
type storedEvent struct {
	EventID       uuid.UUID       `json:"event_id"`
	StreamID      string          `json:"stream_id"`
	Metadata      map[string]any  `json:"metadata"`
	EventType     string          `json:"event_type"`
	Data          json.RawMessage `json:"data"`
	Version       uint64          `json:"version"`
	GlobalVersion uint64          `json:"global_version"`
	OccurredAt    time.Time       `json:"occurred_at"`
}

// NewStore connects to Redis and verifies the connection with a ping.
func NewStore(ctx context.Context, cfg Config) (*Store, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()

	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis at %q: %w", cfg.Addr, err)
	}

	prefix := cfg.Prefix
	if prefix == "" {
		prefix = defaultPrefix
	}

	return &Store{
		client:       client,
		prefix:       prefix,
		appendEvents: redis.NewScript(luaAppendEvents),
		feed:         make(chan *parking.Envelope, 100),
	}, nil
}

func (s *Store) streamKey(id string) string {
	return fmt.Sprintf("%s:stream:%s", s.prefix, id)
}

func (s *Store) allKey() string {
	return s.prefix + ":all"
}

func (s *Store) Save(ctx context.Context, events []parking.Envelope, revision parking.StreamState) (parking.AppendResult, error) {
	if len(events) == 0 {
		return parking.AppendResult{Successful: true}, nil
	}

	streamID := events[0].StreamID
	for i, env := range events {
		if env.StreamID != streamID {
			return parking.AppendResult{}, fmt.Errorf(
				"save events to stream %q: %w: event %d has different stream ID %q",
				streamID, parking.ErrInvalidEventBatch, i, env.StreamID,
			)
		}
	}

	streamKey := s.streamKey(streamID)
	allKey := s.allKey()

	for attempt := 0; attempt < saveAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return parking.AppendResult{}, err
		}

		pipe := s.client.Pipeline()
		streamLenCmd := pipe.LLen(ctx, streamKey)
		globalLenCmd := pipe.LLen(ctx, allKey)
		if _, err := pipe.Exec(ctx); err != nil {
			return parking.AppendResult{}, parking.WrapEventStoreError(err)
		}
		streamLen := streamLenCmd.Val()
		globalLen := globalLenCmd.Val()

		switch rev := revision.(type) {
		case parking.Any:
			// No concurrency check
		case parking.NoStream:
			if streamLen != 0 {
				return parking.AppendResult{StreamID: streamID}, fmt.Errorf("stream %q: already exists: %w", streamID, parking.ErrStreamExists)
			}
		case parking.StreamExists:
			if streamLen == 0 {
				return parking.AppendResult{StreamID: streamID}, fmt.Errorf("stream %q: should exist: %w", streamID, parking.ErrStreamNotFound)
			}
		case parking.Revision:
			if streamLen != int64(rev) {
				return parking.AppendResult{StreamID: streamID}, &parking.StreamRevisionConflictError{
					Stream:           streamID,
					ExpectedRevision: rev,
					ActualRevision:   parking.Revision(streamLen),
				}
			}
		default:
			return parking.AppendResult{}, fmt.Errorf("unsupported revision type for stream %q: %w", streamID, parking.ErrInvalidRevision)
		}

		stamped := make([]*parking.Envelope, 0, len(events))
		args := make([]any, 0, len(events)+2)
		args = append(args, streamLen, globalLen)
		for i := range events {
			env := events[i]
			env.Version = uint64(streamLen) + uint64(i) + 1
			env.GlobalVersion = uint64(globalLen) + uint64(i) + 1

			payload, err := encodeStoredEvent(&env)
			if err != nil {
				return parking.AppendResult{}, err
			}
			args = append(args, string(payload))
			stamped = append(stamped, &env)
		}

		result, err := s.appendEvents.Run(ctx, s.client, []string{streamKey, allKey}, args...).Result()
		if err != nil {
			return parking.AppendResult{}, parking.WrapEventStoreError(fmt.Errorf("append to stream %q: %w", streamID, err))
		}

		res, ok := result.([]any)
		if !ok || len(res) < 3 {
			return parking.AppendResult{}, parking.WrapEventStoreError(fmt.Errorf("append to stream %q: unexpected script result %v", streamID, result))
		}

		if res[0].(int64) == 1 {
			s.publish(stamped)
			return parking.AppendResult{
				Successful:          true,
				StreamID:            streamID,
				NextExpectedVersion: stamped[len(stamped)-1].Version,
			}, nil
		}

		// Either list moved under us; re-read and re-validate.
	}

	return parking.AppendResult{StreamID: streamID}, parking.WrapEventStoreError(
		fmt.Errorf("append to stream %q: contended after %d attempts", streamID, saveAttempts),
	)
}

func (s *Store) LoadStream(ctx context.Context, id string) (*parking.Iterator[*parking.Envelope], error) {
	entries, err := s.client.LRange(ctx, s.streamKey(id), 0, -1).Result()
	if err != nil {
		return nil, parking.WrapEventStoreError(err)
	}
	if len(entries) == 0 {
		return nil, fmt.Errorf("load stream %q: %w", id, parking.ErrStreamNotFound)
	}
	return decodeEntries(entries)
}

func (s *Store) LoadStreamFrom(ctx context.Context, id string, version uint64) (*parking.Iterator[*parking.Envelope], error) {
	streamKey := s.streamKey(id)

	length, err := s.client.LLen(ctx, streamKey).Result()
	if err != nil {
		return nil, parking.WrapEventStoreError(err)
	}
	if length == 0 {
		return nil, fmt.Errorf("load stream %q: %w", id, parking.ErrStreamNotFound)
	}
	if int64(version) >= length {
		return nil, fmt.Errorf(
			"load stream %q: requested position %d but stream has %d events: %w",
			id, version, length, parking.ErrInvalidRevision,
		)
	}

	entries, err := s.client.LRange(ctx, streamKey, int64(version), -1).Result()
	if err != nil {
		return nil, parking.WrapEventStoreError(err)
	}
	return decodeEntries(entries)
}

func (s *Store) LoadFromAll(ctx context.Context, version uint64) (*parking.Iterator[*parking.Envelope], error) {
	entries, err := s.client.LRange(ctx, s.allKey(), int64(version), -1).Result()
	if err != nil {
		return nil, parking.WrapEventStoreError(err)
	}
	return decodeEntries(entries)
}

func (s *Store) publish(appended []*parking.Envelope) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	for _, env := range appended {
		select {
		case s.feed <- env:
		default:
			// Feed full; storage still has the envelope.
		}
	}
}

// Events exposes the live feed of saved envelopes, for pumping into an event
// bus.
func (s *Store) Events() <-chan *parking.Envelope {
	return s.feed
}

func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	close(s.feed)
	return s.client.Close()
}

func encodeStoredEvent(env *parking.Envelope) ([]byte, error) {
	eventData, err := json.Marshal(env.Event)
	if err != nil {
		return nil, fmt.Errorf("marshal event %q: %w", env.Event.EventType(), err)
	}

	payload, err := json.Marshal(storedEvent{
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
		return nil, fmt.Errorf("marshal stored event: %w", err)
	}
	return payload, nil
}

func decodeEntries(entries []string) (*parking.Iterator[*parking.Envelope], error) {
	envelopes := make([]*parking.Envelope, 0, len(entries))
	for _, entry := range entries {
		env, err := decodeStoredEvent([]byte(entry))
		if err != nil {
			return nil, err
		}
		envelopes = append(envelopes, env)
	}
	return parking.NewSliceIterator(envelopes), nil
}

func decodeStoredEvent(payload []byte) (*parking.Envelope, error) {
	var stored storedEvent
	if err := json.Unmarshal(payload, &stored); err != nil {
		return nil, parking.WrapEventStoreError(fmt.Errorf("unmarshal stored event: %w", err))
	}

	ev, err := parking.NewEventByName(stored.EventType)
	if err != nil {
		return nil, parking.WrapEventStoreError(fmt.Errorf("cannot create event %q: %w", stored.EventType, err))
	}
	if err := json.Unmarshal(stored.Data, &ev); err != nil {
		return nil, parking.WrapEventStoreError(fmt.Errorf("cannot unmarshal event %q: %w", stored.EventType, err))
	}

	return &parking.Envelope{
		EventID:       stored.EventID,
		StreamID:      stored.StreamID,
		Event:         ev,
		Metadata:      stored.Metadata,
		Version:       stored.Version,
		GlobalVersion: stored.GlobalVersion,
		OccurredAt:    stored.OccurredAt,
	}, nil
}
