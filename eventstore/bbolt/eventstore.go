// Package bbolt provides an EventStore persisted in a single BoltDB file.
// Streams live in nested buckets keyed by big-endian version, and a second
// bucket keeps every envelope in global append order, so both per-stream
// replay and all-stream catch-up reads are cursor scans.
package bbolt

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/parkhaus/parking"
	"go.etcd.io/bbolt"
)

const (
	streamsBucket = "streams"
	allBucket     = "all"
)

var _ parking.EventStore = (*Store)(nil)

// Store is a BoltDB-backed event store. A revision check and its append
// commit in one write transaction, so the expectation can never race the
// write.
type Store struct {
	db *bbolt.DB

	mu     sync.Mutex
	feed   chan *parking.Envelope
	closed bool
}

// storedEvent is the on-disk record of one envelope. The domain payload is
// kept as raw JSON and revived through the event registry on load.
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

// Open opens (creating if needed) the store file at path.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}

	cleanPath := filepath.Clean(path)
	db, err := bbolt.Open(cleanPath, 0o600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open event store db: %w", err)
	}

	store := &Store{
		db:   db,
		feed: make(chan *parking.Envelope, 100),
	}
	if err := store.ensureBuckets(); err != nil {
		_ = db.Close()
		return nil, err
	}

	return store, nil
}

func (s *Store) ensureBuckets() error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists([]byte(streamsBucket)); err != nil {
			return fmt.Errorf("create streams bucket: %w", err)
		}
		if _, err := tx.CreateBucketIfNotExists([]byte(allBucket)); err != nil {
			return fmt.Errorf("create all bucket: %w", err)
		}
		return nil
	})
}

func (s *Store) Save(ctx context.Context, events []parking.Envelope, revision parking.StreamState) (parking.AppendResult, error) {
	if err := ctx.Err(); err != nil {
		return parking.AppendResult{}, err
	}
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

	var (
		nextVersion uint64
		appended    []*parking.Envelope
	)
	err := s.db.Update(func(tx *bbolt.Tx) error {
		streams := tx.Bucket([]byte(streamsBucket))
		all := tx.Bucket([]byte(allBucket))
		if streams == nil || all == nil {
			return fmt.Errorf("event buckets are missing")
		}

		stream, err := streams.CreateBucketIfNotExists([]byte(streamID))
		if err != nil {
			return fmt.Errorf("create stream bucket %q: %w", streamID, err)
		}

		// The bucket sequence doubles as the stream's version counter;
		// a rolled-back transaction rolls the counter back with it.
		currentVersion := stream.Sequence()

		switch rev := revision.(type) {
		case parking.Any:
			// No concurrency check
		case parking.NoStream:
			if currentVersion != 0 {
				return fmt.Errorf("stream %q: already exists: %w", streamID, parking.ErrStreamExists)
			}
		case parking.StreamExists:
			if currentVersion == 0 {
				return fmt.Errorf("stream %q: should exist: %w", streamID, parking.ErrStreamNotFound)
			}
		case parking.Revision:
			if currentVersion != uint64(rev) {
				return &parking.StreamRevisionConflictError{
					Stream:           streamID,
					ExpectedRevision: rev,
					ActualRevision:   parking.Revision(currentVersion),
				}
			}
		default:
			return fmt.Errorf("unsupported revision type for stream %q: %w", streamID, parking.ErrInvalidRevision)
		}

		for i := range events {
			version, err := stream.NextSequence()
			if err != nil {
				return fmt.Errorf("next stream version for %q: %w", streamID, err)
			}
			global, err := all.NextSequence()
			if err != nil {
				return fmt.Errorf("next global version: %w", err)
			}

			env := events[i]
			env.Version = version
			env.GlobalVersion = global

			payload, err := encodeStoredEvent(&env)
			if err != nil {
				return err
			}

			if err := stream.Put(u64Key(version), payload); err != nil {
				return fmt.Errorf("append to stream %q: %w", streamID, err)
			}
			if err := all.Put(u64Key(global), payload); err != nil {
				return fmt.Errorf("append to global order: %w", err)
			}

			appended = append(appended, &env)
			nextVersion = version
		}
		return nil
	})
	if err != nil {
		return parking.AppendResult{Successful: false, StreamID: streamID}, err
	}

	s.publish(appended)

	return parking.AppendResult{
		Successful:          true,
		StreamID:            streamID,
		NextExpectedVersion: nextVersion,
	}, nil
}

func (s *Store) LoadStream(ctx context.Context, id string) (*parking.Iterator[*parking.Envelope], error) {
	return s.loadStream(ctx, id, 0)
}

func (s *Store) LoadStreamFrom(ctx context.Context, id string, version uint64) (*parking.Iterator[*parking.Envelope], error) {
	return s.loadStream(ctx, id, version)
}

func (s *Store) loadStream(ctx context.Context, id string, from uint64) (*parking.Iterator[*parking.Envelope], error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var envelopes []*parking.Envelope
	err := s.db.View(func(tx *bbolt.Tx) error {
		streams := tx.Bucket([]byte(streamsBucket))
		if streams == nil {
			return fmt.Errorf("event buckets are missing")
		}
		stream := streams.Bucket([]byte(id))
		if stream == nil {
			return fmt.Errorf("load stream %q: %w", id, parking.ErrStreamNotFound)
		}

		if from >= stream.Sequence() {
			return fmt.Errorf(
				"load stream %q: requested position %d but stream has %d events: %w",
				id, from, stream.Sequence(), parking.ErrInvalidRevision,
			)
		}

		// Versions are 1-based keys; position n starts at key n+1.
		c := stream.Cursor()
		for k, v := c.Seek(u64Key(from + 1)); k != nil; k, v = c.Next() {
			env, err := decodeStoredEvent(v)
			if err != nil {
				return err
			}
			envelopes = append(envelopes, env)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return parking.NewSliceIterator(envelopes), nil
}

func (s *Store) LoadFromAll(ctx context.Context, version uint64) (*parking.Iterator[*parking.Envelope], error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var envelopes []*parking.Envelope
	err := s.db.View(func(tx *bbolt.Tx) error {
		all := tx.Bucket([]byte(allBucket))
		if all == nil {
			return fmt.Errorf("event buckets are missing")
		}

		c := all.Cursor()
		for k, v := c.Seek(u64Key(version + 1)); k != nil; k, v = c.Next() {
			env, err := decodeStoredEvent(v)
			if err != nil {
				return err
			}
			envelopes = append(envelopes, env)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return parking.NewSliceIterator(envelopes), nil
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
	return s.db.Close()
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

func u64Key(v uint64) []byte {
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, v)
	return key
}
