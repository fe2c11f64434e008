// Package disk provides an EventStore that keeps one JSON file per event.
// Each stream is a directory of version-numbered files, and an all/ directory
// of symlinks preserves global append order across streams.
package disk

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/parkhaus/parking"
)

const allDir = "all"

var _ parking.EventStore = (*Store)(nil)

// Store is a directory-backed event store. A single mutex serializes appends,
// so a revision check can never race a concurrent write. Appends are
// file-per-event and not atomic across a batch.
type Store struct {
	baseDir string

	mu        sync.Mutex
	feed      chan *parking.Envelope
	globalSeq uint64
	closed    bool
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

// Open opens (creating if needed) the store rooted at dir. The global
// sequence resumes from whatever the all/ directory already holds.
func Open(dir string) (*Store, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, fmt.Errorf("storage directory is required")
	}

	if err := os.MkdirAll(filepath.Join(dir, allDir), 0o755); err != nil {
		return nil, fmt.Errorf("create store directory: %w", err)
	}

	entries, err := os.ReadDir(filepath.Join(dir, allDir))
	if err != nil {
		return nil, fmt.Errorf("read store directory: %w", err)
	}

	return &Store{
		baseDir:   dir,
		feed:      make(chan *parking.Envelope, 100),
		globalSeq: lastSequence(entries),
	}, nil
}

// lastSequence finds the highest sequence number among entries. Names follow
// "%010d-<kind>.json", so the last sorted entry carries the maximum.
func lastSequence(entries []os.DirEntry) uint64 {
	for i := len(entries) - 1; i >= 0; i-- {
		if seq, ok := sequenceOf(entries[i].Name()); ok {
			return seq
		}
	}
	return 0
}

// sequenceOf parses the leading zero-padded number of an event file name.
func sequenceOf(name string) (uint64, bool) {
	numPart, rest, found := strings.Cut(name, "-")
	if !found || !strings.HasSuffix(rest, ".json") {
		return 0, false
	}
	seq, err := strconv.ParseUint(numPart, 10, 64)
	if err != nil {
		return 0, false
	}
	return seq, true
}

func (s *Store) streamDir(id string) string {
	return filepath.Join(s.baseDir, id)
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

	s.mu.Lock()
	defer s.mu.Unlock()

	sdir := s.streamDir(streamID)
	if err := os.MkdirAll(sdir, 0o755); err != nil {
		return parking.AppendResult{Successful: false, StreamID: streamID}, fmt.Errorf("create stream directory %q: %w", streamID, err)
	}

	streamEntries, err := os.ReadDir(sdir)
	if err != nil {
		return parking.AppendResult{Successful: false, StreamID: streamID}, fmt.Errorf("read stream %q: %w", streamID, err)
	}
	currentVersion := lastSequence(streamEntries)

	switch rev := revision.(type) {
	case parking.Any:
		// No concurrency check
	case parking.NoStream:
		if currentVersion != 0 {
			return parking.AppendResult{Successful: false, StreamID: streamID},
				fmt.Errorf("stream %q: already exists: %w", streamID, parking.ErrStreamExists)
		}
	case parking.StreamExists:
		if currentVersion == 0 {
			return parking.AppendResult{Successful: false, StreamID: streamID},
				fmt.Errorf("stream %q: should exist: %w", streamID, parking.ErrStreamNotFound)
		}
	case parking.Revision:
		if currentVersion != uint64(rev) {
			return parking.AppendResult{Successful: false, StreamID: streamID},
				&parking.StreamRevisionConflictError{
					Stream:           streamID,
					ExpectedRevision: rev,
					ActualRevision:   parking.Revision(currentVersion),
				}
		}
	default:
		return parking.AppendResult{Successful: false, StreamID: streamID},
			fmt.Errorf("unsupported revision type for stream %q: %w", streamID, parking.ErrInvalidRevision)
	}

	var (
		nextVersion = currentVersion
		appended    []*parking.Envelope
	)
	for i := range events {
		nextVersion++
		s.globalSeq++

		env := events[i]
		env.Version = nextVersion
		env.GlobalVersion = s.globalSeq

		payload, err := encodeStoredEvent(&env)
		if err != nil {
			return parking.AppendResult{Successful: false, StreamID: streamID}, err
		}

		path := filepath.Join(sdir, eventFileName(env.Version, env.Event.EventType()))
		if err := os.WriteFile(path, payload, 0o644); err != nil {
			return parking.AppendResult{Successful: false, StreamID: streamID},
				fmt.Errorf("append to stream %q: %w", streamID, err)
		}

		// The all/ entry links back to the stream file, so the global order
		// costs no extra copy of the payload.
		link := filepath.Join(s.baseDir, allDir, eventFileName(env.GlobalVersion, env.Event.EventType()))
		rel, err := filepath.Rel(filepath.Join(s.baseDir, allDir), path)
		if err != nil {
			return parking.AppendResult{Successful: false, StreamID: streamID},
				fmt.Errorf("relative path for global order: %w", err)
		}
		if err := os.Symlink(rel, link); err != nil {
			return parking.AppendResult{Successful: false, StreamID: streamID},
				fmt.Errorf("append to global order: %w", err)
		}

		appended = append(appended, &env)
	}

	s.publish(appended)

	return parking.AppendResult{
		Successful:          true,
		StreamID:            streamID,
		NextExpectedVersion: nextVersion,
	}, nil
}

func eventFileName(seq uint64, kind string) string {
	return fmt.Sprintf("%010d-%s.json", seq, kind)
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

	dir := s.streamDir(id)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("load stream %q: %w", id, parking.ErrStreamNotFound)
		}
		return nil, fmt.Errorf("read stream %q: %w", id, err)
	}

	// A failed first append can leave the directory behind with no events;
	// that still reads as a missing stream.
	currentVersion := lastSequence(entries)
	if currentVersion == 0 {
		return nil, fmt.Errorf("load stream %q: %w", id, parking.ErrStreamNotFound)
	}
	if from >= currentVersion {
		return nil, fmt.Errorf(
			"load stream %q: requested position %d but stream has %d events: %w",
			id, from, currentVersion, parking.ErrInvalidRevision,
		)
	}

	return dirIterator(dir, entries, from), nil
}

func (s *Store) LoadFromAll(ctx context.Context, version uint64) (*parking.Iterator[*parking.Envelope], error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	dir := filepath.Join(s.baseDir, allDir)
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read global order: %w", err)
	}

	return dirIterator(dir, entries, version), nil
}

// dirIterator yields the envelopes of dir lazily, oldest first, skipping the
// first `from` sequence numbers. ReadDir returns names sorted, and the
// zero-padded file names sort in append order.
func dirIterator(dir string, entries []os.DirEntry, from uint64) *parking.Iterator[*parking.Envelope] {
	idx := 0
	return parking.NewIteratorFunc(func(ctx context.Context) (*parking.Envelope, error) {
		for idx < len(entries) {
			if err := ctx.Err(); err != nil {
				return nil, err
			}

			entry := entries[idx]
			idx++
			if entry.IsDir() {
				continue
			}
			seq, ok := sequenceOf(entry.Name())
			if !ok || seq <= from {
				continue
			}

			data, err := os.ReadFile(filepath.Join(dir, entry.Name()))
			if err != nil {
				return nil, parking.WrapEventStoreError(fmt.Errorf("read event file %q: %w", entry.Name(), err))
			}
			return decodeStoredEvent(data)
		}
		return nil, io.EOF
	})
}

func (s *Store) publish(appended []*parking.Envelope) {
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
	return nil
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
