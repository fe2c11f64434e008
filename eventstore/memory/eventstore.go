// Package memory provides an in-memory EventStore. It is the reference
// implementation of the store contract and the default backend for tests and
// local runs.
package memory

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/parkhaus/parking"
)

// MemoryStore keeps every envelope in process memory, per stream and in one
// global append order. Saves are fanned out on a feed channel so a live
// event bus can be driven straight from the store.
type MemoryStore struct {
	mu     sync.RWMutex
	feed   chan *parking.Envelope
	global []*parking.Envelope
	events map[string][]*parking.Envelope
	closed bool
}

// NewMemoryStore returns an empty store. The buffer sizes the live feed
// channel; when the feed is full new envelopes are dropped from the feed,
// never from storage.
func NewMemoryStore(buffer int) *MemoryStore {
	return &MemoryStore{
		events: make(map[string][]*parking.Envelope),
		global: make([]*parking.Envelope, 0),
		feed:   make(chan *parking.Envelope, buffer),
	}
}

func (m *MemoryStore) Save(ctx context.Context, events []parking.Envelope, revision parking.StreamState) (parking.AppendResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(events) == 0 {
		return parking.AppendResult{Successful: true, NextExpectedVersion: 0}, nil
	}

	streamID := events[0].StreamID
	// Validate all events are for same stream
	for i, env := range events {
		if env.StreamID != streamID {
			return parking.AppendResult{}, fmt.Errorf(
				"save events to stream %q: %w: event %d has different stream ID %q",
				streamID, parking.ErrInvalidEventBatch, i, env.StreamID,
			)
		}
	}

	currentVersion := uint64(len(m.events[streamID]))

	switch rev := revision.(type) {
	case parking.Any:
		// No concurrency check
	case parking.NoStream:
		if currentVersion != 0 {
			err := fmt.Errorf("stream %q: already exists: %w", streamID, parking.ErrStreamExists)
			return parking.AppendResult{Successful: false, StreamID: streamID}, err
		}
	case parking.StreamExists:
		if currentVersion == 0 {
			err := fmt.Errorf("stream %q: should exist: %w", streamID, parking.ErrStreamNotFound)
			return parking.AppendResult{Successful: false, StreamID: streamID}, err
		}
	case parking.Revision:
		if currentVersion != uint64(rev) {
			return parking.AppendResult{StreamID: streamID}, &parking.StreamRevisionConflictError{
				Stream:           streamID,
				ExpectedRevision: rev,
				ActualRevision:   parking.Revision(currentVersion),
			}
		}
	default:
		err := fmt.Errorf("unsupported revision type for stream %q: %w", streamID, parking.ErrInvalidRevision)
		return parking.AppendResult{Successful: false, StreamID: streamID}, err
	}

	// Append copies so later caller-side mutation cannot reach storage.
	for i := range events {
		env := events[i]
		currentVersion++
		env.Version = currentVersion
		env.GlobalVersion = uint64(len(m.global)) + 1

		m.events[streamID] = append(m.events[streamID], &env)
		m.global = append(m.global, &env)

		select {
		case m.feed <- &env:
		default:
			// Feed full; storage still has the envelope.
		}
	}

	return parking.AppendResult{
		Successful:          true,
		StreamID:            streamID,
		NextExpectedVersion: currentVersion,
	}, nil
}

func (m *MemoryStore) LoadStream(ctx context.Context, id string) (*parking.Iterator[*parking.Envelope], error) {
	m.mu.RLock()
	events, exists := m.events[id]
	m.mu.RUnlock()

	if !exists {
		return nil, fmt.Errorf("load stream %q: %w", id, parking.ErrStreamNotFound)
	}

	return sliceIterator(events), nil
}

func (m *MemoryStore) LoadStreamFrom(ctx context.Context, id string, version uint64) (*parking.Iterator[*parking.Envelope], error) {
	m.mu.RLock()
	events, exists := m.events[id]
	m.mu.RUnlock()

	if !exists {
		return nil, fmt.Errorf("load stream %q: %w", id, parking.ErrStreamNotFound)
	}

	if int(version) >= len(events) {
		return nil, fmt.Errorf(
			"load stream %q: requested position %d but stream has %d events: %w",
			id, version, len(events), parking.ErrInvalidRevision,
		)
	}

	return sliceIterator(events[version:]), nil
}

func (m *MemoryStore) LoadFromAll(ctx context.Context, version uint64) (*parking.Iterator[*parking.Envelope], error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	// A position at or past the end means the reader is caught up; it gets an
	// empty iterator, not an error.
	if int(version) >= len(m.global) {
		return sliceIterator(nil), nil
	}

	return sliceIterator(m.global[version:]), nil
}

// Events exposes the live feed of saved envelopes, for pumping into an event
// bus. Envelopes dropped from a full feed are only missing here; they remain
// readable through the Load methods.
func (m *MemoryStore) Events() <-chan *parking.Envelope {
	return m.feed
}

func (m *MemoryStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true
	m.events = make(map[string][]*parking.Envelope)
	m.global = nil
	close(m.feed)
	return nil
}

// sliceIterator yields the given envelopes in order, checking ctx between
// items. The captured slice is append-only, so reading outside the lock is
// safe.
func sliceIterator(events []*parking.Envelope) *parking.Iterator[*parking.Envelope] {
	index := 0
	return parking.NewIteratorFunc(func(ctx context.Context) (*parking.Envelope, error) {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if index >= len(events) {
			return nil, io.EOF
		}
		ev := events[index]
		index++
		return ev, nil
	})
}
