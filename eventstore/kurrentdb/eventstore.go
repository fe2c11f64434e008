// Package kurrentdb provides an EventStore backed by a KurrentDB server.
// Stream revisions map onto the server's optimistic concurrency checks, so a
// conflicting append is rejected by the server itself.
package kurrentdb

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"strings"

	"github.com/kurrent-io/KurrentDB-Client-Go/kurrentdb"
	"github.com/parkhaus/parking"
)

type eventstore struct {
	client *kurrentdb.Client
}

// NewEventStore creates a KurrentDB-backed eventstore.
func NewEventStore(db *kurrentdb.Client) parking.EventStore {
	return &eventstore{
		client: db,
	}
}

func (e eventstore) Save(ctx context.Context, events []parking.Envelope, revision parking.StreamState) (parking.AppendResult, error) {
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

	expected, err := toStreamState(streamID, revision)
	if err != nil {
		return parking.AppendResult{}, err
	}

	var kevents = make([]kurrentdb.EventData, len(events))
	for i, ev := range events {
		eventData, err := json.Marshal(ev.Event)
		if err != nil {
			return parking.AppendResult{Successful: false}, fmt.Errorf("marshal event %q: %w", ev.Event.EventType(), err)
		}

		metaData, err := json.Marshal(ev.Metadata)
		if err != nil {
			return parking.AppendResult{Successful: false}, fmt.Errorf("marshal metadata for event %q: %w", ev.Event.EventType(), err)
		}

		kevents[i] = kurrentdb.EventData{
			EventID:     ev.EventID,
			EventType:   ev.Event.EventType(),
			ContentType: kurrentdb.ContentTypeJson,
			Data:        eventData,
			Metadata:    metaData,
		}
	}

	result, err := e.client.AppendToStream(ctx, streamID, kurrentdb.AppendToStreamOptions{
		StreamState: expected,
	}, kevents...)
	if err != nil {
		return parking.AppendResult{Successful: false, StreamID: streamID}, e.saveError(ctx, streamID, revision, err)
	}

	return parking.AppendResult{
		Successful: true,
		StreamID:   streamID,
		// The client reports the revision of the last appended event, which
		// is zero-based; envelope versions are one-based.
		NextExpectedVersion: result.NextExpectedVersion + 1,
	}, nil
}

// toStreamState converts a revision expectation into the client's form.
func toStreamState(streamID string, revision parking.StreamState) (kurrentdb.StreamState, error) {
	switch rev := revision.(type) {
	case parking.Any:
		return kurrentdb.Any{}, nil
	case parking.NoStream:
		return kurrentdb.NoStream{}, nil
	case parking.StreamExists:
		return kurrentdb.StreamExists{}, nil
	case parking.Revision:
		if rev == 0 {
			return kurrentdb.NoStream{}, nil
		}
		return kurrentdb.Revision(uint64(rev) - 1), nil
	default:
		return nil, fmt.Errorf("unsupported revision type for stream %q: %w", streamID, parking.ErrInvalidRevision)
	}
}

// saveError translates a rejected append into the store's error taxonomy.
func (e eventstore) saveError(ctx context.Context, streamID string, revision parking.StreamState, err error) error {
	var kerr *kurrentdb.Error
	if !errors.As(err, &kerr) || !kerr.IsErrorCode(kurrentdb.ErrorCodeWrongExpectedVersion) {
		return parking.WrapEventStoreError(err)
	}

	switch rev := revision.(type) {
	case parking.NoStream:
		return fmt.Errorf("stream %q: already exists: %w", streamID, parking.ErrStreamExists)
	case parking.StreamExists:
		return fmt.Errorf("stream %q: should exist: %w", streamID, parking.ErrStreamNotFound)
	case parking.Revision:
		conflict := &parking.StreamRevisionConflictError{
			Stream:           streamID,
			ExpectedRevision: rev,
		}
		if actual, ok := e.currentRevision(ctx, streamID); ok {
			conflict.ActualRevision = actual
		}
		return conflict
	default:
		return parking.WrapEventStoreError(err)
	}
}

// currentRevision reads the last event of a stream to report what a
// conflicting writer left behind. Best effort; ok is false when unknown.
func (e eventstore) currentRevision(ctx context.Context, id string) (parking.Revision, bool) {
	streamer, err := e.client.ReadStream(ctx, id, kurrentdb.ReadStreamOptions{
		Direction: kurrentdb.Backwards,
		From:      kurrentdb.End{},
	}, 1)
	if err != nil {
		return 0, false
	}
	defer streamer.Close()

	resolved, err := streamer.Recv()
	if err != nil || resolved.Event == nil {
		return 0, false
	}
	return parking.Revision(resolved.Event.EventNumber + 1), true
}

func (e eventstore) LoadStream(ctx context.Context, id string) (*parking.Iterator[*parking.Envelope], error) {
	return e.readStream(ctx, id, 0)
}

func (e eventstore) LoadStreamFrom(ctx context.Context, id string, version uint64) (*parking.Iterator[*parking.Envelope], error) {
	return e.readStream(ctx, id, version)
}

func (e eventstore) readStream(ctx context.Context, id string, version uint64) (*parking.Iterator[*parking.Envelope], error) {
	streamer, err := e.client.ReadStream(ctx, id, kurrentdb.ReadStreamOptions{
		Direction:      kurrentdb.Forwards,
		From:           kurrentdb.StreamRevision{Value: version},
		ResolveLinkTos: true,
	}, math.MaxUint64)
	if err != nil {
		return nil, parking.WrapEventStoreError(err)
	}

	return iterate(streamer), nil
}

func (e eventstore) LoadFromAll(ctx context.Context, version uint64) (*parking.Iterator[*parking.Envelope], error) {
	streamer, err := e.client.ReadAll(ctx, kurrentdb.ReadAllOptions{
		Direction: kurrentdb.Forwards,
		From: kurrentdb.Position{
			Commit:  version,
			Prepare: version,
		},
		ResolveLinkTos: true,
	}, math.MaxUint64)
	if err != nil {
		return nil, parking.WrapEventStoreError(err)
	}

	return iterate(streamer), nil
}

func (e eventstore) Close() error {
	return e.client.Close()
}

// iterate drains a server read into envelopes, skipping system events.
func iterate(streamer *kurrentdb.ReadStream) *parking.Iterator[*parking.Envelope] {
	return parking.NewIteratorFunc(func(ctx context.Context) (*parking.Envelope, error) {
		for {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			default:
			}

			resolved, err := streamer.Recv()
			if err != nil {
				if errors.Is(err, io.EOF) {
					streamer.Close()
					return nil, io.EOF
				}
				var kerr *kurrentdb.Error
				if errors.As(err, &kerr) && kerr.IsErrorCode(kurrentdb.ErrorCodeResourceNotFound) {
					return nil, fmt.Errorf("%w: %v", parking.ErrStreamNotFound, err)
				}
				return nil, parking.WrapEventStoreError(err)
			}

			// System events carry no registered payload.
			if resolved.Event == nil || strings.HasPrefix(resolved.Event.EventType, "$") {
				continue
			}

			return decodeRecorded(resolved.Event)
		}
	})
}

// decodeRecorded revives the domain event through the registry and rebuilds
// the envelope. The version is the one-based stream position; the global
// version is the server's commit position, which LoadFromAll accepts back as
// a resume point.
func decodeRecorded(recorded *kurrentdb.RecordedEvent) (*parking.Envelope, error) {
	ev, err := parking.NewEventByName(recorded.EventType)
	if err != nil {
		return nil, parking.WrapEventStoreError(fmt.Errorf("cannot create event %q: %w", recorded.EventType, err))
	}

	if err := json.Unmarshal(recorded.Data, &ev); err != nil {
		return nil, parking.WrapEventStoreError(fmt.Errorf("cannot unmarshal event %q: %w", recorded.EventType, err))
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
