package parking

import (
	"context"
)

// EventStore is the contract for an append-only store of parking session
// events. A store keeps the envelopes of each stream in order and can replay
// them for state reconstruction.
//
// Implementations must guarantee:
//   - Events within a stream are stored and yielded oldest to newest.
//   - The StreamState expectation passed to Save is checked atomically with
//     the append.
//   - Iterators returned by the Load methods are deterministic and yield each
//     stored envelope exactly once.
type EventStore interface {
	// Save appends the given envelopes to the stream they name. All envelopes
	// in one call must share a StreamID.
	//
	// The revision argument expresses the writer's expectation:
	//   - Any: append unconditionally.
	//   - NoStream: fail with ErrStreamExists if the stream has events.
	//   - StreamExists: fail with ErrStreamNotFound if it has none.
	//   - Revision(n): fail with *StreamRevisionConflictError unless the
	//     stream holds exactly n events.
	Save(ctx context.Context, events []Envelope, revision StreamState) (AppendResult, error)

	// LoadStream returns an iterator over the full history of one stream,
	// oldest first. A missing stream yields ErrStreamNotFound.
	LoadStream(ctx context.Context, id string) (*Iterator[*Envelope], error)

	// LoadStreamFrom returns an iterator over one stream starting at the
	// zero-based position version. Loading past the end of the stream yields
	// ErrInvalidRevision.
	LoadStreamFrom(ctx context.Context, id string, version uint64) (*Iterator[*Envelope], error)

	// LoadFromAll returns an iterator over events of every stream starting at
	// the zero-based global position version, in the store's global order.
	LoadFromAll(ctx context.Context, version uint64) (*Iterator[*Envelope], error)

	// Close releases backend resources. Implementations should make Close
	// idempotent.
	Close() error
}

// AppendResult describes the outcome of an append.
type AppendResult struct {
	Successful          bool
	StreamID            string
	NextExpectedVersion uint64
}
