package fixtures

import (
	"context"
	"sort"
	"sync"

	"github.com/parkhaus/parking"
)

var _ parking.EventStore = (*StoreSpy)(nil)

// StoreSpy is a configurable EventStore double. It tracks calls, serves
// pre-populated streams with the same error contract as the real stores, and
// allows injecting custom behavior or failures per operation.
type StoreSpy struct {
	mu sync.Mutex

	// Function overrides for custom behavior
	LoadStreamFn     func(ctx context.Context, id string) (*parking.Iterator[*parking.Envelope], error)
	LoadStreamFromFn func(ctx context.Context, id string, version uint64) (*parking.Iterator[*parking.Envelope], error)
	LoadFromAllFn    func(ctx context.Context, version uint64) (*parking.Iterator[*parking.Envelope], error)
	SaveFn           func(ctx context.Context, events []parking.Envelope, revision parking.StreamState) (parking.AppendResult, error)
	CloseFn          func() error

	// Call tracking
	LoadStreamCalls     int
	LoadStreamFromCalls int
	LoadFromAllCalls    int
	SaveCalls           int
	CloseCalls          int

	// Captured arguments from the last call
	LastSaveEvents   []parking.Envelope
	LastSaveRevision parking.StreamState
	LastLoadStreamID string

	// Pre-configured data, streamID to envelopes
	events map[string][]*parking.Envelope

	// Error injection
	loadErr error
	saveErr error
}

// NewStoreSpy creates a new StoreSpy with default behavior.
func NewStoreSpy() *StoreSpy {
	return &StoreSpy{
		events: make(map[string][]*parking.Envelope),
	}
}

// WithEvents pre-populates the store with envelopes for a stream.
func (s *StoreSpy) WithEvents(streamID string, events ...*parking.Envelope) *StoreSpy {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events[streamID] = events
	return s
}

// WithEventsFromSlice pre-populates a stream by wrapping events in envelopes
// with sequential versions.
func (s *StoreSpy) WithEventsFromSlice(streamID string, events ...parking.Event) *StoreSpy {
	envelopes := EnvelopesFromEvents(events...)
	for _, env := range envelopes {
		env.StreamID = streamID
	}
	return s.WithEvents(streamID, envelopes...)
}

// FailOnLoad configures the store to return an error on load operations.
func (s *StoreSpy) FailOnLoad(err error) *StoreSpy {
	s.loadErr = err
	return s
}

// FailOnSave configures the store to return an error on save operations.
func (s *StoreSpy) FailOnSave(err error) *StoreSpy {
	s.saveErr = err
	return s
}

// LoadStream implements EventStore.LoadStream.
func (s *StoreSpy) LoadStream(ctx context.Context, id string) (*parking.Iterator[*parking.Envelope], error) {
	s.mu.Lock()
	s.LoadStreamCalls++
	s.LastLoadStreamID = id
	s.mu.Unlock()

	if s.LoadStreamFn != nil {
		return s.LoadStreamFn(ctx, id)
	}

	if s.loadErr != nil {
		return nil, s.loadErr
	}

	s.mu.Lock()
	events := s.events[id]
	s.mu.Unlock()

	if len(events) == 0 {
		return nil, parking.ErrStreamNotFound
	}

	return parking.NewSliceIterator(events), nil
}

// LoadStreamFrom implements EventStore.LoadStreamFrom. A missing stream
// reports ErrStreamNotFound like the real stores; a position at or past the
// end yields an empty replay rather than ErrInvalidRevision, so an injected
// conflict can drive a retry loop through repeated reloads.
func (s *StoreSpy) LoadStreamFrom(ctx context.Context, id string, version uint64) (*parking.Iterator[*parking.Envelope], error) {
	s.mu.Lock()
	s.LoadStreamFromCalls++
	s.LastLoadStreamID = id
	s.mu.Unlock()

	if s.LoadStreamFromFn != nil {
		return s.LoadStreamFromFn(ctx, id, version)
	}

	if s.loadErr != nil {
		return nil, s.loadErr
	}

	s.mu.Lock()
	events := s.events[id]
	s.mu.Unlock()

	if len(events) == 0 {
		return nil, parking.ErrStreamNotFound
	}

	var filtered []*parking.Envelope
	for _, e := range events {
		if e.Version > version {
			filtered = append(filtered, e)
		}
	}

	return parking.NewSliceIterator(filtered), nil
}

// LoadFromAll implements EventStore.LoadFromAll. Envelopes of every stream
// are yielded in global-version order, skipping those at or below version.
func (s *StoreSpy) LoadFromAll(ctx context.Context, version uint64) (*parking.Iterator[*parking.Envelope], error) {
	s.mu.Lock()
	s.LoadFromAllCalls++
	s.mu.Unlock()

	if s.LoadFromAllFn != nil {
		return s.LoadFromAllFn(ctx, version)
	}

	if s.loadErr != nil {
		return nil, s.loadErr
	}

	s.mu.Lock()
	var all []*parking.Envelope
	for _, events := range s.events {
		for _, e := range events {
			if e.GlobalVersion > version {
				all = append(all, e)
			}
		}
	}
	s.mu.Unlock()

	sort.Slice(all, func(i, j int) bool { return all[i].GlobalVersion < all[j].GlobalVersion })

	return parking.NewSliceIterator(all), nil
}

// Save implements EventStore.Save. Versions already stamped by the caller are
// kept; zero versions are assigned from the current end of the stream.
func (s *StoreSpy) Save(ctx context.Context, events []parking.Envelope, revision parking.StreamState) (parking.AppendResult, error) {
	s.mu.Lock()
	s.SaveCalls++
	s.LastSaveEvents = events
	s.LastSaveRevision = revision
	s.mu.Unlock()

	if s.SaveFn != nil {
		return s.SaveFn(ctx, events, revision)
	}

	if s.saveErr != nil {
		return parking.AppendResult{Successful: false}, s.saveErr
	}

	if len(events) == 0 {
		return parking.AppendResult{Successful: true}, nil
	}

	streamID := events[0].StreamID

	s.mu.Lock()
	current := uint64(len(s.events[streamID]))
	for i := range events {
		env := events[i]
		if env.Version == 0 {
			env.Version = current + uint64(i) + 1
		}
		s.events[streamID] = append(s.events[streamID], &env)
	}
	next := current + uint64(len(events))
	s.mu.Unlock()

	return parking.AppendResult{
		Successful:          true,
		StreamID:            streamID,
		NextExpectedVersion: next,
	}, nil
}

// Close implements EventStore.Close.
func (s *StoreSpy) Close() error {
	s.mu.Lock()
	s.CloseCalls++
	s.mu.Unlock()

	if s.CloseFn != nil {
		return s.CloseFn()
	}
	return nil
}

// Reset clears all call counts and stored data.
func (s *StoreSpy) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.LoadStreamCalls = 0
	s.LoadStreamFromCalls = 0
	s.LoadFromAllCalls = 0
	s.SaveCalls = 0
	s.CloseCalls = 0
	s.LastSaveEvents = nil
	s.LastSaveRevision = nil
	s.LastLoadStreamID = ""
	s.events = make(map[string][]*parking.Envelope)
	s.loadErr = nil
	s.saveErr = nil
}

// Pre-built store scenarios.

// EmptyStore returns a StoreSpy with no streams. Loads report
// ErrStreamNotFound, the state a command handler sees before the first event.
func EmptyStore() *StoreSpy {
	return NewStoreSpy()
}

// StoreWithSession returns a StoreSpy holding one session stream: a start
// event followed by the given number of extensions.
func StoreWithSession(locationID string, extensions int, minutes int64) *StoreSpy {
	return NewStoreSpy().WithEventsFromSlice(locationID, SessionHistory(locationID, extensions, minutes)...)
}

// FailingStore returns a StoreSpy that fails every load and save with err.
func FailingStore(err error) *StoreSpy {
	return NewStoreSpy().FailOnLoad(err).FailOnSave(err)
}

// ConcurrencyConflictStore returns a StoreSpy whose saves always report a
// revision conflict, as if another writer appends first every time.
func ConcurrencyConflictStore(streamID string, expected, actual parking.Revision) *StoreSpy {
	store := NewStoreSpy()
	store.SaveFn = func(ctx context.Context, events []parking.Envelope, revision parking.StreamState) (parking.AppendResult, error) {
		return parking.AppendResult{Successful: false}, &parking.StreamRevisionConflictError{
			Stream:           streamID,
			ExpectedRevision: expected,
			ActualRevision:   actual,
		}
	}
	return store
}
