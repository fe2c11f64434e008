package bbolt_test

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/parkhaus/parking"
	"github.com/parkhaus/parking/eventstore/bbolt"
	"github.com/parkhaus/parking/session"
)

// Helper functions

func openStore(t *testing.T) *bbolt.Store {
	t.Helper()
	store, err := bbolt.Open(filepath.Join(t.TempDir(), "parking.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func startEnvelope(locationID, userID string) parking.Envelope {
	return newEnvelope(locationID, &session.Started{
		LocationID: locationID,
		UserID:     userID,
		StartTime:  time.Date(2013, time.January, 1, 16, 0, 0, 0, time.UTC),
	})
}

func extendEnvelope(locationID string, minutes int64) parking.Envelope {
	return newEnvelope(locationID, &session.Extended{LocationID: locationID, ByMinutes: minutes})
}

func newEnvelope(streamID string, event parking.Event) parking.Envelope {
	return parking.Envelope{
		EventID:    uuid.New(),
		StreamID:   streamID,
		Event:      event,
		OccurredAt: time.Now().UTC(),
		Metadata:   map[string]any{},
	}
}

func collectAll(t *testing.T, iter *parking.Iterator[*parking.Envelope]) []*parking.Envelope {
	t.Helper()
	ctx := context.Background()
	var results []*parking.Envelope
	for iter.Next(ctx) {
		results = append(results, iter.Value())
	}
	if err := iter.Err(); err != nil {
		t.Fatalf("iterator error: %v", err)
	}
	return results
}

// Open Tests

func TestOpen_EmptyPath(t *testing.T) {
	_, err := bbolt.Open("   ")
	if err == nil {
		t.Fatal("expected error for blank path")
	}
}

// Save Tests

func TestSave_EmptySlice(t *testing.T) {
	store := openStore(t)

	result, err := store.Save(context.Background(), []parking.Envelope{}, parking.Any{})

	if err != nil {
		t.Errorf("expected no error, got %v", err)
	}
	if !result.Successful {
		t.Error("expected successful result")
	}
}

func TestSave_AssignsVersions(t *testing.T) {
	store := openStore(t)

	events := []parking.Envelope{
		startEnvelope("452", "123"),
		extendEnvelope("452", 30),
		extendEnvelope("452", 15),
	}

	result, err := store.Save(context.Background(), events, parking.Any{})

	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if result.StreamID != "452" {
		t.Errorf("expected StreamID '452', got %q", result.StreamID)
	}
	if result.NextExpectedVersion != 3 {
		t.Errorf("expected NextExpectedVersion 3, got %d", result.NextExpectedVersion)
	}

	iter, err := store.LoadStream(context.Background(), "452")
	if err != nil {
		t.Fatalf("LoadStream: %v", err)
	}
	for i, env := range collectAll(t, iter) {
		if env.Version != uint64(i+1) {
			t.Errorf("event %d: expected version %d, got %d", i, i+1, env.Version)
		}
		if env.GlobalVersion != uint64(i+1) {
			t.Errorf("event %d: expected global version %d, got %d", i, i+1, env.GlobalVersion)
		}
	}
}

func TestSave_MixedStreamIDs_Fails(t *testing.T) {
	store := openStore(t)

	events := []parking.Envelope{
		startEnvelope("452", "123"),
		startEnvelope("881", "456"),
	}

	_, err := store.Save(context.Background(), events, parking.Any{})

	if !errors.Is(err, parking.ErrInvalidEventBatch) {
		t.Errorf("expected ErrInvalidEventBatch, got %v", err)
	}
}

func TestSave_NoStream_FailsWhenStreamExists(t *testing.T) {
	store := openStore(t)

	_, _ = store.Save(context.Background(), []parking.Envelope{startEnvelope("452", "123")}, parking.NoStream{})

	_, err := store.Save(context.Background(), []parking.Envelope{extendEnvelope("452", 30)}, parking.NoStream{})

	if !errors.Is(err, parking.ErrStreamExists) {
		t.Errorf("expected ErrStreamExists, got %v", err)
	}
}

func TestSave_StreamExists_FailsWhenNoStream(t *testing.T) {
	store := openStore(t)

	_, err := store.Save(context.Background(), []parking.Envelope{startEnvelope("452", "123")}, parking.StreamExists{})

	if !errors.Is(err, parking.ErrStreamNotFound) {
		t.Errorf("expected ErrStreamNotFound, got %v", err)
	}
}

func TestSave_Revision_Conflict(t *testing.T) {
	store := openStore(t)

	events := []parking.Envelope{
		startEnvelope("452", "123"),
		extendEnvelope("452", 30),
	}
	_, _ = store.Save(context.Background(), events, parking.Any{})

	_, err := store.Save(context.Background(), []parking.Envelope{extendEnvelope("452", 15)}, parking.Revision(1))

	var conflictErr *parking.StreamRevisionConflictError
	if !errors.As(err, &conflictErr) {
		t.Fatalf("expected StreamRevisionConflictError, got %T: %v", err, err)
	}
	if conflictErr.ExpectedRevision != 1 || conflictErr.ActualRevision != 2 {
		t.Errorf("conflict revisions mismatch: %+v", conflictErr)
	}

	// A rejected batch must leave the stream untouched.
	iter, err := store.LoadStream(context.Background(), "452")
	if err != nil {
		t.Fatalf("LoadStream: %v", err)
	}
	if loaded := collectAll(t, iter); len(loaded) != 2 {
		t.Errorf("expected 2 events after rejected save, got %d", len(loaded))
	}
}

func TestSave_Revision_Success(t *testing.T) {
	store := openStore(t)

	events := []parking.Envelope{
		startEnvelope("452", "123"),
		extendEnvelope("452", 30),
	}
	_, _ = store.Save(context.Background(), events, parking.Any{})

	result, err := store.Save(context.Background(), []parking.Envelope{extendEnvelope("452", 15)}, parking.Revision(2))

	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if result.NextExpectedVersion != 3 {
		t.Errorf("expected NextExpectedVersion 3, got %d", result.NextExpectedVersion)
	}
}

// Load Tests

func TestLoadStream_DecodesThroughRegistry(t *testing.T) {
	store := openStore(t)

	events := []parking.Envelope{
		startEnvelope("452", "123"),
		extendEnvelope("452", 30),
	}
	_, _ = store.Save(context.Background(), events, parking.Any{})

	iter, err := store.LoadStream(context.Background(), "452")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	loaded := collectAll(t, iter)
	if len(loaded) != 2 {
		t.Fatalf("expected 2 events, got %d", len(loaded))
	}

	started, ok := loaded[0].Event.(*session.Started)
	if !ok {
		t.Fatalf("expected *session.Started, got %T", loaded[0].Event)
	}
	if started.LocationID != "452" || started.UserID != "123" {
		t.Errorf("started payload mismatch: %+v", started)
	}
	if !started.StartTime.Equal(time.Date(2013, time.January, 1, 16, 0, 0, 0, time.UTC)) {
		t.Errorf("start time mismatch: %v", started.StartTime)
	}

	extended, ok := loaded[1].Event.(*session.Extended)
	if !ok {
		t.Fatalf("expected *session.Extended, got %T", loaded[1].Event)
	}
	if extended.ByMinutes != 30 {
		t.Errorf("expected 30 minutes, got %d", extended.ByMinutes)
	}
}

func TestLoadStream_NonExistingStream(t *testing.T) {
	store := openStore(t)

	_, err := store.LoadStream(context.Background(), "non-existing")

	if !errors.Is(err, parking.ErrStreamNotFound) {
		t.Errorf("expected ErrStreamNotFound, got %v", err)
	}
}

func TestLoadStreamFrom_AtPosition(t *testing.T) {
	store := openStore(t)

	events := []parking.Envelope{
		startEnvelope("452", "123"),
		extendEnvelope("452", 10),
		extendEnvelope("452", 20),
		extendEnvelope("452", 30),
	}
	_, _ = store.Save(context.Background(), events, parking.Any{})

	// Position is zero-based, so skip the first two events.
	iter, err := store.LoadStreamFrom(context.Background(), "452", 2)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	loaded := collectAll(t, iter)
	if len(loaded) != 2 {
		t.Fatalf("expected 2 events, got %d", len(loaded))
	}
	if extended, ok := loaded[0].Event.(*session.Extended); !ok || extended.ByMinutes != 20 {
		t.Errorf("expected Extended by 20 minutes, got %+v", loaded[0].Event)
	}
}

func TestLoadStreamFrom_PastEnd(t *testing.T) {
	store := openStore(t)

	_, _ = store.Save(context.Background(), []parking.Envelope{startEnvelope("452", "123")}, parking.Any{})

	_, err := store.LoadStreamFrom(context.Background(), "452", 10)

	if !errors.Is(err, parking.ErrInvalidRevision) {
		t.Errorf("expected ErrInvalidRevision, got %v", err)
	}
}

func TestLoadFromAll_GlobalOrder(t *testing.T) {
	store := openStore(t)

	_, _ = store.Save(context.Background(), []parking.Envelope{startEnvelope("452", "123")}, parking.Any{})
	_, _ = store.Save(context.Background(), []parking.Envelope{startEnvelope("881", "456")}, parking.Any{})
	_, _ = store.Save(context.Background(), []parking.Envelope{extendEnvelope("452", 30)}, parking.Any{})

	iter, err := store.LoadFromAll(context.Background(), 0)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	loaded := collectAll(t, iter)
	if len(loaded) != 3 {
		t.Fatalf("expected 3 events, got %d", len(loaded))
	}

	// Global order follows append order across streams.
	if loaded[0].StreamID != "452" || loaded[1].StreamID != "881" || loaded[2].StreamID != "452" {
		t.Errorf("global order mismatch: %q %q %q", loaded[0].StreamID, loaded[1].StreamID, loaded[2].StreamID)
	}
	for i, env := range loaded {
		if env.GlobalVersion != uint64(i+1) {
			t.Errorf("event %d: expected global version %d, got %d", i, i+1, env.GlobalVersion)
		}
	}
}

func TestLoadFromAll_FromPosition(t *testing.T) {
	store := openStore(t)

	_, _ = store.Save(context.Background(), []parking.Envelope{startEnvelope("452", "123")}, parking.Any{})
	for i := 0; i < 4; i++ {
		_, _ = store.Save(context.Background(), []parking.Envelope{extendEnvelope("452", int64(i+1))}, parking.Any{})
	}

	iter, err := store.LoadFromAll(context.Background(), 2)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	if loaded := collectAll(t, iter); len(loaded) != 3 {
		t.Errorf("expected 3 events, got %d", len(loaded))
	}
}

func TestLoadFromAll_CaughtUpIsEmpty(t *testing.T) {
	store := openStore(t)

	_, _ = store.Save(context.Background(), []parking.Envelope{
		startEnvelope("452", "123"),
		extendEnvelope("452", 30),
	}, parking.Any{})

	// A reader resuming at the end is caught up, not broken.
	iter, err := store.LoadFromAll(context.Background(), 2)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if loaded := collectAll(t, iter); len(loaded) != 0 {
		t.Errorf("expected no events, got %d", len(loaded))
	}
}

// Persistence Tests

func TestReopen_KeepsEventsAndVersions(t *testing.T) {
	path := filepath.Join(t.TempDir(), "parking.db")

	store, err := bbolt.Open(path)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	_, _ = store.Save(context.Background(), []parking.Envelope{
		startEnvelope("452", "123"),
		extendEnvelope("452", 30),
	}, parking.NoStream{})
	if err := store.Close(); err != nil {
		t.Fatalf("close store: %v", err)
	}

	reopened, err := bbolt.Open(path)
	if err != nil {
		t.Fatalf("reopen store: %v", err)
	}
	defer reopened.Close()

	iter, err := reopened.LoadStream(context.Background(), "452")
	if err != nil {
		t.Fatalf("LoadStream after reopen: %v", err)
	}
	loaded := collectAll(t, iter)
	if len(loaded) != 2 {
		t.Fatalf("expected 2 events after reopen, got %d", len(loaded))
	}

	// The version counter survives the restart.
	result, err := reopened.Save(context.Background(), []parking.Envelope{extendEnvelope("452", 15)}, parking.Revision(2))
	if err != nil {
		t.Fatalf("save after reopen: %v", err)
	}
	if result.NextExpectedVersion != 3 {
		t.Errorf("expected NextExpectedVersion 3 after reopen, got %d", result.NextExpectedVersion)
	}
}

// Events Channel Tests

func TestEvents_ReceivesSavedEnvelopes(t *testing.T) {
	store := openStore(t)

	eventsChan := store.Events()

	_, _ = store.Save(context.Background(), []parking.Envelope{startEnvelope("452", "123")}, parking.Any{})

	select {
	case received := <-eventsChan:
		if received.Event.EventType() != session.StartedKind {
			t.Errorf("expected %s, got %s", session.StartedKind, received.Event.EventType())
		}
		if received.Version != 1 {
			t.Errorf("expected version 1, got %d", received.Version)
		}
	case <-time.After(time.Second):
		t.Error("timeout waiting for event")
	}
}

// Close Tests

func TestClose_Idempotent(t *testing.T) {
	store, err := bbolt.Open(filepath.Join(t.TempDir(), "parking.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}

	if err := store.Close(); err != nil {
		t.Errorf("expected no error, got %v", err)
	}
	if err := store.Close(); err != nil {
		t.Errorf("second close should be a no-op, got %v", err)
	}

	select {
	case _, ok := <-store.Events():
		if ok {
			t.Error("expected events channel to be closed")
		}
	case <-time.After(100 * time.Millisecond):
		t.Error("expected events channel to be closed immediately")
	}
}
