package session

import (
	"context"
	"errors"
	"reflect"
	"testing"

	"github.com/parkhaus/parking"
	"github.com/parkhaus/parking/eventstore/memory"
)

// ---------------------- View ----------------------

func TestView_StartThenExtend(t *testing.T) {
	view := NewView()

	if err := view.OnStarted(t.Context(), newStarted()); err != nil {
		t.Fatalf("OnStarted: %v", err)
	}
	if err := view.OnExtended(t.Context(), &Extended{LocationID: "452", ByMinutes: 30}); err != nil {
		t.Fatalf("OnExtended: %v", err)
	}
	if err := view.OnExtended(t.Context(), &Extended{LocationID: "452", ByMinutes: 15}); err != nil {
		t.Fatalf("OnExtended: %v", err)
	}

	status, ok := view.Status("452")
	if !ok {
		t.Fatalf("expected a status for location 452")
	}
	if status.UserID != "123" {
		t.Errorf("UserID = %q, want %q", status.UserID, "123")
	}
	if !status.StartedAt.Equal(sessionStart) {
		t.Errorf("StartedAt = %v, want %v", status.StartedAt, sessionStart)
	}
	if status.TotalMinutes != 45 {
		t.Errorf("TotalMinutes = %d, want 45", status.TotalMinutes)
	}
}

func TestView_ExtendBeforeStart(t *testing.T) {
	view := NewView()

	if err := view.OnExtended(t.Context(), &Extended{LocationID: "881", ByMinutes: 20}); err != nil {
		t.Fatalf("OnExtended: %v", err)
	}

	status, ok := view.Status("881")
	if !ok {
		t.Fatalf("expected an entry created on first contact")
	}
	if status.TotalMinutes != 20 {
		t.Errorf("TotalMinutes = %d, want 20", status.TotalMinutes)
	}
	if status.UserID != "" || !status.StartedAt.IsZero() {
		t.Errorf("expected no start data yet, got %+v", status)
	}
}

func TestView_UnknownLocation(t *testing.T) {
	view := NewView()

	if _, ok := view.Status("nowhere"); ok {
		t.Fatalf("expected no status for an unseen location")
	}
}

func TestView_Locations(t *testing.T) {
	view := NewView()

	_ = view.OnExtended(t.Context(), &Extended{LocationID: "881", ByMinutes: 10})
	_ = view.OnStarted(t.Context(), newStarted())
	_ = view.OnExtended(t.Context(), &Extended{LocationID: "783", ByMinutes: 10})

	want := []string{"452", "783", "881"}
	if got := view.Locations(); !reflect.DeepEqual(got, want) {
		t.Errorf("Locations() = %v, want %v", got, want)
	}
}

func TestView_VersionFromEnvelope(t *testing.T) {
	view := NewView()

	env := &parking.Envelope{
		StreamID: "452",
		Event:    newStarted(),
		Version:  7,
	}
	if err := view.OnStarted(parking.WithEnvelope(t.Context(), env), newStarted()); err != nil {
		t.Fatalf("OnStarted: %v", err)
	}

	status, _ := view.Status("452")
	if status.Version != 7 {
		t.Errorf("Version = %d, want 7", status.Version)
	}
}

func TestView_GroupRouting(t *testing.T) {
	view := NewView()
	group := view.Group()

	want := []string{ExtendedKind, StartedKind}
	if got := group.StreamFilter(); !reflect.DeepEqual(got, want) {
		t.Fatalf("StreamFilter() = %v, want %v", got, want)
	}

	if err := group.Handle(t.Context(), newStarted()); err != nil {
		t.Fatalf("Handle(Started): %v", err)
	}
	if err := group.Handle(t.Context(), &Extended{LocationID: "452", ByMinutes: 30}); err != nil {
		t.Fatalf("Handle(Extended): %v", err)
	}

	status, _ := view.Status("452")
	if status.TotalMinutes != 30 {
		t.Errorf("TotalMinutes = %d, want 30", status.TotalMinutes)
	}

	var skipped *parking.ErrSkippedEvent
	err := group.Handle(t.Context(), alienEvent{})
	if !errors.As(err, &skipped) {
		t.Errorf("expected *ErrSkippedEvent for an unknown kind, got %v", err)
	}
}

// ---------------------- StatusQuery ----------------------

func TestStatusHandler_FromView(t *testing.T) {
	view := NewView()
	_ = view.OnStarted(t.Context(), newStarted())
	_ = view.OnExtended(t.Context(), &Extended{LocationID: "452", ByMinutes: 30})

	handler := NewStatusHandler(view)

	status, err := handler.HandleQuery(t.Context(), StatusQuery{LocationID: "452"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if status.TotalMinutes != 30 {
		t.Errorf("TotalMinutes = %d, want 30", status.TotalMinutes)
	}

	_, err = handler.HandleQuery(t.Context(), StatusQuery{LocationID: "nowhere"})
	if !errors.Is(err, ErrNoSession) {
		t.Fatalf("expected ErrNoSession, got %v", err)
	}
	if !errors.Is(err, parking.ErrStreamNotFound) {
		t.Errorf("ErrNoSession should match parking.ErrStreamNotFound, got %v", err)
	}
}

func TestStoredStatusHandler_ReplaysStream(t *testing.T) {
	store := memory.NewMemoryStore(8)
	defer store.Close()

	_, err := store.Save(t.Context(), []parking.Envelope{
		{StreamID: "452", Event: newStarted()},
		{StreamID: "452", Event: &Extended{LocationID: "452", ByMinutes: 30}},
		{StreamID: "452", Event: &Extended{LocationID: "452", ByMinutes: 15}},
	}, parking.NoStream{})
	if err != nil {
		t.Fatalf("Save: %v", err)
	}

	handler := NewStoredStatusHandler(store)

	status, err := handler.HandleQuery(t.Context(), StatusQuery{LocationID: "452"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if status.UserID != "123" {
		t.Errorf("UserID = %q, want %q", status.UserID, "123")
	}
	if status.TotalMinutes != 45 {
		t.Errorf("TotalMinutes = %d, want 45", status.TotalMinutes)
	}
	if status.Version != 3 {
		t.Errorf("Version = %d, want 3", status.Version)
	}
}

func TestStoredStatusHandler_MissingStream(t *testing.T) {
	store := memory.NewMemoryStore(8)
	defer store.Close()

	handler := NewStoredStatusHandler(store)

	_, err := handler.HandleQuery(t.Context(), StatusQuery{LocationID: "nowhere"})
	if !errors.Is(err, ErrNoSession) {
		t.Fatalf("expected ErrNoSession, got %v", err)
	}
}

func TestStatusQuery_ThroughGateway(t *testing.T) {
	view := NewView()
	_ = view.OnExtended(t.Context(), &Extended{LocationID: "452", ByMinutes: 30})

	bus := parking.NewQueryBus()
	parking.RegisterQueryHandler(bus, NewStatusHandler(view))

	gateway := parking.NewQueryGateway[StatusQuery, Status](bus)
	status, err := gateway.HandleQuery(context.Background(), StatusQuery{LocationID: "452"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if status.TotalMinutes != 30 {
		t.Errorf("TotalMinutes = %d, want 30", status.TotalMinutes)
	}
}
