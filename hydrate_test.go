package parking

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"
)

func hydrateEnvelopes(n int) []*Envelope {
	out := make([]*Envelope, n)
	for i := range out {
		out[i] = &Envelope{
			StreamID: "452",
			Event:    stubEvent{loc: "452", kind: "session.test"},
			Version:  uint64(i + 1),
		}
	}
	return out
}

func TestHydrate_FoldsOldestFirst(t *testing.T) {
	iter := NewSliceIterator(hydrateEnvelopes(3))

	state, revision, err := Hydrate(t.Context(), iter, 0, countingEvolve)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if state != 3 {
		t.Fatalf("expected state 3, got %d", state)
	}
	if revision != 3 {
		t.Fatalf("expected revision 3, got %d", revision)
	}
}

func TestHydrate_EmptyHistory(t *testing.T) {
	iter := NewSliceIterator([]*Envelope{})

	state, revision, err := Hydrate(t.Context(), iter, 7, countingEvolve)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if state != 7 {
		t.Fatalf("expected initial state untouched, got %d", state)
	}
	if revision != 0 {
		t.Fatalf("expected revision 0, got %d", revision)
	}
}

func TestHydrate_FoldError(t *testing.T) {
	iter := NewSliceIterator(hydrateEnvelopes(3))
	boom := errors.New("unknown event kind")

	evolve := func(s int, e *Envelope) (int, error) {
		if e.Version == 2 {
			return s, boom
		}
		return s + 1, nil
	}

	_, revision, err := Hydrate(t.Context(), iter, 0, evolve)
	if !errors.Is(err, boom) {
		t.Fatalf("expected fold error, got %v", err)
	}
	if !strings.Contains(err.Error(), "version 2") {
		t.Fatalf("expected error to name the failing version, got %q", err.Error())
	}
	if revision != 2 {
		t.Fatalf("expected revision 2 at failure, got %d", revision)
	}
}

func TestHydrate_IteratorError(t *testing.T) {
	wire := errors.New("connection reset")
	envelopes := hydrateEnvelopes(2)
	index := 0
	iter := NewIteratorFunc(func(ctx context.Context) (*Envelope, error) {
		if index >= len(envelopes) {
			return nil, wire
		}
		env := envelopes[index]
		index++
		return env, nil
	})

	state, revision, err := Hydrate(t.Context(), iter, 0, countingEvolve)
	if !errors.Is(err, wire) {
		t.Fatalf("expected iterator error, got %v", err)
	}
	if state != 2 || revision != 2 {
		t.Fatalf("expected folded prefix state 2 at revision 2, got %d at %d", state, revision)
	}
}

func TestHydrate_CleanEOF(t *testing.T) {
	index := 0
	iter := NewIteratorFunc(func(ctx context.Context) (*Envelope, error) {
		if index >= 1 {
			return nil, io.EOF
		}
		index++
		return &Envelope{Version: 1, Event: stubEvent{loc: "452", kind: "session.test"}}, nil
	})

	state, revision, err := Hydrate(t.Context(), iter, 0, countingEvolve)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if state != 1 || revision != 1 {
		t.Fatalf("expected state 1 at revision 1, got %d at %d", state, revision)
	}
}
