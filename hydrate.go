package parking

import (
	"context"
	"fmt"
)

// Hydrate folds a stream of envelopes into a state, oldest first.
//
// It drives the iterator to the end, applying evolve to every envelope, and
// returns the final state together with the version of the last envelope
// observed. An empty replay leaves the initial state untouched and reports
// revision zero.
//
// History the evolver cannot interpret stops the replay immediately; callers
// should treat that as a data-integrity defect, not retry it.
//
// Example Usage:
//
//	iter, err := store.LoadStream(ctx, "452")
//	if err != nil {
//	    return err
//	}
//	state, revision, err := parking.Hydrate(ctx, iter, *blank, session.Evolve)
func Hydrate[T any](ctx context.Context, iter *Iterator[*Envelope], initial T, evolve Evolver[T]) (T, uint64, error) {
	state := initial
	var revision uint64

	for iter.Next(ctx) {
		envelope := iter.Value()
		revision = envelope.Version

		var err error
		state, err = evolve(state, envelope)
		if err != nil {
			return state, revision, fmt.Errorf("hydrate: fold failed at version %d: %w", revision, err)
		}
	}
	if err := iter.Err(); err != nil {
		return state, revision, fmt.Errorf("hydrate: %w", err)
	}

	return state, revision, nil
}
