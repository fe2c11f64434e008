package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/parkhaus/parking"
)

// ErrNoSession reports that no session has been recorded for the queried
// location. It matches parking.ErrStreamNotFound; no session and no stream
// are the same fact in this system.
var ErrNoSession = fmt.Errorf("no session recorded: %w", parking.ErrStreamNotFound)

// StatusQuery asks for the current Status of the session at one location.
type StatusQuery struct {
	LocationID string
}

// ID names the queried location.
func (q StatusQuery) ID() string { return q.LocationID }

// NewStatusHandler serves StatusQuery from a live View.
func NewStatusHandler(view *View) parking.QueryHandler[StatusQuery, Status] {
	return parking.NewQueryHandlerFunc(func(ctx context.Context, qry StatusQuery) (Status, error) {
		status, ok := view.Status(qry.LocationID)
		if !ok {
			return Status{}, fmt.Errorf("status of location %q: %w", qry.LocationID, ErrNoSession)
		}
		return status, nil
	})
}

// NewStoredStatusHandler serves StatusQuery by replaying the location's
// stream through the session fold. Slower than a View, but correct right
// after a restart, before any view has caught up.
func NewStoredStatusHandler(store parking.EventStore, opts ...Option) parking.QueryHandler[StatusQuery, Status] {
	return parking.NewQueryHandlerFunc(func(ctx context.Context, qry StatusQuery) (Status, error) {
		blank, err := New(qry.LocationID, opts...)
		if err != nil {
			return Status{}, err
		}

		iter, err := store.LoadStream(ctx, qry.LocationID)
		if err != nil {
			if errors.Is(err, parking.ErrStreamNotFound) {
				return Status{}, fmt.Errorf("status of location %q: %w", qry.LocationID, ErrNoSession)
			}
			return Status{}, err
		}

		state, revision, err := parking.Hydrate(ctx, iter, *blank, Evolve)
		if err != nil {
			// Remote stores report a missing stream on the first read.
			if errors.Is(err, parking.ErrStreamNotFound) {
				return Status{}, fmt.Errorf("status of location %q: %w", qry.LocationID, ErrNoSession)
			}
			return Status{}, err
		}

		return Status{
			LocationID:   qry.LocationID,
			UserID:       state.UserID(),
			StartedAt:    state.StartTime(),
			TotalMinutes: int64(state.Extension() / time.Minute),
			Version:      revision,
		}, nil
	})
}
