package session

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/parkhaus/parking"
)

// Status is the read model of one location's parking session, maintained live
// by a View or rebuilt on demand from the store.
type Status struct {
	LocationID   string
	UserID       string
	StartedAt    time.Time
	TotalMinutes int64
	Version      uint64
}

// View is a live projection of session events into Status read models, one
// per location. Feed it by subscribing its Group to an event bus and read it
// through Status, or serve it to callers via NewStatusHandler.
//
// The view assumes the ordered, at-most-once delivery an in-process bus
// provides; it keeps no deduplication state.
type View struct {
	mu       sync.RWMutex
	sessions map[string]Status
}

// NewView returns an empty view.
func NewView() *View {
	return &View{sessions: make(map[string]Status)}
}

// OnStarted records the start of a session. The stream version is taken from
// the envelope on the context when the event arrives through a bus.
func (v *View) OnStarted(ctx context.Context, ev *Started) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	s := v.sessions[ev.LocationID]
	s.LocationID = ev.LocationID
	s.UserID = ev.UserID
	s.StartedAt = ev.StartTime
	s.Version = parking.VersionFromContext(ctx)
	v.sessions[ev.LocationID] = s
	return nil
}

// OnExtended accumulates an extension. A session may be extended before any
// Started event is seen; the entry is created on first contact.
func (v *View) OnExtended(ctx context.Context, ev *Extended) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	s := v.sessions[ev.LocationID]
	s.LocationID = ev.LocationID
	s.TotalMinutes += ev.ByMinutes
	s.Version = parking.VersionFromContext(ctx)
	v.sessions[ev.LocationID] = s
	return nil
}

// Status returns the view of one location's session and whether any event
// for it has been seen.
func (v *View) Status(locationID string) (Status, bool) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	s, ok := v.sessions[locationID]
	return s, ok
}

// Locations returns all locations with a known session, sorted.
func (v *View) Locations() []string {
	v.mu.RLock()
	defer v.mu.RUnlock()
	out := make([]string, 0, len(v.sessions))
	for id := range v.sessions {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Group wraps the view's handlers in an EventGroupProcessor, ready to
// subscribe; the group's StreamFilter names the event kinds to request.
//
// Example Usage:
//
//	group := view.Group()
//	err := bus.Subscribe(ctx, "session-view",
//	    parking.FilterEventKinds(group.StreamFilter()...), group)
func (v *View) Group() *parking.EventGroupProcessor {
	return parking.NewEventGroupProcessor(
		parking.OnEvent(v.OnStarted),
		parking.OnEvent(v.OnExtended),
	)
}
