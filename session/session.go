// Package session models a parking session as an event-sourced aggregate.
//
// A session belongs to one parking location and accumulates paid extensions
// up to a maximum stay. Its state is never written directly: commands are
// decided against the current state and produce events, and the same fold
// that applies a freshly decided event also rebuilds state from history. The
// aggregate itself is single-writer and does no locking; serialization is the
// caller's concern, typically via a CommandBus shard per location.
package session

import (
	"fmt"
	"time"

	"github.com/parkhaus/parking"
)

// DefaultMaximumStay is the ceiling on accumulated extensions when New is not
// told otherwise: one day.
const DefaultMaximumStay = 24 * time.Hour

// Session is the write model of one parking session. All fields are private;
// state changes flow through the event fold so that replaying history and
// consuming commands cannot drift apart.
type Session struct {
	locationID  string
	maximumStay time.Duration
	started     bool
	startTime   time.Time
	userID      string
	extended    time.Duration
}

// Option configures a new Session.
type Option func(*Session) error

// WithMaximumStay overrides the default ceiling on accumulated extensions.
// The duration must be positive.
func WithMaximumStay(d time.Duration) Option {
	return func(s *Session) error {
		if d <= 0 {
			return fmt.Errorf("maximum stay %s: %w", d, ErrInvalidMaximumStay)
		}
		s.maximumStay = d
		return nil
	}
}

// New returns a blank session for the given location, ready to fold history
// or decide commands.
//
// Parameters:
//   - locationID: Opaque identifier of the parking location. Must be
//     non-empty; it doubles as the aggregate ID and stream name.
//   - opts: Optional settings such as WithMaximumStay.
//
// Returns:
//   - A blank *Session carrying only its identity and configuration.
//   - ErrMissingLocation when locationID is empty, or the error of a failing
//     option.
func New(locationID string, opts ...Option) (*Session, error) {
	if locationID == "" {
		return nil, ErrMissingLocation
	}

	s := &Session{
		locationID:  locationID,
		maximumStay: DefaultMaximumStay,
	}
	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// LocationID returns the identifier of the parking location.
func (s *Session) LocationID() string { return s.locationID }

// MaximumStay returns the ceiling on accumulated extensions.
func (s *Session) MaximumStay() time.Duration { return s.maximumStay }

// HasStarted reports whether a Started event has been applied.
func (s *Session) HasStarted() bool { return s.started }

// StartTime returns when the session started, or the zero time before start.
func (s *Session) StartTime() time.Time { return s.startTime }

// UserID returns the user who started the session, or "" before start.
func (s *Session) UserID() string { return s.userID }

// Extension returns the total extension accumulated so far.
func (s *Session) Extension() time.Duration { return s.extended }

// RemainingStay returns how much extension allowance is left before the
// maximum stay is reached.
func (s *Session) RemainingStay() time.Duration { return s.maximumStay - s.extended }

// Hydrate rebuilds the session's state by folding historical events, oldest
// first, through the same transition as live command handling.
//
// The fold runs on a scratch copy and is committed only when every event
// applied cleanly, so a corrupt history leaves the receiver untouched.
//
// Returns:
//   - *UnhandledEventError when an event kind is unknown.
//   - ErrAlreadyStarted when the history holds a second Started event.
func (s *Session) Hydrate(events ...parking.Event) error {
	next := *s
	for _, event := range events {
		var err error
		next, err = apply(next, event)
		if err != nil {
			return err
		}
	}
	*s = next
	return nil
}

// Consume decides a command against the current state and, when accepted,
// applies the resulting events to the session.
//
// For ExtendSession the decision checks, in order:
//  1. The requested minutes are positive, else ErrInvalidExtensionDuration.
//  2. Accumulated extensions plus the request stay within the maximum stay,
//     else ErrMaximumStayExceeded.
//
// An accepted extension produces exactly one Extended event, already folded
// into the receiver on return. On any error the session is left unchanged;
// there are no partial effects.
//
// Returns:
//   - The produced events, for the caller to persist or publish.
//   - *UnhandledCommandError when the command type is unknown.
func (s *Session) Consume(cmd parking.Command) ([]parking.Event, error) {
	events, err := Decide(*s, cmd)
	if err != nil {
		return nil, err
	}

	next := *s
	for _, event := range events {
		next, err = apply(next, event)
		if err != nil {
			return nil, err
		}
	}
	*s = next
	return events, nil
}

// Decide produces the events a command should cause given the current state.
// It never mutates the state; Consume and the command handler fold the
// returned events through Evolve.
func Decide(state Session, cmd parking.Command) ([]parking.Event, error) {
	switch c := cmd.(type) {
	case ExtendSession:
		return decideExtend(state, c)
	default:
		return nil, &UnhandledCommandError{Command: cmd}
	}
}

func decideExtend(state Session, cmd ExtendSession) ([]parking.Event, error) {
	if cmd.ByMinutes <= 0 {
		return nil, fmt.Errorf("extend session at %q by %d minutes: %w",
			state.locationID, cmd.ByMinutes, ErrInvalidExtensionDuration)
	}

	requested := time.Duration(cmd.ByMinutes) * time.Minute
	if state.extended+requested > state.maximumStay {
		return nil, fmt.Errorf("extend session at %q by %d minutes (%s of %s used): %w",
			state.locationID, cmd.ByMinutes, state.extended, state.maximumStay, ErrMaximumStayExceeded)
	}

	return []parking.Event{&Extended{LocationID: state.locationID, ByMinutes: cmd.ByMinutes}}, nil
}

// Evolve folds one stored envelope into the state. It adapts apply to the
// shape the command handler expects.
func Evolve(state Session, envelope *parking.Envelope) (Session, error) {
	return apply(state, envelope.Event)
}

// apply is the single transition for both replay and live handling. Every
// state mutation in the package goes through here.
func apply(state Session, event parking.Event) (Session, error) {
	switch ev := event.(type) {
	case *Started:
		if state.started {
			return state, fmt.Errorf("session at %q: %w", state.locationID, ErrAlreadyStarted)
		}
		state.started = true
		state.userID = ev.UserID
		state.startTime = ev.StartTime

	case *Extended:
		state.extended += time.Duration(ev.ByMinutes) * time.Minute

	default:
		return state, &UnhandledEventError{Event: event}
	}
	return state, nil
}
