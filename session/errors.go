package session

import (
	"errors"
	"fmt"

	"github.com/parkhaus/parking"
)

var (
	// ErrMissingLocation is returned by New when the location ID is empty.
	ErrMissingLocation = errors.New("missing location id")

	// ErrInvalidMaximumStay is returned by New when the configured maximum
	// stay is not positive.
	ErrInvalidMaximumStay = errors.New("maximum stay must be positive")

	// ErrAlreadyStarted is returned when a Started event is applied to a
	// session that already started. A stream with two Started events is
	// corrupt, so the fold stops instead of overwriting the first start.
	ErrAlreadyStarted = errors.New("session already started")

	// ErrInvalidExtensionDuration rejects an extension of zero or negative
	// minutes. Matches parking.ErrBusinessRuleViolation.
	ErrInvalidExtensionDuration = fmt.Errorf("%w: extension duration must be positive", parking.ErrBusinessRuleViolation)

	// ErrMaximumStayExceeded rejects an extension that would push the
	// accumulated extensions past the maximum stay. Matches
	// parking.ErrBusinessRuleViolation.
	ErrMaximumStayExceeded = fmt.Errorf("%w: maximum stay exceeded", parking.ErrBusinessRuleViolation)
)

// UnhandledEventError is returned when the fold meets an event kind the
// session does not know. It surfaces schema drift instead of skipping
// history.
type UnhandledEventError struct {
	Event parking.Event
}

func (e *UnhandledEventError) Error() string {
	return fmt.Sprintf("unhandled event kind %q (%T)", e.Event.EventType(), e.Event)
}

// UnhandledCommandError is returned when the decider meets a command type the
// session does not know.
type UnhandledCommandError struct {
	Command parking.Command
}

func (e *UnhandledCommandError) Error() string {
	return fmt.Sprintf("unhandled command %s", parking.TypeName(e.Command))
}
