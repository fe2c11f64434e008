package session

import (
	"time"

	"github.com/parkhaus/parking"
)

// Event kind names as stored in envelopes and used in subscriptions.
const (
	StartedKind  = "session.started"
	ExtendedKind = "session.extended"
)

func init() {
	parking.RegisterEvent(func() parking.Event { return &Started{} })
	parking.RegisterEvent(func() parking.Event { return &Extended{} })
}

// Started records that a parking session began at a location. It is always
// the first event of a session's stream.
type Started struct {
	LocationID string    `json:"locationId"`
	UserID     string    `json:"userId"`
	StartTime  time.Time `json:"startTime"`
}

func (e *Started) AggregateID() string { return e.LocationID }

// EventType returns the kind name. It must stay callable on a nil receiver;
// typed handler routing resolves the name from a zero value.
func (*Started) EventType() string { return StartedKind }

// Extended records that a session's stay was lengthened by a number of
// minutes. The minutes were validated against the maximum stay when the
// extension was accepted.
type Extended struct {
	LocationID string `json:"locationId"`
	ByMinutes  int64  `json:"byMinutes"`
}

func (e *Extended) AggregateID() string { return e.LocationID }

func (*Extended) EventType() string { return ExtendedKind }
