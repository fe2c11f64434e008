package session

// ExtendSession asks for the session at a location to be lengthened by the
// given number of minutes. The minutes are signed on purpose; rejecting a
// non-positive request is part of deciding, not of constructing the command.
type ExtendSession struct {
	LocationID string
	ByMinutes  int64
}

func (c ExtendSession) AggregateID() string { return c.LocationID }
