package parking

// Command expresses an intent to change an aggregate, such as extending a
// parking session. Commands may be rejected; only events record what happened.
type Command interface {
	// AggregateID identifies the aggregate instance the command is addressed
	// to. For parking sessions this is the location identifier.
	AggregateID() string
}
