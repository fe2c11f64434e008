package fixtures

import "github.com/parkhaus/parking/session"

// ExtendBy returns an extension command for a location.
func ExtendBy(locationID string, minutes int64) session.ExtendSession {
	return session.ExtendSession{LocationID: locationID, ByMinutes: minutes}
}

// TestCommand is a configurable command for routing tests that must not
// collide with the session command types.
type TestCommand struct {
	ID   string
	Data string
}

func (c TestCommand) AggregateID() string { return c.ID }

// TestCommandBuilder provides a fluent API for constructing test commands.
type TestCommandBuilder struct {
	id   string
	data string
}

// NewTestCommand creates a new TestCommandBuilder with sensible defaults.
func NewTestCommand() *TestCommandBuilder {
	return &TestCommandBuilder{
		id: "452",
	}
}

// WithID sets the aggregate ID.
func (b *TestCommandBuilder) WithID(id string) *TestCommandBuilder {
	b.id = id
	return b
}

// WithData sets custom data on the command.
func (b *TestCommandBuilder) WithData(data string) *TestCommandBuilder {
	b.data = data
	return b
}

// Build constructs the TestCommand.
func (b *TestCommandBuilder) Build() TestCommand {
	return TestCommand{
		ID:   b.id,
		Data: b.data,
	}
}
