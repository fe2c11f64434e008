package parking

import (
	"fmt"
)

// QueryBus acts as a central registry for query handlers. It stores
// handlers keyed by their query and result types, allowing multiple
// query types to be registered in a single bus.
//
// Handlers can later be executed via a typed GenericQueryGateway. The bus
// itself carries no instrumentation; telemetry wraps the handlers before
// registration, the same way command handlers are decorated.
//
// Example Usage:
//
//	bus := NewQueryBus()
//	RegisterQueryHandler(bus, NewQueryHandlerFunc(func(ctx context.Context, q StatusQuery) (*Status, error) {
//	    return &Status{TotalMinutes: 90}, nil
//	}))
type QueryBus struct {
	handlers map[string]any
}

// NewQueryBus creates a new QueryBus instance.
//
// Returns:
//   - *QueryBus: A new, empty bus ready for handler registration.
func NewQueryBus() *QueryBus {
	return &QueryBus{
		handlers: make(map[string]any),
	}
}

// RegisterQueryHandler registers a QueryHandler for a specific query
// and result type on the provided QueryBus.
//
// The key for storage is generated from the types of T and R, so one bus can
// hold handlers for many query types, and the same query type can feed
// differently shaped read models.
//
// Registering a second handler for the same query and result types replaces
// the first; registration happens during wiring, where the last write is the
// intended one.
//
// Example Usage:
//
//	bus := NewQueryBus()
//	RegisterQueryHandler(bus, NewQueryHandlerFunc(func(ctx context.Context, q StatusQuery) (*Status, error) {
//	    return &Status{TotalMinutes: 90}, nil
//	}))
func RegisterQueryHandler[T Query, R ReadModel](bus *QueryBus, handler QueryHandler[T, R]) {
	key := fmt.Sprintf("%T|%T", *new(T), *new(R))
	bus.handlers[key] = handler
}
