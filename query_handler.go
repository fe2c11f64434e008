package parking

import (
	"context"
)

// Query is the interface that must be implemented by any type to be considered a query.
// ID names the entity the query concerns; routing is by query type, so the ID
// only labels logs and telemetry.
type Query interface {
	ID() string
}

// QueryHandler represents a handler for a specific query type T and
// produces a result of type R. This interface allows generic, type-safe
// registration and execution of query logic.
//
// Type Parameters:
//   - T: The query type implementing Query.
//   - R: The read model type produced for the query.
//
// Example Usage:
//
//	type StatusQuery struct { LocationID string }
//	type Status struct { TotalMinutes int64 }
//
//	handler := NewQueryHandlerFunc(func(ctx context.Context, q StatusQuery) (*Status, error) {
//	    return &Status{TotalMinutes: 90}, nil
//	})
//
//	var _ QueryHandler[StatusQuery, *Status] = handler
type QueryHandler[T Query, R ReadModel] interface {
	HandleQuery(ctx context.Context, qry T) (R, error)
}

// queryHandlerFunc is a helper type to allow ordinary functions to
// implement QueryHandler[T,R].
type queryHandlerFunc[T Query, R ReadModel] func(ctx context.Context, qry T) (R, error)

// HandleQuery calls the underlying function.
func (f queryHandlerFunc[T, R]) HandleQuery(ctx context.Context, qry T) (R, error) {
	return f(ctx, qry)
}

// NewQueryHandlerFunc creates a QueryHandler from a function.
//
// Parameters:
//   - fn: The function to wrap as a QueryHandler.
//
// Returns:
//   - QueryHandler[T,R]: A handler that implements QueryHandler interface.
//
// Example Usage:
//
//	handler := NewQueryHandlerFunc(func(ctx context.Context, q StatusQuery) (*Status, error) {
//	    return &Status{TotalMinutes: 90}, nil
//	})
func NewQueryHandlerFunc[T Query, R ReadModel](fn func(ctx context.Context, qry T) (R, error)) QueryHandler[T, R] {
	return queryHandlerFunc[T, R](fn)
}
