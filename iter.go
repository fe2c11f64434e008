package parking

import (
	"context"
	"errors"
	"io"
)

// Iterator lazily walks a sequence of items produced by a next function,
// typically envelopes streaming out of an event store.
//
// The next function returns io.EOF (possibly wrapped) when the sequence is
// exhausted; Next then reports false and Err stays nil. Any other error also
// stops iteration and is surfaced by Err.
type Iterator[T any] struct {
	nextFunc func(ctx context.Context) (T, error)
	current  T
	err      error
	done     bool
}

// Next advances the iterator. It reports false once the sequence is exhausted
// or an error occurred.
func (it *Iterator[T]) Next(ctx context.Context) bool {
	if it.done || it.err != nil {
		return false
	}

	item, err := it.nextFunc(ctx)
	if err != nil {
		var zero T
		it.current = zero
		it.done = true
		if !errors.Is(err, io.EOF) {
			it.err = err
		}
		return false
	}

	it.current = item
	return true
}

// Value returns the item produced by the last successful Next call.
func (it *Iterator[T]) Value() T {
	return it.current
}

// Err returns the error that stopped iteration, or nil after a clean end.
func (it *Iterator[T]) Err() error {
	return it.err
}

// All consumes the rest of the iterator into a slice.
func (it *Iterator[T]) All(ctx context.Context) ([]T, error) {
	var results []T
	for it.Next(ctx) {
		results = append(results, it.Value())
	}
	return results, it.Err()
}

// NewIteratorFunc creates an Iterator from a function producing the next item.
// The function should return io.EOF when the sequence is finished.
func NewIteratorFunc[T any](nextFunc func(ctx context.Context) (T, error)) *Iterator[T] {
	return &Iterator[T]{nextFunc: nextFunc}
}

// NewSliceIterator creates an Iterator over the given slice. It checks the
// context between items so consumers can abandon long sequences.
func NewSliceIterator[T any](items []T) *Iterator[T] {
	index := 0
	return NewIteratorFunc(func(ctx context.Context) (T, error) {
		var zero T
		if err := ctx.Err(); err != nil {
			return zero, err
		}
		if index >= len(items) {
			return zero, io.EOF
		}
		item := items[index]
		index++
		return item, nil
	})
}
