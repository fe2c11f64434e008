package fixtures

import (
	"context"
	"io"

	"github.com/parkhaus/parking"
)

// EmptyIterator returns an iterator that yields no items.
func EmptyIterator() *parking.Iterator[*parking.Envelope] {
	return parking.NewIteratorFunc(func(ctx context.Context) (*parking.Envelope, error) {
		return nil, io.EOF
	})
}

// FailingIterator returns an iterator that fails with the given error.
func FailingIterator(err error) *parking.Iterator[*parking.Envelope] {
	return parking.NewIteratorFunc(func(ctx context.Context) (*parking.Envelope, error) {
		return nil, err
	})
}

// EnvelopeIteratorFromEvents wraps events in envelopes and returns an
// iterator over them.
func EnvelopeIteratorFromEvents(events ...parking.Event) *parking.Iterator[*parking.Envelope] {
	return parking.NewSliceIterator(EnvelopesFromEvents(events...))
}

// FailAfterNIterator returns an iterator that yields at most n envelopes,
// then fails with err.
func FailAfterNIterator(envelopes []*parking.Envelope, n int, err error) *parking.Iterator[*parking.Envelope] {
	idx := 0
	return parking.NewIteratorFunc(func(ctx context.Context) (*parking.Envelope, error) {
		if idx >= n {
			return nil, err
		}
		if idx >= len(envelopes) {
			return nil, io.EOF
		}
		env := envelopes[idx]
		idx++
		return env, nil
	})
}
