package parking_test

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/parkhaus/parking"
	"github.com/parkhaus/parking/fixtures"
)

func TestIteratorBasic(t *testing.T) {
	items := []int{1, 2, 3}
	i := 0

	iter := parking.NewIteratorFunc(func(ctx context.Context) (int, error) {
		if i >= len(items) {
			return 0, io.EOF
		}
		val := items[i]
		i++
		return val, nil
	})

	var got []int

	for iter.Next(t.Context()) {
		got = append(got, iter.Value())
	}

	if iter.Err() != nil {
		t.Fatalf("unexpected error: %v", iter.Err())
	}

	if len(got) != len(items) {
		t.Fatalf("expected %v items, got %v", len(items), len(got))
	}

	for i := range items {
		if got[i] != items[i] {
			t.Errorf("index %d: expected %v got %v", i, items[i], got[i])
		}
	}
}

func TestIteratorEOF(t *testing.T) {
	iter := parking.NewIteratorFunc(func(ctx context.Context) (int, error) {
		return 0, io.EOF
	})

	ctx := t.Context()

	if iter.Next(ctx) {
		t.Fatal("expected Next() to return false on EOF")
	}

	if iter.Err() != nil {
		t.Fatalf("expected Err() to be nil on EOF, got %v", iter.Err())
	}
}

func TestIteratorError(t *testing.T) {
	expectedErr := errors.New("boom")

	iter := parking.NewIteratorFunc(func(ctx context.Context) (int, error) {
		return 0, expectedErr
	})

	if iter.Next(t.Context()) {
		t.Fatal("expected Next() to return false on error")
	}

	if !errors.Is(iter.Err(), expectedErr) {
		t.Fatalf("expected Err() to be %v, got %v", expectedErr, iter.Err())
	}
}

func TestIteratorAll(t *testing.T) {
	items := []string{"452", "881", "783"}
	i := 0

	iter := parking.NewIteratorFunc(func(ctx context.Context) (string, error) {
		if i >= len(items) {
			return "", io.EOF
		}
		val := items[i]
		i++
		return val, nil
	})

	got, err := iter.All(t.Context())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(got) != len(items) {
		t.Fatalf("expected %v items, got %v", len(items), len(got))
	}

	for i := range items {
		if got[i] != items[i] {
			t.Errorf("index %d: expected %v got %v", i, items[i], got[i])
		}
	}
}

func TestIteratorStopsAfterErrorOrEOF(t *testing.T) {
	callCount := 0
	iter := parking.NewIteratorFunc(func(ctx context.Context) (int, error) {
		callCount++
		if callCount == 1 {
			return 1, nil
		}
		return 0, io.EOF
	})

	if !iter.Next(t.Context()) {
		t.Fatal("expected first Next() to return true")
	}
	if iter.Value() != 1 {
		t.Fatalf("expected Value()=1, got %v", iter.Value())
	}

	if iter.Next(t.Context()) {
		t.Fatal("expected second Next() to return false (EOF)")
	}

	// Ensure Next doesn't call nextFunc again
	for i := 0; i < 5; i++ {
		iter.Next(t.Context())
	}

	if callCount != 2 {
		t.Fatalf("expected nextFunc to be called exactly twice, got %v", callCount)
	}
}

func TestIteratorValueZeroBeforeNext(t *testing.T) {
	iter := parking.NewIteratorFunc(func(ctx context.Context) (int, error) {
		return 10, nil
	})

	if v := iter.Value(); v != 0 {
		t.Fatalf("expected Value() to be zero before Next, got %v", v)
	}
}

func TestIteratorNoItems(t *testing.T) {
	iter := parking.NewIteratorFunc(func(ctx context.Context) (int, error) {
		return 0, io.EOF
	})

	items, err := iter.All(t.Context())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(items) != 0 {
		t.Fatalf("expected empty slice, got %v", items)
	}
}

func TestSliceIterator(t *testing.T) {
	iter := parking.NewSliceIterator([]int{4, 5, 2})

	got, err := iter.All(t.Context())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 3 || got[0] != 4 || got[1] != 5 || got[2] != 2 {
		t.Fatalf("unexpected items: %v", got)
	}
}

func TestSliceIterator_ContextCanceled(t *testing.T) {
	iter := parking.NewSliceIterator([]int{1, 2, 3})

	ctx, cancel := context.WithCancel(context.Background())
	if !iter.Next(ctx) {
		t.Fatal("expected first Next() to succeed")
	}
	cancel()

	if iter.Next(ctx) {
		t.Fatal("expected Next() to stop after cancellation")
	}
	if !errors.Is(iter.Err(), context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", iter.Err())
	}
}

func TestIterator_SessionEnvelopes(t *testing.T) {
	iter := fixtures.EnvelopeIteratorFromEvents(fixtures.SessionHistory("452", 2, 30)...)

	envs, err := iter.All(t.Context())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(envs) != 3 {
		t.Fatalf("expected 3 envelopes, got %d", len(envs))
	}
	for i, env := range envs {
		if env.Version != uint64(i+1) {
			t.Errorf("envelope %d: expected version %d, got %d", i, i+1, env.Version)
		}
		if env.StreamID != "452" {
			t.Errorf("envelope %d: expected stream 452, got %s", i, env.StreamID)
		}
	}
}

func TestIterator_FailsMidStream(t *testing.T) {
	wireErr := errors.New("connection reset")
	envs := fixtures.EnvelopesFromEvents(fixtures.SessionHistory("452", 2, 30)...)
	iter := fixtures.FailAfterNIterator(envs, 2, wireErr)

	got, err := iter.All(t.Context())
	if !errors.Is(err, wireErr) {
		t.Fatalf("expected wire error, got %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 envelopes before the failure, got %d", len(got))
	}
}

// Benchmark: simple integer iteration using Next() only
func BenchmarkIteratorNext(b *testing.B) {
	ctx := b.Context()

	for n := 0; n < b.N; n++ {
		items := []int{1, 2, 3, 4, 5}
		i := 0

		iter := parking.NewIteratorFunc(func(ctx context.Context) (int, error) {
			if i >= len(items) {
				return 0, io.EOF
			}
			v := items[i]
			i++
			return v, nil
		})

		for iter.Next(ctx) {
			_ = iter.Value()
		}
	}
}

// Benchmark: using All()
func BenchmarkIteratorAll(b *testing.B) {
	ctx := b.Context()

	for n := 0; n < b.N; n++ {
		items := []int{1, 2, 3, 4, 5}
		i := 0

		iter := parking.NewIteratorFunc(func(ctx context.Context) (int, error) {
			if i >= len(items) {
				return 0, io.EOF
			}
			v := items[i]
			i++
			return v, nil
		})

		_, _ = iter.All(ctx)
	}
}

// Benchmark: iterator that immediately returns EOF (fast path)
func BenchmarkIteratorEOF(b *testing.B) {
	ctx := b.Context()

	iter := parking.NewIteratorFunc(func(ctx context.Context) (int, error) {
		return 0, io.EOF
	})

	for n := 0; n < b.N; n++ {
		_ = iter.Next(ctx)
	}
}
