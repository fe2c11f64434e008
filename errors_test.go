package parking

import (
	"errors"
	"fmt"
	"testing"
)

func TestErrorStrings(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{
			name: "StreamRevisionConflictError",
			err: &StreamRevisionConflictError{
				Stream:           "452",
				ExpectedRevision: Revision(5),
				ActualRevision:   Revision(7),
			},
			want: `stream "452" revision conflict: expected 5, actual 7`,
		},
		{
			name: "ErrSkippedEvent",
			err:  &ErrSkippedEvent{Event: stubEvent{}},
			want: "skipped event of type parking.stubEvent",
		},
		{
			name: "EventStoreError",
			err:  &EventStoreError{Err: errors.New("disk full")},
			want: "eventstore error: disk full",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.err.Error()
			if got != tt.want {
				t.Errorf("Error() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestWrapEventStoreError(t *testing.T) {
	if WrapEventStoreError(nil) != nil {
		t.Fatal("expected nil passthrough")
	}

	cause := errors.New("connection refused")
	wrapped := WrapEventStoreError(cause)

	if !errors.Is(wrapped, cause) {
		t.Fatalf("expected wrapped error to match its cause, got %v", wrapped)
	}
	var storeErr *EventStoreError
	if !errors.As(wrapped, &storeErr) {
		t.Fatalf("expected *EventStoreError, got %T", wrapped)
	}
}

func TestStreamRevisionConflict_MatchesThroughWrapping(t *testing.T) {
	conflict := &StreamRevisionConflictError{Stream: "452", ExpectedRevision: 2, ActualRevision: 3}
	wrapped := fmt.Errorf("save batch: %w", conflict)

	var got *StreamRevisionConflictError
	if !errors.As(wrapped, &got) {
		t.Fatalf("expected conflict through wrapping, got %v", wrapped)
	}
	if got.ExpectedRevision != 2 || got.ActualRevision != 3 {
		t.Fatalf("unexpected revisions: %+v", got)
	}
}

func TestBusinessRuleViolation_ClassMatch(t *testing.T) {
	// Domain packages wrap the sentinel so callers can match the whole class.
	rule := fmt.Errorf("%w: maximum stay exceeded", ErrBusinessRuleViolation)
	rejection := fmt.Errorf("extend session at %q: %w", "452", rule)

	if !errors.Is(rejection, ErrBusinessRuleViolation) {
		t.Fatalf("expected class match, got %v", rejection)
	}
	if !errors.Is(rejection, rule) {
		t.Fatalf("expected specific rule match, got %v", rejection)
	}
}
