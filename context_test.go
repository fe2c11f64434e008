package parking

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestContextGetters(t *testing.T) {

	eventID := uuid.New()
	occurredAt := time.Now()
	metadata := map[string]any{"operator": "city-parking"}

	env := &Envelope{
		StreamID:      "session-452",
		Event:         startedStub{ID: "452"},
		EventID:       eventID,
		Version:       7,
		GlobalVersion: 42,
		OccurredAt:    occurredAt,
		Metadata:      metadata,
	}

	ctxWithEnv := WithEnvelope(t.Context(), env)
	emptyCtx := t.Context()

	tests := []struct {
		name string
		ctx  context.Context
		fn   func(context.Context) any
		want any
	}{
		{
			name: "StreamIDFromContext with value",
			ctx:  ctxWithEnv,
			fn:   func(ctx context.Context) any { return StreamIDFromContext(ctx) },
			want: "session-452",
		},
		{
			name: "StreamIDFromContext without value",
			ctx:  emptyCtx,
			fn:   func(ctx context.Context) any { return StreamIDFromContext(ctx) },
			want: "",
		},
		{
			name: "AggregateIDFromContext with value",
			ctx:  ctxWithEnv,
			fn:   func(ctx context.Context) any { return AggregateIDFromContext(ctx) },
			want: "452",
		},
		{
			name: "AggregateIDFromContext without value",
			ctx:  emptyCtx,
			fn:   func(ctx context.Context) any { return AggregateIDFromContext(ctx) },
			want: "",
		},
		{
			name: "EventIDFromContext with value",
			ctx:  ctxWithEnv,
			fn:   func(ctx context.Context) any { return EventIDFromContext(ctx) },
			want: eventID,
		},
		{
			name: "EventIDFromContext without value",
			ctx:  emptyCtx,
			fn:   func(ctx context.Context) any { return EventIDFromContext(ctx) },
			want: uuid.Nil,
		},
		{
			name: "VersionFromContext with value",
			ctx:  ctxWithEnv,
			fn:   func(ctx context.Context) any { return VersionFromContext(ctx) },
			want: uint64(7),
		},
		{
			name: "VersionFromContext without value",
			ctx:  emptyCtx,
			fn:   func(ctx context.Context) any { return VersionFromContext(ctx) },
			want: uint64(0),
		},
		{
			name: "GlobalVersionFromContext with value",
			ctx:  ctxWithEnv,
			fn:   func(ctx context.Context) any { return GlobalVersionFromContext(ctx) },
			want: uint64(42),
		},
		{
			name: "GlobalVersionFromContext without value",
			ctx:  emptyCtx,
			fn:   func(ctx context.Context) any { return GlobalVersionFromContext(ctx) },
			want: uint64(0),
		},
		{
			name: "OccurredAtFromContext with value",
			ctx:  ctxWithEnv,
			fn:   func(ctx context.Context) any { return OccurredAtFromContext(ctx) },
			want: occurredAt,
		},
		{
			name: "OccurredAtFromContext without value",
			ctx:  emptyCtx,
			fn:   func(ctx context.Context) any { return OccurredAtFromContext(ctx) },
			want: time.Time{},
		},
		{
			name: "MetadataFromContext with value",
			ctx:  ctxWithEnv,
			fn:   func(ctx context.Context) any { return MetadataFromContext(ctx) },
			want: metadata,
		},
		{
			name: "MetadataFromContext without value",
			ctx:  emptyCtx,
			fn:   func(ctx context.Context) any { return MetadataFromContext(ctx) },
			want: map[string]any(nil),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.fn(tt.ctx)
			switch want := tt.want.(type) {
			case time.Time:
				if !got.(time.Time).Equal(want) {
					t.Errorf("%s = %v, want %v", tt.name, got, want)
				}
			case map[string]any:
				gotMap := got.(map[string]any)
				if len(gotMap) != len(want) {
					t.Errorf("%s = %v, want %v", tt.name, got, want)
				}
				for k, v := range want {
					if gotMap[k] != v {
						t.Errorf("%s = %v, want %v", tt.name, got, want)
					}
				}
			default:
				if got != want {
					t.Errorf("%s = %v, want %v", tt.name, got, want)
				}
			}
		})
	}
}

func TestCausationContext(t *testing.T) {
	if got := CausationFromContext(t.Context()); got != "" {
		t.Errorf("CausationFromContext on empty context = %q, want \"\"", got)
	}

	env := &Envelope{
		StreamID: "session-452",
		Event:    startedStub{ID: "452"},
		EventID:  uuid.New(),
	}

	// The event bus chains WithCausation onto the envelope context, so both
	// sets of values have to survive together.
	ctx := WithCausation(WithEnvelope(t.Context(), env), env.EventID.String())

	if got := CausationFromContext(ctx); got != env.EventID.String() {
		t.Errorf("CausationFromContext = %q, want %q", got, env.EventID.String())
	}
	if got := StreamIDFromContext(ctx); got != "session-452" {
		t.Errorf("StreamIDFromContext after WithCausation = %q, want %q", got, "session-452")
	}
}
