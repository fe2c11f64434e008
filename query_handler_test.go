package parking

import (
	"context"
	"errors"
	"testing"
)

// --- Test types ---

type getSessionQuery struct {
	LocationID string
}

func (q getSessionQuery) ID() string { return q.LocationID }

type sessionResult struct {
	LocationID   string
	TotalMinutes int64
}

// --- Tests ---

func TestNewQueryHandlerFunc(t *testing.T) {
	type ctxKey string

	tests := []struct {
		name        string
		ctx         context.Context
		query       getSessionQuery
		handler     func(ctx context.Context, q getSessionQuery) (*sessionResult, error)
		wantMinutes int64
		wantErr     error
		wantNil     bool
	}{
		{
			name:  "returns result",
			ctx:   context.Background(),
			query: getSessionQuery{LocationID: "452"},
			handler: func(ctx context.Context, q getSessionQuery) (*sessionResult, error) {
				return &sessionResult{LocationID: q.LocationID, TotalMinutes: 90}, nil
			},
			wantMinutes: 90,
		},
		{
			name:  "propagates error",
			ctx:   context.Background(),
			query: getSessionQuery{LocationID: "missing"},
			handler: func(ctx context.Context, q getSessionQuery) (*sessionResult, error) {
				return nil, errors.New("not found")
			},
			wantErr: errors.New("not found"),
			wantNil: true,
		},
		{
			name:  "receives context",
			ctx:   context.WithValue(context.Background(), ctxKey("minutes"), int64(30)),
			query: getSessionQuery{LocationID: "452"},
			handler: func(ctx context.Context, q getSessionQuery) (*sessionResult, error) {
				val := ctx.Value(ctxKey("minutes"))
				return &sessionResult{LocationID: q.LocationID, TotalMinutes: val.(int64)}, nil
			},
			wantMinutes: 30,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewQueryHandlerFunc(tt.handler)
			result, err := h.HandleQuery(tt.ctx, tt.query)

			if tt.wantErr != nil {
				if err == nil {
					t.Fatalf("expected error %q, got nil", tt.wantErr)
				}
				if err.Error() != tt.wantErr.Error() {
					t.Errorf("error = %q, want %q", err, tt.wantErr)
				}
			} else if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}

			if tt.wantNil {
				if result != nil {
					t.Errorf("expected nil result, got %+v", result)
				}
				return
			}

			if result == nil {
				t.Fatal("expected non-nil result")
			}
			if result.TotalMinutes != tt.wantMinutes {
				t.Errorf("TotalMinutes = %d, want %d", result.TotalMinutes, tt.wantMinutes)
			}
		})
	}
}
