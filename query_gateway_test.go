package parking

import (
	"context"
	"errors"
	"reflect"
	"testing"
)

func TestQueryGateway_HandleQuery(t *testing.T) {
	bus := NewQueryBus()
	RegisterQueryHandler(bus, NewQueryHandlerFunc(func(ctx context.Context, q getSessionQuery) (*sessionResult, error) {
		return &sessionResult{LocationID: q.LocationID, TotalMinutes: 90}, nil
	}))

	gateway := NewQueryGateway[getSessionQuery, *sessionResult](bus)
	result, err := gateway.HandleQuery(context.Background(), getSessionQuery{LocationID: "452"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.LocationID != "452" {
		t.Errorf("LocationID = %q, want %q", result.LocationID, "452")
	}
	if result.TotalMinutes != 90 {
		t.Errorf("TotalMinutes = %d, want 90", result.TotalMinutes)
	}
}

func TestQueryGateway_UnregisteredHandler(t *testing.T) {
	bus := NewQueryBus()
	gateway := NewQueryGateway[getSessionQuery, *sessionResult](bus)

	_, err := gateway.HandleQuery(context.Background(), getSessionQuery{LocationID: "1"})
	if err == nil {
		t.Fatal("expected error for unregistered handler")
	}
	if !errors.Is(err, ErrHandlerNotFound) {
		t.Errorf("error = %v, want %v", err, ErrHandlerNotFound)
	}
}

func TestQueryGateway_MultipleGateways(t *testing.T) {
	bus := NewQueryBus()

	RegisterQueryHandler(bus, NewQueryHandlerFunc(func(ctx context.Context, q getSessionQuery) (*sessionResult, error) {
		return &sessionResult{LocationID: q.LocationID, TotalMinutes: 30}, nil
	}))

	RegisterQueryHandler(bus, NewQueryHandlerFunc(func(ctx context.Context, q listSessionsQuery) (*sessionListResult, error) {
		return &sessionListResult{Locations: []string{"452", "881"}}, nil
	}))

	statusGateway := NewQueryGateway[getSessionQuery, *sessionResult](bus)
	listGateway := NewQueryGateway[listSessionsQuery, *sessionListResult](bus)

	r1, err := statusGateway.HandleQuery(context.Background(), getSessionQuery{LocationID: "783"})
	if err != nil {
		t.Fatalf("statusGateway: unexpected error: %v", err)
	}
	if r1.LocationID != "783" {
		t.Errorf("statusGateway LocationID = %q, want %q", r1.LocationID, "783")
	}

	r2, err := listGateway.HandleQuery(context.Background(), listSessionsQuery{Operator: "city-parking"})
	if err != nil {
		t.Fatalf("listGateway: unexpected error: %v", err)
	}
	want := []string{"452", "881"}
	if !reflect.DeepEqual(r2.Locations, want) {
		t.Errorf("listGateway Locations = %v, want %v", r2.Locations, want)
	}
}

func TestQueryGateway_PropagatesHandlerError(t *testing.T) {
	bus := NewQueryBus()
	RegisterQueryHandler(bus, NewQueryHandlerFunc(func(ctx context.Context, q getSessionQuery) (*sessionResult, error) {
		return nil, errors.New("db connection lost")
	}))

	gateway := NewQueryGateway[getSessionQuery, *sessionResult](bus)
	_, err := gateway.HandleQuery(context.Background(), getSessionQuery{LocationID: "1"})
	if err == nil {
		t.Fatal("expected error")
	}
	if err.Error() != "db connection lost" {
		t.Errorf("error = %q, want %q", err.Error(), "db connection lost")
	}
}

func TestQueryGateway_CancelledContext(t *testing.T) {
	bus := NewQueryBus()
	RegisterQueryHandler(bus, NewQueryHandlerFunc(func(ctx context.Context, q getSessionQuery) (*sessionResult, error) {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return &sessionResult{LocationID: q.LocationID}, nil
	}))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	gateway := NewQueryGateway[getSessionQuery, *sessionResult](bus)
	_, err := gateway.HandleQuery(ctx, getSessionQuery{LocationID: "1"})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("error = %v, want %v", err, context.Canceled)
	}
}
