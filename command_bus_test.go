package parking

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// ---- Test Stubs ----

type extendCmd struct {
	Location string
}

func (c extendCmd) AggregateID() string { return c.Location }

type endCmd struct {
	Location string
}

func (c endCmd) AggregateID() string { return c.Location }

// ---- Tests ----

func TestCommandBus_Success(t *testing.T) {
	bus := NewCommandBus(10, 2)
	defer bus.Stop()

	Register(bus, func(ctx context.Context, cmd extendCmd) (AppendResult, error) {
		return AppendResult{Successful: true, StreamID: cmd.Location, NextExpectedVersion: 3}, nil
	})

	res, err := bus.Dispatch(context.Background(), extendCmd{Location: "452"})

	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if !res.Successful || res.StreamID != "452" || res.NextExpectedVersion != 3 {
		t.Fatalf("unexpected result: %+v", res)
	}
}

func TestCommandBus_RoutesByCommandType(t *testing.T) {
	bus := NewCommandBus(10, 2)
	defer bus.Stop()

	var extends, ends int32
	Register(bus, func(ctx context.Context, cmd extendCmd) (AppendResult, error) {
		atomic.AddInt32(&extends, 1)
		return AppendResult{Successful: true}, nil
	})
	Register(bus, func(ctx context.Context, cmd endCmd) (AppendResult, error) {
		atomic.AddInt32(&ends, 1)
		return AppendResult{Successful: true}, nil
	})

	if _, err := bus.Dispatch(context.Background(), extendCmd{Location: "452"}); err != nil {
		t.Fatalf("dispatch extend: %v", err)
	}
	if _, err := bus.Dispatch(context.Background(), endCmd{Location: "452"}); err != nil {
		t.Fatalf("dispatch end: %v", err)
	}

	if extends != 1 || ends != 1 {
		t.Fatalf("expected each handler called once, got extends=%d ends=%d", extends, ends)
	}
}

func TestCommandBus_NoHandler(t *testing.T) {
	bus := NewCommandBus(10, 1)
	defer bus.Stop()

	_, err := bus.Dispatch(context.Background(), extendCmd{Location: "nowhere"})

	if !errors.Is(err, ErrHandlerNotFound) {
		t.Fatalf("expected ErrHandlerNotFound, got %v", err)
	}
}

func TestCommandBus_HandlerPanic(t *testing.T) {
	bus := NewCommandBus(10, 1)
	defer bus.Stop()

	Register(bus, func(ctx context.Context, cmd extendCmd) (AppendResult, error) {
		panic("boom")
	})

	_, err := bus.Dispatch(context.Background(), extendCmd{Location: "452"})

	if err == nil || err.Error() == "" {
		t.Fatalf("expected panic recovery error")
	}

	// The worker must survive the panic.
	Register(bus, func(ctx context.Context, cmd endCmd) (AppendResult, error) {
		return AppendResult{Successful: true}, nil
	})
	if _, err := bus.Dispatch(context.Background(), endCmd{Location: "452"}); err != nil {
		t.Fatalf("worker died after panic: %v", err)
	}
}

func TestCommandBus_ContextCancelBeforeEnqueue(t *testing.T) {
	bus := NewCommandBus(0, 1) // zero buffer so enqueue blocks
	defer bus.Stop()

	Register(bus, func(ctx context.Context, cmd extendCmd) (AppendResult, error) {
		return AppendResult{Successful: true}, nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := bus.Dispatch(ctx, extendCmd{Location: "452"})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestCommandBus_ContextCancelWhileWaiting(t *testing.T) {
	bus := NewCommandBus(10, 1)
	defer bus.Stop()

	Register(bus, func(ctx context.Context, cmd extendCmd) (AppendResult, error) {
		time.Sleep(200 * time.Millisecond)
		return AppendResult{Successful: true}, nil
	})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := bus.Dispatch(ctx, extendCmd{Location: "452"})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline error, got %v", err)
	}
}

func TestRegister_DuplicateHandlerPanics(t *testing.T) {
	bus := NewCommandBus(10, 1)
	defer bus.Stop()

	Register(bus, func(ctx context.Context, cmd extendCmd) (AppendResult, error) {
		return AppendResult{Successful: true}, nil
	})

	defer func() {
		r := recover()
		if r == nil {
			t.Fatalf("expected panic on duplicate handler")
		}
		err, ok := r.(error)
		if !ok || !errors.Is(err, ErrDuplicateHandler) {
			t.Fatalf("expected ErrDuplicateHandler, got %v", r)
		}
	}()

	Register(bus, func(ctx context.Context, cmd extendCmd) (AppendResult, error) {
		return AppendResult{Successful: true}, nil
	})
}

func TestCommandBus_Stop(t *testing.T) {
	bus := NewCommandBus(10, 1)

	Register(bus, func(ctx context.Context, cmd extendCmd) (AppendResult, error) {
		return AppendResult{Successful: true}, nil
	})

	if _, err := bus.Dispatch(context.Background(), extendCmd{Location: "452"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	bus.Stop()

	if _, err := bus.Dispatch(context.Background(), extendCmd{Location: "452"}); err == nil {
		t.Fatalf("expected error after Stop")
	}
}

func TestCommandBus_ShardDeterministic(t *testing.T) {
	bus := NewCommandBus(10, 3)
	defer bus.Stop()

	s1 := bus.getShard("452")
	s2 := bus.getShard("452")
	s3 := bus.getShard("881")

	if s1 != s2 {
		t.Fatalf("shard hashing not deterministic")
	}
	if s1 == s3 {
		t.Fatalf("different IDs should likely map to different shards")
	}
}

func TestCommandBus_SerializesPerAggregate(t *testing.T) {
	bus := NewCommandBus(16, 4)
	defer bus.Stop()

	var inFlight atomic.Int32
	var overlaps atomic.Int32
	Register(bus, func(ctx context.Context, cmd extendCmd) (AppendResult, error) {
		if !inFlight.CompareAndSwap(0, 1) {
			overlaps.Add(1)
		}
		time.Sleep(time.Millisecond)
		inFlight.Store(0)
		return AppendResult{Successful: true}, nil
	})

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := bus.Dispatch(context.Background(), extendCmd{Location: "452"}); err != nil {
				t.Errorf("dispatch: %v", err)
			}
		}()
	}
	wg.Wait()

	if n := overlaps.Load(); n != 0 {
		t.Fatalf("commands for one aggregate ran concurrently %d times", n)
	}
}
