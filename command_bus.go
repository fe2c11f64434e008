package parking

import (
	"context"
	"fmt"
	"hash/fnv"
	"sync"
)

// queuedCommand represents a command enqueued in the command bus for processing.
// Each queuedCommand includes the context for cancellation, the command itself,
// and a response channel to return the processing result.
type queuedCommand struct {
	Ctx        context.Context
	Command    Command
	ResponseCh chan<- commandResult
}

// commandResult represents the result of processing a command.
type commandResult struct {
	Result AppendResult
	Err    error
}

// CommandBus is an in-memory, type-safe command dispatcher.
//
// Commands are hashed onto a fixed set of shard queues by aggregate ID, so all
// commands for one parking session are processed by the same worker in FIFO
// order. That ordering is what gives the session aggregate its single-writer
// guarantee inside one process.
//
// The bus supports:
//   - Enqueuing commands for processing while the caller waits on the result
//   - Typed command registration using generics
//   - Safe shutdown that waits for in-flight commands to complete
//   - Panic recovery in handlers so a defect cannot take the bus down
type CommandBus struct {
	handlers   map[string]func(ctx context.Context, command Command) (AppendResult, error)
	queues     []chan queuedCommand
	stopCh     chan struct{}
	wg         sync.WaitGroup
	mu         sync.RWMutex
	shardCount int
}

// NewCommandBus creates a command bus with the given per-shard queue buffer
// and shard count. Worker goroutines are started immediately.
//
// Example:
//
//	bus := NewCommandBus(100, 4)
func NewCommandBus(bufferSize int, shardCount int) *CommandBus {
	if shardCount <= 0 {
		shardCount = 1
	}

	bus := &CommandBus{
		queues:     make([]chan queuedCommand, shardCount),
		handlers:   make(map[string]func(ctx context.Context, command Command) (AppendResult, error)),
		stopCh:     make(chan struct{}),
		shardCount: shardCount,
	}

	for i := 0; i < shardCount; i++ {
		bus.queues[i] = make(chan queuedCommand, bufferSize)
		go bus.worker(bus.queues[i])
	}

	return bus
}

// Dispatch enqueues a command for processing by the registered handler and
// waits for the result. It is safe to call concurrently.
//
// Returns an error immediately if the bus has been stopped, and propagates
// context cancellation both while waiting for a queue slot and while waiting
// for the handler.
func (b *CommandBus) Dispatch(ctx context.Context, cmd Command) (AppendResult, error) {
	select {
	case <-b.stopCh:
		return AppendResult{Successful: false}, fmt.Errorf("command bus is stopped")
	default:
	}

	responseCh := make(chan commandResult, 1)
	b.wg.Add(1)
	defer b.wg.Done()

	shard := b.getShard(cmd.AggregateID())

	select {
	case b.queues[shard] <- queuedCommand{Ctx: ctx, Command: cmd, ResponseCh: responseCh}:
		select {
		case result := <-responseCh:
			return result.Result, result.Err
		case <-ctx.Done():
			return AppendResult{Successful: false}, ctx.Err()
		}
	case <-ctx.Done():
		return AppendResult{Successful: false}, ctx.Err()
	}
}

// worker processes commands from a single shard queue.
func (b *CommandBus) worker(queue chan queuedCommand) {
	for cmd := range queue {
		cmdName := TypeName(cmd.Command)

		b.mu.RLock()
		h, exists := b.handlers[cmdName]
		b.mu.RUnlock()

		if !exists {
			cmd.ResponseCh <- commandResult{
				Result: AppendResult{Successful: false},
				Err:    fmt.Errorf("no handler for command %s: %w", cmdName, ErrHandlerNotFound),
			}
			continue
		}

		func() {
			defer func() {
				if r := recover(); r != nil {
					cmd.ResponseCh <- commandResult{
						Result: AppendResult{Successful: false},
						Err:    fmt.Errorf("panic in handler: %v", r),
					}
				}
			}()

			res, err := h(cmd.Ctx, cmd.Command)
			cmd.ResponseCh <- commandResult{Result: res, Err: err}
		}()
	}
}

func (b *CommandBus) getShard(aggregateID string) int {
	hash := fnv.New32a()
	hash.Write([]byte(aggregateID))
	return int(hash.Sum32()) % b.shardCount
}

// Register adds a typed command handler to the bus.
//
// The command type name is derived from C, so callers never maintain
// registration strings by hand. Panics with ErrDuplicateHandler if a handler
// for the same command type is already present; registration happens during
// wiring, where a duplicate is a programming error.
//
// Example:
//
//	parking.Register(bus, extendHandler)
func Register[C Command](b *CommandBus, handler CommandHandler[C]) {
	cmdName := TypeName((*C)(nil))
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, exists := b.handlers[cmdName]; exists {
		panic(fmt.Errorf("handler already registered for command type %s: %w", cmdName, ErrDuplicateHandler))
	}

	b.handlers[cmdName] = func(ctx context.Context, cmd Command) (AppendResult, error) {
		c, ok := cmd.(C)
		if !ok {
			return AppendResult{Successful: false}, fmt.Errorf("expected command type %s but got %T", cmdName, cmd)
		}
		return handler(ctx, c)
	}
}

// Stop shuts down the bus: it stops accepting new commands, closes the shard
// queues, and waits for all in-flight commands to finish.
func (b *CommandBus) Stop() {
	close(b.stopCh)
	for _, q := range b.queues {
		close(q)
	}
	b.wg.Wait()
}
