package parking

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
)

// StreamNamer produces the stream name for a given command, with access to context.
type StreamNamer func(ctx context.Context, cmd Command) string

// DefaultStreamNamer is the default function used to determine the stream name
// for a given command when no custom StreamNamer is provided.
//
// By default, it returns the AggregateID of the command as the stream name, so
// a parking session at location "452" lives in stream "452".
//
// This variable can be overridden globally to change the default behavior
// for all command handlers, for example to support multi-tenancy, prefixes,
// or other custom naming conventions.
//
// Example usage:
//
//	// Default behavior uses AggregateID
//	stream := DefaultStreamNamer(ctx, myCommand)
//
//	// Override globally
//	DefaultStreamNamer = func(ctx context.Context, cmd Command) string {
//	    operator := ctx.Value("operator").(string)
//	    return fmt.Sprintf("%s-sessions-%s", operator, cmd.AggregateID())
//	}
var DefaultStreamNamer StreamNamer = func(ctx context.Context, cmd Command) string {
	return cmd.AggregateID()
}

// CommandHandler defines a function type for handling commands of a specific type.
//
// C represents the concrete command type implementing the Command interface.
//
// A CommandHandler is responsible for implementing the business logic associated
// with a command. This typically includes validation, orchestration, and producing
// side effects, such as persisting events to an EventStore.
//
// Handlers of this type are generally registered with a CommandBus, which ensures
// that commands are dispatched to the correct handler based on their type.
//
// Parameters:
//   - ctx: The context for controlling cancellation, deadlines, and carrying request-scoped values.
//   - command: The command of type C, representing the intent to perform a domain action.
//
// Returns:
//   - AppendResult: The result of handling the command, including success status
//     and the next expected version of the stream.
//   - error: Non-nil if the command handling failed, e.g., due to validation errors,
//     business rule violations, or persistence failures.
//
// Notes:
//   - Implementations should treat the command as immutable.
//   - Any domain state change should be expressed via persisted events rather
//     than by mutating shared state directly.
//   - Handlers should not panic; all errors should be returned via the error return value.
type CommandHandler[C Command] func(ctx context.Context, command C) (AppendResult, error)

// Evolver folds one historical envelope into the current state, producing the
// next state.
//
// T represents the aggregate state type.
//
// Evolvers are fallible: history the evolver cannot interpret (an unknown
// event kind, or a fact that is illegal at its position in the stream) is a
// data-integrity defect, and the fold must stop rather than guess. The command
// handler treats such errors as permanent.
type Evolver[T any] func(currentState T, envelope *Envelope) (T, error)

// Decider determines which events should occur based on the current state and a command.
//
// T represents the aggregate state type.
// C represents the command type.
//
// Parameters:
//   - state: The current aggregate state as produced by the Evolver.
//   - cmd: The command to handle, containing the intent to change state.
//
// Returns:
//   - A slice of Event values that record the accepted change.
//   - An error, non-nil if the command violates business rules or cannot be
//     applied to the current state.
//
// Notes:
//   - The Decider must not mutate the input state; it produces events that,
//     when folded via the Evolver, update the state accordingly.
//   - Returning an empty slice indicates the command had no effect.
type Decider[T any, C Command] func(state T, cmd C) ([]Event, error)

// CommandHandlerOption defines a function type that modifies handlerOptions.
// These options are applied when constructing a NewCommandHandler to customize behavior.
type CommandHandlerOption func(configuration *handlerOptions)

// NewCommandHandler returns a generic command handler for any aggregate type.
//
// It provides a reusable pattern for handling commands in an event-sourced system
// by performing the following steps:
//  1. Load the event history for the aggregate (using LoadStreamFrom).
//  2. Fold the history into the current state with the Evolver.
//  3. Decide which new events should occur based on the command and current state.
//  4. Wrap the decided events in envelopes, assigning version numbers and metadata.
//  5. Persist the envelopes to the EventStore, respecting the configured revision
//     and concurrency rules.
//
// Parameters:
//   - store: The EventStore used to load and persist events.
//   - initialState: The state an instance has before any event is applied.
//   - evolve: An Evolver[T] reconstructing aggregate state from the event history.
//   - decide: A Decider[T, C] producing events for the command and current state.
//   - opts: Optional CommandHandlerOption values, such as WithRevision or
//     WithRetryStrategy.
//
// Behavior Details:
//   - The stream is named by the configured StreamNamer; the default uses the
//     command's AggregateID.
//   - A stream that does not exist yet is treated as empty history, so the
//     first command for an aggregate decides against the initial state.
//   - Fold errors and decide errors are permanent; they are never retried.
//   - If the configured StreamState is Revision, it is updated to the latest
//     observed version before saving, giving optimistic concurrency control.
//   - On *StreamRevisionConflictError from Save, handling is retried per the
//     configured backoff, reloading only the events appended since the last
//     fold.
//   - If decide returns no events, the handler reports success without saving.
//
// Example Usage:
//
//	blank, _ := session.New("452")
//	handler := parking.NewCommandHandler(store, *blank, session.Evolve, session.Decide,
//	    parking.WithRevision(parking.Revision(0)),
//	    parking.WithRetryStrategy(backoff.NewExponentialBackOff()),
//	)
//	result, err := handler(ctx, session.ExtendSession{LocationID: "452", ByMinutes: 30})
func NewCommandHandler[T any, C Command](
	store EventStore,
	initialState T,
	evolve Evolver[T],
	decide Decider[T, C],
	opts ...CommandHandlerOption,
) CommandHandler[C] {
	return func(ctx context.Context, command C) (AppendResult, error) {
		// Options are applied per call; the retry loop below mutates the
		// revision expectation and must not share it across commands.
		cfg := &handlerOptions{
			Revision:      Any{},
			RetryStrategy: &backoff.StopBackOff{},
			MetadataFuncs: []func(ctx context.Context) map[string]any{},
			StreamNamer:   DefaultStreamNamer,
		}
		for _, o := range opts {
			o(cfg)
		}

		var stream = cfg.StreamNamer(ctx, command)

		state := initialState
		var revision uint64
		result, err := backoff.RetryWithData(func() (AppendResult, error) {

			// --- Load history ---
			iter, err := store.LoadStreamFrom(ctx, stream, revision)
			if err != nil && !errors.Is(err, ErrStreamNotFound) {
				return AppendResult{Successful: false, StreamID: stream},
					backoff.Permanent(fmt.Errorf("handle command %T for aggregate %q (stream %q): load failed: %w", command, command.AggregateID(), stream, err))
			}

			if iter != nil {
				for iter.Next(ctx) {
					envelope := iter.Value()
					revision = envelope.Version
					state, err = evolve(state, envelope)
					if err != nil {
						return AppendResult{Successful: false, StreamID: stream},
							backoff.Permanent(fmt.Errorf("handle command %T for aggregate %q (stream %q): fold failed at version %d: %w", command, command.AggregateID(), stream, revision, err))
					}
				}

				// Remote stores only learn the stream is missing on the first
				// read, so not-found may surface here instead of above.
				if err := iter.Err(); err != nil && !errors.Is(err, ErrStreamNotFound) {
					return AppendResult{Successful: false, StreamID: stream},
						fmt.Errorf("handle command %T for aggregate %q (stream %q): iter failed: %w", command, command.AggregateID(), stream, err)
				}
			}

			// Update the expectation to the latest observed version when the
			// caller asked for an explicit revision check.
			if _, ok := cfg.Revision.(Revision); ok {
				cfg.Revision = Revision(revision)
			}

			// --- Decide events ---
			events, err := decide(state, command)
			if err != nil {
				return AppendResult{Successful: false, StreamID: stream},
					backoff.Permanent(fmt.Errorf("handle command %T for aggregate %q (stream %q): %w", command, command.AggregateID(), stream, err))
			}

			// Nothing to persist.
			if len(events) == 0 {
				return AppendResult{Successful: true, StreamID: stream, NextExpectedVersion: revision}, nil
			}

			// --- Wrap events in envelopes ---
			envelopes := make([]Envelope, len(events))
			baseMetadata := make(map[string]any)
			for _, fn := range cfg.MetadataFuncs {
				for k, v := range fn(ctx) {
					baseMetadata[k] = v
				}
			}

			expectedVersion := revision
			for i, event := range events {
				expectedVersion++
				envelopes[i] = Envelope{
					EventID:    uuid.New(),
					StreamID:   stream,
					Event:      event,
					Metadata:   baseMetadata,
					Version:    expectedVersion,
					OccurredAt: time.Now(),
				}
			}

			// --- Persist events ---
			result, err := store.Save(ctx, envelopes, cfg.Revision)
			if err != nil {
				var conflict *StreamRevisionConflictError
				if errors.As(err, &conflict) {
					// Another writer appended first; reload and retry.
					return AppendResult{Successful: false, StreamID: stream, NextExpectedVersion: revision}, conflict
				}
				return result, backoff.Permanent(fmt.Errorf("handle command %T for aggregate %q (stream %q): failed to save events: %w", command, command.AggregateID(), stream, err))
			}
			return result, nil
		}, cfg.RetryStrategy)

		return result, err
	}
}

// handlerOptions defines configuration for a CommandHandler.
//
// It is used internally by NewCommandHandler to control behavior such as
// concurrency checks, retry strategy, and event metadata enrichment.
type handlerOptions struct {
	// Revision is the condition applied when saving events to the stream.
	// It determines the concurrency check behavior (default is Any).
	Revision StreamState

	// RetryStrategy defines how the handler retries on revision conflicts.
	// The default performs no retries.
	RetryStrategy backoff.BackOff

	// MetadataFuncs is a list of functions used to enrich events with metadata
	// before saving. Each receives the context and returns key-value pairs.
	MetadataFuncs []func(ctx context.Context) map[string]any

	// StreamNamer produces the name of the event stream for a command.
	// If nil, DefaultStreamNamer is used.
	StreamNamer StreamNamer
}

// WithRevision sets the expected stream revision for a NewCommandHandler.
//
// The StreamState controls the concurrency check when persisting events. For example:
//   - Any{}: no version check (default)
//   - NoStream{}: ensures the stream does not exist
//   - StreamExists{}: ensures the stream exists
//   - Revision(n): expects the stream to be at version n
//
// Usage:
//
//	handler := NewCommandHandler(store, initialState, evolve, decide, WithRevision(Revision(0)))
func WithRevision(rev StreamState) CommandHandlerOption {
	return func(cfg *handlerOptions) { cfg.Revision = rev }
}

// WithRetryStrategy sets the retry strategy for a NewCommandHandler.
//
// The BackOff strategy controls how many times and with what delay the handler
// retries saving events after a revision conflict.
//
// Usage:
//
//	handler := NewCommandHandler(store, initialState, evolve, decide, WithRetryStrategy(myBackoff))
func WithRetryStrategy(strategy backoff.BackOff) CommandHandlerOption {
	return func(cfg *handlerOptions) { cfg.RetryStrategy = strategy }
}

// WithMetadataExtractor adds a metadata function to a NewCommandHandler.
//
// Each metadata function is called for every command handling execution and can
// inject additional key-value pairs into the event envelopes. Multiple metadata
// extractors can be combined; they are applied in order of registration.
//
// Usage:
//
//	handler := NewCommandHandler(store, initialState, evolve, decide, WithMetadataExtractor(myMetadataFunc))
func WithMetadataExtractor(fn func(ctx context.Context) map[string]any) CommandHandlerOption {
	return func(h *handlerOptions) {
		h.MetadataFuncs = append(h.MetadataFuncs, fn)
	}
}

// WithStreamNamer sets the stream naming function for a NewCommandHandler.
//
// Usage:
//
//	handler := NewCommandHandler(store, initialState, evolve, decide,
//	    WithStreamNamer(func(ctx context.Context, cmd Command) string {
//	        return "session-" + cmd.AggregateID()
//	    }))
func WithStreamNamer(namer StreamNamer) CommandHandlerOption {
	return func(h *handlerOptions) {
		h.StreamNamer = namer
	}
}
