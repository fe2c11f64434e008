package logging

import (
	"context"
	"log/slog"

	"github.com/parkhaus/parking"
)

// WithEventLogging wraps an EventHandler so every event it processes is
// logged with the envelope coordinates carried on the context.
func WithEventLogging(logger *slog.Logger, next parking.EventHandler) parking.EventHandler {
	return parking.NewEventHandlerFunc(func(ctx context.Context, event parking.Event) error {
		l := logger.With(
			"event", event.EventType(),
			"stream-id", parking.StreamIDFromContext(ctx),
			"causation", parking.CausationFromContext(ctx),
			"version", parking.VersionFromContext(ctx),
			"global-version", parking.GlobalVersionFromContext(ctx),
			"aggregateId", parking.AggregateIDFromContext(ctx),
		)

		l.DebugContext(ctx, "event processing started")

		err := next.Handle(ctx, event)

		if err != nil {
			l.ErrorContext(ctx, "error processing event", "error", err)
		} else {
			l.DebugContext(ctx, "event processed successfully")
		}

		return err
	})
}
