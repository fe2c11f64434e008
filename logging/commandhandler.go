package logging

import (
	"context"
	"errors"

	"github.com/parkhaus/parking"
	"github.com/sirupsen/logrus"
)

// WithCommandLogging wraps a CommandHandler with logging functionality.
// It logs the command type and aggregate ID before execution, and logs
// failures when the command is rejected or errors out. Business rule
// rejections are logged at warn level since they are expected outcomes.
func WithCommandLogging[C parking.Command](logger *logrus.Entry, next parking.CommandHandler[C]) parking.CommandHandler[C] {
	return func(ctx context.Context, command C) (parking.AppendResult, error) {
		cmdType := parking.TypeName(command)
		logger.WithFields(logrus.Fields{
			"command":     cmdType,
			"aggregateId": command.AggregateID(),
		}).Info("dispatching command")

		result, err := next(ctx, command)
		if err != nil {
			entry := logger.WithFields(logrus.Fields{
				"command":     cmdType,
				"aggregateId": command.AggregateID(),
				"stream":      result.StreamID,
			}).WithError(err)

			if errors.Is(err, parking.ErrBusinessRuleViolation) {
				entry.Warn("command rejected")
			} else {
				entry.Error("command failed")
			}
			return result, err
		}

		logger.WithFields(logrus.Fields{
			"command": cmdType,
			"stream":  result.StreamID,
			"version": result.NextExpectedVersion,
		}).Debug("command handled")

		return result, err
	}
}
