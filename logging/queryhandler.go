package logging

import (
	"context"
	"errors"

	"github.com/parkhaus/parking"
	"github.com/sirupsen/logrus"
)

// WithQueryLogging wraps a QueryHandler with logging functionality.
// It logs the query type and ID before execution and logs failures
// afterwards. A missing entity is logged at warn level since absence is an
// expected answer.
func WithQueryLogging[T parking.Query, R parking.ReadModel](logger *logrus.Entry, next parking.QueryHandler[T, R]) parking.QueryHandler[T, R] {
	var zero T
	qryType := parking.TypeName(zero)

	return parking.NewQueryHandlerFunc(func(ctx context.Context, qry T) (R, error) {
		logger.WithFields(logrus.Fields{
			"query": qryType,
			"id":    qry.ID(),
		}).Info("handling query")

		result, err := next.HandleQuery(ctx, qry)
		if err != nil {
			entry := logger.WithFields(logrus.Fields{
				"query": qryType,
				"id":    qry.ID(),
			}).WithError(err)

			if errors.Is(err, parking.ErrStreamNotFound) {
				entry.Warn("query answered: entity not found")
			} else {
				entry.Error("query failed")
			}
			return result, err
		}

		logger.WithFields(logrus.Fields{
			"query": qryType,
			"id":    qry.ID(),
		}).Debug("query handled")

		return result, err
	})
}
