package middleware

import (
	"context"
	"log/slog"
	"time"

	"github.com/tidemark/orderflow/order"
	"github.com/tidemark/orderflow/stage"
)

// Logging returns middleware that logs stage start and outcome.
func Logging(logger *slog.Logger) Middleware {
	return func(ctx context.Context, o *order.Order, stageName string, next Handler) stage.Result {
		logger.Info("stage started",
			slog.String("stage", stageName),
			slog.String("order_id", o.ID.String()),
			slog.String("status", string(o.Status)),
			slog.Int("attempt", o.AttemptCount(stageName)+1),
		)

		start := time.Now()
		res := next(ctx)
		elapsed := time.Since(start)

		switch res.Status {
		case stage.StatusSuccess:
			logger.Info("stage completed",
				slog.String("stage", stageName),
				slog.String("order_id", o.ID.String()),
				slog.Duration("elapsed", elapsed),
			)
		default:
			logger.Error("stage failed",
				slog.String("stage", stageName),
				slog.String("order_id", o.ID.String()),
				slog.String("outcome", string(res.Status)),
				slog.Duration("elapsed", elapsed),
				slog.String("detail", res.Detail),
			)
		}

		return res
	}
}
