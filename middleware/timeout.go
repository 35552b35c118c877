package middleware

import (
	"context"
	"time"

	"github.com/tidemark/orderflow/order"
	"github.com/tidemark/orderflow/stage"
)

// Timeout returns middleware that enforces a per-stage execution
// deadline. When the deadline is exceeded the context is cancelled and
// the worker surfaces the cancellation as a transient failure, which the
// retry policy then bounds. A zero duration disables the deadline.
func Timeout(d time.Duration) Middleware {
	return func(ctx context.Context, _ *order.Order, _ string, next Handler) stage.Result {
		if d > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, d)
			defer cancel()
		}
		return next(ctx)
	}
}
