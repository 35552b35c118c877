package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"

	"github.com/tidemark/orderflow/order"
	"github.com/tidemark/orderflow/stage"
)

// Recover returns middleware that recovers from panics in the worker
// chain. Panics are converted to transient failures and logged with a
// stack trace, so the retry policy bounds a persistently crashing stage
// the same way it bounds any other repeated failure.
func Recover(logger *slog.Logger) Middleware {
	return func(ctx context.Context, o *order.Order, stageName string, next Handler) (res stage.Result) {
		defer func() {
			if r := recover(); r != nil {
				stack := string(debug.Stack())
				logger.Error("stage worker panicked",
					slog.String("stage", stageName),
					slog.String("order_id", o.ID.String()),
					slog.Any("panic", r),
					slog.String("stack", stack),
				)
				res = stage.Transient(fmt.Errorf("panic in stage %s: %v", stageName, r))
			}
		}()
		return next(ctx)
	}
}
