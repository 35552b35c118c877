// Package middleware provides composable middleware for stage execution.
// Middleware wraps worker calls synchronously and can modify execution
// (recover from panics, enforce deadlines, log, add tracing, etc.).
package middleware

import (
	"context"

	"github.com/tidemark/orderflow/order"
	"github.com/tidemark/orderflow/stage"
)

// Handler is the terminal function that executes stage logic.
type Handler func(ctx context.Context) stage.Result

// Middleware wraps a Handler with cross-cutting logic.
// It receives the current context, the order being driven, the stage
// name, and the next handler to call. Middleware MUST call next to
// continue the chain (unless short-circuiting on failure).
type Middleware func(ctx context.Context, o *order.Order, stageName string, next Handler) stage.Result

// Chain composes multiple middleware into a single Middleware.
// Middleware are applied right-to-left: the first middleware in the
// list is the outermost wrapper.
//
// Example: Chain(recover, logging, timeout) executes as:
//
//	recover → logging → timeout → worker
func Chain(mws ...Middleware) Middleware {
	return func(ctx context.Context, o *order.Order, stageName string, next Handler) stage.Result {
		// Build the chain from the end backwards.
		h := next
		for i := len(mws) - 1; i >= 0; i-- {
			mw := mws[i]
			prev := h
			h = func(ctx context.Context) stage.Result {
				return mw(ctx, o, stageName, prev)
			}
		}
		return h(ctx)
	}
}
