// Package engine wires all orderflow subsystems together and provides
// the primary application-level API for creating and inspecting orders.
//
// The engine package exists to break a fundamental import cycle: the root
// orderflow package defines Entity and the sentinel errors (imported by
// order, stage, dlq, etc.) and therefore cannot import those packages
// back. Engine sits above all subsystem packages and below the
// application layer.
//
// # Building an Engine
//
//	c, err := orderflow.New(
//	    orderflow.WithStore(pgStore),
//	    orderflow.WithConcurrency(8),
//	)
//
//	eng, err := engine.Build(c,
//	    engine.WithCapturer(stripeCapturer),
//	    engine.WithSender(sesSender),
//	    engine.WithExtension(myExtension),
//	    engine.WithMiddleware(myMiddleware),
//	)
//
//	eng.Start(ctx)
//	defer eng.Stop(ctx)
//
// # Submitting and Reading Orders
//
//	o, err := eng.CreateOrder(ctx, customer, items, addr, "card")
//	o, err = eng.GetOrder(ctx, o.ID)
//	list, err := eng.ListOrders(ctx, order.ListOpts{Status: order.StatusCompleted})
//
// CreateOrder persists the order and seeds its first change event; the
// processor pool picks the event up and drives the order through the
// pipeline without further application involvement.
//
// # Dead Letters
//
//	entries, err := eng.ListDeadLetters(ctx, dlq.ListOpts{Limit: 50})
//	evt, err := eng.ReplayDeadLetter(ctx, entries[0].ID)
//
// # Options
//
//   - [WithCapturer] — set the payment processor integration
//   - [WithSender] — set the notification delivery integration
//   - [WithExtension] — register a lifecycle extension
//   - [WithMiddleware] — add a middleware to the stage execution chain
//   - [WithPolicies] — override the per-stage retry policies
//   - [WithChangeLog] — use an external change log implementation
//   - [WithRateLimit] — throttle event processing pool-wide
//   - [WithDeliveryBound] — override the poison-event delivery cap
//   - [WithJanitor] — enable background maintenance sweeps
//   - [WithTracerProvider] — set the OpenTelemetry tracer provider
//   - [WithMeterProvider] — set the OpenTelemetry meter provider
package engine
