// Package observability provides an OpenTelemetry-based metrics extension
// for orderflow. The MetricsExtension implements lifecycle hooks to record
// system-wide counters for order creation, stage outcomes, retries,
// compensation, terminal states, and dead-lettered events.
//
// For per-execution tracing and metrics, see the middleware package:
// middleware.Tracing() and middleware.Metrics().
package observability
