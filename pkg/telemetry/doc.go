// Package telemetry provides structured logging, Prometheus metrics, and
// distributed tracing for Cloudwarden. Loggers are zerolog-based and travel
// through context; metrics cover entity lifecycle operations, provider
// transport calls, conflict retries, and readiness polling.
package telemetry
