// Package telemetry turns flowkit lifecycle events into structured logs and
// Prometheus metrics.
package telemetry
