package observability

// Package observability provides structured logging, Prometheus metrics,
// component health checks and the telemetry sink for cdpilot.
//
// Key features:
// - Structured JSON logging with configurable log levels
// - Prometheus metrics for requests, normalization, bulk fan-out and triggers
// - Metrics flushed to a node-exporter textfile at process exit
// - Health checks for the orchestrator and the trigger history store
