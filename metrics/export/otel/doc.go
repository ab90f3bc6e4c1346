// Package otel publishes engine counters through an OpenTelemetry Meter.
//
// Each counter becomes an Int64ObservableCounter. The registration latency
// histogram is exposed as one cumulative gauge per bucket plus a count
// gauge. A single callback reads MetricsSnapshot per collection; the caller
// owns the MeterProvider.
package otel
