// Package prometheus exposes engine counters as a client_golang Collector.
//
// Counters are published as userauth_*_total and the registration latency
// as the userauth_register_latency_seconds histogram. Values are read from
// MetricsSnapshot at scrape time; nothing is registered globally.
package prometheus
