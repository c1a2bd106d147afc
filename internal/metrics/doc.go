// Package metrics exposes evstore's Prometheus collectors. A Metrics value
// implements eventstore.Instrumentation and the Pebble storage hook, and
// tracks the SQL circuit breaker state.
package metrics
