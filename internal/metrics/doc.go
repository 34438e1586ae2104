// Package metrics exposes Prometheus metrics for the backing-service managers.
//
// A Collector is passed to each supervisor as its recovery.Observer and to the
// managers for per-operation timing. All series carry a "service" label
// ("database" or "cache").
package metrics
