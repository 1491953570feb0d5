// Package prometheus exports authcore engine metrics through
// client_golang. Register a [Collector] with your own registry, or mount
// [Handler] which serves it from a private one.
//
// Counters are named authcore_*_total and the latency histogram is
// authcore_authenticate_latency_seconds.
package prometheus
