// Package metrics provides Prometheus metrics for the metadata store, query
// engine and notification dispatcher.
package metrics

// Shared histogram bucket parameters so durations are comparable across
// components.
const (
	BucketStart1ms = 0.001
	BucketFactor2  = 2.0
	BucketCount15  = 15 // 1ms to ~16s
)
