package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// MediaMetrics contains Prometheus metrics for metadata store operations
type MediaMetrics struct {
	registry *prometheus.Registry

	operationsTotal    *prometheus.CounterVec
	operationDuration  *prometheus.HistogramVec
	detectionBatchSize prometheus.Histogram

	collectors []prometheus.Collector
}

// NewMediaMetrics creates and registers new media metrics
func NewMediaMetrics(registry *prometheus.Registry) (*MediaMetrics, error) {
	m := &MediaMetrics{registry: registry}
	m.initMetrics()
	for _, collector := range m.collectors {
		if err := registry.Register(collector); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *MediaMetrics) initMetrics() {
	m.operationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "media_operations_total",
			Help: "Total number of metadata store operations",
		},
		[]string{"operation", "status"}, // operation: create, apply_detections, delete, set_thumbnail, modify_tags
	)

	m.operationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "media_operation_duration_seconds",
			Help:    "Time taken for metadata store operations",
			Buckets: prometheus.ExponentialBuckets(BucketStart1ms, BucketFactor2, BucketCount15),
		},
		[]string{"operation"},
	)

	m.detectionBatchSize = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "media_detection_batch_size",
			Help:    "Number of species entries per applied detection batch",
			Buckets: prometheus.ExponentialBuckets(1, 2, 10), // 1 to 512
		},
	)

	m.collectors = []prometheus.Collector{
		m.operationsTotal,
		m.operationDuration,
		m.detectionBatchSize,
	}
}

// RecordOperation increments the operation counter
func (m *MediaMetrics) RecordOperation(operation, status string) {
	m.operationsTotal.WithLabelValues(operation, status).Inc()
}

// RecordOperationDuration observes an operation's duration in seconds
func (m *MediaMetrics) RecordOperationDuration(operation string, seconds float64) {
	m.operationDuration.WithLabelValues(operation).Observe(seconds)
}

// RecordDetectionBatchSize observes the size of one detection batch
func (m *MediaMetrics) RecordDetectionBatchSize(size int) {
	m.detectionBatchSize.Observe(float64(size))
}
