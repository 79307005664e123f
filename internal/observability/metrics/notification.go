package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// NotificationMetrics contains Prometheus metrics for subscription matching
// and notification dispatch
type NotificationMetrics struct {
	registry *prometheus.Registry

	matchesTotal        *prometheus.CounterVec
	dedupeSuppressed    *prometheus.CounterVec
	deliveriesTotal     *prometheus.CounterVec
	deliveryRetries     prometheus.Counter
	deliveryDuration    prometheus.Histogram
	circuitBreakerState prometheus.Gauge

	collectors []prometheus.Collector
}

// NewNotificationMetrics creates and registers new notification metrics
func NewNotificationMetrics(registry *prometheus.Registry) (*NotificationMetrics, error) {
	m := &NotificationMetrics{registry: registry}
	m.initMetrics()
	for _, collector := range m.collectors {
		if err := registry.Register(collector); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *NotificationMetrics) initMetrics() {
	m.matchesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notification_matches_total",
			Help: "Subscription matches found while processing detection events",
		},
		[]string{"tag"},
	)

	m.dedupeSuppressed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notification_dedupe_suppressed_total",
			Help: "Notification events suppressed by the dedupe machinery",
		},
		[]string{"layer"}, // layer: cache, ledger, claim
	)

	m.deliveriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notification_deliveries_total",
			Help: "Delivery handoff attempts by final outcome",
		},
		[]string{"outcome"}, // outcome: ack, permanent_failure, exhausted, rejected
	)

	m.deliveryRetries = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "notification_delivery_retries_total",
			Help: "Delivery attempts retried after a transient failure",
		},
	)

	m.deliveryDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "notification_delivery_duration_seconds",
			Help:    "Time from match to final delivery outcome",
			Buckets: prometheus.ExponentialBuckets(BucketStart1ms, BucketFactor2, BucketCount15),
		},
	)

	m.circuitBreakerState = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "notification_circuit_breaker_state",
			Help: "Delivery circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
	)

	m.collectors = []prometheus.Collector{
		m.matchesTotal,
		m.dedupeSuppressed,
		m.deliveriesTotal,
		m.deliveryRetries,
		m.deliveryDuration,
		m.circuitBreakerState,
	}
}

// RecordMatch counts one subscription match for a tag
func (m *NotificationMetrics) RecordMatch(tag string) {
	m.matchesTotal.WithLabelValues(tag).Inc()
}

// RecordDedupeSuppressed counts one suppression at the given layer
func (m *NotificationMetrics) RecordDedupeSuppressed(layer string) {
	m.dedupeSuppressed.WithLabelValues(layer).Inc()
}

// RecordDelivery counts one delivery handoff by outcome
func (m *NotificationMetrics) RecordDelivery(outcome string) {
	m.deliveriesTotal.WithLabelValues(outcome).Inc()
}

// RecordDeliveryRetry counts one retried delivery attempt
func (m *NotificationMetrics) RecordDeliveryRetry() {
	m.deliveryRetries.Inc()
}

// RecordDeliveryDuration observes the time to a final delivery outcome
func (m *NotificationMetrics) RecordDeliveryDuration(seconds float64) {
	m.deliveryDuration.Observe(seconds)
}

// UpdateCircuitBreakerState sets the breaker state gauge
func (m *NotificationMetrics) UpdateCircuitBreakerState(state int) {
	m.circuitBreakerState.Set(float64(state))
}
