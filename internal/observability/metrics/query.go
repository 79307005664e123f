package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// QueryMetrics contains Prometheus metrics for the query engine
type QueryMetrics struct {
	registry *prometheus.Registry

	queriesTotal      *prometheus.CounterVec
	queryDuration     *prometheus.HistogramVec
	candidatesScanned prometheus.Histogram
	resultSize        prometheus.Histogram

	collectors []prometheus.Collector
}

// NewQueryMetrics creates and registers new query metrics
func NewQueryMetrics(registry *prometheus.Registry) (*QueryMetrics, error) {
	m := &QueryMetrics{registry: registry}
	m.initMetrics()
	for _, collector := range m.collectors {
		if err := registry.Register(collector); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *QueryMetrics) initMetrics() {
	m.queriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "query_requests_total",
			Help: "Total number of tag queries",
		},
		[]string{"combinator", "status"}, // combinator: all, any; status: success, error
	)

	m.queryDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "query_duration_seconds",
			Help:    "Time taken to serve one query page",
			Buckets: prometheus.ExponentialBuckets(BucketStart1ms, BucketFactor2, BucketCount15),
		},
		[]string{"combinator"},
	)

	m.candidatesScanned = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "query_candidates_scanned",
			Help:    "Index rows consumed to produce one query page",
			Buckets: prometheus.ExponentialBuckets(1, 4, 10), // 1 to ~260k
		},
	)

	m.resultSize = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "query_result_size",
			Help:    "Number of media summaries per served page",
			Buckets: prometheus.ExponentialBuckets(1, 2, 11), // 1 to 1024
		},
	)

	m.collectors = []prometheus.Collector{
		m.queriesTotal,
		m.queryDuration,
		m.candidatesScanned,
		m.resultSize,
	}
}

// RecordQuery increments the query counter
func (m *QueryMetrics) RecordQuery(combinator, status string) {
	m.queriesTotal.WithLabelValues(combinator, status).Inc()
}

// RecordQueryDuration observes a query's duration in seconds
func (m *QueryMetrics) RecordQueryDuration(combinator string, seconds float64) {
	m.queryDuration.WithLabelValues(combinator).Observe(seconds)
}

// RecordCandidatesScanned observes how many index rows one page consumed
func (m *QueryMetrics) RecordCandidatesScanned(count int) {
	m.candidatesScanned.Observe(float64(count))
}

// RecordResultSize observes the number of summaries in one served page
func (m *QueryMetrics) RecordResultSize(count int) {
	m.resultSize.Observe(float64(count))
}
