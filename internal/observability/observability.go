// Package observability wires the component metrics onto one Prometheus
// registry.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/tphakala/birdtag/internal/observability/metrics"
)

// Metrics aggregates all component metrics behind a single registry.
type Metrics struct {
	registry *prometheus.Registry

	Media        *metrics.MediaMetrics
	Query        *metrics.QueryMetrics
	Notification *metrics.NotificationMetrics
}

// NewMetrics creates a registry with process/Go collectors and all component
// metrics registered.
func NewMetrics() (*Metrics, error) {
	registry := prometheus.NewRegistry()

	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	m := &Metrics{registry: registry}

	var err error
	if m.Media, err = metrics.NewMediaMetrics(registry); err != nil {
		return nil, err
	}
	if m.Query, err = metrics.NewQueryMetrics(registry); err != nil {
		return nil, err
	}
	if m.Notification, err = metrics.NewNotificationMetrics(registry); err != nil {
		return nil, err
	}

	return m, nil
}

// Registry exposes the underlying registry, e.g. for an exposition endpoint
// owned by the routing collaborator.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
