// Package metrics holds the Prometheus metrics for webhook intake, activity
// enrichment and weather lookups.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "strava_weather"

// Metrics is safe to use through a nil pointer; every observation is then a
// no-op. This keeps tests free of registry setup.
type Metrics struct {
	registry *prometheus.Registry

	webhookEvents     *prometheus.CounterVec
	webhookAttempts   prometheus.Histogram
	enrichmentResults *prometheus.CounterVec
	weatherRequests   *prometheus.CounterVec
}

// New creates the metrics and registers them, with the Go and process
// collectors, on a fresh registry.
func New() (*Metrics, error) {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		webhookEvents: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "webhook_events_total",
				Help:      "Webhook events received, by what was done with them",
			},
			[]string{"object_type", "aspect_type", "outcome"},
		),
		webhookAttempts: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "webhook_processing_attempts",
				Help:      "Pipeline attempts made per processed webhook event",
				Buckets:   []float64{1, 2, 3, 4, 5},
			},
		),
		enrichmentResults: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "enrichment_results_total",
				Help:      "Activity enrichment results by status (success, skipped, failed)",
			},
			[]string{"status"},
		),
		weatherRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "weather_requests_total",
				Help:      "Weather lookups by upstream endpoint and cache outcome",
			},
			[]string{"endpoint", "cache"},
		),
	}

	for _, c := range []prometheus.Collector{
		m.webhookEvents,
		m.webhookAttempts,
		m.enrichmentResults,
		m.weatherRequests,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	} {
		if err := m.registry.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Registry exposes the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) WebhookEvent(objectType, aspectType, outcome string) {
	if m == nil {
		return
	}
	m.webhookEvents.WithLabelValues(objectType, aspectType, outcome).Inc()
}

func (m *Metrics) WebhookAttempts(n int) {
	if m == nil {
		return
	}
	m.webhookAttempts.Observe(float64(n))
}

func (m *Metrics) EnrichmentResult(status string) {
	if m == nil {
		return
	}
	m.enrichmentResults.WithLabelValues(status).Inc()
}

// WeatherRequest counts a lookup. cache is "hit" or "miss".
func (m *Metrics) WeatherRequest(endpoint, cache string) {
	if m == nil {
		return
	}
	m.weatherRequests.WithLabelValues(endpoint, cache).Inc()
}
