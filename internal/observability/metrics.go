package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "deltaschema"

// Metrics holds the Prometheus collectors of the service.
type Metrics struct {
	Derivations      *prometheus.CounterVec
	DeriveDuration   *prometheus.HistogramVec
	EnvelopeColumns  prometheus.Histogram
	RegistryVersions *prometheus.CounterVec
	HTTPRequests     *prometheus.CounterVec
}

// NewMetrics creates the collectors and registers them with reg. A nil
// registerer leaves them unregistered, which suits tests.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Derivations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "derivations_total",
			Help:      "Log schema derivations by source and result.",
		}, []string{"source", "result"}),
		DeriveDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "derive_duration_seconds",
			Help:      "Time to derive a log schema, including log reads for table sources.",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 4, 8),
		}, []string{"source"}),
		EnvelopeColumns: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "envelope_columns",
			Help:      "Number of column paths in derived log schemas.",
			Buckets:   prometheus.ExponentialBuckets(16, 2, 8),
		}),
		RegistryVersions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "registry_registrations_total",
			Help:      "Registry registrations by outcome (created or unchanged).",
		}, []string{"outcome"}),
		HTTPRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by route and status code.",
		}, []string{"route", "code"}),
	}

	if reg != nil {
		reg.MustRegister(m.Derivations, m.DeriveDuration, m.EnvelopeColumns, m.RegistryVersions, m.HTTPRequests)
	}
	return m
}
