package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/zen-systems/medgate/pkg/provider"
)

// Metrics holds all Prometheus metrics for medgate.
type Metrics struct {
	// Registry is the Prometheus registry that owns these metrics.
	// Exposed so the /metrics endpoint can use it. A private registry
	// avoids duplicate-collector panics when NewMetrics runs more than
	// once, e.g. in tests.
	Registry *prometheus.Registry

	callDuration  *prometheus.HistogramVec
	callsTotal    *prometheus.CounterVec
	fallbacks     *prometheus.CounterVec
	verifications *prometheus.CounterVec
	escalations   prometheus.Counter
}

// NewMetrics creates a dedicated registry and registers all metrics.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		Registry: reg,

		callDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "medgate_provider_call_duration_seconds",
				Help:    "Duration of provider calls by provider and outcome.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"provider", "outcome"},
		),
		callsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "medgate_provider_calls_total",
				Help: "Total provider calls by provider and outcome.",
			},
			[]string{"provider", "outcome"},
		),
		fallbacks: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "medgate_fallbacks_total",
				Help: "Total fallback substitutions by source and target provider.",
			},
			[]string{"from", "to"},
		),
		verifications: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "medgate_verifications_total",
				Help: "Total consensus verifications by decision.",
			},
			[]string{"decision"},
		),
		escalations: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "medgate_escalations_total",
				Help: "Total escalations to human review.",
			},
		),
	}
}

// ObserveProviderCall records one provider call outcome.
func (m *Metrics) ObserveProviderCall(id provider.ID, outcome string, latency time.Duration) {
	m.callsTotal.WithLabelValues(string(id), outcome).Inc()
	m.callDuration.WithLabelValues(string(id), outcome).Observe(latency.Seconds())
}

// CountFallback records one fallback substitution.
func (m *Metrics) CountFallback(from, to provider.ID) {
	m.fallbacks.WithLabelValues(string(from), string(to)).Inc()
}

// CountVerification records one consensus decision ("accepted" or
// "escalated").
func (m *Metrics) CountVerification(decision string) {
	m.verifications.WithLabelValues(decision).Inc()
	if decision == "escalated" {
		m.escalations.Inc()
	}
}
