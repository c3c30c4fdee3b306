package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the admission-control Prometheus metrics.
type Metrics struct {
	AdmissionDecisions *prometheus.CounterVec
}

func New() *Metrics {
	return &Metrics{
		AdmissionDecisions: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "proofgate_ratelimit_admission_decisions_total",
			Help: "Admission control decisions by outcome (allowed, denied)",
		}, []string{"outcome"}),
	}
}

func (m *Metrics) IncrementAllowed() {
	m.AdmissionDecisions.WithLabelValues("allowed").Inc()
}

func (m *Metrics) IncrementDenied() {
	m.AdmissionDecisions.WithLabelValues("denied").Inc()
}
