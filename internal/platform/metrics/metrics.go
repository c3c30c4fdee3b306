package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the verification-service Prometheus metrics.
type Metrics struct {
	VerificationsTotal  *prometheus.CounterVec
	VerifyDurationSecs  prometheus.Histogram
	AuditEntriesTotal   prometheus.Counter
	AuditFailuresTotal  prometheus.Counter
	RequestDurationSecs *prometheus.HistogramVec
	RequestsInFlight    prometheus.Gauge
}

// New creates and registers all verification-service metrics.
func New() *Metrics {
	return &Metrics{
		VerificationsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "proofgate_verifications_total",
			Help: "Verification attempts by outcome (verified, rejected, rate_limited, timeout, internal)",
		}, []string{"outcome"}),
		VerifyDurationSecs: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "proofgate_verify_duration_seconds",
			Help:    "Latency of the cryptographic verification step",
			Buckets: []float64{0.0001, 0.00025, 0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025},
		}),
		AuditEntriesTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "proofgate_audit_entries_total",
			Help: "Total encrypted audit entries written",
		}),
		AuditFailuresTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "proofgate_audit_failures_total",
			Help: "Audit entries that could not be recorded",
		}),
		RequestDurationSecs: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "proofgate_http_request_duration_seconds",
			Help:    "End to end HTTP request latency",
			Buckets: prometheus.DefBuckets,
		}, []string{"path", "status"}),
		RequestsInFlight: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "proofgate_http_requests_in_flight",
			Help: "Number of HTTP requests currently being served",
		}),
	}
}
