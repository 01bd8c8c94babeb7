package audit

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metric names as constants for consistency.
const (
	MetricSubmissionsTotal   = "audit_submissions_total"
	MetricVerificationsTotal = "audit_verifications_total"
)

// Metrics contains Prometheus metrics for audit client operations.
// All operations are thread-safe.
type Metrics struct {
	submissions   *prometheus.CounterVec
	verifications *prometheus.CounterVec
}

// NewMetrics creates a new Metrics instance with all collectors
// initialized. The metrics are not registered; call Register to register
// them with a registry.
func NewMetrics() *Metrics {
	return &Metrics{
		submissions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: MetricSubmissionsTotal,
				Help: "Total number of audit log submissions by operation and status",
			},
			[]string{"operation", "status"},
		),
		verifications: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: MetricVerificationsTotal,
				Help: "Total number of local verification checks by check and verdict",
			},
			[]string{"check", "verdict"},
		),
	}
}

// Register registers all collectors with the given registry.
func (m *Metrics) Register(reg prometheus.Registerer) error {
	for _, c := range []prometheus.Collector{m.submissions, m.verifications} {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}

// observeSubmission records the outcome of a service call.
func (m *Metrics) observeSubmission(operation, status string) {
	if m == nil {
		return
	}
	if status == "" {
		status = "transport_error"
	}
	m.submissions.WithLabelValues(operation, status).Inc()
}

// observeVerdict records the outcome of a verification check. Skipped
// checks (empty verdicts) are not counted.
func (m *Metrics) observeVerdict(check string, v Verdict) {
	if m == nil || v == VerdictNone {
		return
	}
	m.verifications.WithLabelValues(check, string(v)).Inc()
}
