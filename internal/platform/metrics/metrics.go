package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for the authority, its confirmation flow,
// the integrity prover and the audit flusher. Every method is safe on a nil
// receiver so components can run without metrics in tests.
type Metrics struct {
	CheckOutcome           *prometheus.CounterVec
	CheckLatency           prometheus.Histogram
	ACCOutcome             *prometheus.CounterVec
	ConfirmationTransition *prometheus.CounterVec
	IntegrityStatus        prometheus.Gauge
	AuditFlush             *prometheus.CounterVec
	AuditDropped           *prometheus.CounterVec
}

// New registers all collectors with reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		CheckOutcome: f.NewCounterVec(prometheus.CounterOpts{
			Name: "actiongate_capability_checks_total",
			Help: "Capability check decisions by capability and outcome",
		}, []string{"capability", "decision"}),

		CheckLatency: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "actiongate_capability_check_duration_seconds",
			Help:    "Duration of capability checks including adapter calls",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5},
		}),

		ACCOutcome: f.NewCounterVec(prometheus.CounterOpts{
			Name: "actiongate_acc_outcomes_total",
			Help: "ACC challenge outcomes (issued, validated, mismatch, expired, replay, not_found)",
		}, []string{"outcome"}),

		ConfirmationTransition: f.NewCounterVec(prometheus.CounterOpts{
			Name: "actiongate_confirmation_transitions_total",
			Help: "Confirmation state machine transitions",
		}, []string{"from", "to"}),

		IntegrityStatus: f.NewGauge(prometheus.GaugeOpts{
			Name: "actiongate_integrity_status",
			Help: "Last integrity verdict: 0 healthy, 1 degraded, 2 critical",
		}),

		AuditFlush: f.NewCounterVec(prometheus.CounterOpts{
			Name: "actiongate_audit_flushed_records_total",
			Help: "Audit records written to durable sinks by result",
		}, []string{"sink", "result"}),

		AuditDropped: f.NewCounterVec(prometheus.CounterOpts{
			Name: "actiongate_audit_dropped_records_total",
			Help: "Audit records dropped from a sink backlog",
		}, []string{"sink"}),
	}
}

func (m *Metrics) IncCheck(capability, decision string) {
	if m != nil {
		m.CheckOutcome.WithLabelValues(capability, decision).Inc()
	}
}

func (m *Metrics) ObserveCheckLatency(d time.Duration) {
	if m != nil {
		m.CheckLatency.Observe(d.Seconds())
	}
}

func (m *Metrics) IncACC(outcome string) {
	if m != nil {
		m.ACCOutcome.WithLabelValues(outcome).Inc()
	}
}

func (m *Metrics) IncTransition(from, to string) {
	if m != nil {
		m.ConfirmationTransition.WithLabelValues(from, to).Inc()
	}
}

func (m *Metrics) SetIntegrityStatus(level float64) {
	if m != nil {
		m.IntegrityStatus.Set(level)
	}
}

func (m *Metrics) ObserveFlush(sink string, records int, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.AuditFlush.WithLabelValues(sink, result).Add(float64(records))
}

func (m *Metrics) IncDropped(sink string, n int) {
	if m != nil {
		m.AuditDropped.WithLabelValues(sink).Add(float64(n))
	}
}
