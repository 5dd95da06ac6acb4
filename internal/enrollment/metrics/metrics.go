package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for the enrollment module.
type Metrics struct {
	// Reconciliation outcomes by bucket ("linked", "force_created",
	// "pending", "invalid", "duplicate")
	ReconcileOutcome *prometheus.CounterVec

	// Pending registrations drained into real enrollments
	PendingDrained prometheus.Counter

	// Unenroll cascade touches by category ("pending", "allowed", "active",
	// "not_found")
	UnenrollOutcome *prometheus.CounterVec

	// Full batch latency
	BatchLatency prometheus.Histogram
}

// New creates a new Metrics instance with all enrollment module metrics registered.
func New() *Metrics {
	return &Metrics{
		ReconcileOutcome: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "edxlogin_enrollment_reconcile_outcomes_total",
			Help: "Total reconciliation outcomes per document id, by bucket",
		}, []string{"bucket"}),

		PendingDrained: promauto.NewCounter(prometheus.CounterOpts{
			Name: "edxlogin_enrollment_pending_drained_total",
			Help: "Total pending registrations drained into enrollments",
		}),

		UnenrollOutcome: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "edxlogin_enrollment_unenroll_outcomes_total",
			Help: "Total unenroll cascade touches per document id, by category",
		}, []string{"category"}),

		BatchLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "edxlogin_enrollment_batch_duration_seconds",
			Help:    "Duration of full reconcile/unenroll batches",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}),
	}
}

// IncrementReconcileOutcome records one document landing in a bucket.
func (m *Metrics) IncrementReconcileOutcome(bucket string) {
	if m != nil {
		m.ReconcileOutcome.WithLabelValues(bucket).Inc()
	}
}

// AddPendingDrained records drained registrations.
func (m *Metrics) AddPendingDrained(n int) {
	if m != nil {
		m.PendingDrained.Add(float64(n))
	}
}

// IncrementUnenrollOutcome records one document touched by a cascade step.
func (m *Metrics) IncrementUnenrollOutcome(category string) {
	if m != nil {
		m.UnenrollOutcome.WithLabelValues(category).Inc()
	}
}

// ObserveBatchLatency records the duration of a whole batch.
func (m *Metrics) ObserveBatchLatency(d time.Duration) {
	if m != nil {
		m.BatchLatency.Observe(d.Seconds())
	}
}
