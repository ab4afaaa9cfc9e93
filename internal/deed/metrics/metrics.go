package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var durationBuckets = []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120}

// Metrics provides observability for deed issuance.
// Tracks workflow outcomes, ledger round trips and the reconciliation backlog.
type Metrics struct {
	IssuanceOutcomes     *prometheus.CounterVec
	IssuanceDuration     prometheus.Histogram
	LedgerSubmissions    *prometheus.CounterVec
	ConfirmationDuration prometheus.Histogram
	CommitFailures       prometheus.Counter
	ReconcileOutcomes    *prometheus.CounterVec
	CollapsedCalls       prometheus.Counter
	OutboxPublished      prometheus.Counter
	OutboxPublishErrors  prometheus.Counter
}

// New registers the deed metrics on the default registry.
func New() *Metrics {
	return NewWithRegistry(prometheus.DefaultRegisterer)
}

// NewWithRegistry registers the deed metrics on reg. Tests pass a fresh
// prometheus.NewRegistry() so repeated construction does not collide.
func NewWithRegistry(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		IssuanceOutcomes: f.NewCounterVec(prometheus.CounterOpts{
			Name: "titledeed_issuance_outcomes_total",
			Help: "Issuance workflow runs by final state",
		}, []string{"state"}),
		IssuanceDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "titledeed_issuance_duration_seconds",
			Help:    "End-to-end duration of an issuance workflow run",
			Buckets: durationBuckets,
		}),
		LedgerSubmissions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "titledeed_ledger_submissions_total",
			Help: "Ledger broadcasts by result (accepted, unknown or a submission reason)",
		}, []string{"result"}),
		ConfirmationDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "titledeed_ledger_confirmation_duration_seconds",
			Help:    "Time from broadcast to observed finality",
			Buckets: durationBuckets,
		}),
		CommitFailures: f.NewCounter(prometheus.CounterOpts{
			Name: "titledeed_commit_failures_total",
			Help: "Relational commits that failed after ledger confirmation",
		}),
		ReconcileOutcomes: f.NewCounterVec(prometheus.CounterOpts{
			Name: "titledeed_reconcile_outcomes_total",
			Help: "Reconciliation lookups by ledger outcome",
		}, []string{"outcome"}),
		CollapsedCalls: f.NewCounter(prometheus.CounterOpts{
			Name: "titledeed_issuance_collapsed_calls_total",
			Help: "Concurrent issuance calls that received another caller's result",
		}),
		OutboxPublished: f.NewCounter(prometheus.CounterOpts{
			Name: "titledeed_outbox_published_total",
			Help: "Outbox events published to the broker",
		}),
		OutboxPublishErrors: f.NewCounter(prometheus.CounterOpts{
			Name: "titledeed_outbox_publish_errors_total",
			Help: "Outbox publish attempts that failed",
		}),
	}
}

// The methods below are nil-safe so components can run without metrics.

func (m *Metrics) ObserveIssuance(state string, start time.Time) {
	if m == nil {
		return
	}
	m.IssuanceOutcomes.WithLabelValues(state).Inc()
	m.IssuanceDuration.Observe(time.Since(start).Seconds())
}

func (m *Metrics) IncrementSubmission(result string) {
	if m == nil {
		return
	}
	m.LedgerSubmissions.WithLabelValues(result).Inc()
}

func (m *Metrics) ObserveConfirmation(start time.Time) {
	if m == nil {
		return
	}
	m.ConfirmationDuration.Observe(time.Since(start).Seconds())
}

func (m *Metrics) IncrementCommitFailure() {
	if m == nil {
		return
	}
	m.CommitFailures.Inc()
}

func (m *Metrics) IncrementReconcile(outcome string) {
	if m == nil {
		return
	}
	m.ReconcileOutcomes.WithLabelValues(outcome).Inc()
}

func (m *Metrics) IncrementCollapsed() {
	if m == nil {
		return
	}
	m.CollapsedCalls.Inc()
}

func (m *Metrics) IncrementOutboxPublished(n int) {
	if m == nil {
		return
	}
	m.OutboxPublished.Add(float64(n))
}

func (m *Metrics) IncrementOutboxPublishError() {
	if m == nil {
		return
	}
	m.OutboxPublishErrors.Inc()
}
