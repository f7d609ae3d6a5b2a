package scheduler

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus instruments for the scheduler jobs. Tests
// assert on these counters instead of parsing log output.
type Metrics struct {
	// JobRuns counts job invocations by job name and outcome:
	// "completed", "lease_skipped", "failed".
	JobRuns *prometheus.CounterVec

	// JobDuration observes wall-clock job duration in seconds by job name.
	JobDuration *prometheus.HistogramVec

	// NotificationsSent counts deliveries by kind (reminder/digest) and
	// channel (in_app/push).
	NotificationsSent *prometheus.CounterVec

	// Skips counts per-recipient skips by job name and reason
	// (dedupe, prefs, quiet_hours, no_token, window, day).
	Skips *prometheus.CounterVec

	// TokensDeactivated counts push tokens deactivated after the vendor
	// reported the device gone.
	TokensDeactivated prometheus.Counter
}

// Job run outcomes for the JobRuns counter.
const (
	OutcomeCompleted    = "completed"
	OutcomeLeaseSkipped = "lease_skipped"
	OutcomeFailed       = "failed"
)

// NewMetrics creates and registers the scheduler instruments on the given
// registerer. Pass prometheus.NewRegistry() in tests for isolation.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		JobRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "nudge_job_runs_total",
			Help: "Job invocations by job name and outcome.",
		}, []string{"job", "outcome"}),
		JobDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "nudge_job_duration_seconds",
			Help:    "Wall-clock job duration in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 10),
		}, []string{"job"}),
		NotificationsSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "nudge_notifications_sent_total",
			Help: "Notifications delivered by kind and channel.",
		}, []string{"kind", "channel"}),
		Skips: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "nudge_recipient_skips_total",
			Help: "Per-recipient skips by job and reason.",
		}, []string{"job", "reason"}),
		TokensDeactivated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "nudge_push_tokens_deactivated_total",
			Help: "Push tokens deactivated after DeviceNotRegistered receipts.",
		}),
	}

	reg.MustRegister(
		m.JobRuns,
		m.JobDuration,
		m.NotificationsSent,
		m.Skips,
		m.TokensDeactivated,
	)
	return m
}

// ObserveRun records one job invocation's outcome and duration.
func (m *Metrics) ObserveRun(job, outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	m.JobRuns.WithLabelValues(job, outcome).Inc()
	m.JobDuration.WithLabelValues(job).Observe(duration.Seconds())
}

// skip increments a skip reason counter, tolerating a nil receiver so
// services can run without metrics in tests.
func (m *Metrics) skip(job, reason string) {
	if m == nil {
		return
	}
	m.Skips.WithLabelValues(job, reason).Inc()
}

// sent increments a delivery counter, tolerating a nil receiver.
func (m *Metrics) sent(kind, channel string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.NotificationsSent.WithLabelValues(kind, channel).Add(float64(n))
}

// deactivated adds to the token deactivation counter, tolerating a nil
// receiver.
func (m *Metrics) deactivated(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.TokensDeactivated.Add(float64(n))
}
