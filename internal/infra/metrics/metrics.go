// Package metrics exposes billing run results to prometheus and keeps the
// latest run for the status endpoints.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"membership_billing/internal/app"
)

const metricNamePrefix = "billing_"

// Recorder implements app.RunObserver.
type Recorder struct {
	registry *prometheus.Registry

	runs          prometheus.Counter
	cyclesCreated prometheus.Counter
	billsSent     prometheus.Counter
	remindersSent prometheus.Counter
	failures      *prometheus.CounterVec
	duration      prometheus.Histogram
	lastRunTime   prometheus.Gauge

	mu      sync.RWMutex
	last    app.RunSummary
	hasLast bool
}

var _ app.RunObserver = (*Recorder)(nil)

// NewRecorder registers the billing metrics, plus the Go and process
// collectors, on a fresh registry.
func NewRecorder() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		runs: prometheus.NewCounter(prometheus.CounterOpts{
			Name: metricNamePrefix + "runs_total",
			Help: "Total number of finished billing runs",
		}),
		cyclesCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: metricNamePrefix + "cycles_created_total",
			Help: "Total number of billing cycles created",
		}),
		billsSent: prometheus.NewCounter(prometheus.CounterOpts{
			Name: metricNamePrefix + "bills_sent_total",
			Help: "Total number of original bills emitted",
		}),
		remindersSent: prometheus.NewCounter(prometheus.CounterOpts{
			Name: metricNamePrefix + "reminders_sent_total",
			Help: "Total number of reminder bills emitted",
		}),
		failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: metricNamePrefix + "membership_failures_total",
			Help: "Memberships that could not be processed, by kind",
		}, []string{"kind"}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    metricNamePrefix + "run_duration_seconds",
			Help:    "Duration of billing runs",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
		}),
		lastRunTime: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: metricNamePrefix + "last_run_timestamp_seconds",
			Help: "Unix time of the last finished billing run",
		}),
	}
	r.registry.MustRegister(
		r.runs, r.cyclesCreated, r.billsSent, r.remindersSent,
		r.failures, r.duration, r.lastRunTime,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return r
}

// Registry is what /metrics serves.
func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}

func (r *Recorder) ObserveRun(s app.RunSummary) {
	r.runs.Inc()
	r.cyclesCreated.Add(float64(s.CyclesCreated))
	r.billsSent.Add(float64(s.BillsSent))
	r.remindersSent.Add(float64(s.RemindersSent))
	r.failures.WithLabelValues("domain").Add(float64(s.Failed))
	r.failures.WithLabelValues("unexpected").Add(float64(s.Errors))
	r.duration.Observe(s.Duration.Seconds())
	r.lastRunTime.Set(float64(s.At.Unix()))

	r.mu.Lock()
	r.last, r.hasLast = s, true
	r.mu.Unlock()
}

// WatchAlertDrops exports dropped, a running count of alerts that never
// reached the admin chat, as billing_alerts_dropped_total.
func (r *Recorder) WatchAlertDrops(dropped func() int64) error {
	return r.registry.Register(prometheus.NewCounterFunc(prometheus.CounterOpts{
		Name: metricNamePrefix + "alerts_dropped_total",
		Help: "Critical alerts discarded because the admin chat queue was full",
	}, func() float64 { return float64(dropped()) }))
}

// LastRun returns the most recent summary, if any run has finished.
func (r *Recorder) LastRun() (app.RunSummary, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.last, r.hasLast
}
