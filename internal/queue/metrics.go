package queue

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	queueJobsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "orderflow_queue_jobs_total",
		Help: "Processed queue jobs grouped by type and result.",
	}, []string{"type", "result"})
	queueJobDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "orderflow_queue_job_duration_seconds",
		Help:    "Handler duration of queue jobs in seconds.",
		Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
	}, []string{"type"})
	queueEnqueuedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "orderflow_queue_enqueued_total",
		Help: "Jobs added to the queue grouped by type.",
	}, []string{"type"})
	queueDepth = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "orderflow_queue_depth",
		Help: "Current number of queue jobs per state.",
	}, []string{"state"})
	queueJanitorRunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "orderflow_queue_janitor_runs_total",
		Help: "Queue janitor sweeps grouped by result.",
	}, []string{"result"})
	queueRequeuedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "orderflow_queue_requeued_total",
		Help: "Active jobs returned to waiting after lease expiry.",
	})
	queueTrimmedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "orderflow_queue_trimmed_total",
		Help: "Completed jobs removed from history.",
	})
)

func recordDepth(stats Stats) {
	queueDepth.WithLabelValues(string(StateWaiting)).Set(float64(stats.Waiting))
	queueDepth.WithLabelValues(string(StateDelayed)).Set(float64(stats.Delayed))
	queueDepth.WithLabelValues(string(StateActive)).Set(float64(stats.Active))
	queueDepth.WithLabelValues(string(StateCompleted)).Set(float64(stats.Completed))
	queueDepth.WithLabelValues(string(StateFailed)).Set(float64(stats.Failed))
}
