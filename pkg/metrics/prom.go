package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// SchedulerJobs counts background jobs by outcome: scheduled,
	// replaced, cancelled, completed, failed.
	SchedulerJobs = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "beadnav_scheduler_jobs_total",
		Help: "Background jobs by outcome",
	}, []string{"outcome"})

	// SchedulerJobDuration tracks how long jobs ran, cancelled ones included.
	SchedulerJobDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "beadnav_scheduler_job_duration_seconds",
		Help:    "Background job duration in seconds",
		Buckets: prometheus.ExponentialBuckets(0.0005, 2, 14), // 0.5ms to ~4s
	})

	// SchedulerInFlight is the number of jobs currently holding a worker slot.
	SchedulerInFlight = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "beadnav_scheduler_in_flight",
		Help: "Jobs currently running",
	})

	// CoalesceRequests counts coalescer requests by coalescer name.
	CoalesceRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "beadnav_coalesce_requests_total",
		Help: "Requests submitted to coalescers",
	}, []string{"name"})

	// CoalesceCollapsed counts requests merged into an already pending key.
	CoalesceCollapsed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "beadnav_coalesce_collapsed_total",
		Help: "Requests merged into a pending execution",
	}, []string{"name"})

	// CoalesceExecutions counts executions that actually ran.
	CoalesceExecutions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "beadnav_coalesce_executions_total",
		Help: "Coalesced executions",
	}, []string{"name"})
)

// Handler serves the prometheus collectors.
func Handler() http.Handler {
	return promhttp.Handler()
}
