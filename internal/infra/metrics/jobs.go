package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() { register(scheduledJobRunsTotal) }

var scheduledJobRunsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "scheduled_job_runs_total",
		Help: "Total number of background job runs, labeled by job and status.",
	},
	[]string{"job", "status"}, // 'ok', 'failed'
)

func IncJobRun(job, status string) {
	scheduledJobRunsTotal.WithLabelValues(norm(job), norm(status)).Inc()
}
