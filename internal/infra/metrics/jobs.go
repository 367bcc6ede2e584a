package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() {
	register(
		jobsCreatedTotal,
		jobsOrphanedTotal,
		jobsProcessedTotal,
		jobsStatusWriteErrors,
		jobsStaleWaiting,
	)
}

var (
	jobsCreatedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "jobs_created_total",
			Help: "Jobs accepted by intake.",
		},
	)

	jobsOrphanedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "jobs_orphaned_total",
			Help: "Jobs whose record was created but whose work item could not be enqueued.",
		},
	)

	jobsProcessedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jobs_processed_total",
			Help: "Work items handled by the worker, labeled by outcome.",
		},
		[]string{"status"}, // 'finished', 'failed', 'skipped'
	)

	jobsStatusWriteErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jobs_status_write_errors_total",
			Help: "Failed job status writes, labeled by target status.",
		},
		[]string{"status"},
	)

	jobsStaleWaiting = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "jobs_stale_waiting",
			Help: "Jobs still waiting past the expected pickup horizon at the last check.",
		},
	)
)

func IncJobCreated()  { jobsCreatedTotal.Inc() }
func IncJobOrphaned() { jobsOrphanedTotal.Inc() }

func IncJobProcessed(status string) {
	jobsProcessedTotal.WithLabelValues(norm(status)).Inc()
}

func IncStatusWriteError(status string) {
	jobsStatusWriteErrors.WithLabelValues(norm(status)).Inc()
}

func SetStaleWaiting(n int) {
	jobsStaleWaiting.Set(float64(n))
}
