package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() {
	register(
		queryJobsProcessedTotal,
		queryJobsInFlight,
		queryBatchesTotal,
		reasoningRetriesTotal,
		queryJobsReapedTotal,
	)
}

var (
	queryJobsProcessedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "query_jobs_processed_total",
			Help: "Total number of query jobs processed, labeled by terminal status.",
		},
		[]string{"status"}, // 'completed', 'failed'
	)

	queryJobsInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "query_jobs_in_flight",
			Help: "Query jobs currently executing.",
		},
	)

	queryBatchesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "query_batches_total",
			Help: "Batches run through the retry protocol, labeled by outcome.",
		},
		[]string{"outcome"}, // 'ok', 'degraded', 'fatal'
	)

	reasoningRetriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reasoning_retries_total",
			Help: "Retries scheduled against the reasoning service, labeled by failure class.",
		},
		[]string{"class"},
	)

	queryJobsReapedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "query_jobs_reaped_total",
			Help: "Job records evicted after the retention window.",
		},
	)
)

func IncQueryJob(status string) {
	queryJobsProcessedTotal.WithLabelValues(norm(status)).Inc()
}

func JobStarted()  { queryJobsInFlight.Inc() }
func JobFinished() { queryJobsInFlight.Dec() }

func IncBatch(outcome string) {
	queryBatchesTotal.WithLabelValues(norm(outcome)).Inc()
}

func IncRetry(class string) {
	reasoningRetriesTotal.WithLabelValues(norm(class)).Inc()
}

func AddReaped(n int) {
	queryJobsReapedTotal.Add(float64(n))
}
