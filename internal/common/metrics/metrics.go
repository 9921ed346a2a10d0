// internal/common/metrics/metrics.go
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	PipelineOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "voicemart_pipeline_outcomes_total",
			Help: "Total number of understood utterances by final status",
		},
		[]string{"status"},
	)

	PipelineStageDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "voicemart_pipeline_stage_duration_seconds",
			Help:    "Duration of each pipeline stage in seconds",
			Buckets: []float64{.0005, .001, .005, .01, .05, .1, .25, .5, 1, 2.5, 5},
		},
		[]string{"stage"},
	)

	Clarifications = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "voicemart_clarifications_total",
			Help: "Total number of clarification requests by reason",
		},
		[]string{"reason"},
	)

	ConnectorCalls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "voicemart_connector_calls_total",
			Help: "Total number of source resolutions by outcome",
		},
		[]string{"source", "outcome"},
	)

	ConnectorDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "voicemart_connector_duration_seconds",
			Help: "Duration of source connector calls in seconds",
		},
		[]string{"source"},
	)

	CacheLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "voicemart_cache_lookups_total",
			Help: "Result cache lookups by result (hit, negative, miss, error)",
		},
		[]string{"result"},
	)

	RateLimitRejections = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "voicemart_rate_limit_rejections_total",
			Help: "Requests rejected by a source token bucket",
		},
		[]string{"source"},
	)

	WorkerJobsCompleted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "worker_jobs_completed_total",
			Help: "Total number of jobs completed by worker",
		},
		[]string{"task_type"},
	)

	WorkerJobsFailed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "worker_jobs_failed_total",
			Help: "Total number of jobs failed by worker",
		},
		[]string{"task_type", "error_code"},
	)

	WorkerJobDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "worker_job_duration_seconds",
			Help: "Duration of job processing in seconds",
		},
		[]string{"task_type"},
	)
)
