// Package metrics defines prometheus metrics to expose
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	InvocationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "mlforge_invocation_duration_seconds",
			Help:    "Total time taken for inference invocations in seconds",
			Buckets: []float64{.1, .25, .5, 1, 2.5, 5, 10, 15, 20, 30, 45, 60, 90, 120, 180},
		},
		[]string{"endpoint"},
	)

	InvocationCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mlforge_invocation_count_total",
			Help: "Total number of inference invocations by terminal outcome",
		},
		[]string{"endpoint", "status"},
	)

	InvocationAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mlforge_invocation_attempts_total",
			Help: "Total number of inference attempts including retries",
		},
		[]string{"endpoint"},
	)

	InvocationRetries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mlforge_invocation_retries_total",
			Help: "Total number of inference retries after a failed attempt",
		},
		[]string{"endpoint"},
	)

	JobPolls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mlforge_job_polls_total",
			Help: "Total number of training job status polls",
		},
		[]string{"status"},
	)

	JobDescribeFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "mlforge_job_describe_failures_total",
			Help: "Errors returned by training job status polls",
		},
	)

	JobsTerminal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mlforge_jobs_terminal_total",
			Help: "Training jobs that reached a terminal status",
		},
		[]string{"status"},
	)

	Deployments = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mlforge_deployments_total",
			Help: "Endpoint deployments by result",
		},
		[]string{"status"},
	)

	StagedBytes = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "mlforge_staged_bytes_total",
			Help: "Bytes uploaded to object storage for job staging",
		},
	)

	ErrorCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mlforge_error_count",
			Help: "Error count",
		},
		[]string{"endpoint", "from"},
	)
)
