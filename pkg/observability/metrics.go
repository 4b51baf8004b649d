// Package observability provides Prometheus metrics and HTTP middleware for
// monitoring the sandbox.
package observability

import "github.com/prometheus/client_golang/prometheus"

// ExecutionBuckets spans typical analysis scripts, from 50ms to 10 minutes.
var ExecutionBuckets = []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300, 600}

var (
	// RequestsTotal counts HTTP requests by method and status class.
	RequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sandbox_http_requests_total",
			Help: "HTTP requests",
		},
		[]string{"method", "status"},
	)

	RequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "sandbox_http_request_duration_seconds",
			Help:    "HTTP request duration",
			Buckets: ExecutionBuckets,
		},
		[]string{"method"},
	)

	// EventStreams tracks open history-surface SSE subscriptions.
	EventStreams = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "sandbox_event_streams_active",
			Help: "Active event stream subscriptions",
		},
	)

	// ExecutionsTotal counts terminal executions by runtime and status.
	ExecutionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sandbox_executions_total",
			Help: "Completed executions",
		},
		[]string{"runtime", "status"},
	)

	ExecutionDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "sandbox_execution_duration_seconds",
			Help:    "Execution wall-clock duration",
			Buckets: ExecutionBuckets,
		},
		[]string{"runtime", "status"},
	)

	// ExecutionsActive counts subprocesses currently alive.
	ExecutionsActive = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "sandbox_executions_active",
			Help: "Running execution subprocesses",
		},
		[]string{"runtime"},
	)

	// ExecutionsQueued counts executions waiting for a session or host slot.
	ExecutionsQueued = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "sandbox_executions_queued",
			Help: "Executions waiting for a concurrency slot",
		},
	)

	PolicyViolationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sandbox_policy_violations_total",
			Help: "Policy violations by rule kind",
		},
		[]string{"runtime", "rule_kind"},
	)

	// InstallAttemptsTotal counts one-shot dependency installs by outcome
	// (installed, failed).
	InstallAttemptsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sandbox_install_attempts_total",
			Help: "Dependency install attempts",
		},
		[]string{"runtime", "outcome"},
	)

	ArtifactsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sandbox_artifacts_collected_total",
			Help: "Artifacts collected",
		},
		[]string{"category", "visibility"},
	)

	OutputTruncatedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sandbox_output_truncated_total",
			Help: "Executions whose output hit the byte cap",
		},
		[]string{"runtime"},
	)

	RuntimeProbesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sandbox_runtime_probes_total",
			Help: "Runtime availability probes",
		},
		[]string{"runtime", "installed"},
	)

	RateLimitRejectedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sandbox_ratelimit_rejected_total",
			Help: "Rate limit rejections",
		},
		[]string{"tier"},
	)
)

func init() {
	prometheus.MustRegister(
		RequestsTotal,
		RequestDuration,
		EventStreams,
		ExecutionsTotal,
		ExecutionDuration,
		ExecutionsActive,
		ExecutionsQueued,
		PolicyViolationsTotal,
		InstallAttemptsTotal,
		ArtifactsTotal,
		OutputTruncatedTotal,
		RuntimeProbesTotal,
		RateLimitRejectedTotal,
	)
}
