package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for dispatch
type Metrics struct {
	// Invocation metrics (one backend process run)
	InvocationExecutions *prometheus.CounterVec
	InvocationDuration   *prometheus.HistogramVec
	InvocationRetries    *prometheus.CounterVec
	InvocationTruncated  *prometheus.CounterVec

	// Rate balancer metrics (per operation name)
	RateQueueWait *prometheus.HistogramVec
	RateGrants    *prometheus.CounterVec
	RateRejects   *prometheus.CounterVec

	// Plan metrics
	PlanExecutions *prometheus.CounterVec
	PlanDuration   *prometheus.HistogramVec
	PlanStepCount  *prometheus.HistogramVec
	StepOutcomes   *prometheus.CounterVec

	// Error metrics (by error code from structured errors)
	Errors *prometheus.CounterVec
}

// NewMetrics creates a new Metrics instance with all metrics registered
func NewMetrics(registry prometheus.Registerer) *Metrics {
	factory := promauto.With(registry)

	return &Metrics{
		InvocationExecutions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dispatch_invocation_executions_total",
				Help: "Total number of backend invocations",
			},
			[]string{"backend", "success"},
		),
		InvocationDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "dispatch_invocation_duration_seconds",
				Help:    "Backend invocation duration in seconds",
				Buckets: []float64{1.0, 5.0, 10.0, 30.0, 60.0, 120.0, 300.0, 600.0},
			},
			[]string{"backend"},
		),
		InvocationRetries: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dispatch_invocation_retries_total",
				Help: "Total number of transient-failure retries",
			},
			[]string{"backend", "operation"},
		),
		InvocationTruncated: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dispatch_invocation_output_truncated_total",
				Help: "Total number of invocations whose output hit the byte ceiling",
			},
			[]string{"backend"},
		),

		RateQueueWait: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "dispatch_rate_queue_wait_seconds",
				Help:    "Time callers spent queued on a rate bucket",
				Buckets: []float64{0.01, 0.1, 0.5, 1.0, 5.0, 15.0, 30.0, 60.0},
			},
			[]string{"operation"},
		),
		RateGrants: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dispatch_rate_grants_total",
				Help: "Total number of rate tokens granted",
			},
			[]string{"operation"},
		),
		RateRejects: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dispatch_rate_rejections_total",
				Help: "Total number of rate waits that could not meet the caller deadline",
			},
			[]string{"operation"},
		),

		PlanExecutions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dispatch_plan_executions_total",
				Help: "Total number of executed plans",
			},
			[]string{"mode", "status"},
		),
		PlanDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "dispatch_plan_duration_seconds",
				Help:    "Plan execution duration in seconds",
				Buckets: []float64{5.0, 15.0, 60.0, 300.0, 900.0, 1800.0, 3600.0},
			},
			[]string{"mode"},
		),
		PlanStepCount: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "dispatch_plan_step_count",
				Help:    "Number of steps in executed plans",
				Buckets: []float64{1, 2, 5, 10, 20, 50},
			},
			[]string{"mode"},
		),
		StepOutcomes: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dispatch_plan_step_outcomes_total",
				Help: "Total number of plan steps by terminal outcome",
			},
			[]string{"mode", "outcome"},
		),

		Errors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dispatch_errors_total",
				Help: "Total number of errors by error code",
			},
			[]string{"error_code", "component"},
		),
	}
}
