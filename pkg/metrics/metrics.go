package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Fleet metrics
	PrintersTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "kiln_printers_total",
			Help: "Total number of registered printers by adapter type and status",
		},
		[]string{"type", "status"},
	)

	JobsQueued = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "kiln_jobs_queued",
			Help: "Current number of queued jobs",
		},
	)

	JobsByStatus = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "kiln_jobs_by_status",
			Help: "Current number of jobs by status",
		},
		[]string{"status"},
	)

	JobsSubmittedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "kiln_jobs_submitted_total",
			Help: "Total number of jobs submitted",
		},
	)

	JobsCompletedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "kiln_jobs_completed_total",
			Help: "Total number of jobs completed successfully",
		},
	)

	JobsFailedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kiln_jobs_failed_total",
			Help: "Total number of job failures by whether a retry was scheduled",
		},
		[]string{"will_retry"},
	)

	// Orchestrator metrics
	AssignmentDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "kiln_assignment_duration_seconds",
			Help:    "Time taken to run one assignment pass in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	AssignmentCyclesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "kiln_assignment_cycles_total",
			Help: "Total number of assignment cycles completed",
		},
	)

	UtilizationPercent = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "kiln_fleet_utilization_percent",
			Help: "Fraction of online printers currently busy, as a percentage",
		},
	)

	// Safety Gate metrics
	SafetyBlocksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kiln_safety_blocks_total",
			Help: "Total number of tool calls blocked by the safety gate, by reason",
		},
		[]string{"tool", "reason"},
	)

	RateLimitedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kiln_rate_limited_total",
			Help: "Total number of tool calls rejected by the rate limiter",
		},
		[]string{"tool"},
	)

	CircuitBreakerState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "kiln_circuit_breaker_state",
			Help: "Circuit breaker state by tool (0=closed, 1=half-open, 2=open)",
		},
		[]string{"tool"},
	)

	// Health monitor metrics
	HealthChecksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kiln_health_checks_total",
			Help: "Total number of health checks performed by severity",
		},
		[]string{"severity"},
	)

	StallsDetectedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "kiln_stalls_detected_total",
			Help: "Total number of stall conditions detected",
		},
	)

	ActiveSessions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "kiln_active_health_sessions",
			Help: "Current number of active health monitoring sessions",
		},
	)

	// Recovery metrics
	RecoveryPlansTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kiln_recovery_plans_total",
			Help: "Total number of recovery plans produced by strategy",
		},
		[]string{"strategy"},
	)

	CheckpointsSavedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "kiln_checkpoints_saved_total",
			Help: "Total number of checkpoints persisted",
		},
	)

	// Dispatcher metrics
	ToolCallsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kiln_tool_calls_total",
			Help: "Total number of tool invocations by tool name and outcome",
		},
		[]string{"tool", "outcome"},
	)

	ToolCallDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "kiln_tool_call_duration_seconds",
			Help:    "Tool call duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"tool"},
	)

	// Adapter metrics
	AdapterCallDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "kiln_adapter_call_duration_seconds",
			Help:    "Printer adapter call duration in seconds by backend type",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"type", "operation"},
	)

	AdapterReconnectsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kiln_adapter_reconnects_total",
			Help: "Total number of adapter reconnect attempts by backend type",
		},
		[]string{"type"},
	)
)

func init() {
	prometheus.MustRegister(
		PrintersTotal,
		JobsQueued,
		JobsByStatus,
		JobsSubmittedTotal,
		JobsCompletedTotal,
		JobsFailedTotal,
		AssignmentDuration,
		AssignmentCyclesTotal,
		UtilizationPercent,
		SafetyBlocksTotal,
		RateLimitedTotal,
		CircuitBreakerState,
		HealthChecksTotal,
		StallsDetectedTotal,
		ActiveSessions,
		RecoveryPlansTotal,
		CheckpointsSavedTotal,
		ToolCallsTotal,
		ToolCallDuration,
		AdapterCallDuration,
		AdapterReconnectsTotal,
	)
}

// Handler returns the Prometheus HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a helper for timing operations.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the duration to a histogram.
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	histogram.Observe(time.Since(t.start).Seconds())
}

// ObserveDurationVec records the duration to a histogram vec with labels.
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	histogram.WithLabelValues(labels...).Observe(time.Since(t.start).Seconds())
}

// Duration returns the elapsed time since the timer started.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
