/*
Package metrics provides Prometheus metrics collection and exposition for
Kiln.

The metrics package defines and registers Kiln's counters, gauges, and
histograms using the Prometheus client library, giving observability into
fleet state, job throughput, safety gate activity, and operation latency.
Metrics are exposed over HTTP for scraping by a Prometheus server via
Handler().

# Metric Groups

Fleet: PrintersTotal, JobsQueued, JobsByStatus, JobsSubmittedTotal,
JobsCompletedTotal, JobsFailedTotal.

Orchestrator: AssignmentDuration, AssignmentCyclesTotal, UtilizationPercent.

Safety Gate: SafetyBlocksTotal, RateLimitedTotal, CircuitBreakerState.

Health Monitor: HealthChecksTotal, StallsDetectedTotal, ActiveSessions.

Recovery Planner: RecoveryPlansTotal, CheckpointsSavedTotal.

Tool Dispatcher: ToolCallsTotal, ToolCallDuration.

Printer Adapter: AdapterCallDuration, AdapterReconnectsTotal.

# Collector

Collector periodically samples a FleetSource (implemented by the
orchestrator) into the gauge metrics above, sampling
against a small interface instead of a concrete orchestrator type, so this
package never needs to import the orchestrator or storage packages.

# Liveness and Readiness

HealthHandler, ReadyHandler, and LivenessHandler expose /health, /ready,
and /live endpoints respectively. Readiness considers "storage" and
"orchestrator" the critical components.
*/
package metrics
