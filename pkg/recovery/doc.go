// Package recovery implements the Recovery Planner: a pure
// failure-class → strategy policy table, a per-job retry budget, and
// checkpoint persistence. Planner never touches an adapter — it
// recommends; the caller (typically the Fleet Orchestrator or a tool
// handler) carries the recommendation out.
package recovery
