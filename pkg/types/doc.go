/*
Package types defines the core data structures shared across Kiln's fleet
coordination subsystems.

This package contains the domain model that the orchestrator, printer
adapters, safety gate, health monitor and recovery planner all exchange:
jobs, printer records, health sessions, checkpoints, audit entries and bus
events. None of these types own a storage format — pkg/storage marshals
them to JSON for the bbolt-backed job/printer/checkpoint/audit buckets.

# Core Types

Job Lifecycle:
  - Job: a unit of printable work with retry/failure-tracking state
  - JobStatus: queued, assigned, printing, completed, failed, cancelled

Printer Fleet:
  - PrinterRecord: a registered backend with its capability vector
  - AdapterType: serial, octoprint, moonraker, bambu, prusaconnect
  - SafetyProfile: per-model thermal/feedrate/volume ceilings

Health Monitoring:
  - HealthSession: a monitoring window over one printer/job pair
  - HealthReport / Metric: a single measurement bundle and its members
  - MonitorPolicy: thresholds and cadence for a monitoring session

Recovery:
  - Checkpoint: a durable waypoint captured during a print
  - FailureType / RecoveryStrategy: the failure-to-strategy policy inputs

Auditing and Eventing:
  - AuditEntry: an immutable record of a gated or mutating operation
  - Event / EventType: the Event Bus's typed pub/sub payload
*/
package types
