// Package orchestrator implements the Fleet Orchestrator: the job
// assignment state machine that pairs queued jobs with eligible idle
// printers, handles per-printer failure with retry-to-alternative-
// printer semantics, and exposes fleet-wide utilization.
//
// Orchestrator never talks to an adapter directly; it hands a Selector
// the idle printers from its own printer records, whose status is the
// last one reported through UpdatePrinterStatus, and delegates
// persistence to a storage.Store. All public methods acquire
// one mutex; it is held only across in-memory mutation, never across
// adapter I/O.
package orchestrator
