/*
Package health provides health check mechanisms and the printer Health
Monitor for Kiln.

Two layers live in this package. The first is a small checker abstraction
(Checker, Result, Config, Status): HTTPChecker probes a printer's webcam
stream URL, debounced through a per-printer Status so a single dropped
probe doesn't flip the metric — it takes Config.Retries consecutive
failures. The second is Monitor, the session-based thermal/progress
monitor: a bounded background loop per HealthSession that samples an
adapter's state and job progress, classifies deviations into
OK/WARNING/CRITICAL metrics, detects stalls, and maintains a per-printer
bounded history.

# Session Lifecycle

StartMonitoring creates a HealthSession and spawns one background
goroutine; CheckHealth runs the same sampling logic once, synchronously,
without a session. StopMonitoring is idempotent: calling it twice, or
calling it after the session already reached a terminal status on its
own, is a no-op rather than an error.

# Webcam Reachability

CheckHealth probes the adapter's GetStreamURL with HTTPChecker on every
sample. Adapters without a camera return ErrNoCamera and the metric is
omitted entirely rather than reported as failing.

# Stall Detection

After each progress sample the monitor updates (lastProgress,
lastProgressTime). A progress delta greater than 0.1% resets the
tracker; once now−lastProgressTime exceeds the session's stall timeout,
the session is marked STALLED, a stall alert event is published, and the
background loop exits. A stall timeout of zero disables stall detection
entirely.

# Snapshots

Each sessionLoop tick also pulls one webcam still via the adapter's
Snapshot method and appends it to the session's Snapshots list, ahead of
the health report for the same tick. Printers without a camera are
skipped rather than recorded as a failed capture.

# Concurrency

One background goroutine per session; a single mutex protects the shared
sessions map, per-printer history map, per-printer webcam status, and
stall trackers. Callers receive copies, never direct references into
monitor-owned state.
*/
package health
