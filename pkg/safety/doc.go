// Package safety implements the Safety Gate: the synchronous pipeline
// every mutating tool invocation passes through before it is allowed to
// reach a printer adapter. No physically consequential action — a
// temperature set, a G-code batch, a print start — clears the gate
// without running auth, circuit-breaker, rate-limit, confirmation,
// G-code analysis, and pre-flight stages in that order. Failure at any
// stage aborts the call and still records an audit entry.
//
// Gate holds one mutex-protected RateLimiter and one breakerManager
// (a sony/gobreaker instance per tool name). Three consecutive blocked
// attempts within one of the breaker's 60s counting intervals trip a
// tool's breaker into a 5-minute cooldown during which every invocation
// is refused with SAFETY_ESCALATED. The count resets at each interval
// boundary; it is not a sliding window.
//
// ValidateGCode and RunPreflight are pure, context-free checks usable
// standalone (e.g. from a validate_gcode or preflight_check tool) or
// through the Gate wrappers that also audit the outcome.
package safety
