package safety

import (
	"sync"
	"time"
)

// RateLimit configures one tool's call pacing: a minimum gap between
// successive calls and a ceiling within a rolling 60s window.
type RateLimit struct {
	MinIntervalMs int
	MaxPerMinute  int
}

const slidingWindow = 60 * time.Second

// toolWindow is the sliding-window state for one tool: a deque of
// successful-call timestamps, lazily pruned on each check.
type toolWindow struct {
	calls    []time.Time
	lastCall time.Time
}

// RateLimiter enforces per-tool (min_interval_ms, max_per_minute) limits
// with a sliding 60s window, pruned lazily on each check.
type RateLimiter struct {
	mu      sync.Mutex
	limits  map[string]RateLimit
	windows map[string]*toolWindow
}

// NewRateLimiter builds a limiter from a static per-tool limit table.
// Tools absent from the table are unlimited.
func NewRateLimiter(limits map[string]RateLimit) *RateLimiter {
	return &RateLimiter{
		limits:  limits,
		windows: make(map[string]*toolWindow),
	}
}

// Allow reports whether tool may fire now, enforcing both the minimum
// inter-call gap and the rolling max-per-minute ceiling. On violation the
// caller is expected to feed the block into the circuit breaker itself
// (see breakerManager.recordBlock); trip-worthiness is gobreaker's call,
// not this limiter's.
func (r *RateLimiter) Allow(tool string) bool {
	now := time.Now()

	r.mu.Lock()
	defer r.mu.Unlock()

	w, ok := r.windows[tool]
	if !ok {
		w = &toolWindow{}
		r.windows[tool] = w
	}
	limit := r.limits[tool]

	prune(&w.calls, now)

	if limit.MinIntervalMs > 0 && !w.lastCall.IsZero() {
		if now.Sub(w.lastCall) < time.Duration(limit.MinIntervalMs)*time.Millisecond {
			return false
		}
	}
	if limit.MaxPerMinute > 0 && len(w.calls) >= limit.MaxPerMinute {
		return false
	}

	w.calls = append(w.calls, now)
	w.lastCall = now
	return true
}

// prune drops timestamps older than the sliding window, in place.
func prune(times *[]time.Time, now time.Time) {
	cutoff := now.Add(-slidingWindow)
	i := 0
	for i < len(*times) && (*times)[i].Before(cutoff) {
		i++
	}
	if i > 0 {
		*times = (*times)[i:]
	}
}
