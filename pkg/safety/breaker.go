package safety

import (
	"errors"
	"sync"
	"time"

	"github.com/codeofaxel/kiln/pkg/log"
	"github.com/codeofaxel/kiln/pkg/metrics"
	"github.com/sony/gobreaker"
)

// errBlockedAttempt is the sentinel failure fed to a tool's breaker for
// every rate-limit violation; gobreaker counts any non-nil error as a
// failure by default.
var errBlockedAttempt = errors.New("safety: blocked attempt")

// breakerManager holds one gobreaker.CircuitBreaker per tool name. Each
// trips after 3 consecutive blocked attempts within one 60s gobreaker
// counting interval (counts reset at each interval boundary, so this is a
// fixed window, not a sliding one) and cools down for 5 minutes, during
// which Execute returns
// gobreaker.ErrOpenState without running the passed func.
type breakerManager struct {
	mu       sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker
}

func newBreakerManager() *breakerManager {
	return &breakerManager{breakers: make(map[string]*gobreaker.CircuitBreaker)}
}

func (m *breakerManager) forTool(tool string) *gobreaker.CircuitBreaker {
	m.mu.Lock()
	defer m.mu.Unlock()

	if cb, ok := m.breakers[tool]; ok {
		return cb
	}

	name := tool
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Interval:    slidingWindow,
		Timeout:     5 * time.Minute,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
		OnStateChange: func(toolName string, from, to gobreaker.State) {
			metrics.CircuitBreakerState.WithLabelValues(toolName).Set(breakerStateValue(to))
			log.WithComponent("safety").Warn().Msg(toolName + " circuit breaker " + from.String() + " -> " + to.String())
		},
	})
	m.breakers[tool] = cb
	return cb
}

// recordBlock reports one rate-limit block against tool's breaker. It
// never itself refuses the caller; Gate consults open() separately to
// decide whether to escalate.
func (m *breakerManager) recordBlock(tool string) {
	cb := m.forTool(tool)
	_, _ = cb.Execute(func() (interface{}, error) {
		return nil, errBlockedAttempt
	})
}

// open reports whether tool's breaker is currently in its cooldown.
func (m *breakerManager) open(tool string) bool {
	return m.forTool(tool).State() == gobreaker.StateOpen
}

func breakerStateValue(s gobreaker.State) float64 {
	switch s {
	case gobreaker.StateOpen:
		return 2
	case gobreaker.StateHalfOpen:
		return 1
	default:
		return 0
	}
}
