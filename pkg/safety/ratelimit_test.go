package safety

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestRateLimiterMinInterval(t *testing.T) {
	rl := NewRateLimiter(map[string]RateLimit{"send_gcode": {MinIntervalMs: 1000}})

	require.True(t, rl.Allow("send_gcode"))
	require.False(t, rl.Allow("send_gcode"))
}

func TestRateLimiterMaxPerMinute(t *testing.T) {
	rl := NewRateLimiter(map[string]RateLimit{"set_temperature": {MaxPerMinute: 2}})

	require.True(t, rl.Allow("set_temperature"))
	require.True(t, rl.Allow("set_temperature"))
	require.False(t, rl.Allow("set_temperature"))
}

func TestRateLimiterUnlimitedTool(t *testing.T) {
	rl := NewRateLimiter(map[string]RateLimit{})
	for i := 0; i < 10; i++ {
		require.True(t, rl.Allow("printer_status"))
	}
}

func TestPrune(t *testing.T) {
	now := time.Now()
	times := []time.Time{now.Add(-90 * time.Second), now.Add(-10 * time.Second), now}
	prune(&times, now)
	require.Len(t, times, 2)
}
