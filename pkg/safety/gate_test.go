package safety

import (
	"testing"

	"github.com/codeofaxel/kiln/pkg/events"
	"github.com/codeofaxel/kiln/pkg/storage"
	"github.com/stretchr/testify/require"
)

func newTestGate(t *testing.T, cfg Config) (*Gate, *events.Broker) {
	t.Helper()
	store, err := storage.NewBoltStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	bus := events.NewBroker(16)
	return NewGate(cfg, store, bus), bus
}

func TestGateGCodeBlockedCountsAsBreakerBlock(t *testing.T) {
	g, _ := newTestGate(t, Config{})

	res, err := g.ValidateGCode("send_gcode", "p1", []string{"M140 S200", "M104 S320"}, testProfile())
	require.Error(t, err)
	var gerr *GateError
	require.ErrorAs(t, err, &gerr)
	require.Equal(t, CodeGCodeBlocked, gerr.Code)
	require.Contains(t, gerr.BlockedCommands, "M104 S320")
	require.True(t, res.Blocked)
	require.False(t, g.BreakerOpen("send_gcode"))
}

func TestGateCircuitBreakerEscalatesAfterThreeBlocks(t *testing.T) {
	g, bus := newTestGate(t, Config{})
	sub := bus.Subscribe(8)
	defer bus.Unsubscribe(sub)

	blocked := []string{"M140 S200", "M104 S320"}
	for i := 0; i < 3; i++ {
		_, err := g.ValidateGCode("send_gcode", "p1", blocked, testProfile())
		require.Error(t, err)
	}
	require.True(t, g.BreakerOpen("send_gcode"))

	// A 4th call, even with valid G-code, is refused by the breaker stage.
	_, err := g.Check("send_gcode", "", "p1", nil)
	require.Error(t, err)
	var gerr *GateError
	require.ErrorAs(t, err, &gerr)
	require.Equal(t, CodeSafetyEscalated, gerr.Code)

	found := false
	for {
		select {
		case evt := <-sub:
			if evt.Type == "SAFETY_ESCALATED" {
				found = true
			}
		default:
			require.True(t, found, "expected a SAFETY_ESCALATED event")
			return
		}
	}
}

func TestGateRateLimitBlocksAndCounts(t *testing.T) {
	g, _ := newTestGate(t, Config{})

	_, err := g.Check("start_print", "", "p1", nil)
	require.NoError(t, err)

	_, err = g.Check("start_print", "", "p1", nil)
	require.Error(t, err)
	var gerr *GateError
	require.ErrorAs(t, err, &gerr)
	require.Equal(t, CodeRateLimited, gerr.Code)
}

func TestGateAuthDenied(t *testing.T) {
	g, _ := newTestGate(t, Config{AuthEnabled: true, AuthToken: "secret"})

	_, err := g.Check("printer_status", "wrong", "p1", nil)
	require.Error(t, err)
	var gerr *GateError
	require.ErrorAs(t, err, &gerr)
	require.Equal(t, CodeAuthError, gerr.Code)

	_, err = g.Check("printer_status", "secret", "p1", nil)
	require.NoError(t, err)
}

func TestGateConfirmationFlow(t *testing.T) {
	g, _ := newTestGate(t, Config{ConfirmMode: true})

	result, err := g.Check("start_print", "", "p1", map[string]any{"file": "benchy.gcode"})
	require.NoError(t, err)
	require.True(t, result.ConfirmRequired)
	require.NotEmpty(t, result.ConfirmToken)

	tool, args, err := g.ConfirmAction(result.ConfirmToken)
	require.NoError(t, err)
	require.Equal(t, "start_print", tool)
	require.Equal(t, "benchy.gcode", args["file"])

	// Tokens are single-use.
	_, _, err = g.ConfirmAction(result.ConfirmToken)
	require.Error(t, err)
	var gerr *GateError
	require.ErrorAs(t, err, &gerr)
	require.Equal(t, CodeInvalidToken, gerr.Code)
}

func TestGateSafeToolNeedsNoConfirmation(t *testing.T) {
	g, _ := newTestGate(t, Config{ConfirmMode: true})

	result, err := g.Check("printer_status", "", "p1", nil)
	require.NoError(t, err)
	require.False(t, result.ConfirmRequired)
}
