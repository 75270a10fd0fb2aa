package config

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg := Load()
	require.Equal(t, "octoprint", cfg.Printer.Type)
	require.Equal(t, "generic", cfg.Printer.Model)
	require.False(t, cfg.Safety.AuthEnabled)
	require.Equal(t, 3, cfg.RecoveryMaxRetries)
	require.Equal(t, "text", cfg.LogFormat)
	require.Equal(t, 30, cfg.Monitor.CheckDelaySeconds)
}

func TestLoadReadsOverrides(t *testing.T) {
	t.Setenv("PRINTER_HOST", "192.168.1.50")
	t.Setenv("PRINTER_TYPE", "moonraker")
	t.Setenv("CONFIRM_MODE", "true")
	t.Setenv("AUTH_ENABLED", "true")
	t.Setenv("AUTH_TOKEN", "s3cret")
	t.Setenv("RECOVERY_MAX_RETRIES", "5")
	t.Setenv("LOG_FORMAT", "json")
	t.Setenv("MONITOR_TEMP_DRIFT_THRESHOLD", "7.5")

	cfg := Load()
	require.Equal(t, "192.168.1.50", cfg.Printer.Host)
	require.Equal(t, "moonraker", cfg.Printer.Type)
	require.True(t, cfg.Safety.ConfirmMode)
	require.True(t, cfg.Safety.AuthEnabled)
	require.Equal(t, "s3cret", cfg.Safety.AuthToken)
	require.Equal(t, 5, cfg.RecoveryMaxRetries)
	require.Equal(t, "json", cfg.LogFormat)
	require.InDelta(t, 7.5, cfg.Monitor.DriftThreshold, 0.001)
}

func TestLoadIgnoresInvalidBoolFallsBackToDefault(t *testing.T) {
	t.Setenv("CONFIRM_MODE", "not-a-bool")
	cfg := Load()
	require.False(t, cfg.Safety.ConfirmMode)
}

func TestLogConfigSelectsJSONOutput(t *testing.T) {
	cfg := Config{LogFormat: "json"}
	require.True(t, cfg.LogConfig("info").JSONOutput)

	cfg.LogFormat = "text"
	require.False(t, cfg.LogConfig("info").JSONOutput)
}
