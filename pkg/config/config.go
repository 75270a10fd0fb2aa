// Package config loads Kiln's runtime configuration from the environment.
// It mirrors cmd/warren's flag/env wiring: explicit os.Getenv reads with
// typed defaults, no reflection-based binding library.
package config

import (
	"os"
	"strconv"

	"github.com/codeofaxel/kiln/pkg/log"
	"github.com/codeofaxel/kiln/pkg/safety"
	"github.com/codeofaxel/kiln/pkg/types"
)

// PrinterConfig describes the default printer wired up at process start,
// ahead of any further register_printer calls.
type PrinterConfig struct {
	Host   string
	APIKey string
	Type   string
	Serial string
	Model  string
}

// Config is the fully-resolved, process-wide configuration.
type Config struct {
	Printer PrinterConfig

	Safety safety.Config

	Monitor types.MonitorPolicy

	RecoveryMaxRetries int

	LogFormat string // "text" or "json"
}

// Load reads every recognized environment key, applying the same defaults
// documented in spec.md's configuration table.
func Load() Config {
	return Config{
		Printer: PrinterConfig{
			Host:   getEnvString("PRINTER_HOST", ""),
			APIKey: getEnvString("PRINTER_API_KEY", ""),
			Type:   getEnvString("PRINTER_TYPE", "octoprint"),
			Serial: getEnvString("PRINTER_SERIAL", ""),
			Model:  getEnvString("PRINTER_MODEL", "generic"),
		},
		Safety: safety.Config{
			AuthEnabled:    getEnvBool("AUTH_ENABLED", false),
			AuthToken:      getEnvString("AUTH_TOKEN", ""),
			ConfirmMode:    getEnvBool("CONFIRM_MODE", false),
			ConfirmUpload:  getEnvBool("CONFIRM_UPLOAD", false),
			StrictMaterial: getEnvBool("STRICT_MATERIAL_CHECK", false),
		},
		Monitor: types.MonitorPolicy{
			CheckDelaySeconds:   getEnvInt("MONITOR_CHECK_DELAY", 30),
			CheckCount:          getEnvInt("MONITOR_CHECK_COUNT", 3),
			CheckIntervalSecond: getEnvInt("MONITOR_CHECK_INTERVAL", 60),
			AutoPauseOnFailure:  getEnvBool("MONITOR_AUTO_PAUSE", false),
			DriftThreshold:      getEnvFloat("MONITOR_TEMP_DRIFT_THRESHOLD", 5.0),
			StallTimeoutSeconds: getEnvInt("MONITOR_STALL_TIMEOUT", 300),
			HistoryMaxHours:     getEnvInt("MONITOR_HISTORY_MAX_HOURS", 24),
		},
		RecoveryMaxRetries: getEnvInt("RECOVERY_MAX_RETRIES", 3),
		LogFormat:          getEnvString("LOG_FORMAT", "text"),
	}
}

// LogConfig adapts LogFormat to pkg/log.Config, matching the CLI's
// --log-json flag semantics.
func (c Config) LogConfig(level string) log.Config {
	return log.Config{
		Level:      log.Level(level),
		JSONOutput: c.LogFormat == "json",
	}
}

func getEnvString(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvBool(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func getEnvInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func getEnvFloat(key string, def float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return def
	}
	return f
}
