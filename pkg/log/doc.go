/*
Package log provides structured logging for Kiln using zerolog.

The log package wraps zerolog to provide JSON-structured logging with
component-specific child loggers, configurable log levels, and helper
functions for common logging patterns. All logs include timestamps and
support filtering by severity level for production debugging.

# Usage

Initializing the logger:

	import "github.com/codeofaxel/kiln/pkg/log"

	// JSON output (production)
	log.Init(log.Config{
		Level:      log.InfoLevel,
		JSONOutput: true,
		Output:     os.Stdout,
	})

	// Console output (development)
	log.Init(log.Config{
		Level:      log.DebugLevel,
		JSONOutput: false,
	})

Simple logging:

	log.Info("fleet orchestrator started")
	log.Warn("printer heartbeat missed")
	log.Error("adapter dial failed")

Structured logging:

	log.Logger.Info().
		Str("job_id", job.ID).
		Int("priority", job.Priority).
		Msg("job submitted")

Component and entity loggers:

	orchLog := log.WithComponent("orchestrator")
	orchLog.Info().Msg("assignment loop starting")

	printerLog := log.WithPrinter("ender-1")
	printerLog.Warn().Msg("hotend deviation above drift threshold")

	jobLog := log.WithJob(job.ID)
	jobLog.Error().Err(err).Msg("print failed")

# Log Content

Never log secrets, confirmation tokens, or raw G-code containing embedded
credentials. Use structured fields (.Str, .Int) rather than string
concatenation so log lines stay machine-parseable.
*/
package log
