package safety

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/codeofaxel/kiln/pkg/types"
)

// maxGCodeBatch is the hard per-call line cap; a batch of exactly this
// size passes, one more fails validation outright.
const maxGCodeBatch = 100

// blockedCommands maps a G-code mnemonic to the reason it is refused
// outright: firmware-settings writes and EEPROM erase can silently
// change the physical limits the rest of the gate relies on.
var blockedCommands = map[string]string{
	"M500": "writes current settings to EEPROM",
	"M501": "restores settings from EEPROM, discarding runtime overrides",
	"M502": "erases EEPROM and restores firmware defaults",
	"M997": "triggers a firmware update/reboot",
}

// GCodeResult is the outcome of static analysis against a loaded
// SafetyProfile.
type GCodeResult struct {
	Blocked         bool
	BlockedCommands []string
	Warnings        []string
}

// ValidateGCode inspects lines for blocked commands, over-ceiling
// temperature sets, and batch-size limits. It never mutates lines and
// never contacts an adapter; a batch-size violation is returned as an
// error rather than folded into Blocked, since it never reaches
// per-line analysis at all.
func ValidateGCode(lines []string, profile types.SafetyProfile) (GCodeResult, error) {
	if len(lines) > maxGCodeBatch {
		return GCodeResult{}, &GateError{
			Code:    CodeValidationError,
			Message: fmt.Sprintf("batch of %d lines exceeds the %d-line cap", len(lines), maxGCodeBatch),
		}
	}

	var res GCodeResult
	for _, raw := range lines {
		line := strings.TrimSpace(raw)
		if line == "" || strings.HasPrefix(line, ";") {
			continue
		}
		fields := strings.Fields(line)
		cmd := strings.ToUpper(fields[0])

		if _, blocked := blockedCommands[cmd]; blocked {
			res.Blocked = true
			res.BlockedCommands = append(res.BlockedCommands, line)
			continue
		}

		switch cmd {
		case "M104", "M109":
			if target, ok := paramValue(fields, 'S'); ok && target > profile.HotendCeiling {
				res.Blocked = true
				res.BlockedCommands = append(res.BlockedCommands, line)
			}
		case "M140", "M190":
			if target, ok := paramValue(fields, 'S'); ok && target > profile.BedCeiling {
				res.Blocked = true
				res.BlockedCommands = append(res.BlockedCommands, line)
			}
		case "G0", "G1":
			if z, ok := paramValue(fields, 'Z'); ok && z < 0 {
				res.Warnings = append(res.Warnings, fmt.Sprintf("%s: Z below bed (%.2f)", line, z))
			}
			if f, ok := paramValue(fields, 'F'); ok && profile.MaxFeedrate > 0 && f > profile.MaxFeedrate {
				res.Warnings = append(res.Warnings, fmt.Sprintf("%s: feedrate %.0f exceeds profile max %.0f", line, f, profile.MaxFeedrate))
			}
		}
	}
	return res, nil
}

// paramValue extracts the numeric value of a single-letter G-code
// parameter (e.g. "S210" -> 210) from the fields following the command.
func paramValue(fields []string, letter byte) (float64, bool) {
	prefix := strings.ToUpper(string(letter))
	for _, f := range fields[1:] {
		if len(f) > 1 && strings.EqualFold(f[:1], prefix) {
			v, err := strconv.ParseFloat(f[1:], 64)
			if err != nil {
				return 0, false
			}
			return v, true
		}
	}
	return 0, false
}
