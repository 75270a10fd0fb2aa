package safety

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/codeofaxel/kiln/pkg/adapter"
	"github.com/codeofaxel/kiln/pkg/types"
)

// PreflightCheck is one named check's outcome.
type PreflightCheck struct {
	Name    string
	Passed  bool
	Message string
}

// PreflightRequest bundles the optional inputs pre-flight may validate.
// Each optional field's absence simply skips the checks it would gate.
type PreflightRequest struct {
	LocalFilePath    string
	ExpectedMaterial string
	LoadedMaterial   string // empty if the printer reports none
	RemoteFileName   string
	StrictMaterial   bool
}

// PreflightResult is the aggregate pre-flight outcome.
type PreflightResult struct {
	Ready  bool
	Checks []PreflightCheck
}

var validGCodeExt = map[string]bool{".gcode": true, ".gco": true, ".g": true}

const maxGCodeFileSize = 2 << 30 // 2 GiB

// materialProfiles is the intelligence DB of material/model compatibility
// consulted by the material_compatible check.
var materialProfiles = map[string][]string{
	"ender3":    {"pla", "petg"},
	"mk3s":      {"pla", "petg", "abs"},
	"mk4":       {"pla", "petg", "abs", "asa"},
	"voron2.4":  {"pla", "petg", "abs", "asa", "nylon", "pc"},
	"bambu-x1c": {"pla", "petg", "abs", "asa", "tpu"},
	"generic":   {"pla"},
}

// RunPreflight runs every applicable check against a, never raising for
// a check failure — failures are reported in the result, which the
// caller (Gate.RunPreflight) turns into PREFLIGHT_FAILED.
func RunPreflight(ctx context.Context, a adapter.PrinterAdapter, profile types.SafetyProfile, req PreflightRequest) PreflightResult {
	var checks []PreflightCheck

	state, stateErr := a.GetState(ctx)
	connected := stateErr == nil && state.Connected
	connMsg := "printer reports connected"
	if !connected {
		connMsg = "printer unreachable"
		if stateErr != nil {
			connMsg = stateErr.Error()
		}
	}
	checks = append(checks, PreflightCheck{Name: "printer_connected", Passed: connected, Message: connMsg})

	idle := connected && state.Status == types.PrinterIdle
	checks = append(checks, PreflightCheck{
		Name: "printer_idle", Passed: idle,
		Message: fmt.Sprintf("status is %q", state.Status),
	})

	noErrors := state.Status != types.PrinterError
	checks = append(checks, PreflightCheck{
		Name: "no_errors", Passed: noErrors,
		Message: fmt.Sprintf("status is %q", state.Status),
	})

	tempsSafe := true
	tempMsg := "hotend and bed below profile ceilings"
	if state.Hotend != nil && state.Hotend.Actual >= profile.HotendCeiling {
		tempsSafe = false
		tempMsg = fmt.Sprintf("hotend actual %.0f at or above ceiling %.0f", state.Hotend.Actual, profile.HotendCeiling)
	} else if state.Bed != nil && state.Bed.Actual >= profile.BedCeiling {
		tempsSafe = false
		tempMsg = fmt.Sprintf("bed actual %.0f at or above ceiling %.0f", state.Bed.Actual, profile.BedCeiling)
	}
	checks = append(checks, PreflightCheck{Name: "temperatures_safe", Passed: tempsSafe, Message: tempMsg})

	if req.ExpectedMaterial != "" && req.LoadedMaterial != "" {
		match := strings.EqualFold(req.ExpectedMaterial, req.LoadedMaterial)
		checks = append(checks, PreflightCheck{
			Name: "material_match", Passed: match,
			Message: fmt.Sprintf("loaded %q vs expected %q", req.LoadedMaterial, req.ExpectedMaterial),
		})
	}

	if req.ExpectedMaterial != "" {
		compatible := materialCompatible(profile.Model, req.ExpectedMaterial)
		msg := fmt.Sprintf("%s is compatible with %s", req.ExpectedMaterial, profile.Model)
		if !compatible {
			msg = fmt.Sprintf("%s is not a known-compatible material for %s", req.ExpectedMaterial, profile.Model)
		}
		passed := compatible || !req.StrictMaterial
		if !compatible && !req.StrictMaterial {
			msg += " (advisory only, non-strict mode)"
		}
		checks = append(checks, PreflightCheck{Name: "material_compatible", Passed: passed, Message: msg})
	}

	if req.LocalFilePath != "" {
		ok, msg := validateLocalFile(req.LocalFilePath)
		checks = append(checks, PreflightCheck{Name: "file_valid", Passed: ok, Message: msg})
	}

	if req.RemoteFileName != "" {
		found, msg := fileOnPrinter(ctx, a, req.RemoteFileName)
		checks = append(checks, PreflightCheck{Name: "file_on_printer", Passed: found, Message: msg})
	}

	ready := true
	for _, c := range checks {
		if !c.Passed {
			ready = false
			break
		}
	}
	return PreflightResult{Ready: ready, Checks: checks}
}

func materialCompatible(model, material string) bool {
	allowed, ok := materialProfiles[strings.ToLower(model)]
	if !ok {
		allowed = materialProfiles["generic"]
	}
	material = strings.ToLower(material)
	for _, m := range allowed {
		if m == material {
			return true
		}
	}
	return false
}

func validateLocalFile(path string) (bool, string) {
	info, err := os.Stat(path)
	if err != nil {
		return false, "file does not exist: " + err.Error()
	}
	if !info.Mode().IsRegular() {
		return false, "not a regular file"
	}
	f, err := os.Open(path)
	if err != nil {
		return false, "file is not readable: " + err.Error()
	}
	f.Close()

	ext := strings.ToLower(filepath.Ext(path))
	if !validGCodeExt[ext] {
		return false, "unsupported extension " + ext
	}
	if info.Size() == 0 {
		return false, "file is empty"
	}
	if info.Size() >= maxGCodeFileSize {
		return false, "file exceeds the 2 GiB limit"
	}
	return true, "file valid"
}

func fileOnPrinter(ctx context.Context, a adapter.PrinterAdapter, remoteName string) (bool, string) {
	files, err := a.ListFiles(ctx)
	if err != nil {
		return false, "could not list files: " + err.Error()
	}
	target := strings.ToLower(remoteName)
	for _, f := range files {
		if strings.ToLower(f.Name) == target || strings.ToLower(f.Path) == target {
			return true, "found on printer"
		}
	}
	return false, "not found on printer"
}
