package adapter

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/codeofaxel/kiln/pkg/types"
)

// OctoPrintAdapter drives a printer through the OctoPrint REST API using an
// X-Api-Key bearer header.
type OctoPrintAdapter struct {
	baseURL string
	apiKey  string
	client  *http.Client
	safety  types.SafetyProfile
}

// NewOctoPrintAdapter constructs an adapter for an OctoPrint instance at
// baseURL (e.g. "http://octopi.local").
func NewOctoPrintAdapter(baseURL, apiKey string, safety types.SafetyProfile) *OctoPrintAdapter {
	return &OctoPrintAdapter{
		baseURL: baseURL,
		apiKey:  apiKey,
		client:  &http.Client{Timeout: 15 * time.Second},
		safety:  safety,
	}
}

func (o *OctoPrintAdapter) Type() types.AdapterType { return types.AdapterOctoPrint }

func (o *OctoPrintAdapter) Capabilities() types.Capabilities {
	return types.Capabilities{
		CanUpload:         true,
		CanSetTemp:        true,
		CanSendGCode:      true,
		CanPause:          true,
		CanStream:         true,
		CanSnapshot:       true,
		FileExtensions:    []string{".gcode"},
	}
}

func (o *OctoPrintAdapter) Connect(ctx context.Context) error {
	_, err := o.get(ctx, "/api/connection")
	return err
}

func (o *OctoPrintAdapter) Disconnect(ctx context.Context) error { return nil }

func (o *OctoPrintAdapter) do(ctx context.Context, method, path string, body io.Reader, contentType string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, o.baseURL+path, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("X-Api-Key", o.apiKey)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	resp, err := o.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("octoprint: %s %s: %w", method, path, err)
	}
	if resp.StatusCode >= 400 {
		defer resp.Body.Close()
		b, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("octoprint: %s %s: status %d: %s", method, path, resp.StatusCode, string(b))
	}
	return resp, nil
}

func (o *OctoPrintAdapter) get(ctx context.Context, path string) ([]byte, error) {
	resp, err := o.do(ctx, http.MethodGet, path, nil, "")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	return io.ReadAll(resp.Body)
}

func (o *OctoPrintAdapter) postJSON(ctx context.Context, path string, payload any) error {
	buf, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	resp, err := o.do(ctx, http.MethodPost, path, bytes.NewReader(buf), "application/json")
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return nil
}

func (o *OctoPrintAdapter) GetState(ctx context.Context) (types.PrinterState, error) {
	body, err := o.get(ctx, "/api/printer")
	if err != nil {
		return types.PrinterState{Connected: false}, err
	}

	var parsed struct {
		Temperature struct {
			Tool0 struct{ Actual, Target float64 } `json:"tool0"`
			Bed   struct{ Actual, Target float64 } `json:"bed"`
		} `json:"temperature"`
		State struct {
			Flags struct {
				Printing, Paused, Error, Ready bool
			} `json:"flags"`
		} `json:"state"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return types.PrinterState{}, fmt.Errorf("octoprint: decode /api/printer: %w", err)
	}

	status := types.PrinterIdle
	switch {
	case parsed.State.Flags.Error:
		status = types.PrinterError
	case parsed.State.Flags.Paused:
		status = types.PrinterPaused
	case parsed.State.Flags.Printing:
		status = types.PrinterPrinting
	}

	return types.PrinterState{
		Connected: true,
		Status:    status,
		Hotend:    &types.Temperature{Actual: parsed.Temperature.Tool0.Actual, Target: parsed.Temperature.Tool0.Target},
		Bed:       &types.Temperature{Actual: parsed.Temperature.Bed.Actual, Target: parsed.Temperature.Bed.Target},
	}, nil
}

func (o *OctoPrintAdapter) GetJob(ctx context.Context) (types.JobProgress, error) {
	body, err := o.get(ctx, "/api/job")
	if err != nil {
		return types.JobProgress{}, err
	}
	var parsed struct {
		Job struct {
			File struct{ Name string } `json:"file"`
		} `json:"job"`
		Progress struct {
			Completion   *float64 `json:"completion"`
			PrintTime    *int64   `json:"printTime"`
			PrintTimeLeft *int64  `json:"printTimeLeft"`
		} `json:"progress"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return types.JobProgress{}, fmt.Errorf("octoprint: decode /api/job: %w", err)
	}
	var name *string
	if parsed.Job.File.Name != "" {
		name = &parsed.Job.File.Name
	}
	return types.JobProgress{
		FileName:         name,
		CompletionPct:    parsed.Progress.Completion,
		PrintTimeElapsed: parsed.Progress.PrintTime,
		PrintTimeLeft:    parsed.Progress.PrintTimeLeft,
	}, nil
}

func (o *OctoPrintAdapter) ListFiles(ctx context.Context) ([]types.File, error) {
	body, err := o.get(ctx, "/api/files")
	if err != nil {
		return nil, err
	}
	var parsed struct {
		Files []struct {
			Name string  `json:"name"`
			Path string  `json:"path"`
			Size *int64  `json:"size"`
		} `json:"files"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("octoprint: decode /api/files: %w", err)
	}
	out := make([]types.File, 0, len(parsed.Files))
	for _, f := range parsed.Files {
		out = append(out, types.File{Name: f.Name, Path: f.Path, Size: f.Size})
	}
	return out, nil
}

func (o *OctoPrintAdapter) UploadFile(ctx context.Context, localPath string) (types.UploadResult, error) {
	f, err := os.Open(localPath)
	if err != nil {
		return types.UploadResult{}, fmt.Errorf("octoprint: open %s: %w", localPath, err)
	}
	defer f.Close()

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", filepath.Base(localPath))
	if err != nil {
		return types.UploadResult{}, err
	}
	if _, err := io.Copy(part, f); err != nil {
		return types.UploadResult{}, err
	}
	if err := mw.Close(); err != nil {
		return types.UploadResult{}, err
	}

	resp, err := o.do(ctx, http.MethodPost, "/api/files/local", &buf, mw.FormDataContentType())
	if err != nil {
		return types.UploadResult{Success: false}, err
	}
	defer resp.Body.Close()
	return types.UploadResult{Success: true, RemotePath: "local/" + filepath.Base(localPath)}, nil
}

func (o *OctoPrintAdapter) DeleteFile(ctx context.Context, remotePath string) error {
	resp, err := o.do(ctx, http.MethodDelete, "/api/files/"+remotePath, nil, "")
	if err != nil {
		return err
	}
	resp.Body.Close()
	return nil
}

func (o *OctoPrintAdapter) StartPrint(ctx context.Context, fileName string) (types.PrintResult, error) {
	if err := o.postJSON(ctx, "/api/files/local/"+fileName, map[string]string{"command": "select", "print": "true"}); err != nil {
		return types.PrintResult{Success: false, Message: err.Error()}, err
	}
	return types.PrintResult{Success: true}, nil
}

func (o *OctoPrintAdapter) jobCommand(ctx context.Context, command, action string) (types.PrintResult, error) {
	payload := map[string]string{"command": command}
	if action != "" {
		payload["action"] = action
	}
	if err := o.postJSON(ctx, "/api/job", payload); err != nil {
		return types.PrintResult{Success: false, Message: err.Error()}, err
	}
	return types.PrintResult{Success: true}, nil
}

func (o *OctoPrintAdapter) CancelPrint(ctx context.Context) (types.PrintResult, error) {
	return o.jobCommand(ctx, "cancel", "")
}

func (o *OctoPrintAdapter) PausePrint(ctx context.Context) (types.PrintResult, error) {
	return o.jobCommand(ctx, "pause", "pause")
}

func (o *OctoPrintAdapter) ResumePrint(ctx context.Context) (types.PrintResult, error) {
	return o.jobCommand(ctx, "pause", "resume")
}

// EmergencyStop sends M112 through the terminal command endpoint. OctoPrint
// does not expose a dedicated halt API.
func (o *OctoPrintAdapter) EmergencyStop(ctx context.Context) (types.PrintResult, error) {
	if err := o.SendGCode(ctx, []string{"M112"}); err != nil {
		return types.PrintResult{Success: false, Message: err.Error()}, err
	}
	return types.PrintResult{Success: true, Message: "emergency stop issued"}, nil
}

func (o *OctoPrintAdapter) SetToolTemp(ctx context.Context, target float64) error {
	if target < 0 {
		return fmt.Errorf("octoprint: target %.0f is negative", target)
	}
	if target > o.safety.HotendCeiling {
		return fmt.Errorf("octoprint: target %.0f exceeds hotend ceiling %.0f", target, o.safety.HotendCeiling)
	}
	return o.postJSON(ctx, "/api/printer/tool", map[string]any{"command": "target", "targets": map[string]float64{"tool0": target}})
}

func (o *OctoPrintAdapter) SetBedTemp(ctx context.Context, target float64) error {
	if target < 0 {
		return fmt.Errorf("octoprint: target %.0f is negative", target)
	}
	if target > o.safety.BedCeiling {
		return fmt.Errorf("octoprint: target %.0f exceeds bed ceiling %.0f", target, o.safety.BedCeiling)
	}
	return o.postJSON(ctx, "/api/printer/bed", map[string]any{"command": "target", "target": target})
}

func (o *OctoPrintAdapter) SendGCode(ctx context.Context, commands []string) error {
	return o.postJSON(ctx, "/api/printer/command", map[string]any{"commands": commands})
}

func (o *OctoPrintAdapter) Snapshot(ctx context.Context) ([]byte, error) {
	resp, err := o.do(ctx, http.MethodGet, "/webcam/?action=snapshot", nil, "")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	return io.ReadAll(resp.Body)
}

func (o *OctoPrintAdapter) GetStreamURL(ctx context.Context) (string, error) {
	return o.baseURL + "/webcam/?action=stream", nil
}
