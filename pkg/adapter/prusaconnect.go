package adapter

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/codeofaxel/kiln/pkg/types"
)

// PrusaConnectAdapter drives a PrusaLink-enabled printer (the local HTTP
// API that backs PrusaConnect) using an X-Api-Key header, same shape as
// OctoPrint's but with PrusaLink's own endpoint and payload layout.
type PrusaConnectAdapter struct {
	baseURL string
	apiKey  string
	client  *http.Client
	safety  types.SafetyProfile
}

// NewPrusaConnectAdapter constructs an adapter for a PrusaLink instance at
// baseURL (e.g. "http://prusa-mk4.local").
func NewPrusaConnectAdapter(baseURL, apiKey string, safety types.SafetyProfile) *PrusaConnectAdapter {
	return &PrusaConnectAdapter{baseURL: baseURL, apiKey: apiKey, client: &http.Client{Timeout: 15 * time.Second}, safety: safety}
}

func (p *PrusaConnectAdapter) Type() types.AdapterType { return types.AdapterPrusaConnect }

func (p *PrusaConnectAdapter) Capabilities() types.Capabilities {
	return types.Capabilities{
		CanUpload:      true,
		CanSetTemp:     true,
		CanSendGCode:   false, // PrusaLink does not expose a raw terminal endpoint
		CanPause:       true,
		CanSnapshot:    true,
		FileExtensions: []string{".gcode", ".bgcode"},
	}
}

func (p *PrusaConnectAdapter) Connect(ctx context.Context) error {
	_, err := p.get(ctx, "/api/v1/status")
	return err
}

func (p *PrusaConnectAdapter) Disconnect(ctx context.Context) error { return nil }

func (p *PrusaConnectAdapter) do(ctx context.Context, method, path string, body io.Reader, contentType string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, p.baseURL+path, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("X-Api-Key", p.apiKey)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("prusaconnect: %s %s: %w", method, path, err)
	}
	if resp.StatusCode >= 400 {
		defer resp.Body.Close()
		b, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("prusaconnect: %s %s: status %d: %s", method, path, resp.StatusCode, string(b))
	}
	return resp, nil
}

func (p *PrusaConnectAdapter) get(ctx context.Context, path string) ([]byte, error) {
	resp, err := p.do(ctx, http.MethodGet, path, nil, "")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	return io.ReadAll(resp.Body)
}

func (p *PrusaConnectAdapter) GetState(ctx context.Context) (types.PrinterState, error) {
	body, err := p.get(ctx, "/api/v1/status")
	if err != nil {
		return types.PrinterState{Connected: false}, err
	}
	var parsed struct {
		Printer struct {
			State   string  `json:"state"`
			TempNozzle float64 `json:"temp_nozzle"`
			TargetNozzle float64 `json:"target_nozzle"`
			TempBed float64 `json:"temp_bed"`
			TargetBed float64 `json:"target_bed"`
		} `json:"printer"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return types.PrinterState{}, fmt.Errorf("prusaconnect: decode status: %w", err)
	}

	status := types.PrinterIdle
	switch parsed.Printer.State {
	case "PRINTING":
		status = types.PrinterPrinting
	case "PAUSED":
		status = types.PrinterPaused
	case "ERROR", "ATTENTION":
		status = types.PrinterError
	}

	return types.PrinterState{
		Connected: true,
		Status:    status,
		Hotend:    &types.Temperature{Actual: parsed.Printer.TempNozzle, Target: parsed.Printer.TargetNozzle},
		Bed:       &types.Temperature{Actual: parsed.Printer.TempBed, Target: parsed.Printer.TargetBed},
	}, nil
}

func (p *PrusaConnectAdapter) GetJob(ctx context.Context) (types.JobProgress, error) {
	body, err := p.get(ctx, "/api/v1/job")
	if err != nil {
		return types.JobProgress{}, err
	}
	var parsed struct {
		Progress     *float64 `json:"progress"`
		TimeRemaining *int64  `json:"time_remaining"`
		TimePrinting *int64   `json:"time_printing"`
		File         struct{ Name string } `json:"file"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return types.JobProgress{}, fmt.Errorf("prusaconnect: decode job: %w", err)
	}
	var name *string
	if parsed.File.Name != "" {
		name = &parsed.File.Name
	}
	return types.JobProgress{
		FileName:         name,
		CompletionPct:    parsed.Progress,
		PrintTimeElapsed: parsed.TimePrinting,
		PrintTimeLeft:    parsed.TimeRemaining,
	}, nil
}

func (p *PrusaConnectAdapter) ListFiles(ctx context.Context) ([]types.File, error) {
	body, err := p.get(ctx, "/api/v1/files")
	if err != nil {
		return nil, err
	}
	var parsed struct {
		Children []struct {
			Name string `json:"name"`
			Size *int64 `json:"size"`
		} `json:"children"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("prusaconnect: decode files: %w", err)
	}
	out := make([]types.File, 0, len(parsed.Children))
	for _, c := range parsed.Children {
		out = append(out, types.File{Name: c.Name, Path: "/usb/" + c.Name, Size: c.Size})
	}
	return out, nil
}

func (p *PrusaConnectAdapter) UploadFile(ctx context.Context, localPath string) (types.UploadResult, error) {
	f, err := os.Open(localPath)
	if err != nil {
		return types.UploadResult{}, fmt.Errorf("prusaconnect: open %s: %w", localPath, err)
	}
	defer f.Close()

	name := filepath.Base(localPath)
	resp, err := p.do(ctx, http.MethodPut, "/api/v1/files/usb/"+name, f, "text/x.gcode")
	if err != nil {
		return types.UploadResult{}, err
	}
	defer resp.Body.Close()
	return types.UploadResult{Success: true, RemotePath: "/usb/" + name}, nil
}

func (p *PrusaConnectAdapter) DeleteFile(ctx context.Context, remotePath string) error {
	resp, err := p.do(ctx, http.MethodDelete, "/api/v1/files"+remotePath, nil, "")
	if err != nil {
		return err
	}
	resp.Body.Close()
	return nil
}

func (p *PrusaConnectAdapter) StartPrint(ctx context.Context, fileName string) (types.PrintResult, error) {
	resp, err := p.do(ctx, http.MethodPost, "/api/v1/files/usb/"+fileName, nil, "")
	if err != nil {
		return types.PrintResult{Success: false, Message: err.Error()}, err
	}
	resp.Body.Close()
	return types.PrintResult{Success: true}, nil
}

func (p *PrusaConnectAdapter) jobAction(ctx context.Context, action string) (types.PrintResult, error) {
	resp, err := p.do(ctx, http.MethodPut, "/api/v1/job/"+action, nil, "")
	if err != nil {
		return types.PrintResult{Success: false, Message: err.Error()}, err
	}
	resp.Body.Close()
	return types.PrintResult{Success: true}, nil
}

func (p *PrusaConnectAdapter) CancelPrint(ctx context.Context) (types.PrintResult, error) {
	return p.jobAction(ctx, "stop")
}

func (p *PrusaConnectAdapter) PausePrint(ctx context.Context) (types.PrintResult, error) {
	return p.jobAction(ctx, "pause")
}

func (p *PrusaConnectAdapter) ResumePrint(ctx context.Context) (types.PrintResult, error) {
	return p.jobAction(ctx, "resume")
}

func (p *PrusaConnectAdapter) EmergencyStop(ctx context.Context) (types.PrintResult, error) {
	return p.jobAction(ctx, "stop")
}

func (p *PrusaConnectAdapter) SetToolTemp(ctx context.Context, target float64) error {
	if target < 0 {
		return fmt.Errorf("prusaconnect: target %.0f is negative", target)
	}
	if target > p.safety.HotendCeiling {
		return fmt.Errorf("prusaconnect: target %.0f exceeds hotend ceiling %.0f", target, p.safety.HotendCeiling)
	}
	return fmt.Errorf("prusaconnect: setting target temperature outside an active job is not exposed by PrusaLink")
}

func (p *PrusaConnectAdapter) SetBedTemp(ctx context.Context, target float64) error {
	if target < 0 {
		return fmt.Errorf("prusaconnect: target %.0f is negative", target)
	}
	if target > p.safety.BedCeiling {
		return fmt.Errorf("prusaconnect: target %.0f exceeds bed ceiling %.0f", target, p.safety.BedCeiling)
	}
	return fmt.Errorf("prusaconnect: setting target temperature outside an active job is not exposed by PrusaLink")
}

// SendGCode is unsupported: PrusaLink exposes no raw terminal channel.
func (p *PrusaConnectAdapter) SendGCode(ctx context.Context, commands []string) error {
	return fmt.Errorf("prusaconnect: raw G-code injection is not supported by the PrusaLink API")
}

func (p *PrusaConnectAdapter) Snapshot(ctx context.Context) ([]byte, error) {
	resp, err := p.do(ctx, http.MethodGet, "/api/v1/camera_snapshot", nil, "")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	return io.ReadAll(resp.Body)
}

// GetStreamURL reuses the snapshot endpoint: PrusaLink exposes no separate
// MJPEG stream, only single-frame snapshots.
func (p *PrusaConnectAdapter) GetStreamURL(ctx context.Context) (string, error) {
	return p.baseURL + "/api/v1/camera_snapshot", nil
}
