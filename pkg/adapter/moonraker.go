package adapter

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/codeofaxel/kiln/pkg/types"
	"github.com/gorilla/websocket"
	"go.lsp.dev/jsonrpc2"
)

// MoonrakerAdapter drives a Klipper printer through Moonraker's JSON-RPC 2.0
// API. Requests are framed with go.lsp.dev/jsonrpc2 (ID correlation, call/
// reply bookkeeping) carried over a gorilla/websocket transport instead of
// jsonrpc2's usual Content-Length stream framing — Moonraker's websocket
// already delivers one complete JSON value per frame, so wsStream below
// adapts that framing to the jsonrpc2.Stream interface.
type MoonrakerAdapter struct {
	host   string
	safety types.SafetyProfile

	mu   sync.Mutex
	ws   *websocket.Conn
	conn jsonrpc2.Conn
}

// NewMoonrakerAdapter constructs an adapter for a Moonraker instance at
// host (e.g. "voron.local:7125", no scheme).
func NewMoonrakerAdapter(host string, safety types.SafetyProfile) *MoonrakerAdapter {
	return &MoonrakerAdapter{host: host, safety: safety}
}

func (m *MoonrakerAdapter) Type() types.AdapterType { return types.AdapterMoonraker }

func (m *MoonrakerAdapter) Capabilities() types.Capabilities {
	return types.Capabilities{
		CanUpload:      true,
		CanSetTemp:     true,
		CanSendGCode:   true,
		CanPause:       true,
		CanStream:      true,
		CanSnapshot:    true,
		CanProbeBed:    true,
		FileExtensions: []string{".gcode"},
	}
}

// wsStream adapts a gorilla/websocket connection to jsonrpc2.Stream: each
// websocket text frame carries exactly one jsonrpc2 message, so no
// Content-Length header framing is needed on either side.
type wsStream struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (s *wsStream) Read(ctx context.Context) (jsonrpc2.Message, int64, error) {
	_, data, err := s.conn.ReadMessage()
	if err != nil {
		return nil, 0, err
	}
	msg, err := jsonrpc2.DecodeMessage(data)
	if err != nil {
		return nil, 0, err
	}
	return msg, int64(len(data)), nil
}

func (s *wsStream) Write(ctx context.Context, msg jsonrpc2.Message) (int64, error) {
	data, err := json.Marshal(msg)
	if err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return 0, err
	}
	return int64(len(data)), nil
}

func (s *wsStream) Close() error {
	return s.conn.Close()
}

func (m *MoonrakerAdapter) Connect(ctx context.Context) error {
	m.mu.Lock()
	if m.conn != nil {
		m.mu.Unlock()
		return nil
	}
	m.mu.Unlock()

	u := url.URL{Scheme: "ws", Host: m.host, Path: "/websocket"}
	ws, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return fmt.Errorf("moonraker: dial %s: %w", u.String(), err)
	}

	stream := &wsStream{conn: ws}
	conn := jsonrpc2.NewConn(stream)
	conn.Go(ctx, func(ctx context.Context, reply jsonrpc2.Replier, req jsonrpc2.Request) error {
		// Moonraker emits unsolicited "notify_*" notifications alongside
		// call replies; this adapter polls state instead, so notifications
		// are simply discarded.
		return reply(ctx, nil, nil)
	})

	m.mu.Lock()
	m.ws = ws
	m.conn = conn
	m.mu.Unlock()

	return nil
}

func (m *MoonrakerAdapter) Disconnect(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.conn == nil {
		return nil
	}
	err := m.conn.Close()
	m.conn = nil
	m.ws = nil
	return err
}

// call issues a JSON-RPC request via jsonrpc2.Conn.Call and decodes the
// result into a generic json.RawMessage for ad hoc unmarshaling.
func (m *MoonrakerAdapter) call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	m.mu.Lock()
	conn := m.conn
	m.mu.Unlock()
	if conn == nil {
		return nil, fmt.Errorf("moonraker: not connected")
	}

	callCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	var result json.RawMessage
	if _, err := conn.Call(callCtx, method, params, &result); err != nil {
		return nil, fmt.Errorf("moonraker: %s: %w", method, err)
	}
	return result, nil
}

func (m *MoonrakerAdapter) GetState(ctx context.Context) (types.PrinterState, error) {
	result, err := m.call(ctx, "printer.objects.query", map[string]any{
		"objects": map[string]any{"extruder": nil, "heater_bed": nil, "print_stats": nil},
	})
	if err != nil {
		return types.PrinterState{Connected: false}, err
	}

	var parsed struct {
		Status struct {
			Extruder   struct{ Temperature, Target float64 } `json:"extruder"`
			HeaterBed  struct{ Temperature, Target float64 } `json:"heater_bed"`
			PrintStats struct{ State string }                `json:"print_stats"`
		} `json:"status"`
	}
	if err := json.Unmarshal(result, &parsed); err != nil {
		return types.PrinterState{}, fmt.Errorf("moonraker: decode objects.query: %w", err)
	}

	status := types.PrinterIdle
	switch parsed.Status.PrintStats.State {
	case "printing":
		status = types.PrinterPrinting
	case "paused":
		status = types.PrinterPaused
	case "error":
		status = types.PrinterError
	}

	return types.PrinterState{
		Connected: true,
		Status:    status,
		Hotend:    &types.Temperature{Actual: parsed.Status.Extruder.Temperature, Target: parsed.Status.Extruder.Target},
		Bed:       &types.Temperature{Actual: parsed.Status.HeaterBed.Temperature, Target: parsed.Status.HeaterBed.Target},
	}, nil
}

func (m *MoonrakerAdapter) GetJob(ctx context.Context) (types.JobProgress, error) {
	result, err := m.call(ctx, "printer.objects.query", map[string]any{
		"objects": map[string]any{"print_stats": nil, "virtual_sdcard": nil},
	})
	if err != nil {
		return types.JobProgress{}, err
	}
	var parsed struct {
		Status struct {
			PrintStats struct {
				Filename      string  `json:"filename"`
				TotalDuration float64 `json:"total_duration"`
			} `json:"print_stats"`
			VirtualSDCard struct {
				Progress float64 `json:"progress"`
			} `json:"virtual_sdcard"`
		} `json:"status"`
	}
	if err := json.Unmarshal(result, &parsed); err != nil {
		return types.JobProgress{}, fmt.Errorf("moonraker: decode job query: %w", err)
	}
	pct := parsed.Status.VirtualSDCard.Progress * 100
	elapsed := int64(parsed.Status.PrintStats.TotalDuration)
	var name *string
	if parsed.Status.PrintStats.Filename != "" {
		name = &parsed.Status.PrintStats.Filename
	}
	return types.JobProgress{FileName: name, CompletionPct: &pct, PrintTimeElapsed: &elapsed}, nil
}

func (m *MoonrakerAdapter) ListFiles(ctx context.Context) ([]types.File, error) {
	result, err := m.call(ctx, "server.files.list", map[string]any{"root": "gcodes"})
	if err != nil {
		return nil, err
	}
	var files []struct {
		Path     string  `json:"path"`
		Size     int64   `json:"size"`
		Modified float64 `json:"modified"`
	}
	if err := json.Unmarshal(result, &files); err != nil {
		return nil, fmt.Errorf("moonraker: decode files.list: %w", err)
	}
	out := make([]types.File, 0, len(files))
	for _, f := range files {
		size := f.Size
		out = append(out, types.File{Name: f.Path, Path: f.Path, Size: &size})
	}
	return out, nil
}

func (m *MoonrakerAdapter) UploadFile(ctx context.Context, localPath string) (types.UploadResult, error) {
	// Moonraker's upload endpoint is plain multipart HTTP, not JSON-RPC.
	return types.UploadResult{}, fmt.Errorf("moonraker: use the HTTP /server/files/upload endpoint for uploads; not implemented over the websocket transport")
}

func (m *MoonrakerAdapter) DeleteFile(ctx context.Context, remotePath string) error {
	_, err := m.call(ctx, "server.files.delete_file", map[string]any{"path": remotePath})
	return err
}

func (m *MoonrakerAdapter) StartPrint(ctx context.Context, fileName string) (types.PrintResult, error) {
	_, err := m.call(ctx, "printer.print.start", map[string]any{"filename": fileName})
	if err != nil {
		return types.PrintResult{Success: false, Message: err.Error()}, err
	}
	return types.PrintResult{Success: true}, nil
}

func (m *MoonrakerAdapter) CancelPrint(ctx context.Context) (types.PrintResult, error) {
	_, err := m.call(ctx, "printer.print.cancel", nil)
	if err != nil {
		return types.PrintResult{Success: false, Message: err.Error()}, err
	}
	return types.PrintResult{Success: true}, nil
}

func (m *MoonrakerAdapter) PausePrint(ctx context.Context) (types.PrintResult, error) {
	_, err := m.call(ctx, "printer.print.pause", nil)
	if err != nil {
		return types.PrintResult{Success: false, Message: err.Error()}, err
	}
	return types.PrintResult{Success: true}, nil
}

func (m *MoonrakerAdapter) ResumePrint(ctx context.Context) (types.PrintResult, error) {
	_, err := m.call(ctx, "printer.print.resume", nil)
	if err != nil {
		return types.PrintResult{Success: false, Message: err.Error()}, err
	}
	return types.PrintResult{Success: true}, nil
}

func (m *MoonrakerAdapter) EmergencyStop(ctx context.Context) (types.PrintResult, error) {
	_, err := m.call(ctx, "printer.emergency_stop", nil)
	if err != nil {
		return types.PrintResult{Success: false, Message: err.Error()}, err
	}
	return types.PrintResult{Success: true, Message: "emergency stop issued"}, nil
}

func (m *MoonrakerAdapter) SetToolTemp(ctx context.Context, target float64) error {
	if target < 0 {
		return fmt.Errorf("moonraker: target %.0f is negative", target)
	}
	if target > m.safety.HotendCeiling {
		return fmt.Errorf("moonraker: target %.0f exceeds hotend ceiling %.0f", target, m.safety.HotendCeiling)
	}
	_, err := m.call(ctx, "printer.gcode.script", map[string]any{"script": fmt.Sprintf("M104 S%.0f", target)})
	return err
}

func (m *MoonrakerAdapter) SetBedTemp(ctx context.Context, target float64) error {
	if target < 0 {
		return fmt.Errorf("moonraker: target %.0f is negative", target)
	}
	if target > m.safety.BedCeiling {
		return fmt.Errorf("moonraker: target %.0f exceeds bed ceiling %.0f", target, m.safety.BedCeiling)
	}
	_, err := m.call(ctx, "printer.gcode.script", map[string]any{"script": fmt.Sprintf("M140 S%.0f", target)})
	return err
}

func (m *MoonrakerAdapter) SendGCode(ctx context.Context, commands []string) error {
	for _, cmd := range commands {
		if _, err := m.call(ctx, "printer.gcode.script", map[string]any{"script": cmd}); err != nil {
			return err
		}
	}
	return nil
}

func (m *MoonrakerAdapter) Snapshot(ctx context.Context) ([]byte, error) {
	resp, err := http.Get(fmt.Sprintf("http://%s/webcam/?action=snapshot", m.host))
	if err != nil {
		return nil, fmt.Errorf("moonraker: snapshot: %w", err)
	}
	defer resp.Body.Close()
	return io.ReadAll(resp.Body)
}

func (m *MoonrakerAdapter) GetStreamURL(ctx context.Context) (string, error) {
	return fmt.Sprintf("http://%s/webcam/?action=stream", m.host), nil
}
