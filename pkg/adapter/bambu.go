package adapter

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/textproto"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/codeofaxel/kiln/pkg/types"
)

// BambuAdapter drives a Bambu Lab printer over its local MQTT broker
// (the printer's "LAN mode" interface), authenticating with the device
// access code, and uploads files over FTPS to the printer's SD card.
type BambuAdapter struct {
	host       string
	serial     string
	accessCode string
	safety     types.SafetyProfile

	mu       sync.Mutex
	client   mqtt.Client
	lastData bambuPushStatus
}

// bambuPushStatus mirrors the subset of Bambu's "push_status" MQTT report
// this adapter cares about.
type bambuPushStatus struct {
	NozzleTemp       float64 `json:"nozzle_temper"`
	NozzleTargetTemp float64 `json:"nozzle_target_temper"`
	BedTemp          float64 `json:"bed_temper"`
	BedTargetTemp    float64 `json:"bed_target_temper"`
	GcodeState       string  `json:"gcode_state"`
	GcodeFile        string  `json:"gcode_file"`
	McPercent        float64 `json:"mc_percent"`
	McRemainingTime  int64   `json:"mc_remaining_time"` // minutes
}

// NewBambuAdapter constructs an adapter for a Bambu printer in LAN mode.
// serial is the printer's serial number (used as the MQTT client/topic
// scope); accessCode is the LAN access code shown on the printer's screen.
func NewBambuAdapter(host, serial, accessCode string, safety types.SafetyProfile) *BambuAdapter {
	return &BambuAdapter{host: host, serial: serial, accessCode: accessCode, safety: safety}
}

func (b *BambuAdapter) Type() types.AdapterType { return types.AdapterBambu }

func (b *BambuAdapter) Capabilities() types.Capabilities {
	return types.Capabilities{
		CanUpload:      true,
		CanSetTemp:     true,
		CanSendGCode:   false, // Bambu firmware does not accept raw G-code over MQTT
		CanPause:       true,
		CanStream:      false,
		CanSnapshot:    false,
		FileExtensions: []string{".3mf", ".gcode"},
	}
}

func (b *BambuAdapter) Connect(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.client != nil && b.client.IsConnected() {
		return nil
	}

	opts := mqtt.NewClientOptions().
		AddBroker(fmt.Sprintf("ssl://%s:8883", b.host)).
		SetClientID("kiln-" + b.serial).
		SetUsername("bblp").
		SetPassword(b.accessCode).
		SetTLSConfig(&tls.Config{InsecureSkipVerify: true}). // Bambu's LAN broker presents a self-signed cert
		SetAutoReconnect(true).
		SetConnectTimeout(10 * time.Second)

	client := mqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(15 * time.Second) {
		return fmt.Errorf("bambu: connect timed out")
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("bambu: connect: %w", err)
	}

	reportTopic := fmt.Sprintf("device/%s/report", b.serial)
	subToken := client.Subscribe(reportTopic, 0, func(_ mqtt.Client, msg mqtt.Message) {
		b.handleReport(msg.Payload())
	})
	if !subToken.WaitTimeout(10*time.Second) || subToken.Error() != nil {
		client.Disconnect(250)
		return fmt.Errorf("bambu: subscribe %s: %w", reportTopic, subToken.Error())
	}

	b.client = client
	return nil
}

func (b *BambuAdapter) handleReport(payload []byte) {
	var envelope struct {
		Print bambuPushStatus `json:"print"`
	}
	if err := json.Unmarshal(payload, &envelope); err != nil {
		return
	}
	b.mu.Lock()
	b.lastData = envelope.Print
	b.mu.Unlock()
}

func (b *BambuAdapter) Disconnect(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.client == nil {
		return nil
	}
	b.client.Disconnect(250)
	b.client = nil
	return nil
}

// publish sends a gcode-request-shaped command over MQTT, Bambu's only
// control channel.
func (b *BambuAdapter) publish(command map[string]any) error {
	b.mu.Lock()
	client := b.client
	b.mu.Unlock()
	if client == nil {
		return fmt.Errorf("bambu: not connected")
	}
	payload, err := json.Marshal(command)
	if err != nil {
		return err
	}
	topic := fmt.Sprintf("device/%s/request", b.serial)
	token := client.Publish(topic, 0, false, payload)
	if !token.WaitTimeout(10 * time.Second) {
		return fmt.Errorf("bambu: publish %s: timeout", topic)
	}
	return token.Error()
}

func (b *BambuAdapter) GetState(ctx context.Context) (types.PrinterState, error) {
	b.mu.Lock()
	data := b.lastData
	connected := b.client != nil && b.client.IsConnected()
	b.mu.Unlock()

	if !connected {
		return types.PrinterState{Connected: false}, nil
	}

	status := types.PrinterIdle
	switch strings.ToUpper(data.GcodeState) {
	case "RUNNING":
		status = types.PrinterPrinting
	case "PAUSE":
		status = types.PrinterPaused
	case "FAILED":
		status = types.PrinterError
	}

	return types.PrinterState{
		Connected: true,
		Status:    status,
		Hotend:    &types.Temperature{Actual: data.NozzleTemp, Target: data.NozzleTargetTemp},
		Bed:       &types.Temperature{Actual: data.BedTemp, Target: data.BedTargetTemp},
	}, nil
}

func (b *BambuAdapter) GetJob(ctx context.Context) (types.JobProgress, error) {
	b.mu.Lock()
	data := b.lastData
	b.mu.Unlock()

	var name *string
	if data.GcodeFile != "" {
		name = &data.GcodeFile
	}
	pct := data.McPercent
	remaining := data.McRemainingTime * 60
	return types.JobProgress{FileName: name, CompletionPct: &pct, PrintTimeLeft: &remaining}, nil
}

// ListFiles is unsupported over MQTT: Bambu exposes its SD card only via
// FTPS, which has no directory-listing convenience beyond the raw LIST
// command; callers needing a catalogue should use the FTPS client directly.
func (b *BambuAdapter) ListFiles(ctx context.Context) ([]types.File, error) {
	return nil, fmt.Errorf("bambu: file listing is not exposed over MQTT")
}

// UploadFile transfers localPath to the printer's SD card over FTPS
// (implicit TLS on port 990), the only upload path Bambu firmware exposes.
func (b *BambuAdapter) UploadFile(ctx context.Context, localPath string) (types.UploadResult, error) {
	conn, err := tls.Dial("tcp", fmt.Sprintf("%s:990", b.host), &tls.Config{InsecureSkipVerify: true})
	if err != nil {
		return types.UploadResult{}, fmt.Errorf("bambu: ftps dial: %w", err)
	}
	defer conn.Close()

	tp := textproto.NewConn(conn)
	defer tp.Close()

	if _, _, err := tp.ReadResponse(220); err != nil {
		return types.UploadResult{}, fmt.Errorf("bambu: ftps banner: %w", err)
	}
	if err := ftpsCommand(tp, "USER bblp", 331); err != nil {
		return types.UploadResult{}, err
	}
	if err := ftpsCommand(tp, "PASS "+b.accessCode, 230); err != nil {
		return types.UploadResult{}, err
	}
	if err := ftpsCommand(tp, "TYPE I", 200); err != nil {
		return types.UploadResult{}, err
	}

	// Passive mode for the data connection.
	if err := tp.PrintfLine("PASV"); err != nil {
		return types.UploadResult{}, err
	}
	_, pasvMsg, err := tp.ReadResponse(227)
	if err != nil {
		return types.UploadResult{}, fmt.Errorf("bambu: ftps pasv: %w", err)
	}
	dataAddr, err := parsePASV(pasvMsg)
	if err != nil {
		return types.UploadResult{}, err
	}

	dataConn, err := tls.Dial("tcp", dataAddr, &tls.Config{InsecureSkipVerify: true})
	if err != nil {
		return types.UploadResult{}, fmt.Errorf("bambu: ftps data dial: %w", err)
	}
	defer dataConn.Close()

	name := filepath.Base(localPath)
	if err := tp.PrintfLine("STOR %s", name); err != nil {
		return types.UploadResult{}, err
	}
	if _, _, err := tp.ReadResponse(150); err != nil {
		return types.UploadResult{}, fmt.Errorf("bambu: ftps stor: %w", err)
	}

	f, err := os.Open(localPath)
	if err != nil {
		return types.UploadResult{}, fmt.Errorf("bambu: open %s: %w", localPath, err)
	}
	defer f.Close()

	if _, err := io.Copy(dataConn, f); err != nil {
		return types.UploadResult{}, fmt.Errorf("bambu: ftps transfer: %w", err)
	}
	dataConn.Close()

	if _, _, err := tp.ReadResponse(226); err != nil {
		return types.UploadResult{}, fmt.Errorf("bambu: ftps transfer complete: %w", err)
	}

	return types.UploadResult{Success: true, RemotePath: name}, nil
}

func ftpsCommand(tp *textproto.Conn, cmd string, expectCode int) error {
	if err := tp.PrintfLine("%s", cmd); err != nil {
		return fmt.Errorf("bambu: ftps send %q: %w", cmd, err)
	}
	if _, _, err := tp.ReadResponse(expectCode); err != nil {
		return fmt.Errorf("bambu: ftps %q: %w", cmd, err)
	}
	return nil
}

// parsePASV extracts "host:port" from a 227 PASV response of the form
// "227 Entering Passive Mode (h1,h2,h3,h4,p1,p2)".
func parsePASV(msg string) (string, error) {
	start := strings.IndexByte(msg, '(')
	end := strings.IndexByte(msg, ')')
	if start < 0 || end < 0 || end < start {
		return "", fmt.Errorf("bambu: malformed PASV response: %s", msg)
	}
	parts := strings.Split(msg[start+1:end], ",")
	if len(parts) != 6 {
		return "", fmt.Errorf("bambu: malformed PASV response: %s", msg)
	}
	p1, err1 := strconv.Atoi(parts[4])
	p2, err2 := strconv.Atoi(parts[5])
	if err1 != nil || err2 != nil {
		return "", fmt.Errorf("bambu: malformed PASV port in: %s", msg)
	}
	port := p1*256 + p2
	return fmt.Sprintf("%s.%s.%s.%s:%d", parts[0], parts[1], parts[2], parts[3], port), nil
}

func (b *BambuAdapter) DeleteFile(ctx context.Context, remotePath string) error {
	return fmt.Errorf("bambu: file deletion is not exposed over MQTT or FTPS by stock firmware")
}

func (b *BambuAdapter) StartPrint(ctx context.Context, fileName string) (types.PrintResult, error) {
	err := b.publish(map[string]any{
		"print": map[string]any{
			"sequence_id": "0",
			"command":     "project_file",
			"param":       "Metadata/plate_1.gcode",
			"url":         "file:///sdcard/" + fileName,
		},
	})
	if err != nil {
		return types.PrintResult{Success: false, Message: err.Error()}, err
	}
	return types.PrintResult{Success: true}, nil
}

func (b *BambuAdapter) printCommand(command string) (types.PrintResult, error) {
	err := b.publish(map[string]any{"print": map[string]any{"sequence_id": "0", "command": command}})
	if err != nil {
		return types.PrintResult{Success: false, Message: err.Error()}, err
	}
	return types.PrintResult{Success: true}, nil
}

func (b *BambuAdapter) CancelPrint(ctx context.Context) (types.PrintResult, error) {
	return b.printCommand("stop")
}

func (b *BambuAdapter) PausePrint(ctx context.Context) (types.PrintResult, error) {
	return b.printCommand("pause")
}

func (b *BambuAdapter) ResumePrint(ctx context.Context) (types.PrintResult, error) {
	return b.printCommand("resume")
}

func (b *BambuAdapter) EmergencyStop(ctx context.Context) (types.PrintResult, error) {
	return b.printCommand("stop")
}

func (b *BambuAdapter) SetToolTemp(ctx context.Context, target float64) error {
	if target < 0 {
		return fmt.Errorf("bambu: target %.0f is negative", target)
	}
	if target > b.safety.HotendCeiling {
		return fmt.Errorf("bambu: target %.0f exceeds hotend ceiling %.0f", target, b.safety.HotendCeiling)
	}
	return b.publish(map[string]any{"print": map[string]any{"sequence_id": "0", "command": "gcode_line", "param": fmt.Sprintf("M104 S%.0f", target)}})
}

func (b *BambuAdapter) SetBedTemp(ctx context.Context, target float64) error {
	if target < 0 {
		return fmt.Errorf("bambu: target %.0f is negative", target)
	}
	if target > b.safety.BedCeiling {
		return fmt.Errorf("bambu: target %.0f exceeds bed ceiling %.0f", target, b.safety.BedCeiling)
	}
	return b.publish(map[string]any{"print": map[string]any{"sequence_id": "0", "command": "gcode_line", "param": fmt.Sprintf("M140 S%.0f", target)}})
}

// SendGCode is unsupported: Bambu firmware rejects arbitrary G-code lines
// outside the small whitelisted command set used by the official app.
func (b *BambuAdapter) SendGCode(ctx context.Context, commands []string) error {
	return fmt.Errorf("bambu: raw G-code injection is not accepted by stock firmware")
}

func (b *BambuAdapter) Snapshot(ctx context.Context) ([]byte, error) {
	return nil, ErrNoCamera
}

// GetStreamURL is unsupported: Bambu's onboard camera is only reachable
// through the vendor app's encrypted RTSP relay, not a plain stream URL.
func (b *BambuAdapter) GetStreamURL(ctx context.Context) (string, error) {
	return "", ErrNoCamera
}
