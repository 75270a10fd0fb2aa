package adapter

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/codeofaxel/kiln/pkg/types"
	"golang.org/x/sys/unix"
)

var (
	tempRe     = regexp.MustCompile(`T:([\d.]+)\s*/([\d.]+)`)
	bedTempRe  = regexp.MustCompile(`B:([\d.]+)\s*/([\d.]+)`)
	sdBytesRe  = regexp.MustCompile(`SD printing byte\s+(\d+)\s*/\s*(\d+)`)
)

// SerialAdapter drives Marlin/RepRap firmware over a USB serial connection
// using the standard G-code command/response protocol. Thread-safe: a mutex
// serialises port access so concurrent tool calls cannot interleave G-code.
type SerialAdapter struct {
	port     string
	baudrate int
	timeout  time.Duration
	safety   types.SafetyProfile

	mu        sync.Mutex
	fd        int
	file      *os.File
	reader    *bufio.Reader
	connected bool
}

// NewSerialAdapter constructs an adapter for the given device path (e.g.
// "/dev/ttyUSB0", "/dev/ttyACM0"). It does not connect until Connect is
// called.
func NewSerialAdapter(port string, baudrate int, safety types.SafetyProfile) *SerialAdapter {
	if baudrate == 0 {
		baudrate = 115200
	}
	return &SerialAdapter{port: port, baudrate: baudrate, timeout: 10 * time.Second, safety: safety}
}

func (s *SerialAdapter) Type() types.AdapterType { return types.AdapterSerial }

func (s *SerialAdapter) Capabilities() types.Capabilities {
	return types.Capabilities{
		CanUpload:      true,
		CanSetTemp:     true,
		CanSendGCode:   true,
		CanPause:       true,
		FileExtensions: []string{".gcode"},
	}
}

// Connect opens the serial port and configures it as a raw 8N1 line at the
// adapter's configured baud rate via termios.
func (s *SerialAdapter) Connect(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.connected {
		return nil
	}

	f, err := os.OpenFile(s.port, os.O_RDWR|os.O_NOCTTY, 0)
	if err != nil {
		return fmt.Errorf("serial: open %s: %w", s.port, err)
	}

	fd := int(f.Fd())
	term, err := unix.IoctlGetTermios(fd, unix.TCGETS)
	if err != nil {
		f.Close()
		return fmt.Errorf("serial: tcgetattr %s: %w", s.port, err)
	}

	rate, ok := baudConstant(s.baudrate)
	if !ok {
		f.Close()
		return fmt.Errorf("serial: unsupported baud rate %d", s.baudrate)
	}

	term.Cflag = unix.CREAD | unix.CLOCAL | rate | unix.CS8
	term.Iflag = 0
	term.Oflag = 0
	term.Lflag = 0
	term.Cc[unix.VMIN] = 0
	term.Cc[unix.VTIME] = 10 // 1s read granularity; callers rely on ctx for overall timeout

	if err := unix.IoctlSetTermios(fd, unix.TCSETS, term); err != nil {
		f.Close()
		return fmt.Errorf("serial: tcsetattr %s: %w", s.port, err)
	}

	s.fd = fd
	s.file = f
	s.reader = bufio.NewReader(f)
	s.connected = true

	// Firmware reboots on DTR toggle at port open; wait for the startup
	// banner before issuing commands.
	time.Sleep(2 * time.Second)
	s.drain()

	return nil
}

func (s *SerialAdapter) Disconnect(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.connected {
		return nil
	}
	err := s.file.Close()
	s.connected = false
	s.file = nil
	s.reader = nil
	return err
}

// drain discards any buffered lines without blocking for long.
func (s *SerialAdapter) drain() {
	for i := 0; i < 20; i++ {
		line, err := s.reader.ReadString('\n')
		if err != nil || line == "" {
			return
		}
	}
}

// sendCommand writes a G-code line and reads until "ok" or "error".
func (s *SerialAdapter) sendCommand(ctx context.Context, cmd string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.connected {
		return "", fmt.Errorf("serial: not connected")
	}

	if _, err := s.file.WriteString(cmd + "\n"); err != nil {
		return "", fmt.Errorf("serial: write %q: %w", cmd, err)
	}

	var sb strings.Builder
	deadline := time.Now().Add(s.timeout)
	for time.Now().Before(deadline) {
		select {
		case <-ctx.Done():
			return sb.String(), ctx.Err()
		default:
		}
		line, err := s.reader.ReadString('\n')
		if line != "" {
			sb.WriteString(line)
			trimmed := strings.TrimSpace(line)
			if strings.HasPrefix(trimmed, "ok") {
				return sb.String(), nil
			}
			if strings.HasPrefix(trimmed, "error") || strings.HasPrefix(trimmed, "Error") {
				return sb.String(), fmt.Errorf("serial: firmware error: %s", trimmed)
			}
		}
		if err != nil {
			continue
		}
	}
	return sb.String(), fmt.Errorf("serial: timeout waiting for response to %q", cmd)
}

func (s *SerialAdapter) GetState(ctx context.Context) (types.PrinterState, error) {
	resp, err := s.sendCommand(ctx, "M105")
	if err != nil {
		return types.PrinterState{Connected: false}, err
	}

	state := types.PrinterState{Connected: true, Status: types.PrinterIdle}
	if m := tempRe.FindStringSubmatch(resp); m != nil {
		actual, _ := strconv.ParseFloat(m[1], 64)
		target, _ := strconv.ParseFloat(m[2], 64)
		state.Hotend = &types.Temperature{Actual: actual, Target: target}
	}
	if m := bedTempRe.FindStringSubmatch(resp); m != nil {
		actual, _ := strconv.ParseFloat(m[1], 64)
		target, _ := strconv.ParseFloat(m[2], 64)
		state.Bed = &types.Temperature{Actual: actual, Target: target}
	}
	return state, nil
}

func (s *SerialAdapter) GetJob(ctx context.Context) (types.JobProgress, error) {
	resp, err := s.sendCommand(ctx, "M27")
	if err != nil {
		return types.JobProgress{}, err
	}
	m := sdBytesRe.FindStringSubmatch(resp)
	if m == nil {
		return types.JobProgress{}, nil
	}
	current, _ := strconv.ParseFloat(m[1], 64)
	total, _ := strconv.ParseFloat(m[2], 64)
	if total == 0 {
		return types.JobProgress{}, nil
	}
	pct := current / total * 100
	return types.JobProgress{CompletionPct: &pct}, nil
}

func (s *SerialAdapter) ListFiles(ctx context.Context) ([]types.File, error) {
	resp, err := s.sendCommand(ctx, "M20")
	if err != nil {
		return nil, err
	}
	var files []types.File
	for _, line := range strings.Split(resp, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "ok") || strings.Contains(line, "file list") {
			continue
		}
		files = append(files, types.File{Name: line, Path: line})
	}
	return files, nil
}

func (s *SerialAdapter) UploadFile(ctx context.Context, localPath string) (types.UploadResult, error) {
	return types.UploadResult{}, fmt.Errorf("serial: direct SD upload over the command channel is not supported; copy the file to the SD card instead")
}

func (s *SerialAdapter) DeleteFile(ctx context.Context, remotePath string) error {
	_, err := s.sendCommand(ctx, "M30 "+remotePath)
	return err
}

func (s *SerialAdapter) StartPrint(ctx context.Context, fileName string) (types.PrintResult, error) {
	if _, err := s.sendCommand(ctx, "M23 "+fileName); err != nil {
		return types.PrintResult{Success: false, Message: err.Error()}, err
	}
	if _, err := s.sendCommand(ctx, "M24"); err != nil {
		return types.PrintResult{Success: false, Message: err.Error()}, err
	}
	return types.PrintResult{Success: true}, nil
}

func (s *SerialAdapter) CancelPrint(ctx context.Context) (types.PrintResult, error) {
	_, err := s.sendCommand(ctx, "M524")
	if err != nil {
		return types.PrintResult{Success: false, Message: err.Error()}, err
	}
	return types.PrintResult{Success: true}, nil
}

func (s *SerialAdapter) PausePrint(ctx context.Context) (types.PrintResult, error) {
	_, err := s.sendCommand(ctx, "M25")
	if err != nil {
		return types.PrintResult{Success: false, Message: err.Error()}, err
	}
	return types.PrintResult{Success: true}, nil
}

func (s *SerialAdapter) ResumePrint(ctx context.Context) (types.PrintResult, error) {
	_, err := s.sendCommand(ctx, "M24")
	if err != nil {
		return types.PrintResult{Success: false, Message: err.Error()}, err
	}
	return types.PrintResult{Success: true}, nil
}

// EmergencyStop issues M112, Marlin's immediate halt command. This bypasses
// the send/response cycle entirely: M112 may not produce an "ok".
func (s *SerialAdapter) EmergencyStop(ctx context.Context) (types.PrintResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.connected {
		return types.PrintResult{Success: false, Message: "not connected"}, fmt.Errorf("serial: not connected")
	}
	if _, err := s.file.WriteString("M112\n"); err != nil {
		return types.PrintResult{Success: false, Message: err.Error()}, err
	}
	return types.PrintResult{Success: true, Message: "emergency stop issued"}, nil
}

func (s *SerialAdapter) SetToolTemp(ctx context.Context, target float64) error {
	if target < 0 {
		return fmt.Errorf("serial: target %.0f is negative", target)
	}
	if target > s.safety.HotendCeiling {
		return fmt.Errorf("serial: target %.0f exceeds hotend ceiling %.0f", target, s.safety.HotendCeiling)
	}
	_, err := s.sendCommand(ctx, fmt.Sprintf("M104 S%.0f", target))
	return err
}

func (s *SerialAdapter) SetBedTemp(ctx context.Context, target float64) error {
	if target < 0 {
		return fmt.Errorf("serial: target %.0f is negative", target)
	}
	if target > s.safety.BedCeiling {
		return fmt.Errorf("serial: target %.0f exceeds bed ceiling %.0f", target, s.safety.BedCeiling)
	}
	_, err := s.sendCommand(ctx, fmt.Sprintf("M140 S%.0f", target))
	return err
}

func (s *SerialAdapter) SendGCode(ctx context.Context, commands []string) error {
	for _, cmd := range commands {
		if _, err := s.sendCommand(ctx, cmd); err != nil {
			return err
		}
	}
	return nil
}

// Snapshot is unsupported: USB/serial carries no video channel.
func (s *SerialAdapter) Snapshot(ctx context.Context) ([]byte, error) {
	return nil, ErrNoCamera
}

// GetStreamURL is unsupported: USB/serial carries no video channel.
func (s *SerialAdapter) GetStreamURL(ctx context.Context) (string, error) {
	return "", ErrNoCamera
}

// baudConstant maps a numeric baud rate to its termios Bxxx constant.
func baudConstant(rate int) (uint32, bool) {
	switch rate {
	case 9600:
		return unix.B9600, true
	case 19200:
		return unix.B19200, true
	case 38400:
		return unix.B38400, true
	case 57600:
		return unix.B57600, true
	case 115200:
		return unix.B115200, true
	case 250000:
		return unix.B230400, true // closest standard constant; Marlin boards commonly alias 250000 to this divisor
	default:
		return 0, false
	}
}
