// Package adapter defines the Printer Adapter Protocol: a single interface
// that normalizes USB/serial, OctoPrint, Moonraker (Klipper), Bambu Lab, and
// PrusaConnect printer backends behind one surface, plus a registry that
// binds adapter instances to printer labels.
package adapter

import (
	"context"

	"github.com/codeofaxel/kiln/pkg/types"
)

// PrinterAdapter is the protocol every concrete backend implements. All
// methods take a context so callers can bound network round-trips; all
// return plain errors, never panic on a disconnected backend.
type PrinterAdapter interface {
	// Type identifies which backend protocol this adapter speaks.
	Type() types.AdapterType

	// Capabilities reports which optional operations this backend supports.
	Capabilities() types.Capabilities

	// Connect establishes the underlying connection (serial port, HTTP
	// session, websocket, or MQTT session). Idempotent.
	Connect(ctx context.Context) error

	// Disconnect tears down the underlying connection. Idempotent.
	Disconnect(ctx context.Context) error

	// GetState returns the current connection/thermal state.
	GetState(ctx context.Context) (types.PrinterState, error)

	// GetJob returns progress for any in-progress print.
	GetJob(ctx context.Context) (types.JobProgress, error)

	// ListFiles lists files stored on the printer or its SD card.
	ListFiles(ctx context.Context) ([]types.File, error)

	// UploadFile transfers a local g-code file to the printer.
	UploadFile(ctx context.Context, localPath string) (types.UploadResult, error)

	// DeleteFile removes a file from the printer's storage.
	DeleteFile(ctx context.Context, remotePath string) error

	// StartPrint begins printing a file already present on the printer.
	StartPrint(ctx context.Context, fileName string) (types.PrintResult, error)

	// CancelPrint aborts the active print.
	CancelPrint(ctx context.Context) (types.PrintResult, error)

	// PausePrint pauses the active print.
	PausePrint(ctx context.Context) (types.PrintResult, error)

	// ResumePrint resumes a paused print.
	ResumePrint(ctx context.Context) (types.PrintResult, error)

	// EmergencyStop immediately halts motion and heaters. Always available
	// regardless of Capabilities.
	EmergencyStop(ctx context.Context) (types.PrintResult, error)

	// SetToolTemp sets the hotend target temperature.
	SetToolTemp(ctx context.Context, target float64) error

	// SetBedTemp sets the bed target temperature.
	SetBedTemp(ctx context.Context, target float64) error

	// SendGCode sends raw g-code lines. Callers must run them through the
	// safety gate first; adapters do not re-validate.
	SendGCode(ctx context.Context, commands []string) error

	// Snapshot returns a webcam still image, or ErrNoCamera if unsupported.
	Snapshot(ctx context.Context) ([]byte, error)

	// GetStreamURL returns the webcam's live MJPEG/RTSP stream URL, or
	// ErrNoCamera if unsupported. The Health Monitor polls this URL to
	// check webcam reachability without pulling a full snapshot.
	GetStreamURL(ctx context.Context) (string, error)
}

// ErrNoCamera is returned by Snapshot when the backend has no webcam.
type errNoCamera struct{}

func (errNoCamera) Error() string { return "adapter: no webcam configured" }

// ErrNoCamera is the sentinel returned by Snapshot on backends without a
// configured webcam.
var ErrNoCamera error = errNoCamera{}
