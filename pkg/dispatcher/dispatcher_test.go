package dispatcher

import (
	"context"
	"testing"

	"github.com/codeofaxel/kiln/pkg/adapter"
	"github.com/codeofaxel/kiln/pkg/events"
	"github.com/codeofaxel/kiln/pkg/health"
	"github.com/codeofaxel/kiln/pkg/orchestrator"
	"github.com/codeofaxel/kiln/pkg/recovery"
	"github.com/codeofaxel/kiln/pkg/safety"
	"github.com/codeofaxel/kiln/pkg/storage"
	"github.com/codeofaxel/kiln/pkg/types"
	"github.com/stretchr/testify/require"
)

type fakeAdapter struct {
	state      types.PrinterState
	files      []types.File
	snapshot   []byte
	snapshotOK bool
}

func (f *fakeAdapter) Type() types.AdapterType           { return types.AdapterType("fake") }
func (f *fakeAdapter) Capabilities() types.Capabilities  { return types.Capabilities{} }
func (f *fakeAdapter) Connect(ctx context.Context) error { return nil }
func (f *fakeAdapter) Disconnect(ctx context.Context) error {
	return nil
}
func (f *fakeAdapter) GetState(ctx context.Context) (types.PrinterState, error) {
	return f.state, nil
}
func (f *fakeAdapter) GetJob(ctx context.Context) (types.JobProgress, error) {
	return types.JobProgress{}, nil
}
func (f *fakeAdapter) ListFiles(ctx context.Context) ([]types.File, error) {
	return f.files, nil
}
func (f *fakeAdapter) UploadFile(ctx context.Context, localPath string) (types.UploadResult, error) {
	return types.UploadResult{Success: true, RemotePath: "/" + localPath}, nil
}
func (f *fakeAdapter) DeleteFile(ctx context.Context, remotePath string) error { return nil }
func (f *fakeAdapter) StartPrint(ctx context.Context, fileName string) (types.PrintResult, error) {
	return types.PrintResult{Success: true, Message: "started " + fileName}, nil
}
func (f *fakeAdapter) CancelPrint(ctx context.Context) (types.PrintResult, error) {
	return types.PrintResult{Success: true, Message: "cancelled"}, nil
}
func (f *fakeAdapter) PausePrint(ctx context.Context) (types.PrintResult, error) {
	return types.PrintResult{Success: true, Message: "paused"}, nil
}
func (f *fakeAdapter) ResumePrint(ctx context.Context) (types.PrintResult, error) {
	return types.PrintResult{Success: true, Message: "resumed"}, nil
}
func (f *fakeAdapter) EmergencyStop(ctx context.Context) (types.PrintResult, error) {
	return types.PrintResult{Success: true, Message: "stopped"}, nil
}
func (f *fakeAdapter) SetToolTemp(ctx context.Context, target float64) error { return nil }
func (f *fakeAdapter) SetBedTemp(ctx context.Context, target float64) error  { return nil }
func (f *fakeAdapter) SendGCode(ctx context.Context, commands []string) error {
	return nil
}
func (f *fakeAdapter) Snapshot(ctx context.Context) ([]byte, error) {
	if !f.snapshotOK {
		return nil, adapter.ErrNoCamera
	}
	return f.snapshot, nil
}
func (f *fakeAdapter) GetStreamURL(ctx context.Context) (string, error) {
	if !f.snapshotOK {
		return "", adapter.ErrNoCamera
	}
	return "http://fake/webcam/?action=stream", nil
}

func newIdleAdapter() *fakeAdapter {
	return &fakeAdapter{
		state: types.PrinterState{
			Connected: true,
			Status:    types.PrinterIdle,
			Hotend:    &types.Temperature{Actual: 20, Target: 0},
			Bed:       &types.Temperature{Actual: 20, Target: 0},
		},
	}
}

func newTestDispatcher(t *testing.T, cfg safety.Config) (*Dispatcher, *fakeAdapter) {
	t.Helper()
	store, err := storage.NewBoltStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	bus := events.NewBroker(16)
	registry := adapter.NewRegistry()
	a := newIdleAdapter()
	registry.Register("printer1", a)

	gate := safety.NewGate(cfg, store, bus)
	orch, err := orchestrator.NewOrchestrator(store, bus, nil)
	require.NoError(t, err)
	require.NoError(t, orch.RegisterPrinter(&types.PrinterRecord{
		Label:           "printer1",
		Status:          types.PrinterIdle,
		SafetyProfileID: "generic",
	}))

	monitor := health.NewMonitor(registry, bus)
	planner := recovery.NewPlanner(store, 3)

	d := New(registry, gate, store, bus, orch, monitor, planner, "printer1")
	return d, a
}

func TestInvokeUnknownTool(t *testing.T) {
	d, _ := newTestDispatcher(t, safety.Config{})
	result := d.Invoke(context.Background(), "", "no_such_tool", nil)
	require.Equal(t, false, result["success"])
	errMap := result["error"].(map[string]any)
	require.Equal(t, "UNKNOWN_TOOL", errMap["code"])
}

func TestInvokePrinterStatusSafeTool(t *testing.T) {
	d, _ := newTestDispatcher(t, safety.Config{})
	result := d.Invoke(context.Background(), "", "printer_status", map[string]any{"printer_name": "printer1"})
	require.Equal(t, true, result["success"])
	require.Equal(t, string(types.PrinterIdle), result["status"])
}

func TestInvokeAuthRequiredBlocksWithoutToken(t *testing.T) {
	d, _ := newTestDispatcher(t, safety.Config{AuthEnabled: true, AuthToken: "secret"})
	result := d.Invoke(context.Background(), "", "printer_status", map[string]any{"printer_name": "printer1"})
	require.Equal(t, false, result["success"])
	errMap := result["error"].(map[string]any)
	require.Equal(t, string(safety.CodeAuthError), errMap["code"])
}

func TestInvokeConfirmModeRequiresConfirmation(t *testing.T) {
	d, a := newTestDispatcher(t, safety.Config{ConfirmMode: true})
	a.files = []types.File{{Name: "part.gcode", Path: "part.gcode"}}
	result := d.Invoke(context.Background(), "", "start_print", map[string]any{
		"printer_name": "printer1",
		"file_name":    "part.gcode",
	})
	require.Equal(t, true, result["success"])
	require.Equal(t, true, result["confirmation_required"])
	token, ok := result["confirmation_token"].(string)
	require.True(t, ok)
	require.NotEmpty(t, token)

	confirmed := d.Invoke(context.Background(), "", "confirm_action", map[string]any{"token": token})
	require.Equal(t, true, confirmed["success"])
	require.Contains(t, confirmed["message"], "started part.gcode")
}

func TestInvokeConfirmActionRejectsUnknownToken(t *testing.T) {
	d, _ := newTestDispatcher(t, safety.Config{})
	result := d.Invoke(context.Background(), "", "confirm_action", map[string]any{"token": "bogus"})
	require.Equal(t, false, result["success"])
	errMap := result["error"].(map[string]any)
	require.Equal(t, string(safety.CodeInvalidToken), errMap["code"])
}

func TestInvokeSendGCodeBlocksDangerousCommand(t *testing.T) {
	d, _ := newTestDispatcher(t, safety.Config{})
	result := d.Invoke(context.Background(), "", "send_gcode", map[string]any{
		"printer_name": "printer1",
		"commands":     []interface{}{"M104 S500"},
	})
	require.Equal(t, false, result["success"])
	errMap := result["error"].(map[string]any)
	require.Equal(t, string(safety.CodeGCodeBlocked), errMap["code"])
}

func TestInvokeSnapshotWithoutCameraReturnsError(t *testing.T) {
	d, _ := newTestDispatcher(t, safety.Config{})
	result := d.Invoke(context.Background(), "", "printer_snapshot", map[string]any{"printer_name": "printer1"})
	require.Equal(t, false, result["success"])
}

func TestInvokeSubmitJobAssignsIdlePrinter(t *testing.T) {
	d, _ := newTestDispatcher(t, safety.Config{})
	result := d.Invoke(context.Background(), "", "submit_job", map[string]any{
		"file_path":    "/tmp/part.gcode",
		"submitted_by": "agent",
	})
	require.Equal(t, true, result["success"])
	require.Equal(t, true, result["assigned"])
	require.Equal(t, "printer1", result["printer"])
}

func TestInvokeFleetStatusReportsUtilization(t *testing.T) {
	d, _ := newTestDispatcher(t, safety.Config{})
	result := d.Invoke(context.Background(), "", "fleet_status", nil)
	require.Equal(t, true, result["success"])
	require.Equal(t, 1, result["total_printers"])
}
