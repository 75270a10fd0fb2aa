package safety

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/codeofaxel/kiln/pkg/adapter"
	"github.com/codeofaxel/kiln/pkg/types"
	"github.com/stretchr/testify/require"
)

type preflightAdapter struct {
	state types.PrinterState
	files []types.File
}

func (a *preflightAdapter) Type() types.AdapterType         { return types.AdapterSerial }
func (a *preflightAdapter) Capabilities() types.Capabilities { return types.Capabilities{} }
func (a *preflightAdapter) Connect(ctx context.Context) error    { return nil }
func (a *preflightAdapter) Disconnect(ctx context.Context) error { return nil }
func (a *preflightAdapter) GetState(ctx context.Context) (types.PrinterState, error) {
	return a.state, nil
}
func (a *preflightAdapter) GetJob(ctx context.Context) (types.JobProgress, error) {
	return types.JobProgress{}, nil
}
func (a *preflightAdapter) ListFiles(ctx context.Context) ([]types.File, error) { return a.files, nil }
func (a *preflightAdapter) UploadFile(ctx context.Context, localPath string) (types.UploadResult, error) {
	return types.UploadResult{}, nil
}
func (a *preflightAdapter) DeleteFile(ctx context.Context, remotePath string) error { return nil }
func (a *preflightAdapter) StartPrint(ctx context.Context, fileName string) (types.PrintResult, error) {
	return types.PrintResult{}, nil
}
func (a *preflightAdapter) CancelPrint(ctx context.Context) (types.PrintResult, error) {
	return types.PrintResult{}, nil
}
func (a *preflightAdapter) PausePrint(ctx context.Context) (types.PrintResult, error) {
	return types.PrintResult{}, nil
}
func (a *preflightAdapter) ResumePrint(ctx context.Context) (types.PrintResult, error) {
	return types.PrintResult{}, nil
}
func (a *preflightAdapter) EmergencyStop(ctx context.Context) (types.PrintResult, error) {
	return types.PrintResult{}, nil
}
func (a *preflightAdapter) SetToolTemp(ctx context.Context, target float64) error { return nil }
func (a *preflightAdapter) SetBedTemp(ctx context.Context, target float64) error  { return nil }
func (a *preflightAdapter) SendGCode(ctx context.Context, commands []string) error { return nil }
func (a *preflightAdapter) Snapshot(ctx context.Context) ([]byte, error) {
	return nil, adapter.ErrNoCamera
}
func (a *preflightAdapter) GetStreamURL(ctx context.Context) (string, error) {
	return "", adapter.ErrNoCamera
}

func TestRunPreflightAllPass(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "benchy.gcode")
	require.NoError(t, os.WriteFile(path, []byte("G28\n"), 0o644))

	a := &preflightAdapter{
		state: types.PrinterState{Connected: true, Status: types.PrinterIdle,
			Hotend: &types.Temperature{Actual: 25}, Bed: &types.Temperature{Actual: 25}},
		files: []types.File{{Name: "benchy.gcode", Path: "benchy.gcode"}},
	}

	result := RunPreflight(context.Background(), a, testProfile(), PreflightRequest{
		LocalFilePath:  path,
		RemoteFileName: "benchy.gcode",
	})
	require.True(t, result.Ready)
}

func TestRunPreflightNotIdleFails(t *testing.T) {
	a := &preflightAdapter{state: types.PrinterState{Connected: true, Status: types.PrinterPrinting}}
	result := RunPreflight(context.Background(), a, testProfile(), PreflightRequest{})
	require.False(t, result.Ready)
}

func TestRunPreflightDisconnectedFails(t *testing.T) {
	a := &preflightAdapter{state: types.PrinterState{Connected: false}}
	result := RunPreflight(context.Background(), a, testProfile(), PreflightRequest{})
	require.False(t, result.Ready)
}

func TestRunPreflightFileValidation(t *testing.T) {
	a := &preflightAdapter{state: types.PrinterState{Connected: true, Status: types.PrinterIdle}}

	result := RunPreflight(context.Background(), a, testProfile(), PreflightRequest{LocalFilePath: "/does/not/exist.gcode"})
	require.False(t, result.Ready)
}

func TestRunPreflightMaterialNonStrictAdvisory(t *testing.T) {
	a := &preflightAdapter{state: types.PrinterState{Connected: true, Status: types.PrinterIdle}}
	profile := testProfile()
	profile.Model = "ender3"

	result := RunPreflight(context.Background(), a, profile, PreflightRequest{ExpectedMaterial: "nylon", StrictMaterial: false})
	require.True(t, result.Ready)
}

func TestRunPreflightMaterialStrictBlocks(t *testing.T) {
	a := &preflightAdapter{state: types.PrinterState{Connected: true, Status: types.PrinterIdle}}
	profile := testProfile()
	profile.Model = "ender3"

	result := RunPreflight(context.Background(), a, profile, PreflightRequest{ExpectedMaterial: "nylon", StrictMaterial: true})
	require.False(t, result.Ready)
}
