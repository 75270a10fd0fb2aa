package health

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/codeofaxel/kiln/pkg/adapter"
	"github.com/codeofaxel/kiln/pkg/events"
	"github.com/codeofaxel/kiln/pkg/types"
	"github.com/stretchr/testify/require"
)

// fakeAdapter is a minimal adapter.PrinterAdapter stub for monitor tests.
type fakeAdapter struct {
	state     types.PrinterState
	progress  types.JobProgress
	streamURL string
	streamErr error
}

func (f *fakeAdapter) Type() types.AdapterType              { return types.AdapterSerial }
func (f *fakeAdapter) Capabilities() types.Capabilities      { return types.Capabilities{} }
func (f *fakeAdapter) Connect(ctx context.Context) error     { return nil }
func (f *fakeAdapter) Disconnect(ctx context.Context) error  { return nil }
func (f *fakeAdapter) GetState(ctx context.Context) (types.PrinterState, error) {
	return f.state, nil
}
func (f *fakeAdapter) GetJob(ctx context.Context) (types.JobProgress, error) {
	return f.progress, nil
}
func (f *fakeAdapter) ListFiles(ctx context.Context) ([]types.File, error) { return nil, nil }
func (f *fakeAdapter) UploadFile(ctx context.Context, localPath string) (types.UploadResult, error) {
	return types.UploadResult{}, nil
}
func (f *fakeAdapter) DeleteFile(ctx context.Context, remotePath string) error { return nil }
func (f *fakeAdapter) StartPrint(ctx context.Context, fileName string) (types.PrintResult, error) {
	return types.PrintResult{}, nil
}
func (f *fakeAdapter) CancelPrint(ctx context.Context) (types.PrintResult, error) {
	return types.PrintResult{}, nil
}
func (f *fakeAdapter) PausePrint(ctx context.Context) (types.PrintResult, error) {
	return types.PrintResult{}, nil
}
func (f *fakeAdapter) ResumePrint(ctx context.Context) (types.PrintResult, error) {
	return types.PrintResult{}, nil
}
func (f *fakeAdapter) EmergencyStop(ctx context.Context) (types.PrintResult, error) {
	return types.PrintResult{}, nil
}
func (f *fakeAdapter) SetToolTemp(ctx context.Context, target float64) error { return nil }
func (f *fakeAdapter) SetBedTemp(ctx context.Context, target float64) error  { return nil }
func (f *fakeAdapter) SendGCode(ctx context.Context, commands []string) error { return nil }
func (f *fakeAdapter) Snapshot(ctx context.Context) ([]byte, error) {
	return nil, adapter.ErrNoCamera
}
func (f *fakeAdapter) GetStreamURL(ctx context.Context) (string, error) {
	if f.streamErr != nil {
		return "", f.streamErr
	}
	if f.streamURL == "" {
		return "", adapter.ErrNoCamera
	}
	return f.streamURL, nil
}

func newTestMonitor(t *testing.T, a adapter.PrinterAdapter) (*Monitor, *events.Broker) {
	t.Helper()
	registry := adapter.NewRegistry()
	registry.Register("ender-1", a)
	bus := events.NewBroker(16)
	return NewMonitor(registry, bus), bus
}

func TestCheckHealthOK(t *testing.T) {
	a := &fakeAdapter{
		state: types.PrinterState{
			Connected: true,
			Hotend:    &types.Temperature{Actual: 210, Target: 210},
			Bed:       &types.Temperature{Actual: 60, Target: 60},
		},
	}
	m, _ := newTestMonitor(t, a)

	report, err := m.CheckHealth(context.Background(), "ender-1", types.DefaultMonitorPolicy())
	require.NoError(t, err)
	require.Equal(t, types.SeverityOK, report.OverallSeverity())
}

func TestCheckHealthCriticalOnDisconnect(t *testing.T) {
	a := &fakeAdapter{state: types.PrinterState{Connected: false}}
	m, _ := newTestMonitor(t, a)

	report, err := m.CheckHealth(context.Background(), "ender-1", types.DefaultMonitorPolicy())
	require.NoError(t, err)
	require.Equal(t, types.SeverityCritical, report.OverallSeverity())
}

func TestCheckHealthThermalDrift(t *testing.T) {
	a := &fakeAdapter{
		state: types.PrinterState{
			Connected: true,
			Hotend:    &types.Temperature{Actual: 180, Target: 210}, // 30C drift, > 2x threshold (5)
		},
	}
	m, _ := newTestMonitor(t, a)

	report, err := m.CheckHealth(context.Background(), "ender-1", types.DefaultMonitorPolicy())
	require.NoError(t, err)
	require.Equal(t, types.SeverityCritical, report.OverallSeverity())
}

func TestStartMonitoringRejectsDuplicate(t *testing.T) {
	a := &fakeAdapter{state: types.PrinterState{Connected: true}}
	m, _ := newTestMonitor(t, a)

	policy := types.DefaultMonitorPolicy()
	policy.CheckDelaySeconds = 60 // long enough not to fire during the test

	_, err := m.StartMonitoring("ender-1", "", policy)
	require.NoError(t, err)

	_, err = m.StartMonitoring("ender-1", "", policy)
	require.Error(t, err)

	m.StopMonitoring("ender-1")
}

func TestStopMonitoringIdempotent(t *testing.T) {
	a := &fakeAdapter{state: types.PrinterState{Connected: true}}
	m, _ := newTestMonitor(t, a)

	require.Nil(t, m.StopMonitoring("never-started"))

	policy := types.DefaultMonitorPolicy()
	policy.CheckDelaySeconds = 60
	_, err := m.StartMonitoring("ender-1", "", policy)
	require.NoError(t, err)

	first := m.StopMonitoring("ender-1")
	require.NotNil(t, first)
	require.Equal(t, types.SessionCompleted, first.Status)

	second := m.StopMonitoring("ender-1")
	require.Nil(t, second)
}

func TestEvaluateStallMarksSessionStalled(t *testing.T) {
	a := &fakeAdapter{state: types.PrinterState{Connected: true}}
	m, bus := newTestMonitor(t, a)
	sub := bus.Subscribe(4)
	defer bus.Unsubscribe(sub)

	session := &types.HealthSession{
		ID:           "sess-1",
		PrinterLabel: "ender-1",
		Status:       types.SessionMonitoring,
		Policy:       types.MonitorPolicy{StallTimeoutSeconds: 1},
	}
	m.mu.Lock()
	m.sessions[session.ID] = session
	m.stalls[session.ID] = &stallTracker{lastProgress: floatPtr(42.0), lastProgressTime: time.Now().Add(-2 * time.Second)}
	m.mu.Unlock()

	report := types.HealthReport{Metrics: []types.Metric{{Name: "print_progress", Current: 42.0}}}
	m.evaluateStall(session, report)

	require.Equal(t, types.SessionStalled, session.Status)
	require.Len(t, session.Issues, 1)

	select {
	case evt := <-sub:
		require.Equal(t, types.EventPrinterError, evt.Type)
	default:
		t.Fatal("expected a stall event to be published")
	}
}

func TestCheckHealthWebcamReachable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	a := &fakeAdapter{
		state:     types.PrinterState{Connected: true},
		streamURL: server.URL,
	}
	m, _ := newTestMonitor(t, a)

	report, err := m.CheckHealth(context.Background(), "ender-1", types.DefaultMonitorPolicy())
	require.NoError(t, err)

	mt := findMetric(report.Metrics, "webcam_reachable")
	require.NotNil(t, mt)
	require.Equal(t, types.SeverityOK, mt.Severity)
	require.Equal(t, 1.0, mt.Current)
}

func TestCheckHealthWebcamOmittedWithoutCamera(t *testing.T) {
	a := &fakeAdapter{state: types.PrinterState{Connected: true}}
	m, _ := newTestMonitor(t, a)

	report, err := m.CheckHealth(context.Background(), "ender-1", types.DefaultMonitorPolicy())
	require.NoError(t, err)

	require.Nil(t, findMetric(report.Metrics, "webcam_reachable"))
}

func findMetric(metrics []types.Metric, name string) *types.Metric {
	for i := range metrics {
		if metrics[i].Name == name {
			return &metrics[i]
		}
	}
	return nil
}

func floatPtr(v float64) *float64 { return &v }
