package orchestrator

import (
	"testing"
	"time"

	"github.com/codeofaxel/kiln/pkg/events"
	"github.com/codeofaxel/kiln/pkg/storage"
	"github.com/codeofaxel/kiln/pkg/types"
	"github.com/stretchr/testify/require"
)

func newTestOrchestrator(t *testing.T) *Orchestrator {
	t.Helper()
	store, err := storage.NewBoltStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	o, err := NewOrchestrator(store, events.NewBroker(16), nil)
	require.NoError(t, err)
	return o
}

func registerIdlePrinter(t *testing.T, o *Orchestrator, label string) {
	t.Helper()
	require.NoError(t, o.RegisterPrinter(&types.PrinterRecord{
		Label:  label,
		Type:   types.AdapterOctoPrint,
		Status: types.PrinterIdle,
	}))
}

func TestAssignHappyPath(t *testing.T) {
	o := newTestOrchestrator(t)
	registerIdlePrinter(t, o, "printer-1")

	job, err := o.SubmitJob("/jobs/a.gcode", "alice", 0, "", 1)
	require.NoError(t, err)

	result, err := o.Assign(job.ID)
	require.NoError(t, err)
	require.True(t, result.Assigned)
	require.Equal(t, "printer-1", result.PrinterLabel)

	got, err := o.GetJob(job.ID)
	require.NoError(t, err)
	require.Equal(t, types.JobAssigned, got.Status)

	rec, ok := o.GetPrinter("printer-1")
	require.True(t, ok)
	require.Equal(t, types.PrinterBusy, rec.Status)
	require.Equal(t, job.ID, rec.ActiveJobLabel)
}

func TestAssignNoIdlePrinter(t *testing.T) {
	o := newTestOrchestrator(t)
	job, err := o.SubmitJob("/jobs/a.gcode", "alice", 0, "", 1)
	require.NoError(t, err)

	_, err = o.Assign(job.ID)
	require.ErrorIs(t, err, ErrNoPrinterAvailable)
}

func TestMarkFailedRequeuesToAnotherPrinter(t *testing.T) {
	o := newTestOrchestrator(t)
	registerIdlePrinter(t, o, "printer-1")
	registerIdlePrinter(t, o, "printer-2")

	job, err := o.SubmitJob("/jobs/a.gcode", "alice", 0, "", 2)
	require.NoError(t, err)

	result, err := o.Assign(job.ID)
	require.NoError(t, err)
	firstPrinter := result.PrinterLabel

	require.NoError(t, o.MarkFailed(job.ID, "printer error"))

	got, err := o.GetJob(job.ID)
	require.NoError(t, err)
	require.Equal(t, types.JobQueued, got.Status)
	require.Contains(t, got.FailedPrinters, firstPrinter)

	// Reassignment must avoid the printer the job already failed on.
	result, err = o.Assign(job.ID)
	require.NoError(t, err)
	require.True(t, result.Assigned)
	require.NotEqual(t, firstPrinter, result.PrinterLabel)

	// The printer that failed should have been released back to idle.
	rec, ok := o.GetPrinter(firstPrinter)
	require.True(t, ok)
	require.Equal(t, types.PrinterIdle, rec.Status)
}

func TestMarkFailedExhaustsRetryBudget(t *testing.T) {
	o := newTestOrchestrator(t)
	registerIdlePrinter(t, o, "printer-1")

	job, err := o.SubmitJob("/jobs/a.gcode", "alice", 0, "", 1)
	require.NoError(t, err)

	_, err = o.Assign(job.ID)
	require.NoError(t, err)

	require.NoError(t, o.MarkFailed(job.ID, "fatal"))

	got, err := o.GetJob(job.ID)
	require.NoError(t, err)
	require.Equal(t, types.JobFailed, got.Status)
	require.Equal(t, "fatal", got.LastError)
}

func TestAssignJobsPriorityOrder(t *testing.T) {
	o := newTestOrchestrator(t)
	registerIdlePrinter(t, o, "printer-1")

	low, err := o.SubmitJob("/jobs/low.gcode", "alice", 0, "", 1)
	require.NoError(t, err)
	time.Sleep(time.Millisecond)
	high, err := o.SubmitJob("/jobs/high.gcode", "alice", 10, "", 1)
	require.NoError(t, err)

	results := o.AssignJobs()
	require.Len(t, results, 2)
	require.True(t, results[0].Assigned)
	require.Equal(t, high.ID, results[0].JobID)
	require.False(t, results[1].Assigned)
	require.Equal(t, low.ID, results[1].JobID)
}

func TestCompleteReleasesJobAndPrinter(t *testing.T) {
	o := newTestOrchestrator(t)
	registerIdlePrinter(t, o, "printer-1")

	job, err := o.SubmitJob("/jobs/a.gcode", "alice", 0, "", 1)
	require.NoError(t, err)
	_, err = o.Assign(job.ID)
	require.NoError(t, err)
	require.NoError(t, o.MarkPrinting(job.ID))
	require.NoError(t, o.MarkCompleted(job.ID))

	got, err := o.GetJob(job.ID)
	require.NoError(t, err)
	require.Equal(t, types.JobCompleted, got.Status)

	rec, ok := o.GetPrinter("printer-1")
	require.True(t, ok)
	require.Equal(t, types.PrinterIdle, rec.Status)
	require.Empty(t, rec.ActiveJobLabel)
}

func TestCancelJobIdempotentOnTerminal(t *testing.T) {
	o := newTestOrchestrator(t)
	job, err := o.SubmitJob("/jobs/a.gcode", "alice", 0, "", 1)
	require.NoError(t, err)

	ok, err := o.CancelJob(job.ID, "operator request")
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = o.CancelJob(job.ID, "operator request again")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestUtilizationComputation(t *testing.T) {
	o := newTestOrchestrator(t)
	registerIdlePrinter(t, o, "printer-1")
	require.NoError(t, o.RegisterPrinter(&types.PrinterRecord{Label: "printer-2", Status: types.PrinterPrinting}))
	require.NoError(t, o.RegisterPrinter(&types.PrinterRecord{Label: "printer-3", Status: types.PrinterOffline}))

	u := o.Utilization()
	require.Equal(t, 3, u.TotalPrinters)
	require.Equal(t, 1, u.IdlePrinters)
	require.Equal(t, 1, u.BusyPrinters)
	require.Equal(t, 1, u.OfflinePrinters)
	require.InDelta(t, 50.0, u.UtilizationPct, 0.01)
}

func TestCancelAllQueued(t *testing.T) {
	o := newTestOrchestrator(t)
	_, err := o.SubmitJob("/jobs/a.gcode", "alice", 0, "", 1)
	require.NoError(t, err)
	_, err = o.SubmitJob("/jobs/b.gcode", "alice", 0, "", 1)
	require.NoError(t, err)

	count := o.CancelAllQueued("fleet maintenance")
	require.Equal(t, 2, count)
}

func TestDefaultSelectorPrefersRequestedPrinter(t *testing.T) {
	job := &types.Job{PreferredPrinter: "printer-2", FailedPrinters: map[string]struct{}{}}
	label := DefaultSelector{}.Select(job, []string{"printer-1", "printer-2"})
	require.Equal(t, "printer-2", label)
}

func TestDefaultSelectorSkipsFailedPrinters(t *testing.T) {
	job := &types.Job{FailedPrinters: map[string]struct{}{"printer-1": {}}}
	label := DefaultSelector{}.Select(job, []string{"printer-1", "printer-2"})
	require.Equal(t, "printer-2", label)
}
