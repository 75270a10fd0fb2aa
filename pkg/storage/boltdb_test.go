package storage

import (
	"testing"
	"time"

	"github.com/codeofaxel/kiln/pkg/types"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *BoltStore {
	t.Helper()
	dir := t.TempDir()
	store, err := NewBoltStore(dir)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestJobCRUD(t *testing.T) {
	store := newTestStore(t)

	job := &types.Job{ID: "job-1", FilePath: "part.gcode", Status: types.JobQueued, SubmittedAt: time.Now()}
	require.NoError(t, store.CreateJob(job))

	got, err := store.GetJob("job-1")
	require.NoError(t, err)
	require.Equal(t, "part.gcode", got.FilePath)

	job.Status = types.JobAssigned
	require.NoError(t, store.UpdateJob(job))

	got, err = store.GetJob("job-1")
	require.NoError(t, err)
	require.Equal(t, types.JobAssigned, got.Status)

	list, err := store.ListJobs()
	require.NoError(t, err)
	require.Len(t, list, 1)

	require.NoError(t, store.DeleteJob("job-1"))
	_, err = store.GetJob("job-1")
	require.Error(t, err)
}

func TestPrinterCRUD(t *testing.T) {
	store := newTestStore(t)

	printer := &types.PrinterRecord{Label: "ender-1", Type: types.AdapterSerial, Status: types.PrinterIdle}
	require.NoError(t, store.CreatePrinter(printer))

	got, err := store.GetPrinter("ender-1")
	require.NoError(t, err)
	require.Equal(t, types.AdapterSerial, got.Type)

	require.NoError(t, store.DeletePrinter("ender-1"))
	_, err = store.GetPrinter("ender-1")
	require.Error(t, err)
}

func TestCheckpointsSortedByJob(t *testing.T) {
	store := newTestStore(t)

	base := time.Now()
	cp1 := &types.Checkpoint{ID: "cp-1", JobID: "job-1", CapturedAt: base}
	cp2 := &types.Checkpoint{ID: "cp-2", JobID: "job-1", CapturedAt: base.Add(time.Minute)}
	cp3 := &types.Checkpoint{ID: "cp-3", JobID: "job-2", CapturedAt: base}

	require.NoError(t, store.CreateCheckpoint(cp2))
	require.NoError(t, store.CreateCheckpoint(cp1))
	require.NoError(t, store.CreateCheckpoint(cp3))

	list, err := store.ListCheckpointsByJob("job-1")
	require.NoError(t, err)
	require.Len(t, list, 2)
	require.Equal(t, "cp-1", list[0].ID)
	require.Equal(t, "cp-2", list[1].ID)
}

func TestAuditNewestFirst(t *testing.T) {
	store := newTestStore(t)

	base := time.Now()
	require.NoError(t, store.AppendAudit(&types.AuditEntry{Timestamp: base, ToolName: "start_print"}))
	require.NoError(t, store.AppendAudit(&types.AuditEntry{Timestamp: base.Add(time.Second), ToolName: "cancel_print"}))

	entries, err := store.ListAudit(10)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	require.Equal(t, "cancel_print", entries[0].ToolName)
	require.Equal(t, "start_print", entries[1].ToolName)
}
