package recovery

import (
	"time"

	"github.com/codeofaxel/kiln/pkg/types"
	"github.com/google/uuid"
)

// NewCheckpoint builds an append-only waypoint ready for
// Planner.SaveCheckpoint, stamping the capture time and a fresh ID.
func NewCheckpoint(jobID, printerLabel string, phase types.PrintPhase, progressPercent float64, state types.CheckpointState) *types.Checkpoint {
	return &types.Checkpoint{
		ID:              uuid.New().String(),
		JobID:           jobID,
		PrinterLabel:    printerLabel,
		CapturedAt:      time.Now(),
		Phase:           phase,
		ProgressPercent: progressPercent,
		State:           state,
	}
}
