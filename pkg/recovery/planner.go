package recovery

import (
	"fmt"
	"sync"

	"github.com/codeofaxel/kiln/pkg/log"
	"github.com/codeofaxel/kiln/pkg/metrics"
	"github.com/codeofaxel/kiln/pkg/storage"
	"github.com/codeofaxel/kiln/pkg/types"
)

// DefaultMaxRetries is the per-job retry budget absent an explicit
// RECOVERY_MAX_RETRIES override.
const DefaultMaxRetries = 3

// policyRow is one entry of the failure → strategy table.
type policyRow struct {
	Primary         types.RecoveryStrategy
	SafetyCritical  bool
	AutoRecoverable bool
}

// policyTable is keyed by FailureType. PRINTER_ERROR and POWER_LOSS and
// SOFTWARE_CRASH are progress/checkpoint-conditional and are resolved in
// PlanRecovery rather than looked up directly here.
var policyTable = map[types.FailureType]policyRow{
	types.FailureUserCancelled:     {Primary: types.StrategyAbort},
	types.FailureThermalRunaway:    {Primary: types.StrategyEmergencyStop, SafetyCritical: true},
	types.FailureBedAdhesion:       {Primary: types.StrategyAbort, SafetyCritical: true},
	types.FailureLayerShift:        {Primary: types.StrategyAbort},
	types.FailureFirstLayer:        {Primary: types.StrategyCancelAndRetry, AutoRecoverable: true},
	types.FailureFilamentRunout:    {Primary: types.StrategyPauseAndIntervene},
	types.FailureNozzleClog:        {Primary: types.StrategyPauseAndIntervene},
	types.FailureNetworkDisconnect: {Primary: types.StrategyRetryCurrentStep, AutoRecoverable: true},
	types.FailureTimeout:           {Primary: types.StrategyRetryCurrentStep, AutoRecoverable: true},
}

// printerErrorProgressThreshold is the progress_percent boundary below
// which a PRINTER_ERROR is retried in place rather than resumed from a
// checkpoint: 10.0 passes, 10.1 crosses over.
const printerErrorProgressThreshold = 10.0

// Recommendation is the result of PlanRecovery.
type Recommendation struct {
	FailureType     types.FailureType
	Primary         types.RecoveryStrategy
	Alternatives    []types.RecoveryStrategy
	SafetyCritical  bool
	AutoRecoverable bool
}

// Planner holds the per-job retry budget and persists checkpoints. It
// is otherwise a pure policy lookup — no adapter or orchestrator
// dependency.
type Planner struct {
	store       storage.Store
	maxRetries  int
	mu          sync.Mutex
	retriesUsed map[string]int // keyed by job ID
}

// NewPlanner builds a planner backed by store for checkpoint
// persistence, with a per-job retry budget of maxRetries (0 uses
// DefaultMaxRetries).
func NewPlanner(store storage.Store, maxRetries int) *Planner {
	if maxRetries <= 0 {
		maxRetries = DefaultMaxRetries
	}
	return &Planner{store: store, maxRetries: maxRetries, retriesUsed: make(map[string]int)}
}

// SaveCheckpoint persists an append-only waypoint for a job.
func (p *Planner) SaveCheckpoint(cp *types.Checkpoint) error {
	if err := p.store.CreateCheckpoint(cp); err != nil {
		return fmt.Errorf("recovery: save checkpoint: %w", err)
	}
	metrics.CheckpointsSavedTotal.Inc()
	return nil
}

// LatestCheckpoint returns the most recently captured checkpoint for a
// job, or nil if none exists.
func (p *Planner) LatestCheckpoint(jobID string) (*types.Checkpoint, error) {
	cps, err := p.store.ListCheckpointsByJob(jobID)
	if err != nil {
		return nil, fmt.Errorf("recovery: list checkpoints: %w", err)
	}
	if len(cps) == 0 {
		return nil, nil
	}
	latest := cps[0]
	for _, cp := range cps[1:] {
		if cp.CapturedAt.After(latest.CapturedAt) {
			latest = cp
		}
	}
	return latest, nil
}

// PlanRecovery looks up the failure→strategy table for failureType,
// resolving the progress/checkpoint-conditional rows (PRINTER_ERROR,
// POWER_LOSS, SOFTWARE_CRASH) against the job's current state.
// Checkpoint-dependent alternatives are only listed if a checkpoint
// actually exists for the job.
func (p *Planner) PlanRecovery(jobID string, failureType types.FailureType, progressPercent float64) (Recommendation, error) {
	checkpoint, err := p.LatestCheckpoint(jobID)
	if err != nil {
		return Recommendation{}, err
	}
	hasCheckpoint := checkpoint != nil

	rec := p.resolve(failureType, progressPercent, hasCheckpoint)
	metrics.RecoveryPlansTotal.WithLabelValues(string(rec.Primary)).Inc()
	log.WithJob(jobID).Info().Msg(fmt.Sprintf("recovery plan for %s: %s", failureType, rec.Primary))
	return rec, nil
}

func (p *Planner) resolve(failureType types.FailureType, progressPercent float64, hasCheckpoint bool) Recommendation {
	switch failureType {
	case types.FailurePowerLoss:
		if hasCheckpoint {
			return Recommendation{FailureType: failureType, Primary: types.StrategyResumeFromCheckpoint,
				Alternatives: []types.RecoveryStrategy{types.StrategyRestartFromBeginning}}
		}
		return Recommendation{FailureType: failureType, Primary: types.StrategyRestartFromBeginning}

	case types.FailurePrinterError:
		if progressPercent <= printerErrorProgressThreshold {
			rec := Recommendation{FailureType: failureType, Primary: types.StrategyRetryCurrentStep, AutoRecoverable: true}
			if hasCheckpoint {
				rec.Alternatives = append(rec.Alternatives, types.StrategyResumeFromCheckpoint)
			}
			return rec
		}
		rec := Recommendation{FailureType: failureType, Primary: types.StrategyResumeFromCheckpoint}
		if !hasCheckpoint {
			// No checkpoint to resume from despite the high-progress branch;
			// fall back to a full restart rather than recommend the
			// impossible.
			rec.Primary = types.StrategyRestartFromBeginning
		}
		return rec

	case types.FailureSoftwareCrash:
		if hasCheckpoint {
			return Recommendation{FailureType: failureType, Primary: types.StrategyResumeFromCheckpoint, AutoRecoverable: true}
		}
		return Recommendation{FailureType: failureType, Primary: types.StrategyRestartFromBeginning, AutoRecoverable: true}

	default:
		row, ok := policyTable[failureType]
		if !ok {
			return Recommendation{FailureType: failureType, Primary: types.StrategyAbort}
		}
		rec := Recommendation{
			FailureType:     failureType,
			Primary:         row.Primary,
			SafetyCritical:  row.SafetyCritical,
			AutoRecoverable: row.AutoRecoverable,
		}
		return rec
	}
}

// ExecuteResult is the outcome of ExecuteRecovery.
type ExecuteResult struct {
	Strategy   types.RecoveryStrategy
	TimeSaved  float64 // progress-percent proxy; see ExecuteRecovery
	RetriesLeft int
}

// ExecuteRecovery consumes one retry slot from the job's budget and
// reports how much progress the chosen strategy preserved.
// RESUME_FROM_CHECKPOINT reports the latest checkpoint's progress
// percent as a time-saved proxy; every other strategy reports 0.
func (p *Planner) ExecuteRecovery(jobID string, strategy types.RecoveryStrategy) (ExecuteResult, error) {
	p.mu.Lock()
	used := p.retriesUsed[jobID]
	if used >= p.maxRetries {
		p.mu.Unlock()
		return ExecuteResult{}, fmt.Errorf("recovery: job %s exceeded max retries (%d)", jobID, p.maxRetries)
	}
	p.retriesUsed[jobID] = used + 1
	left := p.maxRetries - (used + 1)
	p.mu.Unlock()

	timeSaved := 0.0
	if strategy == types.StrategyResumeFromCheckpoint {
		if cp, err := p.LatestCheckpoint(jobID); err == nil && cp != nil {
			timeSaved = cp.ProgressPercent
		}
	}

	return ExecuteResult{Strategy: strategy, TimeSaved: timeSaved, RetriesLeft: left}, nil
}

// ResetRetries clears a job's consumed retry count, e.g. after a
// successful completion or an operator override.
func (p *Planner) ResetRetries(jobID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.retriesUsed, jobID)
}

// RetriesUsed reports how many retries a job has consumed so far.
func (p *Planner) RetriesUsed(jobID string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.retriesUsed[jobID]
}
