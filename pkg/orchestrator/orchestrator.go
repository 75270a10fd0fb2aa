package orchestrator

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/codeofaxel/kiln/pkg/events"
	"github.com/codeofaxel/kiln/pkg/log"
	"github.com/codeofaxel/kiln/pkg/metrics"
	"github.com/codeofaxel/kiln/pkg/storage"
	"github.com/codeofaxel/kiln/pkg/types"
	"github.com/google/uuid"
)

// ErrJobNotFound is returned when a job ID has no matching record.
var ErrJobNotFound = errors.New("orchestrator: job not found")

// ErrPrinterNotFound is returned when a printer label has no matching record.
var ErrPrinterNotFound = errors.New("orchestrator: printer not found")

// ErrNoPrinterAvailable is returned by Assign when no idle, eligible
// printer exists for a job right now. It is not a terminal failure — the
// job stays queued and a later Assign/AssignAll call may succeed.
var ErrNoPrinterAvailable = errors.New("orchestrator: no printer available")

// AssignmentResult reports the outcome of attempting to assign one job.
type AssignmentResult struct {
	JobID        string
	Assigned     bool
	PrinterLabel string
	Reason       string // populated when Assigned is false
}

// FleetUtilization summarizes printer occupancy across the registered fleet.
type FleetUtilization struct {
	TotalPrinters   int
	IdlePrinters    int
	BusyPrinters    int
	OfflinePrinters int
	UtilizationPct  float64
}

// Orchestrator implements the Fleet Orchestrator: it owns the in-memory
// view of jobs and printer records, persisting both through store, and
// publishes lifecycle events to bus. A single mutex guards all mutation;
// it is never held across adapter I/O because Orchestrator never talks to
// an adapter — printer state here is the last status reported to it via
// UpdatePrinterStatus, not a live read.
type Orchestrator struct {
	store    storage.Store
	bus      *events.Broker
	selector Selector

	mu       sync.Mutex
	jobs     map[string]*types.Job
	printers map[string]*types.PrinterRecord
}

// NewOrchestrator constructs an Orchestrator and eagerly loads its jobs and
// printer records from store, rather than lazily populating caches on
// first access.
func NewOrchestrator(store storage.Store, bus *events.Broker, selector Selector) (*Orchestrator, error) {
	if selector == nil {
		selector = DefaultSelector{}
	}
	o := &Orchestrator{
		store:    store,
		bus:      bus,
		selector: selector,
		jobs:     make(map[string]*types.Job),
		printers: make(map[string]*types.PrinterRecord),
	}

	jobs, err := store.ListJobs()
	if err != nil {
		return nil, fmt.Errorf("orchestrator: load jobs: %w", err)
	}
	for _, j := range jobs {
		o.jobs[j.ID] = j
	}

	printers, err := store.ListPrinters()
	if err != nil {
		return nil, fmt.Errorf("orchestrator: load printers: %w", err)
	}
	for _, p := range printers {
		o.printers[p.Label] = p
	}

	return o, nil
}

func (o *Orchestrator) publish(eventType types.EventType, data map[string]any) {
	if o.bus == nil {
		return
	}
	o.bus.Publish(&types.Event{Type: eventType, Data: data, Source: "fleet_orchestrator"})
}

// RegisterPrinter adds or replaces a printer record in the fleet.
func (o *Orchestrator) RegisterPrinter(rec *types.PrinterRecord) error {
	if rec.RegisteredAt.IsZero() {
		rec.RegisteredAt = time.Now()
	}
	if err := o.store.CreatePrinter(rec); err != nil {
		return fmt.Errorf("orchestrator: register printer %s: %w", rec.Label, err)
	}

	o.mu.Lock()
	o.printers[rec.Label] = rec
	o.mu.Unlock()
	return nil
}

// UnregisterPrinter removes a printer from the fleet.
func (o *Orchestrator) UnregisterPrinter(label string) error {
	if err := o.store.DeletePrinter(label); err != nil {
		return fmt.Errorf("orchestrator: unregister printer %s: %w", label, err)
	}
	o.mu.Lock()
	delete(o.printers, label)
	o.mu.Unlock()
	return nil
}

// UpdatePrinterStatus records the last-known status for a printer, as
// reported by the health monitor or an adapter poll.
func (o *Orchestrator) UpdatePrinterStatus(label string, status types.PrinterStatus) error {
	o.mu.Lock()
	rec, ok := o.printers[label]
	if !ok {
		o.mu.Unlock()
		return ErrPrinterNotFound
	}
	rec.Status = status
	o.mu.Unlock()

	if err := o.store.UpdatePrinter(rec); err != nil {
		return fmt.Errorf("orchestrator: update printer %s: %w", label, err)
	}
	return nil
}

// GetPrinter returns a copy of a printer record.
func (o *Orchestrator) GetPrinter(label string) (types.PrinterRecord, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	rec, ok := o.printers[label]
	if !ok {
		return types.PrinterRecord{}, false
	}
	return *rec, true
}

// idlePrinters returns the labels currently reporting idle, in stable
// registration order. Caller must hold o.mu.
func (o *Orchestrator) idlePrinters() []string {
	labels := make([]string, 0, len(o.printers))
	for label, rec := range o.printers {
		if rec.Status == types.PrinterIdle {
			labels = append(labels, label)
		}
	}
	sort.Slice(labels, func(i, j int) bool {
		return o.printers[labels[i]].RegisteredAt.Before(o.printers[labels[j]].RegisteredAt)
	})
	return labels
}

// SubmitJob queues a new job for later assignment.
func (o *Orchestrator) SubmitJob(filePath, submittedBy string, priority int, preferredPrinter string, maxAttempts int) (*types.Job, error) {
	if maxAttempts <= 0 {
		maxAttempts = 1
	}
	job := &types.Job{
		ID:               uuid.New().String(),
		FilePath:         filePath,
		SubmittedBy:      submittedBy,
		Priority:         priority,
		Status:           types.JobQueued,
		MaxAttempts:      maxAttempts,
		PreferredPrinter: preferredPrinter,
		FailedPrinters:   make(map[string]struct{}),
		SubmittedAt:      time.Now(),
		Metadata:         make(map[string]any),
	}

	if err := o.store.CreateJob(job); err != nil {
		return nil, fmt.Errorf("orchestrator: submit job: %w", err)
	}

	o.mu.Lock()
	o.jobs[job.ID] = job
	o.mu.Unlock()

	metrics.JobsSubmittedTotal.Inc()
	o.publish(types.EventJobSubmitted, map[string]any{"job_id": job.ID, "priority": priority})
	log.WithJob(job.ID).Info().Msg("job submitted")
	return job.Clone(), nil
}

// SubmitAndAssign submits a job and immediately attempts to assign it to
// an idle printer.
func (o *Orchestrator) SubmitAndAssign(filePath, submittedBy string, priority int, preferredPrinter string, maxAttempts int) (*types.Job, AssignmentResult, error) {
	job, err := o.SubmitJob(filePath, submittedBy, priority, preferredPrinter, maxAttempts)
	if err != nil {
		return nil, AssignmentResult{}, err
	}
	result, err := o.Assign(job.ID)
	if err != nil && !errors.Is(err, ErrNoPrinterAvailable) {
		return job, result, err
	}
	return job, result, nil
}

// Assign attempts to pair a single queued job with an idle printer. It
// returns ErrNoPrinterAvailable (not an error the caller needs to treat
// as fatal) when no eligible idle printer exists right now.
func (o *Orchestrator) Assign(jobID string) (AssignmentResult, error) {
	o.mu.Lock()

	job, ok := o.jobs[jobID]
	if !ok {
		o.mu.Unlock()
		return AssignmentResult{}, ErrJobNotFound
	}
	if job.Status != types.JobQueued {
		o.mu.Unlock()
		return AssignmentResult{}, fmt.Errorf("orchestrator: job %s is not queued (status %s)", jobID, job.Status)
	}

	label := o.selector.Select(job, o.idlePrinters())
	if label == "" {
		o.mu.Unlock()
		return AssignmentResult{JobID: jobID, Reason: "no idle printer available"}, ErrNoPrinterAvailable
	}

	job.Status = types.JobAssigned
	job.PrinterLabel = label
	job.Attempt++
	o.printers[label].Status = types.PrinterBusy
	o.printers[label].ActiveJobLabel = jobID
	printerCopy := *o.printers[label]
	jobCopy := job.Clone()
	o.mu.Unlock()

	if err := o.store.UpdateJob(jobCopy); err != nil {
		return AssignmentResult{}, fmt.Errorf("orchestrator: persist assignment for %s: %w", jobID, err)
	}
	if err := o.store.UpdatePrinter(&printerCopy); err != nil {
		return AssignmentResult{}, fmt.Errorf("orchestrator: persist printer %s: %w", label, err)
	}

	o.publish(types.EventJobStarted, map[string]any{"job_id": jobID, "printer": label, "event": "assigned"})
	log.WithJob(jobID).Info().Msg(fmt.Sprintf("assigned to printer %s", label))
	return AssignmentResult{JobID: jobID, Assigned: true, PrinterLabel: label}, nil
}

// AssignJobs attempts to assign every currently queued job, highest
// priority and earliest submission first. It stops attempting further
// jobs as soon as a selection fails, since the fleet's idle set can only
// shrink within a single pass.
func (o *Orchestrator) AssignJobs() []AssignmentResult {
	timer := metrics.NewTimer()
	defer func() {
		metrics.AssignmentCyclesTotal.Inc()
		timer.ObserveDuration(metrics.AssignmentDuration)
	}()

	o.mu.Lock()
	queued := make([]*types.Job, 0)
	for _, j := range o.jobs {
		if j.Status == types.JobQueued {
			queued = append(queued, j)
		}
	}
	sort.Slice(queued, func(i, j int) bool {
		if queued[i].Priority != queued[j].Priority {
			return queued[i].Priority > queued[j].Priority
		}
		return queued[i].SubmittedAt.Before(queued[j].SubmittedAt)
	})
	o.mu.Unlock()

	results := make([]AssignmentResult, 0, len(queued))
	for _, j := range queued {
		result, err := o.Assign(j.ID)
		if err != nil {
			if errors.Is(err, ErrNoPrinterAvailable) {
				results = append(results, result)
				break
			}
			results = append(results, AssignmentResult{JobID: j.ID, Reason: err.Error()})
			continue
		}
		results = append(results, result)
	}
	return results
}

// MarkPrinting transitions an assigned job into the printing state.
func (o *Orchestrator) MarkPrinting(jobID string) error {
	o.mu.Lock()
	job, ok := o.jobs[jobID]
	if !ok {
		o.mu.Unlock()
		return ErrJobNotFound
	}
	job.Status = types.JobPrinting
	job.StartedAt = time.Now()
	jobCopy := job.Clone()
	o.mu.Unlock()

	if err := o.store.UpdateJob(jobCopy); err != nil {
		return fmt.Errorf("orchestrator: mark printing %s: %w", jobID, err)
	}
	o.publish(types.EventPrintStarted, map[string]any{"job_id": jobID, "printer": jobCopy.PrinterLabel})
	return nil
}

// MarkCompleted transitions a job to its terminal completed state and
// releases its printer back to idle.
func (o *Orchestrator) MarkCompleted(jobID string) error {
	o.mu.Lock()
	job, ok := o.jobs[jobID]
	if !ok {
		o.mu.Unlock()
		return ErrJobNotFound
	}
	job.Status = types.JobCompleted
	job.CompletedAt = time.Now()
	jobCopy := job.Clone()
	printerRec, releasedPrinter := o.releasePrinter(job.PrinterLabel)
	o.mu.Unlock()

	if err := o.store.UpdateJob(jobCopy); err != nil {
		return fmt.Errorf("orchestrator: mark completed %s: %w", jobID, err)
	}
	if releasedPrinter {
		if err := o.store.UpdatePrinter(&printerRec); err != nil {
			return fmt.Errorf("orchestrator: release printer %s: %w", printerRec.Label, err)
		}
	}
	metrics.JobsCompletedTotal.Inc()
	o.publish(types.EventJobCompleted, map[string]any{"job_id": jobID, "printer": jobCopy.PrinterLabel})
	log.WithJob(jobID).Info().Msg("job completed")
	return nil
}

// MarkFailed records a failure on the job's current printer. If attempts
// remain, the job is requeued for reassignment to a different printer;
// otherwise it terminates as failed. The printer is always released.
func (o *Orchestrator) MarkFailed(jobID, reason string) error {
	o.mu.Lock()
	job, ok := o.jobs[jobID]
	if !ok {
		o.mu.Unlock()
		return ErrJobNotFound
	}

	failedPrinter := job.PrinterLabel
	if failedPrinter != "" {
		job.FailedPrinters[failedPrinter] = struct{}{}
	}
	job.LastError = reason
	printerRec, releasedPrinter := o.releasePrinter(failedPrinter)

	requeued := job.Attempt < job.MaxAttempts
	if requeued {
		job.Status = types.JobQueued
		job.PrinterLabel = ""
	} else {
		job.Status = types.JobFailed
		job.CompletedAt = time.Now()
	}
	jobCopy := job.Clone()
	o.mu.Unlock()

	if err := o.store.UpdateJob(jobCopy); err != nil {
		return fmt.Errorf("orchestrator: mark failed %s: %w", jobID, err)
	}
	if releasedPrinter {
		if err := o.store.UpdatePrinter(&printerRec); err != nil {
			return fmt.Errorf("orchestrator: release printer %s: %w", printerRec.Label, err)
		}
	}

	if requeued {
		metrics.JobsFailedTotal.WithLabelValues("true").Inc()
		o.publish(types.EventJobQueued, map[string]any{"job_id": jobID, "reason": reason, "event": "requeued"})
		log.WithJob(jobID).Warn().Msg(fmt.Sprintf("failed on %s, requeued: %s", failedPrinter, reason))
	} else {
		metrics.JobsFailedTotal.WithLabelValues("false").Inc()
		o.publish(types.EventJobFailed, map[string]any{"job_id": jobID, "reason": reason})
		log.WithJob(jobID).Error().Msg(fmt.Sprintf("failed terminally on %s: %s", failedPrinter, reason))
	}
	return nil
}

// releasePrinter frees a printer back to idle in memory and returns a copy
// for the caller to persist once it has dropped o.mu. Caller must hold
// o.mu on entry; returns ok=false if label is empty or unregistered.
func (o *Orchestrator) releasePrinter(label string) (rec types.PrinterRecord, ok bool) {
	if label == "" {
		return types.PrinterRecord{}, false
	}
	p, ok := o.printers[label]
	if !ok {
		return types.PrinterRecord{}, false
	}
	p.Status = types.PrinterIdle
	p.ActiveJobLabel = ""
	return *p, true
}

// CancelJob cancels a queued or printing job. Cancelling an in-progress
// print does not stop the hardware — the caller is responsible for
// issuing the adapter-level cancel separately. Returns false if the job
// is already in a terminal state.
func (o *Orchestrator) CancelJob(jobID, reason string) (bool, error) {
	o.mu.Lock()
	job, ok := o.jobs[jobID]
	if !ok {
		o.mu.Unlock()
		return false, ErrJobNotFound
	}
	if job.Status.IsTerminal() {
		o.mu.Unlock()
		return false, nil
	}

	wasPrinting := job.Status == types.JobPrinting
	printerLabel := job.PrinterLabel
	job.Status = types.JobCancelled
	job.CompletedAt = time.Now()
	job.LastError = reason
	printerRec, releasedPrinter := o.releasePrinter(printerLabel)
	jobCopy := job.Clone()
	o.mu.Unlock()

	if err := o.store.UpdateJob(jobCopy); err != nil {
		return false, fmt.Errorf("orchestrator: cancel job %s: %w", jobID, err)
	}
	if releasedPrinter {
		if err := o.store.UpdatePrinter(&printerRec); err != nil {
			return false, fmt.Errorf("orchestrator: release printer %s: %w", printerRec.Label, err)
		}
	}

	if wasPrinting {
		log.WithJob(jobID).Warn().Msg(fmt.Sprintf("cancelling job mid-print on %s; hardware is not stopped by this call", printerLabel))
	}
	o.publish(types.EventJobCancelled, map[string]any{"job_id": jobID, "reason": reason})
	return true, nil
}

// CancelAllQueued cancels every job still in the queued state and
// returns how many were cancelled.
func (o *Orchestrator) CancelAllQueued(reason string) int {
	o.mu.Lock()
	ids := make([]string, 0)
	for id, j := range o.jobs {
		if j.Status == types.JobQueued {
			ids = append(ids, id)
		}
	}
	o.mu.Unlock()

	count := 0
	for _, id := range ids {
		if ok, err := o.CancelJob(id, reason); err == nil && ok {
			count++
		}
	}
	return count
}

// PurgeCompleted deletes terminal job records older than olderThan and
// returns how many were removed.
func (o *Orchestrator) PurgeCompleted(olderThan time.Duration) int {
	cutoff := time.Now().Add(-olderThan)

	o.mu.Lock()
	ids := make([]string, 0)
	for id, j := range o.jobs {
		if j.Status.IsTerminal() && !j.CompletedAt.IsZero() && j.CompletedAt.Before(cutoff) {
			ids = append(ids, id)
		}
	}
	o.mu.Unlock()

	count := 0
	for _, id := range ids {
		if err := o.store.DeleteJob(id); err != nil {
			log.Error(fmt.Sprintf("orchestrator: purge job %s: %v", id, err))
			continue
		}
		o.mu.Lock()
		delete(o.jobs, id)
		o.mu.Unlock()
		count++
	}
	return count
}

// GetJob returns a copy of a job record.
func (o *Orchestrator) GetJob(jobID string) (*types.Job, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	job, ok := o.jobs[jobID]
	if !ok {
		return nil, ErrJobNotFound
	}
	return job.Clone(), nil
}

// ListJobs returns a copy of every tracked job, newest submission first.
func (o *Orchestrator) ListJobs() []*types.Job {
	o.mu.Lock()
	defer o.mu.Unlock()

	out := make([]*types.Job, 0, len(o.jobs))
	for _, j := range o.jobs {
		out = append(out, j.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SubmittedAt.After(out[j].SubmittedAt) })
	return out
}

// Utilization computes fleet-wide printer occupancy. Printers reporting
// paused, cancelling, or an unknown status count as busy for the purpose
// of this aggregate, matching the health monitor's conservative read of
// "not available for new work".
func (o *Orchestrator) Utilization() FleetUtilization {
	o.mu.Lock()
	defer o.mu.Unlock()

	var u FleetUtilization
	u.TotalPrinters = len(o.printers)
	for _, rec := range o.printers {
		switch rec.Status {
		case types.PrinterIdle:
			u.IdlePrinters++
		case types.PrinterOffline:
			u.OfflinePrinters++
		default:
			u.BusyPrinters++
		}
	}

	operable := u.TotalPrinters - u.OfflinePrinters
	if operable > 0 {
		u.UtilizationPct = round1(float64(u.BusyPrinters) / float64(operable) * 100)
	}
	return u
}

func round1(f float64) float64 {
	return float64(int(f*10+0.5)) / 10
}

// PrinterCounts implements metrics.FleetSource.
func (o *Orchestrator) PrinterCounts() map[string]map[string]int {
	o.mu.Lock()
	defer o.mu.Unlock()

	out := make(map[string]map[string]int)
	for _, rec := range o.printers {
		byStatus, ok := out[string(rec.Type)]
		if !ok {
			byStatus = make(map[string]int)
			out[string(rec.Type)] = byStatus
		}
		byStatus[string(rec.Status)]++
	}
	return out
}

// JobCounts implements metrics.FleetSource.
func (o *Orchestrator) JobCounts() map[string]int {
	o.mu.Lock()
	defer o.mu.Unlock()

	out := make(map[string]int)
	for _, j := range o.jobs {
		out[string(j.Status)]++
	}
	return out
}

// UtilizationPercent implements metrics.FleetSource.
func (o *Orchestrator) UtilizationPercent() float64 {
	return o.Utilization().UtilizationPct
}
