package dispatcher

import (
	"context"
	"time"

	"github.com/codeofaxel/kiln/pkg/adapter"
	"github.com/codeofaxel/kiln/pkg/safety"
	"github.com/codeofaxel/kiln/pkg/types"
)

// buildCatalogue returns every agent-callable tool keyed by name. Tools
// excluded here (billing_*, marketplace_*, search_*, model_details, slicing,
// generation) fall outside Kiln's scope: marketplace browsing, payment
// processing, and CAD/slicing stay external collaborators.
func buildCatalogue() map[string]handlerFunc {
	return map[string]handlerFunc{
		"printer_status":          toolPrinterStatus,
		"printer_files":           toolPrinterFiles,
		"upload_file":             toolUploadFile,
		"delete_file":             toolDeleteFile,
		"start_print":             toolStartPrint,
		"cancel_print":            toolCancelPrint,
		"pause_print":             toolPausePrint,
		"resume_print":            toolResumePrint,
		"emergency_stop":          toolEmergencyStop,
		"set_temperature":         toolSetTemperature,
		"send_gcode":              toolSendGCode,
		"validate_gcode":          toolValidateGCode,
		"preflight_check":         toolPreflightCheck,
		"printer_snapshot":        toolPrinterSnapshot,
		"discover_printers":       toolDiscoverPrinters,
		"register_printer":        toolRegisterPrinter,
		"fleet_status":            toolFleetStatus,
		"submit_job":              toolSubmitJob,
		"job_status":              toolJobStatus,
		"queue_summary":           toolQueueSummary,
		"cancel_job":              toolCancelJob,
		"job_history":             toolJobHistory,
		"recent_events":           toolRecentEvents,
		"health_check":            toolHealthCheck,
		"start_monitoring":        toolStartMonitoring,
		"stop_monitoring":         toolStopMonitoring,
		"monitor_history":         toolMonitorHistory,
		"await_print_completion":  toolAwaitPrintCompletion,
		"plan_recovery":           toolPlanRecovery,
		"execute_recovery":        toolExecuteRecovery,
		"safety_audit":            toolSafetyAudit,
		"safety_status":           toolSafetyStatus,
	}
}

func (d *Dispatcher) adapterFor(label string) (adapter.PrinterAdapter, map[string]any) {
	a, err := d.registry.Get(label)
	if err != nil {
		return nil, errResult("VALIDATION_ERROR", err.Error())
	}
	return a, nil
}

func (d *Dispatcher) profileFor(label string) types.SafetyProfile {
	rec, ok := d.orch.GetPrinter(label)
	if !ok {
		return types.DefaultSafetyProfile()
	}
	return adapter.ProfileForModel(rec.SafetyProfileID)
}

func toolPrinterStatus(ctx context.Context, d *Dispatcher, label string, args map[string]any) map[string]any {
	a, errMap := d.adapterFor(label)
	if errMap != nil {
		return errMap
	}
	state, err := a.GetState(ctx)
	if err != nil {
		return errResult("VALIDATION_ERROR", err.Error())
	}
	return okResult(map[string]any{
		"connected": state.Connected,
		"status":    string(state.Status),
		"hotend":    state.Hotend,
		"bed":       state.Bed,
	})
}

func toolPrinterFiles(ctx context.Context, d *Dispatcher, label string, args map[string]any) map[string]any {
	a, errMap := d.adapterFor(label)
	if errMap != nil {
		return errMap
	}
	files, err := a.ListFiles(ctx)
	if err != nil {
		return errResult("VALIDATION_ERROR", err.Error())
	}
	return okResult(map[string]any{"files": files})
}

func toolUploadFile(ctx context.Context, d *Dispatcher, label string, args map[string]any) map[string]any {
	a, errMap := d.adapterFor(label)
	if errMap != nil {
		return errMap
	}
	path := argString(args, "file_path", "")
	result, err := a.UploadFile(ctx, path)
	if err != nil {
		return errResult("VALIDATION_ERROR", err.Error())
	}
	return okResult(map[string]any{"remote_path": result.RemotePath})
}

func toolDeleteFile(ctx context.Context, d *Dispatcher, label string, args map[string]any) map[string]any {
	a, errMap := d.adapterFor(label)
	if errMap != nil {
		return errMap
	}
	path := argString(args, "file_path", "")
	if err := a.DeleteFile(ctx, path); err != nil {
		return errResult("VALIDATION_ERROR", err.Error())
	}
	return okResult(nil)
}

func toolStartPrint(ctx context.Context, d *Dispatcher, label string, args map[string]any) map[string]any {
	a, errMap := d.adapterFor(label)
	if errMap != nil {
		return errMap
	}

	profile := d.profileFor(label)
	req := safety.PreflightRequest{
		RemoteFileName:   argString(args, "file_name", ""),
		ExpectedMaterial: argString(args, "expected_material", ""),
		LoadedMaterial:   argString(args, "loaded_material", ""),
	}
	if _, err := d.gate.RunPreflight(ctx, a, label, profile, req); err != nil {
		return gateErrorResult(err)
	}

	fileName := argString(args, "file_name", "")
	result, err := a.StartPrint(ctx, fileName)
	if err != nil {
		return errResult("VALIDATION_ERROR", err.Error())
	}
	return okResult(map[string]any{"message": result.Message})
}

func toolCancelPrint(ctx context.Context, d *Dispatcher, label string, args map[string]any) map[string]any {
	a, errMap := d.adapterFor(label)
	if errMap != nil {
		return errMap
	}
	result, err := a.CancelPrint(ctx)
	if err != nil {
		return errResult("VALIDATION_ERROR", err.Error())
	}
	return okResult(map[string]any{"message": result.Message})
}

func toolPausePrint(ctx context.Context, d *Dispatcher, label string, args map[string]any) map[string]any {
	a, errMap := d.adapterFor(label)
	if errMap != nil {
		return errMap
	}
	result, err := a.PausePrint(ctx)
	if err != nil {
		return errResult("VALIDATION_ERROR", err.Error())
	}
	return okResult(map[string]any{"message": result.Message})
}

func toolResumePrint(ctx context.Context, d *Dispatcher, label string, args map[string]any) map[string]any {
	a, errMap := d.adapterFor(label)
	if errMap != nil {
		return errMap
	}
	result, err := a.ResumePrint(ctx)
	if err != nil {
		return errResult("VALIDATION_ERROR", err.Error())
	}
	return okResult(map[string]any{"message": result.Message})
}

func toolEmergencyStop(ctx context.Context, d *Dispatcher, label string, args map[string]any) map[string]any {
	a, errMap := d.adapterFor(label)
	if errMap != nil {
		return errMap
	}
	result, _ := a.EmergencyStop(ctx)
	return okResult(map[string]any{"message": result.Message})
}

func toolSetTemperature(ctx context.Context, d *Dispatcher, label string, args map[string]any) map[string]any {
	a, errMap := d.adapterFor(label)
	if errMap != nil {
		return errMap
	}
	profile := d.profileFor(label)

	if _, ok := args["hotend"]; ok {
		target := argFloat(args, "hotend", 0)
		if target < 0 || target > profile.HotendCeiling {
			return errResult("VALIDATION_ERROR", "hotend target exceeds safety ceiling")
		}
		if err := a.SetToolTemp(ctx, target); err != nil {
			return errResult("VALIDATION_ERROR", err.Error())
		}
	}
	if _, ok := args["bed"]; ok {
		target := argFloat(args, "bed", 0)
		if target < 0 || target > profile.BedCeiling {
			return errResult("VALIDATION_ERROR", "bed target exceeds safety ceiling")
		}
		if err := a.SetBedTemp(ctx, target); err != nil {
			return errResult("VALIDATION_ERROR", err.Error())
		}
	}
	return okResult(nil)
}

func toolSendGCode(ctx context.Context, d *Dispatcher, label string, args map[string]any) map[string]any {
	a, errMap := d.adapterFor(label)
	if errMap != nil {
		return errMap
	}
	lines := argLines(args, "commands")
	profile := d.profileFor(label)

	res, err := d.gate.ValidateGCode("send_gcode", label, lines, profile)
	if err != nil {
		return gateErrorResult(err)
	}
	if argBool(args, "dry_run", false) {
		return okResult(map[string]any{"dry_run": true, "warnings": res.Warnings})
	}
	if err := a.SendGCode(ctx, lines); err != nil {
		return errResult("VALIDATION_ERROR", err.Error())
	}
	return okResult(map[string]any{"warnings": res.Warnings})
}

func toolValidateGCode(ctx context.Context, d *Dispatcher, label string, args map[string]any) map[string]any {
	lines := argLines(args, "commands")
	profile := d.profileFor(label)
	res, err := safety.ValidateGCode(lines, profile)
	if err != nil {
		return errResult("VALIDATION_ERROR", err.Error())
	}
	return okResult(map[string]any{
		"blocked":          res.Blocked,
		"blocked_commands": res.BlockedCommands,
		"warnings":         res.Warnings,
	})
}

func toolPreflightCheck(ctx context.Context, d *Dispatcher, label string, args map[string]any) map[string]any {
	a, errMap := d.adapterFor(label)
	if errMap != nil {
		return errMap
	}
	profile := d.profileFor(label)
	req := safety.PreflightRequest{
		LocalFilePath:    argString(args, "file_path", ""),
		ExpectedMaterial: argString(args, "expected_material", ""),
		LoadedMaterial:   argString(args, "loaded_material", ""),
		RemoteFileName:   argString(args, "remote_file", ""),
	}
	result := safety.RunPreflight(ctx, a, profile, req)
	return okResult(map[string]any{"ready": result.Ready, "checks": result.Checks})
}

func toolPrinterSnapshot(ctx context.Context, d *Dispatcher, label string, args map[string]any) map[string]any {
	a, errMap := d.adapterFor(label)
	if errMap != nil {
		return errMap
	}
	data, err := a.Snapshot(ctx)
	if err != nil {
		if err == adapter.ErrNoCamera {
			return errResult("VALIDATION_ERROR", "no webcam configured for this printer")
		}
		return errResult("VALIDATION_ERROR", err.Error())
	}
	return okResult(map[string]any{"image_bytes": len(data)})
}

func toolDiscoverPrinters(ctx context.Context, d *Dispatcher, label string, args map[string]any) map[string]any {
	timeout := time.Duration(argFloat(args, "timeout_seconds", 5)) * time.Second
	found, err := adapter.Discover(ctx, timeout)
	if err != nil {
		return errResult("VALIDATION_ERROR", err.Error())
	}
	return okResult(map[string]any{"printers": found})
}

func toolRegisterPrinter(ctx context.Context, d *Dispatcher, label string, args map[string]any) map[string]any {
	rec := &types.PrinterRecord{
		Label:           argString(args, "printer_name", label),
		Type:            types.AdapterType(argString(args, "printer_type", "")),
		Status:          types.PrinterIdle,
		SafetyProfileID: argString(args, "printer_model", "generic"),
	}
	if err := d.orch.RegisterPrinter(rec); err != nil {
		return errResult("VALIDATION_ERROR", err.Error())
	}
	return okResult(map[string]any{"printer_name": rec.Label})
}

func toolFleetStatus(ctx context.Context, d *Dispatcher, label string, args map[string]any) map[string]any {
	u := d.orch.Utilization()
	return okResult(map[string]any{
		"total_printers":   u.TotalPrinters,
		"idle_printers":    u.IdlePrinters,
		"busy_printers":    u.BusyPrinters,
		"offline_printers": u.OfflinePrinters,
		"utilization_pct":  u.UtilizationPct,
	})
}

func toolSubmitJob(ctx context.Context, d *Dispatcher, label string, args map[string]any) map[string]any {
	job, result, err := d.orch.SubmitAndAssign(
		argString(args, "file_path", ""),
		argString(args, "submitted_by", "agent"),
		argInt(args, "priority", 0),
		argString(args, "preferred_printer", ""),
		argInt(args, "max_attempts", 1),
	)
	if err != nil {
		return errResult("VALIDATION_ERROR", err.Error())
	}
	return okResult(map[string]any{
		"job_id":   job.ID,
		"status":   string(job.Status),
		"assigned": result.Assigned,
		"printer":  result.PrinterLabel,
	})
}

func toolJobStatus(ctx context.Context, d *Dispatcher, label string, args map[string]any) map[string]any {
	job, err := d.orch.GetJob(argString(args, "job_id", ""))
	if err != nil {
		return errResult("VALIDATION_ERROR", err.Error())
	}
	return okResult(map[string]any{
		"job_id":        job.ID,
		"status":        string(job.Status),
		"printer":       job.PrinterLabel,
		"attempt":       job.Attempt,
		"max_attempts":  job.MaxAttempts,
		"last_error":    job.LastError,
		"wait_seconds":  job.WaitSeconds(),
		"elapsed_sec":   job.ElapsedSeconds(),
	})
}

// toolAwaitPrintCompletion blocks until a job reaches a terminal status or
// the poll budget is exhausted, whichever comes first. It is pure
// orchestration over d.orch.GetJob — no adapter I/O of its own.
func toolAwaitPrintCompletion(ctx context.Context, d *Dispatcher, label string, args map[string]any) map[string]any {
	jobID := argString(args, "job_id", "")
	timeout := time.Duration(argFloat(args, "timeout_seconds", 3600)) * time.Second
	pollInterval := time.Duration(argFloat(args, "poll_interval_seconds", 5)) * time.Second
	if pollInterval <= 0 {
		pollInterval = 5 * time.Second
	}

	deadline := time.Now().Add(timeout)
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		job, err := d.orch.GetJob(jobID)
		if err != nil {
			return errResult("VALIDATION_ERROR", err.Error())
		}
		if job.Status.IsTerminal() {
			return okResult(map[string]any{
				"job_id":     job.ID,
				"status":     string(job.Status),
				"timed_out":  false,
				"last_error": job.LastError,
			})
		}
		if time.Now().After(deadline) {
			return okResult(map[string]any{
				"job_id":    job.ID,
				"status":    string(job.Status),
				"timed_out": true,
			})
		}

		select {
		case <-ctx.Done():
			return errResult("VALIDATION_ERROR", ctx.Err().Error())
		case <-ticker.C:
		}
	}
}

func toolQueueSummary(ctx context.Context, d *Dispatcher, label string, args map[string]any) map[string]any {
	jobs := d.orch.ListJobs()
	counts := make(map[string]int)
	for _, j := range jobs {
		counts[string(j.Status)]++
	}
	return okResult(map[string]any{"counts": counts, "total": len(jobs)})
}

func toolCancelJob(ctx context.Context, d *Dispatcher, label string, args map[string]any) map[string]any {
	ok, err := d.orch.CancelJob(argString(args, "job_id", ""), argString(args, "reason", "operator cancelled"))
	if err != nil {
		return errResult("VALIDATION_ERROR", err.Error())
	}
	return okResult(map[string]any{"cancelled": ok})
}

func toolJobHistory(ctx context.Context, d *Dispatcher, label string, args map[string]any) map[string]any {
	limit := argInt(args, "limit", 20)
	statusFilter := argString(args, "status", "")
	jobs := d.orch.ListJobs()

	out := make([]*types.Job, 0, limit)
	for _, j := range jobs {
		if statusFilter != "" && string(j.Status) != statusFilter {
			continue
		}
		out = append(out, j)
		if len(out) >= limit {
			break
		}
	}
	return okResult(map[string]any{"jobs": out})
}

func toolRecentEvents(ctx context.Context, d *Dispatcher, label string, args map[string]any) map[string]any {
	limit := argInt(args, "limit", 20)
	history := d.bus.History()
	if len(history) > limit {
		history = history[len(history)-limit:]
	}
	return okResult(map[string]any{"events": history})
}

func toolHealthCheck(ctx context.Context, d *Dispatcher, label string, args map[string]any) map[string]any {
	policy := types.DefaultMonitorPolicy()
	report, err := d.monitor.CheckHealth(ctx, label, policy)
	if err != nil {
		return errResult("VALIDATION_ERROR", err.Error())
	}
	return okResult(map[string]any{
		"severity": string(report.OverallSeverity()),
		"phase":    string(report.Phase),
		"metrics":  report.Metrics,
	})
}

func toolStartMonitoring(ctx context.Context, d *Dispatcher, label string, args map[string]any) map[string]any {
	policy := types.DefaultMonitorPolicy()
	if _, ok := args["check_interval_seconds"]; ok {
		policy.CheckIntervalSecond = argInt(args, "check_interval_seconds", policy.CheckIntervalSecond)
	}
	session, err := d.monitor.StartMonitoring(label, argString(args, "job_id", ""), policy)
	if err != nil {
		return errResult("VALIDATION_ERROR", err.Error())
	}
	return okResult(map[string]any{"session_id": session.ID, "status": string(session.Status)})
}

func toolStopMonitoring(ctx context.Context, d *Dispatcher, label string, args map[string]any) map[string]any {
	session := d.monitor.StopMonitoring(label)
	if session == nil {
		return okResult(map[string]any{"stopped": false})
	}
	return okResult(map[string]any{"stopped": true, "status": string(session.Status)})
}

func toolMonitorHistory(ctx context.Context, d *Dispatcher, label string, args map[string]any) map[string]any {
	hours := argFloat(args, "hours", 24)
	history := d.monitor.GetHealthHistory(label, hours)
	return okResult(map[string]any{"reports": history})
}

func toolPlanRecovery(ctx context.Context, d *Dispatcher, label string, args map[string]any) map[string]any {
	jobID := argString(args, "job_id", "")
	failureType := types.FailureType(argString(args, "failure_type", ""))
	progress := argFloat(args, "progress_percent", 0)

	rec, err := d.planner.PlanRecovery(jobID, failureType, progress)
	if err != nil {
		return errResult("VALIDATION_ERROR", err.Error())
	}
	return okResult(map[string]any{
		"strategy":         string(rec.Primary),
		"alternatives":     recoveryStrategyStrings(rec.Alternatives),
		"safety_critical":  rec.SafetyCritical,
		"auto_recoverable": rec.AutoRecoverable,
	})
}

func toolExecuteRecovery(ctx context.Context, d *Dispatcher, label string, args map[string]any) map[string]any {
	jobID := argString(args, "job_id", "")
	strategy := types.RecoveryStrategy(argString(args, "strategy", ""))

	result, err := d.planner.ExecuteRecovery(jobID, strategy)
	if err != nil {
		return errResult("VALIDATION_ERROR", err.Error())
	}
	return okResult(map[string]any{
		"strategy":     string(result.Strategy),
		"time_saved":   result.TimeSaved,
		"retries_left": result.RetriesLeft,
	})
}

func toolSafetyAudit(ctx context.Context, d *Dispatcher, label string, args map[string]any) map[string]any {
	limit := argInt(args, "limit", 20)
	entries, err := d.gate.AuditHistory(limit)
	if err != nil {
		return errResult("VALIDATION_ERROR", err.Error())
	}
	return okResult(map[string]any{"entries": entries})
}

func toolSafetyStatus(ctx context.Context, d *Dispatcher, label string, args map[string]any) map[string]any {
	tool := argString(args, "tool", "send_gcode")
	return okResult(map[string]any{
		"tool":           tool,
		"classification": string(d.gate.ClassificationFor(tool)),
		"breaker_open":   d.gate.BreakerOpen(tool),
	})
}

func recoveryStrategyStrings(strategies []types.RecoveryStrategy) []string {
	out := make([]string, len(strategies))
	for i, s := range strategies {
		out[i] = string(s)
	}
	return out
}
