package health

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/codeofaxel/kiln/pkg/adapter"
	"github.com/codeofaxel/kiln/pkg/events"
	"github.com/codeofaxel/kiln/pkg/log"
	"github.com/codeofaxel/kiln/pkg/metrics"
	"github.com/codeofaxel/kiln/pkg/types"
	"github.com/google/uuid"
)

// stallTracker holds per-session progress-stall bookkeeping.
type stallTracker struct {
	lastProgress     *float64
	lastProgressTime time.Time
	stalled          bool
}

// Monitor manages one-shot and session-based health monitoring across the
// fleet. One background goroutine runs per active session; sessions,
// history, and stall trackers all live behind a single mutex.
type Monitor struct {
	registry *adapter.Registry
	bus      *events.Broker

	mu       sync.Mutex
	sessions map[string]*types.HealthSession
	cancels  map[string]context.CancelFunc // keyed by printer label
	stalls   map[string]*stallTracker      // keyed by session ID
	history  map[string][]types.HealthReport
	webcam   map[string]*Status // keyed by printer label
}

// NewMonitor constructs a Monitor bound to a printer registry and event bus.
func NewMonitor(registry *adapter.Registry, bus *events.Broker) *Monitor {
	return &Monitor{
		registry: registry,
		bus:      bus,
		sessions: make(map[string]*types.HealthSession),
		cancels:  make(map[string]context.CancelFunc),
		stalls:   make(map[string]*stallTracker),
		history:  make(map[string][]types.HealthReport),
		webcam:   make(map[string]*Status),
	}
}

// CheckHealth performs a single synchronous health check against printer.
func (m *Monitor) CheckHealth(ctx context.Context, printerLabel string, policy types.MonitorPolicy) (types.HealthReport, error) {
	a, err := m.registry.Get(printerLabel)
	if err != nil {
		return types.HealthReport{}, err
	}

	timer := metrics.NewTimer()
	state, err := a.GetState(ctx)
	timer.ObserveDurationVec(metrics.AdapterCallDuration, string(a.Type()), "health_check")
	if err != nil {
		return types.HealthReport{}, fmt.Errorf("health: get state for %s: %w", printerLabel, err)
	}

	now := time.Now()
	var metricsOut []types.Metric

	if state.Hotend != nil {
		metricsOut = append(metricsOut, thermalMetric("hotend_temperature", *state.Hotend, policy.DriftThreshold))
	}
	if state.Bed != nil {
		metricsOut = append(metricsOut, thermalMetric("bed_temperature", *state.Bed, policy.DriftThreshold))
	}

	progress, progErr := a.GetJob(ctx)
	var completion float64
	if progErr == nil && progress.CompletionPct != nil {
		completion = *progress.CompletionPct
		metricsOut = append(metricsOut, types.Metric{
			Name:      "print_progress",
			Current:   completion,
			Expected:  100.0,
			Deviation: round2(100.0 - completion),
			Severity:  types.SeverityOK,
			Unit:      "%",
		})
	}

	if mt, ok := m.checkWebcam(ctx, printerLabel, a); ok {
		metricsOut = append(metricsOut, mt)
	}

	connSeverity := types.SeverityOK
	connDetail := ""
	if !state.Connected {
		connSeverity = types.SeverityCritical
		connDetail = "printer is offline — possible unexpected shutdown"
	}
	metricsOut = append(metricsOut, types.Metric{
		Name:      "connection_status",
		Current:   boolToFloat(state.Connected),
		Expected:  1.0,
		Deviation: boolToFloat(!state.Connected),
		Severity:  connSeverity,
		Unit:      "bool",
		Detail:    connDetail,
	})

	isHeating := state.Hotend != nil && state.Hotend.Actual < state.Hotend.Target-10
	phase := detectPrintPhase(progress.CompletionPct, isHeating)

	report := types.HealthReport{
		PrinterLabel: printerLabel,
		CapturedAt:   now,
		Phase:        phase,
		Metrics:      metricsOut,
	}

	m.appendHistory(printerLabel, report, policy.HistoryMaxHours)

	for _, mt := range metricsOut {
		metrics.HealthChecksTotal.WithLabelValues(string(mt.Severity)).Inc()
	}

	return report, nil
}

// captureSnapshot pulls one webcam still from the session's printer and
// appends it to the session's snapshot list. A printer with no camera is
// skipped entirely rather than recorded as a failure.
func (m *Monitor) captureSnapshot(ctx context.Context, session *types.HealthSession) {
	a, err := m.registry.Get(session.PrinterLabel)
	if err != nil {
		return
	}

	data, err := a.Snapshot(ctx)
	if errors.Is(err, adapter.ErrNoCamera) {
		return
	}

	snap := types.SessionSnapshot{CapturedAt: time.Now()}
	if err != nil {
		snap.Error = err.Error()
	} else {
		snap.ImageBytes = data
	}

	m.mu.Lock()
	session.Snapshots = append(session.Snapshots, snap)
	m.mu.Unlock()
}

// checkWebcam probes the adapter's webcam stream URL with an HTTPChecker
// and reports reachability as a metric, debounced through a per-printer
// Status so one dropped probe doesn't flip the metric to WARNING — it
// takes config.Retries consecutive failures, the same threshold the
// Status/Config pair is built for. The second return is false when the
// printer has no configured camera, in which case no metric is emitted
// at all.
func (m *Monitor) checkWebcam(ctx context.Context, printerLabel string, a adapter.PrinterAdapter) (types.Metric, bool) {
	url, err := a.GetStreamURL(ctx)
	if errors.Is(err, adapter.ErrNoCamera) {
		return types.Metric{}, false
	}

	var result Result
	if err != nil {
		result = Result{Healthy: false, Message: fmt.Sprintf("webcam stream URL unavailable: %v", err), CheckedAt: time.Now()}
	} else {
		result = NewHTTPChecker(url).Check(ctx)
	}

	config := DefaultConfig()
	m.mu.Lock()
	status, ok := m.webcam[printerLabel]
	if !ok {
		status = NewStatus()
		m.webcam[printerLabel] = status
	}
	status.Update(result, config)
	healthy := status.Healthy || status.InStartPeriod(config)
	m.mu.Unlock()

	severity := types.SeverityOK
	if !healthy {
		severity = types.SeverityWarning
	}
	return types.Metric{
		Name:      "webcam_reachable",
		Current:   boolToFloat(healthy),
		Expected:  1.0,
		Deviation: boolToFloat(!healthy),
		Severity:  severity,
		Unit:      "bool",
		Detail:    result.Message,
	}, true
}

// thermalMetric classifies a temperature pair against the drift threshold:
// within threshold is OK, within 2x is WARNING, beyond is CRITICAL.
func thermalMetric(name string, t types.Temperature, threshold float64) types.Metric {
	deviation := math.Abs(t.Actual - t.Target)
	severity := types.SeverityOK
	detail := ""
	if deviation > threshold*2 {
		severity = types.SeverityCritical
		detail = fmt.Sprintf("%s drifted %.1f°C from target %.0f°C — possible heater or thermistor issue", name, deviation, t.Target)
	} else if deviation > threshold {
		severity = types.SeverityWarning
		detail = fmt.Sprintf("%s drifted %.1f°C from target %.0f°C", name, deviation, t.Target)
	}
	return types.Metric{
		Name:      name,
		Current:   t.Actual,
		Expected:  t.Target,
		Deviation: round2(deviation),
		Severity:  severity,
		Unit:      "°C",
		Detail:    detail,
	}
}

func round2(v float64) float64 { return math.Round(v*100) / 100 }

func boolToFloat(b bool) float64 {
	if b {
		return 1.0
	}
	return 0.0
}

// detectPrintPhase classifies the FDM phase from completion percentage.
func detectPrintPhase(completion *float64, isHeating bool) types.PrintPhase {
	if isHeating {
		return types.PhaseHeating
	}
	if completion == nil || *completion < 0 {
		return types.PhaseUnknown
	}
	c := *completion
	switch {
	case c < 5.0:
		return types.PhaseFirstLayer
	case c < 70.0:
		return types.PhaseInfill
	case c < 90.0:
		return types.PhasePerimeters
	case c < 100.0:
		return types.PhaseTopLayers
	default:
		return types.PhaseTopLayers
	}
}

// StartMonitoring begins a background monitoring session for printerLabel.
// Returns an error if printerLabel already has an active session.
func (m *Monitor) StartMonitoring(printerLabel, jobID string, policy types.MonitorPolicy) (*types.HealthSession, error) {
	m.mu.Lock()
	if _, active := m.cancels[printerLabel]; active {
		m.mu.Unlock()
		return nil, fmt.Errorf("health: printer %q already has an active monitoring session", printerLabel)
	}

	sessionID := uuid.NewString()
	if jobID == "" {
		jobID = "auto-" + sessionID[:8]
	}
	session := &types.HealthSession{
		ID:           sessionID,
		PrinterLabel: printerLabel,
		JobLabel:     jobID,
		Policy:       policy,
		Status:       types.SessionMonitoring,
		StartedAt:    time.Now(),
	}
	m.sessions[sessionID] = session
	m.stalls[sessionID] = &stallTracker{lastProgressTime: time.Now()}

	ctx, cancel := context.WithCancel(context.Background())
	m.cancels[printerLabel] = cancel
	m.mu.Unlock()

	metrics.ActiveSessions.Inc()
	go m.sessionLoop(ctx, session)

	log.WithSession(sessionID).Info().Str("printer", printerLabel).Msg("started health monitoring session")
	return session, nil
}

// StopMonitoring stops a printer's active session, if any. Idempotent: it
// is not an error to call this twice, or after the session already reached
// a terminal status on its own.
func (m *Monitor) StopMonitoring(printerLabel string) *types.HealthSession {
	m.mu.Lock()
	cancel, ok := m.cancels[printerLabel]
	if !ok {
		m.mu.Unlock()
		return nil
	}
	delete(m.cancels, printerLabel)
	m.mu.Unlock()

	cancel()

	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.sessions {
		if s.PrinterLabel == printerLabel && s.Status == types.SessionMonitoring {
			s.Status = types.SessionCompleted
			s.EndedAt = time.Now()
			metrics.ActiveSessions.Dec()
			return s
		}
	}
	return nil
}

// GetSession returns a session by ID.
func (m *Monitor) GetSession(sessionID string) (*types.HealthSession, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	return s, ok
}

// GetHealthHistory returns reports for printerLabel captured within the
// trailing window, oldest first.
func (m *Monitor) GetHealthHistory(printerLabel string, hours float64) []types.HealthReport {
	cutoff := time.Now().Add(-time.Duration(hours * float64(time.Hour)))
	m.mu.Lock()
	defer m.mu.Unlock()
	all := m.history[printerLabel]
	out := make([]types.HealthReport, 0, len(all))
	for _, r := range all {
		if r.CapturedAt.After(cutoff) || r.CapturedAt.Equal(cutoff) {
			out = append(out, r)
		}
	}
	return out
}

func (m *Monitor) appendHistory(printerLabel string, report types.HealthReport, maxHours int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	history := append(m.history[printerLabel], report)
	if maxHours > 0 {
		cutoff := time.Now().Add(-time.Duration(maxHours) * time.Hour)
		pruned := history[:0:0]
		for _, r := range history {
			if r.CapturedAt.After(cutoff) {
				pruned = append(pruned, r)
			}
		}
		history = pruned
	}
	m.history[printerLabel] = history
}

// sessionLoop runs the background check_delay -> check_count x interval
// loop for one session, updating health reports and detecting stalls.
func (m *Monitor) sessionLoop(ctx context.Context, session *types.HealthSession) {
	defer func() {
		m.mu.Lock()
		if session.Status == types.SessionMonitoring {
			session.Status = types.SessionCompleted
			session.EndedAt = time.Now()
			metrics.ActiveSessions.Dec()
		}
		delete(m.cancels, session.PrinterLabel)
		delete(m.stalls, session.ID)
		m.mu.Unlock()
	}()

	policy := session.Policy

	select {
	case <-ctx.Done():
		return
	case <-time.After(time.Duration(policy.CheckDelaySeconds) * time.Second):
	}

	remaining := policy.CheckCount
	for remaining > 0 {
		select {
		case <-ctx.Done():
			return
		default:
		}

		m.captureSnapshot(ctx, session)

		report, err := m.CheckHealth(ctx, session.PrinterLabel, policy)
		if err != nil {
			log.WithSession(session.ID).Warn().Err(err).Msg("health check failed")
		} else {
			m.mu.Lock()
			session.Reports = append(session.Reports, report)
			m.mu.Unlock()

			m.evaluateStall(session, report)
			m.mu.Lock()
			stalled := session.Status == types.SessionStalled
			m.mu.Unlock()
			if stalled {
				return
			}

			if report.OverallSeverity() == types.SeverityCritical && policy.AutoPauseOnFailure {
				m.reportIssue(session, "health_critical", criticalDetail(session.PrinterLabel, report))
			}
		}

		remaining--
		if remaining == 0 {
			return
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(time.Duration(policy.CheckIntervalSecond) * time.Second):
		}
	}
}

func criticalDetail(printerLabel string, report types.HealthReport) string {
	detail := "critical health status detected on " + printerLabel + ": "
	first := true
	for _, mt := range report.Metrics {
		if mt.Severity == types.SeverityCritical {
			if !first {
				detail += ", "
			}
			detail += mt.Name
			first = false
		}
	}
	return detail
}

// evaluateStall compares progress against the session's stall tracker and
// marks the session STALLED if progress hasn't moved for stall_timeout.
func (m *Monitor) evaluateStall(session *types.HealthSession, report types.HealthReport) {
	var progress *float64
	for _, mt := range report.Metrics {
		if mt.Name == "print_progress" {
			v := mt.Current
			progress = &v
			break
		}
	}
	if progress == nil {
		return
	}

	m.mu.Lock()
	tracker, ok := m.stalls[session.ID]
	if !ok || tracker.stalled {
		m.mu.Unlock()
		return
	}
	stallTimeout := session.Policy.StallTimeoutSeconds
	if stallTimeout <= 0 {
		m.mu.Unlock()
		return
	}

	now := time.Now()
	if tracker.lastProgress == nil || math.Abs(*progress-*tracker.lastProgress) > 0.1 {
		tracker.lastProgress = progress
		tracker.lastProgressTime = now
		m.mu.Unlock()
		return
	}

	stallDuration := now.Sub(tracker.lastProgressTime)
	if stallDuration.Seconds() <= float64(stallTimeout) {
		m.mu.Unlock()
		return
	}

	tracker.stalled = true
	session.Status = types.SessionStalled
	session.EndedAt = now
	m.mu.Unlock()

	metrics.StallsDetectedTotal.Inc()

	msg := fmt.Sprintf("print job appears stalled at %.1f%% for %.0fs on printer %q",
		*progress, stallDuration.Seconds(), session.PrinterLabel)

	m.reportIssue(session, "stall_detected", msg)

	if m.bus != nil {
		m.bus.Publish(&types.Event{
			Type: types.EventPrinterError,
			Data: map[string]any{
				"alert_type":       "stall",
				"printer_label":    session.PrinterLabel,
				"session_id":       session.ID,
				"completion_pct":   *progress,
				"stall_duration_s": stallDuration.Seconds(),
			},
			Source:    "health_monitor",
			Timestamp: now,
		})
	}

	log.WithSession(session.ID).Warn().Str("printer", session.PrinterLabel).Msg(msg)
}

func (m *Monitor) reportIssue(session *types.HealthSession, kind, detail string) {
	m.mu.Lock()
	session.Issues = append(session.Issues, types.Issue{
		Kind:      kind,
		Detail:    detail,
		Timestamp: time.Now(),
	})
	m.mu.Unlock()
}
