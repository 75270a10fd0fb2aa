package safety

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"github.com/codeofaxel/kiln/pkg/adapter"
	"github.com/codeofaxel/kiln/pkg/events"
	"github.com/codeofaxel/kiln/pkg/metrics"
	"github.com/codeofaxel/kiln/pkg/storage"
	"github.com/codeofaxel/kiln/pkg/types"
)

// SafetyLevel classifies a tool's gating requirements.
type SafetyLevel string

const (
	LevelSafe      SafetyLevel = "safe"
	LevelConfirm   SafetyLevel = "confirm"
	LevelEmergency SafetyLevel = "emergency"
)

// defaultClassification is the static safety-level table. A tool absent
// from it defaults to LevelSafe.
var defaultClassification = map[string]SafetyLevel{
	"upload_file":     LevelConfirm,
	"delete_file":     LevelConfirm,
	"start_print":     LevelConfirm,
	"cancel_print":    LevelConfirm,
	"send_gcode":      LevelConfirm,
	"set_temperature": LevelConfirm,
	"emergency_stop":  LevelEmergency,
}

// defaultRateLimits is the per-tool (min_interval_ms, max_per_minute) map.
var defaultRateLimits = map[string]RateLimit{
	"send_gcode":      {MinIntervalMs: 200, MaxPerMinute: 60},
	"set_temperature": {MinIntervalMs: 500, MaxPerMinute: 20},
	"start_print":     {MinIntervalMs: 1000, MaxPerMinute: 6},
	"upload_file":     {MinIntervalMs: 500, MaxPerMinute: 10},
	"delete_file":     {MinIntervalMs: 500, MaxPerMinute: 10},
	"emergency_stop":  {MinIntervalMs: 0, MaxPerMinute: 120},
}

// ErrorCode is the tool-facing failure taxonomy from the external
// interface contract.
type ErrorCode string

const (
	CodeAuthError       ErrorCode = "AUTH_ERROR"
	CodeRateLimited     ErrorCode = "RATE_LIMITED"
	CodeSafetyEscalated ErrorCode = "SAFETY_ESCALATED"
	CodeGCodeBlocked    ErrorCode = "GCODE_BLOCKED"
	CodePreflightFailed ErrorCode = "PREFLIGHT_FAILED"
	CodeValidationError ErrorCode = "VALIDATION_ERROR"
	CodeInvalidToken    ErrorCode = "INVALID_TOKEN"
	CodeTokenExpired    ErrorCode = "TOKEN_EXPIRED"
)

// GateError is returned for every refused or gated call.
type GateError struct {
	Code            ErrorCode
	Message         string
	Retryable       bool
	BlockedCommands []string
	Warnings        []string
}

func (e *GateError) Error() string { return e.Message }

// Config configures gate-wide policy toggles, populated by pkg/config
// from the environment.
type Config struct {
	AuthEnabled    bool
	AuthToken      string
	ConfirmMode    bool
	ConfirmUpload  bool
	StrictMaterial bool
}

const confirmTokenTTL = 5 * time.Minute

type pendingConfirmation struct {
	ToolName string
	Args     map[string]any
	ExpireAt time.Time
}

// Gate is the synchronous pre-action validator every mutating tool call
// passes through. The rate limiter and the breaker manager each guard
// their own state with their own mutex; mu guards only the
// pending-confirmation map. Adapter I/O is never performed while any of
// these locks is held.
type Gate struct {
	cfg            Config
	classification map[string]SafetyLevel
	limiter        *RateLimiter
	breakers       *breakerManager
	store          storage.Store
	bus            *events.Broker

	mu      sync.Mutex
	pending map[string]*pendingConfirmation
}

// NewGate builds a gate with the default classification and rate-limit
// tables, wired to store for audit persistence and bus for lifecycle
// events.
func NewGate(cfg Config, store storage.Store, bus *events.Broker) *Gate {
	return &Gate{
		cfg:            cfg,
		classification: defaultClassification,
		limiter:        NewRateLimiter(defaultRateLimits),
		breakers:       newBreakerManager(),
		store:          store,
		bus:            bus,
		pending:        make(map[string]*pendingConfirmation),
	}
}

// ClassificationFor returns a tool's safety level, defaulting to safe.
func (g *Gate) ClassificationFor(tool string) SafetyLevel {
	if lvl, ok := g.classification[tool]; ok {
		return lvl
	}
	return LevelSafe
}

// BreakerOpen reports whether tool is currently in its cooldown.
func (g *Gate) BreakerOpen(tool string) bool {
	return g.breakers.open(tool)
}

// CheckResult is returned by Check on success: either the call is clear
// to execute, or a confirmation token must be presented to
// ConfirmAction before it runs.
type CheckResult struct {
	ConfirmRequired bool
	ConfirmToken    string
}

// Check runs the auth, rate-limit, circuit-breaker, and confirmation
// stages for tool and records an audit entry for the terminal outcome.
// authToken is the caller-presented token, ignored when auth is
// disabled. printerLabel is recorded on the audit entry; it may be
// empty for fleet-level tools. Callers still owe a G-code or pre-flight
// check via the dedicated methods below when the tool requires one.
func (g *Gate) Check(tool, authToken, printerLabel string, args map[string]any) (*CheckResult, error) {
	if g.cfg.AuthEnabled && (authToken == "" || authToken != g.cfg.AuthToken) {
		g.audit(tool, printerLabel, "auth_denied", args)
		return nil, &GateError{Code: CodeAuthError, Message: "missing or invalid auth token"}
	}

	if g.breakers.open(tool) {
		g.publishEscalated(tool)
		g.audit(tool, printerLabel, "blocked", args)
		return nil, &GateError{
			Code:      CodeSafetyEscalated,
			Message:   fmt.Sprintf("%s is in a 5-minute safety cooldown after repeated blocked attempts", tool),
			Retryable: true,
		}
	}

	if !g.limiter.Allow(tool) {
		g.breakers.recordBlock(tool)
		metrics.RateLimitedTotal.WithLabelValues(tool).Inc()
		metrics.SafetyBlocksTotal.WithLabelValues(tool, "rate_limited").Inc()
		g.audit(tool, printerLabel, "rate_limited", args)
		if g.breakers.open(tool) {
			g.publishEscalated(tool)
		}
		return nil, &GateError{Code: CodeRateLimited, Message: fmt.Sprintf("%s exceeded its rate limit", tool), Retryable: true}
	}

	level := g.ClassificationFor(tool)
	requiresConfirm := level == LevelConfirm || level == LevelEmergency
	confirmActive := g.cfg.ConfirmMode || (tool == "upload_file" && g.cfg.ConfirmUpload)
	if requiresConfirm && confirmActive {
		token := g.mintConfirmation(tool, args)
		g.audit(tool, printerLabel, "confirmation_required", args)
		return &CheckResult{ConfirmRequired: true, ConfirmToken: token}, nil
	}

	g.audit(tool, printerLabel, "executed", args)
	return &CheckResult{}, nil
}

// ConfirmAction redeems a confirmation token minted by Check, returning
// the original tool name and args so the caller executes the call
// exactly once. The token is consumed on every call, expired or not.
func (g *Gate) ConfirmAction(token string) (tool string, args map[string]any, err error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	pc, ok := g.pending[token]
	if !ok {
		return "", nil, &GateError{Code: CodeInvalidToken, Message: "unknown or already-used confirmation token"}
	}
	delete(g.pending, token)
	if time.Now().After(pc.ExpireAt) {
		return "", nil, &GateError{Code: CodeTokenExpired, Message: "confirmation token expired"}
	}
	return pc.ToolName, pc.Args, nil
}

func (g *Gate) mintConfirmation(tool string, args map[string]any) string {
	token := randomToken()
	g.mu.Lock()
	g.pending[token] = &pendingConfirmation{ToolName: tool, Args: args, ExpireAt: time.Now().Add(confirmTokenTTL)}
	g.mu.Unlock()
	return token
}

func randomToken() string {
	b := make([]byte, 16)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}

func (g *Gate) publishEscalated(tool string) {
	if g.bus == nil {
		return
	}
	g.bus.Publish(&types.Event{
		Type:   types.EventSafetyEscalated,
		Data:   map[string]any{"tool": tool},
		Source: "safety_gate",
	})
}

// ValidateGCode runs static G-code analysis for a send_gcode or
// upload_file(.gcode) call, audits the outcome, and counts a block
// against tool's circuit breaker on refusal.
func (g *Gate) ValidateGCode(tool, printerLabel string, lines []string, profile types.SafetyProfile) (GCodeResult, error) {
	res, err := ValidateGCode(lines, profile)
	if err != nil {
		g.audit(tool, printerLabel, "blocked", map[string]any{"reason": err.Error()})
		metrics.SafetyBlocksTotal.WithLabelValues(tool, "validation_error").Inc()
		return GCodeResult{}, err
	}
	if res.Blocked {
		g.breakers.recordBlock(tool)
		metrics.SafetyBlocksTotal.WithLabelValues(tool, "gcode_blocked").Inc()
		g.audit(tool, printerLabel, "blocked", map[string]any{"blocked_commands": res.BlockedCommands})
		return res, &GateError{
			Code:            CodeGCodeBlocked,
			Message:         "one or more blocked commands",
			BlockedCommands: res.BlockedCommands,
			Warnings:        res.Warnings,
		}
	}
	g.audit(tool, printerLabel, "executed", map[string]any{"warnings": res.Warnings})
	return res, nil
}

// RunPreflight delegates to the package-level pre-flight check for a
// start_print call and audits the outcome.
func (g *Gate) RunPreflight(ctx context.Context, a adapter.PrinterAdapter, printerLabel string, profile types.SafetyProfile, req PreflightRequest) (PreflightResult, error) {
	req.StrictMaterial = req.StrictMaterial || g.cfg.StrictMaterial
	result := RunPreflight(ctx, a, profile, req)
	if !result.Ready {
		g.audit("start_print", printerLabel, "preflight_failed", map[string]any{"checks": result.Checks})
		return result, &GateError{Code: CodePreflightFailed, Message: "pre-flight checks failed"}
	}
	g.audit("start_print", printerLabel, "executed", nil)
	return result, nil
}
