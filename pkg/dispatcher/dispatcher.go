package dispatcher

import (
	"context"
	"fmt"

	"github.com/codeofaxel/kiln/pkg/adapter"
	"github.com/codeofaxel/kiln/pkg/events"
	"github.com/codeofaxel/kiln/pkg/health"
	"github.com/codeofaxel/kiln/pkg/log"
	"github.com/codeofaxel/kiln/pkg/metrics"
	"github.com/codeofaxel/kiln/pkg/orchestrator"
	"github.com/codeofaxel/kiln/pkg/recovery"
	"github.com/codeofaxel/kiln/pkg/safety"
	"github.com/codeofaxel/kiln/pkg/storage"
)

// handlerFunc is a single catalogue entry. printerLabel has already been
// resolved from args["printer_name"] (or the dispatcher's default) before
// the handler runs.
type handlerFunc func(ctx context.Context, d *Dispatcher, printerLabel string, args map[string]any) map[string]any

// Dispatcher wires the tool catalogue to the components that actually do
// the work: the adapter registry, the Safety Gate, the Fleet Orchestrator,
// the Health Monitor, and the Recovery Planner. It holds no mutable state
// of its own.
type Dispatcher struct {
	registry       *adapter.Registry
	gate           *safety.Gate
	store          storage.Store
	bus            *events.Broker
	orch           *orchestrator.Orchestrator
	monitor        *health.Monitor
	planner        *recovery.Planner
	defaultPrinter string

	catalogue map[string]handlerFunc
}

// New builds a Dispatcher over its component dependencies and registers
// the full tool catalogue. defaultPrinter is used for tool calls that omit
// an explicit printer_name argument.
func New(
	registry *adapter.Registry,
	gate *safety.Gate,
	store storage.Store,
	bus *events.Broker,
	orch *orchestrator.Orchestrator,
	monitor *health.Monitor,
	planner *recovery.Planner,
	defaultPrinter string,
) *Dispatcher {
	d := &Dispatcher{
		registry:       registry,
		gate:           gate,
		store:          store,
		bus:            bus,
		orch:           orch,
		monitor:        monitor,
		planner:        planner,
		defaultPrinter: defaultPrinter,
	}
	d.catalogue = buildCatalogue()
	return d
}

// Tools returns the names of every registered tool, for introspection by
// a wire transport building its own listing.
func (d *Dispatcher) Tools() []string {
	names := make([]string, 0, len(d.catalogue))
	for name := range d.catalogue {
		names = append(names, name)
	}
	return names
}

// Invoke runs one tool call through the Safety Gate and, if clear,
// through its handler. It never performs hardware I/O itself.
func (d *Dispatcher) Invoke(ctx context.Context, authToken, toolName string, args map[string]any) map[string]any {
	if toolName == "confirm_action" {
		return d.invokeConfirm(ctx, args)
	}

	handler, ok := d.catalogue[toolName]
	if !ok {
		metrics.ToolCallsTotal.WithLabelValues(toolName, "unknown_tool").Inc()
		return errResult("UNKNOWN_TOOL", fmt.Sprintf("no such tool %q", toolName))
	}

	printerLabel := argString(args, "printer_name", d.defaultPrinter)

	timer := metrics.NewTimer()
	result := d.runGated(ctx, toolName, authToken, printerLabel, args, handler)
	timer.ObserveDurationVec(metrics.ToolCallDuration, toolName)
	return result
}

func (d *Dispatcher) runGated(ctx context.Context, toolName, authToken, printerLabel string, args map[string]any, handler handlerFunc) map[string]any {
	check, err := d.gate.Check(toolName, authToken, printerLabel, args)
	if err != nil {
		metrics.ToolCallsTotal.WithLabelValues(toolName, "blocked").Inc()
		return gateErrorResult(err)
	}
	if check.ConfirmRequired {
		metrics.ToolCallsTotal.WithLabelValues(toolName, "confirm_required").Inc()
		return okResult(map[string]any{
			"confirmation_required": true,
			"confirmation_token":    check.ConfirmToken,
		})
	}

	result := handler(ctx, d, printerLabel, args)
	metrics.ToolCallsTotal.WithLabelValues(toolName, "executed").Inc()
	return result
}

// invokeConfirm redeems a confirmation token and executes the original
// call exactly once, bypassing the gate a second time since Check already
// ran when the token was minted.
func (d *Dispatcher) invokeConfirm(ctx context.Context, args map[string]any) map[string]any {
	token := argString(args, "token", "")
	tool, origArgs, err := d.gate.ConfirmAction(token)
	if err != nil {
		metrics.ToolCallsTotal.WithLabelValues("confirm_action", "invalid_token").Inc()
		return gateErrorResult(err)
	}

	handler, ok := d.catalogue[tool]
	if !ok {
		return errResult("UNKNOWN_TOOL", fmt.Sprintf("no such tool %q", tool))
	}
	printerLabel := argString(origArgs, "printer_name", d.defaultPrinter)
	result := handler(ctx, d, printerLabel, origArgs)
	metrics.ToolCallsTotal.WithLabelValues("confirm_action", "executed").Inc()
	log.WithComponent("dispatcher").Info().Msg(fmt.Sprintf("confirmed and executed %s", tool))
	return result
}

func gateErrorResult(err error) map[string]any {
	gerr, ok := err.(*safety.GateError)
	if !ok {
		return errResult("INTERNAL_ERROR", err.Error())
	}
	out := errResult(string(gerr.Code), gerr.Message)
	out["retryable"] = gerr.Retryable
	if len(gerr.BlockedCommands) > 0 {
		out["blocked_commands"] = gerr.BlockedCommands
	}
	if len(gerr.Warnings) > 0 {
		out["warnings"] = gerr.Warnings
	}
	return out
}
