// Package dispatcher implements the Tool Dispatcher: the agent-facing
// catalogue of printer control, fleet, queue, health, recovery, and safety
// operations. Every tool is a pure function from (ctx, args) to a result
// map; the dispatcher imposes the Safety Gate on every tool above the
// "safe" classification, publishes lifecycle events through components it
// delegates to, and never performs hardware I/O itself — all mutation
// goes through a PrinterAdapter or the Fleet Orchestrator.
package dispatcher
