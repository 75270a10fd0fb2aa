/*
Package adapter implements the Printer Adapter Protocol: a single
PrinterAdapter interface normalizing five backend protocols behind one
surface — USB/serial (Marlin/RepRap G-code over a tty), OctoPrint and
PrusaConnect (REST over net/http), Moonraker/Klipper (JSON-RPC over a
websocket), and Bambu Lab (MQTT control plane, FTPS file transfer).

Registry binds adapter instances to printer labels; callers resolve a
label through it rather than holding adapter references directly, so the
same registry can back the Fleet Orchestrator, the Safety Gate, and the
Health Monitor without any of them constructing adapters themselves.

Every adapter loads a SafetyProfile (ProfileForModel) at construction and
consults its hotend/bed ceilings before any temperature-setting call — this
is a backstop beneath the Safety Gate, not a replacement for it.

Discover runs a best-effort, bounded-timeout LAN probe across the three
network-reachable backend types. It never registers what it finds; that
decision belongs to the caller.
*/
package adapter
