package safety

import (
	"time"

	"github.com/codeofaxel/kiln/pkg/log"
	"github.com/codeofaxel/kiln/pkg/types"
)

// audit appends a best-effort AuditEntry for a terminal outcome. A
// storage failure here is logged and swallowed — it must never abort
// the gated operation.
func (g *Gate) audit(tool, printerLabel, action string, details map[string]any) {
	entry := &types.AuditEntry{
		Timestamp:   time.Now(),
		ToolName:    tool,
		SafetyLevel: string(g.ClassificationFor(tool)),
		Action:      action,
		PrinterID:   printerLabel,
		Details:     details,
	}
	if g.store == nil {
		return
	}
	if err := g.store.AppendAudit(entry); err != nil {
		log.WithComponent("safety").Warn().Msg("audit write failed: " + err.Error())
	}
}

// AuditHistory returns the most recent audit entries, newest first.
func (g *Gate) AuditHistory(limit int) ([]*types.AuditEntry, error) {
	if g.store == nil {
		return nil, nil
	}
	return g.store.ListAudit(limit)
}
