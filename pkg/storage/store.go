package storage

import (
	"github.com/codeofaxel/kiln/pkg/types"
)

// Store defines the interface for Kiln's persisted state: jobs, printer
// records, checkpoints, and the audit trail. Implemented by BoltStore.
type Store interface {
	// Jobs
	CreateJob(job *types.Job) error
	GetJob(id string) (*types.Job, error)
	ListJobs() ([]*types.Job, error)
	UpdateJob(job *types.Job) error
	DeleteJob(id string) error

	// Printers
	CreatePrinter(printer *types.PrinterRecord) error
	GetPrinter(label string) (*types.PrinterRecord, error)
	ListPrinters() ([]*types.PrinterRecord, error)
	UpdatePrinter(printer *types.PrinterRecord) error
	DeletePrinter(label string) error

	// Checkpoints
	CreateCheckpoint(cp *types.Checkpoint) error
	GetCheckpoint(id string) (*types.Checkpoint, error)
	ListCheckpointsByJob(jobID string) ([]*types.Checkpoint, error)
	DeleteCheckpoint(id string) error

	// Audit
	AppendAudit(entry *types.AuditEntry) error
	ListAudit(limit int) ([]*types.AuditEntry, error)

	// Utility
	Close() error
}
