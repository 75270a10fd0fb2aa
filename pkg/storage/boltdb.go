package storage

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"sort"

	"github.com/codeofaxel/kiln/pkg/types"
	"github.com/google/uuid"
	bolt "go.etcd.io/bbolt"
)

var (
	// Bucket names
	bucketJobs        = []byte("jobs")
	bucketPrinters    = []byte("printers")
	bucketCheckpoints = []byte("checkpoints")
	bucketAudit       = []byte("audit_entries")
)

// BoltStore implements Store using an embedded BoltDB file.
type BoltStore struct {
	db *bolt.DB
}

// NewBoltStore creates a new BoltDB-backed store rooted at dataDir.
func NewBoltStore(dataDir string) (*BoltStore, error) {
	dbPath := filepath.Join(dataDir, "kiln.db")

	db, err := bolt.Open(dbPath, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		buckets := [][]byte{bucketJobs, bucketPrinters, bucketCheckpoints, bucketAudit}
		for _, bucket := range buckets {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", bucket, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &BoltStore{db: db}, nil
}

// Close closes the database.
func (s *BoltStore) Close() error {
	return s.db.Close()
}

// Job operations

func (s *BoltStore) CreateJob(job *types.Job) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketJobs)
		data, err := json.Marshal(job)
		if err != nil {
			return err
		}
		return b.Put([]byte(job.ID), data)
	})
}

func (s *BoltStore) GetJob(id string) (*types.Job, error) {
	var job types.Job
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketJobs)
		data := b.Get([]byte(id))
		if data == nil {
			return fmt.Errorf("job not found: %s", id)
		}
		return json.Unmarshal(data, &job)
	})
	if err != nil {
		return nil, err
	}
	return &job, nil
}

func (s *BoltStore) ListJobs() ([]*types.Job, error) {
	var jobs []*types.Job
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketJobs)
		return b.ForEach(func(k, v []byte) error {
			var job types.Job
			if err := json.Unmarshal(v, &job); err != nil {
				return err
			}
			jobs = append(jobs, &job)
			return nil
		})
	})
	return jobs, err
}

func (s *BoltStore) UpdateJob(job *types.Job) error {
	return s.CreateJob(job) // upsert
}

func (s *BoltStore) DeleteJob(id string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketJobs)
		return b.Delete([]byte(id))
	})
}

// Printer operations

func (s *BoltStore) CreatePrinter(printer *types.PrinterRecord) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketPrinters)
		data, err := json.Marshal(printer)
		if err != nil {
			return err
		}
		return b.Put([]byte(printer.Label), data)
	})
}

func (s *BoltStore) GetPrinter(label string) (*types.PrinterRecord, error) {
	var printer types.PrinterRecord
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketPrinters)
		data := b.Get([]byte(label))
		if data == nil {
			return fmt.Errorf("printer not found: %s", label)
		}
		return json.Unmarshal(data, &printer)
	})
	if err != nil {
		return nil, err
	}
	return &printer, nil
}

func (s *BoltStore) ListPrinters() ([]*types.PrinterRecord, error) {
	var printers []*types.PrinterRecord
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketPrinters)
		return b.ForEach(func(k, v []byte) error {
			var printer types.PrinterRecord
			if err := json.Unmarshal(v, &printer); err != nil {
				return err
			}
			printers = append(printers, &printer)
			return nil
		})
	})
	return printers, err
}

func (s *BoltStore) UpdatePrinter(printer *types.PrinterRecord) error {
	return s.CreatePrinter(printer) // upsert
}

func (s *BoltStore) DeletePrinter(label string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketPrinters)
		return b.Delete([]byte(label))
	})
}

// Checkpoint operations

func (s *BoltStore) CreateCheckpoint(cp *types.Checkpoint) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketCheckpoints)
		data, err := json.Marshal(cp)
		if err != nil {
			return err
		}
		return b.Put([]byte(cp.ID), data)
	})
}

func (s *BoltStore) GetCheckpoint(id string) (*types.Checkpoint, error) {
	var cp types.Checkpoint
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketCheckpoints)
		data := b.Get([]byte(id))
		if data == nil {
			return fmt.Errorf("checkpoint not found: %s", id)
		}
		return json.Unmarshal(data, &cp)
	})
	if err != nil {
		return nil, err
	}
	return &cp, nil
}

func (s *BoltStore) ListCheckpointsByJob(jobID string) ([]*types.Checkpoint, error) {
	var checkpoints []*types.Checkpoint
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketCheckpoints)
		return b.ForEach(func(k, v []byte) error {
			var cp types.Checkpoint
			if err := json.Unmarshal(v, &cp); err != nil {
				return err
			}
			if cp.JobID == jobID {
				checkpoints = append(checkpoints, &cp)
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(checkpoints, func(i, j int) bool {
		return checkpoints[i].CapturedAt.Before(checkpoints[j].CapturedAt)
	})
	return checkpoints, nil
}

func (s *BoltStore) DeleteCheckpoint(id string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketCheckpoints)
		return b.Delete([]byte(id))
	})
}

// Audit operations. Entries are keyed by zero-padded <unix_nanos>/<uuid>,
// so keys sort chronologically and two entries with the same timestamp
// never share a key.

func (s *BoltStore) AppendAudit(entry *types.AuditEntry) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketAudit)
		key := auditKey(entry)
		data, err := json.Marshal(entry)
		if err != nil {
			return err
		}
		return b.Put(key, data)
	})
}

func (s *BoltStore) ListAudit(limit int) ([]*types.AuditEntry, error) {
	var entries []*types.AuditEntry
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketAudit)
		c := b.Cursor()
		// Keys are chronologically sortable, so walk newest-first from the end.
		for k, v := c.Last(); k != nil; k, v = c.Prev() {
			var entry types.AuditEntry
			if err := json.Unmarshal(v, &entry); err != nil {
				return err
			}
			entries = append(entries, &entry)
			if limit > 0 && len(entries) >= limit {
				break
			}
		}
		return nil
	})
	return entries, err
}

func auditKey(entry *types.AuditEntry) []byte {
	return []byte(fmt.Sprintf("%020d/%s", entry.Timestamp.UnixNano(), uuid.New().String()))
}
