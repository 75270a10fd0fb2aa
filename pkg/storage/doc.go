/*
Package storage provides BoltDB-backed persistence for Kiln's Job Store:
jobs, printer records, checkpoints, and the audit trail.

The storage package implements the Store interface using bbolt, giving
ACID transactions over an embedded, single-file database with zero
external dependencies or running server. Each entity kind gets its own
bucket; records are serialized as JSON keyed by their natural ID (job ID,
printer label, checkpoint ID). Audit entries are keyed by
`<unix_nanos>/<uuid>` so a bucket cursor walk yields chronological
order without a secondary index, and two entries with the same timestamp
never share a key.

# Upsert Pattern

CreateJob/CreatePrinter/CreateCheckpoint overwrite any existing record at
the same key; UpdateJob/UpdatePrinter are plain aliases for their Create
counterpart.

# Audit Retrieval

ListAudit(limit) walks the bucket cursor from the last key backwards,
since the lexicographic key order equals chronological order — this
returns newest-first without needing to load and sort the full bucket.
*/
package storage
