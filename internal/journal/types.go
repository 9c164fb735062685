package journal

import "github.com/ChuLiYu/sheetflow/internal/batch"

// ============================================================================
// Journal Type Definitions
// Responsibility: Define the on-disk record of plan progress
// ============================================================================

// Entry is one journal record. Each sequencer boundary event of a run becomes
// one entry, written as a single JSON line.
type Entry struct {
	Seq       uint64          `json:"seq"`              // Monotonically increasing across the file
	RunID     string          `json:"run_id"`           // Overwrite operation the entry belongs to
	Type      batch.EventKind `json:"type"`             // Boundary kind
	Batch     int             `json:"batch"`            // Batch index; -1 for plan-level entries
	Total     int             `json:"total"`            // Batches in the plan
	Size      int             `json:"size"`             // Requests in the batch (or plan)
	Failed    int             `json:"failed,omitempty"` // Failed requests on batch_failed
	Error     string          `json:"error,omitempty"`  // First failure message
	Timestamp int64           `json:"timestamp"`        // Unix milliseconds
	Checksum  uint32          `json:"checksum"`         // CRC32 over the identity fields
}

// Terminal reports whether the entry closes its run.
func (e Entry) Terminal() bool {
	return e.Type == batch.EventPlanSucceeded || e.Type == batch.EventPlanFailed
}

// Boundary reports whether the entry marks a batch or run outcome. Boundary
// entries are flushed as soon as they are appended.
func (e Entry) Boundary() bool {
	switch e.Type {
	case batch.EventBatchSucceeded, batch.EventBatchFailed:
		return true
	}
	return e.Terminal()
}

// Handler is called once per entry during Replay. Returning an error stops
// the replay.
type Handler func(Entry) error

// Progress summarizes how far one run got.
type Progress struct {
	RunID       string
	Total       int  // batches in the plan
	Succeeded   int  // batches that completed successfully
	FailedBatch int  // index of the failed batch, or -1
	Completed   bool // plan_succeeded was recorded
	Stopped     bool // plan_failed was recorded
	LastSeq     uint64
}

// Finished reports whether the run reached a terminal entry.
func (p Progress) Finished() bool {
	return p.Completed || p.Stopped
}
