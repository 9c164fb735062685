package journal

// ============================================================================
// Journal Error Definitions
// ============================================================================

import (
	"errors"
	"fmt"
)

var (
	// ErrCorruptedJournal indicates an entry could not be decoded.
	ErrCorruptedJournal = errors.New("journal: file is corrupted")

	// ErrTornTail indicates the final record was cut short by an interrupted
	// write. It wraps ErrCorruptedJournal.
	ErrTornTail = fmt.Errorf("%w: torn final record", ErrCorruptedJournal)

	// ErrChecksumMismatch indicates an entry's checksum does not match its fields.
	ErrChecksumMismatch = errors.New("journal: checksum mismatch")

	// ErrEmptyJournal indicates the journal holds no entries.
	ErrEmptyJournal = errors.New("journal: file is empty")

	// ErrJournalClosed indicates an operation on a closed journal.
	ErrJournalClosed = errors.New("journal: already closed")

	// ErrUnknownRun indicates no entry carries the requested run ID.
	ErrUnknownRun = errors.New("journal: unknown run")
)

// ChecksumError reports a checksum mismatch on a specific entry.
type ChecksumError struct {
	Seq      uint64
	Expected uint32
	Actual   uint32
}

func (e *ChecksumError) Error() string {
	return fmt.Sprintf("journal: checksum mismatch at seq=%d (expected=0x%08x, got=0x%08x)", e.Seq, e.Expected, e.Actual)
}

// Is lets errors.Is match ErrChecksumMismatch.
func (e *ChecksumError) Is(target error) bool {
	return target == ErrChecksumMismatch
}

// CorruptionError reports where in the file decoding or sequencing broke.
type CorruptionError struct {
	Seq    uint64 // last good sequence number, if any
	Offset int64  // byte offset of the bad entry
	Cause  error
}

func (e *CorruptionError) Error() string {
	return fmt.Sprintf("journal: corrupted after seq=%d at offset %d: %v", e.Seq, e.Offset, e.Cause)
}

func (e *CorruptionError) Unwrap() error {
	return e.Cause
}
