// Package journal records plan progress in an append-only JSON-lines file so
// an operator can tell, after a crash or a failed overwrite, how far each run
// got.
package journal

// ============================================================================
// Journal core
// Responsibilities:
// 1. Append sequencer events to the log (append-only)
// 2. Replay entries with checksum verification
// 3. Continue numbering across reopen
// ============================================================================

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"
)

var log = slog.Default()

const defaultBufferSize = 256

// Journal is an open progress log. It is safe for concurrent use.
type Journal struct {
	mu           sync.Mutex
	file         *os.File
	encoder      *json.Encoder
	path         string
	seq          uint64
	syncOnAppend bool
	closed       bool

	buffer        []Entry
	bufferSize    int
	lastFlushTime time.Time
	flushInterval time.Duration
}

// Open creates or opens the journal at path. Numbering continues from the
// last entry already in the file. A torn final record left by an interrupted
// write is truncated away.
func Open(path string, syncOnAppend bool) (*Journal, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("journal: create dir: %w", err)
		}
	}

	var seq uint64
	last, tail, err := lastEntry(path)
	switch {
	case err == nil:
		seq = last.Seq
	case errors.Is(err, os.ErrNotExist), errors.Is(err, ErrEmptyJournal):
	default:
		return nil, err
	}

	if tail >= 0 {
		if err := os.Truncate(path, tail); err != nil {
			return nil, fmt.Errorf("journal: truncate torn record: %w", err)
		}
		log.Warn("Journal had a torn final record, truncated",
			"path", path,
			"offset", tail,
			"last_seq", seq)
	}

	file, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("journal: open %s: %w", path, err)
	}

	return &Journal{
		file:          file,
		encoder:       json.NewEncoder(file),
		path:          path,
		seq:           seq,
		syncOnAppend:  syncOnAppend,
		buffer:        make([]Entry, 0, defaultBufferSize),
		bufferSize:    defaultBufferSize,
		lastFlushTime: time.Now(),
		flushInterval: time.Second,
	}, nil
}

// Path returns the file the journal writes to.
func (j *Journal) Path() string {
	return j.path
}

// Append stamps e with the next sequence number, a timestamp and a checksum,
// and queues it for writing. Boundary entries, a full buffer, an elapsed
// flush interval or syncOnAppend force a flush.
func (j *Journal) Append(e Entry) (Entry, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.closed {
		return Entry{}, ErrJournalClosed
	}

	j.seq++
	e.Seq = j.seq
	e.Timestamp = time.Now().UnixMilli()
	e.Checksum = Checksum(e)

	j.buffer = append(j.buffer, e)

	if j.syncOnAppend || e.Boundary() ||
		len(j.buffer) >= j.bufferSize ||
		time.Since(j.lastFlushTime) > j.flushInterval {
		if err := j.flushLocked(); err != nil {
			return e, err
		}
	}
	return e, nil
}

// Flush writes buffered entries and syncs the file.
func (j *Journal) Flush() error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.closed {
		return ErrJournalClosed
	}
	return j.flushLocked()
}

// Replay flushes pending entries and calls handler for every entry in file
// order. It stops at the first decode error, checksum mismatch or handler
// error.
func (j *Journal) Replay(handler Handler) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.closed {
		return ErrJournalClosed
	}
	if err := j.flushLocked(); err != nil {
		return err
	}
	_, err := scan(j.path, func(e Entry, _ int64) error {
		if err := Verify(e); err != nil {
			return err
		}
		return handler(e)
	})
	return err
}

// LastSeq returns the sequence number of the most recent entry.
func (j *Journal) LastSeq() uint64 {
	if j == nil {
		return 0
	}

	j.mu.Lock()
	defer j.mu.Unlock()
	return j.seq
}

// Close flushes and closes the file. A closed journal cannot be reused;
// closing twice is a no-op.
func (j *Journal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.closed {
		return nil
	}
	j.closed = true

	flushErr := j.flushLocked()
	if err := j.file.Close(); err != nil {
		return fmt.Errorf("journal: close: %w", err)
	}
	return flushErr
}

// flushLocked writes the buffer and syncs. Caller holds j.mu. On a write
// error only the entries not yet written stay buffered.
func (j *Journal) flushLocked() error {
	if len(j.buffer) == 0 {
		return nil
	}
	for i, e := range j.buffer {
		if err := j.encoder.Encode(e); err != nil {
			j.buffer = append(j.buffer[:0], j.buffer[i:]...)
			return fmt.Errorf("journal: write seq=%d: %w", e.Seq, err)
		}
	}
	j.buffer = j.buffer[:0]
	j.lastFlushTime = time.Now()
	if err := j.file.Sync(); err != nil {
		return fmt.Errorf("journal: sync: %w", err)
	}
	return nil
}
