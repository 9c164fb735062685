package journal

// ============================================================================
// Journal utilities
// Read-only helpers over a journal file: scanning, progress, diagnostics
// ============================================================================

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/ChuLiYu/sheetflow/internal/batch"
)

// scan decodes every entry in path and calls fn with the entry and its byte
// offset. A record that fails to decode on the last line of the file is a
// torn write: scanning stops there and tail holds the offset where that line
// starts. tail is -1 when the file ends cleanly. Any other decode failure is
// a *CorruptionError wrapping ErrCorruptedJournal.
func scan(path string, fn func(e Entry, offset int64) error) (tail int64, err error) {
	f, err := os.Open(path)
	if err != nil {
		return -1, err
	}
	defer f.Close()

	dec := json.NewDecoder(f)
	var lastSeq uint64
	for dec.More() {
		offset := dec.InputOffset()
		var e Entry
		if err := dec.Decode(&e); err != nil {
			start, torn, terr := tornTail(f, offset)
			if terr != nil {
				return -1, terr
			}
			if torn {
				return start, nil
			}
			return -1, &CorruptionError{
				Seq:    lastSeq,
				Offset: offset,
				Cause:  fmt.Errorf("%w: %v", ErrCorruptedJournal, err),
			}
		}
		if err := fn(e, offset); err != nil {
			return -1, err
		}
		lastSeq = e.Seq
	}
	return -1, nil
}

// tornTail reports whether the bytes from offset to the end of f form a
// single line, and the offset where that line starts.
func tornTail(f *os.File, offset int64) (int64, bool, error) {
	info, err := f.Stat()
	if err != nil {
		return -1, false, err
	}
	rest := make([]byte, info.Size()-offset)
	if _, err := f.ReadAt(rest, offset); err != nil && !errors.Is(err, io.EOF) {
		return -1, false, err
	}

	line := bytes.TrimLeft(rest, " \t\r\n")
	start := offset + int64(len(rest)-len(line))
	nl := bytes.IndexByte(line, '\n')
	return start, nl == -1 || nl == len(line)-1, nil
}

// lastEntry returns the final complete entry of path, or ErrEmptyJournal,
// along with the offset of a torn tail (-1 if none).
func lastEntry(path string) (Entry, int64, error) {
	var last Entry
	n := 0
	tail, err := scan(path, func(e Entry, _ int64) error {
		last = e
		n++
		return nil
	})
	if err != nil {
		return Entry{}, -1, err
	}
	if n == 0 {
		return Entry{}, tail, ErrEmptyJournal
	}
	return last, tail, nil
}

// ReadAll returns every entry in path after verifying checksums. A torn
// final record is left out.
func ReadAll(path string) ([]Entry, error) {
	var out []Entry
	_, err := scan(path, func(e Entry, _ int64) error {
		if err := Verify(e); err != nil {
			return err
		}
		out = append(out, e)
		return nil
	})
	return out, err
}

// Runs lists the run IDs in path in order of first appearance.
func Runs(path string) ([]string, error) {
	entries, err := ReadAll(path)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]bool)
	var runs []string
	for _, e := range entries {
		if !seen[e.RunID] {
			seen[e.RunID] = true
			runs = append(runs, e.RunID)
		}
	}
	return runs, nil
}

// RunProgress reports how far runID got. It returns ErrUnknownRun if the
// journal has no entry for it.
func RunProgress(path, runID string) (Progress, error) {
	entries, err := ReadAll(path)
	if err != nil {
		return Progress{}, err
	}

	p := Progress{RunID: runID, FailedBatch: -1}
	found := false
	for _, e := range entries {
		if e.RunID != runID {
			continue
		}
		found = true
		p.LastSeq = e.Seq
		p.Total = e.Total

		switch e.Type {
		case batch.EventBatchSucceeded:
			p.Succeeded++
		case batch.EventBatchFailed:
			p.FailedBatch = e.Batch
		case batch.EventPlanSucceeded:
			p.Completed = true
		case batch.EventPlanFailed:
			p.Stopped = true
		}
	}
	if !found {
		return Progress{}, fmt.Errorf("%w: %s", ErrUnknownRun, runID)
	}
	return p, nil
}

// Validate checks that every entry decodes, carries a correct checksum, and
// that sequence numbers are contiguous. An empty file yields ErrEmptyJournal
// and a torn final record ErrTornTail.
func Validate(path string) error {
	var prev uint64
	n := 0
	tail, err := scan(path, func(e Entry, offset int64) error {
		if err := Verify(e); err != nil {
			return &CorruptionError{Seq: prev, Offset: offset, Cause: err}
		}
		if n > 0 && e.Seq != prev+1 {
			return &CorruptionError{
				Seq:    prev,
				Offset: offset,
				Cause:  fmt.Errorf("%w: expected seq=%d, got %d", ErrCorruptedJournal, prev+1, e.Seq),
			}
		}
		prev = e.Seq
		n++
		return nil
	})
	if err != nil {
		return err
	}
	if tail >= 0 {
		return &CorruptionError{Seq: prev, Offset: tail, Cause: ErrTornTail}
	}
	if n == 0 {
		return ErrEmptyJournal
	}
	return nil
}

// Dump writes a human-readable line per entry to w. Entries with a bad
// checksum are marked rather than skipped, and a torn final record is noted
// last.
func Dump(path string, w io.Writer) error {
	tail, err := scan(path, func(e Entry, _ int64) error {
		mark := ""
		var ce *ChecksumError
		if err := Verify(e); errors.As(err, &ce) {
			mark = fmt.Sprintf(" !! checksum 0x%08x, want 0x%08x", ce.Actual, ce.Expected)
		}

		at := time.UnixMilli(e.Timestamp).UTC().Format(time.RFC3339Nano)
		line := fmt.Sprintf("[seq:%d] %s %-15s batch=%d/%d size=%d", e.Seq, e.RunID, e.Type, e.Batch, e.Total, e.Size)
		if e.Failed > 0 {
			line += fmt.Sprintf(" failed=%d", e.Failed)
		}
		if e.Error != "" {
			line += fmt.Sprintf(" error=%q", e.Error)
		}
		_, err := fmt.Fprintf(w, "%s at %s%s\n", line, at, mark)
		return err
	})
	if err != nil || tail < 0 {
		return err
	}
	_, err = fmt.Fprintf(w, "!! torn record at offset %d\n", tail)
	return err
}
