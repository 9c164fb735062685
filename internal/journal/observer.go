package journal

import "github.com/ChuLiYu/sheetflow/internal/batch"

// Observer returns a batch.Observer that records every sequencer event of
// one run. Append failures are logged and otherwise ignored.
func (j *Journal) Observer(runID string) batch.Observer {
	return batch.ObserverFunc(func(ev batch.Event) {
		e := Entry{
			RunID:  runID,
			Type:   ev.Kind,
			Batch:  ev.Index,
			Total:  ev.Total,
			Size:   ev.Size,
			Failed: ev.Failed,
		}
		if ev.Err != nil {
			e.Error = ev.Err.Error()
		}
		if _, err := j.Append(e); err != nil {
			log.Error("Failed to journal event", "run_id", runID, "event", ev.Kind, "error", err)
		}
	})
}
