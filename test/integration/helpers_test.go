package integration

import (
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/ChuLiYu/sheetflow/internal/executor"
	"github.com/ChuLiYu/sheetflow/internal/journal"
	"github.com/ChuLiYu/sheetflow/internal/metrics"
	"github.com/ChuLiYu/sheetflow/internal/simulate"
	"github.com/ChuLiYu/sheetflow/internal/writer"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
)

func generateTable(rows, cols int) [][]any {
	t := make([][]any, rows)
	for r := range t {
		t[r] = make([]any, cols)
		for c := range t[r] {
			t[r][c] = fmt.Sprintf("R%dC%d", r, c)
		}
	}
	return t
}

// stack is one fully wired overwrite pipeline.
type stack struct {
	exec      *executor.Executor
	remote    *simulate.Remote
	journal   *journal.Journal
	collector *metrics.Collector
	registry  *prometheus.Registry
	writer    *writer.Writer
}

func newStack(t testing.TB, limit int, sim simulate.Config, cfg writer.Config) *stack {
	t.Helper()

	reg := prometheus.NewRegistry()
	collector := metrics.NewCollector(reg)

	exec, err := executor.New(limit, executor.WithRecorder(collector))
	require.NoError(t, err)
	t.Cleanup(func() { exec.Close(5 * time.Second) })

	j, err := journal.Open(filepath.Join(t.TempDir(), "journal.log"), false)
	require.NoError(t, err)
	t.Cleanup(func() { j.Close() })

	remote := simulate.New(sim)
	w, err := writer.New(exec, remote, cfg, writer.WithJournal(j), writer.WithObserver(collector))
	require.NoError(t, err)

	return &stack{
		exec:      exec,
		remote:    remote,
		journal:   j,
		collector: collector,
		registry:  reg,
		writer:    w,
	}
}
