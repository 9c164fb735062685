package cli

import (
	"bytes"
	"context"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/ChuLiYu/sheetflow/internal/executor"
	"github.com/ChuLiYu/sheetflow/internal/journal"
	"github.com/ChuLiYu/sheetflow/internal/server"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// run executes the CLI with args and returns stdout.
func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := BuildCLI()
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func csvTable(rows, cols int) string {
	var sb strings.Builder
	for r := 0; r < rows; r++ {
		for c := 0; c < cols; c++ {
			if c > 0 {
				sb.WriteByte(',')
			}
			sb.WriteString("v")
			sb.WriteString(strings.Repeat("x", r%3))
		}
		sb.WriteByte('\n')
	}
	return sb.String()
}

func testConfig(t *testing.T, dir string, extra string) string {
	t.Helper()
	return writeFile(t, dir, "config.yaml", `
executor:
  concurrency: 3
  shutdown_timeout: 2s
planner:
  cells_per_request: 30
  requests_per_batch: 4
journal:
  path: `+filepath.Join(dir, "journal.log")+`
simulate:
  latency: 0s
  jitter: 0s
  seed: 11
log:
  level: warn
`+extra)
}

// ============================================================================
// Command tree
// ============================================================================

func TestBuildCLI(t *testing.T) {
	cmd := BuildCLI()

	assert.Equal(t, "sheetflow", cmd.Use)
	assert.Equal(t, "1.0.0", cmd.Version)

	names := make(map[string]bool)
	for _, c := range cmd.Commands() {
		names[c.Use] = true
	}
	assert.True(t, names["plan"], "Should have 'plan' command")
	assert.True(t, names["write"], "Should have 'write' command")
	assert.True(t, names["journal"], "Should have 'journal' command")
	assert.True(t, names["probe"], "Should have 'probe' command")

	configFlag := cmd.PersistentFlags().Lookup("config")
	require.NotNil(t, configFlag)
	assert.Equal(t, "c", configFlag.Shorthand)
	assert.Equal(t, "configs/default.yaml", configFlag.DefValue)
}

func TestFileFlagIsRequired(t *testing.T) {
	_, err := run(t, "plan")
	assert.Error(t, err)

	_, err = run(t, "write")
	assert.Error(t, err)
}

// ============================================================================
// Config
// ============================================================================

func TestLoadConfig_ValidYAML(t *testing.T) {
	dir := t.TempDir()
	path := testConfig(t, dir, "metrics:\n  enabled: true\n  port: 9191\n")

	cfg, err := loadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, 3, cfg.Executor.Concurrency)
	assert.Equal(t, 2*time.Second, cfg.Executor.ShutdownTimeout)
	assert.Equal(t, 30, cfg.Planner.CellsPerRequest)
	assert.Equal(t, 4, cfg.Planner.RequestsPerBatch)
	assert.True(t, cfg.Metrics.Enabled)
	assert.Equal(t, 9191, cfg.Metrics.Port)
	assert.Equal(t, int64(11), cfg.Simulate.Seed)
	assert.Equal(t, "warn", cfg.Log.Level)

	// untouched sections keep their defaults
	assert.Equal(t, 50051, cfg.Health.Port)
	assert.Equal(t, "text", cfg.Log.Format)
}

func TestLoadConfig_FileNotFound(t *testing.T) {
	cfg, err := loadConfig("/nonexistent/config.yaml")
	assert.Error(t, err)
	assert.ErrorIs(t, err, os.ErrNotExist)
	assert.Nil(t, cfg)
}

func TestLoadConfig_InvalidYAML(t *testing.T) {
	path := writeFile(t, t.TempDir(), "bad.yaml", "executor:\n  concurrency: [1, 2\n")

	cfg, err := loadConfig(path)
	assert.Error(t, err)
	assert.Nil(t, cfg)
}

func TestLoadConfig_EmptyFileUsesDefaults(t *testing.T) {
	path := writeFile(t, t.TempDir(), "empty.yaml", "")

	cfg, err := loadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
}

func TestConfigValidate(t *testing.T) {
	assert.NoError(t, DefaultConfig().Validate())

	cfg := DefaultConfig()
	cfg.Executor.Concurrency = 0
	cfg.Planner.CellsPerRequest = -1
	cfg.Simulate.FailureRate = 2
	cfg.Log.Level = "loud"
	cfg.Log.Format = "xml"

	err := cfg.Validate()
	require.Error(t, err)
	for _, want := range []string{"executor.concurrency", "planner.cells_per_request", "failure_rate", "log.level", "log.format"} {
		assert.Contains(t, err.Error(), want)
	}
}

func TestNewLogger(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Log.Format = "json"
	cfg.Log.Level = "debug"

	var buf bytes.Buffer
	newLogger(cfg, &buf).Debug("hello", "k", 1)
	assert.Contains(t, buf.String(), `"msg":"hello"`)

	buf.Reset()
	cfg.Log.Format = "text"
	cfg.Log.Level = "error"
	newLogger(cfg, &buf).Warn("dropped")
	assert.Empty(t, buf.String())
}

// ============================================================================
// Table input
// ============================================================================

func TestReadTable(t *testing.T) {
	path := writeFile(t, t.TempDir(), "t.csv", "a,b,c\nd\n\"e,f\",g\n")

	rows, err := readTable(path, nil)
	require.NoError(t, err)
	assert.Equal(t, [][]any{{"a", "b", "c"}, {"d"}, {"e,f", "g"}}, rows)

	rows, err = readTable("-", strings.NewReader("x,y\n"))
	require.NoError(t, err)
	assert.Equal(t, [][]any{{"x", "y"}}, rows)

	_, err = readTable(filepath.Join(t.TempDir(), "missing.csv"), nil)
	assert.Error(t, err)

	_, err = readTable("-", strings.NewReader("\"unterminated\n"))
	assert.Error(t, err)
}

// ============================================================================
// plan / write / journal
// ============================================================================

func TestPlanCommand(t *testing.T) {
	dir := t.TempDir()
	cfgPath := testConfig(t, dir, "")
	table := writeFile(t, dir, "t.csv", csvTable(100, 3))

	out, err := run(t, "plan", "-c", cfgPath, "-f", table)
	require.NoError(t, err)

	assert.Contains(t, out, "Plan: 100 rows x 3 cols, 10 rows/request, 4 batches, 12 requests")
	assert.Contains(t, out, "batch 0: resize 100x3, update rows 0-0")
	assert.Contains(t, out, "batch 3: update rows 81-90, update rows 91-99")
}

func TestPlanCommandOverridesAndEmptyTable(t *testing.T) {
	dir := t.TempDir()
	cfgPath := testConfig(t, dir, "")

	out, err := run(t, "plan", "-c", cfgPath, "-f", writeFile(t, dir, "t.csv", csvTable(5, 2)), "--cells", "4", "--requests", "1")
	require.NoError(t, err)
	assert.Contains(t, out, "2 rows/request, 3 batches, 4 requests")

	out, err = run(t, "plan", "-c", cfgPath, "-f", writeFile(t, dir, "empty.csv", ""))
	require.NoError(t, err)
	assert.Contains(t, out, "empty table")
}

func TestWriteAndJournalCommands(t *testing.T) {
	dir := t.TempDir()
	cfgPath := testConfig(t, dir, "")
	table := writeFile(t, dir, "t.csv", csvTable(40, 3))

	out, err := run(t, "write", "-c", cfgPath, "-f", table)
	require.NoError(t, err)
	assert.Contains(t, out, "ok")

	journalPath := filepath.Join(dir, "journal.log")
	runs, err := journal.Runs(journalPath)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	okRun := runs[0]
	assert.Contains(t, out, okRun)

	// 40x3 at 10 rows/request: [resize,row0] [4 updates]; request #5 is in batch 1
	_, err = run(t, "write", "-c", cfgPath, "-f", table, "--fail-at", "5", "--concurrency", "1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "stopped at batch 1 of 2")

	runs, err = journal.Runs(journalPath)
	require.NoError(t, err)
	require.Len(t, runs, 2)

	out, err = run(t, "journal", "-c", cfgPath, "--run", okRun)
	require.NoError(t, err)
	assert.Contains(t, out, "completed, 2/2 batches succeeded")

	out, err = run(t, "journal", "-c", cfgPath, "--run", runs[1])
	require.NoError(t, err)
	assert.Contains(t, out, "stopped at batch 1, 1/2 batches succeeded")

	out, err = run(t, "journal", "-c", cfgPath)
	require.NoError(t, err)
	assert.Contains(t, out, "plan_failed")

	out, err = run(t, "journal", "--path", journalPath, "--validate")
	require.NoError(t, err)
	assert.Contains(t, out, ": ok")

	_, err = run(t, "journal", "-c", cfgPath, "--run", "no-such-run")
	assert.ErrorIs(t, err, journal.ErrUnknownRun)
}

func TestWriteRejectsInvalidOverride(t *testing.T) {
	dir := t.TempDir()
	cfgPath := testConfig(t, dir, "")

	_, err := run(t, "write", "-c", cfgPath, "-f", writeFile(t, dir, "t.csv", "a\n"), "--concurrency", "0")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "executor.concurrency")
}

// ============================================================================
// probe
// ============================================================================

func TestProbeCommand(t *testing.T) {
	e, err := executor.New(1)
	require.NoError(t, err)

	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	srv := server.New(e)
	go srv.Serve(lis)
	defer srv.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go srv.Watch(ctx)

	out, err := run(t, "probe", "--addr", lis.Addr().String())
	require.NoError(t, err)
	assert.Contains(t, out, "SERVING")

	e.Close(time.Second)

	assert.Eventually(t, func() bool {
		_, err := run(t, "probe", "--addr", lis.Addr().String())
		return err != nil && strings.Contains(err.Error(), "NOT_SERVING")
	}, 2*time.Second, 20*time.Millisecond)
}
