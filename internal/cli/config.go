package cli

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/ChuLiYu/sheetflow/internal/planner"
	"github.com/ChuLiYu/sheetflow/internal/simulate"
	"gopkg.in/yaml.v3"
)

// Config represents the complete system configuration structure
// Maps config file fields through YAML tags
type Config struct {
	Executor struct {
		Concurrency     int           `yaml:"concurrency"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	} `yaml:"executor"`

	Planner struct {
		CellsPerRequest  int `yaml:"cells_per_request"`
		RequestsPerBatch int `yaml:"requests_per_batch"`
	} `yaml:"planner"`

	Journal struct {
		Path         string `yaml:"path"` // empty disables the journal
		SyncOnAppend bool   `yaml:"sync_on_append"`
	} `yaml:"journal"`

	Metrics struct {
		Enabled bool `yaml:"enabled"`
		Port    int  `yaml:"port"`
	} `yaml:"metrics"`

	Health struct {
		Enabled bool `yaml:"enabled"`
		Port    int  `yaml:"port"`
	} `yaml:"health"`

	Simulate simulate.Config `yaml:"simulate"`

	Log struct {
		Level  string `yaml:"level"`  // debug, info, warn, error
		Format string `yaml:"format"` // text or json
	} `yaml:"log"`
}

// DefaultConfig returns the configuration used when no file is present.
func DefaultConfig() *Config {
	cfg := &Config{}
	cfg.Executor.Concurrency = 8
	cfg.Executor.ShutdownTimeout = 10 * time.Second
	cfg.Planner.CellsPerRequest = planner.DefaultCellsPerRequest
	cfg.Planner.RequestsPerBatch = planner.DefaultRequestsPerBatch
	cfg.Journal.Path = "data/journal.log"
	cfg.Metrics.Port = 9090
	cfg.Health.Port = 50051
	cfg.Simulate.Latency = 20 * time.Millisecond
	cfg.Simulate.Jitter = 10 * time.Millisecond
	cfg.Log.Level = "info"
	cfg.Log.Format = "text"
	return cfg
}

// Validate checks every section and reports all problems at once.
func (c *Config) Validate() error {
	var errs []error
	if c.Executor.Concurrency < 1 {
		errs = append(errs, fmt.Errorf("executor.concurrency must be positive, got %d", c.Executor.Concurrency))
	}
	if c.Executor.ShutdownTimeout < 0 {
		errs = append(errs, fmt.Errorf("executor.shutdown_timeout must not be negative, got %s", c.Executor.ShutdownTimeout))
	}
	if c.Planner.CellsPerRequest < 1 {
		errs = append(errs, fmt.Errorf("planner.cells_per_request must be positive, got %d", c.Planner.CellsPerRequest))
	}
	if c.Planner.RequestsPerBatch < 1 {
		errs = append(errs, fmt.Errorf("planner.requests_per_batch must be positive, got %d", c.Planner.RequestsPerBatch))
	}
	if c.Metrics.Enabled && (c.Metrics.Port < 0 || c.Metrics.Port > 65535) {
		errs = append(errs, fmt.Errorf("metrics.port out of range: %d", c.Metrics.Port))
	}
	if c.Health.Enabled && (c.Health.Port < 0 || c.Health.Port > 65535) {
		errs = append(errs, fmt.Errorf("health.port out of range: %d", c.Health.Port))
	}
	if err := c.Simulate.Validate(); err != nil {
		errs = append(errs, err)
	}
	if _, err := parseLevel(c.Log.Level); err != nil {
		errs = append(errs, err)
	}
	switch strings.ToLower(c.Log.Format) {
	case "", "text", "json":
	default:
		errs = append(errs, fmt.Errorf("log.format must be text or json, got %q", c.Log.Format))
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}

// loadConfig reads path over the defaults. Keys missing from the file keep
// their default value.
func loadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config YAML: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func parseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if s == "" {
		return slog.LevelInfo, nil
	}
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return 0, fmt.Errorf("log.level: %w", err)
	}
	return level, nil
}

// newLogger builds the process logger from the log section.
func newLogger(cfg *Config, w io.Writer) *slog.Logger {
	level, err := parseLevel(cfg.Log.Level)
	if err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}

	if strings.EqualFold(cfg.Log.Format, "json") {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}
