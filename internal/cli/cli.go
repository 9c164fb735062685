// ============================================================================
// sheetflow CLI - Command Line Interface
// ============================================================================
//
// Package: internal/cli
// File: cli.go
// Purpose: Cobra command tree for planning and running sheet overwrites
//
// Command Structure:
//   sheetflow                      # Root command
//   ├── plan                       # Print the batch plan for a table
//   │   └── --file, -f            # CSV table
//   ├── write                      # Overwrite the (simulated) sheet
//   │   └── --file, -f            # CSV table
//   ├── journal                    # Dump the journal or show one run
//   │   └── --run                 # Run ID
//   ├── probe                      # Query the gRPC health endpoint
//   │   └── --addr                # host:port
//   ├── --config, -c              # Config file (default: configs/default.yaml)
//   └── --version
//
// write Command:
//   1. Load config and table
//   2. Create executor, metrics collector, journal
//   3. Start metrics HTTP server and health gRPC server (if enabled)
//   4. Run the overwrite batch by batch
//   5. On SIGINT/SIGTERM, close the executor with shutdown_timeout; the
//      running batch fails and the plan stops
//
// Examples:
//   ./sheetflow plan -f table.csv
//   ./sheetflow write -f table.csv -c custom-config.yaml
//   ./sheetflow journal --run 01J9Z6F3Q4K8M2N5P7R9S1T3V5
//   ./sheetflow probe --addr localhost:50051
//
// ============================================================================

package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/ChuLiYu/sheetflow/internal/executor"
	"github.com/ChuLiYu/sheetflow/internal/journal"
	"github.com/ChuLiYu/sheetflow/internal/metrics"
	"github.com/ChuLiYu/sheetflow/internal/planner"
	"github.com/ChuLiYu/sheetflow/internal/server"
	"github.com/ChuLiYu/sheetflow/internal/simulate"
	"github.com/ChuLiYu/sheetflow/internal/writer"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/protobuf/encoding/protojson"
)

const defaultConfigFile = "configs/default.yaml"

var configFile string

// BuildCLI assembles the root command and its subcommands.
func BuildCLI() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "sheetflow",
		Short: "sheetflow: bounded-concurrency batch writer for spreadsheet overwrites",
		Long: `sheetflow overwrites a whole sheet through a rate-limited remote API:
- bounded-concurrency request executor with graceful shutdown
- fail-fast batch sequencing
- cell-budgeted write planning
- progress journal, Prometheus metrics and gRPC health`,
		Version:       "1.0.0",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", defaultConfigFile, "config file path")

	rootCmd.AddCommand(buildPlanCommand())
	rootCmd.AddCommand(buildWriteCommand())
	rootCmd.AddCommand(buildJournalCommand())
	rootCmd.AddCommand(buildProbeCommand())

	return rootCmd
}

// resolveConfig loads the config file. A missing file at the default path
// falls back to DefaultConfig.
func resolveConfig() (*Config, error) {
	cfg, err := loadConfig(configFile)
	if err != nil && configFile == defaultConfigFile && errors.Is(err, os.ErrNotExist) {
		return DefaultConfig(), nil
	}
	return cfg, err
}

// ============================================================================
// plan
// ============================================================================

func buildPlanCommand() *cobra.Command {
	var tableFile string
	var cells, requests int

	cmd := &cobra.Command{
		Use:   "plan",
		Short: "Print the batch plan for a CSV table",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := resolveConfig()
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("cells") {
				cfg.Planner.CellsPerRequest = cells
			}
			if cmd.Flags().Changed("requests") {
				cfg.Planner.RequestsPerBatch = requests
			}

			rows, err := readTable(tableFile, cmd.InOrStdin())
			if err != nil {
				return err
			}
			plan, err := planner.Build(rows, cfg.Planner.CellsPerRequest, cfg.Planner.RequestsPerBatch)
			if err != nil {
				return err
			}
			printPlan(cmd.OutOrStdout(), plan)
			return nil
		},
	}

	cmd.Flags().StringVarP(&tableFile, "file", "f", "", "CSV table (- for stdin)")
	cmd.Flags().IntVar(&cells, "cells", planner.DefaultCellsPerRequest, "cells per request budget")
	cmd.Flags().IntVar(&requests, "requests", planner.DefaultRequestsPerBatch, "requests per batch budget")
	_ = cmd.MarkFlagRequired("file")

	return cmd
}

func printPlan(w io.Writer, plan planner.Plan) {
	if plan.Empty() {
		fmt.Fprintln(w, "Plan: empty table, nothing to write")
		return
	}

	fmt.Fprintf(w, "Plan: %d rows x %d cols, %d rows/request, %d batches, %d requests\n",
		plan.Rows, plan.Cols, plan.RowsPerRequest, len(plan.Batches), plan.Requests())
	for i, ops := range plan.Batches {
		parts := make([]string, len(ops))
		for j, op := range ops {
			switch op.Kind {
			case planner.OpResize:
				parts[j] = fmt.Sprintf("resize %dx%d", op.Rows, op.Cols)
			default:
				parts[j] = fmt.Sprintf("update rows %d-%d", op.StartRow, op.StartRow+op.Rows-1)
			}
		}
		fmt.Fprintf(w, "  batch %d: %s\n", i, strings.Join(parts, ", "))
	}
}

// ============================================================================
// write
// ============================================================================

func buildWriteCommand() *cobra.Command {
	var tableFile string
	var concurrency, failAt int

	cmd := &cobra.Command{
		Use:   "write",
		Short: "Overwrite the simulated sheet with a CSV table",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := resolveConfig()
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("concurrency") {
				cfg.Executor.Concurrency = concurrency
			}
			if cmd.Flags().Changed("fail-at") {
				cfg.Simulate.FailAt = failAt
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			rows, err := readTable(tableFile, cmd.InOrStdin())
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			return runWrite(ctx, cfg, rows, cmd.OutOrStdout(), cmd.ErrOrStderr())
		},
	}

	cmd.Flags().StringVarP(&tableFile, "file", "f", "", "CSV table (- for stdin)")
	cmd.Flags().IntVar(&concurrency, "concurrency", 0, "override executor.concurrency")
	cmd.Flags().IntVar(&failAt, "fail-at", 0, "make the Nth simulated request fail")
	_ = cmd.MarkFlagRequired("file")

	return cmd
}

func runWrite(ctx context.Context, cfg *Config, rows [][]any, out, logOut io.Writer) error {
	logger := newLogger(cfg, logOut)
	slog.SetDefault(logger)

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	collector := metrics.NewCollector(reg)

	exec, err := executor.New(cfg.Executor.Concurrency,
		executor.WithLogger(logger),
		executor.WithRecorder(collector))
	if err != nil {
		return err
	}
	defer exec.Close(cfg.Executor.ShutdownTimeout)

	opts := []writer.Option{writer.WithLogger(logger), writer.WithObserver(collector)}
	if cfg.Journal.Path != "" {
		j, err := journal.Open(cfg.Journal.Path, cfg.Journal.SyncOnAppend)
		if err != nil {
			return fmt.Errorf("failed to open journal: %w", err)
		}
		defer j.Close()
		opts = append(opts, writer.WithJournal(j))
	}

	if cfg.Metrics.Enabled {
		srv := metrics.NewServer(cfg.Metrics.Port, reg)
		go func() {
			logger.Info("Starting metrics server", "addr", srv.Addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("Metrics server error", "error", err)
			}
		}()
		defer shutdownHTTP(srv)
	}

	if cfg.Health.Enabled {
		lis, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.Health.Port))
		if err != nil {
			return fmt.Errorf("failed to listen on port %d: %w", cfg.Health.Port, err)
		}
		hs := server.New(exec)
		go func() {
			if err := hs.Serve(lis); err != nil {
				logger.Error("Health server error", "error", err)
			}
		}()
		watchCtx, cancel := context.WithCancel(context.Background())
		go hs.Watch(watchCtx)
		defer func() {
			cancel()
			hs.Stop()
		}()
	}

	// Interrupts close the executor; the batch in flight then fails and the
	// sequencer stops.
	go func() {
		select {
		case <-ctx.Done():
			logger.Warn("Received shutdown signal, closing executor", "timeout", cfg.Executor.ShutdownTimeout)
			exec.Close(cfg.Executor.ShutdownTimeout)
		case <-exec.Done():
		}
	}()

	w, err := writer.New(exec, simulate.New(cfg.Simulate), writer.Config{
		CellsPerRequest:  cfg.Planner.CellsPerRequest,
		RequestsPerBatch: cfg.Planner.RequestsPerBatch,
	}, opts...)
	if err != nil {
		return err
	}

	res, err := w.Overwrite(rows)
	if err != nil {
		return err
	}

	fmt.Fprintf(out, "run %s: %d batches, %d requests, %s\n", res.RunID, res.Batches, res.Requests, res.Duration.Round(time.Millisecond))
	if !res.OK {
		return fmt.Errorf("run %s stopped at batch %d of %d: %w", res.RunID, res.FailedBatch, res.Batches, res.Err)
	}
	fmt.Fprintln(out, "ok")
	return nil
}

func shutdownHTTP(srv *http.Server) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = srv.Shutdown(ctx)
}

// ============================================================================
// journal
// ============================================================================

func buildJournalCommand() *cobra.Command {
	var runID, path string
	var validate bool

	cmd := &cobra.Command{
		Use:   "journal",
		Short: "Dump the progress journal or show one run",
		RunE: func(cmd *cobra.Command, args []string) error {
			if path == "" {
				cfg, err := resolveConfig()
				if err != nil {
					return err
				}
				path = cfg.Journal.Path
			}
			if path == "" {
				return errors.New("journal is disabled (journal.path is empty)")
			}
			out := cmd.OutOrStdout()

			if validate {
				if err := journal.Validate(path); err != nil {
					return err
				}
				fmt.Fprintf(out, "%s: ok\n", path)
				return nil
			}

			if runID == "" {
				return journal.Dump(path, out)
			}

			p, err := journal.RunProgress(path, runID)
			if err != nil {
				return err
			}
			state := "in progress"
			switch {
			case p.Completed:
				state = "completed"
			case p.Stopped:
				state = fmt.Sprintf("stopped at batch %d", p.FailedBatch)
			}
			fmt.Fprintf(out, "run %s: %s, %d/%d batches succeeded (last seq %d)\n",
				p.RunID, state, p.Succeeded, p.Total, p.LastSeq)
			return nil
		},
	}

	cmd.Flags().StringVar(&runID, "run", "", "show progress for one run ID")
	cmd.Flags().StringVar(&path, "path", "", "journal file (default: journal.path from config)")
	cmd.Flags().BoolVar(&validate, "validate", false, "check checksums and sequence continuity")

	return cmd
}

// ============================================================================
// probe
// ============================================================================

func buildProbeCommand() *cobra.Command {
	var addr, service string
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   "probe",
		Short: "Query the gRPC health endpoint",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			resp, err := server.Probe(ctx, addr, service)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), protojson.Format(resp))
			if resp.GetStatus() != grpc_health_v1.HealthCheckResponse_SERVING {
				return fmt.Errorf("%s is %s", service, resp.GetStatus())
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "localhost:50051", "health server address")
	cmd.Flags().StringVar(&service, "service", server.ServiceName, "service to check")
	cmd.Flags().DurationVar(&timeout, "timeout", 3*time.Second, "probe timeout")

	return cmd
}
