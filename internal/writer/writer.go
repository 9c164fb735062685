// ============================================================================
// sheetflow Writer - full-sheet overwrite orchestration
// ============================================================================
//
// Package: internal/writer
// File: writer.go
// Function: plan, materialize and run one "overwrite a whole sheet" operation
//
// Flow per Overwrite call:
//   1. planner.Build - partition the table into batches under the budgets
//   2. Plan.Materialize - turn ops into requests via the RequestFactory
//   3. batch.Sequencer.Run - run batch by batch against the shared executor,
//      stopping at the first failed batch
//
// Every sequencer event is fanned out to the run's logger, the journal (if
// any) and any extra observers such as the metrics collector.
//
// ============================================================================

package writer

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ChuLiYu/sheetflow/internal/batch"
	"github.com/ChuLiYu/sheetflow/internal/journal"
	"github.com/ChuLiYu/sheetflow/internal/planner"
	"github.com/oklog/ulid/v2"
)

var log = slog.Default()

// Config holds the planner budgets used for every overwrite.
type Config struct {
	CellsPerRequest  int
	RequestsPerBatch int
}

// DefaultConfig returns the planner defaults.
func DefaultConfig() Config {
	return Config{
		CellsPerRequest:  planner.DefaultCellsPerRequest,
		RequestsPerBatch: planner.DefaultRequestsPerBatch,
	}
}

// Result describes one finished overwrite.
type Result struct {
	RunID       string
	Batches     int
	Requests    int
	OK          bool
	FailedBatch int   // index of the batch that stopped the run, or -1
	Err         error // first request failure of that batch
	Duration    time.Duration
}

// Option configures a Writer.
type Option func(*Writer)

// WithJournal records every run in j.
func WithJournal(j *journal.Journal) Option {
	return func(w *Writer) { w.journal = j }
}

// WithObserver adds an observer that sees every run's events.
func WithObserver(o batch.Observer) Option {
	return func(w *Writer) {
		if o != nil {
			w.observers = append(w.observers, o)
		}
	}
}

// WithLogger sets the base logger. Each run logs with a run_id attribute.
func WithLogger(l *slog.Logger) Option {
	return func(w *Writer) {
		if l != nil {
			w.log = l
		}
	}
}

// Writer overwrites sheets through a shared executor.
type Writer struct {
	sub       batch.Submitter
	factory   planner.RequestFactory
	cfg       Config
	journal   *journal.Journal
	observers []batch.Observer
	log       *slog.Logger
	newRunID  func() string
}

// New creates a Writer. Non-positive budgets are rejected with
// planner.ErrInvalidInput.
func New(sub batch.Submitter, factory planner.RequestFactory, cfg Config, opts ...Option) (*Writer, error) {
	if cfg.CellsPerRequest < 1 || cfg.RequestsPerBatch < 1 {
		return nil, fmt.Errorf("writer: %w: budgets must be positive (cells_per_request=%d, requests_per_batch=%d)",
			planner.ErrInvalidInput, cfg.CellsPerRequest, cfg.RequestsPerBatch)
	}

	w := &Writer{
		sub:      sub,
		factory:  factory,
		cfg:      cfg,
		log:      log,
		newRunID: func() string { return ulid.Make().String() },
	}
	for _, opt := range opts {
		opt(w)
	}
	return w, nil
}

// Plan builds the batch plan for rows without running it.
func (w *Writer) Plan(rows [][]any) (planner.Plan, error) {
	plan, err := planner.Build(rows, w.cfg.CellsPerRequest, w.cfg.RequestsPerBatch)
	if err != nil {
		return planner.Plan{}, fmt.Errorf("writer: %w", err)
	}
	return plan, nil
}

// Overwrite replaces the destination's content with rows. Planning errors
// are returned as errors wrapping planner.ErrInvalidInput; a remote failure
// is reported through Result.OK and never as an error.
func (w *Writer) Overwrite(rows [][]any) (Result, error) {
	plan, err := w.Plan(rows)
	if err != nil {
		return Result{}, err
	}

	runID := w.newRunID()
	runLog := w.log.With("run_id", runID)
	runLog.Info("Overwrite started",
		"rows", plan.Rows,
		"cols", plan.Cols,
		"rows_per_request", plan.RowsPerRequest,
		"batches", len(plan.Batches),
		"requests", plan.Requests())

	res := Result{
		RunID:       runID,
		Batches:     len(plan.Batches),
		Requests:    plan.Requests(),
		FailedBatch: -1,
	}

	opts := []batch.Option{
		batch.WithLogger(runLog),
		batch.WithObserver(batch.ObserverFunc(func(ev batch.Event) {
			switch ev.Kind {
			case batch.EventBatchFailed:
				res.FailedBatch = ev.Index
				res.Err = ev.Err
			case batch.EventPlanSucceeded, batch.EventPlanFailed:
				res.Duration = ev.Duration
			}
		})),
	}
	if w.journal != nil {
		opts = append(opts, batch.WithObserver(w.journal.Observer(runID)))
	}
	for _, o := range w.observers {
		opts = append(opts, batch.WithObserver(o))
	}

	res.OK = batch.NewSequencer(w.sub, opts...).Run(plan.Materialize(w.factory))

	if res.OK {
		runLog.Info("Overwrite completed", "duration", res.Duration)
	} else {
		runLog.Warn("Overwrite stopped",
			"failed_batch", res.FailedBatch,
			"remaining_batches", res.Batches-res.FailedBatch-1,
			"error", res.Err)
	}
	return res, nil
}

// IsInvalidInput reports whether err is a planning precondition failure.
func IsInvalidInput(err error) bool {
	return errors.Is(err, planner.ErrInvalidInput)
}
