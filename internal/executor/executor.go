// ============================================================================
// Sheetflow Executor - Bounded-Concurrency Request Scheduler
// ============================================================================
//
// Package: internal/executor
// File: executor.go
// Function: Runs blocking Requests with at most C executing at once and
//           delivers exactly one Outcome per submission
//
// Architecture:
//   ┌─────────┐ Submit()  ┌──────────────────────────┐  dispatch  ┌──────────┐
//   │ callers │ ───────→  │ coordinator (run loop)   │ ─────────→ │ worker 1 │
//   └─────────┘ submitCh  │  phase / queue / inFlight│            │ worker 2 │
//        ↑                │                          │ ←───────── │   ...    │
//     Future              └──────────────────────────┘ completeCh └──────────┘
//
//   The run loop is the only goroutine that reads or writes scheduling state.
//   Workers are ephemeral: one goroutine per admitted request, which runs the
//   blocking Execute call and reports back exactly once.
//
// Lifecycle:
//   Running    → Submit admits in arrival order while inFlight < limit
//   Draining   → Close() called; queued work fails with shutdown, running
//                workers may finish until the deadline
//   Terminated → inFlight reached 0, or the deadline fired and every
//                remaining sink received Failure(shutdown)
//
// Forced shutdown:
//   Execute cannot be preempted. After the deadline a worker may still be
//   blocked; its eventual result is discarded. Close returns in bounded time,
//   resource release is best effort.
//
// ============================================================================

package executor

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ChuLiYu/sheetflow/pkg/types"
)

var log = slog.Default()

// ErrInvalidLimit is returned by New for a non-positive concurrency ceiling.
var ErrInvalidLimit = errors.New("executor: concurrency limit must be positive")

// Option configures an Executor.
type Option func(*Executor)

// WithLogger sets the executor's logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Executor) {
		if l != nil {
			e.log = l
		}
	}
}

// WithRecorder attaches a metrics recorder.
func WithRecorder(r Recorder) Option {
	return func(e *Executor) {
		if r != nil {
			e.rec = r
		}
	}
}

// Executor is a bounded-concurrency scheduler for blocking Requests.
type Executor struct {
	limit int
	log   *slog.Logger
	rec   Recorder

	submitCh   chan *workItem
	completeCh chan completion
	closeCh    chan time.Duration
	statsCh    chan chan Stats
	draining   chan struct{} // closed on Running → Draining
	done       chan struct{} // closed on Terminated

	// Owned by the run loop.
	phase    Phase
	queue    []*workItem
	inFlight map[uint64]*workItem
	nextID   uint64

	// Written by the run loop before done is closed.
	final Stats
}

// New starts an Executor that runs at most limit requests concurrently.
func New(limit int, opts ...Option) (*Executor, error) {
	if limit < 1 {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidLimit, limit)
	}

	e := &Executor{
		limit:      limit,
		log:        log,
		rec:        nopRecorder{},
		submitCh:   make(chan *workItem),
		completeCh: make(chan completion),
		closeCh:    make(chan time.Duration),
		statsCh:    make(chan chan Stats),
		draining:   make(chan struct{}),
		done:       make(chan struct{}),
		phase:      PhaseRunning,
		inFlight:   make(map[uint64]*workItem, limit),
	}
	for _, opt := range opts {
		opt(e)
	}

	go e.run()

	e.log.Info("Executor started", "limit", limit)
	return e, nil
}

// Submit hands req to the executor and returns immediately. If the executor
// is no longer running, the returned Future is already resolved with
// Failure(shutdown).
func (e *Executor) Submit(req types.Request) *Future {
	item := &workItem{
		req:       req,
		future:    newFuture(),
		submitted: time.Now(),
	}
	e.rec.RecordSubmit()

	select {
	case e.submitCh <- item:
	case <-e.done:
		// The run loop is gone, so this goroutine is the item's only owner.
		item.future.deliver(types.Shutdown())
		e.rec.RecordOutcome(item.future.outcome, 0)
	}
	return item.future
}

// Close stops admission and waits for in-flight work to finish, but no longer
// than deadline. Whatever is still running when the deadline fires is failed
// with reason shutdown. Close is idempotent and always blocks until the
// executor is Terminated.
func (e *Executor) Close(deadline time.Duration) {
	select {
	case e.closeCh <- deadline:
	case <-e.done:
	}
	<-e.done
}

// Stats asks the coordinator for its current state.
func (e *Executor) Stats() Stats {
	reply := make(chan Stats, 1)
	select {
	case e.statsCh <- reply:
		return <-reply
	case <-e.done:
		return e.final
	}
}

// Limit returns the concurrency ceiling.
func (e *Executor) Limit() int {
	return e.limit
}

// Draining is closed when Close is first called.
func (e *Executor) Draining() <-chan struct{} {
	return e.draining
}

// Done is closed once the executor is Terminated.
func (e *Executor) Done() <-chan struct{} {
	return e.done
}

// ============================================================================
// Coordinator
// ============================================================================

// run is the coordinating loop. It processes one event at a time: a new
// submission, a worker completion, the close request, a stats query or the
// drain deadline.
func (e *Executor) run() {
	defer close(e.done)

	var (
		timer    *time.Timer
		deadline <-chan time.Time
	)
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		e.admit()
		e.rec.UpdateExecutorStats(len(e.inFlight), len(e.queue))

		if e.phase == PhaseDraining && len(e.inFlight) == 0 {
			e.terminate()
			e.log.Info("Executor drained")
			return
		}

		select {
		case item := <-e.submitCh:
			if e.phase != PhaseRunning {
				e.resolve(item, types.Shutdown())
				continue
			}
			e.nextID++
			item.id = e.nextID
			e.queue = append(e.queue, item)

		case c := <-e.completeCh:
			item, ok := e.inFlight[c.id]
			if !ok {
				continue
			}
			delete(e.inFlight, c.id)
			e.resolve(item, c.outcome)

		case d := <-e.closeCh:
			if e.phase != PhaseRunning {
				continue
			}
			e.phase = PhaseDraining
			close(e.draining)

			rejected := len(e.queue)
			for _, item := range e.queue {
				e.resolve(item, types.Shutdown())
			}
			e.queue = nil

			timer = time.NewTimer(d)
			deadline = timer.C
			e.log.Info("Executor draining",
				"in_flight", len(e.inFlight),
				"rejected_queued", rejected,
				"deadline", d)

		case reply := <-e.statsCh:
			reply <- e.snapshot()

		case <-deadline:
			leaked := len(e.inFlight)
			for id, item := range e.inFlight {
				delete(e.inFlight, id)
				e.resolve(item, types.Shutdown())
			}
			e.terminate()
			e.log.Warn("Executor shutdown deadline exceeded, abandoning running requests",
				"abandoned", leaked)
			return
		}
	}
}

// admit dispatches queued items in arrival order while capacity allows.
func (e *Executor) admit() {
	for e.phase == PhaseRunning && len(e.queue) > 0 && len(e.inFlight) < e.limit {
		item := e.queue[0]
		e.queue[0] = nil
		e.queue = e.queue[1:]

		item.started = time.Now()
		e.inFlight[item.id] = item
		e.rec.RecordAdmit(item.started.Sub(item.submitted))
		go e.work(item.id, item.req)
	}
	if len(e.queue) == 0 {
		e.queue = nil
	}
}

// resolve delivers an Outcome to an item the coordinator owns.
func (e *Executor) resolve(item *workItem, o types.Outcome) {
	var elapsed time.Duration
	if !item.started.IsZero() {
		elapsed = time.Since(item.started)
	}
	item.future.deliver(o)
	e.rec.RecordOutcome(o, elapsed)

	if !o.OK() {
		e.log.Debug("Request failed", "id", item.id, "reason", o.Reason, "error", o.Err)
	}
}

func (e *Executor) terminate() {
	e.phase = PhaseTerminated
	e.final = e.snapshot()
	e.rec.UpdateExecutorStats(0, 0)
}

func (e *Executor) snapshot() Stats {
	return Stats{
		Phase:    e.phase,
		Limit:    e.limit,
		InFlight: len(e.inFlight),
		Queued:   len(e.queue),
	}
}
