package batch

import (
	"log/slog"
	"time"
)

var log = slog.Default()

// EventKind marks a plan or batch boundary.
type EventKind string

const (
	EventPlanStarted    EventKind = "plan_started"
	EventBatchStarted   EventKind = "batch_started"
	EventBatchSucceeded EventKind = "batch_succeeded"
	EventBatchFailed    EventKind = "batch_failed"
	EventPlanSucceeded  EventKind = "plan_succeeded"
	EventPlanFailed     EventKind = "plan_failed"
)

// Event is emitted at every plan and batch boundary so operators can tell
// which chunk of a large write failed.
type Event struct {
	Kind     EventKind
	Index    int // batch index; -1 for plan events
	Total    int // number of batches in the plan
	Size     int // requests in the batch (or in the whole plan)
	Failed   int // failed requests, on batch_failed
	Duration time.Duration
	Err      error // first failure, on batch_failed / plan_failed
}

// Observer receives sequencer events synchronously, in order.
type Observer interface {
	Observe(Event)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(Event)

func (f ObserverFunc) Observe(ev Event) { f(ev) }

// Option configures a Sequencer.
type Option func(*Sequencer)

// WithObserver adds an observer. Observers are called in registration order.
func WithObserver(o Observer) Option {
	return func(s *Sequencer) {
		if o != nil {
			s.observers = append(s.observers, o)
		}
	}
}

// WithLogger sets the logger used for boundary events.
func WithLogger(l *slog.Logger) Option {
	return func(s *Sequencer) {
		if l != nil {
			s.log = l
		}
	}
}

// Sequencer drives a Plan through the batch runner, stopping at the first
// failed batch.
type Sequencer struct {
	sub       Submitter
	log       *slog.Logger
	observers []Observer
}

// NewSequencer creates a Sequencer that submits to sub.
func NewSequencer(sub Submitter, opts ...Option) *Sequencer {
	s := &Sequencer{sub: sub, log: log}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run executes plan batch by batch. Batch i is fully resolved before batch
// i+1 is submitted; on the first failed batch the remaining batches are never
// submitted and Run returns false. An empty plan succeeds without touching
// the executor.
func (s *Sequencer) Run(plan Plan) bool {
	total := len(plan)
	planStart := time.Now()
	s.emit(Event{Kind: EventPlanStarted, Index: -1, Total: total, Size: plan.Requests()})

	for i, b := range plan {
		s.emit(Event{Kind: EventBatchStarted, Index: i, Total: total, Size: len(b)})

		start := time.Now()
		res := RunBatchDetailed(s.sub, b)
		elapsed := time.Since(start)

		if !res.OK() {
			s.emit(Event{
				Kind:     EventBatchFailed,
				Index:    i,
				Total:    total,
				Size:     len(b),
				Failed:   res.Failed,
				Duration: elapsed,
				Err:      res.FirstErr,
			})
			s.emit(Event{
				Kind:     EventPlanFailed,
				Index:    i,
				Total:    total,
				Size:     plan.Requests(),
				Duration: time.Since(planStart),
				Err:      res.FirstErr,
			})
			return false
		}

		s.emit(Event{Kind: EventBatchSucceeded, Index: i, Total: total, Size: len(b), Duration: elapsed})
	}

	s.emit(Event{
		Kind:     EventPlanSucceeded,
		Index:    -1,
		Total:    total,
		Size:     plan.Requests(),
		Duration: time.Since(planStart),
	})
	return true
}

// RunPlan runs plan against sub with no observers.
func RunPlan(sub Submitter, plan Plan) bool {
	return NewSequencer(sub).Run(plan)
}

func (s *Sequencer) emit(ev Event) {
	switch ev.Kind {
	case EventBatchFailed:
		s.log.Warn("Batch failed",
			"batch", ev.Index,
			"of", ev.Total,
			"failed", ev.Failed,
			"size", ev.Size,
			"error", ev.Err)
	case EventPlanFailed:
		s.log.Warn("Plan stopped", "failed_batch", ev.Index, "remaining", ev.Total-ev.Index-1)
	case EventPlanSucceeded:
		s.log.Info("Plan completed", "batches", ev.Total, "requests", ev.Size, "duration", ev.Duration)
	default:
		s.log.Debug("Plan progress", "event", ev.Kind, "batch", ev.Index, "of", ev.Total, "size", ev.Size)
	}

	for _, o := range s.observers {
		o.Observe(ev)
	}
}
