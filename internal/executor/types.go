package executor

import (
	"context"
	"time"

	"github.com/ChuLiYu/sheetflow/pkg/types"
)

// Phase is the executor lifecycle state.
type Phase int

const (
	PhaseRunning    Phase = iota // admitting and running work
	PhaseDraining                // no admission; running workers may finish until the deadline
	PhaseTerminated              // final; every submission has an Outcome
)

func (p Phase) String() string {
	switch p {
	case PhaseRunning:
		return "running"
	case PhaseDraining:
		return "draining"
	case PhaseTerminated:
		return "terminated"
	default:
		return "unknown"
	}
}

// Stats is a point-in-time view of the coordinator's state.
type Stats struct {
	Phase    Phase
	Limit    int
	InFlight int
	Queued   int
}

// Future is the caller's handle on a submitted Request. It resolves exactly once.
type Future struct {
	done    chan struct{}
	outcome types.Outcome
}

func newFuture() *Future {
	return &Future{done: make(chan struct{})}
}

// deliver resolves the future. Each future has exactly one writer, so a second
// call is a bug and panics on the closed channel.
func (f *Future) deliver(o types.Outcome) {
	f.outcome = o
	close(f.done)
}

// Done is closed once the Outcome is available.
func (f *Future) Done() <-chan struct{} {
	return f.done
}

// Wait blocks until the Outcome is delivered.
func (f *Future) Wait() types.Outcome {
	<-f.done
	return f.outcome
}

// WaitContext is Wait with an escape hatch for the caller. Giving up on the wait
// does not cancel the request.
func (f *Future) WaitContext(ctx context.Context) (types.Outcome, error) {
	select {
	case <-f.done:
		return f.outcome, nil
	case <-ctx.Done():
		return types.Outcome{}, ctx.Err()
	}
}

// workItem pairs a request with its single-use sink. Owned by the coordinator
// from admission until its Outcome is delivered.
type workItem struct {
	id        uint64
	req       types.Request
	future    *Future
	submitted time.Time
	started   time.Time
}

// completion is a worker's one-shot report back to the coordinator.
type completion struct {
	id      uint64
	outcome types.Outcome
}

// Recorder receives executor metrics. metrics.Collector implements it.
type Recorder interface {
	RecordSubmit()
	RecordAdmit(wait time.Duration)
	RecordOutcome(o types.Outcome, d time.Duration)
	UpdateExecutorStats(inFlight, queued int)
}

type nopRecorder struct{}

func (nopRecorder) RecordSubmit() {}
func (nopRecorder) RecordAdmit(time.Duration) {}
func (nopRecorder) RecordOutcome(types.Outcome, time.Duration) {}
func (nopRecorder) UpdateExecutorStats(int, int) {}
