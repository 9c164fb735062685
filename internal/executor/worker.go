// ============================================================================
// Sheetflow Worker - Ephemeral Request Runner
// ============================================================================
//
// Each admitted work item gets its own goroutine:
//   1. Call Request.Execute (blocks for the whole remote call)
//   2. Wrap the response, error or panic as an Outcome
//   3. Report to the coordinator once, or drop the result if it has exited
//
// Workers never mutate scheduling state and never talk to each other.
// ============================================================================

package executor

import (
	"fmt"
	"runtime/debug"

	"github.com/ChuLiYu/sheetflow/pkg/types"
)

// work runs one request and reports the result exactly once. It never touches
// coordinator state. After termination nobody is listening, so the late
// result is dropped.
func (e *Executor) work(id uint64, req types.Request) {
	outcome := execute(req)

	select {
	case e.completeCh <- completion{id: id, outcome: outcome}:
	case <-e.done:
		e.log.Debug("Discarding result of abandoned request", "id", id, "ok", outcome.OK())
	}
}

// execute calls req.Execute and turns both returned errors and panics into an
// Outcome.
func execute(req types.Request) (o types.Outcome) {
	defer func() {
		if r := recover(); r != nil {
			o = types.Failed(fmt.Errorf("panic: %v\n%s", r, debug.Stack()))
		}
	}()

	resp, err := req.Execute()
	if err != nil {
		return types.Failed(err)
	}
	return types.Success(resp)
}
