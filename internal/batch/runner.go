// Package batch runs groups of requests through an executor.
//
// A Batch succeeds only if every request in it succeeds. A Plan is an ordered
// list of batches where batch i+1 is submitted only after batch i has fully
// resolved and succeeded.
package batch

import (
	"github.com/ChuLiYu/sheetflow/internal/executor"
	"github.com/ChuLiYu/sheetflow/pkg/types"
)

// Submitter is the part of the executor the batch runner needs.
type Submitter interface {
	Submit(req types.Request) *executor.Future
}

// Batch is a group of requests submitted together.
type Batch []types.Request

// Plan is an ordered list of batches with fail-fast sequencing.
type Plan []Batch

// Requests returns the total number of requests across the plan.
func (p Plan) Requests() int {
	n := 0
	for _, b := range p {
		n += len(b)
	}
	return n
}

// Result is the collected outcome of one batch.
type Result struct {
	Outcomes []types.Outcome // in submission order
	Failed   int
	FirstErr error // first failure in submission order
}

// OK reports whether every request in the batch succeeded.
func (r Result) OK() bool {
	return r.Failed == 0
}

// RunBatchDetailed submits every request and waits for all Outcomes. It never
// stops collecting early: each Future is drained even after a failure.
func RunBatchDetailed(sub Submitter, reqs Batch) Result {
	futures := make([]*executor.Future, len(reqs))
	for i, req := range reqs {
		futures[i] = sub.Submit(req)
	}

	res := Result{Outcomes: make([]types.Outcome, len(futures))}
	for i, f := range futures {
		o := f.Wait()
		res.Outcomes[i] = o
		if !o.OK() {
			res.Failed++
			if res.FirstErr == nil {
				res.FirstErr = o.Err
			}
		}
	}
	return res
}

// RunBatch reports whether every request in reqs succeeded. An empty batch
// succeeds trivially.
func RunBatch(sub Submitter, reqs Batch) bool {
	return RunBatchDetailed(sub, reqs).OK()
}
