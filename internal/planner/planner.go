// Package planner partitions a table into an ordered batch plan for a full
// sheet overwrite.
//
// The plan's first batch resizes the destination to exactly rows × cols and
// writes row 0 on its own. Every remaining row is written in chunks of
// rowsPerRequest rows, and those chunk requests are grouped into batches of at
// most requestsPerBatch. Planning is pure: no requests are built or executed
// here.
package planner

import (
	"errors"
	"fmt"
)

// Defaults used when the caller has no per-call budget.
const (
	DefaultCellsPerRequest  = 10000
	DefaultRequestsPerBatch = 10
)

// ErrInvalidInput reports a malformed table or budget. It is a caller bug,
// not a remote failure.
var ErrInvalidInput = errors.New("planner: invalid input")

// OpKind identifies the request an Op stands for.
type OpKind int

const (
	OpResize OpKind = iota // resize/clear the destination grid
	OpUpdate               // write a rectangular region of values
)

func (k OpKind) String() string {
	switch k {
	case OpResize:
		return "resize"
	case OpUpdate:
		return "update"
	default:
		return fmt.Sprintf("OpKind(%d)", int(k))
	}
}

// Op describes one request for the API-binding layer to build.
type Op struct {
	Kind     OpKind
	StartRow int     // absolute row of the region's top-left cell; column is always 0
	Rows     int     // rows covered (grid rows for a resize)
	Cols     int     // columns covered
	Values   [][]any // padded to Cols; nil for a resize
}

// Cells is the number of cells the op covers.
func (o Op) Cells() int {
	return o.Rows * o.Cols
}

// Plan is the ordered batch layout for one overwrite.
type Plan struct {
	Rows           int
	Cols           int
	RowsPerRequest int
	Batches        [][]Op
}

// Empty reports whether the plan does nothing.
func (p Plan) Empty() bool {
	return len(p.Batches) == 0
}

// Requests is the total number of ops across every batch.
func (p Plan) Requests() int {
	n := 0
	for _, b := range p.Batches {
		n += len(b)
	}
	return n
}

// Build plans the overwrite of a sheet with rows. Rows shorter than the
// widest row are padded with nil cells.
//
// It fails with ErrInvalidInput when either budget is not positive, or when
// rows is non-empty but every row is empty. An empty table yields an empty
// plan.
func Build(rows [][]any, cellsPerRequest, requestsPerBatch int) (Plan, error) {
	if cellsPerRequest < 1 {
		return Plan{}, fmt.Errorf("%w: cells per request must be positive, got %d", ErrInvalidInput, cellsPerRequest)
	}
	if requestsPerBatch < 1 {
		return Plan{}, fmt.Errorf("%w: requests per batch must be positive, got %d", ErrInvalidInput, requestsPerBatch)
	}
	if len(rows) == 0 {
		return Plan{}, nil
	}

	cols := width(rows)
	if cols == 0 {
		return Plan{}, fmt.Errorf("%w: %d rows but no columns", ErrInvalidInput, len(rows))
	}

	perRequest := cellsPerRequest / cols
	if perRequest < 1 {
		perRequest = 1
	}

	plan := Plan{
		Rows:           len(rows),
		Cols:           cols,
		RowsPerRequest: perRequest,
	}

	// Row 0 goes alone, right after the resize, so the grid is reshaped once
	// before any bulk write lands.
	first := []Op{
		{Kind: OpResize, Rows: len(rows), Cols: cols},
		{Kind: OpUpdate, StartRow: 0, Rows: 1, Cols: cols, Values: pad(rows[:1], cols)},
	}
	plan.Batches = append(plan.Batches, first)

	var chunks []Op
	for start := 1; start < len(rows); start += perRequest {
		end := start + perRequest
		if end > len(rows) {
			end = len(rows)
		}
		chunks = append(chunks, Op{
			Kind:     OpUpdate,
			StartRow: start,
			Rows:     end - start,
			Cols:     cols,
			Values:   pad(rows[start:end], cols),
		})
	}

	for len(chunks) > 0 {
		n := requestsPerBatch
		if n > len(chunks) {
			n = len(chunks)
		}
		plan.Batches = append(plan.Batches, chunks[:n:n])
		chunks = chunks[n:]
	}

	return plan, nil
}

func width(rows [][]any) int {
	w := 0
	for _, r := range rows {
		if len(r) > w {
			w = len(r)
		}
	}
	return w
}

// pad copies rows into a cols-wide grid.
func pad(rows [][]any, cols int) [][]any {
	out := make([][]any, len(rows))
	for i, r := range rows {
		row := make([]any, cols)
		copy(row, r)
		out[i] = row
	}
	return out
}
