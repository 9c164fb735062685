package planner

import (
	"github.com/ChuLiYu/sheetflow/internal/batch"
	"github.com/ChuLiYu/sheetflow/pkg/types"
)

// RequestFactory builds concrete requests for planned ops. It is supplied by
// the API-binding layer.
type RequestFactory interface {
	// Resize returns a request that resizes and clears the destination to
	// exactly rows × cols.
	Resize(rows, cols int) types.Request
	// Update returns a request that writes values with its top-left cell at
	// (startRow, 0).
	Update(startRow int, values [][]any) types.Request
}

// Materialize turns the plan into executable batches, preserving order.
func (p Plan) Materialize(f RequestFactory) batch.Plan {
	if p.Empty() {
		return nil
	}

	out := make(batch.Plan, len(p.Batches))
	for i, ops := range p.Batches {
		b := make(batch.Batch, len(ops))
		for j, op := range ops {
			switch op.Kind {
			case OpResize:
				b[j] = f.Resize(op.Rows, op.Cols)
			default:
				b[j] = f.Update(op.StartRow, op.Values)
			}
		}
		out[i] = b
	}
	return out
}
