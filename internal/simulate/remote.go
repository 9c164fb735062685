// Package simulate provides an in-memory stand-in for the remote spreadsheet
// API. Requests take a configurable latency and fail at a configurable rate,
// and successful writes land in an in-memory grid that tests can inspect.
//
// A resize keeps cells that fall inside the new bounds and an update beyond
// the grid extends it, so the resize and the row-0 update of a plan's first
// batch give the same grid in either order.
package simulate

import (
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ChuLiYu/sheetflow/pkg/types"
)

var (
	// ErrRejected is returned by requests the remote chose to fail.
	ErrRejected = errors.New("simulate: request rejected")

	// ErrOutOfRange is returned by an update at a negative row.
	ErrOutOfRange = errors.New("simulate: range outside grid")
)

// Config controls the simulated remote.
type Config struct {
	Latency     time.Duration `yaml:"latency"`      // base time per request
	Jitter      time.Duration `yaml:"jitter"`       // uniform +/- spread around Latency
	FailureRate float64       `yaml:"failure_rate"` // probability in [0, 1]
	FailAt      int           `yaml:"fail_at"`      // 1-based request ordinal that always fails; 0 disables
	Seed        int64         `yaml:"seed"`         // 0 picks a time-based seed
}

// Validate checks the config's ranges.
func (c Config) Validate() error {
	if c.Latency < 0 || c.Jitter < 0 {
		return fmt.Errorf("simulate: latency and jitter must not be negative")
	}
	if c.FailureRate < 0 || c.FailureRate > 1 {
		return fmt.Errorf("simulate: failure_rate must be in [0, 1], got %v", c.FailureRate)
	}
	if c.FailAt < 0 {
		return fmt.Errorf("simulate: fail_at must not be negative, got %d", c.FailAt)
	}
	return nil
}

// ResizeResponse is returned by a successful resize.
type ResizeResponse struct {
	Rows, Cols int
}

// UpdateResponse is returned by a successful update.
type UpdateResponse struct {
	StartRow     int
	UpdatedRows  int
	UpdatedCells int
}

// Remote builds requests against one simulated sheet. It implements
// planner.RequestFactory.
type Remote struct {
	cfg Config

	rngMu sync.Mutex
	rng   *rand.Rand

	executed atomic.Int64

	mu   sync.Mutex
	grid [][]any
	cols int
}

// New creates a Remote with an empty sheet.
func New(cfg Config) *Remote {
	seed := cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &Remote{
		cfg: cfg,
		rng: rand.New(rand.NewSource(seed)),
	}
}

// Resize returns a request that reshapes the sheet to exactly rows x cols.
func (r *Remote) Resize(rows, cols int) types.Request {
	return types.RequestFunc(func() (types.Response, error) {
		if err := r.call(); err != nil {
			return nil, fmt.Errorf("resize %dx%d: %w", rows, cols, err)
		}

		r.mu.Lock()
		defer r.mu.Unlock()
		grid := make([][]any, rows)
		for i := range grid {
			grid[i] = make([]any, cols)
			if i < len(r.grid) {
				copy(grid[i], r.grid[i])
			}
		}
		r.grid = grid
		r.cols = cols
		return ResizeResponse{Rows: rows, Cols: cols}, nil
	})
}

// Update returns a request that writes values with its top-left cell at
// (startRow, 0).
func (r *Remote) Update(startRow int, values [][]any) types.Request {
	return types.RequestFunc(func() (types.Response, error) {
		if err := r.call(); err != nil {
			return nil, fmt.Errorf("update at row %d: %w", startRow, err)
		}
		if startRow < 0 {
			return nil, fmt.Errorf("%w: row %d", ErrOutOfRange, startRow)
		}

		r.mu.Lock()
		defer r.mu.Unlock()
		cells := 0
		for i, row := range values {
			r.growLocked(startRow+i+1, len(row))
			copy(r.grid[startRow+i], row)
			cells += len(row)
		}
		return UpdateResponse{StartRow: startRow, UpdatedRows: len(values), UpdatedCells: cells}, nil
	})
}

// growLocked extends the grid to at least rows x cols. Caller holds r.mu.
func (r *Remote) growLocked(rows, cols int) {
	if cols > r.cols {
		for i := range r.grid {
			r.grid[i] = append(r.grid[i], make([]any, cols-r.cols)...)
		}
		r.cols = cols
	}
	for len(r.grid) < rows {
		r.grid = append(r.grid, make([]any, r.cols))
	}
}

// Executed returns the number of requests that have started executing.
func (r *Remote) Executed() int {
	return int(r.executed.Load())
}

// Snapshot returns a copy of the current grid.
func (r *Remote) Snapshot() [][]any {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([][]any, len(r.grid))
	for i, row := range r.grid {
		out[i] = append([]any(nil), row...)
	}
	return out
}

// call simulates the round trip and decides whether the request fails.
func (r *Remote) call() error {
	n := int(r.executed.Add(1))

	delay, fail := r.roll()
	if delay > 0 {
		time.Sleep(delay)
	}

	if r.cfg.FailAt > 0 && n == r.cfg.FailAt {
		return fmt.Errorf("%w: request #%d", ErrRejected, n)
	}
	if fail {
		return fmt.Errorf("%w: simulated failure", ErrRejected)
	}
	return nil
}

func (r *Remote) roll() (time.Duration, bool) {
	r.rngMu.Lock()
	defer r.rngMu.Unlock()

	delay := r.cfg.Latency
	if r.cfg.Jitter > 0 {
		delay += time.Duration(r.rng.Int63n(int64(2*r.cfg.Jitter)+1)) - r.cfg.Jitter
	}
	if delay < 0 {
		delay = 0
	}
	return delay, r.cfg.FailureRate > 0 && r.rng.Float64() < r.cfg.FailureRate
}
