package acquire

import (
	"errors"
	"fmt"
)

var ErrEmptyPlan = errors.New("acquire: nothing to acquire")

// Batch is the half-open row range [Start, End) of one request
type Batch struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

// Len returns the number of source rows in the batch
func (b Batch) Len() int {
	return b.End - b.Start
}

// Sources lists the row positions of the batch
func (b Batch) Sources() []int {
	out := make([]int, b.Len())
	for i := range out {
		out[i] = b.Start + i
	}
	return out
}

// BatchPlan partitions the N rows of the master matrix into requests that
// each stay within the service's route ceiling.
type BatchPlan struct {
	N            int
	MaxRoutes    int
	RowsPerBatch int
	// Single means one request covers the full matrix without explicit
	// sources and destinations.
	Single  bool
	Batches []Batch
}

// Plan computes the batches for n locations under a ceiling of maxRoutes
// source x destination pairs per request.
func Plan(n, maxRoutes int) (BatchPlan, error) {
	if n <= 0 {
		return BatchPlan{}, ErrEmptyPlan
	}
	if maxRoutes <= 0 {
		return BatchPlan{}, fmt.Errorf("max routes per request must be positive, got %d", maxRoutes)
	}

	plan := BatchPlan{N: n, MaxRoutes: maxRoutes}
	if n*n <= maxRoutes {
		plan.Single = true
		plan.RowsPerBatch = n
		plan.Batches = []Batch{{Start: 0, End: n}}
		return plan, nil
	}

	rows := max(1, min(maxRoutes/n, n))
	plan.RowsPerBatch = rows
	plan.Batches = make([]Batch, 0, (n+rows-1)/rows)
	for start := 0; start < n; start += rows {
		plan.Batches = append(plan.Batches, Batch{Start: start, End: min(start+rows, n)})
	}
	return plan, nil
}

// Oversized reports whether even a single-row batch exceeds the ceiling
func (p BatchPlan) Oversized() bool {
	return p.N > p.MaxRoutes
}
