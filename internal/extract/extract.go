// Package extract derives the local matrices of one run from the master pair.
package extract

import (
	"errors"
	"fmt"

	"github.com/randytsao24/tournee/internal/matrix"
	"github.com/randytsao24/tournee/internal/reconcile"
)

var ErrIndexConsistency = errors.New("extract: master matrix does not cover the registry")

// IndexConsistencyError lists registry indices of the run that the master
// matrix has no row or column for. The master and the registry have drifted
// apart and the master must be reacquired.
type IndexConsistencyError struct {
	Missing []int
}

func (e *IndexConsistencyError) Error() string {
	return fmt.Sprintf("index consistency: original indices %v missing from master matrix", e.Missing)
}

func (e *IndexConsistencyError) Is(target error) bool {
	return target == ErrIndexConsistency
}

// Extract returns the k x k pair keyed 0..k-1 where
// local[i][j] = master[original(i)][original(j)]. The master is not modified.
func Extract(idx *reconcile.IndexMap, master matrix.Pair) (matrix.Pair, error) {
	if err := master.Validate(); err != nil {
		return matrix.Pair{}, fmt.Errorf("master: %w", err)
	}

	k := idx.Len()
	positions := make([]int, k)
	var missing []int
	for seq := 0; seq < k; seq++ {
		orig, _ := idx.Original(seq)
		// Validate guarantees both halves share keys, so one lookup serves both.
		pos, ok := master.Distance.Position(orig)
		if !ok {
			missing = append(missing, orig)
			continue
		}
		positions[seq] = pos
	}
	if len(missing) > 0 {
		return matrix.Pair{}, &IndexConsistencyError{Missing: missing}
	}

	local := matrix.Pair{
		Distance: matrix.Sequential(k),
		Duration: matrix.Sequential(k),
	}
	for i, pi := range positions {
		for j, pj := range positions {
			local.Distance.SetPos(i, j, master.Distance.AtPos(pi, pj))
			local.Duration.SetPos(i, j, master.Duration.AtPos(pi, pj))
		}
	}
	return local, nil
}
