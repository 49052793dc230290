package handlers

import (
	"context"

	"github.com/randytsao24/tournee/internal/matrix"
	"github.com/randytsao24/tournee/internal/pipeline"
)

// MasterProvider abstracts the published master matrix for testability.
type MasterProvider interface {
	Master() (*matrix.Snapshot, error)
}

// RunService abstracts the pipeline for testability.
type RunService interface {
	Execute(ctx context.Context, names []string) (*pipeline.Run, error)
	Optimize(ctx context.Context, run *pipeline.Run, opt pipeline.Optimizer) error
}
