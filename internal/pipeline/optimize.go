package pipeline

import (
	"context"
	"errors"
	"fmt"
)

var ErrNoOutputs = errors.New("pipeline: run has no output files to optimize")

// Optimizer turns a run's matrix files into a route
type Optimizer interface {
	Optimize(ctx context.Context, durationPath, distancePath string) (string, error)
}

// Optimize hands the run's files to opt and stores the route on the run
func (p *Pipeline) Optimize(ctx context.Context, run *Run, opt Optimizer) error {
	if run.Outputs == nil {
		return ErrNoOutputs
	}
	route, err := opt.Optimize(ctx, run.Outputs.Duration, run.Outputs.Distance)
	if err != nil {
		return fmt.Errorf("run %s: %w", run.ID, err)
	}
	run.Route = route
	return nil
}
