// Package optimizer hands a run's matrices to the external route optimizer.
package optimizer

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

var (
	ErrOptimizerFailed  = errors.New("optimizer: process failed")
	ErrOptimizerTimeout = errors.New("optimizer: timed out")
)

// Runner executes the optimizer as `<path> [args...] <duration file> <distance file>`
// and returns what it prints as the route.
type Runner struct {
	Path    string
	Args    []string
	Timeout time.Duration
	logger  zerolog.Logger
}

// NewRunner creates a runner for the executable at path
func NewRunner(path string, timeout time.Duration, logger zerolog.Logger) *Runner {
	return &Runner{
		Path:    path,
		Timeout: timeout,
		logger:  logger.With().Str("component", "optimizer").Logger(),
	}
}

// Optimize runs the optimizer on the two matrix files
func (r *Runner) Optimize(ctx context.Context, durationPath, distancePath string) (string, error) {
	if r.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.Timeout)
		defer cancel()
	}

	args := append(append([]string{}, r.Args...), durationPath, distancePath)
	cmd := exec.CommandContext(ctx, r.Path, args...)
	cmd.WaitDelay = time.Second

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	err := cmd.Run()
	elapsed := time.Since(start)

	if ctx.Err() == context.DeadlineExceeded {
		return "", fmt.Errorf("%w after %s", ErrOptimizerTimeout, r.Timeout)
	}
	if err != nil {
		msg := strings.TrimSpace(stderr.String())
		r.logger.Error().Err(err).Str("stderr", msg).Dur("elapsed", elapsed).Msg("Optimizer failed")
		if msg == "" {
			return "", fmt.Errorf("%w: %v", ErrOptimizerFailed, err)
		}
		return "", fmt.Errorf("%w: %v: %s", ErrOptimizerFailed, err, msg)
	}

	r.logger.Info().Dur("elapsed", elapsed).Int("bytes", stdout.Len()).Msg("Optimizer finished")
	return stdout.String(), nil
}
