// Package acquire builds the master distance and duration matrices for a
// whole registry from a rate-limited matrix service.
//
// Requests run strictly one after another. Each is retried under a
// RetryPolicy; exhausting the attempts of any single request aborts the
// whole acquisition and no matrix is returned.
package acquire

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/rs/zerolog"
	"go.uber.org/multierr"

	"github.com/randytsao24/tournee/internal/matrix"
	"github.com/randytsao24/tournee/internal/models"
)

var ErrAcquisitionFailed = errors.New("acquire: acquisition failed")

// AcquisitionError reports the request whose retry budget ran out
type AcquisitionError struct {
	Batch    int // 1-based
	Batches  int
	Rows     Batch
	Attempts int
	Err      error
}

func (e *AcquisitionError) Error() string {
	return fmt.Sprintf("acquisition failed on batch %d/%d (rows %d-%d) after %d attempts: %v",
		e.Batch, e.Batches, e.Rows.Start, e.Rows.End-1, e.Attempts, e.Err)
}

func (e *AcquisitionError) Unwrap() error {
	return e.Err
}

func (e *AcquisitionError) Is(target error) bool {
	return target == ErrAcquisitionFailed
}

// MatrixService answers one matrix request in a single attempt
type MatrixService interface {
	Matrix(ctx context.Context, req models.MatrixRequest) (models.MatrixResponse, error)
}

// Options configures an Acquirer
type Options struct {
	MaxRoutes int
	Retry     RetryPolicy
	// Cooldown is the pause between consecutive batches
	Cooldown time.Duration
}

// DefaultOptions matches the public routing service's limits
func DefaultOptions() Options {
	return Options{
		MaxRoutes: 3500,
		Retry:     DefaultRetryPolicy(),
		Cooldown:  2 * time.Second,
	}
}

// Acquirer drives a MatrixService over a batch plan
type Acquirer struct {
	service MatrixService
	sleeper Sleeper
	opts    Options
	logger  zerolog.Logger
}

// New creates an Acquirer that sleeps on the wall clock
func New(service MatrixService, opts Options, logger zerolog.Logger) *Acquirer {
	return &Acquirer{
		service: service,
		sleeper: ClockSleeper,
		opts:    opts,
		logger:  logger.With().Str("component", "acquire").Logger(),
	}
}

// WithSleeper replaces the sleeper, for tests and dry runs
func (a *Acquirer) WithSleeper(s Sleeper) *Acquirer {
	a.sleeper = s
	return a
}

// Acquire fetches the full matrix pair for coords. keys[i] is the registry
// index of coords[i] and labels row and column i of the result.
func (a *Acquirer) Acquire(ctx context.Context, coords []models.Coordinate, keys []int) (matrix.Pair, error) {
	if len(coords) != len(keys) {
		return matrix.Pair{}, fmt.Errorf("%d coordinates for %d keys", len(coords), len(keys))
	}
	if a.opts.Retry.MaxAttempts < 1 {
		return matrix.Pair{}, fmt.Errorf("max attempts must be at least 1, got %d", a.opts.Retry.MaxAttempts)
	}
	plan, err := Plan(len(coords), a.opts.MaxRoutes)
	if err != nil {
		return matrix.Pair{}, err
	}
	pair, err := matrix.NewPair(keys)
	if err != nil {
		return matrix.Pair{}, fmt.Errorf("master keys: %w", err)
	}

	log := a.logger.With().Int("locations", plan.N).Int("batches", len(plan.Batches)).Logger()
	if plan.Oversized() {
		log.Warn().Int("max_routes", plan.MaxRoutes).Msg("A single source row exceeds the route ceiling, requests may be rejected")
	}
	log.Info().
		Int("routes", plan.N*plan.N).
		Int("rows_per_batch", plan.RowsPerBatch).
		Bool("single", plan.Single).
		Msg("Acquiring master matrix")

	start := time.Now()
	for i, batch := range plan.Batches {
		req := models.MatrixRequest{Locations: coords}
		if !plan.Single {
			req.Sources = batch.Sources()
			req.Destinations = allDestinations(plan.N)
		}

		log.Info().
			Int("batch", i+1).
			Int("first_row", batch.Start).
			Int("last_row", batch.End-1).
			Msg("Requesting batch")

		resp, attempts, err := a.request(ctx, req, batch, plan.N)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return matrix.Pair{}, fmt.Errorf("acquisition cancelled: %w", ctxErr)
			}
			return matrix.Pair{}, &AcquisitionError{
				Batch:    i + 1,
				Batches:  len(plan.Batches),
				Rows:     batch,
				Attempts: attempts,
				Err:      err,
			}
		}

		if err := storeRows(pair, batch, resp); err != nil {
			return matrix.Pair{}, &AcquisitionError{
				Batch:    i + 1,
				Batches:  len(plan.Batches),
				Rows:     batch,
				Attempts: attempts,
				Err:      err,
			}
		}

		if i < len(plan.Batches)-1 && a.opts.Cooldown > 0 {
			log.Debug().Dur("cooldown", a.opts.Cooldown).Msg("Pausing between batches")
			if err := a.sleeper.Sleep(ctx, a.opts.Cooldown); err != nil {
				return matrix.Pair{}, fmt.Errorf("acquisition cancelled: %w", err)
			}
		}
	}

	logStats(log, pair, time.Since(start))
	return pair, nil
}

// request runs one batch through the retry state machine
func (a *Acquirer) request(ctx context.Context, req models.MatrixRequest, batch Batch, n int) (models.MatrixResponse, int, error) {
	for attempt := 1; ; attempt++ {
		resp, err := a.service.Matrix(ctx, req)
		if err == nil {
			err = checkShape(resp, batch.Len(), n)
		}
		if err != nil && ctx.Err() != nil {
			return models.MatrixResponse{}, attempt, err
		}

		outcome := Classify(err)
		step := a.opts.Retry.NextFor(err, attempt)
		switch step.State {
		case StateDone:
			return resp, attempt, nil
		case StateExhausted:
			a.logger.Error().Err(err).
				Int("attempt", attempt).
				Str("outcome", outcome.String()).
				Msg("Retry budget exhausted")
			return models.MatrixResponse{}, attempt, err
		}

		a.logger.Warn().Err(err).
			Int("attempt", attempt).
			Int("max_attempts", a.opts.Retry.MaxAttempts).
			Str("outcome", outcome.String()).
			Dur("wait", step.Wait).
			Msg("Matrix request failed, retrying")
		if err := a.sleeper.Sleep(ctx, step.Wait); err != nil {
			return models.MatrixResponse{}, attempt, err
		}
	}
}

// shapeError is a response that does not fit the request
// storeRows copies a batch's answer into the master rows it covers
func storeRows(pair matrix.Pair, batch Batch, resp models.MatrixResponse) error {
	if len(resp.Distances) < batch.Len() || len(resp.Durations) < batch.Len() {
		return &shapeError{msg: fmt.Sprintf("%d/%d rows for a batch of %d", len(resp.Distances), len(resp.Durations), batch.Len())}
	}
	for r := 0; r < batch.Len(); r++ {
		row := batch.Start + r
		err := multierr.Append(
			pair.Distance.SetRowPos(row, resp.Distances[r]),
			pair.Duration.SetRowPos(row, resp.Durations[r]),
		)
		if err != nil {
			return &shapeError{msg: fmt.Sprintf("row %d: %v", row, err)}
		}
	}
	return nil
}

type shapeError struct {
	msg string
}

func (e *shapeError) Error() string {
	return "unusable response: " + e.msg
}

func checkShape(resp models.MatrixResponse, rows, cols int) error {
	if len(resp.Distances) != rows || len(resp.Durations) != rows {
		return &shapeError{msg: fmt.Sprintf("got %d distance and %d duration rows, want %d",
			len(resp.Distances), len(resp.Durations), rows)}
	}
	for r := 0; r < rows; r++ {
		if err := checkRow(resp.Distances[r], cols); err != nil {
			return &shapeError{msg: fmt.Sprintf("distance row %d: %v", r, err)}
		}
		if err := checkRow(resp.Durations[r], cols); err != nil {
			return &shapeError{msg: fmt.Sprintf("duration row %d: %v", r, err)}
		}
	}
	return nil
}

func checkRow(row []float64, cols int) error {
	if len(row) != cols {
		return fmt.Errorf("%d values, want %d", len(row), cols)
	}
	for j, v := range row {
		if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
			return fmt.Errorf("invalid value %v at column %d", v, j)
		}
	}
	return nil
}

func allDestinations(n int) []int {
	out := make([]int, n)
	for i := range out {
		out[i] = i
	}
	return out
}

func logStats(log zerolog.Logger, pair matrix.Pair, elapsed time.Duration) {
	dist := pair.Distance.Stats()
	dur := pair.Duration.Stats()
	log.Info().
		Dur("elapsed", elapsed).
		Float64("distance_min_km", dist.MinNonZero/1000).
		Float64("distance_max_km", dist.Max/1000).
		Float64("distance_mean_km", dist.MeanNonZero/1000).
		Float64("duration_min_min", dur.MinNonZero/60).
		Float64("duration_max_min", dur.Max/60).
		Float64("duration_mean_min", dur.MeanNonZero/60).
		Msg("Master matrix acquired")
}
