package acquire

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/randytsao24/tournee/internal/matrix"
	"github.com/randytsao24/tournee/internal/models"
	"github.com/randytsao24/tournee/internal/ors"
)

// scriptedService fails with the scripted errors, in order, then answers
// with value(source, destination) for every requested cell.
type scriptedService struct {
	failures []error
	value    func(src, dst int) float64
	requests []models.MatrixRequest
}

func (s *scriptedService) Matrix(ctx context.Context, req models.MatrixRequest) (models.MatrixResponse, error) {
	s.requests = append(s.requests, req)
	if len(s.failures) > 0 {
		err := s.failures[0]
		s.failures = s.failures[1:]
		if err != nil {
			return models.MatrixResponse{}, err
		}
	}

	sources := req.Sources
	if len(sources) == 0 {
		sources = allDestinations(len(req.Locations))
	}
	dests := req.Destinations
	if len(dests) == 0 {
		dests = allDestinations(len(req.Locations))
	}
	var resp models.MatrixResponse
	for _, src := range sources {
		dist := make([]float64, len(dests))
		dur := make([]float64, len(dests))
		for j, dst := range dests {
			dist[j] = s.value(src, dst)
			dur[j] = s.value(src, dst) / 10
		}
		resp.Distances = append(resp.Distances, dist)
		resp.Durations = append(resp.Durations, dur)
	}
	return resp, nil
}

type recordingSleeper struct {
	waits []time.Duration
}

func (r *recordingSleeper) Sleep(ctx context.Context, d time.Duration) error {
	r.waits = append(r.waits, d)
	return ctx.Err()
}

func cellValue(src, dst int) float64 {
	if src == dst {
		return 0
	}
	return float64(100*src + dst)
}

func coords(n int) []models.Coordinate {
	out := make([]models.Coordinate, n)
	for i := range out {
		out[i] = models.Coordinate{1.4 + float64(i)/100, 43.6}
	}
	return out
}

func newTestAcquirer(svc MatrixService, maxRoutes int) (*Acquirer, *recordingSleeper) {
	sleeper := &recordingSleeper{}
	opts := DefaultOptions()
	opts.MaxRoutes = maxRoutes
	return New(svc, opts, zerolog.Nop()).WithSleeper(sleeper), sleeper
}

func TestPlanCoversRowsExactlyOnce(t *testing.T) {
	for n := 1; n <= 60; n++ {
		for _, maxRoutes := range []int{1, 7, 50, 100, 3500} {
			plan, err := Plan(n, maxRoutes)
			require.NoError(t, err)

			bound := max(1, maxRoutes/n)
			next := 0
			for _, b := range plan.Batches {
				require.Equal(t, next, b.Start, "n=%d R=%d: gap or overlap", n, maxRoutes)
				require.Greater(t, b.End, b.Start)
				if !plan.Single {
					require.LessOrEqual(t, b.Len(), bound)
				}
				next = b.End
			}
			require.Equal(t, n, next, "n=%d R=%d: rows not covered", n, maxRoutes)
			require.Len(t, plan.Batches, (n+plan.RowsPerBatch-1)/plan.RowsPerBatch)
		}
	}
}

func TestPlanSingleRequest(t *testing.T) {
	plan, err := Plan(59, 3500)
	require.NoError(t, err)
	assert.True(t, plan.Single)
	assert.Equal(t, []Batch{{0, 59}}, plan.Batches)

	plan, err = Plan(60, 3500)
	require.NoError(t, err)
	assert.False(t, plan.Single)
	assert.Equal(t, 58, plan.RowsPerBatch)
	assert.Equal(t, []Batch{{0, 58}, {58, 60}}, plan.Batches)
}

func TestPlanOversized(t *testing.T) {
	plan, err := Plan(10, 5)
	require.NoError(t, err)
	assert.True(t, plan.Oversized())
	assert.Equal(t, 1, plan.RowsPerBatch)
	assert.Len(t, plan.Batches, 10)
}

func TestPlanRejectsEmpty(t *testing.T) {
	_, err := Plan(0, 3500)
	require.ErrorIs(t, err, ErrEmptyPlan)
	_, err = Plan(3, 0)
	require.Error(t, err)
}

func TestRetryPolicyNext(t *testing.T) {
	p := DefaultRetryPolicy()
	tests := []struct {
		outcome Outcome
		attempt int
		want    Step
	}{
		{OutcomeSuccess, 1, Step{State: StateDone}},
		{OutcomeSuccess, 3, Step{State: StateDone}},
		{OutcomeRateLimited, 1, Step{State: StateRetry, Wait: 60 * time.Second}},
		{OutcomeRateLimited, 2, Step{State: StateRetry, Wait: 120 * time.Second}},
		{OutcomeTransient, 1, Step{State: StateRetry, Wait: 30 * time.Second}},
		{OutcomeFailed, 2, Step{State: StateRetry, Wait: 10 * time.Second}},
		{OutcomeRateLimited, 3, Step{State: StateExhausted}},
		{OutcomeTransient, 3, Step{State: StateExhausted}},
		{OutcomeFailed, 3, Step{State: StateExhausted}},
	}
	for _, tt := range tests {
		t.Run(tt.outcome.String(), func(t *testing.T) {
			assert.Equal(t, tt.want, p.Next(tt.outcome, tt.attempt), "attempt %d", tt.attempt)
		})
	}
}

func TestRetryPolicyNextForHonoursRetryAfter(t *testing.T) {
	p := DefaultRetryPolicy()

	assert.Equal(t, Step{State: StateRetry, Wait: 90 * time.Second},
		p.NextFor(&ors.RateLimitError{RetryAfter: 90 * time.Second}, 1))
	assert.Equal(t, Step{State: StateRetry, Wait: 120 * time.Second},
		p.NextFor(&ors.RateLimitError{RetryAfter: 5 * time.Second}, 2), "policy backoff is the floor")
	assert.Equal(t, Step{State: StateExhausted},
		p.NextFor(&ors.RateLimitError{RetryAfter: time.Hour}, 3))
	assert.Equal(t, Step{State: StateRetry, Wait: 10 * time.Second},
		p.NextFor(&ors.StatusError{Code: 500}, 1))
}

func TestStoreRowsRejectsUnusableRows(t *testing.T) {
	pair, err := matrix.NewPair([]int{0, 1, 2})
	require.NoError(t, err)
	batch := Batch{Start: 1, End: 3}

	short := models.MatrixResponse{
		Distances: [][]float64{{1, 0, 2}, {3, 4}},
		Durations: [][]float64{{1, 0, 2}, {3, 4, 0}},
	}
	err = storeRows(pair, batch, short)
	var shape *shapeError
	require.ErrorAs(t, err, &shape)

	missing := models.MatrixResponse{Distances: [][]float64{{1, 0, 2}}, Durations: [][]float64{{1, 0, 2}}}
	require.ErrorAs(t, storeRows(pair, batch, missing), &shape)

	ok := models.MatrixResponse{
		Distances: [][]float64{{1, 0, 2}, {3, 4, 0}},
		Durations: [][]float64{{5, 0, 6}, {7, 8, 0}},
	}
	require.NoError(t, storeRows(pair, batch, ok))
	v, err := pair.Duration.At(2, 1)
	require.NoError(t, err)
	assert.Equal(t, 8.0, v)
}

func TestAcquireWaitsForRetryAfter(t *testing.T) {
	svc := &scriptedService{failures: []error{&ors.RateLimitError{RetryAfter: 75 * time.Second}}, value: cellValue}
	acq, sleeper := newTestAcquirer(svc, 3500)

	_, err := acq.Acquire(context.Background(), coords(3), []int{0, 1, 2})
	require.NoError(t, err)
	assert.Equal(t, []time.Duration{75 * time.Second}, sleeper.waits)
}

func TestClassify(t *testing.T) {
	assert.Equal(t, OutcomeSuccess, Classify(nil))
	assert.Equal(t, OutcomeRateLimited, Classify(&ors.RateLimitError{}))
	assert.Equal(t, OutcomeTransient, Classify(&ors.TransientError{Reason: "timeout"}))
	assert.Equal(t, OutcomeTransient, Classify(&shapeError{msg: "short"}))
	assert.Equal(t, OutcomeFailed, Classify(&ors.StatusError{Code: 500}))
	assert.Equal(t, OutcomeFailed, Classify(errors.New("boom")))
}

func TestAcquireRateLimitThenSuccess(t *testing.T) {
	svc := &scriptedService{failures: []error{&ors.RateLimitError{}}, value: cellValue}
	acq, sleeper := newTestAcquirer(svc, 3500)

	pair, err := acq.Acquire(context.Background(), coords(3), []int{0, 1, 2})
	require.NoError(t, err)

	assert.Len(t, svc.requests, 2, "exactly two attempts")
	assert.Equal(t, []time.Duration{60 * time.Second}, sleeper.waits)
	v, err := pair.Distance.At(1, 2)
	require.NoError(t, err)
	assert.Equal(t, 102.0, v)
	assert.Empty(t, svc.requests[0].Sources, "single request uses all-pairs semantics")
}

func TestAcquireExhaustsRetries(t *testing.T) {
	fail := &ors.StatusError{Code: 500, Body: "boom"}
	svc := &scriptedService{failures: []error{fail, fail, fail}, value: cellValue}
	acq, sleeper := newTestAcquirer(svc, 3500)

	pair, err := acq.Acquire(context.Background(), coords(3), []int{0, 1, 2})

	require.ErrorIs(t, err, ErrAcquisitionFailed)
	var acqErr *AcquisitionError
	require.ErrorAs(t, err, &acqErr)
	assert.Equal(t, 3, acqErr.Attempts)
	assert.Equal(t, 1, acqErr.Batch)
	var status *ors.StatusError
	require.ErrorAs(t, err, &status)

	assert.Nil(t, pair.Distance, "no partial matrix")
	assert.Nil(t, pair.Duration)
	assert.Len(t, svc.requests, 3)
	assert.Equal(t, []time.Duration{10 * time.Second, 10 * time.Second}, sleeper.waits)
}

func TestAcquireBatched(t *testing.T) {
	svc := &scriptedService{value: cellValue}
	acq, sleeper := newTestAcquirer(svc, 10)
	keys := []int{0, 3, 4, 7, 9}

	pair, err := acq.Acquire(context.Background(), coords(5), keys)
	require.NoError(t, err)

	gotSources := make([][]int, len(svc.requests))
	for i, req := range svc.requests {
		gotSources[i] = req.Sources
		assert.Equal(t, []int{0, 1, 2, 3, 4}, req.Destinations)
	}
	if diff := cmp.Diff([][]int{{0, 1}, {2, 3}, {4}}, gotSources); diff != "" {
		t.Fatalf("batch sources (-want +got):\n%s", diff)
	}
	assert.Equal(t, []time.Duration{2 * time.Second, 2 * time.Second}, sleeper.waits, "cooldown between batches only")

	assert.Equal(t, keys, pair.Distance.Keys())
	for i, row := range keys {
		for j, col := range keys {
			d, err := pair.Distance.At(row, col)
			require.NoError(t, err)
			assert.Equal(t, cellValue(i, j), d)
			s, err := pair.Duration.At(row, col)
			require.NoError(t, err)
			assert.Equal(t, cellValue(i, j)/10, s)
		}
	}
}

func TestAcquireFailureInLaterBatch(t *testing.T) {
	rl := &ors.RateLimitError{}
	svc := &scriptedService{failures: []error{nil, rl, rl, rl}, value: cellValue}
	acq, sleeper := newTestAcquirer(svc, 10)

	_, err := acq.Acquire(context.Background(), coords(5), []int{0, 1, 2, 3, 4})

	var acqErr *AcquisitionError
	require.ErrorAs(t, err, &acqErr)
	assert.Equal(t, 2, acqErr.Batch)
	assert.Equal(t, Batch{Start: 2, End: 4}, acqErr.Rows)
	assert.Equal(t, []time.Duration{2 * time.Second, 60 * time.Second, 120 * time.Second}, sleeper.waits)
}

type shortService struct {
	calls int
	inner MatrixService
}

func (s *shortService) Matrix(ctx context.Context, req models.MatrixRequest) (models.MatrixResponse, error) {
	s.calls++
	resp, err := s.inner.Matrix(ctx, req)
	if s.calls == 1 && err == nil {
		resp.Distances = resp.Distances[:1]
	}
	return resp, err
}

func TestAcquireRetriesMalformedShape(t *testing.T) {
	svc := &shortService{inner: &scriptedService{value: cellValue}}
	acq, sleeper := newTestAcquirer(svc, 3500)

	_, err := acq.Acquire(context.Background(), coords(3), []int{0, 1, 2})
	require.NoError(t, err)
	assert.Equal(t, 2, svc.calls)
	assert.Equal(t, []time.Duration{30 * time.Second}, sleeper.waits)
}

func TestAcquireCancelled(t *testing.T) {
	svc := &scriptedService{failures: []error{&ors.RateLimitError{}}, value: cellValue}
	acq, _ := newTestAcquirer(svc, 3500)
	ctx, cancel := context.WithCancel(context.Background())
	acq.WithSleeper(SleeperFunc(func(context.Context, time.Duration) error {
		cancel()
		return context.Canceled
	}))

	_, err := acq.Acquire(ctx, coords(3), []int{0, 1, 2})
	require.ErrorIs(t, err, context.Canceled)
	assert.NotErrorIs(t, err, ErrAcquisitionFailed)
}

func TestAcquireRejectsMismatchedKeys(t *testing.T) {
	acq, _ := newTestAcquirer(&scriptedService{value: cellValue}, 3500)
	_, err := acq.Acquire(context.Background(), coords(3), []int{0, 1})
	require.Error(t, err)

	_, err = acq.Acquire(context.Background(), coords(2), []int{4, 4})
	require.Error(t, err)
}

func TestClockSleeperHonoursContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := ClockSleeper.Sleep(ctx, time.Hour)
	require.ErrorIs(t, err, context.Canceled)

	require.NoError(t, ClockSleeper.Sleep(context.Background(), time.Millisecond))
}
